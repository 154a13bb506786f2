package handler

import (
	"Meetstreet/internal/pkg/consts"
	"Meetstreet/internal/pkg/response"
	"Meetstreet/internal/pkg/security"
	"Meetstreet/internal/realtime"
	"Meetstreet/internal/service"
	"context"
	log "log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WsHandler struct {
	router      *realtime.Router
	presence    *realtime.Presence
	chatService service.ChatService
	callService service.CallService
}

func NewWsHandler(router *realtime.Router, presence *realtime.Presence, chat service.ChatService, call service.CallService) *WsHandler {
	return &WsHandler{
		router:      router,
		presence:    presence,
		chatService: chat,
		callService: call,
	}
}

func (s *WsHandler) Connect(c *gin.Context) {
	// 鉴权
	token := c.Query("token")
	if token == "" {
		response.Error(c, service.UnauthorizedError)
		return
	}
	claims, err := security.ValidateToken(token)
	if err != nil {
		log.Warn("WS 鉴权失败", "err", err)
		response.Error(c, service.UnauthorizedError)
		return
	}
	userID := claims.UserID

	// 升级 Websocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WS 协议升级失败", "err", err)
		return
	}

	sess := realtime.NewSession(uuid.New().String(), userID, conn)

	// 个人房间承接定向投递，连接即订阅
	s.router.Join(sess, consts.RoomUserPrefix+strconv.FormatUint(userID, 10))
	s.presence.Connect(userID, sess.ID)

	log.Info("用户 WS 连接已建立", "userID", userID, "sessionID", sess.ID)

	go sess.WritePump()
	sess.ReadPump(s.handleInbound)

	// 读循环返回即连接结束
	s.router.LeaveAll(sess)
	if offline := s.presence.Disconnect(userID, sess.ID); offline {
		// 最后一条会话断开视作隐式挂断
		s.callService.HandleDisconnect(userID)
	}
	log.Info("用户 WS 连接已断开", "userID", userID, "sessionID", sess.ID)
}

// handleInbound 分发一条客户端上行事件
func (s *WsHandler) handleInbound(sess *realtime.Session, evt *realtime.InboundEvent) {
	switch evt.Event {
	case realtime.EventJoin:
		var p realtime.JoinPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return
		}
		s.handleJoin(sess, p.Room)
	case realtime.EventTyping:
		var p realtime.TypingPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return
		}
		s.chatService.Typing(sess.UserID, p.ReceiverID, p.IsTyping)
	case realtime.EventCallAck:
		var p realtime.CallAckPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return
		}
		if err := s.callService.Ack(sess.UserID, p.CallID); err != nil {
			log.Warn("call ack 被拒绝", "userID", sess.UserID, "callID", p.CallID, "err", err)
		}
	case realtime.EventCallSignal:
		var p realtime.CallSignalPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return
		}
		if err := s.callService.Relay(sess.UserID, p.CallID, p.Payload); err != nil {
			log.Warn("信令中继被拒绝", "userID", sess.UserID, "callID", p.CallID, "err", err)
		}
	default:
		log.Warn("未知上行事件", "userID", sess.UserID, "event", evt.Event)
	}
}

// handleJoin 只允许订阅自己可见的房间：他人的在线状态房间和会话房间
func (s *WsHandler) handleJoin(sess *realtime.Session, room string) {
	switch {
	case strings.HasPrefix(room, consts.RoomPresencePrefix):
		s.router.Join(sess, room)
	case strings.HasPrefix(room, consts.RoomConvPrefix):
		convID, err := strconv.ParseUint(strings.TrimPrefix(room, consts.RoomConvPrefix), 10, 64)
		if err != nil {
			return
		}
		if err := s.chatService.CanAccess(context.Background(), sess.UserID, convID); err != nil {
			log.Warn("会话房间订阅被拒绝", "userID", sess.UserID, "room", room, "err", err)
			return
		}
		s.router.Join(sess, room)
	default:
		log.Warn("房间订阅被拒绝", "userID", sess.UserID, "room", room)
	}
}
