package service

import (
	"Meetstreet/internal/api/dto"
	"Meetstreet/internal/pkg/consts"
	"Meetstreet/internal/pkg/mongo"
	"Meetstreet/internal/realtime"
	"Meetstreet/internal/repository"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"
)

// Emitter 聊天服务需要的扇出能力，由房间路由器提供
type Emitter interface {
	Emit(room string, evt *realtime.Event)
}

// OnlineChecker 在线状态查询，由在线注册表提供
type OnlineChecker interface {
	IsOnline(userID uint64) bool
}

// IdempotencyStore 消息幂等键存储
// Begin 抢占一个键：返回 (已存在的值, 是否抢占成功)。
// Commit 把键的值替换为持久化后的消息 ID，Abort 释放键以便整单重试。
type IdempotencyStore interface {
	Begin(ctx context.Context, key string) (string, bool, error)
	Commit(ctx context.Context, key string, msgID string) error
	Abort(ctx context.Context, key string)
}

// ChatService 消息收发服务接口定义
type ChatService interface {
	SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	GetChatHistory(ctx context.Context, userID, convID uint64, lastSeq uint64, pageSize int) (*dto.HistoryDTO, error)
	GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error)
	MarkAsRead(ctx context.Context, userID, convID uint64) error
	CanAccess(ctx context.Context, userID, convID uint64) error
	DeleteMessage(ctx context.Context, userID uint64, messageID string) error
	SetArchived(ctx context.Context, userID, convID uint64, archived bool) error
	SetMuted(ctx context.Context, userID, convID uint64, muted bool) error
	Typing(senderID, receiverID uint64, isTyping bool)
}

type chatServiceImpl struct {
	convRepo    repository.ConversationRepo
	messageRepo mongo.MessageRepo
	emitter     Emitter
	presence    OnlineChecker
	idem        IdempotencyStore
}

func NewChatService(
	convRepo repository.ConversationRepo,
	messageRepo mongo.MessageRepo,
	emitter Emitter,
	presence OnlineChecker,
	idem IdempotencyStore,
) ChatService {
	return &chatServiceImpl{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		emitter:     emitter,
		presence:    presence,
		idem:        idem,
	}
}

// SendMessage 发送消息
// 持久化失败中止整单发送；扇出失败 (接收方离线) 不影响结果，
// 消息已落库，接收方下次拉取可见。
func (s *chatServiceImpl) SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	if err := validatePayload(req); err != nil {
		return nil, err
	}

	// 幂等：同键重放直接返回首次持久化的那条消息
	idemKey := consts.MsgIdempotencyKey + strconv.FormatUint(senderID, 10) + ":" + req.IdempotencyKey
	prev, acquired, err := s.idem.Begin(ctx, idemKey)
	if err != nil {
		log.ErrorContext(ctx, "idempotency begin failed", "err", err)
		return nil, UnExpectedError
	}
	if !acquired {
		return s.replay(ctx, prev)
	}

	convID, receiverID, err := s.resolveConversation(ctx, senderID, req)
	if err != nil {
		s.idem.Abort(ctx, idemKey)
		return nil, err
	}

	msgModel := &mongo.Message{
		ConversationID: convID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		MsgType:        req.MsgType,
		Content:        req.Content,
		MediaURL:       req.MediaURL,
		MediaType:      req.MediaType,
		MediaThumbnail: req.MediaThumbnail,
		CreatedAt:      time.Now(),
	}

	// 聚合推进与消息落库在同一逻辑事务里，任何一步失败整体回滚
	_, err = s.convRepo.AppendMessage(ctx, convID, senderID, receiverID,
		preview(req), req.MsgType,
		func(seq uint64) (string, error) {
			msgModel.Seq = seq
			writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.messageRepo.SaveMessage(writeCtx, msgModel); err != nil {
				return "", err
			}
			return msgModel.ID.Hex(), nil
		})
	if err != nil {
		s.idem.Abort(ctx, idemKey)
		log.ErrorContext(ctx, "message persistence failed", "conversation_id", convID, "err", err)
		return nil, UnExpectedError
	}

	if err := s.idem.Commit(ctx, idemKey, msgModel.ID.Hex()); err != nil {
		log.ErrorContext(ctx, "idempotency commit failed", "err", err)
	}

	msgDTO := toMessageDTO(msgModel)

	// 推送到接收者的用户房间，离线即错过，权威数据以拉取为准
	s.emitter.Emit(userRoom(receiverID), &realtime.Event{
		Event: realtime.EventMessageNew,
		Data:  msgDTO,
	})

	return msgDTO, nil
}

// replay 幂等键已存在：返回首次的持久化结果
func (s *chatServiceImpl) replay(ctx context.Context, stored string) (*dto.MessageDTO, error) {
	if stored == "" || stored == "pending" {
		return nil, ErrSendInFlight
	}
	oid, err := primitive.ObjectIDFromHex(stored)
	if err != nil {
		return nil, ErrSendInFlight
	}
	msg, err := s.messageRepo.GetByID(ctx, oid)
	if err != nil {
		return nil, UnExpectedError
	}
	return toMessageDTO(msg), nil
}

// resolveConversation 确定会话与接收方
// 未带会话 ID 时按 receiver 懒创建；带了则校验成员身份并解析对端。
func (s *chatServiceImpl) resolveConversation(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (uint64, uint64, error) {
	if req.ConversationID == 0 {
		if req.ReceiverID == 0 {
			return 0, 0, ErrTargetUserInvalid
		}
		if req.ReceiverID == senderID {
			return 0, 0, ErrSelfMessage
		}
		conv, err := s.convRepo.FindOrCreate(ctx, senderID, req.ReceiverID)
		if err != nil {
			return 0, 0, err
		}
		return conv.ID, req.ReceiverID, nil
	}

	conv, err := s.convRepo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, 0, ErrConversationNotFound
		}
		return 0, 0, err
	}
	receiverID, err := parsePeerID(conv.PeerKey, senderID)
	if err != nil {
		return 0, 0, ErrNotParticipant
	}
	return conv.ID, receiverID, nil
}

// GetChatHistory 拉取历史消息，滚动顺序 (旧的在前)
// 拉取即视为送达：把自己名下的未送达消息补成已送达。
func (s *chatServiceImpl) GetChatHistory(ctx context.Context, userID, convID uint64, lastSeq uint64, pageSize int) (*dto.HistoryDTO, error) {
	conv, err := s.convRepo.GetConversation(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	peerID, err := parsePeerID(conv.PeerKey, userID)
	if err != nil {
		return nil, ErrNotParticipant
	}

	if err := s.messageRepo.MarkDelivered(ctx, convID, userID); err != nil {
		log.WarnContext(ctx, "mark delivered failed", "conversation_id", convID, "err", err)
	}

	models, err := s.messageRepo.GetHistory(ctx, convID, userID, lastSeq, pageSize)
	if err != nil {
		return nil, err
	}

	// 仓储按 seq 降序返回，翻转为滚动顺序
	res := make([]*dto.MessageDTO, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		res = append(res, toMessageDTO(models[i]))
	}
	return &dto.HistoryDTO{Messages: res, PeerID: peerID}, nil
}

// GetConversationList 获取会话列表
func (s *chatServiceImpl) GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error) {
	members, err := s.convRepo.GetUserConversationMemList(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.ConversationDTO, 0, len(members))
	for _, m := range members {
		peerID, err := parsePeerID(m.Conversation.PeerKey, userID)
		if err != nil {
			continue
		}
		res = append(res, &dto.ConversationDTO{
			ConversationID: m.ConversationID,
			PeerID:         peerID,
			LastMessageID:  m.Conversation.LastMessageID,
			LastMsgPreview: m.Conversation.LastMsgPreview,
			LastMsgType:    m.Conversation.LastMsgType,
			LastSenderID:   m.Conversation.LastSenderID,
			LastMessageAt:  m.Conversation.LastMessageAt,
			UnreadCount:    m.UnreadCount,
			IsMuted:        m.IsMuted == 1,
			IsArchived:     m.IsArchived == 1,
			PeerOnline:     s.presence.IsOnline(peerID),
		})
	}
	return res, nil
}

// MarkAsRead 标记已读：清零未读数并翻转消息明细的已读位，幂等
// 已读回执走拉取，不产生下行事件。
func (s *chatServiceImpl) MarkAsRead(ctx context.Context, userID, convID uint64) error {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil || !isMember {
		return ErrNotParticipant
	}

	if err := s.convRepo.MarkRead(ctx, convID, userID); err != nil {
		return err
	}
	return s.messageRepo.MarkRead(ctx, convID, userID)
}

// CanAccess 校验用户是否为会话成员，供房间订阅一类的授权检查使用
func (s *chatServiceImpl) CanAccess(ctx context.Context, userID, convID uint64) error {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return ErrNotParticipant
	}
	return nil
}

// DeleteMessage 按查看者软删除，仅影响本人视图
func (s *chatServiceImpl) DeleteMessage(ctx context.Context, userID uint64, messageID string) error {
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return ErrMessageNotFound
	}

	msg, err := s.messageRepo.GetByID(ctx, oid)
	if err != nil {
		return ErrMessageNotFound
	}
	if msg.SenderID != userID && msg.ReceiverID != userID {
		return ErrNotParticipant
	}

	matched, err := s.messageRepo.SoftDelete(ctx, oid, userID)
	if err != nil {
		return err
	}
	if matched == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// SetArchived 归档/取消归档会话
func (s *chatServiceImpl) SetArchived(ctx context.Context, userID, convID uint64, archived bool) error {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil || !isMember {
		return ErrNotParticipant
	}
	return s.convRepo.SetArchived(ctx, convID, userID, archived)
}

// SetMuted 静音/取消静音会话
func (s *chatServiceImpl) SetMuted(ctx context.Context, userID, convID uint64, muted bool) error {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil || !isMember {
		return ErrNotParticipant
	}
	return s.convRepo.SetMuted(ctx, convID, userID, muted)
}

// Typing 输入状态透传给对端用户房间，无持久化
func (s *chatServiceImpl) Typing(senderID, receiverID uint64, isTyping bool) {
	s.emitter.Emit(userRoom(receiverID), &realtime.Event{
		Event: realtime.EventTyping,
		Data:  realtime.TypingPayload{SenderID: senderID, ReceiverID: receiverID, IsTyping: isTyping},
	})
}

func validatePayload(req *dto.SendMessageReq) error {
	if req.MsgType == consts.MsgTypeText {
		if req.Content == "" {
			return ErrEmptyContent
		}
		return nil
	}
	if req.MediaURL == "" {
		return ErrMissingMedia
	}
	return nil
}

// preview 会话列表里的最后一条消息摘要，超长文本按字符边界截断
func preview(req *dto.SendMessageReq) string {
	if req.MsgType == consts.MsgTypeText {
		if len(req.Content) <= 255 {
			return req.Content
		}
		cut := 255
		for cut > 0 && !utf8.RuneStart(req.Content[cut]) {
			cut--
		}
		return req.Content[:cut]
	}
	return "[" + req.MsgType + "]"
}

func userRoom(userID uint64) string {
	return consts.RoomUserPrefix + strconv.FormatUint(userID, 10)
}

func parsePeerID(peerKey string, currentUserID uint64) (uint64, error) {
	var u1, u2 uint64
	_, err := fmt.Sscanf(peerKey, "%d_%d", &u1, &u2)
	if err != nil {
		return 0, err
	}
	if u1 == currentUserID {
		return u2, nil
	}
	if u2 == currentUserID {
		return u1, nil
	}
	return 0, fmt.Errorf("user %d not in peer key %s", currentUserID, peerKey)
}

func toMessageDTO(m *mongo.Message) *dto.MessageDTO {
	return &dto.MessageDTO{
		ID:             m.ID.Hex(),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		MsgType:        m.MsgType,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		MediaType:      m.MediaType,
		MediaThumbnail: m.MediaThumbnail,
		Seq:            m.Seq,
		Delivered:      m.Delivered,
		DeliveredAt:    m.DeliveredAt,
		Read:           m.Read,
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
	}
}
