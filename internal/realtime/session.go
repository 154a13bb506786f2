package realtime

import (
	log "log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// InboundHandler 处理一条客户端上行事件
type InboundHandler func(s *Session, evt *InboundEvent)

// Session 一条已连接的实时会话 (一个设备/标签页一条)
// 下行走带缓冲的 send 通道，投递方永不阻塞在慢连接上。
type Session struct {
	ID     string
	UserID uint64

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func NewSession(id string, userID uint64, conn *websocket.Conn) *Session {
	return &Session{
		ID:     id,
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Deliver 非阻塞投递。缓冲打满说明连接已经跟不上，丢弃该条并记录。
// 实时事件本就是尽力而为的低延迟通知，权威数据以拉取为准。
func (s *Session) Deliver(data []byte) {
	select {
	case s.send <- data:
	case <-s.done:
	default:
		log.Warn("realtime session send buffer full, event dropped",
			"session_id", s.ID, "user_id", s.UserID)
	}
}

// Close 幂等关闭，唤醒读写两个泵
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// Done 会话关闭信号
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// WritePump 独占写连接：下发事件 + 心跳
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// ReadPump 独占读连接：解码上行事件并交给 handler，连接断开时返回
func (s *Session) ReadPump(handler InboundHandler) {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var evt InboundEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Warn("realtime session sent malformed event",
				"session_id", s.ID, "user_id", s.UserID, "err", err)
			continue
		}
		handler(s, &evt)
	}
}
