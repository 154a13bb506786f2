package realtime

import (
	"github.com/goccy/go-json"
)

// 实时通道事件名，封闭集合，两个方向共用一个信封
const (
	// client -> server
	EventJoin       = "join"
	EventTyping     = "typing"
	EventCallAck    = "call:ack"
	EventCallSignal = "call:signal"

	// server -> client
	EventMessageNew      = "message:new"
	EventCallIncoming    = "call:incoming"
	EventCallAccepted    = "call:accepted"
	EventCallEnded       = "call:ended"
	EventPresenceChanged = "presence:changed"
)

// Event 实时通道信封
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// InboundEvent 客户端上行事件，Data 延迟解码
type InboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinPayload 订阅一个房间
type JoinPayload struct {
	Room string `json:"room"`
}

// TypingPayload 输入状态透传
type TypingPayload struct {
	SenderID   uint64 `json:"sender_id"`
	ReceiverID uint64 `json:"receiver_id"`
	IsTyping   bool   `json:"is_typing"`
}

// CallIncomingPayload 来电通知
type CallIncomingPayload struct {
	CallID string `json:"call_id"`
	From   uint64 `json:"from"`
	Kind   string `json:"kind"`
}

// CallAcceptedPayload 对方已接听
type CallAcceptedPayload struct {
	CallID string `json:"call_id"`
}

// CallEndedPayload 通话结束及原因
type CallEndedPayload struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
}

// CallAckPayload 被叫端确认收到来电 (设备可达 -> 用户已被提醒)
type CallAckPayload struct {
	CallID string `json:"call_id"`
}

// CallSignalPayload 信令中继内容
// Payload 是 SDP/ICE 一类的协商数据，控制器不解释，原样转发给对端。
type CallSignalPayload struct {
	CallID  string          `json:"call_id"`
	From    uint64          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// PresencePayload 在线状态变更
type PresencePayload struct {
	UserID   uint64 `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// Encode 序列化事件信封
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
