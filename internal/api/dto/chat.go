package dto

import "time"

// SendMessageReq 发送消息请求体
// conversation_id 为空时按 receiver_id 懒创建会话；幂等键由客户端生成，
// 整单重试安全（同键重放返回首次持久化的那条消息）。
type SendMessageReq struct {
	ConversationID uint64 `json:"conversation_id"`
	ReceiverID     uint64 `json:"receiver_id"`
	MsgType        string `json:"msg_type" binding:"required,oneof=text image video audio file"`
	Content        string `json:"content"`
	MediaURL       string `json:"media_url"`
	MediaType      string `json:"media_type"`
	MediaThumbnail string `json:"media_thumbnail"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

// MessageDTO 消息明细响应
type MessageDTO struct {
	ID             string     `json:"id"`
	ConversationID uint64     `json:"conversation_id"`
	SenderID       uint64     `json:"sender_id"`
	ReceiverID     uint64     `json:"receiver_id"`
	MsgType        string     `json:"msg_type"`
	Content        string     `json:"content,omitempty"`
	MediaURL       string     `json:"media_url,omitempty"`
	MediaType      string     `json:"media_type,omitempty"`
	MediaThumbnail string     `json:"media_thumbnail,omitempty"`
	Seq            uint64     `json:"seq"`
	Delivered      bool       `json:"delivered"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ConversationDTO 会话列表项响应
type ConversationDTO struct {
	ConversationID uint64    `json:"conversation_id"`
	PeerID         uint64    `json:"peer_id"`
	LastMessageID  string    `json:"last_message_id,omitempty"`
	LastMsgPreview string    `json:"last_msg_preview"`
	LastMsgType    string    `json:"last_msg_type"`
	LastSenderID   uint64    `json:"last_sender_id"`
	LastMessageAt  time.Time `json:"last_message_at"`
	UnreadCount    uint64    `json:"unread_count"`
	IsMuted        bool      `json:"is_muted"`
	IsArchived     bool      `json:"is_archived"`
	PeerOnline     bool      `json:"peer_online"`
}

// ConversationFlagReq 归档/静音开关请求
type ConversationFlagReq struct {
	Enabled bool `json:"enabled"`
}

// MarkAsReadReq 标记为已读请求
type MarkAsReadReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
}

// HistoryDTO 历史消息响应，附带对端身份便于客户端渲染
type HistoryDTO struct {
	Messages []*MessageDTO `json:"messages"`
	PeerID   uint64        `json:"peer_id"`
}
