package model

import "time"

// Conversation 会话主表
// 一对参与者至多一条活跃会话：peer_key 取 "小uid_大uid" 并加唯一索引，
// 并发首次互发时落败方撞唯一键后改走查询复用。
type Conversation struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	PeerKey        string    `gorm:"uniqueIndex;type:varchar(64);not null" json:"peerKey"`
	MaxMsgSeq      uint64    `gorm:"not null;default:0" json:"maxMsgSeq"` // 会话内消息定序号
	LastMessageID  string    `gorm:"type:varchar(32)" json:"lastMessageId"`
	LastMsgPreview string    `gorm:"type:varchar(255)" json:"lastMsgPreview"`
	LastMsgType    string    `gorm:"type:varchar(16);not null;default:'text'" json:"lastMsgType"`
	LastSenderID   uint64    `gorm:"not null;default:0" json:"lastSenderId"`
	LastMessageAt  time.Time `gorm:"index" json:"lastMessageAt"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (Conversation) TableName() string { return "conversations" }

// ConversationMember 会话成员表，单聊固定两行
// unread_count 在消息落库事务里对接收方 +1，markRead 清零，不会为负。
// 归档与静音都是成员侧状态，对另一方不可见。
type ConversationMember struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64    `gorm:"uniqueIndex:idx_conv_user" json:"conversationId"`
	UserID         uint64    `gorm:"uniqueIndex:idx_conv_user;index" json:"userId"`
	UnreadCount    uint64    `gorm:"not null;default:0" json:"unreadCount"`
	IsMuted        int8      `gorm:"not null;default:0" json:"isMuted"`
	IsArchived     int8      `gorm:"not null;default:0;index" json:"isArchived"`
	JoinedAt       time.Time `json:"joinedAt"`

	Conversation Conversation `gorm:"foreignKey:ConversationID;references:ID" json:"conversation"`
}

func (ConversationMember) TableName() string { return "conversation_members" }
