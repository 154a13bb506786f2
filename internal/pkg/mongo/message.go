package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message MongoDB 消息明细模型
// delivered / read 为单调状态位：read 蕴含 delivered，时间戳只写一次。
// 删除是按查看者的软删除 (deleted_by)，永不产生全局墓碑。
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID uint64             `bson:"conversation_id" json:"conversationId"`
	SenderID       uint64             `bson:"sender_id" json:"senderId"`
	ReceiverID     uint64             `bson:"receiver_id" json:"receiverId"`
	MsgType        string             `bson:"msg_type" json:"msgType"` // text/image/video/audio/file
	Content        string             `bson:"content,omitempty" json:"content"`
	MediaURL       string             `bson:"media_url,omitempty" json:"mediaUrl"`
	MediaType      string             `bson:"media_type,omitempty" json:"mediaType"`
	MediaThumbnail string             `bson:"media_thumbnail,omitempty" json:"mediaThumbnail"`
	Seq            uint64             `bson:"seq" json:"seq"` // MySQL 发号的会话内绝对序号，同时刻并发插入的定序依据
	Delivered      bool               `bson:"delivered" json:"delivered"`
	DeliveredAt    *time.Time         `bson:"delivered_at,omitempty" json:"deliveredAt,omitempty"`
	Read           bool               `bson:"read" json:"read"`
	ReadAt         *time.Time         `bson:"read_at,omitempty" json:"readAt,omitempty"`
	IsDeleted      bool               `bson:"is_deleted" json:"isDeleted"`
	DeletedBy      []uint64           `bson:"deleted_by,omitempty" json:"deletedBy,omitempty"`
	CreatedAt      time.Time          `bson:"created_at" json:"createdAt"`
}
