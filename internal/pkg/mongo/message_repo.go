package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepo interface {
	SaveMessage(ctx context.Context, msg *Message) error
	GetHistory(ctx context.Context, convID uint64, viewerID uint64, lastSeq uint64, pageSize int) ([]*Message, error)
	MarkDelivered(ctx context.Context, convID uint64, receiverID uint64) error
	MarkRead(ctx context.Context, convID uint64, readerID uint64) error
	SoftDelete(ctx context.Context, msgID primitive.ObjectID, userID uint64) (int64, error)
	GetByID(ctx context.Context, msgID primitive.ObjectID) (*Message, error)
	CountUnread(ctx context.Context, convID uint64, receiverID uint64) (int64, error)
}

type messageRepoImpl struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepoImpl{
		col: db.Collection("message"),
	}
}

// SaveMessage 将消息存入 MongoDB，并回填生成的 ObjectID
func (s *messageRepoImpl) SaveMessage(ctx context.Context, msg *Message) error {
	res, err := s.col.InsertOne(ctx, msg)
	if err != nil {
		return err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		msg.ID = oid
	}
	return nil
}

// GetHistory 历史消息查询逻辑
// lastSeq 为当前页面最旧一条消息的序号，第一页传 0。
// 结果按 seq 降序返回 (最新的在前)，调用方负责翻转为滚动顺序。
// 查看者已软删除的消息不会出现在结果里。
func (s *messageRepoImpl) GetHistory(ctx context.Context, convID uint64, viewerID uint64, lastSeq uint64, pageSize int) ([]*Message, error) {
	filter := bson.M{
		"conversation_id": convID,
		"deleted_by":      bson.M{"$ne": viewerID},
	}

	if lastSeq > 0 {
		filter["seq"] = bson.M{"$lt": lastSeq}
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}}).
		SetLimit(int64(pageSize))

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// MarkDelivered 将接收方在会话内所有未送达消息置为已送达
// delivered_at 只在 delivered=false 时写入，满足时间戳只写一次的约束。
func (s *messageRepoImpl) MarkDelivered(ctx context.Context, convID uint64, receiverID uint64) error {
	_, err := s.col.UpdateMany(ctx,
		bson.M{"conversation_id": convID, "receiver_id": receiverID, "delivered": false},
		bson.M{"$set": bson.M{"delivered": true, "delivered_at": time.Now()}},
	)
	return err
}

// MarkRead 将接收方在会话内所有未读消息置为已读
// read 蕴含 delivered，先补齐送达状态再写已读，重复调用是空操作。
func (s *messageRepoImpl) MarkRead(ctx context.Context, convID uint64, readerID uint64) error {
	if err := s.MarkDelivered(ctx, convID, readerID); err != nil {
		return err
	}
	_, err := s.col.UpdateMany(ctx,
		bson.M{"conversation_id": convID, "receiver_id": readerID, "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": time.Now()}},
	)
	return err
}

// SoftDelete 按查看者软删除。返回命中条数，0 表示消息不存在。
func (s *messageRepoImpl) SoftDelete(ctx context.Context, msgID primitive.ObjectID, userID uint64) (int64, error) {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": msgID},
		bson.M{
			"$addToSet": bson.M{"deleted_by": userID},
			"$set":      bson.M{"is_deleted": true},
		},
	)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

// GetByID 精确查询
func (s *messageRepoImpl) GetByID(ctx context.Context, msgID primitive.ObjectID) (*Message, error) {
	var msg Message
	err := s.col.FindOne(ctx, bson.M{"_id": msgID}).Decode(&msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// CountUnread 统计接收方在会话内的未读条数，供未读数校准任务使用
func (s *messageRepoImpl) CountUnread(ctx context.Context, convID uint64, receiverID uint64) (int64, error) {
	return s.col.CountDocuments(ctx, bson.M{
		"conversation_id": convID,
		"receiver_id":     receiverID,
		"read":            false,
	})
}
