package repository

import (
	"Meetstreet/internal/model"
	"Meetstreet/internal/pkg/consts"
	"Meetstreet/internal/pkg/redis"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConversationRepo interface {
	FindOrCreate(ctx context.Context, userA, userB uint64) (*model.Conversation, error)
	GetConversation(ctx context.Context, convID uint64) (*model.Conversation, error)
	IsMember(ctx context.Context, convID uint64, userID uint64) (bool, error)

	// AppendMessage 在一个事务里推进会话聚合并持久化消息明细：
	// 发号、刷新 last_* 预览、接收方未读 +1，随后调用 persist 落消息。
	// persist 返回错误时整个事务回滚，发送方看到的是可整单重试的失败。
	AppendMessage(ctx context.Context, convID uint64, senderID, receiverID uint64,
		preview, msgType string, persist func(seq uint64) (msgID string, err error)) (uint64, error)

	MarkRead(ctx context.Context, convID, readerID uint64) error
	SetArchived(ctx context.Context, convID, userID uint64, archived bool) error
	SetMuted(ctx context.Context, convID, userID uint64, muted bool) error

	GetUserConversationMemList(ctx context.Context, userID uint64) ([]*model.ConversationMember, error)
	GetAllMembers(ctx context.Context) ([]*model.ConversationMember, error)
	SetUnreadCount(ctx context.Context, convID, userID, count uint64) error
}

type conversationRepoImpl struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepoImpl{db: db}
}

// PeerKey 生成无序参与者对的唯一标识
func PeerKey(userA, userB uint64) string {
	if userA < userB {
		return fmt.Sprintf("%d_%d", userA, userB)
	}
	return fmt.Sprintf("%d_%d", userB, userA)
}

// FindOrCreate 懒创建会话，首次互发建会话，之后复用
// 双方同时首发时，落败方撞 peer_key 唯一索引后改走查询，不会产生重复会话。
func (s *conversationRepoImpl) FindOrCreate(ctx context.Context, userA, userB uint64) (*model.Conversation, error) {
	peerKey := PeerKey(userA, userB)

	var conv model.Conversation
	err := s.db.WithContext(ctx).Where("peer_key = ?", peerKey).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 首发建会话先抢初始化锁削峰，抢到后复查一次；
	// 抢锁超时直接走建表，peer_key 唯一索引仍是最终仲裁。
	lockKey := consts.ConversationInitLock + peerKey
	lockVal := uuid.NewString()
	locked, err := redis.TryLock(ctx, lockKey, lockVal, 5*time.Second, 3)
	if err != nil {
		return nil, err
	}
	if locked {
		defer redis.UnLock(ctx, lockKey, lockVal)
		if err := s.db.WithContext(ctx).Where("peer_key = ?", peerKey).First(&conv).Error; err == nil {
			return &conv, nil
		}
	}

	newConv := &model.Conversation{
		PeerKey:       peerKey,
		LastMessageAt: time.Now(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(newConv).Error; err != nil {
			return err
		}
		for _, uid := range []uint64{userA, userB} {
			member := &model.ConversationMember{
				ConversationID: newConv.ID,
				UserID:         uid,
				JoinedAt:       time.Now(),
			}
			if err := tx.Create(member).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return newConv, nil
	}

	// 并发建会话竞态：复用胜者的会话
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var existing model.Conversation
		if err := s.db.WithContext(ctx).Where("peer_key = ?", peerKey).First(&existing).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	}
	return nil, err
}

// GetConversation 根据会话 ID 获取会话
func (s *conversationRepoImpl) GetConversation(ctx context.Context, convID uint64) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).First(&conv, convID).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// IsMember 检查用户是否是会话成员
func (s *conversationRepoImpl) IsMember(ctx context.Context, convID uint64, userID uint64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Count(&count).Error
	return count > 0, err
}

// AppendMessage 核心定序与聚合更新逻辑，利用 MySQL 行锁确保 Seq 绝对递增
func (s *conversationRepoImpl) AppendMessage(ctx context.Context, convID uint64, senderID, receiverID uint64,
	preview, msgType string, persist func(seq uint64) (string, error)) (uint64, error) {

	var maxSeq uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 原子更新序列号与预览信息
		err := tx.Model(&model.Conversation{}).Where("id = ?", convID).
			Updates(map[string]interface{}{
				"max_msg_seq":      gorm.Expr("max_msg_seq + 1"),
				"last_msg_preview": preview,
				"last_msg_type":    msgType,
				"last_sender_id":   senderID,
				"last_message_at":  time.Now(),
			}).Error
		if err != nil {
			return err
		}

		// 接收方未读 +1
		err = tx.Model(&model.ConversationMember{}).
			Where("conversation_id = ? AND user_id = ?", convID, receiverID).
			Update("unread_count", gorm.Expr("unread_count + 1")).Error
		if err != nil {
			return err
		}

		// 新消息让双方的归档会话重新浮现
		err = tx.Model(&model.ConversationMember{}).
			Where("conversation_id = ?", convID).
			Update("is_archived", 0).Error
		if err != nil {
			return err
		}

		if err = tx.Model(&model.Conversation{}).
			Select("max_msg_seq").Where("id = ?", convID).
			Scan(&maxSeq).Error; err != nil {
			return err
		}

		// 消息明细落库失败则整体回滚，聚合不会留下半截更新
		msgID, err := persist(maxSeq)
		if err != nil {
			return err
		}

		return tx.Model(&model.Conversation{}).Where("id = ?", convID).
			Update("last_message_id", msgID).Error
	})
	return maxSeq, err
}

// MarkRead 清零读者的未读数，幂等
func (s *conversationRepoImpl) MarkRead(ctx context.Context, convID, readerID uint64) error {
	return s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, readerID).
		Update("unread_count", 0).Error
}

// SetArchived 归档只影响本人视图
func (s *conversationRepoImpl) SetArchived(ctx context.Context, convID, userID uint64, archived bool) error {
	v := int8(0)
	if archived {
		v = 1
	}
	return s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Update("is_archived", v).Error
}

// SetMuted 静音只影响本人视图
func (s *conversationRepoImpl) SetMuted(ctx context.Context, convID, userID uint64, muted bool) error {
	v := int8(0)
	if muted {
		v = 1
	}
	return s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Update("is_muted", v).Error
}

// GetUserConversationMemList 联表查询，利用嵌套 Model 自动装配
func (s *conversationRepoImpl) GetUserConversationMemList(ctx context.Context, userID uint64) ([]*model.ConversationMember, error) {
	var members []*model.ConversationMember
	err := s.db.WithContext(ctx).Table("conversation_members m").
		Select("m.*, "+
			"c.id AS `Conversation__id`, "+
			"c.peer_key AS `Conversation__peer_key`, "+
			"c.max_msg_seq AS `Conversation__max_msg_seq`, "+
			"c.last_message_id AS `Conversation__last_message_id`, "+
			"c.last_msg_preview AS `Conversation__last_msg_preview`, "+
			"c.last_msg_type AS `Conversation__last_msg_type`, "+
			"c.last_sender_id AS `Conversation__last_sender_id`, "+
			"c.last_message_at AS `Conversation__last_message_at`").
		Joins("JOIN conversations c ON m.conversation_id = c.id").
		Where("m.user_id = ? AND m.is_archived = 0", userID).
		Order("c.last_message_at DESC").
		Find(&members).Error
	return members, err
}

// GetAllMembers 全量成员行，供未读数校准任务扫描
func (s *conversationRepoImpl) GetAllMembers(ctx context.Context) ([]*model.ConversationMember, error) {
	var members []*model.ConversationMember
	err := s.db.WithContext(ctx).Find(&members).Error
	return members, err
}

// SetUnreadCount 校准任务回写修正后的未读数
func (s *conversationRepoImpl) SetUnreadCount(ctx context.Context, convID, userID, count uint64) error {
	return s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Update("unread_count", count).Error
}
