package job

import (
	"Meetstreet/internal/pkg/mongo"
	"Meetstreet/internal/repository"
	"context"
	log "log/slog"
	"time"
)

// UnreadCalibrationJob 未读数校准任务
// 会话聚合里的 unread_count 是热路径上的冗余计数，核心之外的
// CRUD 链路 (如账号注销级联) 也会动这份数据。夜间以消息明细里的
// read 标记为准重算一遍，修掉漂移。
type UnreadCalibrationJob struct {
	convRepo    repository.ConversationRepo
	messageRepo mongo.MessageRepo
}

func NewUnreadCalibrationJob(convRepo repository.ConversationRepo, messageRepo mongo.MessageRepo) *UnreadCalibrationJob {
	return &UnreadCalibrationJob{
		convRepo:    convRepo,
		messageRepo: messageRepo,
	}
}

func (s *UnreadCalibrationJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	members, err := s.convRepo.GetAllMembers(ctx)
	if err != nil {
		log.Error("unread calibration: load members failed", "err", err)
		return
	}

	fixed := 0
	for _, m := range members {
		actual, err := s.messageRepo.CountUnread(ctx, m.ConversationID, m.UserID)
		if err != nil {
			log.Error("unread calibration: count failed",
				"conversation_id", m.ConversationID, "user_id", m.UserID, "err", err)
			continue
		}
		if uint64(actual) == m.UnreadCount {
			continue
		}
		if err := s.convRepo.SetUnreadCount(ctx, m.ConversationID, m.UserID, uint64(actual)); err != nil {
			log.Error("unread calibration: rewrite failed",
				"conversation_id", m.ConversationID, "user_id", m.UserID, "err", err)
			continue
		}
		fixed++
	}

	log.Info("unread calibration finished", "members", len(members), "fixed", fixed)
}
