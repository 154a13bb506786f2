package service

import (
	"Meetstreet/internal/pkg/redis"
	"context"
	log "log/slog"
	"time"
)

const idempotencyTTL = 24 * time.Hour

// redisIdempotencyStore 基于 Redis SetNX 的幂等键实现
// 抢占时写入占位值，落库成功后替换为消息 ID；同键重放拿到消息 ID
// 即可返回首次结果，拿到占位值说明首次请求仍在途。
type redisIdempotencyStore struct{}

func NewRedisIdempotencyStore() IdempotencyStore {
	return &redisIdempotencyStore{}
}

func (r *redisIdempotencyStore) Begin(ctx context.Context, key string) (string, bool, error) {
	ok, err := redis.SetNX(ctx, key, "pending", idempotencyTTL)
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	prev, err := redis.GetValue(ctx, key)
	if err != nil {
		return "", false, err
	}
	return prev, false, nil
}

func (r *redisIdempotencyStore) Commit(ctx context.Context, key string, msgID string) error {
	return redis.SetWithExpiration(ctx, key, msgID, idempotencyTTL)
}

func (r *redisIdempotencyStore) Abort(ctx context.Context, key string) {
	if err := redis.DeleteKey(ctx, key); err != nil {
		log.Error("idempotency abort failed", "key", key, "err", err)
	}
}
