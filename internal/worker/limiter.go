package worker

import (
	"context"
	"time"

	"postop-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Limiter caps how many calls a clinic can have in flight at once, so one
// clinic's burst cannot monopolize the trunk.
type Limiter interface {
	Acquire(ctx context.Context, clinicID string) (bool, error)
	Release(ctx context.Context, clinicID string) error
}

// RedisLimiter enforces the per-clinic dial cap with an atomic Redis counter.
// The TTL bounds how long a crashed worker can hold a slot.
type RedisLimiter struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, ttl time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func (l *RedisLimiter) key(clinicID string) string {
	return "postop:dialcap:" + clinicID
}

func (l *RedisLimiter) Acquire(ctx context.Context, clinicID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.key(clinicID), l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, clinicID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key(clinicID))
}

// NopLimiter never rejects. Used when no dial cap is configured.
type NopLimiter struct{}

func (NopLimiter) Acquire(ctx context.Context, clinicID string) (bool, error) { return true, nil }
func (NopLimiter) Release(ctx context.Context, clinicID string) error         { return nil }
