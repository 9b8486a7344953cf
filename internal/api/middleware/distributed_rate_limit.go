package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter is a fixed one-minute window counter shared by every replica.
type RedisLimiter struct {
	redis  *redis.Client
	prefix string
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "coursehub:ratelimit"
	}
	return &RedisLimiter{redis: client, prefix: prefix, window: time.Minute}
}

// Allow reports true together with the error when Redis is unreachable.
func (l *RedisLimiter) Allow(ctx context.Context, key string, perMinute int) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	// the first hit opens the window
	if count == 1 {
		if err := l.redis.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}

	return count <= int64(perMinute), nil
}

func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.redis.Ping(ctx).Err()
}
