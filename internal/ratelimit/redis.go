package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Counter shared by every instance pointed at the same server.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a Counter storing windows under prefix+"rate:".
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix + "rate:"}
}

func (r *Redis) Hit(ctx context.Context, key string, length time.Duration) (int, time.Time, error) {
	k := r.prefix + key

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, length)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("rate limit hit %q: %w", key, err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		remaining = length
	}
	return int(incr.Val()), time.Now().Add(remaining), nil
}
