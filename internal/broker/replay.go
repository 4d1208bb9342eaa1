package broker

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/paywindow/internal/common"
)

// ReplayGuard rejects a notification body that was already processed within a TTL.
type ReplayGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisReplayGuard implements ReplayGuard using Redis SETNX semantics.
type RedisReplayGuard struct {
	Client *redis.Client
}

// Acquire attempts to claim key for the provided TTL.
func (g RedisReplayGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if g.Client == nil {
		return true, nil
	}
	return g.Client.SetNX(ctx, key, "1", ttl).Result()
}

func replayKey(origin string, body []byte) string {
	return "paywindow:notify:" + common.Sha256Hex(origin, string(body))
}
