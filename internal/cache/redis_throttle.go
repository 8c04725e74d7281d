package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const resendKeyPrefix = "agricure:resend:"

// RedisResendThrottle enforces a per-email cooldown between verification
// code resends. The marker key expires on its own after the cooldown.
type RedisResendThrottle struct {
	client *redis.Client
}

func NewRedisResendThrottle(client *redis.Client) *RedisResendThrottle {
	return &RedisResendThrottle{client: client}
}

// Allow reports whether a resend may proceed and, if so, starts the cooldown
func (t *RedisResendThrottle) Allow(ctx context.Context, email string, cooldown time.Duration) (bool, error) {
	return t.client.SetNX(ctx, resendKey(email), time.Now().UTC().Unix(), cooldown).Result()
}

// Release clears the cooldown, used when the resend could not be delivered
func (t *RedisResendThrottle) Release(ctx context.Context, email string) error {
	return t.client.Del(ctx, resendKey(email)).Err()
}

func resendKey(email string) string {
	return resendKeyPrefix + strings.ToLower(email)
}
