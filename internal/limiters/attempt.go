package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultAttemptMaxAttempts = 5
	defaultAttemptCooldown    = time.Minute
)

// ErrAttemptUnavailable indicates the attempt limiter backend is unreachable.
var ErrAttemptUnavailable = errors.New("tfa attempt limiter unavailable")

// AttemptPolicy is the threshold for one provider.
type AttemptPolicy struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// AttemptLimiterConfig holds the default policy and per-provider overrides.
// Zero fields fall back to the default policy, then to 5 attempts / 60s.
type AttemptLimiterConfig struct {
	Default   AttemptPolicy
	Providers map[string]AttemptPolicy
}

// AttemptLimiter counts failed TFA verifications per provider and user in
// a fixed window that starts with the first failure.
type AttemptLimiter struct {
	redis  redis.UniversalClient
	prefix string
	config AttemptLimiterConfig
}

func NewAttemptLimiter(redisClient redis.UniversalClient, prefix string, cfg AttemptLimiterConfig) *AttemptLimiter {
	if prefix == "" {
		prefix = "tgw"
	}
	if cfg.Default.MaxAttempts <= 0 {
		cfg.Default.MaxAttempts = defaultAttemptMaxAttempts
	}
	if cfg.Default.Cooldown <= 0 {
		cfg.Default.Cooldown = defaultAttemptCooldown
	}
	return &AttemptLimiter{redis: redisClient, prefix: prefix, config: cfg}
}

func (l *AttemptLimiter) key(providerID, userID string) string {
	return l.prefix + ":att:" + providerID + ":" + userID
}

func (l *AttemptLimiter) policy(providerID string) AttemptPolicy {
	p := l.config.Providers[providerID]
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = l.config.Default.MaxAttempts
	}
	if p.Cooldown <= 0 {
		p.Cooldown = l.config.Default.Cooldown
	}
	return p
}

// Allow reports whether another verification may be attempted.
func (l *AttemptLimiter) Allow(ctx context.Context, providerID, userID string) (bool, error) {
	if l == nil {
		return true, nil
	}
	count, err := l.redis.Get(ctx, l.key(providerID, userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return false, fmt.Errorf("%w: %v", ErrAttemptUnavailable, err)
	}
	return count < int64(l.policy(providerID).MaxAttempts), nil
}

func (l *AttemptLimiter) RecordFailure(ctx context.Context, providerID, userID string) error {
	if l == nil {
		return nil
	}
	key := l.key(providerID, userID)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.policy(providerID).Cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrAttemptUnavailable, err)
		}
	}
	return nil
}

func (l *AttemptLimiter) Reset(ctx context.Context, providerID, userID string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(providerID, userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptUnavailable, err)
	}
	return nil
}
