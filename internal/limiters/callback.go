package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCallbackLimiterUnavailable indicates the callback limiter backend is unreachable.
var ErrCallbackLimiterUnavailable = errors.New("callback limiter unavailable")

// CallbackLimiterConfig bounds authentication failures of the callback
// endpoint per remote address.
type CallbackLimiterConfig struct {
	Enabled     bool
	MaxFailures int
	Window      time.Duration
}

// CallbackLimiter counts callbacks that failed token or MAC checks.
type CallbackLimiter struct {
	redis  redis.UniversalClient
	prefix string
	config CallbackLimiterConfig
}

func NewCallbackLimiter(redisClient redis.UniversalClient, prefix string, cfg CallbackLimiterConfig) *CallbackLimiter {
	if prefix == "" {
		prefix = "tgw"
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	return &CallbackLimiter{redis: redisClient, prefix: prefix, config: cfg}
}

func (l *CallbackLimiter) key(remote string) string {
	return l.prefix + ":cbf:" + remote
}

// Blocked reports whether remote exceeded the failure budget.
func (l *CallbackLimiter) Blocked(ctx context.Context, remote string) (bool, error) {
	if l == nil || !l.config.Enabled || l.config.MaxFailures <= 0 || remote == "" {
		return false, nil
	}
	count, err := l.redis.Get(ctx, l.key(remote)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrCallbackLimiterUnavailable, err)
	}
	return count >= int64(l.config.MaxFailures), nil
}

// RecordFailure counts one failure and reports whether the budget is now used up.
func (l *CallbackLimiter) RecordFailure(ctx context.Context, remote string) (bool, error) {
	if l == nil || !l.config.Enabled || l.config.MaxFailures <= 0 || remote == "" {
		return false, nil
	}
	key := l.key(remote)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCallbackLimiterUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrCallbackLimiterUnavailable, err)
		}
	}
	return count >= int64(l.config.MaxFailures), nil
}
