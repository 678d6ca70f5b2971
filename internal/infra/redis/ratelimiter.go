package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leadnexconnect/campaign-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 20
	rateWindow               = time.Second
	minRetryAfter            = 5 * time.Millisecond
	rateLimitKeyPrefix       = "campaign-engine:ratelimit:"
)

// takeSlotScript counts one send against the window key and reports whether
// it fits under the limit. The key outlives its window by one window so that
// clock skew between senders cannot reopen it early.
var takeSlotScript = goredis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if used > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps sends per bucket in fixed one-second windows. Every
// process sending through the same Redis shares the budget.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	allowed, _, err := r.take(ctx, bucket)
	return allowed, err
}

// Wait blocks until the bucket has room or ctx ends. A rejected caller sleeps
// until the current window closes instead of polling Redis.
func (r *RedisRateLimiter) Wait(ctx context.Context, bucket string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		allowed, retryAfter, err := r.take(ctx, bucket)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if err := r.sleep(ctx, retryAfter); err != nil {
			return err
		}
	}
}

// take claims one slot in the window containing now. When the window is full
// it returns how long until the next one opens.
func (r *RedisRateLimiter) take(ctx context.Context, bucket string) (bool, time.Duration, error) {
	if r == nil || r.client == nil {
		return false, 0, fmt.Errorf("rate limiter is not initialized")
	}

	name := strings.ToLower(strings.TrimSpace(bucket))
	if name == "" {
		return false, 0, fmt.Errorf("rate limit bucket is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := r.now().UTC()
	windowStart := now.Truncate(rateWindow)
	key := fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, name, windowStart.Unix())

	ok, err := takeSlotScript.Run(ctx, r.client, []string{key}, r.limitPerSec, (2 * rateWindow).Milliseconds()).Int()
	if err != nil {
		return false, 0, fmt.Errorf("failed to evaluate rate limit for %q: %w", name, err)
	}
	if ok == 1 {
		return true, 0, nil
	}

	retryAfter := windowStart.Add(rateWindow).Sub(now)
	if retryAfter < minRetryAfter {
		retryAfter = minRetryAfter
	}
	return false, retryAfter, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
