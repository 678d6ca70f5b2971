package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leadnexconnect/campaign-engine/internal/lease"
	goredis "github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "campaign-engine:lease:"

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var _ lease.Locker = (*RedisLocker)(nil)

// RedisLocker issues leases with SET NX and a random owner token, so a holder
// can only release or extend its own lease.
type RedisLocker struct {
	client   *goredis.Client
	newToken func() string
}

func NewRedisLocker(client *goredis.Client) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisLocker{client: client, newToken: uuid.NewString}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (lease.Lease, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, fmt.Errorf("lease key is required")
	}
	if ttl <= 0 {
		return nil, false, fmt.Errorf("lease ttl must be positive")
	}

	held := &RedisLease{
		client: l.client,
		key:    leaseKeyPrefix + key,
		token:  l.newToken(),
	}
	ok, err := l.client.SetNX(ctx, held.key, held.token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return held, true, nil
}

// RedisLease is a lease held through RedisLocker.
type RedisLease struct {
	client *goredis.Client
	key    string
	token  string
}

func (l *RedisLease) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

// Extend pushes the expiry out to ttl from now. It returns an error if the
// lease has already expired or passed to another holder.
func (l *RedisLease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lease %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("lease %s is no longer held", l.key)
	}
	return nil
}
