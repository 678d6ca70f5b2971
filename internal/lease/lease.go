package lease

import (
	"context"
	"time"
)

// Lease is a held, expiring claim on a key.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out leases. TryLock never blocks: ok is false when another
// holder owns the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (l Lease, ok bool, err error)
}
