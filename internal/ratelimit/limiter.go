package ratelimit

import "context"

// RateLimiter caps mail dispatch throughput per bucket, for example one bucket
// per mail provider.
type RateLimiter interface {
	Allow(ctx context.Context, bucket string) (bool, error)
	Wait(ctx context.Context, bucket string) error
}
