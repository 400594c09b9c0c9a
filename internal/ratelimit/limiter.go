package ratelimit

import "context"

// RateLimiter controls outbound vendor call throughput per operation.
type RateLimiter interface {
	Allow(ctx context.Context, operation string) (bool, error)
	Wait(ctx context.Context, operation string) error
}

// Nop admits every call. Used when no Redis backend is configured.
type Nop struct{}

func (Nop) Allow(context.Context, string) (bool, error) { return true, nil }
func (Nop) Wait(context.Context, string) error          { return nil }
