package storage

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter throttles upload throughput in bytes per second.
// A nil Limiter does not throttle.
type Limiter struct {
	*rate.Limiter
}

// NewLimiter returns a limiter allowing bytesPerSecond, or nil when the limit
// is not positive. burst must cover the largest single request.
func NewLimiter(bytesPerSecond int, burst int) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return &Limiter{rate.NewLimiter(rate.Limit(bytesPerSecond), max(bytesPerSecond, burst))}
}

// Wait blocks until n bytes may be sent.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	return l.WaitN(ctx, n)
}
