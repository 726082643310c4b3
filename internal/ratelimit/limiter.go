package ratelimit

import (
	"context"
	"sync/atomic"
)

// Admitter is the narrow interface the executor takes: block until one
// submission attempt is admitted. Both Limiter and Distributed satisfy it.
type Admitter interface {
	Acquire(ctx context.Context) error
}

// Limiter wraps the active Bucket behind an atomic pointer so the rate can
// be reconfigured mid-session. Callers blocked inside an old bucket's
// Acquire finish against that bucket; new acquisitions see the replacement.
type Limiter struct {
	bucket atomic.Pointer[Bucket]
}

// NewLimiter creates a limiter with a full bucket of the given rate and burst.
func NewLimiter(ratePerSecond float64, burst int) *Limiter {
	l := &Limiter{}
	l.bucket.Store(NewBucket(ratePerSecond, burst))
	return l
}

// Acquire admits one submission attempt, blocking until a token is available
// or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.bucket.Load().Acquire(ctx)
}

// Available reports the current bucket's token balance.
func (l *Limiter) Available() float64 {
	return l.bucket.Load().Available()
}

// Update atomically replaces the bucket with a fresh full one at the new
// rate and burst.
func (l *Limiter) Update(ratePerSecond float64, burst int) {
	l.bucket.Store(NewBucket(ratePerSecond, burst))
}

// Config returns the active rate and burst, for observability endpoints.
func (l *Limiter) Config() (ratePerSecond float64, burst int) {
	b := l.bucket.Load()
	return b.Rate(), int(b.Capacity())
}
