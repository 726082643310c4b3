// Package ratelimit provides token-bucket admission control for outbound
// submission attempts. A single limiter instance is shared by every worker,
// so the configured rate caps overall throughput, not per-worker throughput.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// minWait bounds the retry sleep when the bucket is empty so a very high
// refill rate cannot busy-loop the caller.
const minWait = time.Millisecond

// Bucket is a continuously-refilling token bucket. Tokens accrue at
// refillPerSecond up to capacity; each admitted operation consumes one.
type Bucket struct {
	mu              sync.Mutex
	capacity        float64
	refillPerSecond float64
	tokens          float64
	lastRefill      time.Time
}

// NewBucket creates a full bucket. ratePerSecond must be > 0 and burst >= 1;
// out-of-range values are clamped rather than rejected since the config layer
// validates upstream.
func NewBucket(ratePerSecond float64, burst int) *Bucket {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Bucket{
		capacity:        float64(burst),
		refillPerSecond: ratePerSecond,
		tokens:          float64(burst),
		lastRefill:      time.Now(),
	}
}

// refillLocked accrues tokens for the time elapsed since the last refill.
// Callers must hold mu.
func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillPerSecond
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Acquire blocks until one token is consumed or ctx is done. The token count
// never goes below zero: when the bucket is empty the caller sleeps for the
// time one token takes to accrue, then rechecks.
func (b *Bucket) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refillLocked(time.Now())
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		deficit := 1 - b.tokens
		b.mu.Unlock()

		wait := time.Duration(deficit / b.refillPerSecond * float64(time.Second))
		if wait < minWait {
			wait = minWait
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("ratelimit: acquire aborted: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// Available returns the current token balance after applying lazy refill.
// It never consumes tokens and never reports more than capacity.
func (b *Bucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	return b.tokens
}

// Capacity returns the configured burst size.
func (b *Bucket) Capacity() float64 { return b.capacity }

// Rate returns the configured refill rate in tokens per second.
func (b *Bucket) Rate() float64 { return b.refillPerSecond }
