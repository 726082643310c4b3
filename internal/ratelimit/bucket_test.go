package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBucketBurstThenRefill(t *testing.T) {
	b := NewBucket(10, 2)
	ctx := context.Background()

	start := time.Now()
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if burst := time.Since(start); burst > 50*time.Millisecond {
		t.Errorf("burst acquires took %v, want near-instant", burst)
	}

	// Bucket is empty; the next token accrues at 10/s, so roughly 100ms.
	third := time.Now()
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("third acquire: %v", err)
	}
	waited := time.Since(third)
	if waited < 60*time.Millisecond {
		t.Errorf("third acquire waited %v, want >= 60ms", waited)
	}
	if waited > 2*time.Second {
		t.Errorf("third acquire waited %v, want well under 2s", waited)
	}
}

func TestBucketStartsFull(t *testing.T) {
	b := NewBucket(1, 5)
	if got := b.Available(); got != 5 {
		t.Errorf("Available() = %v, want 5", got)
	}
}

func TestBucketClampsConfig(t *testing.T) {
	b := NewBucket(-3, 0)
	if b.Rate() != 1 {
		t.Errorf("Rate() = %v, want clamped to 1", b.Rate())
	}
	if b.Capacity() != 1 {
		t.Errorf("Capacity() = %v, want clamped to 1", b.Capacity())
	}
}

func TestAvailableNeverExceedsCapacity(t *testing.T) {
	b := NewBucket(100, 3)

	// Simulate a long idle period; accrual must cap at capacity.
	b.mu.Lock()
	b.lastRefill = time.Now().Add(-time.Minute)
	b.mu.Unlock()

	if got := b.Available(); got != 3 {
		t.Errorf("Available() after idle = %v, want capped at 3", got)
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	b := NewBucket(0.1, 1)
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("draining acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Acquire(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled acquire")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("cancelled acquire returned after %v, want promptly", waited)
	}
}

func TestLimiterUpdateSwapsBucket(t *testing.T) {
	l := NewLimiter(5, 1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("draining acquire: %v", err)
	}

	l.Update(1000, 4)

	rate, burst := l.Config()
	if rate != 1000 || burst != 4 {
		t.Errorf("Config() = (%v, %d), want (1000, 4)", rate, burst)
	}
	if got := l.Available(); got != 4 {
		t.Errorf("Available() after update = %v, want fresh full bucket of 4", got)
	}

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after update: %v", err)
	}
	if waited := time.Since(start); waited > 50*time.Millisecond {
		t.Errorf("acquire after update waited %v, want near-instant", waited)
	}
}

func TestLimiterUpdateLeavesWaitersOnOldBucket(t *testing.T) {
	l := NewLimiter(2, 1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("draining acquire: %v", err)
	}

	done := make(chan time.Duration, 1)
	start := time.Now()
	go func() {
		if err := l.Acquire(context.Background()); err != nil {
			done <- -1
			return
		}
		done <- time.Since(start)
	}()

	// Swap in a much faster bucket while the goroutine waits. The
	// waiter keeps its claim on the old 2/s bucket, so it still pays
	// the ~500ms refill instead of returning immediately.
	time.Sleep(50 * time.Millisecond)
	l.Update(1000, 10)

	select {
	case waited := <-done:
		if waited < 0 {
			t.Fatal("waiter returned error")
		}
		if waited < 300*time.Millisecond {
			t.Errorf("waiter finished after %v, want >= 300ms on the old bucket", waited)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never finished")
	}
}

func TestLimiterConcurrentAcquire(t *testing.T) {
	l := NewLimiter(1000, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Acquire(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent acquire: %v", err)
		}
	}
	if got := l.Available(); got < 0 {
		t.Errorf("Available() = %v, want non-negative", got)
	}
}
