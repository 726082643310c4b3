package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDistributedBurstThenWait(t *testing.T) {
	client := newTestRedis(t)
	d := NewDistributed(client, "acct-1", 50, 2)
	ctx := context.Background()

	start := time.Now()
	if err := d.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := d.Acquire(ctx); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if burst := time.Since(start); burst > 200*time.Millisecond {
		t.Errorf("burst acquires took %v, want near-instant", burst)
	}

	third := time.Now()
	if err := d.Acquire(ctx); err != nil {
		t.Fatalf("third acquire: %v", err)
	}
	if waited := time.Since(third); waited < 10*time.Millisecond {
		t.Errorf("third acquire waited %v, want >= 10ms", waited)
	}
}

func TestDistributedSharesBudget(t *testing.T) {
	client := newTestRedis(t)
	first := NewDistributed(client, "shared", 100, 1)
	second := NewDistributed(client, "shared", 100, 1)
	ctx := context.Background()

	if err := first.Acquire(ctx); err != nil {
		t.Fatalf("first worker acquire: %v", err)
	}

	// The second worker sees the bucket the first one drained.
	start := time.Now()
	if err := second.Acquire(ctx); err != nil {
		t.Fatalf("second worker acquire: %v", err)
	}
	if waited := time.Since(start); waited < 5*time.Millisecond {
		t.Errorf("second worker waited %v, want to queue behind the first", waited)
	}
}

func TestDistributedAvailable(t *testing.T) {
	client := newTestRedis(t)
	d := NewDistributed(client, "avail", 10, 4)
	ctx := context.Background()

	got, err := d.Available(ctx)
	if err != nil {
		t.Fatalf("Available on fresh bucket: %v", err)
	}
	if got != 4 {
		t.Errorf("Available() = %v, want full bucket of 4", got)
	}

	if err := d.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	got, err = d.Available(ctx)
	if err != nil {
		t.Fatalf("Available after acquire: %v", err)
	}
	if got >= 4 {
		t.Errorf("Available() = %v, want below capacity after a take", got)
	}
}

func TestDistributedContextCancelled(t *testing.T) {
	client := newTestRedis(t)
	d := NewDistributed(client, "slow", 0.5, 1)
	if err := d.Acquire(context.Background()); err != nil {
		t.Fatalf("draining acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := d.Acquire(ctx); err == nil {
		t.Fatal("expected error from cancelled acquire")
	}
}

func TestDistributedUpdateAppliesOnNextCheck(t *testing.T) {
	client := newTestRedis(t)
	d := NewDistributed(client, "resized", 1, 1)
	d.Update(200, 5)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := d.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if took := time.Since(start); took > 500*time.Millisecond {
		t.Errorf("5 acquires after resize took %v, want burst through", took)
	}

	rate, burst := d.Config()
	if rate != 200 || burst != 5 {
		t.Errorf("Config() = (%v, %d), want (200, 5)", rate, burst)
	}
}
