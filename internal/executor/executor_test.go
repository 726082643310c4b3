package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/ratelimit"
)

type taggedErr struct {
	msg   string
	cat   domain.ErrorCategory
	after time.Duration
}

func (e *taggedErr) Error() string                       { return e.msg }
func (e *taggedErr) ErrorCategory() domain.ErrorCategory { return e.cat }
func (e *taggedErr) RetryAfter() time.Duration           { return e.after }

// retryableErr fails fast in tests: rate-limit category with a tiny
// server hint instead of the 5s floor.
func retryableErr(msg string) error {
	return &taggedErr{msg: msg, cat: domain.ErrorCategoryRateLimit, after: time.Millisecond}
}

func fatalErr(msg string) error {
	return &taggedErr{msg: msg, cat: domain.ErrorCategoryAuthentication}
}

type countingAdmitter struct {
	n atomic.Int64
}

func (a *countingAdmitter) Acquire(ctx context.Context) error {
	a.n.Add(1)
	return ctx.Err()
}

func openLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(100000, 100000)
}

func TestSequentialFailFastTruncatesOutcomes(t *testing.T) {
	var executed [5]atomic.Bool
	ops := make([]Operation, 5)
	for i := range ops {
		i := i
		ops[i] = func(ctx context.Context) error {
			executed[i].Store(true)
			if i == 2 {
				return fatalErr("bad credentials")
			}
			return nil
		}
	}

	exec := New(openLimiter(), Options{Concurrency: 1, FailFast: true, MaxRetries: 3})
	outcomes, err := exec.Run(context.Background(), ops)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(outcomes) != 3 {
		t.Fatalf("Expected exactly 3 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].Success || !outcomes[1].Success {
		t.Error("Expected first two operations to succeed")
	}
	if outcomes[2].Success {
		t.Error("Expected third operation to fail")
	}
	if outcomes[2].Category != domain.ErrorCategoryAuthentication {
		t.Errorf("Expected authentication category, got %s", outcomes[2].Category)
	}
	if executed[3].Load() || executed[4].Load() {
		t.Error("Operations after the failure must never run")
	}
}

func TestSequentialContinuesWithoutFailFast(t *testing.T) {
	ops := make([]Operation, 5)
	for i := range ops {
		i := i
		ops[i] = func(ctx context.Context) error {
			if i == 2 {
				return fatalErr("bad record")
			}
			return nil
		}
	}

	exec := New(openLimiter(), Options{Concurrency: 1, MaxRetries: 0})
	outcomes, err := exec.Run(context.Background(), ops)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(outcomes) != 5 {
		t.Fatalf("Expected 5 outcomes, got %d", len(outcomes))
	}
	successes := 0
	for _, o := range outcomes {
		if o.Success {
			successes++
		}
	}
	if successes != 4 {
		t.Errorf("Expected 4 successes, got %d", successes)
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	var calls atomic.Int64
	op := func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return retryableErr("throttled")
		}
		return nil
	}

	exec := New(openLimiter(), Options{Concurrency: 1, MaxRetries: 3})
	outcomes, err := exec.Run(context.Background(), []Operation{op})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !outcomes[0].Success {
		t.Fatalf("Expected eventual success, got error %v", outcomes[0].Err)
	}
	if outcomes[0].Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", outcomes[0].Attempts)
	}
	if outcomes[0].Err != nil {
		t.Errorf("Successful outcome should not carry an error, got %v", outcomes[0].Err)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int64
	op := func(ctx context.Context) error {
		calls.Add(1)
		return retryableErr("still throttled")
	}

	exec := New(openLimiter(), Options{Concurrency: 1, MaxRetries: 2})
	outcomes, err := exec.Run(context.Background(), []Operation{op})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if outcomes[0].Success {
		t.Error("Expected failure after exhausting retries")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("Expected maxRetries+1 = 3 tries, got %d", got)
	}
	if outcomes[0].Attempts != 3 {
		t.Errorf("Expected outcome to record 3 attempts, got %d", outcomes[0].Attempts)
	}
	if outcomes[0].Category != domain.ErrorCategoryRateLimit {
		t.Errorf("Expected rate_limit category, got %s", outcomes[0].Category)
	}
}

func TestFatalShortCircuitsRetryBudget(t *testing.T) {
	var calls atomic.Int64
	op := func(ctx context.Context) error {
		calls.Add(1)
		return fatalErr("revoked key")
	}

	exec := New(openLimiter(), Options{Concurrency: 1, MaxRetries: 5})
	outcomes, err := exec.Run(context.Background(), []Operation{op})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("Fatal failure should stop after 1 try, got %d", got)
	}
	if outcomes[0].Attempts != 1 {
		t.Errorf("Expected 1 recorded attempt, got %d", outcomes[0].Attempts)
	}
}

func TestEveryAttemptAcquiresToken(t *testing.T) {
	admitter := &countingAdmitter{}
	var calls atomic.Int64
	op := func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return retryableErr("throttled")
		}
		return nil
	}

	exec := New(admitter, Options{Concurrency: 1, MaxRetries: 5})
	if _, err := exec.Run(context.Background(), []Operation{op}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := admitter.n.Load(); got != 3 {
		t.Errorf("Expected one token per attempt (3), got %d", got)
	}
}

func TestConcurrentPreservesInputOrder(t *testing.T) {
	ops := make([]Operation, 10)
	for i := range ops {
		i := i
		ops[i] = func(ctx context.Context) error {
			// Later operations finish first to scramble completion order.
			time.Sleep(time.Duration(10-i) * 2 * time.Millisecond)
			return nil
		}
	}

	exec := New(openLimiter(), Options{Concurrency: 4})
	outcomes, err := exec.Run(context.Background(), ops)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(outcomes) != 10 {
		t.Fatalf("Expected 10 outcomes, got %d", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Index != i {
			t.Fatalf("Outcome %d has index %d, want input order preserved", i, o.Index)
		}
		if !o.Success {
			t.Errorf("Operation %d failed unexpectedly: %v", i, o.Err)
		}
	}
}

func TestConcurrentBoundsInFlight(t *testing.T) {
	var inFlight, peak atomic.Int64
	ops := make([]Operation, 12)
	for i := range ops {
		ops[i] = func(ctx context.Context) error {
			now := inFlight.Add(1)
			for {
				p := peak.Load()
				if now <= p || peak.CompareAndSwap(p, now) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		}
	}

	exec := New(openLimiter(), Options{Concurrency: 3})
	if _, err := exec.Run(context.Background(), ops); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := peak.Load(); got > 3 {
		t.Errorf("Expected at most 3 in flight, observed %d", got)
	}
}

func TestConcurrentFailFastStopsScheduling(t *testing.T) {
	var executed atomic.Int64
	ops := make([]Operation, 20)
	for i := range ops {
		i := i
		ops[i] = func(ctx context.Context) error {
			executed.Add(1)
			if i == 0 {
				return fatalErr("dead on arrival")
			}
			time.Sleep(10 * time.Millisecond)
			return nil
		}
	}

	exec := New(openLimiter(), Options{Concurrency: 2, FailFast: true, MaxRetries: 0})
	outcomes, err := exec.Run(context.Background(), ops)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	ran := executed.Load()
	if ran >= 20 {
		t.Errorf("Expected fail-fast to skip some operations, all %d ran", ran)
	}
	if int64(len(outcomes)) != ran {
		t.Errorf("Expected one outcome per executed operation, got %d outcomes for %d executed", len(outcomes), ran)
	}
	for i := 1; i < len(outcomes); i++ {
		if outcomes[i].Index <= outcomes[i-1].Index {
			t.Fatal("Outcomes must stay in input order")
		}
	}
}

func TestRunRespectsContextCancel(t *testing.T) {
	ops := make([]Operation, 10)
	for i := range ops {
		ops[i] = func(ctx context.Context) error {
			select {
			case <-time.After(50 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	exec := New(openLimiter(), Options{Concurrency: 1})
	outcomes, err := exec.Run(ctx, ops)
	if err == nil {
		t.Fatal("Expected context error from cancelled run")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
	if len(outcomes) >= 10 {
		t.Errorf("Expected partial outcomes, got %d", len(outcomes))
	}
}

func TestRunEmptyInput(t *testing.T) {
	exec := New(openLimiter(), Options{Concurrency: 4})
	outcomes, err := exec.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcomes != nil {
		t.Errorf("Expected nil outcomes for empty input, got %v", outcomes)
	}
}
