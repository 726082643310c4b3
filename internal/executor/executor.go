// Package executor runs batches of submission operations under a
// shared rate limiter with bounded concurrency and per-operation
// retries.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/pkg/logger"
	"github.com/ignite/list-loader/internal/ratelimit"
	"github.com/ignite/list-loader/internal/retry"
)

// Operation is one unit of submission work, typically a closure over a
// single record and the API client.
type Operation func(ctx context.Context) error

// Outcome is the final result of one operation after its retry loop.
// Index refers to the operation's position in the input collection.
type Outcome struct {
	Index    int
	Success  bool
	Err      error
	Category domain.ErrorCategory
	Attempts int
	Duration time.Duration
}

// Options tune one executor instance.
type Options struct {
	// Concurrency is the number of operations allowed in flight at
	// once. Values below 1 run sequentially.
	Concurrency int

	// FailFast stops scheduling new operations once one has finally
	// failed. Already-admitted operations run to completion; skipped
	// operations get no outcome slot.
	FailFast bool

	// MaxRetries is the number of re-attempts after the first try, so
	// every operation gets at most MaxRetries+1 tries.
	MaxRetries int

	// BaseDelay seeds the exponential backoff used when a retryable
	// failure carries no classified delay.
	BaseDelay time.Duration
}

// Executor schedules operations against the shared rate limiter. All
// attempts from all workers consume tokens from the same bucket, so
// concurrency overlaps the waiting without raising total throughput.
type Executor struct {
	limiter ratelimit.Admitter
	opts    Options
	log     *logger.Logger
}

// New creates an executor. The limiter is shared with any other
// executor or component that submits to the same remote account.
func New(limiter ratelimit.Admitter, opts Options) *Executor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	return &Executor{
		limiter: limiter,
		opts:    opts,
		log:     logger.With("executor"),
	}
}

// Run executes the operations and returns one outcome per executed
// operation, in input order. Operations skipped by fail-fast or by
// cancellation are absent from the result rather than reported as
// synthesized failures. The returned error is non-nil only when the
// batch as a whole was cut short by the context.
func (e *Executor) Run(ctx context.Context, ops []Operation) ([]Outcome, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	if e.opts.Concurrency == 1 {
		return e.runSequential(ctx, ops)
	}
	return e.runConcurrent(ctx, ops)
}

func (e *Executor) runSequential(ctx context.Context, ops []Operation) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(ops))
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcome := e.runOne(ctx, i, op)
		outcomes = append(outcomes, outcome)

		if e.opts.FailFast && !outcome.Success {
			e.log.Warn("stopping batch after failure",
				"index", i, "attempts", outcome.Attempts, "category", string(outcome.Category))
			break
		}
	}
	return outcomes, nil
}

func (e *Executor) runConcurrent(ctx context.Context, ops []Operation) ([]Outcome, error) {
	sem := make(chan struct{}, e.opts.Concurrency)
	results := make([]*Outcome, len(ops))

	var wg sync.WaitGroup
	var failed atomic.Bool
	var ctxErr error

schedule:
	for i, op := range ops {
		if e.opts.FailFast && failed.Load() {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break schedule
		}

		wg.Add(1)
		go func(index int, op Operation) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := e.runOne(ctx, index, op)
			results[index] = &outcome
			if !outcome.Success {
				failed.Store(true)
			}
		}(i, op)
	}

	wg.Wait()

	outcomes := make([]Outcome, 0, len(ops))
	for _, r := range results {
		if r != nil {
			outcomes = append(outcomes, *r)
		}
	}
	return outcomes, ctxErr
}

// runOne drives a single operation through its retry loop. Every
// attempt, including retries, acquires a token first.
func (e *Executor) runOne(ctx context.Context, index int, op Operation) Outcome {
	start := time.Now()
	outcome := Outcome{Index: index}
	maxAttempts := e.opts.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome.Attempts = attempt

		if err := e.limiter.Acquire(ctx); err != nil {
			outcome.Err = err
			outcome.Category = domain.ErrorCategoryUnknown
			break
		}

		err := op(ctx)
		if err == nil {
			outcome.Success = true
			outcome.Err = nil
			break
		}

		cls := retry.Classify(err)
		outcome.Err = err
		outcome.Category = cls.Category

		if !cls.Retryable {
			e.log.Debug("fatal failure, not retrying",
				"index", index, "attempt", attempt, "category", string(cls.Category))
			break
		}
		if attempt == maxAttempts {
			e.log.Debug("retry budget exhausted",
				"index", index, "attempts", attempt, "category", string(cls.Category))
			break
		}

		delay := cls.Delay
		if delay <= 0 {
			delay = retry.Backoff(e.opts.BaseDelay, attempt)
		}
		e.log.Debug("retrying after failure",
			"index", index, "attempt", attempt, "delay", delay.String(), "category", string(cls.Category))

		if err := sleepCtx(ctx, delay); err != nil {
			break
		}
	}

	outcome.Duration = time.Since(start)
	return outcome
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
