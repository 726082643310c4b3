// Package importer orchestrates one import session: load records from
// a source, validate and deduplicate them, then submit fixed-size
// batches through the executor while feeding the progress tracker and
// checkpoint store.
package importer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/list-loader/internal/checkpoint"
	"github.com/ignite/list-loader/internal/dedup"
	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/executor"
	"github.com/ignite/list-loader/internal/pkg/logger"
	"github.com/ignite/list-loader/internal/progress"
	"github.com/ignite/list-loader/internal/ratelimit"
	"github.com/ignite/list-loader/internal/source"
	"github.com/ignite/list-loader/internal/suppression"
)

// DuplicatePolicy decides what happens to detected duplicates.
type DuplicatePolicy string

const (
	// PolicySkip withholds duplicates from submission. The default.
	PolicySkip DuplicatePolicy = "skip"

	// PolicySubmitAnyway appends duplicates after the unique records,
	// keeping both subsets order-stable.
	PolicySubmitAnyway DuplicatePolicy = "submit-anyway"
)

// Options carry the pre-validated pipeline parameters for one session.
type Options struct {
	SessionID        string
	BatchSize        int
	Concurrency      int
	MaxRetries       int
	RetryBaseDelay   time.Duration
	FailFast         bool
	DedupStrategy    dedup.Strategy
	DuplicatePolicy  DuplicatePolicy
	AutoSaveInterval time.Duration
}

// Deps are the collaborators a session runs against. Source, Submitter
// and Limiter are required; Checkpoints and Suppression are optional.
type Deps struct {
	Source      source.Source
	Submitter   Submitter
	Limiter     ratelimit.Admitter
	Tracker     *progress.Tracker
	Checkpoints *checkpoint.Store
	Suppression suppression.Checker
}

// Summary is the final accounting of a run.
type Summary struct {
	SessionID  string
	Status     domain.SessionStatus
	Total      int
	Processed  int
	Succeeded  int
	Failed     int
	Duplicates int
	Suppressed int
	Invalid    int
	Malformed  int
	Batches    int
	Duration   time.Duration
}

// Session drives one import end to end. Create a fresh one per run;
// a Session is not reusable after Run returns.
type Session struct {
	id     string
	opts   Options
	src    source.Source
	submit Submitter
	exec   *executor.Executor

	engine  *dedup.Engine
	tracker *progress.Tracker
	store   *checkpoint.Store
	checker suppression.Checker

	log *logger.Logger

	mu         sync.Mutex
	lastBatch  int
	lastRecord int

	resumeFrom *checkpoint.Checkpoint

	suppressed int
	invalid    int
	duplicates int
}

// NewSession builds a fresh session.
func NewSession(deps Deps, opts Options) (*Session, error) {
	return newSession(deps, opts, nil)
}

// NewResumedSession builds a session that continues from a checkpoint.
// The source must be the same input the checkpoint was taken against.
func NewResumedSession(deps Deps, opts Options, cp *checkpoint.Checkpoint) (*Session, error) {
	if cp == nil {
		return nil, fmt.Errorf("importer: nil checkpoint")
	}
	if !cp.Resumable() {
		return nil, fmt.Errorf("importer: checkpoint %s is not resumable", cp.ID)
	}
	if cp.SessionData.SourceIdentity != deps.Source.Identity() {
		return nil, fmt.Errorf("importer: checkpoint source %q does not match %q",
			cp.SessionData.SourceIdentity, deps.Source.Identity())
	}
	opts.SessionID = cp.SessionID
	return newSession(deps, opts, cp)
}

func newSession(deps Deps, opts Options, cp *checkpoint.Checkpoint) (*Session, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("importer: source is required")
	}
	if deps.Submitter == nil {
		return nil, fmt.Errorf("importer: submitter is required")
	}
	if deps.Limiter == nil {
		return nil, fmt.Errorf("importer: rate limiter is required")
	}

	if opts.SessionID == "" {
		opts.SessionID = "sess-" + uuid.NewString()
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = PolicySkip
	}

	tracker := deps.Tracker
	if tracker == nil {
		tracker = progress.NewTracker(progress.Options{})
	}

	s := &Session{
		id:      opts.SessionID,
		opts:    opts,
		src:     deps.Source,
		submit:  deps.Submitter,
		engine:  dedup.NewEngine(opts.DedupStrategy),
		tracker: tracker,
		store:   deps.Checkpoints,
		checker: deps.Suppression,
		log:     logger.With("importer"),
		exec: executor.New(deps.Limiter, executor.Options{
			Concurrency: opts.Concurrency,
			FailFast:    opts.FailFast,
			MaxRetries:  opts.MaxRetries,
			BaseDelay:   opts.RetryBaseDelay,
		}),
		resumeFrom: cp,
	}
	if cp != nil {
		s.lastBatch = cp.SessionData.LastProcessedBatch
		s.lastRecord = cp.SessionData.LastProcessedRecord
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Tracker exposes the progress tracker so callers can register
// observers or pause the session.
func (s *Session) Tracker() *progress.Tracker { return s.tracker }

func (s *Session) sessionData() checkpoint.SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return checkpoint.SessionData{
		SourceIdentity:      s.src.Identity(),
		LastProcessedBatch:  s.lastBatch,
		LastProcessedRecord: s.lastRecord,
	}
}

func (s *Session) advanceCursor(batch, record int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if batch > s.lastBatch {
		s.lastBatch = batch
	}
	if record > s.lastRecord {
		s.lastRecord = record
	}
}

// ========== Run ==========

// Run executes the session to conclusion. The returned error is
// non-nil only for pipeline breakage or cancellation; record-level
// failures are accounted in the summary instead.
func (s *Session) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	if s.store != nil && s.opts.AutoSaveInterval > 0 {
		saver := checkpoint.NewAutoSaver(s.store, func() (progress.State, checkpoint.SessionData) {
			return s.tracker.Snapshot(), s.sessionData()
		}, s.opts.AutoSaveInterval)
		defer saver.Stop()
	}

	if err := s.begin(); err != nil {
		return nil, err
	}

	records, err := s.load(ctx)
	if err != nil {
		return s.finish(ctx, start, err), err
	}

	toSubmit := s.prepare(ctx, records)

	aborted, err := s.submitBatches(ctx, toSubmit)
	if err != nil {
		return s.finish(ctx, start, err), err
	}

	if !aborted {
		s.tracker.PhaseChange(domain.PhaseComplete)
	}
	return s.conclude(start, !aborted), nil
}

// finish routes an abnormal end: cancellation and external shutdown
// leave a resumable checkpoint behind, pipeline breakage concludes the
// session as failed.
func (s *Session) finish(ctx context.Context, start time.Time, cause error) *Summary {
	if ctx.Err() != nil || s.tracker.Status() == domain.SessionShutdown {
		return s.interrupt(start, cause)
	}
	return s.conclude(start, false)
}

func (s *Session) begin() error {
	if s.resumeFrom != nil {
		if err := s.tracker.ResumeSession(s.resumeFrom.RestoreState()); err != nil {
			return err
		}
		s.log.Info("session resumed",
			"session_id", s.id,
			"from_checkpoint", s.resumeFrom.ID,
			"last_record", s.resumeFrom.SessionData.LastProcessedRecord)
		return nil
	}

	total := 0
	if known, ok := s.src.Total(); ok {
		total = known
	}
	if err := s.tracker.StartSession(s.id, total); err != nil {
		return err
	}
	s.log.Info("session started", "session_id", s.id, "source", s.src.Identity())
	return nil
}

// load drains the source into memory. A non-EOF source error is
// pipeline breakage and fails the session.
func (s *Session) load(ctx context.Context) ([]domain.ImportRecord, error) {
	s.tracker.PhaseChange(domain.PhaseLoading)

	if s.resumeFrom != nil {
		skip := s.resumeFrom.SessionData.LastProcessedRecord
		if skip > 0 {
			if err := s.src.Skip(skip); err != nil {
				s.tracker.ErrorOccurred("loading", err)
				return nil, fmt.Errorf("importer: skip to resume point: %w", err)
			}
		}
	}

	var records []domain.ImportRecord
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.tracker.ErrorOccurred("loading", err)
			return nil, fmt.Errorf("importer: read source: %w", err)
		}
		records = append(records, *rec)
	}

	prior := s.tracker.Snapshot().ProcessedRecords
	s.tracker.SetTotalRecords(prior + len(records))
	s.log.Info("records loaded",
		"session_id", s.id, "count", len(records), "malformed", s.src.Malformed())
	return records, nil
}

// prepare runs the validating and deduplicating phases and returns the
// submission list in stable order.
func (s *Session) prepare(ctx context.Context, records []domain.ImportRecord) []domain.ImportRecord {
	s.tracker.PhaseChange(domain.PhaseValidating)
	valid := s.validate(ctx, records)

	s.tracker.PhaseChange(domain.PhaseDeduplicating)
	s.engine.Reset()
	partition := s.engine.ProcessBatch(valid)

	for range partition.Duplicates {
		s.tracker.DuplicateFound()
	}
	s.duplicates = len(partition.Duplicates)

	toSubmit := partition.Unique
	if s.opts.DuplicatePolicy == PolicySubmitAnyway {
		for _, dup := range partition.Duplicates {
			toSubmit = append(toSubmit, dup.Record)
		}
	}

	s.log.Info("records prepared",
		"session_id", s.id,
		"unique", len(partition.Unique),
		"duplicates", len(partition.Duplicates),
		"suppressed", s.suppressed,
		"invalid", s.invalid,
		"policy", string(s.opts.DuplicatePolicy))
	return toSubmit
}

func (s *Session) validate(ctx context.Context, records []domain.ImportRecord) []domain.ImportRecord {
	valid := make([]domain.ImportRecord, 0, len(records))
	for _, rec := range records {
		if !rec.HasValidEmail() {
			s.invalid++
			s.tracker.WarningOccurred(fmt.Sprintf("invalid email at line %d", rec.LineNumber))
			continue
		}
		valid = append(valid, rec)
	}

	if s.checker == nil || len(valid) == 0 {
		return valid
	}

	emails := make([]string, len(valid))
	for i, rec := range valid {
		emails[i] = rec.Email
	}
	verdicts, err := s.checker.CheckBatch(ctx, emails)
	if err != nil {
		// Suppression is advisory at import time; a broken backend
		// must not sink the session.
		s.log.Warn("suppression check failed, continuing unchecked",
			"session_id", s.id, "error", err.Error())
		return valid
	}

	kept := valid[:0]
	for _, rec := range valid {
		if verdicts[rec.Email] {
			s.suppressed++
			s.tracker.WarningOccurred(fmt.Sprintf("suppressed address at line %d", rec.LineNumber))
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

// submitBatches walks the batches in strict order: batch N+1 is not
// scheduled until batch N's executor call has returned. The bool
// reports a fail-fast abort.
func (s *Session) submitBatches(ctx context.Context, records []domain.ImportRecord) (bool, error) {
	s.tracker.PhaseChange(domain.PhaseSubmitting)

	batches := chunk(records, s.opts.BatchSize)
	firstBatch := s.startingBatch()
	s.tracker.SetTotalBatches(firstBatch - 1 + len(batches))

	for i, batch := range batches {
		if err := s.waitIfPaused(ctx); err != nil {
			return false, err
		}

		batchNum := firstBatch + i
		s.tracker.BatchStart(batchNum, len(batch))

		ops := make([]executor.Operation, len(batch))
		for j := range batch {
			rec := batch[j]
			ops[j] = func(ctx context.Context) error {
				return s.submit.Submit(ctx, rec)
			}
		}

		outcomes, err := s.exec.Run(ctx, ops)
		if err != nil {
			// A context-cut batch is void: none of its outcomes are
			// committed, and resume redoes it from the previous cursor.
			return false, err
		}

		successes, failures := 0, 0
		for _, outcome := range outcomes {
			s.tracker.RecordProcessed(outcome.Success)
			if outcome.Success {
				successes++
				continue
			}
			failures++
			rec := batch[outcome.Index]
			s.tracker.ErrorOccurred(
				fmt.Sprintf("submit record at line %d (attempts %d, %s)",
					rec.LineNumber, outcome.Attempts, outcome.Category),
				outcome.Err)
		}
		s.tracker.BatchComplete(batchNum, successes, failures)

		truncated := len(outcomes) < len(batch)
		if !truncated {
			s.advanceCursor(batchNum, batch[len(batch)-1].LineNumber)
		}
		if err := s.saveCheckpoint(); err != nil {
			s.tracker.ErrorOccurred("checkpoint", err)
			return false, err
		}

		if s.opts.FailFast && failures > 0 {
			s.log.Warn("fail-fast: abandoning remaining batches",
				"session_id", s.id, "batch", batchNum, "failures", failures)
			return true, nil
		}
	}
	return false, nil
}

func (s *Session) startingBatch() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBatch + 1
}

// waitIfPaused blocks between batches while an operator has the
// session paused.
func (s *Session) waitIfPaused(ctx context.Context) error {
	for {
		switch status := s.tracker.Status(); status {
		case domain.SessionActive:
			return nil
		case domain.SessionPaused:
		default:
			return fmt.Errorf("importer: session %s is %s", s.id, status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (s *Session) saveCheckpoint() error {
	if s.store == nil {
		return nil
	}
	_, err := s.store.Save(s.tracker.Snapshot(), s.sessionData(), nil)
	return err
}

// conclude freezes the tracker, writes the final checkpoint, and
// builds the summary.
func (s *Session) conclude(start time.Time, success bool) *Summary {
	if err := s.tracker.SessionComplete(success); err != nil {
		s.log.Warn("session completion not recorded", "session_id", s.id, "error", err.Error())
	}

	state := s.tracker.Snapshot()
	if s.store != nil {
		if err := s.store.MarkConcluded(state, s.sessionData()); err != nil {
			s.log.Warn("final checkpoint failed", "session_id", s.id, "error", err.Error())
		}
	}

	summary := s.summarize(state, start)
	s.log.Info("session concluded",
		"session_id", s.id,
		"status", string(summary.Status),
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.Duration.String())
	return summary
}

// interrupt records a cancelled run: the state is checkpointed as-is
// so the session shows up as resumable, then the tracker shuts down.
func (s *Session) interrupt(start time.Time, cause error) *Summary {
	s.log.Warn("session interrupted", "session_id", s.id, "error", cause.Error())

	if s.store != nil {
		if _, err := s.store.Save(s.tracker.Snapshot(), s.sessionData(), nil); err != nil {
			s.log.Warn("interrupt checkpoint failed", "session_id", s.id, "error", err.Error())
		}
	}
	s.tracker.Shutdown()
	return s.summarize(s.tracker.Snapshot(), start)
}

func (s *Session) summarize(state progress.State, start time.Time) *Summary {
	return &Summary{
		SessionID:  s.id,
		Status:     state.Status,
		Total:      state.TotalRecords,
		Processed:  state.ProcessedRecords,
		Succeeded:  state.SuccessfulRecords,
		Failed:     state.FailedRecords,
		Duplicates: s.duplicates,
		Suppressed: s.suppressed,
		Invalid:    s.invalid,
		Malformed:  s.src.Malformed(),
		Batches:    state.CurrentBatch,
		Duration:   time.Since(start),
	}
}

func chunk(records []domain.ImportRecord, size int) [][]domain.ImportRecord {
	if len(records) == 0 {
		return nil
	}
	batches := make([][]domain.ImportRecord, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
