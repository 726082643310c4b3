// Package worker runs queued import jobs. Jobs live in a Postgres
// table claimed with a conditional UPDATE, so any number of worker
// processes can poll the same queue without double-running a job.
package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/list-loader/internal/pkg/logger"
)

// Job statuses. pending -> running -> completed | failed, with
// cancelled reachable from pending and running jobs returning to
// pending when a worker stops or crashes mid-run.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// SourceSpec tells the worker where a job's records come from. Exactly
// the fields for the job's source type are set.
type SourceSpec struct {
	Path   string `json:"path,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
	Table  string `json:"table,omitempty"`
	Query  string `json:"query,omitempty"`
	Label  string `json:"label,omitempty"`
}

// Job is one queued import run.
type Job struct {
	ID         string
	SessionID  string
	SourceType string
	SourceSpec string
	Resume     bool
	Status     string
	RetryCount int
	Error      string

	EnqueuedAt  time.Time
	StartedAt   *time.Time
	HeartbeatAt *time.Time
	FinishedAt  *time.Time
}

// Spec decodes the job's source specification.
func (j *Job) Spec() (SourceSpec, error) {
	var spec SourceSpec
	if err := json.Unmarshal([]byte(j.SourceSpec), &spec); err != nil {
		return spec, fmt.Errorf("worker: job %s has malformed source spec: %w", j.ID, err)
	}
	return spec, nil
}

// JobStore persists the job queue in Postgres.
type JobStore struct {
	db  *sql.DB
	log *logger.Logger
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db, log: logger.With("jobs")}
}

// EnsureSchema applies the idempotent queue schema.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS import_jobs (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_spec TEXT NOT NULL,
			resume BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			enqueued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			heartbeat_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_import_jobs_status ON import_jobs(status, enqueued_at)`,
		`CREATE INDEX IF NOT EXISTS idx_import_jobs_session ON import_jobs(session_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("worker: ensure schema: %w", err)
		}
	}
	return nil
}

// ========== Queue Methods ==========

// Enqueue inserts a pending job. Missing IDs are generated; the
// session ID defaults to a fresh one so every enqueue is a new session
// unless the caller is queueing a resume.
func (s *JobStore) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.SessionID == "" {
		job.SessionID = "sess-" + uuid.NewString()
	}
	if job.SourceSpec == "" {
		job.SourceSpec = "{}"
	}
	job.Status = JobPending

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_jobs (id, session_id, source_type, source_spec, resume, status)
		 VALUES ($1, $2, $3, $4, $5, 'pending')`,
		job.ID, job.SessionID, job.SourceType, job.SourceSpec, job.Resume)
	if err != nil {
		return fmt.Errorf("worker: enqueue job: %w", err)
	}
	s.log.Info("job enqueued",
		"job_id", job.ID, "session_id", job.SessionID, "source_type", job.SourceType)
	return nil
}

// NextPending returns the oldest pending job, or nil when the queue is
// empty. The returned job is not yet claimed.
func (s *JobStore) NextPending(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(ctx, selectJobCols+` WHERE status='pending' ORDER BY enqueued_at LIMIT 1`)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// Claim flips a pending job to running. A false return means another
// worker won the race.
func (s *JobStore) Claim(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs
		 SET status='running', retry_count=retry_count+1, started_at=NOW(), heartbeat_at=NOW()
		 WHERE id=$1 AND status='pending'`, jobID)
	if err != nil {
		return false, fmt.Errorf("worker: claim job: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// Heartbeat stamps a running job as alive.
func (s *JobStore) Heartbeat(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET heartbeat_at=NOW() WHERE id=$1 AND status='running'`, jobID)
	return err
}

// Release returns a claimed job to the queue, typically when the
// worker is shutting down or the session is locked elsewhere.
func (s *JobStore) Release(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET status='pending' WHERE id=$1 AND status='running'`, jobID)
	return err
}

// MarkCompleted finalizes a successful job.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET status='completed', error_message=NULL, finished_at=NOW() WHERE id=$1`, jobID)
	return err
}

// MarkFailed finalizes a failed job with its error.
func (s *JobStore) MarkFailed(ctx context.Context, jobID, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET status='failed', error_message=$2, finished_at=NOW() WHERE id=$1`, jobID, msg)
	return err
}

// CancelPending cancels a job that has not started. Running jobs are
// stopped through the session's tracker, not the queue.
func (s *JobStore) CancelPending(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET status='cancelled', finished_at=NOW() WHERE id=$1 AND status='pending'`, jobID)
	if err != nil {
		return false, fmt.Errorf("worker: cancel job: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// RequeueStuck recovers jobs whose worker died mid-run: running jobs
// without a recent heartbeat go back to pending until the retry cap,
// then fail for good. Returns (requeued, failed).
func (s *JobStore) RequeueStuck(ctx context.Context, staleAfter time.Duration, maxRetries int) (int, int, error) {
	secs := staleAfter.Seconds()

	res, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET status='pending'
		 WHERE status='running' AND heartbeat_at < NOW() - make_interval(secs => $1) AND retry_count < $2`,
		secs, maxRetries)
	if err != nil {
		return 0, 0, fmt.Errorf("worker: requeue stuck: %w", err)
	}
	requeued, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`UPDATE import_jobs SET status='failed', error_message='max retries exceeded', finished_at=NOW()
		 WHERE status='running' AND heartbeat_at < NOW() - make_interval(secs => $1) AND retry_count >= $2`,
		secs, maxRetries)
	if err != nil {
		return int(requeued), 0, fmt.Errorf("worker: fail stuck: %w", err)
	}
	failed, _ := res.RowsAffected()

	return int(requeued), int(failed), nil
}

// ========== Lookup Methods ==========

// Get fetches one job by ID, or nil when unknown.
func (s *JobStore) Get(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, selectJobCols+` WHERE id=$1`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// List returns the most recently enqueued jobs.
func (s *JobStore) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectJobCols+` ORDER BY enqueued_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("worker: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const selectJobCols = `SELECT id, session_id, source_type, source_spec, resume, status,
	retry_count, COALESCE(error_message, ''), enqueued_at, started_at, heartbeat_at, finished_at
	FROM import_jobs`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var started, heartbeat, finished sql.NullTime
	err := row.Scan(
		&job.ID, &job.SessionID, &job.SourceType, &job.SourceSpec, &job.Resume,
		&job.Status, &job.RetryCount, &job.Error,
		&job.EnqueuedAt, &started, &heartbeat, &finished)
	if err != nil {
		return nil, err
	}
	if started.Valid {
		job.StartedAt = &started.Time
	}
	if heartbeat.Valid {
		job.HeartbeatAt = &heartbeat.Time
	}
	if finished.Valid {
		job.FinishedAt = &finished.Time
	}
	return &job, nil
}
