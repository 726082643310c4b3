package worker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/list-loader/internal/checkpoint"
	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/importer"
	"github.com/ignite/list-loader/internal/pkg/distlock"
	"github.com/ignite/list-loader/internal/pkg/logger"
	"github.com/ignite/list-loader/internal/progress"
	"github.com/ignite/list-loader/internal/ratelimit"
	"github.com/ignite/list-loader/internal/source"
	"github.com/ignite/list-loader/internal/suppression"
)

// SourceFactory opens the record source a job points at.
type SourceFactory func(ctx context.Context, job *Job) (source.Source, error)

// Config tunes the worker loop.
type Config struct {
	// PollInterval is the queue polling cadence.
	PollInterval time.Duration

	// HeartbeatInterval is how often a running job is stamped alive
	// and its session lock extended.
	HeartbeatInterval time.Duration

	// StuckAfter is the heartbeat age past which a running job is
	// considered abandoned.
	StuckAfter time.Duration

	// MaxJobRetries caps how often an abandoned job is requeued before
	// it fails for good.
	MaxJobRetries int

	// LockTTL is the session lock lifetime; it must exceed
	// HeartbeatInterval so live runs keep their claim.
	LockTTL time.Duration

	// Pipeline carries the per-run options handed to each session.
	Pipeline importer.Options
}

// Deps are the worker's collaborators. Jobs, Submitter, Limiter and
// Sources are required. Redis enables live session state and
// cross-host locking; DB is the advisory-lock fallback.
type Deps struct {
	Jobs        *JobStore
	Checkpoints *checkpoint.Store
	Submitter   importer.Submitter
	Limiter     ratelimit.Admitter
	Suppression suppression.Checker
	Sources     SourceFactory
	Redis       *redis.Client
	DB          *sql.DB

	// AfterRun fires once per finished run, whatever its outcome.
	AfterRun func(job *Job, summary *importer.Summary)
}

// Worker polls the job queue and drives one import session at a time.
type Worker struct {
	cfg  Config
	deps Deps
	log  *logger.Logger
}

func New(cfg Config, deps Deps) (*Worker, error) {
	if deps.Jobs == nil {
		return nil, fmt.Errorf("worker: job store is required")
	}
	if deps.Submitter == nil {
		return nil, fmt.Errorf("worker: submitter is required")
	}
	if deps.Limiter == nil {
		return nil, fmt.Errorf("worker: rate limiter is required")
	}
	if deps.Sources == nil {
		return nil, fmt.Errorf("worker: source factory is required")
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 10 * time.Minute
	}
	if cfg.MaxJobRetries < 1 {
		cfg.MaxJobRetries = 3
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}

	return &Worker{cfg: cfg, deps: deps, log: logger.With("worker")}, nil
}

// Start runs the polling loop until the context ends.
func (w *Worker) Start(ctx context.Context) error {
	w.log.Info("worker started",
		"poll_interval", w.cfg.PollInterval.String(),
		"stuck_after", w.cfg.StuckAfter.String())

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.sweep(ctx)
		w.drain(ctx)

		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweep recovers jobs abandoned by dead workers.
func (w *Worker) sweep(ctx context.Context) {
	requeued, failed, err := w.deps.Jobs.RequeueStuck(ctx, w.cfg.StuckAfter, w.cfg.MaxJobRetries)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("stuck job sweep failed", "error", err.Error())
		}
		return
	}
	if requeued > 0 || failed > 0 {
		w.log.Info("stuck jobs swept", "requeued", requeued, "failed", failed)
	}
}

func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		ran, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error("job poll failed", "error", err.Error())
			}
			return
		}
		if !ran {
			return
		}
	}
}

// RunOnce claims and runs at most one pending job. The bool reports
// whether the queue had work, claimed or not.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.deps.Jobs.NextPending(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	claimed, err := w.deps.Jobs.Claim(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		// Another worker won the race; the queue may hold more work.
		return true, nil
	}

	w.runJob(ctx, job)
	return true, nil
}

func (w *Worker) runJob(ctx context.Context, job *Job) {
	w.log.Info("job claimed",
		"job_id", job.ID, "session_id", job.SessionID,
		"source_type", job.SourceType, "attempt", job.RetryCount)

	lock, ok := w.acquireSessionLock(ctx, job)
	if !ok {
		return
	}
	if lock != nil {
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				w.log.Warn("session lock release failed", "session_id", job.SessionID, "error", err.Error())
			}
		}()
	}

	src, err := w.deps.Sources(ctx, job)
	if err != nil {
		w.concludeJob(job, nil, err)
		return
	}
	defer src.Close()

	sess, err := w.buildSession(job, src)
	if err != nil {
		w.concludeJob(job, nil, err)
		return
	}

	sess.Tracker().Register("log", progress.NewLogObserver())
	if w.deps.Redis != nil {
		sess.Tracker().Register("session-state", NewSessionPublisher(w.deps.Redis))
	}

	stopBeat := w.startHeartbeat(ctx, job, lock)
	defer stopBeat()

	summary, runErr := sess.Run(ctx)
	w.concludeJob(job, summary, runErr)

	if w.deps.AfterRun != nil && summary != nil {
		w.deps.AfterRun(job, summary)
	}
}

// acquireSessionLock guards the session against concurrent runs from
// other workers. Without Redis or a DB there is nothing to lock with
// and single-process operation is assumed.
func (w *Worker) acquireSessionLock(ctx context.Context, job *Job) (distlock.DistLock, bool) {
	if w.deps.Redis == nil && w.deps.DB == nil {
		return nil, true
	}

	lock := distlock.NewSessionLock(w.deps.Redis, w.deps.DB, job.SessionID, w.cfg.LockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		w.log.Warn("session lock error, job released", "session_id", job.SessionID, "error", err.Error())
		w.release(job)
		return nil, false
	}
	if !acquired {
		w.log.Warn("session locked elsewhere, job released", "session_id", job.SessionID)
		w.release(job)
		return nil, false
	}
	return lock, true
}

// buildSession resumes from the latest checkpoint when one is live,
// and otherwise starts fresh. A resume-only job with nothing to resume
// is an error rather than a silent re-import.
func (w *Worker) buildSession(job *Job, src source.Source) (*importer.Session, error) {
	opts := w.cfg.Pipeline
	opts.SessionID = job.SessionID

	deps := importer.Deps{
		Source:      src,
		Submitter:   w.deps.Submitter,
		Limiter:     w.deps.Limiter,
		Checkpoints: w.deps.Checkpoints,
		Suppression: w.deps.Suppression,
	}

	if w.deps.Checkpoints != nil {
		cp, err := w.deps.Checkpoints.LoadLatest(job.SessionID)
		if err != nil {
			return nil, err
		}
		if cp != nil && cp.Resumable() {
			return importer.NewResumedSession(deps, opts, cp)
		}
	}
	if job.Resume {
		return nil, fmt.Errorf("worker: no resumable checkpoint for session %s", job.SessionID)
	}
	return importer.NewSession(deps, opts)
}

// concludeJob maps the run outcome onto the job record. Interrupted
// runs go back to pending so the next worker resumes them.
func (w *Worker) concludeJob(job *Job, summary *importer.Summary, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case summary == nil:
		w.log.Error("job failed before running", "job_id", job.ID, "error", runErr.Error())
		if err := w.deps.Jobs.MarkFailed(ctx, job.ID, runErr.Error()); err != nil {
			w.log.Warn("job status update failed", "job_id", job.ID, "error", err.Error())
		}

	case summary.Status == domain.SessionCompleted:
		w.log.Info("job completed",
			"job_id", job.ID, "session_id", job.SessionID,
			"processed", summary.Processed, "failed", summary.Failed,
			"duration", summary.Duration.String())
		if err := w.deps.Jobs.MarkCompleted(ctx, job.ID); err != nil {
			w.log.Warn("job status update failed", "job_id", job.ID, "error", err.Error())
		}

	case summary.Status == domain.SessionShutdown:
		w.log.Info("job interrupted, returned to queue",
			"job_id", job.ID, "session_id", job.SessionID, "processed", summary.Processed)
		if err := w.deps.Jobs.Release(ctx, job.ID); err != nil {
			w.log.Warn("job release failed", "job_id", job.ID, "error", err.Error())
		}

	default:
		msg := "import failed"
		if runErr != nil {
			msg = runErr.Error()
		}
		w.log.Error("job failed", "job_id", job.ID, "session_id", job.SessionID, "error", msg)
		if err := w.deps.Jobs.MarkFailed(ctx, job.ID, msg); err != nil {
			w.log.Warn("job status update failed", "job_id", job.ID, "error", err.Error())
		}
	}
}

func (w *Worker) release(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.deps.Jobs.Release(ctx, job.ID); err != nil {
		w.log.Warn("job release failed", "job_id", job.ID, "error", err.Error())
	}
}

// startHeartbeat stamps the job and extends the session lock until the
// returned stop function runs.
func (w *Worker) startHeartbeat(ctx context.Context, job *Job, lock distlock.DistLock) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.deps.Jobs.Heartbeat(ctx, job.ID); err != nil && ctx.Err() == nil {
					w.log.Warn("heartbeat failed", "job_id", job.ID, "error", err.Error())
				}
				if rl, isRedis := lock.(*distlock.RedisLock); isRedis {
					if err := rl.Extend(ctx, w.cfg.LockTTL); err != nil && ctx.Err() == nil {
						w.log.Warn("lock extend failed", "session_id", job.SessionID, "error", err.Error())
					}
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// NewSourceFactory builds the standard factory covering every source
// type. Nil clients disable their type; jobs pointing at a disabled
// type fail with a configuration error.
func NewSourceFactory(pg *sql.DB, snowflake *sql.DB, s3Client *s3.Client) SourceFactory {
	return func(ctx context.Context, job *Job) (source.Source, error) {
		spec, err := job.Spec()
		if err != nil {
			return nil, err
		}

		switch job.SourceType {
		case "csv":
			if spec.Path == "" {
				return nil, fmt.Errorf("worker: csv job %s has no path", job.ID)
			}
			return source.OpenCSVFile(spec.Path)

		case "s3":
			if s3Client == nil {
				return nil, fmt.Errorf("worker: s3 source not configured")
			}
			if spec.Bucket == "" || spec.Key == "" {
				return nil, fmt.Errorf("worker: s3 job %s needs bucket and key", job.ID)
			}
			return source.NewS3Source(ctx, s3Client, spec.Bucket, spec.Key)

		case "postgres":
			if pg == nil {
				return nil, fmt.Errorf("worker: postgres source not configured")
			}
			if spec.Table == "" {
				return nil, fmt.Errorf("worker: postgres job %s has no table", job.ID)
			}
			return source.NewPostgresSource(ctx, pg, spec.Table)

		case "snowflake":
			if snowflake == nil {
				return nil, fmt.Errorf("worker: snowflake source not configured")
			}
			if spec.Query == "" {
				return nil, fmt.Errorf("worker: snowflake job %s has no query", job.ID)
			}
			label := spec.Label
			if label == "" {
				label = job.SessionID
			}
			return source.NewSnowflakeSource(ctx, snowflake, spec.Query, label)

		default:
			return nil, fmt.Errorf("worker: unknown source type %q", job.SourceType)
		}
	}
}
