package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/list-loader/internal/checkpoint"
	"github.com/ignite/list-loader/internal/pkg/httputil"
	"github.com/ignite/list-loader/internal/pkg/logger"
	"github.com/ignite/list-loader/internal/worker"
)

// Handlers serves the import control API: enqueueing jobs, watching
// their progress, and managing resumable sessions. The heavy lifting
// happens in the worker process; these endpoints only move metadata.
type Handlers struct {
	jobs        *worker.JobStore
	checkpoints *checkpoint.Store
	redisClient *redis.Client
	health      *HealthChecker
	log         *logger.Logger
}

// NewHandlers creates the handler set. redisClient may be nil; live
// progress snapshots are then unavailable and the job row is all a
// status poll returns.
func NewHandlers(jobs *worker.JobStore, checkpoints *checkpoint.Store, redisClient *redis.Client, health *HealthChecker) *Handlers {
	return &Handlers{
		jobs:        jobs,
		checkpoints: checkpoints,
		redisClient: redisClient,
		health:      health,
		log:         logger.With("api"),
	}
}

// ========== Import Job Endpoints ==========

// EnqueueImportRequest is the request body for starting an import.
type EnqueueImportRequest struct {
	SourceType string            `json:"source_type"`
	Source     worker.SourceSpec `json:"source"`
	SessionID  string            `json:"session_id,omitempty"`
	Resume     bool              `json:"resume,omitempty"`
}

// HandleEnqueueImport queues a new import job for the worker pool.
//
//	POST /api/imports
func (h *Handlers) HandleEnqueueImport(w http.ResponseWriter, r *http.Request) {
	var req EnqueueImportRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	if req.SourceType == "" {
		httputil.BadRequest(w, "source_type is required")
		return
	}
	if err := validateSource(req.SourceType, req.Source); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Resume && req.SessionID == "" {
		httputil.BadRequest(w, "session_id is required when resume is set")
		return
	}

	spec, _ := json.Marshal(req.Source)
	job := &worker.Job{
		SessionID:  req.SessionID,
		SourceType: req.SourceType,
		SourceSpec: string(spec),
		Resume:     req.Resume,
	}
	if err := h.jobs.Enqueue(r.Context(), job); err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.Accepted(w, map[string]interface{}{
		"job_id":     job.ID,
		"session_id": job.SessionID,
		"status":     worker.JobPending,
		"status_url": fmt.Sprintf("/api/imports/%s", job.ID),
	})
}

// HandleListImports returns recently enqueued jobs, newest first.
//
//	GET /api/imports?limit=50
func (h *Handlers) HandleListImports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := h.jobs.List(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	views := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobView(job))
	}
	httputil.OK(w, map[string]interface{}{
		"jobs":  views,
		"count": len(views),
	})
}

// HandleGetImport returns one job plus, when the session is running,
// the live progress snapshot the worker publishes to Redis.
//
//	GET /api/imports/{jobId}
func (h *Handlers) HandleGetImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if job == nil {
		httputil.NotFound(w, "job not found")
		return
	}

	resp := map[string]interface{}{
		"job": jobView(job),
	}
	if h.redisClient != nil {
		state, err := worker.ReadSessionState(r.Context(), h.redisClient, job.SessionID)
		if err != nil {
			h.log.Warn("session state read failed", "session_id", job.SessionID, "error", err.Error())
		} else if state != nil {
			resp["progress"] = state
		}
	}

	httputil.OK(w, resp)
}

// HandleCancelImport cancels a job that has not started yet. Running
// jobs cannot be cancelled here; stopping the worker process checkpoints
// the session so it can resume instead.
//
//	POST /api/imports/{jobId}/cancel
func (h *Handlers) HandleCancelImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	cancelled, err := h.jobs.CancelPending(r.Context(), jobID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if cancelled {
		httputil.OK(w, map[string]interface{}{
			"job_id": jobID,
			"status": worker.JobCancelled,
		})
		return
	}

	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if job == nil {
		httputil.NotFound(w, "job not found")
		return
	}
	httputil.Conflict(w, fmt.Sprintf("job is %s; only pending jobs can be cancelled", job.Status))
}

// ========== Session Endpoints ==========

// HandleListResumable lists sessions whose latest checkpoint still has
// work left, newest first.
//
//	GET /api/sessions/resumable
func (h *Handlers) HandleListResumable(w http.ResponseWriter, r *http.Request) {
	cps, err := h.checkpoints.FindResumableSessions()
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	sessions := make([]map[string]interface{}, 0, len(cps))
	for _, cp := range cps {
		sessions = append(sessions, checkpointView(cp))
	}
	httputil.OK(w, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// HandleGetProgress returns the live progress snapshot for a session.
//
//	GET /api/sessions/{sessionId}/progress
func (h *Handlers) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	if h.redisClient == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "live progress requires redis")
		return
	}
	state, err := worker.ReadSessionState(r.Context(), h.redisClient, sessionID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if state == nil {
		httputil.NotFound(w, "no progress for session")
		return
	}
	httputil.OK(w, state)
}

// ResumeSessionRequest names the source a resumed run reads from. The
// source must match the identity recorded in the checkpoint or the
// worker will refuse the resume.
type ResumeSessionRequest struct {
	SourceType string            `json:"source_type"`
	Source     worker.SourceSpec `json:"source"`
}

// HandleResumeSession enqueues a resume job for an interrupted session.
//
//	POST /api/sessions/{sessionId}/resume
func (h *Handlers) HandleResumeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req ResumeSessionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.SourceType == "" {
		httputil.BadRequest(w, "source_type is required")
		return
	}
	if err := validateSource(req.SourceType, req.Source); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	cp, err := h.checkpoints.LoadLatest(sessionID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if cp == nil {
		httputil.NotFound(w, "no checkpoints for session")
		return
	}
	if !cp.Resumable() {
		httputil.Conflict(w, fmt.Sprintf("session is %s and cannot resume", cp.State.Status))
		return
	}

	spec, _ := json.Marshal(req.Source)
	job := &worker.Job{
		SessionID:  sessionID,
		SourceType: req.SourceType,
		SourceSpec: string(spec),
		Resume:     true,
	}
	if err := h.jobs.Enqueue(r.Context(), job); err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.Accepted(w, map[string]interface{}{
		"job_id":     job.ID,
		"session_id": sessionID,
		"resumes_at": cp.SessionData.LastProcessedRecord + 1,
		"status_url": fmt.Sprintf("/api/imports/%s", job.ID),
	})
}

// HandleListCheckpoints returns every retained checkpoint for a
// session, oldest first.
//
//	GET /api/sessions/{sessionId}/checkpoints
func (h *Handlers) HandleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	cps, err := h.checkpoints.List(sessionID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if len(cps) == 0 {
		httputil.NotFound(w, "no checkpoints for session")
		return
	}

	views := make([]map[string]interface{}, 0, len(cps))
	for _, cp := range cps {
		views = append(views, checkpointView(cp))
	}
	httputil.OK(w, map[string]interface{}{
		"session_id":  sessionID,
		"checkpoints": views,
		"count":       len(views),
	})
}

// HandleDeleteCheckpoints drops all checkpoints for a session. Done
// after an operator confirms the import is finished with.
//
//	DELETE /api/sessions/{sessionId}/checkpoints
func (h *Handlers) HandleDeleteCheckpoints(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	cps, err := h.checkpoints.List(sessionID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if len(cps) == 0 {
		httputil.NotFound(w, "no checkpoints for session")
		return
	}

	if err := h.checkpoints.DeleteSession(sessionID); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ========== View Helpers ==========

func jobView(job *worker.Job) map[string]interface{} {
	v := map[string]interface{}{
		"job_id":      job.ID,
		"session_id":  job.SessionID,
		"source_type": job.SourceType,
		"resume":      job.Resume,
		"status":      job.Status,
		"retry_count": job.RetryCount,
		"enqueued_at": job.EnqueuedAt.Format(time.RFC3339),
	}
	if job.Error != "" {
		v["error"] = job.Error
	}
	if job.StartedAt != nil {
		v["started_at"] = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		v["finished_at"] = job.FinishedAt.Format(time.RFC3339)
	}
	return v
}

func checkpointView(cp *checkpoint.Checkpoint) map[string]interface{} {
	return map[string]interface{}{
		"session_id":            cp.SessionID,
		"checkpoint_id":         cp.ID,
		"timestamp":             cp.Timestamp.Format(time.RFC3339),
		"phase":                 cp.State.Phase,
		"status":                cp.State.Status,
		"total_records":         cp.State.TotalRecords,
		"processed_records":     cp.State.ProcessedRecords,
		"successful_records":    cp.State.SuccessfulRecords,
		"failed_records":        cp.State.FailedRecords,
		"source_identity":       cp.SessionData.SourceIdentity,
		"last_processed_batch":  cp.SessionData.LastProcessedBatch,
		"last_processed_record": cp.SessionData.LastProcessedRecord,
	}
}

// validateSource rejects specs the worker's source factory would fail
// on, so callers hear about it at enqueue time rather than from a
// failed job.
func validateSource(sourceType string, spec worker.SourceSpec) error {
	switch sourceType {
	case "csv":
		if spec.Path == "" {
			return fmt.Errorf("csv source requires path")
		}
	case "s3":
		if spec.Bucket == "" || spec.Key == "" {
			return fmt.Errorf("s3 source requires bucket and key")
		}
	case "postgres":
		if spec.Table == "" {
			return fmt.Errorf("postgres source requires table")
		}
	case "snowflake":
		if spec.Query == "" {
			return fmt.Errorf("snowflake source requires query")
		}
	default:
		return fmt.Errorf("unknown source type %q", sourceType)
	}
	return nil
}
