// Package checkpoint persists periodic snapshots of session progress
// so an interrupted import can resume without re-submitting committed
// records.
package checkpoint

import (
	"time"

	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/progress"
)

// SessionData is the resume metadata saved alongside progress state.
type SessionData struct {
	// SourceIdentity names the input (path, object URL, or query tag)
	// so a resume can refuse a mismatched source.
	SourceIdentity string `json:"sourceIdentity"`

	// LastProcessedBatch and LastProcessedRecord are the highest fully
	// committed batch number and record index. Resume continues at
	// LastProcessedRecord + 1.
	LastProcessedBatch  int `json:"lastProcessedBatch"`
	LastProcessedRecord int `json:"lastProcessedRecord"`
}

// StateSnapshot is the persisted slice of tracker state. Field names
// are part of the on-disk format; changing them breaks resume of
// existing checkpoints.
type StateSnapshot struct {
	Phase             string               `json:"phase"`
	Status            domain.SessionStatus `json:"status"`
	TotalRecords      int                  `json:"totalRecords"`
	ProcessedRecords  int                  `json:"processedRecords"`
	SuccessfulRecords int                  `json:"successfulRecords"`
	FailedRecords     int                  `json:"failedRecords"`
	CurrentBatch      int                  `json:"currentBatch"`
	Statistics        map[string]float64   `json:"statistics"`
}

// Checkpoint is one immutable snapshot. A session accumulates many;
// the store prunes the oldest past its retention cap.
type Checkpoint struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	SessionID   string            `json:"sessionId"`
	State       StateSnapshot     `json:"state"`
	SessionData SessionData       `json:"sessionData"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Resumable reports whether this checkpoint can seed a resumed run:
// work remains and the session did not conclude.
func (c *Checkpoint) Resumable() bool {
	if c.State.ProcessedRecords >= c.State.TotalRecords {
		return false
	}
	switch c.State.Status {
	case domain.SessionCompleted, domain.SessionFailed:
		return false
	}
	return true
}

// RestoreState rebuilds a tracker seed from the snapshot.
func (c *Checkpoint) RestoreState() progress.State {
	return progress.State{
		SessionID:         c.SessionID,
		Phase:             c.State.Phase,
		Status:            c.State.Status,
		TotalRecords:      c.State.TotalRecords,
		ProcessedRecords:  c.State.ProcessedRecords,
		SuccessfulRecords: c.State.SuccessfulRecords,
		FailedRecords:     c.State.FailedRecords,
		CurrentBatch:      c.State.CurrentBatch,
	}
}

// snapshotFromState projects tracker state into the persisted shape,
// recomputing statistics from the counters at save time.
func snapshotFromState(state progress.State, now time.Time) StateSnapshot {
	m := state.MetricsAt(now)
	return StateSnapshot{
		Phase:             state.Phase,
		Status:            state.Status,
		TotalRecords:      state.TotalRecords,
		ProcessedRecords:  state.ProcessedRecords,
		SuccessfulRecords: state.SuccessfulRecords,
		FailedRecords:     state.FailedRecords,
		CurrentBatch:      state.CurrentBatch,
		Statistics: map[string]float64{
			"recordsPerSecond": m.RecordsPerSecond,
			"successRate":      m.SuccessRate,
			"errorRate":        m.ErrorRate,
			"percentComplete":  m.PercentComplete,
			"elapsedSeconds":   m.Elapsed.Seconds(),
			"duplicateRecords": float64(state.DuplicateRecords),
		},
	}
}
