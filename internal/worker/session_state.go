package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/list-loader/internal/pkg/logger"
	"github.com/ignite/list-loader/internal/progress"
)

// sessionStateTTL keeps finished sessions readable for a day before
// Redis drops them.
const sessionStateTTL = 24 * time.Hour

// SessionStateKey is the Redis key holding a session's live snapshot.
func SessionStateKey(sessionID string) string {
	return fmt.Sprintf("import:session:%s", sessionID)
}

// SessionState is the live view of an import the API serves without
// talking to the worker that runs it.
type SessionState struct {
	SessionID string `json:"sessionId"`
	Phase     string `json:"phase"`
	Status    string `json:"status"`

	TotalRecords      int `json:"totalRecords"`
	ProcessedRecords  int `json:"processedRecords"`
	SuccessfulRecords int `json:"successfulRecords"`
	FailedRecords     int `json:"failedRecords"`
	DuplicateRecords  int `json:"duplicateRecords"`

	CurrentBatch int `json:"currentBatch"`
	TotalBatches int `json:"totalBatches"`

	RecordsPerSecond float64 `json:"recordsPerSecond"`
	PercentComplete  float64 `json:"percentComplete"`

	LastEvent string    `json:"lastEvent"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionPublisher mirrors tracker state into Redis on every observer
// notification. The tracker's throttle bounds the write rate.
type SessionPublisher struct {
	client *redis.Client
	log    *logger.Logger
}

func NewSessionPublisher(client *redis.Client) *SessionPublisher {
	return &SessionPublisher{client: client, log: logger.With("session-state")}
}

func (p *SessionPublisher) OnProgressUpdate(ev progress.Event) {
	state := ev.State
	if state.SessionID == "" {
		return
	}
	now := time.Now()
	metrics := state.MetricsAt(now)

	payload := SessionState{
		SessionID:         state.SessionID,
		Phase:             state.Phase,
		Status:            string(state.Status),
		TotalRecords:      state.TotalRecords,
		ProcessedRecords:  state.ProcessedRecords,
		SuccessfulRecords: state.SuccessfulRecords,
		FailedRecords:     state.FailedRecords,
		DuplicateRecords:  state.DuplicateRecords,
		CurrentBatch:      state.CurrentBatch,
		TotalBatches:      state.TotalBatches,
		RecordsPerSecond:  metrics.RecordsPerSecond,
		PercentComplete:   metrics.PercentComplete,
		LastEvent:         string(ev.Type),
		UpdatedAt:         now,
	}
	data, _ := json.Marshal(payload)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.client.Set(ctx, SessionStateKey(state.SessionID), data, sessionStateTTL).Err(); err != nil {
		p.log.Warn("session state publish failed",
			"session_id", state.SessionID, "error", err.Error())
	}
}

// ReadSessionState fetches a session's live snapshot. A nil state with
// a nil error means nothing has been published for the session.
func ReadSessionState(ctx context.Context, client *redis.Client, sessionID string) (*SessionState, error) {
	data, err := client.Get(ctx, SessionStateKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("worker: read session state: %w", err)
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("worker: decode session state: %w", err)
	}
	return &state, nil
}
