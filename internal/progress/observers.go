package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ignite/list-loader/internal/pkg/logger"
)

// LogObserver forwards progress events to the structured log. Phase
// transitions, milestones and completion land at INFO, problems at
// WARN, and per-record chatter at DEBUG so a production worker stays
// quiet between batches.
type LogObserver struct {
	log *logger.Logger
}

func NewLogObserver() *LogObserver {
	return &LogObserver{log: logger.With("progress")}
}

func (o *LogObserver) OnProgressUpdate(ev Event) {
	switch ev.Type {
	case EventError:
		o.log.Warn(ev.Message,
			"event", string(ev.Type),
			"session_id", ev.State.SessionID,
			"failed", ev.State.FailedRecords)
	case EventWarning:
		o.log.Warn(ev.Message,
			"event", string(ev.Type),
			"session_id", ev.State.SessionID)
	case EventPhaseChange, EventMilestone, EventSessionComplete, EventShutdown:
		o.log.Info(ev.Message,
			"event", string(ev.Type),
			"session_id", ev.State.SessionID,
			"phase", ev.State.Phase,
			"processed", ev.State.ProcessedRecords)
	case EventBatchComplete:
		o.log.Info("batch complete",
			"session_id", ev.State.SessionID,
			"batch", ev.Batch,
			"processed", ev.State.ProcessedRecords,
			"failed", ev.State.FailedRecords)
	default:
		o.log.Debug(ev.Message,
			"event", string(ev.Type),
			"session_id", ev.State.SessionID,
			"processed", ev.State.ProcessedRecords)
	}
}

// auditEntry is one line of a FileObserver stream. A compact projection
// rather than the full state snapshot; the checkpoint files carry the
// rest.
type auditEntry struct {
	Time      string `json:"time"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Phase     string `json:"phase,omitempty"`
	Message   string `json:"message,omitempty"`
	Batch     int    `json:"batch,omitempty"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FileObserver appends one JSON line per event to an audit file. Safe
// for the tracker's notification goroutines; write failures are logged
// and swallowed so a full disk cannot stall an import.
type FileObserver struct {
	mu   sync.Mutex
	f    *os.File
	log  *logger.Logger
	path string
}

func NewFileObserver(path string) (*FileObserver, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("progress: open audit file: %w", err)
	}
	return &FileObserver{f: f, log: logger.With("audit"), path: path}, nil
}

func (o *FileObserver) OnProgressUpdate(ev Event) {
	entry := auditEntry{
		Time:      ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Type:      string(ev.Type),
		SessionID: ev.State.SessionID,
		Phase:     ev.State.Phase,
		Message:   ev.Message,
		Batch:     ev.Batch,
		Processed: ev.State.ProcessedRecords,
		Failed:    ev.State.FailedRecords,
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.f == nil {
		return
	}
	if _, err := o.f.Write(append(data, '\n')); err != nil {
		o.log.Warn("audit write failed", "path", o.path, "error", err.Error())
	}
}

// Close flushes and closes the audit file. Further events are dropped.
func (o *FileObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.f == nil {
		return nil
	}
	err := o.f.Close()
	o.f = nil
	return err
}
