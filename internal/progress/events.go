package progress

import "time"

// EventType tags a progress event. Observers switch on it instead of
// implementing one callback per event.
type EventType string

const (
	EventSessionStart    EventType = "session_start"
	EventPhaseChange     EventType = "phase_change"
	EventBatchStart      EventType = "batch_start"
	EventBatchComplete   EventType = "batch_complete"
	EventRecordProcessed EventType = "record_processed"
	EventDuplicateFound  EventType = "duplicate_found"
	EventError           EventType = "error"
	EventWarning         EventType = "warning"
	EventMilestone       EventType = "milestone"
	EventPaused          EventType = "paused"
	EventResumed         EventType = "resumed"
	EventSessionComplete EventType = "session_complete"
	EventShutdown        EventType = "shutdown"
)

// Event is one notification delivered to observers. State is a
// snapshot taken when the event was emitted.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Message   string
	Batch     int
	Success   bool
	Err       error
	State     State
}

// Observer receives throttled progress updates. High-significance
// events (phase changes, milestones, errors, session completion)
// bypass the throttle.
type Observer interface {
	OnProgressUpdate(Event)
}

// Optional narrow interfaces. An observer implementing one of these
// gets the dedicated callback in addition to OnProgressUpdate.
type (
	PhaseObserver interface {
		OnPhaseChange(Event)
	}
	ErrorObserver interface {
		OnErrorOccurred(Event)
	}
	MilestoneObserver interface {
		OnMilestoneReached(Event)
	}
	CompletionObserver interface {
		OnSessionComplete(Event)
	}
)

// alwaysNotify lists the event types that bypass the throttle window:
// low-frequency, high-significance transitions an observer must not
// miss.
func alwaysNotify(t EventType) bool {
	switch t {
	case EventPhaseChange, EventMilestone, EventError, EventSessionComplete, EventShutdown:
		return true
	}
	return false
}
