// Package progress tracks a single import session as a state machine
// fed by pipeline events, and republishes those events to observers.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/pkg/logger"
)

const (
	defaultThrottle    = 100 * time.Millisecond
	defaultMaxErrors   = 50
	defaultMaxWarnings = 50
)

// Options tune a tracker instance.
type Options struct {
	// Throttle is the minimum interval between observer notifications
	// for high-frequency events. High-significance events ignore it.
	Throttle time.Duration

	// MaxErrors and MaxWarnings bound the retained entry lists;
	// only the most recent entries are kept.
	MaxErrors   int
	MaxWarnings int
}

type namedObserver struct {
	name string
	obs  Observer
}

// Tracker is the single writer of session progress state. Workers post
// events through its methods; the internal mutex serializes mutations.
type Tracker struct {
	mu         sync.Mutex
	state      State
	observers  []namedObserver
	lastNotify time.Time
	milestones map[int]bool

	throttle    time.Duration
	maxErrors   int
	maxWarnings int

	log *logger.Logger
}

// NewTracker creates a tracker in the idle state.
func NewTracker(opts Options) *Tracker {
	if opts.Throttle <= 0 {
		opts.Throttle = defaultThrottle
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = defaultMaxErrors
	}
	if opts.MaxWarnings <= 0 {
		opts.MaxWarnings = defaultMaxWarnings
	}
	return &Tracker{
		state:       State{Status: domain.SessionIdle},
		milestones:  make(map[int]bool),
		throttle:    opts.Throttle,
		maxErrors:   opts.MaxErrors,
		maxWarnings: opts.MaxWarnings,
		log:         logger.With("progress"),
	}
}

// Register adds an observer under a name. Registering the same name
// again replaces the previous observer.
func (t *Tracker) Register(name string, obs Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.observers {
		if existing.name == name {
			t.observers[i].obs = obs
			return
		}
	}
	t.observers = append(t.observers, namedObserver{name: name, obs: obs})
}

// Deregister removes the named observer. Unknown names are a no-op.
func (t *Tracker) Deregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.observers {
		if existing.name == name {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// ========== Session Lifecycle ==========

// StartSession transitions idle -> active for a fresh session.
func (t *Tracker) StartSession(sessionID string, totalRecords int) error {
	t.mu.Lock()
	if t.state.Status != domain.SessionIdle {
		defer t.mu.Unlock()
		return fmt.Errorf("progress: cannot start session in state %s", t.state.Status)
	}

	t.state.SessionID = sessionID
	t.state.Status = domain.SessionActive
	t.state.TotalRecords = totalRecords
	t.state.StartTime = time.Now()

	t.finishEventLocked(Event{Type: EventSessionStart, Message: sessionID})
	return nil
}

// ResumeSession transitions idle -> active seeding counters from a
// checkpoint, so throughput and ETA account for prior work.
func (t *Tracker) ResumeSession(from State) error {
	t.mu.Lock()
	if t.state.Status != domain.SessionIdle {
		defer t.mu.Unlock()
		return fmt.Errorf("progress: cannot resume session in state %s", t.state.Status)
	}

	t.state.SessionID = from.SessionID
	t.state.Status = domain.SessionActive
	t.state.Phase = from.Phase
	t.state.TotalRecords = from.TotalRecords
	t.state.ProcessedRecords = from.ProcessedRecords
	t.state.SuccessfulRecords = from.SuccessfulRecords
	t.state.FailedRecords = from.FailedRecords
	t.state.DuplicateRecords = from.DuplicateRecords
	t.state.CurrentBatch = from.CurrentBatch
	t.state.TotalBatches = from.TotalBatches
	t.state.StartTime = time.Now()

	t.finishEventLocked(Event{Type: EventSessionStart, Message: from.SessionID})
	return nil
}

// Pause transitions active -> paused.
func (t *Tracker) Pause() error {
	t.mu.Lock()
	if t.state.Status != domain.SessionActive {
		defer t.mu.Unlock()
		return fmt.Errorf("progress: cannot pause session in state %s", t.state.Status)
	}
	t.state.Status = domain.SessionPaused

	t.finishEventLocked(Event{Type: EventPaused})
	return nil
}

// Resume transitions paused -> active.
func (t *Tracker) Resume() error {
	t.mu.Lock()
	if t.state.Status != domain.SessionPaused {
		defer t.mu.Unlock()
		return fmt.Errorf("progress: cannot resume session in state %s", t.state.Status)
	}
	t.state.Status = domain.SessionActive

	t.finishEventLocked(Event{Type: EventResumed})
	return nil
}

// SessionComplete freezes the session as completed or failed.
func (t *Tracker) SessionComplete(success bool) error {
	t.mu.Lock()
	if t.state.Status != domain.SessionActive {
		defer t.mu.Unlock()
		return fmt.Errorf("progress: cannot complete session in state %s", t.state.Status)
	}

	if success {
		t.state.Status = domain.SessionCompleted
	} else {
		t.state.Status = domain.SessionFailed
	}
	t.state.EndTime = time.Now()

	t.finishEventLocked(Event{Type: EventSessionComplete, Success: success})
	return nil
}

// Shutdown freezes the tracker from any state. Unlike completion it
// does not judge the outcome; an interrupted run resumes later from
// its last checkpoint. Safe to call more than once.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	if t.state.Status == domain.SessionShutdown {
		t.mu.Unlock()
		return
	}
	t.state.Status = domain.SessionShutdown
	if t.state.EndTime.IsZero() {
		t.state.EndTime = time.Now()
	}

	t.finishEventLocked(Event{Type: EventShutdown})
}

// ========== Pipeline Events ==========

// PhaseChange records a new pipeline phase. Always notifies.
func (t *Tracker) PhaseChange(phase string) {
	t.mu.Lock()
	if t.frozenLocked() {
		t.mu.Unlock()
		return
	}
	t.state.Phase = phase

	t.finishEventLocked(Event{Type: EventPhaseChange, Message: phase})
}

// SetTotalBatches records the batch count once batching is known.
func (t *Tracker) SetTotalBatches(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.TotalBatches = n
}

// SetTotalRecords records the record count once the source is drained.
// Streaming sources only learn it at the end of the loading phase.
func (t *Tracker) SetTotalRecords(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.TotalRecords = n
}

// BatchStart marks the beginning of a numbered batch.
func (t *Tracker) BatchStart(batch, size int) {
	t.mu.Lock()
	if t.frozenLocked() {
		t.mu.Unlock()
		return
	}
	t.state.CurrentBatch = batch

	t.finishEventLocked(Event{
		Type:    EventBatchStart,
		Batch:   batch,
		Message: fmt.Sprintf("%d records", size),
	})
}

// BatchComplete marks the end of a numbered batch.
func (t *Tracker) BatchComplete(batch, successes, failures int) {
	t.mu.Lock()
	if t.frozenLocked() {
		t.mu.Unlock()
		return
	}

	t.finishEventLocked(Event{
		Type:    EventBatchComplete,
		Batch:   batch,
		Message: fmt.Sprintf("%d ok, %d failed", successes, failures),
	})
}

// RecordProcessed counts one submission outcome. The counter pair is
// updated together so processed always equals successful plus failed.
func (t *Tracker) RecordProcessed(success bool) {
	t.mu.Lock()
	if t.frozenLocked() {
		t.mu.Unlock()
		return
	}

	t.state.ProcessedRecords++
	if success {
		t.state.SuccessfulRecords++
	} else {
		t.state.FailedRecords++
	}

	if milestone, hit := t.quartileLocked(); hit {
		t.finishEventLocked(Event{
			Type:    EventMilestone,
			Message: fmt.Sprintf("%d%% of records processed", milestone),
		})
		return
	}

	t.finishEventLocked(Event{Type: EventRecordProcessed, Success: success})
}

// DuplicateFound counts a record withheld from submission.
func (t *Tracker) DuplicateFound() {
	t.mu.Lock()
	if t.frozenLocked() {
		t.mu.Unlock()
		return
	}
	t.state.DuplicateRecords++

	t.finishEventLocked(Event{Type: EventDuplicateFound})
}

// ErrorOccurred records a failure. Always notifies.
func (t *Tracker) ErrorOccurred(context string, err error) {
	t.mu.Lock()
	if t.frozenLocked() {
		t.mu.Unlock()
		return
	}

	entry := ErrorEntry{Time: time.Now(), Context: context}
	if err != nil {
		entry.Message = err.Error()
	}
	t.state.Errors = append(t.state.Errors, entry)
	if len(t.state.Errors) > t.maxErrors {
		t.state.Errors = t.state.Errors[len(t.state.Errors)-t.maxErrors:]
	}

	t.finishEventLocked(Event{Type: EventError, Message: context, Err: err})
}

// WarningOccurred records a data-quality warning.
func (t *Tracker) WarningOccurred(msg string) {
	t.mu.Lock()
	if t.frozenLocked() {
		t.mu.Unlock()
		return
	}

	t.state.Warnings = append(t.state.Warnings, WarningEntry{Time: time.Now(), Message: msg})
	if len(t.state.Warnings) > t.maxWarnings {
		t.state.Warnings = t.state.Warnings[len(t.state.Warnings)-t.maxWarnings:]
	}

	t.finishEventLocked(Event{Type: EventWarning, Message: msg})
}

// MilestoneReached records a caller-defined milestone. Always notifies.
func (t *Tracker) MilestoneReached(msg string) {
	t.mu.Lock()
	if t.frozenLocked() {
		t.mu.Unlock()
		return
	}

	t.finishEventLocked(Event{Type: EventMilestone, Message: msg})
}

// ========== Reads ==========

// Snapshot returns a deep copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.clone()
}

// Status returns the current session status.
func (t *Tracker) Status() domain.SessionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Status
}

// Metrics recomputes the derived metrics from the raw counters.
func (t *Tracker) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.MetricsAt(time.Now())
}

// ========== Internals ==========

// frozenLocked reports whether the session stopped accepting pipeline
// events.
func (t *Tracker) frozenLocked() bool {
	return t.state.Status.Terminal()
}

// quartileLocked checks whether processing just crossed an unreported
// 25% boundary.
func (t *Tracker) quartileLocked() (int, bool) {
	if t.state.TotalRecords <= 0 {
		return 0, false
	}
	pct := t.state.ProcessedRecords * 100 / t.state.TotalRecords
	for _, q := range []int{100, 75, 50, 25} {
		if pct >= q && !t.milestones[q] {
			t.milestones[q] = true
			return q, true
		}
	}
	return 0, false
}

// finishEventLocked stamps the event, applies the throttle decision,
// and releases the mutex before any observer runs. Callers must hold
// the mutex and must not touch tracker state afterwards.
func (t *Tracker) finishEventLocked(event Event) {
	event.Timestamp = time.Now()
	event.State = t.state.clone()

	notify := alwaysNotify(event.Type)
	if !notify && event.Timestamp.Sub(t.lastNotify) >= t.throttle {
		notify = true
	}
	if notify {
		t.lastNotify = event.Timestamp
	}

	var targets []namedObserver
	if notify {
		targets = append(targets, t.observers...)
	}
	t.mu.Unlock()

	for _, target := range targets {
		t.dispatch(target, event)
	}
}

// dispatch delivers one event to one observer, isolating panics so a
// broken observer cannot take down the pipeline or starve the others.
func (t *Tracker) dispatch(target namedObserver, event Event) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("observer panicked", "observer", target.name, "event", string(event.Type), "panic", fmt.Sprintf("%v", r))
		}
	}()

	target.obs.OnProgressUpdate(event)

	switch event.Type {
	case EventPhaseChange:
		if po, ok := target.obs.(PhaseObserver); ok {
			po.OnPhaseChange(event)
		}
	case EventError:
		if eo, ok := target.obs.(ErrorObserver); ok {
			eo.OnErrorOccurred(event)
		}
	case EventMilestone:
		if mo, ok := target.obs.(MilestoneObserver); ok {
			mo.OnMilestoneReached(event)
		}
	case EventSessionComplete:
		if co, ok := target.obs.(CompletionObserver); ok {
			co.OnSessionComplete(event)
		}
	}
}
