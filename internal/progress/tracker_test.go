package progress

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/pkg/logger"
)

type captureObserver struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureObserver) OnProgressUpdate(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *captureObserver) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *captureObserver) byType(t EventType) []Event {
	var out []Event
	for _, e := range c.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type panicObserver struct{}

func (panicObserver) OnProgressUpdate(Event) { panic("observer bug") }

type handlerObserver struct {
	mu         sync.Mutex
	phases     int
	errs       int
	milestones int
	completes  int
}

func (h *handlerObserver) OnProgressUpdate(Event) {}
func (h *handlerObserver) OnPhaseChange(Event) {
	h.mu.Lock()
	h.phases++
	h.mu.Unlock()
}
func (h *handlerObserver) OnErrorOccurred(Event) {
	h.mu.Lock()
	h.errs++
	h.mu.Unlock()
}
func (h *handlerObserver) OnMilestoneReached(Event) {
	h.mu.Lock()
	h.milestones++
	h.mu.Unlock()
}
func (h *handlerObserver) OnSessionComplete(Event) {
	h.mu.Lock()
	h.completes++
	h.mu.Unlock()
}

func TestCounterInvariantHoldsAfterEveryEvent(t *testing.T) {
	tracker := NewTracker(Options{Throttle: time.Nanosecond})
	obs := &captureObserver{}
	tracker.Register("check", obs)

	if err := tracker.StartSession("s-1", 60); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for i := 0; i < 60; i++ {
		tracker.RecordProcessed(i%3 != 0)
	}
	if err := tracker.SessionComplete(true); err != nil {
		t.Fatalf("SessionComplete: %v", err)
	}

	for i, e := range obs.all() {
		if e.State.ProcessedRecords != e.State.SuccessfulRecords+e.State.FailedRecords {
			t.Fatalf("Event %d (%s): processed=%d successful=%d failed=%d",
				i, e.Type, e.State.ProcessedRecords, e.State.SuccessfulRecords, e.State.FailedRecords)
		}
	}

	final := tracker.Snapshot()
	if final.ProcessedRecords != 60 {
		t.Errorf("Expected 60 processed, got %d", final.ProcessedRecords)
	}
	if final.SuccessfulRecords != 40 || final.FailedRecords != 20 {
		t.Errorf("Expected 40/20 split, got %d/%d", final.SuccessfulRecords, final.FailedRecords)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	tracker := NewTracker(Options{})

	if err := tracker.Pause(); err == nil {
		t.Error("Pause from idle must fail")
	}
	if err := tracker.Resume(); err == nil {
		t.Error("Resume from idle must fail")
	}
	if err := tracker.SessionComplete(true); err == nil {
		t.Error("Complete from idle must fail")
	}

	if err := tracker.StartSession("s-1", 10); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := tracker.StartSession("s-2", 10); err == nil {
		t.Error("Second StartSession must fail")
	}
	if err := tracker.Resume(); err == nil {
		t.Error("Resume from active must fail")
	}

	if err := tracker.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if tracker.Status() != domain.SessionPaused {
		t.Errorf("Expected paused, got %s", tracker.Status())
	}
	if err := tracker.SessionComplete(true); err == nil {
		t.Error("Complete from paused must fail")
	}

	if err := tracker.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := tracker.SessionComplete(true); err != nil {
		t.Fatalf("SessionComplete: %v", err)
	}
	if tracker.Status() != domain.SessionCompleted {
		t.Errorf("Expected completed, got %s", tracker.Status())
	}
}

func TestSessionCompleteFailure(t *testing.T) {
	tracker := NewTracker(Options{})
	tracker.StartSession("s-1", 10)
	tracker.SessionComplete(false)
	if tracker.Status() != domain.SessionFailed {
		t.Errorf("Expected failed, got %s", tracker.Status())
	}
}

func TestShutdownFromAnyState(t *testing.T) {
	for _, setup := range []func(*Tracker){
		func(*Tracker) {},
		func(tr *Tracker) { tr.StartSession("s", 5) },
		func(tr *Tracker) { tr.StartSession("s", 5); tr.Pause() },
		func(tr *Tracker) { tr.StartSession("s", 5); tr.SessionComplete(true) },
	} {
		tracker := NewTracker(Options{})
		setup(tracker)
		tracker.Shutdown()
		if tracker.Status() != domain.SessionShutdown {
			t.Errorf("Expected shutdown, got %s", tracker.Status())
		}
	}
}

func TestEventsIgnoredAfterShutdown(t *testing.T) {
	tracker := NewTracker(Options{})
	tracker.StartSession("s-1", 10)
	tracker.RecordProcessed(true)
	tracker.Shutdown()

	tracker.RecordProcessed(true)
	tracker.PhaseChange("submitting")
	tracker.ErrorOccurred("late", errors.New("too late"))

	state := tracker.Snapshot()
	if state.ProcessedRecords != 1 {
		t.Errorf("Expected counters frozen at 1, got %d", state.ProcessedRecords)
	}
	if len(state.Errors) != 0 {
		t.Errorf("Expected no errors recorded after shutdown, got %d", len(state.Errors))
	}
	if err := tracker.StartSession("s-2", 5); err == nil {
		t.Error("StartSession after shutdown must fail")
	}

	// Repeat shutdown is safe.
	tracker.Shutdown()
}

func TestThrottleSuppressesHighFrequencyEvents(t *testing.T) {
	tracker := NewTracker(Options{Throttle: time.Hour})
	obs := &captureObserver{}
	tracker.Register("ui", obs)

	tracker.StartSession("s-1", 1000)
	for i := 0; i < 10; i++ {
		tracker.RecordProcessed(true)
	}
	tracker.WarningOccurred("odd row")

	if got := len(obs.byType(EventRecordProcessed)); got != 0 {
		t.Errorf("Expected record events throttled away, got %d", got)
	}
	if got := len(obs.byType(EventWarning)); got != 0 {
		t.Errorf("Expected warnings throttled away, got %d", got)
	}

	// High-significance events cut through the window.
	tracker.PhaseChange("submitting")
	tracker.ErrorOccurred("record 7", errors.New("boom"))
	tracker.MilestoneReached("halfway")
	tracker.SessionComplete(true)

	for _, want := range []EventType{EventPhaseChange, EventError, EventMilestone, EventSessionComplete} {
		if got := len(obs.byType(want)); got != 1 {
			t.Errorf("Expected exactly 1 %s event, got %d", want, got)
		}
	}
}

func TestObserverFailureIsolated(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stderr)

	tracker := NewTracker(Options{Throttle: time.Nanosecond})
	good := &captureObserver{}
	tracker.Register("broken", panicObserver{})
	tracker.Register("good", good)

	tracker.StartSession("s-1", 3)
	tracker.RecordProcessed(true)
	tracker.PhaseChange("submitting")

	if got := len(good.all()); got != 3 {
		t.Errorf("Expected healthy observer to see 3 events, got %d", got)
	}
	if tracker.Snapshot().ProcessedRecords != 1 {
		t.Error("Observer panic must not corrupt tracker state")
	}
	if !bytes.Contains(buf.Bytes(), []byte("observer panicked")) {
		t.Error("Expected the panic to be logged")
	}
}

func TestNamedHandlersInvoked(t *testing.T) {
	tracker := NewTracker(Options{})
	h := &handlerObserver{}
	tracker.Register("handlers", h)

	tracker.StartSession("s-1", 10)
	tracker.PhaseChange("loading")
	tracker.ErrorOccurred("row 3", errors.New("bad email"))
	tracker.MilestoneReached("checkpointed")
	tracker.SessionComplete(true)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phases != 1 || h.errs != 1 || h.milestones != 1 || h.completes != 1 {
		t.Errorf("Expected 1/1/1/1 handler calls, got %d/%d/%d/%d",
			h.phases, h.errs, h.milestones, h.completes)
	}
}

func TestDeregisterStopsNotifications(t *testing.T) {
	tracker := NewTracker(Options{Throttle: time.Nanosecond})
	obs := &captureObserver{}
	tracker.Register("ui", obs)

	tracker.StartSession("s-1", 10)
	tracker.Deregister("ui")
	tracker.PhaseChange("submitting")

	if got := len(obs.byType(EventPhaseChange)); got != 0 {
		t.Errorf("Expected no events after deregister, got %d", got)
	}
}

func TestQuartileMilestones(t *testing.T) {
	tracker := NewTracker(Options{Throttle: time.Hour})
	obs := &captureObserver{}
	tracker.Register("ui", obs)

	tracker.StartSession("s-1", 4)
	for i := 0; i < 4; i++ {
		tracker.RecordProcessed(true)
	}

	milestones := obs.byType(EventMilestone)
	if len(milestones) != 4 {
		t.Fatalf("Expected 4 quartile milestones, got %d", len(milestones))
	}
	for i, want := range []string{"25%", "50%", "75%", "100%"} {
		if got := milestones[i].Message; len(got) == 0 || got[:len(want)] != want {
			t.Errorf("Milestone %d = %q, want prefix %q", i, got, want)
		}
	}
}

func TestDerivedMetrics(t *testing.T) {
	tracker := NewTracker(Options{})
	tracker.StartSession("s-1", 100)
	for i := 0; i < 10; i++ {
		tracker.RecordProcessed(i < 8)
	}

	m := tracker.Metrics()
	if m.PercentComplete != 10 {
		t.Errorf("Expected 10%% complete, got %f", m.PercentComplete)
	}
	if m.SuccessRate != 0.8 {
		t.Errorf("Expected success rate 0.8, got %f", m.SuccessRate)
	}
	if m.ErrorRate != 0.2 {
		t.Errorf("Expected error rate 0.2, got %f", m.ErrorRate)
	}
	if m.RecordsPerSecond <= 0 {
		t.Errorf("Expected positive throughput, got %f", m.RecordsPerSecond)
	}
	if m.EstimatedTimeRemaining < 0 {
		t.Errorf("Expected non-negative ETA, got %v", m.EstimatedTimeRemaining)
	}
}

func TestBoundedErrorAndWarningLists(t *testing.T) {
	tracker := NewTracker(Options{MaxErrors: 5, MaxWarnings: 3})
	tracker.StartSession("s-1", 10)

	for i := 0; i < 10; i++ {
		tracker.ErrorOccurred(fmt.Sprintf("err-%d", i), errors.New("x"))
		tracker.WarningOccurred(fmt.Sprintf("warn-%d", i))
	}

	state := tracker.Snapshot()
	if len(state.Errors) != 5 {
		t.Fatalf("Expected 5 retained errors, got %d", len(state.Errors))
	}
	if state.Errors[0].Context != "err-5" || state.Errors[4].Context != "err-9" {
		t.Errorf("Expected most recent errors retained, got %s..%s",
			state.Errors[0].Context, state.Errors[4].Context)
	}
	if len(state.Warnings) != 3 {
		t.Errorf("Expected 3 retained warnings, got %d", len(state.Warnings))
	}
	if state.Warnings[2].Message != "warn-9" {
		t.Errorf("Expected newest warning last, got %s", state.Warnings[2].Message)
	}
}

func TestResumeSessionSeedsCounters(t *testing.T) {
	tracker := NewTracker(Options{})
	err := tracker.ResumeSession(State{
		SessionID:         "s-resume",
		Phase:             "submitting",
		TotalRecords:      100,
		ProcessedRecords:  40,
		SuccessfulRecords: 38,
		FailedRecords:     2,
		CurrentBatch:      4,
		TotalBatches:      10,
	})
	if err != nil {
		t.Fatalf("ResumeSession: %v", err)
	}

	state := tracker.Snapshot()
	if state.Status != domain.SessionActive {
		t.Errorf("Expected active after resume, got %s", state.Status)
	}
	if state.ProcessedRecords != 40 || state.SuccessfulRecords != 38 || state.FailedRecords != 2 {
		t.Errorf("Counters not seeded: %d/%d/%d",
			state.ProcessedRecords, state.SuccessfulRecords, state.FailedRecords)
	}
	if state.CurrentBatch != 4 {
		t.Errorf("Expected current batch 4, got %d", state.CurrentBatch)
	}

	tracker.RecordProcessed(true)
	state = tracker.Snapshot()
	if state.ProcessedRecords != 41 || state.SuccessfulRecords != 39 {
		t.Errorf("Expected counters to continue from seed, got %d/%d",
			state.ProcessedRecords, state.SuccessfulRecords)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tracker := NewTracker(Options{})
	tracker.StartSession("s-1", 10)
	tracker.ErrorOccurred("one", errors.New("x"))

	snap := tracker.Snapshot()
	snap.Errors[0].Context = "mutated"
	snap.ProcessedRecords = 999

	fresh := tracker.Snapshot()
	if fresh.Errors[0].Context != "one" {
		t.Error("Snapshot must be isolated from tracker state")
	}
	if fresh.ProcessedRecords != 0 {
		t.Error("Snapshot mutation leaked into tracker")
	}
}
