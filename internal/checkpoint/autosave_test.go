package checkpoint

import (
	"sync"
	"testing"
	"time"

	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/progress"
)

// snapshotSource is a mutable stand-in for the importer's tracker.
type snapshotSource struct {
	mu    sync.Mutex
	state progress.State
	data  SessionData
}

func (s *snapshotSource) snapshot() (progress.State, SessionData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.data
}

func (s *snapshotSource) setStatus(status domain.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Status = status
}

func (s *snapshotSource) advance(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ProcessedRecords += n
	s.state.SuccessfulRecords += n
	s.data.LastProcessedRecord += n
}

func TestAutoSaverSavesWhileActive(t *testing.T) {
	store, err := NewStore(t.TempDir(), 20)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	src := &snapshotSource{
		state: activeState("sess-auto", 0, 100),
		data:  SessionData{SourceIdentity: "file:list.csv", LastProcessedRecord: -1},
	}

	saver := NewAutoSaver(store, src.snapshot, 100*time.Millisecond)
	for i := 0; i < 4; i++ {
		time.Sleep(110 * time.Millisecond)
		src.advance(10)
	}
	saver.Stop()

	cps, err := store.List("sess-auto")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(cps) < 2 {
		t.Fatalf("Expected at least 2 periodic checkpoints, got %d", len(cps))
	}

	latest, err := store.LoadLatest("sess-auto")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if latest.State.ProcessedRecords == 0 {
		t.Error("Expected latest checkpoint to reflect advanced progress")
	}
}

func TestAutoSaverSkipsWhenNotActive(t *testing.T) {
	store, err := NewStore(t.TempDir(), 20)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	src := &snapshotSource{state: activeState("sess-paused", 10, 100)}
	src.setStatus(domain.SessionPaused)

	saver := NewAutoSaver(store, src.snapshot, 100*time.Millisecond)
	time.Sleep(350 * time.Millisecond)
	saver.Stop()

	cps, err := store.List("sess-paused")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(cps) != 0 {
		t.Errorf("Expected no checkpoints while paused, got %d", len(cps))
	}
}

func TestAutoSaverStopsOnPauseAndResumes(t *testing.T) {
	store, err := NewStore(t.TempDir(), 50)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	src := &snapshotSource{state: activeState("sess-pause-resume", 0, 100)}
	saver := NewAutoSaver(store, src.snapshot, 100*time.Millisecond)

	time.Sleep(250 * time.Millisecond)
	src.setStatus(domain.SessionPaused)
	time.Sleep(50 * time.Millisecond)

	cps, err := store.List("sess-pause-resume")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	baseline := len(cps)
	if baseline == 0 {
		t.Fatal("Expected checkpoints before pause")
	}

	time.Sleep(300 * time.Millisecond)
	cps, err = store.List("sess-pause-resume")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(cps) != baseline {
		t.Errorf("Expected checkpoint count frozen at %d during pause, got %d", baseline, len(cps))
	}

	src.setStatus(domain.SessionActive)
	time.Sleep(250 * time.Millisecond)
	saver.Stop()

	cps, err = store.List("sess-pause-resume")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(cps) <= baseline {
		t.Errorf("Expected saves to resume after unpause, still at %d", len(cps))
	}
}

func TestAutoSaverStopIdempotent(t *testing.T) {
	store, err := NewStore(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	src := &snapshotSource{state: activeState("sess-stop", 0, 10)}
	saver := NewAutoSaver(store, src.snapshot, 100*time.Millisecond)

	saver.Stop()
	saver.Stop()

	done := make(chan struct{})
	go func() {
		saver.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked after prior Stop")
	}
}
