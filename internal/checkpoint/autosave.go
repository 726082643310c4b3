package checkpoint

import (
	"sync"
	"time"

	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/pkg/logger"
	"github.com/ignite/list-loader/internal/progress"
)

// Snapshot supplies the current state and resume data for a periodic
// save. The importer wires this to its tracker and batch cursor.
type Snapshot func() (progress.State, SessionData)

// AutoSaver saves a checkpoint on a fixed interval while the session
// is active. Paused and concluded sessions are not saved: their last
// checkpoint already reflects the frozen counters.
type AutoSaver struct {
	store    *Store
	snapshot Snapshot
	interval time.Duration

	stopOnce sync.Once
	done     chan struct{}
	finished chan struct{}

	log *logger.Logger
}

// NewAutoSaver starts the save loop immediately. Intervals below
// 100ms are raised to keep disk churn bounded.
func NewAutoSaver(store *Store, snapshot Snapshot, interval time.Duration) *AutoSaver {
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	a := &AutoSaver{
		store:    store,
		snapshot: snapshot,
		interval: interval,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		log:      logger.With("checkpoint"),
	}
	go a.run()
	return a
}

func (a *AutoSaver) run() {
	defer close(a.finished)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.saveIfActive()
		}
	}
}

func (a *AutoSaver) saveIfActive() {
	state, data := a.snapshot()
	if state.Status != domain.SessionActive {
		return
	}
	if _, err := a.store.Save(state, data, nil); err != nil {
		a.log.Warn("periodic checkpoint failed", "session_id", state.SessionID, "error", err.Error())
	}
}

// Stop halts the loop and waits for an in-flight save to finish.
// Safe to call more than once.
func (a *AutoSaver) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
	<-a.finished
}
