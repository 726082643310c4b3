package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/pkg/logger"
	"github.com/ignite/list-loader/internal/progress"
)

const checkpointFilePrefix = "checkpoint_"

// Store writes checkpoints under baseDir, one subdirectory per
// session. Concurrent saves for the same session serialize; different
// sessions do not contend.
type Store struct {
	baseDir   string
	retention int

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	log *logger.Logger
}

// NewStore creates the base directory if needed. retention is the
// number of checkpoints kept per session; values below 1 fall back
// to 10.
func NewStore(baseDir string, retention int) (*Store, error) {
	if retention < 1 {
		retention = 10
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("checkpoint: create base dir: %w", err)
	}
	return &Store{
		baseDir:   baseDir,
		retention: retention,
		locks:     make(map[string]*sync.Mutex),
		log:       logger.With("checkpoint"),
	}, nil
}

func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

// Dir returns the base directory checkpoints are written under.
func (s *Store) Dir() string {
	return s.baseDir
}

// ========== Save Methods ==========

// Save snapshots the given state and resume data as a new checkpoint
// and prunes the oldest past retention.
func (s *Store) Save(state progress.State, data SessionData, metadata map[string]string) (*Checkpoint, error) {
	if state.SessionID == "" {
		return nil, fmt.Errorf("checkpoint: state has no session id")
	}

	now := time.Now()
	cp := &Checkpoint{
		ID:          "cp-" + uuid.NewString(),
		Timestamp:   now,
		SessionID:   state.SessionID,
		State:       snapshotFromState(state, now),
		SessionData: data,
		Metadata:    metadata,
	}

	lock := s.sessionLock(cp.SessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(cp.SessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("checkpoint: create session dir: %w", err)
	}
	if err := s.writeFile(dir, cp); err != nil {
		return nil, err
	}
	if err := s.pruneLocked(dir); err != nil {
		s.log.Warn("checkpoint prune failed", "session_id", cp.SessionID, "error", err.Error())
	}

	s.log.Debug("checkpoint saved",
		"session_id", cp.SessionID,
		"checkpoint_id", cp.ID,
		"processed", cp.State.ProcessedRecords,
		"total", cp.State.TotalRecords)
	return cp, nil
}

func (s *Store) writeFile(dir string, cp *Checkpoint) error {
	path := filepath.Join(dir, checkpointFilePrefix+cp.ID+".json")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint: create file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	return nil
}

// pruneLocked drops the oldest checkpoints beyond retention. Caller
// holds the session lock.
func (s *Store) pruneLocked(dir string) error {
	cps, err := s.readDir(dir)
	if err != nil {
		return err
	}
	if len(cps) <= s.retention {
		return nil
	}
	// readDir returns newest first; everything past retention goes.
	for _, old := range cps[s.retention:] {
		path := filepath.Join(dir, checkpointFilePrefix+old.ID+".json")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// ========== Load Methods ==========

// LoadLatest returns the newest checkpoint for the session, or
// (nil, nil) when the session has none.
func (s *Store) LoadLatest(sessionID string) (*Checkpoint, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	cps, err := s.readDir(s.sessionDir(sessionID))
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, nil
	}
	return cps[0], nil
}

// Load fetches one checkpoint by id.
func (s *Store) Load(sessionID, checkpointID string) (*Checkpoint, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(s.sessionDir(sessionID), checkpointFilePrefix+checkpointID+".json")
	cp, err := s.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %s: %w", checkpointID, err)
	}
	return cp, nil
}

// List returns the session's checkpoints newest first.
func (s *Store) List(sessionID string) ([]*Checkpoint, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return s.readDir(s.sessionDir(sessionID))
}

// readDir loads every parseable checkpoint in dir, newest first.
// Corrupt or foreign files are skipped, not fatal: one bad write
// must not strand the whole session.
func (s *Store) readDir(dir string) ([]*Checkpoint, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: read dir: %w", err)
	}

	var cps []*Checkpoint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, checkpointFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		cp, err := s.readFile(filepath.Join(dir, name))
		if err != nil {
			s.log.Warn("skipping unreadable checkpoint", "file", name, "error", err.Error())
			continue
		}
		cps = append(cps, cp)
	}

	sort.Slice(cps, func(i, j int) bool {
		return cps[i].Timestamp.After(cps[j].Timestamp)
	})
	return cps, nil
}

func (s *Store) readFile(path string) (*Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// ========== Session Methods ==========

// Sessions lists every session id with at least one checkpoint.
func (s *Store) Sessions() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: read base dir: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// FindResumableSessions returns the newest checkpoint of every
// session that still has work left, ordered newest first across
// sessions. Shutdown and interrupted sessions qualify; completed and
// failed ones do not.
func (s *Store) FindResumableSessions() ([]*Checkpoint, error) {
	ids, err := s.Sessions()
	if err != nil {
		return nil, err
	}

	var resumable []*Checkpoint
	for _, id := range ids {
		cp, err := s.LoadLatest(id)
		if err != nil {
			s.log.Warn("skipping session with unreadable checkpoints", "session_id", id, "error", err.Error())
			continue
		}
		if cp == nil || !cp.Resumable() {
			continue
		}
		resumable = append(resumable, cp)
	}

	sort.Slice(resumable, func(i, j int) bool {
		return resumable[i].Timestamp.After(resumable[j].Timestamp)
	})
	return resumable, nil
}

// DeleteSession removes the session's checkpoint directory. Callers
// use it after a confirmed successful completion.
func (s *Store) DeleteSession(sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("checkpoint: delete session %s: %w", sessionID, err)
	}
	s.log.Info("session checkpoints deleted", "session_id", sessionID)
	return nil
}

// MarkConcluded rewrites nothing; it saves one final checkpoint with
// the concluded status so FindResumableSessions stops offering the
// session. Useful when the tracker finished but the last periodic
// save predates the terminal transition.
func (s *Store) MarkConcluded(state progress.State, data SessionData) error {
	switch state.Status {
	case domain.SessionCompleted, domain.SessionFailed:
	default:
		return fmt.Errorf("checkpoint: cannot conclude session in status %q", state.Status)
	}
	_, err := s.Save(state, data, map[string]string{"final": "true"})
	return err
}
