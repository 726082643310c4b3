package main

import (
	"strings"
	"testing"
	"time"

	"github.com/ignite/list-loader/internal/checkpoint"
	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/progress"
)

func testStore(t *testing.T, retention int) *checkpoint.Store {
	t.Helper()
	store, err := checkpoint.NewStore(t.TempDir(), retention)
	if err != nil {
		t.Fatalf("cannot open store: %v", err)
	}
	return store
}

func save(t *testing.T, store *checkpoint.Store, sessionID string, processed, succeeded, total, batch, cursor int) {
	t.Helper()
	state := progress.State{
		SessionID:         sessionID,
		Phase:             domain.PhaseSubmitting,
		Status:            domain.SessionActive,
		TotalRecords:      total,
		ProcessedRecords:  processed,
		SuccessfulRecords: succeeded,
		FailedRecords:     processed - succeeded,
		CurrentBatch:      batch,
		StartTime:         time.Now().Add(-time.Minute),
	}
	data := checkpoint.SessionData{
		SourceIdentity:      "/data/subscribers.csv",
		LastProcessedBatch:  batch,
		LastProcessedRecord: cursor,
	}
	if _, err := store.Save(state, data, nil); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	// Timestamps order the series; keep saves distinct.
	time.Sleep(2 * time.Millisecond)
}

func TestAllChecksPassOnHealthySession(t *testing.T) {
	store := testStore(t, 10)
	save(t, store, "sess-ok", 100, 98, 500, 1, 100)
	save(t, store, "sess-ok", 200, 196, 500, 2, 200)
	save(t, store, "sess-ok", 300, 294, 500, 3, 300)

	checks := []checkResult{
		checkCheckpointsExist(store, "sess-ok"),
		checkLatestLoads(store, "sess-ok"),
		checkCountsConsistent(store, "sess-ok"),
		checkProgressMonotonic(store, "sess-ok"),
		checkCursorCoherent(store, "sess-ok"),
		checkSourceIdentityStable(store, "sess-ok"),
		checkStatusKnown(store, "sess-ok"),
		checkWithinRetention(store, "sess-ok", 10),
	}
	for _, r := range checks {
		if !r.Passed {
			t.Errorf("%s failed: %s", r.Name, r.Detail)
		}
		if r.Name == "" {
			t.Error("expected non-empty check name")
		}
	}
}

func TestMissingSessionFailsExistenceCheck(t *testing.T) {
	store := testStore(t, 10)

	r := checkCheckpointsExist(store, "sess-ghost")
	if r.Passed {
		t.Error("expected existence check to fail for unknown session")
	}
}

func TestInconsistentCountsDetected(t *testing.T) {
	store := testStore(t, 10)

	state := progress.State{
		SessionID:         "sess-bad-counts",
		Phase:             domain.PhaseSubmitting,
		Status:            domain.SessionActive,
		TotalRecords:      500,
		ProcessedRecords:  100,
		SuccessfulRecords: 90,
		FailedRecords:     3, // 90 + 3 != 100
		CurrentBatch:      1,
		StartTime:         time.Now().Add(-time.Minute),
	}
	data := checkpoint.SessionData{SourceIdentity: "/data/subscribers.csv", LastProcessedBatch: 1, LastProcessedRecord: 100}
	if _, err := store.Save(state, data, nil); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	r := checkCountsConsistent(store, "sess-bad-counts")
	if r.Passed {
		t.Error("expected count check to fail when succeeded+failed != processed")
	}
}

func TestOverrunProcessedDetected(t *testing.T) {
	store := testStore(t, 10)

	state := progress.State{
		SessionID:         "sess-overrun",
		Phase:             domain.PhaseSubmitting,
		Status:            domain.SessionActive,
		TotalRecords:      100,
		ProcessedRecords:  150,
		SuccessfulRecords: 150,
		CurrentBatch:      2,
		StartTime:         time.Now().Add(-time.Minute),
	}
	data := checkpoint.SessionData{SourceIdentity: "/data/subscribers.csv", LastProcessedBatch: 2, LastProcessedRecord: 150}
	if _, err := store.Save(state, data, nil); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	r := checkCountsConsistent(store, "sess-overrun")
	if r.Passed {
		t.Error("expected count check to fail when processed > total")
	}
}

func TestMixedSourceIdentityDetected(t *testing.T) {
	store := testStore(t, 10)
	save(t, store, "sess-mixed", 100, 100, 500, 1, 100)

	state := progress.State{
		SessionID:         "sess-mixed",
		Phase:             domain.PhaseSubmitting,
		Status:            domain.SessionActive,
		TotalRecords:      500,
		ProcessedRecords:  200,
		SuccessfulRecords: 200,
		CurrentBatch:      2,
		StartTime:         time.Now().Add(-time.Minute),
	}
	data := checkpoint.SessionData{SourceIdentity: "/data/other.csv", LastProcessedBatch: 2, LastProcessedRecord: 200}
	if _, err := store.Save(state, data, nil); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	r := checkSourceIdentityStable(store, "sess-mixed")
	if r.Passed {
		t.Error("expected identity check to fail when checkpoints name different sources")
	}
}

func TestHalfAdvancedCursorDetected(t *testing.T) {
	store := testStore(t, 10)

	state := progress.State{
		SessionID:         "sess-cursor",
		Phase:             domain.PhaseSubmitting,
		Status:            domain.SessionActive,
		TotalRecords:      500,
		ProcessedRecords:  100,
		SuccessfulRecords: 100,
		CurrentBatch:      1,
		StartTime:         time.Now().Add(-time.Minute),
	}
	data := checkpoint.SessionData{SourceIdentity: "/data/subscribers.csv", LastProcessedBatch: 0, LastProcessedRecord: 100}
	if _, err := store.Save(state, data, nil); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	r := checkCursorCoherent(store, "sess-cursor")
	if r.Passed {
		t.Error("expected cursor check to fail when record advanced without its batch")
	}
}

func TestConcludedSessionReportsNotResumable(t *testing.T) {
	store := testStore(t, 10)

	state := progress.State{
		SessionID:         "sess-done",
		Phase:             domain.PhaseComplete,
		Status:            domain.SessionCompleted,
		TotalRecords:      500,
		ProcessedRecords:  500,
		SuccessfulRecords: 500,
		CurrentBatch:      5,
		StartTime:         time.Now().Add(-time.Minute),
	}
	data := checkpoint.SessionData{SourceIdentity: "/data/subscribers.csv", LastProcessedBatch: 5, LastProcessedRecord: 500}
	if _, err := store.Save(state, data, nil); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	r := checkStatusKnown(store, "sess-done")
	if !r.Passed {
		t.Errorf("status check failed: %s", r.Detail)
	}
	if want := "concluded"; !strings.Contains(r.Detail, want) {
		t.Errorf("detail %q does not mention %q", r.Detail, want)
	}
}

func TestRetentionOverflowDetected(t *testing.T) {
	// Store retention is looser than the verified cap, so extra files survive.
	store := testStore(t, 20)
	for i := 1; i <= 12; i++ {
		save(t, store, "sess-full", i*10, i*10, 500, i, i*10)
	}

	r := checkWithinRetention(store, "sess-full", 10)
	if r.Passed {
		t.Error("expected retention check to fail with 12 checkpoints against a cap of 10")
	}

	r = checkWithinRetention(store, "sess-full", 12)
	if !r.Passed {
		t.Errorf("retention check failed at its own cap: %s", r.Detail)
	}
}
