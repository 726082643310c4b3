package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/list-loader/internal/checkpoint"
	"github.com/ignite/list-loader/internal/domain"
)

type checkResult struct {
	Name    string
	Passed  bool
	Detail  string
	Elapsed time.Duration
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: verify-checkpoint <session-id>")
		fmt.Fprintln(os.Stderr, "  CHECKPOINT_DIR              checkpoint directory (default ./checkpoints)")
		fmt.Fprintln(os.Stderr, "  CHECKPOINT_MAX_PER_SESSION  retention cap to verify against (default 10)")
		os.Exit(2)
	}
	sessionID := os.Args[1]

	dir := envOrDefault("CHECKPOINT_DIR", "./checkpoints")
	retention := envInt("CHECKPOINT_MAX_PER_SESSION", 10)

	fmt.Println("=========================================================")
	fmt.Println(" Checkpoint Integrity Verification")
	fmt.Println("=========================================================")
	fmt.Printf("Checkpoint dir:  %s\n", dir)
	fmt.Printf("Session:         %s\n", sessionID)
	fmt.Printf("Retention cap:   %d\n", retention)
	fmt.Println("---------------------------------------------------------")

	store, err := checkpoint.NewStore(dir, retention)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cannot open checkpoint store: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Checkpoint store opened")
	fmt.Println()

	var results []checkResult

	// Check 1: session has checkpoints at all
	results = append(results, checkCheckpointsExist(store, sessionID))

	// Check 2: the newest checkpoint loads and belongs to the session
	results = append(results, checkLatestLoads(store, sessionID))

	// Check 3: per-checkpoint record counts add up
	results = append(results, checkCountsConsistent(store, sessionID))

	// Check 4: progress never moves backwards between checkpoints
	results = append(results, checkProgressMonotonic(store, sessionID))

	// Check 5: the resume cursor is coherent with the snapshot
	results = append(results, checkCursorCoherent(store, sessionID))

	// Check 6: every checkpoint names the same source
	results = append(results, checkSourceIdentityStable(store, sessionID))

	// Check 7: the recorded status is a known session state
	results = append(results, checkStatusKnown(store, sessionID))

	// Check 8: retention pruning kept the series within its cap
	results = append(results, checkWithinRetention(store, sessionID, retention))

	// Print report
	fmt.Println()
	fmt.Println("=========================================================")
	fmt.Println(" VERIFICATION REPORT")
	fmt.Println("=========================================================")

	allPassed := true
	for i, r := range results {
		status := "PASS ✓"
		if !r.Passed {
			status = "FAIL ✗"
			allPassed = false
		}
		fmt.Printf("  [%d] %-45s %s  (%s)\n", i+1, r.Name, status, r.Elapsed.Round(time.Millisecond))
		if r.Detail != "" {
			for _, line := range strings.Split(r.Detail, "\n") {
				fmt.Printf("      %s\n", line)
			}
		}
	}

	fmt.Println("=========================================================")
	if allPassed {
		fmt.Println("  OVERALL: PASS ✓  — All verifications succeeded")
		fmt.Println("=========================================================")
		os.Exit(0)
	} else {
		fmt.Println("  OVERALL: FAIL ✗  — One or more verifications failed")
		fmt.Println("=========================================================")
		os.Exit(1)
	}
}

func checkCheckpointsExist(store *checkpoint.Store, sessionID string) checkResult {
	start := time.Now()
	name := "Session has checkpoints"

	cps, err := store.List(sessionID)
	if err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("List error: %v", err), Elapsed: time.Since(start)}
	}
	if len(cps) == 0 {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("No checkpoints found for session %s", sessionID), Elapsed: time.Since(start)}
	}
	return checkResult{Name: name, Passed: true, Detail: fmt.Sprintf("Found %d checkpoint(s)", len(cps)), Elapsed: time.Since(start)}
}

func checkLatestLoads(store *checkpoint.Store, sessionID string) checkResult {
	start := time.Now()
	name := "Latest checkpoint loads"

	cp, err := store.LoadLatest(sessionID)
	if err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("Load error: %v", err), Elapsed: time.Since(start)}
	}
	if cp == nil {
		return checkResult{Name: name, Passed: false, Detail: "No latest checkpoint", Elapsed: time.Since(start)}
	}
	if cp.SessionID != sessionID {
		return checkResult{Name: name, Passed: false,
			Detail: fmt.Sprintf("Checkpoint %s claims session %s", cp.ID, cp.SessionID), Elapsed: time.Since(start)}
	}

	detail := fmt.Sprintf("id=%s, taken=%s, phase=%s, status=%s",
		cp.ID, cp.Timestamp.Format(time.RFC3339), cp.State.Phase, cp.State.Status)
	return checkResult{Name: name, Passed: true, Detail: detail, Elapsed: time.Since(start)}
}

func checkCountsConsistent(store *checkpoint.Store, sessionID string) checkResult {
	start := time.Now()
	name := "Record counts are consistent"

	cps, err := store.List(sessionID)
	if err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("List error: %v", err), Elapsed: time.Since(start)}
	}

	var bad []string
	for _, cp := range cps {
		st := cp.State
		if st.SuccessfulRecords+st.FailedRecords != st.ProcessedRecords {
			bad = append(bad, fmt.Sprintf("%s: succeeded=%d + failed=%d != processed=%d",
				cp.ID, st.SuccessfulRecords, st.FailedRecords, st.ProcessedRecords))
		}
		if st.ProcessedRecords > st.TotalRecords {
			bad = append(bad, fmt.Sprintf("%s: processed=%d > total=%d",
				cp.ID, st.ProcessedRecords, st.TotalRecords))
		}
	}

	if len(bad) > 0 {
		return checkResult{Name: name, Passed: false, Detail: strings.Join(bad, "\n"), Elapsed: time.Since(start)}
	}
	return checkResult{Name: name, Passed: true, Detail: fmt.Sprintf("All %d checkpoint(s) add up", len(cps)), Elapsed: time.Since(start)}
}

func checkProgressMonotonic(store *checkpoint.Store, sessionID string) checkResult {
	start := time.Now()
	name := "Progress is monotonic"

	cps, err := store.List(sessionID)
	if err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("List error: %v", err), Elapsed: time.Since(start)}
	}

	// List is newest first, so processed counts must not increase as
	// the series gets older.
	var bad []string
	for i := 0; i+1 < len(cps); i++ {
		newer, older := cps[i], cps[i+1]
		if older.State.ProcessedRecords > newer.State.ProcessedRecords {
			bad = append(bad, fmt.Sprintf("%s (processed=%d) predates %s (processed=%d)",
				older.ID, older.State.ProcessedRecords, newer.ID, newer.State.ProcessedRecords))
		}
	}

	if len(bad) > 0 {
		return checkResult{Name: name, Passed: false, Detail: strings.Join(bad, "\n"), Elapsed: time.Since(start)}
	}
	return checkResult{Name: name, Passed: true, Detail: "Processed counts only move forward", Elapsed: time.Since(start)}
}

func checkCursorCoherent(store *checkpoint.Store, sessionID string) checkResult {
	start := time.Now()
	name := "Resume cursor is coherent"

	cps, err := store.List(sessionID)
	if err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("List error: %v", err), Elapsed: time.Since(start)}
	}

	var bad []string
	for _, cp := range cps {
		d := cp.SessionData
		if d.LastProcessedBatch < 0 || d.LastProcessedRecord < 0 {
			bad = append(bad, fmt.Sprintf("%s: negative cursor batch=%d record=%d",
				cp.ID, d.LastProcessedBatch, d.LastProcessedRecord))
			continue
		}
		if d.LastProcessedBatch > cp.State.CurrentBatch {
			bad = append(bad, fmt.Sprintf("%s: cursor batch=%d ahead of current batch=%d",
				cp.ID, d.LastProcessedBatch, cp.State.CurrentBatch))
		}
		// The cursor commits whole batches; batch and record advance together.
		if (d.LastProcessedBatch == 0) != (d.LastProcessedRecord == 0) {
			bad = append(bad, fmt.Sprintf("%s: half-advanced cursor batch=%d record=%d",
				cp.ID, d.LastProcessedBatch, d.LastProcessedRecord))
		}
	}

	if len(bad) > 0 {
		return checkResult{Name: name, Passed: false, Detail: strings.Join(bad, "\n"), Elapsed: time.Since(start)}
	}
	return checkResult{Name: name, Passed: true, Detail: fmt.Sprintf("All %d cursor(s) coherent", len(cps)), Elapsed: time.Since(start)}
}

func checkSourceIdentityStable(store *checkpoint.Store, sessionID string) checkResult {
	start := time.Now()
	name := "Source identity is stable"

	cps, err := store.List(sessionID)
	if err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("List error: %v", err), Elapsed: time.Since(start)}
	}
	if len(cps) == 0 {
		return checkResult{Name: name, Passed: false, Detail: "No checkpoints to compare", Elapsed: time.Since(start)}
	}

	identity := cps[0].SessionData.SourceIdentity
	if identity == "" {
		return checkResult{Name: name, Passed: false, Detail: "Latest checkpoint has no source identity", Elapsed: time.Since(start)}
	}
	for _, cp := range cps[1:] {
		if cp.SessionData.SourceIdentity != identity {
			return checkResult{Name: name, Passed: false,
				Detail: fmt.Sprintf("%s names %q, latest names %q", cp.ID, cp.SessionData.SourceIdentity, identity),
				Elapsed: time.Since(start)}
		}
	}
	return checkResult{Name: name, Passed: true, Detail: fmt.Sprintf("All checkpoints name %q", identity), Elapsed: time.Since(start)}
}

func checkStatusKnown(store *checkpoint.Store, sessionID string) checkResult {
	start := time.Now()
	name := "Recorded status is a known state"

	cp, err := store.LoadLatest(sessionID)
	if err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("Load error: %v", err), Elapsed: time.Since(start)}
	}
	if cp == nil {
		return checkResult{Name: name, Passed: false, Detail: "No latest checkpoint", Elapsed: time.Since(start)}
	}

	switch cp.State.Status {
	case domain.SessionIdle, domain.SessionActive, domain.SessionPaused,
		domain.SessionCompleted, domain.SessionFailed, domain.SessionShutdown:
	default:
		return checkResult{Name: name, Passed: false,
			Detail: fmt.Sprintf("Unknown status %q in %s", cp.State.Status, cp.ID), Elapsed: time.Since(start)}
	}

	detail := fmt.Sprintf("status=%s, concluded (no resume possible)", cp.State.Status)
	if cp.Resumable() {
		detail = fmt.Sprintf("status=%s, resumable: %d of %d records processed, cursor at record %d",
			cp.State.Status, cp.State.ProcessedRecords, cp.State.TotalRecords, cp.SessionData.LastProcessedRecord)
	}
	return checkResult{Name: name, Passed: true, Detail: detail, Elapsed: time.Since(start)}
}

func checkWithinRetention(store *checkpoint.Store, sessionID string, retention int) checkResult {
	start := time.Now()
	name := fmt.Sprintf("Checkpoint count within cap (%d)", retention)

	cps, err := store.List(sessionID)
	if err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("List error: %v", err), Elapsed: time.Since(start)}
	}

	if len(cps) > retention {
		return checkResult{Name: name, Passed: false,
			Detail: fmt.Sprintf("%d checkpoint(s) on disk, retention should have pruned to %d", len(cps), retention),
			Elapsed: time.Since(start)}
	}
	return checkResult{Name: name, Passed: true, Detail: fmt.Sprintf("%d of %d slots used", len(cps), retention), Elapsed: time.Since(start)}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
