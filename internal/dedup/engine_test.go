package dedup

import (
	"fmt"
	"testing"

	"github.com/ignite/list-loader/internal/domain"
)

func TestProcessBatchCaseInsensitiveEmail(t *testing.T) {
	records := make([]domain.ImportRecord, 0, 10)
	for i := 0; i < 8; i++ {
		records = append(records, domain.ImportRecord{
			LineNumber: i + 1,
			Email:      fmt.Sprintf("user%d@example.com", i),
		})
	}
	// Same address, different casing: the second is a duplicate.
	records = append(records, domain.ImportRecord{LineNumber: 9, Email: "Shared@Example.com"})
	records = append(records, domain.ImportRecord{LineNumber: 10, Email: "shared@example.COM"})

	engine := NewEngine(StrategyByEmail)
	result := engine.ProcessBatch(records)

	if len(result.Unique) != 9 {
		t.Errorf("Expected 9 unique records, got %d", len(result.Unique))
	}
	if len(result.Duplicates) != 1 {
		t.Fatalf("Expected 1 duplicate, got %d", len(result.Duplicates))
	}
	if result.Duplicates[0].Original.LineNumber != 9 {
		t.Errorf("Expected original to be line 9 (first seen), got line %d", result.Duplicates[0].Original.LineNumber)
	}
	if result.Duplicates[0].Record.LineNumber != 10 {
		t.Errorf("Expected duplicate to be line 10, got line %d", result.Duplicates[0].Record.LineNumber)
	}
}

func TestProcessBatchPreservesInputOrder(t *testing.T) {
	records := []domain.ImportRecord{
		{LineNumber: 1, Email: "c@example.com"},
		{LineNumber: 2, Email: "a@example.com"},
		{LineNumber: 3, Email: "b@example.com"},
	}

	engine := NewEngine(StrategyByEmail)
	result := engine.ProcessBatch(records)

	for i, record := range result.Unique {
		if record.LineNumber != i+1 {
			t.Fatalf("Unique[%d] has line %d, input order not preserved", i, record.LineNumber)
		}
	}
}

func TestEmptyKeysAlwaysUnique(t *testing.T) {
	records := []domain.ImportRecord{
		{LineNumber: 1},
		{LineNumber: 2},
		{LineNumber: 3},
	}

	engine := NewEngine(StrategyByEmail)
	result := engine.ProcessBatch(records)

	if len(result.Unique) != 3 {
		t.Errorf("Expected all 3 blank-key records unique, got %d", len(result.Unique))
	}
	if len(result.Duplicates) != 0 {
		t.Errorf("Expected no duplicates among blank keys, got %d", len(result.Duplicates))
	}
}

func TestLaterDuplicatesPointAtFirstSeen(t *testing.T) {
	engine := NewEngine(StrategyByEmail)

	first := engine.CheckDuplicate(domain.ImportRecord{LineNumber: 1, Email: "dup@example.com"})
	if first.IsDuplicate {
		t.Error("First occurrence must not be a duplicate")
	}
	if first.Original.LineNumber != 1 {
		t.Errorf("Unique record's original should be itself, got line %d", first.Original.LineNumber)
	}

	second := engine.CheckDuplicate(domain.ImportRecord{LineNumber: 2, Email: "dup@example.com"})
	third := engine.CheckDuplicate(domain.ImportRecord{LineNumber: 3, Email: "DUP@example.com"})

	if !second.IsDuplicate || !third.IsDuplicate {
		t.Fatal("Later occurrences must be duplicates")
	}
	if second.Original.LineNumber != 1 || third.Original.LineNumber != 1 {
		t.Error("All duplicates must point at the first-seen record, never at each other")
	}
	if second.DuplicateCount != 1 {
		t.Errorf("Expected duplicate count 1 on second occurrence, got %d", second.DuplicateCount)
	}
	if third.DuplicateCount != 2 {
		t.Errorf("Expected duplicate count 2 on third occurrence, got %d", third.DuplicateCount)
	}
}

func TestDeduplicationIsIdempotent(t *testing.T) {
	records := []domain.ImportRecord{
		{LineNumber: 1, Email: "a@example.com"},
		{LineNumber: 2, Email: "b@example.com"},
		{LineNumber: 3, Email: "A@example.com"},
		{LineNumber: 4},
		{LineNumber: 5, Email: "c@example.com"},
	}

	run := func() BatchResult {
		return NewEngine(StrategyByEmail).ProcessBatch(records)
	}

	first := run()
	second := run()

	if len(first.Unique) != len(second.Unique) || len(first.Duplicates) != len(second.Duplicates) {
		t.Fatalf("Partitions differ between runs: %d/%d vs %d/%d",
			len(first.Unique), len(first.Duplicates), len(second.Unique), len(second.Duplicates))
	}
	for i := range first.Unique {
		if first.Unique[i].LineNumber != second.Unique[i].LineNumber {
			t.Fatalf("Unique[%d] differs between runs", i)
		}
	}
	for i := range first.Duplicates {
		if first.Duplicates[i].Record.LineNumber != second.Duplicates[i].Record.LineNumber {
			t.Fatalf("Duplicates[%d] differs between runs", i)
		}
	}
}

func TestEmailPhoneStrategySplitsSharedEmail(t *testing.T) {
	records := []domain.ImportRecord{
		{LineNumber: 1, Email: "family@example.com", Phone: "(555) 123-4567"},
		{LineNumber: 2, Email: "family@example.com", Phone: "555-999-0000"},
		{LineNumber: 3, Email: "family@example.com", Phone: "5551234567"},
	}

	engine := NewEngine(StrategyByEmailPhone)
	result := engine.ProcessBatch(records)

	if len(result.Unique) != 2 {
		t.Errorf("Expected 2 unique records (distinct phones), got %d", len(result.Unique))
	}
	if len(result.Duplicates) != 1 {
		t.Fatalf("Expected 1 duplicate (same phone digits), got %d", len(result.Duplicates))
	}
	if result.Duplicates[0].Record.LineNumber != 3 {
		t.Errorf("Expected line 3 flagged (normalized phone matches line 1), got %d", result.Duplicates[0].Record.LineNumber)
	}
}

func TestAllFieldsStrategyNeedsFullMatch(t *testing.T) {
	base := domain.ImportRecord{
		Email:     "a@example.com",
		FirstName: "Ada",
		City:      "Austin",
	}
	sameCopy := base
	differentCity := base
	differentCity.City = "Dallas"

	engine := NewEngine(StrategyAllFields)
	result := engine.ProcessBatch([]domain.ImportRecord{base, sameCopy, differentCity})

	if len(result.Unique) != 2 {
		t.Errorf("Expected 2 unique records, got %d", len(result.Unique))
	}
	if len(result.Duplicates) != 1 {
		t.Errorf("Expected 1 duplicate for the identical copy, got %d", len(result.Duplicates))
	}
}

func TestSetStrategyClearsState(t *testing.T) {
	engine := NewEngine(StrategyByEmail)
	engine.CheckDuplicate(domain.ImportRecord{Email: "x@example.com"})

	engine.SetStrategy(StrategyAllFields)

	check := engine.CheckDuplicate(domain.ImportRecord{Email: "x@example.com"})
	if check.IsDuplicate {
		t.Error("State must be cleared when the strategy changes")
	}
	if engine.Strategy() != StrategyAllFields {
		t.Errorf("Expected all_fields strategy, got %s", engine.Strategy())
	}
}

func TestResetClearsState(t *testing.T) {
	engine := NewEngine(StrategyByEmail)
	engine.CheckDuplicate(domain.ImportRecord{Email: "x@example.com"})
	engine.Reset()

	check := engine.CheckDuplicate(domain.ImportRecord{Email: "x@example.com"})
	if check.IsDuplicate {
		t.Error("Expected no duplicates after reset")
	}

	stats := engine.Stats()
	if stats["checked"] != 1 {
		t.Errorf("Expected checked=1 after reset and one check, got %d", stats["checked"])
	}
}

func TestStats(t *testing.T) {
	engine := NewEngine(StrategyByEmail)
	engine.ProcessBatch([]domain.ImportRecord{
		{Email: "a@example.com"},
		{Email: "a@example.com"},
		{Email: "b@example.com"},
		{},
	})

	stats := engine.Stats()
	if stats["checked"] != 4 {
		t.Errorf("Expected checked=4, got %d", stats["checked"])
	}
	if stats["unique_keys"] != 2 {
		t.Errorf("Expected unique_keys=2, got %d", stats["unique_keys"])
	}
	if stats["duplicates"] != 1 {
		t.Errorf("Expected duplicates=1, got %d", stats["duplicates"])
	}
}

func TestFindPotentialDuplicates(t *testing.T) {
	records := []domain.ImportRecord{
		{LineNumber: 1, Email: "john.smith@example.com"},
		{LineNumber: 2, Email: "jon.smith@example.com"},
		{LineNumber: 3, Email: "completely.different@other.org"},
		{LineNumber: 4},
	}

	engine := NewEngine(StrategyByEmail)
	matches := engine.FindPotentialDuplicates(records, 0.9)

	if len(matches) != 1 {
		t.Fatalf("Expected 1 near-match, got %d", len(matches))
	}
	if matches[0].Record.LineNumber != 1 || matches[0].Candidate.LineNumber != 2 {
		t.Errorf("Expected lines 1 and 2 paired, got %d and %d",
			matches[0].Record.LineNumber, matches[0].Candidate.LineNumber)
	}
	if matches[0].Distance != 1 {
		t.Errorf("Expected edit distance 1, got %d", matches[0].Distance)
	}
	if matches[0].Similarity < 0.9 {
		t.Errorf("Expected similarity >= 0.9, got %f", matches[0].Similarity)
	}

	// Advisory only: the partition must not change.
	result := engine.ProcessBatch(records)
	if len(result.Unique) != 4 || len(result.Duplicates) != 0 {
		t.Errorf("Near-matches must not affect the partition: got %d unique, %d duplicates",
			len(result.Unique), len(result.Duplicates))
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"same", "same", 0},
		{"a@b.co", "a@b.io", 1},
	}

	for _, tc := range tests {
		if got := levenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
