// Package dedup partitions record sequences into unique records and
// duplicates using a pluggable key strategy.
package dedup

import (
	"sync"

	"github.com/ignite/list-loader/internal/domain"
)

// CheckResult is the verdict for one record.
type CheckResult struct {
	IsDuplicate bool

	// Original is the first-seen record for the key. For a unique
	// record it is the record itself.
	Original domain.ImportRecord

	// DuplicateCount is how many duplicates of this key have been seen
	// so far, including the checked record when it is one.
	DuplicateCount int

	// Key is the derived deduplication key, empty when underivable.
	Key string
}

// DuplicateRecord pairs a detected duplicate with its original.
type DuplicateRecord struct {
	Record   domain.ImportRecord
	Original domain.ImportRecord
	Key      string
}

// BatchResult is an order-preserving partition of one input sequence.
type BatchResult struct {
	Unique     []domain.ImportRecord
	Duplicates []DuplicateRecord
}

type keyGroup struct {
	original    domain.ImportRecord
	occurrences int
}

// Engine accumulates keys in input order. The first occurrence of a
// key is the original for every later occurrence; duplicates are never
// grouped with each other, only with the original.
type Engine struct {
	mu       sync.Mutex
	strategy Strategy
	seen     map[string]*keyGroup

	checked    int64
	duplicates int64
}

// NewEngine creates an engine with the given key strategy. An invalid
// strategy falls back to by-email.
func NewEngine(strategy Strategy) *Engine {
	if !strategy.Valid() {
		strategy = StrategyByEmail
	}
	return &Engine{
		strategy: strategy,
		seen:     make(map[string]*keyGroup),
	}
}

// Strategy returns the active key strategy.
func (e *Engine) Strategy() Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategy
}

// SetStrategy switches the key strategy. Keys derived under the old
// strategy are meaningless under the new one, so accumulated state is
// cleared as part of the switch.
func (e *Engine) SetStrategy(strategy Strategy) {
	if !strategy.Valid() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategy = strategy
	e.resetLocked()
}

// Reset clears all accumulated keys and counters.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.seen = make(map[string]*keyGroup)
	e.checked = 0
	e.duplicates = 0
}

// CheckDuplicate records the given record and reports whether a record
// with the same key was seen before. Records with an underivable key
// are always unique and never enter any group.
func (e *Engine) CheckDuplicate(record domain.ImportRecord) CheckResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.checked++
	key := e.strategy.Key(record)
	if key == "" {
		return CheckResult{Original: record}
	}

	group, ok := e.seen[key]
	if !ok {
		e.seen[key] = &keyGroup{original: record, occurrences: 1}
		return CheckResult{Original: record, Key: key}
	}

	group.occurrences++
	e.duplicates++
	return CheckResult{
		IsDuplicate:    true,
		Original:       group.original,
		DuplicateCount: group.occurrences - 1,
		Key:            key,
	}
}

// ProcessBatch partitions records into unique and duplicate subsets,
// preserving input order within each subset.
func (e *Engine) ProcessBatch(records []domain.ImportRecord) BatchResult {
	result := BatchResult{
		Unique: make([]domain.ImportRecord, 0, len(records)),
	}

	for _, record := range records {
		check := e.CheckDuplicate(record)
		if check.IsDuplicate {
			result.Duplicates = append(result.Duplicates, DuplicateRecord{
				Record:   record,
				Original: check.Original,
				Key:      check.Key,
			})
			continue
		}
		result.Unique = append(result.Unique, record)
	}

	return result
}

// Stats reports engine counters for observability.
func (e *Engine) Stats() map[string]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]int64{
		"checked":     e.checked,
		"unique_keys": int64(len(e.seen)),
		"duplicates":  e.duplicates,
	}
}
