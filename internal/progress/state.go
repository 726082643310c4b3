package progress

import (
	"time"

	"github.com/ignite/list-loader/internal/domain"
)

// ErrorEntry is one recorded failure, bounded to the most recent few
// for display.
type ErrorEntry struct {
	Time    time.Time
	Context string
	Message string
}

// WarningEntry is one recorded data-quality warning.
type WarningEntry struct {
	Time    time.Time
	Message string
}

// State is the tracker's aggregate. Counters are the source of truth;
// everything derived is computed on read so it can never drift.
type State struct {
	SessionID string
	Phase     string
	Status    domain.SessionStatus

	TotalRecords      int
	ProcessedRecords  int
	SuccessfulRecords int
	FailedRecords     int
	DuplicateRecords  int

	CurrentBatch int
	TotalBatches int

	StartTime time.Time
	EndTime   time.Time

	Errors   []ErrorEntry
	Warnings []WarningEntry
}

// Metrics are derived from State counters and the clock.
type Metrics struct {
	Elapsed                time.Duration
	RecordsPerSecond       float64
	SuccessRate            float64
	ErrorRate              float64
	PercentComplete        float64
	EstimatedTimeRemaining time.Duration
}

// MetricsAt computes the derived view of s at the given instant.
func (s *State) MetricsAt(now time.Time) Metrics {
	var m Metrics

	if s.StartTime.IsZero() {
		return m
	}

	end := now
	if !s.EndTime.IsZero() {
		end = s.EndTime
	}
	m.Elapsed = end.Sub(s.StartTime)

	if secs := m.Elapsed.Seconds(); secs > 0 {
		m.RecordsPerSecond = float64(s.ProcessedRecords) / secs
	}
	if s.ProcessedRecords > 0 {
		m.SuccessRate = float64(s.SuccessfulRecords) / float64(s.ProcessedRecords)
		m.ErrorRate = float64(s.FailedRecords) / float64(s.ProcessedRecords)
	}
	if s.TotalRecords > 0 {
		m.PercentComplete = float64(s.ProcessedRecords) / float64(s.TotalRecords) * 100

		remaining := s.TotalRecords - s.ProcessedRecords
		if remaining > 0 && m.RecordsPerSecond > 0 {
			m.EstimatedTimeRemaining = time.Duration(float64(remaining) / m.RecordsPerSecond * float64(time.Second))
		}
	}

	return m
}

// clone returns a deep copy safe to hand to observers.
func (s *State) clone() State {
	out := *s
	out.Errors = append([]ErrorEntry(nil), s.Errors...)
	out.Warnings = append([]WarningEntry(nil), s.Warnings...)
	return out
}
