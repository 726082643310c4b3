package domain

// SessionStatus enumerates the lifecycle states of an import session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionShutdown  SessionStatus = "shutdown"
)

// Terminal reports whether no further session work is possible in this state.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionShutdown
}

// Import phases, in pipeline order. The progress tracker treats the phase as
// a free label; these are the values the orchestrator emits.
const (
	PhaseLoading       = "loading"
	PhaseValidating    = "validating"
	PhaseDeduplicating = "deduplicating"
	PhaseSubmitting    = "submitting"
	PhaseComplete      = "complete"
)
