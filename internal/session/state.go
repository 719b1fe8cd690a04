package session

import "time"

// State is the lifecycle phase of a recording session.
type State string

const (
	StateCapturing    State = "capturing"
	StateStopping     State = "stopping"
	StateTranscribing State = "transcribing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateAborted      State = "aborted"
)

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateAborted:
		return true
	}
	return false
}

// Session is one press-to-release recording and its outcome.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	State     State

	// AudioPath is the temporary recording. It no longer exists once the
	// session is terminal.
	AudioPath string

	// Text is the transcript delivered by a completed session.
	Text string

	// Err explains a failed session.
	Err error
}

// isValidTransition enforces the session state machine edges.
func isValidTransition(from, to State) bool {
	switch from {
	case StateCapturing:
		return to == StateStopping || to == StateFailed || to == StateAborted
	case StateStopping:
		return to == StateTranscribing || to == StateFailed || to == StateAborted
	case StateTranscribing:
		return to == StateCompleted || to == StateFailed
	default:
		return false
	}
}
