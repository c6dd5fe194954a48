package model

import "time"

// SessionStatus enumerates the controller state machine:
// NotStarted → Running → Submitting → Terminal.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "NOT_STARTED"
	SessionStatusRunning    SessionStatus = "RUNNING"
	SessionStatusSubmitting SessionStatus = "SUBMITTING"
	SessionStatusTerminal   SessionStatus = "TERMINAL"
)

// SubmitReason records why a session was submitted.
type SubmitReason string

const (
	SubmitReasonManual         SubmitReason = "manual"
	SubmitReasonTimeout        SubmitReason = "timeout"
	SubmitReasonNavigationExit SubmitReason = "navigation-exit"
)

// Valid reports whether r is one of the known reasons.
func (r SubmitReason) Valid() bool {
	switch r {
	case SubmitReasonManual, SubmitReasonTimeout, SubmitReasonNavigationExit:
		return true
	}
	return false
}

// Direction is a navigation step through the question list.
type Direction int

const (
	DirectionBackward Direction = -1
	DirectionForward  Direction = 1
)

// LogEntry is one warning or violation.
type LogEntry struct {
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState is the in-progress state of one assessment attempt.
type SessionState struct {
	AssessmentID         string            `json:"assessmentId"`
	StartedAt            time.Time         `json:"startedAt"`
	RemainingSeconds     int               `json:"remainingSeconds"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	Answers              map[string]Answer `json:"answers"`
	Warnings             []LogEntry        `json:"warnings"`
	Violations           []LogEntry        `json:"violations"`
}

// Clone returns a deep copy safe to hand outside the controller.
func (s *SessionState) Clone() SessionState {
	out := *s
	out.Answers = make(map[string]Answer, len(s.Answers))
	for k, v := range s.Answers {
		out.Answers[k] = v
	}
	out.Warnings = append([]LogEntry{}, s.Warnings...)
	out.Violations = append([]LogEntry{}, s.Violations...)
	return out
}

// SessionSnapshot is a read-only view of a controller.
type SessionSnapshot struct {
	Status SessionStatus  `json:"status"`
	State  SessionState   `json:"state"`
	Result *SubmitResult  `json:"result,omitempty"`
	Policy SecurityPolicy `json:"securityPolicy"`
}
