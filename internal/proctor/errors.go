package proctor

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/assessment"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Errors reported by the assessment service on start.
var (
	ErrNotFound         = assessment.ErrNotFound
	ErrAlreadyCompleted = assessment.ErrAlreadyCompleted
)

// Session state errors.
var (
	ErrInvalidSessionState = errors.New("invalid session state")
	ErrUnansweredQuestion  = errors.New("current question is unanswered")
	ErrUnknownQuestion     = errors.New("question does not belong to this assessment")
	ErrInvalidAnswer       = errors.New("answer does not match question type")
	ErrUnknownEvent        = errors.New("unknown monitor event")
	ErrInvalidDirection    = errors.New("invalid navigation direction")
	ErrInvalidReason       = errors.New("invalid submit reason")
	ErrSessionActive       = errors.New("another session is already active for this user")
)

// ErrSubmitFailed marks a submission that was not delivered. Unlike
// best-effort operations it is always returned to the caller.
var ErrSubmitFailed = errors.New("submission not delivered")

// StateError is returned when an operation is not accepted in the current state.
type StateError struct {
	Op     string
	Status model.SessionStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not allowed in state %s", e.Op, e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidSessionState }

// BestEffortError wraps a failure of an operation whose outcome never
// affects session correctness (fullscreen enter/exit, autosave, cache mirror).
// It is logged, never returned from a controller method.
type BestEffortError struct {
	Op  string
	Err error
}

func (e *BestEffortError) Error() string {
	return fmt.Sprintf("best-effort %s: %v", e.Op, e.Err)
}

func (e *BestEffortError) Unwrap() error { return e.Err }
