package model

import (
	"time"

	"github.com/google/uuid"
)

// EventKind enumerates the monitored client events.
type EventKind string

const (
	EventVisibilityHidden   EventKind = "visibility-hidden"
	EventWindowBlur         EventKind = "window-blur"
	EventCopyAttempt        EventKind = "copy-attempt"
	EventPasteAttempt       EventKind = "paste-attempt"
	EventRestrictedShortcut EventKind = "restricted-shortcut"
)

// IsFocusLoss reports whether the event means the user left the assessment window.
func (k EventKind) IsFocusLoss() bool {
	return k == EventVisibilityHidden || k == EventWindowBlur
}

// IsClipboard reports whether the event is gated by the copy/paste policy.
func (k EventKind) IsClipboard() bool {
	return k == EventCopyAttempt || k == EventPasteAttempt || k == EventRestrictedShortcut
}

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	return k.IsFocusLoss() || k.IsClipboard()
}

// Severity classifies a logged proctoring event.
type Severity string

const (
	SeverityWarning   Severity = "WARNING"
	SeverityViolation Severity = "VIOLATION"
)

// ProctorEvent is an audit record of one warning or violation.
type ProctorEvent struct {
	ID           uuid.UUID `json:"id"`
	AssessmentID string    `json:"assessment_id"`
	UserID       string    `json:"user_id"`
	Kind         EventKind `json:"kind"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// ProctorEventCount aggregates a user's logged events for one assessment.
type ProctorEventCount struct {
	UserID     string `json:"user_id"`
	Warnings   int64  `json:"warnings"`
	Violations int64  `json:"violations"`
}
