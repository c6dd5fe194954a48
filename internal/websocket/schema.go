package websocket

import (
	"encoding/json"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer        Action = "answer"
	ActionAdvance       Action = "advance"
	ActionMonitor       Action = "monitor"
	ActionSubmit        Action = "submit"
	ActionFullscreenAck Action = "fullscreen_ack"
	ActionPing          Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action" binding:"required"`
}

// AnswerRequest records the answer to one question.
type AnswerRequest struct {
	Action     Action       `json:"action"`
	QuestionID string       `json:"questionId" binding:"required,max=128"`
	Answer     model.Answer `json:"answer"`
}

// AdvanceRequest moves one question forward (1) or backward (-1).
type AdvanceRequest struct {
	Action    Action `json:"action"`
	Direction int    `json:"direction" binding:"required,oneof=-1 1"`
}

// MonitorRequest reports a monitored browser event.
type MonitorRequest struct {
	Action Action `json:"action"`
	Event  string `json:"event" binding:"required,event_kind"`
}

// SubmitRequest finishes the session. Reason defaults to manual.
type SubmitRequest struct {
	Action Action `json:"action"`
	Reason string `json:"reason" binding:"omitempty,submit_reason"`
}

// FullscreenAckRequest reports the outcome of a fullscreen command.
type FullscreenAckRequest struct {
	Action Action `json:"action"`
	Mode   string `json:"mode" binding:"required,oneof=enter exit"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState      Event = "state"
	EventTick       Event = "tick"
	EventLogged     Event = "logged"
	EventSaved      Event = "saved"
	EventAdvanced   Event = "advanced"
	EventFullscreen Event = "fullscreen"
	EventSubmitted  Event = "submitted"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

// StateResponse is sent once the session is running.
type StateResponse struct {
	Event      Event                       `json:"event"`
	Assessment *model.AssessmentDefinition `json:"assessment"`
	Session    model.SessionSnapshot       `json:"session"`
}

type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remainingSeconds"`
}

type LoggedResponse struct {
	Event    Event          `json:"event"`
	Severity model.Severity `json:"severity"`
	Entry    model.LogEntry `json:"entry"`
}

type SavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"questionId"`
}

type AdvancedResponse struct {
	Event                Event `json:"event"`
	CurrentQuestionIndex int   `json:"currentQuestionIndex"`
}

// FullscreenCommand asks the client to enter or exit fullscreen.
type FullscreenCommand struct {
	Event Event  `json:"event"`
	Mode  string `json:"mode"`
}

type SubmittedResponse struct {
	Event  Event               `json:"event"`
	Result *model.SubmitResult `json:"result"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event     `json:"event"`
	Time  time.Time `json:"time"`
}

// Decode parses a raw client message into the request type for its action.
// The returned value is a pointer to one of the request structs above.
func Decode(raw []byte) (Action, interface{}, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}

	var dst interface{}
	switch env.Action {
	case ActionAnswer:
		dst = &AnswerRequest{}
	case ActionAdvance:
		dst = &AdvanceRequest{}
	case ActionMonitor:
		dst = &MonitorRequest{}
	case ActionSubmit:
		dst = &SubmitRequest{}
	case ActionFullscreenAck:
		dst = &FullscreenAckRequest{}
	default:
		// ping and unknown actions carry no body.
		return env.Action, nil, nil
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return env.Action, nil, err
	}
	return env.Action, dst, nil
}
