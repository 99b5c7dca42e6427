package websocket

import (
	"github.com/agpaii-digital/exam-portal/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionNavigate Action = "navigate"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload carries every action. Fields unused by an action are
// ignored.
type RequestPayload struct {
	Action     Action                  `json:"action"`
	QuestionID model.QuestionID        `json:"question_id,omitempty"`
	Option     string                  `json:"option,omitempty"`
	Direction  model.NavigateDirection `json:"direction,omitempty"`
	Index      int                     `json:"index,omitempty"`
}

// AnswerRequest extracts the answer fields for validation.
func (p RequestPayload) AnswerRequest() model.RecordAnswerRequest {
	return model.RecordAnswerRequest{QuestionID: p.QuestionID, Option: p.Option}
}

// NavigateRequest extracts the navigation fields for validation.
func (p RequestPayload) NavigateRequest() model.NavigateRequest {
	return model.NavigateRequest{Direction: p.Direction, Index: p.Index}
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventTick      Event = "tick"
	EventState     Event = "state"
	EventView      Event = "view"
	EventCompleted Event = "completed"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int64 `json:"remaining_seconds"`
}

type StateResponse struct {
	Event Event              `json:"event"`
	State model.SessionState `json:"state"`
	Error string             `json:"error,omitempty"`
}

type ViewResponse struct {
	Event Event             `json:"event"`
	View  model.SessionView `json:"view"`
}

type CompletedResponse struct {
	Event      Event  `json:"event"`
	AttemptID  string `json:"attempt_id"`
	ResultPath string `json:"result_path"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
