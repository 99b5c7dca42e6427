package model

// SessionState enumerates exam session states.
type SessionState string

const (
	SessionStateLoading    SessionState = "LOADING"
	SessionStateInProgress SessionState = "IN_PROGRESS"
	SessionStateExpired    SessionState = "EXPIRED"
	SessionStateSubmitting SessionState = "SUBMITTING"
	SessionStateCompleted  SessionState = "COMPLETED"
)

// SubmitReason tells why an attempt was finished.
type SubmitReason string

const (
	SubmitReasonManual  SubmitReason = "manual"
	SubmitReasonExpired SubmitReason = "expired"
)

// SyncKind distinguishes outbound sync calls.
type SyncKind string

const (
	SyncKindAnswer SyncKind = "answer"
	SyncKindFinish SyncKind = "finish"
)

// AnswerSyncTask describes one outbound call to the exam service. It is never
// persisted or retried.
type AnswerSyncTask struct {
	Kind       SyncKind   `json:"kind"`
	AttemptID  string     `json:"attempt_id"`
	QuestionID QuestionID `json:"question_id,omitempty"`
	Answer     string     `json:"answer,omitempty"`
}

// NavigateDirection is the kind of question navigation.
type NavigateDirection string

const (
	NavigateNext NavigateDirection = "next"
	NavigatePrev NavigateDirection = "prev"
	NavigateJump NavigateDirection = "jump"
)

// SessionView is the renderable state of a session.
type SessionView struct {
	AttemptID        string                `json:"attempt_id"`
	PackageID        string                `json:"package_id"`
	State            SessionState          `json:"state"`
	CurrentIndex     int                   `json:"current_index"`
	Question         *QuestionView         `json:"question,omitempty"`
	QuestionCount    int                   `json:"question_count"`
	AnsweredCount    int                   `json:"answered_count"`
	Answers          map[QuestionID]string `json:"answers"`
	QuestionIDs      []QuestionID          `json:"question_ids"`
	RemainingSeconds int64                 `json:"remaining_seconds"`
	LastError        string                `json:"last_error,omitempty"`
}

// QuestionView is a question as shown on screen.
type QuestionView struct {
	ID         QuestionID `json:"id"`
	Number     int        `json:"number"`
	PromptHTML string     `json:"prompt_html"`
	Options    []Option   `json:"options"`
	Selected   string     `json:"selected,omitempty"`
}

// OpenSessionRequest is the payload for opening an exam session.
type OpenSessionRequest struct {
	PackageID string `json:"package_id" binding:"required,max=64"`
}

// RecordAnswerRequest is the payload for selecting an option.
type RecordAnswerRequest struct {
	QuestionID QuestionID `json:"question_id" binding:"required,gt=0"`
	Option     string     `json:"option" binding:"required,option_key"`
}

// NavigateRequest is the payload for moving between questions.
type NavigateRequest struct {
	Direction NavigateDirection `json:"direction" binding:"required,oneof=next prev jump"`
	Index     int               `json:"index" binding:"min=0"`
}
