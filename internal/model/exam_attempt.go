package model

import (
	"time"
)

// ExamAttempt is the durable record of one in-progress attempt.
type ExamAttempt struct {
	Version                 int                   `json:"v"`
	AttemptID               string                `json:"attempt_id"`
	PackageID               string                `json:"package_id"`
	Questions               []Question            `json:"questions"`
	Answers                 map[QuestionID]string `json:"answers"`
	OriginalDurationSeconds int64                 `json:"original_duration_seconds"`
	StartedAtEpochMillis    int64                 `json:"started_at_epoch_millis"`
}

// RemainingSeconds is max(0, duration - elapsed) at now. Elapsed time is
// truncated to whole seconds.
func (a *ExamAttempt) RemainingSeconds(now time.Time) int64 {
	elapsed := (now.UnixMilli() - a.StartedAtEpochMillis) / 1000
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := a.OriginalDurationSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Question returns the question with the given ID.
func (a *ExamAttempt) Question(id QuestionID) (Question, bool) {
	for _, q := range a.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// AnsweredCount counts answers that belong to a current question.
func (a *ExamAttempt) AnsweredCount() int {
	n := 0
	for _, q := range a.Questions {
		if a.Answers[q.ID] != "" {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (a *ExamAttempt) Clone() *ExamAttempt {
	if a == nil {
		return nil
	}
	out := *a
	out.Questions = CloneQuestions(a.Questions)
	out.Answers = make(map[QuestionID]string, len(a.Answers))
	for k, v := range a.Answers {
		out.Answers[k] = v
	}
	return &out
}

// ResumePointer tells listing screens an attempt is in progress for a package.
type ResumePointer struct {
	AttemptID string    `json:"attempt_id"`
	PackageID string    `json:"package_id"`
	StartedAt time.Time `json:"started_at"`
}
