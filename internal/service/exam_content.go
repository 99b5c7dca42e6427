package service

import (
	"context"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/config"
	"github.com/agpaii-digital/exam-portal/internal/model"
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// ExamContent is the part of the remote exam service a running session uses.
type ExamContent interface {
	FetchAttempt(ctx context.Context, attemptID string) (*model.AttemptPaper, error)
	RecordAnswer(ctx context.Context, attemptID string, questionID model.QuestionID, answer string) error
	Finish(ctx context.Context, attemptID string) error
}

// PackageCatalog is the part of the remote exam service used around sessions.
type PackageCatalog interface {
	ListPackages(ctx context.Context) ([]model.ExamPackage, error)
	StartAttempt(ctx context.Context, packageID string, memberID int64) (string, error)
	Result(ctx context.Context, attemptID string) (*model.AttemptResult, error)
	History(ctx context.Context, memberID int64) ([]model.HistoryEntry, error)
}

// KeyScope returns the storage key builders for a member.
type KeyScope func(memberID int64) config.SessionKeys

// MemberKeyScope isolates every member under its own namespace.
func MemberKeyScope(memberID int64) config.SessionKeys {
	return config.MemberSessionKeys(memberID)
}

// SharedKeyScope uses the bare keys. Suitable for single-user stores.
func SharedKeyScope(int64) config.SessionKeys {
	return config.NewSessionKeys()
}
