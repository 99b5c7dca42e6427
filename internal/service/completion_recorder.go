package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agpaii-digital/exam-portal/internal/config"
	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CompletionRecorder receives every successfully finished attempt.
type CompletionRecorder interface {
	Record(ctx context.Context, c model.AttemptCompletion) error
}

// QueueCompletionRecorder pushes completions onto the attempt log queue for
// the AttemptLogWorker.
type QueueCompletionRecorder struct {
	rdb *redis.Client
}

// NewQueueCompletionRecorder creates a QueueCompletionRecorder.
func NewQueueCompletionRecorder(rdb *redis.Client) *QueueCompletionRecorder {
	return &QueueCompletionRecorder{rdb: rdb}
}

func (r *QueueCompletionRecorder) Record(ctx context.Context, c model.AttemptCompletion) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}
	if err := r.rdb.RPush(ctx, config.WorkerKey.PersistAttemptLogQueue, raw).Err(); err != nil {
		return fmt.Errorf("queue completion: %w", err)
	}
	return nil
}

// LogCompletionRecorder only logs completions.
type LogCompletionRecorder struct {
	log zerolog.Logger
}

// NewLogCompletionRecorder creates a LogCompletionRecorder.
func NewLogCompletionRecorder(log zerolog.Logger) *LogCompletionRecorder {
	return &LogCompletionRecorder{log: log.With().Str("component", "completion_recorder").Logger()}
}

func (r *LogCompletionRecorder) Record(_ context.Context, c model.AttemptCompletion) error {
	r.log.Info().
		Str("attempt_id", c.AttemptID).
		Str("package_id", c.PackageID).
		Int64("member_id", c.MemberID).
		Int("answered", c.Answered).
		Int("total", c.Total).
		Str("reason", string(c.Reason)).
		Msg("Attempt completed")
	return nil
}
