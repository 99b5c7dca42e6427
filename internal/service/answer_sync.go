package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// AnswerSyncGateway pushes answers to the exam service. Single answers are
// fire-and-forget; the bulk sync waits for every call to settle; only Finish
// reports failure to the caller.
type AnswerSyncGateway struct {
	content     ExamContent
	concurrency int
	timeout     time.Duration
	log         zerolog.Logger

	inflight sync.WaitGroup
}

// NewAnswerSyncGateway creates a gateway. concurrency bounds the bulk sync
// fan-out; timeout bounds every single call.
func NewAnswerSyncGateway(content ExamContent, concurrency int, timeout time.Duration, log zerolog.Logger) *AnswerSyncGateway {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &AnswerSyncGateway{
		content:     content,
		concurrency: concurrency,
		timeout:     timeout,
		log:         log.With().Str("component", "answer_sync").Logger(),
	}
}

// SyncOne sends one answer in the background. Failures are logged only.
// Cancelling ctx abandons the call.
func (g *AnswerSyncGateway) SyncOne(ctx context.Context, task model.AnswerSyncTask) {
	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()
		if err := g.send(ctx, task); err != nil {
			g.log.Warn().Err(err).
				Str("attempt_id", task.AttemptID).
				Int64("question_id", int64(task.QuestionID)).
				Msg("Answer sync failed")
		}
	}()
}

// SyncAll sends every task concurrently and returns once all of them have
// settled. It returns the number of failed calls; failures never abort the
// batch.
func (g *AnswerSyncGateway) SyncAll(ctx context.Context, tasks []model.AnswerSyncTask) int {
	var (
		eg     errgroup.Group
		failed atomic.Int32
	)
	eg.SetLimit(g.concurrency)

	for _, task := range tasks {
		eg.Go(func() error {
			if err := g.send(ctx, task); err != nil {
				failed.Add(1)
				g.log.Warn().Err(err).
					Str("attempt_id", task.AttemptID).
					Int64("question_id", int64(task.QuestionID)).
					Msg("Bulk answer sync failed")
			}
			return nil
		})
	}
	_ = eg.Wait()

	n := int(failed.Load())
	g.log.Debug().Int("sent", len(tasks)).Int("failed", n).Msg("Bulk answer sync settled")
	return n
}

// Finish closes the attempt on the exam service.
func (g *AnswerSyncGateway) Finish(ctx context.Context, attemptID string) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	if err := g.content.Finish(ctx, attemptID); err != nil {
		return fmt.Errorf("finish attempt %s: %w", attemptID, err)
	}
	return nil
}

// Wait blocks until every background SyncOne call returned.
func (g *AnswerSyncGateway) Wait() {
	g.inflight.Wait()
}

func (g *AnswerSyncGateway) send(ctx context.Context, task model.AnswerSyncTask) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return g.content.RecordAnswer(ctx, task.AttemptID, task.QuestionID, task.Answer)
}

func (g *AnswerSyncGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// BulkSyncTasks builds the pre-submit batch: every current question with its
// answer, or an empty answer when unanswered, followed by answers held for
// questions no longer in the list.
func BulkSyncTasks(a *model.ExamAttempt) []model.AnswerSyncTask {
	if a == nil {
		return nil
	}
	tasks := make([]model.AnswerSyncTask, 0, len(a.Questions))
	seen := make(map[model.QuestionID]bool, len(a.Questions))
	for _, q := range a.Questions {
		seen[q.ID] = true
		tasks = append(tasks, model.AnswerSyncTask{
			Kind:       model.SyncKindAnswer,
			AttemptID:  a.AttemptID,
			QuestionID: q.ID,
			Answer:     a.Answers[q.ID],
		})
	}

	var stale []model.QuestionID
	for id, ans := range a.Answers {
		if !seen[id] && ans != "" {
			stale = append(stale, id)
		}
	}
	slices.Sort(stale)
	for _, id := range stale {
		tasks = append(tasks, model.AnswerSyncTask{
			Kind:       model.SyncKindAnswer,
			AttemptID:  a.AttemptID,
			QuestionID: id,
			Answer:     a.Answers[id],
		})
	}
	return tasks
}
