package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/config"
	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	AttemptLogBatchSize    = 50
	AttemptLogBatchTimeout = 2 * time.Second
	AttemptLogPollTimeout  = 1 * time.Second
)

// Queue is a blocking FIFO of raw payloads.
type Queue interface {
	// Pop waits up to timeout and returns nil, nil when nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	Push(ctx context.Context, raw []byte) error
}

// RedisQueue is a Queue over a Redis list.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

// NewAttemptLogQueue returns the queue completions are recorded on.
func NewAttemptLogQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: config.WorkerKey.PersistAttemptLogQueue}
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	item, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(item) < 2 {
		return nil, nil
	}
	return []byte(item[1]), nil
}

func (q *RedisQueue) Push(ctx context.Context, raw []byte) error {
	return q.rdb.RPush(ctx, q.key, raw).Err()
}

// AttemptLogWriter persists completions.
type AttemptLogWriter interface {
	InsertBatch(ctx context.Context, batch []model.AttemptCompletion) error
	Insert(ctx context.Context, c model.AttemptCompletion) error
}

// AttemptLogWorker drains recorded completions into the attempt log table.
type AttemptLogWorker struct {
	queue  Queue
	writer AttemptLogWriter
	log    zerolog.Logger
}

func NewAttemptLogWorker(queue Queue, writer AttemptLogWriter, log zerolog.Logger) *AttemptLogWorker {
	return &AttemptLogWorker{
		queue:  queue,
		writer: writer,
		log:    log.With().Str("component", "attempt_log_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *AttemptLogWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AttemptLogWorker started")

	batch := make([]model.AttemptCompletion, 0, AttemptLogBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= AttemptLogBatchSize || time.Since(lastFlush) >= AttemptLogBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			raw, err := w.queue.Pop(ctx, AttemptLogPollTimeout)
			if err != nil {
				if ctx.Err() == nil {
					w.log.Error().Err(err).Msg("Queue pop error")
					// Avoid a hot loop while Redis is unreachable.
					select {
					case <-time.After(AttemptLogPollTimeout):
					case <-ctx.Done():
					}
				}
				continue
			}
			if raw == nil {
				continue
			}

			var c model.AttemptCompletion
			if err := json.Unmarshal(raw, &c); err != nil || c.AttemptID == "" {
				w.log.Error().Err(err).Msg("Invalid completion payload")
				continue
			}
			batch = append(batch, c)
		}
	}
}

// ----------------------------------------------------------------
// Bulk insert with single-row fallback
// ----------------------------------------------------------------

func (w *AttemptLogWorker) flushSafe(ctx context.Context, batch []model.AttemptCompletion) {
	if len(batch) == 0 {
		return
	}

	if err := w.writer.InsertBatch(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("size", len(batch)).Msg("bulk attempt log insert failed, using fallback")

		for _, c := range batch {
			if err := w.writer.Insert(ctx, c); err != nil {
				w.log.Error().Err(err).Str("attempt_id", c.AttemptID).Msg("single insert failed, requeueing")
				raw, _ := json.Marshal(c)
				if err := w.queue.Push(ctx, raw); err != nil {
					w.log.Error().Err(err).Str("attempt_id", c.AttemptID).Msg("requeue failed, completion dropped")
				}
			}
		}
		return
	}

	w.log.Debug().Int("size", len(batch)).Msg("Attempt logs persisted")
}
