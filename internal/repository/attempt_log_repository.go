package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AttemptLogRepository handles exam_attempt_logs data access.
type AttemptLogRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptLogRepository creates a new AttemptLogRepository.
func NewAttemptLogRepository(pool *pgxpool.Pool) *AttemptLogRepository {
	return &AttemptLogRepository{pool: pool}
}

// InsertBatch inserts completions in one statement using UNNEST.
// Rows for an attempt that is already logged are ignored.
func (r *AttemptLogRepository) InsertBatch(ctx context.Context, batch []model.AttemptCompletion) error {
	n := len(batch)
	if n == 0 {
		return nil
	}

	ids := make([]uuid.UUID, n)
	attemptIDs := make([]string, n)
	packageIDs := make([]string, n)
	memberIDs := make([]int64, n)
	answered := make([]int32, n)
	totals := make([]int32, n)
	reasons := make([]string, n)
	finishedAts := make([]time.Time, n)

	for i, c := range batch {
		ids[i] = uuid.New()
		attemptIDs[i] = c.AttemptID
		packageIDs[i] = c.PackageID
		memberIDs[i] = c.MemberID
		answered[i] = int32(c.Answered)
		totals[i] = int32(c.Total)
		reasons[i] = string(c.Reason)
		finishedAts[i] = c.FinishedAt
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO exam_attempt_logs
			(id, attempt_id, package_id, member_id, answered, total, reason, finished_at)
		SELECT * FROM UNNEST(
			$1::uuid[], $2::text[], $3::text[], $4::bigint[],
			$5::int[], $6::int[], $7::text[], $8::timestamptz[]
		)
		ON CONFLICT (attempt_id) DO NOTHING`,
		ids, attemptIDs, packageIDs, memberIDs, answered, totals, reasons, finishedAts,
	)
	if err != nil {
		return fmt.Errorf("bulk insert attempt logs: %w", err)
	}
	return nil
}

// Insert writes a single completion.
func (r *AttemptLogRepository) Insert(ctx context.Context, c model.AttemptCompletion) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_attempt_logs
			(id, attempt_id, package_id, member_id, answered, total, reason, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (attempt_id) DO NOTHING`,
		uuid.New(), c.AttemptID, c.PackageID, c.MemberID, c.Answered, c.Total, string(c.Reason), c.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt log: %w", err)
	}
	return nil
}

// ListByMember returns the member's most recent completions.
func (r *AttemptLogRepository) ListByMember(ctx context.Context, memberID int64, limit int) ([]model.AttemptLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, attempt_id, package_id, member_id, answered, total, reason, finished_at
		 FROM exam_attempt_logs
		 WHERE member_id = $1
		 ORDER BY finished_at DESC
		 LIMIT $2`, memberID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.AttemptLog
	for rows.Next() {
		var l model.AttemptLog
		var id uuid.UUID
		var reason string
		if err := rows.Scan(&id, &l.AttemptID, &l.PackageID, &l.MemberID, &l.Answered, &l.Total, &reason, &l.FinishedAt); err != nil {
			return nil, err
		}
		l.ID = id.String()
		l.Reason = model.SubmitReason(reason)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
