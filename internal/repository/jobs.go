package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/Peakviker/RefSeller/internal/queue"
	"github.com/Peakviker/RefSeller/pkg/postgres"
)

const jobColumns = "id, job_key, payload, priority, status, attempts, max_attempts, backoff_base, last_error, run_at, locked_until, created_at, finished_at"

// claimJobSQL выбирает готовое задание с наименьшим приоритетом с учетом старения.
// Активное задание с истекшей блокировкой снова доступно, пока остались попытки:
// так после падения процесса доставка повторяется хотя бы раз.
const claimJobSQL = `
UPDATE delivery_jobs
SET status = 'active', attempts = attempts + 1, locked_until = $2
WHERE id = (
    SELECT id FROM delivery_jobs
    WHERE (status = 'waiting' AND run_at <= $1::timestamptz)
       OR (status = 'active' AND locked_until < $1::timestamptz AND attempts < max_attempts)
    ORDER BY priority - CASE
                 WHEN $3::bigint > 0 AND run_at < $1::timestamptz
                 THEN FLOOR(EXTRACT(EPOCH FROM ($1::timestamptz - run_at)) / $3::bigint)::integer
                 ELSE 0
             END,
             run_at, created_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns

// failExpiredJobsSQL закрывает задания, зависшие на последней попытке.
const failExpiredJobsSQL = `
UPDATE delivery_jobs
SET status = 'failed', finished_at = $1, locked_until = NULL, last_error = $2
WHERE status = 'active' AND locked_until < $1::timestamptz AND attempts >= max_attempts
RETURNING ` + jobColumns

const pruneJobsSQL = `
WITH ranked AS (
    SELECT id, status, ROW_NUMBER() OVER (PARTITION BY status ORDER BY finished_at DESC) AS rn
    FROM delivery_jobs
    WHERE status IN ('completed', 'failed')
)
DELETE FROM delivery_jobs d
USING ranked r
WHERE d.id = r.id
  AND ((r.status = 'completed' AND r.rn > $1) OR (r.status = 'failed' AND r.rn > $2))`

// JobRepository - хранилище очереди доставки в Postgres.
type JobRepository struct {
	db *postgres.Postgres
}

var _ queue.Storage = (*JobRepository)(nil)

func NewJobRepository(db *postgres.Postgres) *JobRepository {
	return &JobRepository{db: db}
}

func scanJob(scanner rowScanner) (*queue.Job, error) {
	var (
		j           queue.Job
		status      string
		backoffMs   int64
		lastError   pgtype.Text
		lockedUntil pgtype.Timestamptz
		finishedAt  pgtype.Timestamptz
	)

	err := scanner.Scan(
		&j.ID,
		&j.Key,
		&j.Payload,
		&j.Priority,
		&status,
		&j.Attempts,
		&j.MaxAttempts,
		&backoffMs,
		&lastError,
		&j.RunAt,
		&lockedUntil,
		&j.CreatedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = queue.JobStatus(status)
	j.BackoffBase = time.Duration(backoffMs) * time.Millisecond
	if lastError.Valid {
		j.LastError = lastError.String
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		j.LockedUntil = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}
	return &j, nil
}

func (r *JobRepository) Enqueue(ctx context.Context, job queue.Job) (bool, error) {
	const op = "repository.JobRepository.Enqueue"

	sql, args, err := r.db.Insert("delivery_jobs").
		Columns("id", "job_key", "payload", "priority", "status", "attempts", "max_attempts", "backoff_base", "run_at", "created_at").
		Values(job.ID, job.Key, []byte(job.Payload), job.Priority, string(queue.JobWaiting), 0,
			job.MaxAttempts, job.BackoffBase.Milliseconds(), job.RunAt.UTC(), job.CreatedAt.UTC()).
		Suffix("ON CONFLICT (job_key) WHERE status IN ('waiting', 'active') DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%s: building query: %w", op, err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("%s: exec: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepository) Claim(ctx context.Context, params queue.ClaimParams) (*queue.Job, error) {
	const op = "repository.JobRepository.Claim"

	now := params.Now.UTC()
	j, err := scanJob(r.db.QueryRow(ctx, claimJobSQL,
		now,
		now.Add(params.LockFor),
		int64(params.AgingStep/time.Second),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrNoJobs
		}
		return nil, fmt.Errorf("%s: scan row: %w", op, err)
	}
	return j, nil
}

func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, attempt int, at time.Time) error {
	const op = "repository.JobRepository.Complete"

	q := r.db.Update("delivery_jobs").
		Set("status", string(queue.JobCompleted)).
		Set("finished_at", at.UTC()).
		Set("locked_until", nil)
	return r.finish(ctx, op, q, id, attempt)
}

func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, attempt int, at time.Time, lastErr string) error {
	const op = "repository.JobRepository.Fail"

	q := r.db.Update("delivery_jobs").
		Set("status", string(queue.JobFailed)).
		Set("finished_at", at.UTC()).
		Set("locked_until", nil).
		Set("last_error", lastErr)
	return r.finish(ctx, op, q, id, attempt)
}

func (r *JobRepository) Retry(ctx context.Context, id uuid.UUID, attempt int, runAt time.Time, lastErr string) error {
	const op = "repository.JobRepository.Retry"

	q := r.db.Update("delivery_jobs").
		Set("status", string(queue.JobWaiting)).
		Set("run_at", runAt.UTC()).
		Set("locked_until", nil).
		Set("last_error", lastErr)
	return r.finish(ctx, op, q, id, attempt)
}

// finish меняет только активное задание той же попытки: исполнитель, у которого
// задание переназначили, не затрет результат повторной доставки.
func (r *JobRepository) finish(ctx context.Context, op string, q squirrel.UpdateBuilder, id uuid.UUID, attempt int) error {
	sql, args, err := q.
		Where(squirrel.Eq{"id": id, "status": string(queue.JobActive), "attempts": attempt}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: building query: %w", op, err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, queue.ErrLockLost)
	}
	return nil
}

func (r *JobRepository) FailExpired(ctx context.Context, now time.Time) ([]*queue.Job, error) {
	const op = "repository.JobRepository.FailExpired"

	rows, err := r.db.Query(ctx, failExpiredJobsSQL, now.UTC(), queue.ErrLockExpired.Error())
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var out []*queue.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, scanErr)
		}
		out = append(out, j)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}
	return out, nil
}

func (r *JobRepository) Prune(ctx context.Context, keepCompleted, keepFailed int) (int64, error) {
	const op = "repository.JobRepository.Prune"

	tag, err := r.db.Exec(ctx, pruneJobsSQL, keepCompleted, keepFailed)
	if err != nil {
		return 0, fmt.Errorf("%s: exec: %w", op, err)
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepository) Counts(ctx context.Context) (queue.Counts, error) {
	const op = "repository.JobRepository.Counts"

	sql, args, err := r.db.Select("status", "COUNT(*)").
		From("delivery_jobs").
		GroupBy("status").
		ToSql()
	if err != nil {
		return queue.Counts{}, fmt.Errorf("%s: building query: %w", op, err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return queue.Counts{}, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var c queue.Counts
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err = rows.Scan(&status, &n); err != nil {
			return queue.Counts{}, fmt.Errorf("%s: scan row: %w", op, err)
		}
		switch queue.JobStatus(status) {
		case queue.JobWaiting:
			c.Waiting = n
		case queue.JobActive:
			c.Active = n
		case queue.JobCompleted:
			c.Completed = n
		case queue.JobFailed:
			c.Failed = n
		}
	}
	if err = rows.Err(); err != nil {
		return queue.Counts{}, fmt.Errorf("%s: rows error: %w", op, err)
	}
	return c, nil
}

func (r *JobRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("repository.JobRepository.Ping: %w", err)
	}
	return nil
}
