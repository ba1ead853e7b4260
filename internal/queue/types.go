package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

var (
	ErrNoJobs       = errors.New("no jobs available")
	ErrJobNotFound  = errors.New("job not found")
	ErrStorageNil   = errors.New("queue storage is nil")
	ErrEmptyJobKey  = errors.New("job key is empty")
	ErrQueueRunning = errors.New("queue already running")
	// ErrLockLost: задание уже переназначено другому исполнителю или завершено.
	ErrLockLost = errors.New("job lock lost")
	// ErrLockExpired: блокировка последней попытки истекла, а результата так и нет.
	ErrLockExpired = errors.New("job lock expired on the last attempt")
)

// Job - единица работы. Attempts считает выдачи, включая текущую.
type Job struct {
	ID          uuid.UUID
	Key         string
	Payload     json.RawMessage
	Priority    int
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	BackoffBase time.Duration
	LastError   string
	RunAt       time.Time
	LockedUntil *time.Time
	CreatedAt   time.Time
	FinishedAt  *time.Time
}

// Decode разбирает payload задания в v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("queue.Job.Decode: %w", err)
	}
	return nil
}

// Exhausted сообщает, что после текущей попытки других не осталось.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// Backoff возвращает задержку перед следующей попыткой: base * 2^(attempts-1).
func (j *Job) Backoff() time.Duration {
	shift := max(j.Attempts-1, 0)
	if shift > 20 {
		shift = 20
	}
	return j.BackoffBase * time.Duration(1<<shift)
}

type ClaimParams struct {
	Now       time.Time
	LockFor   time.Duration
	AgingStep time.Duration
}

type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Storage хранит задания. Enqueue возвращает false, если живое задание с тем же
// ключом уже есть. Claim возвращает ErrNoJobs, когда запускать нечего.
//
// Complete, Retry и Fail принимают номер попытки, полученный при Claim, и
// возвращают ErrLockLost, если задание с тех пор переназначено или завершено.
// FailExpired переводит в failed активные задания, у которых истекла блокировка
// последней попытки, и возвращает их.
type Storage interface {
	Enqueue(ctx context.Context, job Job) (bool, error)
	Claim(ctx context.Context, params ClaimParams) (*Job, error)
	Complete(ctx context.Context, id uuid.UUID, attempt int, at time.Time) error
	Retry(ctx context.Context, id uuid.UUID, attempt int, runAt time.Time, lastErr string) error
	Fail(ctx context.Context, id uuid.UUID, attempt int, at time.Time, lastErr string) error
	FailExpired(ctx context.Context, now time.Time) ([]*Job, error)
	Prune(ctx context.Context, keepCompleted, keepFailed int) (int64, error)
	Counts(ctx context.Context) (Counts, error)
	Ping(ctx context.Context) error
}

// Processor выполняет выданные задания. nil завершает задание, любая другая ошибка
// планирует повтор, пока есть попытки, после чего вызывается OnJobFailed.
type Processor interface {
	Handle(ctx context.Context, job *Job) error
	OnJobFailed(ctx context.Context, job *Job, err error)
}

// ThrottledError просит очередь подождать не меньше After до следующей попытки.
type ThrottledError struct {
	Err   error
	After time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled for %s: %v", e.After, e.Err)
}

func (e *ThrottledError) Unwrap() error { return e.Err }

func Throttled(err error, after time.Duration) error {
	return &ThrottledError{Err: err, After: after}
}

// EffectivePriority уменьшает число приоритета на единицу за каждый agingStep
// ожидания, так что долго ждущие задания в итоге обгоняют свежие срочные.
func EffectivePriority(job *Job, now time.Time, agingStep time.Duration) int {
	if agingStep <= 0 || now.Before(job.RunAt) {
		return job.Priority
	}
	return job.Priority - int(now.Sub(job.RunAt)/agingStep)
}
