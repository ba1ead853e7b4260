package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const _storageCallTimeout = 5 * time.Second

// Queue - устойчивая очередь заданий с приоритетами, повторами и отложенным провалом.
type Queue struct {
	storage Storage
	log     *zap.Logger

	concurrency   int
	pollInterval  time.Duration
	lockTimeout   time.Duration
	agingStep     time.Duration
	maxAttempts   int
	backoffBase   time.Duration
	keepCompleted int
	keepFailed    int
	pruneInterval time.Duration
	now           func() time.Time

	wake    chan struct{}
	running atomic.Bool
}

func New(storage Storage, log *zap.Logger, opts ...Option) (*Queue, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	if log == nil {
		log = zap.NewNop()
	}

	q := &Queue{
		storage:       storage,
		log:           log,
		concurrency:   _defaultConcurrency,
		pollInterval:  _defaultPollInterval,
		lockTimeout:   _defaultLockTimeout,
		agingStep:     _defaultAgingStep,
		maxAttempts:   _defaultMaxAttempts,
		backoffBase:   _defaultBackoffBase,
		keepCompleted: _defaultKeepCompleted,
		keepFailed:    _defaultKeepFailed,
		pruneInterval: _defaultPruneInterval,
		now:           time.Now,
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue сохраняет задание под ключом key. Если ожидающее или активное задание
// с таким ключом уже есть, возвращает false без ошибки.
func (q *Queue) Enqueue(ctx context.Context, key string, payload any, opts ...EnqueueOption) (bool, error) {
	const op = "queue.Queue.Enqueue"

	if key == "" {
		return false, fmt.Errorf("%s: %w", op, ErrEmptyJobKey)
	}

	o := enqueueOptions{
		priority:    _defaultPriority,
		maxAttempts: q.maxAttempts,
		backoffBase: q.backoffBase,
	}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("%s: marshal payload: %w", op, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return false, fmt.Errorf("%s: new v7 uuid: %w", op, err)
	}

	now := q.now()
	job := Job{
		ID:          id,
		Key:         key,
		Payload:     body,
		Priority:    o.priority,
		Status:      JobWaiting,
		MaxAttempts: o.maxAttempts,
		BackoffBase: o.backoffBase,
		RunAt:       now.Add(o.delay),
		CreatedAt:   now,
	}

	created, err := q.storage.Enqueue(ctx, job)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if created {
		q.notify()
	} else {
		q.log.Debug("job with the same key is already live",
			zap.String("op", op),
			zap.String("job_key", key),
		)
	}
	return created, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	if err := q.storage.Ping(ctx); err != nil {
		return fmt.Errorf("queue.Queue.Ping: %w", err)
	}
	return nil
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	c, err := q.storage.Counts(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("queue.Queue.Counts: %w", err)
	}
	return c, nil
}

// Run забирает и обрабатывает задания до отмены ctx, затем ждет запущенные
// обработчики. Обработчики работают на контексте, отвязанном от ctx и ограниченном
// таймаутом блокировки: остановка не обрывает вызов транспорта.
func (q *Queue) Run(ctx context.Context, p Processor) error {
	const op = "queue.Queue.Run"

	if !q.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", op, ErrQueueRunning)
	}
	defer q.running.Store(false)

	q.log.Info("queue runner started",
		zap.String("op", op),
		zap.Int("concurrency", q.concurrency),
		zap.Duration("poll_interval", q.pollInterval),
	)

	sem := make(chan struct{}, q.concurrency)
	var wg sync.WaitGroup

	poll := time.NewTicker(q.pollInterval)
	defer poll.Stop()
	prune := time.NewTicker(q.pruneInterval)
	defer prune.Stop()

	for {
		q.fill(ctx, p, sem, &wg)

		select {
		case <-ctx.Done():
			q.log.Info("queue runner stopping, waiting for active jobs", zap.String("op", op))
			wg.Wait()
			q.log.Info("queue runner stopped", zap.String("op", op))
			return nil
		case <-q.wake:
		case <-poll.C:
			q.failExpired(ctx, p)
		case <-prune.C:
			q.Prune(ctx)
		}
	}
}

// fill забирает задания, пока есть свободные слоты.
func (q *Queue) fill(ctx context.Context, p Processor, sem chan struct{}, wg *sync.WaitGroup) {
	const op = "queue.Queue.fill"

	for ctx.Err() == nil {
		select {
		case sem <- struct{}{}:
		default:
			return
		}

		job, err := q.claim(ctx)
		if err != nil {
			<-sem
			if !errors.Is(err, ErrNoJobs) && ctx.Err() == nil {
				q.log.Error("claim job failed", zap.String("op", op), zap.Error(err))
			}
			return
		}

		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
				q.notify()
			}()
			q.process(context.WithoutCancel(ctx), p, job)
		}()
	}
}

func (q *Queue) claim(ctx context.Context) (*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, _storageCallTimeout)
	defer cancel()

	return q.storage.Claim(ctx, ClaimParams{
		Now:       q.now(),
		LockFor:   q.lockTimeout,
		AgingStep: q.agingStep,
	})
}

func (q *Queue) process(ctx context.Context, p Processor, job *Job) {
	const op = "queue.Queue.process"

	log := q.log.With(
		zap.String("job_id", job.ID.String()),
		zap.String("job_key", job.Key),
		zap.Int("attempt", job.Attempts),
	)

	err := q.execute(ctx, p, job)

	storeCtx, cancel := context.WithTimeout(ctx, _storageCallTimeout)
	defer cancel()

	if err == nil {
		if cErr := q.storage.Complete(storeCtx, job.ID, job.Attempts, q.now()); cErr != nil {
			q.logSettleError(log, "complete job failed", cErr)
		}
		return
	}

	job.LastError = err.Error()
	if !job.Exhausted() {
		delay := retryDelay(job, err)
		if rErr := q.storage.Retry(storeCtx, job.ID, job.Attempts, q.now().Add(delay), job.LastError); rErr != nil {
			q.logSettleError(log, "reschedule job failed", rErr)
			return
		}
		log.Warn("job failed, retry scheduled",
			zap.String("op", op),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		return
	}

	if fErr := q.storage.Fail(storeCtx, job.ID, job.Attempts, q.now(), job.LastError); fErr != nil {
		q.logSettleError(log, "move job to failed failed", fErr)
		if errors.Is(fErr, ErrLockLost) {
			return
		}
	}
	log.Error("job failed permanently", zap.String("op", op), zap.Error(err))
	p.OnJobFailed(ctx, job, err)
}

// logSettleError пишет ошибку фиксации результата. Потерянная блокировка означает,
// что задание уже у другого исполнителя, и наш результат отбрасывается.
func (q *Queue) logSettleError(log *zap.Logger, msg string, err error) {
	if errors.Is(err, ErrLockLost) {
		log.Warn("job lock lost, result discarded", zap.Error(err))
		return
	}
	log.Error(msg, zap.Error(err))
}

// failExpired отправляет в failed задания, зависшие на последней попытке, и
// сообщает о них обработчику.
func (q *Queue) failExpired(ctx context.Context, p Processor) {
	const op = "queue.Queue.failExpired"

	storeCtx, cancel := context.WithTimeout(ctx, _storageCallTimeout)
	defer cancel()

	jobs, err := q.storage.FailExpired(storeCtx, q.now())
	if err != nil {
		if ctx.Err() == nil {
			q.log.Error("fail expired jobs failed", zap.String("op", op), zap.Error(err))
		}
		return
	}
	for _, job := range jobs {
		q.log.Error("job lock expired on the last attempt",
			zap.String("op", op),
			zap.String("job_id", job.ID.String()),
			zap.String("job_key", job.Key),
			zap.Int("attempt", job.Attempts),
		)
		p.OnJobFailed(context.WithoutCancel(ctx), job, ErrLockExpired)
	}
}

func (q *Queue) execute(ctx context.Context, p Processor, job *Job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, q.lockTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return p.Handle(ctx, job)
}

// Prune удаляет завершенные задания сверх лимитов хранения.
func (q *Queue) Prune(ctx context.Context) {
	const op = "queue.Queue.Prune"

	ctx, cancel := context.WithTimeout(ctx, _storageCallTimeout)
	defer cancel()

	n, err := q.storage.Prune(ctx, q.keepCompleted, q.keepFailed)
	if err != nil {
		if ctx.Err() == nil {
			q.log.Error("prune jobs failed", zap.String("op", op), zap.Error(err))
		}
		return
	}
	if n > 0 {
		q.log.Debug("finished jobs pruned", zap.String("op", op), zap.Int64("count", n))
	}
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// retryDelay - экспоненциальная задержка, растянутая до retry-after от провайдера.
func retryDelay(job *Job, err error) time.Duration {
	delay := job.Backoff()
	var throttled *ThrottledError
	if errors.As(err, &throttled) && throttled.After > delay {
		delay = throttled.After
	}
	return delay
}
