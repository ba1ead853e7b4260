package queue

import "time"

const (
	_defaultConcurrency   = 3
	_defaultPollInterval  = time.Second
	_defaultLockTimeout   = 2 * time.Minute
	_defaultAgingStep     = 5 * time.Minute
	_defaultMaxAttempts   = 3
	_defaultBackoffBase   = time.Minute
	_defaultKeepCompleted = 100
	_defaultKeepFailed    = 500
	_defaultPruneInterval = 10 * time.Minute
	_defaultPriority      = 5
)

type Option func(*Queue)

func Concurrency(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

func PollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

func LockTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.lockTimeout = d
		}
	}
}

func AgingStep(d time.Duration) Option {
	return func(q *Queue) {
		q.agingStep = d
	}
}

func MaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

func BackoffBase(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.backoffBase = d
		}
	}
}

// Retention задает, сколько завершенных заданий хранить для разбора.
func Retention(keepCompleted, keepFailed int) Option {
	return func(q *Queue) {
		q.keepCompleted = max(keepCompleted, 0)
		q.keepFailed = max(keepFailed, 0)
	}
}

func PruneInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pruneInterval = d
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

type enqueueOptions struct {
	priority    int
	maxAttempts int
	backoffBase time.Duration
	delay       time.Duration
}

type EnqueueOption func(*enqueueOptions)

// WithPriority задает приоритет задания. Меньшее число выполняется раньше.
func WithPriority(p int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = p
	}
}

func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithBackoff(base time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if base > 0 {
			o.backoffBase = base
		}
	}
}

func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.delay = max(d, 0)
	}
}
