package limiter

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Config описывает одно ведро: не больше Capacity допусков за любой Interval и
// не больше MaxConcurrent одновременно выполняемых задач.
type Config struct {
	Capacity      int
	Interval      time.Duration
	MaxConcurrent int
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

// bucket - скользящее ведро токенов: потраченный токен возвращается ровно через
// Interval. Ожидающие допускаются строго в порядке прихода.
type bucket struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	grants   []time.Time
	running  int
	waiters  *list.List
	timer    *time.Timer
	lastUsed time.Time
	done     int64

	// refs защищен Limiter.mu.
	refs int
}

func newBucket(cfg Config, now func() time.Time) *bucket {
	return &bucket{
		cfg:      cfg,
		now:      now,
		waiters:  list.New(),
		lastUsed: now(),
	}
}

// acquire ждет свободный токен и слот. Возвращенный release вызывается ровно один раз.
func (b *bucket) acquire(ctx context.Context) (func(), error) {
	b.mu.Lock()
	b.lastUsed = b.now()
	if b.waiters.Len() == 0 && b.canGrant(b.lastUsed) {
		b.grant(b.lastUsed)
		b.mu.Unlock()
		return b.releaseOnce(), nil
	}

	w := &waiter{ready: make(chan struct{})}
	el := b.waiters.PushBack(w)
	b.dispatch()
	b.mu.Unlock()

	select {
	case <-w.ready:
		return b.releaseOnce(), nil
	case <-ctx.Done():
		b.mu.Lock()
		if w.granted {
			b.mu.Unlock()
			b.release()
			return nil, ctx.Err()
		}
		b.waiters.Remove(el)
		b.dispatch()
		b.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (b *bucket) releaseOnce() func() {
	var once sync.Once
	return func() { once.Do(b.release) }
}

func (b *bucket) release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.running--
	b.done++
	b.lastUsed = b.now()
	b.dispatch()
}

func (b *bucket) canGrant(now time.Time) bool {
	b.expire(now)
	return b.running < b.cfg.MaxConcurrent && len(b.grants) < b.cfg.Capacity
}

func (b *bucket) grant(now time.Time) {
	b.grants = append(b.grants, now)
	b.running++
}

// expire возвращает токены, потраченные не меньше интервала назад.
func (b *bucket) expire(now time.Time) {
	cut := 0
	for cut < len(b.grants) && !b.grants[cut].Add(b.cfg.Interval).After(now) {
		cut++
	}
	if cut > 0 {
		b.grants = append(b.grants[:0], b.grants[cut:]...)
	}
}

// dispatch допускает ожидающих, пока это возможно. Если первый ждет только токен,
// таймер срабатывает к возврату самого старого токена. Вызывается под b.mu.
func (b *bucket) dispatch() {
	now := b.now()
	for front := b.waiters.Front(); front != nil; front = b.waiters.Front() {
		if !b.canGrant(now) {
			break
		}
		w := b.waiters.Remove(front).(*waiter)
		b.grant(now)
		w.granted = true
		close(w.ready)
	}

	if b.waiters.Len() == 0 || b.running >= b.cfg.MaxConcurrent || len(b.grants) == 0 {
		return
	}
	wait := b.grants[0].Add(b.cfg.Interval).Sub(now)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(wait, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.dispatch()
	})
}

type Counts struct {
	Running int   `json:"executing"`
	Queued  int   `json:"queued"`
	Done    int64 `json:"done"`
}

func (b *bucket) counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counts{Running: b.running, Queued: b.waiters.Len(), Done: b.done}
}

func (b *bucket) idle() (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running == 0 && b.waiters.Len() == 0, b.lastUsed
}

func (b *bucket) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
