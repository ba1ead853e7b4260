package limiter

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	_defaultGlobalCapacity   = 20
	_defaultGlobalInterval   = time.Second
	_defaultGlobalConcurrent = 3
	_defaultUserCapacity     = 15
	_defaultUserInterval     = time.Minute
	_defaultUserConcurrent   = 1
	_defaultMaxUserBuckets   = 500
	_defaultSweepInterval    = 30 * time.Minute
)

// Limiter сочетает общее глобальное ведро с ведром на каждого пользователя.
type Limiter struct {
	log *zap.Logger
	now func() time.Time

	globalCfg      Config
	userCfg        Config
	maxUserBuckets int
	sweepInterval  time.Duration

	global *bucket

	mu    sync.Mutex
	users map[string]*bucket
}

type Option func(*Limiter)

func Global(cfg Config) Option {
	return func(l *Limiter) {
		l.globalCfg = cfg
	}
}

func PerUser(cfg Config) Option {
	return func(l *Limiter) {
		l.userCfg = cfg
	}
}

// MaxUserBuckets ограничивает число простаивающих ведер после очистки.
func MaxUserBuckets(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxUserBuckets = n
		}
	}
}

func SweepInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.sweepInterval = d
		}
	}
}

func New(log *zap.Logger, opts ...Option) (*Limiter, error) {
	if log == nil {
		log = zap.NewNop()
	}

	l := &Limiter{
		log: log,
		now: time.Now,
		globalCfg: Config{
			Capacity:      _defaultGlobalCapacity,
			Interval:      _defaultGlobalInterval,
			MaxConcurrent: _defaultGlobalConcurrent,
		},
		userCfg: Config{
			Capacity:      _defaultUserCapacity,
			Interval:      _defaultUserInterval,
			MaxConcurrent: _defaultUserConcurrent,
		},
		maxUserBuckets: _defaultMaxUserBuckets,
		sweepInterval:  _defaultSweepInterval,
		users:          make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := validate(l.globalCfg); err != nil {
		return nil, fmt.Errorf("limiter.New: global: %w", err)
	}
	if err := validate(l.userCfg); err != nil {
		return nil, fmt.Errorf("limiter.New: per-user: %w", err)
	}

	l.global = newBucket(l.globalCfg, l.now)
	return l, nil
}

func validate(cfg Config) error {
	if cfg.Capacity <= 0 || cfg.Interval <= 0 || cfg.MaxConcurrent <= 0 {
		return fmt.Errorf("capacity, interval and max concurrent must be positive, got %+v", cfg)
	}
	return nil
}

// Schedule запускает task после глобального и пользовательского допуска.
// Глобальный допуск охватывает пользовательский, оба снимаются по завершении task.
func (l *Limiter) Schedule(ctx context.Context, userID string, task func(ctx context.Context) error) error {
	const op = "limiter.Limiter.Schedule"

	releaseGlobal, err := l.global.acquire(ctx)
	if err != nil {
		return fmt.Errorf("%s: global: %w", op, err)
	}
	defer releaseGlobal()

	ub := l.checkout(userID)
	defer l.checkin(ub)

	releaseUser, err := ub.acquire(ctx)
	if err != nil {
		return fmt.Errorf("%s: user: %w", op, err)
	}
	defer releaseUser()

	return task(ctx)
}

// IsUserThrottled сообщает, достигли ли выполняемые и ожидающие задачи пользователя лимита.
func (l *Limiter) IsUserThrottled(userID string) bool {
	l.mu.Lock()
	b, ok := l.users[userID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	c := b.counts()
	return c.Running+c.Queued >= l.userCfg.Capacity
}

// Clear удаляет бакет пользователя, только если он простаивает: никто его не держит,
// нет выполняемых и ожидающих задач. Занятый бакет остается, иначе следующий Schedule
// получил бы новый бакет и пошел параллельно старому.
func (l *Limiter) Clear(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.users[userID]
	if !ok {
		return false
	}
	if b.refs > 0 {
		return false
	}
	if idle, _ := b.idle(); !idle {
		return false
	}
	b.stop()
	delete(l.users, userID)
	return true
}

// checkout возвращает ведро пользователя и защищает его от Sweep до checkin.
func (l *Limiter) checkout(userID string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.users[userID]
	if !ok {
		b = newBucket(l.userCfg, l.now)
		l.users[userID] = b
	}
	b.refs++
	return b
}

func (l *Limiter) checkin(b *bucket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b.refs--
}

// Sweep удаляет простаивающие ведра, у которых вернулись все токены. Если ведер
// больше лимита, первыми уходят давно не использованные простаивающие. Занятые
// ведра не удаляются никогда.
//
// Удаление сверх лимита забывает потраченные токены, и пользователь может раньше
// получить новый запас. Зато память ограничена.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	type candidate struct {
		userID   string
		lastUsed time.Time
	}

	var idle []candidate
	for id, b := range l.users {
		if b.refs > 0 {
			continue
		}
		if ok, last := b.idle(); ok {
			idle = append(idle, candidate{userID: id, lastUsed: last})
		}
	}

	now := l.now()
	removed := 0
	var keep []candidate
	for _, c := range idle {
		if now.Sub(c.lastUsed) >= l.userCfg.Interval {
			l.users[c.userID].stop()
			delete(l.users, c.userID)
			removed++
			continue
		}
		keep = append(keep, c)
	}

	if over := len(l.users) - l.maxUserBuckets; over > 0 {
		slices.SortFunc(keep, func(a, b candidate) int { return a.lastUsed.Compare(b.lastUsed) })
		for _, c := range keep[:min(over, len(keep))] {
			l.users[c.userID].stop()
			delete(l.users, c.userID)
			removed++
		}
	}
	return removed
}

// Run периодически чистит простаивающие ведра до отмены ctx.
func (l *Limiter) Run(ctx context.Context) error {
	const op = "limiter.Limiter.Run"

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.log.Debug("idle user buckets removed", zap.String("op", op), zap.Int("count", n))
			}
		}
	}
}

type Stats struct {
	Global      Counts `json:"global"`
	UserBuckets int    `json:"userLimiters"`
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	users := len(l.users)
	l.mu.Unlock()

	return Stats{Global: l.global.counts(), UserBuckets: users}
}
