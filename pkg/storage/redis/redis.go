package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	_defaultPoolSize     = 20
	_defaultMinIdleCons  = 5
	_defaultPoolTimeout  = 100 * time.Millisecond
	_defaultConnAttempts = 3
	_defaultRetryDelay   = 500 * time.Millisecond
)

var ErrNotReady = errors.New("redis is not ready")

// Redis wraps a go-redis client built from a host:port address.
type Redis struct {
	*goredis.Client

	poolSize     int
	minIdleCons  int
	poolTimeout  time.Duration
	connAttempts int
	retryDelay   time.Duration
	db           int
}

func New(ctx context.Context, addr, password string, opts ...Option) (*Redis, error) {
	const op = "redis.New"

	r := &Redis{
		poolSize:     _defaultPoolSize,
		minIdleCons:  _defaultMinIdleCons,
		poolTimeout:  _defaultPoolTimeout,
		connAttempts: _defaultConnAttempts,
		retryDelay:   _defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var lastErr error
	for attempt := range r.connAttempts {
		client := goredis.NewClient(&goredis.Options{
			Addr:         addr,
			Password:     password,
			DB:           r.db,
			PoolSize:     r.poolSize,
			MinIdleConns: r.minIdleCons,
			PoolTimeout:  r.poolTimeout,
		})
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			r.Client = client
			return r, nil
		}
		_ = client.Close()

		if attempt == r.connAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", op, errors.Join(ErrNotReady, ctx.Err()))
		case <-time.After(r.retryDelay):
		}
	}

	return nil, fmt.Errorf("%s: %w", op, errors.Join(ErrNotReady, lastErr))
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
