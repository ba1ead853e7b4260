package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	_defaultMaxPoolSize     = 10
	_defaultConnAttempts    = 5
	_defaultBaseRetryDelay  = 500 * time.Millisecond
	_defaultMaxRetryDelay   = 10 * time.Second
	_defaultConnectTimeout  = 5 * time.Second
	_defaultHealthCheckTick = time.Minute
)

var ErrConnectionFailed = errors.New("postgres connection failed")

// QueryExecuter is satisfied by both the pool and an open transaction.
type QueryExecuter interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres owns the pool and a squirrel builder bound to $n placeholders.
type Postgres struct {
	squirrel.StatementBuilderType
	Pool *pgxpool.Pool

	maxPoolSize    int32
	connAttempts   int
	baseRetryDelay time.Duration
	maxRetryDelay  time.Duration
	connectTimeout time.Duration
}

func New(ctx context.Context, dsn string, log *zap.Logger, opts ...Option) (*Postgres, error) {
	const op = "postgres.New"

	pg := &Postgres{
		StatementBuilderType: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		maxPoolSize:          _defaultMaxPoolSize,
		connAttempts:         _defaultConnAttempts,
		baseRetryDelay:       _defaultBaseRetryDelay,
		maxRetryDelay:        _defaultMaxRetryDelay,
		connectTimeout:       _defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(pg)
	}
	if err := pg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: parse dsn: %w", op, err)
	}
	poolCfg.MaxConns = pg.maxPoolSize
	poolCfg.HealthCheckPeriod = _defaultHealthCheckTick

	delay := pg.baseRetryDelay
	for attempt := 1; attempt <= pg.connAttempts; attempt++ {
		pool, connErr := pg.connect(ctx, poolCfg)
		if connErr == nil {
			pg.Pool = pool
			log.Info("postgres connected",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Int32("max_pool_size", pg.maxPoolSize),
			)
			return pg, nil
		}

		log.Warn("postgres connection attempt failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("next_delay", delay),
			zap.Error(connErr),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", op, errors.Join(ErrConnectionFailed, ctx.Err()))
		case <-time.After(delay):
		}
		delay = min(delay*2, pg.maxRetryDelay)
	}

	return nil, fmt.Errorf("%s: %w after %d attempts", op, ErrConnectionFailed, pg.connAttempts)
}

func (p *Postgres) connect(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (p *Postgres) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.Pool.Exec(ctx, sql, args...)
}

func (p *Postgres) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.Pool.Query(ctx, sql, args...)
}

func (p *Postgres) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.Pool.QueryRow(ctx, sql, args...)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

func (p *Postgres) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}
