package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Peakviker/RefSeller/internal/config"
	"github.com/Peakviker/RefSeller/internal/events"
	"github.com/Peakviker/RefSeller/internal/limiter"
	"github.com/Peakviker/RefSeller/internal/metrics"
	"github.com/Peakviker/RefSeller/internal/queue"
	"github.com/Peakviker/RefSeller/internal/repository"
	"github.com/Peakviker/RefSeller/internal/service"
	"github.com/Peakviker/RefSeller/internal/templates"
	amqpt "github.com/Peakviker/RefSeller/internal/transport/amqp"
	httpt "github.com/Peakviker/RefSeller/internal/transport/http"
	"github.com/Peakviker/RefSeller/internal/transport/sender"
	"github.com/Peakviker/RefSeller/migrations"
	"github.com/Peakviker/RefSeller/pkg/postgres"
	"github.com/Peakviker/RefSeller/pkg/rabbit"
	"github.com/Peakviker/RefSeller/pkg/storage/redis"
)

// Run собирает зависимости и блокируется до отмены ctx. Недоступные Redis и
// RabbitMQ не останавливают процесс: без них работают БД, очередь и HTTP API.
func Run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := initDatabase(ctx, &cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeDB(db, log)

	if cfg.Database.Migrate {
		if err = postgres.Migrate(cfg.Database.DSN, migrations.FS, "."); err != nil {
			return fmt.Errorf("app.Run: %w", err)
		}
		log.Info("database migrations applied")
	}

	tm, err := postgres.NewManager(db, log.With(zap.String("component", "transaction manager")))
	if err != nil {
		return fmt.Errorf("app.Run: %w", err)
	}

	rdb := initCache(ctx, &cfg.Redis, log)
	if rdb != nil {
		defer closeCache(rdb, log)
	}

	m := metrics.New()

	rl, err := initLimiter(&cfg.Limiter, log)
	if err != nil {
		return err
	}

	renderer, err := initRenderer(cfg)
	if err != nil {
		return err
	}

	q, err := initQueue(repository.NewJobRepository(db), &cfg.Queue, log)
	if err != nil {
		return err
	}

	notifyRepo := repository.NewNotifyRepository(db)
	notifyService, err := initNotifyService(ctx, notifyRepo, q, rdb, rl, m, log)
	if err != nil {
		return err
	}

	bus := events.NewBus(log.With(zap.String("component", "event bus")))
	notifyService.Subscribe(bus)

	worker, err := initDeliveryWorker(cfg, notifyRepo, tm, renderer, rl, m, log)
	if err != nil {
		return err
	}

	apiServer, err := initHTTPServer(&cfg.HTTP, notifyService, log)
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return rl.Run(ctx)
	})
	eg.Go(func() error {
		return q.Run(ctx, worker)
	})
	eg.Go(func() error {
		return apiServer.Start(ctx)
	})

	if cfg.Metrics.Enabled {
		metricsServer, mErr := initMetricsServer(&cfg.Metrics, m, log)
		if mErr != nil {
			return mErr
		}
		eg.Go(func() error {
			return metricsServer.Start(ctx)
		})
	}

	if cfg.Rabbit.URL != "" {
		eg.Go(func() error {
			runEventConsumer(ctx, &cfg.Rabbit, bus, log.With(zap.String("component", "event consumer")))
			return nil
		})
	} else {
		log.Warn("RABBIT_URL not set, business events accepted only from the in-process bus")
	}

	if cfg.Cleanup.Enabled {
		eg.Go(func() error {
			return notifyService.RunCleanup(ctx, cfg.Cleanup.Interval, cfg.CleanupPolicy())
		})
	}

	log.Info("application started",
		zap.String("http_addr", apiServer.Addr()),
		zap.Bool("notifications_enabled", notifyService.Enabled()),
		zap.Bool("preferences_cache", rdb != nil),
	)

	return waitForShutdown(eg, log)
}

func initDatabase(ctx context.Context, cfg *config.Database, log *zap.Logger) (*postgres.Postgres, error) {
	db, err := postgres.New(
		ctx,
		cfg.DSN,
		log.With(zap.String("component", "database")),
		postgres.MaxPoolSize(cfg.PoolMax),
		postgres.MaxConnAttempts(cfg.ConnAttempts),
		postgres.BaseRetryDelay(cfg.BaseRetryDelay),
		postgres.MaxRetryDelay(cfg.MaxRetryDelay),
		postgres.ConnectTimeout(cfg.ConnectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("app.initDatabase: %w", err)
	}
	return db, nil
}

func closeDB(db *postgres.Postgres, log *zap.Logger) {
	db.Close()
	log.Info("database pool closed")
}

// initCache возвращает nil, если Redis не настроен или недоступен.
func initCache(ctx context.Context, cfg *config.Redis, log *zap.Logger) *redis.Redis {
	if cfg.Addr == "" {
		log.Info("REDIS_ADDR not set, preferences cache disabled")
		return nil
	}
	rdb, err := redis.New(
		ctx,
		cfg.Addr,
		cfg.Password,
		redis.DB(cfg.DB),
		redis.PoolSize(cfg.PoolSize),
		redis.MinIdleCons(cfg.MinIdleCons),
		redis.PoolTimeout(cfg.PoolTimeout),
	)
	if err != nil {
		log.Warn("redis unavailable, preferences cache disabled", zap.Error(err))
		return nil
	}
	return rdb
}

func closeCache(rdb *redis.Redis, log *zap.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn("redis close failed", zap.Error(err))
	}
}

func initLimiter(cfg *config.Limiter, log *zap.Logger) (*limiter.Limiter, error) {
	rl, err := limiter.New(
		log.With(zap.String("component", "rate limiter")),
		limiter.Global(limiter.Config{
			Capacity:      cfg.GlobalCapacity,
			Interval:      cfg.GlobalInterval,
			MaxConcurrent: cfg.GlobalConcurrent,
		}),
		limiter.PerUser(limiter.Config{
			Capacity:      cfg.UserCapacity,
			Interval:      cfg.UserInterval,
			MaxConcurrent: cfg.UserConcurrent,
		}),
		limiter.MaxUserBuckets(cfg.MaxUserBuckets),
		limiter.SweepInterval(cfg.SweepInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("app.initLimiter: %w", err)
	}
	return rl, nil
}

func initRenderer(cfg *config.Config) (*templates.Renderer, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("app.initRenderer: %w", err)
	}
	r, err := templates.New(templates.Location(loc))
	if err != nil {
		return nil, fmt.Errorf("app.initRenderer: %w", err)
	}
	return r, nil
}

func initQueue(storage queue.Storage, cfg *config.Queue, log *zap.Logger) (*queue.Queue, error) {
	q, err := queue.New(
		storage,
		log.With(zap.String("component", "delivery queue")),
		queue.Concurrency(cfg.Concurrency),
		queue.PollInterval(cfg.PollInterval),
		queue.LockTimeout(cfg.LockTimeout),
		queue.AgingStep(cfg.AgingStep),
		queue.MaxAttempts(cfg.MaxAttempts),
		queue.BackoffBase(cfg.BackoffBase),
		queue.Retention(cfg.KeepCompleted, cfg.KeepFailed),
		queue.PruneInterval(cfg.PruneInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("app.initQueue: %w", err)
	}
	return q, nil
}

func initNotifyService(
	ctx context.Context,
	repo *repository.NotifyRepository,
	q *queue.Queue,
	rdb *redis.Redis,
	rl *limiter.Limiter,
	m *metrics.Metrics,
	log *zap.Logger,
) (*service.NotifyService, error) {
	opts := []service.Option{
		service.WithLimiterStats(rl),
		service.WithMetrics(m),
	}
	if rdb != nil {
		opts = append(opts, service.WithPreferencesCache(repository.NewCacheRepository(rdb.Client)))
	}

	svc, err := service.NewNotifyService(ctx, repo, q, log.With(zap.String("component", "notify service")), opts...)
	if err != nil {
		return nil, fmt.Errorf("app.initNotifyService: %w", err)
	}
	return svc, nil
}

func initDeliveryWorker(
	cfg *config.Config,
	repo *repository.NotifyRepository,
	tm postgres.Manager,
	renderer *templates.Renderer,
	rl *limiter.Limiter,
	m *metrics.Metrics,
	log *zap.Logger,
) (*service.DeliveryWorker, error) {
	// запрос к Bot API должен завершиться раньше, чем истечет блокировка задания
	bot, err := sender.NewBotAPI(cfg.TG.Token, min(cfg.TG.RequestTimeout, cfg.Queue.LockTimeout/2))
	if err != nil {
		return nil, fmt.Errorf("app.initDeliveryWorker: %w", err)
	}
	transport := sender.NewTelegramSender(bot, log.With(zap.String("component", "telegram sender")))

	opts := []service.WorkerOption{service.WithWorkerMetrics(m)}
	if cfg.SMTP.Host != "" {
		opts = append(opts, service.WithAlerter(sender.NewEmailAlerter(
			cfg.SMTP.Host,
			cfg.SMTP.Port,
			cfg.SMTP.Username,
			cfg.SMTP.Password,
			cfg.SMTP.From,
			cfg.SMTP.To,
			log.With(zap.String("component", "email alerter")),
		)))
	}

	w, err := service.NewDeliveryWorker(repo, tm, renderer, rl, transport, log.With(zap.String("component", "delivery worker")), opts...)
	if err != nil {
		return nil, fmt.Errorf("app.initDeliveryWorker: %w", err)
	}
	return w, nil
}

// runEventConsumer подключается к брокеру, пока не получится или не отменят ctx.
func runEventConsumer(ctx context.Context, cfg *config.Rabbit, bus events.Publisher, log *zap.Logger) {
	delay := cfg.BaseRetryDelay
	for {
		client, err := rabbit.New(
			ctx,
			cfg.URL,
			log,
			rabbit.ConnAttempts(cfg.ConnAttempts),
			rabbit.BaseRetryDelay(cfg.BaseRetryDelay),
			rabbit.MaxRetryDelay(cfg.MaxRetryDelay),
			rabbit.Heartbeat(cfg.Heartbeat),
			rabbit.ConnectTimeout(cfg.ConnectTimeout),
			rabbit.Prefetch(cfg.Prefetch),
			rabbit.HandlerTimeout(cfg.HandlerTimeout),
		)
		if err == nil {
			err = amqpt.NewEventConsumer(client, bus, log).Run(ctx)
			if cErr := client.Close(); cErr != nil {
				log.Warn("rabbit close failed", zap.Error(cErr))
			}
			if err == nil || ctx.Err() != nil {
				return
			}
		}
		log.Warn("event consumer unavailable, retrying", zap.Error(err), zap.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, cfg.MaxRetryDelay)
	}
}

func initHTTPServer(cfg *config.HTTP, svc *service.NotifyService, log *zap.Logger) (*httpt.Server, error) {
	handler := httpt.NewNotifyHandler(svc, log.With(zap.String("component", "http handler")))
	srv, err := httpt.NewServer(handler.Engine(), httpt.ServerConfig{
		Host:              cfg.Host,
		Port:              cfg.Port,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}, log.With(zap.String("component", "http server")))
	if err != nil {
		return nil, fmt.Errorf("app.initHTTPServer: %w", err)
	}
	return srv, nil
}

func initMetricsServer(cfg *config.Metrics, m *metrics.Metrics, log *zap.Logger) (*httpt.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv, err := httpt.NewServer(mux, httpt.ServerConfig{
		Host:              cfg.Host,
		Port:              cfg.Port,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}, log.With(zap.String("component", "metrics server")))
	if err != nil {
		return nil, fmt.Errorf("app.initMetricsServer: %w", err)
	}
	return srv, nil
}

func waitForShutdown(eg *errgroup.Group, log *zap.Logger) error {
	err := eg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app.waitForShutdown: %w", err)
	}
	log.Info("all components stopped")
	return nil
}
