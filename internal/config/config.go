package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/Peakviker/RefSeller/internal/entity"
)

type (
	Config struct {
		App      App      `yaml:"app"      env-prefix:"APP_"`
		Logger   Logger   `yaml:"logger"   env-prefix:"LOGGER_"`
		Database Database `yaml:"database" env-prefix:"DB_"`
		Redis    Redis    `yaml:"redis"    env-prefix:"REDIS_"`
		Rabbit   Rabbit   `yaml:"rabbit"   env-prefix:"RABBIT_"`
		TG       TG       `yaml:"tg"       env-prefix:"TG_"`
		SMTP     SMTP     `yaml:"smtp"     env-prefix:"SMTP_"`
		HTTP     HTTP     `yaml:"http"     env-prefix:"HTTP_"`
		Metrics  Metrics  `yaml:"metrics"  env-prefix:"METRICS_"`
		Queue    Queue    `yaml:"queue"    env-prefix:"QUEUE_"`
		Limiter  Limiter  `yaml:"limiter"  env-prefix:"LIMITER_"`
		Cleanup  Cleanup  `yaml:"cleanup"  env-prefix:"CLEANUP_"`
		Env      string   `yaml:"env"      env:"ENV" env-default:"local" validate:"oneof=local dev staging prod"`
	}

	App struct {
		Name     string `yaml:"name"     env:"NAME"     validate:"required" env-default:"refseller-notifier"`
		Version  string `yaml:"version"  env:"VERSION"  validate:"required" env-default:"1.0.0"`
		Timezone string `yaml:"timezone" env:"TIMEZONE" validate:"required" env-default:"Europe/Moscow"`
	}

	Logger struct {
		Level      string `yaml:"level"       env:"LEVEL"       env-default:"info" validate:"oneof=debug info warn error"`
		Filename   string `yaml:"filename"    env:"FILENAME"`
		MaxSize    int    `yaml:"max_size"    env:"MAX_SIZE"    env-default:"100"  validate:"min=1,max=1000"`
		MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS" env-default:"3"    validate:"min=0,max=20"`
		MaxAge     int    `yaml:"max_age"     env:"MAX_AGE"     env-default:"28"   validate:"min=1,max=365"`
	}

	Database struct {
		DSN            string        `yaml:"dsn"              env:"DSN"              validate:"required"`
		PoolMax        int32         `yaml:"pool_max"         env:"POOL_MAX"         validate:"min=1,max=100"   env-default:"10"`
		ConnAttempts   int           `yaml:"conn_attempts"    env:"CONN_ATTEMPTS"    validate:"min=1,max=20"    env-default:"5"`
		BaseRetryDelay time.Duration `yaml:"base_retry_delay" env:"BASE_RETRY_DELAY" validate:"gte=10ms,lte=10s" env-default:"500ms"`
		MaxRetryDelay  time.Duration `yaml:"max_retry_delay"  env:"MAX_RETRY_DELAY"  validate:"gte=10ms,lte=1m"  env-default:"10s"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"  env:"CONNECT_TIMEOUT"  validate:"gte=100ms,lte=1m" env-default:"5s"`
		Migrate        bool          `yaml:"migrate"          env:"MIGRATE"          env-default:"true"`
	}

	// Redis необязателен: без адреса настройки читаются напрямую из БД.
	Redis struct {
		Addr        string        `yaml:"addr"          env:"ADDR"          validate:"omitempty,hostname_port"`
		Password    string        `yaml:"password"      env:"PASSWORD"`
		DB          int           `yaml:"db"            env:"DB"            validate:"min=0,max=15"          env-default:"0"`
		PoolSize    int           `yaml:"pool_size"     env:"POOL_SIZE"     validate:"min=1,max=100"         env-default:"20"`
		MinIdleCons int           `yaml:"min_idle_cons" env:"MIN_IDLE_CONS" validate:"min=0,max=100"         env-default:"5"`
		PoolTimeout time.Duration `yaml:"pool_timeout"  env:"POOL_TIMEOUT"  validate:"gte=10ms,lte=10s"      env-default:"100ms"`
	}

	// Rabbit необязателен: без URL события приходят только через внутреннюю шину.
	Rabbit struct {
		URL            string        `yaml:"url"              env:"URL"              validate:"omitempty,url"`
		ConnAttempts   int           `yaml:"conn_attempts"    env:"CONN_ATTEMPTS"    validate:"min=1,max=20"     env-default:"5"`
		BaseRetryDelay time.Duration `yaml:"base_retry_delay" env:"BASE_RETRY_DELAY" validate:"gte=10ms,lte=10s"  env-default:"500ms"`
		MaxRetryDelay  time.Duration `yaml:"max_retry_delay"  env:"MAX_RETRY_DELAY"  validate:"gte=10ms,lte=5m"   env-default:"30s"`
		Heartbeat      time.Duration `yaml:"heartbeat"        env:"HEARTBEAT"        validate:"gte=1s,lte=5m"    env-default:"10s"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"  env:"CONNECT_TIMEOUT"  validate:"gte=100ms,lte=1m"  env-default:"5s"`
		Prefetch       int           `yaml:"prefetch"         env:"PREFETCH"         validate:"min=1,max=1000"   env-default:"10"`
		HandlerTimeout time.Duration `yaml:"handler_timeout"  env:"HANDLER_TIMEOUT"  validate:"gte=100ms,lte=5m" env-default:"30s"`
	}

	TG struct {
		Token          string        `yaml:"token"           env:"TOKEN"           validate:"required"`
		RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" validate:"gte=1s" env-default:"30s"`
	}

	// SMTP необязателен: без хоста письма операторам не отправляются.
	SMTP struct {
		Host     string   `yaml:"host"     env:"HOST"`
		Port     int      `yaml:"port"     env:"PORT"     validate:"gte=1,lte=65535"             env-default:"587"`
		Username string   `yaml:"username" env:"USERNAME"`
		Password string   `yaml:"password" env:"PASSWORD"`
		From     string   `yaml:"from"     env:"FROM"     validate:"required_with=Host"`
		To       []string `yaml:"to"       env:"TO"       validate:"required_with=Host"   env-separator:","`
	}

	HTTP struct {
		Host              string        `yaml:"host"                env:"HOST"                validate:"required"                 env-default:"0.0.0.0"`
		Port              string        `yaml:"port"                env:"PORT"                validate:"required,numeric"         env-default:"8080"`
		ReadTimeout       time.Duration `yaml:"read_timeout"        env:"READ_TIMEOUT"        validate:"gte=10ms,lte=30s"         env-default:"5s"`
		WriteTimeout      time.Duration `yaml:"write_timeout"       env:"WRITE_TIMEOUT"       validate:"gte=10ms,lte=30s"         env-default:"10s"`
		IdleTimeout       time.Duration `yaml:"idle_timeout"        env:"IDLE_TIMEOUT"        validate:"gte=10ms,lte=2m"          env-default:"60s"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"    env:"SHUTDOWN_TIMEOUT"    validate:"gte=10ms,lte=30s"         env-default:"10s"`
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT" validate:"gte=10ms,lte=30s"         env-default:"5s"`
	}

	Metrics struct {
		Enabled           bool          `yaml:"enabled"             env:"ENABLED"             env-default:"true"`
		Host              string        `yaml:"host"                env:"HOST"                validate:"required"         env-default:"0.0.0.0"`
		Port              string        `yaml:"port"                env:"PORT"                validate:"required,numeric" env-default:"9090"`
		ReadTimeout       time.Duration `yaml:"read_timeout"        env:"READ_TIMEOUT"        validate:"gte=10ms,lte=30s" env-default:"5s"`
		WriteTimeout      time.Duration `yaml:"write_timeout"       env:"WRITE_TIMEOUT"       validate:"gte=10ms,lte=30s" env-default:"5s"`
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT" validate:"gte=10ms,lte=30s" env-default:"5s"`
	}

	Queue struct {
		Concurrency   int           `yaml:"concurrency"    env:"CONCURRENCY"    validate:"min=1,max=64"          env-default:"3"`
		PollInterval  time.Duration `yaml:"poll_interval"  env:"POLL_INTERVAL"  validate:"gte=10ms,lte=1m"       env-default:"1s"`
		LockTimeout   time.Duration `yaml:"lock_timeout"   env:"LOCK_TIMEOUT"   validate:"gte=1s,lte=1h"         env-default:"2m"`
		MaxAttempts   int           `yaml:"max_attempts"   env:"MAX_ATTEMPTS"   validate:"min=1,max=20"          env-default:"3"`
		BackoffBase   time.Duration `yaml:"backoff_base"   env:"BACKOFF_BASE"   validate:"gte=100ms,lte=1h"      env-default:"60s"`
		AgingStep     time.Duration `yaml:"aging_step"     env:"AGING_STEP"     validate:"gte=0,lte=24h"         env-default:"5m"`
		KeepCompleted int           `yaml:"keep_completed" env:"KEEP_COMPLETED" validate:"min=0"                 env-default:"100"`
		KeepFailed    int           `yaml:"keep_failed"    env:"KEEP_FAILED"    validate:"min=0"                 env-default:"500"`
		PruneInterval time.Duration `yaml:"prune_interval" env:"PRUNE_INTERVAL" validate:"gte=1s,lte=24h"        env-default:"10m"`
	}

	Limiter struct {
		GlobalCapacity   int           `yaml:"global_capacity"   env:"GLOBAL_CAPACITY"   validate:"min=1"              env-default:"20"`
		GlobalInterval   time.Duration `yaml:"global_interval"   env:"GLOBAL_INTERVAL"   validate:"gte=10ms,lte=1h"    env-default:"1s"`
		GlobalConcurrent int           `yaml:"global_concurrent" env:"GLOBAL_CONCURRENT" validate:"min=1"              env-default:"3"`
		UserCapacity     int           `yaml:"user_capacity"     env:"USER_CAPACITY"     validate:"min=1"              env-default:"15"`
		UserInterval     time.Duration `yaml:"user_interval"     env:"USER_INTERVAL"     validate:"gte=10ms,lte=24h"   env-default:"1m"`
		UserConcurrent   int           `yaml:"user_concurrent"   env:"USER_CONCURRENT"   validate:"min=1"              env-default:"1"`
		MaxUserBuckets   int           `yaml:"max_user_buckets"  env:"MAX_USER_BUCKETS"  validate:"min=1"              env-default:"500"`
		SweepInterval    time.Duration `yaml:"sweep_interval"    env:"SWEEP_INTERVAL"    validate:"gte=1s,lte=24h"     env-default:"30m"`
	}

	Cleanup struct {
		Enabled         bool          `yaml:"enabled"          env:"ENABLED"          env-default:"false"`
		Interval        time.Duration `yaml:"interval"         env:"INTERVAL"         validate:"gte=1m"  env-default:"24h"`
		SentRetention   time.Duration `yaml:"sent_retention"   env:"SENT_RETENTION"   validate:"gte=1h"  env-default:"4320h"`
		FailedRetention time.Duration `yaml:"failed_retention" env:"FAILED_RETENTION" validate:"gte=1h"  env-default:"720h"`
	}
)

// Load читает файл из -config или CONFIG_PATH, а без них только окружение.
func Load() (*Config, error) {
	path := fetchConfigPath()
	if path == "" {
		return LoadEnv()
	}
	return LoadPath(path)
}

func LoadPath(configPath string) (*Config, error) {
	const op = "config.LoadPath"

	if configPath == "" {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrConfigPathNotSet)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: config file does not exist: %s", op, configPath)
	} else if err != nil {
		return nil, fmt.Errorf("%s: checking config file: %w", op, err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: read config: %w", op, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func LoadEnv() (*Config, error) {
	const op = "config.LoadEnv"

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("%s: read env: %w", op, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// validate собирает все нарушения в одну ошибку.
func validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("config validation: %w", err)
	}
	violations := make([]string, 0, len(validationErrs))
	for _, ve := range validationErrs {
		violations = append(violations,
			fmt.Sprintf("%s=%v must satisfy '%s'", ve.Namespace(), ve.Value(), ve.Tag()))
	}
	return fmt.Errorf("config validation: %s: %w", strings.Join(violations, "; "), entity.ErrInvalidData)
}

func fetchConfigPath() string {
	var path string
	flag.StringVar(&path, "config", "", "Path to config file")
	flag.Parse()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return path
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

func (c *Config) CleanupPolicy() entity.CleanupPolicy {
	return entity.CleanupPolicy{
		SentOlderThan:   c.Cleanup.SentRetention,
		FailedOlderThan: c.Cleanup.FailedRetention,
	}
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config.Location: %w", err)
	}
	return loc, nil
}
