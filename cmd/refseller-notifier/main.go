package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/Peakviker/RefSeller/internal/app"
	"github.com/Peakviker/RefSeller/internal/config"
	"github.com/Peakviker/RefSeller/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "critical: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.App.Name, cfg.Env, logger.Config{
		Level:      cfg.Logger.Level,
		Filename:   cfg.Logger.Filename,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "critical: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("application starting",
		zap.String("version", cfg.App.Version),
		zap.String("env", cfg.Env),
	)

	if err = app.Run(ctx, cfg, log); err != nil {
		log.Error("application crashed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1) //nolint:gocritic
	}

	log.Info("shutdown complete")
}
