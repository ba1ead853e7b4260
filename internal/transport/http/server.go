package httpt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const _defaultShutdownTimeout = 10 * time.Second

type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server обслуживает и API, и /metrics: отличается только handler.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	log             *zap.Logger
}

func NewServer(handler http.Handler, cfg ServerConfig, log *zap.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.New("httpt.NewServer: handler must be non-nil")
	}
	if cfg.Port == "" {
		return nil, errors.New("httpt.NewServer: port must be set")
	}
	if log == nil {
		log = zap.NewNop()
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = _defaultShutdownTimeout
	}
	return &Server{
		srv: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		shutdownTimeout: shutdownTimeout,
		log:             log,
	}, nil
}

func (s *Server) Addr() string {
	return s.srv.Addr
}

// Start блокируется до отмены ctx, затем корректно останавливает сервер.
func (s *Server) Start(ctx context.Context) error {
	const op = "httpt.Server.Start"

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	case <-ctx.Done():
	}

	if err := s.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	s.log.Info("http server shutting down", zap.String("addr", s.srv.Addr))
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("httpt.Server.Shutdown: %w", err)
	}
	return nil
}
