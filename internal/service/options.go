package service

import (
	"errors"
	"time"
)

type Option func(*NotifyService)

// WithPreferencesCache включает кеширование настроек (Redis).
func WithPreferencesCache(cache PreferencesCache) Option {
	return func(s *NotifyService) {
		if cache != nil {
			s.cache = cache
		}
	}
}

func WithLimiterStats(l LimiterStats) Option {
	return func(s *NotifyService) {
		if l != nil {
			s.limiter = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *NotifyService) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *NotifyService) {
		if now != nil {
			s.now = now
		}
	}
}

func (s *NotifyService) validate() error {
	if s.repo == nil {
		return errors.New("invalid repository: must be non-nil")
	}
	if s.queue == nil {
		return errors.New("invalid queue: must be non-nil")
	}
	return nil
}

type WorkerOption func(*DeliveryWorker)

// WithAlerter включает письма операторам о недоставленных уведомлениях.
func WithAlerter(a Alerter) WorkerOption {
	return func(w *DeliveryWorker) {
		if a != nil {
			w.alerter = a
		}
	}
}

func WithWorkerMetrics(m Metrics) WorkerOption {
	return func(w *DeliveryWorker) {
		if m != nil {
			w.metrics = m
		}
	}
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *DeliveryWorker) {
		if now != nil {
			w.now = now
		}
	}
}

func (w *DeliveryWorker) validate() error {
	if w.repo == nil {
		return errors.New("invalid repository: must be non-nil")
	}
	if w.tm == nil {
		return errors.New("invalid transaction manager: must be non-nil")
	}
	if w.renderer == nil {
		return errors.New("invalid renderer: must be non-nil")
	}
	if w.limiter == nil {
		return errors.New("invalid rate limiter: must be non-nil")
	}
	if w.transport == nil {
		return errors.New("invalid transport: must be non-nil")
	}
	return nil
}
