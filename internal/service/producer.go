package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/internal/events"
	"github.com/Peakviker/RefSeller/internal/limiter"
	"github.com/Peakviker/RefSeller/internal/queue"
	"github.com/Peakviker/RefSeller/pkg/logger"
)

const (
	_defaultCurrency         = "RUB"
	_defaultFirstName        = "Пользователь"
	_defaultRewardPercentage = 30
	_defaultReferralLevel    = 1
	_defaultTotalReferrals   = 1
)

const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

type (
	LimiterStats interface {
		Stats() limiter.Stats
	}

	// NotifyService превращает бизнес-события в записи и задания на доставку,
	// а также обслуживает HTTP API настроек, истории и статистики.
	NotifyService struct {
		repo    NotifyRepository
		queue   JobQueue
		cache   PreferencesCache
		limiter LimiterStats
		metrics Metrics
		log     *zap.Logger
		now     func() time.Time

		enabled atomic.Bool
	}

	// Health описывает состояние подсистемы уведомлений
	Health struct {
		Status               string         `json:"status"`
		Timestamp            time.Time      `json:"timestamp"`
		DatabaseConnected    bool           `json:"databaseConnected"`
		NotificationsEnabled bool           `json:"notificationsEnabled"`
		Queue                *queue.Counts  `json:"queue,omitempty"`
		RateLimiter          *limiter.Stats `json:"rateLimiter,omitempty"`
	}
)

// NewNotifyService создает сервис и проверяет доступность очереди.
// Недоступная очередь не ошибка: сервис выключается и игнорирует события.
func NewNotifyService(ctx context.Context, repo NotifyRepository, q JobQueue, log *zap.Logger, opts ...Option) (*NotifyService, error) {
	const op = "service.NewNotifyService"

	if log == nil {
		log = zap.NewNop()
	}
	s := &NotifyService{
		repo:    repo,
		queue:   q,
		metrics: nopMetrics{},
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, _pingTimeout)
	defer cancel()

	if err := s.queue.Ping(pingCtx); err != nil {
		log.Warn("delivery queue unavailable, notifications disabled",
			zap.String("op", op),
			zap.Error(err),
		)
		return s, nil
	}
	s.enabled.Store(true)
	log.Info("notification service enabled", zap.String("op", op))
	return s, nil
}

func (s *NotifyService) Enabled() bool {
	return s.enabled.Load()
}

// Subscribe регистрирует обработчики всех четырех событий.
func (s *NotifyService) Subscribe(sub events.Subscriber) {
	sub.OnPurchaseCompleted(s.HandlePurchaseCompleted)
	sub.OnReferralRegistered(s.HandleReferralRegistered)
	sub.OnReferralPurchase(s.HandleReferralPurchase)
	sub.OnIncomeCredited(s.HandleIncomeCredited)
}

func (s *NotifyService) HandlePurchaseCompleted(ctx context.Context, e entity.PurchaseCompleted) error {
	p := e.Payment
	_, err := s.notify(ctx, e.UserID, entity.TypePurchase, entity.PurchaseContent{
		Amount:       p.Amount,
		Currency:     orDefault(p.Currency, _defaultCurrency),
		ProductName:  orDefault(p.ProductName, p.Description),
		ProductID:    p.ProductID,
		PaymentID:    p.ID,
		PurchaseDate: s.orNow(p.CreatedAt),
	})
	return err
}

func (s *NotifyService) HandleReferralRegistered(ctx context.Context, e entity.ReferralRegistered) error {
	r := e.Referral
	total := r.TotalReferrals
	if total <= 0 {
		total = _defaultTotalReferrals
	}
	_, err := s.notify(ctx, e.ReferrerID, entity.TypeReferralRegistered, entity.ReferralRegisteredContent{
		ReferralID:        r.UserID,
		ReferralUsername:  r.Username,
		ReferralFirstName: orDefault(r.FirstName, _defaultFirstName),
		RegistrationDate:  s.orNow(r.RegisteredAt),
		TotalReferrals:    total,
		ProfileComplete:   true,
	})
	return err
}

func (s *NotifyService) HandleReferralPurchase(ctx context.Context, e entity.ReferralPurchase) error {
	p := e.Purchase
	percentage := p.RewardPercentage
	if percentage == 0 {
		percentage = _defaultRewardPercentage
	}
	_, err := s.notify(ctx, e.ReferrerID, entity.TypeReferralPurchase, entity.ReferralPurchaseContent{
		ReferralID:       e.Referral.UserID,
		ReferralUsername: e.Referral.Username,
		PurchaseAmount:   p.Amount,
		Currency:         orDefault(p.Currency, _defaultCurrency),
		ExpectedReward:   p.ExpectedReward,
		RewardPercentage: percentage,
		PurchaseDate:     s.orNow(p.CreatedAt),
	})
	return err
}

func (s *NotifyService) HandleIncomeCredited(ctx context.Context, e entity.IncomeCredited) error {
	i := e.Income
	level := i.ReferralLevel
	if level == 0 {
		level = _defaultReferralLevel
	}
	_, err := s.notify(ctx, e.UserID, entity.TypeIncomeCredited, entity.IncomeCreditedContent{
		Amount:               i.Amount,
		Currency:             orDefault(i.Currency, _defaultCurrency),
		FromReferralID:       i.FromReferralID,
		FromReferralUsername: i.FromReferralUsername,
		ReferralLevel:        level,
		NewBalance:           i.NewBalance,
		TransactionID:        i.TransactionID,
		CreditedAt:           s.orNow(i.CreditedAt),
	})
	return err
}

// notify создает запись и ставит задание на доставку. Возвращает nil-запись
// без ошибки, если сервис выключен или пользователь отключил этот тип.
func (s *NotifyService) notify(ctx context.Context, userID string, typ entity.NotificationType, content any) (*entity.Notification, error) {
	const op = "service.NotifyService.notify"

	if !s.enabled.Load() {
		return nil, nil
	}

	startTime := time.Now()
	defer logSlowOperation(ctx, s.log, op, startTime,
		zap.String("user_id", userID),
		zap.String("type", typ.String()),
	)

	log := logger.Ctx(ctx, s.log).With(
		zap.String("op", op),
		zap.String("user_id", userID),
		zap.String("type", typ.String()),
	)

	if userID == "" {
		return nil, fmt.Errorf("%s: user id is required: %w", op, entity.ErrInvalidData)
	}

	prefs, err := s.preferences(ctx, userID)
	if err != nil {
		log.Error("failed to read preferences", zap.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !prefs.Enabled(typ) {
		log.Debug("notification disabled by user preferences")
		s.metrics.NotificationDropped(typ.String(), "disabled")
		return nil, nil
	}

	body, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal content: %w", op, err)
	}

	n, err := s.repo.Create(ctx, nil, userID, typ, body)
	if err != nil {
		log.Error("failed to create notification", zap.Error(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	job := DeliveryJob{NotificationID: n.ID, UserID: userID, Type: typ}
	if _, err = s.queue.Enqueue(ctx, JobKey(n.ID), job, queue.WithPriority(typ.Priority())); err != nil {
		log.Error("failed to enqueue notification",
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)
		reason := fmt.Sprintf("enqueue failed: %v", err)
		if _, uErr := s.repo.UpdateStatus(context.WithoutCancel(ctx), nil, n.ID, entity.StatusFailed, entity.WithError(reason)); uErr != nil {
			log.Error("failed to mark unqueued notification as failed",
				zap.String("notification_id", n.ID.String()),
				zap.Error(uErr),
			)
		}
		s.metrics.NotificationDropped(typ.String(), "enqueue_failed")
		return nil, fmt.Errorf("%s: %w", op, errors.Join(entity.ErrQueueUnavailable, err))
	}

	s.metrics.NotificationCreated(typ.String())
	log.Info("notification queued",
		zap.String("notification_id", n.ID.String()),
		zap.Int("priority", typ.Priority()),
	)
	return n, nil
}

// preferences читает настройки через кеш. Ошибки кеша не мешают чтению из БД.
func (s *NotifyService) preferences(ctx context.Context, userID string) (entity.Preferences, error) {
	if s.cache != nil {
		prefs, ok, err := s.cache.GetPreferences(ctx, userID)
		switch {
		case err != nil:
			s.log.Debug("preferences cache read failed", zap.String("user_id", userID), zap.Error(err))
		case ok:
			return prefs, nil
		}
	}

	prefs, err := s.repo.GetPreferences(ctx, nil, userID)
	if err != nil {
		return entity.Preferences{}, err
	}

	if s.cache != nil {
		if _, err = s.cache.SavePreferences(ctx, prefs); err != nil {
			s.log.Debug("preferences cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return prefs, nil
}

// refreshCache записывает свежие настройки поверх кеша. Если запись не удалась, ключ удаляется,
// чтобы следующее чтение пошло в БД.
func (s *NotifyService) refreshCache(ctx context.Context, log *zap.Logger, op string, prefs entity.Preferences) {
	_, err := s.cache.SavePreferences(ctx, prefs)
	if err == nil {
		return
	}
	log.Warn("failed to refresh preferences cache",
		zap.String("op", op),
		zap.String("user_id", prefs.UserID),
		zap.Error(err),
	)
	if err = s.cache.InvalidatePreferences(ctx, prefs.UserID); err != nil {
		log.Error("stale preferences may be served until cache expiry",
			zap.String("op", op),
			zap.String("user_id", prefs.UserID),
			zap.Error(err),
		)
	}
}

// GetPreferences возвращает настройки пользователя, по умолчанию все включены
func (s *NotifyService) GetPreferences(ctx context.Context, userID string) (entity.Preferences, error) {
	const op = "service.NotifyService.GetPreferences"

	if userID == "" {
		return entity.Preferences{}, fmt.Errorf("%s: user id is required: %w", op, entity.ErrInvalidData)
	}
	prefs, err := s.preferences(ctx, userID)
	if err != nil {
		return entity.Preferences{}, fmt.Errorf("%s: %w", op, err)
	}
	return prefs, nil
}

// UpdatePreferences применяет частичное обновление и кладет свежую версию в кеш
func (s *NotifyService) UpdatePreferences(ctx context.Context, userID string, patch entity.PreferencesPatch) (entity.Preferences, error) {
	const op = "service.NotifyService.UpdatePreferences"

	log := logger.Ctx(ctx, s.log)
	startTime := time.Now()
	defer logSlowOperation(ctx, s.log, op, startTime, zap.String("user_id", userID))

	if userID == "" {
		return entity.Preferences{}, fmt.Errorf("%s: user id is required: %w", op, entity.ErrInvalidData)
	}

	prefs, err := s.repo.UpdatePreferences(ctx, nil, userID, patch)
	if err != nil {
		log.Error("failed to update preferences",
			zap.String("op", op),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return entity.Preferences{}, fmt.Errorf("%s: %w", op, err)
	}

	if s.cache != nil {
		s.refreshCache(ctx, log, op, prefs)
	}

	log.Info("preferences updated",
		zap.String("op", op),
		zap.String("user_id", userID),
		zap.Bool("purchase", prefs.PurchaseEnabled),
		zap.Bool("referral_registered", prefs.ReferralRegisteredEnabled),
		zap.Bool("referral_purchase", prefs.ReferralPurchaseEnabled),
		zap.Bool("income_credited", prefs.IncomeCreditedEnabled),
	)
	return prefs, nil
}

// History возвращает уведомления пользователя, новые первыми
func (s *NotifyService) History(ctx context.Context, userID string, filter entity.HistoryFilter) ([]entity.Notification, error) {
	const op = "service.NotifyService.History"

	startTime := time.Now()
	defer logSlowOperation(ctx, s.log, op, startTime, zap.String("user_id", userID))

	if userID == "" {
		return nil, fmt.Errorf("%s: user id is required: %w", op, entity.ErrInvalidData)
	}

	items, err := s.repo.History(ctx, nil, userID, filter.Normalize())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if items == nil {
		items = []entity.Notification{}
	}
	return items, nil
}

// Stats агрегирует уведомления пользователя за период
func (s *NotifyService) Stats(ctx context.Context, userID string, period entity.StatsPeriod) (entity.StatsSummary, error) {
	const op = "service.NotifyService.Stats"

	startTime := time.Now()
	defer logSlowOperation(ctx, s.log, op, startTime, zap.String("user_id", userID))

	if userID == "" {
		return entity.StatsSummary{}, fmt.Errorf("%s: user id is required: %w", op, entity.ErrInvalidData)
	}

	rows, err := s.repo.Stats(ctx, nil, userID, s.now().Add(-period.Window()))
	if err != nil {
		return entity.StatsSummary{}, fmt.Errorf("%s: %w", op, err)
	}
	return entity.Summarize(period, rows), nil
}

// Health проверяет БД и собирает счетчики очереди и лимитера.
// Статус unhealthy означает недоступную БД.
func (s *NotifyService) Health(ctx context.Context) Health {
	const op = "service.NotifyService.Health"

	h := Health{
		Status:               HealthHealthy,
		Timestamp:            s.now().UTC(),
		NotificationsEnabled: s.enabled.Load(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, _pingTimeout)
	defer cancel()

	if err := s.repo.Ping(pingCtx); err != nil {
		logger.Ctx(ctx, s.log).Error("health check: database unavailable", zap.String("op", op), zap.Error(err))
		h.Status = HealthUnhealthy
	} else {
		h.DatabaseConnected = true
	}

	if counts, err := s.queue.Counts(pingCtx); err == nil {
		h.Queue = &counts
	} else if h.Status == HealthHealthy {
		h.Status = HealthDegraded
	}
	if !h.NotificationsEnabled && h.Status == HealthHealthy {
		h.Status = HealthDegraded
	}

	if s.limiter != nil {
		stats := s.limiter.Stats()
		h.RateLimiter = &stats
	}
	return h
}

// Cleanup удаляет завершенные уведомления старше сроков хранения.
func (s *NotifyService) Cleanup(ctx context.Context, policy entity.CleanupPolicy) (entity.CleanupResult, error) {
	const op = "service.NotifyService.Cleanup"

	startTime := time.Now()
	res, err := s.repo.Cleanup(ctx, nil, policy)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("old notifications removed",
		zap.String("op", op),
		zap.Int64("sent", res.Sent),
		zap.Int64("failed", res.Failed),
		zap.Duration("duration", time.Since(startTime)),
	)
	return res, nil
}

// RunCleanup периодически вызывает Cleanup до отмены ctx.
func (s *NotifyService) RunCleanup(ctx context.Context, interval time.Duration, policy entity.CleanupPolicy) error {
	const op = "service.NotifyService.RunCleanup"

	if interval <= 0 {
		return fmt.Errorf("%s: interval must be > 0: %w", op, entity.ErrInvalidData)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Cleanup(ctx, policy); err != nil && ctx.Err() == nil {
				s.log.Error("cleanup failed", zap.String("op", op), zap.Error(err))
			}
		}
	}
}

func (s *NotifyService) orNow(t time.Time) time.Time {
	if t.IsZero() {
		return s.now().UTC()
	}
	return t
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
