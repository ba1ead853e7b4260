package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/internal/limiter"
	"github.com/Peakviker/RefSeller/internal/queue"
	"github.com/Peakviker/RefSeller/pkg/logger"
	"github.com/Peakviker/RefSeller/pkg/postgres"
)

const (
	_slowOperationThreshold = 200 * time.Millisecond
	_pingTimeout            = 3 * time.Second
	_jobKeyPrefix           = "notification-"
	_blockedReason          = "bot blocked"
)

type (
	// NotifyRepository определяет интерфейс для работы с уведомлениями в БД
	NotifyRepository interface {
		Create(ctx context.Context, qe postgres.QueryExecuter, userID string, typ entity.NotificationType, content json.RawMessage) (*entity.Notification, error)
		GetByID(ctx context.Context, qe postgres.QueryExecuter, id uuid.UUID) (*entity.Notification, error)
		UpdateStatus(ctx context.Context, qe postgres.QueryExecuter, id uuid.UUID, status entity.Status, upd entity.StatusUpdate) (*entity.Notification, error)
		GetPreferences(ctx context.Context, qe postgres.QueryExecuter, userID string) (entity.Preferences, error)
		UpdatePreferences(ctx context.Context, qe postgres.QueryExecuter, userID string, patch entity.PreferencesPatch) (entity.Preferences, error)
		IsBlocked(ctx context.Context, qe postgres.QueryExecuter, userID string) (bool, error)
		SetBlocked(ctx context.Context, qe postgres.QueryExecuter, userID string, blocked bool) error
		SetLastNotificationAt(ctx context.Context, qe postgres.QueryExecuter, userID string, at time.Time) error
		History(ctx context.Context, qe postgres.QueryExecuter, userID string, filter entity.HistoryFilter) ([]entity.Notification, error)
		Stats(ctx context.Context, qe postgres.QueryExecuter, userID string, since time.Time) ([]entity.StatsRow, error)
		Cleanup(ctx context.Context, qe postgres.QueryExecuter, policy entity.CleanupPolicy) (entity.CleanupResult, error)
		Ping(ctx context.Context) error
	}

	// PreferencesCache кеширует настройки пользователя. Промах возвращает ok=false.
	// SavePreferences не затирает более новую версию и сообщает, была ли запись принята.
	PreferencesCache interface {
		GetPreferences(ctx context.Context, userID string) (entity.Preferences, bool, error)
		SavePreferences(ctx context.Context, prefs entity.Preferences) (bool, error)
		InvalidatePreferences(ctx context.Context, userID string) error
	}

	// JobQueue принимает задания на доставку
	JobQueue interface {
		Enqueue(ctx context.Context, key string, payload any, opts ...queue.EnqueueOption) (bool, error)
		Ping(ctx context.Context) error
		Counts(ctx context.Context) (queue.Counts, error)
	}

	Renderer interface {
		Render(t entity.NotificationType, content json.RawMessage) (string, error)
	}

	// Transport отправляет текст пользователю и возвращает id сообщения.
	// Ошибки должны быть классифицированы как *entity.DeliveryFailure.
	Transport interface {
		Send(ctx context.Context, userID, text string) (string, error)
	}

	RateLimiter interface {
		Schedule(ctx context.Context, userID string, task func(ctx context.Context) error) error
		Stats() limiter.Stats
	}

	// Alerter уведомляет операторов о заданиях, исчерпавших попытки
	Alerter interface {
		Alert(ctx context.Context, subject, body string) error
	}

	Metrics interface {
		NotificationCreated(typ string)
		NotificationDropped(typ, reason string)
		Delivery(typ, outcome string)
		SendDuration(typ string, d time.Duration)
	}

	// DeliveryJob is the queue payload. The record itself stays the source of truth.
	DeliveryJob struct {
		NotificationID uuid.UUID               `json:"notificationId"`
		UserID         string                  `json:"userId"`
		Type           entity.NotificationType `json:"type"`
	}
)

// JobKey is the idempotency key of the delivery job for a record.
func JobKey(id uuid.UUID) string {
	return _jobKeyPrefix + id.String()
}

type nopMetrics struct{}

func (nopMetrics) NotificationCreated(string)         {}
func (nopMetrics) NotificationDropped(string, string) {}
func (nopMetrics) Delivery(string, string)            {}
func (nopMetrics) SendDuration(string, time.Duration) {}

func logSlowOperation(ctx context.Context, log *zap.Logger, op string, start time.Time, fields ...zap.Field) {
	duration := time.Since(start)
	if duration <= _slowOperationThreshold {
		return
	}
	fields = append(fields,
		zap.String("op", op),
		zap.Duration("duration", duration),
		zap.Duration("threshold", _slowOperationThreshold),
	)
	logger.Ctx(ctx, log).Warn("slow operation detected", fields...)
}

// ignoreFinalized treats a lost race against a terminal status as success.
func ignoreFinalized(err error) error {
	if errors.Is(err, entity.ErrNotificationFinalized) {
		return nil
	}
	return err
}
