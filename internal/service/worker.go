package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/internal/metrics"
	"github.com/Peakviker/RefSeller/internal/queue"
	"github.com/Peakviker/RefSeller/pkg/logger"
	"github.com/Peakviker/RefSeller/pkg/postgres"
)

const _finalizeTimeout = 10 * time.Second

// DeliveryWorker исполняет задания очереди: рендерит сообщение, проходит
// лимитер и отправляет его, переводя запись по статусам.
type DeliveryWorker struct {
	repo      NotifyRepository
	tm        postgres.Manager
	renderer  Renderer
	limiter   RateLimiter
	transport Transport
	alerter   Alerter
	metrics   Metrics
	log       *zap.Logger
	now       func() time.Time
}

var _ queue.Processor = (*DeliveryWorker)(nil)

func NewDeliveryWorker(
	repo NotifyRepository,
	tm postgres.Manager,
	renderer Renderer,
	rl RateLimiter,
	transport Transport,
	log *zap.Logger,
	opts ...WorkerOption,
) (*DeliveryWorker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	w := &DeliveryWorker{
		repo:      repo,
		tm:        tm,
		renderer:  renderer,
		limiter:   rl,
		transport: transport,
		metrics:   nopMetrics{},
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.validate(); err != nil {
		return nil, fmt.Errorf("service.NewDeliveryWorker: %w", err)
	}
	return w, nil
}

// Handle обрабатывает одно задание. nil завершает задание, ошибка отдает его
// очереди на повтор.
func (w *DeliveryWorker) Handle(ctx context.Context, job *queue.Job) error {
	const op = "service.DeliveryWorker.Handle"

	var payload DeliveryJob
	if err := job.Decode(&payload); err != nil {
		w.log.Error("malformed delivery job dropped",
			zap.String("op", op),
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
		return nil
	}

	log := logger.Ctx(ctx, w.log).With(
		zap.String("op", op),
		zap.String("notification_id", payload.NotificationID.String()),
		zap.String("user_id", payload.UserID),
		zap.Int("attempt", job.Attempts),
	)

	blocked, err := w.repo.IsBlocked(ctx, nil, payload.UserID)
	if err != nil {
		return fmt.Errorf("%s: check blocked: %w", op, err)
	}
	if blocked {
		return w.cancelBlocked(ctx, log, payload)
	}

	n, err := w.repo.GetByID(ctx, nil, payload.NotificationID)
	if errors.Is(err, entity.ErrNotificationNotFound) {
		log.Error("notification record missing, job dropped")
		w.metrics.Delivery(payload.Type.String(), metrics.OutcomeSkipped)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: load notification: %w", op, err)
	}
	if n.Status.IsTerminal() {
		log.Info("notification already finalized, job completed", zap.String("status", n.Status.String()))
		w.metrics.Delivery(n.Type.String(), metrics.OutcomeSkipped)
		return nil
	}

	log = log.With(zap.String("type", n.Type.String()))

	text, err := w.renderer.Render(n.Type, n.Content)
	if err != nil {
		log.Error("render failed, notification failed", zap.Error(err))
		w.fail(ctx, log, n, fmt.Sprintf("render: %v", err))
		w.metrics.Delivery(n.Type.String(), metrics.OutcomeFailed)
		return nil
	}

	if _, err = w.repo.UpdateStatus(ctx, nil, n.ID, entity.StatusSending, entity.StatusUpdate{}); err != nil {
		if errors.Is(err, entity.ErrNotificationFinalized) {
			log.Info("notification finalized concurrently, job completed")
			return nil
		}
		return fmt.Errorf("%s: mark sending: %w", op, err)
	}

	startTime := time.Now()
	var messageID string
	sendErr := w.limiter.Schedule(ctx, n.UserID, func(ctx context.Context) error {
		var err error
		messageID, err = w.transport.Send(ctx, n.UserID, text)
		return err
	})
	w.metrics.SendDuration(n.Type.String(), time.Since(startTime))

	if sendErr == nil {
		w.delivered(ctx, log, n, messageID)
		return nil
	}
	return w.sendFailed(ctx, log, n, sendErr)
}

func (w *DeliveryWorker) cancelBlocked(ctx context.Context, log *zap.Logger, payload DeliveryJob) error {
	_, err := w.repo.UpdateStatus(ctx, nil, payload.NotificationID, entity.StatusCancelled, entity.WithError(_blockedReason))
	switch {
	case errors.Is(err, entity.ErrNotificationNotFound), errors.Is(err, entity.ErrNotificationFinalized):
		log.Info("blocked recipient, nothing to cancel", zap.Error(err))
	case err != nil:
		return fmt.Errorf("service.DeliveryWorker.cancelBlocked: %w", err)
	default:
		log.Info("recipient blocked the bot, notification cancelled")
	}
	w.metrics.Delivery(payload.Type.String(), metrics.OutcomeCancelled)
	return nil
}

// delivered фиксирует успешную отправку. Ошибки записи не возвращаются:
// повтор задания привел бы к повторной отправке.
func (w *DeliveryWorker) delivered(ctx context.Context, log *zap.Logger, n *entity.Notification, messageID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), _finalizeTimeout)
	defer cancel()

	sentAt := w.now().UTC()
	if _, err := w.repo.UpdateStatus(ctx, nil, n.ID, entity.StatusSent, entity.Delivered(sentAt, messageID)); ignoreFinalized(err) != nil {
		log.Error("message sent but status update failed",
			zap.String("transport_message_id", messageID),
			zap.Error(err),
		)
	}
	if err := w.repo.SetLastNotificationAt(ctx, nil, n.UserID, sentAt); err != nil {
		log.Warn("failed to update last notification time", zap.Error(err))
	}

	w.metrics.Delivery(n.Type.String(), metrics.OutcomeSent)
	log.Info("notification sent", zap.String("transport_message_id", messageID))
}

func (w *DeliveryWorker) sendFailed(ctx context.Context, log *zap.Logger, n *entity.Notification, sendErr error) error {
	const op = "service.DeliveryWorker.sendFailed"

	var failure *entity.DeliveryFailure
	if !errors.As(sendErr, &failure) {
		failure = &entity.DeliveryFailure{Kind: entity.FailureTransient, Err: sendErr}
	}
	log = log.With(zap.Stringer("failure", failure.Kind), zap.Error(sendErr))

	switch failure.Kind {
	case entity.FailureBlocked:
		reason := fmt.Sprintf("%s: %v", _blockedReason, failure)
		err := w.tm.ExecuteInTransaction(ctx, "mark_recipient_blocked", func(ctx context.Context, tx pgx.Tx) error {
			if err := w.repo.SetBlocked(ctx, tx, n.UserID, true); err != nil {
				return err
			}
			_, err := w.repo.UpdateStatus(ctx, tx, n.ID, entity.StatusFailed, entity.WithError(reason))
			return ignoreFinalized(err)
		})
		if err != nil {
			log.Error("failed to record blocked recipient", zap.NamedError("tx_error", err))
			return fmt.Errorf("%s: %w", op, err)
		}
		w.metrics.Delivery(n.Type.String(), metrics.OutcomeBlocked)
		log.Warn("recipient blocked the bot")
		return nil

	case entity.FailureNotFound:
		w.fail(ctx, log, n, fmt.Sprintf("chat not found: %v", failure))
		w.metrics.Delivery(n.Type.String(), metrics.OutcomeNotFound)
		log.Warn("recipient chat not found")
		return nil

	case entity.FailureThrottled:
		w.metrics.Delivery(n.Type.String(), metrics.OutcomeThrottled)
		log.Warn("transport throttled, retry delegated to queue", zap.Duration("retry_after", failure.RetryAfter))
		return queue.Throttled(fmt.Errorf("%s: %w", op, sendErr), failure.RetryAfter)

	default:
		retries := n.RetryCount + 1
		if _, err := w.repo.UpdateStatus(ctx, nil, n.ID, entity.StatusPending, entity.Retried(retries, sendErr.Error())); ignoreFinalized(err) != nil {
			log.Error("failed to record retry", zap.NamedError("update_error", err))
		}
		w.metrics.Delivery(n.Type.String(), metrics.OutcomeRetry)
		log.Warn("send failed, will retry", zap.Int("retry_count", retries))
		return fmt.Errorf("%s: %w", op, sendErr)
	}
}

// fail переводит запись в failed, если она еще не завершена.
func (w *DeliveryWorker) fail(ctx context.Context, log *zap.Logger, n *entity.Notification, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), _finalizeTimeout)
	defer cancel()

	if _, err := w.repo.UpdateStatus(ctx, nil, n.ID, entity.StatusFailed, entity.WithError(reason)); ignoreFinalized(err) != nil {
		log.Error("failed to mark notification as failed", zap.NamedError("update_error", err))
	}
}

// OnJobFailed вызывается очередью, когда попытки исчерпаны: запись переводится
// в failed, операторы получают письмо.
func (w *DeliveryWorker) OnJobFailed(ctx context.Context, job *queue.Job, jobErr error) {
	const op = "service.DeliveryWorker.OnJobFailed"

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), _finalizeTimeout)
	defer cancel()

	var payload DeliveryJob
	if err := job.Decode(&payload); err != nil {
		w.log.Error("malformed dead-lettered job", zap.String("op", op), zap.Error(err))
		return
	}

	log := w.log.With(
		zap.String("op", op),
		zap.String("notification_id", payload.NotificationID.String()),
		zap.String("user_id", payload.UserID),
		zap.Int("attempts", job.Attempts),
	)

	reason := fmt.Sprintf("delivery attempts exhausted (%d): %v", job.Attempts, jobErr)
	_, err := w.repo.UpdateStatus(ctx, nil, payload.NotificationID, entity.StatusFailed, entity.WithError(reason))
	switch {
	case errors.Is(err, entity.ErrNotificationFinalized), errors.Is(err, entity.ErrNotificationNotFound):
		log.Info("dead-lettered job for finalized notification", zap.Error(err))
	case err != nil:
		log.Error("failed to mark dead-lettered notification", zap.Error(err))
	}
	w.metrics.Delivery(payload.Type.String(), metrics.OutcomeFailed)
	log.Error("notification delivery failed permanently", zap.NamedError("job_error", jobErr))

	if w.alerter == nil {
		return
	}
	subject := fmt.Sprintf("[refseller] notification %s failed", payload.NotificationID)
	body := fmt.Sprintf(
		"Notification %s (%s) for user %s was not delivered after %d attempts.\n\nLast error: %v\n",
		payload.NotificationID, payload.Type, payload.UserID, job.Attempts, jobErr,
	)
	if err = w.alerter.Alert(ctx, subject, body); err != nil {
		log.Warn("operator alert failed", zap.Error(err))
	}
}
