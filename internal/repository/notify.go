package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/pkg/postgres"
)

const (
	notificationColumns = "id, user_id, type, content, status, created_at, sent_at, transport_message_id, error_message, retry_count"
	preferencesColumns  = "user_id, purchase_enabled, referral_registered_enabled, referral_purchase_enabled, income_credited_enabled, updated_at"
)

const upsertPreferencesSQL = `
INSERT INTO notification_preferences AS p (
    user_id, purchase_enabled, referral_registered_enabled, referral_purchase_enabled, income_credited_enabled, created_at, updated_at
) VALUES ($1, COALESCE($2::boolean, TRUE), COALESCE($3::boolean, TRUE), COALESCE($4::boolean, TRUE), COALESCE($5::boolean, TRUE), $6, $6)
ON CONFLICT (user_id) DO UPDATE SET
    purchase_enabled            = COALESCE($2::boolean, p.purchase_enabled),
    referral_registered_enabled = COALESCE($3::boolean, p.referral_registered_enabled),
    referral_purchase_enabled   = COALESCE($4::boolean, p.referral_purchase_enabled),
    income_credited_enabled     = COALESCE($5::boolean, p.income_credited_enabled),
    updated_at                  = $6
RETURNING ` + preferencesColumns

const statsSQL = `
SELECT type, status, COUNT(*),
       (AVG(EXTRACT(EPOCH FROM (sent_at - created_at))) FILTER (WHERE status = 'sent' AND sent_at IS NOT NULL))::float8
FROM notifications
WHERE user_id = $1 AND created_at >= $2
GROUP BY type, status
ORDER BY type, status`

type NotifyRepository struct {
	db  *postgres.Postgres
	now func() time.Time
}

func NewNotifyRepository(db *postgres.Postgres) *NotifyRepository {
	return &NotifyRepository{db: db, now: time.Now}
}

func (r *NotifyRepository) exec(qe postgres.QueryExecuter) postgres.QueryExecuter {
	if qe == nil {
		return r.db
	}
	return qe
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(scanner rowScanner) (*entity.Notification, error) {
	var (
		n            entity.Notification
		typ, status  string
		content      []byte
		sentAt       pgtype.Timestamptz
		transportMsg pgtype.Text
		errorMessage pgtype.Text
	)

	err := scanner.Scan(
		&n.ID,
		&n.UserID,
		&typ,
		&content,
		&status,
		&n.CreatedAt,
		&sentAt,
		&transportMsg,
		&errorMessage,
		&n.RetryCount,
	)
	if err != nil {
		return nil, err
	}

	n.Type = entity.NotificationType(typ)
	n.Status = entity.Status(status)
	n.Content = json.RawMessage(content)
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	if transportMsg.Valid {
		n.TransportMessageID = transportMsg.String
	}
	if errorMessage.Valid {
		n.ErrorMessage = errorMessage.String
	}
	return &n, nil
}

func (r *NotifyRepository) Create(
	ctx context.Context,
	qe postgres.QueryExecuter,
	userID string,
	typ entity.NotificationType,
	content json.RawMessage,
) (*entity.Notification, error) {
	const op = "repository.NotifyRepository.Create"

	if !typ.IsValid() {
		return nil, fmt.Errorf("%s: type %q: %w", op, typ, entity.ErrInvalidData)
	}
	if len(content) == 0 {
		content = json.RawMessage(`{}`)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("%s: new v7 uuid: %w", op, err)
	}

	n := entity.Notification{
		ID:        id,
		UserID:    userID,
		Type:      typ,
		Content:   content,
		Status:    entity.StatusPending,
		CreatedAt: r.now().UTC(),
	}

	sql, args, err := r.db.Insert("notifications").
		Columns("id", "user_id", "type", "content", "status", "created_at", "retry_count").
		Values(n.ID, n.UserID, string(n.Type), []byte(n.Content), string(n.Status), n.CreatedAt, 0).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	if _, err = r.exec(qe).Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrConflictingData)
		}
		return nil, fmt.Errorf("%s: exec: %w", op, err)
	}

	return &n, nil
}

func (r *NotifyRepository) GetByID(ctx context.Context, qe postgres.QueryExecuter, id uuid.UUID) (*entity.Notification, error) {
	const op = "repository.NotifyRepository.GetByID"

	sql, args, err := r.db.Select(notificationColumns).
		From("notifications").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	n, err := scanNotification(r.exec(qe).QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrNotificationNotFound)
		}
		return nil, fmt.Errorf("%s: scan row: %w", op, err)
	}
	return n, nil
}

// UpdateStatus применяет переход одним запросом. WHERE пропускает только статусы,
// из которых цель достижима, поэтому параллельные обновления не выводят запись
// из конечного состояния.
func (r *NotifyRepository) UpdateStatus(
	ctx context.Context,
	qe postgres.QueryExecuter,
	id uuid.UUID,
	status entity.Status,
	upd entity.StatusUpdate,
) (*entity.Notification, error) {
	const op = "repository.NotifyRepository.UpdateStatus"

	if err := upd.Validate(status); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sources := make([]string, 0, 2)
	for _, s := range status.Sources() {
		sources = append(sources, string(s))
	}

	q := r.db.Update("notifications").
		Set("status", string(status)).
		Where(squirrel.Eq{"id": id, "status": sources}).
		Suffix("RETURNING " + notificationColumns)

	if upd.SentAt != nil {
		q = q.Set("sent_at", upd.SentAt.UTC())
	}
	if upd.TransportMessageID != nil {
		q = q.Set("transport_message_id", *upd.TransportMessageID)
	}
	if upd.ErrorMessage != nil {
		q = q.Set("error_message", *upd.ErrorMessage)
	}
	if upd.RetryCount != nil {
		q = q.Set("retry_count", squirrel.Expr("GREATEST(retry_count, ?)", *upd.RetryCount))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	executor := r.exec(qe)
	n, err := scanNotification(executor.QueryRow(ctx, sql, args...))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: scan row: %w", op, err)
	}

	current, getErr := r.GetByID(ctx, executor, id)
	if getErr != nil {
		return nil, fmt.Errorf("%s: %w", op, getErr)
	}
	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("%s: %s -> %s: %w", op, current.Status, status, entity.ErrNotificationFinalized)
	}
	return nil, fmt.Errorf("%s: transition %s -> %s: %w", op, current.Status, status, entity.ErrInvalidData)
}

func (r *NotifyRepository) GetPreferences(ctx context.Context, qe postgres.QueryExecuter, userID string) (entity.Preferences, error) {
	const op = "repository.NotifyRepository.GetPreferences"

	sql, args, err := r.db.Select(preferencesColumns).
		From("notification_preferences").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return entity.Preferences{}, fmt.Errorf("%s: building query: %w", op, err)
	}

	prefs, err := scanPreferences(r.exec(qe).QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity.DefaultPreferences(userID), nil
		}
		return entity.Preferences{}, fmt.Errorf("%s: scan row: %w", op, err)
	}
	return prefs, nil
}

// UpdatePreferences сливает patch с сохраненной строкой. При первой записи
// строка создается со значениями по умолчанию.
func (r *NotifyRepository) UpdatePreferences(
	ctx context.Context,
	qe postgres.QueryExecuter,
	userID string,
	patch entity.PreferencesPatch,
) (entity.Preferences, error) {
	const op = "repository.NotifyRepository.UpdatePreferences"

	prefs, err := scanPreferences(r.exec(qe).QueryRow(ctx, upsertPreferencesSQL,
		userID,
		patch.PurchaseEnabled,
		patch.ReferralRegisteredEnabled,
		patch.ReferralPurchaseEnabled,
		patch.IncomeCreditedEnabled,
		r.now().UTC(),
	))
	if err != nil {
		return entity.Preferences{}, fmt.Errorf("%s: upsert: %w", op, err)
	}
	return prefs, nil
}

func scanPreferences(scanner rowScanner) (entity.Preferences, error) {
	var p entity.Preferences
	err := scanner.Scan(
		&p.UserID,
		&p.PurchaseEnabled,
		&p.ReferralRegisteredEnabled,
		&p.ReferralPurchaseEnabled,
		&p.IncomeCreditedEnabled,
		&p.UpdatedAt,
	)
	return p, err
}

func (r *NotifyRepository) IsBlocked(ctx context.Context, qe postgres.QueryExecuter, userID string) (bool, error) {
	const op = "repository.NotifyRepository.IsBlocked"

	sql, args, err := r.db.Select("bot_blocked").
		From("notification_recipients").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%s: building query: %w", op, err)
	}

	var blocked bool
	if err = r.exec(qe).QueryRow(ctx, sql, args...).Scan(&blocked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%s: scan row: %w", op, err)
	}
	return blocked, nil
}

func (r *NotifyRepository) SetBlocked(ctx context.Context, qe postgres.QueryExecuter, userID string, blocked bool) error {
	const op = "repository.NotifyRepository.SetBlocked"

	var blockedAt any
	if blocked {
		blockedAt = r.now().UTC()
	}

	sql, args, err := r.db.Insert("notification_recipients").
		Columns("user_id", "bot_blocked", "bot_blocked_at").
		Values(userID, blocked, blockedAt).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET bot_blocked = EXCLUDED.bot_blocked, bot_blocked_at = EXCLUDED.bot_blocked_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: building query: %w", op, err)
	}

	if _, err = r.exec(qe).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}
	return nil
}

func (r *NotifyRepository) SetLastNotificationAt(ctx context.Context, qe postgres.QueryExecuter, userID string, at time.Time) error {
	const op = "repository.NotifyRepository.SetLastNotificationAt"

	sql, args, err := r.db.Insert("notification_recipients").
		Columns("user_id", "last_notification_at").
		Values(userID, at.UTC()).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET last_notification_at = EXCLUDED.last_notification_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: building query: %w", op, err)
	}

	if _, err = r.exec(qe).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}
	return nil
}

// History возвращает уведомления пользователя, сначала новые.
func (r *NotifyRepository) History(
	ctx context.Context,
	qe postgres.QueryExecuter,
	userID string,
	filter entity.HistoryFilter,
) ([]entity.Notification, error) {
	const op = "repository.NotifyRepository.History"

	filter = filter.Normalize()

	q := r.db.Select(notificationColumns).
		From("notifications").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset)
	if filter.Type != nil {
		q = q.Where(squirrel.Eq{"type": string(*filter.Type)})
	}
	if filter.Status != nil {
		q = q.Where(squirrel.Eq{"status": string(*filter.Status)})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	rows, err := r.exec(qe).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	results := make([]entity.Notification, 0, filter.Limit)
	for rows.Next() {
		n, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, scanErr)
		}
		results = append(results, *n)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}
	return results, nil
}

// Stats группирует уведомления пользователя с момента since по типу и статусу.
func (r *NotifyRepository) Stats(ctx context.Context, qe postgres.QueryExecuter, userID string, since time.Time) ([]entity.StatsRow, error) {
	const op = "repository.NotifyRepository.Stats"

	rows, err := r.exec(qe).Query(ctx, statsSQL, userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var out []entity.StatsRow
	for rows.Next() {
		var (
			row         entity.StatsRow
			typ, status string
			avg         pgtype.Float8
		)
		if err = rows.Scan(&typ, &status, &row.Count, &avg); err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}
		row.Type = entity.NotificationType(typ)
		row.Status = entity.Status(status)
		if avg.Valid {
			v := avg.Float64
			row.AvgDeliverySeconds = &v
		}
		out = append(out, row)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows error: %w", op, err)
	}
	return out, nil
}

// Cleanup удаляет завершенные записи старше срока хранения.
func (r *NotifyRepository) Cleanup(ctx context.Context, qe postgres.QueryExecuter, policy entity.CleanupPolicy) (entity.CleanupResult, error) {
	const op = "repository.NotifyRepository.Cleanup"

	now := r.now().UTC()
	executor := r.exec(qe)

	del := func(statuses []string, olderThan time.Duration) (int64, error) {
		sql, args, err := r.db.Delete("notifications").
			Where(squirrel.Eq{"status": statuses}).
			Where(squirrel.Lt{"created_at": now.Add(-olderThan)}).
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("building query: %w", err)
		}
		tag, err := executor.Exec(ctx, sql, args...)
		if err != nil {
			return 0, fmt.Errorf("exec: %w", err)
		}
		return tag.RowsAffected(), nil
	}

	var res entity.CleanupResult
	var err error
	if res.Sent, err = del([]string{string(entity.StatusSent)}, policy.SentOlderThan); err != nil {
		return res, fmt.Errorf("%s: sent: %w", op, err)
	}
	if res.Failed, err = del([]string{string(entity.StatusFailed), string(entity.StatusCancelled)}, policy.FailedOlderThan); err != nil {
		return res, fmt.Errorf("%s: failed: %w", op, err)
	}
	return res, nil
}

func (r *NotifyRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("repository.NotifyRepository.Ping: %w", err)
	}
	return nil
}
