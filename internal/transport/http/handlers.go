package httpt

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/internal/service"
	"github.com/Peakviker/RefSeller/pkg/logger"
)

const (
	_defaultContextTimeout = 2 * time.Second
	_healthContextTimeout  = 5 * time.Second
)

// @Summary Получить настройки уведомлений
// @Description Возвращает настройки пользователя; по умолчанию все типы включены
// @Tags Preferences
// @Produce json
// @Param userId query string true "Идентификатор пользователя (Telegram id)"
// @Success 200 {object} httpt.PreferencesResponse
// @Failure 400 {object} httpt.ErrorResponse "Не указан userId"
// @Failure 500 {object} httpt.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/notifications/preferences [get]
func (h *NotifyHandler) getPreferences(c *gin.Context) {
	const op = "transport.http.getPreferences"

	userID := c.Query("userId")
	if userID == "" {
		h.handleBadRequest(c, op, "userId is required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	prefs, err := h.svc.GetPreferences(ctx, userID)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	logger.Ctx(ctx, h.log).Info("notification preferences fetched", zap.String("user_id", userID))
	c.JSON(http.StatusOK, PreferencesResponse{Success: true, Preferences: prefs})
}

// @Summary Обновить настройки уведомлений
// @Description Частичное обновление: меняются только переданные флаги
// @Tags Preferences
// @Accept json
// @Produce json
// @Param request body httpt.UpdatePreferencesRequest true "userId и флаги типов"
// @Success 200 {object} httpt.PreferencesResponse
// @Failure 400 {object} httpt.ErrorResponse "Не указан userId или флаг не boolean"
// @Failure 500 {object} httpt.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/notifications/preferences [patch]
func (h *NotifyHandler) updatePreferences(c *gin.Context) {
	const op = "transport.http.updatePreferences"

	var req UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleBadRequest(c, op, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	prefs, err := h.svc.UpdatePreferences(ctx, string(req.UserID), req.PreferencesPatch)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	c.JSON(http.StatusOK, PreferencesResponse{Success: true, Preferences: prefs})
}

// @Summary История уведомлений
// @Description Уведомления пользователя, новые первыми
// @Tags History
// @Produce json
// @Param userId query string true "Идентификатор пользователя"
// @Param limit query int false "Размер страницы (по умолчанию 20, максимум 100)"
// @Param offset query int false "Смещение"
// @Param type query string false "Тип уведомления" Enums(purchase, referral_registered, referral_purchase, income_credited)
// @Param status query string false "Статус" Enums(pending, sending, sent, failed, cancelled)
// @Success 200 {object} httpt.HistoryResponse
// @Failure 400 {object} httpt.ErrorResponse "Неверные параметры запроса"
// @Failure 500 {object} httpt.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/notifications/history [get]
func (h *NotifyHandler) getHistory(c *gin.Context) {
	const op = "transport.http.getHistory"

	userID := c.Query("userId")
	if userID == "" {
		h.handleBadRequest(c, op, "userId is required")
		return
	}

	filter, err := parseHistoryFilter(c)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}
	filter = filter.Normalize()

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	history, err := h.svc.History(ctx, userID, filter)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	logger.Ctx(ctx, h.log).Info("notification history fetched",
		zap.String("user_id", userID),
		zap.Uint64("limit", filter.Limit),
		zap.Uint64("offset", filter.Offset),
		zap.Int("count", len(history)),
	)

	c.JSON(http.StatusOK, HistoryResponse{
		Success: true,
		History: history,
		Pagination: Pagination{
			Limit:  filter.Limit,
			Offset: filter.Offset,
			Count:  len(history),
		},
	})
}

func parseHistoryFilter(c *gin.Context) (entity.HistoryFilter, error) {
	var filter entity.HistoryFilter

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("limit must be a non-negative integer: %w", entity.ErrInvalidData)
		}
		filter.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("offset must be a non-negative integer: %w", entity.ErrInvalidData)
		}
		filter.Offset = offset
	}
	if raw := c.Query("type"); raw != "" {
		t, err := entity.ParseNotificationType(raw)
		if err != nil {
			return filter, err
		}
		filter.Type = &t
	}
	if raw := c.Query("status"); raw != "" {
		s, err := entity.ParseStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = &s
	}
	return filter, nil
}

// @Summary Статистика уведомлений
// @Description Количество уведомлений по типам и статусам за период и среднее время доставки в секундах
// @Tags Stats
// @Produce json
// @Param userId query string true "Идентификатор пользователя"
// @Param period query string false "Период" Enums(day, week, month) default(month)
// @Success 200 {object} httpt.StatsResponse
// @Failure 400 {object} httpt.ErrorResponse "Неверные параметры запроса"
// @Failure 500 {object} httpt.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/notifications/stats [get]
func (h *NotifyHandler) getStats(c *gin.Context) {
	const op = "transport.http.getStats"

	userID := c.Query("userId")
	if userID == "" {
		h.handleBadRequest(c, op, "userId is required")
		return
	}
	period, err := entity.ParseStatsPeriod(c.Query("period"))
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	summary, err := h.svc.Stats(ctx, userID, period)
	if err != nil {
		h.handleServiceError(c, op, err)
		return
	}

	logger.Ctx(ctx, h.log).Info("notification stats fetched",
		zap.String("user_id", userID),
		zap.String("period", string(period)),
		zap.Int64("total", summary.Total),
	)
	c.JSON(http.StatusOK, newStatsResponse(summary))
}

// @Summary Состояние сервиса
// @Description Доступность БД, счетчики очереди, состояние лимитера; 503 при недоступной БД
// @Tags Health
// @Produce json
// @Success 200 {object} service.Health
// @Failure 503 {object} service.Health
// @Router /api/notifications/health [get]
func (h *NotifyHandler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), _healthContextTimeout)
	defer cancel()

	status := h.svc.Health(ctx)
	code := http.StatusOK
	if status.Status == service.HealthUnhealthy {
		code = http.StatusServiceUnavailable
		c.Header("Retry-After", "30")
	}
	c.JSON(code, status)
}
