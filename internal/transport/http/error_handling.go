package httpt

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/pkg/logger"
)

func (h *NotifyHandler) handleServiceError(c *gin.Context, op string, err error) {
	log := logger.Ctx(c.Request.Context(), h.log).With(zap.String("op", op), zap.Error(err))

	switch {
	case errors.Is(err, entity.ErrInvalidData):
		log.Warn("invalid data")
		h.respondError(c, http.StatusBadRequest, "invalid_data", "Invalid input data", err)

	case errors.Is(err, entity.ErrNotificationNotFound), errors.Is(err, entity.ErrDataNotFound):
		log.Warn("data not found")
		h.respondError(c, http.StatusNotFound, "not_found", "Requested data not found", err)

	case errors.Is(err, entity.ErrConflictingData):
		log.Warn("conflicting data")
		h.respondError(c, http.StatusConflict, "conflict", "Data conflict occurred", err)

	case errors.Is(err, entity.ErrNotificationFinalized):
		log.Warn("notification already finalized")
		h.respondError(c, http.StatusConflict, "finalized", "Notification is already finalized", err)

	case errors.Is(err, entity.ErrQueueUnavailable), errors.Is(err, entity.ErrServiceDisabled):
		log.Error("notification subsystem unavailable")
		h.respondError(c, http.StatusServiceUnavailable, "unavailable", "Notification service unavailable", nil)

	default:
		log.Error("internal server error")
		h.respondError(c, http.StatusInternalServerError, "internal_error", "Internal server error occurred", nil)
	}
}

// respondError пишет ошибку клиенту. Детали отдаются только для ошибок клиента.
func (h *NotifyHandler) respondError(c *gin.Context, status int, code, message string, err error) {
	resp := ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	}
	if err != nil && status < http.StatusInternalServerError {
		resp.Details = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

func (h *NotifyHandler) handleBadRequest(c *gin.Context, op, details string) {
	logger.Ctx(c.Request.Context(), h.log).Warn("bad request",
		zap.String("op", op),
		zap.String("details", details),
	)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Success: false,
		Error:   "Invalid input data",
		Code:    "invalid_data",
		Details: details,
	})
}
