package httpt

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/internal/service"
)

type NotifyService interface {
	GetPreferences(ctx context.Context, userID string) (entity.Preferences, error)
	UpdatePreferences(ctx context.Context, userID string, patch entity.PreferencesPatch) (entity.Preferences, error)
	History(ctx context.Context, userID string, filter entity.HistoryFilter) ([]entity.Notification, error)
	Stats(ctx context.Context, userID string, period entity.StatsPeriod) (entity.StatsSummary, error)
	Health(ctx context.Context) service.Health
}

type NotifyHandler struct {
	svc    NotifyService
	log    *zap.Logger
	router *gin.Engine
}

func NewNotifyHandler(svc NotifyService, log *zap.Logger) *NotifyHandler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &NotifyHandler{
		svc: svc,
		log: log,
	}

	router := gin.New()

	router.Use(h.requestIDMiddleware())
	router.Use(h.loggingMiddleware())
	router.Use(gin.Recovery())

	h.router = router
	h.setupRoutes()

	return h
}

func (h *NotifyHandler) Engine() *gin.Engine {
	return h.router
}
