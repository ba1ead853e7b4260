package httpt

import (
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/Peakviker/RefSeller/docs"
)

// @title           RefSeller Notifications API
// @version         1.0
// @description     API настроек, истории и статистики Telegram-уведомлений
// @license.name    MIT-0
// @license.url     https://github.com/aws/mit-0
// @host            localhost:8080
// @BasePath        /
func (h *NotifyHandler) setupRoutes() {
	api := h.router.Group("/api/notifications")
	{
		api.GET("/preferences", h.getPreferences)
		api.PATCH("/preferences", h.updatePreferences)
		api.GET("/history", h.getHistory)
		api.GET("/stats", h.getStats)
		api.GET("/health", h.health)
	}

	h.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}
