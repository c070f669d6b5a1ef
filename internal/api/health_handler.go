package api

import (
	"context"
	"net/http"
	"time"

	"campus-chat/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db *gorm.DB // 内存模式下为 nil
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	status := gin.H{"status": "ok", "database": "disabled"}
	if h.db != nil {
		status["database"] = "ok"
		if err := h.ping(c.Request.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, response.Body{Code: http.StatusServiceUnavailable, Msg: "unhealthy", Data: status})
			return
		}
	}
	response.OK(c, status)
}

func (h *HealthHandler) ping(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
