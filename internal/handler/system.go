package handlers

import (
	"net/http"
	"time"

	"EchoCast/pkg/middleware"
	"EchoCast/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var startedAt = time.Now()

// HealthCheck 健康检查：进程存活 + 数据库连通性
func (h *Handlers) HealthCheck(c *gin.Context) {
	status := "ok"
	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		status = "degraded"
		dbStatus = err.Error()
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"database": dbStatus,
		"uptime":   time.Since(startedAt).String(),
	})
}

// StreamProgress 以 SSE 推送当前用户任务的进度事件
func (h *Handlers) StreamProgress(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	if userID == "" {
		response.FailWithStatus(c, http.StatusUnauthorized, -1, "user identity required", "", nil)
		return
	}
	h.hub.Serve(c, uuid.NewString(), userID)
}
