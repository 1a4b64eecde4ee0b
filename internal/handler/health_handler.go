package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ChainStatus 账本连接状态
type ChainStatus interface {
	GetHealthStatus(ctx context.Context) map[string]interface{}
}

type HealthHandler struct {
	chain   ChainStatus
	monitor func() map[string]interface{}
}

// NewHealthHandler monitor 可为 nil
func NewHealthHandler(chain ChainStatus, monitor func() map[string]interface{}) *HealthHandler {
	return &HealthHandler{chain: chain, monitor: monitor}
}

// Health 存活检查
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "escrow-service",
	})
}

// ChainHealth 账本健康检查
func (h *HealthHandler) ChainHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := h.chain.GetHealthStatus(ctx)
	if h.monitor != nil {
		status["monitor"] = h.monitor()
	}
	code := http.StatusOK
	if status["client_status"] != "connected" {
		code = http.StatusServiceUnavailable
	}
	SuccessResponse(c, code, "ok", status)
}
