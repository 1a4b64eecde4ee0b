package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/blues/escrow/internal/auth"
	"github.com/blues/escrow/internal/escrow"
	"github.com/blues/escrow/internal/handler"
	"github.com/blues/escrow/internal/logger"
	"github.com/blues/escrow/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// requestID 为每个请求分配ID并写入上下文，命令流水以此去重
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(escrow.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %s request_id=%s", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start), escrow.RequestID(c.Request.Context()))
	}
}

func httpMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// authMiddleware 确定调用方地址
func authMiddleware(authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		party, err := authenticator.Party(c.Request)
		if err != nil {
			handler.ErrorResponse(c, http.StatusUnauthorized, err.Error())
			c.Abort()
			return
		}
		c.Set(handler.PartyKey, party)
		c.Next()
	}
}
