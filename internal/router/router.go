package router

import (
	"time"

	"github.com/blues/escrow/internal/auth"
	"github.com/blues/escrow/internal/config"
	"github.com/blues/escrow/internal/handler"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Dashboard *handler.DashboardHandler
	Commands  *handler.CommandHandler
	Health    *handler.HealthHandler
}

func Setup(cfg config.ServerConfig, authenticator *auth.Authenticator, h Handlers) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	r := gin.New()

	// 中间件
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLog())
	r.Use(httpMetrics())
	r.Use(corsMiddleware(cfg.CorsOrigins))

	// 健康检查
	r.GET("/health", h.Health.Health)
	r.GET("/health/chain", h.Health.ChainHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API版本组，全部需要确定调用方
	v1 := r.Group("/api/v1")
	v1.Use(authMiddleware(authenticator))
	{
		v1.GET("/dashboard/:role", h.Dashboard.GetDashboard)

		projects := v1.Group("/projects")
		{
			projects.POST("", h.Commands.CreateProject)
			projects.GET("/:id", h.Dashboard.GetProject)
			projects.POST("/:id/milestones", h.Commands.CreateMilestone)
		}

		milestones := v1.Group("/milestones")
		{
			milestones.POST("/:id/submit", h.Commands.SubmitMilestone)
			milestones.POST("/:id/approve", h.Commands.ApproveMilestone)
		}

		commands := v1.Group("/commands")
		{
			commands.GET("", h.Commands.ListCommands)
			commands.GET("/:requestId", h.Commands.GetCommand)
		}
	}

	return r
}

// CORS中间件
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", auth.PartyHeader, requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
