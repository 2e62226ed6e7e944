package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bonfire/backend/config"
	"bonfire/backend/internal/api/handler"
	"bonfire/backend/internal/api/middleware"
	"bonfire/backend/pkg/jwt"
	"bonfire/backend/pkg/redis"
)

// Setup 初始化并返回 Gin 路由引擎
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ── API v1（全部需要认证）──
	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtMgr))
	{
		// 日程模块
		plans := v1.Group("/plans")
		{
			plans.POST("", middleware.RoleAuth(jwt.RoleGuardian), h.Plan.CreatePlan)
			plans.GET("", h.Plan.GetPlans)
			plans.GET("/default-color", middleware.RoleAuth(jwt.RoleGuardian), h.Plan.GetDefaultColor)
			plans.GET("/today", h.Plan.GetTodayPlan)
			plans.POST("/instances/:id/verify", h.Plan.VerifyNowPlan)
			plans.POST("/instances/:id/skip", h.Plan.SkipNowPlan)
			plans.GET("/export", middleware.RoleAuth(jwt.RoleGuardian), h.Export.ExportPlans)
			plans.GET("/feed.ics", h.Export.ExportFeed)
		}

		// 点火（限流防止刷点火接口）
		v1.POST("/ignite", middleware.RateLimit(rdb, 10, time.Minute), h.Ignite.Ignite)

		// 孩子模块
		v1.GET("/children/:id/balance", h.Child.GetBalance)
	}

	return r
}
