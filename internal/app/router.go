package app

import (
	"chemquest_backend/internal/config"
	"chemquest_backend/internal/middleware"
	"chemquest_backend/internal/util"
	"chemquest_backend/pkg/monitoring"
	"chemquest_backend/pkg/security"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(
		middleware.AuthMiddleware(cfg.JWT.Secret),
		security.RateLimiter(a.ctx, cfg.RateLimit),
		middleware.ActivityMiddleware(a.Progression, a.clock),
	)
	{
		a.registerPlayerRoutes(authGroup, c)
	}

	// 3. 管理员相关接口
	a.registerAdminRoutes(router, c, cfg)
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.GET("/leaderboards", c.leaderboard.ListCategories)
		public.GET("/leaderboards/:category", c.leaderboard.GetLeaderboard)
	}
}

func (a *App) registerPlayerRoutes(group *gin.RouterGroup, c *controllers) {
	group.POST("/attempts", c.progression.RecordAttempt)
	group.POST("/logins", c.progression.RecordLogin)

	progress := group.Group("/progress")
	{
		progress.GET("/metrics", c.progress.GetMetrics)
		progress.GET("/concepts", c.progress.GetConcepts)
		progress.GET("/weak-areas", c.progress.GetWeakAreas)
	}
	group.GET("/recommendations", c.progress.GetRecommendations)
	group.GET("/learning-path", c.progress.GetLearningPath)

	difficulty := group.Group("/difficulty")
	{
		difficulty.GET("", c.difficulty.ListDifficulties)
		difficulty.GET("/:type", c.difficulty.GetDifficulty)
		difficulty.POST("/:type/adjust", c.difficulty.AdjustRealTime)
	}

	streak := group.Group("/streak")
	{
		streak.GET("", c.streak.GetStreak)
		streak.GET("/bonus", c.streak.GetBonus)
		streak.GET("/milestones", c.streak.GetMilestones)
		streak.POST("/recovery", c.streak.UseRecovery)
		streak.DELETE("", c.streak.ResetStreak)
	}

	group.GET("/leaderboards/:category/rank", c.leaderboard.GetUserRank)
}

func (a *App) registerAdminRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg.JWT.Secret), middleware.RoleMiddleware(util.RoleAdmin))
	{
		admin.PUT("/leaderboards/:category", c.leaderboard.UpdateScore)
	}
}
