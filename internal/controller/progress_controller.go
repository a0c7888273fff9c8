package controller

import (
	"chemquest_backend/internal/service"
	"chemquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ProgressController struct {
	Performance     *service.PerformanceService
	WeakAreas       *service.WeakAreaService
	Recommendations *service.RecommendationService
}

func NewProgressController(performance *service.PerformanceService, weakAreas *service.WeakAreaService, recommendations *service.RecommendationService) *ProgressController {
	return &ProgressController{Performance: performance, WeakAreas: weakAreas, Recommendations: recommendations}
}

// @Summary 获取表现统计
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/progress/metrics [get]
func (c *ProgressController) GetMetrics(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	metrics, err := c.Performance.GetPerformanceMetrics(ctx.Request.Context(), user.Subject())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, metrics)
}

// @Summary 获取概念统计
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/progress/concepts [get]
func (c *ProgressController) GetConcepts(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	concepts, err := c.Performance.GetConceptPerformance(ctx.Request.Context(), user.Subject())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, concepts)
}

// @Summary 获取薄弱环节
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/progress/weak-areas [get]
func (c *ProgressController) GetWeakAreas(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	areas, err := c.WeakAreas.IdentifyWeakAreas(ctx.Request.Context(), user.Subject())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, areas)
}

// @Summary 获取推荐
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/recommendations [get]
func (c *ProgressController) GetRecommendations(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	actions, err := c.Recommendations.GetRecommendations(ctx.Request.Context(), user.Subject())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, actions)
}

// @Summary 生成个性化学习路径
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Param targetLevel query int false "目标难度" default(5)
// @Success 200 {object} util.Response
// @Router /api/learning-path [get]
func (c *ProgressController) GetLearningPath(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	target := util.ParseIntDefault(ctx.Query("targetLevel"), 5)
	path, err := c.Recommendations.GeneratePersonalizedLearningPath(ctx.Request.Context(), user.Subject(), target)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, path)
}
