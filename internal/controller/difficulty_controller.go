package controller

import (
	"chemquest_backend/internal/model"
	"chemquest_backend/internal/service"
	"chemquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type DifficultyController struct {
	Difficulty *service.DifficultyService
}

func NewDifficultyController(difficulty *service.DifficultyService) *DifficultyController {
	return &DifficultyController{Difficulty: difficulty}
}

// @Summary 获取全部难度
// @Tags 难度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/difficulty [get]
func (c *DifficultyController) ListDifficulties(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	states, err := c.Difficulty.ListDifficulties(ctx.Request.Context(), user.Subject())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, states)
}

// @Summary 获取推荐难度
// @Tags 难度
// @Produce json
// @Security BearerAuth
// @Param type path string true "挑战类型"
// @Success 200 {object} util.Response
// @Router /api/difficulty/{type} [get]
func (c *DifficultyController) GetDifficulty(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	ct := model.ChallengeType(ctx.Param("type"))
	level, err := c.Difficulty.GetRecommendedDifficulty(ctx.Request.Context(), user.Subject(), ct)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	state, err := c.Difficulty.GetCurrentDifficulty(ctx.Request.Context(), user.Subject(), ct)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{
		"challengeType":    ct,
		"recommendedLevel": level,
		"state":            state,
	})
}

// @Summary 实时调整难度
// @Tags 难度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param type path string true "挑战类型"
// @Param recent body model.RecentPerformance true "近期表现"
// @Success 200 {object} util.Response
// @Router /api/difficulty/{type}/adjust [post]
func (c *DifficultyController) AdjustRealTime(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var recent model.RecentPerformance
	if err := ctx.ShouldBindJSON(&recent); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	ct := model.ChallengeType(ctx.Param("type"))
	adj, err := c.Difficulty.AdjustDifficultyRealTime(ctx.Request.Context(), user.Subject(), ct, recent)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, adj)
}
