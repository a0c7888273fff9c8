package controller

import (
	"chemquest_backend/internal/model"
	"chemquest_backend/internal/service"
	"chemquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type StreakController struct {
	Streaks *service.StreakService
}

func NewStreakController(streaks *service.StreakService) *StreakController {
	return &StreakController{Streaks: streaks}
}

type recoveryRequest struct {
	Type model.RecoveryType `json:"type" binding:"required"`
}

// @Summary 获取连续登录统计
// @Tags 连续登录
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/streak [get]
func (c *StreakController) GetStreak(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	stats, err := c.Streaks.GetStreakStats(ctx.Request.Context(), user.Subject())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, stats)
}

// @Summary 获取当前奖励
// @Tags 连续登录
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/streak/bonus [get]
func (c *StreakController) GetBonus(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	bonuses, err := c.Streaks.GetCurrentBonus(ctx.Request.Context(), user.Subject())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, bonuses)
}

// @Summary 获取里程碑
// @Tags 连续登录
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/streak/milestones [get]
func (c *StreakController) GetMilestones(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	milestones, err := c.Streaks.GetMilestones(ctx.Request.Context(), user.Subject())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, milestones)
}

// @Summary 使用连续登录恢复
// @Tags 连续登录
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/streak/recovery [post]
func (c *StreakController) UseRecovery(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req recoveryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if req.Type != model.RecoveryAuto && req.Type != model.RecoveryRestore {
		util.BadRequest(ctx, "unknown recovery type")
		return
	}

	applied, err := c.Streaks.UseStreakRecovery(ctx.Request.Context(), user.Subject(), req.Type)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	state, err := c.Streaks.GetStreak(ctx.Request.Context(), user.Subject())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"applied": applied, "streak": state})
}

// @Summary 重置连续登录
// @Tags 连续登录
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/streak [delete]
func (c *StreakController) ResetStreak(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.Streaks.ResetStreak(ctx.Request.Context(), user.Subject()); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
