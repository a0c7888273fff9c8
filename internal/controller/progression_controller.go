package controller

import (
	"chemquest_backend/internal/model"
	"chemquest_backend/internal/service"
	"chemquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// ProgressionController 游戏引擎上报挑战记录和登录事件的入口
type ProgressionController struct {
	Progression *service.ProgressionService
	Clock       util.Clock
}

func NewProgressionController(progression *service.ProgressionService, clock util.Clock) *ProgressionController {
	return &ProgressionController{Progression: progression, Clock: clock}
}

// @Summary 提交挑战记录
// @Tags 学习进度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param attempt body model.AttemptRequest true "挑战记录"
// @Success 201 {object} util.Response
// @Router /api/attempts [post]
func (c *ProgressionController) RecordAttempt(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req model.AttemptRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	// 只有管理员可以代其他用户上报
	if req.UserID == "" {
		req.UserID = user.Subject()
	} else if req.UserID != user.Subject() && user.Role != util.RoleAdmin {
		util.Forbidden(ctx)
		return
	}

	result, err := c.Progression.RecordAttempt(ctx.Request.Context(), &req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	if result.Duplicate {
		util.Success(ctx, result)
		return
	}
	util.Created(ctx, result)
}

// @Summary 记录登录
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/logins [post]
func (c *ProgressionController) RecordLogin(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	state, err := c.Progression.RecordLogin(ctx.Request.Context(), user.Subject(), c.Clock.Now())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, state)
}
