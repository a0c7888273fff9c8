package controller

import (
	"chemquest_backend/internal/model"
	"chemquest_backend/internal/service"
	"chemquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type LeaderboardController struct {
	Leaderboards *service.LeaderboardService
	Clock        util.Clock
}

func NewLeaderboardController(leaderboards *service.LeaderboardService, clock util.Clock) *LeaderboardController {
	return &LeaderboardController{Leaderboards: leaderboards, Clock: clock}
}

// @Summary 排行榜分类
// @Tags 排行榜
// @Produce json
// @Success 200 {object} util.Response
// @Router /api/leaderboards [get]
func (c *LeaderboardController) ListCategories(ctx *gin.Context) {
	util.Success(ctx, c.Leaderboards.Categories())
}

// @Summary 获取排行榜
// @Tags 排行榜
// @Produce json
// @Param category path string true "分类"
// @Param limit query int false "数量" default(10)
// @Success 200 {object} util.Response
// @Router /api/leaderboards/{category} [get]
func (c *LeaderboardController) GetLeaderboard(ctx *gin.Context) {
	limit := util.ParseIntDefault(ctx.Query("limit"), 0)
	entries, err := c.Leaderboards.GetLeaderboard(ctx.Request.Context(), ctx.Param("category"), limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, entries)
}

// @Summary 获取我的排名
// @Tags 排行榜
// @Produce json
// @Security BearerAuth
// @Param category path string true "分类"
// @Success 200 {object} util.Response
// @Router /api/leaderboards/{category}/rank [get]
func (c *LeaderboardController) GetUserRank(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	category := ctx.Param("category")
	entry, ranked, err := c.Leaderboards.GetUserEntry(ctx.Request.Context(), category, user.Subject())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	if !ranked {
		util.Success(ctx, gin.H{"categoryId": category, "userId": user.Subject(), "ranked": false})
		return
	}
	util.Success(ctx, gin.H{"categoryId": category, "userId": user.Subject(), "ranked": true, "entry": entry})
}

// @Summary 设置分数（管理员）
// @Tags 排行榜
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param category path string true "分类"
// @Param update body model.ScoreUpdate true "分数"
// @Success 200 {object} util.Response
// @Router /api/admin/leaderboards/{category} [put]
func (c *LeaderboardController) UpdateScore(ctx *gin.Context) {
	var req model.ScoreUpdate
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	at := c.Clock.Now()
	if req.At != nil {
		at = *req.At
	}

	applied, err := c.Leaderboards.UpdateScore(ctx.Request.Context(), ctx.Param("category"), req.UserID, req.Score, at)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"applied": applied})
}
