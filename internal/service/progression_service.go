package service

import (
	"context"
	"fmt"
	"time"

	"chemquest_backend/internal/config"
	"chemquest_backend/internal/model"
	"chemquest_backend/internal/util"
	"chemquest_backend/pkg/logger"
	"chemquest_backend/pkg/monitoring"
	"chemquest_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ProgressionService wires the attempt and login flows across the engine's
// services: ingest → performance → {difficulty, leaderboards}; login → streak.
type ProgressionService struct {
	Ingest          *IngestService
	Performance     *PerformanceService
	WeakAreas       *WeakAreaService
	Difficulty      *DifficultyService
	Streaks         *StreakService
	Leaderboards    *LeaderboardService
	Recommendations *RecommendationService
}

// RecordAttempt validates, de-duplicates and applies one attempt. A replayed
// attempt id returns Duplicate without touching any state.
func (p *ProgressionService) RecordAttempt(ctx context.Context, req *model.AttemptRequest) (*model.AttemptResult, error) {
	ctx, span := tracing.Start(ctx, "progression.RecordAttempt")
	defer span.End()

	rec, err := p.Ingest.Normalize(req)
	if err != nil {
		monitoring.AttemptsTotal.WithLabelValues("rejected").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("attempt.id", rec.ID),
		attribute.String("user.id", rec.UserID),
		attribute.String("challenge.type", string(rec.ChallengeType)),
	)

	claimed, err := p.Ingest.Claim(ctx, rec)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !claimed {
		monitoring.AttemptsTotal.WithLabelValues("duplicate").Inc()
		logger.Log.Debug("duplicate attempt ignored", zap.String("attemptId", rec.ID), zap.String("userId", rec.UserID))
		return &model.AttemptResult{AttemptID: rec.ID, Duplicate: true}, nil
	}

	perf, err := p.Performance.RecordAttempt(ctx, rec)
	if err != nil {
		if rerr := p.Ingest.Release(ctx, rec.ID); rerr != nil {
			logger.Log.Error("释放挑战记录失败", zap.String("attemptId", rec.ID), zap.Error(rerr))
		}
		span.RecordError(err)
		return nil, err
	}

	result := &model.AttemptResult{AttemptID: rec.ID}
	adj, err := p.Difficulty.RecordOutcome(ctx, rec.UserID, rec.ChallengeType, rec.IsCorrect, rec.Timestamp)
	if err != nil {
		logger.Log.Warn("difficulty update failed after attempt was applied",
			zap.String("attemptId", rec.ID), zap.String("userId", rec.UserID), zap.Error(err))
	} else {
		result.Difficulty = adj
	}

	// 累计分数以用户最新挑战时间为准，迟到的旧挑战不会被排行榜当作过期写入丢弃
	p.publishScores(ctx, perf, rec.ChallengeType, perf.LastAttemptAt)
	monitoring.AttemptsTotal.WithLabelValues("accepted").Inc()
	return result, nil
}

// publishScores pushes the user's challenge-type total and overall total to
// their leaderboards. Categories that are not configured are skipped.
func (p *ProgressionService) publishScores(ctx context.Context, perf *model.UserPerformance, ct model.ChallengeType, at time.Time) {
	var total float64
	for _, v := range perf.TypeScores {
		total += v
	}
	writes := []struct {
		category string
		score    float64
	}{
		{string(ct), perf.TypeScores[ct]},
		{model.TotalScoreCategory, total},
	}
	for _, w := range writes {
		_, err := p.Leaderboards.UpdateScore(ctx, w.category, perf.UserID, w.score, at)
		if err == nil || util.IsNotFound(err) {
			continue
		}
		logger.Log.Warn("leaderboard update failed",
			zap.String("category", w.category), zap.String("userId", perf.UserID), zap.Error(err))
	}
}

// RecordLogin 登录事件只驱动连续登录状态机
func (p *ProgressionService) RecordLogin(ctx context.Context, userID string, at time.Time) (model.StreakState, error) {
	return p.Streaks.RecordLogin(ctx, userID, at)
}

// UpdateTuning pushes reloaded tunables into every running service.
func (p *ProgressionService) UpdateTuning(cfg config.ProgressionConfig) error {
	p.Ingest.UpdateRealms(cfg.Realms)
	p.Performance.UpdateTuning(cfg)
	p.WeakAreas.UpdateTuning(cfg.WeakArea)
	p.Difficulty.UpdateTuning(cfg.Difficulty)
	p.Leaderboards.UpdateTuning(cfg.Leaderboard)
	p.Recommendations.UpdateTuning(cfg)
	if err := p.Streaks.UpdateTuning(cfg.Streak); err != nil {
		return fmt.Errorf("streak tunables rejected: %w", err)
	}
	return nil
}
