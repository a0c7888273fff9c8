package repository

import (
	"context"
	"time"

	"chemquest_backend/internal/model"
)

// 核心服务只依赖以下接口，底层可以是 gorm、redis 或内存实现

// PerformanceStore persists the aggregator's per-user state.
type PerformanceStore interface {
	// LoadPerformance returns nil, nil for a user that has never been saved.
	LoadPerformance(ctx context.Context, userID string) (*model.UserPerformance, error)
	// SavePerformance writes the user totals and the touched concept rows.
	SavePerformance(ctx context.Context, perf *model.UserPerformance, touched []model.ConceptKey) error
	// ActiveUsers lists users with an attempt at or after since.
	ActiveUsers(ctx context.Context, since time.Time) ([]string, error)
}

// DifficultyStore is versioned: a save whose expected version does not match
// the stored one fails with *util.ConflictError.
type DifficultyStore interface {
	LoadDifficulty(ctx context.Context, key model.DifficultyKey) (model.DifficultyState, bool, error)
	LoadDifficulties(ctx context.Context, userID string) ([]model.DifficultyState, error)
	SaveDifficulty(ctx context.Context, state model.DifficultyState, expected int64) error
}

type StreakStore interface {
	LoadStreak(ctx context.Context, userID string) (model.StreakState, bool, error)
	SaveStreak(ctx context.Context, state model.StreakState, expected int64) error
	DeleteStreak(ctx context.Context, userID string) error
}

// LeaderboardStore 排行榜持久化，写入由服务层按分类串行化
type LeaderboardStore interface {
	LoadCategory(ctx context.Context, categoryID string) ([]model.LeaderboardEntry, error)
	SaveEntry(ctx context.Context, entry model.LeaderboardEntry) error
}

// AttemptLedger remembers consumed attempt ids so a replayed record is
// applied at most once.
type AttemptLedger interface {
	// Claim returns false when the attempt was already claimed.
	Claim(ctx context.Context, rec model.AttemptRecord) (bool, error)
	// Release forgets a claim whose processing failed before any state changed.
	Release(ctx context.Context, attemptID string) error
}

// MetricsCache is the optional shared tier under the in-process metrics cache.
type MetricsCache interface {
	Get(ctx context.Context, userID string) (*model.PerformanceMetrics, bool, error)
	Set(ctx context.Context, metrics *model.PerformanceMetrics, ttl time.Duration) error
	Invalidate(ctx context.Context, userID string) error
}
