package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chemquest_backend/internal/config"
	"chemquest_backend/internal/model"
	"chemquest_backend/internal/repository"
	"chemquest_backend/internal/util"
	"chemquest_backend/pkg/logger"
	"chemquest_backend/pkg/monitoring"
	"chemquest_backend/pkg/ranking"

	"go.uber.org/zap"
)

// categoryBoard pairs a ranking with the lock that serializes its writers,
// so the in-memory order and the stored rows change in the same sequence.
type categoryBoard struct {
	writeMu sync.Mutex
	board   *ranking.Board
}

// LeaderboardService 每个分类一个排行榜，支持并发更新与查询
type LeaderboardService struct {
	store repository.LeaderboardStore
	clock util.Clock
	cfg   atomic.Pointer[config.LeaderboardConfig]

	mu     sync.RWMutex
	boards map[string]*categoryBoard
}

func NewLeaderboardService(store repository.LeaderboardStore, cfg config.LeaderboardConfig, clock util.Clock) *LeaderboardService {
	if clock == nil {
		clock = util.SystemClock{}
	}
	s := &LeaderboardService{store: store, clock: clock, boards: make(map[string]*categoryBoard)}
	s.UpdateTuning(cfg)
	return s
}

// UpdateTuning applies new limits and registers any new categories. Removing
// a category from the configuration does not drop its board.
func (s *LeaderboardService) UpdateTuning(cfg config.LeaderboardConfig) {
	s.cfg.Store(&cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range cfg.Categories {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := s.boards[id]; !ok {
			s.boards[id] = &categoryBoard{board: ranking.NewBoard(id)}
		}
	}
}

// Hydrate loads every registered category from the store.
func (s *LeaderboardService) Hydrate(ctx context.Context) error {
	for _, id := range s.Categories() {
		cb, _ := s.category(id)
		entries, err := s.store.LoadCategory(ctx, id)
		if err != nil {
			return err
		}
		items := make([]ranking.Entry, len(entries))
		for i, e := range entries {
			items[i] = ranking.Entry{UserID: e.UserID, Score: e.Score, UpdatedAt: e.UpdatedAt}
		}
		cb.writeMu.Lock()
		cb.board.Load(items)
		cb.writeMu.Unlock()
		logger.Log.Info("排行榜已加载", zap.String("category", id), zap.Int("entries", len(items)))
	}
	return nil
}

func (s *LeaderboardService) category(id string) (*categoryBoard, error) {
	s.mu.RLock()
	cb, ok := s.boards[id]
	s.mu.RUnlock()
	if !ok {
		return nil, util.NewNotFoundError("leaderboard category", id)
	}
	return cb, nil
}

// Categories 已注册的分类，按名称排序
func (s *LeaderboardService) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.boards))
	for id := range s.boards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpdateScore sets the user's absolute score in a category. A write stamped
// earlier than the stored entry is ignored and reported as not applied.
func (s *LeaderboardService) UpdateScore(ctx context.Context, categoryID, userID string, score float64, at time.Time) (bool, error) {
	if userID == "" {
		return false, util.NewValidationError("userId", "is required")
	}
	if !isFinite(score) {
		return false, util.NewValidationError("score", "must be a finite number")
	}
	cb, err := s.category(categoryID)
	if err != nil {
		return false, err
	}
	if at.IsZero() {
		at = s.clock.Now()
	}

	cb.writeMu.Lock()
	defer cb.writeMu.Unlock()

	if !cb.board.Upsert(ranking.Entry{UserID: userID, Score: score, UpdatedAt: at}) {
		monitoring.LeaderboardUpdates.WithLabelValues(categoryID, "stale").Inc()
		return false, nil
	}
	monitoring.LeaderboardUpdates.WithLabelValues(categoryID, "applied").Inc()

	err = s.store.SaveEntry(ctx, model.LeaderboardEntry{UserID: userID, CategoryID: categoryID, Score: score, UpdatedAt: at})
	if err != nil {
		monitoring.StorageErrors.WithLabelValues("leaderboard", "save").Inc()
		logger.Log.Warn("保存排行榜条目失败，保留内存排名",
			zap.String("category", categoryID), zap.String("userId", userID), zap.Error(err))
	}
	return true, nil
}

// GetLeaderboard returns the top entries. limit is clamped to
// [1, MaxLimit]; zero or less means DefaultLimit.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, categoryID string, limit int) ([]model.LeaderboardEntry, error) {
	cb, err := s.category(categoryID)
	if err != nil {
		return nil, err
	}
	cfg := s.cfg.Load()
	if limit <= 0 {
		limit = cfg.DefaultLimit
	}
	if cfg.MaxLimit > 0 && limit > cfg.MaxLimit {
		limit = cfg.MaxLimit
	}

	top := cb.board.Top(limit)
	out := make([]model.LeaderboardEntry, len(top))
	for i, r := range top {
		out[i] = model.LeaderboardEntry{
			UserID:     r.UserID,
			CategoryID: categoryID,
			Score:      r.Score,
			UpdatedAt:  r.UpdatedAt,
			Rank:       r.Rank,
		}
	}
	return out, nil
}

// GetUserRank returns the 1-based rank; ok is false when the user has no
// entry. An unknown category is a NotFoundError.
func (s *LeaderboardService) GetUserRank(ctx context.Context, userID, categoryID string) (int, bool, error) {
	cb, err := s.category(categoryID)
	if err != nil {
		return 0, false, err
	}
	rank, ok := cb.board.Rank(userID)
	return rank, ok, nil
}

func (s *LeaderboardService) GetUserEntry(ctx context.Context, categoryID, userID string) (model.LeaderboardEntry, bool, error) {
	cb, err := s.category(categoryID)
	if err != nil {
		return model.LeaderboardEntry{}, false, err
	}
	e, ok := cb.board.Entry(userID)
	if !ok {
		return model.LeaderboardEntry{}, false, nil
	}
	rank, _ := cb.board.Rank(userID)
	return model.LeaderboardEntry{UserID: e.UserID, CategoryID: categoryID, Score: e.Score, UpdatedAt: e.UpdatedAt, Rank: rank}, true, nil
}

// Rebuild recomputes a category's ranking from its user index.
func (s *LeaderboardService) Rebuild(categoryID string) (bool, error) {
	cb, err := s.category(categoryID)
	if err != nil {
		return false, err
	}
	cb.writeMu.Lock()
	defer cb.writeMu.Unlock()
	return cb.board.Rebuild(), nil
}

// RebuildAll compacts every category, stopping early when ctx is cancelled.
func (s *LeaderboardService) RebuildAll(ctx context.Context) error {
	for _, id := range s.Categories() {
		if err := ctx.Err(); err != nil {
			return err
		}
		drifted, err := s.Rebuild(id)
		if err != nil {
			return err
		}
		if drifted {
			logger.Log.Warn("leaderboard index drift repaired", zap.String("category", id))
		}
	}
	return nil
}
