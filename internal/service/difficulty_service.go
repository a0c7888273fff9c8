package service

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"chemquest_backend/internal/config"
	"chemquest_backend/internal/model"
	"chemquest_backend/internal/repository"
	"chemquest_backend/internal/util"
	"chemquest_backend/pkg/logger"
	"chemquest_backend/pkg/monitoring"
	"chemquest_backend/pkg/shardmap"

	"go.uber.org/zap"
)

func difficultyKeyHash(k model.DifficultyKey) uint64 {
	return shardmap.StringHash(k.UserID + "\x00" + string(k.ChallengeType))
}

// DifficultyService 每个 (用户, 挑战类型) 一个有界的难度反馈环
type DifficultyService struct {
	store  repository.DifficultyStore
	clock  util.Clock
	cfg    atomic.Pointer[config.DifficultyConfig]
	states *shardmap.Store[model.DifficultyKey, model.DifficultyState]
}

func NewDifficultyService(store repository.DifficultyStore, cfg config.DifficultyConfig, shards int, clock util.Clock) *DifficultyService {
	if clock == nil {
		clock = util.SystemClock{}
	}
	s := &DifficultyService{
		store:  store,
		clock:  clock,
		states: shardmap.New[model.DifficultyKey, model.DifficultyState](shards, difficultyKeyHash),
	}
	s.UpdateTuning(cfg)
	return s
}

func (s *DifficultyService) UpdateTuning(cfg config.DifficultyConfig) {
	s.cfg.Store(&cfg)
}

func (s *DifficultyService) fresh(key model.DifficultyKey) model.DifficultyState {
	return model.DifficultyState{
		UserID:        key.UserID,
		ChallengeType: key.ChallengeType,
		Level:         s.cfg.Load().StartLevel,
	}
}

// loadOrFresh reads the stored state; an unknown key yields a fresh state.
func (s *DifficultyService) loadOrFresh(ctx context.Context, key model.DifficultyKey) (model.DifficultyState, error) {
	st, ok, err := s.store.LoadDifficulty(ctx, key)
	if err != nil {
		monitoring.StorageErrors.WithLabelValues("difficulty", "load").Inc()
		return model.DifficultyState{}, fmt.Errorf("load difficulty %s/%s: %w: %w", key.UserID, key.ChallengeType, util.ErrStorageUnavailable, err)
	}
	if !ok {
		return s.fresh(key), nil
	}
	return st, nil
}

// mutate applies fn under the key's lock and persists the result with
// optimistic versioning. On a version conflict fn is re-applied to the
// freshly stored state. Other storage failures are logged and the in-memory
// state still advances.
func (s *DifficultyService) mutate(ctx context.Context, key model.DifficultyKey, fn func(model.DifficultyState) model.DifficultyState) (prev, next model.DifficultyState, err error) {
	_, err = s.states.Update(key, func(cur model.DifficultyState, ok bool) (model.DifficultyState, error) {
		if !ok {
			loaded, err := s.loadOrFresh(ctx, key)
			if err != nil {
				return cur, err
			}
			cur = loaded
		}

		err := retryOnConflict(func(attempt int) error {
			if attempt > 0 {
				reloaded, err := s.loadOrFresh(ctx, key)
				if err != nil {
					return err
				}
				cur = reloaded
			}
			prev = cur
			next = fn(cur)
			next.Version = cur.Version
			if next == cur {
				return nil
			}
			if err := s.store.SaveDifficulty(ctx, next, cur.Version); err != nil {
				return err
			}
			next.Version = cur.Version + 1
			return nil
		})
		switch {
		case err == nil:
			return next, nil
		case util.IsConflict(err):
			logger.Log.Warn("difficulty version conflict persisted after retries",
				zap.String("userId", key.UserID), zap.String("challengeType", string(key.ChallengeType)), zap.Error(err))
			return cur, err
		default:
			monitoring.StorageErrors.WithLabelValues("difficulty", "save").Inc()
			logger.Log.Warn("保存难度状态失败，保留内存状态",
				zap.String("userId", key.UserID), zap.String("challengeType", string(key.ChallengeType)), zap.Error(err))
			return next, nil
		}
	})
	return prev, next, err
}

func (s *DifficultyService) canAdjust(st model.DifficultyState, at time.Time, cooldown time.Duration) bool {
	return st.LastAdjustedAt.IsZero() || at.Sub(st.LastAdjustedAt) >= cooldown
}

// RecordOutcome feeds one attempt outcome into the state machine. Promotions
// wait out the cooldown. A demotion right after a promotion applies at once,
// but two demotions in a row are still spaced by the cooldown.
func (s *DifficultyService) RecordOutcome(ctx context.Context, userID string, ct model.ChallengeType, correct bool, at time.Time) (model.DifficultyAdjustment, error) {
	if at.IsZero() {
		at = s.clock.Now()
	}
	cfg := s.cfg.Load()
	key := model.DifficultyKey{UserID: userID, ChallengeType: ct}

	prev, next, err := s.mutate(ctx, key, func(st model.DifficultyState) model.DifficultyState {
		st.Level = clamp(st.Level, cfg.MinLevel, cfg.MaxLevel)
		if correct {
			st.ConsecutiveCorrect++
			st.ConsecutiveIncorrect = 0
			if st.ConsecutiveCorrect >= cfg.PromoteThreshold && s.canAdjust(st, at, cfg.Cooldown) {
				st.Level = clamp(st.Level+1, cfg.MinLevel, cfg.MaxLevel)
				st.ConsecutiveCorrect, st.ConsecutiveIncorrect = 0, 0
				st.LastAdjustedAt = at
				st.LastDirection = 1
			}
			return st
		}
		st.ConsecutiveIncorrect++
		st.ConsecutiveCorrect = 0
		if st.ConsecutiveIncorrect >= cfg.DemoteThreshold && (st.LastDirection != -1 || s.canAdjust(st, at, cfg.Cooldown)) {
			st.Level = clamp(st.Level-1, cfg.MinLevel, cfg.MaxLevel)
			st.ConsecutiveCorrect, st.ConsecutiveIncorrect = 0, 0
			st.LastAdjustedAt = at
			st.LastDirection = -1
		}
		return st
	})
	if err != nil {
		return model.DifficultyAdjustment{}, err
	}
	return s.adjustment(ct, prev.Level, next.Level), nil
}

func (s *DifficultyService) adjustment(ct model.ChallengeType, from, to int) model.DifficultyAdjustment {
	adj := model.DifficultyAdjustment{PreviousLevel: from, NewLevel: to, Changed: from != to}
	switch {
	case to > from:
		monitoring.DifficultyAdjustments.WithLabelValues(string(ct), "up").Inc()
	case to < from:
		monitoring.DifficultyAdjustments.WithLabelValues(string(ct), "down").Inc()
	}
	return adj
}

// GetRecommendedDifficulty returns the level to serve next, creating the
// state in memory on first use.
func (s *DifficultyService) GetRecommendedDifficulty(ctx context.Context, userID string, ct model.ChallengeType) (int, error) {
	cfg := s.cfg.Load()
	key := model.DifficultyKey{UserID: userID, ChallengeType: ct}
	st, err := s.states.Update(key, func(cur model.DifficultyState, ok bool) (model.DifficultyState, error) {
		if ok {
			return cur, nil
		}
		return s.loadOrFresh(ctx, key)
	})
	if err != nil {
		return 0, err
	}
	return clamp(st.Level, cfg.MinLevel, cfg.MaxLevel), nil
}

// GetCurrentDifficulty is a pure read: nothing is created for an unknown key.
func (s *DifficultyService) GetCurrentDifficulty(ctx context.Context, userID string, ct model.ChallengeType) (model.DifficultyState, error) {
	key := model.DifficultyKey{UserID: userID, ChallengeType: ct}
	if st, ok := s.states.Get(key); ok {
		return st, nil
	}
	return s.loadOrFresh(ctx, key)
}

// ListDifficulties 用户已有的全部难度状态，内存中的值优先
func (s *DifficultyService) ListDifficulties(ctx context.Context, userID string) ([]model.DifficultyState, error) {
	stored, err := s.store.LoadDifficulties(ctx, userID)
	if err != nil {
		monitoring.StorageErrors.WithLabelValues("difficulty", "list").Inc()
		return nil, fmt.Errorf("list difficulties for %s: %w: %w", userID, util.ErrStorageUnavailable, err)
	}
	for i, st := range stored {
		if mem, ok := s.states.Get(model.DifficultyKey{UserID: userID, ChallengeType: st.ChallengeType}); ok {
			stored[i] = mem
		}
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].ChallengeType < stored[j].ChallengeType })
	return stored, nil
}

// AdjustDifficultyRealTime moves the level one step from a summary of recent
// play. Small samples and adjustments inside the cooldown are ignored.
func (s *DifficultyService) AdjustDifficultyRealTime(ctx context.Context, userID string, ct model.ChallengeType, recent model.RecentPerformance) (model.DifficultyAdjustment, error) {
	if !isFinite(recent.CorrectRatio) || recent.CorrectRatio < 0 || recent.CorrectRatio > 1 {
		return model.DifficultyAdjustment{}, util.NewValidationError("correctRatio", "must be within [0,1], got %v", recent.CorrectRatio)
	}
	if !isFinite(recent.TimeRatio) || recent.TimeRatio < 0 {
		return model.DifficultyAdjustment{}, util.NewValidationError("timeRatio", "must be a non-negative number, got %v", recent.TimeRatio)
	}
	if recent.SampleSize < 0 {
		return model.DifficultyAdjustment{}, util.NewValidationError("sampleSize", "must not be negative")
	}

	cfg := s.cfg.Load()
	now := s.clock.Now()
	key := model.DifficultyKey{UserID: userID, ChallengeType: ct}

	prev, next, err := s.mutate(ctx, key, func(st model.DifficultyState) model.DifficultyState {
		st.Level = clamp(st.Level, cfg.MinLevel, cfg.MaxLevel)
		if recent.SampleSize < cfg.PromoteThreshold || !s.canAdjust(st, now, cfg.Cooldown) {
			return st
		}
		level := st.Level
		switch {
		case recent.CorrectRatio >= cfg.PromoteRatio && recent.TimeRatio <= cfg.FastTimeRatio:
			level++
		case recent.CorrectRatio <= cfg.DemoteRatio || recent.TimeRatio >= cfg.SlowTimeRatio:
			level--
		}
		level = clamp(level, cfg.MinLevel, cfg.MaxLevel)
		if level == st.Level {
			return st
		}
		if level > st.Level {
			st.LastDirection = 1
		} else {
			st.LastDirection = -1
		}
		st.Level = level
		st.ConsecutiveCorrect, st.ConsecutiveIncorrect = 0, 0
		st.LastAdjustedAt = now
		return st
	})
	if err != nil {
		return model.DifficultyAdjustment{}, err
	}
	return s.adjustment(ct, prev.Level, next.Level), nil
}

// SetDifficulty 管理员直接设置难度，结果会被限制在配置范围内
func (s *DifficultyService) SetDifficulty(ctx context.Context, userID string, ct model.ChallengeType, level int) (model.DifficultyState, error) {
	cfg := s.cfg.Load()
	now := s.clock.Now()
	key := model.DifficultyKey{UserID: userID, ChallengeType: ct}

	prev, next, err := s.mutate(ctx, key, func(st model.DifficultyState) model.DifficultyState {
		st.Level = clamp(level, cfg.MinLevel, cfg.MaxLevel)
		st.ConsecutiveCorrect, st.ConsecutiveIncorrect = 0, 0
		st.LastAdjustedAt = now
		st.LastDirection = 0
		return st
	})
	if err != nil {
		return model.DifficultyState{}, err
	}
	s.adjustment(ct, prev.Level, next.Level)
	return next, nil
}
