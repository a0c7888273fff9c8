package service

import (
	"context"
	"fmt"
	"math"
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

type streakTuning struct {
	config.StreakConfig
	loc *time.Location
}

var milestoneNames = map[int]string{
	3:  "Spark",
	7:  "Catalyst",
	14: "Chain Reaction",
	30: "Equilibrium Master",
	50: "Noble Streak",
}

// StreakService 用户连续登录状态机，只在登录事件上转移
type StreakService struct {
	store  repository.StreakStore
	clock  util.Clock
	tuning atomic.Pointer[streakTuning]
	states *shardmap.Store[string, model.StreakState]
}

func NewStreakService(store repository.StreakStore, cfg config.StreakConfig, shards int, clock util.Clock) (*StreakService, error) {
	if clock == nil {
		clock = util.SystemClock{}
	}
	s := &StreakService{
		store:  store,
		clock:  clock,
		states: shardmap.New[string, model.StreakState](shards, shardmap.StringHash),
	}
	if err := s.UpdateTuning(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StreakService) UpdateTuning(cfg config.StreakConfig) error {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return fmt.Errorf("streak time zone %q: %w", cfg.TimeZone, err)
	}
	s.tuning.Store(&streakTuning{StreakConfig: cfg, loc: loc})
	return nil
}

// Multiplier is 1.0 below the minimum streak, then grows by MultiplierStep
// per day and saturates at MultiplierCap.
func (s *StreakService) Multiplier(streak int) float64 {
	return streakMultiplier(streak, s.tuning.Load().StreakConfig)
}

func streakMultiplier(streak int, cfg config.StreakConfig) float64 {
	if streak < cfg.MinMultiplierStreak {
		return 1.0
	}
	m := 1 + cfg.MultiplierStep*float64(streak-1)
	return round2(math.Min(cfg.MultiplierCap, m))
}

func (s *StreakService) fresh(userID string) model.StreakState {
	return model.StreakState{
		UserID:              userID,
		StreakMultiplier:    1.0,
		RecoveriesAvailable: s.tuning.Load().InitialRecoveries,
	}
}

// calendarDay truncates t to midnight of its calendar day in loc.
func calendarDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// daysBetween counts calendar days from a to b, both already day-truncated.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func (s *StreakService) loadOrFresh(ctx context.Context, userID string) (model.StreakState, error) {
	st, ok, err := s.store.LoadStreak(ctx, userID)
	if err != nil {
		monitoring.StorageErrors.WithLabelValues("streak", "load").Inc()
		return model.StreakState{}, fmt.Errorf("load streak for %s: %w: %w", userID, util.ErrStorageUnavailable, err)
	}
	if !ok {
		return s.fresh(userID), nil
	}
	return st, nil
}

// mutate mirrors DifficultyService.mutate: versioned save, re-apply on conflict.
func (s *StreakService) mutate(ctx context.Context, userID string, fn func(model.StreakState) (model.StreakState, bool)) (model.StreakState, bool, error) {
	var changed bool
	next, err := s.states.Update(userID, func(cur model.StreakState, ok bool) (model.StreakState, error) {
		if !ok {
			loaded, err := s.loadOrFresh(ctx, userID)
			if err != nil {
				return cur, err
			}
			cur = loaded
		}

		var next model.StreakState
		err := retryOnConflict(func(attempt int) error {
			if attempt > 0 {
				reloaded, err := s.loadOrFresh(ctx, userID)
				if err != nil {
					return err
				}
				cur = reloaded
			}
			next, changed = fn(cur)
			if !changed {
				next = cur
				return nil
			}
			if err := s.store.SaveStreak(ctx, next, cur.Version); err != nil {
				return err
			}
			next.Version = cur.Version + 1
			return nil
		})
		switch {
		case err == nil:
			return next, nil
		case util.IsConflict(err):
			logger.Log.Warn("streak version conflict persisted after retries", zap.String("userId", userID), zap.Error(err))
			return cur, err
		default:
			monitoring.StorageErrors.WithLabelValues("streak", "save").Inc()
			logger.Log.Warn("保存连续登录状态失败，保留内存状态", zap.String("userId", userID), zap.Error(err))
			next.Version = cur.Version
			return next, nil
		}
	})
	return next, changed, err
}

// RecordLogin applies a login at now. Calendar days are taken in the
// configured time zone; a second login on the same day changes nothing.
func (s *StreakService) RecordLogin(ctx context.Context, userID string, now time.Time) (model.StreakState, error) {
	if userID == "" {
		return model.StreakState{}, util.NewValidationError("userId", "is required")
	}
	if now.IsZero() {
		now = s.clock.Now()
	}
	t := s.tuning.Load()
	today := calendarDay(now, t.loc)

	var kind string
	st, _, err := s.mutate(ctx, userID, func(st model.StreakState) (model.StreakState, bool) {
		kind = "first"
		if !st.LastLoginDate.IsZero() {
			gap := daysBetween(calendarDay(st.LastLoginDate, t.loc), today)
			if gap <= 0 {
				kind = "same_day"
				return st, false
			}
			missed := gap - 1
			switch {
			case gap == 1:
				kind = "continue"
				st.CurrentStreak++
				st.MissedDays = 0
			case st.RecoveriesAvailable > 0 && missed <= t.RecoveryGraceDays:
				kind = "recovered"
				st.RecoveriesAvailable--
				st.RecoveryUsed = true
				st.CurrentStreak++
				st.MissedDays = 0
			default:
				kind = "reset"
				st.LostStreak = st.CurrentStreak
				st.CurrentStreak = 1
				st.MissedDays = missed
			}
		} else {
			st.CurrentStreak = 1
		}

		if kind == "continue" || kind == "recovered" {
			s.replenish(&st, t.StreakConfig)
		}
		st.LongestStreak = max(st.LongestStreak, st.CurrentStreak)
		st.TotalDaysActive++
		st.LastLoginDate = today
		st.StreakMultiplier = streakMultiplier(st.CurrentStreak, t.StreakConfig)
		return st, true
	})
	if err != nil {
		return model.StreakState{}, err
	}
	monitoring.StreakTransitions.WithLabelValues(kind).Inc()
	return st, nil
}

// replenish grants a recovery every RecoveryReplenishDays of streak.
func (s *StreakService) replenish(st *model.StreakState, cfg config.StreakConfig) {
	if cfg.RecoveryReplenishDays <= 0 || st.CurrentStreak%cfg.RecoveryReplenishDays != 0 {
		return
	}
	if st.RecoveriesAvailable < cfg.MaxRecoveries {
		st.RecoveriesAvailable++
	}
}

// GetStreak 读取当前状态；从未登录的用户返回初始状态
func (s *StreakService) GetStreak(ctx context.Context, userID string) (model.StreakState, error) {
	if st, ok := s.states.Get(userID); ok {
		return st, nil
	}
	return s.loadOrFresh(ctx, userID)
}

// GetCurrentBonus lists the rewards unlocked by the current streak.
func (s *StreakService) GetCurrentBonus(ctx context.Context, userID string) ([]model.Bonus, error) {
	st, err := s.GetStreak(ctx, userID)
	if err != nil {
		return nil, err
	}
	return bonusesFor(st, s.tuning.Load().StreakConfig), nil
}

func bonusesFor(st model.StreakState, cfg config.StreakConfig) []model.Bonus {
	bonuses := []model.Bonus{}
	streak := st.CurrentStreak
	mult := streakMultiplier(streak, cfg)
	if streak >= 3 {
		bonuses = append(bonuses, model.Bonus{
			Type:        model.BonusXPMultiplier,
			Value:       mult,
			Description: fmt.Sprintf("%.2fx XP for a %d-day streak", mult, streak),
		})
	}
	if streak >= 5 {
		gold := round2(1 + (mult-1)/2)
		bonuses = append(bonuses, model.Bonus{
			Type:        model.BonusGoldMultiplier,
			Value:       gold,
			Description: fmt.Sprintf("%.2fx gold from challenges", gold),
		})
	}
	if streak >= 7 {
		bonuses = append(bonuses, model.Bonus{
			Type:        model.BonusChallenge,
			Value:       cfg.ChallengeBonus,
			Description: fmt.Sprintf("+%.0f points per completed challenge", cfg.ChallengeBonus),
		})
	}
	if streak > 0 && streak%7 == 0 {
		reward := cfg.WeeklyRewardBase * float64(streak/7)
		bonuses = append(bonuses, model.Bonus{
			Type:        model.BonusWeeklyReward,
			Value:       reward,
			Description: fmt.Sprintf("Week %d special reward", streak/7),
		})
	}
	return bonuses
}

func (s *StreakService) GetMilestones(ctx context.Context, userID string) ([]model.Milestone, error) {
	st, err := s.GetStreak(ctx, userID)
	if err != nil {
		return nil, err
	}
	return milestonesFor(st.CurrentStreak, s.tuning.Load().Milestones), nil
}

func milestonesFor(streak int, days []int) []model.Milestone {
	out := make([]model.Milestone, 0, len(days))
	for _, day := range days {
		if day <= 0 {
			continue
		}
		name, ok := milestoneNames[day]
		if !ok {
			name = fmt.Sprintf("%d-day streak", day)
		}
		out = append(out, model.Milestone{
			Day:      day,
			Name:     name,
			Achieved: streak >= day,
			Progress: math.Min(1, float64(streak)/float64(day)),
		})
	}
	return out
}

func (s *StreakService) GetStreakStats(ctx context.Context, userID string) (model.StreakStats, error) {
	st, err := s.GetStreak(ctx, userID)
	if err != nil {
		return model.StreakStats{}, err
	}
	cfg := s.tuning.Load().StreakConfig
	milestones := milestonesFor(st.CurrentStreak, cfg.Milestones)
	achieved := 0
	for _, m := range milestones {
		if m.Achieved {
			achieved++
		}
	}
	return model.StreakStats{
		CurrentStreak:       st.CurrentStreak,
		LongestStreak:       st.LongestStreak,
		StreakMultiplier:    streakMultiplier(st.CurrentStreak, cfg),
		TotalDaysActive:     st.TotalDaysActive,
		MilestonesAchieved:  achieved,
		RecoveryUsed:        st.RecoveryUsed,
		RecoveriesAvailable: st.RecoveriesAvailable,
		Milestones:          milestones,
	}, nil
}

// UseStreakRecovery restores the streak lost at the last reset. It returns
// false, leaving the state untouched, when no recovery is available or there
// is nothing to restore.
func (s *StreakService) UseStreakRecovery(ctx context.Context, userID string, typ model.RecoveryType) (bool, error) {
	if typ != model.RecoveryRestore {
		return false, nil
	}
	cfg := s.tuning.Load().StreakConfig

	_, changed, err := s.mutate(ctx, userID, func(st model.StreakState) (model.StreakState, bool) {
		if st.RecoveriesAvailable <= 0 || st.LostStreak <= 0 {
			return st, false
		}
		st.RecoveriesAvailable--
		st.RecoveryUsed = true
		st.CurrentStreak += st.LostStreak
		st.LostStreak = 0
		st.MissedDays = 0
		st.LongestStreak = max(st.LongestStreak, st.CurrentStreak)
		st.StreakMultiplier = streakMultiplier(st.CurrentStreak, cfg)
		return st, true
	})
	if err != nil {
		return false, err
	}
	if changed {
		monitoring.StreakTransitions.WithLabelValues("restored").Inc()
	}
	return changed, nil
}

// ResetStreak 清空为初始状态
func (s *StreakService) ResetStreak(ctx context.Context, userID string) error {
	_, err := s.states.Update(userID, func(cur model.StreakState, _ bool) (model.StreakState, error) {
		if err := s.store.DeleteStreak(ctx, userID); err != nil {
			monitoring.StorageErrors.WithLabelValues("streak", "delete").Inc()
			return cur, fmt.Errorf("reset streak for %s: %w: %w", userID, util.ErrStorageUnavailable, err)
		}
		return s.fresh(userID), nil
	})
	if err != nil {
		return err
	}
	monitoring.StreakTransitions.WithLabelValues("reset_manual").Inc()
	return nil
}
