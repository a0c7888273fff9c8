package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"chemquest_backend/internal/config"
	"chemquest_backend/internal/model"
	"chemquest_backend/internal/util"
)

// RecommendationService 组合薄弱环节、难度与连续登录状态，给出下一步建议
type RecommendationService struct {
	performance *PerformanceService
	weakAreas   *WeakAreaService
	difficulty  *DifficultyService
	streaks     *StreakService
	clock       util.Clock
	cfg         atomic.Pointer[config.ProgressionConfig]
}

func NewRecommendationService(performance *PerformanceService, weakAreas *WeakAreaService, difficulty *DifficultyService, streaks *StreakService, cfg config.ProgressionConfig, clock util.Clock) *RecommendationService {
	if clock == nil {
		clock = util.SystemClock{}
	}
	s := &RecommendationService{
		performance: performance,
		weakAreas:   weakAreas,
		difficulty:  difficulty,
		streaks:     streaks,
		clock:       clock,
	}
	s.UpdateTuning(cfg)
	return s
}

func (s *RecommendationService) UpdateTuning(cfg config.ProgressionConfig) {
	s.cfg.Store(&cfg)
}

// playedTypes lists the challenge types the user has attempted, sorted.
func playedTypes(perf *model.UserPerformance) []model.ChallengeType {
	seen := make(map[model.ChallengeType]struct{})
	for k := range perf.Concepts {
		seen[k.ChallengeType] = struct{}{}
	}
	for ct := range perf.TypeScores {
		seen[ct] = struct{}{}
	}
	out := make([]model.ChallengeType, 0, len(seen))
	for ct := range seen {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetRecommendations returns the user's next actions, most urgent first.
func (s *RecommendationService) GetRecommendations(ctx context.Context, userID string) ([]model.Action, error) {
	cfg := s.cfg.Load()

	perf, err := s.performance.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	areas := s.weakAreas.fromPerformance(perf)

	actions := []model.Action{}
	for _, a := range areas {
		actions = append(actions, model.Action{
			Kind:          model.ActionPracticeWeakArea,
			Priority:      a.Priority,
			Concept:       a.Concept,
			ChallengeType: a.ChallengeType,
			Message:       fmt.Sprintf("Practice %s in %s (accuracy %.0f%%)", a.Concept, a.ChallengeType, a.Accuracy*100),
		})
	}

	for _, ct := range playedTypes(perf) {
		st, err := s.difficulty.GetCurrentDifficulty(ctx, userID, ct)
		if err != nil {
			return nil, err
		}
		// 连续答对接近晋级阈值时建议提升难度
		if st.Level < cfg.Difficulty.MaxLevel && st.ConsecutiveCorrect >= max(1, cfg.Difficulty.PromoteThreshold-1) {
			actions = append(actions, model.Action{
				Kind:          model.ActionIncreaseLevel,
				Priority:      model.PriorityMedium,
				ChallengeType: ct,
				Level:         st.Level + 1,
				Message:       fmt.Sprintf("You are on a roll in %s, try level %d", ct, st.Level+1),
			})
		}
	}

	streak, err := s.streaks.GetStreak(ctx, userID)
	if err != nil {
		return nil, err
	}
	today := calendarDay(s.clock.Now(), s.streaks.tuning.Load().loc)
	if streak.CurrentStreak > 0 && calendarDay(streak.LastLoginDate, s.streaks.tuning.Load().loc).Before(today) {
		actions = append(actions, model.Action{
			Kind:     model.ActionKeepStreak,
			Priority: model.PriorityHigh,
			Message:  fmt.Sprintf("Log in today to keep your %d-day streak", streak.CurrentStreak),
		})
	}
	for _, m := range milestonesFor(streak.CurrentStreak, cfg.Streak.Milestones) {
		if m.Achieved {
			continue
		}
		actions = append(actions, model.Action{
			Kind:     model.ActionReachMilestone,
			Priority: model.PriorityLow,
			Message:  fmt.Sprintf("%d more days to reach %s", m.Day-streak.CurrentStreak, m.Name),
		})
		break
	}

	if len(actions) == 0 {
		actions = append(actions, model.Action{
			Kind:     model.ActionExplore,
			Priority: model.PriorityLow,
			Message:  "Explore a new realm to discover more challenges",
		})
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority.Rank() < actions[j].Priority.Rank()
	})
	return actions, nil
}

// GeneratePersonalizedLearningPath lays out, per challenge type, the levels
// between the user's current level and targetLevel. Types holding weak areas
// come first, weakest first.
func (s *RecommendationService) GeneratePersonalizedLearningPath(ctx context.Context, userID string, targetLevel int) (*model.LearningPath, error) {
	cfg := s.cfg.Load()
	target := clamp(targetLevel, cfg.Difficulty.MinLevel, cfg.Difficulty.MaxLevel)

	perf, err := s.performance.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	areas := s.weakAreas.fromPerformance(perf)

	types := playedTypes(perf)
	if len(types) == 0 {
		types = []model.ChallengeType{
			model.ChallengeEquationBalancing,
			model.ChallengeMolecularGeometry,
			model.ChallengeOrganicNaming,
			model.ChallengeStoichiometry,
		}
	}

	// areas is already weakest-first, so the first hit per type is its worst
	order := make(map[model.ChallengeType]int)
	focus := make(map[model.ChallengeType][]string)
	highCount := make(map[model.ChallengeType]int)
	for _, a := range areas {
		if _, ok := order[a.ChallengeType]; !ok {
			order[a.ChallengeType] = len(order)
		}
		focus[a.ChallengeType] = append(focus[a.ChallengeType], a.Concept)
		if a.Priority == model.PriorityHigh {
			highCount[a.ChallengeType]++
		}
	}
	sort.SliceStable(types, func(i, j int) bool {
		oi, iok := order[types[i]]
		oj, jok := order[types[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return types[i] < types[j]
		}
	})

	path := &model.LearningPath{
		UserID:      userID,
		TargetLevel: target,
		WeakAreas:   areas,
		Steps:       []model.LearningPathStep{},
	}
	sessions := 0
	for _, ct := range types {
		st, err := s.difficulty.GetCurrentDifficulty(ctx, userID, ct)
		if err != nil {
			return nil, err
		}
		for level := st.Level + 1; level <= target; level++ {
			step := model.LearningPathStep{
				ChallengeType:     ct,
				Level:             level,
				FocusConcepts:     []string{},
				EstimatedSessions: cfg.Difficulty.PromoteThreshold,
			}
			if level == st.Level+1 {
				step.FocusConcepts = append(step.FocusConcepts, focus[ct]...)
				step.EstimatedSessions += highCount[ct]
			}
			sessions += step.EstimatedSessions
			path.Steps = append(path.Steps, step)
		}
	}

	switch {
	case len(path.Steps) == 0:
		path.Summary = fmt.Sprintf("Already at or above level %d in every challenge type", target)
	case len(areas) > 0:
		names := make([]string, 0, min(3, len(areas)))
		for _, a := range areas[:min(3, len(areas))] {
			names = append(names, a.Concept)
		}
		path.Summary = fmt.Sprintf("%d steps (about %d sessions) to level %d, starting with %s",
			len(path.Steps), sessions, target, strings.Join(names, ", "))
	default:
		path.Summary = fmt.Sprintf("%d steps (about %d sessions) to level %d", len(path.Steps), sessions, target)
	}
	return path, nil
}
