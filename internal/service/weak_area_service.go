package service

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"chemquest_backend/internal/config"
	"chemquest_backend/internal/model"
	"chemquest_backend/internal/util"
)

type conceptCategory string

const (
	categoryQuantitative conceptCategory = "quantitative"
	categoryReactions    conceptCategory = "reactions"
	categoryOrganic      conceptCategory = "organic"
	categoryStructure    conceptCategory = "structure"
	categoryGeneral      conceptCategory = "general"
)

// 按知识点类别给出的固定建议
var categoryActions = map[conceptCategory][]string{
	categoryQuantitative: {
		"Review mole-ratio conversions step by step",
		"Practice unit analysis before calculating",
		"Replay Mole Mines warm-up problems",
	},
	categoryReactions: {
		"Balance atoms one element at a time",
		"Check charge balance on ionic equations",
		"Replay Reaction Forge puzzles at a lower difficulty",
	},
	categoryOrganic: {
		"Identify the longest carbon chain first",
		"Review functional group suffixes and prefixes",
		"Practice numbering substituents",
	},
	categoryStructure: {
		"Count electron domains around the central atom",
		"Review VSEPR shapes and ideal bond angles",
		"Sketch the Lewis structure before choosing a shape",
	},
	categoryGeneral: {
		"Revisit the concept tutorial",
		"Try easier challenges to rebuild confidence",
	},
}

var categoryKeywords = []struct {
	category conceptCategory
	keywords []string
}{
	{categoryQuantitative, []string{"stoich", "mole", "molar", "mass", "ratio", "concentration", "yield", "limiting"}},
	{categoryReactions, []string{"equation", "reaction", "redox", "balanc", "combustion", "precipitat"}},
	{categoryOrganic, []string{"organic", "alkane", "alkene", "alkyne", "functional", "isomer", "naming"}},
	{categoryStructure, []string{"geometry", "vsepr", "lewis", "bond", "polarity", "hybrid", "shape"}},
}

var challengeCategories = map[model.ChallengeType]conceptCategory{
	model.ChallengeStoichiometry:     categoryQuantitative,
	model.ChallengeEquationBalancing: categoryReactions,
	model.ChallengeOrganicNaming:     categoryOrganic,
	model.ChallengeMolecularGeometry: categoryStructure,
}

// categorize looks at the concept name first, then falls back to the
// challenge type it was practised in.
func categorize(concept string, ct model.ChallengeType) conceptCategory {
	name := strings.ToLower(concept)
	for _, ck := range categoryKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(name, kw) {
				return ck.category
			}
		}
	}
	if c, ok := challengeCategories[ct]; ok {
		return c
	}
	return categoryGeneral
}

func recommendedActions(concept string, ct model.ChallengeType) []string {
	return append([]string(nil), categoryActions[categorize(concept, ct)]...)
}

// WeakAreaService 从知识点统计推导薄弱环节
type WeakAreaService struct {
	performance *PerformanceService
	clock       util.Clock
	cfg         atomic.Pointer[config.WeakAreaConfig]
}

func NewWeakAreaService(performance *PerformanceService, cfg config.WeakAreaConfig, clock util.Clock) *WeakAreaService {
	if clock == nil {
		clock = util.SystemClock{}
	}
	s := &WeakAreaService{performance: performance, clock: clock}
	s.UpdateTuning(cfg)
	return s
}

func (s *WeakAreaService) UpdateTuning(cfg config.WeakAreaConfig) {
	s.cfg.Store(&cfg)
}

// IdentifyWeakAreas returns the user's weak (concept, challenge type) pairs,
// weakest first. Pairs with fewer than MinSampleSize attempts never qualify.
func (s *WeakAreaService) IdentifyWeakAreas(ctx context.Context, userID string) ([]model.WeakArea, error) {
	perf, err := s.performance.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.fromPerformance(perf), nil
}

func (s *WeakAreaService) fromPerformance(perf *model.UserPerformance) []model.WeakArea {
	cfg := s.cfg.Load()
	now := s.clock.Now()

	areas := []model.WeakArea{}
	for _, c := range perf.Concepts {
		if c.Attempts < cfg.MinSampleSize {
			continue
		}
		acc := c.Accuracy()
		if acc >= cfg.WeakThreshold {
			continue
		}

		var priority model.Priority
		switch {
		case acc < cfg.HighThreshold || c.Trend == model.TrendDeclining:
			priority = model.PriorityHigh
		case acc < cfg.MediumThreshold:
			priority = model.PriorityMedium
		default:
			if now.Sub(c.LastAttemptAt) > cfg.RecentWindow {
				continue
			}
			priority = model.PriorityLow
		}

		areas = append(areas, model.WeakArea{
			Concept:            c.Concept,
			ChallengeType:      c.ChallengeType,
			RealmID:            c.RealmID,
			Accuracy:           acc,
			AverageAttempts:    c.AverageAttempts(),
			Priority:           priority,
			Trend:              c.Trend,
			LastAttemptAt:      c.LastAttemptAt,
			RecommendedActions: recommendedActions(c.Concept, c.ChallengeType),
		})
	}

	sort.Slice(areas, func(i, j int) bool {
		a, b := areas[i], areas[j]
		if a.Accuracy != b.Accuracy {
			return a.Accuracy < b.Accuracy
		}
		if !a.LastAttemptAt.Equal(b.LastAttemptAt) {
			return a.LastAttemptAt.After(b.LastAttemptAt)
		}
		if a.Concept != b.Concept {
			return a.Concept < b.Concept
		}
		return a.ChallengeType < b.ChallengeType
	})
	return areas
}
