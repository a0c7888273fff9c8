package service

import (
	"context"
	"testing"
	"time"

	"chemquest_backend/internal/config"
	"chemquest_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, e *testEngine, userID string, ct model.ChallengeType, concept string, at time.Time, outcomes ...bool) {
	t.Helper()
	for _, ok := range outcomes {
		_, err := e.progress.Performance.RecordAttempt(context.Background(), attempt(userID, ct, ok, at, concept))
		require.NoError(t, err)
	}
}

func TestWeakAreas_RespectMinSampleAndOrder(t *testing.T) {
	e := newTestEngine(t)

	// two attempts only: below min sample even at 0% accuracy
	record(t, e, "u1", model.ChallengeStoichiometry, "limiting-reagent", day0, false, false)
	// 1/3 → high
	record(t, e, "u1", model.ChallengeEquationBalancing, "redox", day0, true, false, false)
	// 2/4 → medium
	record(t, e, "u1", model.ChallengeOrganicNaming, "alkanes", day0, false, true, false, true)
	// 0/3 → high, weakest
	record(t, e, "u1", model.ChallengeMolecularGeometry, "vsepr", day0, false, false, false)
	// strong, never weak
	record(t, e, "u1", model.ChallengeStoichiometry, "mole-ratio", day0, true, true, true)

	areas, err := e.progress.WeakAreas.IdentifyWeakAreas(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, areas, 3)

	assert.Equal(t, "vsepr", areas[0].Concept)
	assert.Equal(t, model.PriorityHigh, areas[0].Priority)
	assert.Equal(t, "redox", areas[1].Concept)
	assert.Equal(t, model.PriorityHigh, areas[1].Priority)
	assert.Equal(t, "alkanes", areas[2].Concept)
	assert.Equal(t, model.PriorityMedium, areas[2].Priority)

	for i, a := range areas {
		assert.NotEmpty(t, a.RecommendedActions)
		if i > 0 {
			assert.LessOrEqual(t, areas[i-1].Accuracy, a.Accuracy)
		}
	}
}

func TestWeakAreas_TiesPreferMostRecent(t *testing.T) {
	e := newTestEngine(t)
	record(t, e, "u1", model.ChallengeStoichiometry, "molar-mass", day0, false, false, false)
	record(t, e, "u1", model.ChallengeStoichiometry, "yield", day0.Add(time.Hour), false, false, false)

	areas, err := e.progress.WeakAreas.IdentifyWeakAreas(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, areas, 2)
	assert.Equal(t, "yield", areas[0].Concept)
	assert.Equal(t, "molar-mass", areas[1].Concept)
}

func TestWeakAreas_LowPriorityNeedsRecentAttempt(t *testing.T) {
	cfg := config.DefaultProgression()
	cfg.WeakArea.WeakThreshold = 0.8
	e := newTestEngineWith(t, cfg)

	// 2/3 ≈ 0.67: weak under 0.8 but above the medium threshold
	record(t, e, "u1", model.ChallengeOrganicNaming, "isomers", day0, false, true, true)

	areas, err := e.progress.WeakAreas.IdentifyWeakAreas(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, areas, 1)
	assert.Equal(t, model.PriorityLow, areas[0].Priority)

	e.clock.Advance(8 * 24 * time.Hour)
	areas, err = e.progress.WeakAreas.IdentifyWeakAreas(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, areas)
}

func TestWeakAreas_DecliningTrendIsHighPriority(t *testing.T) {
	e := newTestEngine(t)
	// 3/6 = 0.5 would be medium, but the window declines
	record(t, e, "u1", model.ChallengeEquationBalancing, "combustion", day0, true, true, true, false, false, false)

	areas, err := e.progress.WeakAreas.IdentifyWeakAreas(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, areas, 1)
	assert.Equal(t, model.TrendDeclining, areas[0].Trend)
	assert.Equal(t, model.PriorityHigh, areas[0].Priority)
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, categoryQuantitative, categorize("limiting-reagent", model.ChallengeEquationBalancing))
	assert.Equal(t, categoryStructure, categorize("vsepr", ""))
	assert.Equal(t, categoryOrganic, categorize("chirality", model.ChallengeOrganicNaming))
	assert.Equal(t, categoryGeneral, categorize("lab-safety", "unknown-type"))
}
