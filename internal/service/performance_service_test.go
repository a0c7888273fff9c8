package service

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"chemquest_backend/internal/model"
	"chemquest_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformance_StoichiometryScenario(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	perf := e.progress.Performance

	for i, ok := range []bool{true, true, true, false, true} {
		_, err := perf.RecordAttempt(ctx, attempt("u1", model.ChallengeStoichiometry, ok, day0.Add(time.Duration(i)*time.Minute), "stoichiometry"))
		require.NoError(t, err)
	}

	concepts, err := perf.GetConceptPerformance(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	c := concepts[0]
	assert.Equal(t, 5, c.Attempts)
	assert.InDelta(t, 0.8, c.Accuracy(), 1e-9)
	// newest third [true] vs oldest third [true]
	assert.Equal(t, model.TrendStable, c.Trend)
	assert.Greater(t, c.ConfidenceLevel, 0.0)
	assert.LessOrEqual(t, c.ConfidenceLevel, 0.25)

	areas, err := e.progress.WeakAreas.IdentifyWeakAreas(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, areas)
}

func TestPerformance_AccuracyStaysInRange(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(3))
	types := []model.ChallengeType{model.ChallengeStoichiometry, model.ChallengeOrganicNaming}
	concepts := []string{"mole-ratio", "alkanes", "limiting-reagent"}

	for i := 0; i < 400; i++ {
		rec := attempt("u1", types[rnd.Intn(2)], rnd.Intn(3) > 0, day0.Add(time.Duration(i)*time.Second),
			concepts[rnd.Intn(3)], concepts[rnd.Intn(3)])
		rec.Concepts = normalizeConcepts(rec.Concepts)
		_, err := e.progress.Performance.RecordAttempt(ctx, rec)
		require.NoError(t, err)
	}

	list, err := e.progress.Performance.GetConceptPerformance(ctx, "u1")
	require.NoError(t, err)
	for _, c := range list {
		assert.GreaterOrEqual(t, c.Accuracy(), 0.0)
		assert.LessOrEqual(t, c.Accuracy(), 1.0)
		assert.LessOrEqual(t, len(c.RecentWindow), e.cfg.Aggregator.WindowSize)
		assert.GreaterOrEqual(t, c.ConfidenceLevel, 0.0)
		assert.LessOrEqual(t, c.ConfidenceLevel, 1.0)
	}

	m, err := e.progress.Performance.GetPerformanceMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 400, m.TotalChallengesCompleted)
	assert.GreaterOrEqual(t, m.OverallAccuracy, 0.0)
	assert.LessOrEqual(t, m.OverallAccuracy, 1.0)
}

func TestPerformance_TrendFollowsWindow(t *testing.T) {
	assert.Equal(t, model.TrendStable, windowTrend([]bool{false, true}, 0.1))
	assert.Equal(t, model.TrendImproving, windowTrend([]bool{false, false, true, true, true, true}, 0.1))
	assert.Equal(t, model.TrendDeclining, windowTrend([]bool{true, true, true, false, false, false}, 0.1))
	assert.Equal(t, model.TrendStable, windowTrend([]bool{true, false, true, false, true, false}, 0.1))
}

func TestPerformance_WindowKeepsNewestOutcomes(t *testing.T) {
	w := []bool{}
	for i := 0; i < 25; i++ {
		w = pushWindow(w, i >= 20, 20)
	}
	require.Len(t, w, 20)
	assert.False(t, w[0])
	assert.True(t, w[19])
}

func TestPerformance_ConfidenceSaturates(t *testing.T) {
	cfg := newTestEngine(t).cfg.Aggregator
	allRight := []bool{true, true, true, true, true}
	assert.InDelta(t, 0.25, confidence(5, allRight, cfg), 1e-9)
	assert.InDelta(t, 1.0, confidence(40, allRight, cfg), 1e-9)
	assert.InDelta(t, 0.5, confidence(40, []bool{false, false}, cfg), 1e-9)
	assert.Equal(t, 0.0, confidence(0, nil, cfg))
}

func TestPerformance_MultiConceptAttemptCountsOnce(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.progress.Performance.RecordAttempt(ctx, attempt("u1", model.ChallengeEquationBalancing, true, day0, "combustion", "redox"))
	require.NoError(t, err)

	snap, err := e.progress.Performance.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalAttempts)
	assert.Len(t, snap.Concepts, 2)
	assert.Equal(t, 10.0, snap.TypeScores[model.ChallengeEquationBalancing])
}

func TestPerformance_RejectsInvalidRecordWithoutMutation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	bad := attempt("u1", model.ChallengeStoichiometry, true, day0, "mole-ratio")
	bad.TimeElapsedSec = -1
	_, err := e.progress.Performance.RecordAttempt(ctx, bad)
	require.Error(t, err)
	assert.True(t, util.IsValidation(err))

	bad = attempt("u1", model.ChallengeStoichiometry, true, day0)
	_, err = e.progress.Performance.RecordAttempt(ctx, bad)
	assert.True(t, util.IsValidation(err))

	snap, err := e.progress.Performance.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, snap.TotalAttempts)
}

func TestPerformance_MetricsCacheInvalidatedOnWrite(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	perf := e.progress.Performance

	for i := 0; i < 3; i++ {
		_, err := perf.RecordAttempt(ctx, attempt("u1", model.ChallengeStoichiometry, true, day0, "mole-ratio"))
		require.NoError(t, err)
	}
	m1, err := perf.GetPerformanceMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, m1.OverallAccuracy)
	require.Len(t, m1.StrongestConcepts, 1)
	assert.Equal(t, "mole-ratio", m1.StrongestConcepts[0].Concept)

	// served from cache
	m2, err := perf.GetPerformanceMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, m1.ComputedAt, m2.ComputedAt)

	e.clock.Advance(time.Second)
	_, err = perf.RecordAttempt(ctx, attempt("u1", model.ChallengeStoichiometry, false, e.clock.Now(), "mole-ratio"))
	require.NoError(t, err)

	m3, err := perf.GetPerformanceMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, m3.OverallAccuracy, 1e-9)
	assert.True(t, m3.ComputedAt.After(m1.ComputedAt))
}

func TestPerformance_DegradedModeServesStaleSnapshot(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	perf := e.progress.Performance

	for i := 0; i < 3; i++ {
		_, err := perf.RecordAttempt(ctx, attempt("u1", model.ChallengeOrganicNaming, i > 0, day0, "alkanes"))
		require.NoError(t, err)
	}
	fresh, err := perf.GetPerformanceMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, fresh.Stale)

	// drop in-memory state and expire the cache, then take the store down
	e.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, perf.EvictIdle(time.Hour))
	e.perfs.down.Store(true)

	stale, err := perf.GetPerformanceMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, stale.Stale)
	assert.Equal(t, fresh.OverallAccuracy, stale.OverallAccuracy)

	// no previous snapshot for this user: the failure surfaces
	_, err = perf.GetPerformanceMetrics(ctx, "u2")
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrStorageUnavailable)
	assert.ErrorIs(t, err, errStoreDown, "the store's own error stays in the chain")
}

func TestPerformance_EvictIdleKeepsUnsavedUsers(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	perf := e.progress.Performance

	_, err := perf.RecordAttempt(ctx, attempt("u1", model.ChallengeStoichiometry, true, day0, "mole-ratio"))
	require.NoError(t, err)
	e.perfs.down.Store(true)
	_, err = perf.RecordAttempt(ctx, attempt("u2", model.ChallengeStoichiometry, true, day0, "mole-ratio"))
	require.NoError(t, err)
	e.perfs.down.Store(false)

	e.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, perf.EvictIdle(time.Hour), "u2 exists only in memory")

	snap, err := perf.Snapshot(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalAttempts)

	// the next successful save also flushes the concept that failed before
	_, err = perf.RecordAttempt(ctx, attempt("u2", model.ChallengeOrganicNaming, false, e.clock.Now(), "alkanes"))
	require.NoError(t, err)
	stored, err := e.store.LoadPerformance(ctx, "u2")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 2, stored.TotalAttempts)
	assert.ElementsMatch(t, []model.ConceptKey{
		{Concept: "mole-ratio", ChallengeType: model.ChallengeStoichiometry},
		{Concept: "alkanes", ChallengeType: model.ChallengeOrganicNaming},
	}, e.perfs.lastTouched)

	e.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, perf.EvictIdle(time.Hour))
	snap, err = perf.Snapshot(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalAttempts)
}

func TestPerformance_EvictIdleSparesRecentUsers(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	perf := e.progress.Performance

	_, err := perf.RecordAttempt(ctx, attempt("old", model.ChallengeStoichiometry, true, day0, "mole-ratio"))
	require.NoError(t, err)
	e.clock.Advance(90 * time.Minute)
	_, err = perf.RecordAttempt(ctx, attempt("new", model.ChallengeStoichiometry, true, e.clock.Now(), "mole-ratio"))
	require.NoError(t, err)

	assert.Equal(t, 1, perf.EvictIdle(time.Hour))
	assert.Equal(t, 0, perf.EvictIdle(time.Hour))

	// evicted users reload from the store
	snap, err := perf.Snapshot(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalAttempts)
}

func TestPerformance_SaveFailureKeepsMemoryState(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.progress.Performance.RecordAttempt(ctx, attempt("u1", model.ChallengeStoichiometry, true, day0, "mole-ratio"))
	require.NoError(t, err)
	e.perfs.down.Store(true)

	snap, err := e.progress.Performance.RecordAttempt(ctx, attempt("u1", model.ChallengeStoichiometry, true, day0, "mole-ratio"))
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalAttempts)
}

func TestPerformance_WarmMetrics(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.progress.Performance.RecordAttempt(ctx, attempt("u1", model.ChallengeStoichiometry, true, day0, "mole-ratio"))
	require.NoError(t, err)
	_, err = e.progress.Performance.RecordAttempt(ctx, attempt("u2", model.ChallengeStoichiometry, true, day0.Add(-time.Hour), "mole-ratio"))
	require.NoError(t, err)

	n, err := e.progress.Performance.WarmMetrics(ctx, day0.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.progress.Performance.WarmMetrics(cancelled, day0.Add(-2*time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}
