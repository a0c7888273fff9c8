package service

import (
	"context"
	"testing"
	"time"

	"chemquest_backend/internal/config"
	"chemquest_backend/internal/model"
	"chemquest_backend/internal/repository"
	"chemquest_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDifficulty(t *testing.T) (*DifficultyService, *util.FakeClock) {
	t.Helper()
	clock := util.NewFakeClock(day0)
	return NewDifficultyService(repository.NewMemoryStore(), config.DefaultProgression().Difficulty, 8, clock), clock
}

func TestDifficulty_PromoteThenDemoteScenario(t *testing.T) {
	svc, clock := newDifficulty(t)
	ctx := context.Background()
	ct := model.ChallengeEquationBalancing

	_, err := svc.SetDifficulty(ctx, "u1", ct, 3)
	require.NoError(t, err)
	clock.Advance(3 * time.Minute)

	var adj model.DifficultyAdjustment
	for i := 0; i < 3; i++ {
		adj, err = svc.RecordOutcome(ctx, "u1", ct, true, clock.Now())
		require.NoError(t, err)
	}
	assert.True(t, adj.Changed)
	assert.Equal(t, 3, adj.PreviousLevel)
	assert.Equal(t, 4, adj.NewLevel)

	for i := 0; i < 2; i++ {
		adj, err = svc.RecordOutcome(ctx, "u1", ct, false, clock.Now())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, adj.NewLevel)

	st, err := svc.GetCurrentDifficulty(ctx, "u1", ct)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Level)
	assert.Zero(t, st.ConsecutiveCorrect)
	assert.Zero(t, st.ConsecutiveIncorrect)
}

func TestDifficulty_CooldownBlocksRapidPromotion(t *testing.T) {
	svc, clock := newDifficulty(t)
	ctx := context.Background()
	ct := model.ChallengeStoichiometry

	for i := 0; i < 3; i++ {
		_, err := svc.RecordOutcome(ctx, "u1", ct, true, clock.Now())
		require.NoError(t, err)
	}
	level, err := svc.GetRecommendedDifficulty(ctx, "u1", ct)
	require.NoError(t, err)
	assert.Equal(t, 2, level, "first promotion is never cooled down")

	clock.Advance(30 * time.Second)
	for i := 0; i < 5; i++ {
		_, err := svc.RecordOutcome(ctx, "u1", ct, true, clock.Now())
		require.NoError(t, err)
	}
	level, _ = svc.GetRecommendedDifficulty(ctx, "u1", ct)
	assert.Equal(t, 2, level)

	clock.Advance(2 * time.Minute)
	adj, err := svc.RecordOutcome(ctx, "u1", ct, true, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, adj.NewLevel)
}

func TestDifficulty_CooldownSpacesConsecutiveDemotions(t *testing.T) {
	svc, clock := newDifficulty(t)
	ctx := context.Background()
	ct := model.ChallengeEquationBalancing

	_, err := svc.SetDifficulty(ctx, "u1", ct, 6)
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)

	now := clock.Now()
	var adj model.DifficultyAdjustment
	for i := 0; i < 6; i++ {
		adj, err = svc.RecordOutcome(ctx, "u1", ct, false, now)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, adj.NewLevel, "only one demotion per cooldown window")

	st, err := svc.GetCurrentDifficulty(ctx, "u1", ct)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Level)
	assert.Equal(t, -1, st.LastDirection)
	assert.Equal(t, now, st.LastAdjustedAt)

	// 冷却结束后，已累积的连续错误立刻触发下一次降级
	clock.Advance(2 * time.Minute)
	adj, err = svc.RecordOutcome(ctx, "u1", ct, false, clock.Now())
	require.NoError(t, err)
	assert.True(t, adj.Changed)
	assert.Equal(t, 4, adj.NewLevel)
}

func TestDifficulty_LevelStaysInBounds(t *testing.T) {
	svc, clock := newDifficulty(t)
	ctx := context.Background()
	ct := model.ChallengeOrganicNaming

	for i := 0; i < 100; i++ {
		clock.Advance(5 * time.Minute)
		adj, err := svc.RecordOutcome(ctx, "u1", ct, true, clock.Now())
		require.NoError(t, err)
		assert.LessOrEqual(t, adj.NewLevel, 10)
	}
	level, _ := svc.GetRecommendedDifficulty(ctx, "u1", ct)
	assert.Equal(t, 10, level)

	for i := 0; i < 100; i++ {
		clock.Advance(time.Minute)
		adj, err := svc.RecordOutcome(ctx, "u1", ct, false, clock.Now())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, adj.NewLevel, 1)
	}
	level, _ = svc.GetRecommendedDifficulty(ctx, "u1", ct)
	assert.Equal(t, 1, level)

	st, err := svc.SetDifficulty(ctx, "u1", ct, 42)
	require.NoError(t, err)
	assert.Equal(t, 10, st.Level)
}

func TestDifficulty_UnknownTypeStartsFresh(t *testing.T) {
	svc, _ := newDifficulty(t)
	ctx := context.Background()

	st, err := svc.GetCurrentDifficulty(ctx, "u1", "titration")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Level)
	assert.Zero(t, st.Version)

	// pure read: nothing was created
	_, ok := svc.states.Get(model.DifficultyKey{UserID: "u1", ChallengeType: "titration"})
	assert.False(t, ok)

	level, err := svc.GetRecommendedDifficulty(ctx, "u1", "titration")
	require.NoError(t, err)
	assert.Equal(t, 1, level)
}

func TestDifficulty_RealTimeAdjustment(t *testing.T) {
	svc, clock := newDifficulty(t)
	ctx := context.Background()
	ct := model.ChallengeMolecularGeometry

	adj, err := svc.AdjustDifficultyRealTime(ctx, "u1", ct, model.RecentPerformance{CorrectRatio: 0.9, TimeRatio: 0.8, SampleSize: 2})
	require.NoError(t, err)
	assert.False(t, adj.Changed, "sample too small")

	adj, err = svc.AdjustDifficultyRealTime(ctx, "u1", ct, model.RecentPerformance{CorrectRatio: 0.9, TimeRatio: 0.8, SampleSize: 5})
	require.NoError(t, err)
	assert.True(t, adj.Changed)
	assert.Equal(t, 2, adj.NewLevel)

	adj, err = svc.AdjustDifficultyRealTime(ctx, "u1", ct, model.RecentPerformance{CorrectRatio: 0.1, TimeRatio: 3, SampleSize: 5})
	require.NoError(t, err)
	assert.False(t, adj.Changed, "within cooldown")

	clock.Advance(3 * time.Minute)
	adj, err = svc.AdjustDifficultyRealTime(ctx, "u1", ct, model.RecentPerformance{CorrectRatio: 0.6, TimeRatio: 2.5, SampleSize: 5})
	require.NoError(t, err)
	assert.True(t, adj.Changed)
	assert.Equal(t, 1, adj.NewLevel)

	_, err = svc.AdjustDifficultyRealTime(ctx, "u1", ct, model.RecentPerformance{CorrectRatio: 1.5, SampleSize: 5})
	assert.True(t, util.IsValidation(err))
}

func TestDifficulty_RetriesVersionConflicts(t *testing.T) {
	store := &racingDifficultyStore{MemoryStore: repository.NewMemoryStore()}
	store.races.Store(1)
	clock := util.NewFakeClock(day0)
	svc := NewDifficultyService(store, config.DefaultProgression().Difficulty, 4, clock)
	ctx := context.Background()

	_, err := svc.RecordOutcome(ctx, "u1", model.ChallengeStoichiometry, true, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.saves.Load())

	stored, ok, err := store.LoadDifficulty(ctx, model.DifficultyKey{UserID: "u1", ChallengeType: model.ChallengeStoichiometry})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, 1, stored.ConsecutiveCorrect)

	// every save loses: the conflict surfaces after the retry budget
	store.races.Store(100)
	_, err = svc.RecordOutcome(ctx, "u1", model.ChallengeStoichiometry, true, clock.Now())
	assert.True(t, util.IsConflict(err))
}
