package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chemquest_backend/internal/model"
	"chemquest_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgression_ReplayedAttemptIsNotDoubleCounted(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	req := request("att-42", "u1", model.ChallengeStoichiometry, true, 120, "mole-ratio")

	first, err := e.progress.RecordAttempt(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	again, err := e.progress.RecordAttempt(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)

	snap, err := e.progress.Performance.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalAttempts)
	assert.Equal(t, 120.0, snap.TypeScores[model.ChallengeStoichiometry])

	st, err := e.progress.Difficulty.GetCurrentDifficulty(ctx, "u1", model.ChallengeStoichiometry)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ConsecutiveCorrect)
}

func TestProgression_AttemptFeedsLeaderboards(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.progress.RecordAttempt(ctx, request("a1", "u1", model.ChallengeStoichiometry, true, 100, "mole-ratio"))
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	_, err = e.progress.RecordAttempt(ctx, request("a2", "u1", model.ChallengeOrganicNaming, true, 40, "alkanes"))
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	_, err = e.progress.RecordAttempt(ctx, request("a3", "u2", model.ChallengeStoichiometry, false, 130, "mole-ratio"))
	require.NoError(t, err)

	total, err := e.progress.Leaderboards.GetLeaderboard(ctx, model.TotalScoreCategory, 10)
	require.NoError(t, err)
	require.Len(t, total, 2)
	assert.Equal(t, "u1", total[0].UserID)
	assert.Equal(t, 140.0, total[0].Score)

	rank, ok, err := e.progress.Leaderboards.GetUserRank(ctx, "u1", string(model.ChallengeStoichiometry))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, rank)
}

func TestProgression_LateAttemptStillReachesLeaderboards(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.clock.Advance(2 * time.Hour)

	a1 := request("a1", "u1", model.ChallengeStoichiometry, true, 10, "mole-ratio")
	at1 := day0.Add(time.Hour)
	a1.Timestamp = &at1
	_, err := e.progress.RecordAttempt(ctx, a1)
	require.NoError(t, err)

	// 离线客户端补传的更早挑战
	a2 := request("a2", "u1", model.ChallengeStoichiometry, true, 5, "mole-ratio")
	at2 := day0
	a2.Timestamp = &at2
	_, err = e.progress.RecordAttempt(ctx, a2)
	require.NoError(t, err)

	for _, category := range []string{string(model.ChallengeStoichiometry), model.TotalScoreCategory} {
		entries, err := e.progress.Leaderboards.GetLeaderboard(ctx, category, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1, category)
		assert.Equal(t, 15.0, entries[0].Score, category)
		assert.True(t, entries[0].UpdatedAt.Equal(at1), category)
	}
}

func TestProgression_RejectsInvalidAttempts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	cases := map[string]func(r *model.AttemptRequest){
		"missing id":        func(r *model.AttemptRequest) { r.ID = "" },
		"missing outcome":   func(r *model.AttemptRequest) { r.IsCorrect = nil },
		"negative time":     func(r *model.AttemptRequest) { v := -3.0; r.TimeElapsedSec = &v },
		"no concepts":       func(r *model.AttemptRequest) { r.Concepts = []string{" ", ""} },
		"bad answer":        func(r *model.AttemptRequest) { r.Answer = json.RawMessage(`{"value": 2.5, "unit": ""}`) },
		"unregistered type": func(r *model.AttemptRequest) { r.ChallengeType = "titration"; r.Answer = json.RawMessage(`{"x":1}`) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := request("bad-"+name, "u1", model.ChallengeStoichiometry, true, 10, "mole-ratio")
			mutate(req)
			_, err := e.progress.RecordAttempt(ctx, req)
			require.Error(t, err)
			assert.True(t, util.IsValidation(err), "got %v", err)
		})
	}

	snap, err := e.progress.Performance.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, snap.TotalAttempts)
}

func TestProgression_NormalizesRecord(t *testing.T) {
	e := newTestEngine(t)
	req := request("n1", " u1 ", model.ChallengeStoichiometry, true, 10, "Mole-Ratio", "limiting-reagent", "mole-ratio ")
	req.Answer = json.RawMessage(`{"value": 2.5, "unit": "mol"}`)

	rec, err := e.progress.Ingest.Normalize(req)
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, []string{"limiting-reagent", "mole-ratio"}, rec.Concepts)
	assert.Equal(t, "mole-mines", rec.RealmID)
	assert.Equal(t, day0, rec.Timestamp)
	assert.Equal(t, model.StoichiometryAnswer{Value: 2.5, Unit: "mol"}, rec.Answer)

	// no answer payload is fine for any type
	other := request("n2", "u1", "titration", false, 0, "acid-base")
	rec, err = e.progress.Ingest.Normalize(other)
	require.NoError(t, err)
	assert.Nil(t, rec.Answer)
	assert.Empty(t, rec.RealmID)
}

func TestProgression_FailedApplyReleasesClaim(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	req := request("r1", "u9", model.ChallengeStoichiometry, true, 10, "mole-ratio")

	e.perfs.down.Store(true)
	_, err := e.progress.RecordAttempt(ctx, req)
	require.Error(t, err)

	e.perfs.down.Store(false)
	res, err := e.progress.RecordAttempt(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestProgression_UpdateTuningReachesServices(t *testing.T) {
	e := newTestEngine(t)
	cfg := e.cfg
	cfg.Difficulty.StartLevel = 4
	cfg.Streak.TimeZone = "Europe/Berlin"
	require.NoError(t, e.progress.UpdateTuning(cfg))

	level, err := e.progress.Difficulty.GetRecommendedDifficulty(context.Background(), "fresh", model.ChallengeOrganicNaming)
	require.NoError(t, err)
	assert.Equal(t, 4, level)

	cfg.Streak.TimeZone = "Nowhere/Land"
	assert.Error(t, e.progress.UpdateTuning(cfg))
}
