package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chemquest_backend/internal/config"
	"chemquest_backend/internal/model"
	"chemquest_backend/internal/repository"
	"chemquest_backend/internal/util"

	"github.com/stretchr/testify/require"
)

// 2025-03-03 is a Monday
var day0 = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

var errStoreDown = errors.New("store down")

type testEngine struct {
	clock    *util.FakeClock
	store    *repository.MemoryStore
	perfs    *flakyPerformanceStore
	cfg      config.ProgressionConfig
	progress *ProgressionService
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	return newTestEngineWith(t, config.DefaultProgression())
}

func newTestEngineWith(t *testing.T, cfg config.ProgressionConfig) *testEngine {
	t.Helper()
	clock := util.NewFakeClock(day0)
	store := repository.NewMemoryStore()
	perfs := &flakyPerformanceStore{MemoryStore: store}

	performance := NewPerformanceService(perfs, nil, cfg, clock)
	weak := NewWeakAreaService(performance, cfg.WeakArea, clock)
	difficulty := NewDifficultyService(store, cfg.Difficulty, cfg.Aggregator.Shards, clock)
	streaks, err := NewStreakService(store, cfg.Streak, cfg.Aggregator.Shards, clock)
	require.NoError(t, err)
	boards := NewLeaderboardService(store, cfg.Leaderboard, clock)

	return &testEngine{
		clock: clock,
		store: store,
		perfs: perfs,
		cfg:   cfg,
		progress: &ProgressionService{
			Ingest:          NewIngestService(repository.NewMemoryLedger(time.Hour, clock), cfg.Realms, clock),
			Performance:     performance,
			WeakAreas:       weak,
			Difficulty:      difficulty,
			Streaks:         streaks,
			Leaderboards:    boards,
			Recommendations: NewRecommendationService(performance, weak, difficulty, streaks, cfg, clock),
		},
	}
}

var attemptSeq atomic.Int64

// attempt builds a valid record for direct use with PerformanceService.
func attempt(userID string, ct model.ChallengeType, correct bool, at time.Time, concepts ...string) model.AttemptRecord {
	return model.AttemptRecord{
		ID:             fmt.Sprintf("att-%d", attemptSeq.Add(1)),
		UserID:         userID,
		ChallengeID:    fmt.Sprintf("ch-%d", attemptSeq.Load()%4),
		ChallengeType:  ct,
		Concepts:       concepts,
		IsCorrect:      correct,
		Score:          10,
		TimeElapsedSec: 30,
		Timestamp:      at,
	}
}

func request(id, userID string, ct model.ChallengeType, correct bool, score float64, concepts ...string) *model.AttemptRequest {
	elapsed := 42.0
	return &model.AttemptRequest{
		ID:             id,
		UserID:         userID,
		ChallengeID:    "challenge-" + id,
		ChallengeType:  ct,
		Concepts:       concepts,
		IsCorrect:      &correct,
		Score:          score,
		TimeElapsedSec: &elapsed,
	}
}

// flakyPerformanceStore fails every call while down is set.
type flakyPerformanceStore struct {
	*repository.MemoryStore
	down atomic.Bool

	mu          sync.Mutex
	lastTouched []model.ConceptKey
}

func (s *flakyPerformanceStore) LoadPerformance(ctx context.Context, userID string) (*model.UserPerformance, error) {
	if s.down.Load() {
		return nil, errStoreDown
	}
	return s.MemoryStore.LoadPerformance(ctx, userID)
}

func (s *flakyPerformanceStore) SavePerformance(ctx context.Context, perf *model.UserPerformance, touched []model.ConceptKey) error {
	if s.down.Load() {
		return errStoreDown
	}
	s.mu.Lock()
	s.lastTouched = append([]model.ConceptKey(nil), touched...)
	s.mu.Unlock()
	return s.MemoryStore.SavePerformance(ctx, perf, touched)
}

// racingDifficultyStore lets another writer win the next n saves.
type racingDifficultyStore struct {
	*repository.MemoryStore
	races atomic.Int32
	saves atomic.Int32
}

func (s *racingDifficultyStore) SaveDifficulty(ctx context.Context, state model.DifficultyState, expected int64) error {
	s.saves.Add(1)
	if s.races.Add(-1) >= 0 {
		// a concurrent writer bumps the stored version first
		cur, ok, _ := s.MemoryStore.LoadDifficulty(ctx, model.DifficultyKey{UserID: state.UserID, ChallengeType: state.ChallengeType})
		var v int64
		if ok {
			v = cur.Version
		} else {
			cur = model.DifficultyState{UserID: state.UserID, ChallengeType: state.ChallengeType, Level: 1}
		}
		if err := s.MemoryStore.SaveDifficulty(ctx, cur, v); err != nil {
			return err
		}
	}
	return s.MemoryStore.SaveDifficulty(ctx, state, expected)
}
