package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chemquest_backend/internal/model"
	"chemquest_backend/internal/util"
)

// MemoryStore implements every store interface in process memory. It backs
// the "memory" database driver and the service tests.
type MemoryStore struct {
	mu           sync.RWMutex
	performance  map[string]*model.UserPerformance
	difficulty   map[model.DifficultyKey]model.DifficultyState
	streaks      map[string]model.StreakState
	leaderboards map[string]map[string]model.LeaderboardEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		performance:  make(map[string]*model.UserPerformance),
		difficulty:   make(map[model.DifficultyKey]model.DifficultyState),
		streaks:      make(map[string]model.StreakState),
		leaderboards: make(map[string]map[string]model.LeaderboardEntry),
	}
}

func (s *MemoryStore) LoadPerformance(_ context.Context, userID string) (*model.UserPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.performance[userID].Clone(), nil
}

func (s *MemoryStore) SavePerformance(_ context.Context, perf *model.UserPerformance, _ []model.ConceptKey) error {
	s.mu.Lock()
	s.performance[perf.UserID] = perf.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ActiveUsers(_ context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, p := range s.performance {
		if !p.LastAttemptAt.Before(since) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) LoadDifficulty(_ context.Context, key model.DifficultyKey) (model.DifficultyState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.difficulty[key]
	return st, ok, nil
}

func (s *MemoryStore) LoadDifficulties(_ context.Context, userID string) ([]model.DifficultyState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.DifficultyState
	for k, st := range s.difficulty {
		if k.UserID == userID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChallengeType < out[j].ChallengeType })
	return out, nil
}

func (s *MemoryStore) SaveDifficulty(_ context.Context, state model.DifficultyState, expected int64) error {
	key := model.DifficultyKey{UserID: state.UserID, ChallengeType: state.ChallengeType}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.difficulty[key]
	if (!ok && expected != 0) || (ok && cur.Version != expected) {
		return &util.ConflictError{Resource: "difficulty", Key: fmt.Sprintf("%s/%s", key.UserID, key.ChallengeType), Expected: expected}
	}
	state.Version = expected + 1
	s.difficulty[key] = state
	return nil
}

func (s *MemoryStore) LoadStreak(_ context.Context, userID string) (model.StreakState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streaks[userID]
	return st, ok, nil
}

func (s *MemoryStore) SaveStreak(_ context.Context, state model.StreakState, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.streaks[state.UserID]
	if (!ok && expected != 0) || (ok && cur.Version != expected) {
		return &util.ConflictError{Resource: "streak", Key: state.UserID, Expected: expected}
	}
	state.Version = expected + 1
	s.streaks[state.UserID] = state
	return nil
}

func (s *MemoryStore) DeleteStreak(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.streaks, userID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LoadCategory(_ context.Context, categoryID string) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.LeaderboardEntry, 0, len(s.leaderboards[categoryID]))
	for _, e := range s.leaderboards[categoryID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *MemoryStore) SaveEntry(_ context.Context, entry model.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.leaderboards[entry.CategoryID]
	if !ok {
		board = make(map[string]model.LeaderboardEntry)
		s.leaderboards[entry.CategoryID] = board
	}
	if cur, ok := board[entry.UserID]; ok && cur.UpdatedAt.After(entry.UpdatedAt) {
		return nil
	}
	entry.Rank = 0
	board[entry.UserID] = entry
	return nil
}
