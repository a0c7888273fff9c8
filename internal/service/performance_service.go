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

type performanceTuning struct {
	agg           config.AggregatorConfig
	minSampleSize int
}

// cachedMetrics keeps the last computed rollup even after it is invalidated,
// so a failing store can still be answered with a stale snapshot.
type cachedMetrics struct {
	metrics   *model.PerformanceMetrics
	expiresAt time.Time
	valid     bool
	// gen is bumped by every invalidation; a rollup computed under an older
	// gen is not cached.
	gen uint64
}

// PerformanceService 维护每个用户、每个(知识点, 挑战类型)的滚动统计
type PerformanceService struct {
	store  repository.PerformanceStore
	l2     repository.MetricsCache
	clock  util.Clock
	tuning atomic.Pointer[performanceTuning]

	users *shardmap.Store[string, *model.UserPerformance]
	cache *shardmap.Store[string, cachedMetrics]
	// unsaved 保存失败、仅存在于内存中的知识点统计；只在 users 的键锁内读写
	unsaved *shardmap.Store[string, []model.ConceptKey]
}

// NewPerformanceService builds the aggregator. l2 may be nil.
func NewPerformanceService(store repository.PerformanceStore, l2 repository.MetricsCache, cfg config.ProgressionConfig, clock util.Clock) *PerformanceService {
	if clock == nil {
		clock = util.SystemClock{}
	}
	s := &PerformanceService{
		store: store,
		l2:    l2,
		clock: clock,
		users: shardmap.New[string, *model.UserPerformance](cfg.Aggregator.Shards, shardmap.StringHash),
		cache: shardmap.New[string, cachedMetrics](cfg.Aggregator.Shards, shardmap.StringHash),

		unsaved: shardmap.New[string, []model.ConceptKey](cfg.Aggregator.Shards, shardmap.StringHash),
	}
	s.UpdateTuning(cfg)
	return s
}

func (s *PerformanceService) UpdateTuning(cfg config.ProgressionConfig) {
	s.tuning.Store(&performanceTuning{agg: cfg.Aggregator, minSampleSize: cfg.WeakArea.MinSampleSize})
}

// RecordAttempt folds one validated attempt into the user's statistics and
// returns a snapshot of the updated state.
func (s *PerformanceService) RecordAttempt(ctx context.Context, rec model.AttemptRecord) (*model.UserPerformance, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	t := s.tuning.Load()

	var touched []model.ConceptKey
	next, err := s.users.Update(rec.UserID, func(cur *model.UserPerformance, ok bool) (*model.UserPerformance, error) {
		if !ok {
			loaded, err := s.load(ctx, rec.UserID)
			if err != nil {
				return nil, err
			}
			cur = loaded
		}
		next := cur.Clone()
		touched = applyAttempt(next, rec, t.agg)

		pending, _ := s.unsaved.Get(rec.UserID)
		keys := mergeConceptKeys(pending, touched)
		if err := s.store.SavePerformance(ctx, next, keys); err != nil {
			monitoring.StorageErrors.WithLabelValues("performance", "save").Inc()
			logger.Log.Warn("保存表现统计失败，保留内存状态",
				zap.String("userId", rec.UserID),
				zap.String("attemptId", rec.ID),
				zap.Error(err))
			_, _ = s.unsaved.Update(rec.UserID, func([]model.ConceptKey, bool) ([]model.ConceptKey, error) {
				return keys, nil
			})
			return next, nil
		}
		s.unsaved.Delete(rec.UserID)
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, rec.UserID)
	return next.Clone(), nil
}

func mergeConceptKeys(pending, touched []model.ConceptKey) []model.ConceptKey {
	if len(pending) == 0 {
		return touched
	}
	out := append([]model.ConceptKey(nil), pending...)
	for _, k := range touched {
		dup := false
		for _, p := range pending {
			if p == k {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, k)
		}
	}
	return out
}

func validateRecord(rec model.AttemptRecord) error {
	switch {
	case rec.UserID == "":
		return util.NewValidationError("userId", "is required")
	case rec.ChallengeID == "":
		return util.NewValidationError("challengeId", "is required")
	case rec.ChallengeType == "":
		return util.NewValidationError("challengeType", "is required")
	case len(rec.Concepts) == 0:
		return util.NewValidationError("concepts", "at least one concept is required")
	case !isFinite(rec.TimeElapsedSec) || rec.TimeElapsedSec < 0:
		return util.NewValidationError("timeElapsedSec", "must be a non-negative number, got %v", rec.TimeElapsedSec)
	case rec.HintsUsed < 0:
		return util.NewValidationError("hintsUsed", "must not be negative")
	}
	return nil
}

// applyAttempt mutates perf in place and returns the concept keys it touched.
func applyAttempt(perf *model.UserPerformance, rec model.AttemptRecord, cfg config.AggregatorConfig) []model.ConceptKey {
	touched := make([]model.ConceptKey, 0, len(rec.Concepts))
	for _, concept := range rec.Concepts {
		key := model.ConceptKey{Concept: concept, ChallengeType: rec.ChallengeType}
		c, ok := perf.Concepts[key]
		if !ok {
			c = model.ConceptPerformance{Concept: concept, ChallengeType: rec.ChallengeType, Trend: model.TrendStable}
		}
		c.Attempts++
		if rec.IsCorrect {
			c.Successes++
		}
		c.TotalTime += rec.TimeElapsedSec
		c.HintsUsed += rec.HintsUsed
		c.RecentWindow = pushWindow(c.RecentWindow, rec.IsCorrect, cfg.WindowSize)
		c.Trend = windowTrend(c.RecentWindow, cfg.TrendDelta)
		c.ConfidenceLevel = confidence(c.Attempts, c.RecentWindow, cfg)
		if rec.RealmID != "" {
			c.RealmID = rec.RealmID
		}
		if rec.Timestamp.After(c.LastAttemptAt) {
			c.LastAttemptAt = rec.Timestamp
		}
		c.AddChallenge(rec.ChallengeID)

		perf.Concepts[key] = c
		touched = append(touched, key)
	}

	// 每条记录只计一次，与知识点数量无关
	perf.TotalAttempts++
	if rec.IsCorrect {
		perf.TotalCorrect++
	}
	perf.TotalTime += rec.TimeElapsedSec
	perf.TotalHints += rec.HintsUsed
	perf.TypeScores[rec.ChallengeType] += rec.Score
	if rec.Timestamp.After(perf.LastAttemptAt) {
		perf.LastAttemptAt = rec.Timestamp
	}
	return touched
}

// pushWindow appends an outcome, dropping the oldest beyond capacity.
func pushWindow(window []bool, outcome bool, capacity int) []bool {
	window = append(window, outcome)
	if capacity > 0 && len(window) > capacity {
		trimmed := make([]bool, capacity)
		copy(trimmed, window[len(window)-capacity:])
		window = trimmed
	}
	return window
}

// windowTrend compares the newest third of the window with the oldest third.
func windowTrend(window []bool, delta float64) model.Trend {
	n := len(window)
	if n < 3 {
		return model.TrendStable
	}
	third := n / 3
	diff := meanOutcome(window[n-third:]) - meanOutcome(window[:third])
	switch {
	case diff > delta:
		return model.TrendImproving
	case diff < -delta:
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

func meanOutcome(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	hits := 0
	for _, o := range outcomes {
		if o {
			hits++
		}
	}
	return float64(hits) / float64(len(outcomes))
}

// confidence = min(1, attempts/saturation) · (0.5 + 0.5 · recency-weighted accuracy)
func confidence(attempts int, window []bool, cfg config.AggregatorConfig) float64 {
	if attempts <= 0 || len(window) == 0 {
		return 0
	}
	saturation := cfg.ConfidenceSaturation
	if saturation <= 0 {
		saturation = 20
	}
	sample := float64(attempts) / float64(saturation)
	if sample > 1 {
		sample = 1
	}

	weight, sum, hits := 1.0, 0.0, 0.0
	for i := len(window) - 1; i >= 0; i-- {
		sum += weight
		if window[i] {
			hits += weight
		}
		weight *= cfg.RecencyDecay
	}
	return clamp01(sample * (0.5 + 0.5*hits/sum))
}

// load hydrates a user from the store; unknown users start empty.
func (s *PerformanceService) load(ctx context.Context, userID string) (*model.UserPerformance, error) {
	perf, err := s.store.LoadPerformance(ctx, userID)
	if err != nil {
		monitoring.StorageErrors.WithLabelValues("performance", "load").Inc()
		return nil, fmt.Errorf("load performance for %s: %w: %w", userID, util.ErrStorageUnavailable, err)
	}
	if perf == nil {
		perf = model.NewUserPerformance(userID)
	}
	return perf, nil
}

// Snapshot returns a private copy of the user's whole statistic set.
func (s *PerformanceService) Snapshot(ctx context.Context, userID string) (*model.UserPerformance, error) {
	perf, err := s.users.Update(userID, func(cur *model.UserPerformance, ok bool) (*model.UserPerformance, error) {
		if ok {
			return cur, nil
		}
		return s.load(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return perf.Clone(), nil
}

// GetConceptPerformance 返回用户全部知识点统计的快照
func (s *PerformanceService) GetConceptPerformance(ctx context.Context, userID string) ([]model.ConceptPerformance, error) {
	perf, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return perf.ConceptList(), nil
}

// GetPerformanceMetrics serves the cached rollup, recomputing it after a
// write invalidated it or its TTL ran out. When the store cannot be read the
// last computed rollup is returned with Stale set.
func (s *PerformanceService) GetPerformanceMetrics(ctx context.Context, userID string) (*model.PerformanceMetrics, error) {
	now := s.clock.Now()
	cached, _ := s.cache.Get(userID)
	if cached.valid && now.Before(cached.expiresAt) {
		monitoring.MetricsCache.WithLabelValues("hit").Inc()
		out := *cached.metrics
		return &out, nil
	}

	if s.l2 != nil {
		m, ok, err := s.l2.Get(ctx, userID)
		if err != nil {
			logger.Log.Debug("metrics L2 cache read failed", zap.String("userId", userID), zap.Error(err))
		} else if ok {
			monitoring.MetricsCache.WithLabelValues("l2_hit").Inc()
			s.remember(userID, m, now, cached.gen)
			out := *m
			return &out, nil
		}
	}

	perf, err := s.Snapshot(ctx, userID)
	if err != nil {
		if cached, ok := s.cache.Get(userID); ok && cached.metrics != nil {
			monitoring.MetricsCache.WithLabelValues("stale").Inc()
			logger.Log.Warn("存储不可用，返回上次计算的指标", zap.String("userId", userID), zap.Error(err))
			out := *cached.metrics
			out.Stale = true
			return &out, nil
		}
		return nil, err
	}

	monitoring.MetricsCache.WithLabelValues("miss").Inc()
	m := s.computeMetrics(perf, now)
	s.remember(userID, m, now, cached.gen)
	if s.l2 != nil {
		if err := s.l2.Set(ctx, m, s.tuning.Load().agg.MetricsCacheTTL); err != nil {
			logger.Log.Debug("metrics L2 cache write failed", zap.String("userId", userID), zap.Error(err))
		}
	}
	out := *m
	return &out, nil
}

func (s *PerformanceService) remember(userID string, m *model.PerformanceMetrics, now time.Time, gen uint64) {
	ttl := s.tuning.Load().agg.MetricsCacheTTL
	s.cache.Update(userID, func(cur cachedMetrics, _ bool) (cachedMetrics, error) {
		if cur.gen != gen {
			return cur, nil
		}
		return cachedMetrics{metrics: m, expiresAt: now.Add(ttl), valid: true, gen: gen}, nil
	})
}

func (s *PerformanceService) invalidate(ctx context.Context, userID string) {
	s.cache.Update(userID, func(cur cachedMetrics, _ bool) (cachedMetrics, error) {
		cur.valid = false
		cur.gen++
		return cur, nil
	})
	if s.l2 != nil {
		if err := s.l2.Invalidate(ctx, userID); err != nil {
			logger.Log.Warn("metrics L2 cache invalidate failed", zap.String("userId", userID), zap.Error(err))
		}
	}
}

func (s *PerformanceService) computeMetrics(perf *model.UserPerformance, now time.Time) *model.PerformanceMetrics {
	t := s.tuning.Load()
	m := &model.PerformanceMetrics{
		UserID:                   perf.UserID,
		TotalChallengesCompleted: perf.TotalAttempts,
		TotalTimeSpent:           perf.TotalTime,
		TotalHintsUsed:           perf.TotalHints,
		ComputedAt:               now,
		StrongestConcepts:        []model.ConceptSummary{},
		WeakestConcepts:          []model.ConceptSummary{},
	}
	if perf.TotalAttempts > 0 {
		m.OverallAccuracy = clamp01(float64(perf.TotalCorrect) / float64(perf.TotalAttempts))
		m.AverageResponseTime = perf.TotalTime / float64(perf.TotalAttempts)
	}

	// 同一知识点跨挑战类型合并
	type agg struct{ attempts, successes int }
	byConcept := make(map[string]*agg)
	for _, c := range perf.Concepts {
		a, ok := byConcept[c.Concept]
		if !ok {
			a = &agg{}
			byConcept[c.Concept] = a
		}
		a.attempts += c.Attempts
		a.successes += c.Successes
	}

	var eligible []model.ConceptSummary
	for name, a := range byConcept {
		if a.attempts < t.minSampleSize || a.attempts == 0 {
			continue
		}
		eligible = append(eligible, model.ConceptSummary{
			Concept:  name,
			Accuracy: clamp01(float64(a.successes) / float64(a.attempts)),
			Attempts: a.attempts,
		})
	}

	n := t.agg.SummaryCount
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Accuracy != eligible[j].Accuracy {
			return eligible[i].Accuracy > eligible[j].Accuracy
		}
		if eligible[i].Attempts != eligible[j].Attempts {
			return eligible[i].Attempts > eligible[j].Attempts
		}
		return eligible[i].Concept < eligible[j].Concept
	})
	m.StrongestConcepts = append(m.StrongestConcepts, eligible[:min(n, len(eligible))]...)

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Accuracy != eligible[j].Accuracy {
			return eligible[i].Accuracy < eligible[j].Accuracy
		}
		if eligible[i].Attempts != eligible[j].Attempts {
			return eligible[i].Attempts > eligible[j].Attempts
		}
		return eligible[i].Concept < eligible[j].Concept
	})
	m.WeakestConcepts = append(m.WeakestConcepts, eligible[:min(n, len(eligible))]...)
	return m
}

// WarmMetrics recomputes the rollup of users active since the given time and
// returns how many were refreshed. It stops early when ctx is cancelled.
func (s *PerformanceService) WarmMetrics(ctx context.Context, since time.Time) (int, error) {
	users, err := s.store.ActiveUsers(ctx, since)
	if err != nil {
		return 0, err
	}
	warmed := 0
	for _, id := range users {
		if err := ctx.Err(); err != nil {
			return warmed, err
		}
		if _, err := s.GetPerformanceMetrics(ctx, id); err != nil {
			logger.Log.Warn("预热指标失败", zap.String("userId", id), zap.Error(err))
			continue
		}
		warmed++
	}
	return warmed, nil
}

// EvictIdle drops in-memory state of users idle for longer than idle; their
// statistics are reloaded from the store on next use. Users with changes the
// store has not accepted yet stay resident. Cached rollups are kept.
func (s *PerformanceService) EvictIdle(idle time.Duration) int {
	cutoff := s.clock.Now().Add(-idle)
	evicted := 0
	for _, id := range s.users.Keys() {
		ok := s.users.DeleteIf(id, func(perf *model.UserPerformance) bool {
			if perf.LastAttemptAt.After(cutoff) {
				return false
			}
			_, dirty := s.unsaved.Get(id)
			return !dirty
		})
		if ok {
			evicted++
		}
	}
	return evicted
}
