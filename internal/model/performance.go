package model

import (
	"sort"
	"time"
)

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// ConceptKey identifies one (concept, challenge type) statistic of a user.
type ConceptKey struct {
	Concept       string
	ChallengeType ChallengeType
}

// ConceptPerformance 用户在某个知识点/挑战类型上的滚动统计
type ConceptPerformance struct {
	Concept         string        `json:"concept"`
	ChallengeType   ChallengeType `json:"challengeType"`
	RealmID         string        `json:"realmId"`
	Attempts        int           `json:"attempts"`
	Successes       int           `json:"successes"`
	TotalTime       float64       `json:"totalTime"`
	HintsUsed       int           `json:"hintsUsed"`
	RecentWindow    []bool        `json:"recentWindow"`
	Trend           Trend         `json:"trend"`
	ConfidenceLevel float64       `json:"confidenceLevel"`
	LastAttemptAt   time.Time     `json:"lastAttemptAt"`
	ChallengeIDs    []string      `json:"challengeIds"`
}

func (c ConceptPerformance) Key() ConceptKey {
	return ConceptKey{Concept: c.Concept, ChallengeType: c.ChallengeType}
}

// Accuracy is always within [0,1]; an untouched statistic reports 0.
func (c ConceptPerformance) Accuracy() float64 {
	if c.Attempts <= 0 {
		return 0
	}
	acc := float64(c.Successes) / float64(c.Attempts)
	if acc < 0 {
		return 0
	}
	if acc > 1 {
		return 1
	}
	return acc
}

func (c ConceptPerformance) AverageTime() float64 {
	if c.Attempts <= 0 {
		return 0
	}
	return c.TotalTime / float64(c.Attempts)
}

// AverageAttempts 每道不同挑战的平均尝试次数
func (c ConceptPerformance) AverageAttempts() float64 {
	if len(c.ChallengeIDs) == 0 {
		return float64(c.Attempts)
	}
	return float64(c.Attempts) / float64(len(c.ChallengeIDs))
}

// AddChallenge records challengeID in the sorted distinct set.
func (c *ConceptPerformance) AddChallenge(challengeID string) {
	i := sort.SearchStrings(c.ChallengeIDs, challengeID)
	if i < len(c.ChallengeIDs) && c.ChallengeIDs[i] == challengeID {
		return
	}
	c.ChallengeIDs = append(c.ChallengeIDs, "")
	copy(c.ChallengeIDs[i+1:], c.ChallengeIDs[i:])
	c.ChallengeIDs[i] = challengeID
}

func (c ConceptPerformance) Clone() ConceptPerformance {
	out := c
	out.RecentWindow = append([]bool(nil), c.RecentWindow...)
	out.ChallengeIDs = append([]string(nil), c.ChallengeIDs...)
	return out
}

// UserPerformance is the aggregator's whole per-user state.
type UserPerformance struct {
	UserID        string                            `json:"userId"`
	Concepts      map[ConceptKey]ConceptPerformance `json:"-"`
	TotalAttempts int                               `json:"totalAttempts"`
	TotalCorrect  int                               `json:"totalCorrect"`
	TotalTime     float64                           `json:"totalTime"`
	TotalHints    int                               `json:"totalHints"`
	TypeScores    map[ChallengeType]float64         `json:"typeScores"`
	LastAttemptAt time.Time                         `json:"lastAttemptAt"`
}

func NewUserPerformance(userID string) *UserPerformance {
	return &UserPerformance{
		UserID:     userID,
		Concepts:   make(map[ConceptKey]ConceptPerformance),
		TypeScores: make(map[ChallengeType]float64),
	}
}

func (u *UserPerformance) Clone() *UserPerformance {
	if u == nil {
		return nil
	}
	out := *u
	out.Concepts = make(map[ConceptKey]ConceptPerformance, len(u.Concepts))
	for k, v := range u.Concepts {
		out.Concepts[k] = v.Clone()
	}
	out.TypeScores = make(map[ChallengeType]float64, len(u.TypeScores))
	for k, v := range u.TypeScores {
		out.TypeScores[k] = v
	}
	return &out
}

// ConceptList returns the statistics ordered by concept then challenge type.
func (u *UserPerformance) ConceptList() []ConceptPerformance {
	out := make([]ConceptPerformance, 0, len(u.Concepts))
	for _, c := range u.Concepts {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Concept != out[j].Concept {
			return out[i].Concept < out[j].Concept
		}
		return out[i].ChallengeType < out[j].ChallengeType
	})
	return out
}

// ConceptSummary 跨挑战类型合并后的知识点表现
type ConceptSummary struct {
	Concept  string  `json:"concept"`
	Accuracy float64 `json:"accuracy"`
	Attempts int     `json:"attempts"`
}

// PerformanceMetrics 用户维度的汇总指标（缓存，写入即失效）
type PerformanceMetrics struct {
	UserID                   string           `json:"userId"`
	OverallAccuracy          float64          `json:"overallAccuracy"`
	AverageResponseTime      float64          `json:"averageResponseTime"`
	StrongestConcepts        []ConceptSummary `json:"strongestConcepts"`
	WeakestConcepts          []ConceptSummary `json:"weakestConcepts"`
	TotalChallengesCompleted int              `json:"totalChallengesCompleted"`
	TotalTimeSpent           float64          `json:"totalTimeSpent"`
	TotalHintsUsed           int              `json:"totalHintsUsed"`
	ComputedAt               time.Time        `json:"computedAt"`
	Stale                    bool             `json:"stale"`
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities high → low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// WeakArea 薄弱环节，始终可由 ConceptPerformance 推导
type WeakArea struct {
	Concept            string        `json:"concept"`
	ChallengeType      ChallengeType `json:"challengeType"`
	RealmID            string        `json:"realmId"`
	Accuracy           float64       `json:"accuracy"`
	AverageAttempts    float64       `json:"averageAttempts"`
	Priority           Priority      `json:"priority"`
	Trend              Trend         `json:"trend"`
	LastAttemptAt      time.Time     `json:"lastAttemptAt"`
	RecommendedActions []string      `json:"recommendedActions"`
}
