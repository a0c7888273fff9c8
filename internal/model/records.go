package model

import (
	"time"

	"gorm.io/datatypes"
)

// 以下为存储层使用的表结构，核心服务只读写上面的领域类型

// AttemptLog 已消费的挑战记录，主键即幂等键
type AttemptLog struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)"`
	UserID        string    `gorm:"type:varchar(64);not null;index"`
	ChallengeID   string    `gorm:"type:varchar(64);not null"`
	ChallengeType string    `gorm:"type:varchar(64);not null"`
	IsCorrect     bool      `gorm:"not null"`
	Score         float64   `gorm:"not null"`
	AttemptedAt   time.Time `gorm:"not null;index"`
	CreatedAt     time.Time
}

func (AttemptLog) TableName() string {
	return "attempt_logs"
}

type PerformanceSnapshot struct {
	UserID        string `gorm:"primaryKey;type:varchar(64)"`
	TotalAttempts int    `gorm:"not null;default:0"`
	TotalCorrect  int    `gorm:"not null;default:0"`
	TotalTime     float64
	TotalHints    int
	TypeScores    datatypes.JSONType[map[ChallengeType]float64]
	LastAttemptAt time.Time
	UpdatedAt     time.Time
}

func (PerformanceSnapshot) TableName() string {
	return "performance_snapshots"
}

type ConceptPerformanceRecord struct {
	BaseModel
	UserID          string `gorm:"type:varchar(64);not null;uniqueIndex:idx_user_concept_type"`
	Concept         string `gorm:"type:varchar(128);not null;uniqueIndex:idx_user_concept_type"`
	ChallengeType   string `gorm:"type:varchar(64);not null;uniqueIndex:idx_user_concept_type"`
	RealmID         string `gorm:"type:varchar(64)"`
	Attempts        int
	Successes       int
	TotalTime       float64
	HintsUsed       int
	RecentWindow    datatypes.JSONSlice[bool]
	Trend           string `gorm:"type:varchar(16)"`
	ConfidenceLevel float64
	LastAttemptAt   time.Time
	ChallengeIDs    datatypes.JSONSlice[string]
}

func (ConceptPerformanceRecord) TableName() string {
	return "concept_performances"
}

type DifficultyRecord struct {
	UserID               string `gorm:"primaryKey;type:varchar(64)"`
	ChallengeType        string `gorm:"primaryKey;type:varchar(64)"`
	Level                int    `gorm:"not null"`
	ConsecutiveCorrect   int
	ConsecutiveIncorrect int
	LastAdjustedAt       *time.Time
	LastDirection        int   `gorm:"not null;default:0"`
	Version              int64 `gorm:"not null;default:0"`
	UpdatedAt            time.Time
}

func (DifficultyRecord) TableName() string {
	return "difficulty_states"
}

type StreakRecord struct {
	UserID              string `gorm:"primaryKey;type:varchar(64)"`
	CurrentStreak       int
	LongestStreak       int
	LastLoginDate       *time.Time
	StreakMultiplier    float64
	MissedDays          int
	RecoveryUsed        bool
	RecoveriesAvailable int
	TotalDaysActive     int
	LostStreak          int
	Version             int64 `gorm:"not null;default:0"`
	UpdatedAt           time.Time
}

func (StreakRecord) TableName() string {
	return "streak_states"
}

// LeaderboardRecord stores UpdatedAt as unix nanos so the tie-break survives
// databases with second-precision datetimes.
type LeaderboardRecord struct {
	CategoryID    string  `gorm:"primaryKey;type:varchar(64)"`
	UserID        string  `gorm:"primaryKey;type:varchar(64)"`
	Score         float64 `gorm:"not null;index"`
	UpdatedAtNano int64   `gorm:"not null"`
}

func (LeaderboardRecord) TableName() string {
	return "leaderboard_entries"
}
