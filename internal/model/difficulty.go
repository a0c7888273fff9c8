package model

import "time"

// DifficultyState 每个 (用户, 挑战类型) 的难度状态，首次使用时惰性创建
type DifficultyState struct {
	UserID               string        `json:"userId"`
	ChallengeType        ChallengeType `json:"challengeType"`
	Level                int           `json:"level"`
	ConsecutiveCorrect   int           `json:"consecutiveCorrect"`
	ConsecutiveIncorrect int           `json:"consecutiveIncorrect"`
	LastAdjustedAt       time.Time     `json:"lastAdjustedAt"`
	// LastDirection 最近一次调整方向: 1 升级, -1 降级, 0 手动设置或从未调整
	LastDirection int   `json:"lastDirection"`
	Version       int64 `json:"version"`
}

// DifficultyKey identifies one difficulty state machine.
type DifficultyKey struct {
	UserID        string
	ChallengeType ChallengeType
}

// RecentPerformance is the ratio summary fed to real-time adjustment.
// TimeRatio is actual time over expected time: below 1 means faster than expected.
type RecentPerformance struct {
	CorrectRatio float64 `json:"correctRatio"`
	TimeRatio    float64 `json:"timeRatio"`
	SampleSize   int     `json:"sampleSize"`
}

type DifficultyAdjustment struct {
	PreviousLevel int  `json:"previousLevel"`
	NewLevel      int  `json:"newLevel"`
	Changed       bool `json:"changed"`
}
