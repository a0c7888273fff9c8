package model

import "time"

// StreakState 用户连续登录状态，只在登录事件时变化
type StreakState struct {
	UserID              string    `json:"userId"`
	CurrentStreak       int       `json:"currentStreak"`
	LongestStreak       int       `json:"longestStreak"`
	LastLoginDate       time.Time `json:"lastLoginDate"`
	StreakMultiplier    float64   `json:"streakMultiplier"`
	MissedDays          int       `json:"missedDays"`
	RecoveryUsed        bool      `json:"recoveryUsed"`
	RecoveriesAvailable int       `json:"recoveriesAvailable"`
	TotalDaysActive     int       `json:"totalDaysActive"`
	LostStreak          int       `json:"lostStreak"`
	Version             int64     `json:"version"`
}

type RecoveryType string

const (
	// RecoveryAuto is consumed by a login that bridges a short gap.
	RecoveryAuto RecoveryType = "auto"
	// RecoveryRestore 手动恢复上一次中断的连续天数
	RecoveryRestore RecoveryType = "restore"
)

type BonusType string

const (
	BonusXPMultiplier   BonusType = "xp_multiplier"
	BonusGoldMultiplier BonusType = "gold_multiplier"
	BonusChallenge      BonusType = "challenge_bonus"
	BonusWeeklyReward   BonusType = "weekly_reward"
)

type Bonus struct {
	Type        BonusType `json:"type"`
	Value       float64   `json:"value"`
	Description string    `json:"description"`
}

type Milestone struct {
	Day      int     `json:"day"`
	Name     string  `json:"name"`
	Achieved bool    `json:"achieved"`
	Progress float64 `json:"progress"`
}

type StreakStats struct {
	CurrentStreak       int         `json:"currentStreak"`
	LongestStreak       int         `json:"longestStreak"`
	StreakMultiplier    float64     `json:"streakMultiplier"`
	TotalDaysActive     int         `json:"totalDaysActive"`
	MilestonesAchieved  int         `json:"milestonesAchieved"`
	RecoveryUsed        bool        `json:"recoveryUsed"`
	RecoveriesAvailable int         `json:"recoveriesAvailable"`
	Milestones          []Milestone `json:"milestones"`
}
