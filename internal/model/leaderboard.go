package model

import "time"

// LeaderboardEntry 排行榜条目，按 (score desc, updatedAt asc) 排序
type LeaderboardEntry struct {
	UserID     string    `json:"userId"`
	CategoryID string    `json:"categoryId"`
	Score      float64   `json:"score"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Rank       int       `json:"rank,omitempty"`
}

// ScoreUpdate is an admin or engine-issued absolute score write.
type ScoreUpdate struct {
	UserID string     `json:"userId" binding:"required"`
	Score  float64    `json:"score"`
	At     *time.Time `json:"at"`
}

// TotalScoreCategory ranks users by the sum of their challenge-type scores.
const TotalScoreCategory = "total-score"
