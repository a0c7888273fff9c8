package model

type ActionKind string

const (
	ActionPracticeWeakArea ActionKind = "practice_weak_area"
	ActionIncreaseLevel    ActionKind = "increase_difficulty"
	ActionKeepStreak       ActionKind = "keep_streak"
	ActionReachMilestone   ActionKind = "reach_milestone"
	ActionExplore          ActionKind = "explore"
)

// Action 推荐动作，Priority 越高越靠前
type Action struct {
	Kind          ActionKind    `json:"kind"`
	Priority      Priority      `json:"priority"`
	Concept       string        `json:"concept,omitempty"`
	ChallengeType ChallengeType `json:"challengeType,omitempty"`
	Level         int           `json:"level,omitempty"`
	Message       string        `json:"message"`
}

// LearningPathStep is one difficulty level to clear for a challenge type.
type LearningPathStep struct {
	ChallengeType     ChallengeType `json:"challengeType"`
	Level             int           `json:"level"`
	FocusConcepts     []string      `json:"focusConcepts"`
	EstimatedSessions int           `json:"estimatedSessions"`
}

type LearningPath struct {
	UserID      string             `json:"userId"`
	TargetLevel int                `json:"targetLevel"`
	WeakAreas   []WeakArea         `json:"weakAreas"`
	Steps       []LearningPathStep `json:"steps"`
	Summary     string             `json:"summary"`
}
