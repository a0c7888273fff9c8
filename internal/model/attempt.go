package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// ChallengeType 挑战类型，每种类型拥有独立的难度状态
type ChallengeType string

const (
	ChallengeEquationBalancing ChallengeType = "equation-balancing"
	ChallengeStoichiometry     ChallengeType = "stoichiometry"
	ChallengeOrganicNaming     ChallengeType = "organic-naming"
	ChallengeMolecularGeometry ChallengeType = "molecular-geometry"
)

// AttemptRecord is the canonical, validated form of a challenge attempt.
// It is produced once by the ingestor and never mutated afterwards.
type AttemptRecord struct {
	ID             string        `json:"id"`
	UserID         string        `json:"userId"`
	ChallengeID    string        `json:"challengeId"`
	ChallengeType  ChallengeType `json:"challengeType"`
	RealmID        string        `json:"realmId"`
	Concepts       []string      `json:"concepts"`
	IsCorrect      bool          `json:"isCorrect"`
	Score          float64       `json:"score"`
	TimeElapsedSec float64       `json:"timeElapsedSec"`
	HintsUsed      int           `json:"hintsUsed"`
	Timestamp      time.Time     `json:"timestamp"`
	Answer         AttemptAnswer `json:"answer,omitempty"`
}

// AttemptRequest 游戏引擎上报的原始挑战记录
type AttemptRequest struct {
	ID             string          `json:"id" binding:"required"`
	UserID         string          `json:"userId"`
	ChallengeID    string          `json:"challengeId" binding:"required"`
	ChallengeType  ChallengeType   `json:"challengeType" binding:"required"`
	RealmID        string          `json:"realmId"`
	Concepts       []string        `json:"concepts" binding:"required,min=1"`
	IsCorrect      *bool           `json:"isCorrect" binding:"required"`
	Score          float64         `json:"score" binding:"min=0"`
	TimeElapsedSec *float64        `json:"timeElapsedSec" binding:"required,min=0"`
	HintsUsed      int             `json:"hintsUsed" binding:"min=0"`
	Timestamp      *time.Time      `json:"timestamp"`
	Answer         json.RawMessage `json:"answer,omitempty"`
}

// AttemptAnswer is the typed answer payload of one challenge type.
type AttemptAnswer interface {
	ChallengeType() ChallengeType
	Validate() error
}

type EquationBalancingAnswer struct {
	Coefficients []int `json:"coefficients"`
}

func (EquationBalancingAnswer) ChallengeType() ChallengeType { return ChallengeEquationBalancing }

func (a EquationBalancingAnswer) Validate() error {
	if len(a.Coefficients) == 0 {
		return fmt.Errorf("coefficients are required")
	}
	for i, c := range a.Coefficients {
		if c < 1 {
			return fmt.Errorf("coefficient %d must be positive, got %d", i, c)
		}
	}
	return nil
}

type StoichiometryAnswer struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

func (StoichiometryAnswer) ChallengeType() ChallengeType { return ChallengeStoichiometry }

func (a StoichiometryAnswer) Validate() error {
	if math.IsNaN(a.Value) || math.IsInf(a.Value, 0) {
		return fmt.Errorf("value must be finite")
	}
	if strings.TrimSpace(a.Unit) == "" {
		return fmt.Errorf("unit is required")
	}
	return nil
}

type OrganicNamingAnswer struct {
	Name string `json:"name"`
}

func (OrganicNamingAnswer) ChallengeType() ChallengeType { return ChallengeOrganicNaming }

func (a OrganicNamingAnswer) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

type MolecularGeometryAnswer struct {
	Shape     string  `json:"shape"`
	BondAngle float64 `json:"bondAngle"`
}

func (MolecularGeometryAnswer) ChallengeType() ChallengeType { return ChallengeMolecularGeometry }

func (a MolecularGeometryAnswer) Validate() error {
	if strings.TrimSpace(a.Shape) == "" {
		return fmt.Errorf("shape is required")
	}
	if a.BondAngle <= 0 || a.BondAngle > 180 {
		return fmt.Errorf("bond angle must be in (0, 180], got %v", a.BondAngle)
	}
	return nil
}

var answerDecoders = map[ChallengeType]func(json.RawMessage) (AttemptAnswer, error){
	ChallengeEquationBalancing: decodeAnswer[EquationBalancingAnswer],
	ChallengeStoichiometry:     decodeAnswer[StoichiometryAnswer],
	ChallengeOrganicNaming:     decodeAnswer[OrganicNamingAnswer],
	ChallengeMolecularGeometry: decodeAnswer[MolecularGeometryAnswer],
}

func decodeAnswer[T AttemptAnswer](raw json.RawMessage) (AttemptAnswer, error) {
	var a T
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return a, nil
}

// IsKnownChallengeType reports whether ct has a typed answer shape.
func IsKnownChallengeType(ct ChallengeType) bool {
	_, ok := answerDecoders[ct]
	return ok
}

// DecodeAnswer 按挑战类型解析并校验答案；raw 为空时返回 nil
func DecodeAnswer(ct ChallengeType, raw json.RawMessage) (AttemptAnswer, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	decode, ok := answerDecoders[ct]
	if !ok {
		return nil, fmt.Errorf("no answer shape registered for challenge type %q", ct)
	}
	answer, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s answer: %w", ct, err)
	}
	if err := answer.Validate(); err != nil {
		return nil, err
	}
	return answer, nil
}

// AttemptResult 处理结果；重复提交时 Duplicate 为 true 且不改变任何状态
type AttemptResult struct {
	AttemptID  string               `json:"attemptId"`
	Duplicate  bool                 `json:"duplicate"`
	Difficulty DifficultyAdjustment `json:"difficulty"`
}
