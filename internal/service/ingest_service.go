package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"chemquest_backend/internal/model"
	"chemquest_backend/internal/repository"
	"chemquest_backend/internal/util"
)

// IngestService 校验并规范化游戏引擎上报的挑战记录，并按记录 ID 去重
type IngestService struct {
	ledger repository.AttemptLedger
	clock  util.Clock
	realms atomic.Pointer[map[string]string]
}

func NewIngestService(ledger repository.AttemptLedger, realms map[string]string, clock util.Clock) *IngestService {
	if clock == nil {
		clock = util.SystemClock{}
	}
	s := &IngestService{ledger: ledger, clock: clock}
	s.UpdateRealms(realms)
	return s
}

// UpdateRealms swaps the challenge type → realm defaults.
func (s *IngestService) UpdateRealms(realms map[string]string) {
	cp := make(map[string]string, len(realms))
	for k, v := range realms {
		cp[k] = v
	}
	s.realms.Store(&cp)
}

// Normalize turns a raw request into an immutable AttemptRecord. Nothing is
// claimed or mutated when it returns an error.
func (s *IngestService) Normalize(req *model.AttemptRequest) (model.AttemptRecord, error) {
	if req == nil {
		return model.AttemptRecord{}, util.NewValidationError("attempt", "is required")
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		return model.AttemptRecord{}, util.NewValidationError("id", "is required")
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return model.AttemptRecord{}, util.NewValidationError("userId", "is required")
	}
	challengeID := strings.TrimSpace(req.ChallengeID)
	if challengeID == "" {
		return model.AttemptRecord{}, util.NewValidationError("challengeId", "is required")
	}
	ct := model.ChallengeType(strings.TrimSpace(string(req.ChallengeType)))
	if ct == "" {
		return model.AttemptRecord{}, util.NewValidationError("challengeType", "is required")
	}
	if req.IsCorrect == nil {
		return model.AttemptRecord{}, util.NewValidationError("isCorrect", "is required")
	}
	if req.TimeElapsedSec == nil {
		return model.AttemptRecord{}, util.NewValidationError("timeElapsedSec", "is required")
	}
	elapsed := *req.TimeElapsedSec
	if !isFinite(elapsed) || elapsed < 0 {
		return model.AttemptRecord{}, util.NewValidationError("timeElapsedSec", "must be a non-negative number, got %v", elapsed)
	}
	if !isFinite(req.Score) || req.Score < 0 {
		return model.AttemptRecord{}, util.NewValidationError("score", "must be a non-negative number, got %v", req.Score)
	}
	if req.HintsUsed < 0 {
		return model.AttemptRecord{}, util.NewValidationError("hintsUsed", "must not be negative, got %d", req.HintsUsed)
	}

	concepts := normalizeConcepts(req.Concepts)
	if len(concepts) == 0 {
		return model.AttemptRecord{}, util.NewValidationError("concepts", "at least one concept is required")
	}

	answer, err := model.DecodeAnswer(ct, req.Answer)
	if err != nil {
		return model.AttemptRecord{}, util.NewValidationError("answer", "%v", err)
	}

	realm := strings.TrimSpace(req.RealmID)
	if realm == "" {
		realm = (*s.realms.Load())[string(ct)]
	}

	ts := s.clock.Now()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		ts = *req.Timestamp
	}

	return model.AttemptRecord{
		ID:             id,
		UserID:         userID,
		ChallengeID:    challengeID,
		ChallengeType:  ct,
		RealmID:        realm,
		Concepts:       concepts,
		IsCorrect:      *req.IsCorrect,
		Score:          req.Score,
		TimeElapsedSec: elapsed,
		HintsUsed:      req.HintsUsed,
		Timestamp:      ts.UTC(),
		Answer:         answer,
	}, nil
}

// Claim reports whether rec is seen for the first time.
func (s *IngestService) Claim(ctx context.Context, rec model.AttemptRecord) (bool, error) {
	ok, err := s.ledger.Claim(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("claim attempt %s: %w: %w", rec.ID, util.ErrStorageUnavailable, err)
	}
	return ok, nil
}

func (s *IngestService) Release(ctx context.Context, attemptID string) error {
	return s.ledger.Release(ctx, attemptID)
}

// normalizeConcepts trims, lower-cases, de-duplicates and sorts concept tags.
func normalizeConcepts(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
