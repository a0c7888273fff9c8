package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chemquest_backend/internal/model"
	"chemquest_backend/internal/util"

	"gorm.io/gorm"
)

type DifficultyRepository struct {
	DB *gorm.DB
}

func NewDifficultyRepository(db *gorm.DB) *DifficultyRepository {
	return &DifficultyRepository{DB: db}
}

func (r *DifficultyRepository) LoadDifficulty(ctx context.Context, key model.DifficultyKey) (model.DifficultyState, bool, error) {
	var row model.DifficultyRecord
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND challenge_type = ?", key.UserID, string(key.ChallengeType)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.DifficultyState{}, false, nil
		}
		return model.DifficultyState{}, false, err
	}
	return difficultyFromRecord(row), true, nil
}

// LoadDifficulties 用户全部挑战类型的难度状态
func (r *DifficultyRepository) LoadDifficulties(ctx context.Context, userID string) ([]model.DifficultyState, error) {
	var rows []model.DifficultyRecord
	if err := r.DB.WithContext(ctx).Where("user_id = ?", userID).Order("challenge_type").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.DifficultyState, len(rows))
	for i, row := range rows {
		out[i] = difficultyFromRecord(row)
	}
	return out, nil
}

// SaveDifficulty 乐观锁写入：expected 为 0 表示首次插入
func (r *DifficultyRepository) SaveDifficulty(ctx context.Context, state model.DifficultyState, expected int64) error {
	key := fmt.Sprintf("%s/%s", state.UserID, state.ChallengeType)
	row := difficultyToRecord(state)
	row.Version = expected + 1
	db := r.DB.WithContext(ctx)

	if expected == 0 {
		err := db.Create(&row).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &util.ConflictError{Resource: "difficulty", Key: key, Expected: expected}
		}
		return err
	}

	res := db.Model(&model.DifficultyRecord{}).
		Where("user_id = ? AND challenge_type = ? AND version = ?", row.UserID, row.ChallengeType, expected).
		Updates(map[string]interface{}{
			"level":                 row.Level,
			"consecutive_correct":   row.ConsecutiveCorrect,
			"consecutive_incorrect": row.ConsecutiveIncorrect,
			"last_adjusted_at":      row.LastAdjustedAt,
			"last_direction":        row.LastDirection,
			"version":               row.Version,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &util.ConflictError{Resource: "difficulty", Key: key, Expected: expected}
	}
	return nil
}

func difficultyToRecord(s model.DifficultyState) model.DifficultyRecord {
	row := model.DifficultyRecord{
		UserID:               s.UserID,
		ChallengeType:        string(s.ChallengeType),
		Level:                s.Level,
		ConsecutiveCorrect:   s.ConsecutiveCorrect,
		ConsecutiveIncorrect: s.ConsecutiveIncorrect,
		LastDirection:        s.LastDirection,
		Version:              s.Version,
	}
	if !s.LastAdjustedAt.IsZero() {
		t := s.LastAdjustedAt
		row.LastAdjustedAt = &t
	}
	return row
}

func difficultyFromRecord(row model.DifficultyRecord) model.DifficultyState {
	s := model.DifficultyState{
		UserID:               row.UserID,
		ChallengeType:        model.ChallengeType(row.ChallengeType),
		Level:                row.Level,
		ConsecutiveCorrect:   row.ConsecutiveCorrect,
		ConsecutiveIncorrect: row.ConsecutiveIncorrect,
		LastDirection:        row.LastDirection,
		Version:              row.Version,
	}
	if row.LastAdjustedAt != nil {
		s.LastAdjustedAt = row.LastAdjustedAt.In(time.UTC)
	}
	return s
}
