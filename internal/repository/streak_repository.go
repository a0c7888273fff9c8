package repository

import (
	"context"
	"errors"

	"chemquest_backend/internal/model"
	"chemquest_backend/internal/util"

	"gorm.io/gorm"
)

type StreakRepository struct {
	DB *gorm.DB
}

// NewStreakRepository 创建连续登录仓库实例
func NewStreakRepository(db *gorm.DB) *StreakRepository {
	return &StreakRepository{DB: db}
}

func (r *StreakRepository) LoadStreak(ctx context.Context, userID string) (model.StreakState, bool, error) {
	var row model.StreakRecord
	if err := r.DB.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.StreakState{}, false, nil
		}
		return model.StreakState{}, false, err
	}
	return streakFromRecord(row), true, nil
}

// SaveStreak 乐观锁写入：expected 为 0 表示首次插入
func (r *StreakRepository) SaveStreak(ctx context.Context, state model.StreakState, expected int64) error {
	row := streakToRecord(state)
	row.Version = expected + 1
	db := r.DB.WithContext(ctx)

	if expected == 0 {
		err := db.Create(&row).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &util.ConflictError{Resource: "streak", Key: state.UserID, Expected: expected}
		}
		return err
	}

	res := db.Model(&model.StreakRecord{}).
		Where("user_id = ? AND version = ?", row.UserID, expected).
		Updates(map[string]interface{}{
			"current_streak":       row.CurrentStreak,
			"longest_streak":       row.LongestStreak,
			"last_login_date":      row.LastLoginDate,
			"streak_multiplier":    row.StreakMultiplier,
			"missed_days":          row.MissedDays,
			"recovery_used":        row.RecoveryUsed,
			"recoveries_available": row.RecoveriesAvailable,
			"total_days_active":    row.TotalDaysActive,
			"lost_streak":          row.LostStreak,
			"version":              row.Version,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &util.ConflictError{Resource: "streak", Key: state.UserID, Expected: expected}
	}
	return nil
}

func (r *StreakRepository) DeleteStreak(ctx context.Context, userID string) error {
	return r.DB.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.StreakRecord{}).Error
}

func streakToRecord(s model.StreakState) model.StreakRecord {
	row := model.StreakRecord{
		UserID:              s.UserID,
		CurrentStreak:       s.CurrentStreak,
		LongestStreak:       s.LongestStreak,
		StreakMultiplier:    s.StreakMultiplier,
		MissedDays:          s.MissedDays,
		RecoveryUsed:        s.RecoveryUsed,
		RecoveriesAvailable: s.RecoveriesAvailable,
		TotalDaysActive:     s.TotalDaysActive,
		LostStreak:          s.LostStreak,
		Version:             s.Version,
	}
	if !s.LastLoginDate.IsZero() {
		t := s.LastLoginDate
		row.LastLoginDate = &t
	}
	return row
}

func streakFromRecord(row model.StreakRecord) model.StreakState {
	s := model.StreakState{
		UserID:              row.UserID,
		CurrentStreak:       row.CurrentStreak,
		LongestStreak:       row.LongestStreak,
		StreakMultiplier:    row.StreakMultiplier,
		MissedDays:          row.MissedDays,
		RecoveryUsed:        row.RecoveryUsed,
		RecoveriesAvailable: row.RecoveriesAvailable,
		TotalDaysActive:     row.TotalDaysActive,
		LostStreak:          row.LostStreak,
		Version:             row.Version,
	}
	if row.LastLoginDate != nil {
		s.LastLoginDate = *row.LastLoginDate
	}
	return s
}
