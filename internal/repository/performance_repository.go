package repository

import (
	"context"
	"errors"
	"time"

	"chemquest_backend/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PerformanceRepository struct {
	DB *gorm.DB
}

// NewPerformanceRepository 创建表现统计仓库实例
func NewPerformanceRepository(db *gorm.DB) *PerformanceRepository {
	return &PerformanceRepository{DB: db}
}

// LoadPerformance 读取用户汇总与全部知识点统计
func (r *PerformanceRepository) LoadPerformance(ctx context.Context, userID string) (*model.UserPerformance, error) {
	db := r.DB.WithContext(ctx)

	var snap model.PerformanceSnapshot
	if err := db.Where("user_id = ?", userID).First(&snap).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var rows []model.ConceptPerformanceRecord
	if err := db.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}

	perf := model.NewUserPerformance(userID)
	perf.TotalAttempts = snap.TotalAttempts
	perf.TotalCorrect = snap.TotalCorrect
	perf.TotalTime = snap.TotalTime
	perf.TotalHints = snap.TotalHints
	perf.LastAttemptAt = snap.LastAttemptAt
	for k, v := range snap.TypeScores.Data() {
		perf.TypeScores[k] = v
	}
	for _, row := range rows {
		c := conceptFromRecord(row)
		perf.Concepts[c.Key()] = c
	}
	return perf, nil
}

// SavePerformance 在一个事务内写入汇总行与本次触及的知识点行
func (r *PerformanceRepository) SavePerformance(ctx context.Context, perf *model.UserPerformance, touched []model.ConceptKey) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap := model.PerformanceSnapshot{
			UserID:        perf.UserID,
			TotalAttempts: perf.TotalAttempts,
			TotalCorrect:  perf.TotalCorrect,
			TotalTime:     perf.TotalTime,
			TotalHints:    perf.TotalHints,
			TypeScores:    datatypes.NewJSONType(perf.TypeScores),
			LastAttemptAt: perf.LastAttemptAt,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&snap).Error; err != nil {
			return err
		}

		for _, key := range touched {
			c, ok := perf.Concepts[key]
			if !ok {
				continue
			}
			row := conceptToRecord(perf.UserID, c)
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}, {Name: "concept"}, {Name: "challenge_type"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"realm_id", "attempts", "successes", "total_time", "hints_used",
					"recent_window", "trend", "confidence_level", "last_attempt_at",
					"challenge_ids", "updated_at",
				}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ActiveUsers 最近有作答记录的用户，供指标预热任务使用
func (r *PerformanceRepository) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	var ids []string
	err := r.DB.WithContext(ctx).Model(&model.PerformanceSnapshot{}).
		Where("last_attempt_at >= ?", since).
		Order("last_attempt_at DESC").
		Pluck("user_id", &ids).Error
	return ids, err
}

func conceptToRecord(userID string, c model.ConceptPerformance) model.ConceptPerformanceRecord {
	return model.ConceptPerformanceRecord{
		UserID:          userID,
		Concept:         c.Concept,
		ChallengeType:   string(c.ChallengeType),
		RealmID:         c.RealmID,
		Attempts:        c.Attempts,
		Successes:       c.Successes,
		TotalTime:       c.TotalTime,
		HintsUsed:       c.HintsUsed,
		RecentWindow:    datatypes.JSONSlice[bool](c.RecentWindow),
		Trend:           string(c.Trend),
		ConfidenceLevel: c.ConfidenceLevel,
		LastAttemptAt:   c.LastAttemptAt,
		ChallengeIDs:    datatypes.JSONSlice[string](c.ChallengeIDs),
	}
}

func conceptFromRecord(row model.ConceptPerformanceRecord) model.ConceptPerformance {
	return model.ConceptPerformance{
		Concept:         row.Concept,
		ChallengeType:   model.ChallengeType(row.ChallengeType),
		RealmID:         row.RealmID,
		Attempts:        row.Attempts,
		Successes:       row.Successes,
		TotalTime:       row.TotalTime,
		HintsUsed:       row.HintsUsed,
		RecentWindow:    append([]bool(nil), row.RecentWindow...),
		Trend:           model.Trend(row.Trend),
		ConfidenceLevel: row.ConfidenceLevel,
		LastAttemptAt:   row.LastAttemptAt,
		ChallengeIDs:    append([]string(nil), row.ChallengeIDs...),
	}
}
