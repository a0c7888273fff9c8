package repository

import (
	"context"
	"time"

	"chemquest_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LeaderboardRepository struct {
	DB *gorm.DB
}

func NewLeaderboardRepository(db *gorm.DB) *LeaderboardRepository {
	return &LeaderboardRepository{DB: db}
}

// LoadCategory 读取某个分类的全部条目，启动时用于重建内存排行榜
func (r *LeaderboardRepository) LoadCategory(ctx context.Context, categoryID string) ([]model.LeaderboardEntry, error) {
	var rows []model.LeaderboardRecord
	err := r.DB.WithContext(ctx).
		Where("category_id = ?", categoryID).
		Order("score DESC, updated_at_nano ASC, user_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.LeaderboardEntry, len(rows))
	for i, row := range rows {
		out[i] = model.LeaderboardEntry{
			UserID:     row.UserID,
			CategoryID: row.CategoryID,
			Score:      row.Score,
			UpdatedAt:  time.Unix(0, row.UpdatedAtNano).UTC(),
		}
	}
	return out, nil
}

// SaveEntry upserts one entry. An entry stamped earlier than the stored row
// does not overwrite it.
func (r *LeaderboardRepository) SaveEntry(ctx context.Context, entry model.LeaderboardEntry) error {
	row := model.LeaderboardRecord{
		CategoryID:    entry.CategoryID,
		UserID:        entry.UserID,
		Score:         entry.Score,
		UpdatedAtNano: entry.UpdatedAt.UnixNano(),
	}
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur model.LeaderboardRecord
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("category_id = ? AND user_id = ?", row.CategoryID, row.UserID).
			Limit(1).Find(&cur)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Create(&row).Error
		}
		if cur.UpdatedAtNano > row.UpdatedAtNano {
			return nil
		}
		return tx.Model(&model.LeaderboardRecord{}).
			Where("category_id = ? AND user_id = ?", row.CategoryID, row.UserID).
			Updates(map[string]interface{}{"score": row.Score, "updated_at_nano": row.UpdatedAtNano}).Error
	})
}
