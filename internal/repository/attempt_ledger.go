package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"chemquest_backend/internal/model"
	"chemquest_backend/internal/util"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const attemptKeyPrefix = "chemquest:attempt:"

// MemoryLedger keeps claims in process memory. Entries expire after ttl so the
// map does not grow without bound; a zero ttl keeps them forever.
type MemoryLedger struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	clock util.Clock
}

func NewMemoryLedger(ttl time.Duration, clock util.Clock) *MemoryLedger {
	if clock == nil {
		clock = util.SystemClock{}
	}
	return &MemoryLedger{seen: make(map[string]time.Time), ttl: ttl, clock: clock}
}

func (l *MemoryLedger) Claim(_ context.Context, rec model.AttemptRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if exp, ok := l.seen[rec.ID]; ok && (l.ttl == 0 || now.Before(exp)) {
		return false, nil
	}
	l.seen[rec.ID] = now.Add(l.ttl)
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, attemptID string) error {
	l.mu.Lock()
	delete(l.seen, attemptID)
	l.mu.Unlock()
	return nil
}

// Purge drops expired claims and returns how many were removed.
func (l *MemoryLedger) Purge() int {
	if l.ttl == 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	n := 0
	for id, exp := range l.seen {
		if !now.Before(exp) {
			delete(l.seen, id)
			n++
		}
	}
	return n
}

// RedisLedger 多实例部署时共享的去重账本，基于 SETNX + 过期时间
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) Claim(ctx context.Context, rec model.AttemptRecord) (bool, error) {
	return l.client.SetNX(ctx, attemptKeyPrefix+rec.ID, rec.UserID, l.ttl).Result()
}

func (l *RedisLedger) Release(ctx context.Context, attemptID string) error {
	return l.client.Del(ctx, attemptKeyPrefix+attemptID).Err()
}

// DBLedger records consumed attempts in attempt_logs; the primary key makes a
// second insert of the same id fail.
type DBLedger struct {
	DB *gorm.DB
}

func NewDBLedger(db *gorm.DB) *DBLedger {
	return &DBLedger{DB: db}
}

func (l *DBLedger) Claim(ctx context.Context, rec model.AttemptRecord) (bool, error) {
	row := model.AttemptLog{
		ID:            rec.ID,
		UserID:        rec.UserID,
		ChallengeID:   rec.ChallengeID,
		ChallengeType: string(rec.ChallengeType),
		IsCorrect:     rec.IsCorrect,
		Score:         rec.Score,
		AttemptedAt:   rec.Timestamp,
	}
	err := l.DB.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *DBLedger) Release(ctx context.Context, attemptID string) error {
	return l.DB.WithContext(ctx).Where("id = ?", attemptID).Delete(&model.AttemptLog{}).Error
}
