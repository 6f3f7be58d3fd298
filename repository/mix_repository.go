package repository

import (
	"context"
	"time"

	"mixfm/model"

	"gorm.io/gorm"
)

// MixRepository is the data access interface for mix records.
type MixRepository interface {
	Create(ctx context.Context, record *model.MixRecord) error
	GetByID(ctx context.Context, id int64) (*model.MixRecord, error)
	GetAllByUserID(ctx context.Context, userID int64) ([]*model.MixRecord, error)
	GetExpired(ctx context.Context, now time.Time, limit int) ([]*model.MixRecord, error)
	Delete(ctx context.Context, id int64) error
}

// gormMixRepository is the GORM implementation.
type gormMixRepository struct {
	db *gorm.DB
}

// NewGormMixRepository creates a GORM-backed mix repository.
func NewGormMixRepository(db *gorm.DB) MixRepository {
	return &gormMixRepository{db: db}
}

// Create persists a new mix record.
func (r *gormMixRepository) Create(ctx context.Context, record *model.MixRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// GetByID fetches a record, nil when not found.
func (r *gormMixRepository) GetByID(ctx context.Context, id int64) (*model.MixRecord, error) {
	var record model.MixRecord
	err := r.db.WithContext(ctx).First(&record, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// GetAllByUserID lists a user's mixes, newest first.
func (r *gormMixRepository) GetAllByUserID(ctx context.Context, userID int64) ([]*model.MixRecord, error) {
	var records []*model.MixRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetExpired lists ephemeral records whose deletion time has passed.
// Consumed by the reaper in bounded batches.
func (r *gormMixRepository) GetExpired(ctx context.Context, now time.Time, limit int) ([]*model.MixRecord, error) {
	var records []*model.MixRecord
	err := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Delete removes a record.
func (r *gormMixRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&model.MixRecord{}, id).Error
}
