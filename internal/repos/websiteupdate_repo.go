package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/logger"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
)

type WebsiteUpdateRepo interface {
	GetOrCreate(ctx context.Context, tx *gorm.DB, jobID string) (*types.WebsiteUpdate, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, jobID string, updates map[string]interface{}) error
}

type websiteUpdateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWebsiteUpdateRepo(db *gorm.DB, baseLog *logger.Logger) WebsiteUpdateRepo {
	return &websiteUpdateRepo{db: db, log: baseLog.With("repo", "WebsiteUpdateRepo")}
}

func (r *websiteUpdateRepo) tx(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// GetOrCreate returns the single WebsiteUpdate row for a Job, creating a
// PENDING one if none exists yet (spec §4.5: "idempotent: reuses the
// existing WebsiteUpdate row if present").
func (r *websiteUpdateRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, jobID string) (*types.WebsiteUpdate, error) {
	t := r.tx(tx)
	var wu types.WebsiteUpdate
	err := t.WithContext(ctx).Where("job_id = ?", jobID).First(&wu).Error
	if err == nil {
		return &wu, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	wu = types.WebsiteUpdate{
		JobID:     jobID,
		Status:    types.WebsiteUpdatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.WithContext(ctx).Create(&wu).Error; err != nil {
		return nil, err
	}
	return &wu, nil
}

func (r *websiteUpdateRepo) UpdateFields(ctx context.Context, tx *gorm.DB, jobID string, updates map[string]interface{}) error {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.tx(tx).WithContext(ctx).Model(&types.WebsiteUpdate{}).Where("job_id = ?", jobID).Updates(updates).Error
}
