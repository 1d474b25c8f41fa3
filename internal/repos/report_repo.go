package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/logger"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
)

type ReportRepo interface {
	GetOrCreate(ctx context.Context, tx *gorm.DB, jobID string) (*types.Report, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, jobID string, updates map[string]interface{}) error
}

type reportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReportRepo(db *gorm.DB, baseLog *logger.Logger) ReportRepo {
	return &reportRepo{db: db, log: baseLog.With("repo", "ReportRepo")}
}

func (r *reportRepo) tx(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *reportRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, jobID string) (*types.Report, error) {
	t := r.tx(tx)
	var rep types.Report
	err := t.WithContext(ctx).Where("job_id = ?", jobID).First(&rep).Error
	if err == nil {
		return &rep, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	rep = types.Report{JobID: jobID, Status: types.ReportPending, CreatedAt: now, UpdatedAt: now}
	if err := t.WithContext(ctx).Create(&rep).Error; err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *reportRepo) UpdateFields(ctx context.Context, tx *gorm.DB, jobID string, updates map[string]interface{}) error {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.tx(tx).WithContext(ctx).Model(&types.Report{}).Where("job_id = ?", jobID).Updates(updates).Error
}
