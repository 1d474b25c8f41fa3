package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/logger"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
)

type UpstreamSnapshotRepo interface {
	Create(ctx context.Context, tx *gorm.DB, snapshots []*types.UpstreamSnapshot) error
	GetByJobID(ctx context.Context, tx *gorm.DB, jobID string) ([]*types.UpstreamSnapshot, error)
}

type upstreamSnapshotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUpstreamSnapshotRepo(db *gorm.DB, baseLog *logger.Logger) UpstreamSnapshotRepo {
	return &upstreamSnapshotRepo{db: db, log: baseLog.With("repo", "UpstreamSnapshotRepo")}
}

func (r *upstreamSnapshotRepo) tx(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *upstreamSnapshotRepo) Create(ctx context.Context, tx *gorm.DB, snapshots []*types.UpstreamSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	return r.tx(tx).WithContext(ctx).Create(&snapshots).Error
}

func (r *upstreamSnapshotRepo) GetByJobID(ctx context.Context, tx *gorm.DB, jobID string) ([]*types.UpstreamSnapshot, error) {
	var out []*types.UpstreamSnapshot
	err := r.tx(tx).WithContext(ctx).Where("job_id = ?", jobID).Find(&out).Error
	return out, err
}
