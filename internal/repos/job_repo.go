package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/logger"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
)

type JobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.Job) error
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.Job, error)
	GetRunnable(ctx context.Context, tx *gorm.DB) ([]*types.Job, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func (r *jobRepo) tx(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *jobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.Job) error {
	return r.tx(tx).WithContext(ctx).Create(job).Error
}

func (r *jobRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.Job, error) {
	var job types.Job
	if err := r.tx(tx).WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// GetRunnable returns every Job still RUNNING, plus any terminal Job whose
// report is still PENDING — the set the orchestration tick's per-Job pass
// (spec §4.7b) needs to consider.
func (r *jobRepo) GetRunnable(ctx context.Context, tx *gorm.DB) ([]*types.Job, error) {
	var out []*types.Job
	err := r.tx(tx).WithContext(ctx).
		Where("job_status = ? OR report_status = ?", types.JobRunning, types.StagePending).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *jobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error {
	if id == "" {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.tx(tx).WithContext(ctx).Model(&types.Job{}).Where("id = ?", id).Updates(updates).Error
}
