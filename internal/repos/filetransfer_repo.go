package repos

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/logger"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
)

type FileTransferRepo interface {
	Create(ctx context.Context, tx *gorm.DB, ft *types.FileTransfer) error
	GetByJobID(ctx context.Context, tx *gorm.DB, jobID string) ([]*types.FileTransfer, error)
	GetByExportID(ctx context.Context, tx *gorm.DB, exportID string) (*types.FileTransfer, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, status types.FileTransferStatus) error
}

type fileTransferRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFileTransferRepo(db *gorm.DB, baseLog *logger.Logger) FileTransferRepo {
	return &fileTransferRepo{db: db, log: baseLog.With("repo", "FileTransferRepo")}
}

func (r *fileTransferRepo) tx(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *fileTransferRepo) Create(ctx context.Context, tx *gorm.DB, ft *types.FileTransfer) error {
	return r.tx(tx).WithContext(ctx).Create(ft).Error
}

func (r *fileTransferRepo) GetByJobID(ctx context.Context, tx *gorm.DB, jobID string) ([]*types.FileTransfer, error) {
	var out []*types.FileTransfer
	err := r.tx(tx).WithContext(ctx).Where("job_id = ?", jobID).Find(&out).Error
	return out, err
}

func (r *fileTransferRepo) GetByExportID(ctx context.Context, tx *gorm.DB, exportID string) (*types.FileTransfer, error) {
	var ft types.FileTransfer
	err := r.tx(tx).WithContext(ctx).Where("export_id = ?", exportID).First(&ft).Error
	if err != nil {
		return nil, err
	}
	return &ft, nil
}

func (r *fileTransferRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, status types.FileTransferStatus) error {
	return r.tx(tx).WithContext(ctx).Model(&types.FileTransfer{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().UTC()}).Error
}
