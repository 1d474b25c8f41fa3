package repos

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/logger"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
)

// ExportRepo is the persistence boundary for Export rows, grounded on the
// same SKIP LOCKED claim shape used elsewhere in this codebase for
// runnable-row polling, generalized here to lease a whole due batch at
// once (spec §4.6) rather than a single row.
type ExportRepo interface {
	Create(ctx context.Context, tx *gorm.DB, exports []*types.Export) error
	GetByJobID(ctx context.Context, tx *gorm.DB, jobID string) ([]*types.Export, error)
	GetByJobIDAndType(ctx context.Context, tx *gorm.DB, jobID string, t types.ExportType) ([]*types.Export, error)
	LeaseDue(ctx context.Context, tx *gorm.DB, now time.Time, leaseDuration time.Duration, maxBatch int) ([]*types.Export, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error
}

type exportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExportRepo(db *gorm.DB, baseLog *logger.Logger) ExportRepo {
	return &exportRepo{db: db, log: baseLog.With("repo", "ExportRepo")}
}

func (r *exportRepo) tx(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *exportRepo) Create(ctx context.Context, tx *gorm.DB, exports []*types.Export) error {
	if len(exports) == 0 {
		return nil
	}
	return r.tx(tx).WithContext(ctx).Create(&exports).Error
}

func (r *exportRepo) GetByJobID(ctx context.Context, tx *gorm.DB, jobID string) ([]*types.Export, error) {
	var out []*types.Export
	err := r.tx(tx).WithContext(ctx).Where("job_id = ?", jobID).Find(&out).Error
	return out, err
}

func (r *exportRepo) GetByJobIDAndType(ctx context.Context, tx *gorm.DB, jobID string, t types.ExportType) ([]*types.Export, error) {
	var out []*types.Export
	err := r.tx(tx).WithContext(ctx).Where("job_id = ? AND type = ?", jobID, t).Find(&out).Error
	return out, err
}

// LeaseDue implements spec §4.6 step 1: set lease_until=now+leaseDuration
// on up to maxBatch Exports that are due, then re-read the leased rows.
// Row locking (SKIP LOCKED) is applied only on dialects that support it;
// sqlite's embedded engine has no concurrent writer within one process and
// silently runs the same query without it.
func (r *exportRepo) LeaseDue(ctx context.Context, tx *gorm.DB, now time.Time, leaseDuration time.Duration, maxBatch int) ([]*types.Export, error) {
	var leased []*types.Export
	err := r.tx(tx).WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		q := txx.Model(&types.Export{}).
			Where("state IN ?", []types.ExportState{types.ExportRunning, types.ExportTimedOut}).
			Where("next_check_at <= ?", now).
			Where("lease_until IS NULL OR lease_until <= ?", now).
			Order("next_check_at ASC").
			Limit(maxBatch)
		if supportsSkipLocked(txx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var due []types.Export
		if err := q.Find(&due).Error; err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		ids := make([]string, 0, len(due))
		for _, e := range due {
			ids = append(ids, e.ID)
		}
		leaseUntil := now.Add(leaseDuration)
		if err := txx.Model(&types.Export{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{"lease_until": leaseUntil, "updated_at": now}).Error; err != nil {
			return err
		}

		return txx.Where("lease_until > ?", now).
			Where("next_check_at <= ?", now).
			Where("id IN ?", ids).
			Find(&leased).Error
	})
	return leased, err
}

func supportsSkipLocked(db *gorm.DB) bool {
	return strings.Contains(strings.ToLower(db.Dialector.Name()), "postgres")
}

func (r *exportRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error {
	if id == "" {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.tx(tx).WithContext(ctx).Model(&types.Export{}).Where("id = ?", id).Updates(updates).Error
}
