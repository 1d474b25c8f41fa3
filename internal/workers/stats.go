package workers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/archive"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/clock"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/config"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/logger"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/manifest"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/remotetask"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/repos"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
)

// frequencyBuckets are the two manifest-tracked table families named in
// spec §4.4 step 1's example.
var frequencyBuckets = []string{"monthly", "yearly"}

// StatsWorker implements spec §4.4. Run is only called when
// Job.StatsExportStatus is PENDING and no image Export is still RUNNING.
type StatsWorker struct {
	Adapter   remotetask.Adapter
	Builders  map[string]remotetask.StatsExportBuilder
	Manifest  *manifest.Service
	Archive   *archive.Service
	Exports   repos.ExportRepo
	Jobs      repos.JobRepo
	Transfers repos.FileTransferRepo
	Clock     clock.Clock
	Log       *logger.Logger
	DB        *gorm.DB
}

func (w *StatsWorker) Run(ctx context.Context, job *types.Job, cfg config.StatsExportConfig) error {
	log := w.Log.With("job_id", job.ID, "stage", "stats")
	now := w.Clock.Now()

	var created []*types.Export
	for _, bucket := range frequencyBuckets {
		skip := false
		var currentImages []string

		if !cfg.SkipManifest {
			images, err := w.Adapter.CollectionImages(ctx, cfg.BaseExportPath)
			if err != nil {
				return w.fail(ctx, job, err)
			}
			currentImages = images

			stored, ok, err := w.Manifest.Read(ctx, bucket)
			if err != nil {
				return w.fail(ctx, job, err)
			}
			if ok && manifest.SameSource(stored.Source, cfg.BaseExportPath, currentImages) {
				log.Info("manifest unchanged, skipping bucket", "bucket", bucket)
				skip = true
			}
		}
		if skip {
			continue
		}

		tasks, err := w.submitBucket(ctx, job, cfg, bucket, now, log)
		if err != nil {
			return w.fail(ctx, job, err)
		}
		created = append(created, tasks...)

		if !cfg.SkipManifest {
			newManifest := manifest.Manifest{
				DateCreated: now,
				Metadata:    manifest.Metadata{TargetSystem: string(cfg.ExportTarget)},
				Source:      manifest.Source{ImageCollection: cfg.BaseExportPath, Images: currentImages},
			}
			if err := w.Manifest.Write(ctx, bucket, newManifest); err != nil {
				log.Error("writing manifest failed", "bucket", bucket, "error", err)
			}
		}
	}

	if err := w.Exports.Create(ctx, w.DB, created); err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if len(created) == 0 {
		updates["stats_export_status"] = types.StageCompleted
	} else {
		updates["stats_export_status"] = types.StageRunning
	}
	return w.Jobs.UpdateFields(ctx, w.DB, job.ID, updates)
}

// submitBucket produces the descriptor list for one bucket (step 2),
// submits each remote table-task and builds its Export row (step 3), and
// performs the archive pre-publication scan for each (step 4).
func (w *StatsWorker) submitBucket(ctx context.Context, job *types.Job, cfg config.StatsExportConfig, bucket string, now time.Time, log *logger.Logger) ([]*types.Export, error) {
	builder, ok := w.Builders[bucket]
	if !ok {
		log.Warn("no stats export builder registered for bucket", "bucket", bucket)
		return nil, nil
	}
	descriptors, err := builder.Produce(ctx, cfg)
	if err != nil {
		return nil, err
	}

	exports := make([]*types.Export, 0, len(descriptors))
	for _, d := range descriptors {
		export := &types.Export{
			ID:              uuid.NewString(),
			JobID:           job.ID,
			Type:            types.ExportTypeTable,
			Name:            d.Name,
			Target:          types.ExportTarget(d.Target),
			Path:            d.Path,
			NextCheckAt:     now,
			PollIntervalSec: 15,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if cfg.TaskDeadline > 0 {
			deadline := now.Add(cfg.TaskDeadline)
			export.DeadlineAt = &deadline
		}

		taskID, rawState, submitErr := w.Adapter.SubmitTask(ctx, d)
		if submitErr != nil {
			msg := submitErr.Error()
			export.State = types.ExportFailed
			export.Error = &msg
			export.TaskStatus = "SUBMIT_FAILED"
		} else {
			export.TaskID = &taskID
			export.TaskStatus = rawState
			export.State = remotetask.ProjectState(rawState)
		}
		exports = append(exports, export)

		if err := w.scanArchive(ctx, job, export, bucket, now); err != nil {
			log.Error("archive scan failed", "export_id", export.ID, "error", err)
		}
	}
	return exports, nil
}

func (w *StatsWorker) scanArchive(ctx context.Context, job *types.Job, export *types.Export, relPath string, now time.Time) error {
	archivePath, found, err := w.Archive.ScanForPriorVersion(ctx, relPath, export.Name, now)
	if err != nil {
		return err
	}
	ft := &types.FileTransfer{
		JobID:      job.ID,
		ExportID:   export.ID,
		SourcePath: export.Path,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if found {
		ft.DestinationPath = archivePath
		ft.Status = types.FileTransferHasArchive
	} else {
		ft.Status = types.FileTransferNoArchive
	}
	return w.Transfers.Create(ctx, w.DB, ft)
}

func (w *StatsWorker) fail(ctx context.Context, job *types.Job, cause error) error {
	return w.Jobs.UpdateFields(ctx, w.DB, job.ID, map[string]interface{}{
		"stats_export_status": types.StageFailed,
		"error":               appendError(job, "stats stage failed: "+cause.Error()),
	})
}

// Rollback implements the Rollback paragraph of spec §4.4: for every FAILED
// table Export with a HAS_ARCHIVE FileTransfer, copy the archived blob back
// over the published path and mark the transfer ROLLED_BACK. Invoked by the
// orchestration tick once the reconciler reports stats Exports reached
// terminal states with at least one FAILED.
func (w *StatsWorker) Rollback(ctx context.Context, job *types.Job, tableExports []*types.Export) error {
	log := w.Log.With("job_id", job.ID, "stage", "stats-rollback")
	for _, e := range tableExports {
		if e.State != types.ExportFailed {
			continue
		}
		ft, err := w.Transfers.GetByExportID(ctx, w.DB, e.ID)
		if err != nil || ft == nil || ft.Status != types.FileTransferHasArchive {
			continue
		}
		if err := w.Archive.Rollback(ctx, ft.DestinationPath, ft.SourcePath); err != nil {
			log.Error("rollback copy failed", "export_id", e.ID, "error", err)
			continue
		}
		if err := w.Transfers.UpdateStatus(ctx, w.DB, ft.ID, types.FileTransferRolledBack); err != nil {
			log.Error("marking rollback failed", "export_id", e.ID, "error", err)
		}
	}
	return nil
}
