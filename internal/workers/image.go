// Package workers implements the three stage workers of spec §4.3-4.5:
// image export, stats export, and website update. Each worker is guarded
// by its own stage-status precondition and owns submitting remote tasks,
// persisting Export rows, and transitioning its stage status; the
// reconciler (package reconciler) is the only thing that reads those rows
// back to decide what happens next.
package workers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/clock"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/config"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/logger"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/poller"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/remotetask"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/repos"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
)

// ImageWorker implements spec §4.3. Run is only called when
// Job.ImageExportStatus is PENDING.
type ImageWorker struct {
	Adapter remotetask.Adapter
	Exports repos.ExportRepo
	Jobs    repos.JobRepo
	Poller  *poller.Poller
	Clock   clock.Clock
	Log     *logger.Logger
	DB      *gorm.DB
}

func (w *ImageWorker) Run(ctx context.Context, job *types.Job, cfg config.ImageExportConfig) error {
	log := w.Log.With("job_id", job.ID, "stage", "image")
	now := w.Clock.Now()

	candidates, err := w.Adapter.PlanImageExports(ctx, cfg, now)
	if err != nil {
		log.Error("planning image exports failed", "error", err)
		return w.Jobs.UpdateFields(ctx, w.DB, job.ID, map[string]interface{}{
			"image_export_status": types.StageFailed,
			"error":               appendError(job, "image planning failed: "+err.Error()),
		})
	}

	created := make([]*types.Export, 0, len(candidates))
	for _, c := range candidates {
		export := &types.Export{
			ID:              uuid.NewString(),
			JobID:           job.ID,
			Type:            types.ExportTypeImage,
			Name:            c.MonthName,
			Target:          types.ExportTargetRemoteCompute,
			Path:            cfg.MonthlyCollectionPath,
			NextCheckAt:     now,
			PollIntervalSec: 15,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if cfg.TaskDeadline > 0 {
			deadline := now.Add(cfg.TaskDeadline)
			export.DeadlineAt = &deadline
		}

		taskID, rawState, submitErr := w.Adapter.SubmitTask(ctx, remotetask.RemoteTaskDescriptor{
			Name:   c.MonthName,
			Target: string(types.ExportTargetRemoteCompute),
			Path:   cfg.MonthlyCollectionPath,
		})
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
		created = append(created, export)
	}

	if err := w.Exports.Create(ctx, w.DB, created); err != nil {
		log.Error("persisting image exports failed", "error", err)
		return err
	}

	updates := map[string]interface{}{}
	if len(created) == 0 {
		updates["image_export_status"] = types.StageCompleted
		updates["stats_export_status"] = types.StageNotRequired
	} else {
		updates["image_export_status"] = types.StageRunning
	}
	if err := w.Jobs.UpdateFields(ctx, w.DB, job.ID, updates); err != nil {
		return err
	}

	if len(created) == 0 {
		return nil
	}

	// Bootstrap polling: give the remote service a moment to register the
	// submission, then run one poll pass over this Job's new Exports so a
	// fast-completing month doesn't have to wait for the next tick.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
	}
	w.Poller.PollExports(ctx, created)
	return nil
}

func appendError(job *types.Job, msg string) *string {
	if job.Error == nil || *job.Error == "" {
		return &msg
	}
	joined := *job.Error + " | " + msg
	return &joined
}
