// Package scheduler drives the two recurring triggers of spec §4.7: a
// cron-triggered daily Job initiator and a fixed-interval orchestration
// tick, both serialized through one mutex so a slow initiator firing
// cannot race a tick (spec §5: single-instance, overlap suppressed,
// missed firings coalesced).
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/clock"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/config"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/logger"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/orcherrors"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/poller"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/reconciler"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/remotetask"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/reporter"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/repos"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/workers"
)

type Scheduler struct {
	Cfg     config.Config
	Clock   clock.Clock
	Log     *logger.Logger

	Jobs      repos.JobRepo
	Exports   repos.ExportRepo
	Snapshots repos.UpstreamSnapshotRepo
	Reports   repos.ReportRepo
	Website   repos.WebsiteUpdateRepo
	Transfers repos.FileTransferRepo

	Adapter remotetask.Adapter
	Poller  *poller.Poller

	ImageWorker   *workers.ImageWorker
	StatsWorker   *workers.StatsWorker
	WebsiteWorker *workers.WebsiteWorker
	Reporter      *reporter.Reporter

	mu   sync.Mutex
	cron *cron.Cron
}

// Run starts both triggers and blocks until ctx is cancelled (spec §5
// cancellation: stop accepting new firings, let the in-flight tick
// finish, then return).
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.Cfg.Automation.DailyJob.Cron, func() {
		s.runGuarded(ctx, "daily-job", s.runDailyJob)
	})
	if err != nil {
		return orcherrors.Config(fmt.Sprintf("scheduling daily job cron %q", s.Cfg.Automation.DailyJob.Cron), err)
	}
	s.cron.Start()
	defer s.cron.Stop()

	interval := time.Duration(s.Cfg.Automation.OrchestrationJob.IntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Log.Info("scheduler started", "daily_cron", s.Cfg.Automation.DailyJob.Cron, "tick_interval", interval)

	for {
		select {
		case <-ctx.Done():
			s.Log.Info("scheduler stopping, letting in-flight tick finish")
			return nil
		case <-ticker.C:
			s.runGuarded(ctx, "orchestration-tick", s.runOrchestrationTick)
		}
	}
}

// runGuarded implements the single-instance overlap suppression: a firing
// that arrives while the previous one is still running is skipped and
// logged, not queued.
func (s *Scheduler) runGuarded(ctx context.Context, name string, fn func(context.Context)) {
	if !s.mu.TryLock() {
		s.Log.Warn("skipping overlapping firing", "trigger", name)
		return
	}
	defer s.mu.Unlock()
	fn(ctx)
}

// runDailyJob implements spec §4.7's Job initiator: create exactly one new
// Job row, capture an upstream snapshot per configured collection, then
// invoke the image stage worker.
func (s *Scheduler) runDailyJob(ctx context.Context) {
	now := s.Clock.Now()
	job := &types.Job{
		ID:                  uuid.NewString(),
		JobStatus:           types.JobRunning,
		ImageExportStatus:   types.StagePending,
		StatsExportStatus:   types.StagePending,
		WebsiteUpdateStatus: types.StagePending,
		ReportStatus:        types.StagePending,
		Timezone:            s.Cfg.Automation.Timezone,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.Jobs.Create(ctx, nil, job); err != nil {
		s.Log.Error("creating job failed", "error", err)
		return
	}
	log := s.Log.With("job_id", job.ID)
	log.Info("job created")

	s.captureUpstreamSnapshots(ctx, job, now)

	if err := s.ImageWorker.Run(ctx, job, s.Cfg.ImageExport); err != nil {
		log.Error("image stage worker failed", "error", err)
	}
}

func (s *Scheduler) captureUpstreamSnapshots(ctx context.Context, job *types.Job, now time.Time) {
	collections := []struct {
		name string
		path string
	}{
		{"image_export", s.Cfg.ImageExport.MonthlyCollectionPath},
		{"stats_export", s.Cfg.StatsExport.BaseExportPath},
	}

	var snapshots []*types.UpstreamSnapshot
	for _, c := range collections {
		if c.path == "" {
			continue
		}
		images, err := s.Adapter.CollectionImages(ctx, c.path)
		if err != nil {
			s.Log.Warn("capturing upstream snapshot failed", "job_id", job.ID, "collection", c.path, "error", err)
			continue
		}
		last := ""
		if len(images) > 0 {
			last = images[len(images)-1]
		}
		snapshots = append(snapshots, &types.UpstreamSnapshot{
			JobID:      job.ID,
			Name:       c.name,
			Collection: c.path,
			Images:     len(images),
			LastImage:  last,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if err := s.Snapshots.Create(ctx, nil, snapshots); err != nil {
		s.Log.Error("persisting upstream snapshots failed", "job_id", job.ID, "error", err)
	}
}

// runOrchestrationTick implements spec §4.7's orchestration tick: poll
// once, reconcile and advance every runnable Job, then write the liveness
// heartbeat.
func (s *Scheduler) runOrchestrationTick(ctx context.Context) {
	if err := s.Poller.Tick(ctx); err != nil {
		s.Log.Error("poller tick failed", "error", err)
	}

	jobs, err := s.Jobs.GetRunnable(ctx, nil)
	if err != nil {
		s.Log.Error("listing runnable jobs failed", "error", err)
	}
	for _, job := range jobs {
		s.advanceJob(ctx, job)
	}

	s.writeHeartbeat()
}

func (s *Scheduler) advanceJob(ctx context.Context, job *types.Job) {
	log := s.Log.With("job_id", job.ID)

	imageExports, err := s.Exports.GetByJobIDAndType(ctx, nil, job.ID, types.ExportTypeImage)
	if err != nil {
		log.Error("loading image exports failed", "error", err)
		return
	}
	tableExports, err := s.Exports.GetByJobIDAndType(ctx, nil, job.ID, types.ExportTypeTable)
	if err != nil {
		log.Error("loading table exports failed", "error", err)
		return
	}
	website, err := s.Website.GetOrCreate(ctx, nil, job.ID)
	if err != nil {
		log.Error("loading website update failed", "error", err)
		website = nil
	}

	in := reconciler.Input{
		Job:          job,
		ImageExports: derefExports(imageExports),
		TableExports: derefExports(tableExports),
		Website:      website,
	}
	out := reconciler.Reconcile(in)

	wasStatsFailed := job.StatsExportStatus == types.StageFailed
	if out.Changed {
		if err := s.Jobs.UpdateFields(ctx, nil, job.ID, jobUpdateMap(out.Job)); err != nil {
			log.Error("persisting reconciled job failed", "error", err)
			return
		}
	}
	updated := out.Job

	if !wasStatsFailed && updated.StatsExportStatus == types.StageFailed {
		if err := s.StatsWorker.Rollback(ctx, &updated, tableExports); err != nil {
			log.Error("stats rollback failed", "error", err)
		}
	}

	s.invokeEligibleWorker(ctx, &updated)
}

func (s *Scheduler) invokeEligibleWorker(ctx context.Context, job *types.Job) {
	log := s.Log.With("job_id", job.ID)

	switch {
	case job.ImageExportStatus == types.StagePending:
		if err := s.ImageWorker.Run(ctx, job, s.Cfg.ImageExport); err != nil {
			log.Error("image stage worker failed", "error", err)
		}
	case job.ImageExportStatus == types.StageCompleted && job.StatsExportStatus == types.StagePending:
		if err := s.StatsWorker.Run(ctx, job, s.Cfg.StatsExport); err != nil {
			log.Error("stats stage worker failed", "error", err)
		}
	case job.JobStatus == types.JobRunning &&
		(job.StatsExportStatus == types.StageCompleted || job.StatsExportStatus == types.StageFailed) &&
		job.WebsiteUpdateStatus == types.StagePending:
		tableExports, err := s.Exports.GetByJobIDAndType(ctx, nil, job.ID, types.ExportTypeTable)
		if err != nil {
			log.Error("loading table exports for website stage failed", "error", err)
			return
		}
		completed := make([]*types.Export, 0, len(tableExports))
		for _, e := range tableExports {
			if e.State == types.ExportCompleted {
				completed = append(completed, e)
			}
		}
		if err := s.WebsiteWorker.Run(ctx, job, s.Cfg.Automation.Website, completed); err != nil {
			log.Error("website stage worker failed", "error", err)
		}
	}

	if (job.JobStatus == types.JobCompleted || job.JobStatus == types.JobFailed) && job.ReportStatus == types.StagePending {
		s.sendReport(ctx, job)
	}
}

func (s *Scheduler) sendReport(ctx context.Context, job *types.Job) {
	log := s.Log.With("job_id", job.ID)
	rep, err := s.Reports.GetOrCreate(ctx, nil, job.ID)
	if err != nil {
		log.Error("loading report failed", "error", err)
		return
	}

	imageExports, _ := s.Exports.GetByJobIDAndType(ctx, nil, job.ID, types.ExportTypeImage)
	tableExports, _ := s.Exports.GetByJobIDAndType(ctx, nil, job.ID, types.ExportTypeTable)
	snapshots, _ := s.Snapshots.GetByJobID(ctx, nil, job.ID)
	website, _ := s.Website.GetOrCreate(ctx, nil, job.ID)

	sendErr := s.Reporter.Send(reporter.Context{
		Job:               *job,
		ImageExports:      derefExports(imageExports),
		TableExports:      derefExports(tableExports),
		UpstreamSnapshots: derefSnapshots(snapshots),
		Website:           website,
	})

	if sendErr != nil {
		log.Error("sending report failed", "error", sendErr)
		errMsg := sendErr.Error()
		_ = s.Reports.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
			"attempts":   rep.Attempts + 1,
			"last_error": &errMsg,
		})
		return
	}

	_ = s.Reports.UpdateFields(ctx, nil, job.ID, map[string]interface{}{"status": types.ReportCompleted})
	_ = s.Jobs.UpdateFields(ctx, nil, job.ID, map[string]interface{}{"report_status": types.StageCompleted})
}

func (s *Scheduler) writeHeartbeat() {
	path := s.Cfg.Automation.Heartbeat.HeartbeatFile
	if path == "" {
		return
	}
	content := s.Clock.Now().UTC().Format(time.RFC3339)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		s.Log.Error("writing heartbeat file failed", "error", err)
	}
}

func jobUpdateMap(j types.Job) map[string]interface{} {
	return map[string]interface{}{
		"job_status":             j.JobStatus,
		"image_export_status":    j.ImageExportStatus,
		"stats_export_status":    j.StatsExportStatus,
		"website_update_status":  j.WebsiteUpdateStatus,
		"error":                  j.Error,
	}
}

func derefExports(in []*types.Export) []types.Export {
	out := make([]types.Export, 0, len(in))
	for _, e := range in {
		out = append(out, *e)
	}
	return out
}

func derefSnapshots(in []*types.UpstreamSnapshot) []types.UpstreamSnapshot {
	out := make([]types.UpstreamSnapshot, 0, len(in))
	for _, e := range in {
		out = append(out, *e)
	}
	return out
}
