// Package poller implements the task poller (spec §4.6): lease a batch of
// due Exports, ask the remote adapter for their current status, project it
// through the spec §4.1 table, and write the result back — or back off
// and reschedule on a transient query failure.
package poller

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/archive"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/clock"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/logger"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/remotetask"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/repos"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
)

// Backoff controls the exponential reschedule growth on a failed status
// query (spec §4.6: "start at 15s, grow geometrically, capped").
type Backoff struct {
	Start time.Duration
	Max   time.Duration
	Grow  float64
}

func DefaultBackoff() Backoff {
	return Backoff{Start: 15 * time.Second, Max: 5 * time.Minute, Grow: 2.0}
}

func (b Backoff) next(current time.Duration) time.Duration {
	if current <= 0 {
		return b.Start
	}
	n := time.Duration(float64(current) * b.Grow)
	if n > b.Max {
		return b.Max
	}
	return n
}

type Poller struct {
	DB            *gorm.DB
	Clock         clock.Clock
	Remote        remotetask.Adapter
	Exports       repos.ExportRepo
	MaxBatch      int
	LeaseDuration time.Duration
	Backoff       Backoff
	Log           *logger.Logger

	// Archive is consulted when a table Export completes, so the published
	// file it names has an archived prior version for the next Job's scan
	// (spec §4.4 step 4). Nil archiving is a no-op, useful in tests that
	// don't exercise the stats stage.
	Archive *archive.Service
}

// Tick runs one leasing pass over every due Export (spec §4.6), independent
// of which Job owns them.
func (p *Poller) Tick(ctx context.Context) error {
	now := p.Clock.Now()
	leased, err := p.Exports.LeaseDue(ctx, p.DB, now, p.LeaseDuration, p.MaxBatch)
	if err != nil {
		return err
	}
	for _, e := range leased {
		p.pollOne(ctx, e, now)
	}
	return nil
}

// PollExports polls exactly the given Exports, regardless of lease state.
// Used by stage workers as the "bootstrap polling" pass after submission
// (spec §4.3 step 6), where the rows were just created and leasing them
// first would only add a round trip.
func (p *Poller) PollExports(ctx context.Context, exports []*types.Export) {
	now := p.Clock.Now()
	for _, e := range exports {
		p.pollOne(ctx, e, now)
	}
}

func (p *Poller) pollOne(ctx context.Context, e *types.Export, now time.Time) {
	log := p.Log.With("export_id", e.ID, "job_id", e.JobID)

	if e.DeadlineAt != nil && now.After(*e.DeadlineAt) {
		_ = p.Exports.UpdateFields(ctx, p.DB, e.ID, map[string]interface{}{
			"state":       types.ExportTimedOut,
			"lease_until": nil,
		})
		log.Warn("export deadline passed", "deadline_at", e.DeadlineAt)
		return
	}

	status, err := p.Remote.QueryTaskStatus(ctx, derefTaskID(e))
	if err != nil {
		p.backoffReschedule(ctx, e, now, err.Error())
		log.Warn("task status query failed", "error", err)
		return
	}

	state := remotetask.ProjectState(status.RawState)
	updates := map[string]interface{}{
		"state":        state,
		"task_status":  status.RawState,
		"lease_until":  nil,
		"next_check_at": now.Add(time.Duration(e.PollIntervalSec) * time.Second),
	}
	if status.Error != "" {
		updates["error"] = status.Error
	}
	if err := p.Exports.UpdateFields(ctx, p.DB, e.ID, updates); err != nil {
		log.Error("writing polled status failed", "error", err)
		return
	}

	if p.Archive != nil && e.Type == types.ExportTypeTable && state == types.ExportCompleted && e.State != types.ExportCompleted {
		if err := p.Archive.ArchiveCompletedExport(ctx, e.Name, e.Path, now); err != nil {
			log.Error("archiving completed export failed", "error", err)
		}
	}
}

func (p *Poller) backoffReschedule(ctx context.Context, e *types.Export, now time.Time, errMsg string) {
	interval := p.Backoff.next(time.Duration(e.PollIntervalSec) * time.Second)
	_ = p.Exports.UpdateFields(ctx, p.DB, e.ID, map[string]interface{}{
		"attempts":        e.Attempts + 1,
		"poll_interval_sec": int(interval / time.Second),
		"next_check_at":   now.Add(interval),
		"lease_until":     nil,
		"error":           errMsg,
	})
}

func derefTaskID(e *types.Export) string {
	if e.TaskID == nil {
		return ""
	}
	return *e.TaskID
}
