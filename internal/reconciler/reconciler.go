// Package reconciler implements the pure function at the heart of the
// orchestrator (spec §4.2): given a Job's current persisted state, it
// advances per-stage and overall job status with no I/O of its own. It is
// total (every input maps to exactly one output) and idempotent (running
// it twice on the same snapshot produces the same result and, applied
// once, a second application is a no-op).
package reconciler

import (
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"
)

// Input is the snapshot the reconciler reads; it performs no queries of
// its own.
type Input struct {
	Job          *types.Job
	ImageExports []types.Export
	TableExports []types.Export
	Website      *types.WebsiteUpdate
}

// Outcome is the single-write result of one reconciliation pass. Changed
// is false when the Job is already in steady state for this snapshot
// (spec §8: "rerunning it on a steady-state Job yields no writes").
type Outcome struct {
	Job     types.Job
	Changed bool
}

// Reconcile advances job/stage statuses per spec §4.2. It never mutates
// its input; callers persist Outcome.Job's changed fields in one write
// when Outcome.Changed is true.
func Reconcile(in Input) Outcome {
	next := *in.Job
	changed := false

	imageStates := exportStates(in.ImageExports)
	imageNext, imageDiag := reconcileStage(next.ImageExportStatus, imageStates, next.StatsExportStatus == types.StagePending, false)
	if imageNext != next.ImageExportStatus {
		next.ImageExportStatus = imageNext
		changed = true
		if imageDiag != "" {
			next.AppendError(imageDiag)
		}
	}

	if next.ImageExportStatus.Terminal() {
		tableStates := exportStates(in.TableExports)
		statsNext, statsDiag := reconcileStage(next.StatsExportStatus, tableStates, next.WebsiteUpdateStatus == types.StagePending, true)
		if statsNext != next.StatsExportStatus {
			next.StatsExportStatus = statsNext
			changed = true
			if statsDiag != "" {
				next.AppendError(statsDiag)
			}
		}
	}

	if next.StatsExportStatus.Terminal() {
		websiteNext, websiteErr := mirrorWebsite(in.Website)
		if websiteNext != next.WebsiteUpdateStatus {
			next.WebsiteUpdateStatus = websiteNext
			changed = true
			if websiteErr != "" {
				next.AppendError(websiteErr)
			}
		}
	}

	if next.ImageExportStatus.Terminal() && next.StatsExportStatus.Terminal() && next.WebsiteUpdateStatus.Terminal() {
		jobNext := finalizeJobStatus(next.ImageExportStatus, next.StatsExportStatus, next.WebsiteUpdateStatus)
		if jobNext != next.JobStatus {
			next.JobStatus = jobNext
			changed = true
		}
	}

	return Outcome{Job: next, Changed: changed}
}

type states struct {
	empty      bool
	anyRunning bool
	anyFailed  bool
}

func exportStates(exports []types.Export) states {
	s := states{empty: len(exports) == 0}
	for _, e := range exports {
		if e.State == types.ExportRunning {
			s.anyRunning = true
		}
		if e.State == types.ExportFailed {
			s.anyFailed = true
		}
	}
	return s
}

// reconcileStage implements the image-stage rules of spec §4.2 and their
// stats-stage symmetric extension. nextStageNotStarted gates the
// COMPLETED->RUNNING revert case; supportsNotRequired gates the
// NOT_REQUIRED case that only the stats dimension uses.
func reconcileStage(current types.StageStatus, s states, nextStageNotStarted bool, supportsNotRequired bool) (types.StageStatus, string) {
	switch current {
	case types.StagePending:
		if s.empty {
			return current, ""
		}
		return types.StageFailed, "records exist but status was never advanced"

	case types.StageRunning:
		if s.empty {
			return types.StageCompleted, ""
		}
		if !s.anyRunning {
			if s.anyFailed {
				return types.StageFailed, ""
			}
			return types.StageCompleted, ""
		}
		return current, ""

	case types.StageCompleted:
		if s.anyRunning && nextStageNotStarted {
			return types.StageRunning, "a late-arriving task was detected"
		}
		if s.anyFailed {
			return types.StageFailed, "a late failure was detected"
		}
		return current, ""

	case types.StageFailed:
		return current, ""

	case types.StageNotRequired:
		if supportsNotRequired && s.empty {
			return types.StageCompleted, ""
		}
		return current, ""

	default:
		return types.StageFailed, "unknown stage status"
	}
}

// mirrorWebsite mirrors WebsiteUpdate.status into the Job's
// website_update_status (spec §4.2 website stage rules). If no
// WebsiteUpdate row exists yet, the stage is still PENDING.
func mirrorWebsite(wu *types.WebsiteUpdate) (types.StageStatus, string) {
	if wu == nil {
		return types.StagePending, ""
	}
	switch wu.Status {
	case types.WebsiteUpdatePending:
		return types.StagePending, ""
	case types.WebsiteUpdateRunning:
		return types.StageRunning, ""
	case types.WebsiteUpdateCompleted:
		return types.StageCompleted, ""
	case types.WebsiteUpdateFailed:
		msg := ""
		if wu.LastError != nil {
			msg = *wu.LastError
		}
		return types.StageFailed, msg
	default:
		return types.StageFailed, "unknown website update status"
	}
}

func finalizeJobStatus(image, stats, website types.StageStatus) types.JobStatus {
	if image == types.StageFailed || stats == types.StageFailed || website == types.StageFailed {
		return types.JobFailed
	}
	return types.JobCompleted
}
