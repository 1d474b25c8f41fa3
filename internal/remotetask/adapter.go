package remotetask

import (
	"context"
	"time"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/config"
)

// TaskStatus is what the adapter reports back for one in-flight task.
type TaskStatus struct {
	RawState string
	Error    string
}

// RemoteTaskDescriptor is one unit of submittable work, produced either by
// the image-candidate planner or a StatsExportBuilder.
type RemoteTaskDescriptor struct {
	Name   string
	Target string
	Path   string
}

// ImageExportCandidate is one retained month from the image stage
// worker's planning step (spec §4.3 steps 1-3).
type ImageExportCandidate struct {
	MonthName string
}

// Adapter is the thin boundary over the external geospatial compute
// service: submit a task, query its state. Everything about how tasks are
// actually computed is the service's concern.
type Adapter interface {
	PlanImageExports(ctx context.Context, cfg config.ImageExportConfig, now time.Time) ([]ImageExportCandidate, error)
	SubmitTask(ctx context.Context, descriptor RemoteTaskDescriptor) (taskID string, rawState string, err error)
	QueryTaskStatus(ctx context.Context, taskID string) (TaskStatus, error)
	// CollectionImages lists the current image names in collectionPath, for
	// the manifest comparison of spec §4.4 step 1.
	CollectionImages(ctx context.Context, collectionPath string) ([]string, error)
}

// StatsExportBuilder produces the ordered list of table-task descriptors
// for one statistic family (spec §4.4 step 2). Concrete implementations
// are looked up by bucket name in workers.StatsWorker.Builders, a map
// built in cmd/scheduler/main.go; the bucket list (monthly, yearly) is
// fixed in code and is not read from stats_export configuration.
type StatsExportBuilder interface {
	Produce(ctx context.Context, cfg config.StatsExportConfig) ([]RemoteTaskDescriptor, error)
}
