// Package remotetask defines the boundary over the external geospatial
// compute service (spec §2 component 3, §4.1): the projection from its
// open-ended raw status strings into the orchestrator's closed
// ExportState lattice, and the adapter interface the stage workers and
// poller consume. The service itself — and the geospatial algorithms it
// runs — are out of scope.
package remotetask

import "github.com/TeleAmb-upla/observatorio-ipa-go/internal/types"

var rawToState = map[string]types.ExportState{
	"PENDING":          types.ExportRunning,
	"UNKNOWN":          types.ExportRunning,
	"SUBMITTED":        types.ExportRunning,
	"READY":            types.ExportRunning,
	"RUNNING":          types.ExportRunning,
	"STARTED":          types.ExportRunning,
	"NOT_STARTED":      types.ExportCompleted,
	"EXCLUDED":         types.ExportCompleted,
	"COMPLETED":        types.ExportCompleted,
	"CANCELED":         types.ExportCompleted,
	"CANCEL_REQUESTED": types.ExportCompleted,
	"FAILED":           types.ExportFailed,
	"FAILED_TO_CREATE": types.ExportFailed,
	"FAILED_TO_START":  types.ExportFailed,
}

// ProjectState maps a raw remote-task status string onto the orchestrator
// lattice (spec §4.1). Unrecognized strings project to UNKNOWN, a
// non-terminal probe state the poller retries.
func ProjectState(raw string) types.ExportState {
	if s, ok := rawToState[raw]; ok {
		return s
	}
	return types.ExportUnknown
}
