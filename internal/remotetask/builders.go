package remotetask

import (
	"context"
	"fmt"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/config"
	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/objectstore"
)

// basinCodes returns cfg.BasinCodes with cfg.ExcludeBasinCodes removed. An
// empty BasinCodes list means "every basin the upstream collection knows
// about", which this client can't enumerate on its own, so an empty
// BasinCodes is left as-is and the caller submits one collection-wide task
// instead of one per basin.
func basinCodes(cfg config.StatsExportConfig) []string {
	if len(cfg.ExcludeBasinCodes) == 0 {
		return cfg.BasinCodes
	}
	excluded := make(map[string]bool, len(cfg.ExcludeBasinCodes))
	for _, c := range cfg.ExcludeBasinCodes {
		excluded[c] = true
	}
	out := make([]string, 0, len(cfg.BasinCodes))
	for _, c := range cfg.BasinCodes {
		if !excluded[c] {
			out = append(out, c)
		}
	}
	return out
}

// MonthlyStatsBuilder produces one table-task descriptor per basin (or one
// collection-wide descriptor, if no basin list is configured) summarizing
// the monthly snow statistics table family.
type MonthlyStatsBuilder struct{}

func (MonthlyStatsBuilder) Produce(ctx context.Context, cfg config.StatsExportConfig) ([]RemoteTaskDescriptor, error) {
	return buildBasinDescriptors(cfg, "monthly", cfg.CommonTblPrePrefix+"monthly"), nil
}

// YearlyStatsBuilder is MonthlyStatsBuilder's counterpart for the
// yearly-aggregate table family.
type YearlyStatsBuilder struct{}

func (YearlyStatsBuilder) Produce(ctx context.Context, cfg config.StatsExportConfig) ([]RemoteTaskDescriptor, error) {
	return buildBasinDescriptors(cfg, "yearly", cfg.CommonTblPrePrefix+"yearly"), nil
}

func buildBasinDescriptors(cfg config.StatsExportConfig, bucket, namePrefix string) []RemoteTaskDescriptor {
	codes := basinCodes(cfg)
	if len(codes) == 0 {
		name := namePrefix + ".csv"
		return []RemoteTaskDescriptor{{
			Name:   name,
			Target: string(cfg.ExportTarget),
			Path:   objectstore.JoinKey(cfg.BaseExportPath, bucket, name),
		}}
	}

	descriptors := make([]RemoteTaskDescriptor, 0, len(codes))
	for _, code := range codes {
		name := fmt.Sprintf("%s_%s.csv", namePrefix, code)
		descriptors = append(descriptors, RemoteTaskDescriptor{
			Name:   name,
			Target: string(cfg.ExportTarget),
			Path:   objectstore.JoinKey(cfg.BaseExportPath, bucket, name),
		})
	}
	return descriptors
}
