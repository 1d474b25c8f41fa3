// Package manifest implements the manifest-based change-detection that
// short-circuits the stats stage (spec §4.4 step 1, §6 manifest format).
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/objectstore"
)

type StatsExportMeta struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DateUpdated string `json:"date_updated"`
}

type Metadata struct {
	TargetSystem string            `json:"target_system"`
	StatsExports []StatsExportMeta `json:"stats_exports"`
}

type Source struct {
	ImageCollection string   `json:"image_collection"`
	FirstImage      *string  `json:"first_image"`
	LastImage       *string  `json:"last_image"`
	Images          []string `json:"images"`
}

// Manifest is the small JSON record stored next to a frequency bucket's
// table outputs describing which upstream images produced them (spec §6).
type Manifest struct {
	DateCreated time.Time `json:"date_created"`
	Metadata    Metadata  `json:"metadata"`
	Source      Source    `json:"source"`
}

// Serialize renders m as the RFC-3339-timestamped JSON document in spec §6.
func Serialize(m Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Parse reverses Serialize. parse(serialize(m)) == m for any m (spec §8
// round-trip law).
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest: %w", err)
	}
	return m, nil
}

// SameSource reports whether the current upstream collection's contents
// match what a stored manifest recorded, per spec §9's stated intended
// meaning: element-wise equality of sorted image-name lists plus an
// identical collection path. Equal inputs mean the stats stage can be
// skipped for this bucket.
func SameSource(stored Source, currentCollection string, currentImages []string) bool {
	if stored.ImageCollection != currentCollection {
		return false
	}
	a := slices.Clone(stored.Images)
	b := slices.Clone(currentImages)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// Service reads and writes manifests for named frequency buckets
// ("monthly", "yearly", ...) against the object store at manifestBasePath.
type Service struct {
	Store          objectstore.Store
	ManifestBasePath string
}

func (s *Service) keyFor(bucket string) string {
	return objectstore.JoinKey(s.ManifestBasePath, bucket+"_manifest.json")
}

// Read returns the stored manifest for bucket, or ok=false if none exists
// yet (first run for that bucket).
func (s *Service) Read(ctx context.Context, bucket string) (Manifest, bool, error) {
	key := s.keyFor(bucket)
	exists, err := s.Store.Exists(ctx, key)
	if err != nil {
		return Manifest{}, false, err
	}
	if !exists {
		return Manifest{}, false, nil
	}
	data, err := s.Store.ReadBlob(ctx, key)
	if err != nil {
		return Manifest{}, false, err
	}
	m, err := Parse(data)
	if err != nil {
		return Manifest{}, false, err
	}
	return m, true, nil
}

// Write persists the manifest for bucket (spec §4.4 step 5).
func (s *Service) Write(ctx context.Context, bucket string, m Manifest) error {
	data, err := Serialize(m)
	if err != nil {
		return err
	}
	return s.Store.WriteBlob(ctx, s.keyFor(bucket), data)
}
