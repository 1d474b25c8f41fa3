// Package archive implements the archive/rollback service (spec §2
// component 8, §4.4 step 4, §6 archive filename contract): it scans a
// sibling archive sub-tree for the most recent dated prior version of a
// published file, archives the current version once a stats Export
// completes successfully (so a later Job's scan has something to find and
// a later rollback has something to restore), and on failure copies the
// archived version back over a partially-published output.
package archive

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/TeleAmb-upla/observatorio-ipa-go/internal/objectstore"
)

// Split divides a file name into its stem and suffix (extension,
// including the leading dot), e.g. "basins.csv" -> ("basins", ".csv").
func Split(name string) (stem, suffix string) {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

// ArchiveName builds the "<stem>_LUYYYYMMDD<suffix>" archive filename
// contract (spec §6) for the given UTC date.
func ArchiveName(stem, suffix string, date time.Time) string {
	return fmt.Sprintf("%s_LU%s%s", stem, date.UTC().Format("20060102"), suffix)
}

var archiveNamePattern = regexp.MustCompile(`_LU(\d{8})`)

type Service struct {
	Store    objectstore.Store
	BasePath string
}

func (s *Service) archiveDir(relPath string) string {
	return objectstore.JoinKey(s.BasePath, "archive", relPath)
}

// ScanForPriorVersion implements spec §4.4 step 4: look for the most
// recent prior archived version of name under relPath. Today's dated copy
// is checked first; if absent, the lexicographically newest match (which,
// given the YYYYMMDD stamp, is also the chronologically newest) is used.
// found=false means no archived version exists yet (FileTransfer
// NO_ARCHIVE).
func (s *Service) ScanForPriorVersion(ctx context.Context, relPath, name string, today time.Time) (archivePath string, found bool, err error) {
	stem, suffix := Split(name)
	dir := s.archiveDir(relPath)

	todayKey := objectstore.JoinKey(dir, ArchiveName(stem, suffix, today))
	exists, err := s.Store.Exists(ctx, todayKey)
	if err != nil {
		return "", false, err
	}
	if exists {
		return todayKey, true, nil
	}

	keys, err := s.Store.ListKeys(ctx, objectstore.JoinKey(dir, stem+"_LU"))
	if err != nil {
		return "", false, err
	}
	var candidates []string
	for _, k := range keys {
		base := path.Base(k)
		if !strings.HasPrefix(base, stem+"_LU") || !strings.HasSuffix(base, suffix) {
			continue
		}
		if !archiveNamePattern.MatchString(base) {
			continue
		}
		candidates = append(candidates, k)
	}
	if len(candidates) == 0 {
		return "", false, nil
	}
	sort.Strings(candidates)
	return candidates[len(candidates)-1], true, nil
}

// ArchiveCurrentVersion copies the just-published blob at sourcePath into
// the archive sub-tree with today's date stamp, so a future Job's scan has
// a prior version to find and a future rollback has something to restore.
func (s *Service) ArchiveCurrentVersion(ctx context.Context, relPath, name, sourcePath string, today time.Time) error {
	stem, suffix := Split(name)
	dstKey := objectstore.JoinKey(s.archiveDir(relPath), ArchiveName(stem, suffix, today))
	return s.Store.CopyBlob(ctx, sourcePath, dstKey)
}

// ArchiveCompletedExport is ArchiveCurrentVersion for a caller, such as the
// poller, that only has the published Export's own path and name and
// doesn't track which frequency bucket produced it: relPath is recovered
// from sourcePath's directory relative to BasePath.
func (s *Service) ArchiveCompletedExport(ctx context.Context, name, sourcePath string, today time.Time) error {
	relPath := strings.TrimPrefix(path.Dir(sourcePath), s.BasePath+"/")
	return s.ArchiveCurrentVersion(ctx, relPath, name, sourcePath, today)
}

// Rollback copies the archived blob at archivePath back over sourcePath,
// overwriting a just-published, possibly partial file (spec §4.4
// Rollback paragraph).
func (s *Service) Rollback(ctx context.Context, archivePath, sourcePath string) error {
	return s.Store.CopyBlob(ctx, archivePath, sourcePath)
}
