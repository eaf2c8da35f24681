// Package snapshot archives catalog captures on disk, one directory per day,
// and tracks which capture was the last successful baseline.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"catalog-sync/internal/catalog"
	"catalog-sync/internal/domain"

	"github.com/spf13/afero"
)

var (
	ErrNoSnapshot = errors.New("no snapshot available")
)

const (
	archiveDir   = "archive"
	sentinelFile = "last_successful"
	filePrefix   = "catalog_"
	fileSuffix   = ".csv"
	stampLayout  = "20060102_150405"
)

// FileStore lays snapshots out as {dir}/archive/{YYYYMMDD}/catalog_{YYYYMMDD_HHMMSS}.csv
type FileStore struct {
	fs     afero.Fs
	dir    string
	layout catalog.Layout
	loc    *time.Location
	now    func() time.Time
}

func NewFileStore(fs afero.Fs, dir string, layout catalog.Layout) *FileStore {
	return &FileStore{
		fs:     fs,
		dir:    dir,
		layout: layout,
		loc:    time.Local,
		now:    time.Now,
	}
}

// Today returns the most recent capture archived for the current day
func (s *FileStore) Today(ctx context.Context) (*domain.Snapshot, error) {
	day := domain.DayKey(s.now().In(s.loc))
	files, err := s.files(day)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoSnapshot
	}
	return s.load(path.Join(day, files[len(files)-1]))
}

// Previous returns the last successful baseline
func (s *FileStore) Previous(ctx context.Context) (*domain.Snapshot, error) {
	raw, err := afero.ReadFile(s.fs, s.path(sentinelFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last successful reference: %w", err)
	}

	id := strings.TrimSpace(string(raw))
	if id == "" {
		return nil, ErrNoSnapshot
	}
	snap, err := s.load(id)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("last successful snapshot %s is missing: %w", id, ErrNoSnapshot)
	}
	return snap, err
}

// Window returns the latest capture of each of the last days archived
// days strictly before the given time, oldest first
func (s *FileStore) Window(ctx context.Context, days int, before time.Time) ([]*domain.Snapshot, error) {
	if days <= 0 {
		return nil, nil
	}

	all, err := s.days()
	if err != nil {
		return nil, err
	}

	cutoff := domain.DayKey(before.In(s.loc))
	var picked []string
	for i := len(all) - 1; i >= 0 && len(picked) < days; i-- {
		if all[i] >= cutoff {
			continue
		}
		files, err := s.files(all[i])
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			continue
		}
		picked = append(picked, path.Join(all[i], files[len(files)-1]))
	}

	out := make([]*domain.Snapshot, 0, len(picked))
	for i := len(picked) - 1; i >= 0; i-- {
		snap, err := s.load(picked[i])
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Archive writes the snapshot under its ID
func (s *FileStore) Archive(ctx context.Context, snap *domain.Snapshot) error {
	if snap.ID == "" {
		snap.ID = catalog.SnapshotID(snap.CapturedAt.In(s.loc))
	}

	var buf bytes.Buffer
	if err := catalog.WriteCSV(&buf, snap); err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", snap.ID, err)
	}
	if err := s.fs.MkdirAll(s.path(archiveDir, path.Dir(snap.ID)), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	return s.writeAtomic(s.path(archiveDir, snap.ID), buf.Bytes())
}

// MarkSuccessful makes snap the baseline for the next run's diff
func (s *FileStore) MarkSuccessful(ctx context.Context, snap *domain.Snapshot) error {
	exists, err := afero.Exists(s.fs, s.path(archiveDir, snap.ID))
	if err != nil {
		return fmt.Errorf("failed to check snapshot %s: %w", snap.ID, err)
	}
	if !exists {
		return fmt.Errorf("cannot mark unarchived snapshot %s: %w", snap.ID, ErrNoSnapshot)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return s.writeAtomic(s.path(sentinelFile), []byte(snap.ID+"\n"))
}

// Cleanup removes day directories older than retentionDays. The day holding
// the last successful baseline is always kept.
func (s *FileStore) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	all, err := s.days()
	if err != nil {
		return 0, err
	}

	keep := ""
	if raw, err := afero.ReadFile(s.fs, s.path(sentinelFile)); err == nil {
		keep = path.Dir(strings.TrimSpace(string(raw)))
	}

	cutoff := domain.DayKey(s.now().In(s.loc).AddDate(0, 0, -retentionDays))
	removed := 0
	for _, day := range all {
		if day >= cutoff || day == keep {
			continue
		}
		if err := s.fs.RemoveAll(s.path(archiveDir, day)); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", day, err)
		}
		removed++
	}
	return removed, nil
}

func (s *FileStore) load(id string) (*domain.Snapshot, error) {
	raw, err := afero.ReadFile(s.fs, s.path(archiveDir, id))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", id, err)
	}

	capturedAt, err := s.capturedAt(path.Base(id))
	if err != nil {
		return nil, err
	}

	snap, err := catalog.ParseCSV(bytes.NewReader(raw), s.layout, id, capturedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", id, err)
	}
	return snap, nil
}

func (s *FileStore) capturedAt(name string) (time.Time, error) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	t, err := time.ParseInLocation(stampLayout, stamp, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unexpected snapshot file name %q: %w", name, err)
	}
	return t, nil
}

// days lists archived day directories in ascending order
func (s *FileStore) days() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.path(archiveDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}

	var out []string
	for _, info := range infos {
		if _, err := time.Parse("20060102", info.Name()); info.IsDir() && err == nil {
			out = append(out, info.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// files lists snapshot files of one day in capture order
func (s *FileStore) files(day string) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.path(archiveDir, day))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", day, err)
	}

	var out []string
	for _, info := range infos {
		name := info.Name()
		if !info.IsDir() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *FileStore) writeAtomic(name string, data []byte) error {
	tmp := name + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return nil
}

func (s *FileStore) path(parts ...string) string {
	return path.Join(append([]string{s.dir}, parts...)...)
}
