package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"catalog-sync/internal/catalog"
	"catalog-sync/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var layout = catalog.Layout{KeyColumn: "REFERENCIA", PriceColumn: "PRECIO", StockColumn: "STOCK"}

func newTestStore(now time.Time) (*FileStore, afero.Fs) {
	fs := afero.NewMemMapFs()
	s := NewFileStore(fs, "data", layout)
	s.loc = time.UTC
	s.now = func() time.Time { return now }
	return s, fs
}

func captureAt(t time.Time, keys ...string) *domain.Snapshot {
	snap := &domain.Snapshot{
		ID:         catalog.SnapshotID(t),
		CapturedAt: t,
		Columns:    []string{"REFERENCIA", "PRECIO", "STOCK"},
	}
	for _, k := range keys {
		snap.Records = append(snap.Records, domain.ProductRecord{
			Key:   k,
			Price: decimal.RequireFromString("9.95"),
			Stock: 3,
			Attributes: map[string]string{
				"REFERENCIA": k,
				"PRECIO":     "9.95",
				"STOCK":      "3",
			},
		})
	}
	return snap
}

func TestArchiveAndToday(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	s, fs := newTestStore(now)
	ctx := context.Background()

	_, err := s.Today(ctx)
	require.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, s.Archive(ctx, captureAt(now.Add(-12*time.Hour), "A")))
	require.NoError(t, s.Archive(ctx, captureAt(now.Add(-time.Hour), "A", "B")))

	exists, err := afero.Exists(fs, "data/archive/20260314/catalog_20260314_170000.csv")
	require.NoError(t, err)
	require.True(t, exists)

	today, err := s.Today(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, today.Len(), "the latest capture of the day wins")
	require.True(t, now.Add(-time.Hour).Equal(today.CapturedAt))
	require.True(t, today.Records[1].Price.Equal(decimal.RequireFromString("9.95")))
}

func TestPreviousFollowsSentinel(t *testing.T) {
	now := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	s, _ := newTestStore(now)
	ctx := context.Background()

	_, err := s.Previous(ctx)
	require.ErrorIs(t, err, ErrNoSnapshot)

	old := captureAt(now.AddDate(0, 0, -2), "A")
	require.NoError(t, s.Archive(ctx, old))
	require.NoError(t, s.MarkSuccessful(ctx, old))
	require.NoError(t, s.Archive(ctx, captureAt(now.AddDate(0, 0, -1), "A", "B")))

	prev, err := s.Previous(ctx)
	require.NoError(t, err)
	require.Equal(t, old.ID, prev.ID)
	require.Equal(t, 1, prev.Len())
}

func TestMarkSuccessfulRequiresArchive(t *testing.T) {
	s, _ := newTestStore(time.Now())
	err := s.MarkSuccessful(context.Background(), captureAt(time.Now(), "A"))
	require.True(t, errors.Is(err, ErrNoSnapshot))
}

func TestWindowPicksLatestPerDayBeforeCutoff(t *testing.T) {
	now := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	s, _ := newTestStore(now)
	ctx := context.Background()

	for d := 5; d >= 1; d-- {
		day := now.AddDate(0, 0, -d)
		require.NoError(t, s.Archive(ctx, captureAt(day, "A")))
		require.NoError(t, s.Archive(ctx, captureAt(day.Add(time.Hour), "A", "B")))
	}
	require.NoError(t, s.Archive(ctx, captureAt(now, "today")))

	window, err := s.Window(ctx, 3, now)
	require.NoError(t, err)
	require.Len(t, window, 3)
	require.Equal(t, "20260311", window[0].Day())
	require.Equal(t, "20260313", window[2].Day())
	for _, snap := range window {
		require.Equal(t, 2, snap.Len())
	}

	short, err := s.Window(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, short, 5, "fewer days than requested returns what exists")
}

func TestCleanupKeepsBaselineDay(t *testing.T) {
	now := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	s, fs := newTestStore(now)
	ctx := context.Background()

	baseline := captureAt(now.AddDate(0, 0, -40), "A")
	require.NoError(t, s.Archive(ctx, baseline))
	require.NoError(t, s.MarkSuccessful(ctx, baseline))
	require.NoError(t, s.Archive(ctx, captureAt(now.AddDate(0, 0, -35), "A")))
	require.NoError(t, s.Archive(ctx, captureAt(now.AddDate(0, 0, -3), "A")))

	removed, err := s.Cleanup(ctx, 30)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	exists, _ := afero.DirExists(fs, "data/archive/20260202")
	require.True(t, exists, "baseline day must survive")
	exists, _ = afero.DirExists(fs, "data/archive/20260207")
	require.False(t, exists)
}
