package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"catalog-sync/internal/domain"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Format is the encoding of the vendor feed
type Format string

const (
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

// ErrPermanent marks download failures that retrying cannot fix
var ErrPermanent = errors.New("permanent download failure")

// DownloaderConfig configures HTTPDownloader
type DownloaderConfig struct {
	URL         string
	Username    string
	Password    string
	Format      Format
	Layout      Layout
	Timeout     time.Duration
	MaxAttempts int
}

// HTTPDownloader fetches the vendor catalog and parses it into a snapshot
type HTTPDownloader struct {
	cfg     DownloaderConfig
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time
	backoff func() backoff.BackOff
}

// NewHTTPDownloader creates a downloader with exponential retry on transient failures
func NewHTTPDownloader(cfg DownloaderConfig, logger *zap.Logger) *HTTPDownloader {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Format == "" {
		cfg.Format = FormatCSV
	}
	return &HTTPDownloader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
		backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// SnapshotID names a capture as {YYYYMMDD}/catalog_{YYYYMMDD_HHMMSS}.csv
func SnapshotID(at time.Time) string {
	return path.Join(domain.DayKey(at), "catalog_"+at.Format("20060102_150405")+".csv")
}

// Fetch downloads and parses the catalog
func (d *HTTPDownloader) Fetch(ctx context.Context) (*domain.Snapshot, error) {
	body, err := d.download(ctx)
	if err != nil {
		return nil, err
	}

	capturedAt := d.now()
	id := SnapshotID(capturedAt)

	switch d.cfg.Format {
	case FormatHTML:
		return ParseHTML(bytes.NewReader(body), d.cfg.Layout, id, capturedAt)
	default:
		return ParseCSV(bytes.NewReader(body), d.cfg.Layout, id, capturedAt)
	}
}

func (d *HTTPDownloader) download(ctx context.Context) ([]byte, error) {
	b := d.backoff()

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		body, err := d.get(ctx)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, ErrPermanent) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err

		wait := b.NextBackOff()
		if wait == backoff.Stop || attempt == d.cfg.MaxAttempts {
			break
		}

		d.logger.Warn("Catalog download failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("failed to download catalog after %d attempts: %w", d.cfg.MaxAttempts, lastErr)
}

func (d *HTTPDownloader) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	if d.cfg.Username != "" {
		req.SetBasicAuth(d.cfg.Username, d.cfg.Password)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected catalog status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog body: %w", err)
	}
	return body, nil
}
