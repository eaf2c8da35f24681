package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

func newTestDownloader(url string, format Format) *HTTPDownloader {
	d := NewHTTPDownloader(DownloaderConfig{
		URL:         url,
		Username:    "shop",
		Password:    "secret",
		Format:      format,
		Layout:      testLayout,
		Timeout:     time.Second,
		MaxAttempts: 3,
	}, zap.NewNop())
	d.now = func() time.Time { return capturedAt }
	d.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return d
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "shop" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("REFERENCIA,PRECIO,STOCK\nA1,10.00,5\n"))
	}))
	defer server.Close()

	snap, err := newTestDownloader(server.URL, FormatCSV).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if snap.Len() != 1 || snap.Records[0].Key != "A1" {
		t.Errorf("unexpected snapshot %+v", snap.Records)
	}
	if snap.ID != "20260314/catalog_20260314_063000.csv" {
		t.Errorf("unexpected snapshot id %q", snap.ID)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestDownloader(server.URL, FormatCSV).Fetch(context.Background())
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestDownloader(server.URL, FormatHTML).Fetch(context.Background())
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestFetchHTMLFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<table><tr><td>REFERENCIA</td><td>PRECIO</td><td>STOCK</td></tr>` +
			`<tr><td>B7</td><td>4,99 €</td><td>12</td></tr></table>`))
	}))
	defer server.Close()

	snap, err := newTestDownloader(server.URL, FormatHTML).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if snap.Len() != 1 || snap.Records[0].Price.String() != "4.99" {
		t.Errorf("unexpected snapshot %+v", snap.Records)
	}
}
