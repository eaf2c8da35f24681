package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := Load()

	if cfg.Sync.MaxZeroStockPct != 40 {
		t.Errorf("expected zero stock threshold 40, got %v", cfg.Sync.MaxZeroStockPct)
	}
	if cfg.Sync.MaxCountDeltaPct != 10 {
		t.Errorf("expected count delta threshold 10, got %v", cfg.Sync.MaxCountDeltaPct)
	}
	if cfg.Sync.DiscontinuedThreshold != 3 {
		t.Errorf("expected discontinued threshold 3, got %d", cfg.Sync.DiscontinuedThreshold)
	}
	if cfg.Sync.PricePrecision != 2 {
		t.Errorf("expected price precision 2, got %d", cfg.Sync.PricePrecision)
	}
	if !cfg.Sync.ZeroPriceWarning {
		t.Error("expected zero price warning enabled by default")
	}
	if cfg.Queue.MaxAttempts != 5 {
		t.Errorf("expected max attempts 5, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.BatchDelay != time.Second {
		t.Errorf("expected batch delay 1s, got %v", cfg.Queue.BatchDelay)
	}
	if cfg.Catalog.KeyColumn != "REFERENCIA" {
		t.Errorf("unexpected key column %q", cfg.Catalog.KeyColumn)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SYNC_MAX_ZERO_STOCK_PCT", "25.5")
	t.Setenv("QUEUE_BATCH_SIZE", "7")
	t.Setenv("QUEUE_BATCH_DELAY", "250ms")
	t.Setenv("CATALOG_FORMAT", "html")
	t.Setenv("REDIS_HOST", "cache")

	cfg := Load()

	if cfg.Sync.MaxZeroStockPct != 25.5 {
		t.Errorf("expected 25.5, got %v", cfg.Sync.MaxZeroStockPct)
	}
	if cfg.Queue.BatchSize != 7 {
		t.Errorf("expected batch size 7, got %d", cfg.Queue.BatchSize)
	}
	if cfg.Queue.BatchDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.Queue.BatchDelay)
	}
	if cfg.Catalog.Format != "html" {
		t.Errorf("expected html format, got %q", cfg.Catalog.Format)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.Addr() != "cache:6379" {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SYNC_MAX_ZERO_STOCK_PCT", "140")
	t.Setenv("QUEUE_BATCH_SIZE", "0")

	cfg := Load()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for out of range thresholds")
	}
}
