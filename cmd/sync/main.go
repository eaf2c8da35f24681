package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"catalog-sync/internal/catalog"
	"catalog-sync/internal/config"
	"catalog-sync/internal/database"
	"catalog-sync/internal/logger"
	"catalog-sync/internal/orchestrator"
	"catalog-sync/internal/report"
	"catalog-sync/internal/repository"
	"catalog-sync/internal/snapshot"
	"catalog-sync/internal/validation"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Exit codes
const (
	exitDone    = 0
	exitAborted = 1
	exitSetup   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("sync", pflag.ContinueOnError)
	force := flags.String("force", "", "bypass change detection and enqueue the whole catalog: all, prices or stock")
	flags.Lookup("force").NoOptDefVal = string(orchestrator.ModeAll)
	envFile := flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	migrationsDir := flags.String("migrations", "migrations", "directory holding the SQL migrations")
	if err := flags.Parse(args); err != nil {
		return exitSetup
	}

	mode, err := orchestrator.ParseMode(*force)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitSetup
	}

	// A missing dotenv file is fine; the environment may carry everything
	_ = godotenv.Load(*envFile)

	cfg := config.Load()
	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return exitSetup
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", zap.Error(err))
		return exitSetup
	}
	if cfg.Catalog.URL == "" {
		log.Error("CATALOG_URL is required")
		return exitSetup
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return exitSetup
	}
	defer db.Close()

	if err := database.RunMigrations(db, *migrationsDir, log); err != nil {
		return exitSetup
	}

	layout := catalog.Layout{
		KeyColumn:         cfg.Catalog.KeyColumn,
		PriceColumn:       cfg.Catalog.PriceColumn,
		StockColumn:       cfg.Catalog.StockColumn,
		DescriptionColumn: cfg.Catalog.DescriptionColumn,
	}

	orch := orchestrator.New(orchestrator.Deps{
		Store: snapshot.NewFileStore(afero.NewOsFs(), cfg.Snapshot.Dir, layout),
		Downloader: catalog.NewHTTPDownloader(catalog.DownloaderConfig{
			URL:      cfg.Catalog.URL,
			Username: cfg.Catalog.Username,
			Password: cfg.Catalog.Password,
			Format:   catalog.Format(cfg.Catalog.Format),
			Layout:   layout,
			Timeout:  cfg.Catalog.Timeout,
		}, log),
		Queue:     repository.NewQueueRepository(db, cfg.Queue.MaxAttempts),
		Directory: repository.NewVariantRepository(db),
		Ledger:    repository.NewDiscontinuationRepository(db),
		Runs:      repository.NewRunRepository(db),
		Notifier:  notifier(cfg, log),
	}, orchestrator.Config{
		Validation: validation.Options{
			KeyColumn:        cfg.Catalog.KeyColumn,
			PriceColumn:      cfg.Catalog.PriceColumn,
			StockColumn:      cfg.Catalog.StockColumn,
			ZeroPriceWarning: cfg.Sync.ZeroPriceWarning,
			MaxZeroStockPct:  cfg.Sync.MaxZeroStockPct,
			MaxCountDeltaPct: cfg.Sync.MaxCountDeltaPct,
		},
		PricePrecision:        cfg.Sync.PricePrecision,
		DiscontinuedWindow:    cfg.Sync.DiscontinuedWindow,
		DiscontinuedThreshold: cfg.Sync.DiscontinuedThreshold,
		DescriptionColumn:     cfg.Catalog.DescriptionColumn,
		RetentionDays:         cfg.Snapshot.RetentionDays,
	}, log)

	if _, err := orch.Run(ctx, mode); err != nil {
		return exitAborted
	}
	return exitDone
}

// notifier always logs the report and mails it when SMTP is configured
func notifier(cfg *config.Config, log *zap.Logger) report.Notifier {
	notifiers := report.MultiNotifier{report.NewLogNotifier(log)}
	if cfg.SMTP.Enabled() && cfg.Sync.AlertRecipient != "" {
		notifiers = append(notifiers, report.NewSMTPNotifier(report.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       []string{cfg.Sync.AlertRecipient},
		}))
	}
	return notifiers
}
