package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ilya1470/aces/config"
	"github.com/ilya1470/aces/models"
	"github.com/ilya1470/aces/scraper/aces"
	"github.com/ilya1470/aces/services"
	"github.com/ilya1470/aces/storage"
	"github.com/ilya1470/aces/utils"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	logger := utils.NewLevelLogger(utils.ParseLevel(cfg.LogLevel), os.Stdout, os.Stderr)

	logger.Info("=== ACES forecast ingester starting ===")
	if err := cfg.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			logger.Error("Config: %s", line)
		}
		return 1
	}
	logger.Info("Config: store: %s | location: %s | retry failed: %s | probe rate: %.1f/s",
		cfg.StoreDriver, cfg.LocationTag, cfg.FailedRetry, cfg.ProbeRPS)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.StoreDriver, cfg.DSN(), cfg.UpsertBatchSize)
	if err != nil {
		logger.Error("Failed to open %s store: %v", cfg.StoreDriver, err)
		if cfg.StoreDriver == config.DriverPostgres {
			logger.Error("Make sure Docker is running: docker compose up -d")
		}
		return 1
	}
	defer store.Close()

	opts := services.PipelineOptions{RetryFailed: cfg.FailedRetry == config.RetryFailedAlways}
	if cfg.CSVOutputPath != "" {
		csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath)
		if err != nil {
			logger.Error("Failed to create CSV writer: %v", err)
			return 1
		}
		defer csvWriter.Close()
		opts.Exporter = csvWriter
		logger.Info("Normalized rows will also be written to %s", cfg.CSVOutputPath)
	}

	session, err := aces.NewChromeSession(cfg, logger)
	if err != nil {
		logger.Error("Failed to start browser: %v", err)
		return 1
	}
	defer session.Close()

	if err := session.Login(ctx, aces.Credentials{Username: cfg.Username, Password: cfg.Password}); err != nil {
		logger.Error("Login failed: %v", err)
		return 1
	}

	watcher, err := aces.NewArtifactWatcher(session.DownloadDir(), ".csv", cfg.ClickWait, cfg.ArtifactTimeout, logger)
	if err != nil {
		logger.Error("Failed to prepare download directory: %v", err)
		return 1
	}

	codec := models.NewFilenameCodec(cfg.LocationTag)
	discoverer := aces.NewDiscoverer(session, codec, aces.DiscoveryOptions{
		ListingURL:       cfg.ListingURL(),
		ListingMarker:    aces.ListingMarker(cfg.ListingPath),
		LoadMoreAttempts: cfg.LoadMoreAttempts,
		LoadMoreDelay:    cfg.LoadMoreDelay,
		SettleDelay:      cfg.SettleDelay,
	}, logger)
	cascade := aces.NewCascade(logger, aces.DefaultStrategies(cfg, session, watcher, logger)...)
	logger.Info("Acquisition order: %s", strings.Join(cascade.Strategies(), " → "))

	pipeline := services.NewPipeline(discoverer, cascade, services.NewNormalizer(logger), store, store, opts, logger)
	report, err := pipeline.Run(ctx)
	if err != nil {
		logger.Error("Run aborted: %v", err)
	}

	insightSvc := services.NewInsightService(logger)
	var ledger *models.LedgerInsights
	if records, lerr := store.FetchLedger(ctx); lerr != nil {
		logger.Warn("Failed to read ledger for the report: %v", lerr)
	} else {
		ledger = insightSvc.Generate(records)
	}
	insightSvc.Print(report, ledger)

	if err != nil {
		return 1
	}
	return 0
}
