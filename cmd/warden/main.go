package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/seantiz/warden/internal/api"
	"github.com/seantiz/warden/internal/catalog"
	"github.com/seantiz/warden/internal/check"
	"github.com/seantiz/warden/internal/config"
	"github.com/seantiz/warden/internal/engine"
	"github.com/seantiz/warden/internal/report"
	"github.com/seantiz/warden/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("warden: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"max_concurrent", cfg.MaxConcurrent,
		"busy_policy", cfg.BusyPolicy,
		"report_sink", cfg.ReportSink,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	registry := check.NewRegistry()
	check.RegisterBuiltins(registry)

	if cfg.CatalogPath != "" {
		if err := catalog.Seed(context.Background(), cfg.CatalogPath, db, registry, logger); err != nil {
			log.Fatalf("failed to seed catalog: %v", err)
		}
	}

	reporter, closeReporter, err := buildReporter(cfg, logger)
	if err != nil {
		log.Fatalf("failed to configure report sink: %v", err)
	}
	defer closeReporter()

	eng := engine.New(db, registry, reporter, logger, engine.Options{
		MaxConcurrent:  cfg.MaxConcurrent,
		CheckTimeout:   cfg.CheckTimeout,
		JobTimeout:     cfg.JobTimeout,
		AbortThreshold: cfg.AbortThreshold,
		BusyPolicy:     cfg.BusyPolicy,
		ReportRetries:  cfg.ReportRetries,
	})

	// Reconcile jobs left over from a previous process before accepting new
	// work or scheduler firings.
	if err := eng.Recover(context.Background()); err != nil {
		log.Fatalf("failed to recover persisted jobs: %v", err)
	}

	schedCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	scheduler := engine.NewScheduler(db, eng, cfg.TickInterval, logger)
	go scheduler.Run(schedCtx)

	srv := api.NewServer(cfg.ListenAddr, db, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	stopScheduler()
	eng.Wait()
}

// buildReporter picks the report handoff implementation for the configured
// sink. The returned close function releases sink resources on shutdown.
func buildReporter(cfg config.Config, logger *slog.Logger) (report.Handler, func(), error) {
	noop := func() {}
	switch cfg.ReportSink {
	case config.ReportSinkWebhook:
		return report.NewWebhook(cfg.ReportURL), noop, nil
	case config.ReportSinkNATS:
		nc, err := report.NewNATS(cfg.NATSURL, report.DefaultSubject)
		if err != nil {
			return nil, nil, err
		}
		return nc, func() { nc.Close() }, nil
	default:
		return &report.LogHandler{Logger: logger}, noop, nil
	}
}
