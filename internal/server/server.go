// Package server wires every component together into one running
// process (C13, spec §5's scheduling model: one UDP receive loop, a
// bounded ingest consumer pool, a single heavy-job worker, the HTTP
// server, one retention scheduler). cmd/netwall-flowd stays a thin
// flag/env parser that calls Run with a loaded config.Config.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matnordlund/netwall-flow-analyzer/internal/config"
	"github.com/matnordlund/netwall-flow-analyzer/internal/firewall"
	"github.com/matnordlund/netwall-flow-analyzer/internal/importer"
	"github.com/matnordlund/netwall-flow-analyzer/internal/ingest"
	"github.com/matnordlund/netwall-flow-analyzer/internal/jobs"
	"github.com/matnordlund/netwall-flow-analyzer/internal/logger"
	"github.com/matnordlund/netwall-flow-analyzer/internal/model"
	"github.com/matnordlund/netwall-flow-analyzer/internal/netwallerr"
	"github.com/matnordlund/netwall-flow-analyzer/internal/parser"
	"github.com/matnordlund/netwall-flow-analyzer/internal/query"
	"github.com/matnordlund/netwall-flow-analyzer/internal/retention"
	"github.com/matnordlund/netwall-flow-analyzer/internal/settings"
	"github.com/matnordlund/netwall-flow-analyzer/internal/stats"
	"github.com/matnordlund/netwall-flow-analyzer/internal/storage"
	"github.com/matnordlund/netwall-flow-analyzer/internal/syslogd"
	"github.com/matnordlund/netwall-flow-analyzer/pkg/api"
	"github.com/matnordlund/netwall-flow-analyzer/pkg/api/handlers"
)

// Run opens storage, wires every component, and blocks until ctx (or a
// SIGINT/SIGTERM) is canceled.
func Run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer backend.Close()
	db := backend.ORM()

	reg := prometheus.NewRegistry()
	counters := stats.New(reg)

	firewalls := firewall.NewStore(db)
	endpoints := ingest.NewEndpointResolver(db)
	reconstructor := ingest.NewReconstructor(db)
	batcher := ingest.NewBatcher(db)
	settingsStore := settings.NewStore(db)

	pipeline := &ingest.Pipeline{
		YearMode:      parser.YearMode(cfg.YearMode),
		Batcher:       batcher,
		Reconstructor: reconstructor,
		Endpoints:     endpoints,
		Firewalls:     firewalls,
		Stats:         counters,
	}

	jobMgr := jobs.NewManager(db)
	imp := importer.NewImporter(pipeline, cfg.MaxUploadSize.Int64())
	cleaner := retention.NewCleaner(db, backend, settingsStore)

	jobMgr.Register(model.JobImport, imp.Runner(func(path string) (io.ReadCloser, error) {
		return os.Open(path)
	}))
	jobMgr.Register(model.JobCleanup, cleaner.Runner())
	jobMgr.Register(model.JobPurge, purgeRunner(firewalls))

	if err := jobMgr.RecoverCrashed(ctx); err != nil {
		logger.Error("crash recovery failed", "error", err)
	}

	queryEngine := query.NewEngine(db, firewalls, string(cfg.ClassificationPrecedence))

	deps := &handlers.Deps{
		DB:        db,
		Backend:   backend,
		Firewalls: firewalls,
		Settings:  settingsStore,
		Jobs:      jobMgr,
		Endpoints: endpoints,
		Query:     queryEngine,
		Stats:     counters,
		Importer:  imp,
		UploadDir: cfg.UploadDir,
	}

	go settingsStore.Run(ctx)
	go batcher.Run(ctx)
	go jobMgr.Run(ctx)
	go retention.RunScheduler(ctx, jobMgr)

	receiver := syslogd.NewReceiver(pipeline, counters, cfg.IngestConsumers)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.SyslogHost, cfg.SyslogPort)
		if err := receiver.Run(ctx, addr); err != nil {
			logger.Error("syslog receiver stopped", "error", err)
		}
	}()

	srv := api.NewServer(api.APIConfig{Port: cfg.WebPort}, deps)
	return srv.Start(ctx)
}

// purgeRunner adapts firewall.Store.Purge to the jobs.Runner contract
// (spec §6.1 POST /firewalls/{device_key}/purge, C6).
func purgeRunner(store *firewall.Store) jobs.Runner {
	return func(ctx context.Context, job model.IngestJob, h *jobs.Handle) error {
		if job.DeviceKey == nil {
			return netwallerr.Validation("device_key", "purge job missing device_key")
		}
		if err := store.Purge(ctx, *job.DeviceKey); err != nil {
			return err
		}
		return h.Report(ctx, jobs.Progress{Phase: "storing", Progress: 1})
	}
}
