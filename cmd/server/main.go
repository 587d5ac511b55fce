package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notesync/internal/api"
	"notesync/internal/config"
	"notesync/internal/content"
	"notesync/internal/db"
	"notesync/internal/logger"
	"notesync/internal/metrics"
	"notesync/internal/repository"
	"notesync/internal/repository/memory"
	"notesync/internal/services/collaboration"
	"notesync/internal/telemetry"
)

/*
STARTUP AND SHUTDOWN ORDER

Startup: config, logger, tracing, metrics, store, realtime hub, coordinator
workers, HTTP server.

Shutdown runs in reverse so nothing is lost:
 1. stop accepting HTTP and websocket traffic
 2. drain the coordinator: workers stop, every dirty note is stored
 3. close remaining websocket clients
 4. close the database, flush traces, sync the log
*/

// stores bundles the note and version stores with whatever must be closed.
type stores struct {
	notes    collaboration.NoteStore
	versions collaboration.VersionStore
	close    func() error
}

func openStores(cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store, notes will not survive a restart")
		s := memory.NewStore()
		return &stores{notes: s, versions: s, close: func() error { return nil }}, nil
	}

	database, err := db.NewGorm(cfg, log)
	if err != nil {
		return nil, err
	}
	return &stores{
		notes:    repository.NewNoteRepository(database.DB),
		versions: repository.NewVersionRepository(database.DB),
		close:    database.Close,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogFilePath, cfg.IsProduction())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()
	zl = zl.With(zap.String("env", cfg.AppEnv))

	// Tracing comes first so every later operation is traced.
	traceShutdown := func(context.Context) error { return nil }
	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitJaeger(cfg.JaegerEndpoint, cfg.TraceSampleRatio, zl)
		if err != nil {
			zl.Warn("tracing disabled, jaeger init failed", zap.Error(err))
		} else {
			traceShutdown = shutdown
		}
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceShutdown(ctx); err != nil {
			zl.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(reg)

	st, err := openStores(cfg, zl)
	if err != nil {
		zl.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer func() {
		if err := st.close(); err != nil {
			zl.Warn("failed to close store", zap.Error(err))
		}
	}()

	hub := collaboration.NewHub(zl)
	registry := collaboration.NewRegistry(hub, zl)
	coordinator := collaboration.NewCoordinator(
		st.notes,
		st.versions,
		registry,
		content.NewReconciler(cfg.MaxContentBytes),
		collaboration.Config{
			FlushInterval:  cfg.FlushInterval,
			FlushWorkers:   cfg.FlushWorkers,
			FlushQueueSize: cfg.FlushQueueSize,
			SnapshotEvery:  cfg.SnapshotEvery,
			StoreTimeout:   cfg.StoreTimeout,
		},
		zl,
	)
	coordinator.Start()

	wsHandler := collaboration.NewWebSocketHandler(coordinator, registry, hub, cfg.AllowedOrigins, zl)
	handler := api.NewHandler(coordinator, wsHandler, zl)
	router := api.SetupRoutes(handler, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), cfg.AllowedOrigins, zl)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zl.Info("server listening",
			zap.String("addr", cfg.Addr()),
			zap.String("store", cfg.StoreDriver),
			zap.Duration("flush_interval", cfg.FlushInterval),
			zap.Int64("snapshot_every", cfg.SnapshotEvery),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	zl.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zl.Warn("server forced to shut down", zap.Error(err))
	}
	if err := coordinator.Shutdown(ctx); err != nil {
		zl.Error("some notes could not be stored before exit", zap.Error(err))
	}
	hub.Close()

	zl.Info("shutdown complete")
}
