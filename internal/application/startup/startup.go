// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sessionlens/pixeld/internal/application/container"
	"github.com/sessionlens/pixeld/internal/infrastructure/caching/cleanup"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/performance"
	"github.com/sessionlens/pixeld/internal/infrastructure/persistence/migrations"
	"github.com/sessionlens/pixeld/internal/infrastructure/persistence/sessions"
	"github.com/sessionlens/pixeld/internal/infrastructure/tenant"
	"github.com/sessionlens/pixeld/internal/presentation/http/server"
	"github.com/sessionlens/pixeld/pkg/config"
	"github.com/gin-gonic/gin"
)

// Initialize performs the complete pipeline startup sequence
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	log.Println("pixeld starting...")

	// Step 1: Initialize observability
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		OutputToFile:    config.LogToFile,
		OutputToConsole: true,
		LogDirectory:    config.LogDirectory,
		JSONFormat:      config.LogJSONFormat,
		IncludeSource:   config.LogIncludeSrc,
		DefaultLevel:    logging.ParseLevel(config.LogDefaultLevel),
		ChannelLevels:   make(map[logging.Channel]slog.Level),
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	perfTracker := performance.NewTracker(nil)
	logger.Startup().Info("Observability initialized - switching to channeled logging")

	// Step 2: Open the event store and run schema migrations
	logger.Startup().Info("Opening event store...")
	db, err := tenant.NewDatabase(logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	logger.Startup().Info("Event store opened", "connection", db.GetConnectionInfo())

	logger.Startup().Info("Running schema migrations...")
	startMigrateTime := time.Now()
	if err := migrations.NewMigrator(db.Conn, logger).Run(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	logger.Startup().Info("Schema migrations complete", "duration", time.Since(startMigrateTime))

	// Step 3: Initialize the multi-store tenant system
	logger.Startup().Info("Initializing store registry...")
	tenantManager := tenant.NewManager(logger)

	stores := tenantManager.GetDetector().KnownStores()
	logger.Startup().Info("Store registry loaded", "stores", len(stores))

	// Step 4: Pre-activate registered stores
	logger.Startup().Info("Starting store pre-activation...")
	if err := tenantManager.PreActivateAllStores(); err != nil {
		return fmt.Errorf("store pre-activation failed: %w", err)
	}
	activeCount := tenantManager.GetActiveStoreCount()
	logger.Startup().Info("Store pre-activation complete", "activeStores", activeCount)

	// Step 5: Create dependency injection container
	logger.Startup().Info("Initializing dependency injection container...")
	appContainer := container.NewContainer(tenantManager, logger, perfTracker)
	logger.Startup().Info("Dependency injection container created with singleton services")

	// Step 6: Start the write-behind ingest worker
	logger.Startup().Info("Starting write-behind ingest worker...")
	appContainer.IngestService.Start()

	// Step 7: Optionally reconcile the live-state index from persisted events
	if config.ReconcileOnBoot {
		logger.Startup().Info("Reconciling live-state index from event store...")
		startReconcileTime := time.Now()
		for _, storeID := range stores {
			if err := appContainer.LiveQueryService.ReconcileStore(ctx, storeID); err != nil {
				logger.Startup().Warn("Live-state reconciliation failed for store",
					"store", storeID, "error", err.Error())
			}
		}
		logger.Startup().Info("Live-state reconciliation complete", "duration", time.Since(startReconcileTime))
	}

	// Step 8: Start background cleanup worker
	logger.Startup().Info("Starting background cleanup worker...")
	startWorkerTime := time.Now()

	cleanupConfig := cleanup.NewConfig()
	aggregateRepo := sessions.NewSQLAggregateRepository(db.Conn)
	cleanupWorker := cleanup.NewWorker(tenantManager.GetCacheManager(), aggregateRepo, perfTracker, cleanupConfig, logger)
	go cleanupWorker.Start(ctx)

	logger.Startup().Info("Background cleanup worker started", "duration", time.Since(startWorkerTime))

	// Step 9: Start HTTP server
	logger.Startup().Info("Starting HTTP server...")
	startServerTime := time.Now()

	port := config.Port
	httpServer := server.New(port, appContainer)

	logger.Startup().Info("HTTP server initialized", "port", port, "duration", time.Since(startServerTime))

	// Step 10: Setup graceful shutdown
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.System().Info("Starting HTTP server", "address", ":"+port)
		if err := httpServer.Start(); err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
			serverErr <- err
		}
	}()

	totalStartupTime := time.Since(start)
	logger.Startup().Info("Application startup complete",
		"totalDuration", totalStartupTime,
		"activeStores", activeCount,
		"port", port)

	// Wait for shutdown signal or a server failure
	select {
	case <-gracefulShutdown:
		logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownStart := time.Now()

	// Stop accepting new requests first
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	// Drain the write-behind queue before touching the database
	logger.Shutdown().Info("Draining write-behind queue...")
	appContainer.IngestService.Stop()
	logger.Shutdown().Info("Write-behind queue drained")

	// Cancel background tasks
	cancelBackgroundTasks()

	// Close store connections
	logger.Shutdown().Info("Closing store manager...")
	if err := tenantManager.Close(); err != nil {
		logger.Shutdown().Error("Error closing store manager", "error", err.Error())
	} else {
		logger.Shutdown().Info("Store manager closed successfully")
	}

	elapsed := time.Since(start)
	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", elapsed,
		"shutdownDuration", time.Since(shutdownStart))

	return nil
}

// setupLogging configures application logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
