// Package cleanup provides background worker
package cleanup

import (
	"context"
	"time"

	"github.com/sessionlens/pixeld/internal/domain/session"
	"github.com/sessionlens/pixeld/internal/infrastructure/caching/manager"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/performance"
)

// Worker handles background live-state garbage collection, lazy session
// abandonment, and retirement of expired performance markers.
type Worker struct {
	cache      *manager.Manager
	aggregates session.AggregateRepository
	perf       *performance.Tracker
	config     *Config
	logger     *logging.ChanneledLogger
}

// NewWorker creates a new cleanup worker with injected configuration
func NewWorker(cache *manager.Manager, aggregates session.AggregateRepository, perf *performance.Tracker, config *Config, logger *logging.ChanneledLogger) *Worker {
	return &Worker{
		cache:      cache,
		aggregates: aggregates,
		perf:       perf,
		config:     config,
		logger:     logger,
	}
}

// Start begins the cleanup worker routine, using the configured interval
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.CleanupInterval)
	defer ticker.Stop()

	w.logger.System().Info("Cleanup worker started",
		"interval", w.config.CleanupInterval,
		"liveGCWindow", w.config.LiveGCWindow,
		"sessionIdleGap", w.config.SessionIdleGap)

	for {
		select {
		case <-ctx.Done():
			w.logger.Shutdown().Info("Cleanup worker stopping")
			return
		case <-ticker.C:
			w.performCleanup(ctx)
		}
	}
}

// performCleanup executes cleanup for all known stores
func (w *Worker) performCleanup(ctx context.Context) {
	start := time.Now()
	now := time.Now().UTC()

	var swept, abandoned int64
	for _, storeID := range w.cache.StoreIDs() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		swept += int64(w.cache.LiveState().Sweep(storeID, w.config.LiveGCWindow, now))

		n, err := w.aggregates.MarkAbandoned(storeID, now.Add(-w.config.SessionIdleGap))
		if err != nil {
			// Storage being down never stops the in-memory sweep.
			w.logger.Cache().Warn("Abandonment sweep failed", "store", storeID, "error", err.Error())
			continue
		}
		abandoned += n
	}

	markersRetired := 0
	if w.perf != nil {
		markersRetired = w.perf.Cleanup()
	}

	if swept > 0 || abandoned > 0 || markersRetired > 0 {
		w.logger.Cache().Info("Cleanup pass finished",
			"liveEntriesSwept", swept,
			"sessionsAbandoned", abandoned,
			"markersRetired", markersRetired,
			"duration", time.Since(start))
	}
}
