package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sessionlens/pixeld/internal/application/services"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/performance"
	"github.com/sessionlens/pixeld/internal/infrastructure/tenant"
)

// HealthHandlers contains liveness and status HTTP handlers
type HealthHandlers struct {
	tenantManager *tenant.Manager
	ingestService *services.IngestService
	perfTracker   *performance.Tracker
}

// NewHealthHandlers creates health handlers with injected dependencies
func NewHealthHandlers(tenantManager *tenant.Manager, ingestService *services.IngestService, perfTracker *performance.Tracker) *HealthHandlers {
	return &HealthHandlers{
		tenantManager: tenantManager,
		ingestService: ingestService,
		perfTracker:   perfTracker,
	}
}

// GetHealth handles GET /health - process liveness probe
func (h *HealthHandlers) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": h.perfTracker.Uptime().String(),
	})
}

// GetStatus handles GET /api/v1/health - operational snapshot for dashboards
func (h *HealthHandlers) GetStatus(c *gin.Context) {
	enqueued, processed, dropped, depth := h.ingestService.QueueStats()

	cacheManager := h.tenantManager.GetCacheManager()
	liveState := cacheManager.LiveState()
	liveEntries := make(map[string]int)
	for _, storeID := range liveState.StoreIDs() {
		liveEntries[storeID] = liveState.EntryCount(storeID)
	}

	lastAccessed := make(map[string]string)
	for storeID, at := range cacheManager.LastAccessTimes() {
		lastAccessed[storeID] = at.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"uptime":       h.perfTracker.Uptime().String(),
		"activeStores": h.tenantManager.GetActiveStoreCount(),
		"liveEntries":  liveEntries,
		"lastAccessed": lastAccessed,
		"databasePool": tenant.GetPoolStats(),
		"operations":   h.perfTracker.GetStats(),
		"writeBehind": gin.H{
			"enqueued":  enqueued,
			"processed": processed,
			"dropped":   dropped,
			"depth":     depth,
		},
	})
}
