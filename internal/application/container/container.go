// Package container provides dependency injection for all singleton services
package container

import (
	"github.com/sessionlens/pixeld/internal/application/services"
	"github.com/sessionlens/pixeld/internal/infrastructure/caching/manager"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/performance"
	"github.com/sessionlens/pixeld/internal/infrastructure/tenant"
)

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	// Pipeline Services (stateless singletons except the ingest queue)
	GeoIPService       *services.GeoIPService
	ReducerService     *services.ReducerService
	IngestService      *services.IngestService
	LiveQueryService   *services.LiveQueryService
	PixelScriptService *services.PixelScriptService

	// Infrastructure Dependencies
	TenantManager *tenant.Manager
	CacheManager  *manager.Manager
	Logger        *logging.ChanneledLogger
	PerfTracker   *performance.Tracker
}

// NewContainer creates and wires all singleton services
func NewContainer(tenantManager *tenant.Manager, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *Container {
	geoIPService := services.NewGeoIPService(logger)
	reducerService := services.NewReducerService(tenantManager, logger)
	ingestService := services.NewIngestService(tenantManager, geoIPService, reducerService, perfTracker, logger)

	return &Container{
		GeoIPService:       geoIPService,
		ReducerService:     reducerService,
		IngestService:      ingestService,
		LiveQueryService:   services.NewLiveQueryService(tenantManager, perfTracker, logger),
		PixelScriptService: services.NewPixelScriptService(logger),

		// Infrastructure
		TenantManager: tenantManager,
		CacheManager:  tenantManager.GetCacheManager(),
		Logger:        logger,
		PerfTracker:   perfTracker,
	}
}
