// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sessionlens/pixeld/internal/application/container"
	"github.com/sessionlens/pixeld/internal/presentation/http/handlers"
	"github.com/sessionlens/pixeld/internal/presentation/http/middleware"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	// Initialize handlers
	pixelHandlers := handlers.NewPixelHandlers(
		container.IngestService,
		container.LiveQueryService,
		container.PixelScriptService,
		container.Logger,
		container.PerfTracker,
	)
	healthHandlers := handlers.NewHealthHandlers(
		container.TenantManager,
		container.IngestService,
		container.PerfTracker,
	)

	// Pixel surface: agent script, per-platform ingest, live query
	pixels := r.Group("/pixels")
	{
		pixels.GET("/pixel.js", pixelHandlers.GetScript)
		pixels.POST("/:platform", pixelHandlers.PostIngest)
		pixels.GET("/:platform/live", pixelHandlers.GetLive)
	}

	// Liveness and operational status
	r.GET("/health", healthHandlers.GetHealth)
	api := r.Group("/api/v1")
	{
		api.GET("/health", healthHandlers.GetStatus)
	}

	return r
}
