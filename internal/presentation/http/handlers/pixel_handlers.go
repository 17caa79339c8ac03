// Package handlers provides HTTP request handlers for the presentation layer.
package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sessionlens/pixeld/internal/application/services"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/performance"
	"github.com/sessionlens/pixeld/pkg/config"
)

// PixelHandlers contains all pixel-related HTTP handlers
type PixelHandlers struct {
	ingestService    *services.IngestService
	liveQueryService *services.LiveQueryService
	scriptService    *services.PixelScriptService
	logger           *logging.ChanneledLogger
	perfTracker      *performance.Tracker
}

// NewPixelHandlers creates pixel handlers with injected dependencies
func NewPixelHandlers(
	ingestService *services.IngestService,
	liveQueryService *services.LiveQueryService,
	scriptService *services.PixelScriptService,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
) *PixelHandlers {
	return &PixelHandlers{
		ingestService:    ingestService,
		liveQueryService: liveQueryService,
		scriptService:    scriptService,
		logger:           logger,
		perfTracker:      perfTracker,
	}
}

// PostIngest handles POST /pixels/:platform - accepts one pixel event
func (h *PixelHandlers) PostIngest(c *gin.Context) {
	platform := c.Param("platform")

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, config.MaxBodyBytes))
	if err != nil {
		h.logger.Ingest().Error("Unreadable ingest body",
			"platform", platform, "error", err.Error())
		h.respondFailure(c, "unreadable request body", err)
		return
	}

	if err := h.ingestService.Ingest(c.Request.Context(), platform, body, c.Request.Header, c.Request.RemoteAddr); err != nil {
		h.respondFailure(c, "invalid event payload", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetLive handles GET /pixels/:platform/live - windowed live-state query
func (h *PixelHandlers) GetLive(c *gin.Context) {
	storeID := c.Query("store")
	if storeID == "" {
		storeID = config.DefaultStore
	}

	windowSeconds, _ := strconv.Atoi(c.Query("windowSeconds"))
	debug := isTruthy(c.Query("debug"))

	result := h.liveQueryService.GetLive(c.Request.Context(), storeID, windowSeconds, debug)
	c.JSON(http.StatusOK, result)
}

// GetScript handles GET /pixels/pixel.js - serves the browser agent
func (h *PixelHandlers) GetScript(c *gin.Context) {
	c.Header("Cache-Control", h.scriptService.CacheControl())
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", h.scriptService.Script())
}

// respondFailure emits the 500 contract; details only appear when the
// debug flag is on.
func (h *PixelHandlers) respondFailure(c *gin.Context, message string, err error) {
	body := gin.H{"success": false, "error": message}
	if config.DebugResponses && err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusInternalServerError, body)
}

func isTruthy(v string) bool {
	return v == "1" || v == "true"
}
