package services

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/pkg/config"
)

//go:embed assets/pixel.js
var pixelAgentSource string

// PixelScriptService serves the browser agent. The script is stamped once
// at construction; per-request work is a byte-slice write.
type PixelScriptService struct {
	stamped []byte
	version string
	maxAge  int
	logger  *logging.ChanneledLogger
}

// NewPixelScriptService stamps the embedded agent with the configured
// version tag.
func NewPixelScriptService(logger *logging.ChanneledLogger) *PixelScriptService {
	stamped := strings.ReplaceAll(pixelAgentSource, "__PIXEL_VERSION__", config.PixelVersion)
	return &PixelScriptService{
		stamped: []byte(stamped),
		version: config.PixelVersion,
		maxAge:  config.PixelCacheMaxAge,
		logger:  logger,
	}
}

// Script returns the stamped agent source.
func (s *PixelScriptService) Script() []byte {
	return s.stamped
}

// Version returns the version tag embedded in the script.
func (s *PixelScriptService) Version() string {
	return s.version
}

// CacheControl returns the cache-control header value for the script route.
func (s *PixelScriptService) CacheControl() string {
	return fmt.Sprintf("public, max-age=%d", s.maxAge)
}
