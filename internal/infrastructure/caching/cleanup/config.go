package cleanup

import (
	"time"

	"github.com/sessionlens/pixeld/pkg/config"
)

// Config holds cleanup worker configuration, sourced from the central config package.
type Config struct {
	CleanupInterval time.Duration
	LiveGCWindow    time.Duration
	SessionIdleGap  time.Duration
}

// NewConfig creates a new cleanup configuration by reading values
// from the already-initialized variables in the centralized /pkg/config package.
func NewConfig() *Config {
	return &Config{
		CleanupInterval: config.CleanupInterval,
		LiveGCWindow: time.Duration(config.LiveWindowDefaultSeconds*config.LiveGCMultiplier) *
			time.Second,
		SessionIdleGap: config.SessionIdleGap,
	}
}
