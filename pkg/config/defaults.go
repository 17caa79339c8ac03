// Package config provides centralized default values for the pixel pipeline
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration

	// Storage
	DatabasePath     string
	TursoDatabaseURL string
	TursoAuthToken   string

	// Database Pool
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	DBConnMaxIdleMinutes     int

	// Ingest
	MaxBodyBytes    int64
	EventQueueSize  int
	DefaultStore    string
	StoreHostHints  string
	DebugResponses  bool
	ReconcileOnBoot bool

	// Live-state window
	LiveWindowDefaultSeconds int
	LiveWindowMinSeconds     int
	LiveWindowMaxSeconds     int
	LiveGCMultiplier         int

	// GeoIP
	GeoIPTimeout     time.Duration
	GeoIPLookupURL   string
	GeoIPCacheTTL    time.Duration
	GeoIPCacheSize   int
	SessionIdleGap   time.Duration
	PixelVersion     string
	PixelCacheMaxAge int

	// Cleanup Intervals
	CleanupInterval time.Duration

	// Logging
	LogDirectory       string
	LogToFile          bool
	LogJSONFormat      bool
	LogIncludeSrc      bool
	LogDefaultLevel    string
	SlowQueryThreshold time.Duration
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)

	// Storage
	DatabasePath = getEnvString("DATABASE_PATH", "data/pixeld.db")
	TursoDatabaseURL = getEnvString("TURSO_DATABASE_URL", "")
	TursoAuthToken = getEnvString("TURSO_AUTH_TOKEN", "")

	// Database Pool
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	DBConnMaxIdleMinutes = getEnvInt("DB_CONN_MAX_IDLE_MINUTES", 3)

	// Ingest
	MaxBodyBytes = int64(getEnvInt("PIXELS_MAX_BODY_BYTES", 32*1024))
	EventQueueSize = getEnvInt("PIXELS_EVENT_QUEUE_SIZE", 4096)
	DefaultStore = getEnvString("PIXELS_DEFAULT_STORE", "atelier-luxe")
	StoreHostHints = getEnvString("PIXELS_STORE_HOSTS", "")
	DebugResponses = getEnvBool("PIXELS_DEBUG", false)
	ReconcileOnBoot = getEnvBool("PIXELS_RECONCILE_ON_BOOT", false)

	// Live-state window
	LiveWindowDefaultSeconds = getEnvInt("LIVE_WINDOW_DEFAULT_SECONDS", 180)
	LiveWindowMinSeconds = getEnvInt("LIVE_WINDOW_MIN_SECONDS", 30)
	LiveWindowMaxSeconds = getEnvInt("LIVE_WINDOW_MAX_SECONDS", 1800)
	LiveGCMultiplier = getEnvInt("LIVE_GC_MULTIPLIER", 6)

	// GeoIP
	GeoIPTimeout = time.Duration(getEnvInt("PIXELS_GEOIP_TIMEOUT_MS", 1000)) * time.Millisecond
	GeoIPLookupURL = getEnvString("PIXELS_GEOIP_URL", "https://api.country.is")
	GeoIPCacheTTL = time.Duration(getEnvInt("GEOIP_CACHE_TTL_HOURS", 24)) * time.Hour
	GeoIPCacheSize = getEnvInt("GEOIP_CACHE_SIZE", 10000)

	// Sessioning
	SessionIdleGap = time.Duration(getEnvInt("SESSION_IDLE_MINUTES", 30)) * time.Minute

	// Pixel script
	PixelVersion = getEnvString("PIXEL_VERSION", "v1")
	PixelCacheMaxAge = getEnvInt("PIXEL_CACHE_MAX_AGE_SECONDS", 300)

	// Cleanup Intervals
	CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 1*time.Minute)

	// Logging
	LogDirectory = getEnvString("LOG_DIR", "logs")
	LogToFile = getEnvBool("LOG_TO_FILE", false)
	LogJSONFormat = getEnvBool("LOG_JSON", true)
	LogIncludeSrc = getEnvBool("LOG_INCLUDE_SOURCE", false)
	LogDefaultLevel = getEnvString("LOG_LEVEL", "info")
	SlowQueryThreshold = time.Duration(getEnvInt("SLOW_QUERY_THRESHOLD_MS", 100)) * time.Millisecond
}
