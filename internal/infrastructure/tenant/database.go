// Package tenant provides database abstraction for multi-store support.
package tenant

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/internal/infrastructure/persistence/database"
	"github.com/sessionlens/pixeld/pkg/config"
)

var (
	connectionPools = make(map[string]*database.DB)
	poolMutex       = &sync.RWMutex{}
)

// Database wraps the shared event database. All stores write to one pool;
// isolation is by the store column, not by separate files.
type Database struct {
	Conn     *database.DB
	UseTurso bool
	isPooled bool
}

// NewDatabase opens (or reuses) the event database connection. Turso is
// preferred when configured; otherwise a local SQLite file is created under
// the configured path. A nil logger skips connection logging.
func NewDatabase(logger *logging.ChanneledLogger) (*Database, error) {
	poolKey := getPoolKey()

	poolMutex.Lock()
	defer poolMutex.Unlock()

	if pooledConn, exists := connectionPools[poolKey]; exists {
		if err := pooledConn.Ping(); err == nil {
			return &Database{
				Conn:     pooledConn,
				UseTurso: config.TursoDatabaseURL != "",
				isPooled: true,
			}, nil
		}
		pooledConn.Close()
		delete(connectionPools, poolKey)
	}

	var conn *database.DB
	var err error
	var useTurso bool

	if config.TursoDatabaseURL != "" && config.TursoAuthToken != "" {
		// Check reachability on a throwaway connection first so a bad URL
		// or token fails with a clear error instead of poisoning the pool.
		if err := database.TestTursoConnection(config.TursoDatabaseURL, config.TursoAuthToken); err != nil {
			return nil, fmt.Errorf("turso unreachable: %w", err)
		}

		connStr := config.TursoDatabaseURL + "?authToken=" + config.TursoAuthToken
		conn, err = openConnection("libsql", connStr, logger)
		if err != nil {
			return nil, fmt.Errorf("turso connection failed: %w", err)
		}
		useTurso = true
	} else {
		dbDir := filepath.Dir(config.DatabasePath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}

		conn, err = openConnection("sqlite3", config.DatabasePath, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite connection failed: %w", err)
		}
		useTurso = false
	}

	conn.SetMaxOpenConns(config.DBMaxOpenConns)
	conn.SetMaxIdleConns(config.DBMaxIdleConns)
	conn.SetConnMaxLifetime(time.Duration(config.DBConnMaxLifetimeMinutes) * time.Minute)
	conn.SetConnMaxIdleTime(time.Duration(config.DBConnMaxIdleMinutes) * time.Minute)

	connectionPools[poolKey] = conn

	return &Database{
		Conn:     conn,
		UseTurso: useTurso,
		isPooled: true,
	}, nil
}

func openConnection(driver, dsn string, logger *logging.ChanneledLogger) (*database.DB, error) {
	if logger != nil {
		return database.NewConnectionWithLogger(driver, dsn, logger)
	}
	return database.NewConnection(driver, dsn)
}

func getPoolKey() string {
	if config.TursoDatabaseURL != "" {
		return fmt.Sprintf("turso:%s", config.TursoDatabaseURL)
	}
	return fmt.Sprintf("sqlite:%s", config.DatabasePath)
}

func (db *Database) Close() error {
	if db.isPooled {
		return nil
	}
	if db.Conn != nil {
		return db.Conn.Close()
	}
	return nil
}

// GetConnectionInfo returns a description of the connection for logging.
func (db *Database) GetConnectionInfo() string {
	poolStatus := ""
	if db.isPooled {
		poolStatus = " (pooled)"
	}
	if db.UseTurso {
		return "Turso" + poolStatus
	}
	return "SQLite" + poolStatus
}

// GetPoolStats reports pool health for the status endpoint.
func GetPoolStats() map[string]int {
	poolMutex.RLock()
	defer poolMutex.RUnlock()

	stats := make(map[string]int)
	stats["total"] = len(connectionPools)
	active := 0
	for _, conn := range connectionPools {
		if conn.Ping() == nil {
			active++
		}
	}
	stats["active"] = active
	return stats
}

// CloseAllPools closes every pooled connection; used at shutdown.
func CloseAllPools() {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	for key, conn := range connectionPools {
		conn.Close()
		delete(connectionPools, key)
	}
}
