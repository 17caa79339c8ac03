// Package database opens and wraps the SQL connection backing the event
// store. Both drivers are registered here so callers pick one by name.
package database

import (
	"database/sql"
	"time"

	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// DB embeds *sql.DB so repositories use the standard query surface directly.
type DB struct {
	*sql.DB
}

// NewConnection opens a connection with the named driver and verifies it
// with a ping before handing it back.
func NewConnection(driverName, dataSourceName string) (*DB, error) {
	return open(driverName, dataSourceName)
}

// NewConnectionWithLogger is NewConnection plus database-channel logging.
// The data source name is never logged; Turso DSNs carry the auth token.
func NewConnectionWithLogger(driverName, dataSourceName string, logger *logging.ChanneledLogger) (*DB, error) {
	start := time.Now()
	logger.Database().Debug("Opening event store connection", "driver", driverName)

	db, err := open(driverName, dataSourceName)
	if err != nil {
		logger.Database().Error("Event store connection failed", "driver", driverName, "error", err.Error())
		return nil, err
	}

	elapsed := time.Since(start)
	logger.Database().Info("Event store connection established", "driver", driverName, "duration", elapsed)
	if elapsed > GetSlowQueryThreshold() {
		logger.LogSlowQuery("DATABASE_CONNECTION", elapsed, "system")
	}

	return db, nil
}

func open(driverName, dataSourceName string) (*DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db}, nil
}
