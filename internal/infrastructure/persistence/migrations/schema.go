// Package migrations builds the persistent schema at boot. Every statement
// is idempotent so the migrator can run on every start against both fresh
// and existing databases.
package migrations

import (
	"fmt"
	"strings"

	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/internal/infrastructure/persistence/database"
)

// Migrator handles the creation and upgrade of the database schema.
type Migrator struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewMigrator creates a new Migrator.
func NewMigrator(db *database.DB, logger *logging.ChanneledLogger) *Migrator {
	return &Migrator{db: db, logger: logger}
}

// Run executes all schema statements in order: tables, additive column
// upgrades, then indexes.
func (m *Migrator) Run() error {
	for _, tableSQL := range tables {
		if _, err := m.db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", tableSQL, err)
		}
	}

	for _, alterSQL := range columnUpgrades {
		if _, err := m.db.Exec(alterSQL); err != nil {
			// SQLite has no ADD COLUMN IF NOT EXISTS; a duplicate column
			// error means the upgrade already ran.
			if isDuplicateColumnErr(err) {
				continue
			}
			return fmt.Errorf("failed to upgrade schema for query [%s]: %w", alterSQL, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := m.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", indexSQL, err)
		}
	}

	m.logger.Database().Info("Schema migration complete", "tables", len(tables), "indexes", len(indexes))
	return nil
}

func isDuplicateColumnErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column")
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS pixel_events (
		id TEXT PRIMARY KEY,
		store TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_ts TIMESTAMP NOT NULL,
		session_id TEXT,
		payload_json TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS client_sessions (
		store TEXT NOT NULL,
		client_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		last_seen_at TIMESTAMP NOT NULL,
		PRIMARY KEY (store, client_id)
	)`,
	`CREATE TABLE IF NOT EXISTS session_aggregates (
		store TEXT NOT NULL,
		session_id TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		last_event_at TIMESTAMP NOT NULL,
		atc_at TIMESTAMP,
		checkout_started_at TIMESTAMP,
		purchase_at TIMESTAMP,
		last_checkout_token TEXT,
		last_checkout_step TEXT,
		last_cart_json TEXT,
		last_device_type TEXT,
		last_country_code TEXT,
		last_product_id TEXT,
		last_variant_id TEXT,
		last_campaign_json TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		analysis_state TEXT NOT NULL DEFAULT 'unanalyzed',
		PRIMARY KEY (store, session_id)
	)`,
}

// columnUpgrades carries columns added after the initial schema shipped.
// Older databases pick them up here; fresh databases error with duplicate
// column, which Run tolerates.
var columnUpgrades = []string{
	`ALTER TABLE pixel_events ADD COLUMN session_id TEXT`,
	`ALTER TABLE session_aggregates ADD COLUMN primary_reason TEXT`,
	`ALTER TABLE session_aggregates ADD COLUMN confidence REAL`,
	`ALTER TABLE session_aggregates ADD COLUMN summary TEXT`,
	`ALTER TABLE session_aggregates ADD COLUMN reasons_json TEXT`,
	`ALTER TABLE session_aggregates ADD COLUMN model TEXT`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_pixel_events_store_created ON pixel_events(store, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_pixel_events_store_session_ts ON pixel_events(store, session_id, event_ts)`,
	`CREATE INDEX IF NOT EXISTS idx_pixel_events_store_type_created ON pixel_events(store, event_type, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_client_sessions_store_seen ON client_sessions(store, last_seen_at)`,
	`CREATE INDEX IF NOT EXISTS idx_session_aggregates_store_status ON session_aggregates(store, status)`,
	`CREATE INDEX IF NOT EXISTS idx_session_aggregates_store_atc ON session_aggregates(store, atc_at)`,
	`CREATE INDEX IF NOT EXISTS idx_session_aggregates_store_purchase ON session_aggregates(store, purchase_at)`,
}
