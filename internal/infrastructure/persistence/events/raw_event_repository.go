// Package events provides the concrete SQL-based implementation of the
// raw event stream repository.
package events

import (
	"context"
	"database/sql"
	"time"

	"github.com/sessionlens/pixeld/internal/domain/events"
	"github.com/sessionlens/pixeld/internal/infrastructure/persistence/database"
	"github.com/sessionlens/pixeld/internal/infrastructure/security"
)

// SQLRawEventRepository is the SQL-based implementation of the RawEventRepository.
type SQLRawEventRepository struct {
	db *database.DB
}

// NewSQLRawEventRepository creates a new instance of the repository.
func NewSQLRawEventRepository(db *database.DB) *SQLRawEventRepository {
	return &SQLRawEventRepository{db: db}
}

// Append saves one event row. A missing ID or CreatedAt is filled in here
// so callers only provide what they observed.
func (r *SQLRawEventRepository) Append(ev *events.StoredEvent) error {
	const query = `
		INSERT INTO pixel_events (id, store, event_type, event_ts, session_id, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	if ev.ID == "" {
		ev.ID = security.GenerateULID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	var sessionID any
	if ev.SessionID != "" {
		sessionID = ev.SessionID
	}

	_, err := r.db.Exec(
		query,
		ev.ID,
		ev.Store,
		ev.EventType,
		ev.EventTS.UTC().Format(time.RFC3339),
		sessionID,
		ev.PayloadJSON,
		ev.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// RecentByStore retrieves events for a store appended at or after the cutoff,
// oldest first, used by cold-start reconciliation. The scan stops when the
// context expires.
func (r *SQLRawEventRepository) RecentByStore(ctx context.Context, store string, since time.Time, limit int) ([]*events.StoredEvent, error) {
	const query = `
		SELECT id, store, event_type, event_ts, session_id, payload_json, created_at
		FROM pixel_events
		WHERE store = ? AND created_at >= ?
		ORDER BY created_at ASC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, store, since.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*events.StoredEvent
	for rows.Next() {
		ev, err := r.scanEventFromRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ev)
	}

	return result, rows.Err()
}

// scanEventFromRows is a helper function to scan from sql.Rows into a StoredEvent struct.
func (r *SQLRawEventRepository) scanEventFromRows(rows *sql.Rows) (*events.StoredEvent, error) {
	var ev events.StoredEvent
	var sessionID sql.NullString
	var eventTSStr string
	var createdAtStr string

	err := rows.Scan(
		&ev.ID,
		&ev.Store,
		&ev.EventType,
		&eventTSStr,
		&sessionID,
		&ev.PayloadJSON,
		&createdAtStr,
	)
	if err != nil {
		return nil, err
	}

	if sessionID.Valid {
		ev.SessionID = sessionID.String
	}

	ev.EventTS, err = parseTimestamp(eventTSStr)
	if err != nil {
		return nil, err
	}
	ev.CreatedAt, err = parseTimestamp(createdAtStr)
	if err != nil {
		return nil, err
	}

	return &ev, nil
}

// parseTimestamp parses RFC3339 first, then the SQLite default layout.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02 15:04:05", s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t, nil
}
