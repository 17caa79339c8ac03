// Package sessions provides the concrete SQL-based implementations of
// the session domain repositories (ClientSession, Aggregate).
package sessions

import (
	"database/sql"
	"time"

	"github.com/sessionlens/pixeld/internal/domain/session"
	"github.com/sessionlens/pixeld/internal/infrastructure/persistence/database"
)

// SQLClientSessionRepository is the SQL-based implementation of the ClientSessionRepository.
type SQLClientSessionRepository struct {
	db *database.DB
}

// NewSQLClientSessionRepository creates a new instance of the repository.
func NewSQLClientSessionRepository(db *database.DB) *SQLClientSessionRepository {
	return &SQLClientSessionRepository{db: db}
}

// Find retrieves the client session directory entry for (store, clientId).
func (r *SQLClientSessionRepository) Find(store, clientID string) (*session.ClientSession, error) {
	const query = `
		SELECT store, client_id, session_id, last_seen_at
		FROM client_sessions
		WHERE store = ? AND client_id = ?`

	var cs session.ClientSession
	var lastSeenStr string

	err := r.db.QueryRow(query, store, clientID).Scan(
		&cs.Store,
		&cs.ClientID,
		&cs.SessionID,
		&lastSeenStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}

	cs.LastSeenAt, err = parseTimestamp(lastSeenStr)
	if err != nil {
		return nil, err
	}

	return &cs, nil
}

// Upsert writes the directory entry, replacing any previous session binding.
func (r *SQLClientSessionRepository) Upsert(cs *session.ClientSession) error {
	const query = `
		INSERT INTO client_sessions (store, client_id, session_id, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(store, client_id) DO UPDATE SET
			session_id = excluded.session_id,
			last_seen_at = excluded.last_seen_at`

	_, err := r.db.Exec(
		query,
		cs.Store,
		cs.ClientID,
		cs.SessionID,
		cs.LastSeenAt.UTC().Format(time.RFC3339),
	)
	return err
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
