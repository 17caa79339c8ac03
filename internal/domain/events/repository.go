package events

import (
	"context"
	"time"
)

// StoredEvent is one appended row of the raw event stream.
type StoredEvent struct {
	ID          string    `json:"id"`
	Store       string    `json:"store"`
	EventType   string    `json:"eventType"`
	EventTS     time.Time `json:"eventTs"`
	SessionID   string    `json:"sessionId,omitempty"`
	PayloadJSON string    `json:"payloadJson"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RawEventRepository defines append-only access to the raw event stream.
// Reads carry a context so reconciliation scans stop at the caller's
// deadline.
type RawEventRepository interface {
	Append(ev *StoredEvent) error
	RecentByStore(ctx context.Context, store string, since time.Time, limit int) ([]*StoredEvent, error)
}
