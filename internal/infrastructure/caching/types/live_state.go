// Package types defines cache data structures shared across stores
package types

import (
	"sync"
	"time"
)

// LiveEntry is the per-session-key record of the live-state index.
type LiveEntry struct {
	LastEventType   string `json:"lastEventType"`
	LastTimestampMs int64  `json:"lastTimestampMs"`
	CountryCode     string `json:"countryCode,omitempty"`
}

// StoreLiveCache holds one store's live-state index with its own lock so
// stores never contend with each other.
type StoreLiveCache struct {
	Entries     map[string]*LiveEntry
	Mu          sync.RWMutex
	LastUpdated time.Time
}

// LiveSnapshot is the result of a windowed live query.
type LiveSnapshot struct {
	Count       int            `json:"count"`
	ByCountry   map[string]int `json:"byCountry"`
	LastEventMs int64          `json:"lastEventMs"`
}
