// Package performance provides performance tracking and monitoring capabilities
// for pixel pipeline operations with per-store isolation.
package performance

import (
	"fmt"
	"sync"
	"time"
)

// Tracker manages performance markers and provides metrics aggregation
type Tracker struct {
	markers map[string]*Marker
	mu      sync.RWMutex
	started time.Time
	config  *TrackerConfig
}

// TrackerConfig contains configuration options for the performance tracker
type TrackerConfig struct {
	MaxMarkers      int           `json:"maxMarkers"`      // Maximum number of markers to retain
	RetentionWindow time.Duration `json:"retentionWindow"` // How long completed markers are kept
}

// DefaultTrackerConfig returns a sensible default configuration
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		MaxMarkers:      10000,
		RetentionWindow: 30 * time.Minute,
	}
}

// NewTracker creates a new performance tracker with the given configuration
func NewTracker(config *TrackerConfig) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}

	return &Tracker{
		markers: make(map[string]*Marker),
		started: time.Now(),
		config:  config,
	}
}

// StartOperation creates and tracks a new performance marker for an operation
func (t *Tracker) StartOperation(operation, store string) *Marker {
	marker := &Marker{
		Operation: operation,
		Store:     store,
		StartTime: time.Now(),
		Metadata:  make(map[string]any),
		Success:   true, // Assume success until proven otherwise
	}

	markerID := fmt.Sprintf("%s_%s_%d", store, operation, time.Now().UnixNano())

	t.mu.Lock()
	if len(t.markers) >= t.config.MaxMarkers {
		t.evictOldestLocked()
	}
	t.markers[markerID] = marker
	t.mu.Unlock()

	return marker
}

// OperationStats aggregates durations for a single operation name
type OperationStats struct {
	Operation  string        `json:"operation"`
	Count      int           `json:"count"`
	Failures   int           `json:"failures"`
	TotalTime  time.Duration `json:"totalTime"`
	MaxTime    time.Duration `json:"maxTime"`
	AvgTime    time.Duration `json:"avgTime"`
	LastActive time.Time     `json:"lastActive"`
}

// GetStats returns aggregate stats for completed markers, keyed by operation
func (t *Tracker) GetStats() map[string]*OperationStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := make(map[string]*OperationStats)
	for _, m := range t.markers {
		if !m.Completed {
			continue
		}
		s, ok := stats[m.Operation]
		if !ok {
			s = &OperationStats{Operation: m.Operation}
			stats[m.Operation] = s
		}
		s.Count++
		if !m.Success {
			s.Failures++
		}
		s.TotalTime += m.Duration
		if m.Duration > s.MaxTime {
			s.MaxTime = m.Duration
		}
		if m.EndTime.After(s.LastActive) {
			s.LastActive = m.EndTime
		}
	}

	for _, s := range stats {
		if s.Count > 0 {
			s.AvgTime = s.TotalTime / time.Duration(s.Count)
		}
	}

	return stats
}

// Cleanup discards completed markers older than the retention window
func (t *Tracker) Cleanup() int {
	cutoff := time.Now().Add(-t.config.RetentionWindow)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, m := range t.markers {
		if m.Completed && m.EndTime.Before(cutoff) {
			delete(t.markers, id)
			removed++
		}
	}
	return removed
}

// Uptime reports how long this tracker has been alive
func (t *Tracker) Uptime() time.Duration {
	return time.Since(t.started)
}

// evictOldestLocked drops the oldest completed marker. Caller holds t.mu.
func (t *Tracker) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, m := range t.markers {
		if !m.Completed {
			continue
		}
		if oldestID == "" || m.EndTime.Before(oldest) {
			oldestID = id
			oldest = m.EndTime
		}
	}
	if oldestID != "" {
		delete(t.markers, oldestID)
	}
}
