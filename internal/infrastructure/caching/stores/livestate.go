// Package stores provides concrete cache store implementations
package stores

import (
	"sync"
	"time"

	"github.com/sessionlens/pixeld/internal/domain/events"
	"github.com/sessionlens/pixeld/internal/infrastructure/caching/types"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
)

// LiveStateStore implements the live-state index with store isolation.
// Each store's map carries its own lock; this store-level lock only guards
// the map of stores.
type LiveStateStore struct {
	storeCaches  map[string]*types.StoreLiveCache
	mu           sync.RWMutex
	gcMultiplier int
	logger       *logging.ChanneledLogger
}

// NewLiveStateStore creates a new live-state store. Entries older than
// window*gcMultiplier are garbage collected during queries and sweeps.
func NewLiveStateStore(gcMultiplier int, logger *logging.ChanneledLogger) *LiveStateStore {
	if gcMultiplier < 1 {
		gcMultiplier = 1
	}
	if logger != nil {
		logger.Cache().Info("Initializing live-state store", "gcMultiplier", gcMultiplier)
	}
	return &LiveStateStore{
		storeCaches:  make(map[string]*types.StoreLiveCache),
		gcMultiplier: gcMultiplier,
		logger:       logger,
	}
}

// InitializeStore creates cache structures for a store
func (ls *LiveStateStore) InitializeStore(storeID string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.storeCaches[storeID] == nil {
		ls.storeCaches[storeID] = &types.StoreLiveCache{
			Entries:     make(map[string]*types.LiveEntry),
			LastUpdated: time.Now().UTC(),
		}
		if ls.logger != nil {
			ls.logger.Cache().Debug("Store live cache initialized", "store", storeID)
		}
	}
}

// GetStoreCache safely retrieves a store's live cache
func (ls *LiveStateStore) GetStoreCache(storeID string) (*types.StoreLiveCache, bool) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	cache, exists := ls.storeCaches[storeID]
	return cache, exists
}

// StoreIDs returns the IDs of all stores with a live cache
func (ls *LiveStateStore) StoreIDs() []string {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	ids := make([]string, 0, len(ls.storeCaches))
	for id := range ls.storeCaches {
		ids = append(ids, id)
	}
	return ids
}

// Track applies one event to the index. A completed checkout removes the
// entry; anything else upserts unless an entry with a newer timestamp is
// already present. An empty incoming country never erases a known one.
func (ls *LiveStateStore) Track(storeID, sessionKey, eventType string, tsMs int64, countryCode string) {
	cache, exists := ls.GetStoreCache(storeID)
	if !exists {
		ls.InitializeStore(storeID)
		cache, _ = ls.GetStoreCache(storeID)
	}

	cache.Mu.Lock()
	defer cache.Mu.Unlock()

	if events.IsCheckoutCompleted(eventType) {
		delete(cache.Entries, sessionKey)
		cache.LastUpdated = time.Now().UTC()
		if ls.logger != nil {
			ls.logger.Cache().Debug("Live entry completed", "store", storeID, "sessionKey", sessionKey)
		}
		return
	}

	existing, found := cache.Entries[sessionKey]
	if found && tsMs < existing.LastTimestampMs {
		return // stale update
	}
	if countryCode == "" && found {
		countryCode = existing.CountryCode
	}

	cache.Entries[sessionKey] = &types.LiveEntry{
		LastEventType:   eventType,
		LastTimestampMs: tsMs,
		CountryCode:     countryCode,
	}
	cache.LastUpdated = time.Now().UTC()
}

// Remove deletes a session key from a store's index.
func (ls *LiveStateStore) Remove(storeID, sessionKey string) {
	cache, exists := ls.GetStoreCache(storeID)
	if !exists {
		return
	}
	cache.Mu.Lock()
	defer cache.Mu.Unlock()
	delete(cache.Entries, sessionKey)
}

// QueryLive computes the live snapshot for a store over the trailing window.
// Entries older than window*gcMultiplier are garbage collected in the same
// pass; the snapshot counts entries within the window only.
func (ls *LiveStateStore) QueryLive(storeID string, windowSeconds int, now time.Time) *types.LiveSnapshot {
	snapshot := &types.LiveSnapshot{ByCountry: make(map[string]int)}

	cache, exists := ls.GetStoreCache(storeID)
	if !exists {
		return snapshot
	}

	nowMs := now.UnixMilli()
	windowMs := int64(windowSeconds) * 1000
	cutoffMs := nowMs - windowMs
	gcCutoffMs := nowMs - windowMs*int64(ls.gcMultiplier)

	cache.Mu.Lock()
	defer cache.Mu.Unlock()

	for key, entry := range cache.Entries {
		if entry.LastTimestampMs < gcCutoffMs {
			delete(cache.Entries, key)
			continue
		}
		if entry.LastTimestampMs > snapshot.LastEventMs {
			snapshot.LastEventMs = entry.LastTimestampMs
		}
		if entry.LastTimestampMs < cutoffMs {
			continue
		}
		if events.IsCheckoutCompleted(entry.LastEventType) {
			continue
		}
		snapshot.Count++
		if entry.CountryCode != "" {
			snapshot.ByCountry[entry.CountryCode]++
		}
	}

	return snapshot
}

// Sweep garbage collects one store's index against the given GC window and
// returns the number of entries removed.
func (ls *LiveStateStore) Sweep(storeID string, gcWindow time.Duration, now time.Time) int {
	cache, exists := ls.GetStoreCache(storeID)
	if !exists {
		return 0
	}

	gcCutoffMs := now.Add(-gcWindow).UnixMilli()

	cache.Mu.Lock()
	defer cache.Mu.Unlock()

	removed := 0
	for key, entry := range cache.Entries {
		if entry.LastTimestampMs < gcCutoffMs {
			delete(cache.Entries, key)
			removed++
		}
	}
	return removed
}

// EntryCount returns the number of live entries for a store.
func (ls *LiveStateStore) EntryCount(storeID string) int {
	cache, exists := ls.GetStoreCache(storeID)
	if !exists {
		return 0
	}
	cache.Mu.RLock()
	defer cache.Mu.RUnlock()
	return len(cache.Entries)
}

// Peek returns a copy of one live entry, primarily for tests and debugging.
func (ls *LiveStateStore) Peek(storeID, sessionKey string) (types.LiveEntry, bool) {
	cache, exists := ls.GetStoreCache(storeID)
	if !exists {
		return types.LiveEntry{}, false
	}
	cache.Mu.RLock()
	defer cache.Mu.RUnlock()
	entry, found := cache.Entries[sessionKey]
	if !found {
		return types.LiveEntry{}, false
	}
	return *entry, true
}
