// Package manager provides centralized cache operations with proper store isolation
package manager

import (
	"sync"
	"time"

	"github.com/sessionlens/pixeld/internal/infrastructure/caching/stores"
	"github.com/sessionlens/pixeld/internal/infrastructure/caching/types"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/pkg/config"
)

// Manager provides centralized cache operations by delegating to specialized stores.
type Manager struct {
	Mu             sync.RWMutex
	LastAccessed   map[string]time.Time
	liveStateStore *stores.LiveStateStore
	logger         *logging.ChanneledLogger
}

func NewManager(logger *logging.ChanneledLogger) *Manager {
	if logger != nil {
		logger.Cache().Info("Initializing cache manager", "stores", []string{"livestate"})
	}

	return &Manager{
		LastAccessed:   make(map[string]time.Time),
		liveStateStore: stores.NewLiveStateStore(config.LiveGCMultiplier, logger),
		logger:         logger,
	}
}

// LiveState returns the live-state store for direct access.
func (m *Manager) LiveState() *stores.LiveStateStore {
	return m.liveStateStore
}

// InitializeStore prepares cache structures for a store.
func (m *Manager) InitializeStore(storeID string) {
	m.liveStateStore.InitializeStore(storeID)
	m.touch(storeID)
}

// Track applies one event to the live-state index.
func (m *Manager) Track(storeID, sessionKey, eventType string, tsMs int64, countryCode string) {
	m.liveStateStore.Track(storeID, sessionKey, eventType, tsMs, countryCode)
	m.touch(storeID)
}

// QueryLive computes the live snapshot for a store over the trailing window.
func (m *Manager) QueryLive(storeID string, windowSeconds int, now time.Time) *types.LiveSnapshot {
	m.touch(storeID)
	return m.liveStateStore.QueryLive(storeID, windowSeconds, now)
}

// StoreIDs returns the IDs of all stores with cache structures.
func (m *Manager) StoreIDs() []string {
	return m.liveStateStore.StoreIDs()
}

// LastAccessTimes returns a copy of each store's most recent cache access,
// surfaced on the status endpoint.
func (m *Manager) LastAccessTimes() map[string]time.Time {
	m.Mu.RLock()
	defer m.Mu.RUnlock()

	times := make(map[string]time.Time, len(m.LastAccessed))
	for storeID, at := range m.LastAccessed {
		times[storeID] = at
	}
	return times
}

func (m *Manager) touch(storeID string) {
	m.Mu.Lock()
	m.LastAccessed[storeID] = time.Now().UTC()
	m.Mu.Unlock()
}
