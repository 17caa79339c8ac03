// Package tenant manages store-specific configuration and context,
// isolating multi-store logic from the rest of the application.
package tenant

import (
	"fmt"
	"sync"

	"github.com/sessionlens/pixeld/internal/infrastructure/caching/manager"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
)

// Manager coordinates store detection and context creation
type Manager struct {
	detector     *Detector
	cacheManager *manager.Manager
	contexts     map[string]*Context
	globalMutex  sync.RWMutex
	logger       *logging.ChanneledLogger
}

// NewManager creates and initializes a new store manager.
func NewManager(logger *logging.ChanneledLogger) *Manager {
	detector, err := NewDetector(logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize store detector: %v", err))
	}

	cacheManager := manager.NewManager(logger)

	return &Manager{
		detector:     detector,
		cacheManager: cacheManager,
		contexts:     make(map[string]*Context),
		logger:       logger,
	}
}

// ResolveStore resolves the store for an ingested payload.
func (m *Manager) ResolveStore(storeField, host string) string {
	return m.detector.DetectStore(storeField, host)
}

// GetContext creates or retrieves a store context
func (m *Manager) GetContext(storeID string) (*Context, error) {
	m.globalMutex.RLock()
	if ctx, exists := m.contexts[storeID]; exists {
		m.globalMutex.RUnlock()
		if ctx.Database != nil && ctx.Database.Conn != nil {
			return ctx, nil
		}
	} else {
		m.globalMutex.RUnlock()
	}

	m.globalMutex.Lock()
	defer m.globalMutex.Unlock()

	if ctx, exists := m.contexts[storeID]; exists {
		if ctx.Database != nil && ctx.Database.Conn != nil {
			return ctx, nil
		}
	}

	return m.createContextLocked(storeID)
}

// createContextLocked creates a new store context. Caller holds globalMutex.
func (m *Manager) createContextLocked(storeID string) (*Context, error) {
	db, err := NewDatabase(m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	m.cacheManager.InitializeStore(storeID)

	ctx := &Context{
		StoreID:      storeID,
		Database:     db,
		Status:       m.detector.GetStoreStatus(storeID),
		CacheManager: m.cacheManager,
	}

	m.contexts[storeID] = ctx

	if m.logger != nil {
		m.logger.Tenant().Info("Store context created",
			"store", storeID, "database", db.GetConnectionInfo())
	}

	return ctx, nil
}

// PreActivateAllStores builds contexts for every registered store during
// startup so the first ingest does not pay the setup cost.
func (m *Manager) PreActivateAllStores() error {
	var failed []string

	for _, storeID := range m.detector.KnownStores() {
		ctx, err := m.GetContext(storeID)
		if err != nil {
			failed = append(failed, storeID)
			continue
		}
		if err := ctx.Database.Conn.Ping(); err != nil {
			failed = append(failed, storeID)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("pre-activation failed for stores: %v", failed)
	}
	return nil
}

// GetActiveStoreCount returns the number of stores with a live context.
func (m *Manager) GetActiveStoreCount() int {
	m.globalMutex.RLock()
	defer m.globalMutex.RUnlock()
	return len(m.contexts)
}

// GetCacheManager returns the cache manager for external access
func (m *Manager) GetCacheManager() *manager.Manager {
	return m.cacheManager
}

// GetDetector returns the detector for external access (needed by startup code)
func (m *Manager) GetDetector() *Detector {
	return m.detector
}

// GetLogger returns the logger for middleware access
func (m *Manager) GetLogger() *logging.ChanneledLogger {
	return m.logger
}

// Close cleans up all store contexts
func (m *Manager) Close() error {
	m.globalMutex.Lock()
	defer m.globalMutex.Unlock()

	for _, ctx := range m.contexts {
		if err := ctx.Close(); err != nil {
			continue
		}
	}

	m.contexts = make(map[string]*Context)
	CloseAllPools()
	return nil
}
