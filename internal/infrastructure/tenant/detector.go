package tenant

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/pkg/config"
)

// Detector resolves which store an ingested payload belongs to. Resolution
// trusts the payload only: the document host hint first, then an explicit
// store field, then the configured default. Headers are never consulted.
type Detector struct {
	registry     *StoreRegistry
	defaultStore string
	mu           sync.RWMutex
	logger       *logging.ChanneledLogger
}

// NewDetector creates a new store detector
func NewDetector(logger *logging.ChanneledLogger) (*Detector, error) {
	registry, err := LoadStoreRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load store registry: %w", err)
	}

	return &Detector{
		registry:     registry,
		defaultStore: config.DefaultStore,
		logger:       logger,
	}, nil
}

// DetectStore resolves the store for a payload, auto-registering explicit
// store IDs it has not seen before.
func (d *Detector) DetectStore(storeField, host string) string {
	d.mu.RLock()
	storeID, ok := d.registry.ResolveHost(host)
	d.mu.RUnlock()
	if ok {
		return storeID
	}

	storeField = strings.TrimSpace(storeField)
	if storeField != "" {
		d.mu.RLock()
		_, exists := d.registry.Stores[storeField]
		d.mu.RUnlock()
		if !exists {
			d.registerStore(storeField)
		}
		return storeField
	}

	return d.defaultStore
}

// registerStore adds a previously unseen store to the in-memory registry.
func (d *Detector) registerStore(storeID string) {
	d.mu.Lock()
	d.registry.Stores[storeID] = StoreInfo{
		StoreID: storeID,
		Status:  "active",
	}
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Tenant().Info("Auto-registered store", "store", storeID)
	}
}

// KnownStores returns the IDs of all registered stores.
func (d *Detector) KnownStores() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.registry.Stores))
	for id := range d.registry.Stores {
		ids = append(ids, id)
	}
	return ids
}

// GetStoreStatus returns the current status of a store
func (d *Detector) GetStoreStatus(storeID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if info, exists := d.registry.Stores[storeID]; exists {
		return info.Status
	}
	return "unknown"
}
