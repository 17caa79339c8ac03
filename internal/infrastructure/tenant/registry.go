// Package tenant provides store detection and validation.
package tenant

import (
	"strings"

	"github.com/sessionlens/pixeld/pkg/config"
)

// StoreInfo describes one registered storefront.
type StoreInfo struct {
	StoreID   string   `json:"storeId"`
	HostHints []string `json:"hostHints"`
	Status    string   `json:"status"`
}

// StoreRegistry maps store IDs to their registration info.
type StoreRegistry struct {
	Stores map[string]StoreInfo `json:"stores"`
}

// builtinStores are the storefronts known at build time. New hints come in
// through PIXELS_STORE_HOSTS without a rebuild.
var builtinStores = []StoreInfo{
	{
		StoreID:   "atelier-luxe",
		HostHints: []string{"atelier-luxe", "atelierluxe"},
		Status:    "active",
	},
	{
		StoreID:   "maison-claire",
		HostHints: []string{"maison-claire", "maisonclaire"},
		Status:    "active",
	},
}

// LoadStoreRegistry builds the registry from the built-in stores plus the
// PIXELS_STORE_HOSTS environment override ("hostFragment=storeId,..." pairs).
func LoadStoreRegistry() (*StoreRegistry, error) {
	registry := &StoreRegistry{Stores: make(map[string]StoreInfo)}

	for _, info := range builtinStores {
		registry.Stores[info.StoreID] = info
	}

	for _, pair := range strings.Split(config.StoreHostHints, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		fragment, storeID, ok := strings.Cut(pair, "=")
		fragment = strings.ToLower(strings.TrimSpace(fragment))
		storeID = strings.TrimSpace(storeID)
		if !ok || fragment == "" || storeID == "" {
			continue
		}

		info, exists := registry.Stores[storeID]
		if !exists {
			info = StoreInfo{StoreID: storeID, Status: "active"}
		}
		info.HostHints = append(info.HostHints, fragment)
		registry.Stores[storeID] = info
	}

	return registry, nil
}

// ResolveHost matches a request host against registered host hints.
// Matching is by substring so "checkout.atelier-luxe.com" hits the
// "atelier-luxe" hint.
func (r *StoreRegistry) ResolveHost(host string) (string, bool) {
	host = strings.ToLower(host)
	if host == "" {
		return "", false
	}
	for storeID, info := range r.Stores {
		for _, hint := range info.HostHints {
			if strings.Contains(host, hint) {
				return storeID, true
			}
		}
	}
	return "", false
}
