package tenant

import (
	"testing"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	detector, err := NewDetector(nil)
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}
	return detector
}

func TestResolveHostHints(t *testing.T) {
	registry, err := LoadStoreRegistry()
	if err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}

	tests := []struct {
		name     string
		host     string
		expected string
		matched  bool
	}{
		{"exact hint", "atelier-luxe.com", "atelier-luxe", true},
		{"subdomain", "checkout.atelier-luxe.com", "atelier-luxe", true},
		{"collapsed hint", "www.atelierluxe.shop", "atelier-luxe", true},
		{"case insensitive", "Maison-Claire.COM", "maison-claire", true},
		{"full href", "https://atelier-luxe.com/checkout", "atelier-luxe", true},
		{"unknown host", "example.com", "", false},
		{"empty host", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storeID, ok := registry.ResolveHost(tt.host)
			if ok != tt.matched || storeID != tt.expected {
				t.Errorf("ResolveHost(%q) = (%q, %v), want (%q, %v)", tt.host, storeID, ok, tt.expected, tt.matched)
			}
		})
	}
}

func TestDetectStorePrecedence(t *testing.T) {
	detector := newTestDetector(t)

	// host hint outranks an explicit store field
	if got := detector.DetectStore("maison-claire", "shop.atelier-luxe.com"); got != "atelier-luxe" {
		t.Errorf("DetectStore = %q, host hint should win", got)
	}

	// explicit store field next
	if got := detector.DetectStore("maison-claire", "example.com"); got != "maison-claire" {
		t.Errorf("DetectStore = %q, want maison-claire", got)
	}

	// default store last
	if got := detector.DetectStore("", "example.com"); got != detector.defaultStore {
		t.Errorf("DetectStore = %q, want default %q", got, detector.defaultStore)
	}
	if got := detector.DetectStore("  ", ""); got != detector.defaultStore {
		t.Errorf("DetectStore = %q, want default for blank field", got)
	}
}

func TestDetectStoreAutoRegisters(t *testing.T) {
	detector := newTestDetector(t)

	if status := detector.GetStoreStatus("pop-up-store"); status != "unknown" {
		t.Fatalf("status = %q before first sighting, want unknown", status)
	}

	if got := detector.DetectStore("pop-up-store", ""); got != "pop-up-store" {
		t.Fatalf("DetectStore = %q, want pop-up-store", got)
	}
	if status := detector.GetStoreStatus("pop-up-store"); status != "active" {
		t.Errorf("status = %q after registration, want active", status)
	}

	found := false
	for _, id := range detector.KnownStores() {
		if id == "pop-up-store" {
			found = true
		}
	}
	if !found {
		t.Error("auto-registered store missing from KnownStores")
	}
}
