package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sessionlens/pixeld/internal/domain/events"
	"github.com/sessionlens/pixeld/internal/domain/session"
	"github.com/sessionlens/pixeld/internal/infrastructure/persistence/database"
	"github.com/sessionlens/pixeld/internal/infrastructure/persistence/migrations"
	"github.com/sessionlens/pixeld/internal/infrastructure/tenant"
)

func newTestContext(t *testing.T) *tenant.Context {
	t.Helper()
	db, err := database.NewConnection("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.NewMigrator(db, newTestLogger(t)).Run(); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}
	return &tenant.Context{
		StoreID:  "shop-a",
		Database: &tenant.Database{Conn: db},
		Status:   "active",
	}
}

func newTestReducer(t *testing.T) *ReducerService {
	t.Helper()
	return &ReducerService{
		idleGap: 30 * time.Minute,
		logger:  newTestLogger(t),
	}
}

func pixelEvent(name string, ts time.Time, payload map[string]any) *events.PixelEvent {
	return &events.PixelEvent{
		Store:     "shop-a",
		Source:    "web",
		Name:      name,
		Timestamp: ts,
		Payload:   payload,
	}
}

func TestResolveSessionRotation(t *testing.T) {
	tenantCtx := newTestContext(t)
	reducer := newTestReducer(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// first event for an unknown client mints a session
	first, err := reducer.resolveSession(tenantCtx, pixelEvent("page_viewed", base, nil), "cid-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if first == "" {
		t.Fatal("expected a fresh session id")
	}

	// a follow-up inside the idle gap keeps the session
	same, err := reducer.resolveSession(tenantCtx, pixelEvent("page_viewed", base.Add(10*time.Minute), nil), "cid-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if same != first {
		t.Errorf("session rotated inside the idle gap: %q -> %q", first, same)
	}

	// a gap beyond the idle threshold rotates
	rotated, err := reducer.resolveSession(tenantCtx, pixelEvent("page_viewed", base.Add(50*time.Minute), nil), "cid-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if rotated == same {
		t.Error("expected a new session after the idle gap")
	}

	// another client gets its own session
	other, err := reducer.resolveSession(tenantCtx, pixelEvent("page_viewed", base, nil), "cid-2")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if other == rotated {
		t.Error("clients must not share sessions")
	}
}

func TestApplyFunnelTransitions(t *testing.T) {
	tenantCtx := newTestContext(t)
	reducer := newTestReducer(t)
	repo := tenantCtx.AggregateRepo()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	steps := []*events.PixelEvent{
		pixelEvent("product_viewed", base, map[string]any{
			"data": map[string]any{"productVariant": map[string]any{
				"id":      "variant-9",
				"product": map[string]any{"id": "product-3"},
			}},
		}),
		pixelEvent("product_added_to_cart", base.Add(time.Minute), map[string]any{
			"data": map[string]any{"cart": map[string]any{"totalQuantity": 2}},
		}),
		pixelEvent("checkout_started", base.Add(2*time.Minute), map[string]any{
			"checkoutToken": "tok-1",
			"data":          map[string]any{"checkout": map[string]any{"step": "contact"}},
		}),
		pixelEvent("payment_info_submitted", base.Add(3*time.Minute), nil),
	}
	for _, ev := range steps {
		if err := reducer.applyToAggregate(tenantCtx, ev, "sid-1"); err != nil {
			t.Fatalf("apply %s failed: %v", ev.Name, err)
		}
	}

	agg, err := repo.Find("shop-a", "sid-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if agg == nil {
		t.Fatal("expected aggregate")
	}
	if agg.LastProductID != "product-3" || agg.LastVariantID != "variant-9" {
		t.Errorf("product ids = (%q, %q)", agg.LastProductID, agg.LastVariantID)
	}
	if agg.AtcAt == nil || !agg.AtcAt.Equal(base.Add(time.Minute)) {
		t.Errorf("atcAt = %v", agg.AtcAt)
	}
	if agg.LastCartJSON == "" {
		t.Error("cart snapshot not recorded")
	}
	if agg.CheckoutAt == nil || !agg.CheckoutAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("checkoutAt = %v", agg.CheckoutAt)
	}
	if agg.LastCheckoutToken != "tok-1" {
		t.Errorf("checkoutToken = %q", agg.LastCheckoutToken)
	}
	if agg.LastCheckoutStep != "payment" {
		t.Errorf("checkoutStep = %q, payment_info_submitted should set it", agg.LastCheckoutStep)
	}
	if agg.Status != session.StatusActive || agg.PurchaseAt != nil {
		t.Errorf("premature completion: status=%q purchaseAt=%v", agg.Status, agg.PurchaseAt)
	}
	if !agg.StartedAt.Equal(base) || !agg.LastEventAt.Equal(base.Add(3*time.Minute)) {
		t.Errorf("window = %v .. %v", agg.StartedAt, agg.LastEventAt)
	}

	// purchase completes the session
	done := pixelEvent("checkout_completed", base.Add(4*time.Minute), nil)
	if err := reducer.applyToAggregate(tenantCtx, done, "sid-1"); err != nil {
		t.Fatalf("apply completion failed: %v", err)
	}
	agg, _ = repo.Find("shop-a", "sid-1")
	if agg.Status != session.StatusCompleted {
		t.Errorf("status = %q, want completed", agg.Status)
	}
	if agg.PurchaseAt == nil || !agg.PurchaseAt.Equal(base.Add(4*time.Minute)) {
		t.Errorf("purchaseAt = %v", agg.PurchaseAt)
	}
}

func TestApplyIsReplaySafe(t *testing.T) {
	tenantCtx := newTestContext(t)
	reducer := newTestReducer(t)
	repo := tenantCtx.AggregateRepo()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stream := []*events.PixelEvent{
		pixelEvent("product_added_to_cart", base, nil),
		pixelEvent("checkout_started", base.Add(time.Minute), map[string]any{"checkoutToken": "tok-1"}),
		pixelEvent("checkout_completed", base.Add(2*time.Minute), nil),
	}

	// apply the stream twice, as a replayed write-behind queue would
	for i := 0; i < 2; i++ {
		for _, ev := range stream {
			if err := reducer.applyToAggregate(tenantCtx, ev, "sid-1"); err != nil {
				t.Fatalf("apply %s (pass %d) failed: %v", ev.Name, i, err)
			}
		}
	}

	agg, err := repo.Find("shop-a", "sid-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if agg.AtcAt == nil || !agg.AtcAt.Equal(base) {
		t.Errorf("atcAt = %v, want first occurrence %v", agg.AtcAt, base)
	}
	if agg.CheckoutAt == nil || !agg.CheckoutAt.Equal(base.Add(time.Minute)) {
		t.Errorf("checkoutAt = %v, want first occurrence", agg.CheckoutAt)
	}
	if agg.PurchaseAt == nil || !agg.PurchaseAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("purchaseAt = %v, want first occurrence", agg.PurchaseAt)
	}
	if agg.Status != session.StatusCompleted {
		t.Errorf("status = %q, want completed", agg.Status)
	}
}

func TestApplyOutOfOrderFunnelKeepsEarliest(t *testing.T) {
	tenantCtx := newTestContext(t)
	reducer := newTestReducer(t)
	repo := tenantCtx.AggregateRepo()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// the later event arrives first; the earlier one must still lower the
	// stored funnel timestamp once it lands
	stream := []*events.PixelEvent{
		pixelEvent("product_added_to_cart", base.Add(10*time.Minute), nil),
		pixelEvent("product_added_to_cart", base, nil),
		pixelEvent("checkout_started", base.Add(15*time.Minute), nil),
		pixelEvent("checkout_started", base.Add(5*time.Minute), nil),
	}
	for _, ev := range stream {
		if err := reducer.applyToAggregate(tenantCtx, ev, "sid-1"); err != nil {
			t.Fatalf("apply %s failed: %v", ev.Name, err)
		}
	}

	agg, err := repo.Find("shop-a", "sid-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if agg.AtcAt == nil || !agg.AtcAt.Equal(base) {
		t.Errorf("atcAt = %v, want earliest %v", agg.AtcAt, base)
	}
	if agg.CheckoutAt == nil || !agg.CheckoutAt.Equal(base.Add(5*time.Minute)) {
		t.Errorf("checkoutAt = %v, want earliest %v", agg.CheckoutAt, base.Add(5*time.Minute))
	}
	if !agg.LastEventAt.Equal(base.Add(15 * time.Minute)) {
		t.Errorf("lastEventAt = %v, want latest", agg.LastEventAt)
	}
}

func TestApplyClaritySignalTouchesOnly(t *testing.T) {
	tenantCtx := newTestContext(t)
	reducer := newTestReducer(t)
	repo := tenantCtx.AggregateRepo()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := reducer.applyToAggregate(tenantCtx, pixelEvent("rage_click", base, nil), "sid-1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	agg, _ := repo.Find("shop-a", "sid-1")
	if agg == nil {
		t.Fatal("clarity signal should still create the aggregate row")
	}
	if agg.AtcAt != nil || agg.CheckoutAt != nil || agg.PurchaseAt != nil {
		t.Errorf("clarity signal moved funnel state: %+v", agg)
	}
	if !agg.LastEventAt.Equal(base) {
		t.Errorf("lastEventAt = %v, want %v", agg.LastEventAt, base)
	}
}

func TestApplyEnrichment(t *testing.T) {
	tenantCtx := newTestContext(t)
	reducer := newTestReducer(t)
	repo := tenantCtx.AggregateRepo()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := pixelEvent("page_viewed", base, map[string]any{
		"utm_source": "newsletter",
		"context": map[string]any{
			"navigator": map[string]any{"userAgent": "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)"},
		},
	})
	ev.Country = "US"
	if err := reducer.applyToAggregate(tenantCtx, ev, "sid-1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	later := pixelEvent("page_viewed", base.Add(time.Minute), map[string]any{"gclid": "g-123"})
	if err := reducer.applyToAggregate(tenantCtx, later, "sid-1"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	agg, _ := repo.Find("shop-a", "sid-1")
	if agg.LastCountryCode != "US" {
		t.Errorf("country = %q, want US", agg.LastCountryCode)
	}
	if agg.LastDeviceType != "mobile" {
		t.Errorf("deviceType = %q, want mobile", agg.LastDeviceType)
	}

	var campaign map[string]string
	if err := json.Unmarshal([]byte(agg.LastCampaignJSON), &campaign); err != nil {
		t.Fatalf("campaign json invalid: %v", err)
	}
	if campaign["utm_source"] != "newsletter" || campaign["gclid"] != "g-123" {
		t.Errorf("campaign params not merged: %v", campaign)
	}
}

func TestMergeCampaignJSON(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		params   map[string]string
		expected map[string]string
	}{
		{
			"fresh",
			"",
			map[string]string{"utm_source": "newsletter"},
			map[string]string{"utm_source": "newsletter"},
		},
		{
			"last write wins per key",
			`{"utm_source":"organic","gclid":"g-1"}`,
			map[string]string{"utm_source": "paid"},
			map[string]string{"utm_source": "paid", "gclid": "g-1"},
		},
		{
			"corrupt blob discarded",
			`{not json`,
			map[string]string{"utm_source": "newsletter"},
			map[string]string{"utm_source": "newsletter"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]string
			if err := json.Unmarshal([]byte(mergeCampaignJSON(tt.existing, tt.params)), &got); err != nil {
				t.Fatalf("merged blob invalid: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("merged = %v, want %v", got, tt.expected)
			}
			for k, v := range tt.expected {
				if got[k] != v {
					t.Errorf("merged[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}
