package sessions

import (
	"testing"
	"time"

	"github.com/sessionlens/pixeld/internal/domain/session"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/internal/infrastructure/persistence/database"
	"github.com/sessionlens/pixeld/internal/infrastructure/persistence/migrations"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewConnection("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		OutputToConsole: false,
		JSONFormat:      true,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	if err := migrations.NewMigrator(db, logger).Run(); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}
	return db
}

func tp(t time.Time) *time.Time { return &t }

func TestAggregateRoundtrip(t *testing.T) {
	repo := NewSQLAggregateRepository(newTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	missing, err := repo.Find("shop-a", "sid-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for a session never written")
	}

	agg := session.NewAggregate("shop-a", "sid-1", base)
	agg.AtcAt = tp(base.Add(time.Minute))
	agg.LastCheckoutToken = "tok-1"
	agg.LastCountryCode = "US"
	agg.LastCampaignJSON = `{"utm_source":"newsletter"}`
	if err := repo.Upsert(agg); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := repo.Find("shop-a", "sid-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected aggregate after upsert")
	}
	if !got.StartedAt.Equal(base) || !got.LastEventAt.Equal(base) {
		t.Errorf("timestamps: started=%v lastEvent=%v, want both %v", got.StartedAt, got.LastEventAt, base)
	}
	if got.AtcAt == nil || !got.AtcAt.Equal(base.Add(time.Minute)) {
		t.Errorf("atcAt = %v, want %v", got.AtcAt, base.Add(time.Minute))
	}
	if got.LastCheckoutToken != "tok-1" || got.LastCountryCode != "US" {
		t.Errorf("unexpected last fields: %+v", got)
	}
	if got.Status != session.StatusActive || got.AnalysisState != session.AnalysisUnanalyzed {
		t.Errorf("status = %q / %q, want active / unanalyzed", got.Status, got.AnalysisState)
	}
}

func TestUpsertConflictGuards(t *testing.T) {
	repo := NewSQLAggregateRepository(newTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := session.NewAggregate("shop-a", "sid-1", base)
	first.AtcAt = tp(base.Add(time.Minute))
	first.CheckoutAt = tp(base.Add(2 * time.Minute))
	first.LastCheckoutToken = "tok-1"
	if err := repo.Upsert(first); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	// a replayed-looking write with an older atc timestamp and empty fields
	second := session.NewAggregate("shop-a", "sid-1", base.Add(-time.Hour))
	second.LastEventAt = base.Add(time.Hour)
	second.AtcAt = tp(base.Add(-30 * time.Minute))
	second.LastCountryCode = "FR"
	if err := repo.Upsert(second); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	// a late write with a later checkout timestamp and no atc
	third := session.NewAggregate("shop-a", "sid-1", base)
	third.CheckoutAt = tp(base.Add(5 * time.Minute))
	if err := repo.Upsert(third); err != nil {
		t.Fatalf("third upsert failed: %v", err)
	}

	got, err := repo.Find("shop-a", "sid-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}

	// started_at takes the earlier value, last_event_at the later
	if !got.StartedAt.Equal(base.Add(-time.Hour)) {
		t.Errorf("startedAt = %v, want %v", got.StartedAt, base.Add(-time.Hour))
	}
	if !got.LastEventAt.Equal(base.Add(time.Hour)) {
		t.Errorf("lastEventAt = %v, want %v", got.LastEventAt, base.Add(time.Hour))
	}
	// funnel timestamps are earliest-wins at the row level: an out-of-order
	// older value lowers the stored one, a later value never raises it, and
	// NULL never clears it
	if got.AtcAt == nil || !got.AtcAt.Equal(base.Add(-30*time.Minute)) {
		t.Errorf("atcAt = %v, want earlier %v", got.AtcAt, base.Add(-30*time.Minute))
	}
	if got.CheckoutAt == nil || !got.CheckoutAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("checkoutStartedAt = %v, want original %v", got.CheckoutAt, base.Add(2*time.Minute))
	}
	// an absent field never reverts a stored one, a present one overwrites
	if got.LastCheckoutToken != "tok-1" {
		t.Errorf("lastCheckoutToken = %q, want tok-1", got.LastCheckoutToken)
	}
	if got.LastCountryCode != "FR" {
		t.Errorf("lastCountryCode = %q, want FR", got.LastCountryCode)
	}
}

func TestCompletedStatusIsSticky(t *testing.T) {
	repo := NewSQLAggregateRepository(newTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	agg := session.NewAggregate("shop-a", "sid-1", base)
	agg.Status = session.StatusCompleted
	agg.PurchaseAt = tp(base)
	if err := repo.Upsert(agg); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// a late out-of-order event writes active again
	late := session.NewAggregate("shop-a", "sid-1", base.Add(time.Minute))
	if err := repo.Upsert(late); err != nil {
		t.Fatalf("late upsert failed: %v", err)
	}

	got, err := repo.Find("shop-a", "sid-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got.Status != session.StatusCompleted {
		t.Errorf("status = %q, completed must not revert", got.Status)
	}
	if got.PurchaseAt == nil {
		t.Error("purchaseAt must survive the late write")
	}
}

func TestUpsertNeverClobbersAnalysis(t *testing.T) {
	db := newTestDB(t)
	repo := NewSQLAggregateRepository(db)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.Upsert(session.NewAggregate("shop-a", "sid-1", base)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// a downstream consumer marks the session analyzed
	if _, err := db.Exec(
		`UPDATE session_aggregates SET analysis_state = 'analyzed', primary_reason = 'price', confidence = 0.9
		 WHERE store = ? AND session_id = ?`, "shop-a", "sid-1"); err != nil {
		t.Fatalf("analysis update failed: %v", err)
	}

	// the reducer writes again with its own (unanalyzed) view
	if err := repo.Upsert(session.NewAggregate("shop-a", "sid-1", base.Add(time.Minute))); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := repo.Find("shop-a", "sid-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got.AnalysisState != session.AnalysisAnalyzed {
		t.Errorf("analysisState = %q, want analyzed", got.AnalysisState)
	}
	if got.PrimaryReason != "price" || got.Confidence == nil || *got.Confidence != 0.9 {
		t.Errorf("analysis columns clobbered: %+v", got)
	}
}

func TestMarkAbandoned(t *testing.T) {
	repo := NewSQLAggregateRepository(newTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	idle := session.NewAggregate("shop-a", "sid-idle", base.Add(-2*time.Hour))
	fresh := session.NewAggregate("shop-a", "sid-fresh", base.Add(-time.Minute))
	purchased := session.NewAggregate("shop-a", "sid-bought", base.Add(-2*time.Hour))
	purchased.PurchaseAt = tp(base.Add(-2 * time.Hour))
	purchased.Status = session.StatusCompleted
	otherStore := session.NewAggregate("shop-b", "sid-idle", base.Add(-2*time.Hour))

	for _, agg := range []*session.Aggregate{idle, fresh, purchased, otherStore} {
		if err := repo.Upsert(agg); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	n, err := repo.MarkAbandoned("shop-a", base.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("markAbandoned failed: %v", err)
	}
	if n != 1 {
		t.Errorf("transitioned = %d, want 1", n)
	}

	got, _ := repo.Find("shop-a", "sid-idle")
	if got.Status != session.StatusAbandoned {
		t.Errorf("idle session status = %q, want abandoned", got.Status)
	}
	got, _ = repo.Find("shop-a", "sid-fresh")
	if got.Status != session.StatusActive {
		t.Errorf("fresh session status = %q, want active", got.Status)
	}
	got, _ = repo.Find("shop-a", "sid-bought")
	if got.Status != session.StatusCompleted {
		t.Errorf("purchased session status = %q, want completed", got.Status)
	}
	got, _ = repo.Find("shop-b", "sid-idle")
	if got.Status != session.StatusActive {
		t.Errorf("other store session status = %q, want active", got.Status)
	}

	// a second pass finds nothing left to transition
	n, err = repo.MarkAbandoned("shop-a", base.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("second markAbandoned failed: %v", err)
	}
	if n != 0 {
		t.Errorf("second pass transitioned = %d, want 0", n)
	}
}
