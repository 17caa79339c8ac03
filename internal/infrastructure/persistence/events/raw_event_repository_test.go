package events

import (
	"context"
	"errors"
	"testing"
	"time"

	domainEvents "github.com/sessionlens/pixeld/internal/domain/events"
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

	if err := migrations.NewMigrator(db, newQueueTestLogger(t)).Run(); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}
	return db
}

func TestAppendFillsIdentity(t *testing.T) {
	repo := NewSQLRawEventRepository(newTestDB(t))

	ev := &domainEvents.StoredEvent{
		Store:       "shop-a",
		EventType:   "checkout_started",
		EventTS:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SessionID:   "sid-1",
		PayloadJSON: `{"event":"checkout_started"}`,
	}
	if err := repo.Append(ev); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if ev.ID == "" {
		t.Error("append should assign a ULID")
	}
	if ev.CreatedAt.IsZero() {
		t.Error("append should stamp CreatedAt")
	}
}

func TestRecentByStore(t *testing.T) {
	repo := NewSQLRawEventRepository(newTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := []*domainEvents.StoredEvent{
		{Store: "shop-a", EventType: "page_viewed", EventTS: base, CreatedAt: base, PayloadJSON: `{}`},
		{Store: "shop-a", EventType: "checkout_started", EventTS: base.Add(time.Minute), CreatedAt: base.Add(time.Minute), PayloadJSON: `{}`},
		{Store: "shop-a", EventType: "old_event", EventTS: base.Add(-2 * time.Hour), CreatedAt: base.Add(-2 * time.Hour), PayloadJSON: `{}`},
		{Store: "shop-b", EventType: "checkout_started", EventTS: base, CreatedAt: base, PayloadJSON: `{}`},
	}
	for _, ev := range rows {
		if err := repo.Append(ev); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got, err := repo.RecentByStore(context.Background(), "shop-a", base.Add(-time.Hour), 100)
	if err != nil {
		t.Fatalf("recent query failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	// oldest first
	if got[0].EventType != "page_viewed" || got[1].EventType != "checkout_started" {
		t.Errorf("unexpected order: %q, %q", got[0].EventType, got[1].EventType)
	}
	for _, ev := range got {
		if ev.Store != "shop-a" {
			t.Errorf("row from wrong store: %q", ev.Store)
		}
	}

	// limit applies
	limited, err := repo.RecentByStore(context.Background(), "shop-a", base.Add(-time.Hour), 1)
	if err != nil {
		t.Fatalf("limited query failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited rows = %d, want 1", len(limited))
	}
}

func TestRecentByStoreHonorsContext(t *testing.T) {
	repo := NewSQLRawEventRepository(newTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.Append(&domainEvents.StoredEvent{
		Store: "shop-a", EventType: "page_viewed", EventTS: base, CreatedAt: base, PayloadJSON: `{}`,
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := repo.RecentByStore(ctx, "shop-a", base.Add(-time.Hour), 100); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAppendNullableSessionID(t *testing.T) {
	repo := NewSQLRawEventRepository(newTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.Append(&domainEvents.StoredEvent{
		Store: "shop-a", EventType: "page_viewed", EventTS: base, CreatedAt: base, PayloadJSON: `{}`,
	}); err != nil {
		t.Fatalf("append without session failed: %v", err)
	}

	got, err := repo.RecentByStore(context.Background(), "shop-a", base.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %d, want 1", len(got))
	}
	if got[0].SessionID != "" {
		t.Errorf("sessionID = %q, want empty", got[0].SessionID)
	}
}
