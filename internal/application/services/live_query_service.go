package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sessionlens/pixeld/internal/domain/events"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/performance"
	"github.com/sessionlens/pixeld/internal/infrastructure/persistence/database"
	"github.com/sessionlens/pixeld/internal/infrastructure/tenant"
	"github.com/sessionlens/pixeld/pkg/config"
)

// replayLimit caps how many persisted rows a debug reconciliation reads.
const replayLimit = 5000

// LiveResult is the response body of the live query.
type LiveResult struct {
	Success       bool           `json:"success"`
	Store         string         `json:"store"`
	Count         int            `json:"count"`
	ByCountry     map[string]int `json:"byCountry"`
	WindowSeconds int            `json:"windowSeconds"`
	UpdatedAt     string         `json:"updatedAt"`
	LastEventAt   string         `json:"lastEventAt,omitempty"`
	Degraded      bool           `json:"degraded,omitempty"`
	MemorySize    int            `json:"memorySize,omitempty"`
}

// LiveQueryService answers windowed live-state queries, optionally
// reconciling an empty index from the raw event store.
type LiveQueryService struct {
	tenantManager *tenant.Manager
	perfTracker   *performance.Tracker
	logger        *logging.ChanneledLogger
}

// NewLiveQueryService creates a new live query service.
func NewLiveQueryService(tenantManager *tenant.Manager, perfTracker *performance.Tracker, logger *logging.ChanneledLogger) *LiveQueryService {
	return &LiveQueryService{
		tenantManager: tenantManager,
		perfTracker:   perfTracker,
		logger:        logger,
	}
}

// ClampWindow bounds a requested window to the allowed range; zero or
// negative requests get the default.
func ClampWindow(windowSeconds int) int {
	if windowSeconds <= 0 {
		return config.LiveWindowDefaultSeconds
	}
	if windowSeconds < config.LiveWindowMinSeconds {
		return config.LiveWindowMinSeconds
	}
	if windowSeconds > config.LiveWindowMaxSeconds {
		return config.LiveWindowMaxSeconds
	}
	return windowSeconds
}

// GetLive computes the live snapshot for a store. With debug set and an
// empty index, it replays recent persisted events through the live update
// rule before recomputing; a failed replay marks the result degraded.
func (s *LiveQueryService) GetLive(ctx context.Context, storeID string, windowSeconds int, debug bool) *LiveResult {
	marker := s.perfTracker.StartOperation("query_live", storeID)
	defer marker.Complete()

	window := ClampWindow(windowSeconds)
	now := time.Now().UTC()
	cacheManager := s.tenantManager.GetCacheManager()

	snapshot := cacheManager.QueryLive(storeID, window, now)

	degraded := false
	if snapshot.Count == 0 && debug {
		if err := s.replayRecent(ctx, storeID, window, now); err != nil {
			degraded = true
			s.logger.Cache().Warn("Live-state reconciliation failed",
				"store", storeID, "error", err.Error())
		} else {
			snapshot = cacheManager.QueryLive(storeID, window, now)
		}
	}

	result := &LiveResult{
		Success:       true,
		Store:         storeID,
		Count:         snapshot.Count,
		ByCountry:     snapshot.ByCountry,
		WindowSeconds: window,
		UpdatedAt:     now.Format(time.RFC3339),
		Degraded:      degraded,
	}
	if snapshot.LastEventMs > 0 {
		result.LastEventAt = time.UnixMilli(snapshot.LastEventMs).UTC().Format(time.RFC3339)
	}
	if debug {
		result.MemorySize = cacheManager.LiveState().EntryCount(storeID)
	}

	marker.SetSuccess(true)
	return result
}

// ReconcileStore rebuilds a store's live-state index from the raw event
// store, used at boot when the index starts empty.
func (s *LiveQueryService) ReconcileStore(ctx context.Context, storeID string) error {
	window := ClampWindow(config.LiveWindowMaxSeconds)
	return s.replayRecent(ctx, storeID, window, time.Now().UTC())
}

// replayRecent feeds recent persisted events back through the live update
// rule. Reducer state is never touched here. The persisted read honors the
// caller's deadline so a slow store cannot pin the request.
func (s *LiveQueryService) replayRecent(ctx context.Context, storeID string, windowSeconds int, now time.Time) error {
	tenantCtx, err := s.tenantManager.GetContext(storeID)
	if err != nil {
		return err
	}

	since := now.Add(-time.Duration(windowSeconds) * time.Second)
	readStart := time.Now()
	rows, err := tenantCtx.RawEventRepo().RecentByStore(ctx, storeID, since, replayLimit)
	database.CheckAndLogSlowQuery(s.logger, "RAW_EVENTS_RECENT", time.Since(readStart), storeID)
	if err != nil {
		return err
	}

	cacheManager := s.tenantManager.GetCacheManager()
	replayed := 0
	for _, row := range rows {
		name := events.NormalizeName(row.EventType)
		if !events.IsCheckoutRelated(name) {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(row.PayloadJSON), &payload); err != nil {
			continue // one bad row never stops the replay
		}
		sessionKey := events.SessionKey(payload)
		if sessionKey == "" {
			continue
		}

		country := events.CountryFromPayload(payload)
		cacheManager.Track(storeID, sessionKey, name, row.EventTS.UnixMilli(), country)
		replayed++
	}

	s.logger.Cache().Info("Live-state reconciliation replayed events",
		"store", storeID, "rows", len(rows), "applied", replayed)
	return nil
}
