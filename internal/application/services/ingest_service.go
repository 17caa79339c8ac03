package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sessionlens/pixeld/internal/domain/events"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/performance"
	persistenceEvents "github.com/sessionlens/pixeld/internal/infrastructure/persistence/events"
	"github.com/sessionlens/pixeld/internal/infrastructure/tenant"
	"github.com/sessionlens/pixeld/pkg/config"
)

// IngestService runs the ingest pipeline: resolve store, normalize,
// enrich, update the live index synchronously, then hand the event to the
// write-behind queue for persistence and reduction. Only malformed input
// is an error; storage trouble never is.
type IngestService struct {
	tenantManager *tenant.Manager
	geoIP         *GeoIPService
	reducer       *ReducerService
	queue         *persistenceEvents.WriteBehindQueue
	perfTracker   *performance.Tracker
	logger        *logging.ChanneledLogger
}

// NewIngestService creates the ingest pipeline and its write-behind queue.
// Start must be called before the first ingest.
func NewIngestService(
	tenantManager *tenant.Manager,
	geoIP *GeoIPService,
	reducer *ReducerService,
	perfTracker *performance.Tracker,
	logger *logging.ChanneledLogger,
) *IngestService {
	s := &IngestService{
		tenantManager: tenantManager,
		geoIP:         geoIP,
		reducer:       reducer,
		perfTracker:   perfTracker,
		logger:        logger,
	}
	s.queue = persistenceEvents.NewWriteBehindQueue(config.EventQueueSize, s.applyBehind, logger)
	return s
}

// Start launches the write-behind worker.
func (s *IngestService) Start() {
	s.queue.Start()
}

// Stop drains the write-behind queue. Called once during shutdown.
func (s *IngestService) Stop() {
	s.queue.Stop()
}

// QueueStats reports write-behind counters for the status endpoint.
func (s *IngestService) QueueStats() (enqueued, processed, dropped uint64, depth int) {
	enqueued, processed, dropped = s.queue.Stats()
	return enqueued, processed, dropped, s.queue.Depth()
}

// Ingest processes one raw pixel POST. The returned error is non-nil only
// for malformed payloads; every storage-side failure is swallowed after
// the in-memory update succeeded.
func (s *IngestService) Ingest(ctx context.Context, source string, body []byte, headers http.Header, remoteAddr string) error {
	marker := s.perfTracker.StartOperation("ingest", "")
	defer marker.Complete()

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		marker.SetError(err)
		return fmt.Errorf("malformed event payload: %w", err)
	}
	if payload == nil {
		err := fmt.Errorf("malformed event payload: not a JSON object")
		marker.SetError(err)
		return err
	}

	storeID := s.tenantManager.ResolveStore(
		events.ExtractStoreField(payload),
		events.ExtractHost(payload),
	)
	marker.Store = storeID

	name := events.NormalizeName(events.ExtractName(payload))
	ts := events.ParseTimestamp(events.ExtractTimestamp(payload), time.Now().UTC())

	if src := events.ExtractSource(payload); src != "" {
		source = src
	}

	// The only suspension point in the hot path; bounded by its own deadline.
	country := s.geoIP.DeriveCountry(ctx, payload, headers, remoteAddr)

	ev := &events.PixelEvent{
		Store:     storeID,
		Source:    source,
		Name:      name,
		Timestamp: ts,
		Country:   country,
		Payload:   payload,
		Raw:       body,
	}

	s.updateLiveState(ev)

	if !s.queue.Enqueue(ev) {
		s.logger.Ingest().Warn("Event shed from persistence path",
			"store", storeID, "eventType", name)
	}

	s.logger.Ingest().Debug("Event ingested",
		"store", storeID, "eventType", name, "source", source, "country", country)
	marker.SetSuccess(true)
	return nil
}

// updateLiveState applies the live index update rule synchronously so a
// live query issued right after the ingest response observes the event.
func (s *IngestService) updateLiveState(ev *events.PixelEvent) {
	if !events.IsCheckoutRelated(ev.Name) {
		return
	}
	sessionKey := events.SessionKey(ev.Payload)
	if sessionKey == "" {
		return
	}
	s.tenantManager.GetCacheManager().Track(
		ev.Store, sessionKey, ev.Name, ev.Timestamp.UnixMilli(), ev.Country)
}

// applyBehind runs on the write-behind worker: append the raw row, then
// fold the event into the derived session state. Each step is isolated so
// a storage failure never stops the reducer and vice versa.
func (s *IngestService) applyBehind(ev *events.PixelEvent) {
	tenantCtx, err := s.tenantManager.GetContext(ev.Store)
	if err != nil {
		s.logger.Ingest().Error("Store context unavailable, raw event lost",
			"store", ev.Store, "eventType", ev.Name, "error", err.Error())
		return
	}

	stored := &events.StoredEvent{
		Store:     ev.Store,
		EventType: ev.Name,
		EventTS:   ev.Timestamp,
		SessionID: events.SessionKey(ev.Payload),
	}
	if len(ev.Raw) > 0 {
		stored.PayloadJSON = string(ev.Raw)
	} else if data, err := json.Marshal(ev.Payload); err == nil {
		stored.PayloadJSON = string(data)
	}

	if err := tenantCtx.RawEventRepo().Append(stored); err != nil {
		s.logger.Ingest().Warn("Raw event append failed",
			"store", ev.Store, "eventType", ev.Name, "error", err.Error())
	}

	s.reducer.Reduce(ev)
}
