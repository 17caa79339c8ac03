package services

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/sessionlens/pixeld/internal/domain/events"
	"github.com/sessionlens/pixeld/internal/domain/session"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/internal/infrastructure/security"
	"github.com/sessionlens/pixeld/internal/infrastructure/tenant"
	"github.com/sessionlens/pixeld/pkg/config"
)

// ReducerService folds the raw event stream into ClientSession and
// SessionAggregate rows. It runs on the write-behind worker, so all writes
// for one store arrive in order and never race.
type ReducerService struct {
	tenantManager *tenant.Manager
	idleGap       time.Duration
	errorCount    atomic.Uint64
	logger        *logging.ChanneledLogger
}

// NewReducerService creates a new session reducer.
func NewReducerService(tenantManager *tenant.Manager, logger *logging.ChanneledLogger) *ReducerService {
	return &ReducerService{
		tenantManager: tenantManager,
		idleGap:       config.SessionIdleGap,
		logger:        logger,
	}
}

// Reduce applies one event to the derived session state. Failures are
// logged and counted; a bad event never halts the pipeline.
func (s *ReducerService) Reduce(ev *events.PixelEvent) {
	clientID := events.ExtractClientID(ev.Payload)
	if clientID == "" {
		return // anonymous events carry no session identity
	}

	tenantCtx, err := s.tenantManager.GetContext(ev.Store)
	if err != nil {
		s.recordError(ev, "context", err)
		return
	}

	sessionID, err := s.resolveSession(tenantCtx, ev, clientID)
	if err != nil {
		s.recordError(ev, "client_session", err)
		return
	}

	if err := s.applyToAggregate(tenantCtx, ev, sessionID); err != nil {
		s.recordError(ev, "aggregate", err)
	}
}

// ErrorCount reports how many events the reducer has dropped.
func (s *ReducerService) ErrorCount() uint64 {
	return s.errorCount.Load()
}

// resolveSession finds the client's current session, rotating to a fresh
// sessionId when the idle gap has elapsed.
func (s *ReducerService) resolveSession(tenantCtx *tenant.Context, ev *events.PixelEvent, clientID string) (string, error) {
	repo := tenantCtx.ClientSessionRepo()

	cs, err := repo.Find(ev.Store, clientID)
	if err != nil {
		return "", err
	}

	rotated := false
	if cs == nil {
		cs = &session.ClientSession{
			Store:     ev.Store,
			ClientID:  clientID,
			SessionID: security.GenerateSessionID(),
		}
		rotated = true
	} else if ev.Timestamp.Sub(cs.LastSeenAt) > s.idleGap {
		cs.SessionID = security.GenerateSessionID()
		rotated = true
	}

	if ev.Timestamp.After(cs.LastSeenAt) {
		cs.LastSeenAt = ev.Timestamp
	}
	if err := repo.Upsert(cs); err != nil {
		return "", err
	}

	if rotated {
		s.logger.Reducer().Debug("Session rotated",
			"store", ev.Store, "clientId", clientID, "sessionId", cs.SessionID)
	}
	return cs.SessionID, nil
}

// applyToAggregate folds the event into the session aggregate. Funnel
// timestamps are earliest-wins and "last*" fields last-wins, which keeps a
// replayed stream from double-counting.
func (s *ReducerService) applyToAggregate(tenantCtx *tenant.Context, ev *events.PixelEvent, sessionID string) error {
	repo := tenantCtx.AggregateRepo()

	agg, err := repo.Find(ev.Store, sessionID)
	if err != nil {
		return err
	}
	if agg == nil {
		agg = session.NewAggregate(ev.Store, sessionID, ev.Timestamp)
	}
	agg.Touch(ev.Timestamp)

	ts := ev.Timestamp

	switch {
	case events.IsClaritySignal(ev.Name):
		// friction signals move lastEventAt only

	case events.IsProductViewed(ev.Name):
		productID, variantID := events.ProductIDs(ev.Payload)
		if productID != "" {
			agg.LastProductID = productID
		}
		if variantID != "" {
			agg.LastVariantID = variantID
		}

	case events.IsAddToCart(ev.Name):
		if agg.AtcAt == nil || ts.Before(*agg.AtcAt) {
			agg.AtcAt = &ts
		}
		if cart := events.CartSnapshot(ev.Payload); cart != nil {
			if data, err := json.Marshal(cart); err == nil {
				agg.LastCartJSON = string(data)
			}
		}

	case events.IsCheckoutCompleted(ev.Name):
		if agg.PurchaseAt == nil {
			agg.PurchaseAt = &ts
		}
		agg.Status = session.StatusCompleted

	case ev.Name == events.EventPaymentInfoSubmitted:
		agg.LastCheckoutStep = "payment"

	case events.IsCheckoutRelated(ev.Name):
		if agg.CheckoutAt == nil || ts.Before(*agg.CheckoutAt) {
			agg.CheckoutAt = &ts
		}
		if token := events.CheckoutToken(ev.Payload); token != "" {
			agg.LastCheckoutToken = token
		}
		if step := events.CheckoutStep(ev.Payload); step != "" {
			agg.LastCheckoutStep = step
		}
	}

	if params := events.CampaignParams(ev.Payload); len(params) > 0 {
		agg.LastCampaignJSON = mergeCampaignJSON(agg.LastCampaignJSON, params)
	}
	if ev.Country != "" {
		agg.LastCountryCode = ev.Country
	}
	if ua := events.ExtractUserAgent(ev.Payload); ua != "" {
		agg.LastDeviceType = events.DeviceType(ua)
	}

	return repo.Upsert(agg)
}

// mergeCampaignJSON merges new attribution parameters into the stored JSON
// using last-write-wins per key.
func mergeCampaignJSON(existing string, params map[string]string) string {
	merged := make(map[string]string)
	if existing != "" {
		// a corrupt stored blob is discarded rather than propagated
		_ = json.Unmarshal([]byte(existing), &merged)
	}
	for k, v := range params {
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return existing
	}
	return string(data)
}

func (s *ReducerService) recordError(ev *events.PixelEvent, stage string, err error) {
	n := s.errorCount.Add(1)
	s.logger.Reducer().Error("Reducer failed to apply event",
		"store", ev.Store,
		"eventType", ev.Name,
		"stage", stage,
		"error", err.Error(),
		"totalErrors", n,
	)
}
