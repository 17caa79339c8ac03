// Package session defines the persistent session entities derived from the
// raw pixel event stream: the per-client session directory and the
// per-session aggregate consumed by downstream session-intelligence analysis.
package session

import "time"

// Session lifecycle states.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// Analysis states for downstream consumers.
const (
	AnalysisUnanalyzed = "unanalyzed"
	AnalysisAnalyzed   = "analyzed"
	AnalysisError      = "error"
)

// ClientSession maps a stable client identity to its current session.
// Rotated when the gap to LastSeenAt exceeds the idle window.
type ClientSession struct {
	Store      string    `json:"store"`
	ClientID   string    `json:"clientId"`
	SessionID  string    `json:"sessionId"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Aggregate is the folded state of one session. Funnel timestamps are
// earliest-wins and never cleared; "last*" fields are last-wins.
type Aggregate struct {
	Store     string `json:"store"`
	SessionID string `json:"sessionId"`

	StartedAt   time.Time  `json:"startedAt"`
	LastEventAt time.Time  `json:"lastEventAt"`
	AtcAt       *time.Time `json:"atcAt,omitempty"`
	CheckoutAt  *time.Time `json:"checkoutStartedAt,omitempty"`
	PurchaseAt  *time.Time `json:"purchaseAt,omitempty"`

	LastCheckoutToken string `json:"lastCheckoutToken,omitempty"`
	LastCheckoutStep  string `json:"lastCheckoutStep,omitempty"`
	LastCartJSON      string `json:"lastCartJson,omitempty"`
	LastDeviceType    string `json:"lastDeviceType,omitempty"`
	LastCountryCode   string `json:"lastCountryCode,omitempty"`
	LastProductID     string `json:"lastProductId,omitempty"`
	LastVariantID     string `json:"lastVariantId,omitempty"`
	LastCampaignJSON  string `json:"lastCampaignJson,omitempty"`

	Status        string `json:"status"`
	AnalysisState string `json:"analysisState"`

	// Analysis columns written by downstream consumers, carried through here.
	PrimaryReason string   `json:"primaryReason,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	ReasonsJSON   string   `json:"reasonsJson,omitempty"`
	Model         string   `json:"model,omitempty"`
}

// NewAggregate creates an aggregate for a session's first event.
func NewAggregate(store, sessionID string, at time.Time) *Aggregate {
	return &Aggregate{
		Store:         store,
		SessionID:     sessionID,
		StartedAt:     at,
		LastEventAt:   at,
		Status:        StatusActive,
		AnalysisState: AnalysisUnanalyzed,
	}
}

// Touch advances LastEventAt, keeping it monotone.
func (a *Aggregate) Touch(at time.Time) {
	if at.After(a.LastEventAt) {
		a.LastEventAt = at
	}
	if at.Before(a.StartedAt) {
		a.StartedAt = at
	}
}

// ClientSessionRepository defines the operations for the client session
// directory keyed by (store, clientId).
type ClientSessionRepository interface {
	Find(store, clientID string) (*ClientSession, error)
	Upsert(cs *ClientSession) error
}

// AggregateRepository defines the operations for session aggregates keyed
// by (store, sessionId).
type AggregateRepository interface {
	Find(store, sessionID string) (*Aggregate, error)
	Upsert(agg *Aggregate) error
	MarkAbandoned(store string, idleBefore time.Time) (int64, error)
}
