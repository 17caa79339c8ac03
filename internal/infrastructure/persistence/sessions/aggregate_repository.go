package sessions

import (
	"database/sql"
	"time"

	"github.com/sessionlens/pixeld/internal/domain/session"
	"github.com/sessionlens/pixeld/internal/infrastructure/persistence/database"
)

// SQLAggregateRepository is the SQL-based implementation of the AggregateRepository.
type SQLAggregateRepository struct {
	db *database.DB
}

// NewSQLAggregateRepository creates a new instance of the repository.
func NewSQLAggregateRepository(db *database.DB) *SQLAggregateRepository {
	return &SQLAggregateRepository{db: db}
}

// Find retrieves the aggregate for (store, sessionId).
func (r *SQLAggregateRepository) Find(store, sessionID string) (*session.Aggregate, error) {
	const query = `
		SELECT store, session_id, started_at, last_event_at, atc_at, checkout_started_at, purchase_at,
			last_checkout_token, last_checkout_step, last_cart_json, last_device_type, last_country_code,
			last_product_id, last_variant_id, last_campaign_json, status, analysis_state,
			primary_reason, confidence, summary, reasons_json, model
		FROM session_aggregates
		WHERE store = ? AND session_id = ?`

	row := r.db.QueryRow(query, store, sessionID)
	agg, err := r.scanAggregate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}
	return agg, nil
}

// Upsert writes the aggregate. Conflict resolution repeats the reducer's
// guards so a replayed event stream converges to the same row: funnel
// timestamps are earliest-wins, "last*" fields never revert to NULL, and
// analysis columns written by downstream consumers are never clobbered.
func (r *SQLAggregateRepository) Upsert(agg *session.Aggregate) error {
	const query = `
		INSERT INTO session_aggregates (
			store, session_id, started_at, last_event_at, atc_at, checkout_started_at, purchase_at,
			last_checkout_token, last_checkout_step, last_cart_json, last_device_type, last_country_code,
			last_product_id, last_variant_id, last_campaign_json, status, analysis_state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store, session_id) DO UPDATE SET
			started_at = MIN(session_aggregates.started_at, excluded.started_at),
			last_event_at = MAX(session_aggregates.last_event_at, excluded.last_event_at),
			atc_at = CASE
				WHEN session_aggregates.atc_at IS NULL THEN excluded.atc_at
				WHEN excluded.atc_at IS NULL THEN session_aggregates.atc_at
				ELSE MIN(session_aggregates.atc_at, excluded.atc_at) END,
			checkout_started_at = CASE
				WHEN session_aggregates.checkout_started_at IS NULL THEN excluded.checkout_started_at
				WHEN excluded.checkout_started_at IS NULL THEN session_aggregates.checkout_started_at
				ELSE MIN(session_aggregates.checkout_started_at, excluded.checkout_started_at) END,
			purchase_at = COALESCE(session_aggregates.purchase_at, excluded.purchase_at),
			last_checkout_token = COALESCE(excluded.last_checkout_token, session_aggregates.last_checkout_token),
			last_checkout_step = COALESCE(excluded.last_checkout_step, session_aggregates.last_checkout_step),
			last_cart_json = COALESCE(excluded.last_cart_json, session_aggregates.last_cart_json),
			last_device_type = COALESCE(excluded.last_device_type, session_aggregates.last_device_type),
			last_country_code = COALESCE(excluded.last_country_code, session_aggregates.last_country_code),
			last_product_id = COALESCE(excluded.last_product_id, session_aggregates.last_product_id),
			last_variant_id = COALESCE(excluded.last_variant_id, session_aggregates.last_variant_id),
			last_campaign_json = COALESCE(excluded.last_campaign_json, session_aggregates.last_campaign_json),
			status = CASE WHEN session_aggregates.status = 'completed'
				THEN 'completed' ELSE excluded.status END,
			analysis_state = session_aggregates.analysis_state`

	_, err := r.db.Exec(
		query,
		agg.Store,
		agg.SessionID,
		agg.StartedAt.UTC().Format(time.RFC3339),
		agg.LastEventAt.UTC().Format(time.RFC3339),
		nullableTime(agg.AtcAt),
		nullableTime(agg.CheckoutAt),
		nullableTime(agg.PurchaseAt),
		nullableString(agg.LastCheckoutToken),
		nullableString(agg.LastCheckoutStep),
		nullableString(agg.LastCartJSON),
		nullableString(agg.LastDeviceType),
		nullableString(agg.LastCountryCode),
		nullableString(agg.LastProductID),
		nullableString(agg.LastVariantID),
		nullableString(agg.LastCampaignJSON),
		agg.Status,
		agg.AnalysisState,
	)
	return err
}

// MarkAbandoned transitions active, purchase-free sessions idle since before
// the cutoff to abandoned. Returns the number of sessions transitioned.
func (r *SQLAggregateRepository) MarkAbandoned(store string, idleBefore time.Time) (int64, error) {
	const query = `
		UPDATE session_aggregates
		SET status = 'abandoned'
		WHERE store = ? AND status = 'active' AND purchase_at IS NULL AND last_event_at < ?`

	res, err := r.db.Exec(query, store, idleBefore.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// scanAggregate is a helper function to scan a sql.Row into an Aggregate struct.
func (r *SQLAggregateRepository) scanAggregate(row *sql.Row) (*session.Aggregate, error) {
	var agg session.Aggregate
	var startedStr, lastEventStr string
	var atcStr, checkoutStr, purchaseStr sql.NullString
	var token, step, cart, device, country, product, variant, campaign sql.NullString
	var reason, summary, reasons, model sql.NullString
	var confidence sql.NullFloat64

	err := row.Scan(
		&agg.Store,
		&agg.SessionID,
		&startedStr,
		&lastEventStr,
		&atcStr,
		&checkoutStr,
		&purchaseStr,
		&token,
		&step,
		&cart,
		&device,
		&country,
		&product,
		&variant,
		&campaign,
		&agg.Status,
		&agg.AnalysisState,
		&reason,
		&confidence,
		&summary,
		&reasons,
		&model,
	)
	if err != nil {
		return nil, err
	}

	if agg.StartedAt, err = parseTimestamp(startedStr); err != nil {
		return nil, err
	}
	if agg.LastEventAt, err = parseTimestamp(lastEventStr); err != nil {
		return nil, err
	}
	if agg.AtcAt, err = parseNullableTime(atcStr); err != nil {
		return nil, err
	}
	if agg.CheckoutAt, err = parseNullableTime(checkoutStr); err != nil {
		return nil, err
	}
	if agg.PurchaseAt, err = parseNullableTime(purchaseStr); err != nil {
		return nil, err
	}

	agg.LastCheckoutToken = token.String
	agg.LastCheckoutStep = step.String
	agg.LastCartJSON = cart.String
	agg.LastDeviceType = device.String
	agg.LastCountryCode = country.String
	agg.LastProductID = product.String
	agg.LastVariantID = variant.String
	agg.LastCampaignJSON = campaign.String
	agg.PrimaryReason = reason.String
	agg.Summary = summary.String
	agg.ReasonsJSON = reasons.String
	agg.Model = model.String
	if confidence.Valid {
		agg.Confidence = &confidence.Float64
	}

	return &agg, nil
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
