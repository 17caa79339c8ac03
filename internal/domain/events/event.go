// Package events defines the normalized pixel event model and the payload
// derivation rules shared by the ingest pipeline, the live-state index, and
// the session reducer.
package events

import (
	"regexp"
	"strings"
	"time"
)

// PixelEvent is a single ingested behavioral event after normalization.
// The raw payload is kept as an opaque blob for persistence; derived fields
// are computed once at ingest and never mutated afterwards.
type PixelEvent struct {
	Store     string         `json:"store"`
	Source    string         `json:"source"`
	Name      string         `json:"name"`      // normalized event name, never empty
	Timestamp time.Time      `json:"timestamp"` // normalized, UTC
	Country   string         `json:"country"`   // two-letter upper-case, "" when unknown
	Payload   map[string]any `json:"-"`         // parsed body
	Raw       []byte         `json:"-"`         // re-serialized JSON for the raw event store
}

const (
	// EventCheckoutCompleted terminates a live checkout entry.
	EventCheckoutCompleted = "checkout_completed"
	// EventPaymentInfoSubmitted is checkout-related without containing "checkout".
	EventPaymentInfoSubmitted = "payment_info_submitted"
	// EventUnknown is assigned when a payload carries no recognizable name.
	EventUnknown = "unknown"
)

// clarity signals update session recency but never funnel state
var claritySignals = map[string]bool{
	"rage_click":          true,
	"dead_click":          true,
	"form_invalid":        true,
	"js_error":            true,
	"unhandled_rejection": true,
	"scroll_depth":        true,
	"scroll_max":          true,
}

// CampaignParamKeys is the fixed attribution vocabulary merged into
// a session's campaign snapshot, last-write-wins per key.
var CampaignParamKeys = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "utm_id",
	"fbclid", "gclid", "ttclid", "msclkid", "wbraid", "gbraid", "irclickid",
}

var countryCodeRe = regexp.MustCompile(`^[A-Z]{2}$`)

// NormalizeName lowercases and trims a raw event name, substituting
// EventUnknown when the result is empty.
func NormalizeName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return EventUnknown
	}
	return name
}

// IsCheckoutRelated reports whether a normalized name belongs to the checkout
// funnel: any name containing "checkout", plus payment_info_submitted.
func IsCheckoutRelated(name string) bool {
	return strings.Contains(name, "checkout") || name == EventPaymentInfoSubmitted
}

// IsCheckoutCompleted reports whether a normalized name terminates a checkout.
func IsCheckoutCompleted(name string) bool {
	return name == EventCheckoutCompleted
}

// IsClaritySignal reports whether a normalized name is a friction signal
// (rage/dead clicks, scroll depth, form friction, JS errors).
func IsClaritySignal(name string) bool {
	return claritySignals[name]
}

// IsAddToCart reports whether a normalized name records a cart addition.
// Pixel flavors disagree on the exact name, so both spellings count.
func IsAddToCart(name string) bool {
	return strings.Contains(name, "add_to_cart") || name == "product_added_to_cart"
}

// IsProductViewed reports whether a normalized name is a product view.
func IsProductViewed(name string) bool {
	return name == "product_viewed" || name == "product_view"
}

// ParseTimestamp parses an ISO-8601 timestamp, falling back to now for
// missing or malformed values. Always returns UTC.
func ParseTimestamp(raw string, now time.Time) time.Time {
	if raw == "" {
		return now.UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return now.UTC()
}

// ExtractName pulls the raw event name from a payload, checking the
// recognized field spellings in a fixed order.
func ExtractName(payload map[string]any) string {
	if event, ok := payload["event"].(map[string]any); ok {
		if name := stringField(event, "name"); name != "" {
			return name
		}
	}
	if name := stringField(payload, "event"); name != "" {
		return name
	}
	for _, key := range []string{"type", "eventType", "event_name"} {
		if name := stringField(payload, key); name != "" {
			return name
		}
	}
	return ""
}

// ExtractTimestamp pulls the raw timestamp string from a payload.
func ExtractTimestamp(payload map[string]any) string {
	return stringField(payload, "timestamp")
}

// ExtractSource pulls the pixel flavor tag from a payload.
func ExtractSource(payload map[string]any) string {
	return stringField(payload, "source")
}

// ExtractHost pulls the document host hint used for store resolution.
func ExtractHost(payload map[string]any) string {
	if ctx, ok := payload["context"].(map[string]any); ok {
		if doc, ok := ctx["document"].(map[string]any); ok {
			if loc, ok := doc["location"].(map[string]any); ok {
				if host := stringField(loc, "host"); host != "" {
					return host
				}
				if href := stringField(loc, "href"); href != "" {
					return href
				}
			}
		}
	}
	return ""
}

// ExtractStoreField pulls the explicit store tag from a payload.
func ExtractStoreField(payload map[string]any) string {
	return stringField(payload, "store")
}

// ExtractClientID pulls the stable client identity from a payload.
func ExtractClientID(payload map[string]any) string {
	if ctx, ok := payload["context"].(map[string]any); ok {
		if id := stringField(ctx, "clientId"); id != "" {
			return id
		}
	}
	return stringField(payload, "clientId")
}

// ExtractUserAgent pulls the navigator user agent from a payload.
func ExtractUserAgent(payload map[string]any) string {
	if ctx, ok := payload["context"].(map[string]any); ok {
		if nav, ok := ctx["navigator"].(map[string]any); ok {
			return stringField(nav, "userAgent")
		}
	}
	return ""
}

// SessionKey derives the live-state index key from a payload. The precedence
// is fixed and case-sensitive: checkout token, checkout id, client id,
// context session id, payload session id. An empty result means the event
// cannot address a live entry.
func SessionKey(payload map[string]any) string {
	if token := CheckoutToken(payload); token != "" {
		return token
	}
	if id := checkoutID(payload); id != "" {
		return id
	}
	if clientID := ExtractClientID(payload); clientID != "" {
		return clientID
	}
	if ctx, ok := payload["context"].(map[string]any); ok {
		if sessionID := stringField(ctx, "sessionId"); sessionID != "" {
			return sessionID
		}
	}
	return stringField(payload, "sessionId")
}

// CheckoutToken pulls the checkout token from any of its recognized homes.
func CheckoutToken(payload map[string]any) string {
	if token := stringField(payload, "checkoutToken"); token != "" {
		return token
	}
	if checkout, ok := payload["checkout"].(map[string]any); ok {
		if token := stringField(checkout, "token"); token != "" {
			return token
		}
	}
	if checkout := dataCheckout(payload); checkout != nil {
		if token := stringField(checkout, "token"); token != "" {
			return token
		}
	}
	return ""
}

func checkoutID(payload map[string]any) string {
	if id := stringField(payload, "checkoutId"); id != "" {
		return id
	}
	if checkout, ok := payload["checkout"].(map[string]any); ok {
		if id := stringField(checkout, "id"); id != "" {
			return id
		}
	}
	if checkout := dataCheckout(payload); checkout != nil {
		if id := stringField(checkout, "id"); id != "" {
			return id
		}
	}
	return ""
}

// CheckoutStep pulls the current checkout step label, when present.
func CheckoutStep(payload map[string]any) string {
	if checkout := dataCheckout(payload); checkout != nil {
		if step := stringField(checkout, "step"); step != "" {
			return step
		}
	}
	if checkout, ok := payload["checkout"].(map[string]any); ok {
		return stringField(checkout, "step")
	}
	return ""
}

// CountryFromPayload derives a country code declared inside the payload:
// checkout shipping/billing addresses first, then flat country fields.
// Only values matching ^[A-Z]{2}$ are accepted.
func CountryFromPayload(payload map[string]any) string {
	if checkout := dataCheckout(payload); checkout != nil {
		for _, addrKey := range []string{"shippingAddress", "billingAddress"} {
			if addr, ok := checkout[addrKey].(map[string]any); ok {
				if code := ValidCountryCode(stringField(addr, "countryCode")); code != "" {
					return code
				}
			}
		}
	}
	for _, key := range []string{"countryCode", "country_code", "geoipCountryCode"} {
		if code := ValidCountryCode(stringField(payload, key)); code != "" {
			return code
		}
	}
	return ""
}

// ValidCountryCode returns the input when it is a two-letter upper-case
// country code, else "".
func ValidCountryCode(code string) string {
	if countryCodeRe.MatchString(code) {
		return code
	}
	return ""
}

// CampaignParams collects attribution parameters (utm_* and ad click ids)
// from the payload's top level and its data object.
func CampaignParams(payload map[string]any) map[string]string {
	params := make(map[string]string)
	collect := func(m map[string]any) {
		for _, key := range CampaignParamKeys {
			if val := stringField(m, key); val != "" {
				params[key] = val
			}
		}
	}
	collect(payload)
	if data, ok := payload["data"].(map[string]any); ok {
		collect(data)
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// CartSnapshot pulls the cart object from a payload, when present.
func CartSnapshot(payload map[string]any) map[string]any {
	if data, ok := payload["data"].(map[string]any); ok {
		if cart, ok := data["cart"].(map[string]any); ok {
			return cart
		}
		if line, ok := data["cartLine"].(map[string]any); ok {
			return line
		}
	}
	if cart, ok := payload["cart"].(map[string]any); ok {
		return cart
	}
	return nil
}

// ProductIDs pulls product/variant identifiers from a product_viewed payload.
func ProductIDs(payload map[string]any) (productID, variantID string) {
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return "", ""
	}
	if pv, ok := data["productVariant"].(map[string]any); ok {
		variantID = stringField(pv, "id")
		if product, ok := pv["product"].(map[string]any); ok {
			productID = stringField(product, "id")
		}
	}
	if product, ok := data["product"].(map[string]any); ok && productID == "" {
		productID = stringField(product, "id")
	}
	return productID, variantID
}

// DeviceType buckets a user agent into mobile, tablet, or desktop.
func DeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return ""
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		return "mobile"
	default:
		return "desktop"
	}
}

func dataCheckout(payload map[string]any) map[string]any {
	if data, ok := payload["data"].(map[string]any); ok {
		if checkout, ok := data["checkout"].(map[string]any); ok {
			return checkout
		}
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if val, ok := m[key].(string); ok {
		return strings.TrimSpace(val)
	}
	return ""
}
