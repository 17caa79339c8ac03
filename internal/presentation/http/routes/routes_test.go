package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sessionlens/pixeld/internal/application/container"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/performance"
	"github.com/sessionlens/pixeld/internal/infrastructure/tenant"
)

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		OutputToConsole: false,
		JSONFormat:      true,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}

	tenantManager := tenant.NewManager(logger)
	appContainer := container.NewContainer(tenantManager, logger, performance.NewTracker(nil))
	return SetupRoutes(appContainer)
}

func TestServesPixelScript(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/pixels/pixel.js", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/javascript") {
		t.Errorf("content-type = %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); !strings.HasPrefix(cc, "public, max-age=") {
		t.Errorf("cache-control = %q", cc)
	}
	if !strings.Contains(w.Body.String(), "pixeld agent") {
		t.Error("script body missing the agent banner")
	}
	if strings.Contains(w.Body.String(), "__PIXEL_VERSION__") {
		t.Error("version placeholder was not stamped")
	}
}

func TestIngestToLiveQuery(t *testing.T) {
	router := newTestRouter(t)

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/pixels/web", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		// country from the edge header keeps the enricher off the network
		req.Header.Set("cf-ipcountry", "US")
		router.ServeHTTP(w, req)
		return w
	}

	w := post(`{
		"store": "atelier-luxe",
		"event": "checkout_started",
		"checkoutToken": "tok-e2e-1",
		"timestamp": "` + nowRFC3339() + `"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body %s", w.Code, w.Body.String())
	}
	var ack struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil || !ack.Success {
		t.Fatalf("unexpected ingest ack: %s", w.Body.String())
	}

	live := func() map[string]any {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/pixels/web/live?store=atelier-luxe", nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("live status = %d", w.Code)
		}
		var result map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("live body not json: %v", err)
		}
		return result
	}

	result := live()
	if result["count"] != float64(1) {
		t.Fatalf("live count = %v, want 1", result["count"])
	}
	byCountry, _ := result["byCountry"].(map[string]any)
	if byCountry["US"] != float64(1) {
		t.Errorf("byCountry = %v, want US:1", byCountry)
	}

	// completing the checkout clears the live entry
	w = post(`{
		"store": "atelier-luxe",
		"event": "checkout_completed",
		"checkoutToken": "tok-e2e-1",
		"timestamp": "` + nowRFC3339() + `"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("completion status = %d", w.Code)
	}

	result = live()
	if result["count"] != float64(0) {
		t.Errorf("live count after completion = %v, want 0", result["count"])
	}
}

func TestIngestRejectsMalformedBody(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pixels/web", strings.NewReader("{not json"))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body not json: %v", err)
	}
	if body.Success || body.Error == "" {
		t.Errorf("unexpected error contract: %s", w.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body not json: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}

	// the operational snapshot carries queue and live-state shape
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("snapshot body not json: %v", err)
	}
	if _, ok := body["writeBehind"]; !ok {
		t.Error("snapshot missing writeBehind counters")
	}
	if _, ok := body["liveEntries"]; !ok {
		t.Error("snapshot missing liveEntries")
	}
	if _, ok := body["operations"]; !ok {
		t.Error("snapshot missing operation stats")
	}
	if _, ok := body["lastAccessed"]; !ok {
		t.Error("snapshot missing cache access times")
	}
}
