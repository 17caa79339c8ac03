// Package services provides pixel pipeline orchestration
package services

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sessionlens/pixeld/internal/domain/events"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
	"github.com/sessionlens/pixeld/pkg/config"
)

// geoHeaders are consulted in this fixed order after payload addresses.
var geoHeaders = []string{"cf-ipcountry", "x-vercel-ip-country", "x-geo-country", "x-country-code"}

// GeoIPService derives a two-letter country code for an ingested event.
// Lookup order: payload-declared addresses, edge headers, then an external
// IP lookup under a hard deadline. Raw IPs live only in the lookup cache,
// never in any persisted row.
type GeoIPService struct {
	cache     *expirable.LRU[string, string]
	client    *http.Client
	lookupURL string
	timeout   time.Duration
	logger    *logging.ChanneledLogger
}

// NewGeoIPService creates a new GeoIP enricher with its TTL cache.
func NewGeoIPService(logger *logging.ChanneledLogger) *GeoIPService {
	return &GeoIPService{
		cache:     expirable.NewLRU[string, string](config.GeoIPCacheSize, nil, config.GeoIPCacheTTL),
		client:    &http.Client{Timeout: config.GeoIPTimeout},
		lookupURL: strings.TrimRight(config.GeoIPLookupURL, "/"),
		timeout:   config.GeoIPTimeout,
		logger:    logger,
	}
}

// DeriveCountry resolves the country for one ingest request. Returns the
// empty string when no source yields a valid code; that is not an error.
func (s *GeoIPService) DeriveCountry(ctx context.Context, payload map[string]any, headers http.Header, remoteAddr string) string {
	if cc := events.CountryFromPayload(payload); cc != "" {
		return cc
	}

	for _, name := range geoHeaders {
		raw := strings.ToUpper(strings.TrimSpace(headers.Get(name)))
		if cc := events.ValidCountryCode(raw); cc != "" {
			return cc
		}
	}

	ip := clientIP(headers, remoteAddr)
	if ip == "" {
		return ""
	}

	if cc, ok := s.cache.Get(ip); ok {
		return cc
	}

	cc := s.lookupCountry(ctx, ip)
	if cc != "" {
		s.cache.Add(ip, cc)
	}
	return cc
}

// lookupCountry calls the external country service under the hard deadline.
// Any failure, including the deadline itself, yields the empty string.
func (s *GeoIPService) lookupCountry(ctx context.Context, ip string) string {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.lookupURL+"/"+ip, nil)
	if err != nil {
		return ""
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Geo().Debug("GeoIP lookup failed", "error", err.Error(), "duration", time.Since(start))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Geo().Debug("GeoIP lookup non-200", "status", resp.StatusCode)
		return ""
	}

	var body struct {
		Country string `json:"country"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}

	cc := events.ValidCountryCode(strings.ToUpper(strings.TrimSpace(body.Country)))
	if cc == "" {
		return ""
	}

	s.logger.Geo().Debug("GeoIP lookup resolved", "country", cc, "duration", time.Since(start))
	return cc
}

// CacheLen reports the number of cached IP resolutions.
func (s *GeoIPService) CacheLen() int {
	return s.cache.Len()
}

// clientIP extracts the client IP: first hop of X-Forwarded-For when
// present, else the socket peer, with any IPv4-mapped prefix stripped.
func clientIP(headers http.Header, remoteAddr string) string {
	if fwd := headers.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return strings.TrimPrefix(ip, "::ffff:")
		}
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return strings.TrimPrefix(strings.TrimSpace(host), "::ffff:")
}
