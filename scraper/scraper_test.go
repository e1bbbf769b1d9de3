package scraper

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/izome2/moftahak-discovery/cache"
	"github.com/izome2/moftahak-discovery/config"
	"github.com/izome2/moftahak-discovery/models"
	"github.com/izome2/moftahak-discovery/ratelimit"
	"github.com/jarcoal/httpmock"
)

const upstreamPattern = `=~^https://upstream\.test/s/homes`

// testBox spans roughly 1km, so thoroughness "fast" yields a single tile.
var testBox = models.Box{SWLat: 30.0, SWLng: 31.2, NELat: 30.009, NELng: 31.209}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "https://upstream.test/s/homes"
	cfg.MinRequestSpacing = 0
	cfg.MaxRequestsPerMinute = 1000
	cfg.BatchDelay = 0
	cfg.ZoomDelay = 0
	cfg.SupplementaryDelay = 0
	cfg.SparseThreshold = 0
	return cfg
}

func newTestScraper(t *testing.T, cfg *config.Config) (*Scraper, *httpmock.MockTransport) {
	t.Helper()

	s, err := New(cfg, ratelimit.New(cfg), cache.New(cfg.CacheSize, cfg.FreshFor, cfg.EvictAfter))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	transport := httpmock.NewMockTransport()
	s.collector.WithTransport(transport)
	return s, transport
}

func stayID(n string) string {
	return base64.StdEncoding.EncodeToString([]byte("StayListing:" + n))
}

func stayResult(id string, lat, lng float64, name string, extra string) string {
	if extra != "" {
		extra = "," + extra
	}
	return fmt.Sprintf(
		`{"__typename":"StaySearchResult","listing":{"id":%q,"name":%q,"coordinate":{"latitude":%f,"longitude":%f}%s}}`,
		stayID(id), name, lat, lng, extra,
	)
}

func searchPage(results ...string) string {
	payload := fmt.Sprintf(
		`{"niobeMinimalClientData":[["StaysSearchQuery",{"data":{"presentation":{"staysSearch":{"results":{"searchResults":[%s]}}}}}]]}`,
		strings.Join(results, ","),
	)
	return `<html><head></head><body><script id="data-deferred-state-0" type="application/json">` + payload + `</script></body></html>`
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func freshParams() *models.SearchParams {
	return &models.SearchParams{Box: testBox, Thoroughness: models.ThoroughnessFast}
}

func TestSearchMergesDedupesAndFilters(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)

	page := searchPage(
		stayResult("101", 30.005, 31.205, "Nile View", ""),
		stayResult("101", 30.005, 31.205, "", `"structuredContent":{"primaryLine":[{"body":"2 bedrooms"}]}`),
		stayResult("202", 35.0, 31.205, "Far Away", ""),
	)
	transport.RegisterResponder("GET", upstreamPattern, htmlResponder(page))

	result, err := s.Search(context.Background(), freshParams())
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if len(result.Listings) != 1 {
		t.Fatalf("listings = %d, want 1 (dedup + bounds filter)", len(result.Listings))
	}
	l := result.Listings[0]
	if l.ID != "101" {
		t.Fatalf("id = %q, want 101", l.ID)
	}
	if l.Name != "Nile View" {
		t.Fatalf("name = %q, want the non-empty copy to win the merge", l.Name)
	}
	if l.Bedrooms != 2 {
		t.Fatalf("bedrooms = %d, want 2 filled from the duplicate copy", l.Bedrooms)
	}

	if result.Metadata.TotalRequests != 1 {
		t.Fatalf("requests = %d, want 1", result.Metadata.TotalRequests)
	}
	if result.Metadata.GridSize != 1 {
		t.Fatalf("grid size = %d, want 1", result.Metadata.GridSize)
	}
	if result.Metadata.FromCache {
		t.Fatalf("first search should not come from cache")
	}
	if result.Metadata.RateLimitStatus != models.RateLimitOK {
		t.Fatalf("rate limit status = %q, want ok", result.Metadata.RateLimitStatus)
	}
	if transport.GetTotalCallCount() != 1 {
		t.Fatalf("upstream calls = %d, want 1", transport.GetTotalCallCount())
	}
}

func TestSearchServedFromCache(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)

	page := searchPage(stayResult("101", 30.005, 31.205, "Nile View", ""))
	transport.RegisterResponder("GET", upstreamPattern, htmlResponder(page))

	if _, err := s.Search(context.Background(), freshParams()); err != nil {
		t.Fatalf("first search: %v", err)
	}
	calls := transport.GetTotalCallCount()

	// Perturbing the box beyond the third decimal hits the same fingerprint.
	params := freshParams()
	params.Box.NELat += 0.0002

	result, err := s.Search(context.Background(), params)
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if !result.Metadata.FromCache {
		t.Fatalf("second search should be served from cache")
	}
	if len(result.Listings) != 1 {
		t.Fatalf("cached listings = %d, want 1", len(result.Listings))
	}
	if transport.GetTotalCallCount() != calls {
		t.Fatalf("cached search issued upstream requests (%d -> %d)", calls, transport.GetTotalCallCount())
	}
}

func TestResetStateClearsCache(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)

	page := searchPage(stayResult("101", 30.005, 31.205, "Nile View", ""))
	transport.RegisterResponder("GET", upstreamPattern, htmlResponder(page))

	if _, err := s.Search(context.Background(), freshParams()); err != nil {
		t.Fatalf("first search: %v", err)
	}

	s.ResetState()

	result, err := s.Search(context.Background(), freshParams())
	if err != nil {
		t.Fatalf("search after reset: %v", err)
	}
	if result.Metadata.FromCache {
		t.Fatalf("search after reset should not come from cache")
	}
	if transport.GetTotalCallCount() != 2 {
		t.Fatalf("upstream calls = %d, want 2", transport.GetTotalCallCount())
	}
}

func TestSearchBlockedUpstream(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)

	transport.RegisterResponder("GET", upstreamPattern, httpmock.NewStringResponder(429, "slow down"))

	result, err := s.Search(context.Background(), freshParams())
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if len(result.Listings) != 0 {
		t.Fatalf("listings = %d, want 0 on a blocked search", len(result.Listings))
	}
	if result.Metadata.RateLimitStatus != models.RateLimitBlocked {
		t.Fatalf("rate limit status = %q, want blocked", result.Metadata.RateLimitStatus)
	}
}

func TestSearchCaptchaPage(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)

	transport.RegisterResponder("GET", upstreamPattern,
		htmlResponder("<html><body>Please verify you are a human</body></html>"))

	result, err := s.Search(context.Background(), freshParams())
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if len(result.Listings) != 0 {
		t.Fatalf("listings = %d, want 0 when a challenge page is served", len(result.Listings))
	}
	if result.Metadata.RateLimitStatus != models.RateLimitBlocked {
		t.Fatalf("rate limit status = %q, want blocked", result.Metadata.RateLimitStatus)
	}
}

func TestLoadMoreExcludesKnownIDs(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)

	page := searchPage(
		stayResult("101", 30.005, 31.205, "Seen before", ""),
		stayResult("102", 30.006, 31.206, "Fresh find", ""),
		stayResult("103", 30.007, 31.207, "Also seen", ""),
	)
	transport.RegisterResponder("GET", upstreamPattern, htmlResponder(page))

	params := &models.SearchParams{
		Box:        testBox,
		ExcludeIDs: []string{"101", "airbnb-103"},
		Strategy:   models.StrategyOffset,
	}

	result, err := s.Search(context.Background(), params)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if len(result.Listings) != 1 {
		t.Fatalf("listings = %d, want 1", len(result.Listings))
	}
	if result.Listings[0].ID != "102" {
		t.Fatalf("id = %q, want 102", result.Listings[0].ID)
	}

	// Offset strategy: one tile per zoom level across the zoom ladder.
	if want := len(cfg.LoadMoreZooms); result.Metadata.TotalRequests != want {
		t.Fatalf("requests = %d, want %d", result.Metadata.TotalRequests, want)
	}

	// Load-more results are never cached.
	if _, err := s.Search(context.Background(), params); err != nil {
		t.Fatalf("second load-more: %v", err)
	}
	if got, want := transport.GetTotalCallCount(), 2*len(cfg.LoadMoreZooms); got != want {
		t.Fatalf("upstream calls = %d, want %d", got, want)
	}
}

func TestSparseCoverageTriggersSupplementaryPass(t *testing.T) {
	cfg := testConfig()
	cfg.SparseThreshold = 10
	s, transport := newTestScraper(t, cfg)

	page := searchPage(stayResult("101", 30.005, 31.205, "Only one", ""))
	transport.RegisterResponder("GET", upstreamPattern, htmlResponder(page))

	result, err := s.Search(context.Background(), freshParams())
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	// One initial tile plus a 2x2 supplementary pass.
	if result.Metadata.TotalRequests != 5 {
		t.Fatalf("requests = %d, want 5", result.Metadata.TotalRequests)
	}
	if len(result.Listings) != 1 {
		t.Fatalf("listings = %d, want 1 after dedup across passes", len(result.Listings))
	}
}

func TestSearchAppliesBookingDefaults(t *testing.T) {
	cfg := testConfig()
	s, transport := newTestScraper(t, cfg)

	transport.RegisterResponder("GET", upstreamPattern, htmlResponder(searchPage()))

	params := freshParams()
	if _, err := s.Search(context.Background(), params); err != nil {
		t.Fatalf("search: %v", err)
	}

	if params.Adults != 1 {
		t.Fatalf("adults = %d, want defaulted 1", params.Adults)
	}
	if params.Checkin == "" || params.Checkout == "" {
		t.Fatalf("booking dates should be defaulted, got %q/%q", params.Checkin, params.Checkout)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		expected   string
	}{
		{name: "forbidden", statusCode: 403, expected: "blocked"},
		{name: "rate limited", statusCode: 429, expected: "blocked"},
		{name: "not found", statusCode: 404, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError(fmt.Errorf("http status %d", tt.statusCode), tt.statusCode)
			if got := errorTypeLabel(err); got != tt.expected {
				t.Fatalf("label = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFindBlockMarker(t *testing.T) {
	if marker := findBlockMarker([]byte("<html>Access Denied</html>")); marker != "access denied" {
		t.Fatalf("marker = %q, want access denied", marker)
	}
	if marker := findBlockMarker([]byte("<html>regular results page</html>")); marker != "" {
		t.Fatalf("marker = %q, want empty", marker)
	}
}
