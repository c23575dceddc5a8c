package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fitforge-ai/fitforge/pkg/analytics"
	cachepkg "github.com/fitforge-ai/fitforge/pkg/cache/sqlite"
	"github.com/fitforge-ai/fitforge/pkg/config"
	"github.com/fitforge-ai/fitforge/pkg/models"
	"github.com/fitforge-ai/fitforge/pkg/ratelimit"
	"github.com/fitforge-ai/fitforge/pkg/research"
)

func completionJSON(content string) string {
	resp := models.CompletionResponse{
		ID:    "resp-1",
		Model: "sonar-medium-chat",
		Choices: []models.Choice{{
			Message: models.CompletionMessage{Role: "assistant", Content: content},
		}},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

// newTestServer wires a full gateway against an httptest upstream and real
// SQLite stores in a temp dir.
func newTestServer(t *testing.T, upstream http.HandlerFunc, perMinute int) *Server {
	t.Helper()

	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	dbPath := filepath.Join(t.TempDir(), "fitforge.db")

	cache, err := cachepkg.New(dbPath, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })

	limiter, err := ratelimit.New(dbPath, perMinute, 500)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { limiter.Close() })

	ledger, err := analytics.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })

	svc := research.New(cache, limiter, ledger,
		research.NewUpstream(up.URL, "test-key", 5*time.Second),
		research.Options{MaxRetries: -1})

	cfg := config.Default()
	return New(cfg, svc, cache, limiter, ledger)
}

func postResearch(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/research", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestResearchFreshThenCached(t *testing.T) {
	calls := 0
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, completionJSON("Aim for 0.8g of protein per pound."))
	}, 10)

	w := postResearch(t, srv, `{"query":"daily protein intake","user_id":"u1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var first researchResponse
	if err := json.NewDecoder(w.Body).Decode(&first); err != nil {
		t.Fatal(err)
	}
	if first.Cached {
		t.Error("first response should not be cached")
	}

	w = postResearch(t, srv, `{"query":"Daily Protein Intake","user_id":"u2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var second researchResponse
	if err := json.NewDecoder(w.Body).Decode(&second); err != nil {
		t.Fatal(err)
	}
	if !second.Cached {
		t.Error("case-insensitive repeat should hit the cache")
	}
	if second.Response != first.Response {
		t.Error("cached response should match the original")
	}
	if calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls)
	}
}

func TestResearchMissingQuery(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON("unused"))
	}, 10)

	w := postResearch(t, srv, `{"system_prompt":"be brief"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestResearchRateLimited(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON("ok"))
	}, 1)

	w := postResearch(t, srv, `{"query":"first question"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", w.Code)
	}

	w = postResearch(t, srv, `{"query":"second question"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header on 429")
	}
}

func TestResearchUpstreamServerError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}, 10)

	w := postResearch(t, srv, `{"query":"doomed"}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON("stretch daily"))
	}, 10)

	postResearch(t, srv, `{"query":"hamstring stretches"}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats models.CacheStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 {
		t.Errorf("expected 1 cache entry, got %d", stats.Entries)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/cache/clear", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("clear: expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 0 {
		t.Errorf("expected empty cache after clear, got %d entries", stats.Entries)
	}
}

func TestCacheClearRequiresPost(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON("unused"))
	}, 10)

	req := httptest.NewRequest(http.MethodGet, "/v1/cache/clear", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON("rest 48 hours between sessions"))
	}, 10)

	postResearch(t, srv, `{"query":"leg day recovery","user_id":"u1"}`)
	postResearch(t, srv, `{"query":"leg day recovery","user_id":"u1"}`) // cache hit

	req := httptest.NewRequest(http.MethodGet, "/v1/analytics?user=u1", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var listing struct {
		Calls []models.CallRecord `json:"calls"`
	}
	if err := json.NewDecoder(w.Body).Decode(&listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Calls) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(listing.Calls))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/analytics/summary", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d", w.Code)
	}
	var summary struct {
		Summary []models.CallSummary `json:"summary"`
	}
	if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
		t.Fatal(err)
	}
	if len(summary.Summary) != 1 {
		t.Fatalf("expected 1 summary row, got %d", len(summary.Summary))
	}
	if summary.Summary[0].Calls != 2 || summary.Summary[0].CacheHits != 1 {
		t.Errorf("unexpected summary: %+v", summary.Summary[0])
	}
}

func TestRateLimitStatus(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON("ok"))
	}, 10)

	postResearch(t, srv, `{"query":"one call"}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/ratelimit", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var state models.RateLimitState
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if state.MinuteCount != 1 || state.DayCount != 1 {
		t.Errorf("unexpected limiter state: %+v", state)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionJSON("unused"))
	}, 10)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
