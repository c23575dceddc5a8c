// Package server exposes the research gateway over HTTP for the FitForge
// app's request handlers and the operations dashboard.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fitforge-ai/fitforge/pkg/analytics"
	cachepkg "github.com/fitforge-ai/fitforge/pkg/cache/sqlite"
	"github.com/fitforge-ai/fitforge/pkg/config"
	"github.com/fitforge-ai/fitforge/pkg/models"
	"github.com/fitforge-ai/fitforge/pkg/ratelimit"
	"github.com/fitforge-ai/fitforge/pkg/research"
)

// Server is the gateway's HTTP surface.
type Server struct {
	cfg     *config.Config
	svc     *research.Service
	cache   *cachepkg.Store
	limiter *ratelimit.Limiter
	ledger  *analytics.Ledger
	mux     *http.ServeMux
}

// New creates a Server wired with all dependencies. cache, limiter and
// ledger may be nil when the corresponding subsystem is disabled.
func New(cfg *config.Config, svc *research.Service, cache *cachepkg.Store, limiter *ratelimit.Limiter, ledger *analytics.Ledger) *Server {
	initMetrics()
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		cache:   cache,
		limiter: limiter,
		ledger:  ledger,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1/research", s.handleResearch)
	s.mux.HandleFunc("/v1/cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("/v1/cache/clear", s.handleCacheClear)
	s.mux.HandleFunc("/v1/analytics", s.handleAnalytics)
	s.mux.HandleFunc("/v1/analytics/summary", s.handleAnalyticsSummary)
	s.mux.HandleFunc("/v1/ratelimit", s.handleRateLimitStatus)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the gateway with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("fitforge gateway listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

type researchRequest struct {
	Query        string `json:"query"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Model        string `json:"model,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

type researchResponse struct {
	Response       string   `json:"response"`
	Citations      []string `json:"citations,omitempty"`
	Cached         bool     `json:"cached"`
	ResponseTimeMs int64    `json:"response_time_ms"`
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Model == "" {
		req.Model = s.cfg.Upstream.Model
	}

	start := time.Now()
	res, err := s.svc.Generate(r.Context(), models.Query{
		Content:      req.Query,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		UserID:       req.UserID,
	})
	requestLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		s.writeResearchError(w, err)
		return
	}

	if res.Cached {
		researchRequests.WithLabelValues("cache_hit").Inc()
		cacheLookups.WithLabelValues("hit").Inc()
	} else {
		researchRequests.WithLabelValues("fresh").Inc()
		cacheLookups.WithLabelValues("miss").Inc()
	}

	writeJSON(w, http.StatusOK, researchResponse{
		Response:       res.Response,
		Citations:      res.Citations,
		Cached:         res.Cached,
		ResponseTimeMs: res.ResponseTime.Milliseconds(),
	})
}

// writeResearchError maps the gateway error taxonomy onto HTTP statuses,
// attaching a Retry-After header for rate limits so the app can show a
// "try again in N minutes" message.
func (s *Server) writeResearchError(w http.ResponseWriter, err error) {
	var rerr *research.Error
	if !errors.As(err, &rerr) {
		researchRequests.WithLabelValues("error").Inc()
		writeJSONError(w, http.StatusInternalServerError, "research request failed")
		return
	}

	switch rerr.Kind {
	case research.KindRateLimit:
		researchRequests.WithLabelValues("rate_limited").Inc()
		window := "minute"
		if rerr.RetryAfter > time.Hour {
			window = "day"
		}
		rateLimitRejects.WithLabelValues(window).Inc()
		if rerr.RetryAfter > 0 {
			secs := int(math.Ceil(rerr.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeJSONError(w, http.StatusTooManyRequests, rerr.Error())
	case research.KindTimeout, research.KindNetwork:
		researchRequests.WithLabelValues("error").Inc()
		writeJSONError(w, http.StatusGatewayTimeout, rerr.Error())
	default:
		researchRequests.WithLabelValues("error").Inc()
		writeJSONError(w, http.StatusBadGateway, rerr.Error())
	}
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "cache disabled")
		return
	}
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cache == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "cache disabled")
		return
	}
	expiredOnly := r.URL.Query().Get("expired") == "1"
	if err := s.cache.Clear(r.Context(), expiredOnly); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "analytics disabled")
		return
	}

	opts := models.CallQueryOpts{
		Model:  r.URL.Query().Get("model"),
		UserID: r.URL.Query().Get("user"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("since"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			opts.Since = time.Now().UTC().Add(-d)
		}
	}

	records, err := s.ledger.Query(r.Context(), opts)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": records})
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "analytics disabled")
		return
	}
	summaries, err := s.ledger.Summary(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summaries})
}

func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "rate limiting disabled")
		return
	}
	state, err := s.limiter.Status(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"code":%d}}`, message, code)
}
