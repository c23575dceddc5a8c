// Package research orchestrates calls to the third-party research API:
// fingerprint the query, consult the response cache, gate on the rate
// limiter, call upstream with bounded retries, then persist the result and
// one ledger row per terminal outcome.
package research

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fitforge-ai/fitforge/pkg/backoff"
	"github.com/fitforge-ai/fitforge/pkg/models"
	"github.com/fitforge-ai/fitforge/pkg/queryhash"
)

// CacheStore is the server-side response cache consulted before upstream
// calls. Lookup fails open; Store errors are logged, never surfaced.
type CacheStore interface {
	Lookup(ctx context.Context, hash string) (models.CacheEntry, bool)
	Store(ctx context.Context, entry models.CacheEntry) error
}

// Limiter gates outgoing upstream calls.
type Limiter interface {
	Check(ctx context.Context) models.Decision
}

// Recorder receives exactly one ledger row per terminal outcome.
type Recorder interface {
	Record(ctx context.Context, rec models.CallRecord) error
}

// Options tunes the orchestrator's retry loop and upstream parameters.
type Options struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Temperature float64
	MaxTokens   int
}

// Service ties the cache, limiter, ledger and upstream client together. Any
// of cache, limiter or ledger may be nil, which disables that concern.
type Service struct {
	cache    CacheStore
	limiter  Limiter
	ledger   Recorder
	upstream UpstreamClient
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Service. Zero option fields fall back to defaults; a
// negative MaxRetries disables retries entirely.
func New(cache CacheStore, limiter Limiter, ledger Recorder, upstream UpstreamClient, opts Options) *Service {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	} else if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = backoff.DefaultBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = backoff.DefaultMax
	}
	return &Service{
		cache:    cache,
		limiter:  limiter,
		ledger:   ledger,
		upstream: upstream,
		opts:     opts,
		sleep:    sleepCtx,
	}
}

// Generate runs one research request end to end and returns the cached or
// fresh response text.
func (s *Service) Generate(ctx context.Context, q models.Query) (*models.Result, error) {
	start := time.Now()
	hash := queryhash.Digest(q.Content, q.SystemPrompt, q.Model)

	if s.cache != nil {
		if entry, ok := s.cache.Lookup(ctx, hash); ok {
			s.record(ctx, q, start, true, true, "")
			return &models.Result{
				Response:     entry.ResponseText,
				Cached:       true,
				ResponseTime: time.Since(start),
			}, nil
		}
	}

	if err := s.waitForSlot(ctx, q, start); err != nil {
		return nil, err
	}

	resp, err := s.callUpstream(ctx, q, start)
	if err != nil {
		return nil, err
	}

	text, citations := extractResponse(resp)
	if text == "" {
		rerr := &Error{Kind: KindEmptyResponse, Message: "upstream returned no content"}
		s.record(ctx, q, start, false, false, rerr.Error())
		return nil, rerr
	}

	if s.cache != nil {
		err := s.cache.Store(ctx, models.CacheEntry{
			QueryHash:    hash,
			QueryText:    q.Content,
			SystemPrompt: q.SystemPrompt,
			Model:        q.Model,
			ResponseText: text,
		})
		if err != nil {
			log.Printf("cache write failed: %v", err)
		}
	}

	s.record(ctx, q, start, true, false, "")
	return &models.Result{
		Response:     text,
		Citations:    citations,
		Cached:       false,
		ResponseTime: time.Since(start),
	}, nil
}

// waitForSlot loops on the local limiter, sleeping the suggested delay
// between checks, until a slot is granted or retries run out.
func (s *Service) waitForSlot(ctx context.Context, q models.Query, start time.Time) error {
	if s.limiter == nil {
		return nil
	}

	var last models.Decision
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		d := s.limiter.Check(ctx)
		if d.Allowed {
			return nil
		}
		last = d
		if attempt == s.opts.MaxRetries {
			break
		}
		wait := d.RetryAfter
		if wait <= 0 {
			wait = backoff.Delay(attempt, s.opts.BackoffBase, s.opts.BackoffMax)
		}
		if err := s.sleep(ctx, wait); err != nil {
			s.record(ctx, q, start, false, false, err.Error())
			return err
		}
	}

	rerr := &Error{
		Kind:       KindRateLimit,
		RetryAfter: last.RetryAfter,
		Message:    fmt.Sprintf("local %s limit reached", last.Window),
	}
	s.record(ctx, q, start, false, false, rerr.Error())
	return rerr
}

// callUpstream invokes the research API, retrying transient failures with
// backoff until the attempt budget is spent.
func (s *Service) callUpstream(ctx context.Context, q models.Query, start time.Time) (*models.CompletionResponse, error) {
	var messages []models.ChatMessage
	if q.SystemPrompt != "" {
		messages = append(messages, models.ChatMessage{Role: "system", Content: q.SystemPrompt})
	}
	messages = append(messages, models.ChatMessage{Role: "user", Content: q.Content})

	req := models.CompletionRequest{
		Model:    q.Model,
		Messages: messages,
	}
	if s.opts.Temperature > 0 {
		t := s.opts.Temperature
		req.Temperature = &t
	}
	if s.opts.MaxTokens > 0 {
		m := s.opts.MaxTokens
		req.MaxTokens = &m
	}

	for attempt := 0; ; attempt++ {
		resp, err := s.upstream.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		wait, retry := nextDelay(err, attempt, s.opts.MaxRetries, s.opts.BackoffBase, s.opts.BackoffMax)
		if !retry {
			s.record(ctx, q, start, false, false, err.Error())
			return nil, err
		}

		log.Printf("upstream attempt %d failed: %v, retrying in %s", attempt+1, err, wait)
		if serr := s.sleep(ctx, wait); serr != nil {
			s.record(ctx, q, start, false, false, err.Error())
			return nil, serr
		}
	}
}

// record appends the single terminal ledger row for this request. Ledger
// failures are logged, never propagated.
func (s *Service) record(ctx context.Context, q models.Query, start time.Time, success, cached bool, errMsg string) {
	if s.ledger == nil {
		return
	}
	rec := models.CallRecord{
		UserID:         q.UserID,
		QueryText:      q.Content,
		SystemPrompt:   q.SystemPrompt,
		Model:          q.Model,
		Success:        success,
		ErrorMessage:   errMsg,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		Cached:         cached,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.ledger.Record(ctx, rec); err != nil {
		log.Printf("analytics record failed: %v", err)
	}
}

// extractResponse pulls the answer text and citations from a completion.
func extractResponse(resp *models.CompletionResponse) (string, []string) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	msg := resp.Choices[0].Message
	var citations []string
	if msg.CitationMetadata != nil {
		citations = msg.CitationMetadata.Citations
	}
	return msg.Content, citations
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
