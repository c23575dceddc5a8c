// Package client provides the session-side research caller: a FIFO queue
// serializes near-simultaneous requests from one app session so they respect
// rate limits cooperatively, and a bounded local cache answers repeats
// without a round trip.
package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/fitforge-ai/fitforge/pkg/backoff"
	"github.com/fitforge-ai/fitforge/pkg/cache/memory"
	"github.com/fitforge-ai/fitforge/pkg/config"
	"github.com/fitforge-ai/fitforge/pkg/models"
	"github.com/fitforge-ai/fitforge/pkg/queryhash"
	"github.com/fitforge-ai/fitforge/pkg/research"
)

// Backend performs the actual generate call; in production this is the
// gateway's HTTP API or an embedded research.Service.
type Backend interface {
	Generate(ctx context.Context, q models.Query) (*models.Result, error)
}

// Options tunes the client's queue and local cache.
type Options struct {
	// MaxRetries bounds rate-limit retries per request. Zero means the
	// default of 3; a negative value disables retries.
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	CacheTTL    time.Duration
	CacheMax    int
	// FallbackMessage, when non-empty, is returned (marked Fallback) in
	// place of an error after retries are exhausted. Fallback text is never
	// written to the cache.
	FallbackMessage string
}

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("research client closed")

type request struct {
	ctx    context.Context
	query  models.Query
	hash   string
	result chan outcome
}

type outcome struct {
	res *models.Result
	err error
}

// Client serializes research calls through a single worker. A request hit
// by a rate limit is retried in place after the indicated delay while the
// rest of the queue waits its turn; a request that exhausts its retries is
// rejected to its caller and removed. There is no cancellation mid-retry —
// a caller that gives up simply stops consuming the result.
type Client struct {
	backend Backend
	cache   *memory.Store
	opts    Options

	// mu orders enqueues against Close: a send holds the read lock, so once
	// closed is set no new request can slip past the worker's final drain.
	mu      sync.RWMutex
	closed  bool
	queue   chan *request
	done    chan struct{}
	stopped chan struct{}
}

// New creates a Client and starts its queue worker.
func New(backend Backend, opts Options) *Client {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = research.DefaultMaxRetries
	} else if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = backoff.DefaultBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = backoff.DefaultMax
	}
	c := &Client{
		backend: backend,
		cache:   memory.New(opts.CacheTTL, opts.CacheMax),
		opts:    opts,
		queue:   make(chan *request, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go c.run()
	return c
}

// FromConfig builds a Client whose retry, cache and fallback behavior follow
// the gateway configuration.
func FromConfig(cfg *config.Config, backend Backend) *Client {
	opts := Options{
		MaxRetries:  cfg.Retry.MaxRetries,
		BackoffBase: cfg.Retry.BackoffBase,
		BackoffMax:  cfg.Retry.BackoffMax,
		CacheTTL:    cfg.ClientCache.TTL,
		CacheMax:    cfg.ClientCache.MaxEntries,
	}
	if cfg.Fallback.Enabled {
		opts.FallbackMessage = cfg.Fallback.Message
	}
	return New(backend, opts)
}

// Generate answers a query from the local cache when possible, otherwise
// queues it behind any in-flight requests from this session.
func (c *Client) Generate(ctx context.Context, q models.Query) (*models.Result, error) {
	hash := queryhash.Digest(q.Content, q.SystemPrompt, q.Model)
	if response, ok := c.cache.Lookup(hash); ok {
		return &models.Result{Response: response, Cached: true}, nil
	}

	req := &request{
		ctx:    ctx,
		query:  q,
		hash:   hash,
		result: make(chan outcome, 1),
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClosed
	}
	select {
	case c.queue <- req:
		c.mu.RUnlock()
	case <-ctx.Done():
		c.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case out := <-req.result:
		return out.res, out.err
	case <-ctx.Done():
		// The worker keeps going; the result channel is buffered so it
		// never blocks on an abandoned caller.
		return nil, ctx.Err()
	}
}

// ClearCache drops every locally cached response.
func (c *Client) ClearCache() {
	c.cache.Clear()
}

// Close stops the queue worker. Queued requests are rejected with ErrClosed.
// Close does not return until the worker has drained the queue.
func (c *Client) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()
	<-c.stopped
}

func (c *Client) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			c.drain()
			return
		case req := <-c.queue:
			req.result <- c.process(req)
		}
	}
}

func (c *Client) drain() {
	for {
		select {
		case req := <-c.queue:
			req.result <- outcome{err: ErrClosed}
		default:
			return
		}
	}
}

// process runs one queued request to a terminal outcome, pausing the queue
// during rate-limit waits so later requests do not pile onto the limiter.
func (c *Client) process(req *request) outcome {
	// Another queued request may have populated the cache meanwhile.
	if response, ok := c.cache.Lookup(req.hash); ok {
		return outcome{res: &models.Result{Response: response, Cached: true}}
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		res, err := c.backend.Generate(req.ctx, req.query)
		if err == nil {
			if !res.Fallback {
				c.cache.Store(req.hash, res.Response)
			}
			return outcome{res: res}
		}
		lastErr = err

		var rerr *research.Error
		if !errors.As(err, &rerr) || rerr.Kind != research.KindRateLimit || attempt == c.opts.MaxRetries {
			break
		}

		wait := rerr.RetryAfter
		if wait <= 0 {
			wait = backoff.Delay(attempt, c.opts.BackoffBase, c.opts.BackoffMax)
		}
		log.Printf("research request rate limited, retrying in %s", wait)
		select {
		case <-time.After(wait):
		case <-c.done:
			return outcome{err: ErrClosed}
		}
	}

	if c.opts.FallbackMessage != "" && isGatewayError(lastErr) {
		return outcome{res: &models.Result{
			Response: c.opts.FallbackMessage,
			Fallback: true,
		}}
	}
	return outcome{err: lastErr}
}

func isGatewayError(err error) bool {
	var rerr *research.Error
	return errors.As(err, &rerr)
}
