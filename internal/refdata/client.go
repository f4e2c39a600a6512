package refdata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formsync_refdata_requests_total",
		Help: "Reference data requests by result (hit, miss, error)",
	}, []string{"result"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "formsync_refdata_fetch_duration_seconds",
		Help:    "Duration of uncached reference data fetches",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

// DefaultTimeout bounds every uncached request.
const DefaultTimeout = 10 * time.Second

// Client memoizes reference data for the lifetime of one document scope.
//
// Identical concurrent requests share one network call; identical sequential
// requests return the same *Payload instance. Failures are never cached and
// never retried: the caller decides the fallback.
//
// Thread-safety: safe for concurrent use. Fetches run on spawned goroutines
// while the engine loop reads cached payloads.
type Client struct {
	fetcher Fetcher
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	cache  map[string]*Payload // keyed by Request.ID
	gen    uint64              // bumped by Clear; stale flights do not store
	flight singleflight.Group
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger for failure diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a memoizing client over fetcher.
func NewClient(fetcher Fetcher, opts ...ClientOption) *Client {
	c := &Client{
		fetcher: fetcher,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		cache:   make(map[string]*Payload),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the cached payload for req or fetches it.
func (c *Client) Fetch(ctx context.Context, req Request) (*Payload, error) {
	key := req.ID()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p, ok := c.Cached(req); ok {
		requestsTotal.WithLabelValues("hit").Inc()
		return p, nil
	}

	v, err, shared := c.flight.Do(key, func() (any, error) {
		// A caller that lost the race with a completed flight finds it here.
		if p, ok := c.Cached(req); ok {
			return p, nil
		}

		c.mu.RLock()
		gen := c.gen
		c.mu.RUnlock()

		fetchCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		start := time.Now()
		p, err := c.fetcher.Fetch(fetchCtx, req)
		fetchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gen == gen && ctx.Err() == nil {
			c.cache[key] = p
		}
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("reference data fetch failed",
			"request", req.Key(),
			"shared", shared,
			"error", err,
		)
		return nil, err
	}

	requestsTotal.WithLabelValues("miss").Inc()
	return v.(*Payload), nil
}

// Cached returns the payload for req without fetching.
func (c *Client) Cached(req Request) (*Payload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.cache[req.ID()]
	return p, ok
}

// Len returns the number of cached payloads.
func (c *Client) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Clear drops every cached payload. Called when the document scope is torn down.
func (c *Client) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*Payload)
	c.gen++
}
