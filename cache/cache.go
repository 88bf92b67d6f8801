// Package cache avoids duplicate remote analysis calls for identical
// (settings, image) pairs within a bounded storage budget.
//
// Eviction is strictly FIFO by creation time: a cache hit does not refresh
// the entry's timestamp, so recency reflects when a result was computed,
// not when it was last read. Popular entries are deliberately not protected
// from eviction.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JuhyeokC/whit/store"
)

// MaxEntries is the cache capacity bound, enforced after every write.
const MaxEntries = 120

// Analyzer is the remote gateway as the cache sees it.
type Analyzer interface {
	Analyze(ctx context.Context, imageData []byte, model, prompt string) (string, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, imageData []byte, model, prompt string) (string, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, imageData []byte, model, prompt string) (string, error) {
	return f(ctx, imageData, model, prompt)
}

// call is one in-flight remote computation that late arrivals join.
type call struct {
	done   chan struct{}
	result string
	err    error
}

// Cache is the content-addressable analysis store. Concurrent requests for
// the same key join a single outstanding remote call instead of issuing
// duplicates.
type Cache struct {
	store   *store.Store
	remote  Analyzer
	max     int
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]*call
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries overrides the capacity bound.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.max = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock substitutes the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache over the given store bucket and remote gateway.
func New(st *store.Store, remote Analyzer, opts ...Option) *Cache {
	c := &Cache{
		store:    st,
		remote:   remote,
		max:      MaxEntries,
		logger:   slog.Default(),
		now:      time.Now,
		inflight: make(map[string]*call),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// LookupOrCompute returns the analysis for (model, tone, imageData),
// computing it through the remote gateway at most once per distinct tuple.
// cached is true when the result came from the cache or from joining
// another caller's in-flight computation; in both cases no new remote call
// was made on this caller's behalf. Remote failures are returned as-is and
// never written to the cache.
func (c *Cache) LookupOrCompute(ctx context.Context, model, tone string, imageData []byte, prompt string) (result string, cached bool, err error) {
	key := Digest(model, tone, imageData)

	entry, ok, err := c.store.CacheGet(ctx, key)
	if err != nil {
		return "", false, err
	}
	if ok {
		// Hit: no remote call, and no timestamp refresh.
		return entry.Result, true, nil
	}

	c.mu.Lock()
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-cl.done:
			return cl.result, cl.err == nil, cl.err
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.result, cl.err = c.compute(ctx, key, model, tone, imageData, prompt)
	close(cl.done)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	return cl.result, false, cl.err
}

func (c *Cache) compute(ctx context.Context, key, model, tone string, imageData []byte, prompt string) (string, error) {
	result, err := c.remote.Analyze(ctx, imageData, model, prompt)
	if err != nil {
		// Failures are never cached; the bucket stays as it was.
		return "", err
	}

	entry := store.CacheEntry{
		Result:    result,
		CreatedAt: c.now(),
		Model:     model,
		Tone:      tone,
	}
	if err := c.store.CachePut(ctx, key, entry); err != nil {
		// The result is good even when persisting it is not; surface the
		// result and log the write failure.
		c.logger.Warn("cache: write failed", "error", err)
		return result, nil
	}

	if removed, err := c.store.CacheTrim(ctx, c.max); err != nil {
		c.logger.Warn("cache: trim failed", "error", err)
	} else if removed > 0 {
		c.logger.Debug("cache: evicted oldest entries", "removed", removed)
	}

	return result, nil
}
