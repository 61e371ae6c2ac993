// Package query fetches and caches list data for the dashboard: paginated
// queries with debounced filters, the shared response cache and the record
// mutations that invalidate it.
package query

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// Default cache timings.
const (
	DefaultStaleTime   = 30 * time.Second
	DefaultCacheTime   = 5 * time.Minute
	DefaultLoadTimeout = 30 * time.Second
)

// Policy controls how long a cached response is served.
type Policy struct {
	StaleTime time.Duration // fresh window; zero means DefaultStaleTime
	CacheTime time.Duration // retention; zero means DefaultCacheTime
}

func (p Policy) withDefaults() Policy {
	if p.StaleTime <= 0 {
		p.StaleTime = DefaultStaleTime
	}
	if p.CacheTime <= 0 {
		p.CacheTime = DefaultCacheTime
	}
	if p.CacheTime < p.StaleTime {
		p.CacheTime = p.StaleTime
	}
	return p
}

// Request describes one cacheable fetch.
type Request struct {
	Key    string
	Scope  string
	Policy Policy
	Load   func(ctx context.Context) (json.RawMessage, error)
}

// Response is a cached or freshly loaded body.
type Response struct {
	Data json.RawMessage
	// Stale is set when Data is an old value served because the refetch
	// failed.
	Stale     bool
	Cached    bool
	FetchedAt time.Time
}

type entry struct {
	data        json.RawMessage
	scope       string
	fetchedAt   time.Time
	invalidated bool
	policy      Policy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCacheMetrics counts cache hits and misses.
func WithCacheMetrics(hits, misses prometheus.Counter) ClientOption {
	return func(c *Client) {
		c.hits = hits
		c.misses = misses
	}
}

// WithLoadTimeout bounds a shared load once it is detached from its callers.
func WithLoadTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

// Client is the response cache shared by every Query. Concurrent loads of
// the same key are collapsed into one; the shared load does not inherit any
// caller's cancellation, so a caller that gives up only stops waiting. It is
// safe for concurrent use.
type Client struct {
	group       singleflight.Group
	now         func() time.Time
	hits        prometheus.Counter
	misses      prometheus.Counter
	loadTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
	// epoch is bumped by Evict and ClearAll so loads started earlier do not
	// repopulate removed keys.
	epoch map[string]uint64
}

// NewClient creates an empty Client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		now:         time.Now,
		loadTimeout: DefaultLoadTimeout,
		entries:     make(map[string]*entry),
		epoch:       make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the fresh cached body for req.Key or loads it. When a
// refetch fails and a non-expired value exists, the old value is returned
// with Stale set and no error.
func (c *Client) Fetch(ctx context.Context, req Request) (Response, error) {
	policy := req.Policy.withDefaults()
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[req.Key]
	var old *entry
	if ok {
		cp := *e
		old = &cp
	}
	c.mu.RUnlock()

	if old != nil && !old.invalidated && now.Sub(old.fetchedAt) < policy.StaleTime {
		c.count(true)
		return Response{Data: old.data, Cached: true, FetchedAt: old.fetchedAt}, nil
	}
	c.count(false)

	ch := c.group.DoChan(req.Key, func() (any, error) {
		c.mu.RLock()
		epoch := c.epoch[req.Key]
		c.mu.RUnlock()

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		data, err := req.Load(loadCtx)
		if err != nil {
			return nil, err
		}
		fetched := c.now()
		c.mu.Lock()
		if c.epoch[req.Key] == epoch {
			c.entries[req.Key] = &entry{data: data, scope: req.Scope, fetchedAt: fetched, policy: policy}
		}
		c.mu.Unlock()
		return Response{Data: data, FetchedAt: fetched}, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case res = <-ch:
	}
	if err := res.Err; err != nil {
		if old != nil && now.Sub(old.fetchedAt) < policy.CacheTime {
			return Response{Data: old.data, Stale: true, Cached: true, FetchedAt: old.fetchedAt}, nil
		}
		return Response{}, err
	}
	return res.Val.(Response), nil
}

// Peek returns the cached body for key without loading, whether fresh or
// not.
func (c *Client) Peek(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.data, true
}

// Invalidate marks key stale. The value is kept and served if the next load
// fails.
func (c *Client) Invalidate(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.invalidated = true
	}
	c.mu.Unlock()
}

// InvalidateScope marks every key in scope stale.
func (c *Client) InvalidateScope(scope string) {
	c.mu.Lock()
	for _, e := range c.entries {
		if e.scope == scope {
			e.invalidated = true
		}
	}
	c.mu.Unlock()
}

// Evict removes key so the next Fetch loads from scratch.
func (c *Client) Evict(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.epoch[key]++
	c.mu.Unlock()
	c.group.Forget(key)
}

// ClearAll removes every entry.
func (c *Client) ClearAll() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
		c.epoch[k]++
	}
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
	for _, k := range keys {
		c.group.Forget(k)
	}
}

// Prune drops entries past their retention time and returns how many were
// removed.
func (c *Client) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if now.Sub(e.fetchedAt) >= e.policy.CacheTime {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of cached entries.
func (c *Client) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RunJanitor prunes expired entries every interval until ctx is done.
func (c *Client) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Prune()
		}
	}
}

func (c *Client) count(hit bool) {
	switch {
	case hit && c.hits != nil:
		c.hits.Inc()
	case !hit && c.misses != nil:
		c.misses.Inc()
	}
}
