package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/logger"
	"github.com/mozilla-services/merino/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const tier = "memory"

// Cache is a process-local caching provider. Entries are deduplicated across
// cache keys, misses for one key are collapsed into a single upstream fetch,
// and expired entries are removed lazily on access and by a bounded periodic
// sweep.
type Cache struct {
	inner       suggest.Provider
	items       *DedupedMap
	defaultTTL  time.Duration
	lockTimeout time.Duration
	sweepPeriod time.Duration
	sweepLimit  int

	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	stop    chan struct{}
}

// New creates a memory cache around inner and starts its sweep goroutine.
func New(node *config.ProviderNode, inner suggest.Provider, m *metrics.Metrics) *Cache {
	c := &Cache{
		inner:       inner,
		items:       NewDedupedMap(),
		defaultTTL:  node.DefaultTTL(),
		lockTimeout: node.LockTimeout(),
		sweepPeriod: node.CleanupInterval(),
		sweepLimit:  node.SweepLimit(),
		metrics:     m,
		logger:      logger.WithComponent("memory-cache"),
		stop:        make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *Cache) Name() string {
	return fmt.Sprintf("memory_cache(%s)", c.inner.Name())
}

func (c *Cache) Suggest(ctx context.Context, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	start := time.Now()
	key := suggest.CacheKey(c.inner, req)

	if resp, ok := c.lookup(key, start); ok {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
		c.observe(start, suggest.CacheStatusHit)
		return resp, nil
	}
	c.metrics.CacheMissesTotal.WithLabelValues(tier).Inc()

	deadline := time.NewTimer(c.lockTimeout)
	defer deadline.Stop()
	timeout := deadline.C

	// leader records whether this request runs the flight itself; only
	// requests waiting on another request's flight are bound by the lock
	// timeout.
	var leader atomic.Bool
	for {
		ch := c.group.DoChan(key, func() (any, error) {
			leader.Store(true)
			return c.fetchAndStore(ctx, key, req)
		})

	wait:
		select {
		case res := <-ch:
			if res.Err != nil {
				// A cancelled holder abandons the flight; if this request is
				// still live, take over as the new holder.
				if ctx.Err() == nil && (errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded)) {
					c.group.Forget(key)
					continue
				}
				c.observe(start, suggest.CacheStatusError)
				return nil, res.Err
			}
			resp := res.Val.(*suggest.SuggestionResponse)
			if res.Shared && !leader.Load() {
				// This request waited on another flight's result; what it
				// observes is the freshly published entry.
				resp = suggest.NewResponse(resp.Suggestions).
					WithCacheStatus(suggest.CacheStatusHit).
					WithCacheTTL(resp.CacheTTL)
			}
			c.observe(start, resp.CacheStatus)
			return resp, nil

		case <-timeout:
			if leader.Load() {
				// The lock holder keeps waiting for its own fetch.
				timeout = nil
				goto wait
			}
			// The lock holder is taking too long; bypass the cache and query
			// the upstream directly.
			c.metrics.CacheLockTimeoutsTotal.WithLabelValues(tier).Inc()
			c.logger.Warn("single-flight lock timed out, bypassing cache", "key", key)
			resp, err := c.inner.Suggest(ctx, req)
			if err != nil {
				c.observe(start, suggest.CacheStatusError)
				return nil, err
			}
			c.observe(start, suggest.CacheStatusMiss)
			return resp.WithCacheStatus(suggest.CacheStatusMiss), nil

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// lookup returns a hit response if a live entry exists, removing the entry
// lazily when it has expired.
func (c *Cache) lookup(key string, now time.Time) (*suggest.SuggestionResponse, bool) {
	meta, suggestions, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	if !meta.Expiry.After(now) {
		c.items.Remove(key)
		c.updateGauges()
		return nil, false
	}
	return suggest.NewResponse(suggestions).
		WithCacheStatus(suggest.CacheStatusHit).
		WithCacheTTL(meta.Expiry.Sub(now)), true
}

// fetchAndStore queries the inner provider and publishes the fresh entry.
// The cache is re-checked first: another flight may have published between
// this request's miss and the flight starting.
func (c *Cache) fetchAndStore(ctx context.Context, key string, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	if resp, ok := c.lookup(key, time.Now()); ok {
		return resp, nil
	}
	resp, err := c.inner.Suggest(ctx, req)
	if err != nil {
		return nil, err
	}
	ttl := resp.CacheTTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.items.Insert(key, EntryMeta{Expiry: time.Now().Add(ttl)}, resp.Suggestions)
	c.updateGauges()
	return resp.WithCacheStatus(suggest.CacheStatusMiss).WithCacheTTL(ttl), nil
}

func (c *Cache) observe(start time.Time, status suggest.CacheStatus) {
	c.metrics.CacheDuration.
		WithLabelValues(tier, status.String()).
		Observe(float64(time.Since(start).Microseconds()))
}

func (c *Cache) updateGauges() {
	c.metrics.MemoryCachePointers.Set(float64(c.items.LenPointers()))
	c.metrics.MemoryCacheStorage.Set(float64(c.items.LenStorage()))
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			removed := c.items.RemoveExpired(now, c.sweepLimit)
			c.updateGauges()
			if removed > 0 {
				c.logger.Debug("swept expired cache entries", "removed", removed)
			}
		case <-c.stop:
			return
		}
	}
}

// Close stops the sweep goroutine.
func (c *Cache) Close() error {
	close(c.stop)
	return nil
}

func (c *Cache) CacheInputs(req *suggest.SuggestionRequest, inputs suggest.CacheInputs) {
	c.inner.CacheInputs(req, inputs)
}

func (c *Cache) IsComplete() bool {
	return c.inner.IsComplete()
}

func (c *Cache) Reconfigure(node *config.ProviderNode) error {
	if node.Type != config.TypeMemoryCache || node.Inner == nil {
		return fmt.Errorf("memory cache cannot apply %q config", node.Type)
	}
	return c.inner.Reconfigure(node.Inner)
}
