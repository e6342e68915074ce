// Package rediscache implements the shared suggestion cache tier. Entries
// live in Redis under suggest:<hash> keys so replicas reuse each other's
// work; suggest-lock:<hash> keys implement the cross-replica single-flight
// protocol.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/logger"
	"github.com/mozilla-services/merino/pkg/metrics"
	pkgredis "github.com/mozilla-services/merino/pkg/redis"
	"github.com/mozilla-services/merino/pkg/resilience"
)

const (
	tier       = "redis"
	keyPrefix  = "suggest:"
	lockPrefix = "suggest-lock:"
)

// checkResult classifies a cache read.
type checkResult int

const (
	checkHit checkResult = iota
	checkMiss
	// checkErrorAsMiss marks a failed read that is served as a miss.
	checkErrorAsMiss
)

// Cache is a caching provider backed by a shared Redis instance.
type Cache struct {
	inner       suggest.Provider
	client      *pkgredis.Client
	defaultTTL  time.Duration
	lockTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Redis cache around inner.
func New(node *config.ProviderNode, client *pkgredis.Client, inner suggest.Provider, m *metrics.Metrics) *Cache {
	return &Cache{
		inner:       inner,
		client:      client,
		defaultTTL:  node.DefaultTTL(),
		lockTimeout: node.LockTimeout(),
		metrics:     m,
		logger:      logger.WithComponent("redis-cache"),
	}
}

func (c *Cache) Name() string {
	return fmt.Sprintf("redis_cache(%s)", c.inner.Name())
}

func (c *Cache) Suggest(ctx context.Context, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	start := time.Now()
	hash := suggest.CacheKeyHash(c.inner, req)
	key := keyPrefix + hash
	lockKey := lockPrefix + hash

	resp, check := c.getEntry(ctx, key)
	if check == checkHit {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
		c.observe(start, suggest.CacheStatusHit)
		return resp, nil
	}
	c.metrics.CacheMissesTotal.WithLabelValues(tier).Inc()

	// The status reported on a regenerated response distinguishes a clean
	// miss from a degraded read.
	missStatus := suggest.CacheStatusMiss
	if check == checkErrorAsMiss {
		missStatus = suggest.CacheStatusError
	}

	backoff := resilience.Backoff{Initial: 10 * time.Millisecond, Max: 250 * time.Millisecond}
	deadline := time.Now().Add(c.lockTimeout)

	for {
		token, acquired := c.acquireLock(ctx, lockKey)
		if acquired {
			resp, err := c.fetchAndStore(ctx, key, lockKey, token, req)
			if err != nil {
				return nil, err
			}
			c.observe(start, missStatus)
			return resp.WithCacheStatus(missStatus), nil
		}

		// Another replica holds the lock. Poll for its result with capped
		// exponential backoff until the lock timeout, then bypass.
		if time.Now().After(deadline) {
			c.metrics.CacheLockTimeoutsTotal.WithLabelValues(tier).Inc()
			c.logger.Warn("cache lock timed out, bypassing cache", "key", key)
			resp, err := c.inner.Suggest(ctx, req)
			if err != nil {
				c.observe(start, suggest.CacheStatusError)
				return nil, err
			}
			c.observe(start, missStatus)
			return resp.WithCacheStatus(missStatus), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff.Next()):
		}

		if resp, check := c.getEntry(ctx, key); check == checkHit {
			c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
			c.observe(start, suggest.CacheStatusHit)
			return resp, nil
		}
	}
}

// getEntry reads a cache entry and its TTL. Undecodable entries are deleted
// and treated as a miss; entries without a TTL get the default re-applied.
func (c *Cache) getEntry(ctx context.Context, key string) (*suggest.SuggestionResponse, checkResult) {
	payload, ttl, err := c.client.GetWithTTL(ctx, key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return nil, checkMiss
		}
		c.logger.Error("error reading suggestions from cache, treating as miss", "key", key, "error", err)
		return nil, checkErrorAsMiss
	}

	var suggestions []suggest.Suggestion
	if err := json.Unmarshal([]byte(payload), &suggestions); err != nil {
		c.logger.Warn("cached value not of expected shape, deleting", "key", key, "error", err)
		if delErr := c.client.Del(ctx, key); delErr != nil {
			c.logger.Error("could not delete malformed cache entry", "key", key, "error", delErr)
		}
		return nil, checkErrorAsMiss
	}

	if ttl <= 0 {
		c.logger.Warn("cache entry without TTL, re-applying default", "key", key, "default_ttl", c.defaultTTL)
		if err := c.client.Expire(ctx, key, c.defaultTTL); err != nil {
			c.logger.Error("could not set TTL on cache entry", "key", key, "error", err)
		}
		ttl = c.defaultTTL
	}

	return suggest.NewResponse(suggestions).
		WithCacheStatus(suggest.CacheStatusHit).
		WithCacheTTL(ttl), checkHit
}

// acquireLock attempts to take the single-flight lock with a fresh random
// token. Lock errors are treated as not-acquired so a Redis outage cannot
// block regeneration entirely: the caller falls through to the poll loop and
// eventually bypasses.
func (c *Cache) acquireLock(ctx context.Context, lockKey string) (string, bool) {
	token := uuid.NewString()
	acquired, err := c.client.SetNX(ctx, lockKey, token, c.lockTimeout)
	if err != nil {
		c.logger.Error("could not acquire cache lock", "key", lockKey, "error", err)
		return "", false
	}
	return token, acquired
}

// releaseLock deletes the lock only while this process still holds it.
func (c *Cache) releaseLock(ctx context.Context, lockKey, token string) {
	current, err := c.client.Get(ctx, lockKey)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Warn("could not check cache lock", "key", lockKey, "error", err)
		}
		return
	}
	if current != token {
		return
	}
	if err := c.client.Del(ctx, lockKey); err != nil {
		c.logger.Warn("could not release cache lock", "key", lockKey, "error", err)
	}
}

// fetchAndStore regenerates the entry from the inner provider and writes it
// back. Save failures are logged but never fail the request.
func (c *Cache) fetchAndStore(ctx context.Context, key, lockKey, token string, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	defer c.releaseLock(ctx, lockKey, token)

	resp, err := c.inner.Suggest(ctx, req)
	if err != nil {
		return nil, err
	}
	ttl := resp.CacheTTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	resp.CacheTTL = ttl

	payload, err := json.Marshal(resp.Suggestions)
	if err != nil {
		c.logger.Error("could not serialize suggestions for cache", "key", key, "error", err)
		return resp, nil
	}
	if err := c.client.Set(ctx, key, payload, ttl); err != nil {
		c.logger.Error("could not save suggestions to redis",
			"type", "cache.redis.save-error",
			"key", key,
			"error", err,
		)
	}
	return resp, nil
}

func (c *Cache) observe(start time.Time, status suggest.CacheStatus) {
	c.metrics.CacheDuration.
		WithLabelValues(tier, status.String()).
		Observe(float64(time.Since(start).Microseconds()))
}

func (c *Cache) CacheInputs(req *suggest.SuggestionRequest, inputs suggest.CacheInputs) {
	c.inner.CacheInputs(req, inputs)
}

func (c *Cache) IsComplete() bool {
	return c.inner.IsComplete()
}

func (c *Cache) Reconfigure(node *config.ProviderNode) error {
	if node.Type != config.TypeRedisCache || node.Inner == nil {
		return fmt.Errorf("redis cache cannot apply %q config", node.Type)
	}
	return c.inner.Reconfigure(node.Inner)
}
