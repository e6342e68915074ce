package rediscache

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/metrics"
	pkgredis "github.com/mozilla-services/merino/pkg/redis"
)

// skipIfNoRedis skips the test when Redis is unavailable.
func skipIfNoRedis(t *testing.T) *pkgredis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: addr, PoolSize: 5})
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// countingProvider counts upstream fetches. Its name is randomized per test
// run so cache keys never collide with leftovers in a shared Redis.
type countingProvider struct {
	name  string
	calls atomic.Int32
	delay time.Duration
}

func (p *countingProvider) Name() string { return p.name }

func (p *countingProvider) Suggest(ctx context.Context, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return suggest.NewResponse([]suggest.Suggestion{{
		BlockID:  1,
		Title:    "result for " + req.Query,
		URL:      "https://example.com",
		Provider: p.name,
	}}), nil
}

func (p *countingProvider) CacheInputs(req *suggest.SuggestionRequest, inputs suggest.CacheInputs) {
	inputs.Add([]byte(req.Query))
}

func (p *countingProvider) IsComplete() bool { return true }

func (p *countingProvider) Reconfigure(node *config.ProviderNode) error { return nil }

func testNode() *config.ProviderNode {
	return &config.ProviderNode{
		Type:                  config.TypeRedisCache,
		DefaultTTLSec:         60,
		DefaultLockTimeoutSec: 2,
		Inner:                 &config.ProviderNode{Type: config.TypeNull},
	}
}

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func TestRedisCacheMissThenHit(t *testing.T) {
	client := skipIfNoRedis(t)
	inner := &countingProvider{name: uniqueName(t)}
	cache := New(testNode(), client, inner, metrics.NewForTest())

	req := &suggest.SuggestionRequest{Query: "apple"}
	first, err := cache.Suggest(context.Background(), req)
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if first.CacheStatus != suggest.CacheStatusMiss {
		t.Errorf("first request must be a miss, got %v", first.CacheStatus)
	}

	second, err := cache.Suggest(context.Background(), req)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if second.CacheStatus != suggest.CacheStatusHit {
		t.Errorf("second request must be a hit, got %v", second.CacheStatus)
	}
	if len(second.Suggestions) != 1 || second.Suggestions[0].Title != "result for apple" {
		t.Errorf("unexpected cached suggestions: %+v", second.Suggestions)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("expected exactly one upstream fetch, got %d", inner.calls.Load())
	}
}

func TestRedisCacheSingleFlight(t *testing.T) {
	client := skipIfNoRedis(t)
	inner := &countingProvider{name: uniqueName(t), delay: 100 * time.Millisecond}
	cache := New(testNode(), client, inner, metrics.NewForTest())

	req := &suggest.SuggestionRequest{Query: "apple"}
	const concurrency = 8
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Suggest(context.Background(), req); err != nil {
				t.Errorf("concurrent request failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := inner.calls.Load(); got != 1 {
		t.Errorf("single-flight must collapse concurrent misses to one fetch, got %d", got)
	}
}

func TestRedisCacheMalformedEntryIsDeleted(t *testing.T) {
	client := skipIfNoRedis(t)
	inner := &countingProvider{name: uniqueName(t)}
	cache := New(testNode(), client, inner, metrics.NewForTest())

	req := &suggest.SuggestionRequest{Query: "apple"}
	key := keyPrefix + suggest.CacheKeyHash(inner, req)
	if err := client.Set(context.Background(), key, "not json", time.Minute); err != nil {
		t.Fatalf("seeding malformed entry failed: %v", err)
	}

	resp, err := cache.Suggest(context.Background(), req)
	if err != nil {
		t.Fatalf("suggest failed: %v", err)
	}
	// The malformed read degrades to a regenerated response.
	if resp.CacheStatus != suggest.CacheStatusError {
		t.Errorf("expected error-as-miss status, got %v", resp.CacheStatus)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("expected a regeneration fetch, got %d", inner.calls.Load())
	}
}
