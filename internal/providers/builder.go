package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/mozilla-services/merino/internal/cache/memory"
	"github.com/mozilla-services/merino/internal/cache/rediscache"
	"github.com/mozilla-services/merino/internal/providers/remotesettings"
	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/errors"
	"github.com/mozilla-services/merino/pkg/metrics"
	pkgredis "github.com/mozilla-services/merino/pkg/redis"
	"github.com/mozilla-services/merino/pkg/resilience"
)

// Deps carries the shared resources the builder wires into providers.
type Deps struct {
	Config  *config.Config
	Metrics *metrics.Metrics

	// Redis may be nil; building a redis_cache node then fails.
	Redis *pkgredis.Client

	// HTTPClient is the pooled client for Remote Settings fetches.
	HTTPClient *http.Client

	// Closables collects providers that own background goroutines, so a
	// retired tree can be shut down after a reload.
	Closables *[]io.Closer
}

func (d Deps) trackClosable(c io.Closer) {
	if d.Closables != nil {
		*d.Closables = append(*d.Closables, c)
	}
}

// Build materializes a provider tree from a config node. Children are built
// first, then the parent wraps them; errors name the failing node's path.
func Build(ctx context.Context, node *config.ProviderNode, path string, deps Deps) (suggest.Provider, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: provider node %s is missing", errors.ErrSetup, path)
	}

	switch node.Type {
	case config.TypeRemoteSettings:
		bucket := node.Bucket
		if bucket == "" {
			bucket = deps.Config.RemoteSettings.Bucket
		}
		collection := node.Collection
		if collection == "" {
			collection = deps.Config.RemoteSettings.Collection
		}
		breaker := resilience.NewCircuitBreaker("remote-settings", resilience.CircuitBreakerConfig{
			OnStateChange: func(s resilience.State) {
				deps.Metrics.CircuitBreakerState.WithLabelValues("remote-settings").Set(float64(s))
			},
		})
		client := remotesettings.NewClient(deps.HTTPClient, deps.Config.RemoteSettings.Server, bucket, collection, breaker)
		provider, err := remotesettings.New(ctx, client, node, deps.Metrics)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", path, err)
		}
		deps.trackClosable(provider)
		return provider, nil

	case config.TypeMultiplexer:
		children := make([]suggest.Provider, 0, len(node.Providers))
		for i, childNode := range node.Providers {
			child, err := Build(ctx, childNode, fmt.Sprintf("%s.providers[%d]", path, i), deps)
			if err != nil {
				return nil, err
			}
			// Incomplete children can never contribute suggestions; skip
			// them so the fan-out stays minimal.
			if !child.IsComplete() {
				continue
			}
			children = append(children, child)
		}
		return NewMulti(children), nil

	case config.TypeTimeout:
		inner, err := Build(ctx, node.Inner, path+".inner", deps)
		if err != nil {
			return nil, err
		}
		return NewTimeout(node.MaxTime(), inner), nil

	case config.TypeKeywordFilter:
		inner, err := Build(ctx, node.Inner, path+".inner", deps)
		if err != nil {
			return nil, err
		}
		filter, err := NewKeywordFilter(node.SuggestionBlocklist, inner, deps.Metrics)
		if err != nil {
			return nil, fmt.Errorf("%w: building %s: %v", errors.ErrSetup, path, err)
		}
		return filter, nil

	case config.TypeStealth:
		inner, err := Build(ctx, node.Inner, path+".inner", deps)
		if err != nil {
			return nil, err
		}
		return NewStealth(inner), nil

	case config.TypeMemoryCache:
		inner, err := Build(ctx, node.Inner, path+".inner", deps)
		if err != nil {
			return nil, err
		}
		cache := memory.New(node, inner, deps.Metrics)
		deps.trackClosable(cache)
		return cache, nil

	case config.TypeRedisCache:
		if deps.Redis == nil {
			return nil, fmt.Errorf("%w: building %s: no redis connection configured", errors.ErrSetup, path)
		}
		inner, err := Build(ctx, node.Inner, path+".inner", deps)
		if err != nil {
			return nil, err
		}
		return rediscache.New(node, deps.Redis, inner, deps.Metrics), nil

	case config.TypeWikiFruit:
		return NewWikiFruit(), nil

	case config.TypeDebug:
		provider, err := NewDebug(deps.Config.Debug)
		if err != nil {
			return nil, fmt.Errorf("%w: building %s: %v", errors.ErrSetup, path, err)
		}
		return provider, nil

	case config.TypeFixed:
		provider, err := NewFixed(deps.Config.Debug, node)
		if err != nil {
			return nil, fmt.Errorf("%w: building %s: %v", errors.ErrSetup, path, err)
		}
		return provider, nil

	case config.TypeNull:
		return NewNull(), nil

	default:
		return nil, fmt.Errorf("%w: provider node %s has unknown type %q", errors.ErrSetup, path, node.Type)
	}
}
