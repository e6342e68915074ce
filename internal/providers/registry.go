package providers

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/logger"
)

// rootProvider is one serving tree plus its client-facing metadata.
type rootProvider struct {
	id           string
	availability string
	provider     suggest.Provider
	closables    []io.Closer
}

// forest is an immutable set of root providers, swapped whole on reload.
// In-flight requests keep the forest they started with alive.
type forest struct {
	// roots in sorted id order, which fixes the union order of multi-root
	// responses.
	roots []*rootProvider
	byID  map[string]*rootProvider
}

// ProviderInfo is the providers endpoint's view of one root.
type ProviderInfo struct {
	ID           string `json:"id"`
	Availability string `json:"availability"`
}

// Registry owns the provider forest: it builds roots from config, serves
// suggestion requests across them, and swaps in a rebuilt forest on reload.
type Registry struct {
	current  atomic.Pointer[forest]
	deps     Deps
	logger   *slog.Logger
	reloadMu sync.Mutex
}

// NewRegistry builds the forest from cfg.Providers. Any root failing to
// build fails the whole registry; setup errors at startup are fatal.
func NewRegistry(ctx context.Context, deps Deps) (*Registry, error) {
	r := &Registry{
		deps:   deps,
		logger: logger.WithComponent("provider-registry"),
	}
	f, err := r.buildForest(ctx, deps.Config)
	if err != nil {
		return nil, err
	}
	r.current.Store(f)
	return r, nil
}

func (r *Registry) buildForest(ctx context.Context, cfg *config.Config) (*forest, error) {
	f := &forest{byID: make(map[string]*rootProvider)}
	ids := make([]string, 0, len(cfg.Providers))
	for id := range cfg.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		node := cfg.Providers[id]
		var closables []io.Closer
		deps := r.deps
		deps.Config = cfg
		deps.Closables = &closables
		provider, err := Build(ctx, node, id, deps)
		if err != nil {
			f.close()
			return nil, err
		}
		availability := node.Availability
		if availability == "" {
			availability = config.AvailabilityEnabledByDefault
		}
		root := &rootProvider{
			id:           id,
			availability: availability,
			provider:     provider,
			closables:    closables,
		}
		f.roots = append(f.roots, root)
		f.byID[id] = root
	}
	return f, nil
}

func (f *forest) close() {
	for _, root := range f.roots {
		for _, c := range root.closables {
			c.Close()
		}
	}
}

// Suggest fans the request out across the selected roots and unions their
// suggestions in sorted root-id order. A failing root is logged and skipped.
func (r *Registry) Suggest(ctx context.Context, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	f := r.current.Load()
	roots := f.selectRoots(req.RequestedProviders)

	responses := make([]*suggest.SuggestionResponse, len(roots))
	var wg sync.WaitGroup
	for i, root := range roots {
		wg.Add(1)
		go func(i int, root *rootProvider) {
			defer wg.Done()
			start := time.Now()
			resp, err := root.provider.Suggest(ctx, req)
			r.deps.Metrics.ProviderDuration.
				WithLabelValues(root.id, strconv.FormatBool(req.AcceptsEnglish)).
				Observe(time.Since(start).Seconds())
			if err != nil {
				logger.FromContext(ctx).Error("provider failed",
					"provider", root.id,
					"error", err,
				)
				return
			}
			responses[i] = resp
		}(i, root)
	}
	wg.Wait()

	merged := suggest.EmptyResponse()
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		merged.Suggestions = append(merged.Suggestions, resp.Suggestions...)
		merged.CacheStatus = merged.CacheStatus.Merge(resp.CacheStatus)
	}
	return merged, nil
}

// selectRoots resolves the requested provider ids, or the default set when
// none are requested. Unknown ids are ignored.
func (f *forest) selectRoots(requested []string) []*rootProvider {
	if len(requested) == 0 {
		defaults := make([]*rootProvider, 0, len(f.roots))
		for _, root := range f.roots {
			if root.availability == config.AvailabilityEnabledByDefault {
				defaults = append(defaults, root)
			}
		}
		return defaults
	}

	seen := make(map[string]bool, len(requested))
	for _, id := range requested {
		seen[id] = true
	}
	selected := make([]*rootProvider, 0, len(requested))
	for _, root := range f.roots {
		if seen[root.id] {
			selected = append(selected, root)
		}
	}
	return selected
}

// Providers lists the roots for the providers endpoint, in sorted id order.
func (r *Registry) Providers() []ProviderInfo {
	f := r.current.Load()
	infos := make([]ProviderInfo, 0, len(f.roots))
	for _, root := range f.roots {
		infos = append(infos, ProviderInfo{ID: root.id, Availability: root.availability})
	}
	return infos
}

// Reload applies a new configuration. Roots whose provider accepts the new
// node in place are kept; the rest are rebuilt. On any build failure the
// previous forest stays serving.
func (r *Registry) Reload(ctx context.Context, cfg *config.Config) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	old := r.current.Load()

	next := &forest{byID: make(map[string]*rootProvider)}
	ids := make([]string, 0, len(cfg.Providers))
	for id := range cfg.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var fresh []*rootProvider
	for _, id := range ids {
		node := cfg.Providers[id]
		availability := node.Availability
		if availability == "" {
			availability = config.AvailabilityEnabledByDefault
		}

		if existing, ok := old.byID[id]; ok {
			if err := existing.provider.Reconfigure(node); err == nil {
				root := &rootProvider{
					id:           id,
					availability: availability,
					provider:     existing.provider,
					closables:    existing.closables,
				}
				next.roots = append(next.roots, root)
				next.byID[id] = root
				continue
			}
			r.logger.Warn("could not reconfigure provider in place, rebuilding", "provider", id)
		}

		var closables []io.Closer
		deps := r.deps
		deps.Config = cfg
		deps.Closables = &closables
		provider, err := Build(ctx, node, id, deps)
		if err != nil {
			for _, root := range fresh {
				for _, c := range root.closables {
					c.Close()
				}
			}
			return err
		}
		root := &rootProvider{
			id:           id,
			availability: availability,
			provider:     provider,
			closables:    closables,
		}
		fresh = append(fresh, root)
		next.roots = append(next.roots, root)
		next.byID[id] = root
	}

	r.current.Store(next)

	// Shut down roots that did not carry over.
	for _, root := range old.roots {
		if kept, ok := next.byID[root.id]; ok && kept.provider == root.provider {
			continue
		}
		for _, c := range root.closables {
			c.Close()
		}
	}

	r.logger.Info("provider forest reloaded", "roots", len(next.roots))
	return nil
}

// Close shuts down every provider in the current forest.
func (r *Registry) Close() {
	r.current.Load().close()
}
