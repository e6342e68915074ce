package providers

import (
	"context"
	"testing"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/metrics"
)

func registryConfig() *config.Config {
	return &config.Config{
		Debug: true,
		Providers: map[string]*config.ProviderNode{
			"wiki_fruit": {Type: config.TypeWikiFruit},
			"pinned":     {Type: config.TypeFixed, Value: "pinned"},
			"secret":     {Type: config.TypeFixed, Value: "secret", Availability: config.AvailabilityDisabledByDefault},
		},
	}
}

func newTestRegistry(t *testing.T, cfg *config.Config) *Registry {
	t.Helper()
	registry, err := NewRegistry(context.Background(), Deps{
		Config:  cfg,
		Metrics: metrics.NewForTest(),
	})
	if err != nil {
		t.Fatalf("building registry failed: %v", err)
	}
	t.Cleanup(registry.Close)
	return registry
}

func TestRegistryServesDefaultProviders(t *testing.T) {
	registry := newTestRegistry(t, registryConfig())

	resp, err := registry.Suggest(context.Background(), &suggest.SuggestionRequest{Query: "apple", AcceptsEnglish: true})
	if err != nil {
		t.Fatalf("suggest failed: %v", err)
	}
	// pinned (fixed) always answers; wiki_fruit answers apple; secret is
	// disabled by default.
	titles := make(map[string]bool)
	for _, s := range resp.Suggestions {
		titles[s.Title] = true
	}
	if !titles["pinned"] || !titles["Wikipedia - Apple"] {
		t.Errorf("missing default providers' suggestions: %+v", resp.Suggestions)
	}
	if titles["secret"] {
		t.Errorf("disabled-by-default provider served a default request")
	}
}

func TestRegistryServesRequestedProviders(t *testing.T) {
	registry := newTestRegistry(t, registryConfig())

	resp, err := registry.Suggest(context.Background(), &suggest.SuggestionRequest{
		Query:              "apple",
		AcceptsEnglish:     true,
		RequestedProviders: []string{"secret", "no_such_provider"},
	})
	if err != nil {
		t.Fatalf("suggest failed: %v", err)
	}
	if len(resp.Suggestions) != 1 || resp.Suggestions[0].Title != "secret" {
		t.Errorf("expected only the requested provider's suggestion, got %+v", resp.Suggestions)
	}
}

func TestRegistryProvidersListing(t *testing.T) {
	registry := newTestRegistry(t, registryConfig())

	infos := registry.Providers()
	if len(infos) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(infos))
	}
	byID := make(map[string]string)
	for _, info := range infos {
		byID[info.ID] = info.Availability
	}
	if byID["wiki_fruit"] != config.AvailabilityEnabledByDefault {
		t.Errorf("wiki_fruit availability = %q", byID["wiki_fruit"])
	}
	if byID["secret"] != config.AvailabilityDisabledByDefault {
		t.Errorf("secret availability = %q", byID["secret"])
	}
}

func TestRegistryReloadSwapsForest(t *testing.T) {
	registry := newTestRegistry(t, registryConfig())

	next := registryConfig()
	next.Providers["pinned"] = &config.ProviderNode{Type: config.TypeFixed, Value: "repinned"}
	if err := registry.Reload(context.Background(), next); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	resp, err := registry.Suggest(context.Background(), &suggest.SuggestionRequest{
		Query:              "zzz",
		RequestedProviders: []string{"pinned"},
	})
	if err != nil {
		t.Fatalf("suggest failed: %v", err)
	}
	if len(resp.Suggestions) != 1 || resp.Suggestions[0].Title != "repinned" {
		t.Errorf("reload did not take effect: %+v", resp.Suggestions)
	}
}

func TestRegistryReloadFailureKeepsOldForest(t *testing.T) {
	registry := newTestRegistry(t, registryConfig())

	bad := registryConfig()
	// Fixed providers cannot build outside debug mode; flipping debug off
	// makes every rebuild fail while in-place reconfigure still succeeds
	// for unchanged nodes, so force a rebuild with a changed type.
	bad.Providers["pinned"] = &config.ProviderNode{Type: "telepathy"}
	if err := registry.Reload(context.Background(), bad); err == nil {
		t.Fatal("expected reload to fail")
	}

	resp, err := registry.Suggest(context.Background(), &suggest.SuggestionRequest{
		Query:              "zzz",
		RequestedProviders: []string{"pinned"},
	})
	if err != nil {
		t.Fatalf("suggest after failed reload failed: %v", err)
	}
	if len(resp.Suggestions) != 1 || resp.Suggestions[0].Title != "pinned" {
		t.Errorf("old forest must keep serving after a failed reload: %+v", resp.Suggestions)
	}
}
