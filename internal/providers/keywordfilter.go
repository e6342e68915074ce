package providers

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync/atomic"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/errors"
	"github.com/mozilla-services/merino/pkg/logger"
	"github.com/mozilla-services/merino/pkg/metrics"
)

// KeywordFilter drops every suggestion whose title matches a blocklist rule.
// Matches are counted per rule id.
type KeywordFilter struct {
	rules   atomic.Pointer[blocklist]
	inner   suggest.Provider
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// blocklist is a compiled rule set. Rules are kept sorted by id so the rule
// hash, and with it the cache key, is stable across restarts.
type blocklist struct {
	ids      []string
	patterns []*regexp.Regexp
	hash     [sha256.Size]byte
}

func compileBlocklist(rules map[string]string) (*blocklist, error) {
	ids := make([]string, 0, len(rules))
	for id := range rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	bl := &blocklist{ids: ids}
	hasher := sha256.New()
	for _, id := range ids {
		pattern, err := regexp.Compile("(?i)" + rules[id])
		if err != nil {
			return nil, fmt.Errorf("%w: compiling blocklist rule %q: %v", errors.ErrMisconfigured, id, err)
		}
		bl.patterns = append(bl.patterns, pattern)
		hasher.Write([]byte(rules[id]))
	}
	copy(bl.hash[:], hasher.Sum(nil))
	return bl, nil
}

// NewKeywordFilter compiles the blocklist and wraps inner.
func NewKeywordFilter(rules map[string]string, inner suggest.Provider, m *metrics.Metrics) (*KeywordFilter, error) {
	bl, err := compileBlocklist(rules)
	if err != nil {
		return nil, err
	}
	f := &KeywordFilter{
		inner:   inner,
		metrics: m,
		logger:  logger.WithComponent("keyword-filter"),
	}
	f.rules.Store(bl)
	return f, nil
}

func (f *KeywordFilter) Name() string {
	return fmt.Sprintf("keyword_filter(%s)", f.inner.Name())
}

func (f *KeywordFilter) Suggest(ctx context.Context, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	resp, err := f.inner.Suggest(ctx, req)
	if err != nil {
		f.logger.Error("inner provider failed", "provider", f.inner.Name(), "error", err)
		return suggest.EmptyResponse(), nil
	}

	bl := f.rules.Load()
	// The inner response may alias a cache entry's stored slice; filtering
	// must build a fresh slice rather than rewrite that backing array.
	kept := make([]suggest.Suggestion, 0, len(resp.Suggestions))
	for _, s := range resp.Suggestions {
		blocked := false
		for i, pattern := range bl.patterns {
			if pattern.MatchString(s.Title) {
				blocked = true
				f.metrics.KeywordFilterMatchesTotal.WithLabelValues(bl.ids[i]).Inc()
			}
		}
		if !blocked {
			kept = append(kept, s)
		}
	}
	resp.Suggestions = kept
	return resp, nil
}

func (f *KeywordFilter) CacheInputs(req *suggest.SuggestionRequest, inputs suggest.CacheInputs) {
	bl := f.rules.Load()
	inputs.Add(bl.hash[:])
	f.inner.CacheInputs(req, inputs)
}

func (f *KeywordFilter) IsComplete() bool {
	return f.inner.IsComplete()
}

func (f *KeywordFilter) Reconfigure(node *config.ProviderNode) error {
	if node.Type != config.TypeKeywordFilter || node.Inner == nil {
		return errCannotReconfigure(node.Type, "keyword_filter")
	}
	bl, err := compileBlocklist(node.SuggestionBlocklist)
	if err != nil {
		return err
	}
	if err := f.inner.Reconfigure(node.Inner); err != nil {
		return err
	}
	f.rules.Store(bl)
	return nil
}

func errCannotReconfigure(got, want string) error {
	return fmt.Errorf("%s provider cannot apply %q config", want, got)
}
