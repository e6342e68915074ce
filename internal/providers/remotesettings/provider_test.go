package remotesettings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/metrics"
	"github.com/mozilla-services/merino/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeServer is an in-process Remote Settings server whose record set can be
// swapped between syncs.
type fakeServer struct {
	mu          sync.Mutex
	records     []map[string]any
	attachments map[string][]AdmSuggestion
	failing     bool
	server      *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{attachments: map[string][]AdmSuggestion{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failing {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"capabilities": map[string]any{
				"attachments": map[string]any{"base_url": f.server.URL + "/attachments/"},
			},
		})
	})
	mux.HandleFunc("/buckets/main/collections/quicksuggest/records", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failing {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": f.records})
	})
	mux.HandleFunc("/attachments/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		name := r.URL.Path[len("/attachments/"):]
		batch, ok := f.attachments[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(batch)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// setCoffeeRecords installs one icon record and one data attachment with a
// sponsored coffee suggestion.
func (f *fakeServer) setCoffeeRecords() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = []map[string]any{
		{"id": "icon-2", "type": "icon", "attachment": map[string]any{"location": "icon-2.png"}},
		{"id": "data-1", "type": "data", "attachment": map[string]any{"location": "data-1.json"}},
	}
	f.attachments["data-1.json"] = []AdmSuggestion{{
		ID:            3,
		URL:           "https://example.com/target/coffee",
		ClickURL:      "https://example.com/click/coffee",
		ImpressionURL: "https://example.com/impression/coffee",
		IabCategory:   "22 - Shopping",
		Icon:          "2",
		Advertiser:    "Example Coffee Co",
		Title:         "Coffee",
		Keywords:      []string{"co", "cof", "coffee"},
		Score:         0.3,
	}}
}

func (f *fakeServer) setInlineRecords(title string, keywords []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = []map[string]any{
		{"id": "data-inline", "type": "data", "suggestions": []AdmSuggestion{{
			ID:       11,
			URL:      "https://example.com/" + title,
			Title:    title,
			Keywords: keywords,
		}}},
	}
}

func (f *fakeServer) setEmpty() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = nil
}

func (f *fakeServer) setFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func newTestProvider(t *testing.T, f *fakeServer, m *metrics.Metrics) *Provider {
	t.Helper()
	breaker := resilience.NewCircuitBreaker("test-remote-settings", resilience.CircuitBreakerConfig{
		FailureThreshold: 1000,
	})
	client := NewClient(f.server.Client(), f.server.URL, "main", "quicksuggest", breaker)
	node := &config.ProviderNode{
		Type:              config.TypeRemoteSettings,
		ResyncIntervalSec: 3600,
		SuggestionScore:   0.2,
	}
	p, err := New(context.Background(), client, node, m)
	if err != nil {
		t.Fatalf("building provider failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSuggestCoffee(t *testing.T) {
	f := newFakeServer(t)
	f.setCoffeeRecords()
	p := newTestProvider(t, f, metrics.NewForTest())

	resp, err := p.Suggest(context.Background(), &suggest.SuggestionRequest{Query: "coffee", AcceptsEnglish: true})
	if err != nil {
		t.Fatalf("suggest failed: %v", err)
	}
	if len(resp.Suggestions) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(resp.Suggestions))
	}
	s := resp.Suggestions[0]
	if s.BlockID != 3 ||
		s.Title != "Coffee" ||
		s.URL != "https://example.com/target/coffee" ||
		s.Provider != "adm" ||
		!s.IsSponsored ||
		s.Score != 0.3 ||
		s.FullKeyword != "coffee" {
		t.Errorf("unexpected suggestion: %+v", s)
	}
	if s.Icon == "" {
		t.Error("expected icon URL to be resolved from the icon record")
	}
}

func TestSuggestRejectsShortAndUnknownQueries(t *testing.T) {
	f := newFakeServer(t)
	f.setCoffeeRecords()
	p := newTestProvider(t, f, metrics.NewForTest())

	for _, query := range []string{"co", "tea", ""} {
		resp, err := p.Suggest(context.Background(), &suggest.SuggestionRequest{Query: query, AcceptsEnglish: true})
		if err != nil {
			t.Fatalf("suggest %q failed: %v", query, err)
		}
		if len(resp.Suggestions) != 0 {
			t.Errorf("query %q: expected empty response, got %+v", query, resp.Suggestions)
		}
	}
}

func TestSuggestEnglishOnly(t *testing.T) {
	f := newFakeServer(t)
	f.setCoffeeRecords()
	p := newTestProvider(t, f, metrics.NewForTest())

	resp, err := p.Suggest(context.Background(), &suggest.SuggestionRequest{Query: "coffee", AcceptsEnglish: false})
	if err != nil {
		t.Fatalf("suggest failed: %v", err)
	}
	if len(resp.Suggestions) != 0 {
		t.Errorf("non-English request must get an empty response, got %+v", resp.Suggestions)
	}
}

func TestResyncReplacesSnapshot(t *testing.T) {
	f := newFakeServer(t)
	f.setInlineRecords("Tree", []string{"tree"})
	p := newTestProvider(t, f, metrics.NewForTest())

	resp, err := p.Suggest(context.Background(), &suggest.SuggestionRequest{Query: "tree", AcceptsEnglish: true})
	if err != nil || len(resp.Suggestions) != 1 || resp.Suggestions[0].Title != "Tree" {
		t.Fatalf("expected Tree before resync, got %+v, %v", resp.Suggestions, err)
	}
	if resp, _ := p.Suggest(context.Background(), &suggest.SuggestionRequest{Query: "flower", AcceptsEnglish: true}); len(resp.Suggestions) != 0 {
		t.Fatalf("flower must be empty before the new record set")
	}

	f.setInlineRecords("Tree 2", []string{"tree", "flower"})
	if err := p.Sync(context.Background()); err != nil {
		t.Fatalf("resync failed: %v", err)
	}

	resp, err = p.Suggest(context.Background(), &suggest.SuggestionRequest{Query: "tree", AcceptsEnglish: true})
	if err != nil || len(resp.Suggestions) != 1 || resp.Suggestions[0].Title != "Tree 2" {
		t.Fatalf("expected Tree 2 after resync, got %+v, %v", resp.Suggestions, err)
	}
	if resp, _ := p.Suggest(context.Background(), &suggest.SuggestionRequest{Query: "flower", AcceptsEnglish: true}); len(resp.Suggestions) != 1 {
		t.Errorf("flower must be answerable after the new record set")
	}
}

func TestEmptySyncStillReplacesSnapshot(t *testing.T) {
	f := newFakeServer(t)
	f.setInlineRecords("Tree", []string{"tree"})
	m := metrics.NewForTest()
	p := newTestProvider(t, f, m)

	f.setEmpty()
	if err := p.Sync(context.Background()); err != nil {
		t.Fatalf("empty sync must not fail: %v", err)
	}
	if got := testutil.ToFloat64(m.EmptySyncsTotal); got != 1 {
		t.Errorf("expected 1 empty-sync count, got %v", got)
	}
	resp, err := p.Suggest(context.Background(), &suggest.SuggestionRequest{Query: "tree", AcceptsEnglish: true})
	if err != nil || len(resp.Suggestions) != 0 {
		t.Errorf("records deleted upstream must stop being served, got %+v, %v", resp.Suggestions, err)
	}
}

func TestFailedSyncKeepsPreviousSnapshot(t *testing.T) {
	f := newFakeServer(t)
	f.setInlineRecords("Tree", []string{"tree"})
	p := newTestProvider(t, f, metrics.NewForTest())

	f.setFailing(true)
	if err := p.Sync(context.Background()); err == nil {
		t.Fatal("expected sync against a failing server to error")
	}

	resp, err := p.Suggest(context.Background(), &suggest.SuggestionRequest{Query: "tree", AcceptsEnglish: true})
	if err != nil || len(resp.Suggestions) != 1 {
		t.Errorf("previous snapshot must keep serving after a failed sync, got %+v, %v", resp.Suggestions, err)
	}
}

func TestSuggestionsWithoutKeywordsAreSkipped(t *testing.T) {
	f := newFakeServer(t)
	f.setInlineRecords("No Keywords", nil)
	p := newTestProvider(t, f, metrics.NewForTest())

	resp, err := p.Suggest(context.Background(), &suggest.SuggestionRequest{Query: "no keywords", AcceptsEnglish: true})
	if err != nil || len(resp.Suggestions) != 0 {
		t.Errorf("keyword-less suggestions must not be indexed, got %+v, %v", resp.Suggestions, err)
	}
}
