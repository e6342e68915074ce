package suggest

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/mozilla-services/merino/pkg/config"
)

// queryOnlyProvider only reads the query, so only the query may affect its
// cache key.
type queryOnlyProvider struct{}

func (queryOnlyProvider) Name() string { return "query-only" }

func (queryOnlyProvider) Suggest(ctx context.Context, req *SuggestionRequest) (*SuggestionResponse, error) {
	return EmptyResponse(), nil
}

func (queryOnlyProvider) CacheInputs(req *SuggestionRequest, inputs CacheInputs) {
	inputs.Add([]byte(req.Query))
}

func (queryOnlyProvider) IsComplete() bool { return true }

func (queryOnlyProvider) Reconfigure(node *config.ProviderNode) error { return nil }

func TestCacheKeyOnlyConsidersDeclaredInputs(t *testing.T) {
	base := SuggestionRequest{
		Query:          "apple",
		AcceptsEnglish: true,
		Country:        "US",
	}

	sameQuery := base
	sameQuery.AcceptsEnglish = false
	sameQuery.Country = "DE"

	otherQuery := base
	otherQuery.Query = "banana"

	p := queryOnlyProvider{}
	if CacheKey(p, &base) != CacheKey(p, &sameQuery) {
		t.Error("changing unread fields must not change the cache key")
	}
	if CacheKey(p, &base) == CacheKey(p, &otherQuery) {
		t.Error("changing the query must change the cache key")
	}
}

func TestCacheKeyInputFraming(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must hash differently.
	a := SuggestionRequest{Query: "ab", Country: "c"}
	b := SuggestionRequest{Query: "a", Country: "bc"}
	p := twoFieldProvider{}
	if CacheKey(p, &a) == CacheKey(p, &b) {
		t.Error("adjacent inputs must not collide by concatenation")
	}
}

type twoFieldProvider struct{}

func (twoFieldProvider) Name() string { return "two-field" }

func (twoFieldProvider) Suggest(ctx context.Context, req *SuggestionRequest) (*SuggestionResponse, error) {
	return EmptyResponse(), nil
}

func (twoFieldProvider) CacheInputs(req *SuggestionRequest, inputs CacheInputs) {
	inputs.Add([]byte(req.Query))
	inputs.Add([]byte(req.Country))
}

func (twoFieldProvider) IsComplete() bool { return true }

func (twoFieldProvider) Reconfigure(node *config.ProviderNode) error { return nil }

func TestSuggestionJSONRoundTrip(t *testing.T) {
	original := Suggestion{
		BlockID:       3,
		FullKeyword:   "coffee",
		Title:         "Coffee",
		URL:           "https://example.com/target/coffee",
		ImpressionURL: "https://example.com/impression",
		ClickURL:      "https://example.com/click",
		Provider:      "adm",
		Advertiser:    "Example Coffee Co",
		IsSponsored:   true,
		Icon:          "https://example.com/icon.png",
		Score:         0.3,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded Suggestion
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip mismatch:\n  original: %+v\n  decoded:  %+v", original, decoded)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Apple", "apple"},
		{"  CoFFee  ", "coffee"},
		{"", ""},
	}
	for _, tt := range tests {
		req := SuggestionRequest{Query: tt.in}
		req.Normalize()
		if req.Query != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, req.Query, tt.want)
		}
	}
}

func TestCacheStatusMerge(t *testing.T) {
	tests := []struct {
		a, b, want CacheStatus
	}{
		{CacheStatusHit, CacheStatusHit, CacheStatusHit},
		{CacheStatusHit, CacheStatusNone, CacheStatusHit},
		{CacheStatusNone, CacheStatusMiss, CacheStatusMiss},
		{CacheStatusHit, CacheStatusMiss, CacheStatusMixed},
		{CacheStatusNone, CacheStatusNone, CacheStatusNone},
	}
	for _, tt := range tests {
		if got := tt.a.Merge(tt.b); got != tt.want {
			t.Errorf("%v.Merge(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
