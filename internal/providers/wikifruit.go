package providers

import (
	"context"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
)

// wikiFruitID is the provider string stamped on WikiFruit suggestions.
const wikiFruitID = "test_wiki_fruit"

// WikiFruit serves a fixed set of Wikipedia fruit articles. It is fully
// self-contained, which makes it useful for development and smoke tests.
type WikiFruit struct{}

// NewWikiFruit creates a WikiFruit provider.
func NewWikiFruit() *WikiFruit {
	return &WikiFruit{}
}

func (*WikiFruit) Name() string {
	return wikiFruitID
}

func (*WikiFruit) Suggest(ctx context.Context, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	switch req.Query {
	case "apple", "banana", "cherry":
	default:
		return suggest.EmptyResponse(), nil
	}
	fruit := req.Query
	title := "Wikipedia - " + titleCase(fruit)
	return suggest.NewResponse([]suggest.Suggestion{{
		BlockID:       1,
		FullKeyword:   fruit,
		Title:         title,
		URL:           "https://en.wikipedia.org/wiki/" + titleCase(fruit),
		ImpressionURL: "https://127.0.0.1/",
		ClickURL:      "https://127.0.0.1/",
		Provider:      wikiFruitID,
		Advertiser:    "Wikipedia",
		IsSponsored:   false,
		Icon:          "https://en.wikipedia.org/favicon.ico",
		Score:         0,
	}}), nil
}

func (*WikiFruit) CacheInputs(req *suggest.SuggestionRequest, inputs suggest.CacheInputs) {
	inputs.Add([]byte(req.Query))
}

func (*WikiFruit) IsComplete() bool {
	return true
}

func (*WikiFruit) Reconfigure(node *config.ProviderNode) error {
	return nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
