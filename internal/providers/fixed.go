package providers

import (
	"context"
	"fmt"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/errors"
)

// Fixed always returns one suggestion with a configurable title. Development
// and testing only.
type Fixed struct {
	value string
}

// NewFixed creates a Fixed provider. It refuses to build outside debug mode.
func NewFixed(debug bool, node *config.ProviderNode) (*Fixed, error) {
	if !debug {
		return nil, fmt.Errorf("%w: fixed provider can only be used in debug mode", errors.ErrMisconfigured)
	}
	return &Fixed{value: node.Value}, nil
}

func (f *Fixed) Name() string {
	return fmt.Sprintf("fixed(%s)", f.value)
}

func (f *Fixed) Suggest(ctx context.Context, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	return suggest.NewResponse([]suggest.Suggestion{{
		BlockID:     0,
		FullKeyword: "",
		Title:       f.value,
		URL:         "https://merino.services.mozilla.com/test/suggestion",
		Provider:    f.Name(),
		Advertiser:  "test_advertiser",
		IsSponsored: false,
		Score:       0,
	}}), nil
}

func (*Fixed) CacheInputs(req *suggest.SuggestionRequest, inputs suggest.CacheInputs) {
	// No property of the request changes the response.
}

func (*Fixed) IsComplete() bool {
	return true
}

func (f *Fixed) Reconfigure(node *config.ProviderNode) error {
	if node.Type != config.TypeFixed || node.Value == "" {
		return fmt.Errorf("fixed provider cannot apply %q config", node.Type)
	}
	f.value = node.Value
	return nil
}
