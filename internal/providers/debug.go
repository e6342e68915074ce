package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/errors"
)

// Debug echoes the parsed request back as the suggestion title, which makes
// it easy to see what the server derived from the raw HTTP request.
type Debug struct{}

// NewDebug creates a Debug provider. It refuses to build outside debug mode.
func NewDebug(debug bool) (*Debug, error) {
	if !debug {
		return nil, fmt.Errorf("%w: debug provider can only be used in debug mode", errors.ErrMisconfigured)
	}
	return &Debug{}, nil
}

func (*Debug) Name() string {
	return "debug"
}

func (*Debug) Suggest(ctx context.Context, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: serializing request: %v", errors.ErrInternal, err)
	}
	return suggest.NewResponse([]suggest.Suggestion{{
		BlockID:     0,
		Title:       string(payload),
		URL:         "about:blank",
		Provider:    "debug",
		Advertiser:  "debug",
		IsSponsored: false,
		Score:       0,
	}}), nil
}

func (*Debug) CacheInputs(req *suggest.SuggestionRequest, inputs suggest.CacheInputs) {
	suggest.AddAllCacheInputs(req, inputs)
}

func (*Debug) IsComplete() bool {
	return true
}

func (*Debug) Reconfigure(node *config.ProviderNode) error {
	return nil
}
