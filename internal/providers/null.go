// Package providers implements the provider tree: deterministic leaves, the
// combinators that compose them, the recursive tree builder, and the registry
// that serves requests from the built forest.
package providers

import (
	"context"
	"fmt"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
)

// Null ignores its input and returns nothing. It fills tree positions where
// a provider is required but none can be supplied.
type Null struct{}

// NewNull creates a Null provider.
func NewNull() *Null {
	return &Null{}
}

func (*Null) Name() string {
	return "null"
}

func (*Null) Suggest(ctx context.Context, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	return suggest.EmptyResponse(), nil
}

func (*Null) CacheInputs(req *suggest.SuggestionRequest, inputs suggest.CacheInputs) {
	// No property of the request changes the response.
}

func (*Null) IsComplete() bool {
	return false
}

func (*Null) Reconfigure(node *config.ProviderNode) error {
	if node.Type != config.TypeNull {
		return fmt.Errorf("null provider cannot apply %q config", node.Type)
	}
	return nil
}
