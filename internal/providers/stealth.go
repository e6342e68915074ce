package providers

import (
	"context"
	"fmt"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
)

// Stealth runs its child and discards the results. It is used to dark-launch
// a provider against production traffic before promoting it. The child still
// participates in cache inputs, so its entries are warm once promoted.
type Stealth struct {
	inner suggest.Provider
}

// NewStealth wraps inner.
func NewStealth(inner suggest.Provider) *Stealth {
	return &Stealth{inner: inner}
}

func (s *Stealth) Name() string {
	return fmt.Sprintf("stealth(%s)", s.inner.Name())
}

func (s *Stealth) Suggest(ctx context.Context, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	if _, err := s.inner.Suggest(ctx, req); err != nil {
		return nil, err
	}
	return suggest.EmptyResponse(), nil
}

func (s *Stealth) CacheInputs(req *suggest.SuggestionRequest, inputs suggest.CacheInputs) {
	s.inner.CacheInputs(req, inputs)
}

func (s *Stealth) IsComplete() bool {
	return s.inner.IsComplete()
}

func (s *Stealth) Reconfigure(node *config.ProviderNode) error {
	if node.Type != config.TypeStealth || node.Inner == nil {
		return errCannotReconfigure(node.Type, "stealth")
	}
	return s.inner.Reconfigure(node.Inner)
}
