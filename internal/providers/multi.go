package providers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Multi fans a request out to all children concurrently and concatenates
// their suggestions in declared order. A failing child is logged and skipped;
// the remaining children still serve the request.
type Multi struct {
	children []suggest.Provider
	logger   *slog.Logger
}

// NewMulti creates a multiplexer over the given children.
func NewMulti(children []suggest.Provider) *Multi {
	return &Multi{
		children: children,
		logger:   logger.WithComponent("multiplexer"),
	}
}

func (m *Multi) Name() string {
	names := make([]string, len(m.children))
	for i, child := range m.children {
		names[i] = child.Name()
	}
	return "multi(" + strings.Join(names, ", ") + ")"
}

func (m *Multi) Suggest(ctx context.Context, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	// Results are reassembled by child position, not completion order, so
	// the declared order always holds.
	responses := make([]*suggest.SuggestionResponse, len(m.children))
	g, gctx := errgroup.WithContext(ctx)
	for i, child := range m.children {
		i, child := i, child
		g.Go(func() error {
			resp, err := child.Suggest(gctx, req)
			if err != nil {
				m.logger.Error("child provider failed",
					"provider", child.Name(),
					"error", err,
				)
				return nil
			}
			responses[i] = resp
			return nil
		})
	}
	// Child errors are swallowed above and every goroutine returns nil, so
	// Wait reports no error.
	if err := g.Wait(); err != nil {
		return nil, err
	}

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

func (m *Multi) CacheInputs(req *suggest.SuggestionRequest, inputs suggest.CacheInputs) {
	for _, child := range m.children {
		child.CacheInputs(req, inputs)
	}
}

func (m *Multi) IsComplete() bool {
	for _, child := range m.children {
		if child.IsComplete() {
			return true
		}
	}
	return false
}

func (m *Multi) Reconfigure(node *config.ProviderNode) error {
	if node.Type != config.TypeMultiplexer || len(node.Providers) != len(m.children) {
		return errCannotReconfigure(node.Type, "multiplexer")
	}
	for i, child := range m.children {
		if err := child.Reconfigure(node.Providers[i]); err != nil {
			return err
		}
	}
	return nil
}
