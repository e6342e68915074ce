package providers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
)

// Timeout bounds the latency of its child. If the child overruns, its work is
// cancelled and an empty response is returned; the operation never fails
// visibly on expiry.
type Timeout struct {
	// maxTime holds the budget in nanoseconds. Atomic so Reconfigure can
	// adjust it under in-flight requests.
	maxTime atomic.Int64
	inner   suggest.Provider
}

// NewTimeout wraps inner with a wall-clock budget.
func NewTimeout(maxTime time.Duration, inner suggest.Provider) *Timeout {
	t := &Timeout{inner: inner}
	t.maxTime.Store(int64(maxTime))
	return t
}

func (t *Timeout) Name() string {
	return fmt.Sprintf("timeout(%s)", t.inner.Name())
}

func (t *Timeout) Suggest(ctx context.Context, req *suggest.SuggestionRequest) (*suggest.SuggestionResponse, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(t.maxTime.Load()))
	defer cancel()

	type result struct {
		resp *suggest.SuggestionResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := t.inner.Suggest(timeoutCtx, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return suggest.EmptyResponse().WithCacheStatus(suggest.CacheStatusNone), nil
	}
}

func (t *Timeout) CacheInputs(req *suggest.SuggestionRequest, inputs suggest.CacheInputs) {
	t.inner.CacheInputs(req, inputs)
}

func (t *Timeout) IsComplete() bool {
	return t.inner.IsComplete()
}

func (t *Timeout) Reconfigure(node *config.ProviderNode) error {
	if node.Type != config.TypeTimeout || node.Inner == nil {
		return errCannotReconfigure(node.Type, "timeout")
	}
	if err := t.inner.Reconfigure(node.Inner); err != nil {
		return err
	}
	t.maxTime.Store(int64(node.MaxTime()))
	return nil
}
