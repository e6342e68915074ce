package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mozilla-services/merino/internal/analytics"
	"github.com/mozilla-services/merino/internal/providers"
	"github.com/mozilla-services/merino/internal/suggest"
	pkgerrors "github.com/mozilla-services/merino/pkg/errors"
	"github.com/mozilla-services/merino/pkg/logger"
	"github.com/mozilla-services/merino/pkg/metrics"
)

// shortCacheMaxAge is the client cache lifetime for responses that were not
// served from a cache hit.
const shortCacheMaxAge = 10 * time.Second

// Handler serves the suggestion API.
type Handler struct {
	registry  *providers.Registry
	requests  *RequestBuilder
	collector *analytics.Collector
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a Handler. collector may be nil when telemetry is disabled.
func New(registry *providers.Registry, requests *RequestBuilder, collector *analytics.Collector, m *metrics.Metrics) *Handler {
	return &Handler{
		registry:  registry,
		requests:  requests,
		collector: collector,
		metrics:   m,
		logger:    logger.WithComponent("suggest-handler"),
	}
}

// suggestResponse is the JSON shape of the suggest endpoint.
type suggestResponse struct {
	ClientVariants []string             `json:"client_variants"`
	ServerVariants []string             `json:"server_variants"`
	RequestID      string               `json:"request_id"`
	Suggestions    []suggest.Suggestion `json:"suggestions"`
}

// Suggest handles GET /api/v1/suggest.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	requestID := logger.RequestID(ctx)

	req, err := h.requests.FromHTTP(ctx, r)
	if err != nil {
		h.writeError(w, pkgerrors.HTTPStatusCode(err), "invalid request")
		return
	}

	resp, err := h.registry.Suggest(ctx, req)
	if err != nil {
		log.Error("error providing suggestions", "error", err)
		h.writeError(w, http.StatusInternalServerError, "error providing suggestions")
		return
	}

	latency := time.Since(start)
	log.Debug("providing suggestions",
		"query_len", len(req.Query),
		"suggestion_count", len(resp.Suggestions),
		"cache_status", resp.CacheStatus.String(),
		"latency_ms", latency.Milliseconds(),
	)
	h.metrics.SuggestionsPerRequest.Observe(float64(len(resp.Suggestions)))
	for _, variant := range req.ClientVariants {
		h.metrics.ClientVariantsTotal.WithLabelValues(variant).Inc()
	}
	if h.collector != nil {
		h.collector.Track(analytics.SuggestEvent{
			RequestID:      requestID,
			Providers:      req.RequestedProviders,
			ClientVariants: req.ClientVariants,
			AcceptsEnglish: req.AcceptsEnglish,
			Country:        req.Country,
			FormFactor:     req.DeviceInfo.FormFactor,
			SuggestionsN:   len(resp.Suggestions),
			CacheStatus:    resp.CacheStatus.String(),
			LatencyMs:      latency.Milliseconds(),
			Timestamp:      time.Now().UTC(),
		})
	}

	suggestions := resp.Suggestions
	if suggestions == nil {
		suggestions = []suggest.Suggestion{}
	}
	clientVariants := req.ClientVariants
	if clientVariants == nil {
		clientVariants = []string{}
	}

	w.Header().Set("X-Cache", resp.CacheStatus.String())
	w.Header().Set("Cache-Control", cacheControl(resp))
	h.writeJSON(w, http.StatusOK, suggestResponse{
		ClientVariants: clientVariants,
		ServerVariants: []string{},
		RequestID:      requestID,
		Suggestions:    suggestions,
	})
}

// cacheControl derives the response cache header from the aggregate cache
// status: a hit is cacheable for its remaining TTL, everything else only
// briefly.
func cacheControl(resp *suggest.SuggestionResponse) string {
	maxAge := shortCacheMaxAge
	if resp.CacheStatus == suggest.CacheStatusHit && resp.CacheTTL > 0 {
		maxAge = resp.CacheTTL
	}
	return fmt.Sprintf("public, max-age=%d", int(maxAge.Seconds()))
}

// providersResponse is the JSON shape of the providers endpoint.
type providersResponse struct {
	Providers map[string]providers.ProviderInfo `json:"providers"`
}

// Providers handles GET /api/v1/providers.
func (h *Handler) Providers(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.Providers()
	byID := make(map[string]providers.ProviderInfo, len(infos))
	for _, info := range infos {
		byID[info.ID] = info
	}
	h.writeJSON(w, http.StatusOK, providersResponse{Providers: byID})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
