// Package web implements the HTTP front-end: the suggest and providers
// endpoints, plus the request building that turns raw HTTP context (query
// parameters, Accept-Language, User-Agent, source IP) into a
// SuggestionRequest.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/mileusna/useragent"
	"github.com/mozilla-services/merino/internal/geo"
	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/config"
	"github.com/mozilla-services/merino/pkg/errors"
	"golang.org/x/text/language"
)

// RequestBuilder derives SuggestionRequests from HTTP requests.
type RequestBuilder struct {
	supported     []language.Tag
	defaultLocale language.Tag
	locator       geo.Locator
}

// NewRequestBuilder parses the supported-locale list once. Unparseable
// locales in the config are a setup error.
func NewRequestBuilder(cfg config.SuggestConfig, locator geo.Locator) (*RequestBuilder, error) {
	supported := make([]language.Tag, 0, len(cfg.SupportedLocales))
	for _, locale := range cfg.SupportedLocales {
		tag, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("%w: unsupported locale %q in config: %v", errors.ErrSetup, locale, err)
		}
		supported = append(supported, tag)
	}
	defaultTag, err := language.Parse(cfg.DefaultLocale)
	if err != nil {
		return nil, fmt.Errorf("%w: bad default locale %q: %v", errors.ErrSetup, cfg.DefaultLocale, err)
	}
	if locator == nil {
		locator = geo.Noop{}
	}
	return &RequestBuilder{
		supported:     supported,
		defaultLocale: defaultTag,
		locator:       locator,
	}, nil
}

// FromHTTP builds a normalized SuggestionRequest, or an invalid-input error
// for malformed parameters.
func (b *RequestBuilder) FromHTTP(ctx context.Context, r *http.Request) (*suggest.SuggestionRequest, error) {
	query := r.URL.Query()
	q := query.Get("q")
	if q == "" {
		return nil, errors.New(errors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'q' is required")
	}

	req := &suggest.SuggestionRequest{
		Query:              q,
		AcceptsEnglish:     b.acceptsEnglish(r.Header.Get("Accept-Language")),
		DeviceInfo:         deviceInfo(r.UserAgent()),
		ClientVariants:     splitCommaList(query.Get("client_variants")),
		RequestedProviders: splitCommaList(query.Get("providers")),
	}
	req.Normalize()

	location, err := b.locator.Locate(ctx, clientIP(r))
	if err == nil {
		req.Country = location.Country
		req.Region = location.Region
		req.City = location.City
		req.DMA = location.DMA
	}
	return req, nil
}

// acceptsEnglish negotiates the Accept-Language header against the supported
// locales and reports whether the client accepts English. An absent or
// unusable header, or one that names no supported language, falls back to
// the default locale. Locales are matched by base language.
func (b *RequestBuilder) acceptsEnglish(header string) bool {
	if header == "" {
		return isEnglish(b.defaultLocale)
	}
	if strings.Contains(header, "*") {
		return true
	}
	tags, weights, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return isEnglish(b.defaultLocale)
	}
	negotiated := false
	for i, tag := range tags {
		if weights[i] <= 0 {
			continue
		}
		base, _ := tag.Base()
		for _, supported := range b.supported {
			if supportedBase, _ := supported.Base(); supportedBase == base {
				negotiated = true
				if isEnglish(tag) {
					return true
				}
			}
		}
	}
	if !negotiated {
		return isEnglish(b.defaultLocale)
	}
	return false
}

func isEnglish(tag language.Tag) bool {
	base, _ := tag.Base()
	return base.String() == "en"
}

// deviceInfo classifies the client device from its User-Agent.
func deviceInfo(userAgent string) suggest.DeviceInfo {
	ua := useragent.Parse(userAgent)

	formFactor := suggest.FormFactorOther
	switch {
	case ua.Mobile:
		formFactor = suggest.FormFactorPhone
	case ua.Tablet:
		formFactor = suggest.FormFactorTablet
	case ua.Desktop:
		formFactor = suggest.FormFactorDesktop
	}

	return suggest.DeviceInfo{
		FormFactor: formFactor,
		OSFamily:   strings.ToLower(ua.OS),
		Browser:    ua.Name,
	}
}

// splitCommaList parses a comma-separated query parameter, preserving order
// and dropping empty items.
func splitCommaList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	if len(items) == 0 {
		return nil
	}
	return items
}

// clientIP extracts the request's source IP, preferring the first hop of
// X-Forwarded-For.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
