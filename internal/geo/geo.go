// Package geo defines the geolocation hook the web layer consumes. The
// production lookup (a MaxMind-style database) is an external collaborator;
// this package carries the interface plus implementations for deployments
// without one.
package geo

import (
	"context"

	"github.com/mozilla-services/merino/pkg/config"
)

// Location is the context a lookup derives from a client IP. Empty fields
// mean unknown.
type Location struct {
	Country string
	Region  string
	City    string
	DMA     int
}

// Locator resolves a client IP to a Location. Implementations must be safe
// for concurrent use. Lookups are best-effort: an error downgrades the
// request to no location, never fails it.
type Locator interface {
	Locate(ctx context.Context, ip string) (Location, error)
}

// Static returns the same configured location for every lookup. Used in
// development and tests.
type Static struct {
	location Location
}

// NewStatic builds a Static locator from config.
func NewStatic(cfg config.LocationConfig) *Static {
	return &Static{location: Location{
		Country: cfg.Country,
		Region:  cfg.Region,
		City:    cfg.City,
		DMA:     cfg.DMA,
	}}
}

func (s *Static) Locate(ctx context.Context, ip string) (Location, error) {
	return s.location, nil
}

// Noop reports no location for every lookup.
type Noop struct{}

func (Noop) Locate(ctx context.Context, ip string) (Location, error) {
	return Location{}, nil
}
