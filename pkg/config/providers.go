package config

import (
	"fmt"
	"time"
)

// Provider node types understood by the tree builder.
const (
	TypeRemoteSettings = "remote_settings"
	TypeMultiplexer    = "multiplexer"
	TypeTimeout        = "timeout"
	TypeKeywordFilter  = "keyword_filter"
	TypeStealth        = "stealth"
	TypeMemoryCache    = "memory_cache"
	TypeRedisCache     = "redis_cache"
	TypeWikiFruit      = "wiki_fruit"
	TypeDebug          = "debug"
	TypeFixed          = "fixed"
	TypeNull           = "null"
)

// Availability states for a root provider, as reported by the providers
// endpoint.
const (
	AvailabilityEnabledByDefault  = "enabled_by_default"
	AvailabilityDisabledByDefault = "disabled_by_default"
	AvailabilityHidden            = "hidden"
)

// ProviderNode is one node of the declarative provider tree. Type selects the
// kind; the remaining fields are kind-specific and ignored by other kinds.
type ProviderNode struct {
	Type string `yaml:"type"`

	// Availability is only meaningful on root nodes. Empty means
	// enabled_by_default.
	Availability string `yaml:"availability"`

	// Inner is the single child of timeout, keyword_filter, stealth,
	// memory_cache, and redis_cache nodes.
	Inner *ProviderNode `yaml:"inner"`

	// Providers are the ordered children of a multiplexer node.
	Providers []*ProviderNode `yaml:"providers"`

	// Timeout node.
	MaxTimeMS int `yaml:"max_time_ms"`

	// Keyword filter node: rule id -> regular expression over titles.
	SuggestionBlocklist map[string]string `yaml:"suggestion_blocklist"`

	// Cache nodes.
	DefaultTTLSec         int `yaml:"default_ttl_sec"`
	DefaultLockTimeoutSec int `yaml:"default_lock_timeout_sec"`
	CleanupIntervalSec    int `yaml:"cleanup_interval_sec"`
	MaxRemovedEntries     int `yaml:"max_removed_entries"`

	// Remote settings node. Bucket and Collection default to the global
	// remoteSettings section when empty.
	Bucket            string  `yaml:"bucket"`
	Collection        string  `yaml:"collection"`
	ResyncIntervalSec int     `yaml:"resync_interval_sec"`
	SuggestionScore   float64 `yaml:"suggestion_score"`
	MinKeywordLength  int     `yaml:"min_keyword_length"`
	EnglishOnly       *bool   `yaml:"english_only"`

	// Fixed node.
	Value string `yaml:"value"`
}

// Cache and sync defaults, applied when the corresponding node field is zero.
const (
	DefaultCacheTTL         = 15 * time.Minute
	DefaultLockTimeout      = 3 * time.Second
	DefaultCleanupInterval  = 5 * time.Minute
	DefaultMaxRemoved       = 100_000
	DefaultResyncInterval   = 3 * time.Hour
	DefaultSuggestionScore  = 0.3
	DefaultMinKeywordLength = 3
	DefaultMaxTime          = 200 * time.Millisecond
)

// DefaultTTL returns the configured entry TTL, or the default.
func (n *ProviderNode) DefaultTTL() time.Duration {
	if n.DefaultTTLSec <= 0 {
		return DefaultCacheTTL
	}
	return time.Duration(n.DefaultTTLSec) * time.Second
}

// LockTimeout returns the configured single-flight lock timeout, or the
// default.
func (n *ProviderNode) LockTimeout() time.Duration {
	if n.DefaultLockTimeoutSec <= 0 {
		return DefaultLockTimeout
	}
	return time.Duration(n.DefaultLockTimeoutSec) * time.Second
}

// CleanupInterval returns the configured sweep period, or the default.
func (n *ProviderNode) CleanupInterval() time.Duration {
	if n.CleanupIntervalSec <= 0 {
		return DefaultCleanupInterval
	}
	return time.Duration(n.CleanupIntervalSec) * time.Second
}

// SweepLimit returns the per-sweep removal bound, or the default.
func (n *ProviderNode) SweepLimit() int {
	if n.MaxRemovedEntries <= 0 {
		return DefaultMaxRemoved
	}
	return n.MaxRemovedEntries
}

// ResyncInterval returns the configured resync period, or the default.
func (n *ProviderNode) ResyncInterval() time.Duration {
	if n.ResyncIntervalSec <= 0 {
		return DefaultResyncInterval
	}
	return time.Duration(n.ResyncIntervalSec) * time.Second
}

// MaxTime returns the configured timeout budget, or the default.
func (n *ProviderNode) MaxTime() time.Duration {
	if n.MaxTimeMS <= 0 {
		return DefaultMaxTime
	}
	return time.Duration(n.MaxTimeMS) * time.Millisecond
}

// Score returns the configured suggestion score, or the default.
func (n *ProviderNode) Score() float64 {
	if n.SuggestionScore <= 0 {
		return DefaultSuggestionScore
	}
	return n.SuggestionScore
}

// MinQueryLength returns the shortest query the remote-settings leaf will
// answer, or the default.
func (n *ProviderNode) MinQueryLength() int {
	if n.MinKeywordLength <= 0 {
		return DefaultMinKeywordLength
	}
	return n.MinKeywordLength
}

// AcceptsNonEnglish reports whether the remote-settings leaf should answer
// requests that do not accept English. Defaults to false: the adM data set is
// English-only.
func (n *ProviderNode) AcceptsNonEnglish() bool {
	if n.EnglishOnly == nil {
		return false
	}
	return !*n.EnglishOnly
}

// validate checks a node and its children. path names the node's position in
// the tree, e.g. "adm.providers[1]".
func (n *ProviderNode) validate(path string) error {
	if n == nil {
		return fmt.Errorf("provider node %s: missing", path)
	}
	switch n.Type {
	case TypeMultiplexer:
		if len(n.Providers) == 0 {
			return fmt.Errorf("provider node %s: multiplexer has no children", path)
		}
		for i, child := range n.Providers {
			if err := child.validate(fmt.Sprintf("%s.providers[%d]", path, i)); err != nil {
				return err
			}
		}
	case TypeTimeout, TypeKeywordFilter, TypeStealth, TypeMemoryCache, TypeRedisCache:
		if n.Inner == nil {
			return fmt.Errorf("provider node %s: %s has no inner provider", path, n.Type)
		}
		if err := n.Inner.validate(path + ".inner"); err != nil {
			return err
		}
	case TypeRemoteSettings, TypeWikiFruit, TypeDebug, TypeNull:
	case TypeFixed:
		if n.Value == "" {
			return fmt.Errorf("provider node %s: fixed provider needs a value", path)
		}
	default:
		return fmt.Errorf("provider node %s: unknown type %q", path, n.Type)
	}
	switch n.Availability {
	case "", AvailabilityEnabledByDefault, AvailabilityDisabledByDefault, AvailabilityHidden:
	default:
		return fmt.Errorf("provider node %s: unknown availability %q", path, n.Availability)
	}
	return nil
}
