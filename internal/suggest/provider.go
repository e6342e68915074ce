package suggest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/mozilla-services/merino/pkg/config"
)

// CacheInputs collects the request fields a provider subtree reads. Hashing
// only declared inputs keeps cache keys minimal and stable.
type CacheInputs interface {
	Add(data []byte)
}

// Provider is one node of the provider tree. Implementations must be safe
// under concurrent Suggest calls on the same instance.
type Provider interface {
	// Name is the operator-visible name, used in logs and metric tags.
	Name() string

	// Suggest answers the request. It may block on I/O and must honor ctx
	// cancellation.
	Suggest(ctx context.Context, req *SuggestionRequest) (*SuggestionResponse, error)

	// CacheInputs contributes exactly the request fields that affect this
	// provider's output. Combinators forward to children in declared order;
	// leaves that ignore a field must not contribute it.
	CacheInputs(req *SuggestionRequest, inputs CacheInputs)

	// IsComplete reports whether the provider can ever yield suggestions.
	// The tree builder leaves incomplete children out of a multiplexer.
	IsComplete() bool

	// Reconfigure applies new tunables in place where possible. Providers
	// that cannot apply the node return an error, and the registry rebuilds
	// them from scratch instead.
	Reconfigure(node *config.ProviderNode) error
}

// CacheKeyHash digests the provider name and its declared cache inputs into
// a hex string. Cache tiers prepend their own key prefixes.
func CacheKeyHash(p Provider, req *SuggestionRequest) string {
	h := sha256.New()
	h.Write([]byte(p.Name()))
	p.CacheInputs(req, hashInputs{h})
	return fmt.Sprintf("%x", h.Sum(nil))
}

// CacheKey derives the versioned cache key for a request under a provider
// subtree.
func CacheKey(p Provider, req *SuggestionRequest) string {
	return "provider:v1:" + CacheKeyHash(p, req)
}

// hashInputs adapts a hash.Hash to the CacheInputs interface.
type hashInputs struct {
	h interface{ Write([]byte) (int, error) }
}

func (hi hashInputs) Add(data []byte) {
	hi.h.Write(data)
	// Length-prefix framing so adjacent inputs cannot collide by
	// concatenation.
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(data)))
	hi.h.Write(n[:])
}

// AddAllCacheInputs contributes every request field. Leaves whose output
// depends on the whole request use this; most narrow it down.
func AddAllCacheInputs(req *SuggestionRequest, inputs CacheInputs) {
	inputs.Add([]byte(req.Query))
	inputs.Add([]byte{boolByte(req.AcceptsEnglish)})
	inputs.Add([]byte(orNone(req.Country)))
	inputs.Add([]byte(orNone(req.Region)))
	inputs.Add([]byte(orNone(req.City)))
	var dma [2]byte
	binary.BigEndian.PutUint16(dma[:], uint16(req.DMA))
	inputs.Add(dma[:])
	inputs.Add([]byte(req.DeviceInfo.String()))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
