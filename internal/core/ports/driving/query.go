package driving

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/custodia-labs/passage/internal/core/domain"
)

// QueryConfig tunes one search request. The zero value is completed with
// defaults by the service.
type QueryConfig struct {
	// VectorK is the dense candidate budget (default 50).
	VectorK int

	// KeywordK is the lexical candidate budget (default 50).
	KeywordK int

	// RRFK is the reciprocal-rank-fusion constant (default 60).
	RRFK int

	// FinalK is the number of direct hits returned (default 10).
	FinalK int

	// HybridAlpha is the dense weight in [0,1]: 1 is dense only, 0 is
	// lexical only, values in between blend the two indices. Nil selects
	// the default 0.5; out-of-range values are clamped. Use Alpha to
	// build the pointer inline.
	HybridAlpha *float64

	// DisableExpand turns off context expansion, which is on by default
	// and includes the neighbour chunks of each hit.
	DisableExpand bool

	// MaxContextTokens bounds the summed token count of returned chunks
	// (default 4000).
	MaxContextTokens int

	// EnableTracing attaches per-stage timings to the result.
	EnableTracing bool
}

// Alpha returns a pointer to a hybrid weight, for inline QueryConfig
// literals.
func Alpha(v float64) *float64 {
	return &v
}

// QueryService answers search requests over the dual index.
type QueryService interface {
	// Search runs the full hybrid pipeline. Collection may be empty to
	// search everything.
	Search(ctx context.Context, query, collection string, cfg QueryConfig) (*domain.SearchResults, error)

	// VectorSearch is dense-only search without context expansion.
	VectorSearch(ctx context.Context, query, collection string, k int) (*domain.SearchResults, error)

	// KeywordSearch is lexical-only search without context expansion.
	KeywordSearch(ctx context.Context, query, collection string, k int) (*domain.SearchResults, error)

	// FindSimilar returns the k chunks most similar to an existing chunk,
	// excluding the chunk itself.
	FindSimilar(ctx context.Context, chunkID ulid.ULID, k int) (*domain.SearchResults, error)
}
