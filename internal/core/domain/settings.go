package domain

// Default chunking bounds. Token counts are with respect to the active
// embedder's tokenizer.
const (
	DefaultMaxChunkTokens     = 512
	DefaultMinChunkTokens     = 50
	DefaultChunkOverlapTokens = 0
)

// Default search knobs.
const (
	DefaultTopK        = 10
	DefaultHybridAlpha = 0.5
)

// ChunkSettings bound the chunker's output.
type ChunkSettings struct {
	// MaxTokens is the upper bound per chunk.
	MaxTokens int

	// MinTokens is the lower bound; split output below it is merged or
	// dropped. A whole input that fits MaxTokens is kept regardless.
	MinTokens int

	// OverlapTokens is the sliding-window overlap. Zero selects the
	// per-strategy default.
	OverlapTokens int
}

// DefaultChunkSettings returns the standard chunking bounds.
func DefaultChunkSettings() ChunkSettings {
	return ChunkSettings{
		MaxTokens:     DefaultMaxChunkTokens,
		MinTokens:     DefaultMinChunkTokens,
		OverlapTokens: DefaultChunkOverlapTokens,
	}
}

// CollectionSettings are the per-collection defaults applied when a
// request does not override them.
type CollectionSettings struct {
	// Chunking bounds for documents ingested into the collection.
	Chunking ChunkSettings `json:"chunking"`

	// TopK is the default number of search results.
	TopK int `json:"top_k"`

	// HybridAlpha is the default dense weight in [0,1].
	HybridAlpha float64 `json:"hybrid_alpha"`
}

// DefaultCollectionSettings returns the standard per-collection defaults.
func DefaultCollectionSettings() CollectionSettings {
	return CollectionSettings{
		Chunking:    DefaultChunkSettings(),
		TopK:        DefaultTopK,
		HybridAlpha: DefaultHybridAlpha,
	}
}
