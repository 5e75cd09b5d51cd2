package driven

import "context"

// Embedder turns text into unit-norm dense vectors. Document and query
// encodings are asymmetric: implementations apply distinct preprocessing
// per mode, so embedding the same text in both modes yields different
// vectors.
//
// Contract: every returned vector has Euclidean norm 1.0 (±1e-3) and
// length Dimension(). Inputs longer than MaxTokens() fail with
// CodeTextTooLong; empty inputs fail with CodeEmptyText. Implementations
// batch internally; callers may pass an entire document's chunks in one
// EmbedDocuments call.
type Embedder interface {
	// EmbedDocuments encodes a batch of passage texts, one vector per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery encodes a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// CountTokens measures text with the model tokenizer (or its
	// estimator). Used by the chunker to bound chunk sizes.
	CountTokens(text string) int

	// Dimension returns the vector width.
	Dimension() int

	// MaxTokens returns the model context window.
	MaxTokens() int

	// ModelID returns a stable model identifier, stored once per store.
	ModelID() string
}
