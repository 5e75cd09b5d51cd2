// Package hashed provides a deterministic, offline embedder. Vectors are
// derived from token hashes, so identical texts always embed identically
// and related texts land near each other. Used as the test double and for
// air-gapped smoke runs; retrieval quality is no substitute for a real
// model.
package hashed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/core/ports/driven"
)

// Ensure Embedder implements the interface.
var _ driven.Embedder = (*Embedder)(nil)

// Default configuration values.
const (
	DefaultDimensions = 256
	DefaultMaxTokens  = 8192
)

// Embedder hashes words into a fixed-width bag-of-words vector.
type Embedder struct {
	dimensions int
	maxTokens  int
}

// New creates a hashed embedder with default settings.
func New() *Embedder {
	return &Embedder{dimensions: DefaultDimensions, maxTokens: DefaultMaxTokens}
}

// NewWithConfig creates a hashed embedder with custom settings.
func NewWithConfig(dimensions, maxTokens int) *Embedder {
	return &Embedder{dimensions: dimensions, maxTokens: maxTokens}
}

// EmbedDocuments encodes passage texts.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.encode(ctx, text, "document")
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// EmbedQuery encodes a query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.encode(ctx, text, "query")
}

// CountTokens approximates tokens as whitespace-delimited words, with a
// floor of one per four characters for unbroken text.
func (e *Embedder) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := len(text) / 4
	if chars > words {
		return chars
	}
	if words == 0 {
		return 1
	}
	return words
}

// Dimension returns the vector width.
func (e *Embedder) Dimension() int {
	return e.dimensions
}

// MaxTokens returns the context window.
func (e *Embedder) MaxTokens() int {
	return e.maxTokens
}

// ModelID returns the model identifier.
func (e *Embedder) ModelID() string {
	return "hashed/bow-v1"
}

// encode builds the bag-of-words vector. The mode salt makes document and
// query encodings asymmetric, mirroring production models.
func (e *Embedder) encode(ctx context.Context, text, mode string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyText()
	}
	if tokens := e.CountTokens(text); tokens > e.maxTokens {
		return nil, domain.ErrTextTooLong(tokens, e.maxTokens)
	}

	vec := make([]float32, e.dimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()[]{}")
		if word == "" {
			continue
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum64()
		vec[sum%uint64(e.dimensions)] += 1
		// A second, sign-bearing slot spreads collisions.
		slot := (sum >> 32) % uint64(e.dimensions)
		if sum&1 == 0 {
			vec[slot] += 0.5
		} else {
			vec[slot] -= 0.5
		}
	}

	// The mode salt nudges one dimension so document and query encodings
	// of the same text differ while staying close.
	h := fnv.New64a()
	_, _ = h.Write([]byte(mode))
	vec[h.Sum64()%uint64(e.dimensions)] += 0.25

	return l2Normalize(vec), nil
}

// l2Normalize scales the vector to unit length.
func l2Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
