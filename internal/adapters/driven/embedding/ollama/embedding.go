// Package ollama provides an embedder backed by a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/core/ports/driven"
)

// Ensure Embedder implements the interface.
var _ driven.Embedder = (*Embedder)(nil)

// Default configuration values.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "nomic-embed-text"
	DefaultTimeout    = 60 * time.Second
	DefaultDimensions = 768
	DefaultMaxTokens  = 8192
	DefaultBatchSize  = 32
)

// Prefixes for asymmetric retrieval: passages and queries are encoded
// differently by nomic-style models.
const (
	documentPrefix = "search_document: "
	queryPrefix    = "search_query: "
)

// Config holds configuration for the Ollama embedder.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model to use (default: nomic-embed-text).
	Model string

	// Timeout is the request timeout (default: 60s).
	Timeout time.Duration

	// Dimensions is the embedding vector size (model-dependent).
	Dimensions int

	// MaxTokens is the model context window.
	MaxTokens int

	// BatchSize bounds texts per API request (default: 32).
	BatchSize int
}

// Embedder generates unit-norm embeddings using Ollama's /api/embed.
type Embedder struct {
	client     *http.Client
	baseURL    string
	model      string
	dimensions int
	maxTokens  int
	batchSize  int
}

// embedRequest is the Ollama batch embed API request format.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the Ollama batch embed API response format.
type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// New creates an Ollama embedder.
func New(cfg Config) *Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &Embedder{
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxTokens:  cfg.MaxTokens,
		batchSize:  cfg.BatchSize,
	}
}

// EmbedDocuments encodes a batch of passage texts.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.validate(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		prefixed := make([]string, 0, end-start)
		for _, t := range texts[start:end] {
			prefixed = append(prefixed, documentPrefix+t)
		}

		vectors, err := e.embed(ctx, prefixed)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery encodes a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.validate([]string{text}); err != nil {
		return nil, err
	}

	vectors, err := e.embed(ctx, []string{queryPrefix + text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, domain.ErrEmbeddingModel(
			fmt.Sprintf("expected 1 embedding, got %d", len(vectors)), nil)
	}
	return vectors[0], nil
}

// CountTokens estimates token counts. Ollama does not expose its
// tokenizer; ~4 characters per token matches the embedding models it
// serves closely enough for chunk budgeting.
func (e *Embedder) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// Dimension returns the embedding vector size.
func (e *Embedder) Dimension() int {
	return e.dimensions
}

// MaxTokens returns the model context window.
func (e *Embedder) MaxTokens() int {
	return e.maxTokens
}

// ModelID returns the model identifier.
func (e *Embedder) ModelID() string {
	return "ollama/" + e.model
}

// Ping validates the server is reachable without running inference.
func (e *Embedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.ErrEmbeddingModel("ollama unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ErrEmbeddingModel(fmt.Sprintf("ollama ping returned status %d", resp.StatusCode), nil)
	}
	return nil
}

// validate rejects empty and oversized inputs before any network call.
func (e *Embedder) validate(texts []string) error {
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return domain.ErrEmptyText()
		}
		if tokens := e.CountTokens(t); tokens > e.maxTokens {
			return domain.ErrTextTooLong(tokens, e.maxTokens)
		}
	}
	return nil
}

// embed performs one batch API call and normalizes the results.
func (e *Embedder) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, domain.ErrEmbeddingModel("ollama request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, domain.ErrEmbeddingModel(
			fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, string(msg)), nil)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, domain.ErrEmbeddingModel("decode response", err)
	}
	if len(parsed.Embeddings) != len(inputs) {
		return nil, domain.ErrEmbeddingModel(
			fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(parsed.Embeddings)), nil)
	}

	out := make([][]float32, len(parsed.Embeddings))
	for i, vec := range parsed.Embeddings {
		if len(vec) != e.dimensions {
			return nil, domain.ErrEmbeddingModel(
				fmt.Sprintf("expected dimension %d, got %d", e.dimensions, len(vec)), nil)
		}
		out[i] = normalize(vec)
	}
	return out, nil
}

// normalize converts to float32 and L2-normalizes.
func normalize(vec []float64) []float32 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
