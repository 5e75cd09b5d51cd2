package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/passage/internal/adapters/driven/embedding/hashed"
	"github.com/custodia-labs/passage/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/passage/internal/chunker"
	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/core/ports/driven"
	"github.com/custodia-labs/passage/internal/core/ports/driving"
)

const testDimension = 128

// countingEmbedder counts document-mode embedding work for the
// incremental-update minimality checks.
type countingEmbedder struct {
	driven.Embedder
	docCalls int
	docTexts int
}

func (c *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	c.docCalls++
	c.docTexts += len(texts)
	return c.Embedder.EmbedDocuments(ctx, texts)
}

// fakeLoader serves bytes from memory.
type fakeLoader struct {
	files map[string][]byte
}

func (f *fakeLoader) Load(_ context.Context, uri string) ([]byte, error) {
	data, ok := f.files[uri]
	if !ok {
		return nil, domain.ErrLoadFailed(uri, "no such entry")
	}
	return data, nil
}

// testEnv wires a real store, chunker and hashed embedder around the
// services under test.
type testEnv struct {
	store    *sqlite.Store
	embedder *countingEmbedder
	loader   *fakeLoader
	ingest   *IngestService
	query    *QueryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	embedder := &countingEmbedder{
		Embedder: hashed.NewWithConfig(testDimension, 8192),
	}

	store, err := sqlite.NewStore(sqlite.Config{
		DataDir:   t.TempDir(),
		NodeID:    1,
		Dimension: testDimension,
		ModelID:   embedder.ModelID(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	split := chunker.New(chunker.WithTokenCounter(embedder.CountTokens))
	loader := &fakeLoader{files: map[string][]byte{}}

	return &testEnv{
		store:    store,
		embedder: embedder,
		loader:   loader,
		ingest:   NewIngestService(store, embedder, split, loader),
		query:    NewQueryService(store, embedder),
	}
}

// createCollection creates a collection with chunking bounds suited to
// short test fixtures.
func (e *testEnv) createCollection(t *testing.T, name string, maxTokens, minTokens int) {
	t.Helper()
	collection := domain.NewCollection(name, "")
	collection.Settings.Chunking = domain.ChunkSettings{
		MaxTokens: maxTokens,
		MinTokens: minTokens,
	}
	_, err := e.store.CreateCollection(context.Background(), collection)
	require.NoError(t, err)
}

// addFile registers loader bytes and ingests them.
func (e *testEnv) addFile(t *testing.T, collection, uri string, content string) *driving.IngestResult {
	t.Helper()
	e.loader.files[uri] = []byte(content)
	result, err := e.ingest.Ingest(context.Background(), driving.IngestRequest{
		URI:        uri,
		Collection: collection,
	})
	require.NoError(t, err)
	return result
}
