package sqlite

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/core/ports/driven"
)

const testDimension = 4

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(Config{
		DataDir:   t.TempDir(),
		NodeID:    1,
		Dimension: testDimension,
		ModelID:   "test/embedder",
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

// createTestCollection creates a collection to own test documents.
func createTestCollection(t *testing.T, store *Store, name string) {
	t.Helper()
	_, err := store.CreateCollection(context.Background(), domain.NewCollection(name, ""))
	require.NoError(t, err)
}

// makeTestDocument builds a document with chunks and embeddings ready to
// ingest.
func makeTestDocument(collection, uri, content string) (*domain.Document, []domain.Chunk, []domain.Embedding) {
	doc := domain.NewDocument(collection, uri, []byte(content), domain.ContentTypePlainText)
	chunk := domain.NewChunk(doc.ID, 0, domain.ChunkDraft{
		Content:    content,
		TokenCount: len(content) / 4,
		EndOffset:  len(content),
	})
	emb := domain.Embedding{ChunkID: chunk.ID, Vector: []float32{1, 0, 0, 0}}
	return &doc, []domain.Chunk{chunk}, []domain.Embedding{emb}
}

func TestCollectionCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	created, err := store.CreateCollection(ctx, domain.NewCollection("docs", "test collection"))
	require.NoError(t, err)
	assert.False(t, created.HLC.IsZero(), "store assigns the causal timestamp")

	got, err := store.GetCollection(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", got.Name)
	assert.Equal(t, "test collection", got.Description)
	assert.Equal(t, domain.DefaultMaxChunkTokens, got.Settings.Chunking.MaxTokens)

	all, err := store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.DeleteCollection(ctx, "docs"))

	_, err = store.GetCollection(ctx, "docs")
	assert.Equal(t, domain.CodeCollectionNotFound, domain.CodeOf(err))
}

func TestCreateCollectionValidation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.CreateCollection(ctx, domain.NewCollection("bad name!", ""))
	assert.Equal(t, domain.CodeInvalidCollectionName, domain.CodeOf(err))

	createTestCollection(t, store, "dup")
	_, err = store.CreateCollection(ctx, domain.NewCollection("dup", ""))
	assert.Equal(t, domain.CodeCollectionExists, domain.CodeOf(err))
}

func TestDeleteCollectionMissing(t *testing.T) {
	store := setupTestStore(t)

	err := store.DeleteCollection(context.Background(), "ghost")
	assert.Equal(t, domain.CodeCollectionNotFound, domain.CodeOf(err))
}

func TestDocumentCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestCollection(t, store, "docs")

	doc := domain.NewDocument("docs", "file://a.txt", []byte("content here"), domain.ContentTypePlainText)
	doc.Metadata["source"] = "test"
	require.NoError(t, store.InsertDocument(ctx, &doc))
	assert.False(t, doc.HLC.IsZero())

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.SourceURI, got.SourceURI)
	assert.Equal(t, doc.ContentHash, got.ContentHash)
	assert.Equal(t, "test", got.Metadata["source"])

	byURI, err := store.GetDocumentByURI(ctx, "docs", "file://a.txt")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byURI.ID)

	require.NoError(t, store.DeleteDocument(ctx, doc.ID))
	_, err = store.GetDocument(ctx, doc.ID)
	assert.Equal(t, domain.CodeDocumentNotFound, domain.CodeOf(err))
}

func TestInsertDocumentConstraints(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestCollection(t, store, "docs")

	first := domain.NewDocument("docs", "file://same.txt", []byte("a"), domain.ContentTypePlainText)
	require.NoError(t, store.InsertDocument(ctx, &first))

	// Same (collection, source_uri) is rejected.
	second := domain.NewDocument("docs", "file://same.txt", []byte("b"), domain.ContentTypePlainText)
	err := store.InsertDocument(ctx, &second)
	assert.Equal(t, domain.CodeDuplicateDocument, domain.CodeOf(err))

	// Missing collection is rejected.
	orphan := domain.NewDocument("ghost", "file://x.txt", []byte("c"), domain.ContentTypePlainText)
	err = store.InsertDocument(ctx, &orphan)
	assert.Equal(t, domain.CodeCollectionNotFound, domain.CodeOf(err))

	// Same URI in a different collection is fine.
	createTestCollection(t, store, "other")
	third := domain.NewDocument("other", "file://same.txt", []byte("d"), domain.ContentTypePlainText)
	assert.NoError(t, store.InsertDocument(ctx, &third))
}

func TestListDocumentsOrderAndPaging(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestCollection(t, store, "docs")

	var docs []domain.Document
	for i := 0; i < 5; i++ {
		doc := domain.NewDocument("docs", "file://doc"+string(rune('a'+i)), []byte{byte(i)}, domain.ContentTypePlainText)
		doc.CreatedAt = int64(1000 + i)
		doc.UpdatedAt = doc.CreatedAt
		require.NoError(t, store.InsertDocument(ctx, &doc))
		docs = append(docs, doc)
	}

	page, err := store.ListDocuments(ctx, "docs", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, docs[4].ID, page[0].ID, "newest first")
	assert.Equal(t, docs[3].ID, page[1].ID)

	rest, err := store.ListDocuments(ctx, "docs", 10, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 3)
}

func TestChunkCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestCollection(t, store, "docs")

	doc := domain.NewDocument("docs", "file://a.txt", []byte("one two three"), domain.ContentTypePlainText)
	require.NoError(t, store.InsertDocument(ctx, &doc))

	chunks := []domain.Chunk{
		domain.NewChunk(doc.ID, 0, domain.ChunkDraft{Content: "one", TokenCount: 1, EndOffset: 3}),
		domain.NewChunk(doc.ID, 1, domain.ChunkDraft{Content: "two", TokenCount: 1, StartOffset: 4, EndOffset: 7}),
		domain.NewChunk(doc.ID, 2, domain.ChunkDraft{Content: "three", TokenCount: 1, StartOffset: 8, EndOffset: 13}),
	}
	require.NoError(t, store.InsertChunks(ctx, chunks))

	got, err := store.GetChunksForDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, 2, got[2].Index)

	at, err := store.GetChunkAt(ctx, doc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, chunks[1].ID, at.ID)

	one, err := store.GetChunk(ctx, chunks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "one", one.Content)

	_, err = store.GetChunk(ctx, ulid.Make())
	assert.Equal(t, domain.CodeChunkNotFound, domain.CodeOf(err))

	require.NoError(t, store.DeleteChunks(ctx, []ulid.ULID{chunks[0].ID}))
	remaining, err := store.GetChunksForDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestInsertChunksDuplicateIndex(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestCollection(t, store, "docs")

	doc := domain.NewDocument("docs", "file://a.txt", []byte("x"), domain.ContentTypePlainText)
	require.NoError(t, store.InsertDocument(ctx, &doc))

	a := domain.NewChunk(doc.ID, 0, domain.ChunkDraft{Content: "a", TokenCount: 1, EndOffset: 1})
	b := domain.NewChunk(doc.ID, 0, domain.ChunkDraft{Content: "b", TokenCount: 1, EndOffset: 1})

	err := store.InsertChunks(ctx, []domain.Chunk{a, b})
	require.Error(t, err)
	assert.Equal(t, domain.CodeDatabase, domain.CodeOf(err))

	// All-or-nothing: the first chunk did not land either.
	got, err := store.GetChunksForDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInsertEmbeddingsDimensionCheck(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestCollection(t, store, "docs")

	doc, chunks, _ := makeTestDocument("docs", "file://a.txt", "text")
	require.NoError(t, store.InsertDocument(ctx, doc))
	require.NoError(t, store.InsertChunks(ctx, chunks))

	err := store.InsertEmbeddings(ctx, []domain.Embedding{
		{ChunkID: chunks[0].ID, Vector: []float32{1, 0}},
	})
	assert.Equal(t, domain.CodeInvalidArgument, domain.CodeOf(err))

	err = store.InsertEmbeddings(ctx, []domain.Embedding{
		{ChunkID: chunks[0].ID, Vector: []float32{1, 0, 0, 0}},
	})
	assert.NoError(t, err)
}

func TestIngestDocumentAtomic(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestCollection(t, store, "docs")

	doc, chunks, embeddings := makeTestDocument("docs", "file://a.txt", "hello world content")
	require.NoError(t, store.IngestDocument(ctx, doc, chunks, embeddings))

	stats, err := store.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Documents)
	assert.Equal(t, int64(1), stats.Chunks)
	assert.Equal(t, int64(1), stats.Embeddings)
}

func TestIngestDocumentRollsBackOnBadEmbedding(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestCollection(t, store, "docs")

	doc, chunks, _ := makeTestDocument("docs", "file://a.txt", "hello world")
	bad := []domain.Embedding{{ChunkID: chunks[0].ID, Vector: []float32{1}}}

	err := store.IngestDocument(ctx, doc, chunks, bad)
	require.Error(t, err)

	// Nothing is visible: not the document, not the chunks.
	_, err = store.GetDocument(ctx, doc.ID)
	assert.Equal(t, domain.CodeDocumentNotFound, domain.CodeOf(err))
	stats, err := store.Stats(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, stats.Documents)
	assert.Zero(t, stats.Chunks)
}

func TestCascadeDeleteDocument(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestCollection(t, store, "docs")

	doc, chunks, embeddings := makeTestDocument("docs", "file://a.txt", "cascade target text")
	require.NoError(t, store.IngestDocument(ctx, doc, chunks, embeddings))

	require.NoError(t, store.DeleteDocument(ctx, doc.ID))

	stats, err := store.Stats(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, stats.Documents)
	assert.Zero(t, stats.Chunks)
	assert.Zero(t, stats.Embeddings)

	// The lexical index dropped the rows too.
	hits, err := store.KeywordSearch(ctx, "cascade", 10, "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCascadeDeleteCollection(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestCollection(t, store, "scratch")

	var total int
	for i, content := range []string{"first document words", "second document words", "third document words"} {
		doc, chunks, embeddings := makeTestDocument("scratch", "file://doc"+string(rune('0'+i)), content)
		require.NoError(t, store.IngestDocument(ctx, doc, chunks, embeddings))
		total += len(chunks)
	}
	require.Positive(t, total)

	require.NoError(t, store.DeleteCollection(ctx, "scratch"))

	stats, err := store.Stats(ctx, "scratch")
	require.NoError(t, err)
	assert.Zero(t, stats.Documents)
	assert.Zero(t, stats.Chunks)
	assert.Zero(t, stats.Embeddings)

	hits, err := store.KeywordSearch(ctx, "document", 10, "")
	require.NoError(t, err)
	assert.Empty(t, hits)

	vhits, err := store.VectorSearch(ctx, []float32{1, 0, 0, 0}, 10, "")
	require.NoError(t, err)
	assert.Empty(t, vhits)
}

func TestApplyDocumentUpdate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestCollection(t, store, "docs")

	doc := domain.NewDocument("docs", "file://a.txt", []byte("alpha beta"), domain.ContentTypePlainText)
	keep := domain.NewChunk(doc.ID, 0, domain.ChunkDraft{Content: "alpha", TokenCount: 1, EndOffset: 5})
	remove := domain.NewChunk(doc.ID, 1, domain.ChunkDraft{Content: "beta", TokenCount: 1, StartOffset: 6, EndOffset: 10})
	require.NoError(t, store.IngestDocument(ctx, &doc, []domain.Chunk{keep, remove}, []domain.Embedding{
		{ChunkID: keep.ID, Vector: []float32{1, 0, 0, 0}},
		{ChunkID: remove.ID, Vector: []float32{0, 1, 0, 0}},
	}))

	updated := doc
	updated.ContentHash = domain.Digest([]byte("gamma alpha"))
	updated.RawContent = "gamma alpha"
	updated.UpdatedAt = doc.UpdatedAt + 5

	added := domain.NewChunk(doc.ID, 0, domain.ChunkDraft{Content: "gamma", TokenCount: 1, EndOffset: 5})
	err := store.ApplyDocumentUpdate(ctx, driven.DocumentUpdate{
		Doc:            &updated,
		RemoveChunkIDs: []ulid.ULID{remove.ID},
		AddChunks:      []domain.Chunk{added},
		AddEmbeddings:  []domain.Embedding{{ChunkID: added.ID, Vector: []float32{0, 0, 1, 0}}},
		Reindex:        map[ulid.ULID]int{keep.ID: 1},
	})
	require.NoError(t, err)

	chunks, err := store.GetChunksForDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "gamma", chunks[0].Content)
	assert.Equal(t, added.ID, chunks[0].ID)
	assert.Equal(t, "alpha", chunks[1].Content)
	assert.Equal(t, keep.ID, chunks[1].ID, "retained chunk keeps its id")

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.ContentHash, got.ContentHash)
	assert.Equal(t, doc.CreatedAt, got.CreatedAt, "created_at preserved")
	assert.Equal(t, updated.UpdatedAt, got.UpdatedAt)

	stats, err := store.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Embeddings, "removed embedding gone, added present")
}

func TestDimensionPersistedAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(Config{DataDir: dir, NodeID: 1, Dimension: 4, ModelID: "m"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = NewStore(Config{DataDir: dir, NodeID: 1, Dimension: 8, ModelID: "m"})
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidArgument, domain.CodeOf(err))

	again, err := NewStore(Config{DataDir: dir, NodeID: 1, Dimension: 4, ModelID: "m"})
	require.NoError(t, err)
	assert.NoError(t, again.Close())
}
