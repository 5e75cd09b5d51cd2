package services

import (
	"bytes"
	"context"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/core/ports/driven"
	"github.com/custodia-labs/passage/internal/core/ports/driving"
	"github.com/custodia-labs/passage/internal/logger"
)

// Ensure IngestService implements the interface.
var _ driving.IngestService = (*IngestService)(nil)

// ingestState tracks a document through the pipeline. Any failure moves
// to stateFailed with nothing committed; readers never see a partial
// ingest.
type ingestState int

const (
	stateAbsent ingestState = iota
	stateChunking
	stateEmbedding
	statePersisting
	statePresent
	stateFailed
)

func (s ingestState) String() string {
	switch s {
	case stateAbsent:
		return "absent"
	case stateChunking:
		return "chunking"
	case stateEmbedding:
		return "embedding"
	case statePersisting:
		return "persisting"
	case statePresent:
		return "present"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// IngestService drives load → detect → chunk → embed → persist with
// content-hash deduplication and incremental update by chunk hash.
type IngestService struct {
	store    driven.Store
	embedder driven.Embedder
	chunker  driven.Chunker
	loader   driven.Loader
}

// NewIngestService creates an ingestion coordinator.
func NewIngestService(store driven.Store, embedder driven.Embedder, chunker driven.Chunker, loader driven.Loader) *IngestService {
	return &IngestService{
		store:    store,
		embedder: embedder,
		chunker:  chunker,
		loader:   loader,
	}
}

// Ingest processes one request.
func (s *IngestService) Ingest(ctx context.Context, req driving.IngestRequest) (*driving.IngestResult, error) {
	if req.URI == "" {
		return nil, domain.ErrInvalidArgument("uri is required")
	}
	if req.Collection == "" {
		return nil, domain.ErrInvalidArgument("collection is required")
	}

	logger.Section("Ingest")
	logger.Debug("uri=%q collection=%q", req.URI, req.Collection)

	collection, err := s.store.GetCollection(ctx, req.Collection)
	if err != nil {
		return nil, err
	}

	data, err := s.loader.Load(ctx, req.URI)
	if err != nil {
		return nil, err
	}

	contentType := domain.DetectContentType(req.ContentTypeHint, req.URI, data)
	digest := domain.Digest(data)
	logger.Debug("loaded %d bytes, type=%s", len(data), contentType)

	// Content-hash dedupe before any chunking.
	existing, err := s.store.GetDocumentByURI(ctx, req.Collection, req.URI)
	switch {
	case err == nil:
		if bytes.Equal(existing.ContentHash, digest) {
			chunks, err := s.store.GetChunksForDocument(ctx, existing.ID)
			if err != nil {
				return nil, err
			}
			logger.Info("unchanged content for %s, no-op", req.URI)
			return &driving.IngestResult{
				DocID:      existing.ID,
				ChunkCount: len(chunks),
				Unchanged:  true,
			}, nil
		}
	case domain.CodeOf(err) == domain.CodeDocumentNotFound:
		existing = nil
	default:
		return nil, err
	}

	state := stateAbsent
	advance := func(next ingestState) {
		logger.Debug("document %s: %s -> %s", req.URI, state, next)
		state = next
	}

	advance(stateChunking)
	drafts, err := s.chunker.Chunk(string(data), contentType, collection.Settings.Chunking)
	if err != nil {
		advance(stateFailed)
		return nil, err
	}

	if existing == nil {
		return s.freshIngest(ctx, req, data, contentType, drafts, advance)
	}
	return s.incrementalUpdate(ctx, req, existing, data, contentType, drafts, advance)
}

// Remove deletes a document and everything it owns.
func (s *IngestService) Remove(ctx context.Context, docID ulid.ULID) error {
	return s.store.DeleteDocument(ctx, docID)
}

// freshIngest embeds every chunk and commits the document in one
// transaction.
func (s *IngestService) freshIngest(
	ctx context.Context,
	req driving.IngestRequest,
	data []byte,
	contentType domain.ContentType,
	drafts []domain.ChunkDraft,
	advance func(ingestState),
) (*driving.IngestResult, error) {
	doc := domain.NewDocument(req.Collection, req.URI, data, contentType)
	if req.Metadata != nil {
		doc.Metadata = req.Metadata
	}

	chunks := make([]domain.Chunk, len(drafts))
	texts := make([]string, len(drafts))
	for i, draft := range drafts {
		chunks[i] = domain.NewChunk(doc.ID, i, draft)
		texts[i] = draft.Content
	}

	advance(stateEmbedding)
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		advance(stateFailed)
		return nil, err
	}

	embeddings := make([]domain.Embedding, len(chunks))
	for i := range chunks {
		embeddings[i] = domain.Embedding{ChunkID: chunks[i].ID, Vector: vectors[i]}
	}

	advance(statePersisting)
	if err := s.store.IngestDocument(ctx, &doc, chunks, embeddings); err != nil {
		advance(stateFailed)
		return nil, err
	}
	advance(statePresent)

	logger.Info("ingested %s: %d chunks", req.URI, len(chunks))
	return &driving.IngestResult{DocID: doc.ID, ChunkCount: len(chunks)}, nil
}

// incrementalUpdate diffs the new chunk sequence against the stored one
// by content hash, embeds only added chunks, and commits the delta in
// one transaction. Unchanged chunks keep their ids and embeddings.
func (s *IngestService) incrementalUpdate(
	ctx context.Context,
	req driving.IngestRequest,
	existing *domain.Document,
	data []byte,
	contentType domain.ContentType,
	drafts []domain.ChunkDraft,
	advance func(ingestState),
) (*driving.IngestResult, error) {
	oldChunks, err := s.store.GetChunksForDocument(ctx, existing.ID)
	if err != nil {
		return nil, err
	}

	// Multiset match by content hash: duplicates pair off in order.
	oldByHash := make(map[string][]domain.Chunk)
	for _, chunk := range oldChunks {
		h := hex.EncodeToString(chunk.ContentHash)
		oldByHash[h] = append(oldByHash[h], chunk)
	}

	var (
		addChunks []domain.Chunk
		addTexts  []string
		reindex   = make(map[ulid.ULID]int)
	)
	for newIndex, draft := range drafts {
		h := hex.EncodeToString(domain.Digest([]byte(draft.Content)))
		if kept := oldByHash[h]; len(kept) > 0 {
			chunk := kept[0]
			oldByHash[h] = kept[1:]
			if chunk.Index != newIndex {
				reindex[chunk.ID] = newIndex
			}
			continue
		}
		addChunks = append(addChunks, domain.NewChunk(existing.ID, newIndex, draft))
		addTexts = append(addTexts, draft.Content)
	}

	var removeIDs []ulid.ULID
	for _, leftovers := range oldByHash {
		for _, chunk := range leftovers {
			removeIDs = append(removeIDs, chunk.ID)
		}
	}

	advance(stateEmbedding)
	var embeddings []domain.Embedding
	if len(addTexts) > 0 {
		vectors, err := s.embedder.EmbedDocuments(ctx, addTexts)
		if err != nil {
			advance(stateFailed)
			return nil, err
		}
		embeddings = make([]domain.Embedding, len(addChunks))
		for i := range addChunks {
			embeddings[i] = domain.Embedding{ChunkID: addChunks[i].ID, Vector: vectors[i]}
		}
	}

	updated := *existing
	updated.ContentHash = domain.Digest(data)
	updated.RawContent = string(data)
	updated.ContentType = contentType
	updated.UpdatedAt = time.Now().UnixMilli()
	if req.Metadata != nil {
		updated.Metadata = req.Metadata
	}

	advance(statePersisting)
	err = s.store.ApplyDocumentUpdate(ctx, driven.DocumentUpdate{
		Doc:            &updated,
		RemoveChunkIDs: removeIDs,
		AddChunks:      addChunks,
		AddEmbeddings:  embeddings,
		Reindex:        reindex,
	})
	if err != nil {
		advance(stateFailed)
		return nil, err
	}
	advance(statePresent)

	logger.Info("updated %s: kept %d, added %d, removed %d chunks",
		req.URI, len(drafts)-len(addChunks), len(addChunks), len(removeIDs))
	return &driving.IngestResult{
		DocID:      existing.ID,
		ChunkCount: len(drafts),
		Updated:    true,
	}, nil
}
