package sqlite

import (
	"context"
	"database/sql"

	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/core/ports/driven"
	"github.com/custodia-labs/passage/internal/logger"
)

// reindexOffset keeps retained chunks clear of their final positions
// while they shuffle, so the (doc_id, chunk_index) uniqueness constraint
// never trips mid-transaction.
const reindexOffset = 1 << 20

// IngestDocument commits a fresh ingest atomically: document, chunks and
// embeddings become visible together.
func (s *Store) IngestDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, embeddings []domain.Embedding) error {
	err := s.withWriteTx(ctx, func(tx *sql.Tx, hlc domain.HLC) error {
		if err := insertDocumentTx(ctx, tx, doc, hlc); err != nil {
			return err
		}
		if err := insertChunksTx(ctx, tx, chunks, hlc); err != nil {
			return err
		}
		if err := insertEmbeddingsTx(ctx, tx, embeddings, s.dimension); err != nil {
			return err
		}
		return appendChange(tx, domain.Change{
			Type:       domain.ChangeDocumentInsert,
			HLC:        hlc,
			Document:   doc,
			Chunks:     chunks,
			Embeddings: embeddings,
		})
	})
	if err != nil {
		return err
	}

	logger.Debug("ingested document %s with %d chunks", doc.ID, len(chunks))
	return nil
}

// ApplyDocumentUpdate commits an incremental re-ingest atomically:
// removed chunks disappear (embeddings first, lexical entries via
// trigger), retained chunks move to their new positions, added chunks
// arrive with embeddings, and the document row takes its new digest.
func (s *Store) ApplyDocumentUpdate(ctx context.Context, update driven.DocumentUpdate) error {
	doc := update.Doc
	err := s.withWriteTx(ctx, func(tx *sql.Tx, hlc domain.HLC) error {
		if err := deleteChunksTx(ctx, tx, update.RemoveChunkIDs); err != nil {
			return err
		}

		// Two-phase reindex of retained chunks.
		reindexStmt, err := tx.PrepareContext(ctx,
			"UPDATE chunks SET chunk_index = ?, hlc = ? WHERE id = ?")
		if err != nil {
			return domain.ErrDatabase(err)
		}
		defer reindexStmt.Close()

		for id, index := range update.Reindex {
			if _, err := reindexStmt.ExecContext(ctx, index+reindexOffset, hlc.Bytes(), id.String()); err != nil {
				return domain.ErrDatabase(err)
			}
		}

		if err := insertChunksTx(ctx, tx, update.AddChunks, hlc); err != nil {
			return err
		}
		if err := insertEmbeddingsTx(ctx, tx, update.AddEmbeddings, s.dimension); err != nil {
			return err
		}

		for id, index := range update.Reindex {
			if _, err := reindexStmt.ExecContext(ctx, index, hlc.Bytes(), id.String()); err != nil {
				if isUniqueViolation(err, "chunks.doc_id") {
					return domain.ErrDatabasef("chunk index collision at %d for document %s", index, doc.ID)
				}
				return domain.ErrDatabase(err)
			}
		}

		metadataJSON, err := marshalJSON(doc.Metadata)
		if err != nil {
			return err
		}
		doc.HLC = hlc
		if _, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET content_hash = ?, raw_content = ?, content_type = ?,
				metadata = ?, updated_at = ?, hlc = ?
			WHERE id = ?
		`, doc.ContentHash, nullString(doc.RawContent), string(doc.ContentType),
			metadataJSON, doc.UpdatedAt, hlc.Bytes(), doc.ID.String()); err != nil {
			return domain.ErrDatabase(err)
		}

		return appendChange(tx, domain.Change{
			Type:               domain.ChangeDocumentUpdate,
			HLC:                hlc,
			Document:           doc,
			ChunksToDelete:     update.RemoveChunkIDs,
			ChunksToInsert:     update.AddChunks,
			EmbeddingsToDelete: update.RemoveChunkIDs,
			EmbeddingsToInsert: update.AddEmbeddings,
		})
	})
	if err != nil {
		return err
	}

	logger.Debug("updated document %s: -%d +%d chunks, %d repositioned",
		doc.ID, len(update.RemoveChunkIDs), len(update.AddChunks), len(update.Reindex))
	return nil
}
