package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/custodia-labs/passage/internal/core/domain"
)

const chunkColumns = `id, doc_id, chunk_index, content, token_count,
	start_offset, end_offset, content_hash, metadata, hlc`

// InsertChunks persists chunks all-or-nothing. The FTS index follows via
// triggers inside the same transaction.
func (s *Store) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx, hlc domain.HLC) error {
		if err := insertChunksTx(ctx, tx, chunks, hlc); err != nil {
			return err
		}
		return appendChange(tx, domain.Change{
			Type:           domain.ChangeDocumentUpdate,
			HLC:            hlc,
			ChunksToInsert: chunks,
		})
	})
}

// insertChunksTx inserts chunk rows inside an open transaction.
func insertChunksTx(ctx context.Context, tx *sql.Tx, chunks []domain.Chunk, hlc domain.HLC) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (`+chunkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return domain.ErrDatabase(err)
	}
	defer stmt.Close()

	for i := range chunks {
		chunk := &chunks[i]
		metadataJSON, err := marshalJSON(chunk.Metadata)
		if err != nil {
			return err
		}
		chunk.HLC = hlc
		if _, err := stmt.ExecContext(ctx, chunk.ID.String(), chunk.DocID.String(),
			chunk.Index, chunk.Content, chunk.TokenCount, chunk.StartOffset,
			chunk.EndOffset, chunk.ContentHash, metadataJSON, hlc.Bytes()); err != nil {
			if isUniqueViolation(err, "chunks.doc_id") {
				return domain.ErrDatabasef("duplicate chunk index %d for document %s",
					chunk.Index, chunk.DocID)
			}
			if isForeignKeyViolation(err) {
				return domain.ErrDocumentNotFound(chunk.DocID.String())
			}
			return domain.ErrDatabase(err)
		}
	}
	return nil
}

// GetChunk retrieves a chunk by id.
func (s *Store) GetChunk(ctx context.Context, id ulid.ULID) (*domain.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id.String())

	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrChunkNotFound(id.String())
	}
	if err != nil {
		return nil, domain.ErrDatabase(err)
	}
	return chunk, nil
}

// GetChunkAt retrieves the chunk at (docID, index).
func (s *Store) GetChunkAt(ctx context.Context, docID ulid.ULID, index int) (*domain.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE doc_id = ? AND chunk_index = ?`,
		docID.String(), index)

	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrChunkNotFound(fmt.Sprintf("%s[%d]", docID, index))
	}
	if err != nil {
		return nil, domain.ErrDatabase(err)
	}
	return chunk, nil
}

// GetChunksForDocument returns a document's chunks ordered by index.
func (s *Store) GetChunksForDocument(ctx context.Context, docID ulid.ULID) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+` FROM chunks
		WHERE doc_id = ? ORDER BY chunk_index
	`, docID.String())
	if err != nil {
		return nil, domain.ErrDatabase(err)
	}
	defer rows.Close()

	var chunks []domain.Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, domain.ErrDatabase(err)
		}
		chunks = append(chunks, *chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrDatabase(err)
	}
	return chunks, nil
}

// DeleteChunks removes the identified chunks. Embeddings cascade first,
// lexical entries follow via trigger, all in one transaction.
func (s *Store) DeleteChunks(ctx context.Context, ids []ulid.ULID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx, hlc domain.HLC) error {
		if err := deleteChunksTx(ctx, tx, ids); err != nil {
			return err
		}
		return appendChange(tx, domain.Change{
			Type:               domain.ChangeDocumentUpdate,
			HLC:                hlc,
			ChunksToDelete:     ids,
			EmbeddingsToDelete: ids,
		})
	})
}

// deleteChunksTx removes chunk rows (embeddings first) in an open
// transaction.
func deleteChunksTx(ctx context.Context, tx *sql.Tx, ids []ulid.ULID) error {
	embStmt, err := tx.PrepareContext(ctx, "DELETE FROM embeddings WHERE chunk_id = ?")
	if err != nil {
		return domain.ErrDatabase(err)
	}
	defer embStmt.Close()

	chunkStmt, err := tx.PrepareContext(ctx, "DELETE FROM chunks WHERE id = ?")
	if err != nil {
		return domain.ErrDatabase(err)
	}
	defer chunkStmt.Close()

	for _, id := range ids {
		if _, err := embStmt.ExecContext(ctx, id.String()); err != nil {
			return domain.ErrDatabase(err)
		}
		if _, err := chunkStmt.ExecContext(ctx, id.String()); err != nil {
			return domain.ErrDatabase(err)
		}
	}
	return nil
}

// DeleteChunksForDocument removes all of a document's chunks.
func (s *Store) DeleteChunksForDocument(ctx context.Context, docID ulid.ULID) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx, hlc domain.HLC) error {
		var joined sql.NullString
		if err := tx.QueryRowContext(ctx,
			"SELECT group_concat(id) FROM chunks WHERE doc_id = ?", docID.String()).Scan(&joined); err != nil {
			return domain.ErrDatabase(err)
		}
		var ids []ulid.ULID
		for _, part := range strings.Split(joined.String, ",") {
			if id, err := ulid.Parse(part); err == nil {
				ids = append(ids, id)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM embeddings WHERE chunk_id IN (SELECT id FROM chunks WHERE doc_id = ?)",
			docID.String()); err != nil {
			return domain.ErrDatabase(err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM chunks WHERE doc_id = ?", docID.String()); err != nil {
			return domain.ErrDatabase(err)
		}
		return appendChange(tx, domain.Change{
			Type:               domain.ChangeDocumentUpdate,
			HLC:                hlc,
			ChunksToDelete:     ids,
			EmbeddingsToDelete: ids,
		})
	})
}

// InsertEmbeddings persists vectors for already-stored chunks.
func (s *Store) InsertEmbeddings(ctx context.Context, embeddings []domain.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx, hlc domain.HLC) error {
		if err := insertEmbeddingsTx(ctx, tx, embeddings, s.dimension); err != nil {
			return err
		}
		return appendChange(tx, domain.Change{
			Type:               domain.ChangeDocumentUpdate,
			HLC:                hlc,
			EmbeddingsToInsert: embeddings,
		})
	})
}

// insertEmbeddingsTx inserts vectors inside an open transaction,
// enforcing the declared dimension.
func insertEmbeddingsTx(ctx context.Context, tx *sql.Tx, embeddings []domain.Embedding, dimension int) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO embeddings (chunk_id, vector) VALUES (?, ?)")
	if err != nil {
		return domain.ErrDatabase(err)
	}
	defer stmt.Close()

	for _, emb := range embeddings {
		if len(emb.Vector) != dimension {
			return domain.ErrInvalidArgument(fmt.Sprintf(
				"embedding for chunk %s has dimension %d, store expects %d",
				emb.ChunkID, len(emb.Vector), dimension))
		}
		if _, err := stmt.ExecContext(ctx, emb.ChunkID.String(), vectorToBytes(emb.Vector)); err != nil {
			if isForeignKeyViolation(err) {
				return domain.ErrChunkNotFound(emb.ChunkID.String())
			}
			return domain.ErrDatabase(err)
		}
	}
	return nil
}

// scanChunk reads one chunk row.
func scanChunk(row scanner) (*domain.Chunk, error) {
	var (
		chunk        domain.Chunk
		idStr        string
		docIDStr     string
		contentHash  []byte
		metadataJSON string
		hlcBytes     []byte
	)
	if err := row.Scan(&idStr, &docIDStr, &chunk.Index, &chunk.Content,
		&chunk.TokenCount, &chunk.StartOffset, &chunk.EndOffset,
		&contentHash, &metadataJSON, &hlcBytes); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parsing chunk id: %w", err)
	}
	docID, err := ulid.Parse(docIDStr)
	if err != nil {
		return nil, fmt.Errorf("parsing chunk doc id: %w", err)
	}
	chunk.ID = id
	chunk.DocID = docID
	chunk.ContentHash = contentHash

	if err := json.Unmarshal([]byte(metadataJSON), &chunk.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling chunk metadata: %w", err)
	}

	hlc, err := domain.ParseHLC(hlcBytes)
	if err != nil {
		return nil, err
	}
	chunk.HLC = hlc
	return &chunk, nil
}
