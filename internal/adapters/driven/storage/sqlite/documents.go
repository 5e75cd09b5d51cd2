package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/logger"
)

const documentColumns = `id, collection, source_uri, content_hash, raw_content,
	content_type, metadata, created_at, updated_at, hlc`

// InsertDocument persists a document on its own. Ingest uses
// IngestDocument so the chunks and embeddings land in the same
// transaction.
func (s *Store) InsertDocument(ctx context.Context, doc *domain.Document) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx, hlc domain.HLC) error {
		if err := insertDocumentTx(ctx, tx, doc, hlc); err != nil {
			return err
		}
		return appendChange(tx, domain.Change{
			Type:     domain.ChangeDocumentInsert,
			HLC:      hlc,
			Document: doc,
		})
	})
}

// insertDocumentTx inserts the document row inside an open transaction.
func insertDocumentTx(ctx context.Context, tx *sql.Tx, doc *domain.Document, hlc domain.HLC) error {
	metadataJSON, err := marshalJSON(doc.Metadata)
	if err != nil {
		return err
	}

	doc.HLC = hlc
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID.String(), doc.Collection, doc.SourceURI, doc.ContentHash,
		nullString(doc.RawContent), string(doc.ContentType), metadataJSON,
		doc.CreatedAt, doc.UpdatedAt, hlc.Bytes())
	if err != nil {
		if isUniqueViolation(err, "documents.collection") ||
			isUniqueViolation(err, "documents.source_uri") {
			return domain.ErrDuplicateDocument(doc.Collection, doc.SourceURI)
		}
		if isForeignKeyViolation(err) {
			return domain.ErrCollectionNotFound(doc.Collection)
		}
		return domain.ErrDatabase(err)
	}
	return nil
}

// GetDocument retrieves a document by id.
func (s *Store) GetDocument(ctx context.Context, id ulid.ULID) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id.String())

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrDocumentNotFound(id.String())
	}
	if err != nil {
		return nil, domain.ErrDatabase(err)
	}
	return doc, nil
}

// GetDocumentByURI looks up by the unique (collection, source URI) key.
func (s *Store) GetDocumentByURI(ctx context.Context, collection, uri string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE collection = ? AND source_uri = ?`,
		collection, uri)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrDocumentNotFound(uri)
	}
	if err != nil {
		return nil, domain.ErrDatabase(err)
	}
	return doc, nil
}

// ListDocuments pages a collection's documents by descending create time.
func (s *Store) ListDocuments(ctx context.Context, collection string, limit, offset int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE collection = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, collection, limit, offset)
	if err != nil {
		return nil, domain.ErrDatabase(err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, domain.ErrDatabase(err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrDatabase(err)
	}
	return docs, nil
}

// DeleteDocument removes a document; its chunks, embeddings and lexical
// entries go in the same transaction via cascade and triggers.
func (s *Store) DeleteDocument(ctx context.Context, id ulid.ULID) error {
	err := s.withWriteTx(ctx, func(tx *sql.Tx, hlc domain.HLC) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id.String())
		if err != nil {
			return domain.ErrDatabase(err)
		}
		deleted, err := res.RowsAffected()
		if err != nil {
			return domain.ErrDatabase(err)
		}
		if deleted == 0 {
			return domain.ErrDocumentNotFound(id.String())
		}

		return appendChange(tx, domain.Change{
			Type:  domain.ChangeDocumentDelete,
			HLC:   hlc,
			DocID: id,
		})
	})
	if err != nil {
		return err
	}

	logger.Debug("deleted document %s", id)
	return nil
}

// scanDocument reads one document row.
func scanDocument(row scanner) (*domain.Document, error) {
	var (
		doc          domain.Document
		idStr        string
		contentHash  []byte
		rawContent   sql.NullString
		contentType  string
		metadataJSON string
		hlcBytes     []byte
	)
	if err := row.Scan(&idStr, &doc.Collection, &doc.SourceURI, &contentHash,
		&rawContent, &contentType, &metadataJSON, &doc.CreatedAt,
		&doc.UpdatedAt, &hlcBytes); err != nil {
		return nil, err
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parsing document id: %w", err)
	}
	doc.ID = id
	doc.ContentHash = contentHash
	doc.RawContent = rawContent.String
	doc.ContentType = domain.ContentType(contentType)

	if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}

	hlc, err := domain.ParseHLC(hlcBytes)
	if err != nil {
		return nil, err
	}
	doc.HLC = hlc
	return &doc, nil
}
