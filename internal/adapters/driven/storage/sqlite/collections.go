package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/logger"
)

// CreateCollection persists a new collection.
func (s *Store) CreateCollection(ctx context.Context, collection domain.Collection) (*domain.Collection, error) {
	if err := domain.ValidateCollectionName(collection.Name); err != nil {
		return nil, err
	}

	settingsJSON, err := marshalJSON(collection.Settings)
	if err != nil {
		return nil, err
	}

	err = s.withWriteTx(ctx, func(tx *sql.Tx, hlc domain.HLC) error {
		collection.HLC = hlc
		_, err := tx.ExecContext(ctx, `
			INSERT INTO collections (name, description, settings, created_at, hlc)
			VALUES (?, ?, ?, ?, ?)
		`, collection.Name, nullString(collection.Description), settingsJSON,
			collection.CreatedAt, hlc.Bytes())
		if err != nil {
			if isUniqueViolation(err, "collections.name") {
				return domain.ErrCollectionExists(collection.Name)
			}
			return domain.ErrDatabase(err)
		}

		return appendChange(tx, domain.Change{
			Type:       domain.ChangeCollectionCreate,
			HLC:        hlc,
			Collection: &collection,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("created collection %q", collection.Name)
	return &collection, nil
}

// GetCollection retrieves a collection by name.
func (s *Store) GetCollection(ctx context.Context, name string) (*domain.Collection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, description, settings, created_at, hlc
		FROM collections WHERE name = ?
	`, name)

	collection, err := scanCollection(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrCollectionNotFound(name)
	}
	if err != nil {
		return nil, domain.ErrDatabase(err)
	}
	return collection, nil
}

// ListCollections returns all collections ordered by name.
func (s *Store) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, settings, created_at, hlc
		FROM collections ORDER BY name
	`)
	if err != nil {
		return nil, domain.ErrDatabase(err)
	}
	defer rows.Close()

	var collections []domain.Collection //nolint:prealloc // size unknown from query
	for rows.Next() {
		collection, err := scanCollection(rows)
		if err != nil {
			return nil, domain.ErrDatabase(err)
		}
		collections = append(collections, *collection)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrDatabase(err)
	}
	return collections, nil
}

// DeleteCollection removes a collection; documents, chunks and embeddings
// cascade in the same transaction.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	err := s.withWriteTx(ctx, func(tx *sql.Tx, hlc domain.HLC) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", name)
		if err != nil {
			return domain.ErrDatabase(err)
		}
		deleted, err := res.RowsAffected()
		if err != nil {
			return domain.ErrDatabase(err)
		}
		if deleted == 0 {
			return domain.ErrCollectionNotFound(name)
		}

		return appendChange(tx, domain.Change{
			Type:           domain.ChangeCollectionDelete,
			HLC:            hlc,
			CollectionName: name,
		})
	})
	if err != nil {
		return err
	}

	logger.Debug("deleted collection %q", name)
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanCollection reads one collection row.
func scanCollection(row scanner) (*domain.Collection, error) {
	var (
		collection   domain.Collection
		description  sql.NullString
		settingsJSON string
		hlcBytes     []byte
	)
	if err := row.Scan(&collection.Name, &description, &settingsJSON,
		&collection.CreatedAt, &hlcBytes); err != nil {
		return nil, err
	}

	collection.Description = description.String
	if err := json.Unmarshal([]byte(settingsJSON), &collection.Settings); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}

	hlc, err := domain.ParseHLC(hlcBytes)
	if err != nil {
		return nil, err
	}
	collection.HLC = hlc
	return &collection, nil
}

// nullString maps empty strings to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
