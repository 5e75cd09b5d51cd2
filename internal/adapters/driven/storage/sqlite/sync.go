package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/custodia-labs/passage/internal/core/domain"
)

// ChangesSince returns committed changes with HLC strictly greater than
// the argument, in causal order. Big-endian clock bytes make the BLOB
// comparison equivalent to the logical one.
func (s *Store) ChangesSince(ctx context.Context, since domain.HLC) ([]domain.Change, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT entry FROM sync_log WHERE hlc > ? ORDER BY hlc", since.Bytes())
	if err != nil {
		return nil, domain.ErrDatabase(err)
	}
	defer rows.Close()

	var changes []domain.Change //nolint:prealloc // size unknown from query
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			return nil, domain.ErrDatabase(err)
		}
		change, err := domain.DecodeChange([]byte(entry))
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrDatabase(err)
	}
	return changes, nil
}

// Watermark returns the highest committed causal timestamp.
func (s *Store) Watermark(ctx context.Context) (domain.HLC, error) {
	var hlcBytes []byte
	err := s.db.QueryRowContext(ctx, "SELECT MAX(hlc) FROM sync_log").Scan(&hlcBytes)
	if err != nil && err != sql.ErrNoRows {
		return domain.ZeroHLC, domain.ErrDatabase(err)
	}
	if len(hlcBytes) == 0 {
		return domain.ZeroHLC, nil
	}
	return domain.ParseHLC(hlcBytes)
}

// Stats summarises store contents.
func (s *Store) Stats(ctx context.Context, collection string) (*domain.Stats, error) {
	stats := &domain.Stats{Filter: collection}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM collections").Scan(&stats.Collections); err != nil {
		return nil, domain.ErrDatabase(err)
	}

	if collection != "" {
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM documents WHERE collection = ?", collection).
			Scan(&stats.Documents); err != nil {
			return nil, domain.ErrDatabase(err)
		}
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM chunks c
			JOIN documents d ON d.id = c.doc_id
			WHERE d.collection = ?
		`, collection).Scan(&stats.Chunks); err != nil {
			return nil, domain.ErrDatabase(err)
		}
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM embeddings e
			JOIN chunks c ON c.id = e.chunk_id
			JOIN documents d ON d.id = c.doc_id
			WHERE d.collection = ?
		`, collection).Scan(&stats.Embeddings); err != nil {
			return nil, domain.ErrDatabase(err)
		}
	} else {
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM documents").Scan(&stats.Documents); err != nil {
			return nil, domain.ErrDatabase(err)
		}
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM chunks").Scan(&stats.Chunks); err != nil {
			return nil, domain.ErrDatabase(err)
		}
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM embeddings").Scan(&stats.Embeddings); err != nil {
			return nil, domain.ErrDatabase(err)
		}
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			stats.StorageBytes = pageCount * pageSize
		}
	}

	return stats, nil
}

// RegisterSyncPeer upserts a replication peer record.
func (s *Store) RegisterSyncPeer(ctx context.Context, peer domain.SyncPeer) error {
	if peer.Endpoint == "" {
		return domain.ErrInvalidArgument("peer endpoint is required")
	}
	if peer.ID == uuid.Nil {
		peer.ID = uuid.New()
	}

	var lastSeen any
	if !peer.LastSeen.IsZero() {
		lastSeen = peer.LastSeen.Bytes()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_peers (id, endpoint, last_seen_hlc)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			endpoint = excluded.endpoint,
			last_seen_hlc = excluded.last_seen_hlc
	`, peer.ID.String(), peer.Endpoint, lastSeen)
	if err != nil {
		return domain.ErrDatabase(err)
	}
	return nil
}

// ListSyncPeers returns all registered replication peers.
func (s *Store) ListSyncPeers(ctx context.Context) ([]domain.SyncPeer, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, endpoint, last_seen_hlc FROM sync_peers ORDER BY id")
	if err != nil {
		return nil, domain.ErrDatabase(err)
	}
	defer rows.Close()

	var peers []domain.SyncPeer //nolint:prealloc // size unknown from query
	for rows.Next() {
		var (
			idStr    string
			endpoint string
			lastSeen []byte
		)
		if err := rows.Scan(&idStr, &endpoint, &lastSeen); err != nil {
			return nil, domain.ErrDatabase(err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, domain.ErrDatabasef("corrupt peer id %q", idStr)
		}
		peer := domain.SyncPeer{ID: id, Endpoint: endpoint}
		if len(lastSeen) > 0 {
			hlc, err := domain.ParseHLC(lastSeen)
			if err != nil {
				return nil, err
			}
			peer.LastSeen = hlc
		}
		peers = append(peers, peer)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrDatabase(err)
	}
	return peers, nil
}
