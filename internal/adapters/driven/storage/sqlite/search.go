package sqlite

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/core/ports/driven"
)

// VectorSearch scans stored vectors computing cosine distance against the
// query, returning the k nearest chunks. Vectors are unit-norm, so the
// distance is 1 − dot(query, vector).
func (s *Store) VectorSearch(ctx context.Context, query []float32, k int, collection string) ([]driven.ScoredChunk, error) {
	if len(query) != s.dimension {
		return nil, domain.ErrInvalidArgument("query vector dimension mismatch")
	}
	if k <= 0 {
		return nil, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if collection != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT e.chunk_id, e.vector
			FROM embeddings e
			JOIN chunks c ON c.id = e.chunk_id
			JOIN documents d ON d.id = c.doc_id
			WHERE d.collection = ?
		`, collection)
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT chunk_id, vector FROM embeddings")
	}
	if err != nil {
		return nil, domain.ErrDatabase(err)
	}
	defer rows.Close()

	var hits []driven.ScoredChunk
	for rows.Next() {
		var (
			idStr string
			blob  []byte
		)
		if err := rows.Scan(&idStr, &blob); err != nil {
			return nil, domain.ErrDatabase(err)
		}
		id, err := ulid.Parse(idStr)
		if err != nil {
			return nil, domain.ErrDatabasef("corrupt chunk id %q in vector index", idStr)
		}

		vec := bytesToVector(blob)
		if len(vec) != len(query) {
			return nil, domain.ErrDatabasef("stored vector for chunk %s has dimension %d", idStr, len(vec))
		}
		hits = append(hits, driven.ScoredChunk{
			ChunkID: id,
			Score:   cosineDistance(query, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrDatabase(err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score < hits[j].Score
		}
		return hits[i].ChunkID.Compare(hits[j].ChunkID) < 0
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// KeywordSearch ranks chunks with FTS5 bm25 over the sanitised query.
// SQLite's bm25 is negative-better; rank order is what callers consume.
func (s *Store) KeywordSearch(ctx context.Context, query string, k int, collection string) ([]driven.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if collection != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT c.id, bm25(chunks_fts) AS score
			FROM chunks_fts
			JOIN chunks c ON c.rowid = chunks_fts.rowid
			JOIN documents d ON d.id = c.doc_id
			WHERE chunks_fts MATCH ? AND d.collection = ?
			ORDER BY score
			LIMIT ?
		`, sanitized, collection, k)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT c.id, bm25(chunks_fts) AS score
			FROM chunks_fts
			JOIN chunks c ON c.rowid = chunks_fts.rowid
			WHERE chunks_fts MATCH ?
			ORDER BY score
			LIMIT ?
		`, sanitized, k)
	}
	if err != nil {
		return nil, domain.ErrDatabase(err)
	}
	defer rows.Close()

	var hits []driven.ScoredChunk
	for rows.Next() {
		var (
			idStr string
			score float64
		)
		if err := rows.Scan(&idStr, &score); err != nil {
			return nil, domain.ErrDatabase(err)
		}
		id, err := ulid.Parse(idStr)
		if err != nil {
			return nil, domain.ErrDatabasef("corrupt chunk id %q in lexical index", idStr)
		}
		hits = append(hits, driven.ScoredChunk{ChunkID: id, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrDatabase(err)
	}
	return hits, nil
}

// cosineDistance is 1 − dot(a, b); both vectors are unit norm.
func cosineDistance(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}

// sanitizeFTSQuery neutralizes FTS5 operators: every whitespace-split
// word becomes a quoted phrase, conjoined. No user-supplied booleans, no
// prefix wildcards.
func sanitizeFTSQuery(query string) string {
	words := strings.Fields(query)
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, `""`)
		if strings.Trim(w, `"`) == "" {
			continue
		}
		quoted = append(quoted, `"`+w+`"`)
	}
	return strings.Join(quoted, " ")
}
