package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/core/ports/driven"
	"github.com/custodia-labs/passage/internal/core/ports/driving"
	"github.com/custodia-labs/passage/internal/logger"
)

// Ensure QueryService implements the interface.
var _ driving.QueryService = (*QueryService)(nil)

// Query pipeline defaults.
const (
	DefaultVectorK          = 50
	DefaultKeywordK         = 50
	DefaultRRFK             = 60
	DefaultFinalK           = 10
	DefaultMaxContextTokens = 4000

	// contextScoreFactor discounts neighbour chunks added by expansion.
	contextScoreFactor = 0.5
)

// QueryService plans and executes hybrid searches: encode, parallel
// dual-index lookup, reciprocal rank fusion, materialization, context
// expansion, deduplication, and token-budget truncation.
type QueryService struct {
	store    driven.Store
	embedder driven.Embedder
}

// NewQueryService creates a query service.
func NewQueryService(store driven.Store, embedder driven.Embedder) *QueryService {
	return &QueryService{store: store, embedder: embedder}
}

// Search runs the full hybrid pipeline.
func (s *QueryService) Search(ctx context.Context, query, collection string, cfg driving.QueryConfig) (*domain.SearchResults, error) {
	cfg = normalizeConfig(cfg)
	return s.run(ctx, query, collection, cfg)
}

// VectorSearch is dense-only search without context expansion.
func (s *QueryService) VectorSearch(ctx context.Context, query, collection string, k int) (*domain.SearchResults, error) {
	cfg := normalizeConfig(driving.QueryConfig{HybridAlpha: driving.Alpha(1), DisableExpand: true})
	if k > 0 {
		cfg.FinalK = k
		cfg.VectorK = maxInt(cfg.VectorK, k)
	}
	return s.run(ctx, query, collection, cfg)
}

// KeywordSearch is lexical-only search without context expansion.
func (s *QueryService) KeywordSearch(ctx context.Context, query, collection string, k int) (*domain.SearchResults, error) {
	cfg := normalizeConfig(driving.QueryConfig{HybridAlpha: driving.Alpha(0), DisableExpand: true})
	if k > 0 {
		cfg.FinalK = k
		cfg.KeywordK = maxInt(cfg.KeywordK, k)
	}
	return s.run(ctx, query, collection, cfg)
}

// FindSimilar re-embeds a chunk's content in document mode and returns
// the dense-only nearest chunks, excluding the source chunk.
func (s *QueryService) FindSimilar(ctx context.Context, chunkID ulid.ULID, k int) (*domain.SearchResults, error) {
	if k <= 0 {
		k = DefaultFinalK
	}
	start := time.Now()

	chunk, err := s.store.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, []string{chunk.Content})
	if err != nil {
		return nil, err
	}

	hits, err := s.store.VectorSearch(ctx, vectors[0], k+1, "")
	if err != nil {
		return nil, err
	}

	filtered := hits[:0]
	for _, hit := range hits {
		if hit.ChunkID != chunkID {
			filtered = append(filtered, hit)
		}
	}
	if len(filtered) > k {
		filtered = filtered[:k]
	}

	fused := make([]fusedHit, len(filtered))
	for i, hit := range filtered {
		fused[i] = fusedHit{id: hit.ChunkID, score: 1 - hit.Score}
	}

	results, err := s.materialize(ctx, fused, len(fused))
	if err != nil {
		return nil, err
	}
	finishRanks(results)

	return &domain.SearchResults{
		Query:        chunk.Content,
		TotalResults: len(results),
		LatencyMS:    time.Since(start).Milliseconds(),
		Results:      results,
	}, nil
}

// normalizeConfig completes unset knobs with defaults.
func normalizeConfig(cfg driving.QueryConfig) driving.QueryConfig {
	if cfg.VectorK <= 0 {
		cfg.VectorK = DefaultVectorK
	}
	if cfg.KeywordK <= 0 {
		cfg.KeywordK = DefaultKeywordK
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.FinalK <= 0 {
		cfg.FinalK = DefaultFinalK
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = DefaultMaxContextTokens
	}
	// Nil means "not provided"; an explicit 0 is a valid lexical-only
	// request and must survive normalization.
	switch {
	case cfg.HybridAlpha == nil:
		cfg.HybridAlpha = driving.Alpha(domain.DefaultHybridAlpha)
	case *cfg.HybridAlpha < 0:
		cfg.HybridAlpha = driving.Alpha(0)
	case *cfg.HybridAlpha > 1:
		cfg.HybridAlpha = driving.Alpha(1)
	}
	return cfg
}

// fusedHit is a chunk id with its fused score and per-list ranks for
// tie-breaking.
type fusedHit struct {
	id        ulid.ULID
	score     float64
	denseRank int // 0 when absent from the dense list
	lexRank   int // 0 when absent from the lexical list
}

// run executes the pipeline with a normalized config.
func (s *QueryService) run(ctx context.Context, query, collection string, cfg driving.QueryConfig) (*domain.SearchResults, error) {
	start := time.Now()
	alpha := *cfg.HybridAlpha
	var trace *domain.QueryTrace
	if cfg.EnableTracing {
		trace = &domain.QueryTrace{}
	}

	logger.Section("Query Execution")
	logger.Debug("query=%q collection=%q alpha=%.2f", query, collection, alpha)

	// Encode the query, unless the plan is lexical-only.
	var qvec []float32
	if alpha > 0 {
		encodeStart := time.Now()
		vec, err := s.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		qvec = vec
		if trace != nil {
			trace.Encode = time.Since(encodeStart)
		}
	}

	// Dual lookup in parallel; both must finish before fusion.
	lookupStart := time.Now()
	var dense, lexical []driven.ScoredChunk
	g, gctx := errgroup.WithContext(ctx)
	if alpha > 0 {
		g.Go(func() error {
			hits, err := s.store.VectorSearch(gctx, qvec, cfg.VectorK, collection)
			if err != nil {
				return err
			}
			dense = hits
			return nil
		})
	}
	if alpha < 1 {
		g.Go(func() error {
			hits, err := s.store.KeywordSearch(gctx, query, cfg.KeywordK, collection)
			if err != nil {
				return err
			}
			lexical = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if trace != nil {
		trace.Lookup = time.Since(lookupStart)
		trace.VectorCandidates = len(dense)
		trace.KeywordCandidates = len(lexical)
	}
	logger.Debug("candidates: dense=%d lexical=%d", len(dense), len(lexical))

	// Reciprocal rank fusion with weighted lists.
	fuseStart := time.Now()
	fused := fuseRRF(dense, lexical, alpha, cfg.RRFK)
	if trace != nil {
		trace.Fuse = time.Since(fuseStart)
		trace.FusedCount = len(fused)
	}

	// Materialize the top final_k into chunk records.
	fetchStart := time.Now()
	results, err := s.materialize(ctx, fused, cfg.FinalK)
	if err != nil {
		return nil, err
	}
	if trace != nil {
		trace.Fetch = time.Since(fetchStart)
		trace.FetchedCount = len(results)
	}

	// Context expansion, document-order sort, and dedupe.
	if !cfg.DisableExpand {
		expandStart := time.Now()
		results, err = s.expandContext(ctx, results)
		if err != nil {
			return nil, err
		}
		if trace != nil {
			trace.Expand = time.Since(expandStart)
		}
	}

	// Token-budget truncation: whole chunks only.
	truncateStart := time.Now()
	results = truncateToBudget(results, cfg.MaxContextTokens)
	if trace != nil {
		trace.Truncate = time.Since(truncateStart)
	}

	finishRanks(results)
	logger.Info("query returned %d results in %s", len(results), time.Since(start))

	return &domain.SearchResults{
		Query:        query,
		TotalResults: len(results),
		LatencyMS:    time.Since(start).Milliseconds(),
		Results:      results,
		Trace:        trace,
	}, nil
}

// fuseRRF merges the two ranked lists: score[id] = Σ w/(k + rank) with
// the dense list weighted alpha and the lexical list 1−alpha. Ties break
// by dense rank, then lexical rank, then id.
func fuseRRF(dense, lexical []driven.ScoredChunk, alpha float64, k int) []fusedHit {
	byID := make(map[ulid.ULID]*fusedHit)

	for i, hit := range dense {
		rank := i + 1
		f := byID[hit.ChunkID]
		if f == nil {
			f = &fusedHit{id: hit.ChunkID}
			byID[hit.ChunkID] = f
		}
		f.denseRank = rank
		f.score += alpha / float64(k+rank)
	}
	for i, hit := range lexical {
		rank := i + 1
		f := byID[hit.ChunkID]
		if f == nil {
			f = &fusedHit{id: hit.ChunkID}
			byID[hit.ChunkID] = f
		}
		f.lexRank = rank
		f.score += (1 - alpha) / float64(k+rank)
	}

	fused := make([]fusedHit, 0, len(byID))
	for _, f := range byID {
		fused = append(fused, *f)
	}
	sort.Slice(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if ra, rb := tieRank(a.denseRank), tieRank(b.denseRank); ra != rb {
			return ra < rb
		}
		if ra, rb := tieRank(a.lexRank), tieRank(b.lexRank); ra != rb {
			return ra < rb
		}
		return a.id.Compare(b.id) < 0
	})
	return fused
}

// tieRank maps "absent" (0) past every real rank.
func tieRank(rank int) int {
	if rank == 0 {
		return 1 << 30
	}
	return rank
}

// materialize fetches chunk records for the top fused ids. Chunks or
// documents deleted since the lookup are skipped, not errored.
func (s *QueryService) materialize(ctx context.Context, fused []fusedHit, limit int) ([]domain.SearchResult, error) {
	docs := make(map[ulid.ULID]*domain.Document)
	results := make([]domain.SearchResult, 0, limit)

	for _, f := range fused {
		if len(results) >= limit {
			break
		}

		chunk, err := s.store.GetChunk(ctx, f.id)
		if err != nil {
			if errors.Is(err, domain.ErrChunkNotFound("")) {
				continue
			}
			return nil, err
		}

		doc, ok := docs[chunk.DocID]
		if !ok {
			doc, err = s.store.GetDocument(ctx, chunk.DocID)
			if err != nil {
				if errors.Is(err, domain.ErrDocumentNotFound("")) {
					continue
				}
				return nil, err
			}
			docs[chunk.DocID] = doc
		}

		results = append(results, domain.SearchResult{
			Score:      f.score,
			Chunk:      *chunk,
			SourceURI:  doc.SourceURI,
			Collection: doc.Collection,
		})
	}
	return results, nil
}

// expandContext adds the immediate neighbours of every direct hit at
// half score, sorts the combined list into document order, and collapses
// duplicates preferring the direct copy.
func (s *QueryService) expandContext(ctx context.Context, results []domain.SearchResult) ([]domain.SearchResult, error) {
	type key struct {
		doc   ulid.ULID
		index int
	}

	combined := make([]domain.SearchResult, 0, len(results)*3)
	combined = append(combined, results...)

	for _, res := range results {
		for _, neighbour := range []int{res.Chunk.Index - 1, res.Chunk.Index + 1} {
			if neighbour < 0 {
				continue
			}
			chunk, err := s.store.GetChunkAt(ctx, res.Chunk.DocID, neighbour)
			if err != nil {
				if errors.Is(err, domain.ErrChunkNotFound("")) {
					continue
				}
				return nil, err
			}
			combined = append(combined, domain.SearchResult{
				Score:      res.Score * contextScoreFactor,
				Chunk:      *chunk,
				SourceURI:  res.SourceURI,
				Collection: res.Collection,
				IsContext:  true,
			})
		}
	}

	// Document order: a reader sees passages in source sequence.
	sort.SliceStable(combined, func(i, j int) bool {
		a, b := combined[i], combined[j]
		if a.Chunk.DocID != b.Chunk.DocID {
			return a.Chunk.DocID.Compare(b.Chunk.DocID) < 0
		}
		return a.Chunk.Index < b.Chunk.Index
	})

	// One entry per (doc, index); the direct hit wins over a context
	// copy, the higher score wins among context copies.
	deduped := combined[:0]
	seen := make(map[key]int)
	for _, res := range combined {
		k := key{doc: res.Chunk.DocID, index: res.Chunk.Index}
		if at, ok := seen[k]; ok {
			if deduped[at].IsContext && (!res.IsContext || res.Score > deduped[at].Score) {
				deduped[at] = res
			}
			continue
		}
		seen[k] = len(deduped)
		deduped = append(deduped, res)
	}
	return deduped, nil
}

// truncateToBudget keeps results in order while their summed token count
// stays within budget. Chunks never split: one that would overflow is
// dropped along with everything after it.
func truncateToBudget(results []domain.SearchResult, budget int) []domain.SearchResult {
	total := 0
	for i, res := range results {
		total += res.Chunk.TokenCount
		if total > budget {
			return results[:i]
		}
	}
	return results
}

// finishRanks assigns 1-based ranks in final order.
func finishRanks(results []domain.SearchResult) {
	for i := range results {
		results[i].Rank = i + 1
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
