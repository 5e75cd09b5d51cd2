package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/core/ports/driven"
	"github.com/custodia-labs/passage/internal/core/ports/driving"
)

func TestFuseRRFScores(t *testing.T) {
	a, b, c := ulid.Make(), ulid.Make(), ulid.Make()

	dense := []driven.ScoredChunk{{ChunkID: a, Score: 0.1}, {ChunkID: b, Score: 0.3}}
	lexical := []driven.ScoredChunk{{ChunkID: b, Score: -5}, {ChunkID: c, Score: -4}}

	fused := fuseRRF(dense, lexical, 0.5, 60)
	require.Len(t, fused, 3)

	scores := make(map[ulid.ULID]float64)
	for _, f := range fused {
		scores[f.id] = f.score
	}

	// b appears at dense rank 2 and lexical rank 1.
	assert.InDelta(t, 0.5/62+0.5/61, scores[b], 1e-12)
	// a appears only at dense rank 1.
	assert.InDelta(t, 0.5/61, scores[a], 1e-12)
	// c appears only at lexical rank 2.
	assert.InDelta(t, 0.5/62, scores[c], 1e-12)

	assert.Equal(t, b, fused[0].id, "presence in both lists wins")
}

func TestFuseRRFWeights(t *testing.T) {
	a, b := ulid.Make(), ulid.Make()
	dense := []driven.ScoredChunk{{ChunkID: a}}
	lexical := []driven.ScoredChunk{{ChunkID: b}}

	// Dense-only weighting ranks the dense hit first.
	fused := fuseRRF(dense, lexical, 1.0, 60)
	assert.Equal(t, a, fused[0].id)

	// Lexical-only weighting inverts it.
	fused = fuseRRF(dense, lexical, 0.0, 60)
	assert.Equal(t, b, fused[0].id)
}

func TestFuseRRFTieBreak(t *testing.T) {
	a, b := ulid.Make(), ulid.Make()

	// Same ranks in mirrored lists: equal scores. The dense-list leader
	// must come first.
	dense := []driven.ScoredChunk{{ChunkID: a}, {ChunkID: b}}
	lexical := []driven.ScoredChunk{{ChunkID: b}, {ChunkID: a}}

	fused := fuseRRF(dense, lexical, 0.5, 60)
	require.Len(t, fused, 2)
	assert.InDelta(t, fused[0].score, fused[1].score, 1e-12)
	assert.Equal(t, a, fused[0].id)
}

func TestTruncateToBudget(t *testing.T) {
	mk := func(tokens int) domain.SearchResult {
		return domain.SearchResult{Chunk: domain.Chunk{TokenCount: tokens}}
	}
	results := []domain.SearchResult{mk(100), mk(200), mk(300), mk(50)}

	kept := truncateToBudget(results, 350)
	require.Len(t, kept, 2, "the chunk that would overflow is dropped, and everything after it")

	total := 0
	for _, r := range kept {
		total += r.Chunk.TokenCount
	}
	assert.LessOrEqual(t, total, 350)
	assert.Greater(t, total+results[2].Chunk.TokenCount, 350)

	assert.Len(t, truncateToBudget(results, 10000), 4)
	assert.Empty(t, truncateToBudget(results, 50))
}

func TestHybridSearchLiteralAndSemantic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createCollection(t, "docs", 64, 1)

	// One document holds the literal token, another shares the query's
	// remaining vocabulary without ever using the token.
	env.addFile(t, "docs", "file://literal.txt",
		"rare_token_xyz knots ledger accounting entries balance")
	env.addFile(t, "docs", "file://semantic.txt",
		"knots rigging sailing ropes hitch splice")
	for i := 0; i < 8; i++ {
		env.addFile(t, "docs", fmt.Sprintf("file://filler%d.txt", i),
			fmt.Sprintf("completely unrelated filler prose number %d about weather", i))
	}

	results, err := env.query.Search(ctx, "rare_token_xyz knots", "docs", driving.QueryConfig{
		VectorK:       10,
		KeywordK:      10,
		FinalK:        5,
		HybridAlpha:   driving.Alpha(0.5),
		DisableExpand: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results.Results)

	uris := make([]string, len(results.Results))
	for i, r := range results.Results {
		uris[i] = r.SourceURI
	}

	assert.Contains(t, uris, "file://literal.txt")
	assert.Contains(t, uris, "file://semantic.txt")
	assert.Equal(t, "file://literal.txt", uris[0], "the literal match ranks first")

	litIdx, semIdx := -1, -1
	for i, uri := range uris {
		switch uri {
		case "file://literal.txt":
			litIdx = i
		case "file://semantic.txt":
			semIdx = i
		}
	}
	assert.Less(t, litIdx, semIdx)
}

func TestKeywordOnlySearch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createCollection(t, "docs", 64, 1)

	env.addFile(t, "docs", "file://a.txt", "the needle token lives here among words")
	env.addFile(t, "docs", "file://b.txt", "nothing interesting in this one at all")

	results, err := env.query.KeywordSearch(ctx, "needle", "docs", 5)
	require.NoError(t, err)
	require.Len(t, results.Results, 1)
	assert.Equal(t, "file://a.txt", results.Results[0].SourceURI)
	assert.False(t, results.Results[0].IsContext)
}

func TestSearchExplicitZeroAlphaMatchesKeywordSearch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createCollection(t, "docs", 64, 1)

	env.addFile(t, "docs", "file://a.txt", "the zebra crossed the savanna slowly")
	env.addFile(t, "docs", "file://b.txt", "zebra zebra zebra stampede everywhere")
	env.addFile(t, "docs", "file://c.txt", "nothing relevant lives in this document")

	// An explicit zero through the general interface is a lexical-only
	// request, not "use the default".
	viaSearch, err := env.query.Search(ctx, "zebra", "docs", driving.QueryConfig{
		FinalK:        5,
		HybridAlpha:   driving.Alpha(0),
		DisableExpand: true,
	})
	require.NoError(t, err)

	viaWrapper, err := env.query.KeywordSearch(ctx, "zebra", "docs", 5)
	require.NoError(t, err)

	require.Equal(t, len(viaWrapper.Results), len(viaSearch.Results))
	for i := range viaWrapper.Results {
		assert.Equal(t, viaWrapper.Results[i].Chunk.ID, viaSearch.Results[i].Chunk.ID)
		assert.InDelta(t, viaWrapper.Results[i].Score, viaSearch.Results[i].Score, 1e-12)
	}

	// Lexical-only never surfaces the document with no matching terms,
	// which the dense side of a blended search could.
	for _, r := range viaSearch.Results {
		assert.NotEqual(t, "file://c.txt", r.SourceURI)
	}
}

func TestVectorOnlySearch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createCollection(t, "docs", 64, 1)

	env.addFile(t, "docs", "file://a.txt", "gardening tomatoes compost seedlings watering")
	env.addFile(t, "docs", "file://b.txt", "kernel scheduling preemption interrupts latency")

	results, err := env.query.VectorSearch(ctx, "compost for tomatoes", "docs", 1)
	require.NoError(t, err)
	require.Len(t, results.Results, 1)
	assert.Equal(t, "file://a.txt", results.Results[0].SourceURI)
}

func TestContextExpansion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createCollection(t, "docs", 16, 1)

	// Five paragraphs become five chunks; the fourth holds the needle.
	paras := []string{
		"first paragraph of ordinary prose text here.",
		"second paragraph of ordinary prose text here.",
		"third paragraph of ordinary prose text here.",
		"needle_xyz paragraph stands alone right here.",
		"fifth paragraph of ordinary prose text here.",
	}
	content := paras[0] + "\n\n" + paras[1] + "\n\n" + paras[2] + "\n\n" + paras[3] + "\n\n" + paras[4]
	res := env.addFile(t, "docs", "file://doc.txt", content)
	require.Equal(t, 5, res.ChunkCount)

	results, err := env.query.Search(ctx, "needle_xyz", "docs", driving.QueryConfig{
		FinalK:           1,
		HybridAlpha:      driving.Alpha(0.5),
		MaxContextTokens: 1 << 20,
	})
	require.NoError(t, err)
	require.Len(t, results.Results, 3)

	// Indices {2, 3, 4} in ascending order.
	assert.Equal(t, 2, results.Results[0].Chunk.Index)
	assert.Equal(t, 3, results.Results[1].Chunk.Index)
	assert.Equal(t, 4, results.Results[2].Chunk.Index)

	direct := results.Results[1]
	assert.False(t, direct.IsContext)
	assert.True(t, results.Results[0].IsContext)
	assert.True(t, results.Results[2].IsContext)
	assert.InDelta(t, direct.Score*0.5, results.Results[0].Score, 1e-12)
	assert.InDelta(t, direct.Score*0.5, results.Results[2].Score, 1e-12)

	// Ranks follow the final order.
	for i, r := range results.Results {
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestExpansionDedupePrefersDirectHit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createCollection(t, "docs", 16, 1)

	// Two adjacent needle paragraphs: each is a direct hit and each is
	// the other's neighbour. The direct copies must win.
	content := "needle_one paragraph sits right here today.\n\nneedle_two paragraph sits right here today."
	res := env.addFile(t, "docs", "file://doc.txt", content)
	require.Equal(t, 2, res.ChunkCount)

	results, err := env.query.Search(ctx, "needle_one needle_two", "docs", driving.QueryConfig{
		FinalK:      5,
		HybridAlpha: driving.Alpha(1.0),
	})
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, r := range results.Results {
		assert.False(t, seen[r.Chunk.Index], "duplicate chunk index in results")
		seen[r.Chunk.Index] = true
		assert.False(t, r.IsContext, "direct hits are not demoted to context")
	}
}

func TestTokenBudgetTruncation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createCollection(t, "docs", 16, 1)

	content := paraA + "\n\n" + paraB + "\n\n" + paraC
	env.addFile(t, "docs", "file://doc.txt", content)

	// A budget that fits only one chunk.
	results, err := env.query.Search(ctx, "alpha bravo", "docs", driving.QueryConfig{
		FinalK:           5,
		HybridAlpha:      driving.Alpha(0.5),
		MaxContextTokens: 12,
	})
	require.NoError(t, err)

	total := 0
	for _, r := range results.Results {
		total += r.Chunk.TokenCount
	}
	assert.LessOrEqual(t, total, 12)
}

func TestFindSimilar(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createCollection(t, "docs", 64, 1)

	a := env.addFile(t, "docs", "file://a.txt", "tomato garden compost watering schedule")
	env.addFile(t, "docs", "file://b.txt", "tomato garden compost planting calendar")
	env.addFile(t, "docs", "file://c.txt", "unrelated spacecraft telemetry downlink budget")

	chunks, err := env.store.GetChunksForDocument(ctx, a.DocID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	results, err := env.query.FindSimilar(ctx, chunks[0].ID, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results.Results)

	for _, r := range results.Results {
		assert.NotEqual(t, chunks[0].ID, r.Chunk.ID, "source chunk excluded")
	}
	assert.Equal(t, "file://b.txt", results.Results[0].SourceURI)
}

func TestSearchTracing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createCollection(t, "docs", 64, 1)
	env.addFile(t, "docs", "file://a.txt", "traced content with several words")

	traced, err := env.query.Search(ctx, "traced content", "docs", driving.QueryConfig{
		EnableTracing: true,
	})
	require.NoError(t, err)
	require.NotNil(t, traced.Trace)
	assert.Positive(t, traced.Trace.VectorCandidates+traced.Trace.KeywordCandidates)

	plain, err := env.query.Search(ctx, "traced content", "docs", driving.QueryConfig{})
	require.NoError(t, err)
	assert.Nil(t, plain.Trace)
}

func TestSearchSkipsDeletedChunks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createCollection(t, "docs", 64, 1)

	a := env.addFile(t, "docs", "file://a.txt", "phantom token document one")
	env.addFile(t, "docs", "file://b.txt", "phantom token document two")

	// Delete one document between lookup and materialization by racing
	// the simplest way available: delete first, then search. The planner
	// must skip missing chunks rather than fail.
	require.NoError(t, env.ingest.Remove(ctx, a.DocID))

	results, err := env.query.Search(ctx, "phantom", "docs", driving.QueryConfig{})
	require.NoError(t, err)
	for _, r := range results.Results {
		assert.Equal(t, "file://b.txt", r.SourceURI)
	}
}
