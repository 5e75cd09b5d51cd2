package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowOverlap(t *testing.T) {
	w := &windowChunker{count: wordCounter}

	// Eight words, window four, overlap two: expect windows
	// [0..4), [2..6), [4..8).
	content := "w0 w1 w2 w3 w4 w5 w6 w7"
	drafts := w.chunk(content, testSettings(4, 1, 2))

	require.Len(t, drafts, 3)
	assert.Equal(t, "w0 w1 w2 w3", drafts[0].Content)
	assert.Equal(t, "w2 w3 w4 w5", drafts[1].Content)
	assert.Equal(t, "w4 w5 w6 w7", drafts[2].Content)

	// Consecutive windows share exactly two words.
	for i := 1; i < len(drafts); i++ {
		prev := strings.Fields(drafts[i-1].Content)
		cur := strings.Fields(drafts[i].Content)
		shared := 0
		for _, word := range cur {
			for _, p := range prev {
				if word == p {
					shared++
					break
				}
			}
		}
		assert.Equal(t, 2, shared)
	}
}

func TestWindowOverlapFlags(t *testing.T) {
	w := &windowChunker{count: wordCounter}

	drafts := w.chunk("a b c d e f", testSettings(4, 1, 2))
	require.GreaterOrEqual(t, len(drafts), 2)

	assert.False(t, drafts[0].Metadata.OverlapsPrevious)
	assert.True(t, drafts[0].Metadata.OverlapsNext)
	last := drafts[len(drafts)-1]
	assert.True(t, last.Metadata.OverlapsPrevious)
	assert.False(t, last.Metadata.OverlapsNext)

	for _, d := range drafts {
		assert.Equal(t, d.Content, "a b c d e f"[d.StartOffset:d.EndOffset])
	}
}

func TestWindowDefaultsToHalfOverlap(t *testing.T) {
	w := &windowChunker{count: wordCounter}

	// Overlap zero selects the 50% default: window four, stride two.
	drafts := w.chunk("w0 w1 w2 w3 w4 w5", testSettings(4, 1, 0))
	require.Len(t, drafts, 2)
	assert.Equal(t, "w0 w1 w2 w3", drafts[0].Content)
	assert.Equal(t, "w2 w3 w4 w5", drafts[1].Content)
}

func TestWindowSingleChunkWhenSmall(t *testing.T) {
	w := &windowChunker{count: wordCounter}

	drafts := w.chunk("just three words", testSettings(10, 1, 5))
	require.Len(t, drafts, 1)
	assert.False(t, drafts[0].Metadata.OverlapsPrevious)
	assert.False(t, drafts[0].Metadata.OverlapsNext)
}

func TestWindowEmptyContent(t *testing.T) {
	w := &windowChunker{count: wordCounter}
	assert.Empty(t, w.chunk("   ", testSettings(4, 1, 2)))
}
