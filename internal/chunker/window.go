package chunker

import (
	"strings"
	"unicode"

	"github.com/custodia-labs/passage/internal/core/domain"
)

// windowChunker emits token-aligned sliding windows of size MaxTokens
// with stride MaxTokens − overlap. Used for chat logs, where turns have
// no structural boundaries worth cutting at. Overlap defaults to half the
// window.
type windowChunker struct {
	count TokenCounter
}

// word is a whitespace-delimited token with its source span.
type word struct {
	span
	tokens int
}

func (w *windowChunker) chunk(content string, settings domain.ChunkSettings) []domain.ChunkDraft {
	overlap := settings.OverlapTokens
	if overlap == 0 {
		overlap = settings.MaxTokens / 2
	}
	stride := settings.MaxTokens - overlap
	if stride < 1 {
		stride = 1
	}

	words := splitWords(content, w.count)
	if len(words) == 0 {
		return nil
	}

	var drafts []domain.ChunkDraft
	i := 0
	for i < len(words) {
		// Extend the window up to MaxTokens.
		j, sum := i, 0
		for j < len(words) {
			if sum+words[j].tokens > settings.MaxTokens && j > i {
				break
			}
			sum += words[j].tokens
			j++
		}

		piece := content[words[i].start:words[j-1].end]
		drafts = append(drafts, domain.ChunkDraft{
			Content:     piece,
			TokenCount:  sum,
			StartOffset: words[i].start,
			EndOffset:   words[j-1].end,
			Metadata: domain.ChunkMetadata{
				Strategy:         domain.StrategyWindow,
				OverlapsPrevious: i > 0,
				OverlapsNext:     j < len(words),
			},
		})

		if j >= len(words) {
			break
		}

		// Advance by the stride in token weight.
		adv, k := 0, i
		for k < j && adv < stride {
			adv += words[k].tokens
			k++
		}
		if k == i {
			k = i + 1
		}
		i = k
	}
	return drafts
}

// splitWords tokenizes on Unicode whitespace, keeping source spans.
func splitWords(content string, count TokenCounter) []word {
	var words []word
	start := -1
	for i, r := range content {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, makeWord(content, start, i, count))
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, makeWord(content, start, len(content), count))
	}
	return words
}

func makeWord(content string, start, end int, count TokenCounter) word {
	w := word{span: span{start, end}}
	w.tokens = count(strings.TrimSpace(content[start:end]))
	if w.tokens < 1 {
		w.tokens = 1
	}
	return w
}
