package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/passage/internal/core/domain"
)

// recursiveSeparators are tried in order; each level splits parts the
// previous level could not fit. The empty string marks the force-split
// last resort.
var recursiveSeparators = []string{
	"\n\n\n", "\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ", "",
}

// recursiveSplitter packs separator-delimited parts greedily into chunks
// bounded by MaxTokens, recursing to finer separators for oversized parts.
type recursiveSplitter struct {
	count TokenCounter
}

// chunk splits content into recursive-strategy drafts. It never fails:
// the force-split last resort always produces output for non-empty input.
func (r *recursiveSplitter) chunk(content string, settings domain.ChunkSettings) []domain.ChunkDraft {
	drafts := r.split(content, 0, recursiveSeparators, settings)
	for i := range drafts {
		drafts[i].Metadata.Strategy = domain.StrategyRecursive
	}
	return drafts
}

// span is a half-open byte interval into the original content.
type span struct {
	start, end int
}

func (r *recursiveSplitter) split(text string, base int, seps []string, settings domain.ChunkSettings) []domain.ChunkDraft {
	if text == "" {
		return nil
	}
	if tokens := r.count(text); tokens <= settings.MaxTokens {
		return []domain.ChunkDraft{{
			Content:     text,
			TokenCount:  tokens,
			StartOffset: base,
			EndOffset:   base + len(text),
		}}
	}

	for i, sep := range seps {
		if sep == "" {
			break
		}
		parts := splitSpans(text, sep)
		if len(parts) <= 1 {
			continue
		}
		return r.pack(text, base, parts, seps[i+1:], settings)
	}

	return r.forceSplit(text, base, settings)
}

// pack greedily extends a chunk over consecutive parts while it stays
// within MaxTokens. An oversized single part recurses to finer separators.
func (r *recursiveSplitter) pack(text string, base int, parts []span, finer []string, settings domain.ChunkSettings) []domain.ChunkDraft {
	var out []domain.ChunkDraft
	cur := span{-1, -1}

	flush := func() {
		if cur.start < 0 {
			return
		}
		piece := text[cur.start:cur.end]
		out = append(out, domain.ChunkDraft{
			Content:     piece,
			TokenCount:  r.count(piece),
			StartOffset: base + cur.start,
			EndOffset:   base + cur.end,
		})
		cur = span{-1, -1}
	}

	for _, p := range parts {
		part := text[p.start:p.end]

		if cur.start >= 0 {
			if r.count(text[cur.start:p.end]) <= settings.MaxTokens {
				cur.end = p.end
				continue
			}
			flush()
		}

		if r.count(part) > settings.MaxTokens {
			if len(finer) == 0 || finer[0] == "" {
				out = append(out, r.forceSplit(part, base+p.start, settings)...)
			} else {
				out = append(out, r.split(part, base+p.start, finer, settings)...)
			}
			continue
		}
		cur = p
	}
	flush()

	return out
}

// splitSpans locates separator-delimited, non-empty parts. Separators are
// left in the gaps between spans.
func splitSpans(text, sep string) []span {
	var parts []span
	pos := 0
	for {
		idx := strings.Index(text[pos:], sep)
		if idx < 0 {
			break
		}
		if idx > 0 {
			parts = append(parts, span{pos, pos + idx})
		}
		pos += idx + len(sep)
	}
	if pos < len(text) {
		parts = append(parts, span{pos, len(text)})
	}
	return parts
}

// forceSplit cuts at an estimated character width, preferring whitespace
// and always respecting rune boundaries.
func (r *recursiveSplitter) forceSplit(text string, base int, settings domain.ChunkSettings) []domain.ChunkDraft {
	target := settings.MaxTokens * 4
	if target < 1 {
		target = 1
	}

	var out []domain.ChunkDraft
	start := 0
	for start < len(text) {
		end := start + target
		if end >= len(text) {
			end = len(text)
		} else {
			if ws := strings.LastIndexAny(text[start:end], " \n\t"); ws > 0 {
				end = start + ws + 1
			}
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				_, size := utf8.DecodeRuneInString(text[start:])
				end = start + size
			}
		}

		piece := text[start:end]
		out = append(out, domain.ChunkDraft{
			Content:     piece,
			TokenCount:  r.count(piece),
			StartOffset: base + start,
			EndOffset:   base + end,
		})
		start = end
	}
	return out
}
