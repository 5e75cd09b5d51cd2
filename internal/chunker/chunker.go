// Package chunker splits document content into retrieval units. Strategy
// dispatch on content type: syntax-tree boundaries for code, heading-aware
// sections for markup, sliding windows for chat logs, records for
// structured data, and recursive separator splitting for everything else.
package chunker

import (
	"sort"
	"strings"

	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/core/ports/driven"
	"github.com/custodia-labs/passage/internal/logger"
)

// Ensure Adaptive implements the port.
var _ driven.Chunker = (*Adaptive)(nil)

// Adaptive is the production chunker. It owns one instance of each
// strategy and dispatches on content type. Safe for concurrent use.
type Adaptive struct {
	count     TokenCounter
	recursive *recursiveSplitter
	code      *codeChunker
	semantic  *semanticChunker
	window    *windowChunker
	records   *recordChunker
}

// Option configures the chunker.
type Option func(*Adaptive)

// WithTokenCounter replaces the default token estimator, normally with
// the embedder's tokenizer.
func WithTokenCounter(count TokenCounter) Option {
	return func(a *Adaptive) {
		if count != nil {
			a.count = count
		}
	}
}

// New creates an adaptive chunker.
func New(opts ...Option) *Adaptive {
	a := &Adaptive{count: EstimateTokens}
	for _, opt := range opts {
		opt(a)
	}
	a.recursive = &recursiveSplitter{count: a.count}
	a.code = &codeChunker{count: a.count, fallback: a.recursive}
	a.semantic = &semanticChunker{count: a.count, fallback: a.recursive}
	a.window = &windowChunker{count: a.count}
	a.records = &recordChunker{count: a.count, fallback: a.recursive}
	return a
}

// Chunk splits content into ordered drafts. Output is sorted by source
// offset; spans do not overlap except under the sliding-window strategy,
// where overlap is explicit in the metadata.
func (a *Adaptive) Chunk(content string, contentType domain.ContentType, settings domain.ChunkSettings) ([]domain.ChunkDraft, error) {
	settings = withDefaults(settings)

	// HTML is lowered to text before any splitting; offsets then refer
	// to the lowered text.
	if contentType == domain.ContentTypeHTML {
		content = stripHTML(content)
		contentType = domain.ContentTypePlainText
	}

	if strings.TrimSpace(content) == "" {
		return nil, domain.ErrEmptyChunks()
	}

	drafts, err := a.dispatch(content, contentType, settings)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(drafts, func(i, j int) bool {
		return drafts[i].StartOffset < drafts[j].StartOffset
	})

	// The minimum applies to split output; a document that fits in a
	// single chunk is kept whole regardless.
	if len(drafts) > 1 {
		drafts = filterMin(drafts, settings.MinTokens)
	}
	if len(drafts) == 0 {
		return nil, domain.ErrEmptyChunks()
	}

	annotateLines(content, drafts)
	return drafts, nil
}

// dispatch selects the strategy per the content-type table.
func (a *Adaptive) dispatch(content string, contentType domain.ContentType, settings domain.ChunkSettings) ([]domain.ChunkDraft, error) {
	switch {
	case contentType.SupportsSyntaxChunking():
		drafts, err := a.code.chunk(content, contentType, settings)
		if err == nil {
			return drafts, nil
		}
		if domain.CodeOf(err) != domain.CodeParse {
			return nil, err
		}
		// Unparseable source still gets indexed, just without syntactic
		// boundaries.
		logger.Warn("chunker: %s parse failed, falling back to recursive split: %v", contentType, err)
		return a.recursive.chunk(content, settings), nil

	case contentType.IsMarkup():
		return a.semantic.chunk(content, contentType, settings)

	case contentType == domain.ContentTypeChatLog:
		return a.window.chunk(content, settings), nil

	case contentType.IsRecord():
		return a.records.chunk(content, contentType, settings)

	case contentType == domain.ContentTypePDF:
		// PDF extraction happens upstream; raw PDF bytes are unchunkable.
		return nil, domain.ErrUnsupportedContentType(contentType)

	default:
		return a.recursive.chunk(content, settings), nil
	}
}

// withDefaults completes unset settings.
func withDefaults(s domain.ChunkSettings) domain.ChunkSettings {
	if s.MaxTokens <= 0 {
		s.MaxTokens = domain.DefaultMaxChunkTokens
	}
	if s.MinTokens < 0 {
		s.MinTokens = 0
	}
	if s.MinTokens > s.MaxTokens {
		s.MinTokens = s.MaxTokens
	}
	if s.OverlapTokens < 0 {
		s.OverlapTokens = 0
	}
	if s.OverlapTokens >= s.MaxTokens {
		s.OverlapTokens = s.MaxTokens / 2
	}
	return s
}

// filterMin drops drafts below the minimum token threshold.
func filterMin(drafts []domain.ChunkDraft, minTokens int) []domain.ChunkDraft {
	kept := drafts[:0]
	for _, d := range drafts {
		if d.TokenCount >= minTokens {
			kept = append(kept, d)
		}
	}
	return kept
}

// annotateLines fills 1-based line ranges from the draft offsets.
func annotateLines(content string, drafts []domain.ChunkDraft) {
	offsets := lineOffsets(content)
	for i := range drafts {
		drafts[i].Metadata.StartLine = lineAt(offsets, drafts[i].StartOffset)
		end := drafts[i].EndOffset
		if end > drafts[i].StartOffset {
			end--
		}
		drafts[i].Metadata.EndLine = lineAt(offsets, end)
	}
}

// lineOffsets returns the byte offset of each line start.
func lineOffsets(content string) []int {
	offsets := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// lineAt maps a byte offset to a 1-based line number.
func lineAt(offsets []int, pos int) int {
	n := sort.Search(len(offsets), func(i int) bool { return offsets[i] > pos })
	return n
}
