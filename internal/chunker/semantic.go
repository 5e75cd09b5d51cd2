package chunker

import (
	"strings"

	"gitlab.com/golang-commonmark/markdown"

	"github.com/custodia-labs/passage/internal/core/domain"
)

// semanticChunker cuts markup into heading-scoped sections. Every emitted
// chunk carries the heading hierarchy active at emission time.
type semanticChunker struct {
	count    TokenCounter
	fallback *recursiveSplitter
}

func (s *semanticChunker) chunk(content string, contentType domain.ContentType, settings domain.ChunkSettings) ([]domain.ChunkDraft, error) {
	switch contentType {
	case domain.ContentTypeMarkdown:
		return s.chunkMarkdown(content, settings), nil
	case domain.ContentTypeRst:
		return s.chunkRst(content, settings), nil
	default:
		return nil, domain.ErrUnsupportedContentType(contentType)
	}
}

// sectionAccumulator flushes buffered lines into heading-tagged drafts.
// Lines are 0-based; flushing at line L emits [bufStart, L).
type sectionAccumulator struct {
	count    TokenCounter
	fallback *recursiveSplitter
	settings domain.ChunkSettings

	content  string
	offsets  []int // line start offsets, plus len(content) sentinel
	headings []string
	bufStart int
	lastPara int // last paragraph boundary line, candidate flush point
	drafts   []domain.ChunkDraft
}

func newSectionAccumulator(content string, count TokenCounter, fallback *recursiveSplitter, settings domain.ChunkSettings) *sectionAccumulator {
	offsets := lineOffsets(content)
	offsets = append(offsets, len(content))
	return &sectionAccumulator{
		count:    count,
		fallback: fallback,
		settings: settings,
		content:  content,
		offsets:  offsets,
	}
}

func (a *sectionAccumulator) lineOffset(line int) int {
	if line < 0 {
		return 0
	}
	if line >= len(a.offsets) {
		return len(a.content)
	}
	return a.offsets[line]
}

// flush emits [bufStart, line) under the current heading stack.
func (a *sectionAccumulator) flush(line int) {
	start := a.lineOffset(a.bufStart)
	end := a.lineOffset(line)
	if end <= start {
		return
	}
	piece := a.content[start:end]
	if strings.TrimSpace(piece) == "" {
		a.bufStart = line
		return
	}

	path := append([]string(nil), a.headings...)
	tokens := a.count(piece)
	if tokens <= a.settings.MaxTokens {
		a.drafts = append(a.drafts, domain.ChunkDraft{
			Content:     piece,
			TokenCount:  tokens,
			StartOffset: start,
			EndOffset:   end,
			Metadata: domain.ChunkMetadata{
				HeadingPath: path,
				Strategy:    domain.StrategySemantic,
			},
		})
	} else {
		// Oversized section: split recursively, every piece keeps the
		// heading context.
		for _, d := range a.fallback.split(piece, start, recursiveSeparators, a.settings) {
			d.Metadata.HeadingPath = path
			d.Metadata.Strategy = domain.StrategySemantic
			a.drafts = append(a.drafts, d)
		}
	}
	a.bufStart = line
	a.lastPara = line
}

// heading records a new heading at the given level (1-based), flushing
// accumulated content first. The heading line itself opens the new
// section.
func (a *sectionAccumulator) heading(line int, level int, title string) {
	a.flush(line)
	if level < 1 {
		level = 1
	}
	if level-1 < len(a.headings) {
		a.headings = a.headings[:level-1]
	}
	for len(a.headings) < level-1 {
		a.headings = append(a.headings, "")
	}
	a.headings = append(a.headings, title)
}

// paragraphBoundary records that a paragraph ends at the given line; when
// the buffer exceeds MaxTokens, it flushes at the previous boundary.
func (a *sectionAccumulator) paragraphBoundary(line int) {
	start := a.lineOffset(a.bufStart)
	end := a.lineOffset(line)
	if end <= start {
		return
	}
	if a.count(a.content[start:end]) > a.settings.MaxTokens && a.lastPara > a.bufStart {
		a.flush(a.lastPara)
	}
	a.lastPara = line
}

func (a *sectionAccumulator) finish() []domain.ChunkDraft {
	a.flush(len(a.offsets) - 1)
	return a.drafts
}

// chunkMarkdown walks the commonmark event stream maintaining the heading
// stack and flushing sections.
func (s *semanticChunker) chunkMarkdown(content string, settings domain.ChunkSettings) []domain.ChunkDraft {
	md := markdown.New()
	tokens := md.Parse([]byte(content))

	acc := newSectionAccumulator(content, s.count, s.fallback, settings)

	for i, tok := range tokens {
		switch t := tok.(type) {
		case *markdown.HeadingOpen:
			title := ""
			if i+1 < len(tokens) {
				if inline, ok := tokens[i+1].(*markdown.Inline); ok {
					title = strings.TrimSpace(inline.Content)
				}
			}
			acc.heading(t.Map[0], t.HLevel, title)

		case *markdown.ParagraphOpen:
			acc.paragraphBoundary(t.Map[1])

		case *markdown.Fence:
			acc.paragraphBoundary(t.Map[1])

		case *markdown.CodeBlock:
			acc.paragraphBoundary(t.Map[1])
		}
	}

	return acc.finish()
}

// rst underline punctuation accepted as section markers.
const rstAdornment = "=-`:'\"~^_*+#<>"

// chunkRst scans for underlined section titles; adornment characters map
// to levels in order of first appearance, the way docutils assigns them.
func (s *semanticChunker) chunkRst(content string, settings domain.ChunkSettings) []domain.ChunkDraft {
	lines := strings.Split(content, "\n")
	acc := newSectionAccumulator(content, s.count, s.fallback, settings)

	levelOf := map[byte]int{}
	paraOpen := false

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			if paraOpen {
				acc.paragraphBoundary(i)
				paraOpen = false
			}
			continue
		}

		if i+1 < len(lines) && isRstUnderline(lines[i+1], len(strings.TrimRight(line, " "))) {
			ch := lines[i+1][0]
			if _, ok := levelOf[ch]; !ok {
				levelOf[ch] = len(levelOf) + 1
			}
			acc.heading(i, levelOf[ch], strings.TrimSpace(line))
			i++ // skip the adornment line
			paraOpen = false
			continue
		}
		paraOpen = true
	}

	return acc.finish()
}

// isRstUnderline reports whether a line is a section adornment long
// enough to underline a title of the given width.
func isRstUnderline(line string, titleWidth int) bool {
	trimmed := strings.TrimRight(line, " ")
	if len(trimmed) < titleWidth || len(trimmed) == 0 {
		return false
	}
	ch := trimmed[0]
	if !strings.ContainsRune(rstAdornment, rune(ch)) {
		return false
	}
	for j := 1; j < len(trimmed); j++ {
		if trimmed[j] != ch {
			return false
		}
	}
	return true
}
