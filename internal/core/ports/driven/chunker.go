package driven

import (
	"github.com/custodia-labs/passage/internal/core/domain"
)

// Chunker splits content into ordered chunk drafts. It is a pure
// transformation: dispatch on content type selects the strategy, and the
// output is sorted by source offset with non-overlapping spans except for
// the sliding-window strategy, where overlap is explicit in the metadata.
type Chunker interface {
	// Chunk splits content. Fails with CodeParse when a grammar rejects
	// the input (after the internal recursive fallback also fails),
	// CodeUnsupportedContentType for unchunkable types, and
	// CodeEmptyChunks when nothing meets the minimum threshold.
	Chunk(content string, contentType domain.ContentType, settings domain.ChunkSettings) ([]domain.ChunkDraft, error)
}
