package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/passage/internal/core/domain"
)

const goSource = `package mathutil

// Add returns the sum of two integers.
func Add(a, b int) int {
	return a + b
}

// Sub returns the difference of two integers.
func Sub(a, b int) int {
	return a - b
}

type Pair struct {
	Left  int
	Right int
}
`

func newTestCodeChunker() *codeChunker {
	r := &recursiveSplitter{count: wordCounter}
	return &codeChunker{count: wordCounter, fallback: r}
}

func TestCodeChunkerCutsAtDeclarations(t *testing.T) {
	c := newTestCodeChunker()

	drafts, err := c.chunk(goSource, domain.ContentTypeGo, testSettings(20, 1, 0))
	require.NoError(t, err)
	require.NotEmpty(t, drafts)

	var kinds []string
	for _, d := range drafts {
		if d.Metadata.NodeKind != "" {
			kinds = append(kinds, d.Metadata.NodeKind)
		}
		assert.Equal(t, domain.StrategySyntax, d.Metadata.Strategy)
		assert.Equal(t, goSource[d.StartOffset:d.EndOffset], d.Content)
	}
	assert.Contains(t, kinds, "function_declaration")
	assert.Contains(t, kinds, "type_declaration")
}

func TestCodeChunkerExtractsNames(t *testing.T) {
	c := newTestCodeChunker()

	drafts, err := c.chunk(goSource, domain.ContentTypeGo, testSettings(20, 1, 0))
	require.NoError(t, err)

	var names []string
	for _, d := range drafts {
		if d.Metadata.NodeName != "" {
			names = append(names, d.Metadata.NodeName)
		}
	}
	assert.Contains(t, names, "Add")
	assert.Contains(t, names, "Sub")
}

func TestCodeChunkerRecursesIntoOversizedNodes(t *testing.T) {
	c := newTestCodeChunker()

	var body strings.Builder
	body.WriteString("class Big:\n")
	for i := 0; i < 30; i++ {
		body.WriteString("    def method_x(self):\n        return 1 + 2 + 3\n\n")
	}

	drafts, err := c.chunk(body.String(), domain.ContentTypePython, testSettings(15, 1, 0))
	require.NoError(t, err)
	require.Greater(t, len(drafts), 1, "oversized class splits into member chunks")
}

func TestCodeChunkerMergesTinyNeighbours(t *testing.T) {
	c := newTestCodeChunker()

	src := "package p\n\nfunc a() {}\n\nfunc b() {}\n"
	drafts, err := c.chunk(src, domain.ContentTypeGo, testSettings(50, 10, 0))
	require.NoError(t, err)

	// The two tiny declarations merge into one chunk.
	require.Len(t, drafts, 1)
	assert.Contains(t, drafts[0].Content, "func a()")
	assert.Contains(t, drafts[0].Content, "func b()")
}

func TestCodeChunkerNoGrammarFallsBack(t *testing.T) {
	a := New(WithTokenCounter(wordCounter))

	// Haskell has no wired grammar; the dispatch falls back to the
	// recursive strategy rather than failing.
	drafts, err := a.Chunk("main :: IO ()\nmain = putStrLn \"hi\"\n", domain.ContentTypeHaskell, testSettings(100, 1, 0))
	require.NoError(t, err)
	require.NotEmpty(t, drafts)
	assert.Equal(t, domain.StrategyRecursive, drafts[0].Metadata.Strategy)
}

func TestCodeChunkerGapBelowMinimumDropped(t *testing.T) {
	c := newTestCodeChunker()

	drafts, err := c.chunk(goSource, domain.ContentTypeGo, testSettings(20, 3, 0))
	require.NoError(t, err)

	for _, d := range drafts {
		if d.Metadata.NodeKind == "" {
			assert.GreaterOrEqual(t, d.TokenCount, 3, "gap chunk below minimum survived: %q", d.Content)
		}
	}
}
