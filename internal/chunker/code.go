package chunker

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/elixir"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/scala"
	"github.com/smacker/go-tree-sitter/swift"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/custodia-labs/passage/internal/core/domain"
)

// grammars maps content types to tree-sitter grammars. Types without a
// grammar here (haskell, zig) fall back to the recursive strategy.
var grammars = map[domain.ContentType]func() *sitter.Language{
	domain.ContentTypeGo:         golang.GetLanguage,
	domain.ContentTypePython:     python.GetLanguage,
	domain.ContentTypeJavaScript: javascript.GetLanguage,
	domain.ContentTypeTypeScript: typescript.GetLanguage,
	domain.ContentTypeJava:       java.GetLanguage,
	domain.ContentTypeC:          c.GetLanguage,
	domain.ContentTypeCpp:        cpp.GetLanguage,
	domain.ContentTypeRuby:       ruby.GetLanguage,
	domain.ContentTypeRust:       rust.GetLanguage,
	domain.ContentTypePHP:        php.GetLanguage,
	domain.ContentTypeSwift:      swift.GetLanguage,
	domain.ContentTypeKotlin:     kotlin.GetLanguage,
	domain.ContentTypeScala:      scala.GetLanguage,
	domain.ContentTypeElixir:     elixir.GetLanguage,
}

// boundaryKinds lists the node types that form chunk boundaries per
// language: functions, methods, classes, impl/trait blocks, modules, and
// top-level declarations.
var boundaryKinds = map[domain.ContentType]map[string]bool{
	domain.ContentTypeGo: {
		"function_declaration": true,
		"method_declaration":   true,
		"type_declaration":     true,
		"const_declaration":    true,
		"var_declaration":      true,
	},
	domain.ContentTypePython: {
		"function_definition":  true,
		"class_definition":     true,
		"decorated_definition": true,
	},
	domain.ContentTypeJavaScript: {
		"function_declaration":           true,
		"generator_function_declaration": true,
		"class_declaration":              true,
		"method_definition":              true,
		"lexical_declaration":            true,
	},
	domain.ContentTypeTypeScript: {
		"function_declaration":           true,
		"generator_function_declaration": true,
		"class_declaration":              true,
		"method_definition":              true,
		"interface_declaration":          true,
		"enum_declaration":               true,
		"type_alias_declaration":         true,
		"lexical_declaration":            true,
	},
	domain.ContentTypeJava: {
		"class_declaration":       true,
		"interface_declaration":   true,
		"enum_declaration":        true,
		"method_declaration":      true,
		"constructor_declaration": true,
	},
	domain.ContentTypeC: {
		"function_definition": true,
		"struct_specifier":    true,
		"enum_specifier":      true,
		"declaration":         true,
		"type_definition":     true,
	},
	domain.ContentTypeCpp: {
		"function_definition":  true,
		"class_specifier":      true,
		"struct_specifier":     true,
		"namespace_definition": true,
		"template_declaration": true,
	},
	domain.ContentTypeRuby: {
		"method":           true,
		"singleton_method": true,
		"class":            true,
		"module":           true,
	},
	domain.ContentTypeRust: {
		"function_item":    true,
		"impl_item":        true,
		"struct_item":      true,
		"enum_item":        true,
		"trait_item":       true,
		"mod_item":         true,
		"macro_definition": true,
	},
	domain.ContentTypePHP: {
		"function_definition":   true,
		"method_declaration":    true,
		"class_declaration":     true,
		"interface_declaration": true,
		"trait_declaration":     true,
	},
	domain.ContentTypeSwift: {
		"function_declaration": true,
		"class_declaration":    true,
		"protocol_declaration": true,
	},
	domain.ContentTypeKotlin: {
		"function_declaration": true,
		"class_declaration":    true,
		"object_declaration":   true,
	},
	domain.ContentTypeScala: {
		"function_definition": true,
		"class_definition":    true,
		"object_definition":   true,
		"trait_definition":    true,
	},
	domain.ContentTypeElixir: {
		"call": true,
	},
}

// codeChunker cuts source files at syntax-tree boundaries.
type codeChunker struct {
	count    TokenCounter
	fallback *recursiveSplitter
}

// cut is a candidate chunk span anchored at a syntactic node.
type cut struct {
	start, end int
	kind, name string
}

func (c *codeChunker) chunk(content string, contentType domain.ContentType, settings domain.ChunkSettings) ([]domain.ChunkDraft, error) {
	getLang, ok := grammars[contentType]
	if !ok {
		return nil, domain.ErrParse(contentType, "no grammar available")
	}

	parser := sitter.NewParser()
	parser.SetLanguage(getLang())
	tree, err := parser.ParseCtx(context.Background(), nil, []byte(content))
	if err != nil {
		return nil, domain.ErrParse(contentType, err.Error())
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || (root.NamedChildCount() == 0 && len(content) > 0) {
		return nil, domain.ErrParse(contentType, "empty parse tree")
	}

	kinds := boundaryKinds[contentType]
	var cuts []cut
	c.collect(root, content, kinds, settings, &cuts)

	drafts := c.assemble(content, cuts, settings)
	drafts = c.mergeSmall(content, drafts, settings)
	for i := range drafts {
		drafts[i].Metadata.Strategy = domain.StrategySyntax
	}
	return drafts, nil
}

// collect walks the tree gathering boundary nodes that fit MaxTokens,
// descending into oversized nodes so their members become boundaries.
func (c *codeChunker) collect(node *sitter.Node, content string, kinds map[string]bool, settings domain.ChunkSettings, cuts *[]cut) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		start, end := int(child.StartByte()), int(child.EndByte())
		if start >= end || end > len(content) {
			continue
		}
		tokens := c.count(content[start:end])

		switch {
		case kinds[child.Type()] && tokens <= settings.MaxTokens:
			*cuts = append(*cuts, cut{
				start: start,
				end:   end,
				kind:  child.Type(),
				name:  nodeName(child, content),
			})
		case tokens > settings.MaxTokens:
			c.collect(child, content, kinds, settings, cuts)
		}
	}
}

// nodeName extracts the declared identifier, when the grammar exposes one.
func nodeName(node *sitter.Node, content string) string {
	name := node.ChildByFieldName("name")
	if name == nil {
		return ""
	}
	start, end := int(name.StartByte()), int(name.EndByte())
	if start >= end || end > len(content) {
		return ""
	}
	return content[start:end]
}

// assemble turns cuts into drafts, filling the gaps between boundaries
// that hold at least MinTokens of content.
func (c *codeChunker) assemble(content string, cuts []cut, settings domain.ChunkSettings) []domain.ChunkDraft {
	if len(cuts) == 0 {
		return c.fallback.split(content, 0, recursiveSeparators, settings)
	}

	var drafts []domain.ChunkDraft
	pos := 0
	for _, ct := range cuts {
		if ct.start > pos {
			drafts = append(drafts, c.gapDrafts(content, pos, ct.start, settings)...)
		}
		piece := content[ct.start:ct.end]
		drafts = append(drafts, domain.ChunkDraft{
			Content:     piece,
			TokenCount:  c.count(piece),
			StartOffset: ct.start,
			EndOffset:   ct.end,
			Metadata: domain.ChunkMetadata{
				NodeKind: ct.kind,
				NodeName: ct.name,
			},
		})
		pos = ct.end
	}
	if pos < len(content) {
		drafts = append(drafts, c.gapDrafts(content, pos, len(content), settings)...)
	}
	return drafts
}

// gapDrafts chunks the text between two boundaries. Blank gaps and gaps
// below MinTokens stay unchunked; oversized gaps split recursively.
func (c *codeChunker) gapDrafts(content string, start, end int, settings domain.ChunkSettings) []domain.ChunkDraft {
	gap := content[start:end]
	if strings.TrimSpace(gap) == "" {
		return nil
	}
	tokens := c.count(gap)
	if tokens < settings.MinTokens {
		return nil
	}
	if tokens <= settings.MaxTokens {
		return []domain.ChunkDraft{{
			Content:     gap,
			TokenCount:  tokens,
			StartOffset: start,
			EndOffset:   end,
		}}
	}
	return c.fallback.split(gap, start, recursiveSeparators, settings)
}

// mergeSmall combines consecutive chunks when they fit together and the
// smaller member is below MinTokens.
func (c *codeChunker) mergeSmall(content string, drafts []domain.ChunkDraft, settings domain.ChunkSettings) []domain.ChunkDraft {
	if len(drafts) < 2 {
		return drafts
	}

	merged := make([]domain.ChunkDraft, 0, len(drafts))
	merged = append(merged, drafts[0])
	for _, next := range drafts[1:] {
		last := &merged[len(merged)-1]
		smaller := last.TokenCount
		if next.TokenCount < smaller {
			smaller = next.TokenCount
		}

		combined := content[last.StartOffset:next.EndOffset]
		combinedTokens := c.count(combined)
		if smaller < settings.MinTokens && combinedTokens <= settings.MaxTokens {
			last.Content = combined
			last.TokenCount = combinedTokens
			last.EndOffset = next.EndOffset
			if last.Metadata.NodeKind == "" {
				last.Metadata.NodeKind = next.Metadata.NodeKind
				last.Metadata.NodeName = next.Metadata.NodeName
			}
			continue
		}
		merged = append(merged, next)
	}
	return merged
}
