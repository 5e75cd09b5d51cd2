package domain

import (
	"bytes"
	"path"
	"strings"
)

// ContentType classifies document content and selects the chunking strategy.
// The set is closed; unknown inputs map to ContentTypeUnknown.
type ContentType string

// Source code.
const (
	ContentTypeRust       ContentType = "rust"
	ContentTypePython     ContentType = "python"
	ContentTypeTypeScript ContentType = "typescript"
	ContentTypeJavaScript ContentType = "javascript"
	ContentTypeGo         ContentType = "go"
	ContentTypeJava       ContentType = "java"
	ContentTypeC          ContentType = "c"
	ContentTypeCpp        ContentType = "cpp"
	ContentTypeRuby       ContentType = "ruby"
	ContentTypePHP        ContentType = "php"
	ContentTypeSwift      ContentType = "swift"
	ContentTypeKotlin     ContentType = "kotlin"
	ContentTypeScala      ContentType = "scala"
	ContentTypeHaskell    ContentType = "haskell"
	ContentTypeElixir     ContentType = "elixir"
	ContentTypeZig        ContentType = "zig"
)

// Documentation.
const (
	ContentTypeMarkdown  ContentType = "markdown"
	ContentTypeRst       ContentType = "restructuredtext"
	ContentTypeAsciidoc  ContentType = "asciidoc"
	ContentTypeHTML      ContentType = "html"
	ContentTypeLatex     ContentType = "latex"
	ContentTypePlainText ContentType = "plaintext"
)

// Configuration.
const (
	ContentTypeJSON ContentType = "json"
	ContentTypeYAML ContentType = "yaml"
	ContentTypeTOML ContentType = "toml"
	ContentTypeXML  ContentType = "xml"
	ContentTypeINI  ContentType = "ini"
)

// Data and special formats.
const (
	ContentTypeCSV      ContentType = "csv"
	ContentTypeSQL      ContentType = "sql"
	ContentTypeChatLog  ContentType = "chatlog"
	ContentTypeGitDiff  ContentType = "gitdiff"
	ContentTypeNotebook ContentType = "jupyter"
	ContentTypePDF      ContentType = "pdf"
	ContentTypeUnknown  ContentType = "unknown"
)

// extensionTypes maps lower-case file extensions to content types.
var extensionTypes = map[string]ContentType{
	"rs":       ContentTypeRust,
	"py":       ContentTypePython,
	"pyi":      ContentTypePython,
	"ts":       ContentTypeTypeScript,
	"tsx":      ContentTypeTypeScript,
	"js":       ContentTypeJavaScript,
	"jsx":      ContentTypeJavaScript,
	"mjs":      ContentTypeJavaScript,
	"cjs":      ContentTypeJavaScript,
	"go":       ContentTypeGo,
	"java":     ContentTypeJava,
	"c":        ContentTypeC,
	"h":        ContentTypeC,
	"cpp":      ContentTypeCpp,
	"cc":       ContentTypeCpp,
	"cxx":      ContentTypeCpp,
	"hpp":      ContentTypeCpp,
	"hxx":      ContentTypeCpp,
	"rb":       ContentTypeRuby,
	"php":      ContentTypePHP,
	"swift":    ContentTypeSwift,
	"kt":       ContentTypeKotlin,
	"kts":      ContentTypeKotlin,
	"scala":    ContentTypeScala,
	"hs":       ContentTypeHaskell,
	"ex":       ContentTypeElixir,
	"exs":      ContentTypeElixir,
	"zig":      ContentTypeZig,
	"md":       ContentTypeMarkdown,
	"markdown": ContentTypeMarkdown,
	"rst":      ContentTypeRst,
	"adoc":     ContentTypeAsciidoc,
	"asciidoc": ContentTypeAsciidoc,
	"html":     ContentTypeHTML,
	"htm":      ContentTypeHTML,
	"tex":      ContentTypeLatex,
	"txt":      ContentTypePlainText,
	"text":     ContentTypePlainText,
	"json":     ContentTypeJSON,
	"yaml":     ContentTypeYAML,
	"yml":      ContentTypeYAML,
	"toml":     ContentTypeTOML,
	"xml":      ContentTypeXML,
	"ini":      ContentTypeINI,
	"cfg":      ContentTypeINI,
	"csv":      ContentTypeCSV,
	"sql":      ContentTypeSQL,
	"diff":     ContentTypeGitDiff,
	"patch":    ContentTypeGitDiff,
	"ipynb":    ContentTypeNotebook,
	"pdf":      ContentTypePDF,
}

// ContentTypeFromString parses a declared content type. Accepts both the
// canonical names and common file extensions.
func ContentTypeFromString(s string) ContentType {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ContentTypeUnknown
	}
	for _, ct := range allContentTypes {
		if string(ct) == s {
			return ct
		}
	}
	if ct, ok := extensionTypes[s]; ok {
		return ct
	}
	return ContentTypeUnknown
}

// ContentTypeFromPath detects a content type from the extension of a file
// path or URI.
func ContentTypeFromPath(p string) ContentType {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	return ContentTypeUnknown
}

// DetectContentType resolves a content type from, in order: the caller's
// hint, the URI extension, magic bytes, and finally ContentTypeUnknown.
func DetectContentType(hint, uri string, data []byte) ContentType {
	if hint != "" {
		if ct := ContentTypeFromString(hint); ct != ContentTypeUnknown {
			return ct
		}
	}
	if ct := ContentTypeFromPath(uri); ct != ContentTypeUnknown {
		return ct
	}
	return sniffContentType(data)
}

// sniffContentType inspects leading bytes for well-known signatures.
func sniffContentType(data []byte) ContentType {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return ContentTypePDF
	case bytes.HasPrefix(trimmed, []byte("<?xml")):
		return ContentTypeXML
	case bytes.HasPrefix(trimmed, []byte("<!DOCTYPE html")),
		bytes.HasPrefix(trimmed, []byte("<html")):
		return ContentTypeHTML
	case bytes.HasPrefix(trimmed, []byte("diff --git ")):
		return ContentTypeGitDiff
	case bytes.HasPrefix(trimmed, []byte("{")), bytes.HasPrefix(trimmed, []byte("[")):
		if looksLikeJSON(trimmed) {
			return ContentTypeJSON
		}
	}
	return ContentTypeUnknown
}

// looksLikeJSON is a cheap structural check, not a full parse.
func looksLikeJSON(data []byte) bool {
	end := bytes.TrimRight(data, " \t\r\n")
	if len(end) < 2 {
		return false
	}
	open, close := end[0], end[len(end)-1]
	return (open == '{' && close == '}') || (open == '[' && close == ']')
}

// SupportsSyntaxChunking reports whether a syntax-tree grammar may exist
// for the content type. Whether one is actually wired is the chunker's
// concern; types without a grammar fall back to the recursive strategy.
func (ct ContentType) SupportsSyntaxChunking() bool {
	switch ct {
	case ContentTypeRust, ContentTypePython, ContentTypeTypeScript,
		ContentTypeJavaScript, ContentTypeGo, ContentTypeJava, ContentTypeC,
		ContentTypeCpp, ContentTypeRuby, ContentTypePHP, ContentTypeSwift,
		ContentTypeKotlin, ContentTypeScala, ContentTypeHaskell,
		ContentTypeElixir, ContentTypeZig:
		return true
	}
	return false
}

// IsMarkup reports whether the content type uses the heading-aware
// semantic strategy.
func (ct ContentType) IsMarkup() bool {
	return ct == ContentTypeMarkdown || ct == ContentTypeRst
}

// IsRecord reports whether the content type uses the record-based strategy.
func (ct ContentType) IsRecord() bool {
	switch ct {
	case ContentTypeJSON, ContentTypeYAML, ContentTypeTOML, ContentTypeXML:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (ct ContentType) String() string {
	return string(ct)
}

// allContentTypes enumerates the closed set, used by parsing and tests.
var allContentTypes = []ContentType{
	ContentTypeRust, ContentTypePython, ContentTypeTypeScript,
	ContentTypeJavaScript, ContentTypeGo, ContentTypeJava, ContentTypeC,
	ContentTypeCpp, ContentTypeRuby, ContentTypePHP, ContentTypeSwift,
	ContentTypeKotlin, ContentTypeScala, ContentTypeHaskell,
	ContentTypeElixir, ContentTypeZig,
	ContentTypeMarkdown, ContentTypeRst, ContentTypeAsciidoc,
	ContentTypeHTML, ContentTypeLatex, ContentTypePlainText,
	ContentTypeJSON, ContentTypeYAML, ContentTypeTOML, ContentTypeXML,
	ContentTypeINI,
	ContentTypeCSV, ContentTypeSQL,
	ContentTypeChatLog, ContentTypeGitDiff, ContentTypeNotebook,
	ContentTypePDF, ContentTypeUnknown,
}
