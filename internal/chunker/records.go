package chunker

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/logger"
)

// recordChunker splits structured data at record boundaries: array
// elements and top-level keys for JSON and YAML, tables for TOML,
// top-level elements for XML. Consecutive records pack greedily into
// chunks bounded by MaxTokens; a record that alone exceeds the bound is
// split recursively.
type recordChunker struct {
	count    TokenCounter
	fallback *recursiveSplitter
}

func (r *recordChunker) chunk(content string, contentType domain.ContentType, settings domain.ChunkSettings) ([]domain.ChunkDraft, error) {
	var (
		records []span
		err     error
	)
	switch contentType {
	case domain.ContentTypeJSON:
		records, err = jsonRecords(content)
	case domain.ContentTypeYAML:
		records, err = yamlRecords(content)
	case domain.ContentTypeTOML:
		records = tomlRecords(content)
	case domain.ContentTypeXML:
		records, err = xmlRecords(content)
	default:
		return nil, domain.ErrUnsupportedContentType(contentType)
	}
	if err != nil {
		// Malformed structured data still gets indexed as plain text.
		logger.Warn("chunker: %s record split failed, falling back to recursive split: %v", contentType, err)
		return r.fallback.chunk(content, settings), nil
	}
	if len(records) == 0 {
		records = []span{{0, len(content)}}
	}

	drafts := r.packRecords(content, records, settings)
	for i := range drafts {
		if drafts[i].Metadata.Strategy == "" {
			drafts[i].Metadata.Strategy = domain.StrategyRecord
		}
	}
	return drafts, nil
}

// packRecords greedily packs consecutive records, recursing on oversized
// single records.
func (r *recordChunker) packRecords(content string, records []span, settings domain.ChunkSettings) []domain.ChunkDraft {
	var out []domain.ChunkDraft
	cur := span{-1, -1}

	flush := func() {
		if cur.start < 0 {
			return
		}
		piece := content[cur.start:cur.end]
		out = append(out, domain.ChunkDraft{
			Content:     piece,
			TokenCount:  r.count(piece),
			StartOffset: cur.start,
			EndOffset:   cur.end,
		})
		cur = span{-1, -1}
	}

	for _, rec := range records {
		rec = trimSpan(content, rec)
		if rec.start >= rec.end {
			continue
		}
		piece := content[rec.start:rec.end]

		if cur.start >= 0 {
			if r.count(content[cur.start:rec.end]) <= settings.MaxTokens {
				cur.end = rec.end
				continue
			}
			flush()
		}

		if r.count(piece) > settings.MaxTokens {
			for _, d := range r.fallback.chunk(piece, settings) {
				d.StartOffset += rec.start
				d.EndOffset += rec.start
				out = append(out, d)
			}
			continue
		}
		cur = rec
	}
	flush()
	return out
}

// trimSpan shrinks a span past surrounding whitespace, commas and
// document separators left behind by offset-based decoders.
func trimSpan(content string, s span) span {
	for s.start < s.end && strings.ContainsRune(" \t\r\n,", rune(content[s.start])) {
		s.start++
	}
	for s.end > s.start && strings.ContainsRune(" \t\r\n,", rune(content[s.end-1])) {
		s.end--
	}
	return s
}

// jsonRecords returns spans of top-level array elements or object
// members; scalar documents are one record.
func jsonRecords(content string) ([]span, error) {
	dec := json.NewDecoder(strings.NewReader(content))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return []span{{0, len(content)}}, nil
	}

	var records []span
	switch delim {
	case '[':
		for dec.More() {
			start := int(dec.InputOffset())
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, err
			}
			records = append(records, span{start, int(dec.InputOffset())})
		}
	case '{':
		for dec.More() {
			start := int(dec.InputOffset())
			if _, err := dec.Token(); err != nil { // key
				return nil, err
			}
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, err
			}
			records = append(records, span{start, int(dec.InputOffset())})
		}
	}
	return records, nil
}

// yamlRecords returns spans of top-level mapping entries or sequence
// items, per document in a multi-document stream.
func yamlRecords(content string) ([]span, error) {
	lines := lineOffsets(content)
	lineStart := func(line int) int { // 1-based
		if line < 1 {
			return 0
		}
		if line > len(lines) {
			return len(content)
		}
		return lines[line-1]
	}

	dec := yaml.NewDecoder(strings.NewReader(content))
	var starts []int
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(doc.Content) == 0 {
			continue
		}
		root := doc.Content[0]
		switch root.Kind {
		case yaml.MappingNode:
			for i := 0; i < len(root.Content); i += 2 {
				starts = append(starts, lineStart(root.Content[i].Line))
			}
		case yaml.SequenceNode:
			for _, item := range root.Content {
				starts = append(starts, lineStart(item.Line))
			}
		default:
			starts = append(starts, lineStart(root.Line))
		}
	}

	records := make([]span, 0, len(starts))
	for i, start := range starts {
		end := len(content)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		records = append(records, span{start, end})
	}
	return records, nil
}

// tomlRecords splits at [table] headers; the preamble before the first
// table is its own record.
func tomlRecords(content string) []span {
	offsets := lineOffsets(content)
	var starts []int
	for _, off := range offsets {
		rest := content[off:]
		trimmed := strings.TrimLeft(rest, " \t")
		if strings.HasPrefix(trimmed, "[") {
			starts = append(starts, off)
		}
	}
	if len(starts) == 0 {
		return []span{{0, len(content)}}
	}

	var records []span
	if starts[0] > 0 {
		records = append(records, span{0, starts[0]})
	}
	for i, start := range starts {
		end := len(content)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		records = append(records, span{start, end})
	}
	return records
}

// xmlRecords returns spans of the root element's direct children.
func xmlRecords(content string) ([]span, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var records []span
	depth := 0
	recordStart := -1

	for {
		before := int(dec.InputOffset())
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch tok.(type) {
		case xml.StartElement:
			if depth == 1 && recordStart < 0 {
				recordStart = before
			}
			depth++
		case xml.EndElement:
			depth--
			if depth == 1 && recordStart >= 0 {
				records = append(records, span{recordStart, int(dec.InputOffset())})
				recordStart = -1
			}
		}
	}
	return records, nil
}
