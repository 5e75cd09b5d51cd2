package domain

import (
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// ChangeType tags a change log entry.
type ChangeType string

// Change log entry types.
const (
	ChangeCollectionCreate ChangeType = "collection_create"
	ChangeCollectionDelete ChangeType = "collection_delete"
	ChangeDocumentInsert   ChangeType = "document_insert"
	ChangeDocumentUpdate   ChangeType = "document_update"
	ChangeDocumentDelete   ChangeType = "document_delete"
)

// Change describes one committed mutation. Entries are immutable once
// committed and ordered by HLC; the replication collaborator consumes them
// via the store's change log. Fields beyond Type and HLC are populated
// per-type; the JSON form is self-describing through the type tag.
type Change struct {
	// Type selects which fields are meaningful.
	Type ChangeType `json:"type"`

	// HLC is the causal timestamp assigned at commit.
	HLC HLC `json:"hlc"`

	// Collection is set for collection_create.
	Collection *Collection `json:"collection,omitempty"`

	// CollectionName is set for collection_delete.
	CollectionName string `json:"collection_name,omitempty"`

	// Document is set for document_insert and document_update.
	Document *Document `json:"document,omitempty"`

	// Chunks and Embeddings are set for document_insert.
	Chunks     []Chunk     `json:"chunks,omitempty"`
	Embeddings []Embedding `json:"embeddings,omitempty"`

	// ChunksToDelete / ChunksToInsert and the matching embedding sets are
	// set for document_update.
	ChunksToDelete     []ulid.ULID `json:"chunks_to_delete,omitempty"`
	ChunksToInsert     []Chunk     `json:"chunks_to_insert,omitempty"`
	EmbeddingsToDelete []ulid.ULID `json:"embeddings_to_delete,omitempty"`
	EmbeddingsToInsert []Embedding `json:"embeddings_to_insert,omitempty"`

	// DocID is set for document_delete.
	DocID ulid.ULID `json:"doc_id,omitempty"`
}

// Encode serializes the change for the durable log.
func (c Change) Encode() ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, ErrInternal("encoding change", err)
	}
	return b, nil
}

// DecodeChange deserializes a change log entry.
func DecodeChange(data []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(data, &c); err != nil {
		return Change{}, ErrInternal("decoding change", err)
	}
	switch c.Type {
	case ChangeCollectionCreate, ChangeCollectionDelete,
		ChangeDocumentInsert, ChangeDocumentUpdate, ChangeDocumentDelete:
	default:
		return Change{}, ErrInternal(fmt.Sprintf("unknown change type %q", c.Type), nil)
	}
	return c, nil
}
