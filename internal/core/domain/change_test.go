package domain

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeRoundtrip(t *testing.T) {
	doc := NewDocument("code", "file://a.go", []byte("package a"), ContentTypeGo)
	chunk := NewChunk(doc.ID, 0, ChunkDraft{Content: "package a", TokenCount: 2, EndOffset: 9})

	tests := []struct {
		name   string
		change Change
	}{
		{
			name: "collection create",
			change: Change{
				Type:       ChangeCollectionCreate,
				HLC:        HLC{WallTime: 10, NodeID: 1},
				Collection: &Collection{Name: "code", CreatedAt: 5},
			},
		},
		{
			name: "collection delete",
			change: Change{
				Type:           ChangeCollectionDelete,
				HLC:            HLC{WallTime: 11, NodeID: 1},
				CollectionName: "code",
			},
		},
		{
			name: "document insert",
			change: Change{
				Type:     ChangeDocumentInsert,
				HLC:      HLC{WallTime: 12, NodeID: 1},
				Document: &doc,
				Chunks:   []Chunk{chunk},
				Embeddings: []Embedding{
					{ChunkID: chunk.ID, Vector: []float32{0.6, 0.8}},
				},
			},
		},
		{
			name: "document update",
			change: Change{
				Type:               ChangeDocumentUpdate,
				HLC:                HLC{WallTime: 13, NodeID: 1},
				Document:           &doc,
				ChunksToDelete:     []ulid.ULID{chunk.ID},
				ChunksToInsert:     []Chunk{chunk},
				EmbeddingsToDelete: []ulid.ULID{chunk.ID},
				EmbeddingsToInsert: []Embedding{{ChunkID: chunk.ID, Vector: []float32{1, 0}}},
			},
		},
		{
			name: "document delete",
			change: Change{
				Type:  ChangeDocumentDelete,
				HLC:   HLC{WallTime: 14, NodeID: 1},
				DocID: doc.ID,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := tt.change.Encode()
			require.NoError(t, err)

			decoded, err := DecodeChange(encoded)
			require.NoError(t, err)

			assert.Equal(t, tt.change.Type, decoded.Type)
			assert.Equal(t, tt.change.HLC, decoded.HLC)
			assert.Equal(t, tt.change.CollectionName, decoded.CollectionName)
			assert.Equal(t, tt.change.DocID, decoded.DocID)
			if tt.change.Document != nil {
				require.NotNil(t, decoded.Document)
				assert.Equal(t, tt.change.Document.ID, decoded.Document.ID)
				assert.Equal(t, tt.change.Document.ContentHash, decoded.Document.ContentHash)
			}
			assert.Len(t, decoded.Chunks, len(tt.change.Chunks))
			assert.Len(t, decoded.ChunksToInsert, len(tt.change.ChunksToInsert))
		})
	}
}

func TestDecodeChangeRejectsUnknownType(t *testing.T) {
	_, err := DecodeChange([]byte(`{"type":"mystery","hlc":"0000000000000000000000000000"}`))
	require.Error(t, err)
}

func TestDecodeChangeRejectsGarbage(t *testing.T) {
	_, err := DecodeChange([]byte("not json"))
	require.Error(t, err)
}
