package domain

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code, suitable for transport
// across the MCP/CLI boundary.
type Code string

// Error codes form a closed taxonomy. New codes are added here, never
// inline at call sites.
const (
	// Storage.
	CodeDatabase           Code = "DATABASE_ERROR"
	CodeDocumentNotFound   Code = "DOCUMENT_NOT_FOUND"
	CodeChunkNotFound      Code = "CHUNK_NOT_FOUND"
	CodeCollectionNotFound Code = "COLLECTION_NOT_FOUND"
	CodeCollectionExists   Code = "COLLECTION_EXISTS"
	CodeDuplicateDocument  Code = "DUPLICATE_DOCUMENT"

	// Embedding.
	CodeEmbeddingModel Code = "EMBEDDING_ERROR"
	CodeTextTooLong    Code = "TEXT_TOO_LONG"
	CodeEmptyText      Code = "EMPTY_TEXT"

	// Chunking.
	CodeParse                  Code = "PARSE_ERROR"
	CodeUnsupportedContentType Code = "UNSUPPORTED_CONTENT_TYPE"
	CodeEmptyChunks            Code = "EMPTY_CHUNKS"

	// Replication.
	CodeSyncFailed         Code = "SYNC_FAILED"
	CodePeerUnreachable    Code = "PEER_UNREACHABLE"
	CodeConflictResolution Code = "CONFLICT_RESOLUTION"
	CodeInvalidClock       Code = "INVALID_CLOCK"

	// Loading.
	CodeLoadFailed Code = "LOAD_FAILED"
	CodeIO         Code = "IO_ERROR"
	CodeHTTP       Code = "HTTP_ERROR"

	// Validation.
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeInvalidURI            Code = "INVALID_URI"
	CodeInvalidCollectionName Code = "INVALID_COLLECTION_NAME"

	// Protocol.
	CodeMcpProtocol Code = "MCP_PROTOCOL_ERROR"
	CodeUnknownTool Code = "UNKNOWN_TOOL"

	// Internal.
	CodeInternal       Code = "INTERNAL_ERROR"
	CodeNotImplemented Code = "NOT_IMPLEMENTED"
)

// Error is the domain error type. Every failure that crosses a port carries
// a Code from the taxonomy above plus a human-readable message.
type Error struct {
	// Code is the stable machine code.
	Code Code

	// Message is the human-readable description.
	Message string

	// Err is the wrapped underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches domain errors by code, so two instances of the same kind
// compare equal regardless of message detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the domain code from an error chain.
// Unknown errors map to CodeInternal; nil maps to the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the operation that produced err may succeed
// on retry: transient storage contention, network failures, peer outages.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeDatabase, CodePeerUnreachable, CodeSyncFailed, CodeHTTP, CodeIO:
		return true
	}
	return false
}

// ErrDatabase wraps an underlying storage engine failure. Retryable.
func ErrDatabase(err error) *Error {
	return &Error{Code: CodeDatabase, Message: "database error", Err: err}
}

// ErrDatabasef creates a storage failure with a formatted message.
func ErrDatabasef(format string, args ...any) *Error {
	return &Error{Code: CodeDatabase, Message: fmt.Sprintf(format, args...)}
}

// ErrDocumentNotFound indicates the document id does not exist.
func ErrDocumentNotFound(id string) *Error {
	return &Error{Code: CodeDocumentNotFound, Message: "document not found: " + id}
}

// ErrChunkNotFound indicates the chunk id does not exist.
func ErrChunkNotFound(id string) *Error {
	return &Error{Code: CodeChunkNotFound, Message: "chunk not found: " + id}
}

// ErrCollectionNotFound indicates the named collection does not exist.
func ErrCollectionNotFound(name string) *Error {
	return &Error{Code: CodeCollectionNotFound, Message: "collection not found: " + name}
}

// ErrCollectionExists indicates a duplicate collection name.
func ErrCollectionExists(name string) *Error {
	return &Error{Code: CodeCollectionExists, Message: "collection already exists: " + name}
}

// ErrDuplicateDocument indicates (collection, source_uri) is already taken.
func ErrDuplicateDocument(collection, uri string) *Error {
	return &Error{
		Code:    CodeDuplicateDocument,
		Message: fmt.Sprintf("document already exists in %q: %s", collection, uri),
	}
}

// ErrEmbeddingModel wraps an inference-side failure.
func ErrEmbeddingModel(msg string, err error) *Error {
	return &Error{Code: CodeEmbeddingModel, Message: msg, Err: err}
}

// ErrTextTooLong indicates input exceeding the embedder context window.
func ErrTextTooLong(tokens, maxTokens int) *Error {
	return &Error{
		Code:    CodeTextTooLong,
		Message: fmt.Sprintf("text too long: %d tokens exceeds maximum of %d", tokens, maxTokens),
	}
}

// ErrEmptyText indicates an empty embedding input.
func ErrEmptyText() *Error {
	return &Error{Code: CodeEmptyText, Message: "empty text"}
}

// ErrParse indicates a content parse failure for the given type.
func ErrParse(contentType ContentType, reason string) *Error {
	return &Error{
		Code:    CodeParse,
		Message: fmt.Sprintf("parse error (%s): %s", contentType, reason),
	}
}

// ErrUnsupportedContentType indicates no chunking strategy exists.
func ErrUnsupportedContentType(contentType ContentType) *Error {
	return &Error{
		Code:    CodeUnsupportedContentType,
		Message: "unsupported content type: " + string(contentType),
	}
}

// ErrEmptyChunks indicates chunking produced nothing above the minimum.
func ErrEmptyChunks() *Error {
	return &Error{Code: CodeEmptyChunks, Message: "no chunk meets the minimum token threshold"}
}

// ErrSyncFailed indicates a replication round with a peer failed. Retryable.
func ErrSyncFailed(peer, reason string) *Error {
	return &Error{
		Code:    CodeSyncFailed,
		Message: fmt.Sprintf("sync with peer %s failed: %s", peer, reason),
	}
}

// ErrPeerUnreachable indicates the peer endpoint did not answer. Retryable.
func ErrPeerUnreachable(peer string) *Error {
	return &Error{Code: CodePeerUnreachable, Message: "peer unreachable: " + peer}
}

// ErrInvalidClock indicates malformed clock bytes or hex.
func ErrInvalidClock(reason string) *Error {
	return &Error{Code: CodeInvalidClock, Message: "invalid clock: " + reason}
}

// ErrLoadFailed indicates the URI collaborator could not produce bytes.
func ErrLoadFailed(uri, reason string) *Error {
	return &Error{
		Code:    CodeLoadFailed,
		Message: fmt.Sprintf("failed to load %s: %s", uri, reason),
	}
}

// ErrIO wraps a filesystem failure. Retryable.
func ErrIO(err error) *Error {
	return &Error{Code: CodeIO, Message: "io error", Err: err}
}

// ErrHTTP wraps a transport failure. Retryable.
func ErrHTTP(err error) *Error {
	return &Error{Code: CodeHTTP, Message: "http error", Err: err}
}

// ErrInvalidArgument indicates a malformed request.
func ErrInvalidArgument(msg string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: "invalid argument: " + msg}
}

// ErrInvalidURI indicates an unparseable or disallowed URI.
func ErrInvalidURI(uri, reason string) *Error {
	return &Error{
		Code:    CodeInvalidURI,
		Message: fmt.Sprintf("invalid URI %s: %s", uri, reason),
	}
}

// ErrInvalidCollectionName indicates the name fails validation.
func ErrInvalidCollectionName(name string) *Error {
	return &Error{
		Code:    CodeInvalidCollectionName,
		Message: "invalid collection name: " + name,
	}
}

// ErrInternal indicates an unexpected failure.
func ErrInternal(msg string, err error) *Error {
	return &Error{Code: CodeInternal, Message: msg, Err: err}
}

// ErrNotImplemented indicates the functionality is not yet available.
func ErrNotImplemented(what string) *Error {
	return &Error{Code: CodeNotImplemented, Message: "not implemented: " + what}
}
