// Package loaders fetches raw document bytes for the supported URI
// schemes: file://, http(s)://, and data:.
package loaders

import (
	"context"
	"strings"

	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/core/ports/driven"
)

// Ensure Loader implements the port.
var _ driven.Loader = (*Loader)(nil)

// Loader dispatches on URI scheme.
type Loader struct {
	file *fileLoader
	http *httpLoader
}

// Config restricts what the loader may reach.
type Config struct {
	// AllowedBasePath, when set, confines file:// URIs to one directory
	// tree (after canonicalization).
	AllowedBasePath string

	// AllowedDomains, when non-empty, is the http(s) host allow-list.
	AllowedDomains []string

	// MaxFetchBytes caps http(s) response bodies. Zero means the default.
	MaxFetchBytes int64

	// RequestsPerSecond throttles http(s) fetches. Zero means the default.
	RequestsPerSecond float64
}

// New creates a loader with the given restrictions.
func New(cfg Config) *Loader {
	return &Loader{
		file: newFileLoader(cfg.AllowedBasePath),
		http: newHTTPLoader(cfg),
	}
}

// Load fetches the bytes behind a URI. Unknown schemes fail with
// CodeInvalidURI. Missing files, non-200 responses and oversized bodies
// fail with CodeLoadFailed; transport and read errors fail with the
// retryable CodeHTTP or CodeIO.
func (l *Loader) Load(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "file://"):
		return l.file.load(ctx, uri)
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return l.http.load(ctx, uri)
	case strings.HasPrefix(uri, "data:"):
		return loadDataURI(uri)
	default:
		return nil, domain.ErrInvalidURI(uri, "unsupported scheme")
	}
}
