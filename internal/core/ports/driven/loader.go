package driven

import "context"

// Loader fetches raw bytes for a source URI. Supported schemes are
// file://, http(s)://, and data:; anything else fails with
// CodeInvalidURI. Load failures surface as CodeLoadFailed, except
// transport and read errors, which surface as the retryable CodeHTTP or
// CodeIO.
type Loader interface {
	Load(ctx context.Context, uri string) ([]byte, error)
}
