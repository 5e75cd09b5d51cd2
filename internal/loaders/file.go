package loaders

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/passage/internal/core/domain"
)

// fileLoader reads file:// URIs, optionally confined to a base path.
type fileLoader struct {
	basePath string
}

func newFileLoader(basePath string) *fileLoader {
	if basePath != "" {
		if abs, err := filepath.Abs(basePath); err == nil {
			basePath = abs
		}
		if resolved, err := filepath.EvalSymlinks(basePath); err == nil {
			basePath = resolved
		}
	}
	return &fileLoader{basePath: basePath}
}

func (l *fileLoader) load(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrLoadFailed(uri, err.Error())
	}

	path := strings.TrimPrefix(uri, "file://")
	if path == "" {
		return nil, domain.ErrInvalidURI(uri, "empty path")
	}

	// Canonicalize before the base-path check so traversal sequences
	// cannot escape the allowed tree.
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, domain.ErrInvalidURI(uri, err.Error())
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	if l.basePath != "" && !isWithin(l.basePath, abs) {
		return nil, domain.ErrInvalidURI(uri, "path escapes allowed base path")
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrLoadFailed(uri, "no such file")
		}
		return nil, domain.ErrIO(err)
	}
	return data, nil
}

// isWithin reports whether path sits inside (or equals) base.
func isWithin(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
