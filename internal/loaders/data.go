package loaders

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/custodia-labs/passage/internal/core/domain"
)

// loadDataURI decodes inline data: URIs, base64 or percent-encoded.
func loadDataURI(uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, domain.ErrInvalidURI(uri, "missing comma")
	}

	meta, payload := rest[:comma], rest[comma+1:]
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, domain.ErrInvalidURI(uri, "bad base64: "+err.Error())
		}
		return data, nil
	}

	decoded, err := url.QueryUnescape(payload)
	if err != nil {
		return nil, domain.ErrInvalidURI(uri, "bad percent encoding: "+err.Error())
	}
	return []byte(decoded), nil
}
