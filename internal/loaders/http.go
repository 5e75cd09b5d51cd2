package loaders

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/passage/internal/core/domain"
)

// Default http loader limits.
const (
	defaultMaxFetchBytes     = 32 << 20 // 32 MiB
	defaultRequestsPerSecond = 4
	defaultHTTPTimeout       = 30 * time.Second
)

// httpLoader fetches http(s) URIs with an optional domain allow-list, a
// response size cap, and client-side rate limiting.
type httpLoader struct {
	client   *http.Client
	limiter  *rate.Limiter
	domains  map[string]bool
	maxBytes int64
}

func newHTTPLoader(cfg Config) *httpLoader {
	maxBytes := cfg.MaxFetchBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxFetchBytes
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	var domains map[string]bool
	if len(cfg.AllowedDomains) > 0 {
		domains = make(map[string]bool, len(cfg.AllowedDomains))
		for _, d := range cfg.AllowedDomains {
			domains[strings.ToLower(d)] = true
		}
	}

	return &httpLoader{
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		domains:  domains,
		maxBytes: maxBytes,
	}
}

func (l *httpLoader) load(ctx context.Context, uri string) ([]byte, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, domain.ErrInvalidURI(uri, err.Error())
	}
	if l.domains != nil && !l.domains[strings.ToLower(parsed.Hostname())] {
		return nil, domain.ErrInvalidURI(uri, "domain not in allow-list")
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, domain.ErrLoadFailed(uri, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, http.NoBody)
	if err != nil {
		return nil, domain.ErrInvalidURI(uri, err.Error())
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, domain.ErrHTTP(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.ErrLoadFailed(uri, fmt.Sprintf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, domain.ErrHTTP(err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, domain.ErrLoadFailed(uri, fmt.Sprintf("response exceeds %d bytes", l.maxBytes))
	}
	return data, nil
}
