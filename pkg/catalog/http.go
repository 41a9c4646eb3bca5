package catalog

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matzehuels/vectorprint/pkg/cache"
	"github.com/matzehuels/vectorprint/pkg/errors"
)

const (
	httpTimeout   = 10 * time.Second
	fetchAttempts = 3

	// maxDocumentBytes caps a fetched base document.
	maxDocumentBytes = 8 << 20

	// TTLDocument is the default lifetime of a cached base document.
	TTLDocument = time.Hour
)

// ErrUpstream reports a failed request to the asset host.
var ErrUpstream = stderrors.New("asset host error")

// HTTPCatalog fetches <base>/<productID>.svg from an asset host. Network
// failures and 5xx responses are retried; documents are kept in an
// optional cache.
type HTTPCatalog struct {
	base    *url.URL
	http    *http.Client
	cache   cache.Cache
	ttl     time.Duration
	headers map[string]string
}

// NewHTTPCatalog creates a catalog for baseURL. A nil cache disables
// caching. Headers are sent with every request.
func NewHTTPCatalog(baseURL string, c cache.Cache, headers map[string]string) (*HTTPCatalog, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("catalog url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("catalog url: unsupported scheme %q", u.Scheme)
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	return &HTTPCatalog{
		base:    u,
		http:    &http.Client{Timeout: httpTimeout},
		cache:   c,
		ttl:     TTLDocument,
		headers: headers,
	}, nil
}

// SetTTL changes how long fetched documents stay cached.
func (c *HTTPCatalog) SetTTL(ttl time.Duration) { c.ttl = ttl }

// FetchBaseDocument implements Catalog.
func (c *HTTPCatalog) FetchBaseDocument(ctx context.Context, productID string) (string, error) {
	if err := errors.ValidateProductID(productID); err != nil {
		return "", err
	}
	key := "doc:" + c.documentURL(productID)
	if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		return string(data), nil
	}

	var src string
	err := errors.RetryWithBackoff(ctx, fetchAttempts, func() error {
		var err error
		src, err = c.get(ctx, productID)
		return err
	})
	if err != nil {
		return "", err
	}
	_ = c.cache.Set(ctx, key, []byte(src), c.ttl)
	return src, nil
}

func (c *HTTPCatalog) documentURL(productID string) string {
	return c.base.JoinPath(productID + ".svg").String()
}

func (c *HTTPCatalog) get(ctx context.Context, productID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.documentURL(productID), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "image/svg+xml")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errors.Retryable(fmt.Errorf("%w: %v", ErrUpstream, err))
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode, productID); err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return "", errors.Retryable(fmt.Errorf("%w: read body: %v", ErrUpstream, err))
	}
	if len(data) > maxDocumentBytes {
		return "", fmt.Errorf("%w: document %s exceeds %d bytes", ErrUpstream, productID, maxDocumentBytes)
	}
	if !strings.Contains(string(data), "<svg") {
		return "", fmt.Errorf("%w: document %s is not SVG", ErrUpstream, productID)
	}
	return string(data), nil
}

func checkStatus(code int, productID string) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound, code == http.StatusGone:
		return fmt.Errorf("%w: %s", ErrNotFound, productID)
	case code == http.StatusTooManyRequests, code >= 500:
		return errors.Retryable(fmt.Errorf("%w: status %d", ErrUpstream, code))
	default:
		return fmt.Errorf("%w: status %d", ErrUpstream, code)
	}
}

var _ Catalog = (*HTTPCatalog)(nil)
