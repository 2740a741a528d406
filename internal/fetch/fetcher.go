// Package fetch retrieves remote page content for URL-bearing inputs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taskbeacon/taskbeacon/internal/version"
	"github.com/taskbeacon/taskbeacon/pkg/models"
)

const (
	// DefaultTimeout bounds one fetch end to end.
	DefaultTimeout = 15 * time.Second
	// DefaultMaxBytes caps the response body read.
	DefaultMaxBytes = 2 << 20 // 2 MiB
)

// Page is fetched content ready for model consumption.
type Page struct {
	URL         string
	ContentType string
	Body        string
	FetchedAt   time.Time
}

// Fetcher retrieves a page by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// HTTPFetcher fetches over HTTP with a bounded body read.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher builds a fetcher with default limits.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{Timeout: DefaultTimeout},
		maxBytes: DefaultMaxBytes,
	}
}

// NewHTTPFetcherWithClient is used by tests to inject a client.
func NewHTTPFetcherWithClient(client *http.Client, maxBytes int64) *HTTPFetcher {
	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

// Fetch retrieves the URL. Failures come back as FetchError, except
// deadline expiry which maps to Timeout so callers can retry.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.Errorf(models.ErrFetchError, "build request for %s: %v", url, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "text/html,application/json,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, models.Errorf(models.ErrTimeout, "fetch %s: %v", url, err)
		}
		return nil, models.Errorf(models.ErrFetchError, "fetch %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, models.Errorf(models.ErrFetchError, "fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, models.Errorf(models.ErrFetchError, "read %s: %v", url, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}

	return &Page{
		URL:         url,
		ContentType: contentType,
		Body:        string(body),
		FetchedAt:   time.Now(),
	}, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}

// FetchAll retrieves every URL, returning pages for those that
// succeeded and an aggregate error for those that did not. Partial
// success is not an error when at least one page came back.
func FetchAll(ctx context.Context, f Fetcher, urls []string) ([]*Page, error) {
	var pages []*Page
	var failures []string
	for _, u := range urls {
		page, err := f.Fetch(ctx, u)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", u, err))
			continue
		}
		pages = append(pages, page)
	}
	if len(pages) == 0 && len(failures) > 0 {
		return nil, models.Errorf(models.ErrFetchError, "all fetches failed: %s", strings.Join(failures, "; "))
	}
	return pages, nil
}
