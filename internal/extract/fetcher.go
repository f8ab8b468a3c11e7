package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"placelink-backend/internal/shared/errs"
)

const (
	maxRedirects    = 5
	maxResponseBody = 10 << 20
	userAgent       = "Mozilla/5.0 (compatible; PlacelinkBot/1.0; +https://placelink.app/bot)"
)

var (
	errTooManyRedirects = errors.New("too many redirects")
	errBlockedRedirect  = errors.New("redirect to non-http(s) scheme blocked")
)

// Page is a fetched document.
type Page struct {
	URL        string // final URL after redirects
	StatusCode int
	Body       []byte
}

// PageFetcher retrieves the HTML of a page. Implementations return *errs.AppError values:
// Fetch for transient failures, ContentNotFound for 404/410 and Upstream for other rejections.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (Page, error)
}

// HTTPFetcher fetches pages with a plain HTTP client.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a fetcher that only dials public addresses, follows at most five
// http(s) redirects and reads at most 10 MB of body.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return newHTTPFetcher(&http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         publicDialer(timeout).DialContext,
			MaxConnsPerHost:     16,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: redirectPolicy,
	})
}

func newHTTPFetcher(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

func redirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("%w: stopped after %d", errTooManyRedirects, maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: %s", errBlockedRedirect, req.URL.Scheme)
	}
	return nil
}

// FetchPage downloads targetURL.
func (f *HTTPFetcher) FetchPage(ctx context.Context, targetURL string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return Page{}, errs.Wrap(errs.InvalidURL, "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, errs.Wrap(errs.Fetch, "fetch page", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Page{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Page{}, errs.Wrap(errs.Fetch, "read page body", err)
	}
	return Page{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode, Body: body}, nil
}

// statusError classifies an upstream HTTP status.
func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return &errs.AppError{Kind: errs.ContentNotFound, UpstreamStatus: status, Message: "content no longer available"}
	case status == http.StatusTooManyRequests || status >= 500:
		return errs.FetchStatus(status, fmt.Sprintf("upstream returned %d", status))
	default:
		return &errs.AppError{Kind: errs.Upstream, UpstreamStatus: status, Message: fmt.Sprintf("upstream rejected request with %d", status)}
	}
}
