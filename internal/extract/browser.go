package extract

import (
	"context"
	"sync"

	"github.com/naozine/nz-html-fetch/pkg/htmlfetch"

	"placelink-backend/internal/shared/errs"
)

// BrowserOptions configure the headless browser fetcher.
type BrowserOptions struct {
	BrowserPath string
	Stealth     bool
}

// BrowserFetcher renders pages in a headless browser for sites that serve their metadata
// only to script-capable clients.
type BrowserFetcher struct {
	mu      sync.Mutex // one navigation at a time per browser
	fetcher *htmlfetch.Fetcher
}

// NewBrowserFetcher launches the browser. Call Close when done.
func NewBrowserFetcher(opts BrowserOptions) (*BrowserFetcher, error) {
	var fetcherOpts []htmlfetch.Option
	if opts.BrowserPath != "" {
		fetcherOpts = append(fetcherOpts, htmlfetch.WithBrowserPath(opts.BrowserPath))
	}
	fetcherOpts = append(fetcherOpts, htmlfetch.WithStealth(opts.Stealth))

	fetcher := htmlfetch.New(fetcherOpts...)
	if err := fetcher.Start(); err != nil {
		return nil, err
	}
	return &BrowserFetcher{fetcher: fetcher}, nil
}

// FetchPage renders targetURL with images and ads blocked and returns the resulting HTML.
func (b *BrowserFetcher) FetchPage(ctx context.Context, targetURL string) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	result, err := b.fetcher.Fetch(ctx, targetURL,
		htmlfetch.WithBlocking(htmlfetch.BlockingOptions{Ads: true, Image: true}))
	if err != nil {
		return Page{}, errs.Wrap(errs.Fetch, "browser fetch", err)
	}
	return Page{URL: result.FinalURL, StatusCode: 200, Body: []byte(result.HTML)}, nil
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() error {
	if b == nil || b.fetcher == nil {
		return nil
	}
	return b.fetcher.Close()
}
