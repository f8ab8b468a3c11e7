// Package extract turns a normalized link into raw post content, one extractor per platform.
package extract

import (
	"context"
	"net/url"
	"strings"
	"time"

	"placelink-backend/internal/model"
	"placelink-backend/internal/platform"
	"placelink-backend/internal/shared/errs"
	"placelink-backend/internal/shared/metrics"
	"placelink-backend/internal/shared/retry"
	"placelink-backend/internal/shared/telemetry"
)

// Extractor fetches and parses the content behind a normalized URL. Errors are
// *errs.AppError: Fetch is retryable, every other kind is final.
type Extractor interface {
	Extract(ctx context.Context, normalizedURL string) (model.ExtractedContent, error)
}

// Config wires the extractors. Zero values fall back to defaults.
type Config struct {
	// CallTimeout bounds each network call (default 10s).
	CallTimeout time.Duration
	// Retry is the call-level policy (default 2 attempts, 500ms base, 5s cap).
	Retry retry.Policy
	// Pages fetches HTML. Defaults to NewHTTPFetcher(CallTimeout).
	Pages PageFetcher
	// Browser, when set, is used for Instagram posts instead of Pages.
	Browser PageFetcher
	// Videos looks up YouTube metadata. Defaults to the kkdai client.
	Videos VideoSource
}

// CallPolicy returns the default call-level retry policy with the given attempt budget.
func CallPolicy(maxAttempts int) retry.Policy {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	return retry.Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
		Retryable:   errs.IsRetryable,
	}
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = CallPolicy(0)
	}
	if c.Retry.Retryable == nil {
		c.Retry.Retryable = errs.IsRetryable
	}
	if c.Pages == nil {
		c.Pages = NewHTTPFetcher(c.CallTimeout)
	}
	if c.Videos == nil {
		c.Videos = newVideoClient(c.CallTimeout)
	}
	return c
}

// Registry dispatches to the extractor registered for a platform.
type Registry struct {
	extractors map[platform.Platform]Extractor
}

// NewRegistry builds a registry with the four built-in extractors.
func NewRegistry(cfg Config) *Registry {
	cfg = cfg.withDefaults()
	instagramPages := cfg.Pages
	if cfg.Browser != nil {
		instagramPages = cfg.Browser
	}
	r := &Registry{extractors: make(map[platform.Platform]Extractor, len(platform.All))}
	r.Register(platform.Instagram, &Instagram{pages: newPageReader(platform.Instagram, instagramPages, cfg)})
	r.Register(platform.NaverBlog, &NaverBlog{pages: newPageReader(platform.NaverBlog, cfg.Pages, cfg)})
	r.Register(platform.YouTube, &YouTube{videos: cfg.Videos, policy: cfg.Retry, timeout: cfg.CallTimeout})
	r.Register(platform.Generic, &Generic{pages: newPageReader(platform.Generic, cfg.Pages, cfg)})
	return r
}

// Register sets or replaces the extractor for p.
func (r *Registry) Register(p platform.Platform, e Extractor) {
	if r.extractors == nil {
		r.extractors = make(map[platform.Platform]Extractor)
	}
	r.extractors[p] = e
}

// For returns the extractor for p.
func (r *Registry) For(p platform.Platform) (Extractor, error) {
	if e, ok := r.extractors[p]; ok && p.Supported() {
		return e, nil
	}
	return nil, errs.New(errs.UnsupportedPlatform, "no extractor for platform "+p.String())
}

// withRetry runs call under the call-level policy, bounding every attempt by timeout.
// An attempt that runs out of time while ctx is still alive counts as a transient failure.
func withRetry[T any](ctx context.Context, policy retry.Policy, timeout time.Duration, plat platform.Platform, target string, call func(context.Context) (T, error)) (T, error) {
	var out T
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		v, err := call(callCtx)
		if err != nil {
			if ctx.Err() == nil && callCtx.Err() != nil && !errs.Is(err, errs.Fetch) {
				return errs.Wrap(errs.Fetch, "extract call timed out", err)
			}
			return err
		}
		out = v
		return nil
	}, func(err error, attempt int, delay time.Duration) {
		metrics.IncExtractRetry()
		telemetry.Warn("extract.retry", map[string]any{
			"platform": plat.String(),
			"url":      target,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    err,
		})
	})
	if err != nil {
		var zero T
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		return zero, err
	}
	return out, nil
}

type pageReader struct {
	platform platform.Platform
	fetcher  PageFetcher
	policy   retry.Policy
	timeout  time.Duration
}

func newPageReader(p platform.Platform, fetcher PageFetcher, cfg Config) pageReader {
	return pageReader{platform: p, fetcher: fetcher, policy: cfg.Retry, timeout: cfg.CallTimeout}
}

func (r pageReader) read(ctx context.Context, target string) (Meta, error) {
	page, err := withRetry(ctx, r.policy, r.timeout, r.platform, target, func(ctx context.Context) (Page, error) {
		return r.fetcher.FetchPage(ctx, target)
	})
	if err != nil {
		return Meta{}, err
	}
	base, _ := url.Parse(firstNonEmpty(page.URL, target))
	meta, err := ParseMeta(page.Body, base)
	if err != nil {
		return Meta{}, errs.Wrap(errs.Fetch, "parse page", err)
	}
	return meta, nil
}

// joinText concatenates the non-empty parts, skipping parts already contained in the output.
func joinText(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.Contains(b.String(), p) {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p)
	}
	return truncateRunes(b.String(), maxTextRunes)
}

func contentMissing(what string) error {
	return errs.New(errs.ContentNotFound, what+" has no readable content")
}
