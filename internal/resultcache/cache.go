// Package resultcache stores completed analyses by content key and guarantees that at most
// one computation per key is in flight at a time.
package resultcache

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"golang.org/x/sync/singleflight"

	"placelink-backend/internal/model"
	"placelink-backend/internal/platform"
	"placelink-backend/internal/shared/metrics"
	"placelink-backend/internal/shared/telemetry"
)

const shardCount = 32

// ComputeFunc produces a fresh result for a miss. It runs at most once per miss episode.
type ComputeFunc func() (model.AnalysisResult, error)

// Options tune a single GetOrCompute call.
type Options struct {
	ForceRefresh  bool
	Platform      platform.Platform
	NormalizedURL string
	// BeforeStore runs after a successful computation and before the write.
	// A non-nil error vetoes the write and is returned to every attached caller.
	BeforeStore func() error
}

// Outcome describes how a GetOrCompute call was served.
type Outcome struct {
	Cached bool // served from a stored entry
	Shared bool // attached to a computation another caller started or joined
}

// TTLPolicy gives the lifetime of a new entry by platform.
type TTLPolicy struct {
	Default    time.Duration
	ByPlatform map[platform.Platform]time.Duration
}

// For returns the TTL for p.
func (p TTLPolicy) For(pl platform.Platform) time.Duration {
	if ttl, ok := p.ByPlatform[pl]; ok && ttl > 0 {
		return ttl
	}
	if p.Default > 0 {
		return p.Default
	}
	return 24 * time.Hour
}

// Cache is a content-addressed result cache with singleflight computation.
type Cache struct {
	store  Store
	ttl    TTLPolicy
	now    func() time.Time
	groups [shardCount]singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for TTL decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a cache over store.
func New(store Store, ttl TTLPolicy, opts ...Option) *Cache {
	c := &Cache{store: store, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the backend, for maintenance jobs.
func (c *Cache) Store() Store {
	return c.store
}

// Get returns a valid entry for key. Expired entries are removed and reported as not found.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool, error) {
	entry, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		metrics.IncCacheStoreError()
		return Entry{}, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	now := c.now()
	if entry.ValidAt(now) {
		return entry, true, nil
	}
	c.evictExpired(ctx, key, now)
	return Entry{}, false, nil
}

// Invalidate removes any entry for key. In-flight computations are unaffected and will
// still write their result when they finish.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		metrics.IncCacheStoreError()
		return fmt.Errorf("cache invalidate %s: %w", key, err)
	}
	telemetry.Info("cache.invalidate", map[string]any{"content_key": key})
	return nil
}

// Purge removes all expired entries when the backend supports it.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	p, ok := c.store.(Purger)
	if !ok {
		return 0, nil
	}
	return p.PurgeExpired(ctx, c.now())
}

type flight struct {
	entry     Entry
	fromCache bool
}

// GetOrCompute returns a valid entry for key or runs fn to produce one. Concurrent callers for
// the same key attach to one computation and receive the same entry or error. Failures are not
// cached. A caller whose ctx ends stops waiting without cancelling the shared computation.
func (c *Cache) GetOrCompute(ctx context.Context, key string, opts Options, fn ComputeFunc) (Entry, Outcome, error) {
	if !opts.ForceRefresh {
		entry, ok, err := c.Get(ctx, key)
		if err != nil {
			telemetry.Warn("cache.read_failed", map[string]any{"content_key": key, "error": err})
		} else if ok {
			metrics.IncCacheHit()
			return entry, Outcome{Cached: true}, nil
		}
	}
	metrics.IncCacheMiss()

	group := &c.groups[shardIndex(key)]
	for {
		ch := group.DoChan(key, func() (any, error) {
			return c.run(context.WithoutCancel(ctx), key, opts, fn)
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return Entry{}, Outcome{}, ctx.Err()
		case res = <-ch:
		}

		if res.Shared {
			metrics.IncCacheShared()
		}
		if res.Err != nil {
			return Entry{}, Outcome{Shared: res.Shared}, res.Err
		}
		fl := res.Val.(flight)
		if opts.ForceRefresh && fl.fromCache {
			// Joined a plain lookup that returned the old entry.
			continue
		}
		return fl.entry.clone(), Outcome{Cached: fl.fromCache, Shared: res.Shared}, nil
	}
}

func (c *Cache) run(ctx context.Context, key string, opts Options, fn ComputeFunc) (fl flight, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cache compute panic: %v", rec)
		}
	}()

	if !opts.ForceRefresh {
		if entry, ok, getErr := c.Get(ctx, key); getErr == nil && ok {
			return flight{entry: entry, fromCache: true}, nil
		}
	}

	start := c.now()
	result, err := fn()
	if err != nil {
		return flight{}, err
	}
	if opts.BeforeStore != nil {
		if err := opts.BeforeStore(); err != nil {
			return flight{}, err
		}
	}

	now := c.now()
	if result.AnalysisTimeMs <= 0 {
		result.AnalysisTimeMs = now.Sub(start).Milliseconds()
	}
	result.ContentKey = key
	entry := Entry{
		ContentKey:     key,
		Platform:       opts.Platform,
		NormalizedURL:  opts.NormalizedURL,
		Result:         result,
		CreatedAt:      now,
		ExpiresAt:      now.Add(c.ttl.For(opts.Platform)),
		AnalysisTimeMs: result.AnalysisTimeMs,
	}
	if err := c.store.Put(ctx, key, entry); err != nil {
		// Store failures do not fail the computation.
		metrics.IncCacheStoreError()
		telemetry.Error("cache.store_failed", map[string]any{"content_key": key, "error": err})
		return flight{entry: entry}, nil
	}
	metrics.IncCacheStore()
	telemetry.Debug("cache.store", map[string]any{
		"content_key":   key,
		"platform":      opts.Platform.String(),
		"force_refresh": opts.ForceRefresh,
		"expires_at":    entry.ExpiresAt.UTC().Format(time.RFC3339),
	})
	return flight{entry: entry}, nil
}

func (c *Cache) evictExpired(ctx context.Context, key string, now time.Time) {
	var err error
	if d, ok := c.store.(expiredDeleter); ok {
		err = d.DeleteExpired(ctx, key, now)
	} else {
		err = c.store.Delete(ctx, key)
	}
	if err != nil {
		metrics.IncCacheStoreError()
		telemetry.Warn("cache.evict_failed", map[string]any{"content_key": key, "error": err})
	}
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
