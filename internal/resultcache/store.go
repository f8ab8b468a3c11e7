package resultcache

import (
	"context"
	"errors"
	"time"

	"placelink-backend/internal/model"
	"placelink-backend/internal/platform"
)

// ErrNotFound is returned by a Store when the key has no entry.
var ErrNotFound = errors.New("cache entry not found")

// Entry is a cached analysis result addressed by content key.
type Entry struct {
	ContentKey     string               `json:"content_key"`
	Platform       platform.Platform    `json:"platform"`
	NormalizedURL  string               `json:"normalized_url,omitempty"`
	Result         model.AnalysisResult `json:"result"`
	CreatedAt      time.Time            `json:"created_at"`
	ExpiresAt      time.Time            `json:"expires_at"`
	AnalysisTimeMs int64                `json:"analysis_time_ms"`
}

// ValidAt reports whether the entry is still fresh at now. Expiry is exclusive:
// an entry is gone at exactly ExpiresAt.
func (e Entry) ValidAt(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

func (e Entry) clone() Entry {
	out := e
	out.Result = e.Result.Clone()
	return out
}

// Store is the persistence backend behind the cache. TTL is enforced by Cache, not the store.
type Store interface {
	Put(ctx context.Context, key string, entry Entry) error
	Get(ctx context.Context, key string) (Entry, error)
	Delete(ctx context.Context, key string) error
}

// expiredDeleter is implemented by stores that can delete a key only while it is still expired,
// so a lazy eviction never removes an entry written concurrently by a fresh computation.
type expiredDeleter interface {
	DeleteExpired(ctx context.Context, key string, now time.Time) error
}

// Purger is implemented by stores that can sweep all expired rows at once.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
