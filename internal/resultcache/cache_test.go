package resultcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placelink-backend/internal/model"
	"placelink-backend/internal/platform"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func result(name string) model.AnalysisResult {
	return model.AnalysisResult{
		Candidates: []model.PlaceCandidate{{Name: name, Confidence: 0.9, Tags: []string{"cafe"}}},
		Confidence: 0.9,
	}
}

func newTestCache(clock *fakeClock, ttl time.Duration) (*Cache, *MemoryStore) {
	store := NewMemoryStore()
	return New(store, TTLPolicy{Default: ttl}, WithClock(clock.Now)), store
}

func TestGetOrComputeSingleflight(t *testing.T) {
	cache, _ := newTestCache(newFakeClock(), time.Hour)

	const callers = 64
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func() (model.AnalysisResult, error) {
		calls.Add(1)
		<-release
		return result("Cafe Onion"), nil
	}

	var ready, done sync.WaitGroup
	ready.Add(callers)
	done.Add(callers)
	entries := make([]Entry, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			ready.Done()
			entries[i], _, errs[i] = cache.GetOrCompute(context.Background(), "key-1", Options{Platform: platform.Instagram}, fn)
		}(i)
	}
	ready.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "Cafe Onion", entries[i].Result.Candidates[0].Name)
		assert.Equal(t, entries[0].CreatedAt, entries[i].CreatedAt)
		assert.Equal(t, "key-1", entries[i].Result.ContentKey)
	}
}

func TestGetOrComputeSharesErrorAndDoesNotCacheIt(t *testing.T) {
	cache, store := newTestCache(newFakeClock(), time.Hour)
	boom := errors.New("upstream exploded")

	var calls atomic.Int32
	release := make(chan struct{})
	failing := func() (model.AnalysisResult, error) {
		calls.Add(1)
		<-release
		return model.AnalysisResult{}, boom
	}

	const callers = 8
	var wg sync.WaitGroup
	wg.Add(callers)
	got := make([]error, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, _, got[i] = cache.GetOrCompute(context.Background(), "key-err", Options{}, failing)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, err := range got {
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 0, store.Len())

	// In-flight marker is cleared: the next caller computes again.
	entry, outcome, err := cache.GetOrCompute(context.Background(), "key-err", Options{}, func() (model.AnalysisResult, error) {
		calls.Add(1)
		return result("Second Try"), nil
	})
	require.NoError(t, err)
	assert.False(t, outcome.Cached)
	assert.Equal(t, "Second Try", entry.Result.Candidates[0].Name)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTTLBoundary(t *testing.T) {
	clock := newFakeClock()
	cache, store := newTestCache(clock, 24*time.Hour)
	written := clock.Now()

	_, _, err := cache.GetOrCompute(context.Background(), "key-ttl", Options{}, func() (model.AnalysisResult, error) {
		return result("Noodle Bar"), nil
	})
	require.NoError(t, err)

	clock.Set(written.Add(24*time.Hour - time.Nanosecond))
	entry, found, err := cache.Get(context.Background(), "key-ttl")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, written, entry.CreatedAt)
	assert.Equal(t, written.Add(24*time.Hour), entry.ExpiresAt)

	clock.Set(written.Add(24 * time.Hour))
	_, found, err = cache.Get(context.Background(), "key-ttl")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, store.Len(), "expired entry is evicted on read")
}

func TestTTLPerPlatform(t *testing.T) {
	clock := newFakeClock()
	cache := New(NewMemoryStore(), TTLPolicy{
		Default:    24 * time.Hour,
		ByPlatform: map[platform.Platform]time.Duration{platform.YouTube: 72 * time.Hour},
	}, WithClock(clock.Now))

	entry, _, err := cache.GetOrCompute(context.Background(), "yt", Options{Platform: platform.YouTube}, func() (model.AnalysisResult, error) {
		return result("Han River Park"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(72*time.Hour), entry.ExpiresAt)
	assert.Equal(t, platform.YouTube, entry.Platform)
}

func TestCacheHitSkipsCompute(t *testing.T) {
	cache, _ := newTestCache(newFakeClock(), time.Hour)
	var calls atomic.Int32
	fn := func() (model.AnalysisResult, error) {
		calls.Add(1)
		return result("Bakery"), nil
	}

	_, first, err := cache.GetOrCompute(context.Background(), "key-hit", Options{}, fn)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	_, second, err := cache.GetOrCompute(context.Background(), "key-hit", Options{}, fn)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), calls.Load())
}

func TestForceRefreshBypassesValidEntry(t *testing.T) {
	clock := newFakeClock()
	cache, _ := newTestCache(clock, time.Hour)
	var calls atomic.Int32
	fn := func() (model.AnalysisResult, error) {
		n := calls.Add(1)
		if n == 1 {
			return result("Old Name"), nil
		}
		return result("New Name"), nil
	}

	_, _, err := cache.GetOrCompute(context.Background(), "key-force", Options{}, fn)
	require.NoError(t, err)
	clock.Set(clock.Now().Add(time.Minute))

	entry, outcome, err := cache.GetOrCompute(context.Background(), "key-force", Options{ForceRefresh: true}, fn)
	require.NoError(t, err)
	assert.False(t, outcome.Cached)
	assert.Equal(t, "New Name", entry.Result.Candidates[0].Name)
	assert.Equal(t, int32(2), calls.Load())

	stored, found, err := cache.Get(context.Background(), "key-force")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "New Name", stored.Result.Candidates[0].Name, "force refresh overwrites the entry")
	assert.Equal(t, clock.Now(), stored.CreatedAt)
}

func TestConcurrentForceRefreshComputesOnce(t *testing.T) {
	cache, _ := newTestCache(newFakeClock(), time.Hour)
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func() (model.AnalysisResult, error) {
		calls.Add(1)
		<-release
		return result("Fresh"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := cache.GetOrCompute(context.Background(), "key-ff", Options{ForceRefresh: true}, fn)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestBeforeStoreVetoesWrite(t *testing.T) {
	cache, store := newTestCache(newFakeClock(), time.Hour)
	veto := errors.New("job cancelled")

	_, _, err := cache.GetOrCompute(context.Background(), "key-veto", Options{BeforeStore: func() error { return veto }}, func() (model.AnalysisResult, error) {
		return result("Never Stored"), nil
	})
	require.ErrorIs(t, err, veto)
	assert.Equal(t, 0, store.Len())
}

func TestWaiterContextDoesNotAbortSharedComputation(t *testing.T) {
	cache, store := newTestCache(newFakeClock(), time.Hour)
	release := make(chan struct{})
	started := make(chan struct{})
	fn := func() (model.AnalysisResult, error) {
		close(started)
		<-release
		return result("Slow Cafe"), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := cache.GetOrCompute(ctx, "key-slow", Options{}, fn)
		errCh <- err
	}()
	<-started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	cache, _ := newTestCache(newFakeClock(), time.Hour)
	_, _, err := cache.GetOrCompute(context.Background(), "key-inv", Options{}, func() (model.AnalysisResult, error) {
		return result("Gone Soon"), nil
	})
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(context.Background(), "key-inv"))
	_, found, err := cache.Get(context.Background(), "key-inv")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestComputePanicBecomesError(t *testing.T) {
	cache, _ := newTestCache(newFakeClock(), time.Hour)
	_, _, err := cache.GetOrCompute(context.Background(), "key-panic", Options{}, func() (model.AnalysisResult, error) {
		panic("extractor bug")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extractor bug")
}

func TestPurgeRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	cache, store := newTestCache(clock, time.Hour)
	for _, key := range []string{"a", "b"} {
		_, _, err := cache.GetOrCompute(context.Background(), key, Options{}, func() (model.AnalysisResult, error) {
			return result(key), nil
		})
		require.NoError(t, err)
	}
	clock.Set(clock.Now().Add(2 * time.Hour))

	removed, err := cache.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.Equal(t, 0, store.Len())
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	cache, _ := newTestCache(newFakeClock(), time.Hour)
	entry, _, err := cache.GetOrCompute(context.Background(), "key-copy", Options{}, func() (model.AnalysisResult, error) {
		return result("Original"), nil
	})
	require.NoError(t, err)
	entry.Result.Candidates[0].Name = "Mutated"

	again, found, err := cache.Get(context.Background(), "key-copy")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Original", again.Result.Candidates[0].Name)
}
