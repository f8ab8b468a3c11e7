package resultcache

import (
	"context"
	"sync"
	"time"
)

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// MemoryStore implements Store with sharded in-process maps.
type MemoryStore struct {
	shards [shardCount]memoryShard
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]Entry)
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	return &s.shards[shardIndex(key)]
}

// Put stores entry under key, replacing any previous entry.
func (s *MemoryStore) Put(ctx context.Context, key string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	sh.entries[key] = entry.clone()
	sh.mu.Unlock()
	return nil
}

// Get returns the entry stored under key.
func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	sh := s.shard(key)
	sh.mu.RLock()
	entry, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry.clone(), nil
}

// Delete removes key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
	return nil
}

// DeleteExpired removes key only if its entry is expired at now.
func (s *MemoryStore) DeleteExpired(ctx context.Context, key string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	if entry, ok := sh.entries[key]; ok && !entry.ValidAt(now) {
		delete(sh.entries, key)
	}
	sh.mu.Unlock()
	return nil
}

// PurgeExpired removes every entry expired at now.
func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	for i := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, entry := range sh.entries {
			if !entry.ValidAt(now) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ expiredDeleter = (*MemoryStore)(nil)
	_ Purger         = (*MemoryStore)(nil)
)
