package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"placelink-backend/internal/shared/storage/object"
)

// ObjectStore persists entries as JSON documents in an object.Store (local disk or S3).
// Keys are fanned out by their first two characters.
type ObjectStore struct {
	Objects object.Store
}

func objectKey(key string) string {
	if len(key) < 2 {
		return "_/" + key + ".json"
	}
	return key[:2] + "/" + key + ".json"
}

// Put writes the entry document.
func (s *ObjectStore) Put(ctx context.Context, key string, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return s.Objects.Put(ctx, objectKey(key), "application/json", payload)
}

// Get reads the entry document.
func (s *ObjectStore) Get(ctx context.Context, key string) (Entry, error) {
	payload, err := s.Objects.Get(ctx, objectKey(key))
	if errors.Is(err, object.ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return entry, nil
}

// Delete removes the entry document.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	return s.Objects.Delete(ctx, objectKey(key))
}

var _ Store = (*ObjectStore)(nil)
