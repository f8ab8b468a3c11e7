package local

import (
	"context"
	"errors"
	"testing"

	"placelink-backend/internal/shared/storage/object"
)

func TestStoreRoundTrip(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	if _, err := store.Get(ctx, "ab/missing.json"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Put(ctx, "ab/key.json", "application/json", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "ab/key.json", "application/json", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := store.Get(ctx, "ab/key.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("expected overwritten value, got %q", got)
	}
	if err := store.Delete(ctx, "ab/key.json"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "ab/key.json"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestStoreRejectsEscapingKeys(t *testing.T) {
	store := New(t.TempDir())
	for _, key := range []string{"../outside.json", "/etc/passwd", "."} {
		if err := store.Put(context.Background(), key, "text/plain", []byte("x")); err == nil {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
}
