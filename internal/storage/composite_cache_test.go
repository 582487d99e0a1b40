package storage

import (
	"bytes"
	"testing"
	"time"

	"teamshots/internal/domain"
)

func TestCompositeCacheRoundTrip(t *testing.T) {
	cache, err := NewCompositeCache(t.TempDir(), time.Minute, nil)
	if err != nil {
		t.Fatalf("NewCompositeCache error: %v", err)
	}
	data := []byte("composite-bytes")
	if _, err := cache.Put("gen-1", domain.CompositeFace, "image/png", "face composite", data); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	entry, got, ok := cache.Get("gen-1", domain.CompositeFace)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("data mismatch: got %q", got)
	}
	if entry.Description != "face composite" || entry.Type != domain.CompositeFace {
		t.Fatalf("entry mismatch: %#v", entry)
	}
	if _, _, ok := cache.Get("gen-1", domain.CompositeBody); ok {
		t.Fatal("expected miss for other composite type")
	}
	if _, _, ok := cache.Get("gen-2", domain.CompositeFace); ok {
		t.Fatal("expected miss for other generation")
	}
}

func TestCompositeCacheExpires(t *testing.T) {
	cache, err := NewCompositeCache(t.TempDir(), time.Minute, nil)
	if err != nil {
		t.Fatalf("NewCompositeCache error: %v", err)
	}
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return base }
	if _, err := cache.Put("gen-1", domain.CompositeBody, "image/png", "", []byte("x")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	cache.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, _, ok := cache.Get("gen-1", domain.CompositeBody); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestCompositeCacheSweep(t *testing.T) {
	cache, err := NewCompositeCache(t.TempDir(), time.Minute, nil)
	if err != nil {
		t.Fatalf("NewCompositeCache error: %v", err)
	}
	if _, err := cache.Put("gen-1", domain.CompositeFace, "image/png", "", []byte("x")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if n := cache.Sweep(time.Now()); n != 0 {
		t.Fatalf("fresh entries should survive, removed %d", n)
	}
	if n := cache.Sweep(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("expected 1 removal, got %d", n)
	}
	if _, _, ok := cache.Get("gen-1", domain.CompositeFace); ok {
		t.Fatal("expected miss after sweep")
	}
}

func TestCompositeCacheRejectsTraversal(t *testing.T) {
	cache, err := NewCompositeCache(t.TempDir(), time.Minute, nil)
	if err != nil {
		t.Fatalf("NewCompositeCache error: %v", err)
	}
	if _, err := cache.Put("../escape", domain.CompositeFace, "image/png", "", []byte("x")); err == nil {
		t.Fatal("expected error for traversal generation id")
	}
	if _, _, ok := cache.Get("gen-1", domain.CompositeType("../x")); ok {
		t.Fatal("expected miss for invalid type")
	}
}
