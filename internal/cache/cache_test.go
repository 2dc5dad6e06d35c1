package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jmbish04/gh-stars-sink/internal/config"
)

func newTestCache(t *testing.T, maxSizeMB int) *BoltCache {
	t.Helper()

	cache, err := NewBoltCache(t.TempDir(), maxSizeMB, time.Hour, 0)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	t.Cleanup(func() { cache.Close() })

	return cache
}

func TestBoltCache_BasicOperations(t *testing.T) {
	cache := newTestCache(t, 10)
	ctx := context.Background()

	key := "readme:1"
	data := []byte("test data")

	if err := cache.Set(ctx, key, data, time.Hour); err != nil {
		t.Fatalf("Failed to set cache entry: %v", err)
	}

	retrieved, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get cache entry: %v", err)
	}

	if string(retrieved) != string(data) {
		t.Errorf("Retrieved data doesn't match. Expected: %s, Got: %s", data, retrieved)
	}

	if err := cache.Delete(ctx, key); err != nil {
		t.Fatalf("Failed to delete cache entry: %v", err)
	}

	if _, err := cache.Get(ctx, key); !errors.Is(err, ErrMiss) {
		t.Errorf("Expected ErrMiss for deleted key, got %v", err)
	}
}

func TestBoltCache_TTL(t *testing.T) {
	cache := newTestCache(t, 10)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	if err := cache.Set(ctx, "short", []byte("x"), time.Minute); err != nil {
		t.Fatalf("Failed to set cache entry: %v", err)
	}

	if err := cache.Set(ctx, "default", []byte("y"), 0); err != nil {
		t.Fatalf("Failed to set cache entry: %v", err)
	}

	now = now.Add(2 * time.Minute)

	if _, err := cache.Get(ctx, "short"); !errors.Is(err, ErrMiss) {
		t.Errorf("Expected expired entry to miss, got %v", err)
	}

	if _, err := cache.Get(ctx, "default"); err != nil {
		t.Errorf("Entry with default TTL should still be cached: %v", err)
	}
}

func TestBoltCache_SizeLimit(t *testing.T) {
	cache := newTestCache(t, 1)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	chunk := []byte(strings.Repeat("a", 300*1024))

	for i := range 5 {
		if err := cache.Set(ctx, fmt.Sprintf("key-%d", i), chunk, time.Hour); err != nil {
			t.Fatalf("Failed to set entry %d: %v", i, err)
		}
	}

	size, err := cache.Size(ctx)
	if err != nil {
		t.Fatalf("Failed to get size: %v", err)
	}

	if size > 1024*1024 {
		t.Errorf("Cache size %d exceeds the 1MB limit", size)
	}

	if _, err := cache.Get(ctx, "key-0"); !errors.Is(err, ErrMiss) {
		t.Errorf("Oldest entry should have been evicted, got %v", err)
	}

	if _, err := cache.Get(ctx, "key-4"); err != nil {
		t.Errorf("Newest entry should be cached: %v", err)
	}
}

func TestBoltCache_Stats(t *testing.T) {
	cache := newTestCache(t, 10)
	ctx := context.Background()

	_ = cache.Set(ctx, "a", []byte("1"), time.Hour)
	_ = cache.Set(ctx, "b", []byte("2"), time.Hour)

	_, _ = cache.Get(ctx, "a")
	_, _ = cache.Get(ctx, "a")
	_, _ = cache.Get(ctx, "missing")

	stats, err := cache.GetStats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}

	if stats.TotalEntries != 2 {
		t.Errorf("Expected 2 entries, got %d", stats.TotalEntries)
	}

	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("Expected 2 hits and 1 miss, got %d and %d", stats.Hits, stats.Misses)
	}

	if stats.HitRate < 0.66 || stats.HitRate > 0.67 {
		t.Errorf("Unexpected hit rate %f", stats.HitRate)
	}

	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}

	stats, _ = cache.GetStats(ctx)
	if stats.TotalEntries != 0 || stats.Hits != 0 {
		t.Errorf("Expected empty stats after clear, got %+v", stats)
	}
}

func TestBoltCache_Cleanup(t *testing.T) {
	cache := newTestCache(t, 10)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_ = cache.Set(ctx, "old", []byte("x"), time.Minute)
	_ = cache.Set(ctx, "fresh", []byte("y"), time.Hour)

	now = now.Add(10 * time.Minute)

	if err := cache.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	stats, _ := cache.GetStats(ctx)
	if stats.TotalEntries != 1 {
		t.Errorf("Expected 1 entry after cleanup, got %d", stats.TotalEntries)
	}
}

func TestBoltCache_CancelledContext(t *testing.T) {
	cache := newTestCache(t, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := cache.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestNewFromConfig(t *testing.T) {
	disabled, err := NewFromConfig(config.CacheConfig{Disabled: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := disabled.(NoopCache); !ok {
		t.Errorf("Expected NoopCache, got %T", disabled)
	}

	if _, err := disabled.Get(context.Background(), "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("NoopCache should always miss")
	}

	enabled, err := NewFromConfig(config.CacheConfig{Directory: t.TempDir(), TTLHours: 1, CleanupFreq: "1h"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer enabled.Close()

	if _, ok := enabled.(*BoltCache); !ok {
		t.Errorf("Expected *BoltCache, got %T", enabled)
	}
}

func BenchmarkBoltCache_Set(b *testing.B) {
	cache, err := NewBoltCache(b.TempDir(), 100, time.Hour, 0)
	if err != nil {
		b.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	data := []byte(strings.Repeat("x", 1024))

	b.ResetTimer()

	for i := range b.N {
		_ = cache.Set(ctx, fmt.Sprintf("key-%d", i%100), data, time.Hour)
	}
}
