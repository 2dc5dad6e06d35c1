package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

// ErrMiss is returned by Get when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

var bucketEntries = []byte("entries")

// Cache defines the interface for local caching operations
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int64, error)
	Cleanup(ctx context.Context) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// Entry represents a cache entry with metadata
type Entry struct {
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stats represents cache statistics
type Stats struct {
	TotalEntries int64   `json:"total_entries"`
	TotalSize    int64   `json:"total_size"`
	HitRate      float64 `json:"hit_rate"`
	MissRate     float64 `json:"miss_rate"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
}

// BoltCache implements Cache on a single bbolt file. README bodies and
// embedding vectors share it, namespaced by key prefix.
type BoltCache struct {
	db          *bbolt.DB
	maxBytes    int64
	defaultTTL  time.Duration
	cleanupFreq time.Duration
	now         func() time.Time

	hits   atomic.Int64
	misses atomic.Int64

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// NewBoltCache opens (creating if needed) cache.db under directory. A
// maxSizeMB of zero disables size enforcement; a zero cleanupFreq
// disables the background sweep.
func NewBoltCache(directory string, maxSizeMB int, defaultTTL, cleanupFreq time.Duration) (*BoltCache, error) {
	if strings.HasPrefix(directory, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}

		directory = filepath.Join(home, directory[2:])
	}

	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(directory, "cache.db"), 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	c := &BoltCache{
		db:          db,
		maxBytes:    int64(maxSizeMB) * 1024 * 1024,
		defaultTTL:  defaultTTL,
		cleanupFreq: cleanupFreq,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	if cleanupFreq > 0 {
		go c.backgroundCleanup()
	}

	return c, nil
}

// Get retrieves data from cache
func (c *BoltCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		entry   Entry
		found   bool
		expired bool
	)

	err := c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketEntries).Get([]byte(key))
		if raw == nil {
			return nil
		}

		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("failed to parse cache entry: %w", err)
		}

		found = true
		expired = c.now().After(entry.ExpiresAt)

		return nil
	})
	if err != nil {
		c.misses.Add(1)
		return nil, err
	}

	if !found || expired {
		c.misses.Add(1)

		if expired {
			_ = c.Delete(ctx, key)
		}

		return nil, ErrMiss
	}

	c.hits.Add(1)

	return entry.Data, nil
}

// Set stores data in cache with TTL
func (c *BoltCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	now := c.now()

	raw, err := json.Marshal(Entry{Data: data, CreatedAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		if err := c.enforceSize(b, key, int64(len(raw))); err != nil {
			return fmt.Errorf("failed to enforce cache size: %w", err)
		}

		return b.Put([]byte(key), raw)
	})
}

// Delete removes an entry from cache
func (c *BoltCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(key))
	})
}

// Clear removes all entries from cache
func (c *BoltCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketEntries); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}

		_, err := tx.CreateBucket(bucketEntries)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	c.hits.Store(0)
	c.misses.Store(0)

	return nil
}

// Size returns the total size of cached values in bytes
func (c *BoltCache) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var total int64

	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			total += int64(len(v))
			return nil
		})
	})

	return total, err
}

// Cleanup removes expired entries
func (c *BoltCache) Cleanup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := c.now()

	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)

		var expired [][]byte

		err := b.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil || now.After(entry.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetStats returns cache statistics
func (c *BoltCache) GetStats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}

	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			stats.TotalEntries++
			stats.TotalSize += int64(len(v))

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
		stats.MissRate = float64(stats.Misses) / float64(total)
	}

	return stats, nil
}

// Close stops the background cleanup goroutine and closes the file.
func (c *BoltCache) Close() error {
	c.cleanupOnce.Do(func() {
		close(c.stopCleanup)
	})

	return c.db.Close()
}

// enforceSize evicts the oldest entries until an entry of newSize fits.
// The entry being replaced does not count against the limit.
func (c *BoltCache) enforceSize(b *bbolt.Bucket, key string, newSize int64) error {
	if c.maxBytes <= 0 {
		return nil
	}

	type entryInfo struct {
		key       []byte
		createdAt time.Time
		size      int64
	}

	var (
		infos []entryInfo
		total int64
	)

	err := b.ForEach(func(k, v []byte) error {
		if string(k) == key {
			return nil
		}

		var entry Entry
		_ = json.Unmarshal(v, &entry)

		infos = append(infos, entryInfo{key: append([]byte(nil), k...), createdAt: entry.CreatedAt, size: int64(len(v))})
		total += int64(len(v))

		return nil
	})
	if err != nil {
		return err
	}

	if total+newSize <= c.maxBytes {
		return nil
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].createdAt.Before(infos[j].createdAt) })

	for _, info := range infos {
		if total+newSize <= c.maxBytes {
			break
		}

		if err := b.Delete(info.key); err != nil {
			return err
		}

		total -= info.size
	}

	return nil
}

func (c *BoltCache) backgroundCleanup() {
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Cleanup(context.Background())
		case <-c.stopCleanup:
			return
		}
	}
}

// NoopCache never stores anything. It backs a disabled cache.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (NoopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NoopCache) Delete(context.Context, string) error { return nil }
func (NoopCache) Clear(context.Context) error { return nil }
func (NoopCache) Size(context.Context) (int64, error) { return 0, nil }
func (NoopCache) Cleanup(context.Context) error { return nil }
func (NoopCache) GetStats(context.Context) (*Stats, error) { return &Stats{}, nil }
func (NoopCache) Close() error { return nil }
