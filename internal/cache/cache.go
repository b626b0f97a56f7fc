// Package cache provides caching for encoded plot images and field queries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	ImageCacheSizeMB int
	ImageTTL         time.Duration
	QueryCacheSize   int
}

// Manager manages image and query caches.
type Manager struct {
	imageCache *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ImageTTL <= 0 {
		cfg.ImageTTL = 10 * time.Minute
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 1000
	}

	imageCacheConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.ImageTTL,
		CleanWindow:        cfg.ImageTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       256 * 1024, // plot PNGs are larger than map tiles
		HardMaxCacheSize:   cfg.ImageCacheSizeMB,
		Verbose:            false,
	}

	imageCache, err := bigcache.New(context.Background(), imageCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		imageCache.Close()
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		imageCache: imageCache,
		queryCache: queryCache,
	}, nil
}

// GetImage retrieves an encoded image from cache.
func (m *Manager) GetImage(key string) ([]byte, bool) {
	data, err := m.imageCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetImage stores an encoded image in cache.
func (m *Manager) SetImage(key string, data []byte) error {
	return m.imageCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// BrushState is the part of a brush an image depends on.
type BrushState struct {
	Kind       string
	Blend      bool
	IndexStamp uint64 // 0 when the brush draws every row
}

// ImageKey generates a cache key for a plot image. Plots sharing fields,
// size and brush index sets share the key.
func ImageKey(x, y string, width, height int, colormap string, brushes []BrushState) string {
	base := fmt.Sprintf("img:%dx%d:%s", width, height, colormap)
	h := sha256.New()
	h.Write([]byte(x))
	h.Write([]byte{0})
	h.Write([]byte(y))
	for _, b := range brushes {
		h.Write([]byte(fmt.Sprintf("|%s:%t:%d", b.Kind, b.Blend, b.IndexStamp)))
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// FieldStatsKey generates a cache key for a field summary.
func FieldStatsKey(label string, stamp uint64) string {
	return fmt.Sprintf("stats:%s:%d", strings.ReplaceAll(label, ":", "_"), stamp)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"image_cache_len": m.imageCache.Len(),
		"image_cache_cap": m.imageCache.Capacity(),
		"query_cache_len": m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.imageCache.Close()
}
