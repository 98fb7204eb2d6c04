package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"layerdeck/pkg/models"
)

// CacheEntry represents a cached item with expiration
type CacheEntry struct {
	Value      interface{}
	Expiration time.Time
}

// IsExpired checks if the cache entry has expired
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expiration)
}

// MemoryCache implements a simple in-memory cache
type MemoryCache struct {
	items map[string]*CacheEntry
	mutex sync.RWMutex
	ttl   time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache creates a new memory cache that sweeps expired entries
// every cleanupInterval until Close is called
func NewMemoryCache(ttl, cleanupInterval time.Duration) *MemoryCache {
	cache := &MemoryCache{
		items: make(map[string]*CacheEntry),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go cache.cleanupExpired(cleanupInterval)
	}

	return cache
}

// Set stores a value in the cache
func (c *MemoryCache) Set(key string, value interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = &CacheEntry{
		Value:      value,
		Expiration: time.Now().Add(c.ttl),
	}
}

// Get retrieves a value from the cache
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.items[key]
	if !exists || entry.IsExpired() {
		return nil, false
	}

	return entry.Value, true
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
}

// DeletePrefix removes every key starting with prefix
func (c *MemoryCache) DeletePrefix(prefix string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
}

// Clear removes all items from the cache
func (c *MemoryCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items = make(map[string]*CacheEntry)
}

// Size returns the number of items in the cache
func (c *MemoryCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.items)
}

// Close stops the cleanup goroutine
func (c *MemoryCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *MemoryCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache) sweep() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key, entry := range c.items {
		if entry.IsExpired() {
			delete(c.items, key)
		}
	}
}

// TrackCache caches the track lists handed to players
type TrackCache struct {
	*MemoryCache
}

// NewTrackCache creates a new track cache
func NewTrackCache(ttl time.Duration) *TrackCache {
	return &TrackCache{
		MemoryCache: NewMemoryCache(ttl, 5*time.Minute),
	}
}

// PlaylistKey is the cache key for a playlist's tracks
func PlaylistKey(playlistID int) string {
	return fmt.Sprintf("playlist:%d", playlistID)
}

// LayersKey is the cache key for a sound's layer tracks
func LayersKey(soundID string) string {
	return "layers:" + soundID
}

// SetTracks caches a slice of tracks
func (tc *TrackCache) SetTracks(key string, tracks []models.Track) {
	tc.Set(key, append([]models.Track(nil), tracks...))
}

// GetTracks retrieves cached tracks
func (tc *TrackCache) GetTracks(key string) ([]models.Track, bool) {
	value, exists := tc.Get(key)
	if !exists {
		return nil, false
	}

	tracks, ok := value.([]models.Track)
	if !ok {
		return nil, false
	}
	return append([]models.Track(nil), tracks...), true
}

// InvalidatePlaylists drops every cached playlist
func (tc *TrackCache) InvalidatePlaylists() {
	tc.DeletePrefix("playlist:")
}
