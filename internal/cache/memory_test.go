package cache

import (
	"testing"
	"time"

	"layerdeck/pkg/models"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, 0)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	if v, ok := c.Get("a"); !ok || v.(int) != 1 {
		t.Errorf("Get(a) = %v, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("Get(a) after Delete")
	}
	c.Clear()
	if c.Size() != 0 {
		t.Error("Clear() left items")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(10*time.Millisecond, 0)
	defer c.Close()

	c.Set("k", "v")
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry returned")
	}
	c.sweep()
	if c.Size() != 0 {
		t.Errorf("sweep() left %d entries", c.Size())
	}
}

func TestMemoryCacheCloseIdempotent(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Millisecond)
	c.Close()
	c.Close()
}

func TestTrackCache(t *testing.T) {
	tc := NewTrackCache(time.Minute)
	defer tc.Close()

	tracks := []models.Track{{ID: "a"}, {ID: "b"}}
	tc.SetTracks(PlaylistKey(7), tracks)
	tc.SetTracks(LayersKey("s1"), tracks[:1])

	tracks[0].ID = "mutated"
	got, ok := tc.GetTracks(PlaylistKey(7))
	if !ok || len(got) != 2 || got[0].ID != "a" {
		t.Fatalf("GetTracks() = %v, %v", got, ok)
	}

	tc.InvalidatePlaylists()
	if _, ok := tc.GetTracks(PlaylistKey(7)); ok {
		t.Error("playlist survived InvalidatePlaylists")
	}
	if _, ok := tc.GetTracks(LayersKey("s1")); !ok {
		t.Error("layers dropped by InvalidatePlaylists")
	}
}
