package database

import (
	"errors"
	"path/filepath"
	"testing"

	"layerdeck/pkg/models"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), 1, nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSounds(t *testing.T) {
	db := newTestDB(t)

	sound := models.Sound{
		Name:      "Night Drive",
		OwnerName: "kai",
		FilePath:  "/library/night-drive.mp3",
		Duration:  92.5,
		BPM:       94,
		Key:       "F minor",
		FileSize:  2048,
		ArtworkID: "abc123",
		Slug:      "night-drive",
	}

	id, err := db.UpsertSound(sound)
	if err != nil {
		t.Fatalf("UpsertSound() error: %v", err)
	}
	if id == "" {
		t.Fatal("UpsertSound() returned an empty id")
	}

	got, err := db.GetSoundByID(id)
	if err != nil {
		t.Fatalf("GetSoundByID() error: %v", err)
	}
	if got.Name != sound.Name || got.Duration != sound.Duration || got.Key != sound.Key {
		t.Errorf("GetSoundByID() = %+v", got)
	}
	if got.SourceURL != "/stream/"+id {
		t.Errorf("SourceURL = %q", got.SourceURL)
	}
	if got.ImageURL != "/artwork/abc123" {
		t.Errorf("ImageURL = %q, want artwork path", got.ImageURL)
	}

	t.Run("upsert by path keeps id", func(t *testing.T) {
		sound.Name = "Night Drive (v2)"
		again, err := db.UpsertSound(sound)
		if err != nil {
			t.Fatalf("UpsertSound() error: %v", err)
		}
		if again != id {
			t.Errorf("id changed on update: %s != %s", again, id)
		}
		got, _ := db.GetSoundByID(id)
		if got.Name != "Night Drive (v2)" {
			t.Errorf("Name = %q after update", got.Name)
		}
	})

	t.Run("missing sound", func(t *testing.T) {
		if _, err := db.GetSoundByID("nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetSoundByID(nope) = %v, want ErrNotFound", err)
		}
	})

	t.Run("lookup by slug and path", func(t *testing.T) {
		bySlug, err := db.SoundIDBySlug("night-drive")
		if err != nil || bySlug != id {
			t.Errorf("SoundIDBySlug() = %q, %v", bySlug, err)
		}
		path, err := db.GetMediaPath(id)
		if err != nil || path != sound.FilePath {
			t.Errorf("GetMediaPath() = %q, %v", path, err)
		}
		exists, err := db.MediaExists(sound.FilePath)
		if err != nil || !exists {
			t.Errorf("MediaExists() = %v, %v", exists, err)
		}
	})
}

func TestLayers(t *testing.T) {
	db := newTestDB(t)

	soundID, err := db.UpsertSound(models.Sound{Name: "Beat", FilePath: "/library/beat.wav", Slug: "beat"})
	if err != nil {
		t.Fatal(err)
	}

	layerID, err := db.UpsertLayer(models.Layer{
		SoundID:  soundID,
		Name:     "Vocals",
		FilePath: "/library/layers/beat/vocals.wav",
		Duration: 12,
	})
	if err != nil {
		t.Fatalf("UpsertLayer() error: %v", err)
	}

	layers, err := db.GetLayersForSound(soundID)
	if err != nil {
		t.Fatalf("GetLayersForSound() error: %v", err)
	}
	if len(layers) != 1 || layers[0].ID != layerID || layers[0].SourceURL != "/stream/"+layerID {
		t.Fatalf("GetLayersForSound() = %+v", layers)
	}

	path, err := db.GetMediaPath(layerID)
	if err != nil || path != "/library/layers/beat/vocals.wav" {
		t.Errorf("GetMediaPath(layer) = %q, %v", path, err)
	}

	if err := db.RemoveByPath("/library/beat.wav"); err != nil {
		t.Fatalf("RemoveByPath() error: %v", err)
	}
	if _, err := db.GetLayerByID(layerID); !errors.Is(err, ErrNotFound) {
		t.Errorf("layer survived removal of its sound: %v", err)
	}
}

func TestPlaylists(t *testing.T) {
	db := newTestDB(t)

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		id, err := db.UpsertSound(models.Sound{Name: name, FilePath: "/library/" + name + ".mp3", Slug: name})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	playlistID, err := db.CreatePlaylist("Late night", "slow ones")
	if err != nil {
		t.Fatalf("CreatePlaylist() error: %v", err)
	}

	for _, id := range []string{ids[2], ids[0], ids[1], ids[0]} {
		if err := db.AddSoundToPlaylist(playlistID, id); err != nil {
			t.Fatalf("AddSoundToPlaylist() error: %v", err)
		}
	}

	sounds, err := db.GetPlaylistSounds(playlistID)
	if err != nil {
		t.Fatalf("GetPlaylistSounds() error: %v", err)
	}
	if len(sounds) != 3 || sounds[0].ID != ids[2] || sounds[1].ID != ids[0] || sounds[2].ID != ids[1] {
		t.Fatalf("playlist order wrong: %+v", sounds)
	}

	p, err := db.GetPlaylist(playlistID)
	if err != nil || p.TrackCount != 3 || p.Name != "Late night" {
		t.Errorf("GetPlaylist() = %+v, %v", p, err)
	}

	if err := db.RemoveSoundFromPlaylist(playlistID, ids[0]); err != nil {
		t.Fatal(err)
	}
	all, err := db.GetAllPlaylists()
	if err != nil || len(all) != 1 || all[0].TrackCount != 2 {
		t.Errorf("GetAllPlaylists() = %+v, %v", all, err)
	}

	if err := db.DeletePlaylist(playlistID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetPlaylist(playlistID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPlaylist() after delete = %v", err)
	}
}

func TestGetSoundsByIDsKeepsOrder(t *testing.T) {
	db := newTestDB(t)
	a, _ := db.UpsertSound(models.Sound{Name: "a", FilePath: "/a.mp3"})
	b, _ := db.UpsertSound(models.Sound{Name: "b", FilePath: "/b.mp3"})

	sounds, err := db.GetSoundsByIDs([]string{b, "missing", a})
	if err != nil {
		t.Fatal(err)
	}
	if len(sounds) != 2 || sounds[0].ID != b || sounds[1].ID != a {
		t.Errorf("GetSoundsByIDs() = %+v", sounds)
	}
}
