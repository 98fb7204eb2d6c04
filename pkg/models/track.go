package models

import "time"

// Track is the playable unit handed to a player. It is immutable once a
// playlist is loaded; identity is ID only.
type Track struct {
	ID          string `json:"id"`
	SourceURL   string `json:"sourceUrl"`
	DisplayName string `json:"displayName"`
	OwnerName   string `json:"ownerName"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// Equal reports whether two tracks share an identity.
func (t Track) Equal(other Track) bool {
	return t.ID == other.ID
}

// Sound represents an uploaded beat in the catalog
type Sound struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerName string    `json:"ownerName"`
	SourceURL string    `json:"sourceUrl"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	FilePath  string    `json:"-"`        // don't expose file path to client
	Duration  float64   `json:"duration"` // in seconds
	BPM       int       `json:"bpm,omitempty"`
	Key       string    `json:"key,omitempty"`
	Genre     string    `json:"genre,omitempty"`
	FileSize  int64     `json:"fileSize"`
	ArtworkID string    `json:"-"`
	Slug      string    `json:"-"` // file stem, used to attach layers
	CreatedAt time.Time `json:"createdAt"`
}

// Track converts the sound into a playable track.
func (s Sound) Track() Track {
	return Track{
		ID:          s.ID,
		SourceURL:   s.SourceURL,
		DisplayName: s.Name,
		OwnerName:   s.OwnerName,
		ImageURL:    s.ImageURL,
	}
}

// Layer is a clip recorded on top of a parent sound
type Layer struct {
	ID        string    `json:"id"`
	SoundID   string    `json:"soundId"`
	Name      string    `json:"name"`
	OwnerName string    `json:"ownerName"`
	SourceURL string    `json:"sourceUrl"`
	FilePath  string    `json:"-"`
	Duration  float64   `json:"duration"`
	FileSize  int64     `json:"fileSize"`
	CreatedAt time.Time `json:"createdAt"`
}

// Track converts the layer into a playable track.
func (l Layer) Track() Track {
	return Track{
		ID:          l.ID,
		SourceURL:   l.SourceURL,
		DisplayName: l.Name,
		OwnerName:   l.OwnerName,
	}
}

// Playlist represents a user-created playlist
type Playlist struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	TrackCount  int       `json:"trackCount"`
}

// PlaylistSound represents the relationship between playlists and sounds
type PlaylistSound struct {
	PlaylistID int    `json:"playlistId"`
	SoundID    string `json:"soundId"`
	Position   int    `json:"position"`
}
