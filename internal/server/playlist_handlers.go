package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"layerdeck/internal/cache"
	"layerdeck/internal/database"
	"layerdeck/pkg/models"
)

// handleGetPlaylists returns all playlists (with track counts) as JSON.
func (ms *MusicServer) handleGetPlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := ms.db.GetAllPlaylists()
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving playlists", err)
		return
	}
	if playlists == nil {
		playlists = []models.Playlist{}
	}
	ms.respondJSON(w, playlists)
}

// handleCreatePlaylist creates a new playlist (POST json name/description).
func (ms *MusicServer) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	req.Name = sanitizeInput(req.Name)
	req.Description = sanitizeInput(req.Description)

	var errs []ValidationError
	if verr := validatePlaylistName(req.Name); verr != nil {
		errs = append(errs, *verr)
	}
	if verr := validatePlaylistDescription(req.Description); verr != nil {
		errs = append(errs, *verr)
	}
	if len(errs) > 0 {
		ms.respondWithValidationError(w, r, errs)
		return
	}

	id, err := ms.db.CreatePlaylist(req.Name, req.Description)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error creating playlist", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	ms.respondJSON(w, map[string]interface{}{
		"id":      id,
		"success": true,
	})
}

// handleDeletePlaylist deletes a playlist.
func (ms *MusicServer) handleDeletePlaylist(w http.ResponseWriter, r *http.Request) {
	playlistID, verr := validatePlaylistID(r.PathValue("id"))
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if err := ms.db.DeletePlaylist(playlistID); err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error deleting playlist", err)
		return
	}
	ms.tracks.InvalidatePlaylists()
	ms.respondJSON(w, map[string]bool{"success": true})
}

// handleGetPlaylistTracks returns the tracks of a playlist in order.
func (ms *MusicServer) handleGetPlaylistTracks(w http.ResponseWriter, r *http.Request) {
	playlistID, verr := validatePlaylistID(r.PathValue("id"))
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	tracks, err := ms.playlistTracks(playlistID)
	if errors.Is(err, database.ErrNotFound) {
		ms.respondWithError(w, r, http.StatusNotFound, "Playlist not found", nil)
		return
	}
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving playlist tracks", err)
		return
	}
	ms.respondJSON(w, tracks)
}

// handleAddTrackToPlaylist appends a sound to a playlist (POST json soundId).
func (ms *MusicServer) handleAddTrackToPlaylist(w http.ResponseWriter, r *http.Request) {
	playlistID, verr := validatePlaylistID(r.PathValue("id"))
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	var req struct {
		SoundID string `json:"soundId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	soundID, verr := validateMediaID(req.SoundID)
	if verr != nil {
		verr.Field = "soundId"
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if _, err := ms.db.GetPlaylist(playlistID); errors.Is(err, database.ErrNotFound) {
		ms.respondWithError(w, r, http.StatusNotFound, "Playlist not found", nil)
		return
	}
	if _, err := ms.db.GetSoundByID(soundID); errors.Is(err, database.ErrNotFound) {
		ms.respondWithError(w, r, http.StatusNotFound, "Sound not found", nil)
		return
	}

	if err := ms.db.AddSoundToPlaylist(playlistID, soundID); err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error adding sound to playlist", err)
		return
	}
	ms.tracks.Delete(cache.PlaylistKey(playlistID))
	ms.respondJSON(w, map[string]bool{"success": true})
}

// handleRemoveTrackFromPlaylist removes a sound from a playlist.
func (ms *MusicServer) handleRemoveTrackFromPlaylist(w http.ResponseWriter, r *http.Request) {
	playlistID, verr := validatePlaylistID(r.PathValue("id"))
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	soundID, verr := validateMediaID(r.PathValue("soundId"))
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if err := ms.db.RemoveSoundFromPlaylist(playlistID, soundID); err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error removing sound from playlist", err)
		return
	}
	ms.tracks.Delete(cache.PlaylistKey(playlistID))
	ms.respondJSON(w, map[string]bool{"success": true})
}
