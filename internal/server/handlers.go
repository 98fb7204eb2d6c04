package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"layerdeck/internal/cache"
	"layerdeck/internal/database"
	"layerdeck/pkg/models"
)

// respondJSON writes v as the JSON body
func (ms *MusicServer) respondJSON(w http.ResponseWriter, v interface{}) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ms.logger.WithError(err).Debug("Error encoding response")
	}
}

// handleHome serves the SPA index from the configured static dir
func (ms *MusicServer) handleHome(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(ms.config.Server.StaticDir, "index.html"))
}

func (ms *MusicServer) handleGetSounds(w http.ResponseWriter, r *http.Request) {
	sounds, err := ms.db.GetAllSounds()
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving sounds", err)
		return
	}
	if sounds == nil {
		sounds = []models.Sound{}
	}
	ms.respondJSON(w, sounds)
}

func (ms *MusicServer) handleGetSound(w http.ResponseWriter, r *http.Request) {
	id, verr := validateMediaID(r.PathValue("id"))
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	sound, err := ms.db.GetSoundByID(id)
	if errors.Is(err, database.ErrNotFound) {
		ms.respondWithError(w, r, http.StatusNotFound, "Sound not found", nil)
		return
	}
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving sound", err)
		return
	}
	ms.respondJSON(w, sound)
}

func (ms *MusicServer) handleGetSoundLayers(w http.ResponseWriter, r *http.Request) {
	id, verr := validateMediaID(r.PathValue("id"))
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if _, err := ms.db.GetSoundByID(id); errors.Is(err, database.ErrNotFound) {
		ms.respondWithError(w, r, http.StatusNotFound, "Sound not found", nil)
		return
	}

	layers, err := ms.db.GetLayersForSound(id)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving layers", err)
		return
	}
	if layers == nil {
		layers = []models.Layer{}
	}
	ms.respondJSON(w, layers)
}

// handleStream streams a sound or layer by id with Range support
func (ms *MusicServer) handleStream(w http.ResponseWriter, r *http.Request) {
	id, verr := validateMediaID(r.PathValue("id"))
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	path, err := ms.db.GetMediaPath(id)
	if errors.Is(err, database.ErrNotFound) {
		ms.respondWithError(w, r, http.StatusNotFound, "Media not found", nil)
		return
	}
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error resolving media", err)
		return
	}

	if verr := ms.validateFilePath(path); verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	if verr := ms.validateContentType(path); verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if err := ms.streamFile(w, r, path, ms.extractor.GetContentType(path)); err != nil {
		ms.logger.WithError(err).WithField("media_id", id).Warn("Error streaming media")
	}
}

// playlistTracks returns a playlist's sounds as tracks, cached
func (ms *MusicServer) playlistTracks(playlistID int) ([]models.Track, error) {
	key := cache.PlaylistKey(playlistID)
	if tracks, ok := ms.tracks.GetTracks(key); ok {
		return tracks, nil
	}

	if _, err := ms.db.GetPlaylist(playlistID); err != nil {
		return nil, err
	}
	sounds, err := ms.db.GetPlaylistSounds(playlistID)
	if err != nil {
		return nil, err
	}
	tracks := make([]models.Track, len(sounds))
	for i, s := range sounds {
		tracks[i] = s.Track()
	}
	ms.tracks.SetTracks(key, tracks)
	return tracks, nil
}

// soundTracks resolves sound ids in order, skipping unknown ids
func (ms *MusicServer) soundTracks(ids []string) ([]models.Track, error) {
	sounds, err := ms.db.GetSoundsByIDs(ids)
	if err != nil {
		return nil, err
	}
	tracks := make([]models.Track, len(sounds))
	for i, s := range sounds {
		tracks[i] = s.Track()
	}
	return tracks, nil
}

// layerTracks returns a sound's layers as tracks, cached
func (ms *MusicServer) layerTracks(soundID string) ([]models.Track, error) {
	key := cache.LayersKey(soundID)
	if tracks, ok := ms.tracks.GetTracks(key); ok {
		return tracks, nil
	}

	layers, err := ms.db.GetLayersForSound(soundID)
	if err != nil {
		return nil, err
	}
	tracks := make([]models.Track, len(layers))
	for i, l := range layers {
		tracks[i] = l.Track()
	}
	ms.tracks.SetTracks(key, tracks)
	return tracks, nil
}
