package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"layerdeck/internal/database"
	"layerdeck/internal/layersync"
	"layerdeck/internal/playlist"
	"layerdeck/internal/session"
	"layerdeck/pkg/models"
)

var errNoLayer = errors.New("no layer open")

// Layer sync commands exposed over HTTP
var (
	layerPlayBoth  = (*layersync.Controller).PlayBoth
	layerStopBoth  = (*layersync.Controller).StopBoth
	layerPlayMain  = (*layersync.Controller).PlayMain
	layerPauseMain = (*layersync.Controller).PauseMain
	layerPlayClip  = (*layersync.Controller).PlayLayer
	layerPauseClip = (*layersync.Controller).PauseLayer
)

// runCommand applies fn to the session on the scheduler and answers with
// the resulting snapshot
func (ms *MusicServer) runCommand(w http.ResponseWriter, r *http.Request, fn func(s *session.Session) error) {
	id := r.PathValue("id")

	var cmdErr error
	if err := ms.sessions.Do(id, func(s *session.Session) { cmdErr = fn(s) }); err != nil {
		ms.sessionError(w, r, err)
		return
	}

	switch {
	case errors.Is(cmdErr, playlist.ErrInvalidIndex):
		ms.respondWithValidationError(w, r, []ValidationError{{
			Field:   "index",
			Message: cmdErr.Error(),
			Code:    "INVALID_INDEX",
		}})
		return
	case errors.Is(cmdErr, errNoLayer):
		ms.respondWithError(w, r, http.StatusConflict, "No layer open for this session", nil)
		return
	case cmdErr != nil:
		ms.respondWithError(w, r, http.StatusInternalServerError, "Command failed", cmdErr)
		return
	}

	s, err := ms.sessions.Get(id)
	if err != nil {
		ms.sessionError(w, r, err)
		return
	}
	ms.respondJSON(w, s.State().GetState())
}

// handleLoadPlaylist replaces the session playlist from a stored playlist
// or an explicit list of sound ids
func (ms *MusicServer) handleLoadPlaylist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlaylistID *int     `json:"playlistId,omitempty"`
		SoundIDs   []string `json:"soundIds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	var tracks []models.Track
	var err error
	switch {
	case req.PlaylistID != nil:
		if _, verr := validatePlaylistID(strconv.Itoa(*req.PlaylistID)); verr != nil {
			ms.respondWithValidationError(w, r, []ValidationError{*verr})
			return
		}
		tracks, err = ms.playlistTracks(*req.PlaylistID)
		if errors.Is(err, database.ErrNotFound) {
			ms.respondWithError(w, r, http.StatusNotFound, "Playlist not found", nil)
			return
		}
	case req.SoundIDs != nil:
		var errs []ValidationError
		for i, raw := range req.SoundIDs {
			id, verr := validateMediaID(raw)
			if verr != nil {
				verr.Field = "soundIds"
				errs = append(errs, *verr)
				continue
			}
			req.SoundIDs[i] = id
		}
		if len(errs) > 0 {
			ms.respondWithValidationError(w, r, errs)
			return
		}
		tracks, err = ms.soundTracks(req.SoundIDs)
	default:
		ms.respondWithValidationError(w, r, []ValidationError{{
			Field:   "playlistId",
			Message: "Either playlistId or soundIds is required",
			Code:    "MISSING_PLAYLIST_SOURCE",
		}})
		return
	}
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error resolving tracks", err)
		return
	}

	ms.runCommand(w, r, func(s *session.Session) error {
		s.Player().LoadPlaylist(tracks)
		return nil
	})
}

func (ms *MusicServer) handlePlayIndex(w http.ResponseWriter, r *http.Request) {
	index, verr := validateIndex(r.PathValue("index"))
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	ms.runCommand(w, r, func(s *session.Session) error {
		if err := s.Player().ValidateIndex(index); err != nil {
			return err
		}
		s.Player().PlayIndex(index)
		return nil
	})
}

func (ms *MusicServer) handleNext(w http.ResponseWriter, r *http.Request) {
	ms.runCommand(w, r, func(s *session.Session) error {
		s.Player().Next()
		return nil
	})
}

func (ms *MusicServer) handlePrevious(w http.ResponseWriter, r *http.Request) {
	ms.runCommand(w, r, func(s *session.Session) error {
		s.Player().Previous()
		return nil
	})
}

func (ms *MusicServer) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds float64 `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	if verr := validateSeek(req.Seconds); verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	ms.runCommand(w, r, func(s *session.Session) error {
		s.Player().SeekTo(req.Seconds)
		return nil
	})
}

func (ms *MusicServer) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	if verr := validateVolume(req.Volume); verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	ms.runCommand(w, r, func(s *session.Session) error {
		s.Player().SetVolume(req.Volume)
		return nil
	})
}

func (ms *MusicServer) handleMute(w http.ResponseWriter, r *http.Request) {
	ms.runCommand(w, r, func(s *session.Session) error {
		s.Player().ToggleMute()
		return nil
	})
}

// handleOpenLayer pairs a layer clip with its sound, or with whatever the
// playlist is playing when followPlaylist is set
func (ms *MusicServer) handleOpenLayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SoundID        string `json:"soundId"`
		LayerID        string `json:"layerId"`
		FollowPlaylist bool   `json:"followPlaylist"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	layerID, verr := validateMediaID(req.LayerID)
	if verr != nil {
		verr.Field = "layerId"
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	var clip models.Track
	soundID := req.SoundID
	if soundID == "" {
		layer, err := ms.db.GetLayerByID(layerID)
		if errors.Is(err, database.ErrNotFound) {
			ms.respondWithError(w, r, http.StatusNotFound, "Layer not found", nil)
			return
		}
		if err != nil {
			ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving layer", err)
			return
		}
		soundID = layer.SoundID
		clip = layer.Track()
	} else {
		if soundID, verr = validateMediaID(soundID); verr != nil {
			verr.Field = "soundId"
			ms.respondWithValidationError(w, r, []ValidationError{*verr})
			return
		}
		tracks, err := ms.layerTracks(soundID)
		if err != nil {
			ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving layers", err)
			return
		}
		found := false
		for _, t := range tracks {
			if t.ID == layerID {
				clip, found = t, true
				break
			}
		}
		if !found {
			ms.respondWithError(w, r, http.StatusNotFound, "Layer not found for sound", nil)
			return
		}
	}

	var main models.Track
	if !req.FollowPlaylist {
		sound, err := ms.db.GetSoundByID(soundID)
		if errors.Is(err, database.ErrNotFound) {
			ms.respondWithError(w, r, http.StatusNotFound, "Sound not found", nil)
			return
		}
		if err != nil {
			ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving sound", err)
			return
		}
		main = sound.Track()
	}

	ms.runCommand(w, r, func(s *session.Session) error {
		s.OpenLayer(main, clip, req.FollowPlaylist)
		return nil
	})
}

func (ms *MusicServer) handleCloseLayer(w http.ResponseWriter, r *http.Request) {
	ms.runCommand(w, r, func(s *session.Session) error {
		if s.Layer() == nil {
			return errNoLayer
		}
		s.CloseLayer()
		return nil
	})
}

// handleLayerCommand wraps a layer sync command as a handler
func (ms *MusicServer) handleLayerCommand(cmd func(*layersync.Controller)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ms.runCommand(w, r, func(s *session.Session) error {
			if s.Layer() == nil {
				return errNoLayer
			}
			cmd(s.Layer())
			return nil
		})
	}
}
