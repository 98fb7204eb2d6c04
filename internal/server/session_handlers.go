package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"layerdeck/internal/player"
	"layerdeck/internal/session"
)

// sseKeepAlive is how often an idle event stream gets a comment line
const sseKeepAlive = 15 * time.Second

// sessionError maps session manager errors to HTTP responses
func (ms *MusicServer) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		ms.respondWithError(w, r, http.StatusNotFound, "Session not found", nil)
	case errors.Is(err, session.ErrClosed):
		ms.respondWithError(w, r, http.StatusServiceUnavailable, "Server shutting down", err)
	default:
		ms.respondWithError(w, r, http.StatusInternalServerError, "Session error", err)
	}
}

// handleCreateSession opens a player session for the calling page
func (ms *MusicServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userAgent := r.UserAgent()
	s, err := ms.sessions.Create(userAgent, clientIP(r))
	if err != nil {
		ms.sessionError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	ms.respondJSON(w, map[string]interface{}{
		"sessionId":  s.ID,
		"deviceName": guessDeviceName(userAgent),
		"state":      s.State().GetState(),
	})
}

// handleCloseSession disposes a session's players
func (ms *MusicServer) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := ms.sessions.Close(r.PathValue("id")); err != nil {
		ms.sessionError(w, r, err)
		return
	}
	ms.respondJSON(w, map[string]bool{"success": true})
}

// handleGetSessionState returns the latest snapshot
func (ms *MusicServer) handleGetSessionState(w http.ResponseWriter, r *http.Request) {
	s, err := ms.sessions.Get(r.PathValue("id"))
	if err != nil {
		ms.sessionError(w, r, err)
		return
	}
	ms.respondJSON(w, s.State().GetState())
}

// handleSessionEvents streams snapshots as server-sent events. The stream
// ends when the client leaves, the session closes, or the client lags; an
// EventSource reconnects on its own and gets the current state first.
func (ms *MusicServer) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, err := ms.sessions.Get(id)
	if err != nil {
		ms.sessionError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	updates := s.State().Subscribe()
	defer s.State().Unsubscribe(updates)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSnapshot(w, s.State().GetState()); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		ms.logger.WithError(err).Warn("Streaming not supported by response writer")
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeSnapshot(w, snap); err != nil {
				return
			}
		case <-keepAlive.C:
			// An open feed counts as activity
			if _, err := ms.sessions.Get(id); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSnapshot(w http.ResponseWriter, snap *player.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: state\ndata: %s\n\n", snap.Version, data)
	return err
}

// guessDeviceName tries to guess device name from user agent
func guessDeviceName(userAgent string) string {
	ua := strings.ToLower(userAgent)

	switch {
	case strings.Contains(ua, "android"):
		return "Android Device"
	case strings.Contains(ua, "iphone"):
		return "iPhone"
	case strings.Contains(ua, "ipad"):
		return "iPad"
	case strings.Contains(ua, "mobile"):
		return "Mobile Device"
	case strings.Contains(ua, "mac"):
		return "Mac"
	case strings.Contains(ua, "windows"):
		return "Windows PC"
	case strings.Contains(ua, "linux"):
		return "Linux PC"
	case strings.Contains(ua, "firefox"):
		return "Firefox Browser"
	case strings.Contains(ua, "chrome"):
		return "Chrome Browser"
	case strings.Contains(ua, "safari"):
		return "Safari Browser"
	}
	return "Web Browser"
}
