package server

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Database  string                 `json:"database"`
	Storage   string                 `json:"storage"`
	Sessions  int                    `json:"activeSessions"`
	Sounds    int                    `json:"soundCount"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns liveness plus dependency checks.
func (ms *MusicServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(ms.startedAt).Round(time.Second).String(),
		Database:  "ok",
		Storage:   "ok",
		Sessions:  ms.sessions.Count(),
		Details:   make(map[string]interface{}),
	}

	sounds, err := ms.db.GetAllSounds()
	if err != nil {
		health.Status = "unhealthy"
		health.Database = "error"
		health.Details["database_error"] = err.Error()
	} else {
		health.Sounds = len(sounds)
	}

	if err := ms.checkStorageHealth(); err != nil {
		health.Status = "unhealthy"
		health.Storage = "error"
		health.Details["storage_error"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	ms.respondJSON(w, health)
}

// checkStorageHealth verifies the library directory is reachable.
func (ms *MusicServer) checkStorageHealth() error {
	info, err := os.Stat(ms.config.Library.Path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("library path %s is not a directory", ms.config.Library.Path)
	}
	return nil
}
