package server

import (
	"net/http"
)

// ConfigResponse is the public configuration sent to the player page
type ConfigResponse struct {
	Player  PlayerConfigResponse  `json:"player"`
	Library LibraryConfigResponse `json:"library"`
}

// PlayerConfigResponse carries the playback defaults a page needs
type PlayerConfigResponse struct {
	ProgressIntervalMs    int     `json:"progressIntervalMs"`
	SessionTimeoutSeconds int     `json:"sessionTimeoutSeconds"`
	DefaultVolume         float64 `json:"defaultVolume"`
}

// LibraryConfigResponse describes what the library accepts
type LibraryConfigResponse struct {
	SupportedFormats []string `json:"supportedFormats"`
	AllowUploads     bool     `json:"allowUploads"`
	MaxUploadSizeMB  int64    `json:"maxUploadSizeMb"`
}

// handleGetConfig returns public configuration settings for the frontend
func (ms *MusicServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ms.respondJSON(w, ConfigResponse{
		Player: PlayerConfigResponse{
			ProgressIntervalMs:    ms.config.Player.ProgressIntervalMs,
			SessionTimeoutSeconds: ms.config.Player.SessionTimeoutSeconds,
			DefaultVolume:         ms.config.Player.DefaultVolume,
		},
		Library: LibraryConfigResponse{
			SupportedFormats: ms.config.Library.SupportedFormats,
			AllowUploads:     ms.config.Library.AllowUploads,
			MaxUploadSizeMB:  ms.config.Library.MaxUploadSizeMB,
		},
	})
}
