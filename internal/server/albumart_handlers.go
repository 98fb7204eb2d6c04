package server

import (
	"net/http"
)

// handleArtwork serves embedded cover images cached during the library scan
func (ms *MusicServer) handleArtwork(w http.ResponseWriter, r *http.Request) {
	artID := r.PathValue("id")
	if artID == "" {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid artwork ID", nil)
		return
	}

	artData, exists := ms.extractor.GetArtwork(artID)
	if !exists {
		ms.respondWithError(w, r, http.StatusNotFound, "Artwork not found", nil)
		return
	}

	w.Header().Set("Content-Type", ms.extractor.GetArtworkMimeType(artData))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(artData)
}
