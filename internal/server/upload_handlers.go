package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"layerdeck/internal/database"

	"github.com/sirupsen/logrus"
)

// handleUploadSound stores an uploaded beat in the library root
func (ms *MusicServer) handleUploadSound(w http.ResponseWriter, r *http.Request) {
	ms.handleUpload(w, r, ms.config.Library.Path, "", ms.addSound)
}

// handleUploadLayer stores a clip under the parent sound's layer folder
func (ms *MusicServer) handleUploadLayer(w http.ResponseWriter, r *http.Request) {
	soundID, verr := validateMediaID(r.PathValue("id"))
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	sound, err := ms.db.GetSoundByID(soundID)
	if errors.Is(err, database.ErrNotFound) {
		ms.respondWithError(w, r, http.StatusNotFound, "Sound not found", nil)
		return
	}
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving sound", err)
		return
	}

	dir := filepath.Join(ms.config.Library.Path, layersDir, slugFor(sound.FilePath))
	ms.handleUpload(w, r, dir, soundID, ms.addLayer)
}

// handleUpload saves the multipart "file" field into dir and registers it
func (ms *MusicServer) handleUpload(w http.ResponseWriter, r *http.Request, dir, soundID string, register func(path string) (string, error)) {
	if !ms.config.Library.AllowUploads {
		ms.respondWithError(w, r, http.StatusForbidden, "File uploads are disabled", nil)
		return
	}

	maxSize := ms.config.Library.MaxUploadSizeMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Failed to parse upload form", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "No file provided", err)
		return
	}
	defer file.Close()

	if !ms.extractor.IsAudioFile(header.Filename) {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid file type. Supported formats: "+strings.Join(ms.config.Library.SupportedFormats, ", "), nil)
		return
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to create library folder", err)
		return
	}

	destPath := uniquePath(dir, sanitizeFilename(header.Filename))
	destFile, err := os.Create(destPath)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to create destination file", err)
		return
	}
	if _, err := io.Copy(destFile, file); err != nil {
		destFile.Close()
		os.Remove(destPath)
		ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to save file", err)
		return
	}
	if err := destFile.Close(); err != nil {
		os.Remove(destPath)
		ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to save file", err)
		return
	}

	id, err := register(destPath)
	if err != nil {
		os.Remove(destPath)
		ms.respondWithError(w, r, http.StatusUnprocessableEntity, "Could not read uploaded audio", err)
		return
	}

	ms.logger.WithFields(logrus.Fields{
		"id":       id,
		"sound_id": soundID,
		"filename": filepath.Base(destPath),
	}).Info("Upload added to library")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	ms.respondJSON(w, map[string]interface{}{
		"success":  true,
		"id":       id,
		"filename": filepath.Base(destPath),
	})
}

// sanitizeFilename keeps only the base name of an uploaded file
func sanitizeFilename(name string) string {
	safe := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(sanitizeInput(name), "\\", "/")))
	if safe == "." || safe == "/" || strings.HasPrefix(safe, ".") {
		safe = "upload" + strings.ToLower(filepath.Ext(name))
	}
	return safe
}

// uniquePath appends _1, _2, ... until the name is free in dir
func uniquePath(dir, name string) string {
	destPath := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			return destPath
		}
		destPath = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
	}
}
