package server

import (
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// respondWithValidationError sends a structured validation error response
func (ms *MusicServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errors []ValidationError) {
	ms.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errors,
	}).Warn("Validation failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	ms.respondJSON(w, ValidationResult{
		Valid:  false,
		Errors: errors,
	})
}

// respondWithError sends a structured error response
func (ms *MusicServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := ms.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Debug("Client error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	ms.respondJSON(w, map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	})
}

// validateMediaID checks a sound, layer or session id is a UUID
func validateMediaID(id string) (string, *ValidationError) {
	if id == "" {
		return "", &ValidationError{
			Field:   "id",
			Message: "ID is required",
			Code:    "MISSING_ID",
		}
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", &ValidationError{
			Field:   "id",
			Message: "ID must be a valid UUID",
			Code:    "INVALID_ID_FORMAT",
		}
	}
	return parsed.String(), nil
}

// validatePlaylistID parses a positive integer playlist id
func validatePlaylistID(raw string) (int, *ValidationError) {
	if raw == "" {
		return 0, &ValidationError{
			Field:   "playlist_id",
			Message: "Playlist ID is required",
			Code:    "MISSING_PLAYLIST_ID",
		}
	}

	playlistID, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{
			Field:   "playlist_id",
			Message: "Playlist ID must be a valid integer",
			Code:    "INVALID_PLAYLIST_ID_FORMAT",
		}
	}

	if playlistID <= 0 {
		return 0, &ValidationError{
			Field:   "playlist_id",
			Message: "Playlist ID must be positive",
			Code:    "INVALID_PLAYLIST_ID_VALUE",
		}
	}

	return playlistID, nil
}

// validateIndex parses a non-negative track index from the path
func validateIndex(raw string) (int, *ValidationError) {
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{
			Field:   "index",
			Message: "Index must be a valid integer",
			Code:    "INVALID_INDEX_FORMAT",
		}
	}
	if index < 0 {
		return 0, &ValidationError{
			Field:   "index",
			Message: "Index must not be negative",
			Code:    "INVALID_INDEX_VALUE",
		}
	}
	return index, nil
}

// validateVolume requires a level within [0, 1]
func validateVolume(v float64) *ValidationError {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return &ValidationError{
			Field:   "volume",
			Message: "Volume must be between 0 and 1",
			Code:    "INVALID_VOLUME",
		}
	}
	return nil
}

// validateSeek requires a finite, non-negative position
func validateSeek(seconds float64) *ValidationError {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return &ValidationError{
			Field:   "seconds",
			Message: "Seek position must be a non-negative number",
			Code:    "INVALID_SEEK_POSITION",
		}
	}
	return nil
}

// validateFilePath ensures file path is within the configured library directory
func (ms *MusicServer) validateFilePath(filePath string) *ValidationError {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return &ValidationError{
			Field:   "file_path",
			Message: "Invalid file path",
			Code:    "INVALID_FILE_PATH",
		}
	}

	absLibraryDir, err := filepath.Abs(ms.config.Library.Path)
	if err != nil {
		return &ValidationError{
			Field:   "file_path",
			Message: "Server configuration error",
			Code:    "CONFIG_ERROR",
		}
	}

	relPath, err := filepath.Rel(absLibraryDir, absPath)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return &ValidationError{
			Field:   "file_path",
			Message: "File path outside allowed directory",
			Code:    "PATH_TRAVERSAL_DENIED",
		}
	}

	return nil
}

// validatePlaylistName validates playlist name
func validatePlaylistName(name string) *ValidationError {
	if name == "" {
		return &ValidationError{
			Field:   "name",
			Message: "Playlist name is required",
			Code:    "MISSING_PLAYLIST_NAME",
		}
	}

	if len(name) > 255 {
		return &ValidationError{
			Field:   "name",
			Message: "Playlist name too long (max 255 characters)",
			Code:    "PLAYLIST_NAME_TOO_LONG",
		}
	}

	if strings.ContainsAny(name, "\x00\n\r") {
		return &ValidationError{
			Field:   "name",
			Message: "Playlist name contains invalid characters",
			Code:    "INVALID_PLAYLIST_NAME_CHARACTERS",
		}
	}

	return nil
}

// validatePlaylistDescription validates playlist description
func validatePlaylistDescription(description string) *ValidationError {
	if len(description) > 1000 {
		return &ValidationError{
			Field:   "description",
			Message: "Playlist description too long (max 1000 characters)",
			Code:    "PLAYLIST_DESCRIPTION_TOO_LONG",
		}
	}

	return nil
}

// validateContentType rejects files the extractor cannot serve
func (ms *MusicServer) validateContentType(filePath string) *ValidationError {
	if !ms.extractor.IsAudioFile(filePath) {
		return &ValidationError{
			Field:   "file_type",
			Message: fmt.Sprintf("Unsupported file type: %s", strings.ToLower(filepath.Ext(filePath))),
			Code:    "UNSUPPORTED_FILE_TYPE",
		}
	}

	return nil
}

// sanitizeInput strips null bytes and surrounding whitespace
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
