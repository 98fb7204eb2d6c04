package server

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
)

const (
	// Buffer size for streaming (64KB)
	streamBufferSize = 64 * 1024
)

// streamFile serves an audio file with caching headers and single-range support
func (ms *MusicServer) streamFile(w http.ResponseWriter, r *http.Request, filePath string, contentType string) error {
	file, err := os.Open(filePath)
	if err != nil {
		http.Error(w, "Error opening audio file", http.StatusInternalServerError)
		return fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		http.Error(w, "Error reading file info", http.StatusInternalServerError)
		return fmt.Errorf("error reading file info: %w", err)
	}
	fileSize := stat.Size()

	etag := fmt.Sprintf(`"%d-%d"`, stat.ModTime().Unix(), fileSize)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		return ms.handleRangeRequest(w, file, fileSize, rangeHeader)
	}

	w.Header().Set("Content-Length", strconv.FormatInt(fileSize, 10))
	if r.Method == http.MethodHead {
		return nil
	}

	bufferedReader := bufio.NewReaderSize(file, streamBufferSize)
	buffer := make([]byte, streamBufferSize)
	if _, err := io.CopyBuffer(w, bufferedReader, buffer); err != nil {
		return fmt.Errorf("error streaming file: %w", err)
	}
	return nil
}

// parseRange parses a single "bytes=start-end" range, including the suffix
// form "bytes=-n"
func parseRange(rangeHeader string, fileSize int64) (start, end int64, ok bool) {
	byteRange, found := strings.CutPrefix(rangeHeader, "bytes=")
	if !found || strings.Contains(byteRange, ",") {
		return 0, 0, false
	}
	startStr, endStr, found := strings.Cut(byteRange, "-")
	if !found {
		return 0, 0, false
	}

	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > fileSize {
			n = fileSize
		}
		return fileSize - n, fileSize - 1, fileSize > 0
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end = fileSize - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		if end >= fileSize {
			end = fileSize - 1
		}
	}

	if start < 0 || start > end || start >= fileSize {
		return 0, 0, false
	}
	return start, end, true
}

// handleRangeRequest serves one byte range for seeking
func (ms *MusicServer) handleRangeRequest(w http.ResponseWriter, file *os.File, fileSize int64, rangeHeader string) error {
	start, end, ok := parseRange(rangeHeader, fileSize)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", fileSize))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	contentLength := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, fileSize))
	w.Header().Set("Content-Length", strconv.FormatInt(contentLength, 10))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return err
	}
	_, err := io.CopyN(w, file, contentLength)
	return err
}
