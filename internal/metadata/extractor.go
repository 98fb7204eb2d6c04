package metadata

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
)

// Info is what a probe learns about an audio file
type Info struct {
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Genre      string  `json:"genre,omitempty"`
	Duration   float64 `json:"duration"` // in seconds
	FilePath   string  `json:"-"`
	FileSize   int64   `json:"fileSize"`
	HasArtwork bool    `json:"hasArtwork"`
	ArtworkID  string  `json:"artworkId,omitempty"`
}

// Extractor handles metadata and duration probing of audio files
type Extractor struct {
	supportedFormats []string
	logger           *logrus.Entry
	artworkCache     map[string][]byte
	artworkMux       sync.RWMutex
}

// NewExtractor creates a new metadata extractor
func NewExtractor(supportedFormats []string, logger *logrus.Entry) *Extractor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Extractor{
		supportedFormats: supportedFormats,
		logger:           logger.WithField("module", "metadata"),
		artworkCache:     make(map[string][]byte),
	}
}

// Probe extracts tags and duration from an audio file
func (e *Extractor) Probe(filePath string) (Info, error) {
	startTime := time.Now()

	file, err := os.Open(filePath)
	if err != nil {
		e.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open audio file")
		return Info{}, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return Info{}, err
	}

	duration, err := e.Duration(filePath)
	if err != nil {
		e.logger.WithError(err).WithField("file_path", filePath).Warn("Failed to calculate duration, setting to 0")
		duration = 0
	}

	fallbackTitle := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		e.logger.WithError(err).WithField("file_path", filePath).Debug("No tags found, using filename")
		return Info{
			Title:    fallbackTitle,
			Artist:   "Unknown Artist",
			Duration: duration,
			FilePath: filePath,
			FileSize: stat.Size(),
		}, nil
	}

	title := metadata.Title()
	if title == "" {
		title = fallbackTitle
	}
	artist := metadata.Artist()
	if artist == "" {
		artist = "Unknown Artist"
	}

	artworkID, hasArtwork := e.extractArtwork(metadata)

	e.logger.WithFields(logrus.Fields{
		"file_path":       filePath,
		"title":           title,
		"artist":          artist,
		"duration":        duration,
		"has_artwork":     hasArtwork,
		"processing_time": time.Since(startTime),
	}).Debug("Successfully extracted metadata")

	return Info{
		Title:      title,
		Artist:     artist,
		Genre:      metadata.Genre(),
		Duration:   duration,
		FilePath:   filePath,
		FileSize:   stat.Size(),
		HasArtwork: hasArtwork,
		ArtworkID:  artworkID,
	}, nil
}

// Duration calculates the duration of an audio file in seconds
func (e *Extractor) Duration(filePath string) (float64, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp3":
		return e.durationMP3(filePath)
	case ".flac":
		return e.durationFLAC(filePath)
	case ".wav":
		return e.durationWAV(filePath)
	case ".m4a":
		return e.durationM4A(filePath)
	default:
		return 0, fmt.Errorf("unsupported format: %q", ext)
	}
}

// MP3 duration by summing decoded frames; falls back to a bitrate estimate
// only when no frame decodes at all.
func (e *Extractor) durationMP3(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 {
				return e.estimateFromFileSize(path, 192000)
			}
			break
		}
		total += fr.Duration()
		frames++
	}
	return total.Seconds(), nil
}

// FLAC duration via STREAMINFO
func (e *Extractor) durationFLAC(path string) (float64, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	si := stream.Info
	if si.NSamples > 0 && si.SampleRate > 0 {
		return float64(si.NSamples) / float64(si.SampleRate), nil
	}
	return 0, fmt.Errorf("flac stream missing sample info")
}

// WAV duration from the PCM chunk size reported by the header
func (e *Extractor) durationWAV(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("invalid wav header: %w", err)
	}
	return d.Seconds(), nil
}

// M4A duration from the mvhd atom's timescale and duration.
func (e *Extractor) durationM4A(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	for {
		head := make([]byte, 8)
		if _, err := io.ReadFull(f, head); err != nil {
			return 0, err
		}
		size := binary.BigEndian.Uint32(head[0:4])
		if size < 8 {
			return 0, fmt.Errorf("invalid atom size")
		}
		if string(head[4:8]) != "moov" {
			if _, err := f.Seek(int64(size)-8, io.SeekCurrent); err != nil {
				return 0, err
			}
			continue
		}

		limit := int64(size) - 8
		for read := int64(0); read < limit; {
			subHead := make([]byte, 8)
			if _, err := io.ReadFull(f, subHead); err != nil {
				return 0, err
			}
			subSize := binary.BigEndian.Uint32(subHead[0:4])
			if string(subHead[4:8]) == "mvhd" {
				return readMVHD(f)
			}
			if subSize < 8 {
				return 0, fmt.Errorf("invalid sub-atom size")
			}
			if _, err := f.Seek(int64(subSize)-8, io.SeekCurrent); err != nil {
				return 0, err
			}
			read += int64(subSize)
		}
		return 0, fmt.Errorf("mvhd atom not found")
	}
}

func readMVHD(r io.ReadSeeker) (float64, error) {
	version := make([]byte, 1)
	if _, err := io.ReadFull(r, version); err != nil {
		return 0, err
	}

	// flags, then creation and modification times
	skip := int64(3 + 4 + 4)
	if version[0] == 1 {
		skip = 3 + 8 + 8
	}
	if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
		return 0, err
	}

	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	timescale := binary.BigEndian.Uint32(buf)
	if timescale == 0 {
		return 0, fmt.Errorf("invalid timescale")
	}

	var units uint64
	if version[0] == 1 {
		buf = make([]byte, 8)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		units = binary.BigEndian.Uint64(buf)
	} else {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		units = uint64(binary.BigEndian.Uint32(buf))
	}
	return float64(units) / float64(timescale), nil
}

// estimateFromFileSize is the last resort when parsing fails.
func (e *Extractor) estimateFromFileSize(path string, bitrate int) (float64, error) {
	if bitrate <= 0 {
		return 0, fmt.Errorf("invalid bitrate")
	}
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return float64(st.Size()*8) / float64(bitrate), nil
}

// extractArtwork caches embedded cover art keyed by content hash
func (e *Extractor) extractArtwork(metadata tag.Metadata) (string, bool) {
	if metadata == nil {
		return "", false
	}
	picture := metadata.Picture()
	if picture == nil {
		return "", false
	}

	hash := md5.Sum(picture.Data)
	artID := fmt.Sprintf("%x", hash)

	e.artworkMux.Lock()
	e.artworkCache[artID] = picture.Data
	e.artworkMux.Unlock()

	return artID, true
}

// GetArtwork retrieves cached artwork by ID
func (e *Extractor) GetArtwork(artID string) ([]byte, bool) {
	e.artworkMux.RLock()
	defer e.artworkMux.RUnlock()
	data, exists := e.artworkCache[artID]
	return data, exists
}

// GetArtworkMimeType guesses MIME type from image data
func (e *Extractor) GetArtworkMimeType(data []byte) string {
	if len(data) < 4 {
		return "application/octet-stream"
	}
	if data[0] == 0xFF && data[1] == 0xD8 {
		return "image/jpeg"
	}
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 {
		return "image/gif"
	}
	return "application/octet-stream"
}

// IsAudioFile checks if a file is a supported audio format
func (e *Extractor) IsAudioFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, format := range e.supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// GetContentType returns the MIME type for an audio file
func (e *Extractor) GetContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
