package metadata

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var supportedFormats = []string{".mp3", ".flac", ".wav", ".m4a"}

// writeWAV writes a silent mono 16-bit WAV of the given length.
func writeWAV(t *testing.T, path string, sampleRate int, seconds float64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, int(float64(sampleRate)*seconds)),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav encoder: %v", err)
	}
}

func TestIsAudioFile(t *testing.T) {
	extractor := NewExtractor(supportedFormats, nil)

	tests := []struct {
		filename string
		want     bool
	}{
		{"beat.mp3", true},
		{"beat.MP3", true},
		{"beat.flac", true},
		{"beat.wav", true},
		{"beat.m4a", true},
		{"beat.txt", false},
		{"cover.jpg", false},
		{"beat", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := extractor.IsAudioFile(tt.filename); got != tt.want {
			t.Errorf("IsAudioFile(%q) = %v, want %v", tt.filename, got, tt.want)
		}
	}
}

func TestGetContentType(t *testing.T) {
	extractor := NewExtractor(supportedFormats, nil)

	tests := []struct {
		filename string
		want     string
	}{
		{"beat.mp3", "audio/mpeg"},
		{"beat.FLAC", "audio/flac"},
		{"beat.wav", "audio/wav"},
		{"beat.M4A", "audio/mp4"},
		{"beat.unknown", "application/octet-stream"},
	}

	for _, tt := range tests {
		if got := extractor.GetContentType(tt.filename); got != tt.want {
			t.Errorf("GetContentType(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestGetArtworkMimeType(t *testing.T) {
	extractor := NewExtractor(supportedFormats, nil)

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"JPEG", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"PNG", []byte{0x89, 0x50, 0x4E, 0x47}, "image/png"},
		{"GIF", []byte{0x47, 0x49, 0x46, 0x38}, "image/gif"},
		{"Unknown", []byte{0x00, 0x00, 0x00, 0x00}, "application/octet-stream"},
		{"Too short", []byte{0xFF}, "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractor.GetArtworkMimeType(tt.data); got != tt.want {
				t.Errorf("GetArtworkMimeType() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, ok := extractor.GetArtwork("missing"); ok {
		t.Error("GetArtwork() found artwork that was never extracted")
	}
}

func TestDurationWAV(t *testing.T) {
	extractor := NewExtractor(supportedFormats, nil)
	path := filepath.Join(t.TempDir(), "loop.wav")
	writeWAV(t, path, 8000, 2.5)

	got, err := extractor.Duration(path)
	if err != nil {
		t.Fatalf("Duration() error: %v", err)
	}
	if math.Abs(got-2.5) > 0.01 {
		t.Errorf("Duration() = %v, want 2.5", got)
	}
}

func TestDurationUnsupported(t *testing.T) {
	extractor := NewExtractor(supportedFormats, nil)
	if _, err := extractor.Duration("notes.txt"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestProbe(t *testing.T) {
	extractor := NewExtractor(supportedFormats, nil)
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		if _, err := extractor.Probe(filepath.Join(dir, "missing.mp3")); err == nil {
			t.Error("expected error probing a missing file")
		}
	})

	t.Run("untagged wav falls back to filename", func(t *testing.T) {
		path := filepath.Join(dir, "Night Drive.wav")
		writeWAV(t, path, 8000, 1)

		info, err := extractor.Probe(path)
		if err != nil {
			t.Fatalf("Probe() error: %v", err)
		}
		if info.Title != "Night Drive" {
			t.Errorf("Title = %q, want filename", info.Title)
		}
		if info.Artist != "Unknown Artist" {
			t.Errorf("Artist = %q", info.Artist)
		}
		if math.Abs(info.Duration-1) > 0.01 {
			t.Errorf("Duration = %v, want 1", info.Duration)
		}
		if info.FileSize == 0 {
			t.Error("FileSize not set")
		}
	})

	t.Run("invalid audio still probes", func(t *testing.T) {
		path := filepath.Join(dir, "broken.wav")
		if err := os.WriteFile(path, []byte("this is not audio"), 0644); err != nil {
			t.Fatal(err)
		}
		info, err := extractor.Probe(path)
		if err != nil {
			t.Fatalf("Probe() error: %v", err)
		}
		if info.Duration != 0 {
			t.Errorf("Duration = %v, want 0 for unreadable audio", info.Duration)
		}
	})
}
