package engine

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"layerdeck/internal/scheduler"

	"github.com/sirupsen/logrus"
)

// Prober reports the duration of a local audio file in seconds.
type Prober interface {
	Duration(filePath string) (float64, error)
}

// HeadlessConfig configures engines created by NewHeadlessFactory.
type HeadlessConfig struct {
	Scheduler scheduler.Scheduler
	Prober    Prober
	// Resolve maps a source to a local file path, e.g. a library stream URL
	// to the file it serves. Sources it does not recognise fall through to
	// file, http(s) and plain path handling.
	Resolve func(source string) (string, bool)
	Client  *http.Client
	TempDir string
	Logger  *logrus.Entry
}

// NewHeadlessFactory returns a Factory producing Headless engines.
func NewHeadlessFactory(cfg HeadlessConfig) Factory {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return func(source string, events Events) (Engine, error) {
		if strings.TrimSpace(source) == "" {
			return nil, fmt.Errorf("empty audio source")
		}
		if cfg.Scheduler == nil || cfg.Prober == nil {
			return nil, fmt.Errorf("headless engine requires a scheduler and a prober")
		}
		return &Headless{
			cfg:    cfg,
			events: events,
			volume: 1,
			logger: cfg.Logger.WithFields(logrus.Fields{
				"module": "engine",
				"source": source,
			}),
		}, nil
	}
}

// Headless is an engine that models playback on a wall-clock timeline
// without producing audio: loading resolves the source and probes its
// duration, and an end-of-track timer raises ended. All methods must be
// called on the scheduler.
type Headless struct {
	cfg    HeadlessConfig
	events Events
	logger *logrus.Entry

	loaded     bool
	duration   float64
	playing    bool
	offset     float64
	startedAt  time.Time
	volume     float64
	endTimer   scheduler.Timer
	cancelLoad context.CancelFunc
	generation int
	destroyed  bool
}

// Load starts resolving and probing the source off the scheduler thread.
func (h *Headless) Load(source string) {
	if h.destroyed {
		h.events.fail(ErrDestroyed)
		return
	}
	if h.cancelLoad != nil {
		h.cancelLoad()
	}
	h.resetTimeline()
	h.loaded = false

	ctx, cancel := context.WithCancel(context.Background())
	h.cancelLoad = cancel
	h.generation++
	generation := h.generation

	go func() {
		duration, err := h.probe(ctx, source)
		h.cfg.Scheduler.Post(func() {
			if h.destroyed || generation != h.generation {
				return
			}
			h.cancelLoad = nil
			if err == nil && !(duration > 0) {
				err = ErrNoDuration
			}
			if err != nil {
				h.logger.WithError(err).Warn("Failed to load audio source")
				h.events.fail(err)
				return
			}
			h.duration = duration
			h.loaded = true
			h.logger.WithField("duration", duration).Debug("Audio source ready")
			h.events.ready()
		})
	}()
}

// probe resolves source to a local file and measures it.
func (h *Headless) probe(ctx context.Context, source string) (float64, error) {
	if h.cfg.Resolve != nil {
		if local, ok := h.cfg.Resolve(source); ok {
			return h.cfg.Prober.Duration(local)
		}
	}

	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return h.cfg.Prober.Duration(source)
	}

	switch u.Scheme {
	case "file":
		return h.cfg.Prober.Duration(u.Path)
	case "http", "https":
		local, err := h.download(ctx, u)
		if err != nil {
			return 0, err
		}
		defer os.Remove(local)
		return h.cfg.Prober.Duration(local)
	default:
		return 0, fmt.Errorf("unsupported source scheme: %s", u.Scheme)
	}
}

// download fetches a remote source into a temp file keeping its extension,
// since probing is extension driven.
func (h *Headless) download(ctx context.Context, u *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := h.cfg.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch audio source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch audio source: %s", resp.Status)
	}

	ext := path.Ext(u.Path)
	if ext == "" {
		ext = extensionForContentType(resp.Header.Get("Content-Type"))
	}

	file, err := os.CreateTemp(h.cfg.TempDir, "layerdeck-*"+ext)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to download audio source: %w", err)
	}
	return filepath.Clean(file.Name()), nil
}

func extensionForContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mp4", "audio/x-m4a":
		return ".m4a"
	}
	return ""
}

func (h *Headless) Play() {
	if h.destroyed || !h.loaded || h.playing {
		return
	}
	if h.offset >= h.duration {
		h.offset = 0
	}
	h.playing = true
	h.startedAt = h.cfg.Scheduler.Now()
	h.armEnd()
}

func (h *Headless) Pause() {
	if !h.playing {
		return
	}
	h.offset = h.position()
	h.playing = false
	h.disarmEnd()
}

func (h *Headless) Stop() {
	h.Pause()
	h.offset = 0
}

func (h *Headless) Seek(seconds float64) {
	if h.destroyed || !h.loaded {
		return
	}
	h.offset = clamp(seconds, 0, h.duration)
	if h.playing {
		h.startedAt = h.cfg.Scheduler.Now()
		h.disarmEnd()
		h.armEnd()
	}
}

func (h *Headless) SetVolume(v float64) {
	h.volume = clamp(v, 0, 1)
}

// Volume reports the last applied volume.
func (h *Headless) Volume() float64 {
	return h.volume
}

func (h *Headless) IsPlaying() bool {
	return h.playing
}

func (h *Headless) CurrentTime() float64 {
	return h.position()
}

func (h *Headless) Duration() (float64, bool) {
	return h.duration, h.loaded
}

func (h *Headless) Destroy() {
	if h.destroyed {
		return
	}
	h.destroyed = true
	if h.cancelLoad != nil {
		h.cancelLoad()
		h.cancelLoad = nil
	}
	h.resetTimeline()
}

func (h *Headless) position() float64 {
	if !h.playing {
		return h.offset
	}
	elapsed := h.cfg.Scheduler.Now().Sub(h.startedAt).Seconds()
	return clamp(h.offset+elapsed, 0, h.duration)
}

func (h *Headless) armEnd() {
	remaining := time.Duration((h.duration - h.offset) * float64(time.Second))
	h.endTimer = h.cfg.Scheduler.After(remaining, h.finish)
}

func (h *Headless) disarmEnd() {
	if h.endTimer != nil {
		h.endTimer.Stop()
		h.endTimer = nil
	}
}

func (h *Headless) finish() {
	h.endTimer = nil
	if h.destroyed || !h.playing {
		return
	}
	h.offset = h.duration
	h.playing = false
	h.events.ended()
}

func (h *Headless) resetTimeline() {
	h.disarmEnd()
	h.playing = false
	h.offset = 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
