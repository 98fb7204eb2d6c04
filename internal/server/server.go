package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"layerdeck/internal/cache"
	"layerdeck/internal/config"
	"layerdeck/internal/database"
	"layerdeck/internal/metadata"
	"layerdeck/internal/ngrok"
	"layerdeck/internal/session"
	"layerdeck/internal/telemetry"
	"layerdeck/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// layersDir is the library subdirectory holding layer clips, one folder per
// parent sound named after the sound's file stem
const layersDir = "layers"

// MusicServer serves the catalog, media streams and player sessions
type MusicServer struct {
	db           *database.Database
	config       *config.Config
	logger       *logrus.Entry
	watcher      *fsnotify.Watcher
	extractor    *metadata.Extractor
	tracks       *cache.TrackCache
	sessions     *session.Manager
	ngrokService *ngrok.Service
	limiter      *ipRateLimiter
	httpServer   *http.Server
	startedAt    time.Time
}

// NewMusicServer creates a new server instance
func NewMusicServer(cfg *config.Config, db *database.Database, extractor *metadata.Extractor, sessions *session.Manager, logger *logrus.Logger) (*MusicServer, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithField("module", "server")

	ngrokSvc, err := ngrok.NewService(&cfg.Ngrok, entry)
	if err != nil {
		entry.WithError(err).Warn("Ngrok service not available")
		ngrokSvc = nil
	}

	ms := &MusicServer{
		db:           db,
		config:       cfg,
		logger:       entry,
		extractor:    extractor,
		tracks:       cache.NewTrackCache(10 * time.Minute),
		sessions:     sessions,
		ngrokService: ngrokSvc,
		startedAt:    time.Now(),
	}
	if cfg.RateLimit.Enabled {
		ms.limiter = newIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	return ms, nil
}

// ScanLibrary walks the library and upserts sounds, then layers
func (ms *MusicServer) ScanLibrary() error {
	if !ms.config.Library.ScanOnStartup {
		ms.logger.Info("Skipping library scan (disabled in config)")
		return nil
	}

	root := ms.config.Library.Path
	ms.logger.WithField("library_path", root).Info("Scanning library")

	var sounds, layers []string
	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !ms.extractor.IsAudioFile(path) {
			return nil
		}
		if _, ok := ms.layerParent(path); ok {
			layers = append(layers, path)
		} else {
			sounds = append(sounds, path)
		}
		return nil
	})

	// Layers reference their sound by slug, so sounds go first
	soundCount := ms.runScanJobs(sounds, ms.addSound)
	layerCount := ms.runScanJobs(layers, ms.addLayer)
	ms.tracks.Clear()

	ms.logger.WithFields(logrus.Fields{
		"sounds": soundCount,
		"layers": layerCount,
	}).Info("Library scan complete")
	return walkErr
}

func (ms *MusicServer) runScanJobs(paths []string, add func(string) (string, error)) int64 {
	var wg sync.WaitGroup
	var count int64
	jobs := make(chan string, 100)

	for i := 0; i < runtime.NumCPU(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if _, err := add(path); err != nil {
					ms.logger.WithError(err).WithField("file_path", path).Error("Error adding media")
					continue
				}
				atomic.AddInt64(&count, 1)
			}
		}()
	}

	for _, path := range paths {
		jobs <- path
	}
	close(jobs)
	wg.Wait()
	return count
}

// layerParent returns the parent sound slug when path lies in the layers tree
func (ms *MusicServer) layerParent(path string) (string, bool) {
	rel, err := filepath.Rel(ms.config.Library.Path, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 || parts[0] != layersDir {
		return "", false
	}
	return parts[1], true
}

func slugFor(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func (ms *MusicServer) addSound(path string) (string, error) {
	info, err := ms.extractor.Probe(path)
	if err != nil {
		return "", err
	}
	id, err := ms.db.UpsertSound(models.Sound{
		Name:      info.Title,
		OwnerName: info.Artist,
		Genre:     info.Genre,
		FilePath:  path,
		Duration:  info.Duration,
		FileSize:  info.FileSize,
		ArtworkID: info.ArtworkID,
		Slug:      slugFor(path),
	})
	if err != nil {
		return "", err
	}
	ms.logger.WithFields(logrus.Fields{
		"id":    id,
		"name":  info.Title,
		"owner": info.Artist,
	}).Debug("Added sound")
	return id, nil
}

func (ms *MusicServer) addLayer(path string) (string, error) {
	slug, _ := ms.layerParent(path)
	soundID, err := ms.db.SoundIDBySlug(slug)
	if err != nil {
		return "", fmt.Errorf("no sound for layer folder %q: %w", slug, err)
	}
	info, err := ms.extractor.Probe(path)
	if err != nil {
		return "", err
	}
	id, err := ms.db.UpsertLayer(models.Layer{
		SoundID:   soundID,
		Name:      info.Title,
		OwnerName: info.Artist,
		FilePath:  path,
		Duration:  info.Duration,
		FileSize:  info.FileSize,
	})
	if err != nil {
		return "", err
	}
	ms.tracks.Delete(cache.LayersKey(soundID))
	ms.logger.WithFields(logrus.Fields{
		"id":       id,
		"sound_id": soundID,
		"name":     info.Title,
	}).Debug("Added layer")
	return id, nil
}

// Handler builds the routed handler wrapped in middleware
func (ms *MusicServer) Handler() http.Handler {
	mux := http.NewServeMux()
	ms.setupRoutes(mux)

	var h http.Handler = mux
	h = ms.rateLimitMiddleware(h)
	h = ms.corsMiddleware(h)
	h = telemetry.Middleware(h)
	h = ms.requestLoggingMiddleware(h)
	h = ms.panicRecoveryMiddleware(h)
	return h
}

func (ms *MusicServer) setupRoutes(mux *http.ServeMux) {
	if ms.config.Server.StaticDir != "" {
		mux.HandleFunc("GET /{$}", ms.handleHome)
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(ms.config.Server.StaticDir))))
	}
	mux.HandleFunc("GET /health", ms.handleHealthCheck)
	mux.HandleFunc("GET /api/config", ms.handleGetConfig)

	// Catalog
	mux.HandleFunc("GET /api/sounds", ms.handleGetSounds)
	mux.HandleFunc("GET /api/sounds/{id}", ms.handleGetSound)
	mux.HandleFunc("GET /api/sounds/{id}/layers", ms.handleGetSoundLayers)
	mux.HandleFunc("POST /api/sounds", ms.handleUploadSound)
	mux.HandleFunc("POST /api/sounds/{id}/layers", ms.handleUploadLayer)
	mux.HandleFunc("GET /stream/{id}", ms.handleStream)
	mux.HandleFunc("GET /artwork/{id}", ms.handleArtwork)

	// Playlists
	mux.HandleFunc("GET /api/playlists", ms.handleGetPlaylists)
	mux.HandleFunc("POST /api/playlists", ms.handleCreatePlaylist)
	mux.HandleFunc("GET /api/playlists/{id}/tracks", ms.handleGetPlaylistTracks)
	mux.HandleFunc("DELETE /api/playlists/{id}", ms.handleDeletePlaylist)
	mux.HandleFunc("POST /api/playlists/{id}/tracks", ms.handleAddTrackToPlaylist)
	mux.HandleFunc("DELETE /api/playlists/{id}/tracks/{soundId}", ms.handleRemoveTrackFromPlaylist)

	// Sessions
	mux.HandleFunc("POST /api/sessions", ms.handleCreateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", ms.handleCloseSession)
	mux.HandleFunc("GET /api/sessions/{id}/state", ms.handleGetSessionState)
	mux.HandleFunc("GET /api/sessions/{id}/events", ms.handleSessionEvents)

	// Playlist player
	mux.HandleFunc("POST /api/sessions/{id}/playlist", ms.handleLoadPlaylist)
	mux.HandleFunc("POST /api/sessions/{id}/play/{index}", ms.handlePlayIndex)
	mux.HandleFunc("POST /api/sessions/{id}/next", ms.handleNext)
	mux.HandleFunc("POST /api/sessions/{id}/previous", ms.handlePrevious)
	mux.HandleFunc("POST /api/sessions/{id}/seek", ms.handleSeek)
	mux.HandleFunc("POST /api/sessions/{id}/volume", ms.handleVolume)
	mux.HandleFunc("POST /api/sessions/{id}/mute", ms.handleMute)

	// Layer sync
	mux.HandleFunc("POST /api/sessions/{id}/layer", ms.handleOpenLayer)
	mux.HandleFunc("DELETE /api/sessions/{id}/layer", ms.handleCloseLayer)
	mux.HandleFunc("POST /api/sessions/{id}/layer/play-both", ms.handleLayerCommand(layerPlayBoth))
	mux.HandleFunc("POST /api/sessions/{id}/layer/stop-both", ms.handleLayerCommand(layerStopBoth))
	mux.HandleFunc("POST /api/sessions/{id}/layer/main/play", ms.handleLayerCommand(layerPlayMain))
	mux.HandleFunc("POST /api/sessions/{id}/layer/main/pause", ms.handleLayerCommand(layerPauseMain))
	mux.HandleFunc("POST /api/sessions/{id}/layer/clip/play", ms.handleLayerCommand(layerPlayClip))
	mux.HandleFunc("POST /api/sessions/{id}/layer/clip/pause", ms.handleLayerCommand(layerPauseClip))
}

// Start runs the HTTP server until ctx is cancelled
func (ms *MusicServer) Start(ctx context.Context) error {
	if ms.config.Library.WatchForChanges {
		if err := ms.startFileWatcher(); err != nil {
			ms.logger.WithError(err).Warn("Could not start file watcher")
		} else {
			defer ms.stopFileWatcher()
		}
	}

	go ms.sessions.RunReaper(ctx)

	sounds, err := ms.db.GetAllSounds()
	soundCount := 0
	if err == nil {
		soundCount = len(sounds)
	}

	localAddress := fmt.Sprintf("http://%s", ms.config.GetAddress())
	ms.logger.WithFields(logrus.Fields{
		"address": localAddress,
		"sounds":  soundCount,
	}).Info("layerdeck server starting")

	if ms.ngrokService != nil {
		if err := ms.ngrokService.StartTunnel(ctx, localAddress); err != nil {
			ms.logger.WithError(err).Warn("Could not start ngrok tunnel")
		} else {
			defer ms.ngrokService.Stop()
		}
	}

	ms.httpServer = &http.Server{
		Addr:        ms.config.GetAddress(),
		Handler:     ms.Handler(),
		ReadTimeout: time.Duration(ms.config.Server.ReadTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- ms.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ms.httpServer.Shutdown(shutdownCtx)
	}
}

// Shutdown closes sessions and background resources
func (ms *MusicServer) Shutdown() {
	ms.logger.Info("Shutting down server...")

	ms.stopFileWatcher()
	ms.sessions.Shutdown()
	ms.tracks.Close()

	ms.logger.Info("Server shutdown complete")
}
