package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"layerdeck/internal/engine"
	"layerdeck/internal/layersync"
	"layerdeck/internal/player"
	"layerdeck/internal/playlist"
	"layerdeck/internal/scheduler"
	"layerdeck/internal/telemetry"
	"layerdeck/internal/transport"
	"layerdeck/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned for unknown or expired session ids
	ErrNotFound = errors.New("session not found")
	// ErrClosed is returned once the manager has shut down
	ErrClosed = errors.New("session manager closed")
)

// Runner is a scheduler that callers on other goroutines can wait on.
// scheduler.Loop satisfies it.
type Runner interface {
	scheduler.Scheduler
	Do(fn func()) bool
}

// Config configures the players created for each session
type Config struct {
	Runner           Runner
	Factory          engine.Factory
	ProgressInterval time.Duration
	DefaultVolume    float64
	Timeout          time.Duration
	Logger           *logrus.Entry
}

// Session is one mounted player page. Its players live on the manager's
// scheduler and must only be touched from functions passed to Manager.Do.
type Session struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"userAgent"`
	IPAddress string    `json:"ipAddress"`
	CreatedAt time.Time `json:"createdAt"`

	lastActivity time.Time

	cfg    *Config
	logger *logrus.Entry
	player *playlist.Player
	layer  *layersync.Controller
	state  *player.StateManager

	unobserveLayer func()
}

// Player returns the session's playlist player
func (s *Session) Player() *playlist.Player {
	return s.player
}

// Layer returns the open layer sync, if any
func (s *Session) Layer() *layersync.Controller {
	return s.layer
}

// State returns the observable state of the session (safe from any goroutine)
func (s *Session) State() *player.StateManager {
	return s.state
}

func (s *Session) newTransport(name string) *transport.Controller {
	t := transport.New(transport.Config{
		Name:             name,
		Scheduler:        s.cfg.Runner,
		Factory:          s.cfg.Factory,
		ProgressInterval: s.cfg.ProgressInterval,
		Volume:           s.cfg.DefaultVolume,
		Logger:           s.logger,
	})
	t.Observe(func(ev transport.Event) {
		if ev.Kind != transport.EventError {
			return
		}
		tags := map[string]string{"session_id": s.ID, "transport": name}
		if track, ok := t.Track(); ok {
			tags["track_id"] = track.ID
		}
		telemetry.ReportError(context.Background(), ev.Err, tags)
	})
	return t
}

// OpenLayer pairs a layer clip with a main track. With followPlaylist the
// main side is the playlist's own transport, which the sync borrows;
// otherwise mainTrack is loaded on a dedicated transport.
func (s *Session) OpenLayer(mainTrack, layerTrack models.Track, followPlaylist bool) {
	s.CloseLayer()

	layer := s.newTransport("layer")
	layer.Bind(layerTrack)

	var sync *layersync.Controller
	if followPlaylist {
		sync = layersync.New(s.player.Transport(), layer, layersync.WithBorrowedMain(), layersync.WithLogger(s.logger))
	} else {
		main := s.newTransport("layer-main")
		main.Bind(mainTrack)
		sync = layersync.New(main, layer, layersync.WithLogger(s.logger))
	}

	s.layer = sync
	s.unobserveLayer = sync.Observe(s.publish)
	s.logger.WithFields(logrus.Fields{
		"layer_id":        layerTrack.ID,
		"main_id":         mainTrack.ID,
		"follow_playlist": followPlaylist,
	}).Info("Layer opened")
	s.publish()
}

// CloseLayer disposes the layer sync
func (s *Session) CloseLayer() {
	if s.layer == nil {
		return
	}
	s.unobserveLayer()
	s.layer.Dispose()
	s.layer = nil
	s.unobserveLayer = nil
	s.publish()
}

// publish pushes the current snapshot to subscribers
func (s *Session) publish() {
	s.state.UpdatePlaylist(s.player.State())
	if s.layer != nil {
		st := s.layer.State()
		s.state.UpdateLayer(&st)
	} else {
		s.state.UpdateLayer(nil)
	}
}

func (s *Session) dispose() {
	if s.layer != nil {
		s.unobserveLayer()
		s.layer.Dispose()
		s.layer = nil
	}
	s.player.Dispose()
	s.state.Close()
}

// Manager manages player sessions
type Manager struct {
	cfg      Config
	logger   *logrus.Entry
	sessions map[string]*Session
	mutex    sync.RWMutex
	closed   bool
}

// NewManager creates a session manager
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger.WithField("module", "session"),
		sessions: make(map[string]*Session),
	}
}

// Create opens a new session with an empty playlist player
func (m *Manager) Create(userAgent, ipAddress string) (*Session, error) {
	now := time.Now()
	s := &Session{
		ID:           uuid.New().String(),
		UserAgent:    userAgent,
		IPAddress:    ipAddress,
		CreatedAt:    now,
		lastActivity: now,
		cfg:          &m.cfg,
	}
	s.logger = m.logger.WithField("session_id", s.ID)
	s.state = player.NewStateManager(s.ID)

	if !m.cfg.Runner.Do(func() {
		s.player = playlist.New(s.newTransport("main"), s.logger)
		s.player.Observe(s.publish)
		s.publish()
	}) {
		return nil, ErrClosed
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		m.cfg.Runner.Do(s.dispose)
		return nil, ErrClosed
	}
	m.sessions[s.ID] = s

	s.logger.WithFields(logrus.Fields{
		"user_agent": userAgent,
		"ip":         ipAddress,
	}).Info("Session created")
	return s, nil
}

// Get returns a session and marks it active
func (m *Manager) Get(id string) (*Session, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.lastActivity = time.Now()
	return s, nil
}

// Do runs fn against a session on the scheduler and waits for it
func (m *Manager) Do(id string, fn func(s *Session)) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if !m.cfg.Runner.Do(func() {
		if s.player.Transport().Disposed() {
			return
		}
		fn(s)
	}) {
		return ErrClosed
	}
	return nil
}

// Close disposes a session's players
func (m *Manager) Close(id string) error {
	m.mutex.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mutex.Unlock()

	if !ok {
		return ErrNotFound
	}
	m.cfg.Runner.Do(s.dispose)
	s.logger.Info("Session closed")
	return nil
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// Reap closes sessions idle since before now minus the timeout
func (m *Manager) Reap(now time.Time) int {
	cutoff := now.Add(-m.cfg.Timeout)

	m.mutex.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.lastActivity.Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mutex.Unlock()

	for _, s := range expired {
		m.cfg.Runner.Do(s.dispose)
		s.logger.Info("Session expired")
	}
	return len(expired)
}

// RunReaper reaps expired sessions periodically until ctx is done
func (m *Manager) RunReaper(ctx context.Context) {
	interval := m.cfg.Timeout / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Reap(now); n > 0 {
				m.logger.WithField("expired", n).Debug("Reaped idle sessions")
			}
		}
	}
}

// Shutdown disposes every session; the manager rejects new ones afterwards
func (m *Manager) Shutdown() {
	m.mutex.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mutex.Unlock()

	for _, s := range sessions {
		m.cfg.Runner.Do(s.dispose)
	}
	m.logger.WithField("sessions", len(sessions)).Info("Session manager shut down")
}
