package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"layerdeck/internal/engine/enginetest"
	"layerdeck/internal/player"
	"layerdeck/internal/scheduler"
	"layerdeck/pkg/models"
)

// manualRunner runs Do inline on a manual scheduler.
type manualRunner struct {
	*scheduler.Manual
	mu     sync.Mutex
	closed bool
}

func (r *manualRunner) Do(fn func()) bool {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return false
	}
	fn()
	r.RunPending()
	return true
}

func newTestManager(t *testing.T, timeout time.Duration) (*Manager, *manualRunner, *enginetest.Factory) {
	t.Helper()
	runner := &manualRunner{Manual: scheduler.NewManual(time.Unix(0, 0))}
	factory := enginetest.NewFactory(runner.Now)
	m := NewManager(Config{
		Runner:           runner,
		Factory:          factory.New,
		ProgressInterval: time.Second,
		DefaultVolume:    0.8,
		Timeout:          timeout,
	})
	t.Cleanup(m.Shutdown)
	return m, runner, factory
}

func tracks(ids ...string) []models.Track {
	out := make([]models.Track, len(ids))
	for i, id := range ids {
		out[i] = models.Track{ID: id, SourceURL: "/stream/" + id, DisplayName: id}
	}
	return out
}

// drain counts buffered snapshots; the channel may have been closed for lagging
func drain(ch <-chan *player.Snapshot) int {
	n := 0
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return n
			}
			if s != nil {
				n++
			}
		default:
			return n
		}
	}
}

func TestCreateAndGet(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)

	s, err := m.Create("test-agent", "10.0.0.1")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if s.ID == "" || s.UserAgent != "test-agent" || s.IPAddress != "10.0.0.1" {
		t.Errorf("Create() = %+v", s)
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}

	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Errorf("Get() = %v, %v", got, err)
	}
	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	snap := s.State().GetState()
	if snap.SessionID != s.ID || snap.Playlist.Volume != 0.8 {
		t.Errorf("initial snapshot = %+v", snap)
	}
}

func TestPlaylistStatePublished(t *testing.T) {
	m, _, factory := newTestManager(t, time.Minute)
	s, _ := m.Create("ua", "ip")

	ch := s.State().Subscribe()
	defer s.State().Unsubscribe(ch)

	err := m.Do(s.ID, func(s *Session) {
		s.Player().LoadPlaylist(tracks("a", "b"))
		s.Player().PlayIndex(0)
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}

	m.Do(s.ID, func(*Session) { factory.Last().FireReady(30) })

	if drain(ch) == 0 {
		t.Fatal("no snapshots published")
	}
	last := s.State().GetState()
	if len(last.Playlist.Tracks) != 2 || !last.Playlist.IsPlaying || !last.Playlist.Ready {
		t.Errorf("last snapshot = %+v", last.Playlist)
	}
	if last.Playlist.DurationSeconds == nil || *last.Playlist.DurationSeconds != 30 {
		t.Errorf("duration = %v, want 30", last.Playlist.DurationSeconds)
	}
}

func TestLayerFollowingPlaylist(t *testing.T) {
	m, _, factory := newTestManager(t, time.Minute)
	s, _ := m.Create("ua", "ip")

	m.Do(s.ID, func(s *Session) {
		s.Player().LoadPlaylist(tracks("beat"))
	})
	mainEngine := factory.Last()

	clip := models.Track{ID: "clip", SourceURL: "/stream/clip"}
	m.Do(s.ID, func(s *Session) {
		s.OpenLayer(models.Track{}, clip, true)
	})
	layerEngine := factory.Last()

	m.Do(s.ID, func(s *Session) {
		mainEngine.FireReady(60)
		layerEngine.FireReady(10)
		s.Layer().PlayBoth()
	})

	snap := s.State().GetState()
	if snap.Layer == nil || !snap.Layer.JointlyPlaying {
		t.Fatalf("layer snapshot = %+v", snap.Layer)
	}

	m.Do(s.ID, func(s *Session) { s.CloseLayer() })

	if !layerEngine.Destroyed {
		t.Error("layer engine not destroyed on CloseLayer")
	}
	if mainEngine.Destroyed || !mainEngine.IsPlaying() {
		t.Error("borrowed playlist transport was disturbed by CloseLayer")
	}
	if s.State().GetState().Layer != nil {
		t.Error("layer state not cleared")
	}
}

func TestLayerWithOwnMain(t *testing.T) {
	m, _, factory := newTestManager(t, time.Minute)
	s, _ := m.Create("ua", "ip")

	main := models.Track{ID: "beat", SourceURL: "/stream/beat"}
	clip := models.Track{ID: "clip", SourceURL: "/stream/clip"}
	m.Do(s.ID, func(s *Session) { s.OpenLayer(main, clip, false) })

	if factory.Live() != 2 {
		t.Fatalf("Live() = %d, want 2 engines", factory.Live())
	}

	m.Do(s.ID, func(s *Session) { s.OpenLayer(main, clip, false) })
	if factory.Live() != 2 {
		t.Errorf("reopening left %d live engines, want 2", factory.Live())
	}

	if err := m.Close(s.ID); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if factory.Live() != 0 {
		t.Errorf("Close() left %d live engines", factory.Live())
	}
}

func TestCloseSession(t *testing.T) {
	m, _, factory := newTestManager(t, time.Minute)
	s, _ := m.Create("ua", "ip")
	m.Do(s.ID, func(s *Session) { s.Player().LoadPlaylist(tracks("a")) })

	ch := s.State().Subscribe()
	if err := m.Close(s.ID); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !factory.Last().Destroyed {
		t.Error("engine not destroyed")
	}
	for range ch {
	}
	if err := m.Close(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Close() = %v, want ErrNotFound", err)
	}
	if err := m.Do(s.ID, func(*Session) {}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Do() after Close = %v, want ErrNotFound", err)
	}
}

func TestReap(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)
	idle, _ := m.Create("ua", "idle")
	active, _ := m.Create("ua", "active")

	later := time.Now().Add(2 * time.Minute)
	m.mutex.Lock()
	active.lastActivity = later
	m.mutex.Unlock()

	if n := m.Reap(later); n != 1 {
		t.Fatalf("Reap() = %d, want 1", n)
	}
	if _, err := m.Get(idle.ID); !errors.Is(err, ErrNotFound) {
		t.Error("idle session survived reaping")
	}
	if _, err := m.Get(active.ID); err != nil {
		t.Errorf("active session reaped: %v", err)
	}
}

func TestShutdown(t *testing.T) {
	m, _, factory := newTestManager(t, time.Minute)
	for i := 0; i < 3; i++ {
		s, _ := m.Create("ua", "ip")
		m.Do(s.ID, func(s *Session) { s.Player().LoadPlaylist(tracks("a")) })
	}

	m.Shutdown()
	if factory.Live() != 0 {
		t.Errorf("Shutdown() left %d live engines", factory.Live())
	}
	if _, err := m.Create("ua", "ip"); !errors.Is(err, ErrClosed) {
		t.Errorf("Create() after Shutdown = %v, want ErrClosed", err)
	}
}

func TestRunnerClosed(t *testing.T) {
	m, runner, _ := newTestManager(t, time.Minute)
	runner.mu.Lock()
	runner.closed = true
	runner.mu.Unlock()

	if _, err := m.Create("ua", "ip"); !errors.Is(err, ErrClosed) {
		t.Errorf("Create() with closed runner = %v, want ErrClosed", err)
	}
}
