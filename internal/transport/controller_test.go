package transport

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"layerdeck/internal/engine/enginetest"
	"layerdeck/internal/scheduler"
	"layerdeck/pkg/models"
)

var beat = models.Track{ID: "beat", SourceURL: "/stream/beat", DisplayName: "Beat"}

func newController(t *testing.T) (*Controller, *enginetest.Factory, *scheduler.Manual) {
	t.Helper()
	m := scheduler.NewManual(time.Unix(0, 0))
	f := enginetest.NewFactory(m.Now)
	c := New(Config{Scheduler: m, Factory: f.New, ProgressInterval: time.Second, Volume: 1})
	return c, f, m
}

func TestBindCreatesEngineAndLoads(t *testing.T) {
	c, f, _ := newController(t)
	c.Bind(beat)

	e := f.Last()
	if e == nil || e.Source != beat.SourceURL || e.LoadedURL != beat.SourceURL {
		t.Fatalf("engine not created and loaded for %s", beat.SourceURL)
	}
	if c.Ready() || c.IsPlaying() {
		t.Error("controller ready before engine reported ready")
	}
}

func TestQueuedCommandsReplayOnReady(t *testing.T) {
	tests := []struct {
		name     string
		issue    func(c *Controller)
		playing  bool
		wantTail []string
	}{
		{
			name:     "single play",
			issue:    func(c *Controller) { c.Play() },
			playing:  true,
			wantTail: []string{"play"},
		},
		{
			name:     "repeated play collapses",
			issue:    func(c *Controller) { c.Play(); c.Play(); c.Play() },
			playing:  true,
			wantTail: []string{"play"},
		},
		{
			name:     "play then pause",
			issue:    func(c *Controller) { c.Play(); c.Pause() },
			playing:  false,
			wantTail: []string{"play", "pause"},
		},
		{
			name:     "later play overwrites earlier",
			issue:    func(c *Controller) { c.Play(); c.Pause(); c.Play() },
			playing:  true,
			wantTail: []string{"play"}, // the queued pause finds nothing playing
		},
		{
			name:     "toggle before ready",
			issue:    func(c *Controller) { c.Toggle() },
			playing:  true,
			wantTail: []string{"play"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, f, _ := newController(t)
			c.Bind(beat)
			tt.issue(c)
			e := f.Last()
			if len(e.Calls) != 1 {
				t.Fatalf("commands reached engine before ready: %v", e.Calls)
			}

			e.FireReady(30)
			if got := e.Calls[1:]; !reflect.DeepEqual(got, tt.wantTail) {
				t.Errorf("replayed %v, want %v", got, tt.wantTail)
			}
			if c.IsPlaying() != tt.playing {
				t.Errorf("IsPlaying() = %v, want %v", c.IsPlaying(), tt.playing)
			}
		})
	}
}

func TestRebindDiscardsQueuedCommands(t *testing.T) {
	c, f, _ := newController(t)
	c.Bind(beat)
	c.Play()
	first := f.Last()

	c.Bind(models.Track{ID: "other", SourceURL: "/stream/other"})
	if !first.Destroyed {
		t.Fatal("previous engine not destroyed on rebind")
	}
	if f.Live() != 1 {
		t.Fatalf("Live() = %d, want 1", f.Live())
	}

	second := f.Last()
	second.FireReady(10)
	if c.IsPlaying() {
		t.Error("play queued for the previous engine was replayed on the new one")
	}

	first.FireReady(30)
	if c.Progress() != 0 || !c.Ready() {
		t.Error("stale ready from destroyed engine changed state")
	}
}

func TestPlayPauseIdempotent(t *testing.T) {
	c, f, _ := newController(t)
	c.Bind(beat)
	e := f.Last()
	e.FireReady(30)

	c.Play()
	c.Play()
	if !c.IsPlaying() {
		t.Fatal("not playing after Play")
	}
	c.Pause()
	c.Pause()
	if c.IsPlaying() {
		t.Fatal("playing after Pause")
	}
	c.Toggle()
	if !c.IsPlaying() {
		t.Error("Toggle() from paused should play")
	}
	c.Toggle()
	if c.IsPlaying() {
		t.Error("Toggle() from playing should pause")
	}
}

func TestStopRewinds(t *testing.T) {
	c, f, m := newController(t)
	c.Bind(beat)
	f.Last().FireReady(30)

	c.Play()
	m.Advance(5 * time.Second)
	if c.Progress() != 5 {
		t.Fatalf("Progress() = %v, want 5", c.Progress())
	}
	c.Stop()
	if c.IsPlaying() || c.Progress() != 0 || f.Last().CurrentTime() != 0 {
		t.Error("Stop() should pause and rewind to 0")
	}
	if m.ActiveTimers() != 0 {
		t.Errorf("progress clock still armed after Stop: %d timers", m.ActiveTimers())
	}
}

func TestStopBeforeReadyIsQueuedNoop(t *testing.T) {
	c, f, _ := newController(t)
	c.Bind(beat)
	c.Stop()
	f.Last().FireReady(30)
	if c.IsPlaying() || c.Progress() != 0 {
		t.Error("queued stop changed playback")
	}
}

func TestSeek(t *testing.T) {
	c, f, _ := newController(t)
	c.Bind(beat)
	e := f.Last()

	c.Seek(5)
	if len(e.Calls) != 1 {
		t.Fatalf("seek before ready reached engine: %v", e.Calls)
	}

	e.FireReady(30)
	tests := []struct {
		in, want float64
	}{
		{10, 10},
		{-4, 0},
		{99, 30},
	}
	for _, tt := range tests {
		c.Seek(tt.in)
		if got := e.CurrentTime(); got != tt.want {
			t.Errorf("Seek(%v): position %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVolumeAndMute(t *testing.T) {
	c, f, _ := newController(t)
	c.Bind(beat)
	e := f.Last()
	e.FireReady(30)

	c.SetVolume(0.6)
	if e.Volume != 0.6 {
		t.Fatalf("engine volume = %v, want 0.6", e.Volume)
	}

	c.ToggleMute()
	if e.Volume != 0 || !c.Muted() {
		t.Fatal("ToggleMute() should apply 0")
	}
	c.SetVolume(0)
	if !c.Muted() {
		t.Error("SetVolume(0) while muted should stay muted")
	}
	c.ToggleMute()
	if e.Volume != 0.6 || c.Muted() {
		t.Errorf("un-mute restored %v, want 0.6", e.Volume)
	}

	c.ToggleMute()
	c.SetVolume(0.3)
	if c.Muted() || e.Volume != 0.3 {
		t.Error("non-zero SetVolume while muted should un-mute")
	}

	c.SetVolume(1.7)
	if e.Volume != 1 {
		t.Errorf("volume not clamped: %v", e.Volume)
	}
}

func TestSetVolumeZeroThenToggleRestoresLastAudible(t *testing.T) {
	c, f, _ := newController(t)
	c.Bind(beat)
	e := f.Last()
	e.FireReady(30)

	c.SetVolume(0.45)
	c.SetVolume(0)
	if e.Volume != 0 {
		t.Fatalf("engine volume = %v after SetVolume(0)", e.Volume)
	}
	c.ToggleMute()
	if e.Volume != 0.45 {
		t.Errorf("ToggleMute() restored %v, want 0.45", e.Volume)
	}
}

func TestVolumeAppliedOnReady(t *testing.T) {
	c, f, _ := newController(t)
	c.SetVolume(0.25)
	c.Bind(beat)
	e := f.Last()
	e.FireReady(30)
	if e.Volume != 0.25 {
		t.Errorf("engine volume = %v, want 0.25", e.Volume)
	}
}

func TestProgressClockFollowsPlayback(t *testing.T) {
	c, f, m := newController(t)
	var progress []float64
	c.Observe(func(ev Event) {
		if ev.Kind == EventProgress {
			progress = append(progress, ev.Seconds)
		}
	})
	c.Bind(beat)
	f.Last().FireReady(3)

	c.Play()
	m.Advance(2 * time.Second)
	c.Pause()
	m.Advance(5 * time.Second)

	want := []float64{0, 1, 2}
	if !reflect.DeepEqual(progress, want) {
		t.Errorf("progress = %v, want %v", progress, want)
	}
	if m.ActiveTimers() != 0 {
		t.Errorf("ActiveTimers() = %d after pause", m.ActiveTimers())
	}
}

func TestEndedStopsClockAndNotifies(t *testing.T) {
	c, f, m := newController(t)
	ended := 0
	c.Observe(func(ev Event) {
		if ev.Kind == EventEnded {
			ended++
		}
	})
	c.Bind(beat)
	e := f.Last()
	e.FireReady(30)
	c.Play()

	e.FireEnded()
	if ended != 1 {
		t.Fatalf("ended = %d, want 1", ended)
	}
	if m.ActiveTimers() != 0 {
		t.Error("progress clock survived ended")
	}
	if c.Progress() != 30 {
		t.Errorf("Progress() = %v, want 30", c.Progress())
	}
}

func TestLoadFailureBecomesState(t *testing.T) {
	t.Run("engine error", func(t *testing.T) {
		c, f, _ := newController(t)
		var errs []error
		c.Observe(func(ev Event) {
			if ev.Kind == EventError {
				errs = append(errs, ev.Err)
			}
		})
		c.Bind(beat)
		c.Play()
		f.Last().FireError(errors.New("404"))

		if len(errs) != 1 || !errors.Is(errs[0], ErrLoadFailure) {
			t.Fatalf("errors = %v, want one ErrLoadFailure", errs)
		}
		var loadErr *LoadError
		if !errors.As(c.LastError(), &loadErr) || loadErr.TrackID != "beat" {
			t.Fatalf("LastError() = %v", c.LastError())
		}
		if !c.State().Unavailable {
			t.Error("State().Unavailable = false after load failure")
		}
		c.Play()
		if c.IsPlaying() {
			t.Error("failed track started playing")
		}
	})

	t.Run("construction error", func(t *testing.T) {
		c, f, _ := newController(t)
		f.Fail[beat.SourceURL] = errors.New("bad source")
		c.Bind(beat)
		c.Play()
		if !errors.Is(c.LastError(), ErrLoadFailure) {
			t.Fatalf("LastError() = %v", c.LastError())
		}
		if c.Ready() || c.IsPlaying() {
			t.Error("controller should stay not ready")
		}
	})

	t.Run("rebind clears failure", func(t *testing.T) {
		c, f, _ := newController(t)
		c.Bind(beat)
		f.Last().FireError(errors.New("decode"))
		c.Bind(models.Track{ID: "fresh", SourceURL: "/stream/fresh"})
		f.Last().FireReady(10)
		if c.LastError() != nil || !c.Ready() {
			t.Error("rebind did not recover from failure")
		}
	})
}

func TestDisposeWithReadyInFlight(t *testing.T) {
	c, f, m := newController(t)
	c.Bind(beat)
	c.Play()
	e := f.Last()

	before := c.State()
	c.Dispose()
	m.Post(func() { e.FireReady(30) })
	m.RunPending()

	after := c.State()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("state changed after dispose:\nbefore %+v\nafter  %+v", before, after)
	}
	if !e.Destroyed || e.IsPlaying() {
		t.Error("engine not destroyed by Dispose")
	}
	if m.ActiveTimers() != 0 {
		t.Error("timers left armed after Dispose")
	}
}

func TestDisposeFromOwnCallback(t *testing.T) {
	c, f, _ := newController(t)
	later := 0
	c.Observe(func(ev Event) {
		if ev.Kind == EventEnded {
			c.Dispose()
			c.Dispose()
		}
	})
	c.Observe(func(ev Event) { later++ })
	c.Bind(beat)
	e := f.Last()
	e.FireReady(10)
	c.Play()

	seen := later
	e.FireEnded()
	if !c.Disposed() || !e.Destroyed {
		t.Fatal("Dispose from callback did not tear down")
	}
	if later != seen {
		t.Error("listener notified after dispose")
	}
	c.Play()
	c.Bind(beat)
	if len(f.Engines) != 1 {
		t.Error("disposed controller created another engine")
	}
}

func TestObserveUnsubscribe(t *testing.T) {
	c, f, _ := newController(t)
	count := 0
	unsubscribe := c.Observe(func(Event) { count++ })
	c.Bind(beat)
	seen := count
	unsubscribe()
	f.Last().FireReady(10)
	if count != seen {
		t.Error("listener called after unsubscribe")
	}
}

func TestUnbind(t *testing.T) {
	c, f, _ := newController(t)
	c.Bind(beat)
	f.Last().FireReady(10)
	c.Unbind()
	if f.Live() != 0 {
		t.Error("Unbind() left an engine alive")
	}
	if _, ok := c.Track(); ok {
		t.Error("Track() still bound after Unbind")
	}
}
