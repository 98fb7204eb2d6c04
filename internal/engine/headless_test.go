package engine

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"layerdeck/internal/scheduler"
)

type stubProber struct {
	durations map[string]float64
	err       error
	probed    []string
}

func (p *stubProber) Duration(filePath string) (float64, error) {
	p.probed = append(p.probed, filePath)
	if p.err != nil {
		return 0, p.err
	}
	if d, ok := p.durations[filePath]; ok {
		return d, nil
	}
	return 30, nil
}

type recorder struct {
	ready, ended int
	errs         []error
}

func (r *recorder) events() Events {
	return Events{
		OnReady: func() { r.ready++ },
		OnEnded: func() { r.ended++ },
		OnError: func(err error) { r.errs = append(r.errs, err) },
	}
}

// waitForTask pumps the manual scheduler until the loader goroutine posts.
func waitForTask(t *testing.T, m *scheduler.Manual) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.RunPending() > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for load to complete")
}

func newHeadless(t *testing.T, m *scheduler.Manual, prober Prober, source string, rec *recorder) *Headless {
	t.Helper()
	factory := NewHeadlessFactory(HeadlessConfig{
		Scheduler: m,
		Prober:    prober,
		Resolve: func(source string) (string, bool) {
			if source == "/stream/abc" {
				return "/library/abc.mp3", true
			}
			return "", false
		},
		TempDir: t.TempDir(),
	})
	e, err := factory(source, rec.events())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	return e.(*Headless)
}

func TestHeadlessFactoryRejectsEmptySource(t *testing.T) {
	factory := NewHeadlessFactory(HeadlessConfig{Scheduler: scheduler.NewManual(time.Unix(0, 0)), Prober: &stubProber{}})
	if _, err := factory("  ", Events{}); err == nil {
		t.Error("expected error for empty source")
	}
}

func TestHeadlessTimeline(t *testing.T) {
	m := scheduler.NewManual(time.Unix(0, 0))
	prober := &stubProber{durations: map[string]float64{"/library/abc.mp3": 10}}
	rec := &recorder{}
	h := newHeadless(t, m, prober, "/stream/abc", rec)

	h.Play()
	if h.IsPlaying() {
		t.Fatal("engine played before ready")
	}

	h.Load("/stream/abc")
	waitForTask(t, m)
	if rec.ready != 1 {
		t.Fatalf("ready = %d, want 1", rec.ready)
	}
	if d, ok := h.Duration(); !ok || d != 10 {
		t.Fatalf("Duration() = %v,%v want 10,true", d, ok)
	}

	h.Play()
	m.Advance(4 * time.Second)
	if got := h.CurrentTime(); got != 4 {
		t.Errorf("CurrentTime() = %v, want 4", got)
	}

	h.Pause()
	m.Advance(3 * time.Second)
	if got := h.CurrentTime(); got != 4 {
		t.Errorf("CurrentTime() after pause = %v, want 4", got)
	}

	h.Seek(8)
	h.Play()
	m.Advance(2 * time.Second)
	if rec.ended != 1 {
		t.Fatalf("ended = %d, want 1", rec.ended)
	}
	if h.IsPlaying() {
		t.Error("engine still playing after end")
	}
	if got := h.CurrentTime(); got != 10 {
		t.Errorf("CurrentTime() at end = %v, want 10", got)
	}

	h.Play()
	if got := h.CurrentTime(); got != 0 {
		t.Errorf("Play() at end should restart, CurrentTime() = %v", got)
	}
	h.Stop()
	if h.IsPlaying() || h.CurrentTime() != 0 {
		t.Error("Stop() should pause and rewind")
	}
	if m.ActiveTimers() != 0 {
		t.Errorf("ActiveTimers() = %d after stop, want 0", m.ActiveTimers())
	}
}

func TestHeadlessLoadError(t *testing.T) {
	m := scheduler.NewManual(time.Unix(0, 0))
	rec := &recorder{}
	h := newHeadless(t, m, &stubProber{err: errors.New("corrupt")}, "/tmp/missing.mp3", rec)

	h.Load("/tmp/missing.mp3")
	waitForTask(t, m)
	if len(rec.errs) != 1 || rec.ready != 0 {
		t.Fatalf("errs = %v ready = %d, want one error", rec.errs, rec.ready)
	}
}

func TestHeadlessZeroDurationIsLoadError(t *testing.T) {
	m := scheduler.NewManual(time.Unix(0, 0))
	rec := &recorder{}
	prober := &stubProber{durations: map[string]float64{"/tmp/empty.mp3": 0}}
	h := newHeadless(t, m, prober, "/tmp/empty.mp3", rec)

	h.Load("/tmp/empty.mp3")
	waitForTask(t, m)
	if rec.ready != 0 || len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrNoDuration) {
		t.Fatalf("ready = %d errs = %v, want ErrNoDuration", rec.ready, rec.errs)
	}

	// Play on an unloaded engine must not arm an end timer
	h.Play()
	m.Advance(time.Millisecond)
	if rec.ended != 0 || h.IsPlaying() {
		t.Errorf("ended = %d playing = %v after Play on empty source", rec.ended, h.IsPlaying())
	}
}

func TestHeadlessDestroyDropsInFlightLoad(t *testing.T) {
	m := scheduler.NewManual(time.Unix(0, 0))
	rec := &recorder{}
	h := newHeadless(t, m, &stubProber{}, "/tmp/a.wav", rec)

	h.Load("/tmp/a.wav")
	h.Destroy()
	waitForTask(t, m)
	if rec.ready != 0 || len(rec.errs) != 0 {
		t.Errorf("destroyed engine raised events: ready=%d errs=%v", rec.ready, rec.errs)
	}

	h.Load("/tmp/a.wav")
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrDestroyed) {
		t.Errorf("Load after Destroy: errs = %v, want ErrDestroyed", rec.errs)
	}
}

func TestHeadlessDownloadsRemoteSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFF"))
	}))
	defer srv.Close()

	m := scheduler.NewManual(time.Unix(0, 0))
	rec := &recorder{}
	prober := &stubProber{}
	h := newHeadless(t, m, prober, srv.URL+"/beat", rec)

	h.Load(srv.URL + "/beat")
	waitForTask(t, m)
	if rec.ready != 1 {
		t.Fatalf("ready = %d, errs = %v", rec.ready, rec.errs)
	}
	if len(prober.probed) != 1 || len(prober.probed[0]) < 4 || prober.probed[0][len(prober.probed[0])-4:] != ".wav" {
		t.Errorf("probed %v, want a .wav temp file", prober.probed)
	}
}

func TestHeadlessRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	m := scheduler.NewManual(time.Unix(0, 0))
	rec := &recorder{}
	h := newHeadless(t, m, &stubProber{}, srv.URL+"/missing.mp3", rec)

	h.Load(srv.URL + "/missing.mp3")
	waitForTask(t, m)
	if len(rec.errs) != 1 {
		t.Fatalf("errs = %v, want one error", rec.errs)
	}
}

func TestExtensionForContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"audio/mpeg", ".mp3"},
		{"audio/flac", ".flac"},
		{"audio/wav; charset=binary", ".wav"},
		{"audio/mp4", ".m4a"},
		{"text/html", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			if got := extensionForContentType(tt.contentType); got != tt.want {
				t.Errorf("extensionForContentType(%q) = %q, want %q", tt.contentType, got, tt.want)
			}
		})
	}
}
