// Package transport drives a single engine binding: play, pause, stop, seek,
// volume and mute, with commands issued before the engine is ready queued
// and replayed once it is.
//
// A Controller is not safe for concurrent use. Every method, and every
// engine notification, must run on the scheduler the controller was built
// with.
package transport

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"layerdeck/internal/engine"
	"layerdeck/internal/progress"
	"layerdeck/internal/scheduler"
	"layerdeck/pkg/models"

	"github.com/sirupsen/logrus"
)

// ErrLoadFailure marks errors raised while creating or loading an engine.
var ErrLoadFailure = errors.New("track load failed")

// LoadError describes a track that could not be loaded.
type LoadError struct {
	TrackID string
	Source  string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load track %s (%s): %v", e.TrackID, e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is reports LoadError as an ErrLoadFailure.
func (e *LoadError) Is(target error) bool { return target == ErrLoadFailure }

// EventKind identifies a controller notification.
type EventKind int

const (
	EventReady EventKind = iota
	EventEnded
	EventError
	EventProgress
	EventState
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	case EventProgress:
		return "progress"
	case EventState:
		return "state"
	default:
		return "unknown"
	}
}

// Event is delivered to observers.
type Event struct {
	Kind    EventKind
	Seconds float64 // EventProgress
	Err     error   // EventError
}

// Listener receives controller events on the scheduler.
type Listener func(Event)

// State is a snapshot of a controller.
type State struct {
	TrackID     string   `json:"trackId,omitempty"`
	Ready       bool     `json:"ready"`
	Playing     bool     `json:"isPlaying"`
	Volume      float64  `json:"volume"`
	Muted       bool     `json:"muted"`
	Progress    float64  `json:"progressSeconds"`
	Duration    *float64 `json:"durationSeconds"`
	Unavailable bool     `json:"unavailable"`
	LastError   string   `json:"lastError,omitempty"`
}

// Config configures a Controller.
type Config struct {
	Name             string
	Scheduler        scheduler.Scheduler
	Factory          engine.Factory
	ProgressInterval time.Duration
	// Volume is the initial level; zero starts muted at full volume.
	Volume float64
	Logger *logrus.Entry
}

type command int

const (
	cmdPlay command = iota
	cmdPause
	cmdStop
)

func (c command) String() string {
	switch c {
	case cmdPlay:
		return "play"
	case cmdPause:
		return "pause"
	default:
		return "stop"
	}
}

// handle is one live engine binding. Engine callbacks carry the handle they
// were registered for and are dropped once it is no longer current.
type handle struct {
	engine  engine.Engine
	clock   *progress.Clock
	ready   bool
	failed  bool
	pending []command
}

// Controller owns at most one engine at a time.
type Controller struct {
	sched    scheduler.Scheduler
	factory  engine.Factory
	interval time.Duration
	logger   *logrus.Entry

	handle    *handle
	track     *models.Track
	volume    float64 // last audible level
	muted     bool
	progress  float64
	lastError error
	disposed  bool

	listeners map[int]Listener
	nextID    int
}

// New creates an unbound controller.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Name == "" {
		cfg.Name = "main"
	}

	c := &Controller{
		sched:     cfg.Scheduler,
		factory:   cfg.Factory,
		interval:  cfg.ProgressInterval,
		logger:    logger.WithFields(logrus.Fields{"module": "transport", "transport": cfg.Name}),
		volume:    clamp(cfg.Volume, 0, 1),
		listeners: make(map[int]Listener),
	}
	if c.volume == 0 {
		c.volume = 1
		c.muted = true
	}
	return c
}

// Observe registers fn for every subsequent event and returns a function
// that removes it.
func (c *Controller) Observe(fn Listener) func() {
	if c.disposed {
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() { delete(c.listeners, id) }
}

func (c *Controller) emit(ev Event) {
	if len(c.listeners) == 0 {
		return
	}
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if c.disposed {
			return
		}
		if fn, ok := c.listeners[id]; ok {
			fn(ev)
		}
	}
}

// Bind tears down the current engine and starts loading track on a new one.
// Commands queued for the previous engine are discarded.
func (c *Controller) Bind(track models.Track) {
	if c.disposed {
		return
	}
	c.release()
	c.track = &track
	c.progress = 0
	c.lastError = nil

	h := &handle{}
	eng, err := c.factory(track.SourceURL, engine.Events{
		OnReady: func() { c.onReady(h) },
		OnEnded: func() { c.onEnded(h) },
		OnError: func(err error) { c.onError(h, err) },
	})
	if err != nil {
		c.lastError = &LoadError{TrackID: track.ID, Source: track.SourceURL, Err: err}
		c.logger.WithError(err).WithField("track_id", track.ID).Warn("Failed to create engine")
		c.emit(Event{Kind: EventError, Err: c.lastError})
		c.emit(Event{Kind: EventState})
		return
	}

	h.engine = eng
	h.clock = progress.NewClock(c.sched, c.interval, eng.CurrentTime, func(s float64) {
		c.onProgress(h, s)
	})
	c.handle = h

	c.logger.WithFields(logrus.Fields{
		"track_id": track.ID,
		"source":   track.SourceURL,
	}).Debug("Binding track")

	eng.Load(track.SourceURL)
	c.emit(Event{Kind: EventState})
}

// Unbind releases the current engine and leaves the controller empty.
func (c *Controller) Unbind() {
	if c.disposed || (c.handle == nil && c.track == nil) {
		return
	}
	c.release()
	c.track = nil
	c.progress = 0
	c.lastError = nil
	c.emit(Event{Kind: EventState})
}

// release stops and destroys the current engine. The handle is detached
// first so any callback the engine raises while shutting down is stale.
func (c *Controller) release() {
	h := c.handle
	if h == nil {
		return
	}
	c.handle = nil
	h.pending = nil
	h.clock.Close()
	h.engine.Stop()
	h.engine.Destroy()
}

func (c *Controller) current(h *handle) bool {
	return !c.disposed && c.handle == h
}

func (c *Controller) onReady(h *handle) {
	if !c.current(h) || h.failed {
		return
	}
	h.ready = true
	h.engine.SetVolume(c.effectiveVolume())

	pending := h.pending
	h.pending = nil
	for _, cmd := range pending {
		if !c.current(h) {
			return
		}
		c.logger.WithField("command", cmd.String()).Debug("Replaying queued command")
		c.apply(h, cmd)
	}
	if !c.current(h) {
		return
	}
	c.emit(Event{Kind: EventReady})
	if c.current(h) {
		c.emit(Event{Kind: EventState})
	}
}

func (c *Controller) onEnded(h *handle) {
	if !c.current(h) {
		return
	}
	h.clock.Stop()
	if d, ok := h.engine.Duration(); ok {
		c.progress = d
	}
	c.emit(Event{Kind: EventEnded})
}

func (c *Controller) onError(h *handle, err error) {
	if !c.current(h) {
		return
	}
	h.clock.Stop()
	h.ready = false
	h.failed = true
	h.pending = nil

	var trackID, source string
	if c.track != nil {
		trackID, source = c.track.ID, c.track.SourceURL
	}
	c.lastError = &LoadError{TrackID: trackID, Source: source, Err: err}
	c.logger.WithError(err).WithField("track_id", trackID).Warn("Track unavailable")

	c.emit(Event{Kind: EventError, Err: c.lastError})
	if c.current(h) {
		c.emit(Event{Kind: EventState})
	}
}

func (c *Controller) onProgress(h *handle, seconds float64) {
	if !c.current(h) {
		return
	}
	if d, ok := h.engine.Duration(); ok && seconds > d {
		seconds = d
	}
	c.progress = seconds
	c.emit(Event{Kind: EventProgress, Seconds: seconds})
}

// Play starts playback. It is a no-op while already playing.
func (c *Controller) Play() { c.command(cmdPlay) }

// Pause pauses playback. It is a no-op while paused.
func (c *Controller) Pause() { c.command(cmdPause) }

// Stop pauses and rewinds to the start.
func (c *Controller) Stop() { c.command(cmdStop) }

// Toggle plays when paused and pauses when playing. Before ready it flips
// the queued intent instead.
func (c *Controller) Toggle() {
	h := c.handle
	if c.disposed || h == nil {
		return
	}
	playing := h.engine.IsPlaying()
	if !h.ready {
		playing = h.wantsPlay()
	}
	if playing {
		c.Pause()
	} else {
		c.Play()
	}
}

func (h *handle) wantsPlay() bool {
	want := false
	for _, cmd := range h.pending {
		want = cmd == cmdPlay
	}
	return want
}

func (c *Controller) command(cmd command) {
	h := c.handle
	if c.disposed || h == nil {
		c.logger.WithField("command", cmd.String()).Debug("No track bound, ignoring command")
		return
	}
	if h.failed {
		c.logger.WithField("command", cmd.String()).Debug("Track unavailable, ignoring command")
		return
	}
	if !h.ready {
		h.enqueue(cmd)
		c.logger.WithField("command", cmd.String()).Debug("Engine not ready, command queued")
		return
	}
	c.apply(h, cmd)
}

// enqueue keeps at most one pending command per kind; a repeated kind moves
// to the back of the queue.
func (h *handle) enqueue(cmd command) {
	for i, queued := range h.pending {
		if queued == cmd {
			h.pending = append(h.pending[:i], h.pending[i+1:]...)
			break
		}
	}
	h.pending = append(h.pending, cmd)
}

func (c *Controller) apply(h *handle, cmd command) {
	switch cmd {
	case cmdPlay:
		if h.engine.IsPlaying() {
			return
		}
		h.engine.Play()
		if h.engine.IsPlaying() {
			h.clock.Start()
		}
	case cmdPause:
		if !h.engine.IsPlaying() {
			return
		}
		h.engine.Pause()
		h.clock.Stop()
		c.progress = h.engine.CurrentTime()
	case cmdStop:
		h.engine.Stop()
		h.clock.Stop()
		c.progress = 0
	}
	if c.current(h) {
		c.emit(Event{Kind: EventState})
	}
}

// Seek moves the playhead, clamped to the track. Ignored before ready.
func (c *Controller) Seek(seconds float64) {
	h := c.handle
	if c.disposed || h == nil || !h.ready {
		c.logger.WithField("seconds", seconds).Debug("Engine not ready, ignoring seek")
		return
	}
	d, _ := h.engine.Duration()
	seconds = clamp(seconds, 0, d)
	h.engine.Seek(seconds)
	c.progress = seconds
	c.emit(Event{Kind: EventProgress, Seconds: seconds})
}

// SetVolume sets the level, clamped to [0,1]. Zero mutes and keeps the last
// audible level for un-muting; a non-zero level un-mutes.
func (c *Controller) SetVolume(v float64) {
	if c.disposed {
		return
	}
	v = clamp(v, 0, 1)
	if v == 0 {
		c.muted = true
	} else {
		c.volume = v
		c.muted = false
	}
	c.applyVolume()
}

// ToggleMute mutes, or restores the level held before muting.
func (c *Controller) ToggleMute() {
	if c.disposed {
		return
	}
	c.muted = !c.muted
	c.applyVolume()
}

func (c *Controller) applyVolume() {
	if h := c.handle; h != nil && h.ready {
		h.engine.SetVolume(c.effectiveVolume())
	}
	c.emit(Event{Kind: EventState})
}

func (c *Controller) effectiveVolume() float64 {
	if c.muted {
		return 0
	}
	return c.volume
}

// Dispose stops playback, drops observers and destroys the engine. It is
// safe to call more than once, including from an observer.
func (c *Controller) Dispose() {
	if c.disposed {
		return
	}
	c.disposed = true
	c.release()
	c.listeners = make(map[int]Listener)
	c.logger.Debug("Transport disposed")
}

// IsPlaying reports whether the bound engine is audibly playing.
func (c *Controller) IsPlaying() bool {
	h := c.handle
	return !c.disposed && h != nil && h.ready && h.engine.IsPlaying()
}

// Ready reports whether the bound engine has loaded.
func (c *Controller) Ready() bool {
	return !c.disposed && c.handle != nil && c.handle.ready
}

// Track returns the bound track, if any.
func (c *Controller) Track() (models.Track, bool) {
	if c.track == nil {
		return models.Track{}, false
	}
	return *c.track, true
}

// LastError returns the load failure for the bound track.
func (c *Controller) LastError() error { return c.lastError }

// Volume returns the level un-muting restores.
func (c *Controller) Volume() float64 { return c.volume }

// Muted reports whether output is silenced.
func (c *Controller) Muted() bool { return c.muted }

// Progress returns the last published position in seconds.
func (c *Controller) Progress() float64 { return c.progress }

// Duration returns the bound track's length once known.
func (c *Controller) Duration() (float64, bool) {
	h := c.handle
	if h == nil || !h.ready {
		return 0, false
	}
	return h.engine.Duration()
}

// Disposed reports whether Dispose has been called.
func (c *Controller) Disposed() bool { return c.disposed }

// State snapshots the controller.
func (c *Controller) State() State {
	st := State{
		Ready:       c.Ready(),
		Playing:     c.IsPlaying(),
		Volume:      c.volume,
		Muted:       c.muted,
		Progress:    c.progress,
		Unavailable: c.lastError != nil,
	}
	if c.track != nil {
		st.TrackID = c.track.ID
	}
	if d, ok := c.Duration(); ok {
		st.Duration = &d
		if st.Progress > d {
			st.Progress = d
		}
	}
	if c.lastError != nil {
		st.LastError = c.lastError.Error()
	}
	return st
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
