// Package enginetest provides a scriptable engine for tests. Loading never
// completes on its own: tests decide when an engine becomes ready, ends or
// fails.
package enginetest

import (
	"fmt"
	"time"

	"layerdeck/internal/engine"
)

// Engine is a fake engine.Engine whose timeline follows the clock it was
// created with.
type Engine struct {
	Source    string
	LoadedURL string
	Events    engine.Events
	Volume    float64
	Destroyed bool
	Calls     []string

	now       func() time.Time
	ready     bool
	playing   bool
	duration  float64
	offset    float64
	startedAt time.Time
}

// FireReady marks the engine loaded with the given duration and raises ready.
func (e *Engine) FireReady(duration float64) {
	e.ready = true
	e.duration = duration
	if e.Events.OnReady != nil {
		e.Events.OnReady()
	}
}

// FireEnded moves the playhead to the end and raises ended.
func (e *Engine) FireEnded() {
	e.offset = e.duration
	e.playing = false
	if e.Events.OnEnded != nil {
		e.Events.OnEnded()
	}
}

// FireError raises error.
func (e *Engine) FireError(err error) {
	if e.Events.OnError != nil {
		e.Events.OnError(err)
	}
}

// Ready reports whether FireReady has been called.
func (e *Engine) Ready() bool {
	return e.ready
}

func (e *Engine) Load(url string) {
	e.LoadedURL = url
	e.Calls = append(e.Calls, "load")
}

func (e *Engine) Play() {
	e.Calls = append(e.Calls, "play")
	if e.Destroyed || !e.ready || e.playing {
		return
	}
	if e.offset >= e.duration {
		e.offset = 0
	}
	e.playing = true
	e.startedAt = e.now()
}

func (e *Engine) Pause() {
	e.Calls = append(e.Calls, "pause")
	if !e.playing {
		return
	}
	e.offset = e.CurrentTime()
	e.playing = false
}

func (e *Engine) Stop() {
	e.Calls = append(e.Calls, "stop")
	if e.playing {
		e.playing = false
	}
	e.offset = 0
}

func (e *Engine) Seek(seconds float64) {
	e.Calls = append(e.Calls, fmt.Sprintf("seek:%g", seconds))
	e.offset = seconds
	if e.playing {
		e.startedAt = e.now()
	}
}

func (e *Engine) SetVolume(v float64) {
	e.Volume = v
}

func (e *Engine) IsPlaying() bool {
	return e.playing
}

func (e *Engine) CurrentTime() float64 {
	if !e.playing {
		return e.offset
	}
	pos := e.offset + e.now().Sub(e.startedAt).Seconds()
	if pos > e.duration {
		pos = e.duration
	}
	return pos
}

func (e *Engine) Duration() (float64, bool) {
	return e.duration, e.ready
}

func (e *Engine) Destroy() {
	e.Calls = append(e.Calls, "destroy")
	e.Destroyed = true
	e.playing = false
}

// Factory records every engine it creates.
type Factory struct {
	Engines []*Engine
	// Fail makes construction fail for the listed sources.
	Fail map[string]error

	now func() time.Time
}

// NewFactory creates a factory whose engines read time from now.
func NewFactory(now func() time.Time) *Factory {
	return &Factory{Fail: make(map[string]error), now: now}
}

// New satisfies engine.Factory.
func (f *Factory) New(source string, events engine.Events) (engine.Engine, error) {
	if err, ok := f.Fail[source]; ok {
		return nil, err
	}
	e := &Engine{Source: source, Events: events, Volume: 1, now: f.now}
	f.Engines = append(f.Engines, e)
	return e, nil
}

// Last returns the most recently created engine.
func (f *Factory) Last() *Engine {
	if len(f.Engines) == 0 {
		return nil
	}
	return f.Engines[len(f.Engines)-1]
}

// Live counts engines that have not been destroyed.
func (f *Factory) Live() int {
	live := 0
	for _, e := range f.Engines {
		if !e.Destroyed {
			live++
		}
	}
	return live
}
