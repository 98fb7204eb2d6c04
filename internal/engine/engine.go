// Package engine defines the waveform engine contract the transport layer
// drives: one audio source per engine instance, fire-and-forget commands, and
// ready/ended/error notifications delivered on the scheduler.
package engine

import "errors"

// ErrDestroyed is reported by engines asked to load after Destroy.
var ErrDestroyed = errors.New("engine destroyed")

// ErrNoDuration is reported for sources that probe to zero length.
var ErrNoDuration = errors.New("audio source has no duration")

// Events are the notification channels of a single engine instance.
// Implementations must invoke them on the scheduler the engine was created
// with, and never after Destroy.
type Events struct {
	OnReady func()
	OnEnded func()
	OnError func(err error)
}

func (e Events) ready() {
	if e.OnReady != nil {
		e.OnReady()
	}
}

func (e Events) ended() {
	if e.OnEnded != nil {
		e.OnEnded()
	}
}

func (e Events) fail(err error) {
	if e.OnError != nil {
		e.OnError(err)
	}
}

// Engine wraps a single audio source.
type Engine interface {
	Load(url string)
	Play()
	Pause()
	Stop()
	Seek(seconds float64)
	SetVolume(v float64)
	IsPlaying() bool
	CurrentTime() float64
	// Duration reports false until the source has loaded.
	Duration() (float64, bool)
	Destroy()
}

// Factory creates an engine for source. The returned engine has not started
// loading; callers invoke Load themselves.
type Factory func(source string, events Events) (Engine, error)
