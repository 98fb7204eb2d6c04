// Package playlist implements navigation and auto-advance over an ordered
// list of tracks on top of a single transport controller.
package playlist

import (
	"errors"
	"sort"

	"layerdeck/internal/transport"
	"layerdeck/pkg/models"

	"github.com/sirupsen/logrus"
)

// ErrInvalidIndex is returned by ValidateIndex for positions outside the
// playlist.
var ErrInvalidIndex = errors.New("invalid playlist index")

// State is a snapshot of a playlist player.
type State struct {
	Tracks          []models.Track `json:"tracks"`
	CurrentIndex    int            `json:"currentIndex"`
	IsPlaying       bool           `json:"isPlaying"`
	Volume          float64        `json:"volume"`
	Muted           bool           `json:"muted"`
	ProgressSeconds float64        `json:"progressSeconds"`
	DurationSeconds *float64       `json:"durationSeconds"`
	Ready           bool           `json:"ready"`
	Unavailable     bool           `json:"unavailable"`
	LastError       string         `json:"lastError,omitempty"`
}

// Player owns a playlist and the transport that plays its current track.
// Like the transport, it must only be used from the scheduler.
type Player struct {
	transport *transport.Controller
	logger    *logrus.Entry

	tracks []models.Track
	index  int
	// resumeIntent records that playback should continue across a track
	// switch, independently of when the next engine finishes loading.
	resumeIntent bool

	unobserve func()
	listeners map[int]func()
	nextID    int
	disposed  bool
}

// New creates a player that takes ownership of t.
func New(t *transport.Controller, logger *logrus.Entry) *Player {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Player{
		transport: t,
		logger:    logger.WithField("module", "playlist"),
		listeners: make(map[int]func()),
	}
	p.unobserve = t.Observe(p.handleEvent)
	return p
}

func (p *Player) handleEvent(ev transport.Event) {
	if p.disposed {
		return
	}
	switch ev.Kind {
	case transport.EventEnded:
		p.logger.WithField("index", p.index).Debug("Track ended, advancing")
		p.resumeIntent = true
		p.Next()
		return
	case transport.EventState:
		// Reconcile with the engine whenever it is settled, so direct
		// transport commands (e.g. from a layer sync) are reflected.
		if p.transport.Ready() {
			p.resumeIntent = p.transport.IsPlaying()
		}
	case transport.EventError:
		p.logger.WithError(ev.Err).WithField("index", p.index).Warn("Track unavailable")
	}
	p.notify()
}

// Observe registers fn to be called after every state change and returns a
// function that removes it.
func (p *Player) Observe(fn func()) func() {
	if p.disposed {
		return func() {}
	}
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() { delete(p.listeners, id) }
}

func (p *Player) notify() {
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if p.disposed {
			return
		}
		if fn, ok := p.listeners[id]; ok {
			fn()
		}
	}
}

// LoadPlaylist replaces the track list. When the current track is still in
// the list the player follows it to its new position and keeps playing;
// otherwise it binds the first track without starting playback.
func (p *Player) LoadPlaylist(tracks []models.Track) {
	if p.disposed {
		return
	}
	tracks = append([]models.Track(nil), tracks...)

	if len(tracks) == 0 {
		p.tracks = nil
		p.index = 0
		p.resumeIntent = false
		p.transport.Unbind()
		p.notify()
		return
	}

	if current, ok := p.transport.Track(); ok && len(p.tracks) > 0 {
		for i, t := range tracks {
			if t.Equal(current) {
				p.tracks = tracks
				p.index = i
				p.logger.WithFields(logrus.Fields{
					"tracks": len(tracks),
					"index":  i,
				}).Debug("Playlist reloaded, current track kept")
				p.notify()
				return
			}
		}
	}

	p.tracks = tracks
	p.index = 0
	p.resumeIntent = false
	p.transport.Bind(tracks[0])
	p.logger.WithField("tracks", len(tracks)).Info("Playlist loaded")
	p.notify()
}

// ValidateIndex reports whether i addresses a track.
func (p *Player) ValidateIndex(i int) error {
	if i < 0 || i >= len(p.tracks) {
		return ErrInvalidIndex
	}
	return nil
}

// PlayIndex toggles playback when i is the current track, and otherwise
// switches to track i, continuing playback if the player was playing.
func (p *Player) PlayIndex(i int) {
	if p.disposed {
		return
	}
	if err := p.ValidateIndex(i); err != nil {
		p.logger.WithFields(logrus.Fields{"index": i, "tracks": len(p.tracks)}).Debug("Ignoring invalid index")
		return
	}
	if i == p.index && p.transport.LastError() == nil {
		if p.IsPlaying() {
			p.resumeIntent = false
			p.transport.Pause()
		} else {
			p.resumeIntent = true
			p.transport.Play()
		}
		// Before ready both commands queue; a play then pause replays in
		// order on ready, so the clock starts and stops once.
		p.notify()
		return
	}
	p.moveTo(i)
}

// Next advances to the following track, wrapping to the first.
func (p *Player) Next() {
	if p.disposed || len(p.tracks) == 0 {
		return
	}
	p.moveTo((p.index + 1) % len(p.tracks))
}

// Previous moves to the preceding track, wrapping to the last.
func (p *Player) Previous() {
	if p.disposed || len(p.tracks) == 0 {
		return
	}
	p.moveTo((p.index - 1 + len(p.tracks)) % len(p.tracks))
}

func (p *Player) moveTo(i int) {
	wasPlaying := p.IsPlaying()

	// Landing on the same healthy track rewinds it instead of rebuilding the
	// engine.
	if i == p.index && p.transport.LastError() == nil {
		if _, bound := p.transport.Track(); bound {
			p.transport.Stop()
			p.resumeIntent = wasPlaying
			if wasPlaying {
				p.transport.Play()
			}
			p.notify()
			return
		}
	}

	p.index = i
	p.resumeIntent = wasPlaying
	p.transport.Bind(p.tracks[i])
	if wasPlaying {
		p.transport.Play()
	}
	p.logger.WithFields(logrus.Fields{
		"index":    i,
		"track_id": p.tracks[i].ID,
		"resume":   wasPlaying,
	}).Debug("Switched track")
	p.notify()
}

// SeekTo moves the playhead of the current track.
func (p *Player) SeekTo(seconds float64) {
	if p.disposed || len(p.tracks) == 0 {
		return
	}
	p.transport.Seek(seconds)
	p.notify()
}

// SetVolume sets the playback level.
func (p *Player) SetVolume(v float64) {
	if p.disposed || len(p.tracks) == 0 {
		return
	}
	p.transport.SetVolume(v)
}

// ToggleMute mutes or restores the playback level.
func (p *Player) ToggleMute() {
	if p.disposed || len(p.tracks) == 0 {
		return
	}
	p.transport.ToggleMute()
}

// IsPlaying reports whether the player is playing or intends to play once
// the current track has loaded.
func (p *Player) IsPlaying() bool {
	return !p.disposed && (p.transport.IsPlaying() || p.resumeIntent)
}

// CurrentIndex returns the cursor; it is meaningless for an empty playlist.
func (p *Player) CurrentIndex() int { return p.index }

// Len returns the number of tracks.
func (p *Player) Len() int { return len(p.tracks) }

// Transport exposes the controller bound to the current track.
func (p *Player) Transport() *transport.Controller { return p.transport }

// State snapshots the player.
func (p *Player) State() State {
	ts := p.transport.State()
	return State{
		Tracks:          append([]models.Track(nil), p.tracks...),
		CurrentIndex:    p.index,
		IsPlaying:       p.IsPlaying(),
		Volume:          ts.Volume,
		Muted:           ts.Muted,
		ProgressSeconds: ts.Progress,
		DurationSeconds: ts.Duration,
		Ready:           ts.Ready,
		Unavailable:     ts.Unavailable,
		LastError:       ts.LastError,
	}
}

// Dispose stops playback and destroys the engine. Safe to call repeatedly.
func (p *Player) Dispose() {
	if p.disposed {
		return
	}
	p.disposed = true
	p.resumeIntent = false
	p.unobserve()
	p.transport.Dispose()
	p.listeners = make(map[int]func())
}
