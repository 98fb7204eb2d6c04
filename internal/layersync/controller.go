// Package layersync runs a layer clip against its main track as one unit.
// The two engines play independently; joint commands issue both transport
// commands back to back on the scheduler, so they start and stop together
// at command granularity only.
package layersync

import (
	"sort"

	"layerdeck/internal/transport"

	"github.com/sirupsen/logrus"
)

// State is a snapshot of both transports and the joint flag.
type State struct {
	Main           transport.State `json:"main"`
	Layer          transport.State `json:"layer"`
	JointlyPlaying bool            `json:"jointlyPlaying"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithBorrowedMain marks the main transport as owned elsewhere; Dispose
// leaves it running.
func WithBorrowedMain() Option {
	return func(c *Controller) { c.ownsMain = false }
}

// WithBorrowedLayer marks the layer transport as owned elsewhere.
func WithBorrowedLayer() Option {
	return func(c *Controller) { c.ownsLayer = false }
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(c *Controller) { c.logger = logger }
}

// Controller pairs a main and a layer transport. Must be used from the
// scheduler.
type Controller struct {
	main      *transport.Controller
	layer     *transport.Controller
	ownsMain  bool
	ownsLayer bool
	logger    *logrus.Entry

	jointlyPlaying bool
	unobserve      []func()
	listeners      map[int]func()
	nextID         int
	disposed       bool
}

// New pairs main and layer. By default the controller owns both.
func New(main, layer *transport.Controller, opts ...Option) *Controller {
	c := &Controller{
		main:      main,
		layer:     layer,
		ownsMain:  true,
		ownsLayer: true,
		listeners: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	c.logger = c.logger.WithField("module", "layersync")

	c.unobserve = []func(){
		main.Observe(c.handleEvent),
		layer.Observe(c.handleEvent),
	}
	c.jointlyPlaying = c.bothPlaying()
	return c
}

func (c *Controller) handleEvent(ev transport.Event) {
	if c.disposed {
		return
	}
	c.refresh()
}

// Observe registers fn to be called after every change and returns a
// function that removes it.
func (c *Controller) Observe(fn func()) func() {
	if c.disposed {
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() { delete(c.listeners, id) }
}

func (c *Controller) bothPlaying() bool {
	return c.main.IsPlaying() && c.layer.IsPlaying()
}

// refresh recomputes the joint flag from the engines and notifies.
func (c *Controller) refresh() {
	joint := c.bothPlaying()
	if joint != c.jointlyPlaying {
		c.logger.WithField("jointly_playing", joint).Debug("Joint playback changed")
	}
	c.jointlyPlaying = joint

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
			fn()
		}
	}
}

// PlayBoth pauses both transports if both are playing and otherwise plays
// both. The decision is taken once, before either command runs.
func (c *Controller) PlayBoth() {
	if c.disposed {
		return
	}
	if c.bothPlaying() {
		c.main.Pause()
		c.layer.Pause()
	} else {
		c.main.Play()
		c.layer.Play()
	}
	c.refresh()
}

// StopBoth stops and rewinds both transports.
func (c *Controller) StopBoth() {
	if c.disposed {
		return
	}
	c.main.Stop()
	c.layer.Stop()
	c.refresh()
}

func (c *Controller) PlayMain() { c.single(c.main.Play) }

func (c *Controller) PauseMain() { c.single(c.main.Pause) }

func (c *Controller) PlayLayer() { c.single(c.layer.Play) }

func (c *Controller) PauseLayer() { c.single(c.layer.Pause) }

func (c *Controller) single(cmd func()) {
	if c.disposed {
		return
	}
	cmd()
	c.refresh()
}

// JointlyPlaying reports whether both engines are playing.
func (c *Controller) JointlyPlaying() bool {
	return !c.disposed && c.jointlyPlaying
}

// Main returns the main transport.
func (c *Controller) Main() *transport.Controller { return c.main }

// Layer returns the layer transport.
func (c *Controller) Layer() *transport.Controller { return c.layer }

// State snapshots both transports.
func (c *Controller) State() State {
	return State{
		Main:           c.main.State(),
		Layer:          c.layer.State(),
		JointlyPlaying: c.JointlyPlaying(),
	}
}

// Dispose detaches from both transports and disposes the ones it owns.
func (c *Controller) Dispose() {
	if c.disposed {
		return
	}
	c.disposed = true
	c.jointlyPlaying = false
	for _, unobserve := range c.unobserve {
		unobserve()
	}
	c.unobserve = nil
	c.listeners = make(map[int]func())

	if c.ownsLayer {
		c.layer.Dispose()
	}
	if c.ownsMain {
		c.main.Dispose()
	}
}
