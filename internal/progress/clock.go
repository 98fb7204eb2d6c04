// Package progress samples playback position at a fixed cadence.
package progress

import (
	"time"

	"layerdeck/internal/scheduler"
)

// DefaultInterval is the sampling cadence used when none is configured.
const DefaultInterval = time.Second

// Clock polls sample while running and hands each reading to publish. A
// Clock belongs to exactly one engine binding; once closed it can never be
// restarted, so it cannot outlive the engine it samples.
type Clock struct {
	sched    scheduler.Scheduler
	interval time.Duration
	sample   func() float64
	publish  func(seconds float64)

	timer  scheduler.Timer
	closed bool
}

// NewClock creates a stopped clock.
func NewClock(sched scheduler.Scheduler, interval time.Duration, sample func() float64, publish func(float64)) *Clock {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Clock{
		sched:    sched,
		interval: interval,
		sample:   sample,
		publish:  publish,
	}
}

// Start (re)arms the clock and publishes the current position immediately.
func (c *Clock) Start() {
	if c.closed {
		return
	}
	c.Stop()
	c.tick()
	c.timer = c.sched.Every(c.interval, c.tick)
}

// Stop disarms the clock. It may be started again.
func (c *Clock) Stop() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Close stops the clock permanently.
func (c *Clock) Close() {
	c.Stop()
	c.closed = true
}

// Running reports whether the clock is armed.
func (c *Clock) Running() bool {
	return c.timer != nil
}

func (c *Clock) tick() {
	if c.closed {
		return
	}
	c.publish(c.sample())
}
