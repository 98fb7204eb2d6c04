package scheduler

import (
	"sync"
	"time"
)

// Manual is a deterministic Scheduler driven by virtual time. Nothing runs
// until RunPending or Advance is called, and callbacks run on the calling
// goroutine.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	queue  []func()
	timers []*manualTimer
	seq    int
}

// NewManual creates a manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

type manualTimer struct {
	m       *Manual
	at      time.Time
	period  time.Duration
	fn      func()
	seq     int
	stopped bool
}

func (t *manualTimer) Stop() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.stopped = true
	t.m.removeLocked(t)
}

// Post queues fn for the next RunPending.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, fn)
}

// After registers fn to fire once d of virtual time from now.
func (m *Manual) After(d time.Duration, fn func()) Timer {
	return m.addTimer(d, 0, fn)
}

// Every registers fn to fire every d of virtual time.
func (m *Manual) Every(d time.Duration, fn func()) Timer {
	return m.addTimer(d, d, fn)
}

func (m *Manual) addTimer(d, period time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now.Add(d), period: period, fn: fn, seq: m.seq}
	m.timers = append(m.timers, t)
	return t
}

// Now returns the virtual clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// RunPending runs queued tasks, including tasks queued while running, and
// returns how many ran.
func (m *Manual) RunPending() int {
	ran := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return ran
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
		ran++
	}
}

// Advance moves virtual time forward by d, firing due timers in order and
// draining queued tasks between them.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.RunPending()

		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			break
		}
		m.now = next.at
		if next.period > 0 {
			next.at = next.at.Add(next.period)
		} else {
			next.stopped = true
			m.removeLocked(next)
		}
		fn := next.fn
		m.mu.Unlock()

		fn()
	}
	m.RunPending()
}

// ActiveTimers reports how many timers are still armed.
func (m *Manual) ActiveTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	var next *manualTimer
	for _, t := range m.timers {
		if t.stopped || t.at.After(target) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (m *Manual) removeLocked(t *manualTimer) {
	for i, existing := range m.timers {
		if existing == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}
