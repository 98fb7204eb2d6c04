// Package scheduler provides the cooperative, single-threaded execution model
// every player component runs on. Callbacks never run in parallel with each
// other; they only interleave.
package scheduler

import "time"

// Scheduler queues work onto a single logical thread.
// Post, After and Every are safe to call from any goroutine; the callbacks
// they register always run on the scheduler's thread.
type Scheduler interface {
	Post(fn func())
	After(d time.Duration, fn func()) Timer
	Every(d time.Duration, fn func()) Timer
	Now() time.Time
}

// Timer is a cancellable pending callback. Once Stop returns on the
// scheduler's thread the callback will not run again.
type Timer interface {
	Stop()
}
