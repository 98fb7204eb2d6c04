package player

import (
	"sync"
	"time"

	"layerdeck/internal/layersync"
	"layerdeck/internal/playlist"
)

// Snapshot is the observable state of one session's players
type Snapshot struct {
	SessionID string           `json:"sessionId"`
	Playlist  playlist.State   `json:"playlist"`
	Layer     *layersync.State `json:"layer,omitempty"`
	Version   uint64           `json:"version"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// StateManager holds the latest snapshot and fans it out to subscribers.
// Updates come from the scheduler; reads and subscriptions may come from
// any goroutine.
type StateManager struct {
	state     *Snapshot
	mutex     sync.RWMutex
	listeners []chan *Snapshot
	closed    bool
}

// NewStateManager creates a state manager for a session
func NewStateManager(sessionID string) *StateManager {
	return &StateManager{
		state: &Snapshot{
			SessionID: sessionID,
			Playlist:  playlist.State{Volume: 1.0},
			UpdatedAt: time.Now(),
		},
		listeners: make([]chan *Snapshot, 0),
	}
}

// GetState returns the current snapshot (thread-safe)
func (sm *StateManager) GetState() *Snapshot {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	stateCopy := *sm.state
	return &stateCopy
}

// UpdatePlaylist replaces the playlist part of the snapshot
func (sm *StateManager) UpdatePlaylist(st playlist.State) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.state.Playlist = st
	sm.touch()
}

// UpdateLayer replaces the layer part of the snapshot; nil clears it
func (sm *StateManager) UpdateLayer(st *layersync.State) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.state.Layer = st
	sm.touch()
}

// Subscribe adds a listener for state changes. The channel is closed when
// the listener falls behind, unsubscribes, or the manager is closed.
func (sm *StateManager) Subscribe() <-chan *Snapshot {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	ch := make(chan *Snapshot, 10)
	if sm.closed {
		close(ch)
		return ch
	}
	sm.listeners = append(sm.listeners, ch)
	return ch
}

// Unsubscribe removes a listener (call this when done to prevent memory leaks)
func (sm *StateManager) Unsubscribe(ch <-chan *Snapshot) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for i, listener := range sm.listeners {
		if listener == ch {
			close(listener)
			sm.listeners = append(sm.listeners[:i], sm.listeners[i+1:]...)
			break
		}
	}
}

// Close drops every subscriber
func (sm *StateManager) Close() {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.closed {
		return
	}
	sm.closed = true
	for _, listener := range sm.listeners {
		close(listener)
	}
	sm.listeners = nil
}

// touch stamps the snapshot and notifies listeners (must be called with lock held)
func (sm *StateManager) touch() {
	sm.state.Version++
	sm.state.UpdatedAt = time.Now()

	stateCopy := *sm.state
	kept := sm.listeners[:0]
	for _, listener := range sm.listeners {
		select {
		case listener <- &stateCopy:
			kept = append(kept, listener)
		default:
			// Slow consumer, drop it
			close(listener)
		}
	}
	sm.listeners = kept
}
