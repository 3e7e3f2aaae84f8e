package serve

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/everydev1618/examlab"
)

const (
	maxWatchers   = 50
	watcherBuffer = 64
)

// Watcher is one event stream client. exercise 0 watches every exercise.
type Watcher struct {
	events   chan StatusEvent
	exercise int

	// stale is set when an event was dropped on a full buffer. Status is
	// state rather than history, so the stream answers it with a snapshot.
	stale atomic.Bool
}

func (w *Watcher) wants(id int) bool {
	return w.exercise == 0 || w.exercise == id
}

// StatusFeed fans store changes out to event stream clients.
type StatusFeed struct {
	mu       sync.RWMutex
	watchers map[*Watcher]struct{}
	closed   bool
}

// NewStatusFeed creates an empty feed.
func NewStatusFeed() *StatusFeed {
	return &StatusFeed{watchers: make(map[*Watcher]struct{})}
}

// Watch registers a client for changes to exercise, or to every exercise
// when exercise is 0. It returns nil when the feed is full or closed. The
// caller must Unwatch when done.
func (f *StatusFeed) Watch(exercise int) *Watcher {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || len(f.watchers) >= maxWatchers {
		return nil
	}
	w := &Watcher{events: make(chan StatusEvent, watcherBuffer), exercise: exercise}
	f.watchers[w] = struct{}{}
	return w
}

// Unwatch removes w and closes its channel.
func (f *StatusFeed) Unwatch(w *Watcher) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.watchers[w]; ok {
		delete(f.watchers, w)
		close(w.events)
	}
}

// Watchers returns the number of connected clients.
func (f *StatusFeed) Watchers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.watchers)
}

// Close ends every stream.
func (f *StatusFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for w := range f.watchers {
		close(w.events)
		delete(f.watchers, w)
	}
}

// PublishChange forwards a store change to the clients watching its
// exercise. It never blocks; a client with a full buffer is marked stale.
func (f *StatusFeed) PublishChange(c examlab.Change) {
	event, ok := changeEvent(c)
	if !ok {
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for w := range f.watchers {
		if !w.wants(c.ExerciseID) {
			continue
		}
		select {
		case w.events <- event:
		default:
			w.stale.Store(true)
		}
	}
}

func changeEvent(c examlab.Change) (StatusEvent, bool) {
	event := StatusEvent{ExerciseID: c.ExerciseID, Timestamp: time.Now()}
	switch c.Kind {
	case examlab.ChangeStatus:
		event.Type = EventExerciseStatus
		event.Data = map[string]examlab.Status{"status": c.State.Status}
	case examlab.ChangeLastCheck:
		event.Type = EventExerciseChecked
		event.Data = c.State.LastCheck
	default:
		return StatusEvent{}, false
	}
	return event, true
}
