package serve

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/everydev1618/examlab"
)

// handleEvents streams exercise status and check results. The stream opens
// with a snapshot of the watched exercises and repeats it whenever the
// client fell behind. ?exercise=N narrows the stream to one exercise.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	exercise := 0
	if raw := r.URL.Query().Get("exercise"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid exercise id", Details: raw})
			return
		}
		if _, found := s.catalog.Get(id); !found {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: examlab.ErrExerciseNotFound.Error()})
			return
		}
		exercise = id
	}

	// Watch before snapshotting so no change falls between the two.
	watch := s.feed.Watch(exercise)
	if watch == nil {
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}
	defer s.feed.Unwatch(watch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Send initial comment so EventSource fires onopen
	fmt.Fprintf(w, ": connected\n\n")
	writeEvent(w, s.snapshotEvent(exercise))
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
		case event, ok := <-watch.events:
			if !ok {
				return
			}
			writeEvent(w, event)
		}
		if watch.stale.Swap(false) {
			writeEvent(w, s.snapshotEvent(exercise))
		}
		flusher.Flush()
	}
}

// snapshotEvent reports the current state of the watched exercises in
// catalog order.
func (s *Server) snapshotEvent(exercise int) StatusEvent {
	rows := s.store.Snapshot()
	states := make([]ExerciseStatus, 0, len(rows))
	for _, ex := range s.catalog.All() {
		if exercise != 0 && ex.ID != exercise {
			continue
		}
		st := rows[ex.ID]
		states = append(states, ExerciseStatus{ID: ex.ID, Status: st.Status, LastCheck: st.LastCheck})
	}
	return StatusEvent{
		Type:       EventExerciseSnapshot,
		ExerciseID: exercise,
		Data:       states,
		Timestamp:  time.Now(),
	}
}

func writeEvent(w http.ResponseWriter, event StatusEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
}
