package serve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/everydev1618/examlab"
)

// --- Engine ---

func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lifecycle.ProbeEngine(r.Context()))
}

// --- Exercises ---

func (s *Server) handleListExercises(w http.ResponseWriter, r *http.Request) {
	rows := s.store.Snapshot()
	exercises := s.catalog.All()

	resp := make([]ExerciseResponse, 0, len(exercises))
	for _, ex := range exercises {
		resp = append(resp, exerciseToResponse(ex, rows[ex.ID]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetExercise(w http.ResponseWriter, r *http.Request) {
	id, ok := exerciseID(w, r)
	if !ok {
		return
	}
	ex, found := s.catalog.Get(id)
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: examlab.ErrExerciseNotFound.Error()})
		return
	}
	st, _ := s.store.Get(id)
	writeJSON(w, http.StatusOK, exerciseToResponse(ex, st))
}

type lifecycleFunc func(ctx context.Context, id int) (examlab.Status, error)

// handleLifecycle adapts a start, stop or reset operation. The resulting
// status is reported even when the operation failed.
func (s *Server) handleLifecycle(op string, fn lifecycleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := exerciseID(w, r)
		if !ok {
			return
		}

		status, err := fn(r.Context(), id)
		if err != nil {
			code := statusCode(err)
			if code == http.StatusNotFound {
				writeJSON(w, code, ErrorResponse{Error: examlab.ErrExerciseNotFound.Error()})
				return
			}
			s.log.Warn("exercise "+op+" failed", "exercise", id, "error", err)
			writeJSON(w, code, ActionResponse{OK: false, Status: status, Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, ActionResponse{OK: true, Status: status})
	}
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := exerciseID(w, r)
	if !ok {
		return
	}

	result, err := s.checker.Run(r.Context(), id)
	if err != nil {
		writeJSON(w, statusCode(err), ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Uptime:   time.Since(s.startedAt).Round(time.Second).String(),
		Sessions: s.terminal.Active(),
		Watchers: s.feed.Watchers(),
	})
}

// --- Helpers ---

// exerciseID parses the {id} path parameter, writing a 400 on failure.
func exerciseID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid exercise id", Details: raw})
		return 0, false
	}
	return id, true
}

// statusCode maps the error taxonomy onto HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, examlab.ErrExerciseNotFound):
		return http.StatusNotFound
	case errors.Is(err, examlab.ErrEngineUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
