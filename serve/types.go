package serve

import (
	"time"

	"github.com/everydev1618/examlab"
)

// ExerciseResponse is the API representation of an exercise and its state.
type ExerciseResponse struct {
	ID           int                  `json:"id"`
	Group        examlab.Group        `json:"group"`
	Title        string               `json:"title"`
	Instructions string               `json:"instructions"`
	Status       examlab.Status       `json:"status"`
	LastCheck    *examlab.CheckResult `json:"lastCheck"`
}

// ActionResponse is returned by start, stop and reset.
type ActionResponse struct {
	OK     bool           `json:"ok"`
	Status examlab.Status `json:"status"`
	Error  string         `json:"error,omitempty"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
	Watchers int    `json:"watchers"`
}

// StatusEvent is an event on the /events stream. ExerciseID is 0 for a
// snapshot of every exercise.
type StatusEvent struct {
	Type       string    `json:"type"`
	ExerciseID int       `json:"exerciseId"`
	Data       any       `json:"data,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ExerciseStatus is one row of a snapshot event.
type ExerciseStatus struct {
	ID        int                  `json:"id"`
	Status    examlab.Status       `json:"status"`
	LastCheck *examlab.CheckResult `json:"lastCheck"`
}

// Event stream types.
const (
	EventExerciseSnapshot = "exercise.snapshot"
	EventExerciseStatus   = "exercise.status"
	EventExerciseChecked  = "exercise.checked"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func exerciseToResponse(ex examlab.Exercise, st examlab.ExerciseState) ExerciseResponse {
	return ExerciseResponse{
		ID:           ex.ID,
		Group:        ex.Group,
		Title:        ex.Title,
		Instructions: ex.Instructions,
		Status:       st.Status,
		LastCheck:    st.LastCheck,
	}
}
