package examlab

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	ErrEngineUnavailable   = errors.New("container engine unavailable")
	ErrCreateFailed        = errors.New("container create failed")
	ErrStartFailed         = errors.New("container start failed")
	ErrStopFailed          = errors.New("container stop failed")
	ErrRemoveFailed        = errors.New("container remove failed")
	ErrNotRunning          = errors.New("container is not running")
	ErrNoChecker           = errors.New("no checker registered")
	ErrProbeTimeout        = errors.New("probe timed out")
	ErrProbeExecFailed     = errors.New("probe execution failed")
	ErrSessionAttachFailed = errors.New("shell attach failed")
	ErrExerciseNotFound    = errors.New("exercise not found")
)

// ExerciseError wraps an error with the exercise and operation it came from.
type ExerciseError struct {
	ExerciseID int
	Op         string
	Err        error
}

func (e *ExerciseError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("exercise %d: %v", e.ExerciseID, e.Err)
	}
	return fmt.Sprintf("exercise %d %s: %v", e.ExerciseID, e.Op, e.Err)
}

func (e *ExerciseError) Unwrap() error {
	return e.Err
}

// Kind reports which member of the error taxonomy err belongs to, or nil
// when it matches none.
func Kind(err error) error {
	for _, k := range []error{
		ErrEngineUnavailable,
		ErrCreateFailed,
		ErrStartFailed,
		ErrStopFailed,
		ErrRemoveFailed,
		ErrNotRunning,
		ErrNoChecker,
		ErrProbeTimeout,
		ErrProbeExecFailed,
		ErrSessionAttachFailed,
		ErrExerciseNotFound,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
