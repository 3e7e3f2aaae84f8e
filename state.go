package examlab

import (
	"fmt"
	"time"
)

// Status represents the exercise lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
)

// CheckStatus is the aggregate outcome of a check run.
type CheckStatus string

const (
	CheckPass  CheckStatus = "PASS"
	CheckFail  CheckStatus = "FAIL"
	CheckError CheckStatus = "ERROR"
)

// CheckDetail is the outcome of a single probe.
type CheckDetail struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// CheckResult is produced once per check invocation and never modified.
type CheckResult struct {
	Status    CheckStatus   `json:"status"`
	Summary   string        `json:"summary"`
	Timestamp time.Time     `json:"timestamp"`
	Details   []CheckDetail `json:"details"`
}

// Aggregate builds a result from probe details in execution order.
// The status is PASS only when every detail passed.
func Aggregate(details []CheckDetail, at time.Time) CheckResult {
	passed := 0
	for _, d := range details {
		if d.Passed {
			passed++
		}
	}
	status := CheckFail
	if passed == len(details) {
		status = CheckPass
	}
	if details == nil {
		details = []CheckDetail{}
	}
	return CheckResult{
		Status:    status,
		Summary:   fmt.Sprintf("%d/%d checks passed.", passed, len(details)),
		Timestamp: at.UTC(),
		Details:   details,
	}
}

// ErrorResult reports that the check could not be applied at all.
func ErrorResult(summary string, details []CheckDetail, at time.Time) CheckResult {
	if details == nil {
		details = []CheckDetail{}
	}
	return CheckResult{
		Status:    CheckError,
		Summary:   summary,
		Timestamp: at.UTC(),
		Details:   details,
	}
}

// clone returns a deep copy so callers never share the details slice.
func (r *CheckResult) clone() *CheckResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Details = append(make([]CheckDetail, 0, len(r.Details)), r.Details...)
	return &c
}

// ExerciseState is the mutable per-exercise record held by the Store.
type ExerciseState struct {
	Status    Status       `json:"status"`
	LastCheck *CheckResult `json:"lastCheck"`
}
