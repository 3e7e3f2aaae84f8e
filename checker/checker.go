// Package checker grades exercises by running declarative probes inside
// their containers.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/everydev1618/examlab"
	"github.com/everydev1618/examlab/container"
	"github.com/everydev1618/examlab/internal/metrics"
)

// DefaultProbeTimeout bounds a single probe.
const DefaultProbeTimeout = 10 * time.Second

// Runner executes probe commands in exercise containers. *container.Manager
// satisfies it.
type Runner interface {
	Observe(ctx context.Context, id int) (container.State, error)
	Exec(ctx context.Context, id int, command []string) (*container.ExecResult, error)
}

// Engine runs checkers and records their results as the exercise's last
// check. It never changes the exercise status.
type Engine struct {
	registry *Registry
	runner   Runner
	store    *examlab.Store
	timeout  time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithProbeTimeout sets the per-probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithMetrics records check outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock sets the time source used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a checker engine.
func New(registry *Registry, runner Runner, store *examlab.Store, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		runner:   runner,
		store:    store,
		timeout:  DefaultProbeTimeout,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run grades an exercise. Problems that prevent grading (no checker, the
// container is not running, the engine is unreachable) produce an ERROR
// result rather than an error; the returned error is only set for unknown
// exercises. Every result is stored as the exercise's last check.
func (e *Engine) Run(ctx context.Context, id int) (examlab.CheckResult, error) {
	if _, ok := e.store.Get(id); !ok {
		return examlab.CheckResult{}, &examlab.ExerciseError{ExerciseID: id, Op: "check", Err: examlab.ErrExerciseNotFound}
	}

	result := e.run(ctx, id)

	if err := e.store.SetLastCheck(id, result); err != nil {
		return result, &examlab.ExerciseError{ExerciseID: id, Op: "check", Err: err}
	}
	e.metrics.ObserveCheck(string(result.Status))
	e.log.Info("check completed", "exercise", id, "status", result.Status, "summary", result.Summary)
	return result, nil
}

func (e *Engine) run(ctx context.Context, id int) examlab.CheckResult {
	probes, ok := e.registry.Probes(id)
	if !ok {
		return examlab.ErrorResult("No checker is defined for this exercise.", nil, e.now())
	}

	state, err := e.runner.Observe(ctx, id)
	switch {
	case errors.Is(err, examlab.ErrEngineUnavailable):
		return examlab.ErrorResult("Container engine is unavailable.", []examlab.CheckDetail{
			{Name: "Container engine", Passed: false, Message: err.Error()},
		}, e.now())
	case err != nil:
		return examlab.ErrorResult("Could not inspect the exercise container.", []examlab.CheckDetail{
			{Name: "Container", Passed: false, Message: err.Error()},
		}, e.now())
	case state != container.StateRunning:
		return examlab.ErrorResult("Container is not running. Start the exercise first.", []examlab.CheckDetail{
			{Name: "Container running", Passed: false, Message: fmt.Sprintf("container is %s", state)},
		}, e.now())
	}

	details := make([]examlab.CheckDetail, 0, len(probes))
	for _, p := range probes {
		details = append(details, e.probe(ctx, id, p))
	}
	return examlab.Aggregate(details, e.now())
}

// probe runs one probe under the probe timeout. Timeouts and execution
// failures produce a failed detail.
func (e *Engine) probe(ctx context.Context, id int, p Probe) examlab.CheckDetail {
	pctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	res, err := e.runner.Exec(pctx, id, p.Command)
	if err != nil {
		e.metrics.ObserveProbe(false, time.Since(start))
		msg := fmt.Sprintf("Check error: %v", err)
		if errors.Is(err, examlab.ErrProbeTimeout) {
			msg = fmt.Sprintf("Check timed out after %s", e.timeout)
		}
		e.log.Warn("probe failed", "exercise", id, "probe", p.Name, "error", err)
		return examlab.CheckDetail{Name: p.Name, Passed: false, Message: msg}
	}

	passed, msg := p.Evaluate(res)
	e.metrics.ObserveProbe(passed, time.Since(start))
	return examlab.CheckDetail{Name: p.Name, Passed: passed, Message: msg}
}
