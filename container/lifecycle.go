package container

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/everydev1618/examlab"
	"github.com/everydev1618/examlab/internal/metrics"
)

// SessionCloser ends interactive sessions bound to an exercise. The
// terminal bridge implements it.
type SessionCloser interface {
	CloseExercise(id int, reason string)
}

// Exercises reports which exercise ids exist.
type Exercises interface {
	Has(id int) bool
}

// Lifecycle drives exercise containers through start, stop and reset and
// records the resulting status in the store. Calls for the same exercise
// are serialized; different exercises proceed independently.
type Lifecycle struct {
	mgr       *Manager
	store     *examlab.Store
	exercises Exercises
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.RWMutex
	sessions SessionCloser

	locks   keyedMutex
	timeout time.Duration
}

// DefaultOperationTimeout bounds a single lifecycle operation, including an
// image pull on first start.
const DefaultOperationTimeout = 10 * time.Minute

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithLifecycleLogger sets the logger.
func WithLifecycleLogger(l *slog.Logger) LifecycleOption {
	return func(lc *Lifecycle) {
		lc.log = l
	}
}

// WithOperationTimeout bounds each lifecycle operation. Operations ignore
// the caller's cancellation, so d is their only deadline.
func WithOperationTimeout(d time.Duration) LifecycleOption {
	return func(lc *Lifecycle) {
		if d > 0 {
			lc.timeout = d
		}
	}
}

// WithMetrics records lifecycle operations in m.
func WithMetrics(m *metrics.Metrics) LifecycleOption {
	return func(lc *Lifecycle) {
		lc.metrics = m
	}
}

// NewLifecycle creates a lifecycle manager over mgr and store.
func NewLifecycle(mgr *Manager, store *examlab.Store, exercises Exercises, opts ...LifecycleOption) *Lifecycle {
	lc := &Lifecycle{
		mgr:       mgr,
		store:     store,
		exercises: exercises,
		log:       slog.Default(),
		timeout:   DefaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(lc)
	}
	return lc
}

// SetSessionCloser registers the component that owns terminal sessions so
// stop and reset can close them first.
func (lc *Lifecycle) SetSessionCloser(sc SessionCloser) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.sessions = sc
}

func (lc *Lifecycle) closeSessions(id int, reason string) {
	lc.mu.RLock()
	sc := lc.sessions
	lc.mu.RUnlock()
	if sc != nil {
		sc.CloseExercise(id, reason)
	}
}

// Manager returns the underlying container manager.
func (lc *Lifecycle) Manager() *Manager {
	return lc.mgr
}

// ProbeEngine reports engine reachability and version.
func (lc *Lifecycle) ProbeEngine(ctx context.Context) EngineStatus {
	st := lc.mgr.Probe(ctx)
	lc.metrics.SetEngineAvailable(st.Available)
	return st
}

// Start creates and starts the exercise container as needed. Starting an
// already running exercise is a no-op that reports Running.
func (lc *Lifecycle) Start(ctx context.Context, id int) (examlab.Status, error) {
	return lc.do(ctx, "start", id, func(ctx context.Context) error {
		state, err := lc.mgr.Observe(ctx, id)
		if err != nil {
			return err
		}
		if state == StateRunning {
			return lc.store.SetStatus(id, examlab.StatusRunning)
		}

		if err := lc.store.SetStatus(id, examlab.StatusStarting); err != nil {
			return err
		}
		if err := lc.mgr.Ensure(ctx, id); err != nil {
			return err
		}
		return lc.store.SetStatus(id, examlab.StatusRunning)
	})
}

// Stop stops the exercise container. It never removes it and succeeds when
// there is nothing to stop.
func (lc *Lifecycle) Stop(ctx context.Context, id int) (examlab.Status, error) {
	return lc.do(ctx, "stop", id, func(ctx context.Context) error {
		lc.closeSessions(id, "container stopped")
		if err := lc.mgr.Stop(ctx, id); err != nil {
			return err
		}
		return lc.store.SetStatus(id, examlab.StatusStopped)
	})
}

// Reset removes the exercise container whatever its state and provisions a
// fresh one.
func (lc *Lifecycle) Reset(ctx context.Context, id int) (examlab.Status, error) {
	return lc.do(ctx, "reset", id, func(ctx context.Context) error {
		lc.closeSessions(id, "container reset")
		if err := lc.store.SetStatus(id, examlab.StatusStarting); err != nil {
			return err
		}
		if err := lc.mgr.Remove(ctx, id); err != nil {
			return err
		}
		if err := lc.mgr.Ensure(ctx, id); err != nil {
			return err
		}
		return lc.store.SetStatus(id, examlab.StatusRunning)
	})
}

// do runs fn under the exercise lock. fn gets a context that keeps the
// caller's values but not its cancellation.
func (lc *Lifecycle) do(ctx context.Context, op string, id int, fn func(ctx context.Context) error) (examlab.Status, error) {
	if !lc.exercises.Has(id) {
		return "", &examlab.ExerciseError{ExerciseID: id, Op: op, Err: examlab.ErrExerciseNotFound}
	}

	unlock := lc.locks.Lock(id)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lc.timeout)
	defer cancel()

	start := time.Now()
	err := lc.mgr.Ready(ctx)
	if err == nil {
		err = fn(ctx)
	}
	lc.metrics.ObserveLifecycle(op, err, time.Since(start))
	lc.metrics.SetEngineAvailable(lc.mgr.IsAvailable())

	if err != nil {
		status := lc.settle(ctx, id)
		lc.log.Error("lifecycle operation failed", "op", op, "exercise", id, "status", status, "error", err)
		return status, &examlab.ExerciseError{ExerciseID: id, Op: op, Err: err}
	}

	status, _ := lc.store.Status(id)
	lc.log.Info("lifecycle operation", "op", op, "exercise", id, "status", status, "duration", time.Since(start))
	return status, nil
}

// settle re-derives the status from the engine after a failed operation so
// Running is only reported for a container confirmed to run.
func (lc *Lifecycle) settle(ctx context.Context, id int) examlab.Status {
	current, _ := lc.store.Status(id)

	state, err := lc.mgr.Observe(ctx, id)
	var status examlab.Status
	switch {
	case err != nil && errors.Is(err, examlab.ErrEngineUnavailable) && current == examlab.StatusIdle:
		status = examlab.StatusIdle
	case err != nil:
		status = examlab.StatusStopped
	default:
		status = StatusOf(state)
	}

	if status != current {
		_ = lc.store.SetStatus(id, status)
	}
	return status
}

// StatusOf maps an observed container state onto an exercise status.
func StatusOf(s State) examlab.Status {
	switch s {
	case StateRunning:
		return examlab.StatusRunning
	case StateStopped:
		return examlab.StatusStopped
	}
	return examlab.StatusIdle
}

// Reconcile re-probes the engine and corrects the status of every exercise
// that is believed to be running or stopped. Sessions of containers that
// stopped behind our back are closed. Exercises with an operation in
// flight are skipped.
func (lc *Lifecycle) Reconcile(ctx context.Context) {
	if st := lc.ProbeEngine(ctx); !st.Available {
		lc.log.Warn("reconcile: container engine unavailable", "error", st.Error)
		return
	}

	for id, st := range lc.store.Snapshot() {
		if st.Status != examlab.StatusRunning && st.Status != examlab.StatusStopped {
			continue
		}
		unlock, ok := lc.locks.TryLock(id)
		if !ok {
			continue
		}
		lc.reconcileOne(ctx, id)
		unlock()
	}
}

func (lc *Lifecycle) reconcileOne(ctx context.Context, id int) {
	current, _ := lc.store.Status(id)
	if current != examlab.StatusRunning && current != examlab.StatusStopped {
		return
	}

	state, err := lc.mgr.Observe(ctx, id)
	if err != nil {
		lc.log.Warn("reconcile: observe failed", "exercise", id, "error", err)
		return
	}

	observed := StatusOf(state)
	if observed == examlab.StatusIdle && current == examlab.StatusStopped {
		// Stopped never-started exercises have no container; nothing drifted.
		return
	}
	if observed == current {
		return
	}

	lc.log.Info("reconcile: status drift", "exercise", id, "was", current, "now", observed)
	if current == examlab.StatusRunning {
		lc.closeSessions(id, "container is no longer running")
	}
	_ = lc.store.SetStatus(id, observed)
}

// keyedMutex serializes work per exercise id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

func (k *keyedMutex) get(id int) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[int]*sync.Mutex)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	return l
}

// Lock blocks until id is free and returns the unlock function.
func (k *keyedMutex) Lock(id int) func() {
	l := k.get(id)
	l.Lock()
	return l.Unlock
}

// TryLock locks id only if it is free.
func (k *keyedMutex) TryLock(id int) (func(), bool) {
	l := k.get(id)
	if !l.TryLock() {
		return nil, false
	}
	return l.Unlock, true
}
