package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/everydev1618/examlab"
	"github.com/everydev1618/examlab/container"
	"github.com/everydev1618/examlab/internal/metrics"
)

const (
	defaultCols       = 80
	defaultRows       = 24
	defaultInputQueue = 64
)

// Close reasons sent to clients.
const (
	ReasonReplaced = "session replaced by a newer connection"
	ReasonShutdown = "server shutting down"
)

// SpawnFunc starts an interactive shell in an exercise container.
type SpawnFunc func(ctx context.Context, exerciseID int, cols, rows uint) (Shell, error)

var _ Shell = (*container.ExecShell)(nil)

// ManagerSpawner returns a SpawnFunc backed by the container manager.
func ManagerSpawner(m *container.Manager) SpawnFunc {
	return func(ctx context.Context, exerciseID int, cols, rows uint) (Shell, error) {
		return m.AttachShell(ctx, exerciseID, container.ShellOptions{Cols: cols, Rows: rows})
	}
}

// StatusSource reports the lifecycle status of an exercise.
type StatusSource interface {
	Status(id int) (examlab.Status, bool)
}

// Bridge attaches client connections to exercise shells. It keeps at most
// one session per exercise: a newer attach evicts the older session.
type Bridge struct {
	spawn   SpawnFunc
	status  StatusSource
	log     *slog.Logger
	metrics *metrics.Metrics
	queue   int

	mu       sync.Mutex
	sessions map[int]*Session
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.log = l
	}
}

// WithMetrics records session counts in m.
func WithMetrics(m *metrics.Metrics) BridgeOption {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithInputQueue sets how many input frames may wait for the shell before
// the connection reader blocks.
func WithInputQueue(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.queue = n
		}
	}
}

// NewBridge creates a terminal bridge.
func NewBridge(spawn SpawnFunc, status StatusSource, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		spawn:    spawn,
		status:   status,
		log:      slog.Default(),
		queue:    defaultInputQueue,
		sessions: make(map[int]*Session),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Session returns the live session for an exercise.
func (b *Bridge) Session(exerciseID int) (*Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[exerciseID]
	return s, ok
}

// Active returns the number of live sessions.
func (b *Bridge) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// CloseExercise closes the session attached to an exercise, if any, and
// waits for its shell to be terminated.
func (b *Bridge) CloseExercise(exerciseID int, reason string) {
	b.mu.Lock()
	s, ok := b.sessions[exerciseID]
	b.mu.Unlock()
	if !ok {
		return
	}
	b.log.Info("terminal: closing session", "exercise", exerciseID, "session", s.ID(), "reason", reason)
	s.Close(reason)
	<-s.Done()
}

// CloseAll closes every session.
func (b *Bridge) CloseAll(reason string) {
	b.mu.Lock()
	all := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		all = append(all, s)
	}
	b.mu.Unlock()

	for _, s := range all {
		s.Close(reason)
	}
	for _, s := range all {
		<-s.Done()
	}
}

// register makes s the session of its exercise and returns the one it
// replaces.
func (b *Bridge) register(s *Session) *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.sessions[s.ExerciseID()]
	b.sessions[s.ExerciseID()] = s
	return old
}

func (b *Bridge) unregister(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessions[s.ExerciseID()] == s {
		delete(b.sessions, s.ExerciseID())
	}
}

// Serve runs the protocol on one connection until the client goes away or
// ctx is cancelled. The connection carries at most one session at a time;
// its shell is terminated before Serve returns.
func (b *Bridge) Serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &connection{bridge: b, conn: conn, ctx: ctx}
	defer c.detach("")

	for {
		ev, err := conn.ReadEvent(ctx)
		if err != nil {
			if errors.Is(err, ErrConnClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch ev.Type {
		case EventAttach:
			c.attach(ev)
		case EventInput:
			c.input(ev)
		case EventResize:
			c.resize(ev)
		default:
			c.write(ErrorEvent(ev.ExerciseID, fmt.Sprintf("unknown message type %q", ev.Type)))
		}
	}
}

// connection is the per-client side of the bridge.
type connection struct {
	bridge  *Bridge
	conn    Conn
	ctx     context.Context
	session *Session
}

func (c *connection) write(ev Event) {
	if err := c.conn.WriteEvent(c.ctx, ev); err != nil {
		c.bridge.log.Debug("terminal: write failed", "type", ev.Type, "error", err)
	}
}

func (c *connection) attach(ev Event) {
	b := c.bridge
	c.detach("")

	status, ok := b.status.Status(ev.ExerciseID)
	if !ok {
		b.metrics.SessionRejected("unknown_exercise")
		c.write(ErrorEvent(ev.ExerciseID, examlab.ErrExerciseNotFound.Error()))
		return
	}
	if status != examlab.StatusRunning {
		b.metrics.SessionRejected("not_running")
		c.write(ErrorEvent(ev.ExerciseID, fmt.Sprintf("%s: start the exercise first", examlab.ErrNotRunning)))
		return
	}

	cols, rows := ev.Cols, ev.Rows
	if cols == 0 || rows == 0 {
		cols, rows = defaultCols, defaultRows
	}

	s := newSession(uuid.NewString(), ev.ExerciseID, cols, rows, b.queue, c.write, b.log)
	if old := b.register(s); old != nil {
		old.Close(ReasonReplaced)
		<-old.Done()
	}

	err := s.attach(c.ctx, func(ctx context.Context) (Shell, error) {
		return b.spawn(ctx, ev.ExerciseID, cols, rows)
	})
	if errors.Is(err, ErrSessionClosed) {
		// Closed by the lifecycle during eviction; the reason was emitted.
		b.unregister(s)
		b.metrics.SessionRejected("closed")
		return
	}
	if err != nil {
		b.unregister(s)
		b.metrics.SessionRejected("attach_failed")
		b.log.Warn("terminal: attach failed", "exercise", ev.ExerciseID, "error", err)
		c.write(ErrorEvent(ev.ExerciseID, attachMessage(err)))
		return
	}

	b.metrics.SessionAttached()
	b.log.Info("terminal: session attached", "exercise", ev.ExerciseID, "session", s.ID(), "cols", cols, "rows", rows)
	c.session = s
	go func() {
		<-s.Done()
		b.unregister(s)
		b.metrics.SessionClosed()
	}()
}

func attachMessage(err error) string {
	switch {
	case errors.Is(err, examlab.ErrNotRunning):
		return fmt.Sprintf("%s: start the exercise first", examlab.ErrNotRunning)
	case errors.Is(err, examlab.ErrEngineUnavailable):
		return examlab.ErrEngineUnavailable.Error()
	}
	return fmt.Sprintf("%s: %v", examlab.ErrSessionAttachFailed, err)
}

func (c *connection) current(exerciseID int) *Session {
	s := c.session
	if s == nil || s.ExerciseID() != exerciseID || s.State() != StateAttached {
		return nil
	}
	return s
}

func (c *connection) input(ev Event) {
	s := c.current(ev.ExerciseID)
	if s == nil {
		c.write(ErrorEvent(ev.ExerciseID, "no terminal session attached"))
		return
	}
	s.Input(c.ctx, []byte(ev.Data))
}

func (c *connection) resize(ev Event) {
	s := c.current(ev.ExerciseID)
	if s == nil {
		return
	}
	if err := s.Resize(c.ctx, ev.Cols, ev.Rows); err != nil {
		c.bridge.log.Debug("terminal: resize failed", "exercise", ev.ExerciseID, "error", err)
	}
}

// detach ends the connection's current session.
func (c *connection) detach(reason string) {
	s := c.session
	if s == nil {
		return
	}
	c.session = nil
	s.Close(reason)
	<-s.Done()
}
