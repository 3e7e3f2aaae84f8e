package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAttached
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAttached:
		return "attached"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	outputBufferSize = 32 * 1024
	exitCodeTimeout  = 2 * time.Second
)

// Shell is an interactive process with a TTY. *container.ExecShell
// satisfies it.
type Shell interface {
	io.ReadWriter
	Resize(ctx context.Context, cols, rows uint) error
	ExitCode(ctx context.Context) (int, error)
	Close() error
}

// Session is one client attached to one exercise shell. It owns two
// goroutines: an input pump writing client bytes to the shell and an
// output pump forwarding shell output to the client.
type Session struct {
	id         string
	exerciseID int
	log        *slog.Logger
	emit       func(Event)

	mu      sync.Mutex
	state   State
	started bool
	shell   Shell
	cols    uint
	rows    uint
	reason  string

	input     chan []byte
	closing   chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

func newSession(id string, exerciseID int, cols, rows uint, queue int, emit func(Event), log *slog.Logger) *Session {
	return &Session{
		id:         id,
		exerciseID: exerciseID,
		log:        log.With("session", id, "exercise", exerciseID),
		emit:       emit,
		state:      StateDisconnected,
		cols:       cols,
		rows:       rows,
		input:      make(chan []byte, queue),
		closing:    make(chan struct{}),
		finished:   make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ExerciseID returns the exercise the session is attached to.
func (s *Session) ExerciseID() int { return s.exerciseID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Size returns the current terminal geometry.
func (s *Session) Size() (cols, rows uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Done is closed once the session is back in Disconnected and its shell has
// been terminated.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

// attach spawns the shell and starts the pumps. It fails if the session is
// not freshly created or if spawn fails; in the latter case the session ends
// without emitting anything. A session closed before attach ends without
// spawning and returns ErrSessionClosed.
func (s *Session) attach(ctx context.Context, spawn func(ctx context.Context) (Shell, error)) error {
	s.mu.Lock()
	if s.started {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session %s: cannot attach in state %s", s.id, state)
	}
	s.started = true
	if s.state == StateClosing {
		reason := s.reason
		s.endLocked()
		s.mu.Unlock()
		if reason != "" {
			s.emit(ErrorEvent(s.exerciseID, reason))
		}
		return ErrSessionClosed
	}
	s.state = StateConnecting
	s.mu.Unlock()

	sh, err := spawn(ctx)
	if err != nil {
		s.mu.Lock()
		s.endLocked()
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.shell = sh
	if s.state != StateConnecting {
		// Closed while connecting.
		reason := s.reason
		s.mu.Unlock()
		if reason != "" {
			s.emit(ErrorEvent(s.exerciseID, reason))
		}
		s.finish(sh)
		return nil
	}
	s.state = StateAttached
	s.mu.Unlock()

	go s.run(sh)
	return nil
}

// Input queues bytes for the shell. It blocks while the queue is full and
// returns false once the session is closing.
func (s *Session) Input(ctx context.Context, data []byte) bool {
	if len(data) == 0 {
		return true
	}
	select {
	case s.input <- data:
		return true
	case <-s.closing:
		return false
	case <-ctx.Done():
		return false
	}
}

// Resize updates the TTY geometry.
func (s *Session) Resize(ctx context.Context, cols, rows uint) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}
	s.mu.Lock()
	sh, state := s.shell, s.state
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
	if state != StateAttached || sh == nil {
		return nil
	}
	return sh.Resize(ctx, cols, rows)
}

// Close ends the session. A non-empty reason is sent to the client as an
// error event. The shell is terminated before Close returns. Closing a
// session that has not attached yet makes its attach a no-op.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateAttached || (!s.started && s.state != StateClosing) {
		s.state = StateClosing
		s.reason = reason
	}
	sh := s.shell
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.closing) })
	if sh != nil {
		if err := sh.Close(); err != nil {
			s.log.Warn("terminal: shell teardown failed", "error", err)
		}
	}
}

func (s *Session) run(sh Shell) {
	// The output pump decides how the session ended; a failed write to the
	// shell shows up there as a broken stream.
	var err error
	g, gctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return s.pumpInput(gctx, sh) })
	g.Go(func() error {
		err = s.pumpOutput(sh)
		return err
	})
	if werr := g.Wait(); werr != nil && werr != err {
		s.log.Debug("terminal: input pump stopped", "error", werr)
	}

	s.mu.Lock()
	forced := s.state == StateClosing
	reason := s.reason
	s.state = StateClosing
	s.mu.Unlock()

	switch {
	case forced:
		if reason != "" {
			s.emit(ErrorEvent(s.exerciseID, reason))
		}
	case err == nil || errors.Is(err, io.EOF):
		ctx, cancel := context.WithTimeout(context.Background(), exitCodeTimeout)
		code, cerr := sh.ExitCode(ctx)
		cancel()
		if cerr != nil {
			s.emit(ErrorEvent(s.exerciseID, fmt.Sprintf("shell ended: %v", cerr)))
		} else {
			s.emit(ExitEvent(s.exerciseID, code))
		}
	default:
		s.log.Warn("terminal: stream failed", "error", err)
		s.emit(ErrorEvent(s.exerciseID, fmt.Sprintf("terminal stream failed: %v", err)))
	}

	s.finish(sh)
	s.log.Debug("terminal: session ended")
}

// finish terminates the shell and returns the session to Disconnected.
func (s *Session) finish(sh Shell) {
	if err := sh.Close(); err != nil {
		s.log.Warn("terminal: shell teardown failed", "error", err)
	}
	s.mu.Lock()
	s.endLocked()
	s.mu.Unlock()
}

// endLocked moves to the final Disconnected state and releases Done
// waiters. s.mu must be held.
func (s *Session) endLocked() {
	s.closeOnce.Do(func() { close(s.closing) })
	s.state = StateDisconnected
	if !s.ended() {
		close(s.finished)
	}
}

func (s *Session) ended() bool {
	select {
	case <-s.finished:
		return true
	default:
		return false
	}
}

func (s *Session) pumpInput(ctx context.Context, sh Shell) error {
	for {
		select {
		case data := <-s.input:
			if _, err := sh.Write(data); err != nil {
				return fmt.Errorf("writing to shell: %w", err)
			}
		case <-s.closing:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// pumpOutput forwards shell output until the stream ends. It always returns
// a non-nil error so the input pump stops with it; io.EOF means the process
// exited.
func (s *Session) pumpOutput(sh Shell) error {
	buf := make([]byte, outputBufferSize)
	var carry []byte
	for {
		n, err := sh.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			var complete []byte
			complete, carry = splitUTF8(chunk)
			if len(complete) > 0 {
				s.emit(OutputEvent(s.exerciseID, string(complete)))
			}
			carry = append([]byte(nil), carry...)
		}
		if err != nil {
			if len(carry) > 0 {
				s.emit(OutputEvent(s.exerciseID, string(carry)))
			}
			if s.isClosing() {
				return io.EOF
			}
			return err
		}
	}
}

func (s *Session) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// splitUTF8 returns the longest prefix of b that does not end inside a
// multi-byte rune, and the remaining partial rune.
func splitUTF8(b []byte) (complete, partial []byte) {
	// A partial rune is at most UTFMax-1 bytes long.
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if utf8.FullRune(b[start:]) {
			return b, nil
		}
		return b[:start], b[start:]
	}
	return b, nil
}
