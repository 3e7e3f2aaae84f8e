package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"

	"github.com/everydev1618/examlab"
)

// exitPollInterval is how often ExitCode re-inspects an exec that has not
// finished yet.
const exitPollInterval = 50 * time.Millisecond

// ExecShell is an interactive shell process running in an exercise
// container behind a TTY. Reads return the TTY output; writes go to the
// TTY input.
type ExecShell struct {
	m      *Manager
	engine Engine
	id     int
	execID string
	token  string
	resp   types.HijackedResponse

	closeOnce sync.Once
	closeErr  error
}

// ExerciseID returns the exercise whose container hosts the shell.
func (s *ExecShell) ExerciseID() int {
	return s.id
}

func (s *ExecShell) Read(p []byte) (int, error) {
	return s.resp.Reader.Read(p)
}

func (s *ExecShell) Write(p []byte) (int, error) {
	return s.resp.Conn.Write(p)
}

// Resize changes the TTY window size.
func (s *ExecShell) Resize(ctx context.Context, cols, rows uint) error {
	return s.engine.ContainerExecResize(ctx, s.execID, container.ResizeOptions{
		Height: rows,
		Width:  cols,
	})
}

// ExitCode waits for the shell process to finish and returns its exit code.
func (s *ExecShell) ExitCode(ctx context.Context) (int, error) {
	ticker := time.NewTicker(exitPollInterval)
	defer ticker.Stop()

	for {
		inspect, err := s.engine.ContainerExecInspect(ctx, s.execID)
		if err != nil {
			return -1, fmt.Errorf("inspect exec: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the TTY stream and makes sure the shell and everything it
// spawned are gone. It is safe to call more than once.
func (s *ExecShell) Close() error {
	s.closeOnce.Do(func() {
		s.resp.Close()

		ctx, cancel := context.WithTimeout(context.Background(), s.m.cfg.TeardownTimeout)
		defer cancel()

		inspect, err := s.engine.ContainerExecInspect(ctx, s.execID)
		if err == nil && !inspect.Running {
			return
		}
		// A container that is gone took the shell with it.
		err = s.m.KillMarked(ctx, s.id, SessionMarker, s.token)
		if err != nil && !errors.Is(err, examlab.ErrNotRunning) {
			s.closeErr = fmt.Errorf("terminate shell: %w", err)
		}
	})
	return s.closeErr
}
