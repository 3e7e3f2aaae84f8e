package container

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/examlab"
	"github.com/everydev1618/examlab/internal/logging"
)

func newTestManager(t *testing.T, eng *fakeEngine) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TeardownTimeout = time.Second
	m, err := NewManager(cfg, WithEngine(eng), WithLogger(logging.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestNewManagerProbe(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng)

	assert.True(t, m.IsAvailable())
	st := m.Probe(context.Background())
	assert.True(t, st.Available)
	assert.Equal(t, "27.0.3", st.Version)
	assert.Empty(t, st.Error)
}

func TestProbeIgnoresCallerCancel(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := m.Probe(ctx)
	assert.True(t, st.Available)
	assert.Empty(t, st.Error)
	assert.True(t, m.IsAvailable())
}

func TestManagerEngineUnavailable(t *testing.T) {
	eng := newFakeEngine()
	eng.pingErr = errors.New("dial unix /var/run/docker.sock: connect: no such file or directory")
	m := newTestManager(t, eng)

	assert.False(t, m.IsAvailable())
	st := m.Probe(context.Background())
	assert.False(t, st.Available)
	assert.Contains(t, st.Error, "docker.sock")

	err := m.Ensure(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, examlab.ErrEngineUnavailable))

	creates, _, _ := eng.counts()
	assert.Zero(t, creates)
}

func TestManagerConnectFailure(t *testing.T) {
	refuse := func(m *Manager) {
		m.connect = func() (Engine, error) { return nil, errors.New("could not connect to Docker daemon") }
	}
	m, err := NewManager(DefaultConfig(), WithLogger(logging.NewNop()), refuse)
	require.NoError(t, err)
	assert.False(t, m.IsAvailable())

	st := m.Probe(context.Background())
	assert.False(t, st.Available)
	assert.Equal(t, "could not connect to Docker daemon", st.Error)
}

func TestManagerEngineRecovers(t *testing.T) {
	eng := newFakeEngine()
	eng.pingErr = errors.New("daemon down")
	m := newTestManager(t, eng)
	require.False(t, m.IsAvailable())

	eng.mu.Lock()
	eng.pingErr = nil
	eng.mu.Unlock()

	require.NoError(t, m.Ensure(context.Background(), 2))
	assert.True(t, m.IsAvailable())
}

func TestEnsureCreatesOnce(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng)
	ctx := context.Background()

	require.NoError(t, m.Ensure(ctx, 4))
	require.NoError(t, m.Ensure(ctx, 4))

	creates, starts, _ := eng.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, eng.pulls, "image pulled on first use only")

	state, err := m.Observe(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)
	assert.Contains(t, eng.containers, "task-4")
}

func TestEnsureStartsStopped(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng)
	ctx := context.Background()

	require.NoError(t, m.Ensure(ctx, 5))
	require.NoError(t, m.Stop(ctx, 5))

	state, err := m.Observe(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)

	require.NoError(t, m.Ensure(ctx, 5))
	creates, starts, _ := eng.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 2, starts)
}

func TestEnsureErrors(t *testing.T) {
	ctx := context.Background()

	eng := newFakeEngine()
	eng.createErr = errors.New("invalid reference format")
	m := newTestManager(t, eng)
	err := m.Ensure(ctx, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, examlab.ErrCreateFailed))

	eng = newFakeEngine()
	eng.startErr = errors.New("OCI runtime create failed")
	m = newTestManager(t, eng)
	err = m.Ensure(ctx, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, examlab.ErrStartFailed))
}

func TestStopAbsentIsNoop(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng)

	require.NoError(t, m.Stop(context.Background(), 9))
	assert.Zero(t, eng.stops)
}

func TestStopKeepsContainer(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng)
	ctx := context.Background()

	require.NoError(t, m.Ensure(ctx, 3))
	require.NoError(t, m.Stop(ctx, 3))
	require.NoError(t, m.Stop(ctx, 3))

	assert.Equal(t, 1, eng.stops)
	assert.Contains(t, eng.containers, "task-3")
}

func TestRemove(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng)
	ctx := context.Background()

	require.NoError(t, m.Remove(ctx, 6), "removing an absent container is fine")
	require.NoError(t, m.Ensure(ctx, 6))
	require.NoError(t, m.Remove(ctx, 6))

	state, err := m.Observe(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, state)

	eng.removeErr = errors.New("device or resource busy")
	require.NoError(t, m.Ensure(ctx, 6))
	err = m.Remove(ctx, 6)
	require.Error(t, err)
	assert.True(t, errors.Is(err, examlab.ErrRemoveFailed))
}

func TestExec(t *testing.T) {
	eng := newFakeEngine()
	eng.onExec = func(cmd []string) execOutcome {
		if cmd[0] == "hostname" {
			return execOutcome{stdout: "node1.example.com\n"}
		}
		return execOutcome{exitCode: 1, stderr: "id: 'bob': no such user\n"}
	}
	m := newTestManager(t, eng)
	ctx := context.Background()
	require.NoError(t, m.Ensure(ctx, 1))

	res, err := m.Exec(ctx, 1, []string{"hostname", "-f"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "node1.example.com\n", res.Stdout)

	res, err = m.Exec(ctx, 1, []string{"id", "-u", "bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "no such user")
}

func TestExecNotRunning(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng)
	ctx := context.Background()

	_, err := m.Exec(ctx, 1, []string{"true"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, examlab.ErrNotRunning))

	require.NoError(t, m.Ensure(ctx, 1))
	require.NoError(t, m.Stop(ctx, 1))
	_, err = m.Exec(ctx, 1, []string{"true"})
	assert.True(t, errors.Is(err, examlab.ErrNotRunning))
}

func TestExecTimeoutKillsProbe(t *testing.T) {
	eng := newFakeEngine()
	eng.onExec = func(cmd []string) execOutcome {
		return execOutcome{hang: true}
	}
	m := newTestManager(t, eng)
	require.NoError(t, m.Ensure(context.Background(), 2))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Exec(ctx, 2, []string{"sleep", "100"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, examlab.ErrProbeTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, 0, eng.runningExecs("task-2"))
	assert.Equal(t, 1, eng.kills)
}

func TestAttachShell(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng)
	ctx := context.Background()
	require.NoError(t, m.Ensure(ctx, 7))

	sh, err := m.AttachShell(ctx, 7, ShellOptions{Cols: 120, Rows: 40})
	require.NoError(t, err)
	assert.Equal(t, 7, sh.ExerciseID())

	exec := eng.execs[sh.execID]
	require.NotNil(t, exec)
	assert.True(t, exec.tty)
	assert.Equal(t, []string{"/bin/bash", "-l"}, exec.cmd)
	assert.Contains(t, exec.env, SessionMarker+"="+sh.token)

	_, err = sh.Write([]byte("ls /root\n"))
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err := sh.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ls /root\n", string(buf[:n]))

	require.NoError(t, sh.Resize(ctx, 80, 24))
	require.Len(t, eng.resizes, 1)
	assert.Equal(t, uint(80), eng.resizes[0].Width)
	assert.Equal(t, uint(24), eng.resizes[0].Height)

	require.NoError(t, sh.Close())
	require.NoError(t, sh.Close())
	assert.Eventually(t, func() bool {
		return eng.runningExecs("task-7") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestShellExitCode(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng)
	ctx := context.Background()
	require.NoError(t, m.Ensure(ctx, 8))

	sh, err := m.AttachShell(ctx, 8, ShellOptions{})
	require.NoError(t, err)
	defer sh.Close()

	_, err = sh.Write([]byte("exit 3\n"))
	require.NoError(t, err)

	_, err = io.Copy(io.Discard, sh)
	require.NoError(t, err)

	code, err := sh.ExitCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestAttachShellNotRunning(t *testing.T) {
	eng := newFakeEngine()
	m := newTestManager(t, eng)

	_, err := m.AttachShell(context.Background(), 11, ShellOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, examlab.ErrNotRunning))
}

func TestKillScriptMatchesWholeEntry(t *testing.T) {
	assert.True(t, strings.Contains(killScript, "grep -qxF"))
	assert.True(t, strings.Contains(killScript, "kill -KILL"))
}
