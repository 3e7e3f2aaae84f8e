// Package container manages the Docker containers that host exercises:
// provisioning, stop/remove, non-interactive exec for probes and
// interactive shell attach for terminal sessions.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/everydev1618/examlab"
)

const (
	DefaultImage  = "almalinux:9"
	DefaultPrefix = "task-"

	LabelManagedBy = "examlab.managed-by"
	LabelExercise  = "examlab.exercise"

	// ProbeMarker and SessionMarker tag the environment of exec'd processes
	// so they can be found and killed from inside the container.
	ProbeMarker   = "EXAMLAB_PROBE"
	SessionMarker = "EXAMLAB_SESSION"
)

// Config holds manager settings.
type Config struct {
	Image           string
	Prefix          string
	Shell           []string
	StopTimeout     time.Duration
	TeardownTimeout time.Duration
	DockerHost      string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Image:           DefaultImage,
		Prefix:          DefaultPrefix,
		Shell:           []string{"/bin/bash", "-l"},
		StopTimeout:     10 * time.Second,
		TeardownTimeout: 5 * time.Second,
	}
}

// State is the engine-side state of an exercise container.
type State string

const (
	StateAbsent  State = "absent"
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// EngineStatus is the outcome of an engine probe.
type EngineStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Manager handles Docker container operations for exercises.
type Manager struct {
	cfg     Config
	connect func() (Engine, error)
	log     *slog.Logger

	mu        sync.RWMutex
	engine    Engine
	available bool
	version   string

	probes singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithEngine uses e instead of dialing the Docker daemon.
func WithEngine(e Engine) ManagerOption {
	return func(m *Manager) {
		m.connect = func() (Engine, error) { return e, nil }
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = l
	}
}

// NewManager creates a new container manager. If Docker is unreachable the
// manager is still returned; it reports itself unavailable and retries the
// connection on the next probe.
func NewManager(cfg Config, opts ...ManagerOption) (*Manager, error) {
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if len(cfg.Shell) == 0 {
		return nil, fmt.Errorf("shell command is required")
	}

	m := &Manager{
		cfg: cfg,
		log: slog.Default(),
	}
	m.connect = func() (Engine, error) { return connectDocker(cfg.DockerHost) }

	for _, opt := range opts {
		opt(m)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if st := m.Probe(ctx); !st.Available {
		m.log.Warn("container engine unavailable", "error", st.Error)
	}
	return m, nil
}

// Config returns the manager settings.
func (m *Manager) Config() Config {
	return m.cfg
}

// ContainerName returns the container name for an exercise.
func (m *Manager) ContainerName(id int) string {
	return examlab.ContainerName(m.cfg.Prefix, id)
}

// IsAvailable returns whether the engine answered the last probe.
func (m *Manager) IsAvailable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available
}

// engineProbeTimeout bounds a shared engine probe.
const engineProbeTimeout = 10 * time.Second

// Probe checks engine reachability and reports its version. Concurrent
// probes share one round-trip, which runs detached from any single
// caller's cancellation.
func (m *Manager) Probe(ctx context.Context) EngineStatus {
	v, _, _ := m.probes.Do("probe", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), engineProbeTimeout)
		defer cancel()
		return m.probe(ctx), nil
	})
	return v.(EngineStatus)
}

func (m *Manager) probe(ctx context.Context) EngineStatus {
	m.mu.RLock()
	eng := m.engine
	m.mu.RUnlock()

	if eng == nil {
		var err error
		eng, err = m.connect()
		if err != nil {
			m.setAvailable(false, "")
			return EngineStatus{Error: err.Error()}
		}
		m.mu.Lock()
		m.engine = eng
		m.mu.Unlock()
	}

	if _, err := eng.Ping(ctx); err != nil {
		m.setAvailable(false, "")
		return EngineStatus{Error: err.Error()}
	}
	ver, err := eng.ServerVersion(ctx)
	if err != nil {
		m.setAvailable(false, "")
		return EngineStatus{Error: err.Error()}
	}

	m.setAvailable(true, ver.Version)
	return EngineStatus{Available: true, Version: ver.Version}
}

func (m *Manager) setAvailable(ok bool, version string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = ok
	m.version = version
}

// ready returns the engine, probing once more when the last probe failed.
func (m *Manager) ready(ctx context.Context) (Engine, error) {
	m.mu.RLock()
	eng, ok := m.engine, m.available
	m.mu.RUnlock()
	if ok && eng != nil {
		return eng, nil
	}

	if st := m.Probe(ctx); !st.Available {
		return nil, fmt.Errorf("%w: %s", examlab.ErrEngineUnavailable, st.Error)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine, nil
}

// Ready reports ErrEngineUnavailable when the engine cannot be reached.
func (m *Manager) Ready(ctx context.Context) error {
	_, err := m.ready(ctx)
	return err
}

// engineErr marks the engine unavailable when err is a connection failure
// and classifies it; other errors are wrapped with kind.
func (m *Manager) engineErr(kind, err error) error {
	if client.IsErrConnectionFailed(err) {
		m.setAvailable(false, "")
		return fmt.Errorf("%w: %v", examlab.ErrEngineUnavailable, err)
	}
	return fmt.Errorf("%w: %v", kind, err)
}

// Observe reports whether the exercise container is absent, stopped or
// running.
func (m *Manager) Observe(ctx context.Context, id int) (State, error) {
	eng, err := m.ready(ctx)
	if err != nil {
		return StateAbsent, err
	}

	inspect, err := eng.ContainerInspect(ctx, m.ContainerName(id))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return StateAbsent, nil
		}
		return StateAbsent, m.engineErr(examlab.ErrEngineUnavailable, err)
	}
	if inspect.ContainerJSONBase != nil && inspect.State != nil && inspect.State.Running {
		return StateRunning, nil
	}
	return StateStopped, nil
}

// Ensure makes sure the exercise container exists and runs: it is created
// from the base image when absent and started when stopped.
func (m *Manager) Ensure(ctx context.Context, id int) error {
	state, err := m.Observe(ctx, id)
	if err != nil {
		return err
	}

	switch state {
	case StateRunning:
		return nil
	case StateStopped:
		return m.start(ctx, id)
	}

	if err := m.create(ctx, id); err != nil {
		return err
	}
	return m.start(ctx, id)
}

func (m *Manager) create(ctx context.Context, id int) error {
	eng, err := m.ready(ctx)
	if err != nil {
		return err
	}

	if err := m.ensureImage(ctx, eng, m.cfg.Image); err != nil {
		return m.engineErr(examlab.ErrCreateFailed, fmt.Errorf("pull %s: %w", m.cfg.Image, err))
	}

	initProc := true
	containerCfg := &container.Config{
		Image: m.cfg.Image,
		Labels: map[string]string{
			LabelManagedBy: "examlab",
			LabelExercise:  strconv.Itoa(id),
		},
		Cmd: []string{"sleep", "infinity"}, // Keep container running
	}
	hostCfg := &container.HostConfig{
		Init: &initProc,
	}

	name := m.ContainerName(id)
	_, err = eng.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		if errdefs.IsConflict(err) {
			// Created by someone else in the meantime; start will pick it up.
			m.log.Debug("container already exists", "container", name)
			return nil
		}
		return m.engineErr(examlab.ErrCreateFailed, err)
	}
	m.log.Info("container created", "container", name, "image", m.cfg.Image)
	return nil
}

func (m *Manager) start(ctx context.Context, id int) error {
	eng, err := m.ready(ctx)
	if err != nil {
		return err
	}

	name := m.ContainerName(id)
	if err := eng.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return m.engineErr(examlab.ErrStartFailed, err)
	}
	m.log.Info("container started", "container", name)
	return nil
}

// Stop stops the exercise container if it is running. A missing or already
// stopped container is not an error. The container is never deleted.
func (m *Manager) Stop(ctx context.Context, id int) error {
	state, err := m.Observe(ctx, id)
	if err != nil {
		return err
	}
	if state != StateRunning {
		return nil
	}

	eng, err := m.ready(ctx)
	if err != nil {
		return err
	}

	name := m.ContainerName(id)
	timeout := int(m.cfg.StopTimeout / time.Second)
	if err := eng.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return m.engineErr(examlab.ErrStopFailed, err)
	}
	m.log.Info("container stopped", "container", name)
	return nil
}

// Remove force-removes the exercise container, running or not.
func (m *Manager) Remove(ctx context.Context, id int) error {
	eng, err := m.ready(ctx)
	if err != nil {
		return err
	}

	name := m.ContainerName(id)
	err = eng.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return m.engineErr(examlab.ErrRemoveFailed, err)
	}
	m.log.Info("container removed", "container", name)
	return nil
}

// ExecResult holds the result of a command execution.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Exec runs a non-interactive command in the exercise container and waits
// for it. When ctx expires first, the command and its children are killed
// and the returned error wraps ErrProbeTimeout.
func (m *Manager) Exec(ctx context.Context, id int, command []string) (*ExecResult, error) {
	token := uuid.NewString()
	res, err := m.run(ctx, id, command, []string{ProbeMarker + "=" + token})
	if err != nil && errors.Is(err, examlab.ErrProbeTimeout) {
		killCtx, cancel := context.WithTimeout(context.Background(), m.cfg.TeardownTimeout)
		defer cancel()
		if kerr := m.KillMarked(killCtx, id, ProbeMarker, token); kerr != nil {
			m.log.Warn("kill timed out probe", "container", m.ContainerName(id), "error", kerr)
		}
	}
	return res, err
}

func (m *Manager) run(ctx context.Context, id int, command, env []string) (*ExecResult, error) {
	eng, err := m.ready(ctx)
	if err != nil {
		return nil, err
	}

	execResp, err := eng.ContainerExecCreate(ctx, m.ContainerName(id), container.ExecOptions{
		Cmd:          command,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, m.execErr(ctx, err)
	}

	attachResp, err := eng.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, m.execErr(ctx, err)
	}
	defer attachResp.Close()

	var stdout, stderr strings.Builder
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		copied <- err
	}()

	select {
	case err := <-copied:
		if err != nil {
			return nil, fmt.Errorf("%w: read output: %v", examlab.ErrProbeExecFailed, err)
		}
	case <-ctx.Done():
		attachResp.Close()
		<-copied
		return nil, m.execErr(ctx, ctx.Err())
	}

	inspectResp, err := eng.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, m.execErr(ctx, err)
	}

	return &ExecResult{
		ExitCode: inspectResp.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

func (m *Manager) execErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", examlab.ErrProbeTimeout, err)
	case errdefs.IsNotFound(err), errdefs.IsConflict(err):
		return fmt.Errorf("%w: %v", examlab.ErrNotRunning, err)
	}
	return m.engineErr(examlab.ErrProbeExecFailed, err)
}

// killScript kills every process whose environment carries KEY=TOKEN.
const killScript = `for p in /proc/[0-9]*; do
  if tr '\0' '\n' < "$p/environ" 2>/dev/null | grep -qxF "$1"; then
    kill -KILL "${p#/proc/}" 2>/dev/null
  fi
done
true`

// KillMarked kills, inside the exercise container, every process whose
// environment contains key=token.
func (m *Manager) KillMarked(ctx context.Context, id int, key, token string) error {
	res, err := m.run(ctx, id, []string{"sh", "-c", killScript, "kill-marked", key + "=" + token}, nil)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("kill script exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// ShellOptions configures an interactive shell.
type ShellOptions struct {
	Cols uint
	Rows uint
	Env  []string
}

// AttachShell starts the configured interactive shell in the exercise
// container with a TTY of the requested size.
func (m *Manager) AttachShell(ctx context.Context, id int, opts ShellOptions) (*ExecShell, error) {
	eng, err := m.ready(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Cols == 0 || opts.Rows == 0 {
		opts.Cols, opts.Rows = 80, 24
	}

	token := uuid.NewString()
	env := append([]string{"TERM=xterm-256color", SessionMarker + "=" + token}, opts.Env...)
	size := &[2]uint{opts.Rows, opts.Cols}

	execResp, err := eng.ContainerExecCreate(ctx, m.ContainerName(id), container.ExecOptions{
		Cmd:          m.cfg.Shell,
		Env:          env,
		Tty:          true,
		ConsoleSize:  size,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, m.attachErr(err)
	}

	resp, err := eng.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{
		Tty:         true,
		ConsoleSize: size,
	})
	if err != nil {
		return nil, m.attachErr(err)
	}

	m.log.Debug("shell attached", "container", m.ContainerName(id), "exec", execResp.ID)
	return &ExecShell{
		m:      m,
		engine: eng,
		id:     id,
		execID: execResp.ID,
		token:  token,
		resp:   resp,
	}, nil
}

func (m *Manager) attachErr(err error) error {
	if errdefs.IsNotFound(err) || errdefs.IsConflict(err) {
		return fmt.Errorf("%w: %v", examlab.ErrNotRunning, err)
	}
	return m.engineErr(examlab.ErrSessionAttachFailed, err)
}

// ensureImage pulls an image if not present locally.
func (m *Manager) ensureImage(ctx context.Context, eng Engine, imageName string) error {
	_, _, err := eng.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}

	m.log.Info("pulling image", "image", imageName)
	reader, err := eng.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	// Consume the reader to complete the pull
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close closes the Docker client.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine != nil {
		err := m.engine.Close()
		m.engine = nil
		m.available = false
		return err
	}
	return nil
}
