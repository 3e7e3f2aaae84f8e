package container

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// execOutcome scripts the result of a non-interactive exec.
type execOutcome struct {
	exitCode int
	stdout   string
	stderr   string
	hang     bool
}

type fakeContainer struct {
	id      string
	name    string
	running bool
}

type fakeExec struct {
	id        string
	container string
	cmd       []string
	env       []string
	tty       bool
	running   bool
	exitCode  int
	server    net.Conn
}

// fakeEngine is an in-memory stand-in for the Docker daemon.
type fakeEngine struct {
	mu sync.Mutex

	pingErr   error
	version   string
	createErr error
	startErr  error
	removeErr error

	containers map[string]*fakeContainer
	images     map[string]bool
	execs      map[string]*fakeExec
	nextID     int

	pulls   int
	creates int
	starts  int
	stops   int
	removes int
	kills   int
	resizes []container.ResizeOptions

	// createDelay slows ContainerCreate down to widen race windows.
	createDelay time.Duration

	// onExec scripts non-interactive commands; nil means exit 0, no output.
	onExec func(cmd []string) execOutcome
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		version:    "27.0.3",
		containers: make(map[string]*fakeContainer),
		images:     make(map[string]bool),
		execs:      make(map[string]*fakeExec),
	}
}

func (f *fakeEngine) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%04d", prefix, f.nextID)
}

func (f *fakeEngine) Ping(ctx context.Context) (types.Ping, error) {
	if err := ctx.Err(); err != nil {
		return types.Ping{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return types.Ping{}, f.pingErr
	}
	return types.Ping{APIVersion: "1.46"}, nil
}

func (f *fakeEngine) ServerVersion(ctx context.Context) (types.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return types.Version{Version: f.version}, nil
}

func (f *fakeEngine) ContainerInspect(ctx context.Context, name string) (types.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return types.ContainerJSON{}, errdefs.NotFound(fmt.Errorf("No such container: %s", name))
	}
	status := "exited"
	if c.running {
		status = "running"
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    c.id,
			Name:  "/" + c.name,
			State: &types.ContainerState{Running: c.running, Status: status},
		},
	}, nil
}

func (f *fakeEngine) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, platform *ocispec.Platform, name string) (container.CreateResponse, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	if err := ctx.Err(); err != nil {
		return container.CreateResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	if !f.images[cfg.Image] {
		return container.CreateResponse{}, errdefs.NotFound(fmt.Errorf("No such image: %s", cfg.Image))
	}
	if _, exists := f.containers[name]; exists {
		return container.CreateResponse{}, errdefs.Conflict(fmt.Errorf("name %s already in use", name))
	}
	f.creates++
	c := &fakeContainer{id: f.id("c"), name: name}
	f.containers[name] = c
	return container.CreateResponse{ID: c.id}, nil
}

func (f *fakeEngine) ContainerStart(ctx context.Context, name string, options container.StartOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	c, ok := f.containers[name]
	if !ok {
		return errdefs.NotFound(fmt.Errorf("No such container: %s", name))
	}
	f.starts++
	c.running = true
	return nil
}

func (f *fakeEngine) ContainerStop(ctx context.Context, name string, options container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return errdefs.NotFound(fmt.Errorf("No such container: %s", name))
	}
	f.stops++
	c.running = false
	f.endExecsLocked(name)
	return nil
}

func (f *fakeEngine) ContainerRemove(ctx context.Context, name string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	c, ok := f.containers[name]
	if !ok {
		return errdefs.NotFound(fmt.Errorf("No such container: %s", name))
	}
	if c.running && !options.Force {
		return errdefs.Conflict(errors.New("container is running"))
	}
	f.removes++
	delete(f.containers, name)
	f.endExecsLocked(name)
	return nil
}

func (f *fakeEngine) endExecsLocked(name string) {
	for _, e := range f.execs {
		if e.container == name && e.running {
			e.running = false
			e.exitCode = 137
			if e.server != nil {
				e.server.Close()
			}
		}
	}
}

func (f *fakeEngine) ImageInspectWithRaw(ctx context.Context, ref string) (types.ImageInspect, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.images[ref] {
		return types.ImageInspect{}, nil, errdefs.NotFound(fmt.Errorf("No such image: %s", ref))
	}
	return types.ImageInspect{ID: "sha256:" + ref}, nil, nil
}

func (f *fakeEngine) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	f.images[ref] = true
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded newer image"}`)), nil
}

func (f *fakeEngine) ContainerExecCreate(ctx context.Context, name string, options container.ExecOptions) (types.IDResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return types.IDResponse{}, errdefs.NotFound(fmt.Errorf("No such container: %s", name))
	}
	if !c.running {
		return types.IDResponse{}, errdefs.Conflict(fmt.Errorf("container %s is not running", name))
	}
	e := &fakeExec{
		id:        f.id("e"),
		container: name,
		cmd:       options.Cmd,
		env:       options.Env,
		tty:       options.Tty,
	}
	f.execs[e.id] = e
	return types.IDResponse{ID: e.id}, nil
}

func (f *fakeEngine) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	e, ok := f.execs[execID]
	if !ok {
		f.mu.Unlock()
		return types.HijackedResponse{}, errdefs.NotFound(fmt.Errorf("No such exec instance: %s", execID))
	}
	clientConn, serverConn := net.Pipe()
	e.server = serverConn
	e.running = true
	f.mu.Unlock()

	if e.tty {
		go f.serveTTY(e)
	} else {
		go f.serveExec(e)
	}
	return types.HijackedResponse{Conn: clientConn, Reader: bufio.NewReader(clientConn)}, nil
}

// serveTTY echoes input back; "exit N\n" ends the shell with code N.
func (f *fakeEngine) serveTTY(e *fakeExec) {
	r := bufio.NewReader(e.server)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			f.finish(e, 129)
			return
		}
		var code int
		if n, _ := fmt.Sscanf(line, "exit %d", &code); n == 1 {
			f.finish(e, code)
			return
		}
		if _, err := e.server.Write([]byte(line)); err != nil {
			f.finish(e, 129)
			return
		}
	}
}

func (f *fakeEngine) serveExec(e *fakeExec) {
	if len(e.cmd) >= 5 && e.cmd[3] == "kill-marked" {
		f.killMarked(e.cmd[4])
		f.finish(e, 0)
		return
	}

	out := execOutcome{}
	if f.onExec != nil {
		out = f.onExec(e.cmd)
	}
	if out.hang {
		io.Copy(io.Discard, e.server)
		return
	}

	if out.stdout != "" {
		stdcopy.NewStdWriter(e.server, stdcopy.Stdout).Write([]byte(out.stdout))
	}
	if out.stderr != "" {
		stdcopy.NewStdWriter(e.server, stdcopy.Stderr).Write([]byte(out.stderr))
	}
	f.finish(e, out.exitCode)
}

func (f *fakeEngine) killMarked(marker string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.execs {
		if !e.running {
			continue
		}
		for _, kv := range e.env {
			if kv == marker {
				f.kills++
				e.running = false
				e.exitCode = 137
				e.server.Close()
				break
			}
		}
	}
}

func (f *fakeEngine) finish(e *fakeExec, code int) {
	f.mu.Lock()
	if e.running {
		e.running = false
		e.exitCode = code
	}
	f.mu.Unlock()
	e.server.Close()
}

func (f *fakeEngine) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[execID]
	if !ok {
		return container.ExecInspect{}, errdefs.NotFound(fmt.Errorf("No such exec instance: %s", execID))
	}
	return container.ExecInspect{
		ExecID:      e.id,
		ContainerID: e.container,
		Running:     e.running,
		ExitCode:    e.exitCode,
	}, nil
}

func (f *fakeEngine) ContainerExecResize(ctx context.Context, execID string, options container.ResizeOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, options)
	return nil
}

func (f *fakeEngine) Close() error {
	return nil
}

// runningExecs counts execs still alive in the named container.
func (f *fakeEngine) runningExecs(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.execs {
		if e.container == name && e.running {
			n++
		}
	}
	return n
}

func (f *fakeEngine) counts() (creates, starts, removes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.starts, f.removes
}
