package podbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/podbox/podbox/internal/ui"
	"github.com/podbox/podbox/pkg/engine"
	"github.com/podbox/podbox/pkg/preflight"
)

// Status is the controller's view of the container lifecycle. Transitions
// are monotonic: a container never re-enters an earlier state.
type Status int

const (
	// StatusNew is a controller that has not been started.
	StatusNew Status = iota
	// StatusCreated means the engine allocated an id but the container
	// has not started.
	StatusCreated
	// StatusStarting covers engine start and the readiness wait.
	StatusStarting
	// StatusRunning means the engine reports the container running and,
	// when a health command is configured, that it succeeded.
	StatusRunning
	// StatusStopping covers teardown.
	StatusStopping
	// StatusStopped means the container stopped but still exists.
	StatusStopped
	// StatusRemoved means the container is gone from the engine.
	StatusRemoved
	// StatusFailed means start or readiness failed; the container may
	// still exist for diagnosis until Stop is called.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusCreated:
		return "created"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	case StatusRemoved:
		return "removed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrAlreadyStarted is returned by Start when the controller was started
// before. One controller drives exactly one container.
var ErrAlreadyStarted = errors.New("container already started")

// stopTimeout is how long the engine waits for graceful shutdown before
// killing the container, matching the podman default.
const stopTimeout = 10 * time.Second

// Container drives one engine container through its lifecycle. It has a
// single logical owner: methods are not safe for concurrent use, with the
// deliberate exception of FollowLogs' stream running alongside Exec.
type Container struct {
	cfg     Config
	eng     engine.Client
	id      string
	status  Status
	ports   map[int]int
	started bool
}

// New validates the configuration and connects an engine backend for the
// returned controller. The container itself is not created until Start.
func New(cfg Config) (*Container, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eng, err := engine.Detect(cfg.Endpoint,
		func(host string) (engine.Client, error) { return engine.NewAPIClient(host) },
		func() (engine.Client, error) { return engine.NewCLIClient() },
	)
	if err != nil {
		return nil, err
	}
	return &Container{cfg: cfg, eng: eng}, nil
}

// NewWithClient is New with an injected engine client, for callers that
// manage the backend themselves and for tests.
func NewWithClient(cfg Config, eng engine.Client) (*Container, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Container{cfg: cfg, eng: eng}, nil
}

// Config returns the validated configuration, defaults applied.
func (c *Container) Config() Config {
	return c.cfg
}

// ID returns the engine-assigned container id, empty before Start.
func (c *Container) ID() string {
	return c.id
}

// Status returns the controller's last-known lifecycle state. It does not
// query the engine; use CheckStatus for that.
func (c *Container) Status() Status {
	return c.status
}

// Start creates and starts the container, then blocks until it is ready.
//
// First use in the process runs the preflight checks. Mount and port
// planning happen before any engine call, so a ConfigError never leaves a
// half-created container behind. When a health command is configured,
// Running is only entered after it succeeds; on timeout the container is
// left running for diagnosis and a HealthTimeoutError is returned.
func (c *Container) Start(ctx context.Context) error {
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	if err := preflight.Run(); err != nil {
		c.status = StatusFailed
		return err
	}

	binds, err := planMounts(c.cfg)
	if err != nil {
		c.status = StatusFailed
		return err
	}

	spec := engine.Spec{
		Name:  c.cfg.Name,
		Image: c.cfg.Image,
		Cmd:   c.cfg.Command,
		Env:   envList(c.cfg.Env),
		Ports: planPorts(c.cfg),
		Binds: binds,
	}

	id, err := c.eng.Create(ctx, spec)
	if err != nil {
		c.status = StatusFailed
		return err
	}
	c.id = id
	c.status = StatusCreated

	c.status = StatusStarting
	if err := c.eng.Start(ctx, c.id); err != nil {
		c.status = StatusFailed
		return err
	}

	state, err := c.eng.Inspect(ctx, c.id)
	if err != nil {
		c.status = StatusFailed
		return err
	}
	c.ports = resolvePorts(c.cfg.Ports, state.Ports)

	if len(c.cfg.HealthCmd) > 0 {
		if err := waitReady(ctx, c.eng, c.id, c.cfg); err != nil {
			c.status = StatusFailed
			return err
		}
	}

	c.status = StatusRunning
	return nil
}

// Exec runs argv inside the running container. The command's exit status
// comes back in the result; only engine failure is an error.
func (c *Container) Exec(ctx context.Context, argv []string) (engine.ExecResult, error) {
	if c.status != StatusRunning {
		return engine.ExecResult{}, fmt.Errorf("exec requires a running container (status %s)", c.status)
	}
	return c.eng.Exec(ctx, c.id, argv)
}

// Logs returns the container's collected log text. tail <= 0 means all.
func (c *Container) Logs(ctx context.Context, tail int) (string, error) {
	if c.id == "" {
		return "", fmt.Errorf("logs require a started container (status %s)", c.status)
	}
	return c.eng.Logs(ctx, c.id, tail)
}

// FollowLogs streams log lines on a dedicated goroutine. It is safe to
// keep calling Exec while reading; the engine treats them as independent
// operations. The channel closes when the stream ends or ctx is
// cancelled.
func (c *Container) FollowLogs(ctx context.Context, tail int) (<-chan string, error) {
	if c.id == "" {
		return nil, fmt.Errorf("logs require a started container (status %s)", c.status)
	}
	return c.eng.FollowLogs(ctx, c.id, tail)
}

// GetPort returns the realized host port for a container port requested
// in the configuration. ok is false for ports that were never declared.
func (c *Container) GetPort(containerPort int) (port int, ok bool) {
	port, ok = c.ports[containerPort]
	return port, ok
}

// CheckStatus asks the engine for the container's current status string,
// independent of the controller's last-known state, so callers can detect
// drift (e.g. an unexpected exit).
func (c *Container) CheckStatus(ctx context.Context) (string, error) {
	if c.id == "" {
		return "", fmt.Errorf("container not started")
	}
	state, err := c.eng.Inspect(ctx, c.id)
	if err != nil {
		return "", err
	}
	if c.status == StatusRunning && !state.Running {
		c.status = StatusFailed
	}
	return state.Status, nil
}

// Stop stops and removes the container. It is idempotent: calling it on a
// never-started or already-removed container is a no-op. "Already gone"
// engine responses are swallowed — another process may have removed the
// container — and any other cleanup failure is reported after both stop
// and remove were attempted. The controller always ends up Removed.
func (c *Container) Stop(ctx context.Context) error {
	if c.id == "" || c.status == StatusRemoved {
		return nil
	}
	c.status = StatusStopping

	var failure error
	if err := c.eng.Stop(ctx, c.id, stopTimeout); err != nil && !engine.IsNotFound(err) {
		failure = err
	}
	if err := c.eng.Remove(ctx, c.id, true); err != nil && !engine.IsNotFound(err) {
		if failure == nil {
			failure = err
		} else {
			ui.Warn("removing container %s: %v", c.cfg.Name, err)
		}
	}

	c.status = StatusRemoved
	c.ports = nil
	return failure
}

// Close releases the engine client. It does not stop the container.
func (c *Container) Close() error {
	return c.eng.Close()
}

// With runs fn against a started container and guarantees teardown on
// every exit path: normal return, error, or panic. Cleanup runs even when
// ctx was already cancelled, so an interrupted test still removes its
// container.
func With(ctx context.Context, cfg Config, fn func(*Container) error) (err error) {
	c, err := New(cfg)
	if err != nil {
		return err
	}
	return run(ctx, c, fn)
}

// WithClient is With using an injected engine client.
func WithClient(ctx context.Context, cfg Config, eng engine.Client, fn func(*Container) error) error {
	c, err := NewWithClient(cfg, eng)
	if err != nil {
		return err
	}
	return run(ctx, c, fn)
}

func run(ctx context.Context, c *Container, fn func(*Container) error) (err error) {
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if serr := c.Stop(cleanupCtx); serr != nil {
			if err == nil {
				err = serr
			} else {
				ui.Warn("cleanup of container %s: %v", c.cfg.Name, serr)
			}
		}
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err = c.Start(ctx); err != nil {
		return err
	}
	return fn(c)
}

// envList renders the environment map as sorted KEY=VALUE pairs, so the
// engine invocation is deterministic.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}
