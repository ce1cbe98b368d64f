package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// APIClient speaks the Docker-compatible HTTP API, which Podman serves on
// its socket when the system service is running. It also works against a
// plain Docker daemon, which keeps CI images interchangeable.
type APIClient struct {
	cli *client.Client
}

// NewAPIClient creates an API-backed engine client. An empty host uses the
// environment (CONTAINER_HOST/DOCKER_HOST) and the default socket; a
// non-empty host overrides the endpoint, e.g. "unix:///run/podman/podman.sock"
// or "tcp://build-host:2376".
func NewAPIClient(host string) (*APIClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}
	return &APIClient{cli: cli}, nil
}

// Ping checks that the engine service is responsive.
func (e *APIClient) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx)
	return err
}

// Close closes the underlying API client.
func (e *APIClient) Close() error {
	return e.cli.Close()
}

// Create allocates a container and returns its engine id.
func (e *APIClient) Create(ctx context.Context, spec Spec) (string, error) {
	exposed, bindings := portMaps(spec.Ports)

	cfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		Binds:        spec.Binds,
		PortBindings: bindings,
	}

	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", e.wrap("create", err)
	}
	return resp.ID, nil
}

// Start starts a created container.
func (e *APIClient) Start(ctx context.Context, id string) error {
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return e.wrap("start", err)
	}
	return nil
}

// Stop stops a container, waiting up to timeout before the engine kills it.
func (e *APIClient) Stop(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := e.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		return e.wrap("stop", err)
	}
	return nil
}

// Remove deletes a container.
func (e *APIClient) Remove(ctx context.Context, id string, force bool) error {
	err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force})
	if err != nil {
		return e.wrap("remove", err)
	}
	return nil
}

// Exec runs argv inside the running container. The command's exit status
// is reported in the result; only engine-invocation failure is an error.
func (e *APIClient) Exec(ctx context.Context, id string, argv []string) (ExecResult, error) {
	created, err := e.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, e.wrap("exec", err)
	}

	attach, err := e.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, e.wrap("exec", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return ExecResult{}, e.wrap("exec", err)
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, e.wrap("exec", err)
	}

	return ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Logs returns the container's collected log text.
func (e *APIClient) Logs(ctx context.Context, id string, tail int) (string, error) {
	reader, err := e.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tailValue(tail),
	})
	if err != nil {
		return "", e.wrap("logs", err)
	}
	defer reader.Close()

	// The API multiplexes stdout/stderr; demux both into one text stream.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "", e.wrap("logs", err)
	}
	return buf.String(), nil
}

// FollowLogs streams log lines on a dedicated goroutine so the caller can
// keep issuing execs while reading. The channel closes when the stream ends.
func (e *APIClient) FollowLogs(ctx context.Context, id string, tail int) (<-chan string, error) {
	reader, err := e.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       tailValue(tail),
	})
	if err != nil {
		return nil, e.wrap("logs", err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, reader)
		pw.CloseWithError(err)
	}()
	go func() {
		<-ctx.Done()
		reader.Close()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		defer reader.Close()
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines, nil
}

// Inspect re-queries the engine for container status and realized port
// bindings.
func (e *APIClient) Inspect(ctx context.Context, id string) (ContainerState, error) {
	info, err := e.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerState{}, e.wrap("inspect", err)
	}

	state := ContainerState{Ports: map[int]int{}}
	if info.State != nil {
		state.Status = info.State.Status
		state.Running = info.State.Running
	}
	if info.NetworkSettings != nil {
		for port, bindings := range info.NetworkSettings.Ports {
			if len(bindings) == 0 {
				continue
			}
			host, err := strconv.Atoi(bindings[0].HostPort)
			if err != nil {
				continue
			}
			state.Ports[port.Int()] = host
		}
	}
	return state, nil
}

func (e *APIClient) wrap(op string, err error) error {
	return &Error{Op: op, NotFound: client.IsErrNotFound(err), Err: err}
}

// portMaps builds the exposed-port set and host bindings for the API call.
// An empty HostPort tells the engine to bind a free ephemeral port itself,
// which avoids racing a locally "reserved" port against the engine's bind.
func portMaps(ports []PortSpec) (nat.PortSet, nat.PortMap) {
	if len(ports) == 0 {
		return nil, nil
	}
	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))
	for _, p := range ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", p.Container))
		exposed[port] = struct{}{}
		hostPort := ""
		if p.Host != 0 {
			hostPort = strconv.Itoa(p.Host)
		}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}
	return exposed, bindings
}

func tailValue(tail int) string {
	if tail <= 0 {
		return "all"
	}
	return strconv.Itoa(tail)
}
