package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"lesiw.io/ctrctl"
)

// CLIClient shells out to the podman CLI, for hosts where no API socket is
// running. The argument grammar matches `podman run` exactly: repeated -p,
// -e and -v flags built from the spec.
type CLIClient struct {
	bin string
}

// NewCLIClient creates a CLI-backed engine client. It fails when the
// binary is not on PATH.
func NewCLIClient() (*CLIClient, error) {
	const bin = "podman"
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", bin, err)
	}
	ctrctl.Cli = []string{bin}
	return &CLIClient{bin: bin}, nil
}

// Ping verifies the CLI is responsive.
func (e *CLIClient) Ping(_ context.Context) error {
	_, err := ctrctl.Version(nil)
	return err
}

// Close is a no-op for the CLI backend.
func (e *CLIClient) Close() error {
	return nil
}

// Create allocates a container and returns the id the CLI prints.
func (e *CLIClient) Create(_ context.Context, spec Spec) (string, error) {
	opts := &ctrctl.ContainerCreateOpts{
		Name:    spec.Name,
		Env:     spec.Env,
		Publish: publishArgs(spec.Ports),
		Volume:  spec.Binds,
	}

	var command string
	var args []string
	if len(spec.Cmd) > 0 {
		command = spec.Cmd[0]
		args = spec.Cmd[1:]
	}

	out, err := ctrctl.ContainerCreate(opts, spec.Image, command, args...)
	if err != nil {
		return "", e.wrap("create", err)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		return "", &Error{Op: "create", Err: fmt.Errorf("engine returned no container id")}
	}
	return id, nil
}

// Start starts a created container.
func (e *CLIClient) Start(_ context.Context, id string) error {
	if _, err := ctrctl.ContainerStart(nil, id); err != nil {
		return e.wrap("start", err)
	}
	return nil
}

// Stop stops a container, waiting up to timeout before the engine kills it.
func (e *CLIClient) Stop(_ context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	opts := &ctrctl.ContainerStopOpts{Time: &secs}
	if _, err := ctrctl.ContainerStop(opts, id); err != nil {
		return e.wrap("stop", err)
	}
	return nil
}

// Remove deletes a container.
func (e *CLIClient) Remove(_ context.Context, id string, force bool) error {
	if _, err := ctrctl.ContainerRm(&ctrctl.ContainerRmOpts{Force: force}, id); err != nil {
		return e.wrap("remove", err)
	}
	return nil
}

// Exec runs argv inside the running container, capturing stdout and stderr
// separately. A non-zero exit status of the command itself is returned in
// the result; the distinction is made through *exec.ExitError.
func (e *CLIClient) Exec(_ context.Context, id string, argv []string) (ExecResult, error) {
	if len(argv) == 0 {
		return ExecResult{}, &Error{Op: "exec", Err: fmt.Errorf("empty command")}
	}

	var stdout, stderr bytes.Buffer
	opts := &ctrctl.ContainerExecOpts{
		Cmd: &exec.Cmd{Stdout: &stdout, Stderr: &stderr},
	}
	_, err := ctrctl.ContainerExec(opts, id, argv[0], argv[1:]...)
	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		code, ok := exitCode(err)
		if !ok {
			return ExecResult{}, e.wrapOutput("exec", err, stdout.String(), stderr.String())
		}
		// podman exec itself reports engine-level failures (container not
		// running, no such container) as exit codes 125/126/127.
		if code >= 125 && looksLikeEngineFailure(stderr.String()) {
			return ExecResult{}, e.wrapOutput("exec", err, stdout.String(), stderr.String())
		}
		res.ExitCode = code
	}
	return res, nil
}

// Logs returns the container's collected log text.
func (e *CLIClient) Logs(_ context.Context, id string, tail int) (string, error) {
	var stdout, stderr bytes.Buffer
	opts := &ctrctl.ContainerLogsOpts{
		Cmd: &exec.Cmd{Stdout: &stdout, Stderr: &stderr},
	}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	if _, err := ctrctl.ContainerLogs(opts, id); err != nil {
		return "", e.wrapOutput("logs", err, stdout.String(), stderr.String())
	}
	// podman writes the container's stderr stream to its own stderr.
	return stdout.String() + stderr.String(), nil
}

// FollowLogs streams log lines until the container stops or ctx is
// cancelled. ctrctl runs commands synchronously with no cancellation
// handle, so the follow path execs the CLI directly.
func (e *CLIClient) FollowLogs(ctx context.Context, id string, tail int) (<-chan string, error) {
	args := []string{"logs", "--follow"}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	args = append(args, id)

	cmd := exec.CommandContext(ctx, e.bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, e.wrap("logs", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, e.wrap("logs", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				_ = cmd.Wait()
				return
			}
		}
		_ = cmd.Wait()
	}()
	return lines, nil
}

// inspectResponse is the subset of `podman inspect` JSON the client reads.
// The shape is shared by podman and docker.
type inspectResponse struct {
	State struct {
		Status  string `json:"Status"`
		Running bool   `json:"Running"`
	} `json:"State"`
	NetworkSettings struct {
		Ports map[string][]portBinding `json:"Ports"`
	} `json:"NetworkSettings"`
}

type portBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

// Inspect re-queries the engine for container status and realized port
// bindings.
func (e *CLIClient) Inspect(_ context.Context, id string) (ContainerState, error) {
	out, err := ctrctl.ContainerInspect(&ctrctl.ContainerInspectOpts{Format: "{{json .}}"}, id)
	if err != nil {
		return ContainerState{}, e.wrap("inspect", err)
	}
	return parseInspect(out)
}

func parseInspect(out string) (ContainerState, error) {
	// podman may print a single object or a one-element array depending on
	// version; try the array form first.
	var resp inspectResponse
	var arr []inspectResponse
	if err := json.Unmarshal([]byte(out), &arr); err == nil && len(arr) > 0 {
		resp = arr[0]
	} else if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return ContainerState{}, &Error{Op: "inspect", Stdout: out, Err: fmt.Errorf("parsing inspect output: %w", err)}
	}

	state := ContainerState{
		Status:  resp.State.Status,
		Running: resp.State.Running,
		Ports:   map[int]int{},
	}
	for portSpec, bindings := range resp.NetworkSettings.Ports {
		if len(bindings) == 0 {
			continue
		}
		containerPort, err := strconv.Atoi(strings.SplitN(portSpec, "/", 2)[0])
		if err != nil {
			continue
		}
		host, err := strconv.Atoi(bindings[0].HostPort)
		if err != nil {
			continue
		}
		state.Ports[containerPort] = host
	}
	return state, nil
}

func (e *CLIClient) wrap(op string, err error) error {
	return e.wrapOutput(op, err, "", "")
}

func (e *CLIClient) wrapOutput(op string, err error, stdout, stderr string) error {
	notFound := looksLikeNotFound(err.Error()) || looksLikeNotFound(stderr)
	return &Error{Op: op, Stdout: stdout, Stderr: stderr, NotFound: notFound, Err: err}
}

// publishArgs renders port requests as -p values. A bare container port
// asks the engine to bind an ephemeral host port.
func publishArgs(ports []PortSpec) []string {
	var args []string
	for _, p := range ports {
		if p.Host == 0 {
			args = append(args, strconv.Itoa(p.Container))
		} else {
			args = append(args, fmt.Sprintf("%d:%d", p.Host, p.Container))
		}
	}
	return args
}

func exitCode(err error) (int, bool) {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), true
	}
	return 0, false
}

func looksLikeNotFound(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "no such container") || strings.Contains(s, "no such object")
}

func looksLikeEngineFailure(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such container") ||
		strings.Contains(s, "is not running") ||
		strings.Contains(s, "cannot connect") ||
		strings.Contains(s, "exec session")
}
