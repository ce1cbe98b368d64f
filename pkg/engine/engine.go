package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Spec describes a container to create. Field values are passed to the
// engine verbatim: Env entries are "KEY=VALUE", Binds entries are
// "hostPath:containerPath" with an optional ":ro" suffix.
type Spec struct {
	Name  string
	Image string
	Cmd   []string
	Env   []string
	Ports []PortSpec
	Binds []string
}

// PortSpec requests publication of a container port. Host 0 asks the
// engine to pick a free ephemeral host port.
type PortSpec struct {
	Container int
	Host      int
}

// ExecResult captures one command run inside a running container.
// A non-zero ExitCode is not an error; it is the command's own status.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ContainerState is the engine's view of a container, read via inspect.
// Ports maps container ports to the host ports the engine actually bound.
type ContainerState struct {
	Status  string
	Running bool
	Ports   map[int]int
}

// Client is the contract every engine backend implements. All methods
// translate engine failures into *Error; none of them interpret the
// exit status of commands run inside the container.
type Client interface {
	// Create allocates a container from the spec and returns its engine id.
	Create(ctx context.Context, spec Spec) (string, error)

	// Start starts a created container.
	Start(ctx context.Context, id string) error

	// Stop asks the engine to stop the container, waiting up to timeout
	// before the engine kills it.
	Stop(ctx context.Context, id string, timeout time.Duration) error

	// Remove deletes the container. With force set, a running container
	// is killed first.
	Remove(ctx context.Context, id string, force bool) error

	// Exec runs argv inside the running container and returns its result.
	// The container command's non-zero exit status is reported in the
	// result, not as an error.
	Exec(ctx context.Context, id string, argv []string) (ExecResult, error)

	// Logs returns the container's collected log text. tail <= 0 means all.
	Logs(ctx context.Context, id string, tail int) (string, error)

	// FollowLogs streams log lines until the underlying stream closes or
	// ctx is cancelled. The returned channel is closed when the stream ends.
	FollowLogs(ctx context.Context, id string, tail int) (<-chan string, error)

	// Inspect re-queries the engine for the container's state.
	Inspect(ctx context.Context, id string) (ContainerState, error)

	// Close releases backend resources.
	Close() error
}

// Error is a failed engine invocation. It carries the operation name and
// the engine's raw diagnostic output so callers can surface it unchanged.
type Error struct {
	Op       string
	Stdout   string
	Stderr   string
	NotFound bool
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("engine %s failed: %v", e.Op, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\nstderr: " + s
	}
	if s := strings.TrimSpace(e.Stdout); s != "" {
		msg += "\nstdout: " + s
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the container is already gone,
// so cleanup paths can treat it as success.
func IsNotFound(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.NotFound
}
