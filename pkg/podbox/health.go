package podbox

import (
	"context"
	"fmt"
	"time"

	"github.com/podbox/podbox/pkg/engine"
)

// HealthTimeoutError is returned by Start when the readiness command did
// not succeed within the configured timeout. The container is left
// running so logs can be inspected; Stop still cleans it up.
type HealthTimeoutError struct {
	Name    string
	Timeout time.Duration
	// Last is the most recent probe result, nil if no probe ever reached
	// the container.
	Last *engine.ExecResult
}

func (e *HealthTimeoutError) Error() string {
	msg := fmt.Sprintf("container %q did not become ready within %s", e.Name, e.Timeout)
	if e.Last != nil {
		msg += fmt.Sprintf(" (last probe: exit %d, stderr: %s)", e.Last.ExitCode, e.Last.Stderr)
	}
	return msg
}

// waitReady polls the health command until it exits 0 or the timeout
// passes. The first probe fires immediately. An engine error during a
// probe (the container may not accept execs yet) counts as a failed
// attempt and is retried, not surfaced.
func waitReady(ctx context.Context, eng engine.Client, id string, cfg Config) error {
	deadline := time.Now().Add(cfg.HealthTimeout)
	var last *engine.ExecResult

	for time.Now().Before(deadline) {
		res, err := eng.Exec(ctx, id, cfg.HealthCmd)
		if err == nil {
			if res.ExitCode == 0 {
				return nil
			}
			probe := res
			last = &probe
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.HealthInterval):
		}
	}

	return &HealthTimeoutError{Name: cfg.Name, Timeout: cfg.HealthTimeout, Last: last}
}
