// Package podbox provides lifecycle control of throwaway containers for
// tests and scripts: create, wait until ready, interact, and guaranteed
// teardown.
//
// The package composes four pieces behind one controller:
//
// 1. Configuration (config.go)
//   - Immutable Config validated once
//   - Port requests, volumes, init scripts, health probe
//
// 2. Planning (mounts.go, ports.go)
//   - Bind-mount specs, init scripts renamed 00-, 01-, ... for ordered
//     execution
//   - Fixed ports passed through verbatim, ephemeral ports delegated to
//     the engine and read back after start
//
// 3. Readiness (health.go)
//   - Blocking poll of the health command on a fixed interval
//   - HealthTimeoutError with the last probe result for diagnosis
//
// 4. Lifecycle (container.go)
//   - Start / Exec / Logs / FollowLogs / GetPort / CheckStatus / Stop
//   - Idempotent Stop; With guarantees teardown on every exit path
//
// Basic usage:
//
//	cfg := podbox.Config{
//	    Name:  podbox.UniqueName("pg-test"),
//	    Image: "docker.io/library/postgres:16",
//	    Env:   map[string]string{"POSTGRES_PASSWORD": "secret"},
//	    Ports: map[int]int{5432: 0}, // engine picks a free host port
//	    HealthCmd: []string{"pg_isready", "-U", "postgres"},
//	}
//
//	err := podbox.With(ctx, cfg, func(c *podbox.Container) error {
//	    port, _ := c.GetPort(5432)
//	    // connect to localhost:port and run the test
//	    return nil
//	})
//
// The container is stopped and removed when With returns, whether fn
// returned normally, returned an error, or panicked.
//
// Concurrency: one controller owns one container. Method calls are not
// synchronized internally; callers serialize their own use. The single
// supported overlap is a FollowLogs stream running while Exec is issued.
package podbox
