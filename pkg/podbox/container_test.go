package podbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podbox/podbox/pkg/engine"
	"github.com/podbox/podbox/pkg/preflight"
)

// stubPreflight makes Start skip the real environment probes.
func stubPreflight(t *testing.T) {
	t.Helper()
	preflight.SetChecks(nil)
	t.Cleanup(preflight.Reset)
}

func runningFake() *fakeEngine {
	return &fakeEngine{
		state: engine.ContainerState{
			Status:  "running",
			Running: true,
			Ports:   map[int]int{80: 8080, 5432: 38712},
		},
	}
}

func TestStart(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()

	cfg := validConfig()
	cfg.Ports = map[int]int{80: 8080, 5432: 0}

	c, err := NewWithClient(cfg, fake)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, StatusRunning, c.Status())
	assert.Equal(t, "fake-id", c.ID())
	assert.Equal(t, []string{"create", "start", "inspect"}, fake.calls)

	port, ok := c.GetPort(80)
	assert.True(t, ok)
	assert.Equal(t, 8080, port)

	port, ok = c.GetPort(5432)
	assert.True(t, ok)
	assert.Equal(t, 38712, port, "ephemeral port comes from the engine")

	_, ok = c.GetPort(999)
	assert.False(t, ok, "undeclared port")
}

func TestStart_Twice(t *testing.T) {
	stubPreflight(t)
	c, err := NewWithClient(validConfig(), runningFake())
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
}

func TestStart_EngineFailure(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()
	fake.startErr = &engine.Error{Op: "start", Stderr: "port is already allocated", Err: errors.New("exit status 125")}

	c, err := NewWithClient(validConfig(), fake)
	require.NoError(t, err)

	err = c.Start(context.Background())
	var ee *engine.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "start", ee.Op)
	assert.Equal(t, StatusFailed, c.Status())

	// The created container still gets torn down.
	require.NoError(t, c.Stop(context.Background()))
	assert.True(t, fake.removed)
}

func TestStart_PreflightFailure(t *testing.T) {
	preflight.SetChecks([]preflight.Check{
		{Name: "broken", Run: func() error {
			return &preflight.Error{Check: "broken", Err: errors.New("unsuitable host")}
		}},
	})
	t.Cleanup(preflight.Reset)

	fake := runningFake()
	c, err := NewWithClient(validConfig(), fake)
	require.NoError(t, err)

	err = c.Start(context.Background())
	var pe *preflight.Error
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, fake.calls, "no engine call before preflight passes")
}

func TestStart_HealthSuccess(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()

	cfg := validConfig()
	cfg.HealthCmd = []string{"true"}
	cfg.HealthTimeout = time.Second
	cfg.HealthInterval = 10 * time.Millisecond

	c, err := NewWithClient(cfg, fake)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, c.Start(context.Background()))
	assert.Less(t, time.Since(start), cfg.HealthInterval, "an immediately healthy container needs no wait")
	assert.Equal(t, 1, fake.callCount("exec"), "readiness confirmed by a single probe")
	assert.Equal(t, StatusRunning, c.Status())
}

func TestStart_HealthTimeout(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()
	fake.execResult = engine.ExecResult{ExitCode: 1, Stderr: "connection refused"}

	cfg := validConfig()
	cfg.HealthCmd = []string{"pg_isready"}
	cfg.HealthTimeout = 60 * time.Millisecond
	cfg.HealthInterval = 20 * time.Millisecond

	c, err := NewWithClient(cfg, fake)
	require.NoError(t, err)

	err = c.Start(context.Background())
	var hte *HealthTimeoutError
	require.ErrorAs(t, err, &hte)
	assert.Equal(t, StatusFailed, c.Status())
	require.NotNil(t, hte.Last)
	assert.Equal(t, 1, hte.Last.ExitCode)
	assert.Contains(t, hte.Error(), "connection refused")

	// The container is left running for diagnosis, not auto-removed.
	assert.False(t, fake.removed)
	assert.Zero(t, fake.callCount("stop"))
}

func TestExec_RequiresRunning(t *testing.T) {
	stubPreflight(t)
	c, err := NewWithClient(validConfig(), runningFake())
	require.NoError(t, err)

	_, err = c.Exec(context.Background(), []string{"echo", "x"})
	require.Error(t, err)

	require.NoError(t, c.Start(context.Background()))
	_, err = c.Exec(context.Background(), []string{"echo", "x"})
	require.NoError(t, err)
}

func TestExec_PassesResultThrough(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()
	fake.execResult = engine.ExecResult{ExitCode: 3, Stdout: "x\n", Stderr: "warning\n"}

	c, err := NewWithClient(validConfig(), fake)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	res, err := c.Exec(context.Background(), []string{"sh", "-c", "echo x; exit 3"})
	require.NoError(t, err, "a non-zero command exit is not an error")
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "x\n", res.Stdout)
}

func TestLogs_RequireStartedContainer(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()
	fake.logsText = "ready to accept connections\n"

	c, err := NewWithClient(validConfig(), fake)
	require.NoError(t, err)

	_, err = c.Logs(context.Background(), 0)
	require.Error(t, err)

	require.NoError(t, c.Start(context.Background()))
	out, err := c.Logs(context.Background(), 0)
	require.NoError(t, err)
	assert.Contains(t, out, "ready to accept connections")
}

func TestCheckStatus_DetectsDrift(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()

	c, err := NewWithClient(validConfig(), fake)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	fake.state = engine.ContainerState{Status: "exited", Running: false}
	status, err := c.CheckStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "exited", status)
	assert.Equal(t, StatusFailed, c.Status(), "unexpected exit marks the controller failed")
}

func TestStop_Idempotent(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()

	c, err := NewWithClient(validConfig(), fake)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, 1, fake.callCount("stop"))
	assert.Equal(t, 1, fake.callCount("remove"))
	assert.Equal(t, StatusRemoved, c.Status())
}

func TestStop_BeforeStart(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()

	c, err := NewWithClient(validConfig(), fake)
	require.NoError(t, err)
	require.NoError(t, c.Stop(context.Background()))
	assert.Empty(t, fake.calls)
}

func TestStop_SwallowsAlreadyGone(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()
	fake.stopErr = &engine.Error{Op: "stop", NotFound: true, Err: errors.New("no such container")}
	fake.removeErr = &engine.Error{Op: "remove", NotFound: true, Err: errors.New("no such container")}

	c, err := NewWithClient(validConfig(), fake)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Stop(context.Background()), "already-gone responses are swallowed")
	assert.Equal(t, StatusRemoved, c.Status())
}

func TestStop_ReportsRealFailures(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()
	fake.stopErr = &engine.Error{Op: "stop", Stderr: "engine unreachable", Err: errors.New("dial failed")}

	c, err := NewWithClient(validConfig(), fake)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	err = c.Stop(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, fake.callCount("remove"), "remove is still attempted")
	assert.Equal(t, StatusRemoved, c.Status())
}

func TestWithClient_CleansUpOnSuccess(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()

	err := WithClient(context.Background(), validConfig(), fake, func(c *Container) error {
		assert.Equal(t, StatusRunning, c.Status())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, fake.removed)
	assert.Equal(t, 1, fake.callCount("close"))
}

func TestWithClient_CleansUpOnError(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()
	boom := errors.New("test body failed")

	err := WithClient(context.Background(), validConfig(), fake, func(c *Container) error {
		return boom
	})
	assert.ErrorIs(t, err, boom, "the caller's error is not masked by cleanup")
	assert.True(t, fake.removed)
}

func TestWithClient_CleansUpOnPanic(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()

	assert.Panics(t, func() {
		_ = WithClient(context.Background(), validConfig(), fake, func(c *Container) error {
			panic("caller blew up")
		})
	})
	assert.True(t, fake.removed, "teardown runs even on panic")
}

func TestWithClient_CleansUpAfterHealthTimeout(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()
	fake.execResult = engine.ExecResult{ExitCode: 1}

	cfg := validConfig()
	cfg.HealthCmd = []string{"false"}
	cfg.HealthTimeout = 30 * time.Millisecond
	cfg.HealthInterval = 10 * time.Millisecond

	err := WithClient(context.Background(), cfg, fake, func(c *Container) error {
		t.Fatal("body must not run when start fails")
		return nil
	})

	var hte *HealthTimeoutError
	require.ErrorAs(t, err, &hte)
	assert.True(t, fake.removed, "scoped release cleans up the unhealthy container")
}

func TestWithClient_CleansUpWhenContextCancelled(t *testing.T) {
	stubPreflight(t)
	fake := runningFake()

	ctx, cancel := context.WithCancel(context.Background())
	err := WithClient(ctx, validConfig(), fake, func(c *Container) error {
		cancel() // simulate an external interruption mid-body
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, fake.removed, "cleanup runs on a detached context")
}

func TestUniqueName(t *testing.T) {
	a := UniqueName("pg-test")
	b := UniqueName("pg-test")

	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^pg-test-[0-9a-f]{8}$`, a)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "new", StatusNew.String())
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "removed", StatusRemoved.String())
	assert.Equal(t, "status(42)", Status(42).String())
}
