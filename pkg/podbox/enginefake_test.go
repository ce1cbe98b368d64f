package podbox

import (
	"context"
	"sync"
	"time"

	"github.com/podbox/podbox/pkg/engine"
)

// fakeEngine is a scriptable engine.Client for controller tests.
type fakeEngine struct {
	mu    sync.Mutex
	calls []string

	createErr  error
	startErr   error
	stopErr    error
	removeErr  error
	inspectErr error

	// execScript results are consumed in order; once exhausted, execResult
	// is returned. A nil *engine.ExecResult entry simulates an engine
	// failure for that probe.
	execScript []*engine.ExecResult
	execResult engine.ExecResult
	execErr    error

	state    engine.ContainerState
	logsText string
	logLines []string

	removed bool
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeEngine) Create(_ context.Context, _ engine.Spec) (string, error) {
	f.record("create")
	if f.createErr != nil {
		return "", f.createErr
	}
	return "fake-id", nil
}

func (f *fakeEngine) Start(_ context.Context, _ string) error {
	f.record("start")
	return f.startErr
}

func (f *fakeEngine) Stop(_ context.Context, _ string, _ time.Duration) error {
	f.record("stop")
	return f.stopErr
}

func (f *fakeEngine) Remove(_ context.Context, _ string, _ bool) error {
	f.record("remove")
	if f.removeErr != nil {
		return f.removeErr
	}
	f.mu.Lock()
	f.removed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Exec(_ context.Context, _ string, _ []string) (engine.ExecResult, error) {
	f.record("exec")
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.execScript) > 0 {
		step := f.execScript[0]
		f.execScript = f.execScript[1:]
		if step == nil {
			return engine.ExecResult{}, &engine.Error{Op: "exec", Err: context.DeadlineExceeded}
		}
		return *step, nil
	}
	return f.execResult, f.execErr
}

func (f *fakeEngine) Logs(_ context.Context, _ string, _ int) (string, error) {
	f.record("logs")
	return f.logsText, nil
}

func (f *fakeEngine) FollowLogs(ctx context.Context, _ string, _ int) (<-chan string, error) {
	f.record("follow-logs")
	lines := make(chan string)
	go func() {
		defer close(lines)
		for _, l := range f.logLines {
			select {
			case lines <- l:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines, nil
}

func (f *fakeEngine) Inspect(_ context.Context, _ string) (engine.ContainerState, error) {
	f.record("inspect")
	if f.inspectErr != nil {
		return engine.ContainerState{}, f.inspectErr
	}
	return f.state, nil
}

func (f *fakeEngine) Close() error {
	f.record("close")
	return nil
}
