package preflight

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CachesResult(t *testing.T) {
	t.Cleanup(Reset)

	calls := 0
	SetChecks([]Check{
		{Name: "counted", Run: func() error {
			calls++
			return nil
		}},
	})

	require.NoError(t, Run())
	require.NoError(t, Run())
	require.NoError(t, Run())
	assert.Equal(t, 1, calls, "checks must run once per process")
}

func TestRun_CachesFailure(t *testing.T) {
	t.Cleanup(Reset)

	calls := 0
	SetChecks([]Check{
		{Name: "broken", Run: func() error {
			calls++
			return &Error{Check: "broken", Hint: "fix it", Err: errors.New("boom")}
		}},
	})

	err1 := Run()
	err2 := Run()
	require.Error(t, err1)
	assert.Same(t, err1.(*Error), err2.(*Error), "failure is cached too")
	assert.Equal(t, 1, calls)
}

func TestRun_ShortCircuits(t *testing.T) {
	t.Cleanup(Reset)

	var order []string
	SetChecks([]Check{
		{Name: "first", Run: func() error {
			order = append(order, "first")
			return nil
		}},
		{Name: "second", Run: func() error {
			order = append(order, "second")
			return errors.New("unsuitable")
		}},
		{Name: "third", Run: func() error {
			order = append(order, "third")
			return nil
		}},
	})

	err := Run()
	require.Error(t, err)
	assert.Equal(t, []string{"first", "second"}, order)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "second", pe.Check, "plain errors are attributed to the failing check")
}

func TestReset_ClearsCache(t *testing.T) {
	t.Cleanup(Reset)

	calls := 0
	probe := []Check{
		{Name: "counted", Run: func() error {
			calls++
			return nil
		}},
	}

	SetChecks(probe)
	require.NoError(t, Run())

	Reset()
	SetChecks(probe)
	require.NoError(t, Run())
	assert.Equal(t, 2, calls, "Reset must force re-validation")
}

func TestError_Message(t *testing.T) {
	err := &Error{
		Check: "podman-socket",
		Hint:  "systemctl --user start podman.socket",
		Err:   errors.New("podman socket not running"),
	}

	assert.Contains(t, err.Error(), "podman-socket")
	assert.Contains(t, err.Error(), "podman socket not running")
	assert.Equal(t, "systemctl --user start podman.socket", err.Hint)
}

func TestDefaults_Order(t *testing.T) {
	names := make([]string, 0, 7)
	for _, c := range Defaults() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"podman-binary",
		"podman-version",
		"podman-socket",
		"storage-writable",
		"docker-conflict",
		"snap-sandbox",
		"wsl-shm",
	}, names)
}
