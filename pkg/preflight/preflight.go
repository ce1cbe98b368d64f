// Package preflight validates the host environment before the first
// container is created: engine binary, version, socket, storage, and a
// couple of known environment traps. The result is cached process-wide so
// a test suite pays for the checks once.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// Error is a failed environment check. Hint carries remediation text
// meant to be shown to the user verbatim.
type Error struct {
	Check string
	Hint  string
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("preflight check %q failed", e.Check)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Check is a single named environment validation.
type Check struct {
	Name string
	Run  func() error
}

var (
	mu     sync.Mutex
	ran    bool
	result error
	checks = Defaults()
)

// Run executes the configured checks in order, short-circuiting on the
// first failure. The outcome is cached: subsequent calls return the same
// result without re-probing until Reset is called.
func Run() error {
	mu.Lock()
	defer mu.Unlock()
	if ran {
		return result
	}
	result = runChecks(checks)
	ran = true
	return result
}

// Reset clears the cached result and restores the default check list.
// Intended for test isolation.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	ran = false
	result = nil
	checks = Defaults()
}

// SetChecks replaces the check list and clears the cached result, so tests
// can substitute stubs for the real environment probes.
func SetChecks(cs []Check) {
	mu.Lock()
	defer mu.Unlock()
	checks = cs
	ran = false
	result = nil
}

func runChecks(cs []Check) error {
	for _, c := range cs {
		if err := c.Run(); err != nil {
			var pe *Error
			if errors.As(err, &pe) {
				return err
			}
			return &Error{Check: c.Name, Err: err}
		}
	}
	return nil
}

// Defaults returns the standard check list, ordered so the cheapest and
// most fundamental failures surface first.
func Defaults() []Check {
	return []Check{
		{Name: "podman-binary", Run: checkBinary},
		{Name: "podman-version", Run: checkVersion},
		{Name: "podman-socket", Run: checkSocket},
		{Name: "storage-writable", Run: checkStorageWritable},
		{Name: "docker-conflict", Run: checkDockerConflict},
		{Name: "snap-sandbox", Run: checkSnapSandbox},
		{Name: "wsl-shm", Run: checkWSLSharedMemory},
	}
}

const minMajor, minMinor = 4, 0

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)`)

func checkBinary() error {
	if _, err := exec.LookPath("podman"); err != nil {
		return &Error{
			Check: "podman-binary",
			Hint:  "Install podman: https://podman.io/getting-started/installation",
			Err:   fmt.Errorf("podman not found in PATH"),
		}
	}
	return nil
}

func checkVersion() error {
	out, err := exec.Command("podman", "--version").Output()
	if err != nil {
		// The binary check already covers a missing executable.
		return nil
	}
	m := versionPattern.FindStringSubmatch(string(out))
	if m == nil {
		return nil
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	if major < minMajor || (major == minMajor && minor < minMinor) {
		return &Error{
			Check: "podman-version",
			Hint:  "Upgrade your system packages or use a newer base image in CI",
			Err:   fmt.Errorf("podman >= %d.%d required, found %s", minMajor, minMinor, strings.TrimSpace(string(out))),
		}
	}
	return nil
}

func checkSocket() error {
	out, err := exec.Command("podman", "info", "--format", "{{.Host.RemoteSocket.Exists}}").Output()
	if err != nil || strings.TrimSpace(string(out)) != "true" {
		return &Error{
			Check: "podman-socket",
			Hint: "On Linux: systemctl --user start podman.socket\n" +
				"On macOS/WSL: podman machine init && podman machine start",
			Err: fmt.Errorf("podman socket not running"),
		}
	}
	return nil
}

func checkStorageWritable() error {
	out, err := exec.Command("podman", "info", "--format", "{{.Store.GraphRoot}}").Output()
	if err != nil {
		return nil
	}
	graphRoot := strings.TrimSpace(string(out))
	if graphRoot == "" {
		return nil
	}
	if _, err := os.Stat(graphRoot); err != nil {
		return &Error{
			Check: "storage-writable",
			Hint:  "Check the storage configuration in containers-storage.conf",
			Err:   fmt.Errorf("podman storage path missing: %s", graphRoot),
		}
	}
	probe := filepath.Join(graphRoot, ".podbox-write-probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return &Error{
			Check: "storage-writable",
			Hint:  "Fix: chown -R $USER ~/.local/share/containers",
			Err:   fmt.Errorf("podman storage not writable: %s: %w", graphRoot, err),
		}
	}
	_ = os.Remove(probe)
	return nil
}

func checkDockerConflict() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil
	}
	if os.Getenv("PODBOX_IGNORE_DOCKER") != "" {
		return nil
	}
	return &Error{
		Check: "docker-conflict",
		Hint: "A docker CLI on PATH may shadow podman or hold the default socket.\n" +
			"Remove/rename the docker binary, or set PODBOX_IGNORE_DOCKER=1",
		Err: fmt.Errorf("conflicting docker CLI found in PATH"),
	}
}

func checkSnapSandbox() error {
	if strings.Contains(strings.ToLower(os.Getenv("XDG_DATA_HOME")), "snap") {
		return &Error{
			Check: "snap-sandbox",
			Hint:  "Run from a regular terminal outside the snap confinement",
			Err:   fmt.Errorf("running inside a snap sandbox; containers will be invisible to other tools"),
		}
	}
	return nil
}

const minSharedMemory = 64 << 20

// checkWSLSharedMemory catches the WSL2 default /dev/shm sizing that makes
// database images crash on startup.
func checkWSLSharedMemory() error {
	proc, err := os.ReadFile("/proc/version")
	if err != nil {
		return nil // not Linux
	}
	if !strings.Contains(strings.ToLower(string(proc)), "microsoft") {
		return nil // not WSL
	}
	var fs syscall.Statfs_t
	if err := syscall.Statfs("/dev/shm", &fs); err != nil {
		return nil
	}
	size := int64(fs.Bsize) * int64(fs.Blocks)
	if size < minSharedMemory {
		return &Error{
			Check: "wsl-shm",
			Hint: "MySQL/PostgreSQL will crash with /dev/shm this small.\n" +
				"Raise memory in ~/.wslconfig:\n  [wsl2]\n  memory=8GB\n  swap=2GB",
			Err: fmt.Errorf("WSL2 /dev/shm too small (%dMB)", size>>20),
		}
	}
	return nil
}
