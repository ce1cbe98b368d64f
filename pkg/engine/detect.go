package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Pingable is an optional interface backends satisfy to verify the engine
// is actually responding before the client is handed out.
type Pingable interface {
	Ping(ctx context.Context) error
}

// APIFactory creates an API-backed client for the given endpoint ("" means
// environment defaults).
type APIFactory func(host string) (Client, error)

// CLIFactory creates a CLI-backed client.
type CLIFactory func() (Client, error)

const pingTimeout = 5 * time.Second

// Detect selects an engine backend.
//
// With a non-empty endpoint the API backend is used against that address
// and no fallback happens: an explicit endpoint that does not respond is
// an error, not a reason to guess. Otherwise the API backend is tried
// against the environment and the default Podman sockets, falling back to
// the podman CLI.
func Detect(endpoint string, apiFn APIFactory, cliFn CLIFactory) (Client, error) {
	if endpoint != "" {
		return tryAPI(apiFn, endpoint)
	}

	if host := envEndpoint(); host != "" {
		if eng, err := tryAPI(apiFn, host); err == nil {
			return eng, nil
		}
	}
	for _, sock := range podmanSockets() {
		if !socketExists(sock) {
			continue
		}
		if eng, err := tryAPI(apiFn, "unix://"+sock); err == nil {
			return eng, nil
		}
	}

	eng, err := cliFn()
	if err != nil {
		return nil, fmt.Errorf("no engine backend available: API socket not reachable and %w", err)
	}
	if err := ping(eng); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("podman CLI not responding: %w", err)
	}
	return eng, nil
}

func tryAPI(apiFn APIFactory, host string) (Client, error) {
	eng, err := apiFn(host)
	if err != nil {
		return nil, fmt.Errorf("creating API engine client: %w", err)
	}
	if err := ping(eng); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("engine service not responding: %w", err)
	}
	return eng, nil
}

func ping(eng Client) error {
	p, ok := eng.(Pingable)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return p.Ping(ctx)
}

func envEndpoint() string {
	if host := os.Getenv("CONTAINER_HOST"); host != "" {
		return host
	}
	return os.Getenv("DOCKER_HOST")
}

// podmanSockets lists the default socket paths, rootless first.
func podmanSockets() []string {
	var socks []string
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		socks = append(socks, filepath.Join(dir, "podman", "podman.sock"))
	}
	return append(socks, "/run/podman/podman.sock")
}

func socketExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeSocket != 0
}
