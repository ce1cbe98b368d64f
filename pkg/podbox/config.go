package podbox

import (
	"fmt"
	"strings"
	"time"
)

// Config describes one throwaway container. It is validated once and not
// mutated afterwards.
type Config struct {
	// Name is the container name, unique within the engine's namespace.
	Name string
	// Image is the image reference, e.g. "docker.io/library/postgres:16".
	Image string
	// Command overrides the image's default command when non-empty.
	Command []string
	// Env is injected as KEY=VALUE pairs.
	Env map[string]string
	// Ports maps container ports to requested host ports. A zero host
	// port asks the engine to bind a free ephemeral port.
	Ports map[int]int
	// Volumes are additional bind mounts.
	Volumes []VolumeMount
	// InitDir is the in-container directory an image's entrypoint scans
	// for init scripts, e.g. "/docker-entrypoint-initdb.d".
	InitDir string
	// InitScripts are host paths mounted read-only into InitDir, renamed
	// with 00-, 01-, ... prefixes so they run in this order.
	InitScripts []string
	// HealthCmd, when set, is executed inside the container until it
	// exits 0; Start only returns once it does (or HealthTimeout passes).
	HealthCmd []string
	// HealthTimeout bounds the readiness wait. Defaults to 30s.
	HealthTimeout time.Duration
	// HealthInterval is the pause between probes. Defaults to 1s.
	HealthInterval time.Duration
	// Endpoint overrides the engine endpoint, e.g.
	// "unix:///run/podman/podman.sock" or "tcp://build-host:2376".
	Endpoint string
}

// VolumeMount is a single bind mount.
type VolumeMount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

const (
	defaultHealthTimeout  = 30 * time.Second
	defaultHealthInterval = time.Second
)

// ConfigError reports an invalid or inconsistent configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// withDefaults fills zero-valued health settings.
func (c Config) withDefaults() Config {
	if c.HealthTimeout == 0 {
		c.HealthTimeout = defaultHealthTimeout
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = defaultHealthInterval
	}
	return c
}

// Validate checks the configuration. It is called by New, before any
// engine interaction.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ConfigError{Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.Image) == "" {
		return &ConfigError{Field: "image", Reason: "must not be empty"}
	}
	if c.HealthTimeout < 0 {
		return &ConfigError{Field: "health_timeout", Reason: "must be positive"}
	}
	if c.HealthInterval < 0 {
		return &ConfigError{Field: "health_interval", Reason: "must be positive"}
	}
	if c.HealthInterval > c.HealthTimeout && c.HealthTimeout > 0 {
		return &ConfigError{Field: "health_interval", Reason: "must not exceed health_timeout"}
	}
	for port, host := range c.Ports {
		if port < 1 || port > 65535 {
			return &ConfigError{Field: "ports", Reason: fmt.Sprintf("container port %d out of range", port)}
		}
		if host < 0 || host > 65535 {
			return &ConfigError{Field: "ports", Reason: fmt.Sprintf("host port %d out of range", host)}
		}
	}
	for key := range c.Env {
		if key == "" || strings.Contains(key, "=") {
			return &ConfigError{Field: "env", Reason: fmt.Sprintf("invalid key %q", key)}
		}
	}
	for _, v := range c.Volumes {
		if v.HostPath == "" || v.ContainerPath == "" {
			return &ConfigError{Field: "volumes", Reason: "host and container paths must not be empty"}
		}
	}
	if c.InitDir != "" && len(c.InitScripts) == 0 {
		return &ConfigError{Field: "init_dir", Reason: "declared without init_scripts"}
	}
	if c.InitDir == "" && len(c.InitScripts) > 0 {
		return &ConfigError{Field: "init_scripts", Reason: "declared without init_dir"}
	}
	return nil
}
