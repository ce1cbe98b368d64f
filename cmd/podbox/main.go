package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/podbox/podbox/internal/cli"
	"github.com/podbox/podbox/internal/ui"
	"github.com/podbox/podbox/pkg/podbox"
	"github.com/podbox/podbox/pkg/preflight"
)

const version = "0.1.0-dev"

func main() {
	args, err := cli.Parse(os.Args)
	if err != nil {
		if err.Error() == "show_help" {
			showHelp()
			os.Exit(0)
		}
		if err.Error() == "show_version" {
			fmt.Printf("podbox %s\n", version)
			os.Exit(0)
		}
		ui.Fail("Error parsing arguments: %v", err)
		ui.Info("Run %s for usage information", ui.Bold("podbox --help"))
		os.Exit(1)
	}

	switch args.Command {
	case "preflight":
		handlePreflight()
	case "run":
		handleRun(args)
	}
}

func handlePreflight() {
	ui.Header()
	ui.Info("Checking host environment...")

	if err := preflight.Run(); err != nil {
		var pe *preflight.Error
		if errors.As(err, &pe) {
			ui.Fail("%s: %v", pe.Check, pe.Err)
			if pe.Hint != "" {
				ui.DimMsg(pe.Hint)
			}
		} else {
			ui.Fail("%v", err)
		}
		ui.Footer()
		os.Exit(1)
	}

	ui.Success("Host is ready to run containers")
	ui.Footer()
}

func handleRun(args *cli.Args) {
	cfg, err := loadConfig(args.ConfigFile)
	if err != nil {
		ui.Fail("%s: %v", args.ConfigFile, err)
		os.Exit(1)
	}
	cfg.Endpoint = args.Endpoint

	// Tear down the container on Ctrl-C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui.Header()
	ui.Info("Starting %s (%s)", ui.Bold(cfg.Name), cfg.Image)

	err = podbox.With(ctx, cfg, func(c *podbox.Container) error {
		for requested := range cfg.Ports {
			if host, ok := c.GetPort(requested); ok {
				ui.Success("Port %d available on localhost:%d", requested, host)
			}
		}
		ui.Info("Streaming logs, %s to stop", ui.Bold("Ctrl-C"))
		ui.Footer()

		lines, err := c.FollowLogs(ctx, args.Tail)
		if err != nil {
			return err
		}
		for line := range lines {
			fmt.Println(line)
		}
		return ctx.Err()
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		reportRunError(err)
		os.Exit(1)
	}

	ui.BlankLine()
	ui.Success("Container removed")
}

func reportRunError(err error) {
	var pe *preflight.Error
	if errors.As(err, &pe) {
		ui.Fail("Preflight check failed (%s): %v", pe.Check, pe.Err)
		if pe.Hint != "" {
			ui.DimMsg(pe.Hint)
		}
		ui.Footer()
		return
	}

	var hte *podbox.HealthTimeoutError
	if errors.As(err, &hte) {
		ui.Fail("%v", err)
		ui.Info("Try a longer %s or check the image's logs with %s", ui.Bold("health.timeout"), ui.Bold("podman logs"))
		ui.Footer()
		return
	}

	ui.Fail("%v", err)
	ui.Footer()
}

// fileConfig is the YAML shape of a container definition. Ports and
// volumes use the familiar "host:container" string syntax and are
// expanded into the structured podbox.Config.
type fileConfig struct {
	Name    string            `yaml:"name"`
	Image   string            `yaml:"image"`
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`
	Ports   []string          `yaml:"ports"`
	Volumes []string          `yaml:"volumes"`

	InitDir     string   `yaml:"init_dir"`
	InitScripts []string `yaml:"init_scripts"`

	Health struct {
		Cmd      []string `yaml:"cmd"`
		Timeout  string   `yaml:"timeout"`
		Interval string   `yaml:"interval"`
	} `yaml:"health"`
}

// parseDuration wraps time.ParseDuration, treating an absent value as
// zero so the library defaults apply.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("bad %s duration %q", field, value)
	}
	return d, nil
}

func loadConfig(path string) (podbox.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return podbox.Config{}, err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return podbox.Config{}, err
	}

	timeout, err := parseDuration("health.timeout", fc.Health.Timeout)
	if err != nil {
		return podbox.Config{}, err
	}
	interval, err := parseDuration("health.interval", fc.Health.Interval)
	if err != nil {
		return podbox.Config{}, err
	}

	cfg := podbox.Config{
		Name:           fc.Name,
		Image:          fc.Image,
		Command:        fc.Command,
		Env:            fc.Env,
		InitDir:        fc.InitDir,
		InitScripts:    fc.InitScripts,
		HealthCmd:      fc.Health.Cmd,
		HealthTimeout:  timeout,
		HealthInterval: interval,
	}

	if cfg.Name == "" {
		cfg.Name = podbox.UniqueName("podbox")
	}

	if len(fc.Ports) > 0 {
		cfg.Ports = make(map[int]int, len(fc.Ports))
		for _, spec := range fc.Ports {
			container, host, err := parsePort(spec)
			if err != nil {
				return podbox.Config{}, err
			}
			cfg.Ports[container] = host
		}
	}

	for _, spec := range fc.Volumes {
		mount, err := parseVolume(spec)
		if err != nil {
			return podbox.Config{}, err
		}
		cfg.Volumes = append(cfg.Volumes, mount)
	}

	return cfg, nil
}

// parsePort accepts "host:container" or a bare container port, which
// asks the engine for a free host port.
func parsePort(spec string) (container, host int, err error) {
	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 1:
		container, err = strconv.Atoi(parts[0])
		return container, 0, err
	case 2:
		host, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, fmt.Errorf("bad port mapping %q", spec)
		}
		container, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("bad port mapping %q", spec)
		}
		return container, host, nil
	default:
		return 0, 0, fmt.Errorf("bad port mapping %q", spec)
	}
}

// parseVolume accepts "host:container" with an optional ":ro" suffix.
func parseVolume(spec string) (podbox.VolumeMount, error) {
	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 2:
		return podbox.VolumeMount{HostPath: parts[0], ContainerPath: parts[1]}, nil
	case 3:
		if parts[2] != "ro" {
			return podbox.VolumeMount{}, fmt.Errorf("bad volume option %q in %q", parts[2], spec)
		}
		return podbox.VolumeMount{HostPath: parts[0], ContainerPath: parts[1], ReadOnly: true}, nil
	default:
		return podbox.VolumeMount{}, fmt.Errorf("bad volume mapping %q", spec)
	}
}

func showHelp() {
	help := `podbox - throwaway containers with guaranteed teardown

USAGE:
    podbox <COMMAND> [OPTIONS]

COMMANDS:
    preflight              Check that the host can run containers
    run                    Start a container from a YAML file and stream logs

OPTIONS:
    -f, --file PATH        Container definition file (required for run)
    --endpoint URI         Engine socket URI (skips auto-detection)
    --tail N               Historical log lines to replay before following
    -h, --help             Show this help message
    --version              Show version information

EXAMPLES:
    # Verify the host before running anything
    podbox preflight

    # Run a database from a definition file until Ctrl-C
    podbox run -f postgres.yaml

    # Target a specific Podman socket
    podbox run -f postgres.yaml --endpoint unix:///run/podman/podman.sock

FILE FORMAT (YAML):
    name: pg-dev                  # optional, generated when omitted
    image: docker.io/library/postgres:16
    env:
      POSTGRES_PASSWORD: secret
    ports:
      - "5432"                    # engine picks a free host port
      - "8080:80"                 # fixed host port
    volumes:
      - ./data:/var/lib/postgresql/data
    init_dir: /docker-entrypoint-initdb.d
    init_scripts:
      - ./sql/tables.sql
      - ./sql/seed.sql
    health:
      cmd: ["pg_isready", "-U", "postgres"]
      timeout: 30s
      interval: 1s

ENVIRONMENT VARIABLES:
    CONTAINER_HOST          Engine socket URI (Podman convention)
    DOCKER_HOST             Engine socket URI (Docker convention)
    PODBOX_IGNORE_DOCKER    Set to 1 to skip the Docker-conflict check
`
	fmt.Print(help)
}
