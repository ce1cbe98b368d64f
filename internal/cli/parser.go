// Package cli handles command-line argument parsing for podbox.
package cli

import (
	"errors"
	"fmt"
	"os"
)

// Args represents parsed command-line arguments.
type Args struct {
	// Command is the subcommand to run: "run" or "preflight".
	Command string

	// Run flags
	ConfigFile string
	Endpoint   string
	Tail       int
}

// Parse parses command-line arguments into an Args struct.
func Parse(osArgs []string) (*Args, error) {
	args := &Args{Tail: -1}

	i := 1 // Skip program name
	for i < len(osArgs) {
		arg := osArgs[i]

		switch arg {
		case "-h", "--help":
			return nil, errors.New("show_help")

		case "--version":
			return nil, errors.New("show_version")

		case "-f", "--file":
			if i+1 >= len(osArgs) {
				return nil, fmt.Errorf("%s requires a path argument", arg)
			}
			configFile := osArgs[i+1]
			if _, err := os.Stat(configFile); err != nil {
				return nil, fmt.Errorf("%s: file not found: %s", arg, configFile)
			}
			args.ConfigFile = configFile
			i += 2

		case "--endpoint":
			if i+1 >= len(osArgs) {
				return nil, fmt.Errorf("--endpoint requires a URI argument")
			}
			args.Endpoint = osArgs[i+1]
			i += 2

		case "--tail":
			if i+1 >= len(osArgs) {
				return nil, fmt.Errorf("--tail requires a line count")
			}
			var n int
			if _, err := fmt.Sscanf(osArgs[i+1], "%d", &n); err != nil {
				return nil, fmt.Errorf("--tail: not a number: %s", osArgs[i+1])
			}
			args.Tail = n
			i += 2

		case "run", "preflight":
			if args.Command != "" {
				return nil, fmt.Errorf("unexpected argument: %s", arg)
			}
			args.Command = arg
			i++

		default:
			return nil, fmt.Errorf("unknown argument: %s", arg)
		}
	}

	if args.Command == "" {
		return nil, errors.New("show_help")
	}
	if args.Command == "run" && args.ConfigFile == "" {
		return nil, fmt.Errorf("run requires -f <file>")
	}

	return args, nil
}
