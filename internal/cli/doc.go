// Package cli provides command-line argument parsing for the podbox binary.
//
// This package handles all CLI flag parsing and validation, converting
// command-line arguments into a structured Args type that the main
// application can use.
//
// Supported commands and flags:
//   - preflight: run host environment checks and report results
//   - run: start a container from a YAML file and stream its logs
//   - -f, --file: path to the container YAML definition
//   - --endpoint: explicit engine socket URI (e.g. unix:///run/podman/podman.sock)
//   - --tail: number of historical log lines to replay before following
//
// Example usage:
//
//	args, err := cli.Parse(os.Args)
//	if err != nil {
//	    if err.Error() == "show_help" {
//	        showHelp()
//	        os.Exit(0)
//	    }
//	    log.Fatal(err)
//	}
//
//	if args.Command == "run" {
//	    // Start the container described by args.ConfigFile
//	}
package cli
