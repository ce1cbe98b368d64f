// Package engine issues container lifecycle operations against a Podman
// engine and parses its responses into typed results.
//
// Two backends implement the same Client contract:
//
//  1. APIClient (api.go) speaks the Docker-compatible HTTP API on the
//     Podman socket, local or remote.
//  2. CLIClient (cli.go) shells out to the podman binary for hosts where
//     no system service is running.
//
// Detect (detect.go) picks a backend: an explicit endpoint always selects
// the API; otherwise the environment and the default sockets are probed
// before falling back to the CLI.
//
// Every failed invocation is reported as *Error, carrying the operation
// name and the raw engine diagnostics. Exec is the one deliberate
// asymmetry: a non-zero exit status of the command run inside the
// container is data (ExecResult.ExitCode), not an error.
package engine
