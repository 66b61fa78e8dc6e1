// Command schedulectl inspects and edits subscription schedules from the
// command line using the same service as the HTTP API.
package main

import (
	"fmt"
	"io"
	"os"
)

var version = "dev"

// stdout is swapped in tests.
var stdout io.Writer = os.Stdout

var commands = map[string]func([]string) error{
	"show":    runShow,
	"phases":  runPhases,
	"replace": runReplace,
	"create":  runCreate,
	"release": runRelease,
	"diff":    runDiff,
	"token":   runToken,
}

func usage() {
	fmt.Fprintf(os.Stderr, `schedulectl - subscription schedule CLI (version %s)

Usage:
  schedulectl <command> [options]

Commands:
  show       Print a schedule
  phases     Print the current and next phases of a schedule
  replace    Replace the current and next phases from an edit file
  create     Find or create the schedule for a subscription
  release    Release a schedule, leaving its subscription in place
  diff       Compare two config files and list the changed sections
  token      Issue an API bearer token signed with the configured JWT secret

Billing commands read the same config file and environment as the server.
Run 'schedulectl <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err := fn(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
