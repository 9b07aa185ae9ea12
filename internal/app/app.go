package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "serve":
		return runServe(args[1:])
	case "process", "run-once":
		return runProcess(args[1:])
	case "retract":
		return runRetract(args[1:])
	case "publish":
		return runPublish(args[1:])
	case "validate":
		return runValidate(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "magic-worker CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  magic-worker <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  serve     Run the change feed listener, matching engine and HTTP API")
	fmt.Fprintln(os.Stderr, "  process   Match published intents that were never processed")
	fmt.Fprintln(os.Stderr, "  run-once  Alias for process")
	fmt.Fprintln(os.Stderr, "  retract   Unpublish an intent and void its matches")
	fmt.Fprintln(os.Stderr, "  publish   Store a published intent and match it inline")
	fmt.Fprintln(os.Stderr, "  validate  Validate intent payload JSON files against the schema")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"magic-worker <command> -h\" for command-specific flags.")
}
