package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitError       = 1
	ExitInvalidArgs = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "copy":
		return runCopy(cmdArgs)
	case "status":
		return runStatus(cmdArgs)
	case "abort":
		return runAbort(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: b2b <command> [options]

Commands:
  copy      Stream an HTTP URL into a bucket as a resumable multipart upload
  status    Show the in-progress upload that copy would resume
  abort     Discard in-progress uploads for a destination object

Re-running an interrupted copy with the same destination resumes it.
Run 'b2b <command> -h' for command-specific help.`)
}
