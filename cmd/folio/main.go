package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitInvalidArgs     = 2
	ExitSourceNotAccess = 3
	ExitStorageError    = 4
	ExitIncomplete      = 5
	ExitNotFound        = 6
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
	case "download":
		return runDownload(cmdArgs)
	case "resume":
		return runResume(cmdArgs)
	case "status":
		return runStatus(cmdArgs)
	case "serve":
		return runServe(cmdArgs)
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
	fmt.Fprintln(os.Stderr, `Usage: folio <command> [options]

Commands:
  download  Mirror every chapter reachable from a URL or manifest
  resume    Continue an interrupted download from its checkpoint
  status    Show checkpoint and per-chapter progress of a job root
  serve     Run the HTTP job API

Run 'folio <command> -h' for command-specific help.`)
}
