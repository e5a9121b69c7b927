// Package main is the entry point for the alexander command line client.
// It downloads objects with resumable transfers and prints request
// signatures for debugging.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Exit codes
const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitInvalidArgs   = 2
	ExitConfigError   = 3
	ExitTransferError = 4
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "get":
		return runGet(ctx, cmdArgs, stdout, stderr)

	case "sign":
		return runSign(ctx, cmdArgs, stdout, stderr)

	case "migrate":
		return runMigrate(ctx, cmdArgs, stdout, stderr)

	case "version":
		fmt.Fprintf(stdout, "Alexander Client\n")
		fmt.Fprintf(stdout, "Version: %s\n", Version)
		fmt.Fprintf(stdout, "Build Time: %s\n", BuildTime)
		fmt.Fprintf(stdout, "Git Commit: %s\n", GitCommit)
		return ExitSuccess

	case "help", "-h", "--help":
		printUsage(stdout)
		return ExitSuccess

	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return ExitInvalidArgs
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Alexander Client

Usage:
  alexander-client <command> [options] [arguments]

Commands:
  get         Download an object, resuming any earlier partial download
  sign        Print the authentication headers for a request
  migrate     Create the resume journal schema
  version     Print version information
  help        Show this help message

Configuration is read from alexander.yaml in ., $HOME/.config/alexander or
/etc/alexander, or from the file given with -config. Every setting can be
overridden with an ALEXANDER_ environment variable, e.g.
ALEXANDER_CREDENTIALS_ACCESS_KEY_ID.

Examples:
  alexander-client get photos/2024/cat.jpg ./cat.jpg
  alexander-client get -chunk-size 8388608 -concurrency 8 backups/db.tar /tmp/db.tar
  alexander-client sign GET /photos/2024/cat.jpg
  alexander-client migrate -config /etc/alexander/alexander.yaml

Use "alexander-client <command> -h" for more information about a command.`)
}
