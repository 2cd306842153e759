// Command flagfile validates, inspects and evaluates flag files.
//
// Usage:
//
//	flagfile validate [path]
//	flagfile list [path]
//	flagfile get <flag> [path]
//	flagfile eval [-config path] [-user id] [-email addr] [-env name] [-attr k=v]... [-seed s] <flag>
//	flagfile watch [path]
//
// Without a path the standard locations (.devbolt/flags.yml, devbolt.yml,
// .devbolt.yml and their .yaml variants) are searched from the working
// directory. Exit status is 0 on success, 1 on failure and 2 on bad usage.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

const usage = `flagfile - local feature flag evaluation

Usage:
  flagfile validate [path]        check a flag file
  flagfile list [path]            list flags
  flagfile get <flag> [path]      print one flag's configuration
  flagfile eval [options] <flag>  evaluate a flag and print the result as JSON
  flagfile watch [path]           serve metrics and reload the file on change

Run 'flagfile <command> -h' for command options.
`

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) error {
	return &ExitError{Code: exitUsage, Message: fmt.Sprintf(format, args...)}
}

func failure(err error) error {
	return &ExitError{Code: exitFailure, Message: err.Error()}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	if err == nil {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Message != "" {
			fmt.Fprintln(os.Stderr, exitErr.Message)
		}
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(exitFailure)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return &ExitError{Code: exitUsage}
	}

	command, rest := args[0], args[1:]
	switch command {
	case "validate":
		return runValidate(rest, stdout, stderr)
	case "list":
		return runList(rest, stdout, stderr)
	case "get":
		return runGet(rest, stdout, stderr)
	case "eval":
		return runEval(ctx, rest, stdout, stderr)
	case "watch":
		return runWatch(ctx, rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return usageError("unknown command %q", command)
	}
}
