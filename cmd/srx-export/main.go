// Package main provides the srx-export CLI entrypoint.
//
// Usage:
//
//	srx-export [--config srx-export.yaml] <command> [options]
//
// Exit codes:
//   - 0: every run exported
//   - 1: at least one run failed, or a usage/config error
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nsls2/srx-export/cli/cmd"
	"github.com/nsls2/srx-export/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

var (
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

func newApp() *cli.App {
	return &cli.App{
		Name:           "srx-export",
		Usage:          "SRX end-of-run export pipeline",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:          []cli.Flag{cmd.ConfigFlag},
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ExportCommand(),
			cmd.WorkerCommand(),
			cmd.LogscanCommand(),
			cmd.ArchiveCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		exit(1)
	}
}

// exitErrHandler exits with the code carried by cli.Exit errors and 1 for
// anything else. "exit status N" placeholder messages are not printed.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(stderr, msg)
		}
		exit(code)
		return
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	exit(1)
}
