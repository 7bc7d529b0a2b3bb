package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tb3nav/navseq/internal/sequencer"
)

// module defs - Version and BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	BinName string = "navseq"
)

// exit codes
const (
	exitOK    = 0
	exitError = 1
	exitFatal = 2 // action server unavailable under the abort policy
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, sequencer.ErrServerUnavailable):
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return exitFatal
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitError
	}
}
