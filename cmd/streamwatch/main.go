// File: cmd/streamwatch/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/streamwatch/cmd"
	"github.com/xkilldash9x/streamwatch/internal/observability"
)

const panicLogFile = "panic.log"

// Function variables swapped out by tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	// SIGINT/SIGTERM cancel the run; in-flight jobs still tear their sessions down.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cmd.ExitCode(cmd.Execute(ctx))
	stop()
	osExit(code)
}

// handlePanic writes the panic and its stack to panic.log and exits non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(cmd.ExitFailure)
		return
	}

	fmt.Fprintf(os.Stderr, "\nstreamwatch crashed. Details logged to %s\n", panicLogFile)
	osExit(cmd.ExitFailure)
}
