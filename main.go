// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/streamwatch/cmd"
)

// main lets `go run .` behave like the streamwatch binary.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cmd.ExitCode(cmd.Execute(ctx))
	stop()
	os.Exit(code)
}
