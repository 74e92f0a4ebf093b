// Command devkit is a repo-aware model assistant for mod development.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/modforge/devkit/internal/cmd"
	"github.com/modforge/devkit/internal/style"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	if err != nil {
		style.PrintError("%v", err)
		os.Exit(1)
	}
}
