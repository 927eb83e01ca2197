// Command devicectl inspects devices, processes and payload exports, and
// injects libraries that are already on disk.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/injectctl/internal/device"
	"github.com/danmuck/injectctl/internal/device/local"
	"github.com/danmuck/injectctl/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(func(cfg local.Config) device.Device { return local.New(cfg) })
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "devicectl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
