// Command injectctl injects a library payload into a running process on the
// local device and waits for it to be unloaded.
//
//	injectctl <pid> <payload-path>
//
// Settings come from the TOML file named by INJECTCTL_CONFIG, if set.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/injectctl/internal/config"
	"github.com/danmuck/injectctl/internal/device"
	"github.com/danmuck/injectctl/internal/device/local"
	"github.com/danmuck/injectctl/internal/injector"
	"github.com/danmuck/injectctl/internal/logging"
	"github.com/rs/zerolog/log"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type deviceFactory func(cfg local.Config) device.Device

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, newLocalDevice)
	stop()
	os.Exit(code)
}

func newLocalDevice(cfg local.Config) device.Device {
	return local.New(cfg)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, newDevice deviceFactory) int {
	req, err := injector.ParseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "injectctl: %v\n", err)
		if errors.Is(err, device.ErrInvalidPID) {
			fmt.Fprintln(stderr, injector.ErrUsage.Error())
		}
		return exitUsage
	}

	cfg, err := config.Resolve()
	if err != nil {
		fmt.Fprintf(stderr, "injectctl: %v\n", err)
		return exitError
	}
	cfg.Apply(&req)

	mgr := device.NewManager()
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Warn().Err(err).Msg("injectctl close devices")
		}
	}()
	dev, err := openDevice(mgr, cfg, newDevice)
	if err != nil {
		fmt.Fprintf(stderr, "injectctl: %v\n", err)
		return exitError
	}
	log.Info().Str("device", dev.ID()).Str("name", dev.Name()).Msg("injectctl device ready")

	if _, err := injector.Run(ctx, dev, req, stdout); err != nil {
		fmt.Fprintf(stderr, "injectctl: %v\n", err)
		return exitError
	}
	return exitOK
}

// openDevice registers every configured device and returns the target, or
// the local device when no target is set.
func openDevice(mgr *device.Manager, cfg config.Run, newDevice deviceFactory) (device.Device, error) {
	devs, err := cfg.Devices(newDevice)
	if err != nil {
		return nil, err
	}
	for _, dev := range devs {
		if err := mgr.Register(dev); err != nil {
			return nil, err
		}
	}
	if cfg.Target != "" {
		return mgr.Device(cfg.Target)
	}
	return mgr.LocalDevice()
}
