// Command hookdemo loads an instrumentation script over two local exports,
// calls one through a native-call signature, hooks the other and reports
// the hooked result.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/injectctl/internal/instrument"
	"github.com/danmuck/injectctl/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runDemo(ctx, os.Stdout); err != nil {
		log.Error().Err(err).Msg("hookdemo failed")
		stop()
		os.Exit(1)
	}
}

// runDemo blocks in the script event loop until ctx is done.
func runDemo(ctx context.Context, out io.Writer) error {
	fmt.Fprintln(out, "Script example!")

	exports, err := newExports(out)
	if err != nil {
		return err
	}

	rt := instrument.NewRuntime("hello.go", exports, func(channel string, payload []byte) {
		fmt.Fprintf(out, "callback - msg: %s bytes: %v\n", channel, payload)
	})
	defer rt.Unload()

	if err := rt.Load(helloScript); err != nil {
		return err
	}

	var test2 func(uint32) uint32
	if err := exports.Bind("test2", &test2); err != nil {
		return err
	}
	fmt.Fprintf(out, "TEST2: %d\n", test2(987))

	if err := rt.RunEventLoop(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func newExports(out io.Writer) (*instrument.Exports, error) {
	exports := instrument.NewExports()
	if err := exports.Register("test1", func(value uint32) {
		fmt.Fprintf(out, "TEST: %d\n", value)
	}); err != nil {
		return nil, err
	}
	if err := exports.Register("test2", func(value uint32) uint32 {
		return value
	}); err != nil {
		return nil, err
	}
	return exports, nil
}
