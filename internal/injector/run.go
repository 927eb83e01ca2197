package injector

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/danmuck/injectctl/internal/device"
	"github.com/danmuck/injectctl/internal/observability"
)

// Run executes one controller injection against dev and reports progress
// lines on out. It returns the granted id, or 0 when no id was granted.
//
// The request call returns on acknowledgement and does not wait for the
// agent to finish. When req.Wait is set, Run then blocks until the
// uninjected notification for the granted id arrives or ctx is done.
func Run(ctx context.Context, dev device.Device, req Request, out io.Writer) (device.InjectionID, error) {
	logger := observability.Component("injector").With().
		Str("device", dev.ID()).
		Uint32("pid", req.PID).
		Logger()

	blob, err := os.ReadFile(req.PayloadPath)
	if err != nil {
		return 0, fmt.Errorf("read payload: %w", err)
	}
	logger.Debug().Str("payload", req.PayloadPath).Int("bytes", len(blob)).Msg("injector.Run payload loaded")

	listener := listenUninjected(dev.Uninjected())

	start := time.Now()
	id, err := dev.InjectLibraryBlob(ctx, req.PID, blob, req.Entry, req.Data)
	observability.RecordInjection(dev.ID(), err == nil, time.Since(start))
	if err != nil {
		listener.disconnect()
		logger.Warn().Err(err).Msg("injector.Run request rejected")
		return 0, fmt.Errorf("inject pid=%d: %w", req.PID, err)
	}

	fmt.Fprintf(out, "[*] Injected id: %d\n", id)
	logger.Info().Stringer("injection_id", id).Msg("injector.Run injected")
	listener.grant(id)

	if !req.Wait {
		listener.disconnect()
		return id, nil
	}

	select {
	case got := <-listener.delivered:
		observability.RecordUninjected(dev.ID())
		fmt.Fprintf(out, "[*] onUninjected() id: %d\n", got)
		logger.Info().Stringer("injection_id", got).Msg("injector.Run uninjected")
		return id, nil
	case <-ctx.Done():
		listener.disconnect()
		logger.Info().Stringer("injection_id", id).Msg("injector.Run wait cancelled")
		return id, nil
	}
}
