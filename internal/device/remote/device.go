// Package remote reaches a device over SSH. Helper execution, payload
// staging and process listing run on the remote host; the injection flow
// itself is the one the local backend implements.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/injectctl/internal/device"
	"github.com/danmuck/injectctl/internal/device/local"
	"github.com/danmuck/injectctl/internal/observability"
	"github.com/danmuck/injectctl/internal/symbols"
)

const DefaultTempDir = "/tmp"

// Config configures a remote device.
type Config struct {
	ID           string
	Name         string
	Helper       string
	PollInterval time.Duration
	TempDir      string
	SSH          SSHRunner
	// Runner overrides SSH when set.
	Runner Runner
}

func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = c.ID
	}
	if strings.TrimSpace(c.Helper) == "" {
		c.Helper = local.DefaultHelper
	}
	if c.PollInterval <= 0 {
		c.PollInterval = local.DefaultPollInterval
	}
	if strings.TrimSpace(c.TempDir) == "" {
		c.TempDir = DefaultTempDir
	}
	if c.Runner == nil {
		c.Runner = c.SSH
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: empty", device.ErrInvalidDeviceID)
	}
	if c.Runner == nil && strings.TrimSpace(c.SSH.Host) == "" {
		return fmt.Errorf("remote %s: ssh host is required", c.ID)
	}
	return nil
}

// New builds a remote device on top of the local injection flow.
func New(cfg Config) (*local.Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	return local.New(local.Config{
		ID:           cfg.ID,
		Name:         cfg.Name,
		Kind:         device.KindRemote,
		Helper:       cfg.Helper,
		PollInterval: cfg.PollInterval,
		Runner:       cfg.Runner,
		Processes:    Processes{Runner: cfg.Runner},
		// Existence is checked over SSH; there is no remote signal probe.
		Probe:     func(uint32) error { return nil },
		Stage:     Stager(cfg.Runner, cfg.TempDir),
		ReadTable: TableReader(cfg.Runner),
	}), nil
}

// Stager uploads payloads into a fresh file under dir on the remote host.
func Stager(r Runner, dir string) local.StageFunc {
	logger := observability.Component("device.remote")
	return func(ctx context.Context, blob []byte) (string, func(), error) {
		stdout, stderr, _, err := r.Run(ctx, "mktemp", strings.TrimRight(dir, "/")+"/injectctl-XXXXXX")
		if err != nil {
			return "", nil, fmt.Errorf("remote mktemp: %w: %s", err, strings.TrimSpace(string(stderr)))
		}
		path := strings.TrimSpace(string(stdout))
		if path == "" {
			return "", nil, fmt.Errorf("remote mktemp: empty path")
		}
		cleanup := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, _, _, err := r.Run(ctx, "rm", "-f", path); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("remote.Stager cleanup failed")
			}
		}
		if _, stderr, _, err := r.RunInput(ctx, bytes.NewReader(blob), "sh", "-c", "cat > "+shellEscape(path)); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("remote upload: %w: %s", err, strings.TrimSpace(string(stderr)))
		}
		return path, cleanup, nil
	}
}

// TableReader fetches a remote library and parses its symbol table.
func TableReader(r Runner) func(ctx context.Context, path string) (symbols.Table, error) {
	return func(ctx context.Context, path string) (symbols.Table, error) {
		stdout, stderr, _, err := r.Run(ctx, "cat", path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w: %s", path, err, strings.TrimSpace(string(stderr)))
		}
		return symbols.ParseSymbols(bytes.NewReader(stdout))
	}
}
