// Package local implements the device backend for the host the controller
// runs on. The load step itself is delegated to an external helper. Command
// execution, staging and process listing are pluggable so other backends can
// drive the same flow over a different transport.
package local

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/injectctl/internal/device"
	"github.com/danmuck/injectctl/internal/observability"
	"github.com/danmuck/injectctl/internal/symbols"
	"github.com/danmuck/injectctl/internal/tools"
	"github.com/rs/zerolog"
)

const (
	DefaultID           = "local"
	DefaultName         = "Local System"
	DefaultHelper       = "injectctl-helper"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultProbeTimeout = 10 * time.Second
)

// Config configures the local device.
type Config struct {
	ID           string
	Name         string
	Kind         device.Kind
	Helper       string
	PollInterval time.Duration
	// ProbeTimeout bounds one liveness check, including any transport setup.
	ProbeTimeout time.Duration
	TempDir      string
	Runner       tools.CommandRunner
	Processes    ProcessSource
	Probe        func(pid uint32) error
	// Backoff stretches the poll interval while liveness probes fail.
	Backoff Backoff
	// Stage writes blob where the helper can read it.
	Stage StageFunc
	// ReadTable loads the symbols of a library path as the helper sees it.
	ReadTable func(ctx context.Context, path string) (symbols.Table, error)
}

// StageFunc places a payload for the helper and returns its path and a
// cleanup that removes it again.
type StageFunc func(ctx context.Context, blob []byte) (path string, cleanup func(), err error)

// DefaultConfig returns host defaults.
func DefaultConfig() Config {
	return Config{
		ID:           DefaultID,
		Name:         DefaultName,
		Kind:         device.KindLocal,
		Helper:       DefaultHelper,
		PollInterval: DefaultPollInterval,
		ProbeTimeout: DefaultProbeTimeout,
		Backoff:      DefaultBackoff(),
	}
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ID) == "" {
		c.ID = def.ID
	}
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if c.Kind == "" {
		c.Kind = def.Kind
	}
	if strings.TrimSpace(c.Helper) == "" {
		c.Helper = def.Helper
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.Runner == nil {
		c.Runner = tools.ExecRunner{}
	}
	if c.Processes == nil {
		c.Processes = HostProcesses{}
	}
	if c.Probe == nil {
		c.Probe = probeSignal
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = def.Backoff
	}
	if c.Stage == nil {
		c.Stage = TempStager(c.TempDir)
	}
	if c.ReadTable == nil {
		c.ReadTable = func(_ context.Context, path string) (symbols.Table, error) {
			return symbols.ReadSymbols(path)
		}
	}
	return c
}

type injection struct {
	id  device.InjectionID
	pid uint32
}

// Device is the local host device.
type Device struct {
	cfg      Config
	log      zerolog.Logger
	uninject *device.Signal[device.InjectionID]

	mu      sync.Mutex
	closed  bool
	nextID  device.InjectionID
	active  map[device.InjectionID]injection
	done    chan struct{}
	watches sync.WaitGroup
	// life is cancelled by Close so in-flight probes return promptly.
	life     context.Context
	stopLife context.CancelFunc
}

// New creates a local device from cfg.
func New(cfg Config) *Device {
	cfg = cfg.WithDefaults()
	life, stopLife := context.WithCancel(context.Background())
	return &Device{
		cfg:      cfg,
		log:      observability.Component("device."+string(cfg.Kind)).With().Str("device", cfg.ID).Logger(),
		uninject: device.NewSignal[device.InjectionID](),
		active:   make(map[device.InjectionID]injection),
		done:     make(chan struct{}),
		life:     life,
		stopLife: stopLife,
	}
}

func (d *Device) ID() string        { return d.cfg.ID }
func (d *Device) Name() string      { return d.cfg.Name }
func (d *Device) Kind() device.Kind { return d.cfg.Kind }

func (d *Device) Uninjected() *device.Signal[device.InjectionID] {
	return d.uninject
}

// EnumerateProcesses lists host processes sorted by pid.
func (d *Device) EnumerateProcesses(ctx context.Context) ([]device.Process, error) {
	if d.isClosed() {
		return nil, device.ErrDeviceClosed
	}
	procs, err := d.cfg.Processes.Processes(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })
	return procs, nil
}

// InjectLibraryBlob stages blob through the configured stager and injects
// it. The staged copy is removed once the helper returns.
func (d *Device) InjectLibraryBlob(ctx context.Context, pid uint32, blob []byte, entry, data string) (device.InjectionID, error) {
	if d.isClosed() {
		return 0, device.ErrDeviceClosed
	}
	if err := device.ValidateRequest(pid, entry); err != nil {
		return 0, err
	}
	if len(blob) == 0 {
		return 0, device.ErrPayloadRequired
	}
	if err := d.checkProcess(ctx, pid); err != nil {
		return 0, err
	}
	table, err := symbols.ParseSymbols(bytes.NewReader(blob))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", device.ErrInvalidPayload, err)
	}
	if !table.HasSymbol(entry) {
		return 0, fmt.Errorf("%w: %s", device.ErrEntryNotFound, entry)
	}

	path, cleanup, err := d.cfg.Stage(ctx, blob)
	if err != nil {
		return 0, fmt.Errorf("stage payload: %w", err)
	}
	defer cleanup()

	return d.load(ctx, pid, path, entry, data)
}

// InjectLibraryFile injects a library that already exists on disk.
func (d *Device) InjectLibraryFile(ctx context.Context, pid uint32, path, entry, data string) (device.InjectionID, error) {
	if d.isClosed() {
		return 0, device.ErrDeviceClosed
	}
	if err := device.ValidateRequest(pid, entry); err != nil {
		return 0, err
	}
	if strings.TrimSpace(path) == "" {
		return 0, device.ErrPayloadRequired
	}
	if err := d.checkProcess(ctx, pid); err != nil {
		return 0, err
	}
	table, err := d.cfg.ReadTable(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", device.ErrInvalidPayload, err)
	}
	if !table.HasSymbol(entry) {
		return 0, fmt.Errorf("%w: %s", device.ErrEntryNotFound, entry)
	}
	return d.load(ctx, pid, path, entry, data)
}

// Close stops every watcher. Outstanding injections are reported as
// uninjected before Close returns.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.done)
	d.mu.Unlock()
	d.stopLife()

	d.watches.Wait()
	d.log.Debug().Msg("device.Device.Close done")
	return nil
}

// ActiveInjections returns the ids whose uninjected notification is pending.
func (d *Device) ActiveInjections() []device.InjectionID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]device.InjectionID, 0, len(d.active))
	for id := range d.active {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) checkProcess(ctx context.Context, pid uint32) error {
	ok, err := d.cfg.Processes.Exists(ctx, pid)
	if err != nil {
		return fmt.Errorf("check pid=%d: %w", pid, err)
	}
	if !ok {
		return fmt.Errorf("%w: pid=%d", device.ErrProcessNotFound, pid)
	}
	return d.cfg.Probe(pid)
}

// TempStager stages payloads as private temp files under dir.
func TempStager(dir string) StageFunc {
	return func(_ context.Context, blob []byte) (string, func(), error) {
		f, err := os.CreateTemp(dir, "injectctl-*.so")
		if err != nil {
			return "", nil, err
		}
		path := f.Name()
		if _, err := f.Write(blob); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", nil, err
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", nil, err
		}
		return path, func() { _ = os.Remove(path) }, nil
	}
}

// load runs the helper and, on success, grants an id and starts its watcher.
func (d *Device) load(ctx context.Context, pid uint32, path, entry, data string) (device.InjectionID, error) {
	args := []string{
		"--pid", strconv.FormatUint(uint64(pid), 10),
		"--library", path,
		"--entry", entry,
		"--data", data,
	}
	start := time.Now()
	_, stderr, exitCode, err := d.cfg.Runner.Run(ctx, d.cfg.Helper, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		d.log.Warn().
			Uint32("pid", pid).
			Int32("exit_code", exitCode).
			Str("stderr", strings.TrimSpace(string(stderr))).
			Err(err).
			Msg("device.Device.load helper failed")
		return 0, helperError(d.cfg.Helper, exitCode, stderr, err)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, device.ErrDeviceClosed
	}
	d.nextID++
	inj := injection{id: d.nextID, pid: pid}
	d.active[inj.id] = inj
	d.watches.Add(1)
	d.mu.Unlock()

	d.log.Info().
		Uint32("pid", pid).
		Stringer("injection_id", inj.id).
		Str("entry", entry).
		Dur("elapsed", time.Since(start)).
		Msg("device.Device.load injected")

	go d.watch(inj)
	return inj.id, nil
}

func helperError(helper string, exitCode int32, stderr []byte, err error) error {
	detail := strings.TrimSpace(string(stderr))
	if exitCode == tools.ExitCommandNotFound {
		return fmt.Errorf("%w: helper %q unavailable: %v", device.ErrInjectionFailed, helper, err)
	}
	if detail == "" {
		return fmt.Errorf("%w: helper exit=%d: %v", device.ErrInjectionFailed, exitCode, err)
	}
	return fmt.Errorf("%w: helper exit=%d: %s", device.ErrInjectionFailed, exitCode, detail)
}

// watch polls the target until it exits or the device closes.
func (d *Device) watch(inj injection) {
	defer d.watches.Done()
	rng := rand.New(rand.NewSource(int64(inj.id)))
	failures := 0
	timer := time.NewTimer(d.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-d.done:
			d.finish(inj.id, "device_closed")
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(d.life, d.cfg.ProbeTimeout)
			ok, err := d.cfg.Processes.Exists(ctx, inj.pid)
			cancel()
			if err != nil {
				failures++
				delay := nextProbeDelay(d.cfg.PollInterval, d.cfg.Backoff, failures, rng)
				d.log.Debug().
					Err(err).
					Uint32("pid", inj.pid).
					Int("failures", failures).
					Dur("retry_in", delay).
					Msg("device.Device.watch probe failed")
				timer.Reset(delay)
				continue
			}
			if !ok {
				d.finish(inj.id, "target_exited")
				return
			}
			failures = 0
			timer.Reset(d.cfg.PollInterval)
		}
	}
}

// finish emits uninjected for id at most once.
func (d *Device) finish(id device.InjectionID, reason string) {
	d.mu.Lock()
	_, ok := d.active[id]
	delete(d.active, id)
	d.mu.Unlock()
	if !ok {
		return
	}
	n := d.uninject.Emit(id)
	d.log.Info().
		Stringer("injection_id", id).
		Str("reason", reason).
		Int("handlers", n).
		Msg("device.Device.finish uninjected")
}

var _ device.Device = (*Device)(nil)
