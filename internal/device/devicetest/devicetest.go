// Package devicetest provides a programmable in-memory device for tests.
package devicetest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/danmuck/injectctl/internal/device"
)

// InjectCall records one injection request received by the fake.
type InjectCall struct {
	PID   uint32
	Blob  []byte
	Path  string
	Entry string
	Data  string
}

// InjectFunc decides the outcome of an injection request.
type InjectFunc func(call InjectCall) (device.InjectionID, error)

// Device is a fake device.Device. The zero value is not usable, use New.
type Device struct {
	id   string
	name string
	kind device.Kind

	mu        sync.Mutex
	processes []device.Process
	inject    InjectFunc
	calls     []InjectCall
	nextID    device.InjectionID
	closed    bool
	closeErr  error
	uninject  *device.Signal[device.InjectionID]
	onRequest func(InjectCall)
}

// Option configures a fake device.
type Option func(*Device)

// WithProcesses makes the default inject behaviour reject unknown pids.
func WithProcesses(procs ...device.Process) Option {
	return func(d *Device) {
		d.processes = append([]device.Process(nil), procs...)
	}
}

func WithInject(fn InjectFunc) Option {
	return func(d *Device) {
		d.inject = fn
	}
}

func WithKind(kind device.Kind) Option {
	return func(d *Device) {
		d.kind = kind
	}
}

func WithCloseError(err error) Option {
	return func(d *Device) {
		d.closeErr = err
	}
}

// WithRequestHook runs fn while the request is in flight, before the
// acknowledgement is returned.
func WithRequestHook(fn func(InjectCall)) Option {
	return func(d *Device) {
		d.onRequest = fn
	}
}

// New creates a fake local device.
func New(id string, opts ...Option) *Device {
	d := &Device{
		id:       id,
		name:     "Fake " + id,
		kind:     device.KindLocal,
		uninject: device.NewSignal[device.InjectionID](),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) ID() string        { return d.id }
func (d *Device) Name() string      { return d.name }
func (d *Device) Kind() device.Kind { return d.kind }

func (d *Device) Uninjected() *device.Signal[device.InjectionID] {
	return d.uninject
}

func (d *Device) EnumerateProcesses(ctx context.Context) ([]device.Process, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, device.ErrDeviceClosed
	}
	out := append([]device.Process(nil), d.processes...)
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

func (d *Device) InjectLibraryBlob(ctx context.Context, pid uint32, blob []byte, entry, data string) (device.InjectionID, error) {
	return d.request(ctx, InjectCall{PID: pid, Blob: append([]byte(nil), blob...), Entry: entry, Data: data})
}

func (d *Device) InjectLibraryFile(ctx context.Context, pid uint32, path, entry, data string) (device.InjectionID, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("%w: %v", device.ErrInvalidPayload, err)
	}
	return d.request(ctx, InjectCall{PID: pid, Path: path, Entry: entry, Data: data})
}

func (d *Device) request(ctx context.Context, call InjectCall) (device.InjectionID, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, device.ErrDeviceClosed
	}
	d.calls = append(d.calls, call)
	hook := d.onRequest
	d.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inject != nil {
		return d.inject(call)
	}
	if err := device.ValidateRequest(call.PID, call.Entry); err != nil {
		return 0, err
	}
	if d.processes != nil && !d.hasPID(call.PID) {
		return 0, fmt.Errorf("%w: pid=%d", device.ErrProcessNotFound, call.PID)
	}
	d.nextID++
	return d.nextID, nil
}

func (d *Device) hasPID(pid uint32) bool {
	for _, p := range d.processes {
		if p.PID == pid {
			return true
		}
	}
	return false
}

// EmitUninjected delivers a synthetic uninjected notification and returns
// how many handlers ran.
func (d *Device) EmitUninjected(id device.InjectionID) int {
	return d.uninject.Emit(id)
}

// Calls returns a copy of every recorded injection request.
func (d *Device) Calls() []InjectCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]InjectCall(nil), d.calls...)
}

func (d *Device) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return d.closeErr
}

var _ device.Device = (*Device)(nil)
