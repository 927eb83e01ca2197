package injector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/injectctl/internal/device"
	"github.com/danmuck/injectctl/internal/device/devicetest"
	"github.com/danmuck/injectctl/internal/observability"
	"github.com/danmuck/injectctl/internal/testutil/testlog"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writePayload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.so")
	if err := os.WriteFile(path, []byte("\x7fELF payload"), 0o600); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	return path
}

func request(pid uint32, path string, wait bool) Request {
	return Request{PID: pid, PayloadPath: path, Entry: DefaultEntry, Data: DefaultData, Wait: wait}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

type runResult struct {
	id  device.InjectionID
	err error
}

func TestRunReportsGrantedID(t *testing.T) {
	testlog.Start(t)
	dev := devicetest.New(t.Name(), devicetest.WithInject(func(call devicetest.InjectCall) (device.InjectionID, error) {
		return 7, nil
	}))
	var out bytes.Buffer

	id, err := Run(context.Background(), dev, request(4242, writePayload(t), false), &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if id != 7 {
		t.Fatalf("unexpected id: %d", id)
	}
	if !strings.Contains(out.String(), "[*] Injected id: 7") {
		t.Fatalf("output missing id: %q", out.String())
	}

	calls := dev.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one request, got %d", len(calls))
	}
	if calls[0].PID != 4242 || calls[0].Entry != "example_agent_main" || calls[0].Data != "w00t" {
		t.Fatalf("unexpected request: %+v", calls[0])
	}
	if string(calls[0].Blob) != "\x7fELF payload" {
		t.Fatalf("payload bytes not forwarded: %q", calls[0].Blob)
	}
	if dev.Uninjected().Len() != 0 {
		t.Fatalf("listener must be removed when not waiting")
	}
	if got := observability.InjectionCount(t.Name(), observability.OutcomeSuccess); got != 1 {
		t.Fatalf("unexpected success metric: %v", got)
	}
}

func TestRunUninjectedFiresOnceAndUnregisters(t *testing.T) {
	testlog.Start(t)
	dev := devicetest.New(t.Name())
	out := &syncBuffer{}

	done := make(chan runResult, 1)
	go func() {
		id, err := Run(context.Background(), dev, request(100, writePayload(t), true), out)
		done <- runResult{id: id, err: err}
	}()

	waitFor(t, func() bool { return strings.Contains(out.String(), "Injected id: 1") })
	if n := dev.EmitUninjected(1); n != 1 {
		t.Fatalf("expected listener to fire once, got %d", n)
	}

	select {
	case res := <-done:
		if res.err != nil || res.id != 1 {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not complete after uninjected")
	}

	if n := dev.EmitUninjected(1); n != 0 {
		t.Fatalf("redelivery must not reach the listener, invoked=%d", n)
	}
	if dev.Uninjected().Len() != 0 {
		t.Fatalf("listener leaked")
	}
	if c := strings.Count(out.String(), "[*] onUninjected() id: 1"); c != 1 {
		t.Fatalf("expected one uninjected line, got %d in %q", c, out.String())
	}
	if got := observability.UninjectedCount(t.Name()); got != 1 {
		t.Fatalf("unexpected uninjected metric: %v", got)
	}
}

func TestRunRejectedRequestRemovesListener(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	sawListener := false
	var dev *devicetest.Device
	dev = devicetest.New(t.Name(),
		devicetest.WithProcesses(device.Process{PID: 1, Name: "init"}),
		devicetest.WithRequestHook(func(devicetest.InjectCall) {
			sawListener = dev.Uninjected().Len() == 1
		}),
	)

	id, err := Run(context.Background(), dev, request(31337, writePayload(t), true), &out)
	if !errors.Is(err, device.ErrProcessNotFound) {
		t.Fatalf("expected ErrProcessNotFound, got %v", err)
	}
	if id != 0 {
		t.Fatalf("no id may be granted on failure, got %d", id)
	}
	if !sawListener {
		t.Fatalf("listener must be registered before the request")
	}
	if dev.Uninjected().Len() != 0 {
		t.Fatalf("listener must be removed after failure")
	}
	for _, synthetic := range []device.InjectionID{0, 1, 31337} {
		if n := dev.EmitUninjected(synthetic); n != 0 {
			t.Fatalf("synthetic delivery %d reached %d handlers", synthetic, n)
		}
	}
	if strings.Contains(out.String(), "Injected id") {
		t.Fatalf("no id may be reported on failure: %q", out.String())
	}
	if got := observability.InjectionCount(t.Name(), observability.OutcomeFailure); got != 1 {
		t.Fatalf("unexpected failure metric: %v", got)
	}
}

func TestRunMissingPayloadStopsBeforeRequest(t *testing.T) {
	testlog.Start(t)
	dev := devicetest.New(t.Name())
	var out bytes.Buffer

	_, err := Run(context.Background(), dev, request(100, filepath.Join(t.TempDir(), "missing.so"), true), &out)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	if dev.CallCount() != 0 {
		t.Fatalf("expected no injection request, got %d", dev.CallCount())
	}
	if dev.Uninjected().Len() != 0 {
		t.Fatalf("listener must not be registered before the payload is read")
	}
}

func TestRunEarlyUninjectedIsMatchedAfterGrant(t *testing.T) {
	testlog.Start(t)
	var dev *devicetest.Device
	dev = devicetest.New(t.Name(), devicetest.WithRequestHook(func(devicetest.InjectCall) {
		// The target unloads before the acknowledgement reaches the controller.
		dev.EmitUninjected(1)
	}))
	var out bytes.Buffer

	done := make(chan runResult, 1)
	go func() {
		id, err := Run(context.Background(), dev, request(100, writePayload(t), true), &out)
		done <- runResult{id: id, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil || res.id != 1 {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("early uninjected was lost")
	}
	want := "[*] Injected id: 1\n[*] onUninjected() id: 1\n"
	if out.String() != want {
		t.Fatalf("unexpected output: %q", out.String())
	}
	if dev.Uninjected().Len() != 0 {
		t.Fatalf("listener leaked")
	}
}

func TestRunIgnoresOtherInjectionIDs(t *testing.T) {
	testlog.Start(t)
	dev := devicetest.New(t.Name(), devicetest.WithInject(func(devicetest.InjectCall) (device.InjectionID, error) {
		return 5, nil
	}))
	out := &syncBuffer{}

	done := make(chan runResult, 1)
	go func() {
		id, err := Run(context.Background(), dev, request(100, writePayload(t), true), out)
		done <- runResult{id: id, err: err}
	}()
	waitFor(t, func() bool { return strings.Contains(out.String(), "Injected id: 5") })

	dev.EmitUninjected(4)
	select {
	case res := <-done:
		t.Fatalf("run completed on foreign id: %+v", res)
	case <-time.After(20 * time.Millisecond):
	}
	if dev.Uninjected().Len() != 1 {
		t.Fatalf("listener must stay connected after a foreign id")
	}

	dev.EmitUninjected(5)
	select {
	case res := <-done:
		if res.err != nil || res.id != 5 {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not complete")
	}
}

func TestRunCancelledWaitRemovesListener(t *testing.T) {
	testlog.Start(t)
	dev := devicetest.New(t.Name())
	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan runResult, 1)
	go func() {
		id, err := Run(ctx, dev, request(100, writePayload(t), true), out)
		done <- runResult{id: id, err: err}
	}()
	waitFor(t, func() bool { return strings.Contains(out.String(), "Injected id: 1") })
	cancel()

	select {
	case res := <-done:
		if res.err != nil || res.id != 1 {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop on cancel")
	}
	if dev.Uninjected().Len() != 0 {
		t.Fatalf("listener leaked after cancel")
	}
	if strings.Contains(out.String(), "onUninjected") {
		t.Fatalf("cancelled wait must not report uninjected: %q", out.String())
	}
}

func TestRunWrapsDeviceError(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("payload malformed")
	dev := devicetest.New(t.Name(), devicetest.WithInject(func(devicetest.InjectCall) (device.InjectionID, error) {
		return 0, fmt.Errorf("%w: %v", device.ErrInvalidPayload, boom)
	}))
	var out bytes.Buffer

	_, err := Run(context.Background(), dev, request(100, writePayload(t), false), &out)
	if !errors.Is(err, device.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if !strings.Contains(err.Error(), "inject pid=100") {
		t.Fatalf("expected pid context in %q", err.Error())
	}
}
