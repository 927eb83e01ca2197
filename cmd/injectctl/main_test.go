package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/injectctl/internal/config"
	"github.com/danmuck/injectctl/internal/device"
	"github.com/danmuck/injectctl/internal/device/devicetest"
	"github.com/danmuck/injectctl/internal/device/local"
	"github.com/danmuck/injectctl/internal/testutil/testlog"
)

type fixture struct {
	dev     *devicetest.Device
	payload string
	stdout  bytes.Buffer
	stderr  bytes.Buffer
}

func newFixture(t *testing.T, opts ...devicetest.Option) *fixture {
	t.Helper()
	f := &fixture{dev: devicetest.New("local", opts...)}
	f.payload = filepath.Join(t.TempDir(), "agent.so")
	if err := os.WriteFile(f.payload, []byte("payload"), 0o600); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	// Return immediately after the acknowledgement.
	t.Setenv(config.EnvPath, writeConfig(t, "wait_uninjected = false\n"))
	return f
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "injectctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func (f *fixture) run(args ...string) int {
	return run(context.Background(), args, &f.stdout, &f.stderr, func(local.Config) device.Device {
		return f.dev
	})
}

func TestRunInjectsAndExitsZero(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, devicetest.WithProcesses(device.Process{PID: 4321, Name: "target"}))

	if code := f.run("4321", f.payload); code != exitOK {
		t.Fatalf("unexpected exit code %d stderr=%q", code, f.stderr.String())
	}
	if !strings.Contains(f.stdout.String(), "[*] Injected id: 1") {
		t.Fatalf("unexpected stdout: %q", f.stdout.String())
	}
	if !f.dev.Closed() {
		t.Fatalf("device must be closed on exit")
	}
}

func TestRunNoSuchProcessExitsNonZero(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, devicetest.WithProcesses(device.Process{PID: 1, Name: "init"}))

	if code := f.run("999", f.payload); code != exitError {
		t.Fatalf("unexpected exit code %d", code)
	}
	if !strings.Contains(f.stderr.String(), "process not found") {
		t.Fatalf("expected error report, got %q", f.stderr.String())
	}
	if f.dev.Uninjected().Len() != 0 {
		t.Fatalf("listener leaked after rejected request")
	}
}

func TestRunMissingPayloadMakesNoRequest(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)

	if code := f.run("100", filepath.Join(t.TempDir(), "nope.so")); code != exitError {
		t.Fatalf("unexpected exit code %d", code)
	}
	if f.dev.CallCount() != 0 {
		t.Fatalf("expected no request, got %d", f.dev.CallCount())
	}
	if !strings.Contains(f.stderr.String(), "read payload") {
		t.Fatalf("expected read error, got %q", f.stderr.String())
	}
}

func TestRunNonNumericPIDIsUsageError(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)

	if code := f.run("notapid", f.payload); code != exitUsage {
		t.Fatalf("unexpected exit code %d", code)
	}
	if f.dev.CallCount() != 0 {
		t.Fatalf("expected no request for invalid pid")
	}
	if !strings.Contains(f.stderr.String(), "invalid pid") || !strings.Contains(f.stderr.String(), "usage:") {
		t.Fatalf("unexpected stderr: %q", f.stderr.String())
	}
}

func TestRunWrongArgCountIsUsageError(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	if code := f.run("100"); code != exitUsage {
		t.Fatalf("unexpected exit code %d", code)
	}
}

func TestRunBadConfigExitsNonZero(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	t.Setenv(config.EnvPath, writeConfig(t, `poll_interval = "never"`))
	if code := f.run("100", f.payload); code != exitError {
		t.Fatalf("unexpected exit code %d", code)
	}
	if f.dev.CallCount() != 0 {
		t.Fatalf("expected no request with bad config")
	}
}

func TestRunForwardsConfiguredEntryAndData(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	t.Setenv(config.EnvPath, writeConfig(t, "wait_uninjected = false\nentry = \"injected_function\"\ndata = \"abc\"\n"))
	if code := f.run("100", f.payload); code != exitOK {
		t.Fatalf("unexpected exit code %d stderr=%q", code, f.stderr.String())
	}
	calls := f.dev.Calls()
	if len(calls) != 1 || calls[0].Entry != "injected_function" || calls[0].Data != "abc" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

func TestRunWaitsForUninjected(t *testing.T) {
	testlog.Start(t)
	var dev *devicetest.Device
	dev = devicetest.New("local", devicetest.WithInject(func(devicetest.InjectCall) (device.InjectionID, error) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			dev.EmitUninjected(9)
		}()
		return 9, nil
	}))
	f := newFixture(t)
	f.dev = dev
	t.Setenv(config.EnvPath, "")

	if code := f.run("100", f.payload); code != exitOK {
		t.Fatalf("unexpected exit code %d stderr=%q", code, f.stderr.String())
	}
	out := f.stdout.String()
	if !strings.Contains(out, "[*] Injected id: 9") || !strings.Contains(out, "[*] onUninjected() id: 9") {
		t.Fatalf("unexpected stdout: %q", out)
	}
	if dev.Uninjected().Len() != 0 {
		t.Fatalf("listener must be removed after delivery")
	}
}
