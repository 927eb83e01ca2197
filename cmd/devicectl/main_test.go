package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/injectctl/internal/config"
	"github.com/danmuck/injectctl/internal/device"
	"github.com/danmuck/injectctl/internal/device/devicetest"
	"github.com/danmuck/injectctl/internal/device/local"
	"github.com/danmuck/injectctl/internal/testutil/testlog"
	"github.com/danmuck/injectctl/internal/testutil/testobj"
)

func execute(t *testing.T, dev *devicetest.Device, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvPath, "")
	cmd := newRootCommand(func(local.Config) device.Device { return dev })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDevicesListsRegisteredDevice(t *testing.T) {
	testlog.Start(t)
	dev := devicetest.New("local")
	out, err := execute(t, dev, "devices")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if !strings.Contains(out, "local") || !strings.Contains(out, "Fake local") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !dev.Closed() {
		t.Fatalf("expected device closed after command")
	}
}

func TestPsListsProcessesByPID(t *testing.T) {
	testlog.Start(t)
	dev := devicetest.New("local", devicetest.WithProcesses(
		device.Process{PID: 30, Name: "sshd"},
		device.Process{PID: 2, Name: "init"},
	))
	out, err := execute(t, dev, "ps")
	if err != nil {
		t.Fatalf("ps: %v", err)
	}
	if strings.Index(out, "init") > strings.Index(out, "sshd") {
		t.Fatalf("expected pid order: %q", out)
	}
}

func TestPsWithoutLocalDevice(t *testing.T) {
	testlog.Start(t)
	dev := devicetest.New("usb0", devicetest.WithKind(device.KindUSB))
	if _, err := execute(t, dev, "ps"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestInjectFileUsesFlags(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "agent.so")
	if err := os.WriteFile(path, []byte("payload"), 0o600); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	dev := devicetest.New("local")

	out, err := execute(t, dev, "inject-file", "42", path)
	if err != nil {
		t.Fatalf("inject-file: %v", err)
	}
	if !strings.Contains(out, "*** Injected, id=1") {
		t.Fatalf("unexpected output: %q", out)
	}

	if _, err := execute(t, dev, "inject-file", "42", path, "--entry", "agent_main", "--data", "abc"); err == nil {
		t.Fatalf("expected closed device to reject second injection")
	}

	dev = devicetest.New("local")
	if _, err := execute(t, dev, "inject-file", "42", path, "--entry", "agent_main", "--data", "abc"); err != nil {
		t.Fatalf("inject-file with flags: %v", err)
	}
	calls := dev.Calls()
	if len(calls) != 1 || calls[0].Entry != "agent_main" || calls[0].Data != "abc" || calls[0].Path != path {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

func TestInjectFileRejectsBadPID(t *testing.T) {
	testlog.Start(t)
	dev := devicetest.New("local")
	if _, err := execute(t, dev, "inject-file", "pid", "agent.so"); !errors.Is(err, device.ErrInvalidPID) {
		t.Fatalf("expected ErrInvalidPID, got %v", err)
	}
	if dev.CallCount() != 0 {
		t.Fatalf("expected no request")
	}
}

func TestExportsListsAgentObject(t *testing.T) {
	testlog.Start(t)
	out, err := execute(t, devicetest.New("local"), "exports", testobj.Path(t), "--prefix", "example_")
	if err != nil {
		t.Fatalf("exports: %v", err)
	}
	if !strings.Contains(out, testobj.EntrySymbol) {
		t.Fatalf("expected %s in output: %q", testobj.EntrySymbol, out)
	}
	if strings.Contains(out, testobj.FileEntrySymbol) {
		t.Fatalf("prefix filter leaked %s: %q", testobj.FileEntrySymbol, out)
	}
}

func TestDevicesIncludesConfiguredRemotes(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "injectctl.toml")
	body := `
[[remotes]]
id = "edge-1"
name = "Edge One"
host = "10.0.0.5"
user = "ops"
key_path = "/nonexistent/id_ed25519"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	dev := devicetest.New("local")
	cmd := newRootCommand(func(local.Config) device.Device { return dev })
	t.Setenv(config.EnvPath, path)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"devices"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("devices: %v", err)
	}
	if !strings.Contains(out.String(), "edge-1") || !strings.Contains(out.String(), "remote") {
		t.Fatalf("expected remote device listed: %q", out.String())
	}

	cmd = newRootCommand(func(local.Config) device.Device { return devicetest.New("local") })
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"ps", "--device", "missing"})
	if err := cmd.ExecuteContext(context.Background()); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}
