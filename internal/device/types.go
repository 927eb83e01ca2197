package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidPID       = errors.New("device: invalid pid")
	ErrProcessNotFound  = errors.New("device: process not found")
	ErrInvalidPayload   = errors.New("device: invalid payload")
	ErrEntryNotFound    = errors.New("device: entry symbol not found")
	ErrInjectionFailed  = errors.New("device: injection failed")
	ErrDeviceClosed     = errors.New("device: closed")
	ErrDeviceNotFound   = errors.New("device: not found")
	ErrDeviceExists     = errors.New("device: already registered")
	ErrDeviceNil        = errors.New("device: nil device")
	ErrInvalidDeviceID  = errors.New("device: invalid id")
	ErrEntryRequired    = errors.New("device: entry symbol required")
	ErrPayloadRequired  = errors.New("device: payload required")
	ErrPermissionDenied = errors.New("device: permission denied")
)

// Kind classifies how a device is reached.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
	KindUSB    Kind = "usb"
)

// InjectionID identifies one granted injection on a device. Zero is never granted.
type InjectionID uint32

func (id InjectionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Process is a process visible to a device.
type Process struct {
	PID  uint32
	Name string
}

// Device is the execution-target boundary consumed by controllers.
type Device interface {
	ID() string
	Name() string
	Kind() Kind
	EnumerateProcesses(ctx context.Context) ([]Process, error)
	InjectLibraryBlob(ctx context.Context, pid uint32, blob []byte, entry, data string) (InjectionID, error)
	InjectLibraryFile(ctx context.Context, pid uint32, path, entry, data string) (InjectionID, error)
	Uninjected() *Signal[InjectionID]
	Close() error
}

// ParsePID parses a decimal process id. Zero and non-decimal input are rejected.
func ParsePID(raw string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, raw)
	}
	if v == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, raw)
	}
	return uint32(v), nil
}

// ValidateRequest checks the request fields every backend requires.
func ValidateRequest(pid uint32, entry string) error {
	if pid == 0 {
		return fmt.Errorf("%w: 0", ErrInvalidPID)
	}
	if strings.TrimSpace(entry) == "" {
		return ErrEntryRequired
	}
	return nil
}
