package injector

import (
	"errors"
	"fmt"

	"github.com/danmuck/injectctl/internal/device"
)

const (
	DefaultEntry = "example_agent_main"
	DefaultData  = "w00t"
)

var ErrUsage = errors.New("usage: injectctl <pid> <payload-path>")

// Request is one controller injection run.
type Request struct {
	PID         uint32
	PayloadPath string
	Entry       string
	Data        string
	// Wait keeps the run alive until the uninjected notification arrives.
	Wait bool
}

// ParseArgs parses the two positional CLI arguments.
func ParseArgs(args []string) (Request, error) {
	if len(args) != 2 {
		return Request{}, fmt.Errorf("%w: got %d arguments", ErrUsage, len(args))
	}
	pid, err := device.ParsePID(args[0])
	if err != nil {
		return Request{}, err
	}
	if args[1] == "" {
		return Request{}, fmt.Errorf("%w: empty payload path", ErrUsage)
	}
	return Request{
		PID:         pid,
		PayloadPath: args[1],
		Entry:       DefaultEntry,
		Data:        DefaultData,
		Wait:        true,
	}, nil
}
