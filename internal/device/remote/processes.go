package remote

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/injectctl/internal/device"
)

// Processes lists remote processes with ps(1).
type Processes struct {
	Runner Runner
}

func (p Processes) Processes(ctx context.Context) ([]device.Process, error) {
	stdout, stderr, _, err := p.Runner.Run(ctx, "ps", "-A", "-o", "pid=", "-o", "comm=")
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	return parsePS(stdout), nil
}

// Exists runs ps -p. Only a remote exit status of 1 means no such process;
// transport failures are returned as errors so the caller can retry.
func (p Processes) Exists(ctx context.Context, pid uint32) (bool, error) {
	if pid == 0 {
		return false, nil
	}
	_, stderr, code, err := p.Runner.Run(ctx, "ps", "-p", strconv.FormatUint(uint64(pid), 10), "-o", "pid=")
	switch {
	case err == nil:
		return true, nil
	case code == 1:
		return false, nil
	default:
		return false, fmt.Errorf("probe pid=%d: %w: %s", pid, err, strings.TrimSpace(string(stderr)))
	}
}

func parsePS(out []byte) []device.Process {
	var procs []device.Process
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		pid, err := device.ParsePID(fields[0])
		if err != nil {
			continue
		}
		procs = append(procs, device.Process{PID: pid, Name: strings.Join(fields[1:], " ")})
	}
	return procs
}
