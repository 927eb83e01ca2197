package local

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/injectctl/internal/device"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessSource reports the processes visible on the host.
type ProcessSource interface {
	Processes(ctx context.Context) ([]device.Process, error)
	Exists(ctx context.Context, pid uint32) (bool, error)
}

// HostProcesses is the gopsutil-backed ProcessSource.
type HostProcesses struct{}

func (HostProcesses) Processes(ctx context.Context) ([]device.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}
	out := make([]device.Process, 0, len(procs))
	for _, p := range procs {
		if p.Pid <= 0 {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Exited between listing and lookup.
			if errors.Is(err, process.ErrorProcessNotRunning) {
				continue
			}
			name = ""
		}
		out = append(out, device.Process{PID: uint32(p.Pid), Name: name})
	}
	return out, nil
}

func (HostProcesses) Exists(ctx context.Context, pid uint32) (bool, error) {
	if pid == 0 || pid > math.MaxInt32 {
		return false, nil
	}
	return process.PidExistsWithContext(ctx, int32(pid))
}
