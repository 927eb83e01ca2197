package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// ExitCommandNotFound is reported when the executable cannot be resolved.
const ExitCommandNotFound int32 = 127

// ExitNoStatus is reported when the command never ran to completion, for
// example because the transport or the context failed first.
const ExitNoStatus int32 = -1

// CommandRunner abstracts helper process execution for device backends.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

// tools command-runner implementation backed by os/exec.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), int32(exitErr.ExitCode()), err
	}

	exitCode := ExitNoStatus
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = ExitCommandNotFound
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, err
}
