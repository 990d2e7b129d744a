package execrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ProcessResult is the outcome of a finished process
type ProcessResult struct {
	// ExitCode is the process exit status
	ExitCode int

	// Output is the combined stdout and stderr
	Output []byte
}

// ProcessRunner starts a process and waits for it. A non-zero exit status is
// a result, not an error; errors mean the process could not run at all.
type ProcessRunner interface {
	Run(ctx context.Context, dir string, argv []string, env []string) (ProcessResult, error)
}

// OSProcessRunner runs processes on the host
type OSProcessRunner struct{}

// Run executes argv in dir with env appended to the current environment
func (OSProcessRunner) Run(ctx context.Context, dir string, argv []string, env []string) (ProcessResult, error) {
	if len(argv) == 0 {
		return ProcessResult{}, fmt.Errorf("argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return ProcessResult{ExitCode: exitErr.ExitCode(), Output: out}, nil
		}
		return ProcessResult{ExitCode: -1, Output: out}, fmt.Errorf("failed to run %s: %w", argv[0], err)
	}

	return ProcessResult{Output: out}, nil
}
