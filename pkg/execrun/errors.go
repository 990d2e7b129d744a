package execrun

import (
	"errors"
	"fmt"
)

// ErrCommandFailed is matched by every CommandError
var ErrCommandFailed = errors.New("command failed")

// CommandError records a package command that exited non-zero
type CommandError struct {
	// Name is the package name
	Name string

	// ExitCode is the process exit status
	ExitCode int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s for %s: exit status %d", ErrCommandFailed, e.Name, e.ExitCode)
}

// Is reports whether target is ErrCommandFailed
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}
