package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCyclicDependency is matched by every CyclicDependencyError
var ErrCyclicDependency = errors.New("cyclic dependency")

// CyclicDependencyError reports a depends-on cycle between workspace packages.
// Cycle lists the packages in traversal order and repeats the first package
// at the end, e.g. [a b c a].
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCyclicDependency, strings.Join(e.Cycle, " -> "))
}

// Is reports whether target is ErrCyclicDependency
func (e *CyclicDependencyError) Is(target error) bool {
	return target == ErrCyclicDependency
}

// Members returns the distinct packages participating in the cycle
func (e *CyclicDependencyError) Members() []string {
	if len(e.Cycle) <= 1 {
		return e.Cycle
	}
	return e.Cycle[:len(e.Cycle)-1]
}
