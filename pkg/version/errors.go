package version

import (
	"errors"
	"fmt"
)

// ErrInvalidBumpRequest is matched by every InvalidBumpRequestError
var ErrInvalidBumpRequest = errors.New("invalid bump request")

// InvalidBumpRequestError rejects a requested version before any plan is returned
type InvalidBumpRequestError struct {
	// Package is the package the request was made for
	Package string

	// Requested is the requested version, if any
	Requested string

	// Current is the package's current version
	Current string

	// Reason explains the rejection
	Reason string
}

func (e *InvalidBumpRequestError) Error() string {
	if e.Requested == "" {
		return fmt.Sprintf("%s for %s: %s", ErrInvalidBumpRequest, e.Package, e.Reason)
	}
	return fmt.Sprintf("%s for %s: requested %s (current %s): %s",
		ErrInvalidBumpRequest, e.Package, e.Requested, e.Current, e.Reason)
}

// Is reports whether target is ErrInvalidBumpRequest
func (e *InvalidBumpRequestError) Is(target error) bool {
	return target == ErrInvalidBumpRequest
}
