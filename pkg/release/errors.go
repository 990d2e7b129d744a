package release

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransientPublish is matched by failures that are worth retrying
	ErrTransientPublish = errors.New("transient publish failure")

	// ErrPermanentPublish is matched by failures that will not go away on retry
	ErrPermanentPublish = errors.New("permanent publish failure")

	// ErrDrift means a version recorded as published was built from a
	// package that has since changed
	ErrDrift = errors.New("package changed since the version was published")
)

// Class is the classification of a publish attempt
type Class int

const (
	// ClassNone means the attempt succeeded
	ClassNone Class = iota

	// ClassTransient means the attempt may succeed if retried
	ClassTransient

	// ClassPermanent means the attempt must not be retried
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// publishError tags an error with its class
type publishError struct {
	class Class
	err   error
}

func (e *publishError) Error() string {
	return e.err.Error()
}

func (e *publishError) Unwrap() error {
	return e.err
}

func (e *publishError) Is(target error) bool {
	switch e.class {
	case ClassTransient:
		return target == ErrTransientPublish
	case ClassPermanent:
		return target == ErrPermanentPublish
	default:
		return false
	}
}

// Transient marks err as a failure worth retrying
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &publishError{class: ClassTransient, err: err}
}

// Permanent marks err as a failure that must not be retried
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &publishError{class: ClassPermanent, err: err}
}

// Classify returns the class of a publish result. Errors that carry no
// class are permanent, except deadline expiry of a single attempt which is
// transient.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var pe *publishError
	if errors.As(err, &pe) {
		return pe.class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassPermanent
}
