// Package fault classifies the failures a treesum run can end with.
//
// Every fatal error that crosses a package boundary is a *fault.Error carrying
// one of three kinds:
//   - Configuration: malformed or missing input, detected before any shared
//     resource exists
//   - Resource: region allocation, mutex initialization, spawn or child failure
//   - Termination: interrupt or exhausted time budget
//
// Signal-interrupted waits are retried where they happen and never become a
// fault.
package fault

import (
	"errors"
	"fmt"
)

// Kind categorizes a fault.
type Kind string

const (
	// KindConfiguration indicates malformed or missing input.
	KindConfiguration Kind = "CONFIGURATION"

	// KindResource indicates allocation, mutex init, or spawn failure.
	KindResource Kind = "RESOURCE"

	// KindTermination indicates an external interrupt or an expired budget.
	KindTermination Kind = "TERMINATION"
)

// Error is a classified fault.
type Error struct {
	// Kind identifies the fault category.
	Kind Kind

	// Op names the operation that failed (e.g. "create region").
	Op string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration wraps err as a configuration fault.
func Configuration(op string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// Resource wraps err as a resource fault.
func Resource(op string, err error) *Error {
	return &Error{Kind: KindResource, Op: op, Err: err}
}

// Termination wraps err as a termination fault.
func Termination(op string, err error) *Error {
	return &Error{Kind: KindTermination, Op: op, Err: err}
}

// IsConfiguration reports whether err is (or wraps) a configuration fault.
func IsConfiguration(err error) bool {
	return hasKind(err, KindConfiguration)
}

// IsResource reports whether err is (or wraps) a resource fault.
func IsResource(err error) bool {
	return hasKind(err, KindResource)
}

// IsTermination reports whether err is (or wraps) a termination fault.
func IsTermination(err error) bool {
	return hasKind(err, KindTermination)
}

func hasKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// Cause strips classification from err: it returns the underlying error of
// the innermost fault in err's chain, so a fault can be rewrapped under a new
// kind without repeating prefixes. An error holding no fault is returned
// unchanged.
func Cause(err error) error {
	for {
		var fe *Error
		if !errors.As(err, &fe) {
			return err
		}
		if fe.Err == nil {
			return errors.New(fe.Op)
		}
		err = fe.Err
	}
}
