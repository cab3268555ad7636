// Package errors provides the error handling primitives used throughout
// this module. It re-exports github.com/pkg/errors so that call sites never
// need to import it directly, and adds a notion of "fatal" errors: ones that
// should be reported to the caller without being retried or escalated
// further, mainly errors caused by API misuse rather than I/O failures.
package errors

import "github.com/pkg/errors"

// New, Errorf, Wrap, Wrapf and Cause behave exactly like their
// github.com/pkg/errors counterparts.
var (
	New    = errors.New
	Errorf = errors.Errorf
	Wrap   = errors.Wrap
	Wrapf  = errors.Wrapf
	Cause  = errors.Cause
)

// As and Is forward to the standard library so callers can keep using the
// familiar errors.As/errors.Is vocabulary on wrapped errors.
var (
	As = errors.As
	Is = errors.Is
)

type fatalError struct {
	s string
}

func (e *fatalError) Error() string {
	return e.s
}

// Fatal returns an error that IsFatal reports true for.
func Fatal(s string) error {
	return &fatalError{s}
}

// Fatalf returns a fatal error, formatted according to format.
func Fatalf(format string, args ...interface{}) error {
	return &fatalError{Errorf(format, args...).Error()}
}

// IsFatal returns whether err is an error created with Fatal or Fatalf.
func IsFatal(err error) bool {
	_, ok := err.(*fatalError)
	return ok
}
