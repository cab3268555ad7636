// Package chunkwritertest provides small test assertion helpers in the
// style restic's internal/test package uses throughout that project's test
// suite: Assert, OK and Equals wrap testing.TB and stop the test at the
// first failed check.
package chunkwritertest

import (
	"fmt"
	"reflect"
	"runtime"
	"testing"
)

// Assert fails the test with the formatted message if condition is false.
func Assert(tb testing.TB, condition bool, msg string, v ...interface{}) {
	tb.Helper()
	if !condition {
		tb.Fatalf(msg, v...)
	}
}

// OK fails the test if err is not nil.
func OK(tb testing.TB, err error) {
	tb.Helper()
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		tb.Fatalf("%s:%d: unexpected error: %s", file, line, err)
	}
}

// Equals fails the test if exp is not equal to act.
func Equals(tb testing.TB, exp, act interface{}) {
	tb.Helper()
	if !reflect.DeepEqual(exp, act) {
		_, file, line, _ := runtime.Caller(1)
		tb.Fatalf("%s:%d:\n\n\texp: %s\n\n\tgot: %s", file, line, fmt.Sprintf("%#v", exp), fmt.Sprintf("%#v", act))
	}
}
