// Package panicerr converts panics into error returns at an API
// boundary. The march engine halts by panicking from deep inside its
// dispatch loop; Recover is the single place that turns those halts
// (and any genuine bug panic) back into errors.
package panicerr

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Recover runs f in a new goroutine, recovering any panic or abnormal
// goroutine exit as a non-nil error return.
func Recover(name string, f func() error) error {
	errch := make(chan error, 1)
	go func() {
		defer close(errch)
		defer func() {
			var pe panicError
			if pe.e = recover(); pe.e != nil {
				pe.name = name
				pe.stack = debug.Stack()
				select {
				case errch <- pe:
				default:
				}
			}
		}()
		errch <- f()
	}()
	err, ok := <-errch
	if !ok {
		return fmt.Errorf("%v exited abnormally", name)
	}
	return err
}

type panicError struct {
	name  string
	e     interface{}
	stack []byte
}

func (pe panicError) Error() string {
	return fmt.Sprintf("%v paniced: %v", pe.name, pe.e)
}

func (pe panicError) Format(f fmt.State, c rune) {
	fmt.Fprintf(f, "%v paniced: %v", pe.name, pe.e)
	if c == 'v' && f.Flag('+') {
		fmt.Fprintf(f, "\nPanic stack: %s", pe.stack)
	}
}

func (pe panicError) Unwrap() error {
	err, _ := pe.e.(error)
	return err
}

// IsPanic reports whether err is a recovered panic.
func IsPanic(err error) bool {
	var pe panicError
	return errors.As(err, &pe)
}

// PanicStack returns the recovered panic's stacktrace, if err holds one.
func PanicStack(err error) string {
	var pe panicError
	if errors.As(err, &pe) {
		return string(pe.stack)
	}
	return ""
}
