// Package sched raises the scheduling priority of the calling OS thread.
// Elevation is best effort: callers lock the goroutine to its thread first,
// and a failure is reported, never fatal.
package sched

import (
	"errors"
	"fmt"
	"syscall"
)

// PriorityError reports a failed elevation call and the errno it returned.
type PriorityError struct {
	Op    string
	Errno syscall.Errno
}

func (e *PriorityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Errno)
}

func (e *PriorityError) Unwrap() error {
	return e.Errno
}

// Code returns the numeric errno.
func (e *PriorityError) Code() int {
	return int(e.Errno)
}

// Code extracts the numeric errno of a priority failure, or -1 if err is not
// a PriorityError.
func Code(err error) int {
	var pe *PriorityError
	if errors.As(err, &pe) {
		return pe.Code()
	}
	return -1
}

func newPriorityError(op string, err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &PriorityError{Op: op, Errno: errno}
	}
	return fmt.Errorf("%s: %w", op, err)
}
