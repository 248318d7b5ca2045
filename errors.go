// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ringalloc

import (
	"errors"
	"fmt"
)

// Allocator errors.
//
// ErrOutOfSpace is the only error an allocation returns in normal operation.
// ErrInvariantViolation and ErrUsage are never returned: they are carried by
// the *InvariantError and *UsageError values the package panics with, so
// tests and crash handlers can classify a recovered value with errors.Is.
var (
	// ErrOutOfSpace is returned when no region, existing or newly created
	// within the pool limits, can satisfy a request.
	ErrOutOfSpace = errors.New("ringalloc: out of space")

	// ErrInvariantViolation marks a corrupted cursor relationship inside a
	// region. Always fatal.
	ErrInvariantViolation = errors.New("ringalloc: invariant violation")

	// ErrUsage marks a range or region used outside its state machine.
	// Always fatal.
	ErrUsage = errors.New("ringalloc: usage error")

	// ErrInvalidConfig is returned when allocator configuration is rejected.
	ErrInvalidConfig = errors.New("ringalloc: invalid config")

	// ErrAllocatorClosed is returned when allocating from a closed allocator.
	ErrAllocatorClosed = errors.New("ringalloc: allocator closed")

	// ErrInvalidKind is returned when allocating an unknown Kind.
	ErrInvalidKind = errors.New("ringalloc: invalid kind")
)

// InvariantError reports a broken write/read cursor relationship together
// with the full cursor state of the region.
type InvariantError struct {
	Op        string
	Region    string
	Capacity  uint64
	WritePos  uint64
	WriteWrap uint64
	ReadPos   uint64
	ReadWrap  uint64
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%v: %s on region %q: %s (capacity=%d write=%d@wrap%d read=%d@wrap%d)",
		ErrInvariantViolation, e.Op, e.Region, e.Detail,
		e.Capacity, e.WritePos, e.WriteWrap, e.ReadPos, e.ReadWrap)
}

// Unwrap returns ErrInvariantViolation.
func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// UsageError reports a range or region operation that is invalid in the
// current state.
type UsageError struct {
	Op     string
	State  RangeState
	Detail string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%v: %s in state %v: %s", ErrUsage, e.Op, e.State, e.Detail)
}

// Unwrap returns ErrUsage.
func (e *UsageError) Unwrap() error { return ErrUsage }

func usagePanic(op string, state RangeState, format string, args ...any) {
	panic(&UsageError{Op: op, State: state, Detail: fmt.Sprintf(format, args...)})
}
