// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package fence tracks GPU frame completion.
//
// A Provider submits a fence after a frame's GPU commands and reports,
// without blocking, whether the GPU has passed it. The Tracker keeps a fixed
// number of in-flight frame slots, polls them once per frame and delivers
// every newly completed frame number, in ascending order, to its Completers.
package fence

import (
	"errors"
	"fmt"
)

// Fence errors.
var (
	// ErrSlotsExhausted means more frames are in flight than the tracker has
	// slots for. Trackers panic with this error: raise the in-flight budget
	// or stop over-submitting.
	ErrSlotsExhausted = errors.New("fence: in-flight frame slots exhausted")

	// ErrInvalidSlots is returned when creating a tracker with no slots.
	ErrInvalidSlots = errors.New("fence: slot count must be at least 1")

	// ErrNilProvider is returned when creating a tracker without a provider.
	ErrNilProvider = errors.New("fence: provider is nil")

	// ErrUnknownFence is returned when polling a fence the provider did not issue.
	ErrUnknownFence = errors.New("fence: unknown fence")
)

// Fence is an opaque GPU completion signal issued by a Provider.
type Fence any

// Status is the result of a non-blocking fence poll.
type Status int

const (
	// Pending means the GPU has not yet reached the fence.
	Pending Status = iota
	// Signaled means every command submitted before the fence has completed.
	Signaled
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Signaled:
		return "Signaled"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Provider issues and polls GPU fences.
type Provider interface {
	// Submit inserts a fence after all GPU work submitted so far.
	Submit() (Fence, error)

	// Poll reports whether the fence has been reached. It never blocks.
	Poll(f Fence) (Status, error)

	// Destroy releases the fence. The fence must not be used afterwards.
	Destroy(f Fence)
}

// Completer receives completed frame numbers.
type Completer interface {
	FrameCompleted(frame uint64)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(frame uint64)

// FrameCompleted implements Completer.
func (f CompleterFunc) FrameCompleted(frame uint64) { f(frame) }
