// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ringalloc

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Kind tags the GPU binding a ring region serves. Regions only hand out
// ranges of their own kind; the binding itself is done by the caller.
type Kind int

const (
	// KindVertex is per-frame vertex data.
	KindVertex Kind = iota
	// KindIndex is per-frame index data.
	KindIndex
	// KindUniform is uniform blocks.
	KindUniform
	// KindStorage is storage buffer data.
	KindStorage
	// KindIndirect is indirect draw/dispatch arguments.
	KindIndirect

	kindCount
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindVertex:
		return "Vertex"
	case KindIndex:
		return "Index"
	case KindUniform:
		return "Uniform"
	case KindStorage:
		return "Storage"
	case KindIndirect:
		return "Indirect"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k >= 0 && k < kindCount }

// BufferUsage returns the GPU buffer usage a region of this kind needs.
func (k Kind) BufferUsage() gputypes.BufferUsage {
	switch k {
	case KindVertex:
		return gputypes.BufferUsageVertex
	case KindIndex:
		return gputypes.BufferUsageIndex
	case KindUniform:
		return gputypes.BufferUsageUniform
	case KindStorage:
		return gputypes.BufferUsageStorage
	case KindIndirect:
		return gputypes.BufferUsageIndirect
	default:
		return gputypes.BufferUsageNone
	}
}

// defaultAlignment returns the minimum offset alignment for k under limits.
func (k Kind) defaultAlignment(limits gputypes.Limits) uint64 {
	switch k {
	case KindUniform:
		return uint64(limits.MinUniformBufferOffsetAlignment)
	case KindStorage:
		return uint64(limits.MinStorageBufferOffsetAlignment)
	default:
		return minAlignment
	}
}

// minAlignment is the smallest alignment any range gets (COPY_BUFFER_ALIGNMENT).
const minAlignment uint64 = 4

// Usage says who writes a range.
type Usage int

const (
	// CPUWrite ranges expose a CPU-writable span.
	CPUWrite Usage = iota
	// GPUOnly ranges reserve space the GPU alone writes and reads; they
	// expose no CPU span and count as fully written once closed.
	GPUOnly
)

// String returns the string representation of Usage.
func (u Usage) String() string {
	switch u {
	case CPUWrite:
		return "CPUWrite"
	case GPUOnly:
		return "GPUOnly"
	default:
		return fmt.Sprintf("Unknown(%d)", int(u))
	}
}

// RangeState is the lifecycle state of a Range.
type RangeState int

const (
	// StateOpen is a freshly acquired range accepting writes.
	StateOpen RangeState = iota
	// StateClosed is a range whose writes have been flushed.
	StateClosed
	// StateReleased is a range handed over to frame-fence reclamation. Terminal.
	StateReleased
	// StateCancelled is a range abandoned without GPU use. Terminal.
	StateCancelled
)

// String returns the string representation of RangeState.
func (s RangeState) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateClosed:
		return "Closed"
	case StateReleased:
		return "Released"
	case StateCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are allowed.
func (s RangeState) Terminal() bool {
	return s == StateReleased || s == StateCancelled
}
