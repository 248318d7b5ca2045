// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package arena provides fixed-capacity, CPU-writable GPU memory regions.
//
// An Arena is a single contiguous buffer that a ring region carves transient
// allocations out of. Arenas never grow and never move: the capacity given
// at creation is the capacity for the arena's whole lifetime.
//
// Two mapping modes are supported:
//
//   - Persistent: the CPU-visible span is established once and stays valid
//     until Destroy. Writes become visible to the GPU once the caller's fence
//     protocol is honored; Flush is a no-op.
//   - Transient: the caller must Map before writing, Flush the bytes it
//     actually wrote, then Unmap before the GPU may read the buffer.
//
// Two providers ship with the package: HALProvider backs arenas with
// gogpu/wgpu HAL buffers, HostProvider backs them with anonymous host memory
// (useful for headless runs and tests).
package arena

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// Arena errors.
var (
	// ErrDestroyed is returned when operating on a destroyed arena.
	ErrDestroyed = errors.New("arena: arena has been destroyed")

	// ErrAlreadyMapped is returned by Map when the arena is already mapped.
	ErrAlreadyMapped = errors.New("arena: arena is already mapped")

	// ErrNotMapped is returned by Flush or Unmap on an unmapped transient arena.
	ErrNotMapped = errors.New("arena: arena is not mapped")

	// ErrInvalidRange is returned when a flush range falls outside the arena.
	ErrInvalidRange = errors.New("arena: range out of bounds")

	// ErrInvalidCapacity is returned when creating an arena with zero capacity.
	ErrInvalidCapacity = errors.New("arena: invalid capacity")

	// ErrNilDevice is returned when a HAL provider has no device or queue.
	ErrNilDevice = errors.New("arena: hal device or queue is nil")
)

// MappingMode selects how the CPU-visible span of an arena is managed.
type MappingMode int

const (
	// Persistent keeps the arena mapped for its entire lifetime.
	Persistent MappingMode = iota
	// Transient requires Map, Flush and Unmap around every write window.
	Transient
)

// String returns the string representation of MappingMode.
func (m MappingMode) String() string {
	switch m {
	case Persistent:
		return "Persistent"
	case Transient:
		return "Transient"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// Descriptor describes an arena to create.
type Descriptor struct {
	// Label is an optional debug name.
	Label string

	// Capacity is the arena size in bytes. Immutable after creation.
	Capacity uint64

	// Mode selects persistent or transient mapping.
	Mode MappingMode

	// Usage lists the GPU bindings the arena will serve (vertex, uniform, ...).
	// Providers add the map/copy flags their mapping mode needs.
	Usage gputypes.BufferUsage
}

// Arena is a fixed-capacity contiguous memory region.
//
// Arenas are not safe for concurrent use; they are owned and written by the
// single thread that records GPU commands for a frame.
type Arena interface {
	// Label returns the debug label given at creation.
	Label() string

	// Capacity returns the arena size in bytes.
	Capacity() uint64

	// Mode returns the effective mapping mode. A provider may demote a
	// requested Persistent arena to Transient when the backing memory
	// cannot be written coherently.
	Mode() MappingMode

	// Map returns the CPU-visible span covering the whole arena.
	// For persistent arenas Map may be called any number of times and
	// always returns the same span. For transient arenas Map opens a map
	// window that must be closed with Unmap.
	Map() ([]byte, error)

	// Flush makes [offset, offset+size) visible to the GPU.
	// A no-op for persistent arenas.
	Flush(offset, size uint64) error

	// Unmap closes the map window opened by Map.
	// A no-op for persistent arenas.
	Unmap() error

	// Destroy releases the arena. The arena must not be used afterwards.
	// Destroy is idempotent.
	Destroy()
}

// Provider creates arenas.
type Provider interface {
	CreateArena(desc Descriptor) (Arena, error)
}

// checkRange validates a flush range against capacity.
func checkRange(offset, size, capacity uint64) error {
	if offset > capacity || size > capacity-offset {
		return fmt.Errorf("%w: offset %d + size %d > capacity %d", ErrInvalidRange, offset, size, capacity)
	}
	return nil
}

// validateDescriptor checks the fields every provider relies on.
func validateDescriptor(desc Descriptor) error {
	if desc.Capacity == 0 {
		return fmt.Errorf("%w: capacity is 0", ErrInvalidCapacity)
	}
	if desc.Mode != Persistent && desc.Mode != Transient {
		return fmt.Errorf("arena: unknown mapping mode %v", desc.Mode)
	}
	return nil
}
