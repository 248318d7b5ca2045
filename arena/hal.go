// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package arena

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// copyBufferAlignment is the WebGPU COPY_BUFFER_ALIGNMENT; HAL buffer sizes
// are rounded up to it.
const copyBufferAlignment uint64 = 4

// HALProvider creates arenas backed by gogpu/wgpu HAL buffers.
type HALProvider struct {
	device hal.Device
	queue  hal.Queue
}

// NewHALProvider creates a provider that allocates buffers on device and
// uploads transient writes through queue.
func NewHALProvider(device hal.Device, queue hal.Queue) (*HALProvider, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	return &HALProvider{device: device, queue: queue}, nil
}

// CreateArena creates a HAL buffer of desc.Capacity bytes.
//
// Persistent arenas are created mapped and stay mapped. If the backend hands
// out a non-coherent mapping the arena is demoted to Transient: writes then
// reach the GPU only through Flush, which uploads via Queue.WriteBuffer.
func (p *HALProvider) CreateArena(desc Descriptor) (Arena, error) {
	if err := validateDescriptor(desc); err != nil {
		return nil, err
	}

	size := (desc.Capacity + copyBufferAlignment - 1) &^ (copyBufferAlignment - 1)
	usage := desc.Usage | gputypes.BufferUsageCopyDst
	if desc.Mode == Persistent {
		usage |= gputypes.BufferUsageMapWrite
	}

	buf, err := p.device.CreateBuffer(&hal.BufferDescriptor{
		Label:            desc.Label,
		Size:             size,
		Usage:            usage,
		MappedAtCreation: desc.Mode == Persistent,
	})
	if err != nil {
		return nil, fmt.Errorf("arena: create buffer %q: %w", desc.Label, err)
	}

	a := &HALArena{
		provider: p,
		buffer:   buf,
		label:    desc.Label,
		capacity: desc.Capacity,
		size:     size,
		usage:    usage,
		mode:     desc.Mode,
	}

	if desc.Mode == Persistent {
		if err := a.mapPersistent(); err != nil {
			p.device.DestroyBuffer(buf)
			return nil, err
		}
	}
	if a.mode == Transient {
		a.staging = make([]byte, desc.Capacity)
	}

	slogger().Debug("arena: created HAL arena",
		"label", desc.Label,
		"capacity", desc.Capacity,
		"requested", desc.Mode.String(),
		"mode", a.mode.String())
	return a, nil
}

// HALArena is an Arena backed by a single hal.Buffer.
type HALArena struct {
	provider *HALProvider
	buffer   hal.Buffer
	label    string
	capacity uint64
	size     uint64
	usage    gputypes.BufferUsage
	mode     MappingMode

	// span is the persistent mapping (Persistent mode only).
	span []byte

	// staging is the host copy written between Map and Unmap (Transient mode only).
	staging []byte
	mapped  bool

	destroyed bool
}

func (a *HALArena) mapPersistent() error {
	mapping, err := a.provider.device.MapBuffer(a.buffer, 0, a.size)
	if err != nil {
		return fmt.Errorf("arena: map buffer %q: %w", a.label, err)
	}
	if !mapping.IsCoherent {
		if err := a.provider.device.UnmapBuffer(a.buffer); err != nil {
			return fmt.Errorf("arena: unmap non-coherent buffer %q: %w", a.label, err)
		}
		slogger().Warn("arena: non-coherent mapping, falling back to transient uploads",
			"label", a.label)
		a.mode = Transient
		return nil
	}
	//nolint:gosec // G103: Ptr is valid for size bytes until UnmapBuffer
	a.span = unsafe.Slice((*byte)(mapping.Ptr), int(a.capacity))
	return nil
}

// Buffer returns the underlying HAL buffer for binding.
// Returns nil once the arena has been destroyed.
func (a *HALArena) Buffer() hal.Buffer {
	if a.destroyed {
		return nil
	}
	return a.buffer
}

// Usage returns the buffer usage flags the HAL buffer was created with.
func (a *HALArena) Usage() gputypes.BufferUsage { return a.usage }

// Label implements Arena.
func (a *HALArena) Label() string { return a.label }

// Capacity implements Arena.
func (a *HALArena) Capacity() uint64 { return a.capacity }

// Mode implements Arena.
func (a *HALArena) Mode() MappingMode { return a.mode }

// Map implements Arena.
func (a *HALArena) Map() ([]byte, error) {
	if a.destroyed {
		return nil, ErrDestroyed
	}
	if a.mode == Persistent {
		return a.span, nil
	}
	if a.mapped {
		return nil, ErrAlreadyMapped
	}
	a.mapped = true
	return a.staging, nil
}

// Flush implements Arena. For transient arenas only the given byte range is
// uploaded to the GPU buffer.
func (a *HALArena) Flush(offset, size uint64) error {
	if a.destroyed {
		return ErrDestroyed
	}
	if err := checkRange(offset, size, a.capacity); err != nil {
		return err
	}
	if a.mode == Persistent || size == 0 {
		return nil
	}
	if !a.mapped {
		return ErrNotMapped
	}
	if err := a.provider.queue.WriteBuffer(a.buffer, offset, a.staging[offset:offset+size]); err != nil {
		return fmt.Errorf("arena: flush %q [%d, %d): %w", a.label, offset, offset+size, err)
	}
	return nil
}

// Unmap implements Arena.
func (a *HALArena) Unmap() error {
	if a.destroyed {
		return ErrDestroyed
	}
	if a.mode == Persistent {
		return nil
	}
	if !a.mapped {
		return ErrNotMapped
	}
	a.mapped = false
	return nil
}

// Destroy implements Arena.
func (a *HALArena) Destroy() {
	if a.destroyed {
		return
	}
	a.destroyed = true
	if a.span != nil {
		if err := a.provider.device.UnmapBuffer(a.buffer); err != nil {
			slogger().Warn("arena: unmap on destroy failed", "label", a.label, "err", err)
		}
	}
	a.provider.device.DestroyBuffer(a.buffer)
	a.span = nil
	a.staging = nil
	a.buffer = nil
}
