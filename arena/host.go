// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package arena

import "fmt"

// HostProvider creates arenas in host memory.
//
// Host arenas stand in for GPU buffers when no device is available. A
// transient host arena keeps two copies of its memory: the CPU span handed
// out by Map, and a device-visible copy that only Flush updates. DeviceView
// exposes the latter, so tests can observe exactly the bytes a GPU would
// read. Persistent host arenas share one copy between CPU and "GPU".
type HostProvider struct{}

// NewHostProvider returns a host memory arena provider.
func NewHostProvider() *HostProvider { return &HostProvider{} }

// CreateArena implements Provider.
func (p *HostProvider) CreateArena(desc Descriptor) (Arena, error) {
	if err := validateDescriptor(desc); err != nil {
		return nil, err
	}

	cpu, err := allocHost(desc.Capacity)
	if err != nil {
		return nil, fmt.Errorf("arena: allocate host arena %q: %w", desc.Label, err)
	}
	a := &HostArena{
		label: desc.Label,
		mode:  desc.Mode,
		cpu:   cpu,
	}
	if desc.Mode == Transient {
		dev, err := allocHost(desc.Capacity)
		if err != nil {
			freeHost(cpu)
			return nil, fmt.Errorf("arena: allocate host arena %q: %w", desc.Label, err)
		}
		a.device = dev
	} else {
		a.device = cpu
	}

	slogger().Debug("arena: created host arena",
		"label", desc.Label,
		"capacity", desc.Capacity,
		"mode", desc.Mode.String())
	return a, nil
}

// HostArena is an Arena in host memory.
type HostArena struct {
	label  string
	mode   MappingMode
	cpu    []byte
	device []byte
	mapped bool

	flushes   int
	destroyed bool
}

// DeviceView returns the bytes visible to the (simulated) GPU.
// For transient arenas this only changes on Flush.
func (a *HostArena) DeviceView() []byte { return a.device }

// FlushCount returns how many non-empty flushes reached the device copy.
func (a *HostArena) FlushCount() int { return a.flushes }

// Label implements Arena.
func (a *HostArena) Label() string { return a.label }

// Capacity implements Arena.
func (a *HostArena) Capacity() uint64 { return uint64(len(a.cpu)) }

// Mode implements Arena.
func (a *HostArena) Mode() MappingMode { return a.mode }

// Map implements Arena.
func (a *HostArena) Map() ([]byte, error) {
	if a.destroyed {
		return nil, ErrDestroyed
	}
	if a.mode == Persistent {
		return a.cpu, nil
	}
	if a.mapped {
		return nil, ErrAlreadyMapped
	}
	a.mapped = true
	return a.cpu, nil
}

// Flush implements Arena.
func (a *HostArena) Flush(offset, size uint64) error {
	if a.destroyed {
		return ErrDestroyed
	}
	if err := checkRange(offset, size, a.Capacity()); err != nil {
		return err
	}
	if a.mode == Persistent || size == 0 {
		return nil
	}
	if !a.mapped {
		return ErrNotMapped
	}
	copy(a.device[offset:offset+size], a.cpu[offset:offset+size])
	a.flushes++
	return nil
}

// Unmap implements Arena.
func (a *HostArena) Unmap() error {
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
func (a *HostArena) Destroy() {
	if a.destroyed {
		return
	}
	a.destroyed = true
	if a.mode == Transient {
		freeHost(a.device)
	}
	freeHost(a.cpu)
	a.cpu = nil
	a.device = nil
}
