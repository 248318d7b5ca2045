// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/ringalloc"
	"github.com/gogpu/ringalloc/arena"
	"github.com/gogpu/ringalloc/fence"
	"github.com/gogpu/wgpu/hal"
)

// ErrNoHALDevice is returned when a DeviceHandle exposes no HAL device or
// queue.
var ErrNoHALDevice = errors.New("render: device handle does not expose a HAL device and queue")

// DeviceHandle provides GPU device access from the host application.
//
// DeviceHandle is an alias for gpucontext.DeviceProvider, so any gogpu host
// can be passed directly. The device and queue it returns must be
// hal.Device and hal.Queue values, either directly or through the
// HalDevice/HalQueue accessors some hosts expose.
type DeviceHandle = gpucontext.DeviceProvider

// halProvider is implemented by hosts that keep HAL handles behind
// dedicated accessors.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// HALDevice extracts the HAL device and queue from h.
func HALDevice(h DeviceHandle) (hal.Device, hal.Queue, error) {
	if h == nil {
		return nil, nil, ErrNoHALDevice
	}

	var dev, queue any = h.Device(), h.Queue()
	if hp, ok := h.(halProvider); ok {
		dev, queue = hp.HalDevice(), hp.HalQueue()
	}

	device, ok := dev.(hal.Device)
	if !ok || device == nil {
		return nil, nil, fmt.Errorf("%w: device is %T", ErrNoHALDevice, dev)
	}
	q, ok := queue.(hal.Queue)
	if !ok || q == nil {
		return nil, nil, fmt.Errorf("%w: queue is %T", ErrNoHALDevice, queue)
	}
	return device, q, nil
}

// NewAllocator creates a ring allocator whose regions are HAL buffers on
// the host's device and whose frames are fenced on the host's queue.
func NewAllocator(h DeviceHandle, opts ...ringalloc.Option) (*ringalloc.Allocator, error) {
	device, queue, err := HALDevice(h)
	if err != nil {
		return nil, err
	}
	arenas, err := arena.NewHALProvider(device, queue)
	if err != nil {
		return nil, err
	}
	fences, err := fence.NewQueueProvider(queue)
	if err != nil {
		return nil, err
	}

	info := h.AdapterInfo()
	ringalloc.Logger().Info("render: ring allocator on host device",
		"adapter", info.Name,
		"type", info.Type.String())
	return ringalloc.New(arenas, fences, opts...)
}

// NullDeviceHandle is a DeviceHandle without a device.
// NewAllocator rejects it with ErrNoHALDevice.
type NullDeviceHandle struct{}

// Device returns nil for the null device.
func (NullDeviceHandle) Device() gpucontext.Device { return nil }

// Queue returns nil for the null device.
func (NullDeviceHandle) Queue() gpucontext.Queue { return nil }

// Adapter returns nil for the null device.
func (NullDeviceHandle) Adapter() gpucontext.Adapter { return nil }

// SurfaceFormat returns undefined format for the null device.
func (NullDeviceHandle) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

// AdapterInfo returns an unknown adapter for the null device.
func (NullDeviceHandle) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Type: gpucontext.AdapterTypeUnknown}
}

// Ensure NullDeviceHandle implements DeviceHandle.
var _ DeviceHandle = NullDeviceHandle{}
