// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package ringalloc provides frame-fenced ring buffer allocation for
// per-frame GPU data.
//
// # Overview
//
// Renderers upload vertices, indices, uniforms and indirect arguments every
// frame. Creating a buffer per upload is slow, and rewriting a buffer the
// GPU is still reading corrupts the frame. ringalloc hands out ranges of
// large circular regions and only reuses a byte once the GPU has finished
// the frame that read it.
//
// # Quick Start
//
//	a, err := ringalloc.New(arena.NewHostProvider(), fence.NewManual())
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	r, err := a.Allocate(ringalloc.KindVertex, 0, uint64(len(vertices)))
//	if err != nil {
//	    return err
//	}
//	r.Write(vertices)
//	if err := r.Close(); err != nil {
//	    r.Cancel()
//	    return err
//	}
//	r.Release()
//	// bind r.Region().Arena() at r.Offset(), submit, then:
//	a.EndOfFrame()
//
// With a GPU device use render.NewAllocator, which wires the HAL arena and
// fence providers from a gpucontext.DeviceProvider.
//
// # Architecture
//
// The module is organized into:
//   - ringalloc: Region (one ring), Range (one allocation), Allocator (pool)
//   - arena: buffer backends (HAL buffers, host memory)
//   - fence: frame completion tracking (HAL queue, manual)
//   - render: integration with gogpu device providers
//
// # Reclamation
//
// Releasing a range records a sync entry tagged with the current frame.
// When the frame's fence signals, the region's read cursor moves past every
// span that frame used. The writer never passes the reader, so a span the
// GPU may still read is never handed out again.
//
// # Errors
//
// Running out of space returns ErrOutOfSpace. Broken cursor invariants and
// misuse of a range's lifecycle are programming errors and panic with
// *InvariantError or *UsageError.
package ringalloc
