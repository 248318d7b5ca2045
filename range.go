// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ringalloc

import "io"

// noCopy makes go vet's copylocks check flag copies of a Range.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Range is a checked-out span [Offset, Offset+Len) of a region at one wrap
// generation.
//
// Lifecycle:
//  1. Acquire via Allocator.Allocate or Region.Acquire (state Open)
//  2. Write bytes with Write or into Bytes followed by MarkWritten
//  3. Close: flushes written bytes on transient arenas (state Closed)
//  4. Release: hands the written span to frame-fence reclamation (state Released)
//
// Cancel abandons a range from Open or Closed without any GPU use.
// Every range must end Released or Cancelled; calling an operation in the
// wrong state panics with a *UsageError.
type Range struct {
	_ noCopy

	region  *Region
	span    []byte
	start   uint64
	length  uint64
	wrap    uint64
	usage   Usage
	written uint64
	flushed uint64
	state   RangeState
	leak    *rangeLeak
}

// Region returns the region the range was acquired from.
func (r *Range) Region() *Region { return r.region }

// Offset returns the byte offset of the range inside its region.
func (r *Range) Offset() uint64 { return r.start }

// Len returns the reserved length in bytes.
func (r *Range) Len() uint64 { return r.length }

// Wrap returns the wrap generation the range was acquired at.
func (r *Range) Wrap() uint64 { return r.wrap }

// Usage returns the usage tag given at acquisition.
func (r *Range) Usage() Usage { return r.usage }

// State returns the lifecycle state.
func (r *Range) State() RangeState { return r.state }

// Written returns the write-progress marker.
func (r *Range) Written() uint64 { return r.written }

// Bytes returns the CPU-writable span of an open CPUWrite range.
// The span is only valid until Close. GPUOnly ranges return nil.
func (r *Range) Bytes() []byte {
	if r.state != StateOpen {
		usagePanic("bytes", r.state, "span is only valid while open")
	}
	return r.span
}

// Write copies p at the write-progress marker and advances it.
// If p does not fit nothing is written and io.ErrShortWrite is returned.
func (r *Range) Write(p []byte) (int, error) {
	r.mustWritable("write")
	n := uint64(len(p))
	if n > r.length-r.written {
		return 0, io.ErrShortWrite
	}
	copy(r.span[r.written:], p)
	r.written += n
	return len(p), nil
}

// MarkWritten sets the write-progress marker after writing into Bytes
// directly. The marker only grows and never passes Len.
func (r *Range) MarkWritten(n uint64) {
	r.mustWritable("mark written")
	if n < r.written {
		usagePanic("mark written", r.state, "marker moved back from %d to %d", r.written, n)
	}
	if n > r.length {
		usagePanic("mark written", r.state, "marker %d exceeds range length %d", n, r.length)
	}
	r.written = n
}

// Flush makes the written bytes up to upTo visible to the GPU before Close.
// Only meaningful for transient arenas; bytes already flushed are skipped.
func (r *Range) Flush(upTo uint64) error {
	r.mustWritable("flush")
	if upTo > r.written {
		usagePanic("flush", r.state, "flush up to %d beyond written %d", upTo, r.written)
	}
	if upTo <= r.flushed {
		return nil
	}
	if err := r.region.flush(r.start+r.flushed, upTo-r.flushed); err != nil {
		return err
	}
	r.flushed = upTo
	return nil
}

// Close ends the write window. Written bytes not yet flushed are flushed
// once. The range moves to Closed even if the flush fails; the caller
// should then Cancel it instead of releasing it.
func (r *Range) Close() error {
	if r.state != StateOpen {
		usagePanic("close", r.state, "close is only valid on an open range")
	}
	r.state = StateClosed
	if r.usage == GPUOnly {
		r.written = r.length
		return nil
	}
	err := r.region.closeRange(r.start+r.flushed, r.written-r.flushed)
	r.flushed = r.written
	r.span = nil
	return err
}

// Release tags the written span with the current frame so that it is
// reclaimed once that frame's GPU work completes. A range with nothing
// written needs no reclamation.
func (r *Range) Release() {
	if r.state != StateClosed {
		usagePanic("release", r.state, "release is only valid on a closed range")
	}
	if r.written > 0 {
		r.region.addSyncEntry(r.wrap, r.start, r.written)
	}
	r.state = StateReleased
	r.region.live--
	r.settle()
}

// Cancel abandons the range. No sync entry is recorded and the write cursor
// is not rewound: the reserved bytes stay unused until the region wraps
// back over them.
func (r *Range) Cancel() {
	if r.state.Terminal() {
		usagePanic("cancel", r.state, "range already finished")
	}
	if r.state == StateOpen && r.usage == CPUWrite {
		if err := r.region.unmapForWrite(); err != nil {
			Logger().Warn("ringalloc: unmap on cancel failed", "region", r.region.label, "err", err)
		}
	}
	r.span = nil
	r.state = StateCancelled
	r.region.live--
	r.settle()
}

func (r *Range) mustWritable(op string) {
	if r.state != StateOpen {
		usagePanic(op, r.state, "range is not open")
	}
	if r.usage != CPUWrite {
		usagePanic(op, r.state, "range has no CPU span (usage %v)", r.usage)
	}
}
