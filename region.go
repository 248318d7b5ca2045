// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ringalloc

import (
	"errors"
	"fmt"

	"github.com/gogpu/ringalloc/arena"
)

// FrameSource reports the frame number work recorded now belongs to.
// fence.Tracker implements it.
type FrameSource interface {
	Frame() uint64
}

// FreeSpace is the result of Region.FreeSpace.
type FreeSpace struct {
	// Pad is the number of bytes needed to align the write cursor.
	Pad uint64
	// WithoutWrap is the contiguous space after the aligned write cursor.
	WithoutWrap uint64
	// WithWrap is the space available from offset 0 if the writer wraps.
	WithWrap uint64
}

// syncEntry is a byte span produced for a frame that must not be reused
// until that frame's GPU work has completed.
type syncEntry struct {
	frame  uint64
	wrap   uint64
	offset uint64
	count  uint64
}

func (e syncEntry) end() uint64 { return e.offset + e.count }

// Region is one circular buffer from which ranges are allocated.
//
// The writer position (writePos, writeWrap) is where the next range starts;
// the reader position (readPos, readWrap) is the earliest byte the GPU might
// still read. After every mutation exactly one of these holds:
//
//	writeWrap == readWrap   && writePos >= readPos   free: [writePos, cap) and [0, readPos)
//	writeWrap == readWrap+1 && readPos  >= writePos  free: [writePos, readPos)
//
// The reader only moves when a frame completes. A Region is not safe for
// concurrent use.
type Region struct {
	arena    arena.Arena
	kind     Kind
	label    string
	capacity uint64
	frames   FrameSource

	writePos  uint64
	writeWrap uint64
	readPos   uint64
	readWrap  uint64

	pending []syncEntry

	// span is the persistent mapping; nil for transient arenas until mapped.
	span    []byte
	mapRefs int

	live      int
	acquired  uint64
	destroyed bool

	// onLeak, when set, is called for ranges collected while still live.
	onLeak func(*rangeLeak)
}

// NewRegion creates a region over a, taking ownership of it.
// frames supplies the frame number that released ranges are tagged with.
func NewRegion(a arena.Arena, kind Kind, frames FrameSource) (*Region, error) {
	if a == nil || frames == nil {
		return nil, fmt.Errorf("%w: region needs an arena and a frame source", ErrInvalidConfig)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKind, kind)
	}
	r := &Region{
		arena:    a,
		kind:     kind,
		label:    a.Label(),
		capacity: a.Capacity(),
		frames:   frames,
	}
	if a.Mode() == arena.Persistent {
		span, err := a.Map()
		if err != nil {
			return nil, fmt.Errorf("ringalloc: map region %q: %w", r.label, err)
		}
		r.span = span
	}
	return r, nil
}

// Kind returns the kind of ranges this region serves.
func (r *Region) Kind() Kind { return r.kind }

// Label returns the debug label of the region's arena.
func (r *Region) Label() string { return r.label }

// Capacity returns the region size in bytes.
func (r *Region) Capacity() uint64 { return r.capacity }

// Arena returns the backing arena, e.g. to bind its GPU buffer.
func (r *Region) Arena() arena.Arena { return r.arena }

// LiveRanges returns the number of ranges neither released nor cancelled.
func (r *Region) LiveRanges() int { return r.live }

// PendingEntries returns the number of sync entries awaiting completion.
func (r *Region) PendingEntries() int { return len(r.pending) }

// WriteCursor returns the write position and wrap generation.
func (r *Region) WriteCursor() (pos, wrap uint64) { return r.writePos, r.writeWrap }

// ReadCursor returns the read position and wrap generation.
func (r *Region) ReadCursor() (pos, wrap uint64) { return r.readPos, r.readWrap }

// FreeSpace computes the alignment padding and the free space before and
// after a wrap. It has no side effects.
func (r *Region) FreeSpace(alignment uint64) FreeSpace {
	alignment = normalizeAlignment(alignment)
	pad := alignPad(r.writePos, alignment)
	aligned := r.writePos + pad

	switch r.writeWrap {
	case r.readWrap + 1:
		fs := FreeSpace{Pad: pad}
		if aligned < r.readPos {
			fs.WithoutWrap = r.readPos - aligned
		}
		return fs
	case r.readWrap:
		fs := FreeSpace{Pad: pad, WithWrap: r.readPos}
		if aligned < r.capacity {
			fs.WithoutWrap = r.capacity - aligned
		}
		return fs
	default:
		panic(r.invariantError("free space", "writer is not within one lap of the reader"))
	}
}

// Acquire reserves n bytes aligned to alignment, wrapping if needed.
// A zero n takes whatever is left: the larger of the two free sizes.
// Returns ErrOutOfSpace if the request does not fit; requests are never
// partially satisfied.
func (r *Region) Acquire(alignment uint64, usage Usage, n uint64) (*Range, error) {
	return r.acquire(alignment, usage, n, true)
}

func (r *Region) acquire(alignment uint64, usage Usage, n uint64, allowWrap bool) (*Range, error) {
	if r.destroyed {
		usagePanic("acquire", StateOpen, "region %q has been destroyed", r.label)
	}
	if alignment != 0 && !isPowerOfTwo(alignment) {
		usagePanic("acquire", StateOpen, "alignment %d is not a power of two", alignment)
	}
	if usage != CPUWrite && usage != GPUOnly {
		usagePanic("acquire", StateOpen, "unknown usage %v", usage)
	}

	fs := r.FreeSpace(alignment)
	if n == 0 {
		n = max(fs.WithoutWrap, fs.WithWrap)
		if n == 0 {
			return nil, r.outOfSpace(n)
		}
	}

	wrap := n > fs.WithoutWrap
	if wrap && !allowWrap {
		return nil, ErrOutOfSpace
	}
	if wrap && n > fs.WithWrap {
		return nil, r.outOfSpace(n)
	}

	if err := r.mapForWrite(usage); err != nil {
		return nil, err
	}

	if wrap {
		r.writeWrap++
		r.writePos = 0
		Logger().Debug("ringalloc: region wrapped",
			"region", r.label, "wrap", r.writeWrap, "read", r.readPos, "readWrap", r.readWrap)
	} else {
		r.writePos += fs.Pad
	}

	start := r.writePos
	r.writePos += n
	r.checkInvariant("acquire")

	rng := &Range{
		region: r,
		start:  start,
		length: n,
		wrap:   r.writeWrap,
		usage:  usage,
	}
	if usage == CPUWrite {
		rng.span = r.span[start : start+n : start+n]
	}
	r.live++
	r.acquired += n
	watchLeak(rng, r.onLeak)
	return rng, nil
}

// outOfSpace returns ErrOutOfSpace, warning first if the region is
// stranded: bytes are behind the writer but no pending entry or live range
// can ever move the reader past them. Ranges cancelled or released with
// nothing written leave a region in that state.
func (r *Region) outOfSpace(n uint64) error {
	if len(r.pending) == 0 && r.live == 0 && r.inFlight() > 0 {
		Logger().Warn("ringalloc: region stranded by cancelled ranges",
			"region", r.label,
			"request", n,
			"unreclaimable", r.inFlight(),
			"write", r.writePos, "writeWrap", r.writeWrap,
			"read", r.readPos, "readWrap", r.readWrap)
	}
	return ErrOutOfSpace
}

// mapForWrite opens the transient map window for the first live CPU range.
func (r *Region) mapForWrite(usage Usage) error {
	if usage != CPUWrite || r.arena.Mode() == arena.Persistent {
		return nil
	}
	if r.mapRefs == 0 {
		span, err := r.arena.Map()
		if err != nil {
			return fmt.Errorf("ringalloc: map region %q: %w", r.label, err)
		}
		r.span = span
	}
	r.mapRefs++
	return nil
}

// flush makes [offset, offset+n) of a transient arena visible to the GPU.
func (r *Region) flush(offset, n uint64) error {
	if r.arena.Mode() == arena.Persistent || n == 0 {
		return nil
	}
	if err := r.arena.Flush(offset, n); err != nil {
		return fmt.Errorf("ringalloc: flush region %q: %w", r.label, err)
	}
	return nil
}

// closeRange flushes the unflushed written bytes of a CPU range, counted
// from offset relative to the region, and closes the map window when the
// last CPU range leaves it.
func (r *Region) closeRange(offset, n uint64) error {
	err := r.flush(offset, n)
	return errors.Join(err, r.unmapForWrite())
}

// unmapForWrite drops one map window reference.
func (r *Region) unmapForWrite() error {
	if r.arena.Mode() == arena.Persistent {
		return nil
	}
	r.mapRefs--
	if r.mapRefs > 0 {
		return nil
	}
	r.span = nil
	if err := r.arena.Unmap(); err != nil {
		return fmt.Errorf("ringalloc: unmap region %q: %w", r.label, err)
	}
	return nil
}

// addSyncEntry records that [offset, offset+n) at wrap is in use by the
// current frame. Entries for the same frame and wrap are merged.
func (r *Region) addSyncEntry(wrap, offset, n uint64) {
	frame := r.frames.Frame()
	for i := range r.pending {
		e := &r.pending[i]
		if e.frame != frame || e.wrap != wrap {
			continue
		}
		end := max(e.end(), offset+n)
		e.offset = min(e.offset, offset)
		e.count = end - e.offset
		return
	}
	r.pending = append(r.pending, syncEntry{frame: frame, wrap: wrap, offset: offset, count: n})
}

// FrameCompleted advances the reader past every span produced for frame.
// Entries never move the reader backwards; all entries for frame are
// discharged whether or not they advanced it.
func (r *Region) FrameCompleted(frame uint64) {
	kept := r.pending[:0]
	for _, e := range r.pending {
		if e.frame != frame {
			kept = append(kept, e)
			continue
		}
		r.advanceReader(e.wrap, e.end())
	}
	clear(r.pending[len(kept):])
	r.pending = kept
	r.checkInvariant("frame completed")
}

// advanceReader moves the reader to (wrap, pos) if that is ahead of it and
// still behind the writer.
func (r *Region) advanceReader(wrap, pos uint64) {
	ahead := wrap > r.readWrap || (wrap == r.readWrap && pos > r.readPos)
	if !ahead {
		return
	}
	behindWriter := (wrap == r.writeWrap && pos <= r.writePos) ||
		(wrap+1 == r.writeWrap && pos >= r.writePos)
	if !behindWriter {
		return
	}
	r.readWrap = wrap
	r.readPos = pos
	Logger().Debug("ringalloc: reader advanced",
		"region", r.label, "read", pos, "readWrap", wrap, "write", r.writePos, "writeWrap", r.writeWrap)
}

// Destroy releases the arena. Destroying a region with live ranges is a
// usage error: their bytes would be silently lost.
func (r *Region) Destroy() {
	if r.destroyed {
		return
	}
	if r.live > 0 {
		usagePanic("destroy region", StateOpen, "region %q still has %d live ranges", r.label, r.live)
	}
	r.destroyed = true
	r.span = nil
	r.pending = nil
	r.arena.Destroy()
}

// checkInvariant panics if the cursors are in neither legal shape.
func (r *Region) checkInvariant(op string) {
	switch {
	case r.writePos > r.capacity || r.readPos > r.capacity:
		panic(r.invariantError(op, "cursor beyond capacity"))
	case r.writeWrap == r.readWrap:
		if r.writePos < r.readPos {
			panic(r.invariantError(op, "reader ahead of writer in the same lap"))
		}
	case r.writeWrap == r.readWrap+1:
		if r.readPos < r.writePos {
			panic(r.invariantError(op, "writer overtook reader after wrapping"))
		}
	default:
		panic(r.invariantError(op, "writer is not within one lap of the reader"))
	}
}

func (r *Region) invariantError(op, detail string) *InvariantError {
	return &InvariantError{
		Op:        op,
		Region:    r.label,
		Capacity:  r.capacity,
		WritePos:  r.writePos,
		WriteWrap: r.writeWrap,
		ReadPos:   r.readPos,
		ReadWrap:  r.readWrap,
		Detail:    detail,
	}
}

func normalizeAlignment(alignment uint64) uint64 {
	if alignment == 0 {
		return 1
	}
	return alignment
}
