// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ringalloc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/ringalloc/arena"
	"github.com/gogpu/ringalloc/fence"
)

// allocWaitInterval is how often AllocateWait re-polls the tracker.
const allocWaitInterval = 500 * time.Microsecond

// Allocator is a pool of ring regions, grouped by kind, whose space is
// reclaimed as frames complete on the GPU.
//
// Every frame:
//  1. Allocate ranges, write them, Close and Release each one
//  2. Submit the GPU work that reads them
//  3. Call EndOfFrame
//
// Allocator is not safe for concurrent use. It is owned by the thread that
// records and submits GPU work.
type Allocator struct {
	cfg     Config
	arenas  arena.Provider
	tracker *fence.Tracker
	regions []*Region
	nextID  int
	closed  bool
}

// New creates an allocator whose regions are backed by arenas and whose
// frames are fenced through fences.
func New(arenas arena.Provider, fences fence.Provider, opts ...Option) (*Allocator, error) {
	if arenas == nil {
		return nil, fmt.Errorf("%w: nil arena provider", ErrInvalidConfig)
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tracker, err := fence.NewTracker(fences, cfg.FramesInFlight)
	if err != nil {
		return nil, fmt.Errorf("ringalloc: create frame tracker: %w", err)
	}

	a := &Allocator{
		cfg:     cfg,
		arenas:  arenas,
		tracker: tracker,
	}
	tracker.AddCompleter(a)

	Logger().Info("ringalloc: allocator created",
		"minRegionSize", cfg.MinRegionSize,
		"maxRegions", cfg.MaxRegions,
		"framesInFlight", cfg.FramesInFlight,
		"mapping", cfg.Mapping.String())
	return a, nil
}

// Config returns the effective configuration.
func (a *Allocator) Config() Config { return a.cfg }

// Tracker returns the frame tracker driving reclamation.
func (a *Allocator) Tracker() *fence.Tracker { return a.tracker }

// Allocate reserves n CPU-writable bytes of the given kind.
// An alignment of 0 selects the kind's default alignment.
func (a *Allocator) Allocate(kind Kind, alignment, n uint64) (*Range, error) {
	return a.allocate(kind, CPUWrite, alignment, n)
}

// AllocateGPUOnly reserves n bytes the GPU alone writes and reads.
func (a *Allocator) AllocateGPUOnly(kind Kind, alignment, n uint64) (*Range, error) {
	return a.allocate(kind, GPUOnly, alignment, n)
}

// allocate tries, in order: every region of kind without wrapping, every
// region of kind with wrapping, then a new region.
func (a *Allocator) allocate(kind Kind, usage Usage, alignment, n uint64) (*Range, error) {
	if a.closed {
		return nil, ErrAllocatorClosed
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKind, kind)
	}
	if alignment == 0 {
		alignment = kind.defaultAlignment(a.cfg.Limits)
	}
	if !isPowerOfTwo(alignment) {
		usagePanic("allocate", StateOpen, "alignment %d is not a power of two", alignment)
	}

	for _, allowWrap := range []bool{false, true} {
		for _, r := range a.regions {
			if r.kind != kind {
				continue
			}
			rng, err := r.acquire(alignment, usage, n, allowWrap)
			if err == nil {
				return rng, nil
			}
			if !errors.Is(err, ErrOutOfSpace) {
				return nil, err
			}
		}
	}

	r, err := a.grow(kind, alignment, n)
	if err != nil {
		return nil, err
	}
	return r.acquire(alignment, usage, n, true)
}

// grow adds a region large enough for a request of n bytes.
func (a *Allocator) grow(kind Kind, alignment, n uint64) (*Region, error) {
	if len(a.regions) >= a.cfg.MaxRegions {
		return nil, fmt.Errorf("%w: %d bytes of %v, pool holds the maximum of %d regions",
			ErrOutOfSpace, n, kind, a.cfg.MaxRegions)
	}

	size := max(a.cfg.MinRegionSize, regionGrowthFactor*n)
	size = (size + alignment - 1) &^ (alignment - 1)
	if limit := a.cfg.Limits.MaxBufferSize; limit > 0 && size > limit {
		size = limit
	}
	if n > size {
		return nil, fmt.Errorf("%w: %d bytes of %v exceeds max buffer size %d",
			ErrOutOfSpace, n, kind, size)
	}

	label := fmt.Sprintf("%s-%s-%d", a.cfg.Label, kind, a.nextID)
	ar, err := a.arenas.CreateArena(arena.Descriptor{
		Label:    label,
		Capacity: size,
		Mode:     a.cfg.Mapping,
		Usage:    kind.BufferUsage(),
	})
	if err != nil {
		return nil, fmt.Errorf("ringalloc: create region %q: %w", label, err)
	}
	r, err := NewRegion(ar, kind, a.tracker)
	if err != nil {
		ar.Destroy()
		return nil, err
	}
	if a.cfg.LeakCheck {
		r.onLeak = panicOnLeak
	}
	a.nextID++
	a.regions = append(a.regions, r)

	Logger().Info("ringalloc: region created",
		"region", label,
		"kind", kind.String(),
		"capacity", r.capacity,
		"regions", len(a.regions))
	return r, nil
}

// AllocateWait is Allocate, but when the pool is full it polls for frame
// completion until space is reclaimed or ctx is done. It gives up with
// ErrOutOfSpace once nothing is in flight, since no completion can then
// free more space.
func (a *Allocator) AllocateWait(ctx context.Context, kind Kind, alignment, n uint64) (*Range, error) {
	var ticker *time.Ticker
	for {
		rng, err := a.Allocate(kind, alignment, n)
		if !errors.Is(err, ErrOutOfSpace) {
			return rng, err
		}
		if err := a.tracker.Poll(); err != nil {
			return nil, err
		}
		if a.tracker.InFlight() == 0 {
			// One last try: the poll may have reclaimed the final frame.
			return a.Allocate(kind, alignment, n)
		}
		if ticker == nil {
			ticker = time.NewTicker(allocWaitInterval)
			defer ticker.Stop()
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ringalloc: wait for %d bytes of %v: %w", n, kind, ctx.Err())
		case <-ticker.C:
		}
	}
}

// EndOfFrame closes the current frame: completed frames are reclaimed and
// a fence is submitted for the frame just recorded.
//
// It panics with fence.ErrSlotsExhausted if FramesInFlight frames are still
// outstanding on the GPU.
func (a *Allocator) EndOfFrame() error {
	if a.closed {
		return ErrAllocatorClosed
	}
	if live := a.liveRanges(); live > 0 {
		Logger().Warn("ringalloc: frame ended with live ranges",
			"frame", a.tracker.Frame(), "live", live)
	}
	return a.tracker.EndOfFrame()
}

// FrameCompleted reclaims every region's space produced for frame.
// It is called by the tracker; calling it directly is only useful when
// completion is tracked elsewhere.
func (a *Allocator) FrameCompleted(frame uint64) {
	for _, r := range a.regions {
		r.FrameCompleted(frame)
	}
}

// CurrentFrame returns the number of the frame being recorded.
func (a *Allocator) CurrentFrame() uint64 { return a.tracker.Frame() }

// WaitIdle blocks until every submitted frame has completed.
func (a *Allocator) WaitIdle(ctx context.Context) error {
	return a.tracker.WaitIdle(ctx)
}

// Regions returns the regions of the pool. The slice must not be modified.
func (a *Allocator) Regions() []*Region { return a.regions }

// Stats returns a snapshot of the pool.
func (a *Allocator) Stats() PoolStats {
	s := PoolStats{
		Frame:          a.tracker.Frame(),
		FramesInFlight: a.tracker.InFlight(),
		Regions:        len(a.regions),
	}
	for _, r := range a.regions {
		rs := r.Stats()
		s.CapacityBytes += rs.CapacityBytes
		s.InFlightBytes += rs.InFlightBytes
		s.PendingEntries += rs.PendingEntries
		s.LiveRanges += rs.LiveRanges
		s.Wraps += rs.WriteWrap
	}
	return s
}

// Close destroys every region. Outstanding fences are dropped without
// waiting; call WaitIdle first if the GPU may still read the regions.
//
// Close panics with a *UsageError if any range is still live.
func (a *Allocator) Close() {
	if a.closed {
		return
	}
	if live := a.liveRanges(); live > 0 {
		usagePanic("close allocator", StateOpen, "%d ranges were never released or cancelled", live)
	}
	a.closed = true
	a.tracker.Close()
	for _, r := range a.regions {
		r.Destroy()
	}
	Logger().Info("ringalloc: allocator closed", "regions", len(a.regions))
	a.regions = nil
}

func (a *Allocator) liveRanges() int {
	n := 0
	for _, r := range a.regions {
		n += r.live
	}
	return n
}
