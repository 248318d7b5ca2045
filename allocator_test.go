// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ringalloc

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/ringalloc/arena"
	"github.com/gogpu/ringalloc/fence"
)

func newTestAllocator(t *testing.T, fences fence.Provider, opts ...Option) *Allocator {
	t.Helper()
	a, err := New(arena.NewHostProvider(), fences, opts...)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(func() {
		if a.liveRanges() == 0 {
			a.Close()
		}
	})
	return a
}

// put allocates n bytes, fills them and releases them into the current frame.
func put(t *testing.T, a *Allocator, kind Kind, n uint64) *Range {
	t.Helper()
	rng, err := a.Allocate(kind, 0, n)
	if err != nil {
		t.Fatalf("Allocate(%v, %d) = %v", kind, n, err)
	}
	if _, err := rng.Write(bytes.Repeat([]byte{byte(n)}, int(n))); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	if err := rng.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	rng.Release()
	return rng
}

// fillRegion fills a single MinRegionSize region of 1024 bytes with
// requests small enough not to grow it.
func fillRegion(t *testing.T, a *Allocator) {
	t.Helper()
	for range 4 {
		put(t, a, KindVertex, 256)
	}
	regions := a.Regions()
	if len(regions) != 1 || regions[0].Capacity() != 1024 {
		t.Fatalf("fillRegion: %d regions, want one of 1024 bytes", len(regions))
	}
	if fs := regions[0].FreeSpace(4); fs.WithoutWrap != 0 || fs.WithWrap != 0 {
		t.Fatalf("fillRegion: region not full: %+v", fs)
	}
}

// delayedFences signals every fence once it has been polled after times.
type delayedFences struct {
	*fence.Manual
	polls, after int
}

func (d *delayedFences) Poll(f fence.Fence) (fence.Status, error) {
	d.polls++
	if d.polls >= d.after {
		d.SignalAll()
	}
	return d.Manual.Poll(f)
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(nil, fence.NewManual()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New(nil arenas) = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(arena.NewHostProvider(), nil); !errors.Is(err, fence.ErrNilProvider) {
		t.Errorf("New(nil fences) = %v, want fence.ErrNilProvider", err)
	}
	_, err := New(arena.NewHostProvider(), fence.NewManual(),
		WithMinRegionSize(1024), WithFramesInFlight(3), WithExpectedFrameBytes(512))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New(undersized regions) = %v, want ErrInvalidConfig", err)
	}
}

func TestAllocator_RegionPerKind(t *testing.T) {
	a := newTestAllocator(t, fence.NewManual(), WithMinRegionSize(4096))

	put(t, a, KindVertex, 100)
	u1 := put(t, a, KindUniform, 100)
	u2 := put(t, a, KindUniform, 100)

	if got := len(a.Regions()); got != 2 {
		t.Fatalf("len(Regions()) = %d, want 2", got)
	}
	if u1.Region() == u2.Region() && u2.Offset() != 256 {
		t.Errorf("second uniform range at %d, want default alignment 256", u2.Offset())
	}
	if u1.Region().Kind() != KindUniform {
		t.Errorf("uniform range served by %v region", u1.Region().Kind())
	}
	for _, r := range a.Regions() {
		if !strings.HasPrefix(r.Label(), "ring-") {
			t.Errorf("region label %q lacks prefix", r.Label())
		}
	}
}

func TestAllocator_NewRegionSizing(t *testing.T) {
	a := newTestAllocator(t, fence.NewManual(), WithMinRegionSize(1024))

	put(t, a, KindVertex, 100)
	put(t, a, KindVertex, 2048)

	regions := a.Regions()
	if len(regions) != 2 {
		t.Fatalf("len(Regions()) = %d, want 2", len(regions))
	}
	if got := regions[0].Capacity(); got != 1024 {
		t.Errorf("first region capacity = %d, want MinRegionSize 1024", got)
	}
	if got := regions[1].Capacity(); got != 4*2048 {
		t.Errorf("grown region capacity = %d, want %d", got, 4*2048)
	}
}

func TestAllocator_MaxRegions(t *testing.T) {
	a := newTestAllocator(t, fence.NewManual(), WithMinRegionSize(1024), WithMaxRegions(1))

	fillRegion(t, a)
	_, err := a.Allocate(KindVertex, 0, 256)
	if !errors.Is(err, ErrOutOfSpace) {
		t.Fatalf("Allocate() past MaxRegions = %v, want ErrOutOfSpace", err)
	}
	if len(a.Regions()) != 1 {
		t.Errorf("len(Regions()) = %d, want 1", len(a.Regions()))
	}
}

func TestAllocator_MaxBufferSize(t *testing.T) {
	limits := gputypes.DefaultLimits()
	limits.MaxBufferSize = 4096
	a := newTestAllocator(t, fence.NewManual(), WithMinRegionSize(1024), WithLimits(limits))

	if _, err := a.Allocate(KindVertex, 0, 5000); !errors.Is(err, ErrOutOfSpace) {
		t.Fatalf("Allocate() over MaxBufferSize = %v, want ErrOutOfSpace", err)
	}
	put(t, a, KindVertex, 2048)
	if got := a.Regions()[0].Capacity(); got != 4096 {
		t.Errorf("region capacity = %d, want clamp to 4096", got)
	}
}

func TestAllocator_PassOrder(t *testing.T) {
	m := fence.NewManual()
	a := newTestAllocator(t, m, WithMinRegionSize(1024))

	// Frame 1 fills the first region and starts a second one.
	for range 4 {
		put(t, a, KindVertex, 256)
	}
	spill := put(t, a, KindVertex, 256)
	if len(a.Regions()) != 2 {
		t.Fatalf("len(Regions()) = %d, want 2", len(a.Regions()))
	}
	r0, r1 := a.Regions()[0], a.Regions()[1]
	if spill.Region() != r1 {
		t.Fatal("range past a full region should land in the new region")
	}

	// Reclaim frame 1 in both regions.
	if err := a.EndOfFrame(); err != nil {
		t.Fatalf("EndOfFrame() = %v", err)
	}
	m.SignalAll()
	if err := a.EndOfFrame(); err != nil {
		t.Fatalf("EndOfFrame() = %v", err)
	}

	// r0 could only serve this by wrapping; r1 has room without one.
	if got := put(t, a, KindVertex, 256); got.Region() != r1 || got.Offset() != 256 || got.Wrap() != 0 {
		t.Errorf("range at %q+%d wrap %d, want %q+256 wrap 0",
			got.Region().Label(), got.Offset(), got.Wrap(), r1.Label())
	}
	// Nothing fits without a wrap, so the first region that can wrap serves it.
	got := put(t, a, KindVertex, 768)
	if got.Region() != r0 || got.Wrap() != 1 || got.Offset() != 0 {
		t.Errorf("range at %q+%d wrap %d, want %q+0 wrap 1",
			got.Region().Label(), got.Offset(), got.Wrap(), r0.Label())
	}
	if len(a.Regions()) != 2 {
		t.Errorf("len(Regions()) = %d, want 2", len(a.Regions()))
	}
}

func TestAllocator_SteadyStateReusesOneRegion(t *testing.T) {
	m := fence.NewManual()
	a := newTestAllocator(t, m, WithMinRegionSize(1024), WithFramesInFlight(2))

	for frame := uint64(1); frame <= 20; frame++ {
		if a.CurrentFrame() != frame {
			t.Fatalf("CurrentFrame() = %d, want %d", a.CurrentFrame(), frame)
		}
		put(t, a, KindVertex, 400)
		// The GPU finishes everything submitted so far while this frame records.
		m.SignalAll()
		if err := a.EndOfFrame(); err != nil {
			t.Fatalf("frame %d: EndOfFrame() = %v", frame, err)
		}
	}

	s := a.Stats()
	if s.Regions != 1 {
		t.Errorf("Stats().Regions = %d, want 1", s.Regions)
	}
	if s.Wraps == 0 {
		t.Error("region never wrapped")
	}
	if s.FramesInFlight != 1 {
		t.Errorf("Stats().FramesInFlight = %d, want 1", s.FramesInFlight)
	}
	if m.Live() != 1 {
		t.Errorf("%d fences alive, want 1", m.Live())
	}
}

func TestAllocator_SlotsExhausted(t *testing.T) {
	a := newTestAllocator(t, fence.NewManual(), WithFramesInFlight(2))

	for range 2 {
		if err := a.EndOfFrame(); err != nil {
			t.Fatalf("EndOfFrame() = %v", err)
		}
	}
	mustPanic(t, fence.ErrSlotsExhausted, func() { _ = a.EndOfFrame() })
}

func TestAllocator_SubmitErrorKeepsFrame(t *testing.T) {
	m := fence.NewManual()
	a := newTestAllocator(t, m)

	m.Err = errors.New("device lost")
	if err := a.EndOfFrame(); err == nil {
		t.Fatal("EndOfFrame() = nil, want submit error")
	}
	if a.CurrentFrame() != fence.FirstFrame {
		t.Errorf("CurrentFrame() = %d after failed submit, want %d", a.CurrentFrame(), fence.FirstFrame)
	}
	m.Err = nil
}

func TestAllocator_AllocateWait(t *testing.T) {
	d := &delayedFences{Manual: fence.NewManual(), after: 3}
	a := newTestAllocator(t, d, WithMinRegionSize(1024), WithMaxRegions(1))

	fillRegion(t, a)
	if err := a.EndOfFrame(); err != nil {
		t.Fatalf("EndOfFrame() = %v", err)
	}
	if _, err := a.Allocate(KindVertex, 0, 256); !errors.Is(err, ErrOutOfSpace) {
		t.Fatalf("Allocate() = %v, want ErrOutOfSpace while frame 1 is in flight", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rng, err := a.AllocateWait(ctx, KindVertex, 0, 256)
	if err != nil {
		t.Fatalf("AllocateWait() = %v", err)
	}
	if rng.Wrap() != 1 || rng.Offset() != 0 {
		t.Errorf("range at %d wrap %d, want 0 wrap 1", rng.Offset(), rng.Wrap())
	}
	rng.Cancel()
}

func TestAllocator_AllocateWaitNothingInFlight(t *testing.T) {
	a := newTestAllocator(t, fence.NewManual(), WithMinRegionSize(1024), WithMaxRegions(1))
	fillRegion(t, a)

	_, err := a.AllocateWait(context.Background(), KindVertex, 0, 256)
	if !errors.Is(err, ErrOutOfSpace) {
		t.Fatalf("AllocateWait() = %v, want ErrOutOfSpace", err)
	}
}

func TestAllocator_AllocateWaitDeadline(t *testing.T) {
	a := newTestAllocator(t, fence.NewManual(), WithMinRegionSize(1024), WithMaxRegions(1))
	fillRegion(t, a)
	if err := a.EndOfFrame(); err != nil {
		t.Fatalf("EndOfFrame() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := a.AllocateWait(ctx, KindVertex, 0, 256)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("AllocateWait() = %v, want context.DeadlineExceeded", err)
	}
}

func TestAllocator_WaitIdle(t *testing.T) {
	m := fence.NewManual()
	a := newTestAllocator(t, m)

	put(t, a, KindIndex, 64)
	if err := a.EndOfFrame(); err != nil {
		t.Fatalf("EndOfFrame() = %v", err)
	}
	m.SignalAll()
	if err := a.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle() = %v", err)
	}
	if s := a.Stats(); s.PendingEntries != 0 || s.InFlightBytes != 0 {
		t.Errorf("after WaitIdle: %v", s)
	}
}

func TestAllocator_InvalidKind(t *testing.T) {
	a := newTestAllocator(t, fence.NewManual())
	if _, err := a.Allocate(kindCount, 0, 16); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("Allocate(kindCount) = %v, want ErrInvalidKind", err)
	}
	mustPanic(t, ErrUsage, func() { _, _ = a.Allocate(KindVertex, 12, 16) })
}

func TestAllocator_GPUOnly(t *testing.T) {
	a := newTestAllocator(t, fence.NewManual(), WithMinRegionSize(1024))

	rng, err := a.AllocateGPUOnly(KindStorage, 0, 300)
	if err != nil {
		t.Fatalf("AllocateGPUOnly() = %v", err)
	}
	if err := rng.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	rng.Release()
	if s := a.Stats(); s.PendingEntries != 1 || s.InFlightBytes != 300 {
		t.Errorf("Stats() = %v, want one 300-byte pending entry", s)
	}
}

func TestAllocator_TransientUpload(t *testing.T) {
	a := newTestAllocator(t, fence.NewManual(), WithMinRegionSize(1024), WithMapping(arena.Transient))

	rng := put(t, a, KindVertex, 64)
	h, ok := rng.Region().Arena().(*arena.HostArena)
	if !ok {
		t.Fatalf("arena is %T", rng.Region().Arena())
	}
	if !bytes.Equal(h.DeviceView()[:64], bytes.Repeat([]byte{64}, 64)) {
		t.Error("device view does not hold the released bytes")
	}
}

func TestAllocator_Close(t *testing.T) {
	a, err := New(arena.NewHostProvider(), fence.NewManual())
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	rng, err := a.Allocate(KindVertex, 0, 16)
	if err != nil {
		t.Fatalf("Allocate() = %v", err)
	}
	mustPanic(t, ErrUsage, a.Close)

	rng.Cancel()
	a.Close()
	a.Close() // idempotent

	if _, err := a.Allocate(KindVertex, 0, 16); !errors.Is(err, ErrAllocatorClosed) {
		t.Errorf("Allocate() after Close = %v, want ErrAllocatorClosed", err)
	}
	if err := a.EndOfFrame(); !errors.Is(err, ErrAllocatorClosed) {
		t.Errorf("EndOfFrame() after Close = %v, want ErrAllocatorClosed", err)
	}
}

func TestPoolStatsString(t *testing.T) {
	s := PoolStats{Frame: 7, Regions: 2, CapacityBytes: 2048, InFlightBytes: 1024}
	got := s.String()
	for _, want := range []string{"frame 7", "2 regions", "50.0% used"} {
		if !strings.Contains(got, want) {
			t.Errorf("String() = %q, missing %q", got, want)
		}
	}
	if got := (PoolStats{}).String(); !strings.Contains(got, "0.0% used") {
		t.Errorf("empty String() = %q", got)
	}
}
