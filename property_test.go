// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ringalloc

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/gogpu/ringalloc/arena"
)

// inFlightSpan is a released span the simulated GPU reads until its frame
// completes.
type inFlightSpan struct {
	frame      uint64
	start, end uint64
	data       []byte // nil for GPU-only ranges
}

func overlaps(aStart, aEnd, bStart, bEnd uint64) bool {
	return aStart < bEnd && bStart < aEnd
}

// TestRegion_Randomized drives a region with random acquire, release,
// cancel and frame-completion sequences. After every step the cursor
// invariant must hold, no open range may overlap another open range or a
// span still in flight, and a completing frame must find its bytes intact
// on the device.
func TestRegion_Randomized(t *testing.T) {
	for _, mode := range []arena.MappingMode{arena.Persistent, arena.Transient} {
		for seed := uint64(1); seed <= 16; seed++ {
			t.Run(fmt.Sprintf("%v/seed=%d", mode, seed), func(t *testing.T) {
				runRandomized(t, mode, seed)
			})
		}
	}
}

func runRandomized(t *testing.T, mode arena.MappingMode, seed uint64) {
	rnd := rand.New(rand.NewPCG(seed, 0x5eed))
	r, frames := newTestRegionMode(t, 512, mode)
	h := hostArena(t, r)

	type openRange struct {
		rng  *Range
		data []byte
	}
	var (
		open      []openRange
		inFlight  []inFlightSpan
		completed uint64
	)

	release := func(o openRange) {
		if err := o.rng.Close(); err != nil {
			t.Fatalf("Close() = %v", err)
		}
		o.rng.Release()
		inFlight = append(inFlight, inFlightSpan{
			frame: frames.frame,
			start: o.rng.Offset(),
			end:   o.rng.Offset() + o.rng.Len(),
			data:  o.data,
		})
	}

	for step := range 600 {
		switch op := rnd.IntN(10); {
		case op < 5:
			if len(open) >= 4 {
				continue
			}
			alignment := uint64(1) << rnd.IntN(7)
			n := uint64(rnd.IntN(160)) + 1
			usage := CPUWrite
			if rnd.IntN(4) == 0 {
				usage = GPUOnly
			}

			g, err := r.Acquire(alignment, usage, n)
			if errors.Is(err, ErrOutOfSpace) {
				continue
			}
			if err != nil {
				t.Fatalf("step %d: Acquire() = %v", step, err)
			}
			start, end := g.Offset(), g.Offset()+g.Len()
			if start%alignment != 0 {
				t.Fatalf("step %d: offset %d not aligned to %d", step, start, alignment)
			}
			for _, s := range inFlight {
				if overlaps(start, end, s.start, s.end) {
					t.Fatalf("step %d: [%d, %d) overlaps in-flight [%d, %d) of frame %d",
						step, start, end, s.start, s.end, s.frame)
				}
			}
			for _, o := range open {
				if overlaps(start, end, o.rng.Offset(), o.rng.Offset()+o.rng.Len()) {
					t.Fatalf("step %d: [%d, %d) overlaps open [%d, %d)",
						step, start, end, o.rng.Offset(), o.rng.Offset()+o.rng.Len())
				}
			}

			var data []byte
			if usage == CPUWrite {
				data = make([]byte, n)
				for i := range data {
					data[i] = byte(rnd.Uint32())
				}
				if _, err := g.Write(data); err != nil {
					t.Fatalf("step %d: Write() = %v", step, err)
				}
			}
			open = append(open, openRange{rng: g, data: data})

		case op < 7:
			if len(open) == 0 {
				continue
			}
			i := rnd.IntN(len(open))
			o := open[i]
			open = slices.Delete(open, i, i+1)
			if rnd.IntN(5) == 0 {
				o.rng.Cancel()
			} else {
				release(o)
			}

		case op < 9:
			// End of frame: every range is released within its frame.
			for _, o := range open {
				release(o)
			}
			open = open[:0]
			frames.frame++

		default:
			if completed+1 >= frames.frame {
				continue
			}
			completed++
			for _, s := range inFlight {
				if s.frame == completed && s.data != nil && !bytes.Equal(h.DeviceView()[s.start:s.end], s.data) {
					t.Fatalf("step %d: frame %d bytes [%d, %d) changed while in flight",
						step, completed, s.start, s.end)
				}
			}
			r.FrameCompleted(completed)
			inFlight = slices.DeleteFunc(inFlight, func(s inFlightSpan) bool { return s.frame == completed })

			wp, ww := r.WriteCursor()
			rp, rw := r.ReadCursor()
			r.FrameCompleted(completed)
			if p, w := r.ReadCursor(); p != rp || w != rw {
				t.Fatalf("step %d: repeated FrameCompleted(%d) moved reader", step, completed)
			}
			if p, w := r.WriteCursor(); p != wp || w != ww {
				t.Fatalf("step %d: FrameCompleted moved writer", step)
			}
		}
		r.checkInvariant("randomized step")
	}

	for _, o := range open {
		o.rng.Cancel()
	}
}
