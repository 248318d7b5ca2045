// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// FirstFrame is the number of the first frame a Tracker submits.
const FirstFrame uint64 = 1

// waitPollInterval is how often WaitIdle re-polls outstanding fences.
const waitPollInterval = 500 * time.Microsecond

// frameSync is one in-flight frame slot.
type frameSync struct {
	frame uint64
	fence Fence
	used  bool
}

// Tracker maps submitted frames to fences and reports their completion.
//
// Tracker is not safe for concurrent use. It is driven once per frame by the
// thread that submits GPU work.
type Tracker struct {
	provider   Provider
	slots      []frameSync
	frame      uint64
	completers []Completer

	// completed is scratch space reused across polls.
	completed []uint64
}

// NewTracker creates a tracker with the given number of in-flight slots.
func NewTracker(provider Provider, slots int) (*Tracker, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	if slots < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSlots, slots)
	}
	return &Tracker{
		provider: provider,
		slots:    make([]frameSync, slots),
		frame:    FirstFrame,
	}, nil
}

// AddCompleter registers c to receive completed frame numbers.
func (t *Tracker) AddCompleter(c Completer) {
	t.completers = append(t.completers, c)
}

// Frame returns the number of the frame currently being recorded.
// Work recorded now completes when this frame's fence signals.
func (t *Tracker) Frame() uint64 { return t.frame }

// Slots returns the configured number of in-flight slots.
func (t *Tracker) Slots() int { return len(t.slots) }

// InFlight returns the number of submitted frames not yet known complete.
func (t *Tracker) InFlight() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].used {
			n++
		}
	}
	return n
}

// EndOfFrame polls outstanding fences, delivers completed frames, then
// submits a fence for the current frame and advances the frame counter.
//
// EndOfFrame panics with ErrSlotsExhausted if every slot is still in flight
// after polling. Poll and submit failures are returned as errors; on a
// submit failure the frame counter does not advance.
func (t *Tracker) EndOfFrame() error {
	pollErr := t.Poll()

	idx := t.freeSlot()
	if idx < 0 {
		panic(fmt.Errorf("%w: %d frames in flight, oldest frame %d",
			ErrSlotsExhausted, len(t.slots), t.oldestInFlight()))
	}

	f, err := t.provider.Submit()
	if err != nil {
		return errors.Join(pollErr, fmt.Errorf("fence: submit frame %d: %w", t.frame, err))
	}
	t.slots[idx] = frameSync{frame: t.frame, fence: f, used: true}

	slogger().Debug("fence: frame submitted", "frame", t.frame, "slot", idx)
	t.frame++
	return pollErr
}

// Poll checks every in-flight fence without blocking and delivers newly
// completed frames in ascending order. It does not submit anything.
func (t *Tracker) Poll() error {
	t.completed = t.completed[:0]

	var errs []error
	for i := range t.slots {
		s := &t.slots[i]
		if !s.used {
			continue
		}
		status, err := t.provider.Poll(s.fence)
		if err != nil {
			errs = append(errs, fmt.Errorf("fence: poll frame %d: %w", s.frame, err))
			continue
		}
		if status != Signaled {
			continue
		}
		t.completed = append(t.completed, s.frame)
		t.provider.Destroy(s.fence)
		*s = frameSync{}
	}

	slices.Sort(t.completed)
	for _, frame := range t.completed {
		slogger().Debug("fence: frame completed", "frame", frame)
		for _, c := range t.completers {
			c.FrameCompleted(frame)
		}
	}
	return errors.Join(errs...)
}

// WaitIdle polls until every submitted frame has completed or ctx is done.
func (t *Tracker) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		if err := t.Poll(); err != nil {
			return err
		}
		if t.InFlight() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("fence: wait idle with %d frames in flight: %w", t.InFlight(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close destroys every outstanding fence without delivering completions.
func (t *Tracker) Close() {
	for i := range t.slots {
		if t.slots[i].used {
			t.provider.Destroy(t.slots[i].fence)
			t.slots[i] = frameSync{}
		}
	}
}

func (t *Tracker) freeSlot() int {
	for i := range t.slots {
		if !t.slots[i].used {
			return i
		}
	}
	return -1
}

func (t *Tracker) oldestInFlight() uint64 {
	var oldest uint64
	for i := range t.slots {
		if t.slots[i].used && (oldest == 0 || t.slots[i].frame < oldest) {
			oldest = t.slots[i].frame
		}
	}
	return oldest
}
