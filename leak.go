// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ringalloc

import (
	"runtime"
	"sync/atomic"
)

// rangeLeak describes a Range for the leak check. It is kept apart from the
// Range so that the runtime cleanup does not keep the Range reachable.
type rangeLeak struct {
	region string
	offset uint64
	length uint64
	wrap   uint64
	report func(*rangeLeak)

	// settled is set once the range is released or cancelled.
	settled atomic.Bool
}

// panicOnLeak is the default leak report. It runs on the runtime's cleanup
// goroutine, so the panic terminates the program.
func panicOnLeak(l *rangeLeak) {
	Logger().Error("ringalloc: range dropped without release or cancel",
		"region", l.region, "offset", l.offset, "len", l.length, "wrap", l.wrap)
	usagePanic("leak check", StateOpen,
		"range [%d, %d) of region %q at wrap %d was garbage collected while live",
		l.offset, l.offset+l.length, l.region, l.wrap)
}

// watchLeak registers rng with the leak check when report is set.
func watchLeak(rng *Range, report func(*rangeLeak)) {
	if report == nil {
		return
	}
	l := &rangeLeak{
		region: rng.region.label,
		offset: rng.start,
		length: rng.length,
		wrap:   rng.wrap,
		report: report,
	}
	rng.leak = l
	runtime.AddCleanup(rng, func(l *rangeLeak) {
		if !l.settled.Load() {
			l.report(l)
		}
	}, l)
}

// settle marks the range as properly finished for the leak check.
func (r *Range) settle() {
	if r.leak != nil {
		r.leak.settled.Store(true)
	}
}
