// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ringalloc

import "fmt"

// RegionStats is a snapshot of one region.
type RegionStats struct {
	Label          string
	Kind           Kind
	CapacityBytes  uint64
	WritePos       uint64
	WriteWrap      uint64
	ReadPos        uint64
	ReadWrap       uint64
	InFlightBytes  uint64 // bytes between reader and writer
	AcquiredBytes  uint64 // total bytes ever handed out
	PendingEntries int
	LiveRanges     int
}

// String returns a human-readable string of region stats.
func (s RegionStats) String() string {
	return fmt.Sprintf("Region[%s %v, %d/%d bytes in flight, write=%d@%d read=%d@%d, %d pending, %d live]",
		s.Label, s.Kind, s.InFlightBytes, s.CapacityBytes,
		s.WritePos, s.WriteWrap, s.ReadPos, s.ReadWrap,
		s.PendingEntries, s.LiveRanges)
}

// Stats returns a snapshot of the region.
func (r *Region) Stats() RegionStats {
	return RegionStats{
		Label:          r.label,
		Kind:           r.kind,
		CapacityBytes:  r.capacity,
		WritePos:       r.writePos,
		WriteWrap:      r.writeWrap,
		ReadPos:        r.readPos,
		ReadWrap:       r.readWrap,
		InFlightBytes:  r.inFlight(),
		AcquiredBytes:  r.acquired,
		PendingEntries: len(r.pending),
		LiveRanges:     r.live,
	}
}

// inFlight returns the bytes the reader has not yet passed. Bytes skipped by
// a wrap count as in flight until the reader wraps too.
func (r *Region) inFlight() uint64 {
	if r.writeWrap == r.readWrap {
		return r.writePos - r.readPos
	}
	return r.capacity - r.readPos + r.writePos
}

// PoolStats aggregates every region of an allocator.
type PoolStats struct {
	Frame          uint64
	FramesInFlight int
	Regions        int
	CapacityBytes  uint64
	InFlightBytes  uint64
	PendingEntries int
	LiveRanges     int
	Wraps          uint64
}

// String returns a human-readable string of pool stats.
func (s PoolStats) String() string {
	var utilization float64
	if s.CapacityBytes > 0 {
		utilization = float64(s.InFlightBytes) / float64(s.CapacityBytes)
	}
	return fmt.Sprintf("Pool[frame %d, %d in flight, %d regions, %.1f%% used, %d/%d KB, %d pending, %d live, %d wraps]",
		s.Frame, s.FramesInFlight, s.Regions, utilization*100,
		s.InFlightBytes/1024, s.CapacityBytes/1024,
		s.PendingEntries, s.LiveRanges, s.Wraps)
}
