// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ringalloc

import (
	"fmt"
	"math/bits"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/ringalloc/arena"
)

// Default pool limits.
const (
	// DefaultMinRegionSize is the smallest ring region the pool creates (1 MiB).
	DefaultMinRegionSize uint64 = 1 << 20

	// DefaultMaxRegions caps how many ring regions the pool may own.
	DefaultMaxRegions = 64

	// DefaultFramesInFlight is the default number of frames the GPU may lag
	// behind the CPU.
	DefaultFramesInFlight = 3

	// regionGrowthFactor sizes a new region relative to the request that
	// triggered it.
	regionGrowthFactor = 4
)

// Config holds allocator configuration.
type Config struct {
	// MinRegionSize is the minimum capacity of a newly created region.
	// Defaults to DefaultMinRegionSize if 0.
	MinRegionSize uint64

	// MaxRegions caps the pool size. Past it, Allocate returns ErrOutOfSpace.
	// Defaults to DefaultMaxRegions if <= 0.
	MaxRegions int

	// FramesInFlight is the number of completion tracker slots.
	// Defaults to DefaultFramesInFlight if <= 0.
	FramesInFlight int

	// Mapping selects how region arenas are mapped. Defaults to arena.Persistent.
	Mapping arena.MappingMode

	// ExpectedFrameBytes is an optional estimate of bytes allocated per kind
	// per frame. When set, MinRegionSize must hold FramesInFlight+1 frames of
	// it, otherwise a wrap could be requested while the reader still lags a
	// full lap behind and allocations would starve.
	ExpectedFrameBytes uint64

	// Limits supplies the per-kind offset alignments (uniform and storage).
	// Defaults to gputypes.DefaultLimits() if zero.
	Limits gputypes.Limits

	// Label prefixes region debug labels. Defaults to "ring".
	Label string

	// LeakCheck panics when a Range is garbage collected while still Open
	// or Closed. It costs one cleanup registration per range; enable it in
	// debug builds and tests.
	LeakCheck bool
}

// Option configures an Allocator during creation.
//
// Example:
//
//	a, err := ringalloc.New(arenas, fences,
//	    ringalloc.WithMinRegionSize(4<<20),
//	    ringalloc.WithFramesInFlight(2),
//	)
type Option func(*Config)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}

// WithMinRegionSize sets the minimum capacity of new regions.
func WithMinRegionSize(size uint64) Option {
	return func(c *Config) { c.MinRegionSize = size }
}

// WithMaxRegions caps the number of regions in the pool.
func WithMaxRegions(n int) Option {
	return func(c *Config) { c.MaxRegions = n }
}

// WithFramesInFlight sets the number of completion tracker slots.
func WithFramesInFlight(n int) Option {
	return func(c *Config) { c.FramesInFlight = n }
}

// WithMapping selects persistent or transient arena mapping.
func WithMapping(mode arena.MappingMode) Option {
	return func(c *Config) { c.Mapping = mode }
}

// WithExpectedFrameBytes enables the startup capacity check.
func WithExpectedFrameBytes(n uint64) Option {
	return func(c *Config) { c.ExpectedFrameBytes = n }
}

// WithLimits sets the device limits used for default alignments.
func WithLimits(limits gputypes.Limits) Option {
	return func(c *Config) { c.Limits = limits }
}

// WithLabel sets the region label prefix.
func WithLabel(label string) Option {
	return func(c *Config) { c.Label = label }
}

// WithLeakCheck reports ranges that are dropped without Release or Cancel.
func WithLeakCheck(enabled bool) Option {
	return func(c *Config) { c.LeakCheck = enabled }
}

// withDefaults fills zero fields with defaults.
func (c Config) withDefaults() Config {
	if c.MinRegionSize == 0 {
		c.MinRegionSize = DefaultMinRegionSize
	}
	if c.MaxRegions <= 0 {
		c.MaxRegions = DefaultMaxRegions
	}
	if c.FramesInFlight <= 0 {
		c.FramesInFlight = DefaultFramesInFlight
	}
	if c.Limits == (gputypes.Limits{}) {
		c.Limits = gputypes.DefaultLimits()
	}
	if c.Label == "" {
		c.Label = "ring"
	}
	return c
}

// Validate checks a configuration after defaults have been applied.
func (c Config) Validate() error {
	c = c.withDefaults()

	if c.Mapping != arena.Persistent && c.Mapping != arena.Transient {
		return fmt.Errorf("%w: unknown mapping mode %v", ErrInvalidConfig, c.Mapping)
	}
	for k := Kind(0); k < kindCount; k++ {
		if a := k.defaultAlignment(c.Limits); !isPowerOfTwo(a) {
			return fmt.Errorf("%w: %v alignment %d is not a power of two", ErrInvalidConfig, k, a)
		}
	}
	if c.ExpectedFrameBytes > 0 {
		need := c.ExpectedFrameBytes * uint64(c.FramesInFlight+1) //nolint:gosec // G115: FramesInFlight > 0 after defaults
		if c.MinRegionSize < need {
			return fmt.Errorf("%w: min region size %d cannot hold %d frames in flight of %d bytes (need %d)",
				ErrInvalidConfig, c.MinRegionSize, c.FramesInFlight, c.ExpectedFrameBytes, need)
		}
	}
	return nil
}

func isPowerOfTwo(x uint64) bool {
	return x != 0 && bits.OnesCount64(x) == 1
}

// alignPad returns the padding that aligns pos up to alignment.
// alignment must be a power of two.
func alignPad(pos, alignment uint64) uint64 {
	return (alignment - pos&(alignment-1)) & (alignment - 1)
}
