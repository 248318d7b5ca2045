// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fence

import "fmt"

// Manual is a Provider whose fences signal only when told to.
//
// It models a GPU that completes work exactly when the caller decides,
// which makes frame reclamation deterministic in tests and headless runs.
// Fences are numbered from 1 in submission order.
type Manual struct {
	next     uint64
	signaled map[uint64]bool
	live     map[uint64]bool

	// Err, when set, is returned by Submit and Poll.
	Err error
}

// manualFence is the fence type issued by Manual.
type manualFence uint64

// NewManual creates a Manual provider.
func NewManual() *Manual {
	return &Manual{
		signaled: make(map[uint64]bool),
		live:     make(map[uint64]bool),
	}
}

// Submit implements Provider.
func (m *Manual) Submit() (Fence, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.next++
	m.live[m.next] = true
	return manualFence(m.next), nil
}

// Poll implements Provider.
func (m *Manual) Poll(f Fence) (Status, error) {
	if m.Err != nil {
		return Pending, m.Err
	}
	id, ok := f.(manualFence)
	if !ok || !m.live[uint64(id)] {
		return Pending, fmt.Errorf("%w: %v", ErrUnknownFence, f)
	}
	if m.signaled[uint64(id)] {
		return Signaled, nil
	}
	return Pending, nil
}

// Destroy implements Provider.
func (m *Manual) Destroy(f Fence) {
	if id, ok := f.(manualFence); ok {
		delete(m.live, uint64(id))
		delete(m.signaled, uint64(id))
	}
}

// Signal marks the n-th submitted fence as reached.
func (m *Manual) Signal(n uint64) {
	if m.live[n] {
		m.signaled[n] = true
	}
}

// SignalThrough marks every fence up to and including the n-th as reached.
func (m *Manual) SignalThrough(n uint64) {
	for id := range m.live {
		if id <= n {
			m.signaled[id] = true
		}
	}
}

// SignalAll marks every submitted fence as reached.
func (m *Manual) SignalAll() { m.SignalThrough(m.next) }

// Submitted returns how many fences have been submitted.
func (m *Manual) Submitted() uint64 { return m.next }

// Live returns how many fences have not been destroyed.
func (m *Manual) Live() int { return len(m.live) }
