// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fence

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"
)

// QueueProvider uses HAL queue submission indices as fences.
//
// Submit issues an empty submission, which the queue orders after all work
// submitted before it; the returned submission index is the fence. Poll
// compares it against Queue.PollCompleted.
type QueueProvider struct {
	queue hal.Queue
}

// submission is the fence type issued by QueueProvider.
type submission uint64

// NewQueueProvider creates a fence provider on queue.
func NewQueueProvider(queue hal.Queue) (*QueueProvider, error) {
	if queue == nil {
		return nil, fmt.Errorf("%w: hal queue is nil", ErrNilProvider)
	}
	return &QueueProvider{queue: queue}, nil
}

// Submit implements Provider.
func (p *QueueProvider) Submit() (Fence, error) {
	idx, err := p.queue.Submit(nil)
	if err != nil {
		return nil, err
	}
	return submission(idx), nil
}

// Poll implements Provider.
func (p *QueueProvider) Poll(f Fence) (Status, error) {
	idx, ok := f.(submission)
	if !ok {
		return Pending, fmt.Errorf("%w: %T", ErrUnknownFence, f)
	}
	if p.queue.PollCompleted() >= uint64(idx) {
		return Signaled, nil
	}
	return Pending, nil
}

// Destroy implements Provider. Submission indices hold no resources.
func (p *QueueProvider) Destroy(Fence) {}
