// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package event turns asynchronous hardware signals into bits of a shared
// event mask and dispatches them to handlers from the supervisory goroutine.
package event

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// Mask has one bit per hardware signal source.
type Mask uint32

// Bit returns the mask with only bit n set.
func Bit(n uint) Mask {
	if n >= 32 {
		panic(fmt.Sprintf("invalid event bit: %d", n))
	}
	return Mask(1) << n
}

func (m Mask) String() string {
	return fmt.Sprintf("0x%08x", uint32(m))
}

// Source is the pending event mask shared between signal sources and the
// supervisory goroutine. Signal sources only ever Post; a single consumer
// calls Wait.
type Source struct {
	pending atomic.Uint32
	wake    chan struct{}
}

func NewSource() *Source {
	return &Source{wake: make(chan struct{}, 1)}
}

// Post atomically sets bits in the pending mask and wakes the waiter.
// It is safe to call from any goroutine and never blocks.
func (s *Source) Post(bits Mask) {
	for {
		old := s.pending.Load()
		if s.pending.CAS(old, old|uint32(bits)) {
			break
		}
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the bits posted but not yet taken by Wait.
func (s *Source) Pending() Mask {
	return Mask(s.pending.Load())
}

// take atomically removes and returns the pending bits within mask.
func (s *Source) take(mask Mask) Mask {
	for {
		old := s.pending.Load()
		got := old & uint32(mask)
		if got == 0 {
			return 0
		}
		if s.pending.CAS(old, old&^got) {
			return Mask(got)
		}
	}
}

// Wait blocks until any bit in mask is pending, timeout elapses or ctx is
// done, and hands the pending bits within mask over to the caller. A zero
// return means nothing happened within the timeout.
func (s *Source) Wait(ctx context.Context, mask Mask, timeout time.Duration) Mask {
	if got := s.take(mask); got != 0 {
		return got
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-s.wake:
			if got := s.take(mask); got != 0 {
				return got
			}
		case <-t.C:
			return s.take(mask)
		case <-ctx.Done():
			return s.take(mask)
		}
	}
}
