// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package notify

import (
	"context"
	"sync/atomic"

	"github.com/loheagn/folonet/internal/endpoint"
)

// Ring is a bounded MPSC channel: many producers publish without blocking
// (dropping the record if the ring is full, per spec.md §4.4's "datapath
// is a non-blocking producer that may drop on full rings"), one consumer
// drains it, blocking until a record arrives or its context is canceled.
type Ring[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// NewRing creates a ring of the given capacity. spec.md §4.4 suggests
// sizing generously (256 KiB x 10); callers translate that into a record
// count for the record type in question.
func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{ch: make(chan T, capacity)}
}

// Publish attempts to enqueue v without blocking. It reports whether the
// record was accepted; on a full ring it increments Dropped and returns
// false instead of blocking the datapath's fast path.
func (r *Ring[T]) Publish(v T) bool {
	select {
	case r.ch <- v:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Drain blocks until a record is available or ctx is canceled.
func (r *Ring[T]) Drain(ctx context.Context) (T, bool) {
	select {
	case v := <-r.ch:
		return v, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// Dropped returns the number of records lost to a full ring since
// creation, surfaced as a metric by internal/metrics.
func (r *Ring[T]) Dropped() uint64 {
	return r.dropped.Load()
}

// Len reports the number of records currently buffered.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// PacketEventRing carries Notification records from internal/datapath to
// internal/flowstate.
type PacketEventRing = Ring[Notification]

// NewPacketEventRing creates a Packet-Event Ring of the given capacity.
func NewPacketEventRing(capacity int) *PacketEventRing {
	return NewRing[Notification](capacity)
}

// ColdStartRing carries a single unrecognized virtual-service Endpoint per
// record, from internal/datapath to internal/coldstart.
type ColdStartRing = Ring[endpoint.Endpoint]

// NewColdStartRing creates a Cold-Start Ring of the given capacity.
func NewColdStartRing(capacity int) *ColdStartRing {
	return NewRing[endpoint.Endpoint](capacity)
}
