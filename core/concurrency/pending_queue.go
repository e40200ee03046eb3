// File: core/concurrency/pending_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PendingQueue is the unbounded work backlog: a BoundedQueue ring on the hot
// path and an eapache/queue spill-over, touched only while the ring is full
// or the spill-over still holds items.

package concurrency

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sys/cpu"
)

// DefaultBacklogCapacity is the ring size used when none is configured.
const DefaultBacklogCapacity = 1024

// PendingQueue is an unbounded MPMC queue. Order is best-effort FIFO.
type PendingQueue[T any] struct {
	ring        *BoundedQueue[T]
	overflowLen atomic.Int64
	_           cpu.CacheLinePad
	mu          sync.Mutex
	overflow    *queue.Queue
}

// NewPendingQueue creates a backlog whose lock-free ring holds ringCapacity
// items (rounded up to a power of two).
func NewPendingQueue[T any](ringCapacity int) (*PendingQueue[T], error) {
	ring, err := NewBoundedQueue[T](ringCapacity)
	if err != nil {
		return nil, err
	}
	return &PendingQueue[T]{
		ring:     ring,
		overflow: queue.New(),
	}, nil
}

// Add enqueues item. It never fails.
func (p *PendingQueue[T]) Add(item T) {
	if p.overflowLen.Load() == 0 && p.ring.TryAdd(item) {
		return
	}
	p.mu.Lock()
	p.overflow.Add(item)
	p.overflowLen.Add(1)
	p.mu.Unlock()
}

// TryTake removes an item, ring first.
func (p *PendingQueue[T]) TryTake() (item T, ok bool) {
	if item, ok = p.ring.TryTake(); ok {
		return item, true
	}
	if p.overflowLen.Load() == 0 {
		return item, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.overflow.Length() == 0 {
		return item, false
	}
	item, _ = p.overflow.Remove().(T)
	p.overflowLen.Add(-1)
	return item, true
}

// Len returns the number of queued items.
func (p *PendingQueue[T]) Len() int {
	return p.ring.Len() + int(p.overflowLen.Load())
}

// Drain removes every queued item.
func (p *PendingQueue[T]) Drain() []T {
	out := p.ring.Drain()
	p.mu.Lock()
	for p.overflow.Length() > 0 {
		item, _ := p.overflow.Remove().(T)
		out = append(out, item)
		p.overflowLen.Add(-1)
	}
	p.mu.Unlock()
	return out
}
