// File: core/concurrency/bounded_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Every slot carries a sequence number. An adder may claim position pos only
// while the slot at pos&mask reads seq == pos; a taker only while it reads
// seq == pos+1. The cursor is claimed by CAS after the sequence check, so a
// thread stalled between claim and publish only hides its own slot: others
// get a transient false instead of waiting for it.

package concurrency

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/momentics/hioload-sync/api"
)

// Ensure compile-time interface compliance.
var _ api.Queue[any] = (*BoundedQueue[any])(nil)

type queueSlot[T any] struct {
	seq   atomic.Uint64
	value atomic.Pointer[T]
}

// BoundedQueue is a fixed-capacity MPMC queue. Capacity is always a power
// of two.
type BoundedQueue[T any] struct {
	enqueue atomic.Uint64
	_       cpu.CacheLinePad
	dequeue atomic.Uint64
	_       cpu.CacheLinePad
	count   atomic.Int64 // published items not yet taken, may lag briefly
	_       cpu.CacheLinePad
	mask    uint64
	slots   []queueSlot[T]
}

// NewBoundedQueue creates a queue with capacity rounded up to a power of two.
func NewBoundedQueue[T any](capacity int) (*BoundedQueue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: queue capacity %d", api.ErrInvalidArgument, capacity)
	}
	size := nextPowerOfTwo(capacity)
	q := &BoundedQueue[T]{
		mask:  uint64(size - 1),
		slots: make([]queueSlot[T], size),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q, nil
}

// TryAdd stores item. It returns false when the queue is full or the next
// slot is still being emptied by a taker.
func (q *BoundedQueue[T]) TryAdd(item T) bool {
	pos := q.enqueue.Load()
	for {
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()
		switch dif := int64(seq - pos); {
		case dif == 0:
			if q.enqueue.CompareAndSwap(pos, pos+1) {
				v := item
				s.value.Store(&v)
				s.seq.Store(pos + 1)
				q.count.Add(1)
				return true
			}
			pos = q.enqueue.Load()
		case dif < 0:
			return false
		default:
			pos = q.enqueue.Load()
		}
	}
}

// TryTake removes the oldest item. It returns false when the queue is empty
// or the oldest item is not yet visible.
func (q *BoundedQueue[T]) TryTake() (item T, ok bool) {
	pos := q.dequeue.Load()
	for {
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()
		switch dif := int64(seq - (pos + 1)); {
		case dif == 0:
			if q.dequeue.CompareAndSwap(pos, pos+1) {
				p := s.value.Swap(nil)
				s.seq.Store(pos + q.mask + 1)
				q.count.Add(-1)
				return *p, true
			}
			pos = q.dequeue.Load()
		case dif < 0:
			return item, false
		default:
			pos = q.dequeue.Load()
		}
	}
}

// TryPeek reads the next item without removing it. Under contention it may
// report false even though items exist; callers retry.
func (q *BoundedQueue[T]) TryPeek() (item T, ok bool) {
	pos := q.dequeue.Load()
	s := &q.slots[pos&q.mask]
	if s.seq.Load() != pos+1 {
		return item, false
	}
	p := s.value.Load()
	if p == nil || q.dequeue.Load() != pos {
		return item, false
	}
	return *p, true
}

// Peek is TryPeek returning api.ErrEmpty instead of false.
func (q *BoundedQueue[T]) Peek() (T, error) {
	item, ok := q.TryPeek()
	if !ok {
		return item, api.ErrEmpty
	}
	return item, nil
}

// Drain takes every currently visible item.
func (q *BoundedQueue[T]) Drain() []T {
	var out []T
	for {
		item, ok := q.TryTake()
		if !ok {
			return out
		}
		out = append(out, item)
	}
}

// Len returns the number of published, untaken items.
func (q *BoundedQueue[T]) Len() int {
	n := q.count.Load()
	switch {
	case n < 0:
		// a taker finished before the adder counted its item
		return 0
	case n > int64(len(q.slots)):
		return len(q.slots)
	}
	return int(n)
}

// Cap returns fixed queue capacity.
func (q *BoundedQueue[T]) Cap() int {
	return len(q.slots)
}
