// File: core/concurrency/slots.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SlotAllocator hands out indexed, versioned storage cells. Writers claim a
// slot and write through it; readers holding several candidate indices for
// the same logical value pick the slot with the newest version.

package concurrency

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/momentics/hioload-sync/api"
)

// slotState is an immutable snapshot; every transition swaps the pointer so
// readers always see a version together with the value written under it.
type slotState[T any] struct {
	version VersionToken
	value   T
	live    bool
}

// Slot is one versioned cell owned by a SlotAllocator.
type Slot[T any] struct {
	owner *SlotAllocator[T]
	index int
	state atomic.Pointer[slotState[T]]
}

// Index returns the slot position inside its allocator.
func (s *Slot[T]) Index() int { return s.index }

// Version returns the token stamped on the current claim.
func (s *Slot[T]) Version() VersionToken { return s.state.Load().version }

// Live reports whether the slot is claimed and not freed.
func (s *Slot[T]) Live() bool { return s.state.Load().live }

// Value returns the stored value and whether the slot is still live.
func (s *Slot[T]) Value() (T, bool) {
	st := s.state.Load()
	return st.value, st.live
}

// Set replaces the stored value. Fails with api.ErrSlotFreed once freed.
func (s *Slot[T]) Set(value T) error {
	for {
		old := s.state.Load()
		if !old.live {
			return api.ErrSlotFreed
		}
		if s.state.CompareAndSwap(old, &slotState[T]{version: old.version, value: value, live: true}) {
			return nil
		}
	}
}

// Free returns the slot to its allocator.
func (s *Slot[T]) Free() error {
	return s.owner.Free(s)
}

// CompareTo orders slots by version token.
func (s *Slot[T]) CompareTo(other *Slot[T]) int {
	if other == nil {
		return 1
	}
	return s.Version().Compare(other.Version())
}

// SlotAllocator manages up to Capacity lazily created slots.
type SlotAllocator[T any] struct {
	cursor   atomic.Uint64
	_        cpu.CacheLinePad
	created  atomic.Int64
	live     atomic.Int64
	_        cpu.CacheLinePad
	mask     uint64
	slots    []atomic.Pointer[Slot[T]]
	free     *BoundedQueue[*Slot[T]]
	versions VersionProvider
}

// NewSlotAllocator creates an allocator; capacity is rounded up to a power
// of two.
func NewSlotAllocator[T any](capacity int) (*SlotAllocator[T], error) {
	free, err := NewBoundedQueue[*Slot[T]](capacity)
	if err != nil {
		return nil, fmt.Errorf("slot allocator: %w", err)
	}
	size := free.Cap()
	return &SlotAllocator[T]{
		mask:  uint64(size - 1),
		slots: make([]atomic.Pointer[Slot[T]], size),
		free:  free,
	}, nil
}

// Capacity returns the maximum number of slots.
func (a *SlotAllocator[T]) Capacity() int { return len(a.slots) }

// Live returns the number of claimed, not freed slots.
func (a *SlotAllocator[T]) Live() int { return int(a.live.Load()) }

// ClaimSlot reuses a freed slot or creates the next unclaimed index.
// Returns false when every slot is live.
func (a *SlotAllocator[T]) ClaimSlot() (*Slot[T], bool) {
	if s, ok := a.claimFree(); ok {
		return s, true
	}
	capacity := int64(len(a.slots))
	for i := int64(0); i < capacity && a.created.Load() < capacity; i++ {
		idx := (a.cursor.Add(1) - 1) & a.mask
		if a.slots[idx].Load() != nil {
			continue
		}
		s := &Slot[T]{owner: a, index: int(idx)}
		s.state.Store(&slotState[T]{version: a.versions.AdvanceNewToken(), live: true})
		if a.slots[idx].CompareAndSwap(nil, s) {
			a.created.Add(1)
			a.live.Add(1)
			return s, true
		}
	}
	// A slot may have been freed while the indices were scanned.
	if s, ok := a.claimFree(); ok {
		return s, true
	}
	return a.claimScan()
}

func (a *SlotAllocator[T]) claimFree() (*Slot[T], bool) {
	for {
		s, ok := a.free.TryTake()
		if !ok {
			return nil, false
		}
		// Entries already reclaimed by claimScan are dropped.
		if a.reclaim(s) {
			return s, true
		}
	}
}

// claimScan picks up freed slots the free-list missed.
func (a *SlotAllocator[T]) claimScan() (*Slot[T], bool) {
	start := a.cursor.Load()
	for i := uint64(0); i < uint64(len(a.slots)); i++ {
		s := a.slots[(start+i)&a.mask].Load()
		if s != nil && a.reclaim(s) {
			return s, true
		}
	}
	return nil, false
}

// reclaim turns a freed slot live again. Re-stamping drops the previous
// value so it can never be read again.
func (a *SlotAllocator[T]) reclaim(s *Slot[T]) bool {
	old := s.state.Load()
	if old.live {
		return false
	}
	if !s.state.CompareAndSwap(old, &slotState[T]{version: a.versions.AdvanceNewToken(), live: true}) {
		return false
	}
	a.live.Add(1)
	return true
}

// Free marks slot stale and queues it for reuse. Readers keep seeing the
// last value until the slot is claimed again.
func (a *SlotAllocator[T]) Free(slot *Slot[T]) error {
	if slot == nil || slot.owner != a {
		return fmt.Errorf("%w: slot does not belong to this allocator", api.ErrInvalidArgument)
	}
	for {
		old := slot.state.Load()
		if !old.live {
			return api.ErrSlotFreed
		}
		if slot.state.CompareAndSwap(old, &slotState[T]{version: old.version, value: old.value}) {
			break
		}
	}
	a.live.Add(-1)
	// A false here means a claimer is still emptying the next free-list
	// entry; claimScan finds the slot anyway.
	a.free.TryAdd(slot)
	return nil
}

// lookup resolves index to its slot, nil if never claimed or out of range.
func (a *SlotAllocator[T]) lookup(index int) *Slot[T] {
	if index < 0 || index >= len(a.slots) {
		return nil
	}
	return a.slots[index].Load()
}

// ReadByIndex returns the latest value written to the slot at index. Freed
// slots stay readable until reclaimed.
func (a *SlotAllocator[T]) ReadByIndex(index int) (value T, ok bool) {
	s := a.lookup(index)
	if s == nil {
		return value, false
	}
	return s.state.Load().value, true
}

// ReadBest returns the value and index of the slot with the newest version
// among indices. Unknown indices are skipped.
func (a *SlotAllocator[T]) ReadBest(indices ...int) (value T, index int, ok bool) {
	var (
		best     *slotState[T]
		bestSlot *Slot[T]
	)
	index = -1
	for _, candidate := range indices {
		s := a.lookup(candidate)
		if s == nil || s == bestSlot {
			continue
		}
		st := s.state.Load()
		if best != nil {
			switch st.version.Compare(best.version) {
			case -1:
				continue
			case 0:
				panic(fmt.Sprintf("concurrency: slots %d and %d share version %d", bestSlot.index, s.index, st.version))
			}
		}
		best, bestSlot, index = st, s, candidate
	}
	if best == nil {
		return value, -1, false
	}
	return best.value, index, true
}
