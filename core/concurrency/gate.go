// File: core/concurrency/gate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// executionGate arbitrates ordinary against exclusive work. Ordinary work
// registers in executing and backs off while an exclusive request is raised;
// exclusive work raises the request and waits for quiescence.

package concurrency

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

type executionGate struct {
	waitRequest atomic.Bool
	_           cpu.CacheLinePad
	executing   atomic.Int64
	_           cpu.CacheLinePad
}

// enter admits one ordinary item, spinning while an exclusive one is pending.
func (g *executionGate) enter() {
	for {
		spinUntil(func() bool { return !g.waitRequest.Load() })
		g.executing.Add(1)
		// Re-check after publishing ourselves, an exclusive requester that
		// raised the flag meanwhile is waiting for this count to drop.
		if !g.waitRequest.Load() {
			return
		}
		g.executing.Add(-1)
	}
}

func (g *executionGate) exit() {
	g.executing.Add(-1)
}

// enterExclusive returns once the caller is the only executing item.
func (g *executionGate) enterExclusive() {
	spinUntil(func() bool { return g.waitRequest.CompareAndSwap(false, true) })
	g.executing.Add(1)
	spinUntil(func() bool { return g.executing.Load() == 1 })
}

func (g *executionGate) exitExclusive() {
	g.executing.Add(-1)
	g.waitRequest.Store(false)
}

// count returns the number of items currently admitted.
func (g *executionGate) count() int64 {
	return g.executing.Load()
}

// exclusivePending reports whether an exclusive item holds or awaits the gate.
func (g *executionGate) exclusivePending() bool {
	return g.waitRequest.Load()
}
