// File: core/concurrency/spin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Busy-wait helpers shared by the execution gate and the scheduler dispatch
// loop.

package concurrency

import (
	"math/bits"
	"runtime"
	"time"
)

const (
	spinActive = 32   // iterations spent purely spinning
	spinYield  = 2048 // iterations spent yielding before sleeping
)

// spinWait escalates from busy spinning to yielding to short sleeps.
type spinWait struct {
	n int
}

// once performs a single back-off step.
func (s *spinWait) once() {
	switch {
	case s.n < spinActive:
	case s.n < spinYield:
		runtime.Gosched()
	default:
		time.Sleep(time.Microsecond)
	}
	s.n++
}

// spinUntil blocks the caller, spinning, until cond reports true.
func spinUntil(cond func() bool) {
	var sw spinWait
	for !cond() {
		sw.once()
	}
}

// nextPowerOfTwo rounds n (>= 1) up to a power of two.
func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
