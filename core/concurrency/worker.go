// File: core/concurrency/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// worker owns one dedicated OS thread. It drains the scheduler backlog and,
// when starved, donates itself to the idle pool and parks until handed work.

package concurrency

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-sync/affinity"
)

type worker struct {
	owner   *Scheduler
	number  int
	name    string
	started atomic.Bool

	mu    sync.Mutex // park/wake signalling only
	cond  *sync.Cond
	woken bool
}

func newWorker(owner *Scheduler, number int) *worker {
	w := &worker{
		owner:  owner,
		number: number,
		name:   fmt.Sprintf("dedicated thread #%d on context %d", number, owner.id),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Go starts the thread on first use and wakes it afterwards. Callers only
// wake a worker they removed from the idle pool.
func (w *worker) Go() {
	if w.started.CompareAndSwap(false, true) {
		go w.run()
		return
	}
	w.signal()
}

// stop wakes the worker regardless of pool membership; used on dispose.
func (w *worker) stop() {
	w.signal()
}

func (w *worker) signal() {
	w.mu.Lock()
	w.woken = true
	w.cond.Signal()
	w.mu.Unlock()
}

func (w *worker) run() {
	s := w.owner
	defer s.threadExited()
	defer s.running.Add(-1)

	// The goroutine never unlocks, so its OS thread ends with it.
	runtime.LockOSThread()
	if tid := affinity.ThreadID(); tid >= 0 {
		s.tids.Store(tid, w)
		defer s.tids.Delete(tid)
	}
	if s.pinThreads {
		cpuID := affinity.CPUFor(w.number)
		if err := affinity.SetAffinity(cpuID); err != nil {
			s.logger.Warning().
				Str("thread", w.name).
				Int("cpu", cpuID).
				Err(err).
				Log("thread pinning failed")
		}
	}
	s.logger.Debug().
		Str("thread", w.name).
		Int("tid", affinity.ThreadID()).
		Log("dedicated thread started")

	for !w.loop() {
	}

	s.logger.Debug().
		Str("thread", w.name).
		Log("dedicated thread exited")
}

// loop drains the backlog until the scheduler stops. It reports false when
// an unexpected fault interrupted it and it should be entered again.
func (w *worker) loop() (done bool) {
	s := w.owner
	defer func() {
		if r := recover(); r != nil {
			done = !s.live.Load()
			s.logger.Warning().
				Str("thread", w.name).
				Any("fault", r).
				Bool("restart", !done).
				Log("worker loop fault")
		}
	}()
	for s.live.Load() {
		if item, ok := s.pending.TryTake(); ok {
			s.execute(item)
			continue
		}
		if !w.park() {
			break
		}
	}
	return true
}

// park donates the worker to the idle pool and blocks until woken. It
// returns false when the scheduler stopped. The running count is restored
// before returning.
func (w *worker) park() bool {
	s := w.owner
	s.running.Add(-1)
	defer s.running.Add(1)

	if s.pending.Len() > 0 {
		return true
	}
	parkHook(w)

	w.mu.Lock()
	pool := s.idle.Load()
	if pool == nil || !s.live.Load() {
		w.mu.Unlock()
		return false
	}
	w.woken = false
	if !pool.TryAdd(w) {
		// the pool is sized for every worker; a false is a taker mid hand-off
		w.mu.Unlock()
		return true
	}
	w.mu.Unlock()

	// A producer that found no idle worker between our backlog check and
	// the donation may have left its item behind. Hand it to whoever sits
	// in the pool, possibly this worker.
	if s.pending.Len() > 0 {
		if next, ok := pool.TryTake(); ok {
			next.Go()
		}
	}
	w.mu.Lock()
	for !w.woken {
		w.cond.Wait()
	}
	w.mu.Unlock()
	return s.live.Load()
}

// parkHook runs between the last backlog check and the pool donation.
// Tests replace it.
var parkHook = func(*worker) {}
