// File: core/concurrency/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scheduler multiplexes submitted work onto a bounded set of dedicated
// worker threads. Idle workers park on a private condition after donating
// themselves to the idle pool and are handed new work by Submit. Exclusive
// items run only once every other item has finished.

package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/cpu"

	"github.com/momentics/hioload-sync/affinity"
	"github.com/momentics/hioload-sync/api"
	"github.com/momentics/hioload-sync/control"
)

var lastSchedulerID atomic.Int64

// Stats is a point-in-time view of a Scheduler.
type Stats struct {
	ID         int
	MaxThreads int
	Threads    int
	Idle       int
	Running    int
	Executing  int
	Pending    int
	Submitted  uint64
	Executed   uint64
	Faulted    uint64
	Canceled   uint64
	// ExclusivePending is set while an exclusive item runs or waits for
	// quiescence.
	ExclusivePending bool
	Disposed         bool
}

// Scheduler owns a backlog and the dedicated threads draining it.
type Scheduler struct {
	gate        executionGate
	running     atomic.Int64 // dedicated workers inside their loop and not parked
	_           cpu.CacheLinePad
	threadCount atomic.Int64
	live        atomic.Bool
	_           cpu.CacheLinePad

	submitted atomic.Uint64
	executed  atomic.Uint64
	faulted   atomic.Uint64
	canceled  atomic.Uint64

	id         int
	maxThreads int
	pending    *PendingQueue[*Work]
	idle       atomic.Pointer[BoundedQueue[*worker]]

	spawnMu  sync.Mutex // guards threads and orders thread creation against Dispose
	threads  []*worker
	alive    atomic.Int64  // dedicated threads not yet exited
	exited   chan struct{} // closed once disposed and alive dropped to zero
	exitOnce sync.Once
	tids     sync.Map // OS thread id -> *worker

	logger       *logiface.Logger[logiface.Event]
	faultHandler func(*Work, *FaultError)
	pinThreads   bool
}

// NewScheduler creates a scheduler that starts at most maxDedicatedThreads
// workers on demand.
func NewScheduler(maxDedicatedThreads int, opts ...Option) (*Scheduler, error) {
	if maxDedicatedThreads < 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "dedicated thread count must not be negative").
			WithContext("max_dedicated_threads", maxDedicatedThreads)
	}
	o := defaultSchedulerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	pending, err := NewPendingQueue[*Work](o.backlog)
	if err != nil {
		return nil, fmt.Errorf("scheduler backlog: %w", err)
	}
	idle, err := NewBoundedQueue[*worker](max(maxDedicatedThreads, 1))
	if err != nil {
		return nil, fmt.Errorf("scheduler idle pool: %w", err)
	}
	s := &Scheduler{
		id:           int(lastSchedulerID.Add(1) - 1),
		maxThreads:   maxDedicatedThreads,
		pending:      pending,
		threads:      make([]*worker, 0, maxDedicatedThreads),
		exited:       make(chan struct{}),
		logger:       o.logger,
		faultHandler: o.faultHandler,
		pinThreads:   o.pinThreads,
	}
	s.idle.Store(idle)
	s.live.Store(true)
	return s, nil
}

// NewSchedulerFromConfig validates cfg and builds a scheduler from it. opts
// are applied after the config and win on conflict.
func NewSchedulerFromConfig(cfg control.Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	all := append([]Option{
		WithBacklogCapacity(cfg.BacklogCapacity),
		WithThreadPinning(cfg.PinThreads),
	}, opts...)
	return NewScheduler(cfg.MaxDedicatedThreads, all...)
}

// ID identifies the scheduler within the process.
func (s *Scheduler) ID() int { return s.id }

// MaxDedicatedThreads returns the configured thread cap.
func (s *Scheduler) MaxDedicatedThreads() int { return s.maxThreads }

// NumWorkers returns the number of dedicated threads created so far.
func (s *Scheduler) NumWorkers() int { return int(s.threadCount.Load()) }

// Submit queues action and makes sure a worker will pick it up. Exclusive
// items wait until nothing else executes and block new items while they
// run. An exclusive item must not wait on other work of the same scheduler.
//
// When every dedicated thread is busy and the cap is reached, Submit from
// outside the scheduler spins until a thread becomes idle or the backlog
// drains.
func (s *Scheduler) Submit(action func(), exclusive bool) (*Work, error) {
	if action == nil {
		return nil, fmt.Errorf("%w: nil action", api.ErrInvalidArgument)
	}
	if !s.live.Load() {
		return nil, api.ErrDisposed
	}
	item := newWork(s, action, exclusive)
	s.submitted.Add(1)
	s.pending.Add(item)
	if !s.live.Load() {
		// Dispose drained the backlog concurrently.
		s.cancelPending()
		return item, nil
	}
	s.dispatch()
	return item, nil
}

// dispatch makes sure some dedicated worker will observe the backlog.
//
// A worker that is busy may be blocked on the very item just queued, so
// work is only considered handed off once an idle worker got the signal, a
// new worker was started, or the backlog drained. The one exception is a
// submit from one of this scheduler's own threads: that thread drains the
// backlog itself once its current item returns, and spinning here would
// keep it from ever doing so.
func (s *Scheduler) dispatch() {
	if s.maxThreads == 0 {
		return
	}
	var sw spinWait
	for s.pending.Len() > 0 && s.live.Load() {
		if pool := s.idle.Load(); pool != nil {
			if w, ok := pool.TryTake(); ok {
				w.Go()
				return
			}
		}
		if w := s.newDedicatedThread(); w != nil {
			w.Go()
			return
		}
		if s.onOwnThread() {
			return
		}
		sw.once()
	}
}

// onOwnThread reports whether the caller runs on a dedicated thread of s.
func (s *Scheduler) onOwnThread() bool {
	tid := affinity.ThreadID()
	if tid < 0 {
		return false
	}
	_, ok := s.tids.Load(tid)
	return ok
}

// newDedicatedThread registers a new worker, nil once the cap is reached.
func (s *Scheduler) newDedicatedThread() *worker {
	if s.threadCount.Load() >= int64(s.maxThreads) {
		return nil
	}
	s.spawnMu.Lock()
	defer s.spawnMu.Unlock()
	if !s.live.Load() || len(s.threads) >= s.maxThreads {
		return nil
	}
	w := newWorker(s, len(s.threads)+1)
	s.threads = append(s.threads, w)
	s.threadCount.Store(int64(len(s.threads)))
	s.running.Add(1)
	s.alive.Add(1)
	return w
}

// RunOne executes at most one pending item on the calling goroutine. It
// never parks; false means nothing was pending.
func (s *Scheduler) RunOne() (bool, error) {
	if !s.live.Load() {
		return false, api.ErrDisposed
	}
	item, ok := s.pending.TryTake()
	if !ok {
		return false, nil
	}
	s.execute(item)
	return true, nil
}

// execute runs item behind the execution gate.
func (s *Scheduler) execute(item *Work) {
	if item.exclusive {
		s.gate.enterExclusive()
		defer s.gate.exitExclusive()
	} else {
		s.gate.enter()
		defer s.gate.exit()
	}
	fault := item.run()
	s.executed.Add(1)
	if fault != nil {
		s.faulted.Add(1)
		s.logger.Err().
			Int("scheduler", s.id).
			Bool("exclusive", item.exclusive).
			Err(fault).
			Log("work item faulted")
		if s.faultHandler != nil {
			s.faultHandler(item, fault)
		}
	}
}

// Dispose stops execution of new items, wakes every parked worker so it can
// exit and cancels work still in the backlog. Repeated calls are no-ops.
// It does not wait for workers; see Wait.
func (s *Scheduler) Dispose() {
	s.spawnMu.Lock()
	if !s.live.CompareAndSwap(true, false) {
		s.spawnMu.Unlock()
		return
	}
	threads := append([]*worker(nil), s.threads...)
	s.spawnMu.Unlock()

	s.idle.Store(nil)
	for _, w := range threads {
		w.stop()
	}
	if s.alive.Load() == 0 {
		s.closeExited()
	}
	canceled := s.cancelPending()
	s.logger.Info().
		Int("scheduler", s.id).
		Int("threads", len(threads)).
		Int("canceled", canceled).
		Log("scheduler disposed")
}

func (s *Scheduler) cancelPending() int {
	n := 0
	for _, item := range s.pending.Drain() {
		if item.cancel() {
			n++
		}
	}
	s.canceled.Add(uint64(n))
	return n
}

// Disposed reports whether Dispose was called.
func (s *Scheduler) Disposed() bool { return !s.live.Load() }

// threadExited is called by every dedicated thread on its way out.
func (s *Scheduler) threadExited() {
	if s.alive.Add(-1) == 0 && !s.live.Load() {
		s.closeExited()
	}
}

func (s *Scheduler) closeExited() {
	s.exitOnce.Do(func() { close(s.exited) })
}

// Wait blocks until Dispose was called and every dedicated thread exited.
func (s *Scheduler) Wait(ctx context.Context) error {
	select {
	case <-s.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	idle := 0
	if pool := s.idle.Load(); pool != nil {
		idle = pool.Len()
	}
	return Stats{
		ID:         s.id,
		MaxThreads: s.maxThreads,
		Threads:    int(s.threadCount.Load()),
		Idle:       idle,
		Running:    int(s.running.Load()),
		Executing:  int(s.gate.count()),
		Pending:    s.pending.Len(),
		Submitted:  s.submitted.Load(),
		Executed:   s.executed.Load(),
		Faulted:    s.faulted.Load(),
		Canceled:   s.canceled.Load(),

		ExclusivePending: s.gate.exclusivePending(),
		Disposed:         !s.live.Load(),
	}
}
