// File: core/concurrency/work.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Work is the handle of one submitted action. Panics raised by the action
// are contained here and recorded as a FaultError.

package concurrency

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/momentics/hioload-sync/api"
)

// Ensure compile-time interface compliance.
var _ api.Handle = (*Work)(nil)

// WorkStatus is the lifecycle position of a Work item.
type WorkStatus int32

const (
	WorkPending WorkStatus = iota
	WorkRunning
	WorkCompleted
	WorkFaulted
	WorkCanceled
)

func (s WorkStatus) String() string {
	switch s {
	case WorkPending:
		return "pending"
	case WorkRunning:
		return "running"
	case WorkCompleted:
		return "completed"
	case WorkFaulted:
		return "faulted"
	case WorkCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("WorkStatus(%d)", int32(s))
	}
}

// FaultError wraps a value recovered from a panicking action.
type FaultError struct {
	Value any
	Stack []byte
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("work item panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *FaultError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Work is created by Scheduler.Submit and consumed exactly once.
type Work struct {
	action    func()
	exclusive bool
	owner     *Scheduler
	status    atomic.Int32
	err       error // written before done is closed
	done      chan struct{}
}

func newWork(owner *Scheduler, action func(), exclusive bool) *Work {
	return &Work{
		action:    action,
		exclusive: exclusive,
		owner:     owner,
		done:      make(chan struct{}),
	}
}

// Exclusive reports whether the item runs with nothing else executing.
func (w *Work) Exclusive() bool { return w.exclusive }

// Scheduler returns the owning scheduler.
func (w *Work) Scheduler() *Scheduler { return w.owner }

// Status returns the current lifecycle state.
func (w *Work) Status() WorkStatus { return WorkStatus(w.status.Load()) }

// Done is closed when the item completed, faulted or was canceled.
func (w *Work) Done() <-chan struct{} { return w.done }

// Wait blocks until the item is done. Only ctx errors are returned; use Err
// for the outcome.
func (w *Work) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the contained *FaultError, api.ErrDisposed for canceled items,
// or nil. It is only meaningful after Done is closed.
func (w *Work) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// run executes the action once. A panic never escapes.
func (w *Work) run() (fault *FaultError) {
	if !w.status.CompareAndSwap(int32(WorkPending), int32(WorkRunning)) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			fault = &FaultError{Value: r, Stack: debug.Stack()}
			w.finish(WorkFaulted, fault)
			return
		}
		w.finish(WorkCompleted, nil)
	}()
	w.action()
	return nil
}

// cancel completes a still pending item without running it.
func (w *Work) cancel() bool {
	if !w.status.CompareAndSwap(int32(WorkPending), int32(WorkCanceled)) {
		return false
	}
	w.err = api.ErrDisposed
	close(w.done)
	return true
}

func (w *Work) finish(status WorkStatus, err error) {
	if err != nil {
		w.err = err
	}
	w.status.Store(int32(status))
	close(w.done)
}
