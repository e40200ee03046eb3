// File: core/concurrency/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"github.com/joeycumines/logiface"
)

// Option configures a Scheduler.
type Option func(*schedulerOptions)

type schedulerOptions struct {
	logger       *logiface.Logger[logiface.Event]
	faultHandler func(*Work, *FaultError)
	backlog      int
	pinThreads   bool
}

func defaultSchedulerOptions() schedulerOptions {
	return schedulerOptions{
		backlog: DefaultBacklogCapacity,
	}
}

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(l *logiface.Logger[logiface.Event]) Option {
	return func(o *schedulerOptions) { o.logger = l }
}

// WithFaultHandler observes actions that panicked. It runs on the thread
// that executed the action.
func WithFaultHandler(fn func(*Work, *FaultError)) Option {
	return func(o *schedulerOptions) { o.faultHandler = fn }
}

// WithBacklogCapacity sizes the lock-free part of the backlog.
func WithBacklogCapacity(n int) Option {
	return func(o *schedulerOptions) { o.backlog = n }
}

// WithThreadPinning binds each dedicated thread to one CPU.
func WithThreadPinning(enabled bool) Option {
	return func(o *schedulerOptions) { o.pinThreads = enabled }
}
