// Package api
// Author: momentics
//
// Executor contract for work submission with exclusive execution support.

package api

import "context"

// Handle tracks a submitted unit of work.
type Handle interface {
	// Done is closed once the work ran, faulted or was canceled.
	Done() <-chan struct{}

	// Wait blocks until Done or ctx expiry.
	Wait(ctx context.Context) error

	// Err reports the contained fault, if any.
	Err() error
}

// Executor abstracts the work scheduler.
type Executor interface {
	// Submit schedules action; exclusive work never overlaps other work.
	Submit(action func(), exclusive bool) (Handle, error)

	// RunOne executes at most one pending item on the calling goroutine.
	RunOne() (bool, error)

	// NumWorkers returns the number of dedicated workers created so far.
	NumWorkers() int

	// Dispose stops the executor. Repeated calls are no-ops.
	Dispose()
}
