// Package api
// Author: momentics@gmail.com
//
// CPU affinity of dedicated threads.

package api

// Affinity controls on which CPU the calling OS thread executes. Callers
// must hold runtime.LockOSThread.
type Affinity interface {
	// Pin binds the calling thread to a logical CPU.
	Pin(cpuID int) error
	// Unpin lets the thread run on any CPU again.
	Unpin() error
	// Get returns the pinned CPU, -1 when unpinned.
	Get() (cpuID int, err error)
}
