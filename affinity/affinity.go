// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity of dedicated worker threads.
// Platform-specific implementations are located in separate files
// (affinity_linux.go, affinity_stub.go) guarded by build tags.

package affinity

import "runtime"

// SetAffinity pins the calling OS thread to a given logical CPU.
// The caller must hold runtime.LockOSThread, otherwise the pin follows
// whatever goroutine the thread runs next.
// On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// ResetAffinity lets the calling OS thread run on every CPU the process
// was allowed at start-up.
func ResetAffinity() error {
	return resetAffinityPlatform()
}

// ThreadID returns the OS identifier of the calling thread, -1 if unknown.
func ThreadID() int {
	return threadIDPlatform()
}

// allowed holds the CPUs the process may run on, captured at start-up.
var allowed = allowedCPUs()

// AllowedCPUs returns the logical CPUs the process may run on, ascending.
func AllowedCPUs() []int {
	return append([]int(nil), allowed...)
}

// CPUFor maps a 1-based worker number onto an allowed CPU round-robin.
func CPUFor(worker int) int {
	if len(allowed) == 0 {
		return 0
	}
	if worker <= 0 {
		worker = 1
	}
	return allowed[(worker-1)%len(allowed)]
}

func defaultCPUs() []int {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}
