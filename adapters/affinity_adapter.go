// File: adapters/affinity_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
// Description:
//   Adapter implementing the api.Affinity interface on top of the affinity
//   package, tracking the binding of one dedicated thread.

package adapters

import (
	"github.com/momentics/hioload-sync/affinity"
	"github.com/momentics/hioload-sync/api"
)

// AffinityAdapter implements api.Affinity for the thread that owns it. It is
// not safe for use from several threads.
type AffinityAdapter struct {
	currentCPU int
	pinned     bool
}

// NewAffinityAdapter creates an unpinned adapter.
func NewAffinityAdapter() api.Affinity {
	return &AffinityAdapter{currentCPU: -1}
}

// Pin binds the calling thread to cpuID. -1 picks the CPU of worker #1.
func (a *AffinityAdapter) Pin(cpuID int) error {
	if cpuID == -1 {
		cpuID = affinity.CPUFor(1)
	}
	if err := affinity.SetAffinity(cpuID); err != nil {
		return err
	}
	a.currentCPU = cpuID
	a.pinned = true
	return nil
}

// Unpin clears the binding, allowing the OS scheduler to migrate the thread.
func (a *AffinityAdapter) Unpin() error {
	if err := affinity.ResetAffinity(); err != nil {
		return err
	}
	a.pinned = false
	a.currentCPU = -1
	return nil
}

// Get returns the currently pinned CPU.
func (a *AffinityAdapter) Get() (int, error) {
	return a.currentCPU, nil
}

// Pinned reports whether Pin succeeded since the last Unpin.
func (a *AffinityAdapter) Pinned() bool {
	return a.pinned
}
