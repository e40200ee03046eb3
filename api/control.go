// File: api/control.go
// Package api defines Control interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control exposes runtime metrics and debug probes of the executors it
// tracks.
type Control interface {
	// Stats refreshes tracked executors and returns metrics merged with
	// probe output under "debug.".
	Stats() map[string]any
	SetMetric(key string, value any)
	RegisterDebugProbe(name string, fn func() any)
}
