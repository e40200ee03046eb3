// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown stops a component and waits until it released every
// thread it owns.
type GracefulShutdown interface {
	Shutdown() error
}
