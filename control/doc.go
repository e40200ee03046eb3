// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection layer for the
// hioload-sync scheduler and allocators.
//
// Provides concurrent-safe state handling primitives including:
//   - Typed scheduler configuration with defaults, validation and env overrides
//   - Metrics snapshots published by executors
//   - State export, debug hooks, and probe registration
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
