// File: core/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package concurrency holds the synchronization primitives of hioload-sync:
// a work scheduler driving dedicated, optionally CPU-pinned OS threads with
// support for exclusive stop-the-world items, a bounded lock-free MPMC
// queue, and a versioned slot allocator for publishing values that readers
// resolve by recency.
//
// Nothing here allocates a goroutine per item. Dedicated threads are created
// lazily up to a fixed cap and park when the backlog is empty.
package concurrency
