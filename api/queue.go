// Package api
// Author: momentics@gmail.com
//
// Bounded, non-blocking queue contract shared by the backlog and free-lists.

package api

// Queue is a fixed-capacity multi-producer/multi-consumer queue contract.
// None of the methods block; false means "nothing visible / no room right now".
type Queue[T any] interface {
	// TryAdd stores item, returns false if full.
	TryAdd(item T) bool
	// TryTake removes the next item, returns false if none is visible.
	TryTake() (T, bool)
	// TryPeek reads the next item without removing it.
	TryPeek() (T, bool)
	// Len returns current number of items.
	Len() int
	// Cap returns queue capacity.
	Cap() int
}
