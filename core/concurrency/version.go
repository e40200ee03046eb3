// File: core/concurrency/version.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// VersionProvider issues strictly increasing version tokens.

package concurrency

import "sync/atomic"

// VersionToken orders slot writes by recency. Zero is never issued.
type VersionToken uint64

// Compare returns -1, 0 or +1 as t is older, equal or newer than other.
func (t VersionToken) Compare(other VersionToken) int {
	switch {
	case t < other:
		return -1
	case t > other:
		return 1
	default:
		return 0
	}
}

// VersionProvider is safe for concurrent use. The zero value is ready.
type VersionProvider struct {
	last atomic.Uint64
}

// AdvanceNewToken issues a token newer than every token issued before it.
func (p *VersionProvider) AdvanceNewToken() VersionToken {
	return VersionToken(p.last.Add(1))
}

// Current returns the most recently issued token, zero if none.
func (p *VersionProvider) Current() VersionToken {
	return VersionToken(p.last.Load())
}
