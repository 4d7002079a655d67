// Package idxts defines the index/timestamp pair shared by the persister,
// the stream, and both in-memory queues, plus the small set of error kinds
// every one of those components can raise around it.
//
// Grounded on current::ss::IndexAndTimestamp (Blocks/SS/ss.h, referenced
// from Blocks/Persistence/*.h and Blocks/MMQ/*.h) — a single (index, us)
// pair reused across the whole stack rather than a distinct type per
// component.
package idxts

import "github.com/pkg/errors"

// IdxTS is an entry index paired with a microsecond Unix timestamp. Indices
// are 0-based in the persisters, the stream and the ring queue; the
// priority queue numbers its entries from 1. The zero value, Zero, means
// "uninitialized" throughout the stack.
type IdxTS struct {
	Index uint64
	US    int64
}

// Zero is the default, "uninitialized" value of IdxTS.
var Zero = IdxTS{}

// Less orders by (US, Index) so ties broken by insertion order sort
// consistently, matching the priority queue's "timestamp order, ties
// broken by insertion index" guarantee.
func (a IdxTS) Less(b IdxTS) bool {
	if a.US != b.US {
		return a.US < b.US
	}
	return a.Index < b.Index
}

// Sentinel error kinds from spec.md §7, shared by persist/stream/mmq.
var (
	// ErrInconsistentTimestamp is raised by a Publish/UpdateHead call whose
	// timestamp violates the component's monotonicity rule.
	ErrInconsistentTimestamp = errors.New("idxts: inconsistent timestamp")
	// ErrInvalidRange is raised by Iterate when the requested [begin, end)
	// range is malformed or out of bounds.
	ErrInvalidRange = errors.New("idxts: invalid range")
	// ErrInconsistentIndex is raised when replaying persisted entries
	// encounters indices that are not strictly contiguous.
	ErrInconsistentIndex = errors.New("idxts: inconsistent index")
	// ErrMalformedEntry is raised when a persisted line cannot be parsed.
	ErrMalformedEntry = errors.New("idxts: malformed entry")
)
