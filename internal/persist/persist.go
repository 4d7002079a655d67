// Package persist implements the append-only (index, us, payload) storage
// layer described in spec.md §4.B: an in-memory variant and a file-backed
// variant behind a common Persister interface, each with an independent,
// restartable iterator.
//
// Grounded on Blocks/Persistence/{memory,file,exceptions}.h.
package persist

import (
	"github.com/C5T/Current-sub007/internal/idxts"
)

// Entry pairs a persisted payload with its assigned index/timestamp.
type Entry[E any] struct {
	IdxTS   idxts.IdxTS
	Payload E
}

// Iterator walks a fixed, independent range of persisted entries. It is
// single-use and not safe for concurrent use by multiple goroutines.
type Iterator[E any] interface {
	// Next advances to the next entry, returning false once the range is
	// exhausted or an error occurred. Err must be checked after Next
	// returns false.
	Next() bool
	// Entry returns the entry at the current position. Only valid after a
	// call to Next returned true.
	Entry() Entry[E]
	// Err returns the first error encountered, if any.
	Err() error
}

// Persister is the common contract implemented by the memory and file
// variants described in spec.md §4.B.
type Persister[E any] interface {
	// Publish assigns the next index, enforces the implementation's
	// timestamp-monotonicity rule, and durably appends the entry.
	Publish(payload E, us int64) (idxts.IdxTS, error)
	// UpdateHead advances the watermark without publishing an entry.
	UpdateHead(us int64) error
	// Size returns the current number of published entries.
	Size() uint64
	// Head returns the current watermark, in microseconds.
	Head() int64
	// Iterate returns an independent, restartable iterator over
	// [begin, end). end == NoEnd means "up to the current size".
	Iterate(begin, end uint64) (Iterator[E], error)
	// Close releases any resources (file handles) held by the persister.
	Close() error
}

// NoEnd requests "iterate up to the current size at call time".
const NoEnd = ^uint64(0)
