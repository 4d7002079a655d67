package persist

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/C5T/Current-sub007/internal/idxts"
)

// Memory is an in-memory Persister. Unlike File, it accepts non-decreasing
// (≤) timestamps rather than strictly increasing ones, matching
// Blocks/Persistence/memory.h's looser monotonicity rule.
type Memory[E any] struct {
	mu      sync.Mutex
	entries []Entry[E]
	lastUS  int64
	headUS  int64
	headSet bool
}

// NewMemory constructs an empty in-memory persister.
func NewMemory[E any]() *Memory[E] {
	return &Memory[E]{}
}

var _ Persister[int] = (*Memory[int])(nil)

// Publish appends payload at the next index, assigning it timestamp us.
// us must be >= the last published timestamp; violating this returns
// idxts.ErrInconsistentTimestamp before any state is mutated.
func (m *Memory[E]) Publish(payload E, us int64) (idxts.IdxTS, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) > 0 && us < m.lastUS {
		return idxts.Zero, errors.Wrapf(idxts.ErrInconsistentTimestamp, "publish us=%d < last=%d", us, m.lastUS)
	}
	it := idxts.IdxTS{Index: uint64(len(m.entries)), US: us}
	m.entries = append(m.entries, Entry[E]{IdxTS: it, Payload: payload})
	m.lastUS = us
	if !m.headSet || us > m.headUS {
		m.headUS = us
		m.headSet = true
	}
	return it, nil
}

// UpdateHead advances the watermark without publishing an entry. us must be
// strictly greater than both the last published timestamp and the current
// head — the latter rule is what makes update_head(us); update_head(us)
// succeed only on the first call.
func (m *Memory[E]) UpdateHead(us int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) > 0 && us <= m.lastUS {
		return errors.Wrapf(idxts.ErrInconsistentTimestamp, "update_head us=%d <= last=%d", us, m.lastUS)
	}
	if m.headSet && us <= m.headUS {
		return errors.Wrapf(idxts.ErrInconsistentTimestamp, "update_head us=%d <= head=%d", us, m.headUS)
	}
	m.headUS = us
	m.headSet = true
	return nil
}

// Size returns the number of published entries.
func (m *Memory[E]) Size() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.entries))
}

// Head returns the current watermark.
func (m *Memory[E]) Head() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headUS
}

// Iterate returns a snapshot-backed iterator over [begin, end).
func (m *Memory[E]) Iterate(begin, end uint64) (Iterator[E], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := uint64(len(m.entries))
	if end == NoEnd {
		end = size
	}
	if begin > end || end > size {
		return nil, errors.Wrapf(idxts.ErrInvalidRange, "begin=%d end=%d size=%d", begin, end, size)
	}

	snapshot := make([]Entry[E], end-begin)
	copy(snapshot, m.entries[begin:end])
	return &memoryIterator[E]{entries: snapshot, pos: -1}, nil
}

// Close is a no-op for Memory; it holds no external resources.
func (m *Memory[E]) Close() error { return nil }

type memoryIterator[E any] struct {
	entries []Entry[E]
	pos     int
}

func (it *memoryIterator[E]) Next() bool {
	it.pos++
	return it.pos < len(it.entries)
}

func (it *memoryIterator[E]) Entry() Entry[E] {
	return it.entries[it.pos]
}

func (it *memoryIterator[E]) Err() error { return nil }
