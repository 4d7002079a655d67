// Package scopeowner implements the "one primary owner, N follower
// borrowers, primary teardown blocks until all borrowers release" pattern
// used throughout the stream engine to let a subscriber goroutine keep a
// stream alive while it is running, while still letting the stream's
// destructor ask every subscriber to stop and wait for them to actually do
// so.
package scopeowner

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrInDestructing is returned by Borrow and Access once the owning
// Primary has begun tearing down.
var ErrInDestructing = errors.New("scopeowner: primary is destructing")

// instance is the shared state behind a Primary/Follower pair.
type instance[T any] struct {
	mu          sync.Mutex
	cond        *sync.Cond
	value       T
	destructing bool
	nextKey     uint64
	followers   map[uint64]func()
}

func newInstance[T any](value T) *instance[T] {
	in := &instance[T]{value: value, followers: make(map[uint64]func())}
	in.cond = sync.NewCond(&in.mu)
	return in
}

// Primary owns the value for the scope in which it was constructed. Close
// must be called before the scope is left; it blocks until every Follower
// spawned from this Primary has released.
type Primary[T any] struct {
	in *instance[T]
}

// Follower borrows the value owned by a Primary. Its lifetime must be
// strictly contained within the Primary's lifetime.
type Follower[T any] struct {
	in   *instance[T]
	key  uint64
	once sync.Once
}

// New constructs a Primary owning value.
func New[T any](value T) *Primary[T] {
	return &Primary[T]{in: newInstance(value)}
}

// Borrow registers a new Follower with a teardown callback invoked, at most
// once, when the Primary begins destructing. It fails with ErrInDestructing
// if teardown has already begun.
func (p *Primary[T]) Borrow(onTeardown func()) (*Follower[T], error) {
	return borrow(p.in, onTeardown)
}

// Access runs f with exclusive access to the owned value. It fails with
// ErrInDestructing once teardown has begun.
func (p *Primary[T]) Access(f func(*T)) error {
	return access(p.in, f, false)
}

// AccessEvenIfDestructing runs f regardless of teardown state. Intended for
// cleanup paths that must still touch the value while the Primary is
// shutting down.
func (p *Primary[T]) AccessEvenIfDestructing(f func(*T)) {
	_ = access(p.in, f, true)
}

// NumberOfActiveFollowers reports the number of live followers.
func (p *Primary[T]) NumberOfActiveFollowers() int {
	return numberOfActiveFollowers(p.in)
}

// Close marks the Primary as destructing, invokes every registered
// teardown callback exactly once, then blocks until every follower has
// released. Close must be called exactly once.
func (p *Primary[T]) Close() {
	in := p.in
	in.mu.Lock()
	in.destructing = true
	callbacks := make([]func(), 0, len(in.followers))
	for _, cb := range in.followers {
		callbacks = append(callbacks, cb)
	}
	in.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}

	in.mu.Lock()
	for len(in.followers) > 0 {
		in.cond.Wait()
	}
	in.mu.Unlock()
}

// Borrow registers another Follower sharing the same underlying instance.
// Used to let a Follower itself hand out further followers (e.g. a
// subscriber runtime borrowing from a stream that was itself handed a
// Follower instead of the Primary).
func (f *Follower[T]) Borrow(onTeardown func()) (*Follower[T], error) {
	return borrow(f.in, onTeardown)
}

// Access runs f with exclusive access to the borrowed value.
func (f *Follower[T]) Access(f2 func(*T)) error {
	return access(f.in, f2, false)
}

// AccessEvenIfDestructing runs f regardless of teardown state.
func (f *Follower[T]) AccessEvenIfDestructing(f2 func(*T)) {
	_ = access(f.in, f2, true)
}

// IsDestructing reports whether the owning Primary has begun teardown.
func (f *Follower[T]) IsDestructing() bool {
	return isDestructing(f.in)
}

// Release unregisters the Follower. Calling it more than once on the same
// Follower is a programming error — it can only be caused by a logic bug
// in-process, never by external input — and panics, matching
// AttemptedToUnregisterScopeOwnedBySomeoneElseMoreThanOnce. Every Follower
// obtained via Borrow must eventually be released so the Primary's Close
// can return.
func (f *Follower[T]) Release() {
	released := false
	f.once.Do(func() {
		in := f.in
		in.mu.Lock()
		delete(in.followers, f.key)
		empty := len(in.followers) == 0
		in.mu.Unlock()
		if empty {
			in.cond.Broadcast()
		}
		released = true
	})
	if !released {
		panic("scopeowner: Follower.Release called more than once")
	}
}

func borrow[T any](in *instance[T], onTeardown func()) (*Follower[T], error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.destructing {
		return nil, ErrInDestructing
	}
	in.nextKey++
	key := in.nextKey
	if onTeardown == nil {
		onTeardown = func() {}
	}
	in.followers[key] = onTeardown
	return &Follower[T]{in: in, key: key}, nil
}

func access[T any](in *instance[T], f func(*T), ignoreDestructing bool) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !ignoreDestructing && in.destructing {
		return ErrInDestructing
	}
	f(&in.value)
	return nil
}

func numberOfActiveFollowers[T any](in *instance[T]) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.followers)
}

func isDestructing[T any](in *instance[T]) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.destructing
}
