// Package stream implements the coordinating layer of the event stream
// engine: a single persister, a transferable publisher token, live
// subscriber fan-out, and a head watermark — all guarded by a three-stage
// publish lock so publish→mirror→notify stays strictly ordered across
// goroutines without a single coarse lock spanning all three.
//
// Grounded on Sherlock/sherlock.h for the coordination shape and on
// abrahamVado-DriftPursuit/go-broker's internal/events/stream.go for the Go
// idiom: a mutex-guarded mirror plus per-subscriber delivery, generalized
// here from a fixed protobuf Envelope union to a generic Entry[E] and from
// ack/retention semantics to watermark/authority-token semantics.
package stream

import (
	"sync"

	"github.com/juju/clock"
	"github.com/pkg/errors"

	"github.com/C5T/Current-sub007/internal/idxts"
	"github.com/C5T/Current-sub007/internal/persist"
	"github.com/C5T/Current-sub007/internal/scopeowner"
)

// Sentinel errors from spec.md §7 owned by this package.
var (
	// ErrPublisherReleased is returned by Publish/UpdateHead while the
	// publisher token is held externally (authority is External).
	ErrPublisherReleased = errors.New("stream: publisher token is released")
	// ErrPublisherAlreadyReleased is returned by a second ReleasePublisher
	// call while authority is already External.
	ErrPublisherAlreadyReleased = errors.New("stream: publisher token already released")
	// ErrPublisherAlreadyOwned is returned by AcquirePublisher while
	// authority is already Own.
	ErrPublisherAlreadyOwned = errors.New("stream: publisher token already owned")
)

// Entry pairs a payload with its assigned index/timestamp, immutable once
// published. Mirrors persist.Entry[E] one level up the stack so callers of
// this package never need to import internal/persist directly.
type Entry[E any] struct {
	IdxTS   idxts.IdxTS
	Payload E
}

// EntryResponse is returned by subscriber callbacks to tell the runtime
// whether to keep delivering or to stop.
type EntryResponse int

const (
	// More means "keep delivering entries to this subscriber".
	More EntryResponse = iota
	// Done means "stop delivering; the subscriber runtime should exit".
	Done
)

// TerminateResponse is returned by a subscriber's terminate hook when the
// runtime wakes with a termination request pending.
type TerminateResponse int

const (
	// Wait clears the pending termination request and resumes the loop.
	Wait TerminateResponse = iota
	// Terminate causes the subscriber runtime to exit.
	Terminate
)

// Callback is the set of hooks a subscriber supplies to a Stream.
type Callback[E any] interface {
	// OnEntry is invoked once per delivered entry, in index order. current
	// is the idxts of the entry just delivered; last carries the index of
	// the stream's last entry and the stream's head watermark, both as of
	// the start of the current replay pass.
	OnEntry(entry Entry[E], current, last idxts.IdxTS) (EntryResponse, error)
	// OnHead is invoked on a watermark-only wake-up (no new entry), with
	// the new head in microseconds.
	OnHead(headUS int64) (EntryResponse, error)
	// OnTerminate is invoked when the runtime wakes with a termination
	// request pending, either from the stream's own teardown or from an
	// explicit Subscription.RequestTermination call.
	OnTerminate() TerminateResponse
}

// Token is handed out by ReleasePublisher. While it is out, the Stream's
// Publish/UpdateHead fail; passing it to AcquirePublisher gives the
// publisher right back to the Stream. AcquirePublisher does not check which
// Token it receives.
type Token struct {
	generation uint64
}

// Stream coordinates a persister, a publisher token, and N live
// subscribers sharing a head watermark and a fan-out notifier.
type Stream[E any] struct {
	persister persist.Persister[E]
	clk       clock.Clock

	// Three-stage publish lock: append, mirror, notify, acquired in strict
	// sequence by stageLock on every Publish/UpdateHead.
	stage1 sync.Mutex
	stage2 sync.Mutex
	stage3 sync.Mutex

	mirrorMu sync.Mutex
	size     uint64
	headUS   int64

	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	generation uint64

	tokenMu    sync.Mutex
	tokenOwned bool
	tokenGen   uint64

	owner *scopeowner.Primary[struct{}]
}

// Config customizes Stream construction. A zero Config is valid and uses
// clock.WallClock.
type Config struct {
	// Clock supplies "now" for PublishNow's timestamp. Defaults to
	// clock.WallClock; any clock.Clock, such as
	// github.com/juju/clock/testclock, can be injected instead of a
	// hand-rolled mockable global Now().
	Clock clock.Clock
}

// New constructs a Stream exclusively owning persister. The Stream starts
// in Own authority (it, not an external caller, holds the publisher
// token).
func New[E any](persister persist.Persister[E], cfg Config) *Stream[E] {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	s := &Stream[E]{
		persister:  persister,
		clk:        clk,
		size:       persister.Size(),
		headUS:     persister.Head(),
		tokenOwned: true,
		owner:      scopeowner.New(struct{}{}),
	}
	s.notifyCond = sync.NewCond(&s.notifyMu)
	return s
}

// stageLock advances through a fixed sequence of mutexes one at a time,
// always releasing whichever one it currently holds before acquiring the
// next, so a publisher never holds two stages' locks simultaneously.
type stageLock struct {
	mus  [3]*sync.Mutex
	held int
}

func newStageLock(m1, m2, m3 *sync.Mutex) *stageLock {
	return &stageLock{mus: [3]*sync.Mutex{m1, m2, m3}, held: -1}
}

func (l *stageLock) Stage(n int) {
	if l.held >= 0 {
		l.mus[l.held].Unlock()
	}
	l.mus[n].Lock()
	l.held = n
}

func (l *stageLock) Release() {
	if l.held >= 0 {
		l.mus[l.held].Unlock()
		l.held = -1
	}
}

// Publish appends payload at timestamp us through the persister, advances
// the in-memory mirror, and wakes every waiting subscriber — in that
// strict order, via the three-stage lock. Fails with ErrPublisherReleased
// if authority is currently External.
func (s *Stream[E]) Publish(payload E, us int64) (idxts.IdxTS, error) {
	if !s.hasToken() {
		return idxts.Zero, ErrPublisherReleased
	}

	sl := newStageLock(&s.stage1, &s.stage2, &s.stage3)
	defer sl.Release()

	sl.Stage(0)
	it, err := s.persister.Publish(payload, us)
	if err != nil {
		return idxts.Zero, err
	}

	sl.Stage(1)
	s.mirrorMu.Lock()
	s.size = it.Index + 1
	if it.US > s.headUS {
		s.headUS = it.US
	}
	s.mirrorMu.Unlock()

	sl.Stage(2)
	s.notifyMu.Lock()
	s.generation++
	s.notifyCond.Broadcast()
	s.notifyMu.Unlock()

	return it, nil
}

// PublishNow publishes using the Stream's configured clock for the
// timestamp, the equivalent of the original's publish(payload, now()).
func (s *Stream[E]) PublishNow(payload E) (idxts.IdxTS, error) {
	return s.Publish(payload, s.clk.Now().UnixMicro())
}

// UpdateHead advances only the watermark, still progressing through all
// three stages so watermark-only subscribers wake.
func (s *Stream[E]) UpdateHead(us int64) error {
	if !s.hasToken() {
		return ErrPublisherReleased
	}

	sl := newStageLock(&s.stage1, &s.stage2, &s.stage3)
	defer sl.Release()

	sl.Stage(0)
	if err := s.persister.UpdateHead(us); err != nil {
		return err
	}

	sl.Stage(1)
	s.mirrorMu.Lock()
	s.headUS = us
	s.mirrorMu.Unlock()

	sl.Stage(2)
	s.notifyMu.Lock()
	s.generation++
	s.notifyCond.Broadcast()
	s.notifyMu.Unlock()

	return nil
}

func (s *Stream[E]) hasToken() bool {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	return s.tokenOwned
}

// ReleasePublisher hands the publisher token out: subsequent Publish calls
// fail with ErrPublisherReleased until the returned Token is passed back to
// AcquirePublisher.
func (s *Stream[E]) ReleasePublisher() (Token, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	if !s.tokenOwned {
		return Token{}, ErrPublisherAlreadyReleased
	}
	s.tokenOwned = false
	s.tokenGen++
	return Token{generation: s.tokenGen}, nil
}

// AcquirePublisher reclaims the publisher token previously released via
// ReleasePublisher.
func (s *Stream[E]) AcquirePublisher(tok Token) error {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	if s.tokenOwned {
		return ErrPublisherAlreadyOwned
	}
	s.tokenOwned = true
	return nil
}

// sizeAndHead returns a consistent snapshot of the in-memory mirror.
func (s *Stream[E]) sizeAndHead() (uint64, int64) {
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()
	return s.size, s.headUS
}

// Size returns the current number of published entries.
func (s *Stream[E]) Size() uint64 {
	size, _ := s.sizeAndHead()
	return size
}

// Head returns the current watermark in microseconds.
func (s *Stream[E]) Head() int64 {
	_, head := s.sizeAndHead()
	return head
}

// Persister exposes the underlying persister for components (e.g. the
// HTTP endpoint's nowait handler) that need direct read access.
func (s *Stream[E]) Persister() persist.Persister[E] {
	return s.persister
}

// Close signals every live subscriber to terminate and blocks until all of
// them have exited, matching the Stream's destructor semantics.
func (s *Stream[E]) Close() {
	s.owner.Close()
}
