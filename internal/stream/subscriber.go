package stream

import (
	"sync"

	"github.com/C5T/Current-sub007/internal/idxts"
	"github.com/C5T/Current-sub007/internal/scopeowner"
)

// Subscription is the handle returned by Subscribe: convertible to a
// running/not-running observable, and able to request its own early
// termination the same way the stream's teardown does.
type Subscription struct {
	mu                 sync.Mutex
	terminateRequested bool
	done               chan struct{}
	notifyCond         *sync.Cond
}

// Done returns a channel closed once the subscriber runtime has exited.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Running reports whether the subscriber runtime is still executing.
func (sub *Subscription) Running() bool {
	select {
	case <-sub.done:
		return false
	default:
		return true
	}
}

// RequestTermination asks the subscriber runtime to stop at its next
// wake-up. It is safe to call from any goroutine, any number of times.
func (sub *Subscription) RequestTermination() {
	sub.mu.Lock()
	sub.terminateRequested = true
	sub.mu.Unlock()

	sub.notifyCond.L.Lock()
	sub.notifyCond.Broadcast()
	sub.notifyCond.L.Unlock()
}

func (sub *Subscription) isTerminateRequested() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.terminateRequested
}

func (sub *Subscription) clearTerminateRequest() {
	sub.mu.Lock()
	sub.terminateRequested = false
	sub.mu.Unlock()
}

// Subscribe spawns a dedicated subscriber goroutine registered as a
// follower of the stream: the stream's Close blocks until this goroutine
// exits. cb is never invoked concurrently with itself.
func (s *Stream[E]) Subscribe(cb Callback[E]) (*Subscription, error) {
	sub := &Subscription{done: make(chan struct{}), notifyCond: s.notifyCond}
	follower, err := s.owner.Borrow(sub.RequestTermination)
	if err != nil {
		return nil, err
	}
	go s.runSubscriberLoop(follower, cb, sub)
	return sub, nil
}

// runSubscriberLoop implements spec.md §4.D's four-stage loop: replay
// persisted entries up to the current size, wait for new data or a
// termination request, handle termination, and surface watermark-only
// wake-ups via OnHead.
func (s *Stream[E]) runSubscriberLoop(follower *scopeowner.Follower[struct{}], cb Callback[E], sub *Subscription) {
	defer close(sub.done)
	defer follower.Release()

	var cursor uint64
	var lastHeadSeen int64

	for {
		size, head := s.sizeAndHead()
		for cursor < size {
			it, err := s.persister.Iterate(cursor, size)
			if err != nil {
				return
			}
			stop := false
			for it.Next() {
				e := it.Entry()
				last := idxts.IdxTS{Index: size - 1, US: head}
				resp, cbErr := cb.OnEntry(Entry[E]{IdxTS: e.IdxTS, Payload: e.Payload}, e.IdxTS, last)
				cursor = e.IdxTS.Index + 1
				if cbErr != nil || resp == Done {
					stop = true
					break
				}
			}
			if iterErr := it.Err(); iterErr != nil {
				return
			}
			if stop {
				return
			}
		}
		lastHeadSeen = head

		s.notifyMu.Lock()
		for {
			sz, hd := s.sizeAndHead()
			if sz > cursor || hd > lastHeadSeen || sub.isTerminateRequested() {
				break
			}
			s.notifyCond.Wait()
		}
		s.notifyMu.Unlock()

		if sub.isTerminateRequested() {
			switch cb.OnTerminate() {
			case Terminate:
				return
			case Wait:
				sub.clearTerminateRequest()
			}
			continue
		}

		sz, hd := s.sizeAndHead()
		if hd > lastHeadSeen && sz <= cursor {
			resp, err := cb.OnHead(hd)
			if err != nil || resp == Done {
				return
			}
		}
	}
}

// ExhaustionAware may optionally be implemented by a filtered
// subscription's underlying payload discriminant (e.g. a closed tagged
// union's "kind" value) to tell SubscribeWithFilter that no further entry
// could ever match the requested type, so it should stop waiting instead
// of continuing to skip forever.
type ExhaustionAware interface {
	Exhausted() bool
}

type filterAdapter[E any, T any] struct {
	inner          Callback[T]
	noMoreResponse EntryResponse
}

func (a *filterAdapter[E, T]) OnEntry(entry Entry[E], current, last idxts.IdxTS) (EntryResponse, error) {
	payload, ok := any(entry.Payload).(T)
	if !ok {
		if exhaustible, isExhaustionAware := any(entry.Payload).(ExhaustionAware); isExhaustionAware && exhaustible.Exhausted() {
			return a.noMoreResponse, nil
		}
		return More, nil
	}
	return a.inner.OnEntry(Entry[T]{IdxTS: entry.IdxTS, Payload: payload}, current, last)
}

func (a *filterAdapter[E, T]) OnHead(headUS int64) (EntryResponse, error) {
	return a.inner.OnHead(headUS)
}

func (a *filterAdapter[E, T]) OnTerminate() TerminateResponse {
	return a.inner.OnTerminate()
}

// SubscribeWithFilter subscribes cb to only those entries whose payload is
// of dynamic type T, skipping the rest without invoking cb. This is the Go
// translation of the original's RTTI-based demultiplexing (REDESIGN
// FLAGS): E is expected to be a closed tagged-union-like type, and the
// type switch happens via a Go type assertion instead of dynamic_cast.
func SubscribeWithFilter[E any, T any](s *Stream[E], cb Callback[T], noMoreResponse EntryResponse) (*Subscription, error) {
	return s.Subscribe(&filterAdapter[E, T]{inner: cb, noMoreResponse: noMoreResponse})
}
