package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/C5T/Current-sub007/internal/idxts"
	"github.com/C5T/Current-sub007/internal/persist"
)

// collectingCallback accumulates delivered payloads and returns More until
// stop is reached, at which point it returns Done.
type collectingCallback struct {
	mu       sync.Mutex
	payloads []string
	stop     int
	heads    []int64
	term     TerminateResponse
	termSeen chan struct{}
	gate     chan struct{} // if set, OnTerminate blocks until it is closed
}

func (c *collectingCallback) OnEntry(e Entry[string], current, last idxts.IdxTS) (EntryResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, e.Payload)
	if c.stop > 0 && len(c.payloads) >= c.stop {
		return Done, nil
	}
	return More, nil
}

func (c *collectingCallback) OnHead(headUS int64) (EntryResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heads = append(c.heads, headUS)
	return More, nil
}

func (c *collectingCallback) OnTerminate() TerminateResponse {
	if c.termSeen != nil {
		close(c.termSeen)
	}
	if c.gate != nil {
		<-c.gate
	}
	return c.term
}

func (c *collectingCallback) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestStreamPublishAssignsContiguousIndices(t *testing.T) {
	s := New[string](persist.NewMemory[string](), Config{})
	for i, payload := range []string{"foo", "bar", "meh"} {
		it, err := s.Publish(payload, int64(100*(i+1)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if it.Index != uint64(i) {
			t.Fatalf("expected index %d, got %d", i, it.Index)
		}
	}
	if got := s.Size(); got != 3 {
		t.Fatalf("expected size 3, got %d", got)
	}
}

func TestStreamSubscribeReplaysExistingEntries(t *testing.T) {
	s := New[string](persist.NewMemory[string](), Config{})
	for i, payload := range []string{"foo", "bar", "meh"} {
		if _, err := s.Publish(payload, int64(100*(i+1))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	cb := &collectingCallback{stop: 3}
	sub, err := s.Subscribe(cb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool { return !sub.Running() })
	got := cb.snapshot()
	want := []string{"foo", "bar", "meh"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestStreamSubscribeTailsLivePublishes(t *testing.T) {
	s := New[string](persist.NewMemory[string](), Config{})
	cb := &collectingCallback{}
	sub, err := s.Subscribe(cb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.RequestTermination()

	if _, err := s.Publish("alpha", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool { return len(cb.snapshot()) == 1 })

	if _, err := s.Publish("beta", 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool { return len(cb.snapshot()) == 2 })

	got := cb.snapshot()
	if got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("unexpected delivery order: %v", got)
	}
}

func TestStreamUpdateHeadWakesWatermarkSubscriber(t *testing.T) {
	s := New[string](persist.NewMemory[string](), Config{})
	cb := &collectingCallback{}
	sub, err := s.Subscribe(cb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.RequestTermination()

	if err := s.UpdateHead(500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return len(cb.heads) == 1 && cb.heads[0] == 500
	})
}

func TestStreamCloseBlocksUntilAllSubscribersExit(t *testing.T) {
	s := New[string](persist.NewMemory[string](), Config{})

	const n = 3
	// Each subscriber's OnTerminate blocks on gate, so no subscriber can
	// exit until the gate is opened.
	gate := make(chan struct{})
	subs := make([]*Subscription, n)
	for i := 0; i < n; i++ {
		cb := &collectingCallback{term: Terminate, gate: gate}
		sub, err := s.Subscribe(cb)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		subs[i] = sub
	}

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatalf("Close returned before any subscriber had a chance to exit")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not return after teardown requested")
	}

	for i, sub := range subs {
		if sub.Running() {
			t.Fatalf("subscriber %d still running after Close returned", i)
		}
	}
}

func TestStreamPublisherTokenAuthority(t *testing.T) {
	s := New[string](persist.NewMemory[string](), Config{})

	tok, err := s.ReleasePublisher()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Publish("nope", 1); err != ErrPublisherReleased {
		t.Fatalf("expected ErrPublisherReleased, got %v", err)
	}

	if _, err := s.ReleasePublisher(); err != ErrPublisherAlreadyReleased {
		t.Fatalf("expected ErrPublisherAlreadyReleased, got %v", err)
	}

	if err := s.AcquirePublisher(tok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.AcquirePublisher(tok); err != ErrPublisherAlreadyOwned {
		t.Fatalf("expected ErrPublisherAlreadyOwned, got %v", err)
	}

	if _, err := s.Publish("ok", 1); err != nil {
		t.Fatalf("unexpected error after reacquiring token: %v", err)
	}
}

type kindedPayload struct {
	kind      string
	exhausted bool
}

func (k kindedPayload) Exhausted() bool { return k.exhausted }

type kindCallback struct {
	mu   sync.Mutex
	seen []string
}

func (c *kindCallback) OnEntry(e Entry[kindedPayload], current, last idxts.IdxTS) (EntryResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, e.Payload.kind)
	return More, nil
}
func (c *kindCallback) OnHead(int64) (EntryResponse, error) { return More, nil }
func (c *kindCallback) OnTerminate() TerminateResponse       { return Terminate }

func TestSubscribeWithFilterSkipsNonMatchingPayloads(t *testing.T) {
	s := New[kindedPayload](persist.NewMemory[kindedPayload](), Config{})
	if _, err := s.Publish(kindedPayload{kind: "a"}, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Publish(kindedPayload{kind: "b"}, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Publish(kindedPayload{kind: "a"}, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Filter on kindedPayload itself (the stored type), so every entry
	// matches; the exhaustion field is exercised via the adapter's fallback
	// path by a type that never matches below.
	cb := &kindCallback{}
	sub, err := SubscribeWithFilter[kindedPayload, kindedPayload](s, cb, Done)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.RequestTermination()

	waitFor(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return len(cb.seen) == 3
	})

	// Filter on string, which no stored payload is: every entry is skipped
	// without reaching cb2, and the exhausted one ends the subscription
	// with the Done response passed to SubscribeWithFilter.
	cb2 := &collectingCallback{}
	sub2, err := SubscribeWithFilter[kindedPayload, string](s, cb2, Done)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Publish(kindedPayload{kind: "z", exhausted: true}, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool { return !sub2.Running() })
	if got := cb2.snapshot(); len(got) != 0 {
		t.Fatalf("expected no deliveries through a non-matching filter, got %v", got)
	}
}
