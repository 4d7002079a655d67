package pubsub

import (
	"github.com/C5T/Current-sub007/internal/idxts"
	"github.com/C5T/Current-sub007/internal/stream"
)

// httpCallback adapts a stream.Subscribe callback to the HTTP response
// writer, applying the since/i/tail filters as a skip (not a stop) and
// delegating line formatting and the n/period/stop_after_bytes conditions
// to entryEncoder.
type httpCallback[E any] struct {
	params queryParams
	enc    *entryEncoder[E]
}

func (c *httpCallback[E]) OnEntry(entry stream.Entry[E], current, last idxts.IdxTS) (stream.EntryResponse, error) {
	if c.params.hasStart && entry.IdxTS.Index < c.params.startIndex {
		return stream.More, nil
	}
	if c.params.hasSince && entry.IdxTS.US < c.params.sinceUS {
		return stream.More, nil
	}
	if c.enc.deliver(Entry[E]{IdxTS: entry.IdxTS, Payload: entry.Payload}) {
		return stream.More, nil
	}
	return stream.Done, nil
}

func (c *httpCallback[E]) OnHead(headUS int64) (stream.EntryResponse, error) {
	return stream.More, nil
}

// OnTerminate always exits the subscriber runtime: both stream-wide
// teardown and an explicit ?terminate=<id> request should end the HTTP
// response, never pause it.
func (c *httpCallback[E]) OnTerminate() stream.TerminateResponse {
	return stream.Terminate
}
