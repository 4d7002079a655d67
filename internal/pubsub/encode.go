package pubsub

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/C5T/Current-sub007/internal/idxts"
)

// Entry is the wire-level shape the endpoint streams to the client: a
// payload tagged with the idxts it was assigned.
type Entry[E any] struct {
	IdxTS   idxts.IdxTS
	Payload E
}

// entryEncoder writes the line format selected by entries_only/array,
// tracks bytes written for stop_after_bytes, and arms/checks the n and
// period stop conditions. It is used on both the bounded (nowait) and live
// (subscription-driven) delivery paths so both honor the same grammar.
type entryEncoder[E any] struct {
	w           io.Writer
	flusher     http.Flusher
	entriesOnly bool
	array       bool
	hasN        bool
	n           int
	hasPeriod   bool
	periodUS    int64
	hasStop     bool
	stopBytes   int64

	delivered   int
	bytes       int64
	periodArmed bool
	firstUS     int64
	wroteFirst  bool
	writeErr    bool
}

func newEntryEncoder[E any](w io.Writer, p queryParams) *entryEncoder[E] {
	flusher, _ := w.(http.Flusher)
	return &entryEncoder[E]{
		w:           w,
		flusher:     flusher,
		entriesOnly: p.entriesOnly,
		array:       p.array,
		hasN:        p.hasN,
		n:           p.n,
		hasPeriod:   p.hasPeriod,
		periodUS:    p.periodUS,
		hasStop:     p.hasStopBytes,
		stopBytes:   p.stopAfterBytes,
	}
}

func (e *entryEncoder[E]) writeOpen() {
	if e.array {
		e.write([]byte("[\n"))
	}
}

func (e *entryEncoder[E]) writeClose() {
	if e.array {
		e.write([]byte("]\n"))
	}
}

func (e *entryEncoder[E]) write(p []byte) {
	n, err := e.w.Write(p)
	e.bytes += int64(n)
	if err != nil {
		e.writeErr = true
		return
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
}

// deliver writes one entry and reports whether delivery should continue:
// false means a stop condition (n, period, stop_after_bytes, or a write
// failure) has been reached. A write failure matches pubsub.h's
// NetworkException → ss::EntryResponse::Done conversion.
func (e *entryEncoder[E]) deliver(entry Entry[E]) bool {
	if e.writeErr {
		return false
	}
	if e.hasPeriod {
		if !e.periodArmed {
			e.firstUS, e.periodArmed = entry.IdxTS.US, true
		} else if entry.IdxTS.US > e.firstUS+e.periodUS {
			return false
		}
	}

	if e.array && e.wroteFirst {
		e.write([]byte(",\n"))
	}
	e.wroteFirst = true

	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return false
	}

	if e.entriesOnly {
		e.write(payloadJSON)
		e.write([]byte("\n"))
	} else {
		idxtsJSON, err := json.Marshal(entry.IdxTS)
		if err != nil {
			return false
		}
		e.write(idxtsJSON)
		e.write([]byte("\t"))
		e.write(payloadJSON)
		e.write([]byte("\n"))
	}

	if e.writeErr {
		return false
	}

	e.delivered++
	if e.hasN && e.delivered >= e.n {
		return false
	}
	if e.hasStop && e.bytes >= e.stopBytes {
		return false
	}
	return true
}
