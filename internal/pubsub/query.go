package pubsub

import (
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ErrMalformedQuery is returned by parseQuery when a parameter that must be
// an integer cannot be parsed as one.
var ErrMalformedQuery = errors.New("pubsub: malformed query parameter")

// queryParams is the parsed form of spec.md §4.G's query grammar. Every
// field has a companion "has*" flag instead of relying on the zero value,
// since 0 is a legitimate value for most of these parameters.
type queryParams struct {
	sinceUS    int64
	hasSince   bool
	startIndex uint64
	hasStart   bool // from i= or tail=, whichever bound is tighter
	n          int
	hasN       bool
	periodUS   int64
	hasPeriod  bool
	nowait     bool

	stopAfterBytes int64
	hasStopBytes   bool

	sizeonly    bool
	schema      bool
	schemaLang  string
	entriesOnly bool
	array       bool

	terminateID string
}

// parseQuery parses the raw query values against the current stream size,
// needed to resolve tail=<k> into an absolute start index, and the current
// time, needed to resolve recent=<us> into an absolute since bound.
func parseQuery(values url.Values, now time.Time, size uint64) (queryParams, error) {
	var p queryParams

	if v := values.Get("terminate"); v != "" {
		p.terminateID = v
		return p, nil
	}

	if v := values.Get("since"); v != "" {
		us, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, errors.Wrapf(ErrMalformedQuery, "since=%q", v)
		}
		p.sinceUS, p.hasSince = us, true
	}
	if v := values.Get("recent"); v != "" {
		us, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, errors.Wrapf(ErrMalformedQuery, "recent=%q", v)
		}
		recentSince := now.UnixMicro() - us
		if !p.hasSince || recentSince > p.sinceUS {
			p.sinceUS, p.hasSince = recentSince, true
		}
	}

	if v := values.Get("i"); v != "" {
		idx, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return p, errors.Wrapf(ErrMalformedQuery, "i=%q", v)
		}
		p.startIndex, p.hasStart = idx, true
	}
	if v := values.Get("tail"); v != "" {
		k, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return p, errors.Wrapf(ErrMalformedQuery, "tail=%q", v)
		}
		var tailStart uint64
		if k < size {
			tailStart = size - k
		}
		// "the tighter bound wins" — the larger of the two lower bounds.
		if !p.hasStart || tailStart > p.startIndex {
			p.startIndex, p.hasStart = tailStart, true
		}
	}

	if v := values.Get("n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.Wrapf(ErrMalformedQuery, "n=%q", v)
		}
		p.n, p.hasN = n, true
	}
	if v := values.Get("period"); v != "" {
		us, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, errors.Wrapf(ErrMalformedQuery, "period=%q", v)
		}
		p.periodUS, p.hasPeriod = us, true
	}
	if _, ok := values["nowait"]; ok {
		p.nowait = true
	}
	if v := values.Get("stop_after_bytes"); v != "" {
		b, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, errors.Wrapf(ErrMalformedQuery, "stop_after_bytes=%q", v)
		}
		p.stopAfterBytes, p.hasStopBytes = b, true
	}
	if _, ok := values["sizeonly"]; ok {
		p.sizeonly = true
	}
	if _, ok := values["schema"]; ok {
		p.schema = true
		p.schemaLang = values.Get("schema")
	}
	if _, ok := values["entries_only"]; ok {
		p.entriesOnly = true
	}
	if _, ok := values["array"]; ok {
		p.array = true
	}

	return p, nil
}
