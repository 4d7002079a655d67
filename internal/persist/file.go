package persist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/C5T/Current-sub007/internal/idxts"
)

// headPrefix marks a watermark-only line (no entry attached), written by
// UpdateHead. The us value is zero-padded to sort and grep predictably,
// matching the fixed-width convention of the original file format.
const headPrefix = "#HEAD\t"

// File is an append-only, file-backed Persister. Unlike Memory, it
// requires strictly increasing (<) timestamps, matching
// Blocks/Persistence/file.h's stricter monotonicity rule.
type File[E any] struct {
	mu       sync.Mutex
	path     string
	appendFh *os.File
	size     uint64
	lastUS   int64
	headUS   int64
	headSet  bool
}

var _ Persister[int] = (*File[int])(nil)

// NewFile opens (creating if necessary) the file at path, replays its
// existing contents to rebuild (size, lastUS, headUS) exactly as
// FilePersister::Impl::ValidateFileAndInitializeNext does, and returns a
// persister ready to accept further Publish/UpdateHead calls.
func NewFile[E any](path string) (*File[E], error) {
	if err := validateAndInitialize[E](path); err != nil {
		return nil, err
	}

	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s for append", path)
	}

	f := &File[E]{path: path, appendFh: fh}
	size, lastUS, headUS, headSet, err := replay[E](path)
	if err != nil {
		fh.Close()
		return nil, err
	}
	f.size, f.lastUS, f.headUS, f.headSet = size, lastUS, headUS, headSet
	return f, nil
}

// validateAndInitialize performs a read-only replay purely to surface
// malformed-file errors before the append handle is opened.
func validateAndInitialize[E any](path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	_, _, _, _, err := replay[E](path)
	return err
}

// replay scans the whole file from the start, validating contiguous
// indices and strictly increasing timestamps, and returns the resulting
// (size, lastUS, headUS, headSet).
func replay[E any](path string) (size uint64, lastUS int64, headUS int64, headSet bool, err error) {
	fh, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, 0, false, errors.Wrapf(err, "open %s for replay", path)
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var nextIndex uint64
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, headPrefix) {
			us, perr := strconv.ParseInt(strings.TrimPrefix(line, headPrefix), 10, 64)
			if perr != nil {
				return 0, 0, 0, false, errors.Wrapf(idxts.ErrMalformedEntry, "line %d: malformed head marker", lineNo)
			}
			if headSet && us <= headUS {
				return 0, 0, 0, false, errors.Wrapf(idxts.ErrInconsistentTimestamp, "line %d: head us=%d <= previous head=%d", lineNo, us, headUS)
			}
			headUS = us
			headSet = true
			continue
		}

		it, _, perr := parseLine[E](line)
		if perr != nil {
			return 0, 0, 0, false, errors.Wrapf(perr, "line %d", lineNo)
		}
		if it.Index != nextIndex {
			return 0, 0, 0, false, errors.Wrapf(idxts.ErrInconsistentIndex, "line %d: expected index %d, got %d", lineNo, nextIndex, it.Index)
		}
		if it.US <= lastUS && nextIndex != 0 {
			return 0, 0, 0, false, errors.Wrapf(idxts.ErrInconsistentTimestamp, "line %d: us=%d not strictly greater than previous=%d", lineNo, it.US, lastUS)
		}
		nextIndex++
		lastUS = it.US
		if !headSet || lastUS > headUS {
			headUS = lastUS
			headSet = true
		}
	}
	if serr := scanner.Err(); serr != nil {
		return 0, 0, 0, false, errors.Wrapf(serr, "scan %s", path)
	}
	return nextIndex, lastUS, headUS, headSet, nil
}

// parseLine splits a "<idxts-json>\t<payload-json>" line.
func parseLine[E any](line string) (idxts.IdxTS, E, error) {
	var zero E
	tab := strings.IndexByte(line, '\t')
	if tab < 0 {
		return idxts.Zero, zero, errors.Wrap(idxts.ErrMalformedEntry, "no tab separator")
	}
	var it idxts.IdxTS
	if err := json.Unmarshal([]byte(line[:tab]), &it); err != nil {
		return idxts.Zero, zero, errors.Wrap(idxts.ErrMalformedEntry, "bad idxts json")
	}
	var payload E
	if err := json.Unmarshal([]byte(line[tab+1:]), &payload); err != nil {
		return idxts.Zero, zero, errors.Wrap(idxts.ErrMalformedEntry, "bad payload json")
	}
	return it, payload, nil
}

// Publish appends payload at the next index. us must be strictly greater
// than the last published timestamp; violating this returns
// idxts.ErrInconsistentTimestamp before any state is mutated.
func (f *File[E]) Publish(payload E, us int64) (idxts.IdxTS, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.size != 0 && us <= f.lastUS {
		return idxts.Zero, errors.Wrapf(idxts.ErrInconsistentTimestamp, "publish us=%d <= last=%d", us, f.lastUS)
	}

	it := idxts.IdxTS{Index: f.size, US: us}
	idxtsJSON, err := json.Marshal(it)
	if err != nil {
		return idxts.Zero, errors.Wrap(err, "marshal idxts")
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return idxts.Zero, errors.Wrap(err, "marshal payload")
	}
	if _, err := fmt.Fprintf(f.appendFh, "%s\t%s\n", idxtsJSON, payloadJSON); err != nil {
		return idxts.Zero, errors.Wrapf(err, "append to %s", f.path)
	}
	if err := f.appendFh.Sync(); err != nil {
		return idxts.Zero, errors.Wrapf(err, "sync %s", f.path)
	}

	f.size++
	f.lastUS = us
	if !f.headSet || us > f.headUS {
		f.headUS = us
		f.headSet = true
	}
	return it, nil
}

// UpdateHead advances the watermark without publishing an entry, writing a
// "#HEAD" marker line so the watermark survives a reopen. us must be
// strictly greater than both the last published timestamp and the current
// head — the latter rule is what makes update_head(us); update_head(us)
// succeed only on the first call.
func (f *File[E]) UpdateHead(us int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.size != 0 && us <= f.lastUS {
		return errors.Wrapf(idxts.ErrInconsistentTimestamp, "update_head us=%d <= last=%d", us, f.lastUS)
	}
	if f.headSet && us <= f.headUS {
		return errors.Wrapf(idxts.ErrInconsistentTimestamp, "update_head us=%d <= head=%d", us, f.headUS)
	}
	if _, err := fmt.Fprintf(f.appendFh, "%s%020d\n", headPrefix, us); err != nil {
		return errors.Wrapf(err, "append head marker to %s", f.path)
	}
	if err := f.appendFh.Sync(); err != nil {
		return errors.Wrapf(err, "sync %s", f.path)
	}
	f.headUS = us
	f.headSet = true
	return nil
}

// Size returns the number of published entries.
func (f *File[E]) Size() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// Head returns the current watermark.
func (f *File[E]) Head() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headUS
}

// Iterate opens an independent read handle over the file — never sharing
// a cursor with the append handle or with any other iterator — and walks
// entries in [begin, end), matching IteratorOverFileOfPersistedEntries.
func (f *File[E]) Iterate(begin, end uint64) (Iterator[E], error) {
	f.mu.Lock()
	size := f.size
	path := f.path
	f.mu.Unlock()

	if end == NoEnd {
		end = size
	}
	if begin > end || end > size {
		return nil, errors.Wrapf(idxts.ErrInvalidRange, "begin=%d end=%d size=%d", begin, end, size)
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s for iteration", path)
	}
	return &fileIterator[E]{fh: fh, scanner: bufio.NewScanner(fh), begin: begin, end: end}, nil
}

// Close releases the append handle.
func (f *File[E]) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendFh.Close()
}

type fileIterator[E any] struct {
	fh      *os.File
	scanner *bufio.Scanner
	begin   uint64
	end     uint64
	seen    uint64
	current Entry[E]
	err     error
	done    bool
}

func (it *fileIterator[E]) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	for it.seen < it.end {
		if !it.scanner.Scan() {
			if serr := it.scanner.Err(); serr != nil {
				it.err = errors.Wrap(serr, "scan iteration")
			} else if it.seen < it.end {
				it.err = errors.Wrap(idxts.ErrInvalidRange, "file truncated before requested end")
			}
			it.done = true
			it.fh.Close()
			return false
		}
		line := it.scanner.Text()
		if line == "" || strings.HasPrefix(line, headPrefix) {
			continue
		}
		idx := it.seen
		it.seen++
		if idx < it.begin {
			continue
		}
		iTS, payload, perr := parseLine[E](line)
		if perr != nil {
			it.err = errors.Wrapf(perr, "entry at index %d", idx)
			it.done = true
			it.fh.Close()
			return false
		}
		it.current = Entry[E]{IdxTS: iTS, Payload: payload}
		return true
	}
	it.done = true
	it.fh.Close()
	return false
}

func (it *fileIterator[E]) Entry() Entry[E] { return it.current }

func (it *fileIterator[E]) Err() error {
	return it.err
}
