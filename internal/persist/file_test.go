package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/C5T/Current-sub007/internal/idxts"
)

func TestFilePublishAndReopenRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")

	f, err := NewFile[string](path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, payload := range []string{"alpha", "beta", "gamma"} {
		it, err := f.Publish(payload, int64(100+i))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if it.Index != uint64(i) {
			t.Fatalf("expected index %d, got %d", i, it.Index)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened, err := NewFile[string](path)
	if err != nil {
		t.Fatalf("unexpected error reopening: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Size(); got != 3 {
		t.Fatalf("expected size 3 after reopen, got %d", got)
	}
	if got := reopened.Head(); got != 102 {
		t.Fatalf("expected head 102 after reopen, got %d", got)
	}

	it, err := reopened.Iterate(0, NoEnd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var payloads []string
	for it.Next() {
		payloads = append(payloads, it.Entry().Payload)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("unexpected iteration error: %v", err)
	}
	want := []string{"alpha", "beta", "gamma"}
	if len(payloads) != len(want) {
		t.Fatalf("expected %v, got %v", want, payloads)
	}
	for i := range want {
		if payloads[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, payloads)
		}
	}
}

func TestFilePublishRejectsNonIncreasingTimestamp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")

	f, err := NewFile[string](path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	if _, err := f.Publish("a", 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.Publish("b", 100); errors.Cause(err) != idxts.ErrInconsistentTimestamp {
		t.Fatalf("expected ErrInconsistentTimestamp for equal timestamp, got %v", err)
	}
	if _, err := f.Publish("c", 50); errors.Cause(err) != idxts.ErrInconsistentTimestamp {
		t.Fatalf("expected ErrInconsistentTimestamp for decreasing timestamp, got %v", err)
	}
	if got := f.Size(); got != 1 {
		t.Fatalf("rejected publishes must not mutate state, size=%d", got)
	}
}

func TestFileUpdateHeadSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")

	f, err := NewFile[string](path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.Publish("a", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.UpdateHead(999); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened, err := NewFile[string](path)
	if err != nil {
		t.Fatalf("unexpected error reopening: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Head(); got != 999 {
		t.Fatalf("expected head 999 after reopen, got %d", got)
	}
	if got := reopened.Size(); got != 1 {
		t.Fatalf("UpdateHead must not count as an entry, size=%d", got)
	}
}

func TestFileUpdateHeadIsIdempotentOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")

	f, err := NewFile[string](path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	if err := f.UpdateHead(777); err != nil {
		t.Fatalf("first update_head must succeed: %v", err)
	}
	if err := f.UpdateHead(777); errors.Cause(err) != idxts.ErrInconsistentTimestamp {
		t.Fatalf("second update_head with same us must fail with ErrInconsistentTimestamp, got %v", err)
	}
}

func TestFileRejectsMalformedLineOnOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")
	if err := os.WriteFile(path, []byte("not a valid line at all\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := NewFile[string](path); errors.Cause(err) != idxts.ErrMalformedEntry {
		t.Fatalf("expected ErrMalformedEntry, got %v", err)
	}
}

func TestFileRejectsInconsistentIndexOnOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")
	content := `{"Index":0,"US":1}` + "\t" + `"a"` + "\n" +
		`{"Index":2,"US":2}` + "\t" + `"b"` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := NewFile[string](path); errors.Cause(err) != idxts.ErrInconsistentIndex {
		t.Fatalf("expected ErrInconsistentIndex, got %v", err)
	}
}

func TestFileRejectsInconsistentTimestampOnOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")
	content := `{"Index":0,"US":10}` + "\t" + `"a"` + "\n" +
		`{"Index":1,"US":5}` + "\t" + `"b"` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := NewFile[string](path); errors.Cause(err) != idxts.ErrInconsistentTimestamp {
		t.Fatalf("expected ErrInconsistentTimestamp, got %v", err)
	}
}

func TestFileIterateUsesIndependentReadHandlePerCall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")

	f, err := NewFile[int](path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	for i := 0; i < 3; i++ {
		if _, err := f.Publish(i, int64(i)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	it1, err := f.Iterate(0, NoEnd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	it2, err := f.Iterate(0, NoEnd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Advance it1 fully while it2 has made no progress, proving the two
	// iterators do not share a cursor.
	var count1 int
	for it1.Next() {
		count1++
	}
	if count1 != 3 {
		t.Fatalf("expected 3 entries from it1, got %d", count1)
	}

	var count2 int
	for it2.Next() {
		count2++
	}
	if count2 != 3 {
		t.Fatalf("expected 3 entries from it2, got %d", count2)
	}
}

func TestFileIterateRejectsInvalidRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.log")

	f, err := NewFile[int](path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	if _, err := f.Publish(1, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.Iterate(0, 10); errors.Cause(err) != idxts.ErrInvalidRange {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := f.Iterate(5, 1); errors.Cause(err) != idxts.ErrInvalidRange {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}
