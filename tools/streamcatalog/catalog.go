// Package streamcatalog walks a directory of file-persister logs (and
// streamdump backups) and reports what each one contains: first/last
// index, first/last timestamp, and size — without replaying payloads.
//
// Grounded directly on tools/replay_catalog/catalog.go's
// filepath.WalkDir + sorted JSON entries, generalized from replay headers
// to persister files and streamdump backups.
package streamcatalog

import (
	"bufio"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/C5T/Current-sub007/internal/idxts"
)

// Entry summarizes one stream file's contents.
type Entry struct {
	Path        string `json:"path"`
	Entries     uint64 `json:"entries"`
	FirstIndex  uint64 `json:"first_index,omitempty"`
	LastIndex   uint64 `json:"last_index,omitempty"`
	FirstUS     int64  `json:"first_us,omitempty"`
	LastUS      int64  `json:"last_us,omitempty"`
	HeadUS      int64  `json:"head_us"`
	SizeOnDisk  int64  `json:"size_bytes"`
}

// List walks root, inspecting every ".log" persister file and every
// ".sz" streamdump backup it finds, and returns entries sorted by path.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", root)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%s is not a directory", root)
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		switch {
		case strings.HasSuffix(d.Name(), ".log"):
			entry, err := inspectPlainLog(path)
			if err != nil {
				return errors.Wrapf(err, "inspect %s", path)
			}
			entries = append(entries, entry)
		case strings.HasSuffix(d.Name(), ".sz"):
			entry, err := inspectSnappyLog(path)
			if err != nil {
				return errors.Wrapf(err, "inspect %s", path)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func inspectPlainLog(path string) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Entry{}, err
	}
	entry, err := scanLines(path, f)
	if err != nil {
		return Entry{}, err
	}
	entry.SizeOnDisk = info.Size()
	return entry, nil
}

func inspectSnappyLog(path string) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Entry{}, err
	}
	entry, err := scanLines(path, snappy.NewReader(f))
	if err != nil {
		return Entry{}, err
	}
	entry.SizeOnDisk = info.Size()
	return entry, nil
}

// scanLines reads "<idxts-json>\t<payload-json>" / "#HEAD\t<us>" lines the
// same way internal/persist's replay does, but only to summarize —
// payloads are never unmarshalled.
func scanLines(path string, r io.Reader) (Entry, error) {
	entry := Entry{Path: path}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#HEAD\t") {
			us, err := strconv.ParseInt(strings.TrimPrefix(line, "#HEAD\t"), 10, 64)
			if err == nil && us > entry.HeadUS {
				entry.HeadUS = us
			}
			continue
		}
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		var it idxts.IdxTS
		if err := json.Unmarshal([]byte(line[:tab]), &it); err != nil {
			continue
		}
		if first {
			entry.FirstIndex, entry.FirstUS = it.Index, it.US
			first = false
		}
		entry.LastIndex, entry.LastUS = it.Index, it.US
		if it.US > entry.HeadUS {
			entry.HeadUS = it.US
		}
		entry.Entries++
	}
	if err := scanner.Err(); err != nil {
		return entry, err
	}
	return entry, nil
}

// MarshalEntries produces a stable, indented JSON representation for CLI
// output, matching tools/replay_catalog.MarshalEntries.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
