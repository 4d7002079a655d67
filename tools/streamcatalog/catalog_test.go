package streamcatalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"
)

func TestListSummarizesPlainAndSnappyLogs(t *testing.T) {
	dir := t.TempDir()

	plainPath := filepath.Join(dir, "primary.log")
	plain := "{\"Index\":0,\"US\":100}\t\"a\"\n#HEAD\t00000000000000000150\n{\"Index\":1,\"US\":200}\t\"b\"\n"
	if err := os.WriteFile(plainPath, []byte(plain), 0o644); err != nil {
		t.Fatalf("write plain log: %v", err)
	}

	backupPath := filepath.Join(dir, "backup.jsonl.sz")
	f, err := os.Create(backupPath)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	w := snappy.NewBufferedWriter(f)
	if _, err := w.Write([]byte("{\"Index\":0,\"US\":50}\t\"c\"\n{\"Index\":1,\"US\":75}\t\"d\"\n")); err != nil {
		t.Fatalf("write backup: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close backup writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close backup file: %v", err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	byPath := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byPath[e.Path] = e
	}

	plainEntry, ok := byPath[plainPath]
	if !ok {
		t.Fatalf("missing entry for %s", plainPath)
	}
	if plainEntry.Entries != 2 || plainEntry.FirstUS != 100 || plainEntry.LastUS != 200 {
		t.Fatalf("unexpected plain log summary: %+v", plainEntry)
	}

	backupEntry, ok := byPath[backupPath]
	if !ok {
		t.Fatalf("missing entry for %s", backupPath)
	}
	if backupEntry.Entries != 2 || backupEntry.FirstUS != 50 || backupEntry.LastUS != 75 {
		t.Fatalf("unexpected backup summary: %+v", backupEntry)
	}

	payload, err := MarshalEntries(entries)
	if err != nil {
		t.Fatalf("MarshalEntries: %v", err)
	}
	if len(payload) == 0 {
		t.Fatal("expected non-empty JSON payload")
	}
}
