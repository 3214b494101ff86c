package log

import (
	"fmt"
	"path/filepath"
	"testing"
)

func TestHashLogger_SegmentsAndReadBack(t *testing.T) {
	dir := t.TempDir()
	l := NewHashLogger(dir, 1000)
	for tick := uint64(600); tick <= 3000; tick += 600 {
		e := HashEntry{RunID: "r", Tick: tick, Hash: fmt.Sprintf("%#018x", tick*7)}
		if tick == 1200 {
			e.Parts = map[string]string{"position": "0x01"}
		}
		if err := l.WriteHash(e); err != nil {
			t.Fatalf("WriteHash(%d): %v", tick, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "hashes-*.jsonl.zst"))
	// 600 | 1200 1800 | 2400 | 3000
	if len(files) != 4 {
		t.Fatalf("segments=%v", files)
	}

	got, err := ReadHashLog(dir)
	if err != nil {
		t.Fatalf("ReadHashLog: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("entries=%d", len(got))
	}
	for i, e := range got {
		want := uint64(600 * (i + 1))
		if e.Tick != want || e.Hash != fmt.Sprintf("%#018x", want*7) {
			t.Fatalf("entry %d = %+v", i, e)
		}
	}
	if got[1].Parts["position"] != "0x01" {
		t.Fatalf("parts lost: %+v", got[1])
	}
}

func TestHashLogger_FlushKeepsSegmentOpen(t *testing.T) {
	dir := t.TempDir()
	l := NewHashLogger(dir, 0)
	if err := l.WriteHash(HashEntry{Tick: 1, Hash: "0x1"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := l.WriteHash(HashEntry{Tick: 2, Hash: "0x2"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	got, err := ReadHashLog(dir)
	if err != nil {
		t.Fatalf("ReadHashLog: %v", err)
	}
	if len(got) != 2 || got[0].Tick != 1 || got[1].Tick != 2 {
		t.Fatalf("got %+v", got)
	}
}
