package trace

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"anvil.sim/internal/sim/command"
	"anvil.sim/internal/sim/ecs"
)

var testMeta = RunMeta{SimHz: 60, Seed: 0xDEADBEEFCAFEBABE, Version: SchemaVersion}

func boolPtr(v bool) *bool { return &v }

func entityPtr(e ecs.Entity) *ecs.Entity { return &e }

func sampleEvents() []TickEvents {
	return []TickEvents{
		{Tick: 0},
		{
			Tick:     1,
			Props:    &PropsDelta{Selected: entityPtr(13), DrawGrid: boolPtr(false)},
			Commands: []command.EntityCommand{command.Move(13, 2.5, -0.25), command.Remove(4)},
		},
		{Tick: 2, Props: &PropsDelta{Quit: boolPtr(true)}},
	}
}

func record(t *testing.T, evs []TickEvents, tr *Trailer) []byte {
	t.Helper()
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf, testMeta)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	for _, ev := range evs {
		if err := rec.Push(ev); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if tr != nil {
		if err := rec.Finish(*tr); err != nil {
			t.Fatalf("Finish: %v", err)
		}
	} else if err := rec.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return buf.Bytes()
}

func playAll(t *testing.T, p *Player, until uint64) []TickEvents {
	t.Helper()
	var got []TickEvents
	for tick := uint64(0); tick < until; tick++ {
		evs, err := p.NextForTick(tick)
		if err != nil {
			t.Fatalf("NextForTick(%d): %v", tick, err)
		}
		got = append(got, evs...)
	}
	return got
}

func TestRoundTrip_Bytes(t *testing.T) {
	want := sampleEvents()
	tr := Trailer{EndTick: 3, FinalHash: 0x0123456789ABCDEF}
	p, err := NewPlayerBytes(record(t, want, &tr))
	if err != nil {
		t.Fatalf("NewPlayerBytes: %v", err)
	}
	if p.Meta() != testMeta {
		t.Fatalf("meta=%+v", p.Meta())
	}
	if p.Trailer() != tr {
		t.Fatalf("trailer=%+v", p.Trailer())
	}
	got := playAll(t, p, 4)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("records mismatch:\n got %+v\nwant %+v", got, want)
	}
	if !p.EOF() || p.LastTickSeen() != 2 {
		t.Fatalf("eof=%v last=%d", p.EOF(), p.LastTickSeen())
	}
}

func TestRoundTrip_CompressedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "a.trace.zst")
	rec, err := Create(path, testMeta)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	var want []TickEvents
	for i := uint64(0); i < 500; i++ {
		ev := TickEvents{Tick: i}
		if i%50 == 0 {
			ev.Commands = []command.EntityCommand{command.Move(ecs.Entity(i+1), float32(i), 1)}
		}
		want = append(want, ev)
		if err := rec.Push(ev); err != nil {
			t.Fatalf("Push: %v", err)
		}
		if i%100 == 0 {
			if err := rec.Flush(); err != nil {
				t.Fatalf("Flush: %v", err)
			}
		}
	}
	tr := Trailer{EndTick: 500, FinalHash: 42}
	if err := rec.Finish(tr); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()
	if p.Trailer() != tr {
		t.Fatalf("trailer=%+v", p.Trailer())
	}
	got := playAll(t, p, 501)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
}

func TestRecorder_ClosedAfterFinish(t *testing.T) {
	rec, err := NewRecorder(&bytes.Buffer{}, testMeta)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Finish(Trailer{}); err != nil {
		t.Fatal(err)
	}
	if err := rec.Push(TickEvents{}); !errors.Is(err, ErrRecorderClosed) {
		t.Fatalf("Push after Finish: %v", err)
	}
	if err := rec.Finish(Trailer{}); !errors.Is(err, ErrRecorderClosed) {
		t.Fatalf("second Finish: %v", err)
	}
}

func TestPlayer_MissingTrailer(t *testing.T) {
	b := record(t, sampleEvents(), nil)
	if _, err := NewPlayerBytes(b); !errors.Is(err, ErrTraceUnusable) {
		t.Fatalf("expected ErrTraceUnusable, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "cut.trace")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrTraceUnusable) {
		t.Fatalf("Open: expected ErrTraceUnusable, got %v", err)
	}
}

func TestPlayer_TrailingGarbage(t *testing.T) {
	b := record(t, sampleEvents(), &Trailer{EndTick: 3})
	b = append(b, 0xFF, 0x00)
	if _, err := NewPlayerBytes(b); !errors.Is(err, ErrTraceUnusable) {
		t.Fatalf("expected ErrTraceUnusable, got %v", err)
	}
}

func TestPlayer_MidStreamCorruptionIsNotEOF(t *testing.T) {
	b := record(t, sampleEvents(), &Trailer{EndTick: 3})
	// magic + meta frame (1 kind + 1 len + 14 payload), then the first tick frame.
	off := len(magic) + 2 + 14
	if b[off] != frameTick {
		t.Fatalf("layout changed: byte %d = %d", off, b[off])
	}
	b[off] = 9

	p, err := NewPlayerBytes(b)
	if err != nil {
		t.Fatalf("NewPlayerBytes: %v", err)
	}
	if _, err := p.NextForTick(0); !errors.Is(err, ErrTraceUnusable) {
		t.Fatalf("expected ErrTraceUnusable, got %v", err)
	}
	if p.EOF() {
		t.Fatalf("corruption reported as EOF")
	}
}

func TestPlayer_UnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	meta := testMeta
	meta.Version = SchemaVersion + 1
	rec, err := NewRecorder(&buf, meta)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Finish(Trailer{EndTick: 0}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPlayerBytes(buf.Bytes()); !errors.Is(err, ErrTraceUnusable) {
		t.Fatalf("expected ErrTraceUnusable, got %v", err)
	}
}

func TestPlayer_RecordPastTrailerEnd(t *testing.T) {
	b := record(t, sampleEvents(), &Trailer{EndTick: 2})
	p, err := NewPlayerBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	var lastErr error
	for tick := uint64(0); tick < 4 && lastErr == nil; tick++ {
		_, lastErr = p.NextForTick(tick)
	}
	if !errors.Is(lastErr, ErrTraceUnusable) {
		t.Fatalf("expected ErrTraceUnusable, got %v", lastErr)
	}
}

func TestNextForTick_PeekAndBatch(t *testing.T) {
	var evs []TickEvents
	for i := 0; i < MaxBatch+6; i++ {
		evs = append(evs, TickEvents{Tick: 0, Commands: []command.EntityCommand{command.Remove(ecs.Entity(i + 1))}})
	}
	evs = append(evs, TickEvents{Tick: 5})
	p, err := NewPlayerBytes(record(t, evs, &Trailer{EndTick: 6}))
	if err != nil {
		t.Fatal(err)
	}

	first, err := p.NextForTick(0)
	if err != nil || len(first) != MaxBatch || !p.More() {
		t.Fatalf("first batch=%d more=%v err=%v", len(first), p.More(), err)
	}
	rest, err := p.NextForTick(0)
	if err != nil || len(rest) != 6 || p.More() {
		t.Fatalf("second batch=%d more=%v err=%v", len(rest), p.More(), err)
	}
	for tick := uint64(1); tick < 5; tick++ {
		got, err := p.NextForTick(tick)
		if err != nil || len(got) != 0 {
			t.Fatalf("tick %d: %v %v", tick, got, err)
		}
		if p.EOF() {
			t.Fatalf("EOF while a record is peeked")
		}
	}
	got, err := p.NextForTick(5)
	if err != nil || len(got) != 1 || got[0].Tick != 5 {
		t.Fatalf("tick 5: %v %v", got, err)
	}
	if _, err := p.NextForTick(6); err != nil {
		t.Fatal(err)
	}
	if !p.EOF() || p.LastTickSeen() != 5 {
		t.Fatalf("eof=%v last=%d", p.EOF(), p.LastTickSeen())
	}
}

func TestNextForTick_LargeTickDeliversEveryRecord(t *testing.T) {
	var evs []TickEvents
	for i := 0; i < 100; i++ {
		evs = append(evs, TickEvents{Tick: 5, Commands: []command.EntityCommand{command.Remove(ecs.Entity(i + 1))}})
	}
	evs = append(evs, TickEvents{Tick: 6})
	p, err := NewPlayerBytes(record(t, evs, &Trailer{EndTick: 7}))
	if err != nil {
		t.Fatal(err)
	}

	perTick := map[uint64]int{}
	for tick := uint64(0); tick < 7; tick++ {
		for {
			got, err := p.NextForTick(tick)
			if err != nil {
				t.Fatalf("NextForTick(%d): %v", tick, err)
			}
			for _, ev := range got {
				if ev.Tick != tick {
					t.Fatalf("asked for tick %d, got record for %d", tick, ev.Tick)
				}
			}
			perTick[tick] += len(got)
			if !p.More() {
				break
			}
		}
	}
	if perTick[5] != 100 || perTick[6] != 1 {
		t.Fatalf("records per tick=%v", perTick)
	}
}

func TestNextForTick_SkippedTickIsUnusable(t *testing.T) {
	p, err := NewPlayerBytes(record(t, sampleEvents(), &Trailer{EndTick: 3}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.NextForTick(0); err != nil {
		t.Fatal(err)
	}
	// Tick 1 is peeked; asking for tick 2 would drop it.
	if _, err := p.NextForTick(2); !errors.Is(err, ErrTraceUnusable) {
		t.Fatalf("expected ErrTraceUnusable, got %v", err)
	}

	q, err := NewPlayerBytes(record(t, sampleEvents(), &Trailer{EndTick: 3}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.NextForTick(1); !errors.Is(err, ErrTraceUnusable) {
		t.Fatalf("expected ErrTraceUnusable for unread tick 0, got %v", err)
	}
}
