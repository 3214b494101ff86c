package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to zstd files, one file per segment key.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu     sync.Mutex
	curSeg string
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write appends v to the file of segment seg, rotating when seg changes.
func (w *JSONLZstdWriter) Write(seg string, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if seg != w.curSeg || w.w == nil {
		if err := w.rotateLocked(seg); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines through the encoder.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(seg string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForSegment(seg), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curSeg = seg
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		err1 = w.w.Flush()
	}
	if w.enc != nil {
		if err := w.enc.Close(); err1 == nil {
			err1 = err
		}
		w.enc = nil
	}
	if w.f != nil {
		if err := w.f.Close(); err1 == nil {
			err1 = err
		}
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForSegment(seg string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, seg))
}

// HashEntry is one periodic world hash.
type HashEntry struct {
	RunID string            `json:"run_id,omitempty"`
	Tick  uint64            `json:"tick"`
	Hash  string            `json:"hash"`
	Parts map[string]string `json:"parts,omitempty"`
}

// HashLogger writes hash entries into files covering SegmentTicks ticks each.
type HashLogger struct {
	w            *JSONLZstdWriter
	SegmentTicks uint64
}

const DefaultSegmentTicks = 36000

func NewHashLogger(dir string, segmentTicks uint64) *HashLogger {
	if segmentTicks == 0 {
		segmentTicks = DefaultSegmentTicks
	}
	return &HashLogger{w: NewJSONLZstdWriter(dir, "hashes"), SegmentTicks: segmentTicks}
}

func (l *HashLogger) segment(tick uint64) string {
	return fmt.Sprintf("%012d", tick/l.SegmentTicks*l.SegmentTicks)
}

func (l *HashLogger) WriteHash(e HashEntry) error { return l.w.Write(l.segment(e.Tick), e) }
func (l *HashLogger) Flush() error                { return l.w.Flush() }
func (l *HashLogger) Close() error                { return l.w.Close() }

// ReadHashLog reads every hashes-*.jsonl.zst file in dir, ordered by tick.
func ReadHashLog(dir string) ([]HashEntry, error) {
	names, err := filepath.Glob(filepath.Join(dir, "hashes-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	var out []HashEntry
	for _, name := range names {
		entries, err := readSegment(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(name), err)
		}
		out = append(out, entries...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

func readSegment(path string) ([]HashEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []HashEntry
	jd := json.NewDecoder(dec)
	for {
		var e HashEntry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, e)
	}
}
