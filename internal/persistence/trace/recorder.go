package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Recorder appends frames to a trace. Writes are buffered until Flush.
// Finish writes the trailer and must be the last call.
type Recorder struct {
	bw      *bufio.Writer
	zw      *zstd.Encoder
	file    *os.File
	frame   []byte
	written int64
	closed  bool
}

// Create opens path for writing, compressing when the name ends in .zst.
func Create(path string, meta RunMeta) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	var w io.Writer = f
	var zw *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		zw, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		w = zw
	}
	r, err := newRecorder(w, meta)
	if err != nil {
		if zw != nil {
			_ = zw.Close()
		}
		_ = f.Close()
		return nil, err
	}
	r.zw = zw
	r.file = f
	return r, nil
}

// NewRecorder writes an uncompressed trace to w. The caller owns w.
func NewRecorder(w io.Writer, meta RunMeta) (*Recorder, error) {
	return newRecorder(w, meta)
}

func newRecorder(w io.Writer, meta RunMeta) (*Recorder, error) {
	if meta.Version == 0 {
		meta.Version = SchemaVersion
	}
	r := &Recorder{bw: bufio.NewWriterSize(w, 64*1024)}
	if _, err := r.bw.WriteString(magic); err != nil {
		return nil, err
	}
	r.written += int64(len(magic))
	if err := r.writeFrame(frameMeta, encodeMeta(meta)); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) writeFrame(kind byte, payload []byte) error {
	r.frame = appendFrame(r.frame[:0], kind, payload)
	n, err := r.bw.Write(r.frame)
	r.written += int64(n)
	if err != nil {
		return fmt.Errorf("trace write: %w", err)
	}
	return nil
}

// Push buffers one tick record.
func (r *Recorder) Push(ev TickEvents) error {
	if r.closed {
		return ErrRecorderClosed
	}
	return r.writeFrame(frameTick, encodeTick(ev))
}

// Flush pushes buffered frames to the underlying writer.
func (r *Recorder) Flush() error {
	if r.closed {
		return ErrRecorderClosed
	}
	if err := r.bw.Flush(); err != nil {
		return fmt.Errorf("trace flush: %w", err)
	}
	if r.zw != nil {
		if err := r.zw.Flush(); err != nil {
			return fmt.Errorf("trace flush: %w", err)
		}
	}
	return nil
}

// Written is the uncompressed byte count handed to the buffer so far.
func (r *Recorder) Written() int64 { return r.written }

// Finish appends the trailer, flushes and closes anything Create opened.
func (r *Recorder) Finish(t Trailer) error {
	if r.closed {
		return ErrRecorderClosed
	}
	r.closed = true
	err := r.writeFrame(frameTrailer, encodeTrailer(t))
	if err == nil {
		err = r.bw.Flush()
	}
	if r.zw != nil {
		if cerr := r.zw.Close(); err == nil {
			err = cerr
		}
	}
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("trace finish: %w", err)
	}
	return nil
}

// Close releases the recorder without a trailer, leaving an unusable trace.
// It is a no-op after Finish.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.bw.Flush()
	if r.zw != nil {
		if cerr := r.zw.Close(); err == nil {
			err = cerr
		}
	}
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
