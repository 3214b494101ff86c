package trace

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Player reads a trace back tick by tick. The trailer is located and checked
// when the player is opened, before any record is handed out.
type Player struct {
	br      *bufio.Reader
	closers []io.Closer

	meta    RunMeta
	trailer Trailer

	peek         *TickEvents
	more         bool
	eof          bool
	seen         bool
	lastTickSeen uint64
}

func unusable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTraceUnusable, fmt.Sprintf(format, args...))
}

// Open opens a trace file; *.zst files are decompressed.
func Open(path string) (*Player, error) {
	compressed := strings.HasSuffix(path, ".zst")

	tail, total, err := scanFile(path, compressed)
	if err != nil {
		return nil, err
	}
	tr, err := decodeTrailerFrame(tail)
	if err != nil {
		return nil, unusable("%s: %v", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var r io.Reader = f
	closers := []io.Closer{f}
	if compressed {
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, unusable("%s: %v", path, err)
		}
		r = dec
		closers = append([]io.Closer{decoderCloser{dec}}, closers...)
	}
	p, err := newPlayer(io.LimitReader(r, total-trailerFrameLen), tr)
	if err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}
	p.closers = closers
	return p, nil
}

// NewPlayerBytes plays an uncompressed trace held in memory.
func NewPlayerBytes(b []byte) (*Player, error) {
	if len(b) < len(magic)+trailerFrameLen {
		return nil, unusable("trace too short (%d bytes)", len(b))
	}
	tr, err := decodeTrailerFrame(b[len(b)-trailerFrameLen:])
	if err != nil {
		return nil, unusable("%v", err)
	}
	return newPlayer(bytes.NewReader(b[:len(b)-trailerFrameLen]), tr)
}

func newPlayer(body io.Reader, tr Trailer) (*Player, error) {
	p := &Player{br: bufio.NewReaderSize(body, 64*1024), trailer: tr}
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(p.br, head); err != nil || string(head) != magic {
		return nil, unusable("bad magic")
	}
	kind, payload, err := p.readFrame()
	if err != nil {
		return nil, unusable("meta: %v", err)
	}
	if kind != frameMeta {
		return nil, unusable("first frame kind %d, want meta", kind)
	}
	if p.meta, err = decodeMeta(payload); err != nil {
		return nil, unusable("meta: %v", err)
	}
	if p.meta.Version != SchemaVersion {
		return nil, unusable("schema version %d, want %d", p.meta.Version, SchemaVersion)
	}
	return p, nil
}

func (p *Player) Meta() RunMeta        { return p.meta }
func (p *Player) Trailer() Trailer     { return p.trailer }
func (p *Player) EOF() bool            { return p.eof && p.peek == nil }
func (p *Player) LastTickSeen() uint64 { return p.lastTickSeen }

// readFrame returns io.EOF only at a clean frame boundary.
func (p *Player) readFrame() (byte, []byte, error) {
	kind, err := p.br.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	n, err := binary.ReadUvarint(p.br)
	if err != nil {
		return 0, nil, noEOF(err)
	}
	if n > maxFrameLen {
		return 0, nil, fmt.Errorf("frame length %d too large", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(p.br, payload); err != nil {
		return 0, nil, noEOF(err)
	}
	return kind, payload, nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// NextForTick returns the records stamped with tick. It reads at most
// MaxBatch frames and keeps the first record of a later tick for the next
// call; when the cap cuts a tick short, More reports true and the caller asks
// again for the same tick. Ticks must be requested in order: a record for a
// tick already passed, or one at or past the trailer end tick, makes the trace
// unusable.
func (p *Player) NextForTick(tick uint64) ([]TickEvents, error) {
	p.more = false
	var out []TickEvents
	if p.peek != nil {
		if p.peek.Tick > tick {
			return nil, nil
		}
		if p.peek.Tick < tick {
			return nil, unusable("record for tick %d skipped (now at tick %d)", p.peek.Tick, tick)
		}
		out = append(out, *p.peek)
		p.peek = nil
	}
	n := 0
	for ; n < MaxBatch && !p.eof; n++ {
		kind, payload, err := p.readFrame()
		if err == io.EOF {
			p.eof = true
			break
		}
		if err != nil {
			return out, unusable("%v", err)
		}
		if kind != frameTick {
			return out, unusable("unexpected frame kind %d", kind)
		}
		ev, err := decodeTick(payload)
		if err != nil {
			return out, unusable("tick frame: %v", err)
		}
		if p.seen && ev.Tick < p.lastTickSeen {
			return out, unusable("tick %d after tick %d", ev.Tick, p.lastTickSeen)
		}
		p.seen = true
		p.lastTickSeen = ev.Tick

		if ev.Tick >= p.trailer.EndTick {
			return out, unusable("record for tick %d at or past trailer end tick %d", ev.Tick, p.trailer.EndTick)
		}
		if ev.Tick < tick {
			return out, unusable("record for tick %d skipped (now at tick %d)", ev.Tick, tick)
		}
		if ev.Tick == tick {
			out = append(out, ev)
			continue
		}
		p.peek = &ev
		break
	}
	p.more = n == MaxBatch && p.peek == nil && !p.eof
	return out, nil
}

// More reports whether the last NextForTick call stopped at the batch cap
// with records for its tick possibly still unread.
func (p *Player) More() bool { return p.more }

func (p *Player) Close() error {
	var err error
	for _, c := range p.closers {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	p.closers = nil
	return err
}

type decoderCloser struct{ d *zstd.Decoder }

func (c decoderCloser) Close() error {
	c.d.Close()
	return nil
}

// scanFile returns the last trailerFrameLen bytes of the (decompressed)
// stream and its total length.
func scanFile(path string, compressed bool) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	if !compressed {
		st, err := f.Stat()
		if err != nil {
			return nil, 0, err
		}
		size := st.Size()
		if size < int64(len(magic)+trailerFrameLen) {
			return nil, 0, unusable("%s: too short (%d bytes)", path, size)
		}
		tail := make([]byte, trailerFrameLen)
		if _, err := f.ReadAt(tail, size-trailerFrameLen); err != nil {
			return nil, 0, err
		}
		return tail, size, nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, 0, unusable("%s: %v", path, err)
	}
	defer dec.Close()

	buf := make([]byte, 32*1024)
	tail := make([]byte, 0, trailerFrameLen+len(buf))
	var total int64
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			total += int64(n)
			tail = append(tail, buf[:n]...)
			if len(tail) > trailerFrameLen {
				copy(tail, tail[len(tail)-trailerFrameLen:])
				tail = tail[:trailerFrameLen]
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, unusable("%s: %v", path, err)
		}
	}
	if total < int64(len(magic)+trailerFrameLen) {
		return nil, 0, unusable("%s: too short (%d bytes)", path, total)
	}
	return tail, total, nil
}
