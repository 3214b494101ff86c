// Package trace records the external input of a run and plays it back.
//
// A trace is the magic "ANVT" followed by frames of the form
// [kind u8][payload length uvarint][payload]. The first frame is RunMeta, then
// one frame per recorded step, then exactly one Trailer frame which must end
// the stream. Integers are little-endian and floats are stored as IEEE-754
// bits. Files named *.zst are zstd-compressed end to end.
package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"anvil.sim/internal/sim/command"
	"anvil.sim/internal/sim/ecs"
)

const SchemaVersion uint16 = 1

const magic = "ANVT"

const (
	frameMeta    byte = 1
	frameTick    byte = 2
	frameTrailer byte = 3
)

const (
	trailerPayloadLen = 16
	trailerFrameLen   = 1 + 1 + trailerPayloadLen
	maxFrameLen       = 1 << 20

	// MaxBatch bounds the frames NextForTick reads in one call.
	MaxBatch = 64
)

var (
	// ErrTraceUnusable means the trace cannot be replayed and must be re-recorded.
	ErrTraceUnusable  = errors.New("trace unusable")
	ErrRecorderClosed = errors.New("recorder closed")
)

type RunMeta struct {
	SimHz   uint32
	Seed    uint64
	Version uint16
}

// PropsDelta holds the host properties that changed during a step. Nil
// fields did not change.
type PropsDelta struct {
	Selected *ecs.Entity
	DrawGrid *bool
	Quit     *bool
}

func (d *PropsDelta) Empty() bool {
	return d == nil || (d.Selected == nil && d.DrawGrid == nil && d.Quit == nil)
}

// TickEvents is the external input injected at one tick.
type TickEvents struct {
	Tick     uint64
	Props    *PropsDelta
	Commands []command.EntityCommand
}

type Trailer struct {
	EndTick   uint64
	FinalHash uint64
}

func appendFrame(dst []byte, kind byte, payload []byte) []byte {
	dst = append(dst, kind)
	dst = binary.AppendUvarint(dst, uint64(len(payload)))
	return append(dst, payload...)
}

func encodeMeta(m RunMeta) []byte {
	b := make([]byte, 0, 14)
	b = binary.LittleEndian.AppendUint16(b, m.Version)
	b = binary.LittleEndian.AppendUint32(b, m.SimHz)
	b = binary.LittleEndian.AppendUint64(b, m.Seed)
	return b
}

const (
	propSelected = 1 << iota
	propDrawGrid
	propQuit
)

func encodeTick(ev TickEvents) []byte {
	b := make([]byte, 0, 16+len(ev.Commands)*17)
	b = binary.LittleEndian.AppendUint64(b, ev.Tick)

	var flags byte
	if p := ev.Props; p != nil {
		if p.Selected != nil {
			flags |= propSelected
		}
		if p.DrawGrid != nil {
			flags |= propDrawGrid
		}
		if p.Quit != nil {
			flags |= propQuit
		}
	}
	b = append(b, flags)
	if flags&propSelected != 0 {
		b = binary.LittleEndian.AppendUint64(b, ev.Props.Selected.ID())
	}
	if flags&propDrawGrid != 0 {
		b = append(b, boolByte(*ev.Props.DrawGrid))
	}
	if flags&propQuit != 0 {
		b = append(b, boolByte(*ev.Props.Quit))
	}

	b = binary.AppendUvarint(b, uint64(len(ev.Commands)))
	for _, c := range ev.Commands {
		b = binary.LittleEndian.AppendUint64(b, c.Entity.ID())
		b = append(b, byte(c.Kind))
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(c.X))
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(c.Y))
	}
	return b
}

func encodeTrailer(t Trailer) []byte {
	b := make([]byte, 0, trailerPayloadLen)
	b = binary.LittleEndian.AppendUint64(b, t.EndTick)
	b = binary.LittleEndian.AppendUint64(b, t.FinalHash)
	return b
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// cursor decodes a payload; the first short read sticks in err.
type cursor struct {
	b   []byte
	err error
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if len(c.b) < n {
		c.err = fmt.Errorf("payload short by %d bytes", n-len(c.b))
		return nil
	}
	out := c.b[:n]
	c.b = c.b[n:]
	return out
}

func (c *cursor) u8() byte {
	if b := c.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (c *cursor) u16() uint16 {
	if b := c.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (c *cursor) u32() uint32 {
	if b := c.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (c *cursor) u64() uint64 {
	if b := c.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (c *cursor) bool() bool {
	switch v := c.u8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		if c.err == nil {
			c.err = fmt.Errorf("bad bool byte %d", v)
		}
		return false
	}
}

func (c *cursor) uvarint() uint64 {
	if c.err != nil {
		return 0
	}
	v, n := binary.Uvarint(c.b)
	if n <= 0 {
		c.err = errors.New("bad uvarint")
		return 0
	}
	c.b = c.b[n:]
	return v
}

// finish reports the first decode error, or leftover bytes.
func (c *cursor) finish() error {
	if c.err != nil {
		return c.err
	}
	if len(c.b) != 0 {
		return fmt.Errorf("%d trailing payload bytes", len(c.b))
	}
	return nil
}

func decodeMeta(b []byte) (RunMeta, error) {
	c := &cursor{b: b}
	m := RunMeta{Version: c.u16()}
	m.SimHz = c.u32()
	m.Seed = c.u64()
	return m, c.finish()
}

func decodeTick(b []byte) (TickEvents, error) {
	c := &cursor{b: b}
	ev := TickEvents{Tick: c.u64()}
	flags := c.u8()
	if flags&^(propSelected|propDrawGrid|propQuit) != 0 {
		return ev, fmt.Errorf("unknown props flags %#x", flags)
	}
	if flags != 0 {
		ev.Props = &PropsDelta{}
		if flags&propSelected != 0 {
			e := ecs.Entity(c.u64())
			ev.Props.Selected = &e
		}
		if flags&propDrawGrid != 0 {
			v := c.bool()
			ev.Props.DrawGrid = &v
		}
		if flags&propQuit != 0 {
			v := c.bool()
			ev.Props.Quit = &v
		}
	}
	n := c.uvarint()
	if c.err == nil && n > uint64(len(c.b))/17 {
		return ev, fmt.Errorf("command count %d exceeds payload", n)
	}
	for i := uint64(0); i < n && c.err == nil; i++ {
		cmd := command.EntityCommand{Entity: ecs.Entity(c.u64())}
		cmd.Kind = command.Kind(c.u8())
		cmd.X = math.Float32frombits(c.u32())
		cmd.Y = math.Float32frombits(c.u32())
		if c.err == nil && !cmd.Kind.Valid() {
			return ev, fmt.Errorf("unknown command kind %d", cmd.Kind)
		}
		ev.Commands = append(ev.Commands, cmd)
	}
	return ev, c.finish()
}

// decodeTrailerFrame decodes a complete trailer frame including its header.
func decodeTrailerFrame(b []byte) (Trailer, error) {
	if len(b) != trailerFrameLen || b[0] != frameTrailer || b[1] != trailerPayloadLen {
		return Trailer{}, errors.New("stream does not end with a trailer")
	}
	c := &cursor{b: b[2:]}
	t := Trailer{EndTick: c.u64(), FinalHash: c.u64()}
	return t, c.finish()
}
