// Package digest computes the reproducible world-state hash used to detect
// replay divergence.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"math"

	"anvil.sim/internal/sim/components"
	"anvil.sim/internal/sim/ecs"
)

// Kinds in hashing order.
var Kinds = []string{"position", "hunger", "state", "movement", "resource", "shape", "structure"}

// Breakdown holds one sub-hash per component kind plus the combined total.
type Breakdown struct {
	Total uint64
	Parts map[string]uint64
}

func (b Breakdown) String() string {
	s := fmt.Sprintf("total=%#018x", b.Total)
	for _, k := range Kinds {
		s += fmt.Sprintf(" %s=%#018x", k[:3], b.Parts[k])
	}
	return s
}

// Hash returns the total world hash.
func Hash(reg *ecs.Registry) uint64 {
	h := sha256.New()
	for _, k := range Kinds {
		writeKind(h, k, reg)
	}
	return sum64(h)
}

// Of returns Hash and its per-kind breakdown.
func Of(reg *ecs.Registry) Breakdown {
	b := Breakdown{Parts: make(map[string]uint64, len(Kinds))}
	total := sha256.New()
	for _, k := range Kinds {
		part := sha256.New()
		writeKind(part, k, reg)
		writeKind(total, k, reg)
		b.Parts[k] = sum64(part)
	}
	b.Total = sum64(total)
	return b
}

func sum64(h hash.Hash) uint64 {
	return binary.LittleEndian.Uint64(h.Sum(nil)[:8])
}

type writer struct {
	h   hash.Hash
	buf [8]byte
}

func (w *writer) u8(v uint8) { w.h.Write([]byte{v}) }

func (w *writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.h.Write(w.buf[:4])
}

func (w *writer) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:], v)
	w.h.Write(w.buf[:])
}

func (w *writer) f32(v float32) { w.u32(CanonicalBits(v)) }

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.h.Write([]byte(s))
}

// CanonicalBits maps -0 to +0 and every NaN to 0x7FC00000.
func CanonicalBits(v float32) uint32 {
	switch {
	case math.IsNaN(float64(v)):
		return 0x7FC00000
	case v == 0:
		return 0
	default:
		return math.Float32bits(v)
	}
}

// writeKind writes the tag, row count and rows of one component kind. Rows
// come from the registry already sorted by entity.
func writeKind(h hash.Hash, kind string, reg *ecs.Registry) {
	w := &writer{h: h}
	w.str(kind)
	switch kind {
	case "position":
		rows := ecs.Query[components.Position](reg)
		w.u64(uint64(len(rows)))
		for _, r := range rows {
			w.u64(r.Entity.ID())
			w.f32(r.A.X)
			w.f32(r.A.Y)
		}
	case "hunger":
		rows := ecs.Query[components.Hunger](reg)
		w.u64(uint64(len(rows)))
		for _, r := range rows {
			w.u64(r.Entity.ID())
			w.u8(r.A.Value)
			w.u32(r.A.Ticks)
		}
	case "state":
		rows := ecs.Query[components.State](reg)
		w.u64(uint64(len(rows)))
		for _, r := range rows {
			w.u64(r.Entity.ID())
			w.u8(uint8(r.A.Kind))
		}
	case "movement":
		rows := ecs.Query[components.Movement](reg)
		w.u64(uint64(len(rows)))
		for _, r := range rows {
			w.u64(r.Entity.ID())
			w.f32(r.A.Distance)
			w.f32(r.A.DestX)
			w.f32(r.A.DestY)
		}
	case "resource":
		rows := ecs.Query[components.Resource](reg)
		w.u64(uint64(len(rows)))
		for _, r := range rows {
			w.u64(r.Entity.ID())
			w.u8(uint8(r.A.Kind))
		}
	case "shape":
		rows := ecs.Query[components.Shape](reg)
		w.u64(uint64(len(rows)))
		for _, r := range rows {
			w.u64(r.Entity.ID())
			w.f32(r.A.Width)
			w.f32(r.A.Height)
			w.h.Write(r.A.Color[:])
		}
	case "structure":
		rows := ecs.Query[components.Structure](reg)
		w.u64(uint64(len(rows)))
		for _, r := range rows {
			w.u64(r.Entity.ID())
			w.str(r.A.RecipeID)
			w.u64(r.A.BuiltTick)
		}
	}
}
