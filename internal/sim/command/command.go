// Package command holds entity commands, the double-buffered bus that carries
// them between ticks and the canonical resolution pass.
package command

import (
	"fmt"
	"sort"

	"anvil.sim/internal/sim/ecs"
)

type Kind uint8

const (
	MoveToPosition Kind = iota + 1
	RemoveFromMap
)

func (k Kind) String() string {
	switch k {
	case MoveToPosition:
		return "MOVE_TO_POSITION"
	case RemoveFromMap:
		return "REMOVE_FROM_MAP"
	default:
		return fmt.Sprintf("KIND_%d", uint8(k))
	}
}

func (k Kind) Valid() bool { return k == MoveToPosition || k == RemoveFromMap }

// EntityCommand is plain data. X and Y are only meaningful for MoveToPosition.
type EntityCommand struct {
	Entity ecs.Entity
	Kind   Kind
	X      float32
	Y      float32
}

func Move(e ecs.Entity, x, y float32) EntityCommand {
	return EntityCommand{Entity: e, Kind: MoveToPosition, X: x, Y: y}
}

func Remove(e ecs.Entity) EntityCommand {
	return EntityCommand{Entity: e, Kind: RemoveFromMap}
}

func (c EntityCommand) String() string {
	if c.Kind == MoveToPosition {
		return fmt.Sprintf("%s(%s,%g,%g)", c.Kind, c.Entity, c.X, c.Y)
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.Entity)
}

// Sink accepts commands for the next tick.
type Sink interface {
	Push(cmd EntityCommand)
}

// Bus double-buffers commands: Incoming collects while a tick runs, Processing
// holds what the current tick applies.
type Bus struct {
	incoming   []EntityCommand
	processing []EntityCommand
}

func NewBus() *Bus { return &Bus{} }

// BeginTick swaps the buffers and clears the new incoming one.
func (b *Bus) BeginTick() {
	b.incoming, b.processing = b.processing, b.incoming
	b.incoming = b.incoming[:0]
}

func (b *Bus) Push(cmd EntityCommand) { b.incoming = append(b.incoming, cmd) }

func (b *Bus) Extend(cmds []EntityCommand) { b.incoming = append(b.incoming, cmds...) }

// Incoming is a view of the pending buffer; it is invalidated by the next BeginTick.
func (b *Bus) Incoming() []EntityCommand { return b.incoming }

func (b *Bus) Processing() []EntityCommand { return b.processing }

// SetProcessing replaces the processing buffer, typically with Resolve(Processing()).
func (b *Bus) SetProcessing(cmds []EntityCommand) { b.processing = cmds }

func (b *Bus) Len() int { return len(b.incoming) }

// Truncate drops incoming commands past n. Replay uses it to discard live input.
func (b *Bus) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(b.incoming) {
		b.incoming = b.incoming[:n]
	}
}

// Resolve puts commands into canonical order: every RemoveFromMap in its
// original relative order, then one MoveToPosition per entity (the last one
// submitted) ordered by entity id. Unknown kinds are dropped.
func Resolve(cmds []EntityCommand) []EntityCommand {
	out := make([]EntityCommand, 0, len(cmds))
	lastMove := map[ecs.Entity]EntityCommand{}
	for _, c := range cmds {
		switch c.Kind {
		case RemoveFromMap:
			out = append(out, c)
		case MoveToPosition:
			lastMove[c.Entity] = c
		}
	}
	moves := make([]EntityCommand, 0, len(lastMove))
	for _, c := range lastMove {
		moves = append(moves, c)
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].Entity < moves[j].Entity })
	return append(out, moves...)
}
