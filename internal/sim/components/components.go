// Package components defines the simulation-relevant component types stored in the registry.
package components

import "math"

// Position is the spatial component. Removing it takes an entity off the map.
type Position struct {
	X float32
	Y float32
}

// Dist2 is the squared distance between a and b. Each product is converted
// explicitly so the compiler may not fuse it into an FMA.
func Dist2(a, b Position) float32 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	return float32(dx*dx) + float32(dy*dy)
}

func Dist(a, b Position) float32 {
	return float32(math.Sqrt(float64(Dist2(a, b))))
}

type Shape struct {
	Width  float32
	Height float32
	Color  [4]uint8
}

// Hunger grows by one every hunger period of simulated time. Ticks counts
// fixed steps since the last increment.
type Hunger struct {
	Value uint8
	Ticks uint32
}

type Movement struct {
	Distance float32
	DestX    float32
	DestY    float32
}

type StateKind uint8

const (
	Idle StateKind = iota
	Moving
)

func (s StateKind) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Moving:
		return "MOVE"
	default:
		return "UNKNOWN"
	}
}

type State struct {
	Kind StateKind
}

// ResourceKind tags pick-up-able map entities.
type ResourceKind uint8

const (
	NoResource ResourceKind = iota
	Food
	Wood
	Stone
)

func (k ResourceKind) String() string {
	switch k {
	case Food:
		return "food"
	case Wood:
		return "wood"
	case Stone:
		return "stone"
	default:
		return "none"
	}
}

// ParseResourceKind maps catalog ingredient ids to kinds.
func ParseResourceKind(s string) (ResourceKind, bool) {
	switch s {
	case "food":
		return Food, true
	case "wood":
		return Wood, true
	case "stone":
		return Stone, true
	default:
		return NoResource, false
	}
}

type Resource struct {
	Kind ResourceKind
}

// Structure marks something an agent built from a recipe.
type Structure struct {
	RecipeID  string
	BuiltTick uint64
}
