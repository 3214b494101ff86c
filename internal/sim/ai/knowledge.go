package ai

import (
	"sort"

	"anvil.sim/internal/sim/catalogs"
	"anvil.sim/internal/sim/components"
	"anvil.sim/internal/sim/ecs"
)

// Knowledge is the per-agent blackboard shared by every node of the agent's
// trees. It only ever holds entity handles and plain values.
type Knowledge struct {
	Owner ecs.Entity

	Target     ecs.Entity
	TargetKind components.ResourceKind

	HasDestination bool
	DestX          float32
	DestY          float32

	Recipe *catalogs.RecipeDef

	// Inventory holds picked-up entities per resource kind, in pick-up order.
	Inventory map[components.ResourceKind][]ecs.Entity

	Params map[string]string

	// Refreshed by the engine before each evaluation.
	Tick    uint64
	Arrival float32
}

func NewKnowledge(owner ecs.Entity) *Knowledge {
	return &Knowledge{
		Owner:     owner,
		Inventory: map[components.ResourceKind][]ecs.Entity{},
		Params:    map[string]string{},
	}
}

func (k *Knowledge) SetDestination(x, y float32) {
	k.HasDestination = true
	k.DestX, k.DestY = x, y
}

func (k *Knowledge) ClearTarget() {
	k.Target = ecs.Nil
	k.TargetKind = components.NoResource
}

func (k *Knowledge) Holds(kind components.ResourceKind) int { return len(k.Inventory[kind]) }

func (k *Knowledge) holding(e ecs.Entity) bool {
	for _, list := range k.Inventory {
		for _, held := range list {
			if held == e {
				return true
			}
		}
	}
	return false
}

// take removes n entities of kind from the inventory, oldest first.
func (k *Knowledge) take(kind components.ResourceKind, n int) []ecs.Entity {
	list := k.Inventory[kind]
	if n > len(list) {
		return nil
	}
	out := append([]ecs.Entity(nil), list[:n]...)
	rest := list[n:]
	if len(rest) == 0 {
		delete(k.Inventory, kind)
	} else {
		k.Inventory[kind] = append([]ecs.Entity(nil), rest...)
	}
	return out
}

// InventoryKinds lists the held kinds in ascending order.
func (k *Knowledge) InventoryKinds() []components.ResourceKind {
	out := make([]components.ResourceKind, 0, len(k.Inventory))
	for kind := range k.Inventory {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
