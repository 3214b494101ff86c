package ai

import (
	"anvil.sim/internal/sim/catalogs"
	"anvil.sim/internal/sim/command"
	"anvil.sim/internal/sim/components"
	"anvil.sim/internal/sim/ecs"
)

var structureShape = components.Shape{Width: 0.6, Height: 0.6, Color: [4]uint8{200, 140, 60, 255}}

type DoNothing struct{}

func (DoNothing) Run(*Knowledge, CommandSink, *ecs.Registry) Status { return Success }

// FindNearest targets the closest on-map resource of Kind that the agent does
// not already hold. Equal distances go to the lower entity id.
type FindNearest struct {
	Kind components.ResourceKind
}

func (n FindNearest) Run(k *Knowledge, _ CommandSink, reg *ecs.Registry) Status {
	self, ok := ecs.Get[components.Position](reg, k.Owner)
	if !ok {
		return Failure
	}
	best := ecs.Nil
	var bestD float32
	for _, row := range ecs.Query2[components.Position, components.Resource](reg) {
		if row.B.Kind != n.Kind || row.Entity == k.Owner || k.holding(row.Entity) {
			continue
		}
		d := components.Dist2(*self, *row.A)
		if best == ecs.Nil || d < bestD {
			best, bestD = row.Entity, d
		}
	}
	if best == ecs.Nil {
		return Failure
	}
	k.Target, k.TargetKind = best, n.Kind
	return Success
}

type AtTarget struct {
	Kind components.ResourceKind
}

func (n AtTarget) Run(k *Knowledge, _ CommandSink, reg *ecs.Registry) Status {
	if k.TargetKind != n.Kind || k.Target == ecs.Nil {
		return Failure
	}
	self, ok := ecs.Get[components.Position](reg, k.Owner)
	if !ok {
		return Failure
	}
	tp, ok := ecs.Get[components.Position](reg, k.Target)
	if !ok {
		return Failure
	}
	if components.Dist(*self, *tp) <= k.Arrival {
		return Success
	}
	return Failure
}

// MoveToTarget steers the agent toward its target, picking a new target of the
// same kind if the current one left the map.
type MoveToTarget struct {
	Kind components.ResourceKind
}

func (n MoveToTarget) Run(k *Knowledge, out CommandSink, reg *ecs.Registry) Status {
	tp, ok := ecs.Get[components.Position](reg, k.Target)
	if k.TargetKind != n.Kind || k.Target == ecs.Nil || !ok {
		if (FindNearest{Kind: n.Kind}).Run(k, out, reg) != Success {
			return Failure
		}
		tp, _ = ecs.Get[components.Position](reg, k.Target)
	}
	return steer(k, reg, *tp)
}

// AtDestination succeeds when the agent stands on its destination, or has none.
type AtDestination struct{}

func (AtDestination) Run(k *Knowledge, _ CommandSink, reg *ecs.Registry) Status {
	if !k.HasDestination {
		return Success
	}
	self, ok := ecs.Get[components.Position](reg, k.Owner)
	if !ok {
		return Failure
	}
	if components.Dist(*self, components.Position{X: k.DestX, Y: k.DestY}) <= k.Arrival {
		return Success
	}
	return Failure
}

type MoveToDestination struct{}

func (MoveToDestination) Run(k *Knowledge, _ CommandSink, reg *ecs.Registry) Status {
	if !k.HasDestination {
		return Success
	}
	return steer(k, reg, components.Position{X: k.DestX, Y: k.DestY})
}

// steer points the agent's Movement at dest. It reports Success once the agent
// is within arrival distance, Running while it still has to travel.
func steer(k *Knowledge, reg *ecs.Registry, dest components.Position) Status {
	self, ok := ecs.Get[components.Position](reg, k.Owner)
	if !ok {
		return Failure
	}
	st, okS := ecs.Get[components.State](reg, k.Owner)
	mv, okM := ecs.Get[components.Movement](reg, k.Owner)
	if !okS || !okM {
		return Failure
	}
	d := components.Dist(*self, dest)
	if d <= k.Arrival {
		st.Kind = components.Idle
		mv.Distance = 0
		return Success
	}
	mv.DestX, mv.DestY, mv.Distance = dest.X, dest.Y, d
	st.Kind = components.Moving
	return Running
}

// PickUp moves the reached target into the inventory and asks for it to be
// taken off the map next tick.
type PickUp struct {
	Kind components.ResourceKind
}

func (n PickUp) Run(k *Knowledge, out CommandSink, reg *ecs.Registry) Status {
	if (AtTarget{Kind: n.Kind}).Run(k, out, reg) != Success {
		return Failure
	}
	k.Inventory[n.Kind] = append(k.Inventory[n.Kind], k.Target)
	out.Push(command.Remove(k.Target))
	k.ClearTarget()
	return Success
}

type SetRecipe struct {
	Recipe catalogs.RecipeDef
}

func (n SetRecipe) Run(k *Knowledge, _ CommandSink, _ *ecs.Registry) Status {
	r := n.Recipe
	k.Recipe = &r
	return Success
}

// Construct consumes the current recipe's ingredients from the inventory and
// spawns the product at the agent's position.
type Construct struct{}

func (Construct) Run(k *Knowledge, _ CommandSink, reg *ecs.Registry) Status {
	if k.Recipe == nil {
		return Failure
	}
	self, ok := ecs.Get[components.Position](reg, k.Owner)
	if !ok {
		return Failure
	}
	for _, ing := range k.Recipe.Ingredients {
		kind, ok := components.ParseResourceKind(ing.ID)
		if !ok || k.Holds(kind) < int(ing.Qty) {
			return Failure
		}
	}
	for _, ing := range k.Recipe.Ingredients {
		kind, _ := components.ParseResourceKind(ing.ID)
		for _, e := range k.take(kind, int(ing.Qty)) {
			consume(reg, e)
		}
	}
	at := *self
	e := reg.Spawn()
	_ = ecs.Insert(reg, e, at)
	_ = ecs.Insert(reg, e, structureShape)
	_ = ecs.Insert(reg, e, components.Structure{RecipeID: k.Recipe.ID, BuiltTick: k.Tick})
	k.Recipe = nil
	return Success
}

// Eat consumes one held food and resets hunger.
type Eat struct{}

func (Eat) Run(k *Knowledge, _ CommandSink, reg *ecs.Registry) Status {
	food := k.take(components.Food, 1)
	if len(food) == 0 {
		return Failure
	}
	consume(reg, food[0])
	if h, ok := ecs.Get[components.Hunger](reg, k.Owner); ok {
		h.Value = 0
		h.Ticks = 0
	}
	return Success
}

// consume destroys a held resource. An entity still waiting for its
// RemoveFromMap command keeps only its Position until that command lands.
func consume(reg *ecs.Registry, e ecs.Entity) {
	if !ecs.Has[components.Position](reg, e) {
		_ = reg.Despawn(e)
		return
	}
	_ = ecs.Remove[components.Resource](reg, e)
	_ = ecs.Remove[components.Shape](reg, e)
}
