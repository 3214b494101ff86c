package world

import (
	"anvil.sim/internal/persistence/snapshot"
	"anvil.sim/internal/sim/components"
	"anvil.sim/internal/sim/ecs"
)

// ExportSnapshot captures the registry and agent state at the current tick
// boundary, rows in entity order.
func (w *World) ExportSnapshot(runID string) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			RunID:   runID,
			Tick:    w.clock.Tick(),
			Hash:    w.Hash(),
		},
		Seed:  w.Seed(),
		SimHz: w.tun.SimHz,
	}

	for _, e := range w.reg.Entities() {
		row := snapshot.EntityV1{ID: e.ID()}
		if p, ok := ecs.Get[components.Position](w.reg, e); ok {
			row.Position = &snapshot.PositionV1{X: p.X, Y: p.Y}
		}
		if s, ok := ecs.Get[components.Shape](w.reg, e); ok {
			row.Shape = &snapshot.ShapeV1{Width: s.Width, Height: s.Height, Color: s.Color}
		}
		if h, ok := ecs.Get[components.Hunger](w.reg, e); ok {
			row.Hunger = &snapshot.HungerV1{Value: h.Value, Ticks: h.Ticks}
		}
		if m, ok := ecs.Get[components.Movement](w.reg, e); ok {
			row.Movement = &snapshot.MovementV1{Distance: m.Distance, DestX: m.DestX, DestY: m.DestY}
		}
		if st, ok := ecs.Get[components.State](w.reg, e); ok {
			row.State = st.Kind.String()
		}
		if r, ok := ecs.Get[components.Resource](w.reg, e); ok {
			row.Resource = r.Kind.String()
		}
		if s, ok := ecs.Get[components.Structure](w.reg, e); ok {
			row.Structure = &snapshot.StructureV1{RecipeID: s.RecipeID, BuiltTick: s.BuiltTick}
		}
		snap.Entities = append(snap.Entities, row)
	}

	for _, e := range w.agents.Sorted() {
		ag, _ := w.agents.Get(e)
		k := ag.Knowledge
		row := snapshot.AgentV1{
			ID:        e.ID(),
			Behaviors: ag.Behaviors.Names(),
			Target:    k.Target.ID(),
		}
		if k.Target != ecs.Nil {
			row.TargetKind = k.TargetKind.String()
		}
		if k.HasDestination {
			row.Destination = &snapshot.PositionV1{X: k.DestX, Y: k.DestY}
		}
		if k.Recipe != nil {
			row.Recipe = k.Recipe.ID
		}
		for _, kind := range k.InventoryKinds() {
			if row.Inventory == nil {
				row.Inventory = map[string][]uint64{}
			}
			for _, held := range k.Inventory[kind] {
				row.Inventory[kind.String()] = append(row.Inventory[kind.String()], held.ID())
			}
		}
		snap.Agents = append(snap.Agents, row)
	}
	return snap
}
