package world

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"anvil.sim/internal/persistence/snapshot"
	"anvil.sim/internal/sim/ai"
	"anvil.sim/internal/sim/catalogs"
	"anvil.sim/internal/sim/clock"
	"anvil.sim/internal/sim/command"
	"anvil.sim/internal/sim/components"
	"anvil.sim/internal/sim/ecs"
	"anvil.sim/internal/sim/tuning"
)

func newTestWorld(t *testing.T, tun tuning.Tuning) *World {
	t.Helper()
	w, err := New(tun, catalogs.Default(), clock.NewManualClock(time.Unix(0, 0)), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func agentOf(t *testing.T, w *World) ecs.Entity {
	t.Helper()
	ents := w.Agents().Sorted()
	if len(ents) != 1 {
		t.Fatalf("agents=%d", len(ents))
	}
	return ents[0]
}

func TestNew_Spawn(t *testing.T) {
	w := newTestWorld(t, tuning.Defaults())
	counts := map[components.ResourceKind]int{}
	for _, row := range ecs.Query2[components.Position, components.Resource](w.Registry()) {
		counts[row.B.Kind]++
		for _, v := range []float32{row.A.X, row.A.Y} {
			if v < 2.5 || v > 9.5 || v-float32(int(v)) != 0.5 {
				t.Fatalf("%s spawned off-grid at %+v", row.Entity, *row.A)
			}
		}
	}
	if counts[components.Food] != 6 || counts[components.Wood] != 3 || counts[components.Stone] != 3 {
		t.Fatalf("spawn counts=%v", counts)
	}
	agent := agentOf(t, w)
	p, _ := ecs.Get[components.Position](w.Registry(), agent)
	if *p != (components.Position{X: 1.5, Y: 1.5}) {
		t.Fatalf("agent at %+v", *p)
	}
	ag, _ := w.Agents().Get(agent)
	if names := ag.Behaviors.Names(); len(names) != 1 || names[0] != ai.RootBuildHouse {
		t.Fatalf("behaviors=%v", names)
	}
}

func TestDeterminism_SameSeedSameHashes(t *testing.T) {
	w1 := newTestWorld(t, tuning.Defaults())
	w2 := newTestWorld(t, tuning.Defaults())
	if w1.Hash() != w2.Hash() {
		t.Fatalf("initial hash mismatch")
	}
	a1, a2 := agentOf(t, w1), agentOf(t, w2)
	for i := 0; i < 3000; i++ {
		if i == 100 {
			w1.Bus().Push(command.Move(a1, 5.5, 5.5))
			w2.Bus().Push(command.Move(a2, 5.5, 5.5))
		}
		t1, h1 := w1.StepOnce()
		t2, h2 := w2.StepOnce()
		if t1 != t2 || h1 != h2 {
			t.Fatalf("diverged at tick %d: %#x vs %#x", t1, h1, h2)
		}
	}
	if d := snapshot.Diff(w1.ExportSnapshot("a"), w2.ExportSnapshot("b")); len(d) != 0 {
		t.Fatalf("snapshots differ: %v", d)
	}

	other := tuning.Defaults()
	other.Seed = 1
	w3 := newTestWorld(t, other)
	if w3.Hash() == w1.Hash() {
		t.Fatalf("different seeds produced the same world")
	}
}

func TestRun_BuildsHouse(t *testing.T) {
	w := newTestWorld(t, tuning.Defaults())
	for i := 0; i < 6000; i++ {
		w.Step()
	}
	rows := ecs.Query[components.Structure](w.Registry())
	if len(rows) != 1 || rows[0].A.RecipeID != "house_basic" {
		t.Fatalf("structures=%d", len(rows))
	}
	ag, _ := w.Agents().Get(agentOf(t, w))
	if ag.Behaviors.Contains(ai.RootBuildHouse) {
		t.Fatalf("build_house still queued: %v", ag.Behaviors.Names())
	}
}

func TestHunger_RisesOncePerPeriod(t *testing.T) {
	w := newTestWorld(t, tuning.Defaults())
	agent := agentOf(t, w)
	for i := 0; i < 59; i++ {
		w.Step()
	}
	h, _ := ecs.Get[components.Hunger](w.Registry(), agent)
	if h.Value != 0 {
		t.Fatalf("hunger=%d after 59 steps", h.Value)
	}
	w.Step()
	if h.Value != 1 || h.Ticks != 0 {
		t.Fatalf("hunger=%+v after 60 steps", *h)
	}
}

func TestHunger_QueuesFindFood(t *testing.T) {
	w := newTestWorld(t, tuning.Defaults())
	agent := agentOf(t, w)
	h, _ := ecs.Get[components.Hunger](w.Registry(), agent)
	h.Value = 4
	w.Step()
	ag, _ := w.Agents().Get(agent)
	if !ag.Behaviors.Contains(ai.RootFindFood) {
		t.Fatalf("find_food not queued: %v", ag.Behaviors.Names())
	}
	w.Step()
	count := 0
	for _, n := range ag.Behaviors.Names() {
		if n == ai.RootFindFood {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("find_food queued %d times", count)
	}
}

func TestMoveCommand_ReachesDestination(t *testing.T) {
	w := newTestWorld(t, tuning.Defaults())
	agent := agentOf(t, w)
	w.Bus().Push(command.Move(agent, 1.5, 3.5))
	w.Step()

	ag, _ := w.Agents().Get(agent)
	if head, _ := ag.Behaviors.Head(); head.Name != ai.RootMoveToPosition {
		t.Fatalf("head=%s", head.Name)
	}
	if !ag.Knowledge.HasDestination || ag.Knowledge.DestY != 3.5 {
		t.Fatalf("destination not recorded: %+v", ag.Knowledge)
	}
	for i := 0; i < 100 && ag.Behaviors.Contains(ai.RootMoveToPosition); i++ {
		w.Step()
	}
	if ag.Behaviors.Contains(ai.RootMoveToPosition) {
		t.Fatalf("move_to_position never completed")
	}
	p, _ := ecs.Get[components.Position](w.Registry(), agent)
	if *p != (components.Position{X: 1.5, Y: 3.5}) {
		t.Fatalf("agent at %+v", *p)
	}
}

func TestApplyCommands_MissingStateSkipsOnlyThatCommand(t *testing.T) {
	reg := ecs.NewRegistry()
	agents := ai.NewAgents(0.01)
	rock := reg.Spawn()
	_ = ecs.Insert(reg, rock, components.Position{X: 1, Y: 1})
	bare := reg.Spawn()

	errs := ApplyCommands([]command.EntityCommand{
		command.Remove(bare),
		command.Move(rock, 2, 2),
		command.Remove(rock),
	}, agents, reg)
	if len(errs) != 2 {
		t.Fatalf("errs=%v", errs)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrMissingState) {
			t.Fatalf("error %v does not wrap ErrMissingState", err)
		}
	}
	if !errors.Is(errs[0], ecs.ErrNoComponent) {
		t.Fatalf("remove error lost its cause: %v", errs[0])
	}
	if ecs.Has[components.Position](reg, rock) {
		t.Fatalf("valid remove was not applied")
	}
}

func TestApplyCommands_RemoveDespawnsConsumedResource(t *testing.T) {
	reg := ecs.NewRegistry()
	agents := ai.NewAgents(0.01)
	bus := command.NewBus()

	agent := reg.Spawn()
	_ = ecs.Insert(reg, agent, components.Position{X: 2, Y: 2})
	_ = ecs.Insert(reg, agent, components.State{})
	_ = ecs.Insert(reg, agent, components.Movement{})
	_ = ecs.Insert(reg, agent, components.Hunger{Value: 5})
	food := reg.Spawn()
	_ = ecs.Insert(reg, food, components.Position{X: 2, Y: 2})
	_ = ecs.Insert(reg, food, components.Resource{Kind: components.Food})
	held := reg.Spawn()
	_ = ecs.Insert(reg, held, components.Position{X: 7, Y: 7})
	_ = ecs.Insert(reg, held, components.Resource{Kind: components.Wood})
	agents.Assign(agent, ai.FindFood())

	// Picked up and eaten in one tick; only the pending remove is left.
	bus.BeginTick()
	ai.RunBehaviors(agents, 0, bus, reg)
	if !ecs.Has[components.Position](reg, food) || ecs.Has[components.Resource](reg, food) {
		t.Fatalf("food should be consumed but still on the map")
	}
	bus.Push(command.Remove(held))

	bus.BeginTick()
	if errs := ApplyCommands(command.Resolve(bus.Processing()), agents, reg); len(errs) != 0 {
		t.Fatalf("errs=%v", errs)
	}
	if reg.Contains(food) {
		t.Fatalf("consumed food left as an empty entity")
	}
	if !reg.Contains(held) || !ecs.Has[components.Resource](reg, held) || ecs.Has[components.Position](reg, held) {
		t.Fatalf("held resource should stay alive off the map")
	}
}

func TestNew_RejectsBadTuning(t *testing.T) {
	tun := tuning.Defaults()
	tun.SimHz = 0
	if _, err := New(tun, nil, clock.NewManualClock(time.Unix(0, 0)), nil); err == nil {
		t.Fatalf("expected error")
	}
}
