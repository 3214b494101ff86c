package worldtest

import (
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"anvil.sim/internal/persistence/snapshot"
	"anvil.sim/internal/sim/catalogs"
	"anvil.sim/internal/sim/clock"
	"anvil.sim/internal/sim/command"
	"anvil.sim/internal/sim/components"
	"anvil.sim/internal/sim/ecs"
	"anvil.sim/internal/sim/tuning"
	"anvil.sim/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Move()/Remove() queue commands for the next Step
// - StepFor() runs fixed steps and returns the hash after the last one
// - Snapshot() round-trips the state through the snapshot codec
//
// It avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T *testing.T
	W *world.World

	// Agent is the builder spawned by the world.
	Agent ecs.Entity
}

func NewHarness(t *testing.T, tun tuning.Tuning, recipes *catalogs.Catalog) *Harness {
	t.Helper()

	w, err := world.New(tun, recipes, clock.NewManualClock(time.Unix(0, 0)), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	agents := w.Agents().Sorted()
	if len(agents) != 1 {
		t.Fatalf("expected one agent, got %d", len(agents))
	}
	return &Harness{T: t, W: w, Agent: agents[0]}
}

func (h *Harness) Move(x, y float32) { h.W.Bus().Push(command.Move(h.Agent, x, y)) }

func (h *Harness) Remove(e ecs.Entity) { h.W.Bus().Push(command.Remove(e)) }

// StepFor runs n steps and returns the world hash after the last one.
func (h *Harness) StepFor(n int) uint64 {
	hash := h.W.Hash()
	for i := 0; i < n; i++ {
		_, hash = h.W.StepOnce()
	}
	return hash
}

// StepUntil steps until cond holds, failing the test after max steps.
func (h *Harness) StepUntil(max int, cond func() bool) {
	h.T.Helper()
	for i := 0; i < max; i++ {
		if cond() {
			return
		}
		h.W.Step()
	}
	if !cond() {
		h.T.Fatalf("condition not met after %d steps (tick=%d)", max, h.W.CurrentTick())
	}
}

func (h *Harness) Position(e ecs.Entity) (components.Position, bool) {
	p, ok := ecs.Get[components.Position](h.W.Registry(), e)
	if !ok {
		return components.Position{}, false
	}
	return *p, true
}

func (h *Harness) Hunger() components.Hunger {
	h.T.Helper()
	v, ok := ecs.Get[components.Hunger](h.W.Registry(), h.Agent)
	if !ok {
		h.T.Fatalf("agent %s has no hunger", h.Agent)
	}
	return *v
}

func (h *Harness) Behaviors() []string {
	ag, ok := h.W.Agents().Get(h.Agent)
	if !ok {
		return nil
	}
	return ag.Behaviors.Names()
}

// OnMap counts resources of kind that still have a position.
func (h *Harness) OnMap(kind components.ResourceKind) int {
	n := 0
	for _, row := range ecs.Query2[components.Position, components.Resource](h.W.Registry()) {
		if row.B.Kind == kind {
			n++
		}
	}
	return n
}

// Snapshot exports the world, writes it to a temp file and reads it back.
func (h *Harness) Snapshot(runID string) snapshot.SnapshotV1 {
	h.T.Helper()
	path := filepath.Join(h.T.TempDir(), "world.snap.zst")
	if err := snapshot.WriteSnapshot(path, h.W.ExportSnapshot(runID)); err != nil {
		h.T.Fatalf("WriteSnapshot: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		h.T.Fatalf("ReadSnapshot: %v", err)
	}
	return snap
}
