package worldtest

import (
	"testing"

	"anvil.sim/internal/persistence/snapshot"
	"anvil.sim/internal/sim/tuning"
)

func diffSnapshots(t *testing.T, a, b *Harness) []snapshot.Difference {
	t.Helper()
	return snapshot.Diff(a.Snapshot("a"), b.Snapshot("b"))
}

func TestSnapshot_RoundTripMatchesLiveWorld(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), nil)
	h.StepFor(1500)

	snap := h.Snapshot("run-1")
	if snap.Header.RunID != "run-1" || snap.Header.Tick != h.W.CurrentTick() || snap.Header.Hash != h.W.Hash() {
		t.Fatalf("header=%+v tick=%d hash=%#x", snap.Header, h.W.CurrentTick(), h.W.Hash())
	}
	if snap.Seed != uint64(tuning.DefaultSeed) || snap.SimHz != 60 {
		t.Fatalf("seed=%#x sim_hz=%d", snap.Seed, snap.SimHz)
	}
	if d := snapshot.Diff(snap, h.W.ExportSnapshot("other")); len(d) != 0 {
		t.Fatalf("round trip changed state: %v", d)
	}
	if len(snap.Agents) != 1 || snap.Agents[0].ID != h.Agent.ID() {
		t.Fatalf("agents=%+v", snap.Agents)
	}
	for i := 1; i < len(snap.Entities); i++ {
		if snap.Entities[i-1].ID >= snap.Entities[i].ID {
			t.Fatalf("entities not in id order at %d", i)
		}
	}
}
