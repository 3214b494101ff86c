package worldtest

import (
	"testing"

	"anvil.sim/internal/sim/ai"
	"anvil.sim/internal/sim/components"
	"anvil.sim/internal/sim/tuning"
)

func TestSurvival_HungryAgentEats(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), nil)
	food := h.OnMap(components.Food)

	h.StepUntil(400, func() bool { return h.Hunger().Value > 3 })
	h.StepUntil(2, func() bool {
		for _, n := range h.Behaviors() {
			if n == ai.RootFindFood {
				return true
			}
		}
		return false
	})

	h.StepUntil(3000, func() bool { return h.Hunger().Value == 0 })
	if got := h.OnMap(components.Food); got != food-1 {
		t.Fatalf("food on map=%d want=%d", got, food-1)
	}
}

func TestSurvival_RemoveCommandTakesResourceOffMap(t *testing.T) {
	h := NewHarness(t, tuning.Defaults(), nil)
	// Entity 1 is the first food spawned.
	first := h.W.Registry().Entities()[0]
	if _, ok := h.Position(first); !ok {
		t.Fatalf("%s has no position", first)
	}
	h.Remove(first)
	h.StepFor(1)
	if _, ok := h.Position(first); ok {
		t.Fatalf("%s still on the map", first)
	}
}
