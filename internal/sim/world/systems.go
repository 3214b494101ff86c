package world

import (
	"math"

	"anvil.sim/internal/sim/ai"
	"anvil.sim/internal/sim/components"
	"anvil.sim/internal/sim/ecs"
)

// systemMovement advances every moving entity by move_speed toward its
// destination and snaps onto it when the remaining distance is shorter.
func (w *World) systemMovement() {
	speed := w.tun.MoveSpeed
	for _, row := range ecs.Query3[components.Position, components.Movement, components.State](w.reg) {
		pos, mv, st := row.A, row.B, row.C
		if st.Kind != components.Moving {
			continue
		}
		dest := components.Position{X: mv.DestX, Y: mv.DestY}
		dist := components.Dist(*pos, dest)
		if dist <= speed {
			*pos = dest
			mv.Distance = 0
			st.Kind = components.Idle
			continue
		}
		dx := (dest.X - pos.X) / dist
		dy := (dest.Y - pos.Y) / dist
		pos.X += float32(dx * speed)
		pos.Y += float32(dy * speed)
		mv.Distance = dist - speed
	}
}

// systemHunger counts fixed steps; hunger rises once per hunger period and
// saturates.
func (w *World) systemHunger() {
	for _, row := range ecs.Query[components.Hunger](w.reg) {
		h := row.A
		h.Ticks++
		if h.Ticks < w.hungerEveryTicks {
			continue
		}
		h.Ticks = 0
		if h.Value < math.MaxUint8 {
			h.Value++
		}
	}
}

// planHunger puts find_food in front of any agent whose hunger is above the
// threshold, once, while food remains on the map.
func (w *World) planHunger() {
	if !w.foodOnMap() {
		return
	}
	for _, e := range w.agents.Sorted() {
		h, ok := ecs.Get[components.Hunger](w.reg, e)
		if !ok || h.Value <= w.tun.HungerThreshold {
			continue
		}
		ag, _ := w.agents.Get(e)
		if ag.Behaviors.Contains(ai.RootFindFood) {
			continue
		}
		ag.Behaviors.PushFront(ai.FindFood())
		w.logger.Printf("tick=%d %s hungry (%d), queued %s", w.clock.Tick(), e, h.Value, ai.RootFindFood)
	}
}

func (w *World) foodOnMap() bool {
	for _, row := range ecs.Query2[components.Position, components.Resource](w.reg) {
		if row.B.Kind == components.Food {
			return true
		}
	}
	return false
}
