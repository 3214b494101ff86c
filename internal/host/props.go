package host

import (
	"anvil.sim/internal/persistence/trace"
	"anvil.sim/internal/sim/ecs"
)

// Properties is host state that input can change but the simulation never
// reads, apart from Quit ending the run.
type Properties struct {
	Selected ecs.Entity
	DrawGrid bool
	Quit     bool
}

func DefaultProperties() Properties {
	return Properties{Selected: ecs.Nil, DrawGrid: true}
}

// Delta returns the fields of after that differ from before, or nil.
func Delta(before, after Properties) *trace.PropsDelta {
	d := &trace.PropsDelta{}
	if before.Selected != after.Selected {
		sel := after.Selected
		d.Selected = &sel
	}
	if before.DrawGrid != after.DrawGrid {
		v := after.DrawGrid
		d.DrawGrid = &v
	}
	if before.Quit != after.Quit {
		v := after.Quit
		d.Quit = &v
	}
	if d.Empty() {
		return nil
	}
	return d
}

// Apply overwrites the fields present in d.
func (p *Properties) Apply(d *trace.PropsDelta) {
	if d == nil {
		return
	}
	if d.Selected != nil {
		p.Selected = *d.Selected
	}
	if d.DrawGrid != nil {
		p.DrawGrid = *d.DrawGrid
	}
	if d.Quit != nil {
		p.Quit = *d.Quit
	}
}
