package host

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"anvil.sim/internal/sim/command"
	"anvil.sim/internal/sim/components"
	"anvil.sim/internal/sim/ecs"
)

// Input is polled once per fixed step before the step runs. It may change
// props and push commands; in replay both are discarded.
type Input interface {
	Poll(tick uint64, props *Properties, out command.Sink, reg *ecs.Registry)
}

// pickRadius is how close SelectAt must be to an entity, per axis.
const pickRadius = 0.5

// ScriptEvent is one scripted input. Every set field applies.
type ScriptEvent struct {
	Tick     uint64      `yaml:"tick"`
	Select   *uint64     `yaml:"select,omitempty"`
	SelectAt *[2]float32 `yaml:"select_at,omitempty"`
	Move     *[2]float32 `yaml:"move,omitempty"`
	Grid     *bool       `yaml:"grid,omitempty"`
	Quit     bool        `yaml:"quit,omitempty"`
}

// Script replays a fixed list of input events in tick order.
type Script struct {
	Events []ScriptEvent `yaml:"events"`

	next int
}

func LoadScript(path string) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Script
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("input script: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("input script: %w", err)
	}
	sort.SliceStable(s.Events, func(i, j int) bool { return s.Events[i].Tick < s.Events[j].Tick })
	return &s, nil
}

func (s *Script) validate() error {
	var errs []error
	for i, ev := range s.Events {
		if ev.Select != nil && ev.SelectAt != nil {
			errs = append(errs, fmt.Errorf("event %d: select and select_at are exclusive", i))
		}
		if ev.Select == nil && ev.SelectAt == nil && ev.Move == nil && ev.Grid == nil && !ev.Quit {
			errs = append(errs, fmt.Errorf("event %d (tick %d): empty", i, ev.Tick))
		}
	}
	return errors.Join(errs...)
}

// Done reports whether every event has been delivered.
func (s *Script) Done() bool { return s.next >= len(s.Events) }

// Poll delivers every event scheduled at or before tick that has not run yet.
func (s *Script) Poll(tick uint64, props *Properties, out command.Sink, reg *ecs.Registry) {
	for s.next < len(s.Events) && s.Events[s.next].Tick <= tick {
		ev := s.Events[s.next]
		s.next++

		switch {
		case ev.Select != nil:
			props.Selected = ecs.Entity(*ev.Select)
		case ev.SelectAt != nil:
			if e, ok := entityAt(reg, ev.SelectAt[0], ev.SelectAt[1]); ok {
				props.Selected = e
			}
		}
		if ev.Move != nil && props.Selected != ecs.Nil {
			out.Push(command.Move(props.Selected, ev.Move[0], ev.Move[1]))
		}
		if ev.Grid != nil {
			props.DrawGrid = *ev.Grid
		}
		if ev.Quit {
			props.Quit = true
		}
	}
}

// entityAt returns the highest-id positioned entity within pickRadius of (x, y).
func entityAt(reg *ecs.Registry, x, y float32) (ecs.Entity, bool) {
	found := ecs.Nil
	for _, row := range ecs.Query[components.Position](reg) {
		dx, dy := row.A.X-x, row.A.Y-y
		if dx < 0 {
			dx = -dx
		}
		if dy < 0 {
			dy = -dy
		}
		if dx < pickRadius && dy < pickRadius {
			found = row.Entity
		}
	}
	return found, found != ecs.Nil
}
