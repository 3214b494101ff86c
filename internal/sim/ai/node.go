// Package ai is the behavior-tree engine: composite nodes with resumable
// state, the leaf actions agents perform, and per-agent behavior lists.
package ai

import (
	"fmt"
	"strings"

	"anvil.sim/internal/sim/command"
	"anvil.sim/internal/sim/ecs"
)

type Status uint8

const (
	Success Status = iota + 1
	Failure
	Running
)

func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	case Running:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// CommandSink receives commands for the next tick.
type CommandSink = command.Sink

// Node is one behavior-tree node. Implementations live in this package only;
// Describe enumerates them.
type Node interface {
	Run(k *Knowledge, out CommandSink, reg *ecs.Registry) Status
}

// Sequence runs children in order until one fails or reports Running. A
// Running child is resumed directly on the next call.
type Sequence struct {
	Children []Node
	running  int
}

func NewSequence(children ...Node) *Sequence {
	return &Sequence{Children: children, running: -1}
}

// RunningIndex is the child that will resume, or -1.
func (s *Sequence) RunningIndex() int { return s.running }

func (s *Sequence) Run(k *Knowledge, out CommandSink, reg *ecs.Registry) Status {
	i := 0
	if s.running >= 0 {
		i = s.running
	}
	for ; i < len(s.Children); i++ {
		switch s.Children[i].Run(k, out, reg) {
		case Running:
			s.running = i
			return Running
		case Failure:
			s.running = -1
			return Failure
		}
	}
	s.running = -1
	return Success
}

// DoUntil repeats Action until Cond succeeds. While the last Action status was
// Running only Action is evaluated. DoUntil itself reports only Running or
// Success.
type DoUntil struct {
	Cond   Node
	Action Node

	actionRunning bool
}

func NewDoUntil(cond, action Node) *DoUntil {
	return &DoUntil{Cond: cond, Action: action}
}

func (d *DoUntil) Run(k *Knowledge, out CommandSink, reg *ecs.Registry) Status {
	if !d.actionRunning {
		if d.Cond.Run(k, out, reg) == Success {
			return Success
		}
	}
	d.actionRunning = d.Action.Run(k, out, reg) == Running
	return Running
}

// Describe renders a tree for diagnostics.
func Describe(n Node) string {
	switch v := n.(type) {
	case *Sequence:
		parts := make([]string, len(v.Children))
		for i, c := range v.Children {
			parts[i] = Describe(c)
		}
		return fmt.Sprintf("Sequence@%d[%s]", v.running, strings.Join(parts, ", "))
	case *DoUntil:
		return fmt.Sprintf("DoUntil(%s, %s)", Describe(v.Cond), Describe(v.Action))
	case DoNothing:
		return "DoNothing"
	case FindNearest:
		return fmt.Sprintf("FindNearest(%s)", v.Kind)
	case AtTarget:
		return fmt.Sprintf("AtTarget(%s)", v.Kind)
	case MoveToTarget:
		return fmt.Sprintf("MoveToTarget(%s)", v.Kind)
	case AtDestination:
		return "AtDestination"
	case MoveToDestination:
		return "MoveToDestination"
	case PickUp:
		return fmt.Sprintf("PickUp(%s)", v.Kind)
	case SetRecipe:
		return fmt.Sprintf("SetRecipe(%s)", v.Recipe.ID)
	case Construct:
		return "Construct"
	case Eat:
		return "Eat"
	default:
		return fmt.Sprintf("%T", n)
	}
}
