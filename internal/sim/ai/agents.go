package ai

import (
	"sort"
	"strings"

	"anvil.sim/internal/sim/ecs"
)

// BehaviorList is an agent's queue of roots. Only the head runs; it is
// dropped once it reports Success or Failure.
type BehaviorList struct {
	roots []Root
}

func NewBehaviorList(roots ...Root) *BehaviorList {
	return &BehaviorList{roots: append([]Root(nil), roots...)}
}

func (b *BehaviorList) Len() int { return len(b.roots) }

func (b *BehaviorList) PushFront(r Root) {
	b.roots = append([]Root{r}, b.roots...)
}

func (b *BehaviorList) PushBack(r Root) { b.roots = append(b.roots, r) }

func (b *BehaviorList) Head() (Root, bool) {
	if len(b.roots) == 0 {
		return Root{}, false
	}
	return b.roots[0], true
}

func (b *BehaviorList) Contains(name string) bool {
	for _, r := range b.roots {
		if r.Name == name {
			return true
		}
	}
	return false
}

func (b *BehaviorList) Names() []string {
	out := make([]string, len(b.roots))
	for i, r := range b.roots {
		out[i] = r.Name
	}
	return out
}

// Step evaluates the head root once, refilling an empty list with Idle first.
func (b *BehaviorList) Step(k *Knowledge, out CommandSink, reg *ecs.Registry) (string, Status) {
	if len(b.roots) == 0 {
		b.roots = append(b.roots, Idle())
	}
	head := b.roots[0]
	st := head.Node.Run(k, out, reg)
	if st != Running {
		b.roots = b.roots[1:]
	}
	return head.Name, st
}

// Describe renders the queued roots, head first.
func (b *BehaviorList) Describe() string {
	parts := make([]string, len(b.roots))
	for i, r := range b.roots {
		parts[i] = r.Name + "=" + Describe(r.Node)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

type Agent struct {
	Knowledge *Knowledge
	Behaviors *BehaviorList
}

// Agents owns the knowledge and behavior list of every AI-driven entity.
type Agents struct {
	Arrival float32
	byID    map[ecs.Entity]*Agent
}

func NewAgents(arrival float32) *Agents {
	return &Agents{Arrival: arrival, byID: map[ecs.Entity]*Agent{}}
}

// Assign appends roots to e's behavior list, creating the agent if needed.
func (a *Agents) Assign(e ecs.Entity, roots ...Root) *Agent {
	ag, ok := a.byID[e]
	if !ok {
		ag = &Agent{Knowledge: NewKnowledge(e), Behaviors: NewBehaviorList()}
		a.byID[e] = ag
	}
	for _, r := range roots {
		ag.Behaviors.PushBack(r)
	}
	return ag
}

func (a *Agents) Get(e ecs.Entity) (*Agent, bool) {
	ag, ok := a.byID[e]
	return ag, ok
}

func (a *Agents) Len() int { return len(a.byID) }

// Sorted lists agent entities in ascending order.
func (a *Agents) Sorted() []ecs.Entity {
	out := make([]ecs.Entity, 0, len(a.byID))
	for e := range a.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RunBehaviors evaluates every agent once, in entity order. Commands produced
// here are applied on the next tick.
func RunBehaviors(a *Agents, tick uint64, out CommandSink, reg *ecs.Registry) {
	for _, e := range a.Sorted() {
		ag := a.byID[e]
		ag.Knowledge.Tick = tick
		ag.Knowledge.Arrival = a.Arrival
		ag.Behaviors.Step(ag.Knowledge, out, reg)
	}
}
