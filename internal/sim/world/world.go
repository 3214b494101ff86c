package world

import (
	"errors"
	"fmt"
	"log"
	"os"

	"anvil.sim/internal/sim/ai"
	"anvil.sim/internal/sim/catalogs"
	"anvil.sim/internal/sim/clock"
	"anvil.sim/internal/sim/command"
	"anvil.sim/internal/sim/components"
	"anvil.sim/internal/sim/digest"
	"anvil.sim/internal/sim/ecs"
	"anvil.sim/internal/sim/rng"
	"anvil.sim/internal/sim/tuning"
)

var ErrMissingState = errors.New("missing state")

var (
	foodShape  = components.Shape{Width: 0.2, Height: 0.2, Color: [4]uint8{40, 180, 60, 255}}
	woodShape  = components.Shape{Width: 0.2, Height: 0.2, Color: [4]uint8{170, 70, 0, 255}}
	stoneShape = components.Shape{Width: 0.2, Height: 0.2, Color: [4]uint8{170, 170, 170, 255}}
	agentShape = components.Shape{Width: 0.4, Height: 0.4, Color: [4]uint8{150, 150, 150, 150}}
)

// World is the single-threaded simulation. All state must be accessed only
// from the goroutine that steps it.
type World struct {
	tun     tuning.Tuning
	recipes *catalogs.Catalog
	logger  *log.Logger

	clock  *clock.Scheduler
	reg    *ecs.Registry
	bus    *command.Bus
	agents *ai.Agents

	hungerEveryTicks uint32
}

// New builds the world and spawns the initial population. src may be nil for
// the wall clock.
func New(tun tuning.Tuning, recipes *catalogs.Catalog, src clock.TimeSource, logger *log.Logger) (*World, error) {
	if err := tun.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	if recipes == nil {
		recipes = catalogs.Default()
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds)
	}
	sched, err := clock.New(tun.SimHz, src)
	if err != nil {
		return nil, err
	}
	sched.SetMaxStepsPerFrame(tun.MaxStepsPerFrame)

	every := uint64(tun.HungerEveryMs) * uint64(tun.SimHz) / 1000
	if every == 0 {
		every = 1
	}
	w := &World{
		tun:              tun,
		recipes:          recipes,
		logger:           logger,
		clock:            sched,
		reg:              ecs.NewRegistry(),
		bus:              command.NewBus(),
		agents:           ai.NewAgents(tun.ArrivalDistance),
		hungerEveryTicks: uint32(every),
	}
	w.spawn()
	return w, nil
}

func (w *World) Tuning() tuning.Tuning      { return w.tun }
func (w *World) Seed() uint64               { return uint64(w.tun.Seed) }
func (w *World) Clock() *clock.Scheduler    { return w.clock }
func (w *World) Registry() *ecs.Registry    { return w.reg }
func (w *World) Bus() *command.Bus          { return w.bus }
func (w *World) Agents() *ai.Agents         { return w.agents }
func (w *World) Recipes() *catalogs.Catalog { return w.recipes }

// CurrentTick is the tick the next Step will simulate.
func (w *World) CurrentTick() uint64 { return w.clock.Tick() }

func (w *World) Hash() uint64 { return digest.Hash(w.reg) }

func (w *World) Breakdown() digest.Breakdown { return digest.Of(w.reg) }

// spawn places the initial resources from the spawn stream and one builder agent.
func (w *World) spawn() {
	r := rng.Derive(w.Seed(), 0, rng.StreamSpawn)
	sp := w.tun.Spawn
	place := func(n int, kind components.ResourceKind, shape components.Shape) {
		for i := 0; i < n; i++ {
			x := float32(rng.IntRange(r, sp.AreaMin, sp.AreaMax)) + 0.5
			y := float32(rng.IntRange(r, sp.AreaMin, sp.AreaMax)) + 0.5
			e := w.reg.Spawn()
			_ = ecs.Insert(w.reg, e, components.Position{X: x, Y: y})
			_ = ecs.Insert(w.reg, e, shape)
			_ = ecs.Insert(w.reg, e, components.Resource{Kind: kind})
		}
	}
	place(sp.Food, components.Food, foodShape)
	place(sp.Wood, components.Wood, woodShape)
	place(sp.Stone, components.Stone, stoneShape)

	agent := w.reg.Spawn()
	_ = ecs.Insert(w.reg, agent, components.Position{X: w.tun.AgentStart[0], Y: w.tun.AgentStart[1]})
	_ = ecs.Insert(w.reg, agent, agentShape)
	_ = ecs.Insert(w.reg, agent, components.Hunger{})
	_ = ecs.Insert(w.reg, agent, components.Movement{})
	_ = ecs.Insert(w.reg, agent, components.State{Kind: components.Idle})

	if recipe, ok := w.recipes.FirstFor("house"); ok {
		w.agents.Assign(agent, ai.BuildHouse(recipe))
	} else {
		w.agents.Assign(agent, ai.Idle())
	}
}

// Step runs one fixed step and advances the tick. It returns the tick that was
// simulated. Commands pushed to the bus before Step are applied by it.
func (w *World) Step() uint64 {
	nowTick := w.clock.Tick()

	w.bus.BeginTick()
	w.bus.SetProcessing(command.Resolve(w.bus.Processing()))
	for _, err := range ApplyCommands(w.bus.Processing(), w.agents, w.reg) {
		w.logger.Printf("tick=%d command skipped: %v", nowTick, err)
	}

	w.planHunger()
	ai.RunBehaviors(w.agents, nowTick, w.bus, w.reg)
	w.systemMovement()
	w.systemHunger()

	w.clock.AdvanceTick()
	return nowTick
}

// StepOnce steps and returns the simulated tick with the world hash after it.
func (w *World) StepOnce() (tick uint64, hash uint64) {
	tick = w.Step()
	return tick, w.Hash()
}

// ApplyCommands applies resolved commands in order. A command whose entity
// lacks the required state is skipped and reported; the rest still apply.
func ApplyCommands(cmds []command.EntityCommand, agents *ai.Agents, reg *ecs.Registry) []error {
	var errs []error
	for _, c := range cmds {
		switch c.Kind {
		case command.MoveToPosition:
			ag, ok := agents.Get(c.Entity)
			if !ok {
				errs = append(errs, fmt.Errorf("%s: %w: no knowledge or behavior list", c, ErrMissingState))
				continue
			}
			ag.Behaviors.PushFront(ai.MoveToPosition())
			ag.Knowledge.SetDestination(c.X, c.Y)
		case command.RemoveFromMap:
			if err := ecs.Remove[components.Position](reg, c.Entity); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w: %w", c, ErrMissingState, err))
				continue
			}
			// Consumed while the command was in flight.
			if reg.Bare(c.Entity) {
				_ = reg.Despawn(c.Entity)
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown command kind", c))
		}
	}
	return errs
}
