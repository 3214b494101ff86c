package host

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"anvil.sim/internal/persistence/trace"
	"anvil.sim/internal/sim/catalogs"
	"anvil.sim/internal/sim/clock"
	"anvil.sim/internal/sim/command"
	"anvil.sim/internal/sim/tuning"
	"anvil.sim/internal/sim/world"
)

type Mode int

const (
	ModeNormal Mode = iota
	ModeRecord
	ModeReplay
)

func (m Mode) String() string {
	switch m {
	case ModeRecord:
		return "record"
	case ModeReplay:
		return "replay"
	default:
		return "normal"
	}
}

type Config struct {
	Mode      Mode
	TracePath string
	// Ticks stops the run once this many ticks have been simulated; 0 means no limit.
	Ticks uint64
	// Unpaced runs one step per frame without consulting the clock.
	Unpaced bool

	Tuning  tuning.Tuning
	Recipes *catalogs.Catalog
	Clock   clock.TimeSource
	Input   Input
	RunID   string

	HashSinks []HashSink
	RunSinks  []RunSink
	Logger    *log.Logger
}

// Result describes a finished run.
type Result struct {
	RunID     string
	EndTick   uint64
	FinalHash uint64

	// Replay only.
	Trailer  trace.Trailer
	Verified bool
}

// Runner drives a World frame by frame in one of the three modes. In replay
// the trace is the only input; live input is polled and thrown away.
type Runner struct {
	cfg   Config
	log   *log.Logger
	world *world.World
	props Properties
	runID string

	rec    *trace.Recorder
	dirty  bool
	player *trace.Player

	done   bool
	closed bool
}

func New(cfg Config) (*Runner, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[host] ", log.LstdFlags|log.Lmicroseconds)
	}
	r := &Runner{cfg: cfg, log: logger, props: DefaultProperties(), runID: cfg.RunID}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}

	tun := cfg.Tuning
	switch cfg.Mode {
	case ModeRecord, ModeReplay:
		if cfg.TracePath == "" {
			return nil, fmt.Errorf("%s mode needs a trace path", cfg.Mode)
		}
	}
	if cfg.Mode == ModeReplay {
		p, err := trace.Open(cfg.TracePath)
		if err != nil {
			return nil, fmt.Errorf("open trace: %w", err)
		}
		meta := p.Meta()
		if meta.SimHz != tun.SimHz {
			logger.Printf("replay: using recorded sim_hz=%d (configured %d)", meta.SimHz, tun.SimHz)
		}
		tun.SimHz = meta.SimHz
		tun.Seed = tuning.Seed(meta.Seed)
		r.player = p
	}

	w, err := world.New(tun, cfg.Recipes, cfg.Clock, logger)
	if err != nil {
		r.closePlayer()
		return nil, err
	}
	r.world = w

	if cfg.Mode == ModeRecord {
		rec, err := trace.Create(cfg.TracePath, trace.RunMeta{SimHz: tun.SimHz, Seed: uint64(tun.Seed), Version: trace.SchemaVersion})
		if err != nil {
			return nil, fmt.Errorf("create trace: %w", err)
		}
		r.rec = rec
	}
	if r.player != nil && r.player.Trailer().EndTick == 0 {
		r.done = true
	}

	for _, s := range cfg.RunSinks {
		s.RunStarted(r.runID, uint64(tun.Seed), tun.SimHz, cfg.Mode, cfg.TracePath)
	}
	logger.Printf("run=%s mode=%s sim_hz=%d seed=%s", r.runID, cfg.Mode, tun.SimHz, tun.Seed)
	return r, nil
}

func (r *Runner) World() *world.World { return r.world }
func (r *Runner) Props() Properties   { return r.props }
func (r *Runner) RunID() string       { return r.runID }
func (r *Runner) Done() bool          { return r.done }

// AddHashSink attaches a sink that needs the run's final identity.
func (r *Runner) AddHashSink(s HashSink) { r.cfg.HashSinks = append(r.cfg.HashSinks, s) }

// Run paces frames at the step rate until the run ends or ctx is cancelled.
// Close must still be called to write the trailer.
func (r *Runner) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if !r.cfg.Unpaced {
		t := time.NewTicker(r.world.Clock().Step())
		defer t.Stop()
		tick = t.C
	}
	for {
		more, err := r.Frame()
		if err != nil || !more {
			return err
		}
		if tick == nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		}
	}
}

// Frame runs the steps the scheduler allows and flushes the trace. It
// reports whether the run should continue.
func (r *Runner) Frame() (bool, error) {
	if r.done {
		return false, nil
	}
	steps := 1
	if !r.cfg.Unpaced {
		steps = r.world.Clock().BeginFrame()
	}
	for i := 0; i < steps && !r.done; i++ {
		if err := r.step(); err != nil {
			r.done = true
			return false, err
		}
	}
	if r.rec != nil && r.dirty {
		if err := r.rec.Flush(); err != nil {
			r.done = true
			return false, err
		}
		r.dirty = false
	}
	return !r.done, nil
}

func (r *Runner) step() error {
	tick := r.world.CurrentTick()
	if r.player != nil && tick >= r.player.Trailer().EndTick {
		r.done = true
		return nil
	}

	bus := r.world.Bus()
	before := r.props
	pre := bus.Len()
	if r.cfg.Input != nil {
		r.cfg.Input.Poll(tick, &r.props, bus, r.world.Registry())
	}

	switch {
	case r.player != nil:
		bus.Truncate(pre)
		r.props = before
		for {
			evs, err := r.player.NextForTick(tick)
			if err != nil {
				return fmt.Errorf("replay tick %d: %w", tick, err)
			}
			for _, ev := range evs {
				r.props.Apply(ev.Props)
				bus.Extend(ev.Commands)
			}
			if !r.player.More() {
				break
			}
		}
	case r.rec != nil:
		ev := trace.TickEvents{Tick: tick, Props: Delta(before, r.props)}
		if tail := bus.Incoming()[pre:]; len(tail) > 0 {
			ev.Commands = append([]command.EntityCommand(nil), tail...)
		}
		if err := r.rec.Push(ev); err != nil {
			return err
		}
		r.dirty = true
	}

	r.world.Step()
	now := r.world.CurrentTick()
	r.hash(now)

	if r.cfg.Ticks > 0 && now >= r.cfg.Ticks {
		r.done = true
	}
	if r.player != nil {
		if now >= r.player.Trailer().EndTick || (r.player.EOF() && now > r.player.LastTickSeen()) {
			r.done = true
		}
	} else if r.props.Quit {
		r.done = true
	}
	return nil
}

func (r *Runner) hash(tick uint64) {
	tun := r.world.Tuning()
	if tun.HashEveryTicks == 0 || tick%tun.HashEveryTicks != 0 {
		return
	}
	b := r.world.Breakdown()
	r.log.Printf("tick=%d world_hash=%#018x", tick, b.Total)
	if tun.HashDebug {
		r.log.Printf("tick=%d %s", tick, b)
		agents := r.world.Agents()
		for _, e := range agents.Sorted() {
			ag, _ := agents.Get(e)
			r.log.Printf("tick=%d agent=%s behaviors=%s", tick, e, ag.Behaviors.Describe())
		}
	}
	for _, s := range r.cfg.HashSinks {
		if err := s.WriteHash(r.runID, tick, b); err != nil {
			r.log.Printf("hash sink: %v", err)
		}
	}
}

// Close ends the run: a recording gets its trailer, a replay is checked
// against it. Calling Close again returns the same tick and hash.
func (r *Runner) Close() (Result, error) {
	r.done = true
	res := Result{RunID: r.runID, EndTick: r.world.CurrentTick(), FinalHash: r.world.Hash()}
	if r.closed {
		return res, nil
	}
	r.closed = true

	var err error
	if r.rec != nil {
		if ferr := r.rec.Finish(trace.Trailer{EndTick: res.EndTick, FinalHash: res.FinalHash}); ferr != nil {
			err = ferr
		} else {
			r.log.Printf("Recorded trailer: end_tick=%d, hash=%#018x", res.EndTick, res.FinalHash)
			r.log.Printf("trace %s: %s uncompressed", r.cfg.TracePath, humanize.Bytes(uint64(r.rec.Written())))
		}
	}
	if r.player != nil {
		res.Trailer = r.player.Trailer()
		res.Verified = res.EndTick == res.Trailer.EndTick && res.FinalHash == res.Trailer.FinalHash
		switch {
		case res.Verified:
			r.log.Printf("replay verified: end_tick=%d, hash=%#018x", res.EndTick, res.FinalHash)
		case res.EndTick == res.Trailer.EndTick:
			r.log.Printf("replay MISMATCH at end_tick=%d: got %#018x, recorded %#018x", res.EndTick, res.FinalHash, res.Trailer.FinalHash)
		default:
			r.log.Printf("replay stopped at tick=%d before recorded end_tick=%d", res.EndTick, res.Trailer.EndTick)
		}
		if cerr := r.closePlayer(); err == nil {
			err = cerr
		}
	}
	for _, s := range r.cfg.RunSinks {
		s.RunFinished(r.runID, res.EndTick, res.FinalHash)
	}
	return res, err
}

func (r *Runner) closePlayer() error {
	if r.player == nil {
		return nil
	}
	err := r.player.Close()
	r.player = nil
	return err
}
