package host

import (
	"fmt"
	"io"
	"log"

	"anvil.sim/internal/persistence/trace"
	"anvil.sim/internal/sim/catalogs"
	"anvil.sim/internal/sim/digest"
	"anvil.sim/internal/sim/tuning"
	"anvil.sim/internal/sim/world"
)

type VerifyOptions struct {
	// HashEvery calls OnHash every that many ticks; 0 disables it.
	HashEvery uint64
	OnHash    func(tick uint64, b digest.Breakdown)
	// OnRecord sees every trace record before it is injected.
	OnRecord func(ev trace.TickEvents)
	Logger   *log.Logger
}

type VerifyResult struct {
	Meta      trace.RunMeta
	Trailer   trace.Trailer
	EndTick   uint64
	FinalHash uint64
	Records   int
	Commands  int
	Match     bool

	// World is left at EndTick for snapshots and inspection.
	World *world.World
}

// VerifyTrace replays a trace without pacing and compares the final hash
// with the trailer. Only trace errors are returned; a mismatch is reported in
// the result.
func VerifyTrace(path string, tun tuning.Tuning, recipes *catalogs.Catalog, opts VerifyOptions) (VerifyResult, error) {
	var res VerifyResult
	p, err := trace.Open(path)
	if err != nil {
		return res, err
	}
	defer p.Close()

	res.Meta = p.Meta()
	res.Trailer = p.Trailer()
	tun.SimHz = res.Meta.SimHz
	tun.Seed = tuning.Seed(res.Meta.Seed)

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w, err := world.New(tun, recipes, nil, logger)
	if err != nil {
		return res, err
	}
	res.World = w

	props := DefaultProperties()
	bus := w.Bus()
	for w.CurrentTick() < res.Trailer.EndTick {
		tick := w.CurrentTick()
		for {
			evs, err := p.NextForTick(tick)
			if err != nil {
				return res, fmt.Errorf("tick %d: %w", tick, err)
			}
			for _, ev := range evs {
				if opts.OnRecord != nil {
					opts.OnRecord(ev)
				}
				props.Apply(ev.Props)
				bus.Extend(ev.Commands)
				res.Records++
				res.Commands += len(ev.Commands)
			}
			if !p.More() {
				break
			}
		}
		w.Step()
		now := w.CurrentTick()
		if opts.HashEvery > 0 && now%opts.HashEvery == 0 && opts.OnHash != nil {
			opts.OnHash(now, w.Breakdown())
		}
		if p.EOF() && now > p.LastTickSeen() {
			break
		}
	}
	// Drain so records past the end are reported.
	if !p.EOF() {
		if _, err := p.NextForTick(res.Trailer.EndTick); err != nil {
			return res, err
		}
	}

	res.EndTick = w.CurrentTick()
	res.FinalHash = w.Hash()
	res.Match = res.EndTick == res.Trailer.EndTick && res.FinalHash == res.Trailer.FinalHash
	return res, nil
}
