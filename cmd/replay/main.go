package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/dustin/go-humanize"

	"anvil.sim/internal/host"
	persistlog "anvil.sim/internal/persistence/log"
	"anvil.sim/internal/persistence/snapshot"
	"anvil.sim/internal/persistence/trace"
	"anvil.sim/internal/sim/catalogs"
	"anvil.sim/internal/sim/digest"
	"anvil.sim/internal/sim/tuning"
)

func main() {
	var (
		tracePath  = flag.String("trace", "", "trace to verify (.zst allowed)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml used for the recording (optional)")
		recipesDir = flag.String("recipes", "", "recipe directory used for the recording (optional)")
		hashEvery  = flag.Uint64("hash_every", 600, "print the world hash every N ticks (0 disables)")
		breakdown  = flag.Bool("breakdown", false, "print per-component hashes with every periodic hash")
		component  = flag.String("component", "", "only print this component's hash in breakdowns")
		dump       = flag.Bool("dump", false, "print every trace record that carries input")
		hashLogDir = flag.String("hashlog", "", "compare periodic hashes against a recorded hash log dir")
		snapPath   = flag.String("snapshot", "", "write the final world state here (.snap.zst)")
		onMismatch = flag.Bool("snapshot_on_mismatch", false, "only write -snapshot when the final hash mismatches")
		diffPath   = flag.String("diff", "", "diff the final world state against this snapshot")
	)
	flag.Parse()

	if *tracePath == "" && flag.NArg() == 1 {
		*tracePath = flag.Arg(0)
	}
	if *tracePath == "" {
		fmt.Fprintln(os.Stderr, "missing -trace")
		os.Exit(2)
	}
	if *component != "" && !knownComponent(*component) {
		msg := fmt.Sprintf("unknown component %q", *component)
		if s := suggest(*component); s != "" {
			msg += fmt.Sprintf("; did you mean %q?", s)
		}
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(2)
	}

	tune := tuning.Defaults()
	if *tuningPath != "" {
		t, err := tuning.Load(*tuningPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = t
	}
	var recipes *catalogs.Catalog
	if *recipesDir != "" {
		c, err := catalogs.Load(*recipesDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load recipes:", err)
			os.Exit(1)
		}
		recipes = c
	}

	var expected map[uint64]string
	if *hashLogDir != "" {
		entries, err := persistlog.ReadHashLog(*hashLogDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read hash log:", err)
			os.Exit(1)
		}
		expected = make(map[uint64]string, len(entries))
		for _, e := range entries {
			expected[e.Tick] = e.Hash
		}
	}

	var firstBad uint64
	var badSeen bool
	start := time.Now()
	res, err := host.VerifyTrace(*tracePath, tune, recipes, host.VerifyOptions{
		HashEvery: *hashEvery,
		OnHash: func(tick uint64, b digest.Breakdown) {
			line := fmt.Sprintf("tick=%d world_hash=%#018x", tick, b.Total)
			if *breakdown {
				line += " " + formatBreakdown(b, *component)
			}
			if want, ok := expected[tick]; ok && want != fmt.Sprintf("%016x", b.Total) {
				line += " MISMATCH log=" + want
				if !badSeen {
					badSeen, firstBad = true, tick
				}
			}
			fmt.Println(line)
		},
		OnRecord: func(ev trace.TickEvents) {
			if !*dump || (ev.Props.Empty() && len(ev.Commands) == 0) {
				return
			}
			fmt.Printf("record tick=%d%s", ev.Tick, formatProps(ev.Props))
			for _, c := range ev.Commands {
				fmt.Printf(" %s", c)
			}
			fmt.Println()
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}

	size := "?"
	if st, err := os.Stat(*tracePath); err == nil {
		size = humanize.Bytes(uint64(st.Size()))
	}
	fmt.Printf("trace %s (%s) sim_hz=%d seed=%#x records=%s commands=%s in %s\n",
		*tracePath, size, res.Meta.SimHz, res.Meta.Seed,
		humanize.Comma(int64(res.Records)), humanize.Comma(int64(res.Commands)), time.Since(start).Round(time.Millisecond))
	if badSeen {
		fmt.Printf("hash log diverges first at tick=%d\n", firstBad)
	}

	if *snapPath != "" && (!*onMismatch || !res.Match) {
		snap := res.World.ExportSnapshot("")
		if err := snapshot.WriteSnapshot(*snapPath, snap); err != nil {
			fmt.Fprintln(os.Stderr, "write snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot written: %s tick=%d\n", *snapPath, snap.Header.Tick)
	}
	if *diffPath != "" {
		other, err := snapshot.ReadSnapshot(*diffPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		diffs := snapshot.Diff(res.World.ExportSnapshot(""), other)
		for _, d := range diffs {
			fmt.Println(d)
		}
		fmt.Printf("diff: %d differences vs %s\n", len(diffs), *diffPath)
	}

	if !res.Match {
		fmt.Printf("replay MISMATCH: end_tick=%d hash=%#018x, trailer end_tick=%d hash=%#018x\n",
			res.EndTick, res.FinalHash, res.Trailer.EndTick, res.Trailer.FinalHash)
		os.Exit(1)
	}
	fmt.Printf("replay ok: end_tick=%d hash=%#018x\n", res.EndTick, res.FinalHash)
}

func knownComponent(name string) bool {
	for _, k := range digest.Kinds {
		if k == name {
			return true
		}
	}
	return false
}

// suggest returns the closest component name within a small edit distance.
func suggest(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	best, bestDist := "", 3
	for _, k := range digest.Kinds {
		if d := levenshtein.ComputeDistance(name, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best
}

func formatBreakdown(b digest.Breakdown, only string) string {
	if only != "" {
		return fmt.Sprintf("%s=%#018x", only, b.Parts[only])
	}
	keys := make([]string, 0, len(b.Parts))
	for k := range b.Parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%#018x", k, b.Parts[k]))
	}
	return strings.Join(parts, " ")
}

func formatProps(p *trace.PropsDelta) string {
	if p.Empty() {
		return ""
	}
	var sb strings.Builder
	if p.Selected != nil {
		fmt.Fprintf(&sb, " selected=%s", *p.Selected)
	}
	if p.DrawGrid != nil {
		fmt.Fprintf(&sb, " grid=%v", *p.DrawGrid)
	}
	if p.Quit != nil {
		fmt.Fprintf(&sb, " quit=%v", *p.Quit)
	}
	return sb.String()
}
