package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"anvil.sim/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "runs":
			runsCmd(os.Args[2:])
			return
		case "hashes":
			hashesCmd(os.Args[2:])
			return
		case "diverge":
			divergeCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "diff":
			diffCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin runs|hashes|diverge|snapshot|diff|state [flags] [args]")
	os.Exit(2)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print the whole snapshot as JSON")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin snapshot [-json] <path.snap.zst>")
		os.Exit(2)
	}

	path := fs.Arg(0)
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	if *asJSON {
		printJSON(snap)
		return
	}

	size := "?"
	if st, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(st.Size()))
	}
	fmt.Printf("snapshot %s (%s) version=%d run=%s tick=%d hash=%#018x seed=%#x sim_hz=%d\n",
		path, size, snap.Header.Version, orDash(snap.Header.RunID), snap.Header.Tick, snap.Header.Hash, snap.Seed, snap.SimHz)

	counts := map[string]int{}
	for _, e := range snap.Entities {
		switch {
		case e.Structure != nil:
			counts["structure:"+e.Structure.RecipeID]++
		case e.Resource != "":
			counts["resource:"+e.Resource]++
		case e.Hunger != nil:
			counts["agent"]++
		default:
			counts["other"]++
		}
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-24s %d\n", k, counts[k])
	}
	for _, a := range snap.Agents {
		fmt.Printf("  agent %d behaviors=[%s] target=%d recipe=%s\n", a.ID, strings.Join(a.Behaviors, ","), a.Target, orDash(a.Recipe))
	}
}

func diffCmd(args []string) {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: admin diff <a.snap.zst> <b.snap.zst>")
		os.Exit(2)
	}
	a, err := snapshot.ReadSnapshot(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	b, err := snapshot.ReadSnapshot(fs.Arg(1))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	diffs := snapshot.Diff(a, b)
	for _, d := range diffs {
		fmt.Println(d)
	}
	fmt.Printf("%d differences (a tick=%d hash=%#018x, b tick=%d hash=%#018x)\n",
		len(diffs), a.Header.Tick, a.Header.Hash, b.Header.Tick, b.Header.Hash)
	if len(diffs) > 0 {
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
