package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"anvil.sim/internal/persistence/indexdb"
)

func openIndex(fs *flag.FlagSet, dbPath string) *indexdb.SQLiteIndex {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		fmt.Fprintf(os.Stderr, "%s: missing -db\n", fs.Name())
		os.Exit(2)
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return idx
}

func queryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func runsCmd(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", "", "sqlite run index path")
	asJSON := fs.Bool("json", false, "print rows as JSON")
	_ = fs.Parse(args)

	idx := openIndex(fs, *dbPath)
	defer idx.Close()
	ctx, cancel := queryContext()
	defer cancel()

	runs, err := idx.Runs(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	if *asJSON {
		printJSON(runs)
		return
	}
	for _, r := range runs {
		end := "-"
		if t, ok, err := idx.Trailer(ctx, r.RunID); err == nil && ok {
			end = fmt.Sprintf("end_tick=%d hash=%s", t.EndTick, t.FinalHash)
		}
		fmt.Printf("%s %-6s seed=%s sim_hz=%d started=%s trace=%s %s\n",
			r.RunID, r.Mode, r.Seed, r.SimHz, r.StartedAt, orDash(r.TracePath), end)
	}
}

func hashesCmd(args []string) {
	fs := flag.NewFlagSet("hashes", flag.ExitOnError)
	dbPath := fs.String("db", "", "sqlite run index path")
	asJSON := fs.Bool("json", false, "print rows as JSON")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin hashes -db <path> <run_id>")
		os.Exit(2)
	}

	idx := openIndex(fs, *dbPath)
	defer idx.Close()
	ctx, cancel := queryContext()
	defer cancel()

	run, err := idx.Run(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	rows, err := idx.Hashes(ctx, run.RunID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	if *asJSON {
		printJSON(rows)
		return
	}
	for _, h := range rows {
		fmt.Printf("tick=%d world_hash=0x%s\n", h.Tick, h.Hash)
	}
}

func divergeCmd(args []string) {
	fs := flag.NewFlagSet("diverge", flag.ExitOnError)
	dbPath := fs.String("db", "", "sqlite run index path")
	_ = fs.Parse(args)
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: admin diverge -db <path> <run_a> <run_b>")
		os.Exit(2)
	}

	idx := openIndex(fs, *dbPath)
	defer idx.Close()
	ctx, cancel := queryContext()
	defer cancel()

	a, b := fs.Arg(0), fs.Arg(1)
	for _, id := range []string{a, b} {
		if _, err := idx.Run(ctx, id); err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
	}
	tick, found, err := idx.FirstDivergence(ctx, a, b)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	if !found {
		fmt.Println("no divergence on shared ticks")
		return
	}
	fmt.Printf("first divergence at tick=%d\n", tick)
	idx.Close()
	os.Exit(1)
}
