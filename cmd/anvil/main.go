package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"anvil.sim/internal/host"
	"anvil.sim/internal/persistence/archive"
	"anvil.sim/internal/persistence/indexdb"
	persistlog "anvil.sim/internal/persistence/log"
	"anvil.sim/internal/sim/catalogs"
	"anvil.sim/internal/sim/tuning"
	"anvil.sim/internal/transport/observer"
)

func main() {
	os.Exit(run())
}

func run() int {
	var seed tuning.Seed
	var (
		recordPath = flag.String("record", "", "record the run's input to this trace file (.zst to compress)")
		replayPath = flag.String("replay", "", "replay a recorded trace")
		ticks      = flag.Uint64("ticks", 0, "stop after this many ticks (0 = no limit)")
		simHz      = flag.Uint("sim-hz", 0, "fixed step frequency (default from tuning)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (optional)")
		recipesDir = flag.String("recipes", "", "directory of recipe *.json files (default: built-in house recipe)")
		inputPath  = flag.String("input", "", "YAML input script (optional)")
		hashLogDir = flag.String("hashlog", "", "directory for the JSONL hash log (optional)")
		dbPath     = flag.String("db", "", "sqlite run index path (optional)")
		observe    = flag.String("observe", "", "loopback address for the hash observer websocket, e.g. 127.0.0.1:8091 (optional)")
		fast       = flag.Bool("fast", false, "run steps back to back instead of in real time")
		archiveDir = flag.String("archive", "", "archive the trace, final snapshot and meta.json under this directory (optional)")
	)
	flag.Var(&seed, "seed", "run seed, decimal or 0x hex (default from tuning)")
	flag.Parse()

	logger := log.New(os.Stdout, "[anvil] ", log.LstdFlags|log.Lmicroseconds)

	if *recordPath != "" && *replayPath != "" {
		fmt.Fprintln(os.Stderr, "-record and -replay are mutually exclusive")
		return 2
	}

	tune := tuning.Defaults()
	if tp := strings.TrimSpace(*tuningPath); tp != "" {
		t, err := tuning.Load(tp)
		if err != nil {
			logger.Printf("load tuning: %v", err)
			return 1
		}
		tune = t
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			tune.Seed = seed
		case "sim-hz":
			tune.SimHz = uint32(*simHz)
		}
	})

	recipes := catalogs.Default()
	if dir := strings.TrimSpace(*recipesDir); dir != "" {
		c, err := catalogs.Load(dir)
		if err != nil {
			logger.Printf("load recipes: %v", err)
			return 1
		}
		recipes = c
		logger.Printf("recipes: %d loaded from %s (digest %s)", c.Len(), dir, c.Digest)
	}

	cfg := host.Config{
		Ticks:   *ticks,
		Unpaced: *fast,
		Tuning:  tune,
		Recipes: recipes,
		RunID:   indexdb.NewRunID(),
		Logger:  logger,
	}
	switch {
	case *recordPath != "":
		cfg.Mode, cfg.TracePath = host.ModeRecord, *recordPath
	case *replayPath != "":
		cfg.Mode, cfg.TracePath = host.ModeReplay, *replayPath
	}

	if *inputPath != "" {
		s, err := host.LoadScript(*inputPath)
		if err != nil {
			logger.Printf("%v", err)
			return 1
		}
		cfg.Input = s
	}

	if *hashLogDir != "" {
		hl := persistlog.NewHashLogger(*hashLogDir, 0)
		defer func() {
			if err := hl.Close(); err != nil {
				logger.Printf("hash log close: %v", err)
			}
		}()
		cfg.HashSinks = append(cfg.HashSinks, host.HashLogSink{Log: hl})
	}

	if *dbPath != "" {
		idx, err := indexdb.OpenSQLite(*dbPath)
		if err != nil {
			logger.Printf("open index: %v", err)
			return 1
		}
		defer func() {
			if st := idx.Stats(); st.QueueDroppedTotal > 0 {
				logger.Printf("index dropped %d rows under backlog", st.QueueDroppedTotal)
			}
			_ = idx.Close()
		}()
		sink := host.IndexSink{Index: idx}
		cfg.HashSinks = append(cfg.HashSinks, sink)
		cfg.RunSinks = append(cfg.RunSinks, sink)
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, err := host.New(cfg)
	if err != nil {
		logger.Printf("%v", err)
		return 1
	}

	if *observe != "" {
		tun := r.World().Tuning()
		srv, err := startObserver(ctx, *observe, observer.RunInfo{
			RunID: r.RunID(),
			Mode:  cfg.Mode.String(),
			SimHz: tun.SimHz,
			Seed:  uint64(tun.Seed),
		}, logger)
		if err != nil {
			logger.Printf("observer: %v", err)
			_, _ = r.Close()
			return 1
		}
		r.AddHashSink(host.ObserverSink{Server: srv})
	}

	runErr := r.Run(ctx)
	res, err := r.Close()
	if err != nil {
		logger.Printf("close: %v", err)
	}
	if runErr != nil {
		logger.Printf("run stopped: %v", runErr)
	}
	logger.Printf("FINAL end_tick=%d world_hash=%#018x", res.EndTick, res.FinalHash)
	if *archiveDir != "" {
		dir, aerr := archive.ArchiveRun(*archiveDir, cfg.TracePath, r.World().ExportSnapshot(res.RunID))
		if aerr != nil {
			logger.Printf("archive: %v", aerr)
			return 1
		}
		logger.Printf("archived run to %s", dir)
	}
	if runErr != nil || err != nil || (cfg.Mode == host.ModeReplay && !res.Verified) {
		return 1
	}
	return 0
}

// startObserver serves the hash observer on a loopback address until ctx ends.
func startObserver(ctx context.Context, addr string, info observer.RunInfo, logger *log.Logger) (*observer.Server, error) {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if ip := net.ParseIP(h); h != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return nil, errors.New("observer address must be loopback")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := observer.NewServer(info, logger)
	hs := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel2()
		_ = hs.Shutdown(ctx2)
	}()
	go func() {
		if err := hs.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Printf("observer: %v", err)
		}
	}()
	logger.Printf("observer listening on %s", ln.Addr())
	return srv, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
