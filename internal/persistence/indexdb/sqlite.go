package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteIndex is a secondary index of runs and their periodic world hashes.
// Writes are queued and applied by a single writer goroutine; the hash log
// and the trace stay the source of truth.
type SQLiteIndex struct {
	db *sqlx.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRun     atomic.Uint64
	dropHash    atomic.Uint64
	dropTrailer atomic.Uint64
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqHash
	reqTrailer
)

type req struct {
	kind reqKind

	run     RunRow
	hash    HashRow
	trailer TrailerRow
}

type RunRow struct {
	RunID     string `db:"run_id"`
	Seed      string `db:"seed"`
	SimHz     uint32 `db:"sim_hz"`
	Mode      string `db:"mode"`
	TracePath string `db:"trace_path"`
	StartedAt string `db:"started_at"`
}

type HashRow struct {
	RunID string `db:"run_id"`
	Tick  uint64 `db:"tick"`
	Hash  string `db:"hash"`
}

type TrailerRow struct {
	RunID     string `db:"run_id"`
	EndTick   uint64 `db:"end_tick"`
	FinalHash string `db:"final_hash"`
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropRunTotal      uint64
	DropHashTotal     uint64
	DropTrailerTotal  uint64
	QueueDroppedTotal uint64
}

var ErrNoRun = errors.New("run not found")

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed TEXT NOT NULL,
			sim_hz INTEGER NOT NULL,
			mode TEXT NOT NULL,
			trace_path TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS hashes (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			tick INTEGER NOT NULL,
			hash TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS trailers (
			run_id TEXT PRIMARY KEY REFERENCES runs(run_id),
			end_tick INTEGER NOT NULL,
			final_hash TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	st := Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropRunTotal:     s.dropRun.Load(),
		DropHashTotal:    s.dropHash.Load(),
		DropTrailerTotal: s.dropTrailer.Load(),
	}
	st.QueueDroppedTotal = st.DropRunTotal + st.DropHashTotal + st.DropTrailerTotal
	return st
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind.
		switch r.kind {
		case reqRun:
			s.dropRun.Add(1)
		case reqHash:
			s.dropHash.Add(1)
		case reqTrailer:
			s.dropTrailer.Add(1)
		}
	}
}

func formatHash(h uint64) string { return fmt.Sprintf("%016x", h) }

// NewRunID returns a fresh random run id.
func NewRunID() string { return uuid.NewString() }

// RecordRun queues the run row. An empty id gets a fresh one; the id used is
// returned.
func (s *SQLiteIndex) RecordRun(runID string, seed uint64, simHz uint32, mode, tracePath string) string {
	if runID == "" {
		runID = NewRunID()
	}
	s.enqueue(req{kind: reqRun, run: RunRow{
		RunID:     runID,
		Seed:      "0x" + strconv.FormatUint(seed, 16),
		SimHz:     simHz,
		Mode:      mode,
		TracePath: tracePath,
		StartedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
	return runID
}

func (s *SQLiteIndex) WriteHash(runID string, tick, hash uint64) {
	s.enqueue(req{kind: reqHash, hash: HashRow{RunID: runID, Tick: tick, Hash: formatHash(hash)}})
}

func (s *SQLiteIndex) RecordTrailer(runID string, endTick, finalHash uint64) {
	s.enqueue(req{kind: reqTrailer, trailer: TrailerRow{RunID: runID, EndTick: endTick, FinalHash: formatHash(finalHash)}})
}

// Run returns the stored run row.
func (s *SQLiteIndex) Run(ctx context.Context, runID string) (RunRow, error) {
	var r RunRow
	err := s.db.GetContext(ctx, &r, `SELECT run_id,seed,sim_hz,mode,trace_path,started_at FROM runs WHERE run_id=?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("%s: %w", runID, ErrNoRun)
	}
	return r, err
}

// Runs lists every run, oldest first.
func (s *SQLiteIndex) Runs(ctx context.Context) ([]RunRow, error) {
	var out []RunRow
	err := s.db.SelectContext(ctx, &out, `SELECT run_id,seed,sim_hz,mode,trace_path,started_at FROM runs ORDER BY started_at, run_id`)
	return out, err
}

func (s *SQLiteIndex) Hashes(ctx context.Context, runID string) ([]HashRow, error) {
	var out []HashRow
	err := s.db.SelectContext(ctx, &out, `SELECT run_id,tick,hash FROM hashes WHERE run_id=? ORDER BY tick`, runID)
	return out, err
}

func (s *SQLiteIndex) Trailer(ctx context.Context, runID string) (TrailerRow, bool, error) {
	var t TrailerRow
	err := s.db.GetContext(ctx, &t, `SELECT run_id,end_tick,final_hash FROM trailers WHERE run_id=?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return t, false, nil
	}
	return t, err == nil, err
}

// FirstDivergence returns the earliest tick hashed by both runs whose hashes
// differ. found is false when every shared tick agrees.
func (s *SQLiteIndex) FirstDivergence(ctx context.Context, runA, runB string) (tick uint64, found bool, err error) {
	var ticks []uint64
	err = s.db.SelectContext(ctx, &ticks, `
		SELECT a.tick FROM hashes a
		JOIN hashes b ON b.run_id=? AND b.tick=a.tick
		WHERE a.run_id=? AND a.hash<>b.hash
		ORDER BY a.tick LIMIT 1`, runB, runA)
	if err != nil {
		return 0, false, err
	}
	if len(ticks) == 0 {
		return 0, false, nil
	}
	return ticks[0], true, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.PrepareNamed(`INSERT OR REPLACE INTO runs(run_id,seed,sim_hz,mode,trace_path,started_at) VALUES(:run_id,:seed,:sim_hz,:mode,:trace_path,:started_at)`)
	insertHash, _ := s.db.PrepareNamed(`INSERT OR REPLACE INTO hashes(run_id,tick,hash) VALUES(:run_id,:tick,:hash)`)
	insertTrailer, _ := s.db.PrepareNamed(`INSERT OR REPLACE INTO trailers(run_id,end_tick,final_hash) VALUES(:run_id,:end_tick,:final_hash)`)
	defer func() {
		for _, st := range []*sqlx.NamedStmt{insertRun, insertHash, insertTrailer} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sqlx.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sqlx.NamedStmt, arg any) {
		if st == nil {
			return
		}
		if _, err := tx.NamedStmtContext(ctx, st).Exec(arg); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRun:
			exec(insertRun, r.run)
		case reqHash:
			exec(insertHash, r.hash)
		case reqTrailer:
			exec(insertTrailer, r.trailer)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
