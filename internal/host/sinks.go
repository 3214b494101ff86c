package host

import (
	"fmt"

	"anvil.sim/internal/persistence/indexdb"
	persistlog "anvil.sim/internal/persistence/log"
	"anvil.sim/internal/sim/digest"
	"anvil.sim/internal/transport/observer"
)

// HashSink receives the periodic world hash. Sinks run on the simulation
// goroutine and must not block it.
type HashSink interface {
	WriteHash(runID string, tick uint64, b digest.Breakdown) error
}

// RunSink is told when a run starts and ends.
type RunSink interface {
	RunStarted(runID string, seed uint64, simHz uint32, mode Mode, tracePath string)
	RunFinished(runID string, endTick, finalHash uint64)
}

func hexParts(b digest.Breakdown) map[string]string {
	out := make(map[string]string, len(b.Parts))
	for k, v := range b.Parts {
		out[k] = fmt.Sprintf("%016x", v)
	}
	return out
}

// HashLogSink appends to the tick-segmented JSONL hash log.
type HashLogSink struct {
	Log *persistlog.HashLogger
}

func (s HashLogSink) WriteHash(runID string, tick uint64, b digest.Breakdown) error {
	return s.Log.WriteHash(persistlog.HashEntry{
		RunID: runID,
		Tick:  tick,
		Hash:  fmt.Sprintf("%016x", b.Total),
		Parts: hexParts(b),
	})
}

// IndexSink queues rows into the sqlite index; it drops under backlog.
type IndexSink struct {
	Index *indexdb.SQLiteIndex
}

func (s IndexSink) WriteHash(runID string, tick uint64, b digest.Breakdown) error {
	s.Index.WriteHash(runID, tick, b.Total)
	return nil
}

func (s IndexSink) RunStarted(runID string, seed uint64, simHz uint32, mode Mode, tracePath string) {
	s.Index.RecordRun(runID, seed, simHz, mode.String(), tracePath)
}

func (s IndexSink) RunFinished(runID string, endTick, finalHash uint64) {
	s.Index.RecordTrailer(runID, endTick, finalHash)
}

// ObserverSink publishes to connected websocket observers.
type ObserverSink struct {
	Server *observer.Server
}

func (s ObserverSink) WriteHash(runID string, tick uint64, b digest.Breakdown) error {
	s.Server.Publish(tick, b.Total, b.Parts)
	return nil
}
