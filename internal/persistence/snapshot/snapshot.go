package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id,omitempty"`
	Tick    uint64 `json:"tick"`
	Hash    uint64 `json:"hash"`
}

// SnapshotV1 is the full simulation state at a tick boundary, rows sorted by
// entity id.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed  uint64 `json:"seed"`
	SimHz uint32 `json:"sim_hz"`

	Entities []EntityV1 `json:"entities"`
	Agents   []AgentV1  `json:"agents"`
}

type EntityV1 struct {
	ID uint64 `json:"id"`

	Position  *PositionV1  `json:"position,omitempty"`
	Shape     *ShapeV1     `json:"shape,omitempty"`
	Hunger    *HungerV1    `json:"hunger,omitempty"`
	Movement  *MovementV1  `json:"movement,omitempty"`
	State     string       `json:"state,omitempty"`
	Resource  string       `json:"resource,omitempty"`
	Structure *StructureV1 `json:"structure,omitempty"`
}

type PositionV1 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

type ShapeV1 struct {
	Width  float32  `json:"width"`
	Height float32  `json:"height"`
	Color  [4]uint8 `json:"color"`
}

type HungerV1 struct {
	Value uint8  `json:"value"`
	Ticks uint32 `json:"ticks"`
}

type MovementV1 struct {
	Distance float32 `json:"distance"`
	DestX    float32 `json:"dest_x"`
	DestY    float32 `json:"dest_y"`
}

type StructureV1 struct {
	RecipeID  string `json:"recipe_id"`
	BuiltTick uint64 `json:"built_tick"`
}

type AgentV1 struct {
	ID          uint64              `json:"id"`
	Behaviors   []string            `json:"behaviors"`
	Target      uint64              `json:"target,omitempty"`
	TargetKind  string              `json:"target_kind,omitempty"`
	Destination *PositionV1         `json:"destination,omitempty"`
	Recipe      string              `json:"recipe,omitempty"`
	Inventory   map[string][]uint64 `json:"inventory,omitempty"`
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line duplicates snap.Header for tools that only peek.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d unsupported", snap.Header.Version)
	}
	return snap, nil
}

// Difference is one field that differs between two snapshots. An empty side
// means the row is absent there.
type Difference struct {
	Entity uint64
	Field  string
	A      string
	B      string
}

func (d Difference) String() string {
	return fmt.Sprintf("E%d %s: %s != %s", d.Entity, d.Field, orDash(d.A), orDash(d.B))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Diff compares entity and agent rows. Results are ordered by entity then field.
func Diff(a, b SnapshotV1) []Difference {
	ra, rb := flatten(a), flatten(b)
	ids := map[uint64]struct{}{}
	for id := range ra {
		ids[id] = struct{}{}
	}
	for id := range rb {
		ids[id] = struct{}{}
	}
	sorted := make([]uint64, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var out []Difference
	for _, id := range sorted {
		fa, fb := ra[id], rb[id]
		fields := map[string]struct{}{}
		for f := range fa {
			fields[f] = struct{}{}
		}
		for f := range fb {
			fields[f] = struct{}{}
		}
		names := make([]string, 0, len(fields))
		for f := range fields {
			names = append(names, f)
		}
		sort.Strings(names)
		for _, f := range names {
			if fa[f] != fb[f] {
				out = append(out, Difference{Entity: id, Field: f, A: fa[f], B: fb[f]})
			}
		}
	}
	return out
}

func flatten(s SnapshotV1) map[uint64]map[string]string {
	out := map[uint64]map[string]string{}
	row := func(id uint64) map[string]string {
		m, ok := out[id]
		if !ok {
			m = map[string]string{}
			out[id] = m
		}
		return m
	}
	for _, e := range s.Entities {
		m := row(e.ID)
		if e.Position != nil {
			m["position"] = fmt.Sprintf("(%g,%g)", e.Position.X, e.Position.Y)
		}
		if e.Shape != nil {
			m["shape"] = fmt.Sprintf("%gx%g %v", e.Shape.Width, e.Shape.Height, e.Shape.Color)
		}
		if e.Hunger != nil {
			m["hunger"] = fmt.Sprintf("%d/%d", e.Hunger.Value, e.Hunger.Ticks)
		}
		if e.Movement != nil {
			m["movement"] = fmt.Sprintf("%g->(%g,%g)", e.Movement.Distance, e.Movement.DestX, e.Movement.DestY)
		}
		if e.State != "" {
			m["state"] = e.State
		}
		if e.Resource != "" {
			m["resource"] = e.Resource
		}
		if e.Structure != nil {
			m["structure"] = fmt.Sprintf("%s@%d", e.Structure.RecipeID, e.Structure.BuiltTick)
		}
	}
	for _, ag := range s.Agents {
		m := row(ag.ID)
		m["agent.behaviors"] = strings.Join(ag.Behaviors, ",")
		if ag.Target != 0 {
			m["agent.target"] = fmt.Sprintf("E%d/%s", ag.Target, ag.TargetKind)
		}
		if ag.Destination != nil {
			m["agent.destination"] = fmt.Sprintf("(%g,%g)", ag.Destination.X, ag.Destination.Y)
		}
		if ag.Recipe != "" {
			m["agent.recipe"] = ag.Recipe
		}
		kinds := make([]string, 0, len(ag.Inventory))
		for k := range ag.Inventory {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			m["agent.inventory."+k] = fmt.Sprint(ag.Inventory[k])
		}
	}
	return out
}
