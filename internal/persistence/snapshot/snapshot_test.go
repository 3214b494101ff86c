package snapshot

import (
	"path/filepath"
	"reflect"
	"testing"
)

func sample() SnapshotV1 {
	return SnapshotV1{
		Header: Header{Version: Version, RunID: "run-1", Tick: 600, Hash: 0xABCD},
		Seed:   0xDEADBEEFCAFEBABE,
		SimHz:  60,
		Entities: []EntityV1{
			{ID: 1, Position: &PositionV1{X: 1.5, Y: 1.5}, Hunger: &HungerV1{Value: 2}, State: "MOVE"},
			{ID: 2, Position: &PositionV1{X: 3.5, Y: 4.5}, Resource: "wood"},
		},
		Agents: []AgentV1{
			{ID: 1, Behaviors: []string{"build_house"}, Target: 2, TargetKind: "wood", Inventory: map[string][]uint64{"stone": {3}}},
		},
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap", "600.snap.zst")
	want := sample()
	if err := WriteSnapshot(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestDiff(t *testing.T) {
	a := sample()
	if d := Diff(a, sample()); len(d) != 0 {
		t.Fatalf("identical snapshots differ: %v", d)
	}

	b := sample()
	b.Entities[1].Position = &PositionV1{X: 3.5, Y: 5}
	b.Entities = append(b.Entities, EntityV1{ID: 7, Resource: "food"})
	b.Agents[0].Behaviors = []string{"find_food", "build_house"}

	d := Diff(a, b)
	want := []Difference{
		{Entity: 1, Field: "agent.behaviors", A: "build_house", B: "find_food,build_house"},
		{Entity: 2, Field: "position", A: "(3.5,4.5)", B: "(3.5,5)"},
		{Entity: 7, Field: "resource", A: "", B: "food"},
	}
	if !reflect.DeepEqual(d, want) {
		t.Fatalf("Diff=%v\nwant %v", d, want)
	}
	if s := d[2].String(); s != "E7 resource: - != food" {
		t.Fatalf("String=%q", s)
	}
}
