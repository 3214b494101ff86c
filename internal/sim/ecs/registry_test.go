package ecs

import (
	"errors"
	"testing"
)

type pos struct{ X, Y float32 }
type tag struct{ Name string }

func TestRegistry_QueryOrderedByEntity(t *testing.T) {
	r := NewRegistry()
	var ents []Entity
	for i := 0; i < 5; i++ {
		ents = append(ents, r.Spawn())
	}
	// Insert in reverse so map insertion order differs from entity order.
	for i := len(ents) - 1; i >= 0; i-- {
		if err := Insert(r, ents[i], pos{X: float32(i)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := Insert(r, ents[1], tag{Name: "b"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := Insert(r, ents[3], tag{Name: "d"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows := Query[pos](r)
	if len(rows) != 5 {
		t.Fatalf("rows=%d want 5", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Entity >= rows[i].Entity {
			t.Fatalf("rows not sorted: %v then %v", rows[i-1].Entity, rows[i].Entity)
		}
	}

	both := Query2[pos, tag](r)
	if len(both) != 2 || both[0].B.Name != "b" || both[1].B.Name != "d" {
		t.Fatalf("unexpected Query2 result: %+v", both)
	}
}

func TestRegistry_GetIsMutable(t *testing.T) {
	r := NewRegistry()
	e := r.Spawn()
	_ = Insert(r, e, pos{X: 1, Y: 2})

	p, ok := Get[pos](r, e)
	if !ok {
		t.Fatalf("missing component")
	}
	p.X = 9
	again, _ := Get[pos](r, e)
	if again.X != 9 {
		t.Fatalf("write through pointer lost: %+v", again)
	}
}

func TestRegistry_RemoveErrors(t *testing.T) {
	r := NewRegistry()
	e := r.Spawn()

	if err := Remove[pos](r, e); !errors.Is(err, ErrNoComponent) {
		t.Fatalf("expected ErrNoComponent, got %v", err)
	}
	if err := Remove[pos](r, Entity(999)); !errors.Is(err, ErrNoEntity) {
		t.Fatalf("expected ErrNoEntity, got %v", err)
	}
	if err := Insert(r, Entity(999), pos{}); !errors.Is(err, ErrNoEntity) {
		t.Fatalf("expected ErrNoEntity on insert, got %v", err)
	}

	_ = Insert(r, e, pos{})
	if err := Remove[pos](r, e); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if Has[pos](r, e) {
		t.Fatalf("component still present")
	}
	if !r.Contains(e) {
		t.Fatalf("entity should stay alive after component removal")
	}
}

func TestRegistry_DespawnDropsComponents(t *testing.T) {
	r := NewRegistry()
	a := r.Spawn()
	b := r.Spawn()
	_ = Insert(r, a, pos{})
	_ = Insert(r, b, pos{})

	if err := r.Despawn(a); err != nil {
		t.Fatalf("despawn: %v", err)
	}
	if Count[pos](r) != 1 {
		t.Fatalf("count=%d want 1", Count[pos](r))
	}
	if got := r.Entities(); len(got) != 1 || got[0] != b {
		t.Fatalf("entities=%v", got)
	}
	if c := r.Spawn(); c <= b {
		t.Fatalf("handles must keep increasing: got %v after %v", c, b)
	}
}

func TestRegistry_Bare(t *testing.T) {
	r := NewRegistry()
	e := r.Spawn()
	if !r.Bare(e) {
		t.Fatalf("fresh entity not bare")
	}
	_ = Insert(r, e, pos{})
	_ = Insert(r, e, tag{})
	if r.Bare(e) {
		t.Fatalf("entity with components reported bare")
	}
	_ = Remove[pos](r, e)
	_ = Remove[tag](r, e)
	if !r.Bare(e) {
		t.Fatalf("stripped entity not bare")
	}
	_ = r.Despawn(e)
	if r.Bare(e) {
		t.Fatalf("despawned entity reported bare")
	}
}
