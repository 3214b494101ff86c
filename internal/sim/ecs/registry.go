// Package ecs is a small typed component registry addressed by ordered entity handles.
//
// Queries always return rows in ascending entity order so callers never observe
// Go map iteration order.
package ecs

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

var (
	ErrNoEntity    = errors.New("ecs: no such entity")
	ErrNoComponent = errors.New("ecs: component not present")
)

// Entity is an opaque handle. Handles are allocated in increasing order and
// never reused within a registry, so comparing two handles compares spawn order.
type Entity uint64

// Nil is never returned by Spawn.
const Nil Entity = 0

func (e Entity) ID() uint64 { return uint64(e) }

func (e Entity) String() string { return fmt.Sprintf("E%d", uint64(e)) }

type column interface {
	has(e Entity) bool
	remove(e Entity) bool
	len() int
}

type store[T any] struct {
	rows map[Entity]*T
}

func (s *store[T]) has(e Entity) bool {
	_, ok := s.rows[e]
	return ok
}

func (s *store[T]) remove(e Entity) bool {
	if _, ok := s.rows[e]; !ok {
		return false
	}
	delete(s.rows, e)
	return true
}

func (s *store[T]) len() int { return len(s.rows) }

func (s *store[T]) sortedEntities() []Entity {
	out := make([]Entity, 0, len(s.rows))
	for e := range s.rows {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Registry holds entities and one column per component type.
// It is not safe for concurrent use; the simulation owns it on a single goroutine.
type Registry struct {
	next    Entity
	alive   map[Entity]struct{}
	columns map[reflect.Type]column
}

func NewRegistry() *Registry {
	return &Registry{
		alive:   map[Entity]struct{}{},
		columns: map[reflect.Type]column{},
	}
}

// Spawn allocates a new entity without components.
func (r *Registry) Spawn() Entity {
	r.next++
	r.alive[r.next] = struct{}{}
	return r.next
}

func (r *Registry) Contains(e Entity) bool {
	_, ok := r.alive[e]
	return ok
}

// Despawn removes the entity and all of its components.
func (r *Registry) Despawn(e Entity) error {
	if !r.Contains(e) {
		return fmt.Errorf("despawn %s: %w", e, ErrNoEntity)
	}
	for _, c := range r.columns {
		c.remove(e)
	}
	delete(r.alive, e)
	return nil
}

func (r *Registry) Len() int { return len(r.alive) }

// Bare reports whether e is alive and holds no components.
func (r *Registry) Bare(e Entity) bool {
	if !r.Contains(e) {
		return false
	}
	for _, c := range r.columns {
		if c.has(e) {
			return false
		}
	}
	return true
}

// Entities returns all live entities in ascending order.
func (r *Registry) Entities() []Entity {
	out := make([]Entity, 0, len(r.alive))
	for e := range r.alive {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func columnOf[T any](r *Registry, create bool) *store[T] {
	t := reflect.TypeOf((*T)(nil)).Elem()
	c, ok := r.columns[t]
	if !ok {
		if !create {
			return nil
		}
		s := &store[T]{rows: map[Entity]*T{}}
		r.columns[t] = s
		return s
	}
	return c.(*store[T])
}

// Insert adds or replaces the T component of e.
func Insert[T any](r *Registry, e Entity, v T) error {
	if !r.Contains(e) {
		return fmt.Errorf("insert %T on %s: %w", v, e, ErrNoEntity)
	}
	s := columnOf[T](r, true)
	s.rows[e] = &v
	return nil
}

// Get returns a pointer to the live component; writes through it mutate the registry.
func Get[T any](r *Registry, e Entity) (*T, bool) {
	s := columnOf[T](r, false)
	if s == nil {
		return nil, false
	}
	v, ok := s.rows[e]
	return v, ok
}

func Has[T any](r *Registry, e Entity) bool {
	_, ok := Get[T](r, e)
	return ok
}

// Remove deletes the T component of e. The entity itself stays alive.
func Remove[T any](r *Registry, e Entity) error {
	if !r.Contains(e) {
		var zero T
		return fmt.Errorf("remove %T from %s: %w", zero, e, ErrNoEntity)
	}
	s := columnOf[T](r, false)
	if s == nil || !s.remove(e) {
		var zero T
		return fmt.Errorf("remove %T from %s: %w", zero, e, ErrNoComponent)
	}
	return nil
}

// Count reports how many entities carry a T component.
func Count[T any](r *Registry) int {
	s := columnOf[T](r, false)
	if s == nil {
		return 0
	}
	return s.len()
}

type Row[A any] struct {
	Entity Entity
	A      *A
}

type Row2[A, B any] struct {
	Entity Entity
	A      *A
	B      *B
}

type Row3[A, B, C any] struct {
	Entity Entity
	A      *A
	B      *B
	C      *C
}

// Query returns every entity with an A component, ordered by entity.
func Query[A any](r *Registry) []Row[A] {
	sa := columnOf[A](r, false)
	if sa == nil {
		return nil
	}
	ents := sa.sortedEntities()
	out := make([]Row[A], 0, len(ents))
	for _, e := range ents {
		out = append(out, Row[A]{Entity: e, A: sa.rows[e]})
	}
	return out
}

// Query2 returns every entity that has both A and B, ordered by entity.
func Query2[A, B any](r *Registry) []Row2[A, B] {
	sa := columnOf[A](r, false)
	sb := columnOf[B](r, false)
	if sa == nil || sb == nil {
		return nil
	}
	var out []Row2[A, B]
	for _, e := range sa.sortedEntities() {
		b, ok := sb.rows[e]
		if !ok {
			continue
		}
		out = append(out, Row2[A, B]{Entity: e, A: sa.rows[e], B: b})
	}
	return out
}

// Query3 returns every entity that has A, B and C, ordered by entity.
func Query3[A, B, C any](r *Registry) []Row3[A, B, C] {
	sa := columnOf[A](r, false)
	sb := columnOf[B](r, false)
	sc := columnOf[C](r, false)
	if sa == nil || sb == nil || sc == nil {
		return nil
	}
	var out []Row3[A, B, C]
	for _, e := range sa.sortedEntities() {
		b, okb := sb.rows[e]
		c, okc := sc.rows[e]
		if !okb || !okc {
			continue
		}
		out = append(out, Row3[A, B, C]{Entity: e, A: sa.rows[e], B: b, C: c})
	}
	return out
}
