package resources

import (
	"reflect"
	"sync"
)

// slot is the type-erased view of one registered resource type.
type slot interface {
	typeName() string
	unloadUnused() int
	remove(key Key) bool
}

type typedSlot[T any] struct {
	name   string
	cache  Cache[T]
	parser Parser[T]
}

func (s *typedSlot[T]) typeName() string    { return s.name }
func (s *typedSlot[T]) unloadUnused() int   { return s.cache.UnloadUnused() }
func (s *typedSlot[T]) remove(key Key) bool { return s.cache.Remove(key) }

// externSlot is the type-erased view of one registered extern stage.
type externSlot interface {
	typeName() string
	unloadUnused()
	invalidate(path string)
}

type typedExtern[B, R, O any] struct {
	name   string
	system ExternSystem[B, R, O]
}

func (e *typedExtern[B, R, O]) typeName() string { return e.name }
func (e *typedExtern[B, R, O]) unloadUnused()    { e.system.UnloadUnused() }

func (e *typedExtern[B, R, O]) invalidate(path string) {
	if inv, ok := e.system.(Invalidator); ok {
		inv.Invalidate(path)
	}
}

// registry maps type tokens to their slots. The lock only guards the maps;
// caches and extern systems synchronize themselves.
type registry struct {
	mu      sync.RWMutex
	slots   map[reflect.Type]slot
	externs map[reflect.Type]externSlot
}

func newRegistry() *registry {
	return &registry{
		slots:   make(map[reflect.Type]slot),
		externs: make(map[reflect.Type]externSlot),
	}
}

func tokenOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

func externTokenOf[B, R, O any]() reflect.Type {
	return reflect.TypeFor[ExternSystem[B, R, O]]()
}

func typeName[T any]() string {
	return tokenOf[T]().String()
}

// addSlot stores the slot built by create unless token is already registered.
func (r *registry) addSlot(token reflect.Type, create func() slot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[token]; ok {
		return false
	}
	r.slots[token] = create()
	return true
}

func (r *registry) addExtern(token reflect.Type, create func() externSlot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.externs[token]; ok {
		return false
	}
	r.externs[token] = create()
	return true
}

// lookupSlot recovers the typed slot for T. The checked assertion keeps a
// slot from ever being read as the wrong type.
func lookupSlot[T any](r *registry) (*typedSlot[T], bool) {
	r.mu.RLock()
	s, ok := r.slots[tokenOf[T]()]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	ts, ok := s.(*typedSlot[T])
	return ts, ok
}

func lookupExtern[B, R, O any](r *registry) (*typedExtern[B, R, O], bool) {
	r.mu.RLock()
	e, ok := r.externs[externTokenOf[B, R, O]()]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	te, ok := e.(*typedExtern[B, R, O])
	return te, ok
}

// snapshot returns the registered slots and extern stages at this instant.
func (r *registry) snapshot() ([]slot, []externSlot) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slots := make([]slot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	externs := make([]externSlot, 0, len(r.externs))
	for _, e := range r.externs {
		externs = append(externs, e)
	}
	return slots, externs
}
