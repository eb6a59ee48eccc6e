// Package fieldstore implements the Field Store: a
// side-table for fields added to an already-loaded type without extending
// its instance layout.
//
// Instance fields are held in a weak-keyed association from an owner
// object to its field map, realized with Go's weak.Pointer plus
// runtime.AddCleanup so the association does not retain the owner and is
// reclaimed when the owner becomes unreachable, an ephemeron table built
// from stdlib primitives. Static fields share one process-global map
// under a dedicated lock.
package fieldstore

import (
	"reflect"
	"runtime"
	"sync"
	"weak"

	"github.com/GoCodeAlone/hotpatch/keys"
)

// Store is the Field Store. A *Store should be process-global and is
// created with New; the zero value has nil maps and is not usable.
type Store struct {
	instMu sync.Mutex
	// inst maps an owner's identity (its pointer value) to a weak handle
	// plus its field map. The map entry itself is removed by the
	// AddCleanup callback once the owner is collected, so the side table
	// never outlives the objects it augments.
	inst map[uintptr]*instanceEntry

	staticMu sync.RWMutex
	static   map[keys.FieldKey]any
}

type instanceEntry struct {
	weak   weak.Pointer[byte]
	mu     sync.Mutex
	fields map[keys.FieldKey]any
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		inst:   map[uintptr]*instanceEntry{},
		static: map[keys.FieldKey]any{},
	}
}

func ownerIdentity(owner any) uintptr {
	v := reflect.ValueOf(owner)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return 0
		}
		v = v.Elem()
	}
	return reflect.ValueOf(owner).Pointer()
}

func (s *Store) entryFor(owner any) *instanceEntry {
	id := ownerIdentity(owner)

	s.instMu.Lock()
	defer s.instMu.Unlock()

	if e, ok := s.inst[id]; ok {
		return e
	}

	e := &instanceEntry{fields: map[keys.FieldKey]any{}}
	// weak.Make/AddCleanup need a concrete *T; owner's static type is
	// erased by the time it reaches us as `any`, so we alias it to *byte
	// via its address. The GC tracks liveness of the underlying
	// allocation, not the pointer's declared type, so this still
	// reclaims at the right time without retaining owner here.
	ownerPtr := reflect.ValueOf(owner)
	if ownerPtr.Kind() == reflect.Ptr {
		bytePtr := (*byte)(ownerPtr.UnsafePointer())
		e.weak = weak.Make(bytePtr)
		runtime.AddCleanup(bytePtr, s.reclaim, id)
	}
	s.inst[id] = e
	return e
}

func (s *Store) reclaim(id uintptr) {
	s.instMu.Lock()
	defer s.instMu.Unlock()
	delete(s.inst, id)
}

// GetInstance returns owner's value for key, inserting and returning
// zeroVal if unset.
func (s *Store) GetInstance(owner any, key keys.FieldKey, zeroVal any) any {
	e := s.entryFor(owner)
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.fields[key]; ok {
		return v
	}
	e.fields[key] = zeroVal
	return zeroVal
}

// SetInstance stores value for owner under key.
func (s *Store) SetInstance(owner any, key keys.FieldKey, value any) {
	e := s.entryFor(owner)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fields[key] = value
}

// GetStatic returns the process-global value for key, inserting zeroVal if unset.
func (s *Store) GetStatic(key keys.FieldKey, zeroVal any) any {
	s.staticMu.Lock()
	defer s.staticMu.Unlock()
	if v, ok := s.static[key]; ok {
		return v
	}
	s.static[key] = zeroVal
	return zeroVal
}

// SetStatic stores value for key in the process-global static map.
func (s *Store) SetStatic(key keys.FieldKey, value any) {
	s.staticMu.Lock()
	defer s.staticMu.Unlock()
	s.static[key] = value
}

// InstanceCount reports how many distinct owners currently hold entries;
// used by tests to observe reclamation after GC.
func (s *Store) InstanceCount() int {
	s.instMu.Lock()
	defer s.instMu.Unlock()
	return len(s.inst)
}
