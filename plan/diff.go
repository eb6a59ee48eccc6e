// Package plan implements the Patch Plan data model and the
// generalized method/field diffing the module inspector builds it from.
package plan

import (
	"github.com/GoCodeAlone/hotpatch/il"
	"github.com/GoCodeAlone/hotpatch/keys"
)

// RuntimeMethodHandle is the runtime's view of an already-loaded method:
// enough to detour or trampoline it without re-resolving by name each time.
type RuntimeMethodHandle struct {
	Key    keys.MethodKey
	Method *il.Method
}

// RuntimeFieldHandle is the runtime's view of an already-loaded field.
type RuntimeFieldHandle struct {
	Key   keys.FieldKey
	Field *il.Field
}

// TokenPair records a patch-module-token -> runtime-token correspondence
// captured while matching methods, so a later replay can rebind even if the
// method's textual key changed but its underlying slot did not.
type TokenPair struct {
	PatchModuleToken string
	RuntimeToken     string
	MethodKey        keys.MethodKey
}

// Plan is the Patch Plan: everything the rewriter and installer
// need to turn a freshly compiled image into installed hooks.
type Plan struct {
	RuntimeMethods map[keys.MethodKey]RuntimeMethodHandle
	RuntimeFields  map[keys.FieldKey]RuntimeFieldHandle
	MethodIDs      map[keys.MethodKey]keys.MethodID
	DispatchKeys   map[keys.MethodKey]struct{}
	TokenPairs     []TokenPair

	// Patchable is the set of methods (from the new image) eligible for
	// rewriting, in declaration order for deterministic apply output.
	Patchable []*il.Method

	// Skipped records patchable candidates rejected by the operand
	// support gate, with a human reason.
	Skipped []SkippedMethod
}

// SkippedMethod is a patchable candidate the inspector rejected.
type SkippedMethod struct {
	Key    keys.MethodKey
	Reason string
}

// NewPlan returns an empty Plan with initialized maps.
func NewPlan() *Plan {
	return &Plan{
		RuntimeMethods: map[keys.MethodKey]RuntimeMethodHandle{},
		RuntimeFields:  map[keys.FieldKey]RuntimeFieldHandle{},
		MethodIDs:      map[keys.MethodKey]keys.MethodID{},
		DispatchKeys:   map[keys.MethodKey]struct{}{},
	}
}

// IsDispatchKey reports whether k must be invoked through the dispatcher.
func (p *Plan) IsDispatchKey(k keys.MethodKey) bool {
	_, ok := p.DispatchKeys[k]
	return ok
}

// ChangeKind classifies one element of a MethodSetDiff/FieldSetDiff.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeChanged  ChangeKind = "changed"
	ChangeNoChange ChangeKind = "unchanged"
)

// MethodSetDiff is a three-way diff between a runtime type's method set
// and a new image's method set.
type MethodSetDiff struct {
	Added     []keys.MethodKey
	Removed   []keys.MethodKey
	Unchanged []keys.MethodKey
}

// DiffMethodSets compares the runtime method-key set against the new
// image's method-key set for a single type.
func DiffMethodSets(runtime, next map[keys.MethodKey]*il.Method) MethodSetDiff {
	var d MethodSetDiff
	for k := range next {
		if _, ok := runtime[k]; ok {
			d.Unchanged = append(d.Unchanged, k)
		} else {
			d.Added = append(d.Added, k)
		}
	}
	for k := range runtime {
		if _, ok := next[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}
	return d
}

// FieldSetDiff is the field-key equivalent of MethodSetDiff. A changed
// field set is never fatal on its own: missing fields route through the
// field store instead of failing the apply.
type FieldSetDiff struct {
	Added     []keys.FieldKey
	Removed   []keys.FieldKey
	Unchanged []keys.FieldKey
}

// DiffFieldSets compares the runtime field-key set against the new image's
// field-key set for a single type.
func DiffFieldSets(runtime, next map[keys.FieldKey]*il.Field) FieldSetDiff {
	var d FieldSetDiff
	for k := range next {
		if _, ok := runtime[k]; ok {
			d.Unchanged = append(d.Unchanged, k)
		} else {
			d.Added = append(d.Added, k)
		}
	}
	for k := range runtime {
		if _, ok := next[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}
	return d
}
