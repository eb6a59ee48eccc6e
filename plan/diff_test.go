package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/hotpatch/il"
	"github.com/GoCodeAlone/hotpatch/keys"
)

func TestDiffMethodSetsClassifiesAddedRemovedUnchanged(t *testing.T) {
	tick := &il.Method{Owner: &il.Type{FullName: "C"}, Name: "Tick", ReturnType: "void"}
	hello := &il.Method{Owner: &il.Type{FullName: "C"}, Name: "Hello", ReturnType: "void"}

	runtime := map[keys.MethodKey]*il.Method{tick.Key(): tick}
	next := map[keys.MethodKey]*il.Method{tick.Key(): tick, hello.Key(): hello}

	d := DiffMethodSets(runtime, next)
	require.ElementsMatch(t, []keys.MethodKey{hello.Key()}, d.Added)
	require.ElementsMatch(t, []keys.MethodKey{tick.Key()}, d.Unchanged)
	require.Empty(t, d.Removed)
}

func TestDiffMethodSetsDetectsRemoval(t *testing.T) {
	tick := &il.Method{Owner: &il.Type{FullName: "C"}, Name: "Tick", ReturnType: "void"}
	hello := &il.Method{Owner: &il.Type{FullName: "C"}, Name: "Hello", ReturnType: "void"}

	runtime := map[keys.MethodKey]*il.Method{tick.Key(): tick, hello.Key(): hello}
	next := map[keys.MethodKey]*il.Method{tick.Key(): tick}

	d := DiffMethodSets(runtime, next)
	require.ElementsMatch(t, []keys.MethodKey{hello.Key()}, d.Removed)
}

func TestDiffFieldSetsClassifiesAddedAndUnchanged(t *testing.T) {
	counter := &il.Field{Owner: &il.Type{FullName: "C"}, Name: "counter", Type: "System.Int32"}

	runtime := map[keys.FieldKey]*il.Field{}
	next := map[keys.FieldKey]*il.Field{counter.Key(): counter}

	d := DiffFieldSets(runtime, next)
	require.ElementsMatch(t, []keys.FieldKey{counter.Key()}, d.Added)
	require.Empty(t, d.Removed)
}

func TestIsDispatchKey(t *testing.T) {
	p := NewPlan()
	k := keys.NewMethodKey("C", "Hello", 0, nil, "void")
	require.False(t, p.IsDispatchKey(k))
	p.DispatchKeys[k] = struct{}{}
	require.True(t, p.IsDispatchKey(k))
}

func TestNewPlanMapsAreReadyToUse(t *testing.T) {
	p := NewPlan()
	require.NotNil(t, p.RuntimeMethods)
	require.NotNil(t, p.RuntimeFields)
	require.NotNil(t, p.MethodIDs)
	require.NotNil(t, p.DispatchKeys)
	require.Empty(t, p.TokenPairs)
}
