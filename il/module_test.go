package il

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindTypeNormalizesSeparators(t *testing.T) {
	typ := &Type{FullName: "Outer+Inner"}
	m := &Module{Types: []*Type{typ}}
	require.Same(t, typ, m.FindType("Outer/Inner"))
	require.Nil(t, m.FindType("Missing"))
}

func TestMethodPatchableRules(t *testing.T) {
	owner := &Type{FullName: "C"}
	plain := &Method{Owner: owner, Name: "Tick", Body: &MethodBody{}}
	require.True(t, plain.Patchable())

	abstract := &Method{Owner: owner, Name: "Tick", IsAbstract: true, Body: &MethodBody{}}
	require.False(t, abstract.Patchable())

	noBody := &Method{Owner: owner, Name: "Tick"}
	require.False(t, noBody.Patchable())

	foreign := &Method{Owner: owner, Name: "Tick", ForeignLinked: true, Body: &MethodBody{}}
	require.False(t, foreign.Patchable())

	generic := &Method{Owner: owner, Name: "Tick", GenericArity: 1, Body: &MethodBody{}}
	require.False(t, generic.Patchable())

	synthetic := &Method{Owner: &Type{FullName: "C+<>closure", Synthetic: true}, Name: "Tick", Body: &MethodBody{}}
	require.False(t, synthetic.Patchable())
}

func TestLifecycleKindRequiresVoidNoArgsInstance(t *testing.T) {
	owner := &Type{FullName: "C"}

	kind, ok := (&Method{Owner: owner, Name: "OnTick", ReturnType: "void"}).LifecycleKind()
	require.True(t, ok)
	require.Equal(t, "OnTick", kind)

	_, ok = (&Method{Owner: owner, Name: "OnTick", ReturnType: "void", IsStatic: true}).LifecycleKind()
	require.False(t, ok)

	_, ok = (&Method{Owner: owner, Name: "OnTick", ReturnType: "System.Int32"}).LifecycleKind()
	require.False(t, ok)

	_, ok = (&Method{Owner: owner, Name: "OnTick", ReturnType: "void", Params: []Param{{Name: "x", Type: "System.Int32"}}}).LifecycleKind()
	require.False(t, ok)

	_, ok = (&Method{Owner: owner, Name: "NotLifecycle", ReturnType: "void"}).LifecycleKind()
	require.False(t, ok)
}

func TestMethodAndFieldKeyMatchKeysPackage(t *testing.T) {
	owner := &Type{FullName: "C"}
	m := &Method{Owner: owner, Name: "Tick", ReturnType: "void"}
	require.Equal(t, "C::Tick`0()=>void", string(m.Key()))

	f := &Field{Owner: owner, Name: "counter", Type: "System.Int32"}
	require.Equal(t, "C::counter:System.Int32:instance", string(f.Key()))
}
