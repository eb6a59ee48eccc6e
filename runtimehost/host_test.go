package runtimehost

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/hotpatch/il"
)

func newModule() *il.Module {
	typ := &il.Type{FullName: "Game.Player"}
	typ.Methods = append(typ.Methods, &il.Method{Owner: typ, Name: "Tick", Body: &il.MethodBody{}})
	typ.Fields = append(typ.Fields, &il.Field{Owner: typ, Name: "hp", Type: "int"})
	mod := &il.Module{Name: "Game"}
	mod.Types = append(mod.Types, typ)
	return mod
}

func TestLoadAssemblyThenFind(t *testing.T) {
	h := NewInProcessHost()
	mod := newModule()
	h.LoadAssembly(mod)

	got, ok := h.FindLoadedAssembly("Game")
	require.True(t, ok)
	require.Same(t, mod, got)

	_, ok = h.FindLoadedAssembly("Missing")
	require.False(t, ok)
}

func TestEnumerateMethodsAndFieldsOfModule(t *testing.T) {
	h := NewInProcessHost()
	mod := newModule()

	methods := h.EnumerateMethodsOfModule(mod)
	require.Len(t, methods, 1)
	require.Equal(t, "Tick", methods[0].Name)

	fields := h.EnumerateFieldsOfModule(mod)
	require.Len(t, fields, 1)
	require.Equal(t, "hp", fields[0].Name)
}

func TestFindTypeByFullName(t *testing.T) {
	h := NewInProcessHost()
	mod := newModule()

	typ, ok := h.FindTypeByFullName(mod, "Game.Player")
	require.True(t, ok)
	require.Equal(t, "Game.Player", typ.FullName)

	_, ok = h.FindTypeByFullName(mod, "Game.Missing")
	require.False(t, ok)
}

func TestRegisterComponentThenEnumerateLiveComponents(t *testing.T) {
	h := NewInProcessHost()
	mod := newModule()
	typ := mod.Types[0]

	inst1, inst2 := &struct{}{}, &struct{}{}
	h.RegisterComponent(typ, inst1)
	h.RegisterComponent(typ, inst2)

	comps := h.EnumerateLiveComponentsOfType(typ)
	require.Len(t, comps, 2)
	require.Same(t, inst1, comps[0].Instance)
	require.Same(t, inst2, comps[1].Instance)
}

func TestInstallDetourReleaseRestoresOriginalBody(t *testing.T) {
	h := NewInProcessHost()
	mod := newModule()
	method := mod.Types[0].Methods[0]
	original := method.Body

	newBody := &il.MethodBody{MaxStack: 4}
	handle, err := h.InstallDetour(method, newBody)
	require.NoError(t, err)
	require.Same(t, newBody, method.Body)

	handle.Release()
	require.Same(t, original, method.Body)
}

func TestInstallTrampolineRedirectsInvokeToStubThenReleaseRestores(t *testing.T) {
	h := NewInProcessHost()
	mod := newModule()
	method := mod.Types[0].Methods[0]
	original := method.Body

	var gotArgs []any
	handle, err := h.InstallTrampoline(method, func(instance any, args []any) (any, error) {
		gotArgs = args
		return "from stub", nil
	})
	require.NoError(t, err)
	require.Same(t, original, method.Body)
	require.NotNil(t, method.Native)

	result, err := method.Native(nil, []any{"x"})
	require.NoError(t, err)
	require.Equal(t, "from stub", result)
	require.Equal(t, []any{"x"}, gotArgs)

	handle.Release()
	require.Same(t, original, method.Body)
	require.Nil(t, method.Native)
}

func TestAllocateDynamicMethodHasRequestedParamCount(t *testing.T) {
	h := NewInProcessHost()
	mod := newModule()
	typ := mod.Types[0]

	m := h.AllocateDynamicMethod(typ, 3)
	require.Same(t, typ, m.Owner)
	require.Len(t, m.Params, 3)
	require.NotNil(t, m.Body)
}
