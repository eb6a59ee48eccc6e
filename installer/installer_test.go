package installer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/hotpatch/dispatcher"
	"github.com/GoCodeAlone/hotpatch/il"
	"github.com/GoCodeAlone/hotpatch/keys"
	"github.com/GoCodeAlone/hotpatch/plan"
	"github.com/GoCodeAlone/hotpatch/runtimehost"
)

func TestApplyInstallsDetourForExistingMethod(t *testing.T) {
	owner := &il.Type{FullName: "C"}
	tick := &il.Method{Owner: owner, Name: "Tick", ReturnType: "void", Body: &il.MethodBody{
		Instructions: []il.Instruction{{Op: il.OpRet}},
	}}
	owner.Methods = []*il.Method{tick}
	runtimeMod := &il.Module{Name: "A", Types: []*il.Type{owner}}

	host := runtimehost.NewInProcessHost()
	host.LoadAssembly(runtimeMod)
	disp := dispatcher.New(nil)
	in := New(host, disp, nil)

	p := plan.NewPlan()
	p.RuntimeMethods[tick.Key()] = plan.RuntimeMethodHandle{Key: tick.Key(), Method: tick}
	p.Patchable = []*il.Method{tick}

	res := in.Apply("A", runtimeMod.UUID, runtimeMod, runtimeMod, p)
	require.Equal(t, 1, res.Patched)
	require.Equal(t, 0, res.Dispatched)
	require.Len(t, res.TokenPairs, 1)
}

func TestApplyRegistersDispatcherOnlyForNewMethod(t *testing.T) {
	owner := &il.Type{FullName: "C"}
	hello := &il.Method{Owner: owner, Name: "Hello", ReturnType: "void", Body: &il.MethodBody{
		Instructions: []il.Instruction{{Op: il.OpRet}},
	}}
	runtimeMod := &il.Module{Name: "A", Types: []*il.Type{owner}}

	host := runtimehost.NewInProcessHost()
	host.LoadAssembly(runtimeMod)
	disp := dispatcher.New(nil)
	in := New(host, disp, nil)
	in.SetInvokerFactory(func(dyn *il.Method) dispatcher.Invoker {
		return func(any, []any) (any, error) { return nil, nil }
	})

	p := plan.NewPlan()
	p.DispatchKeys[hello.Key()] = struct{}{}
	p.Patchable = []*il.Method{hello}

	res := in.Apply("A", runtimeMod.UUID, runtimeMod, runtimeMod, p)
	require.Equal(t, 1, res.Dispatched)
	require.Empty(t, res.TokenPairs, "a method with no prior runtime slot gets no token pair")
	require.Equal(t, 1, disp.Len())
}

func TestApplyInstallsTrampolineForNewLifecycleMethod(t *testing.T) {
	owner := &il.Type{FullName: "C"}
	onTick := &il.Method{Owner: owner, Name: "OnTick", ReturnType: "void", Body: &il.MethodBody{
		Instructions: []il.Instruction{{Op: il.OpRet}},
	}}
	runtimeMod := &il.Module{Name: "A", Types: []*il.Type{owner}}

	host := runtimehost.NewInProcessHost()
	host.LoadAssembly(runtimeMod)
	disp := dispatcher.New(nil)
	in := New(host, disp, nil)
	in.SetInvokerFactory(func(dyn *il.Method) dispatcher.Invoker {
		return func(any, []any) (any, error) { return nil, nil }
	})

	var registeredKind string
	in.OnLifecycleTypeRegistered(func(assembly string, t *il.Type, methodID keys.MethodID, kind string) {
		registeredKind = kind
	})

	p := plan.NewPlan()
	p.DispatchKeys[onTick.Key()] = struct{}{}
	p.Patchable = []*il.Method{onTick}

	res := in.Apply("A", runtimeMod.UUID, runtimeMod, runtimeMod, p)
	require.Equal(t, 1, res.Trampolines)
	require.Equal(t, "OnTick", registeredKind)
}

func TestApplyInstallsTrampolineForExistingLifecycleMethodWithoutReregistering(t *testing.T) {
	owner := &il.Type{FullName: "C"}
	onTick := &il.Method{Owner: owner, Name: "OnTick", ReturnType: "void", Body: &il.MethodBody{
		Instructions: []il.Instruction{{Op: il.OpRet}},
	}}
	owner.Methods = []*il.Method{onTick}
	runtimeMod := &il.Module{Name: "A", Types: []*il.Type{owner}}

	host := runtimehost.NewInProcessHost()
	host.LoadAssembly(runtimeMod)
	disp := dispatcher.New(nil)
	in := New(host, disp, nil)
	in.SetInvokerFactory(func(dyn *il.Method) dispatcher.Invoker {
		return func(any, []any) (any, error) { return nil, nil }
	})

	registered := 0
	in.OnLifecycleTypeRegistered(func(assembly string, t *il.Type, methodID keys.MethodID, kind string) {
		registered++
	})

	p := plan.NewPlan()
	p.DispatchKeys[onTick.Key()] = struct{}{}
	p.Patchable = []*il.Method{onTick}

	res := in.Apply("A", runtimeMod.UUID, runtimeMod, runtimeMod, p)
	require.Equal(t, 1, res.Trampolines)
	require.Zero(t, registered, "a lifecycle method that already existed in the runtime must not be re-registered with the entry-point scanner")
}

func TestApplyRecordsSkippedMethods(t *testing.T) {
	runtimeMod := &il.Module{Name: "A"}
	host := runtimehost.NewInProcessHost()
	host.LoadAssembly(runtimeMod)
	disp := dispatcher.New(nil)
	in := New(host, disp, nil)

	p := plan.NewPlan()
	p.Skipped = append(p.Skipped, plan.SkippedMethod{Reason: "unsupported operand"})

	res := in.Apply("A", runtimeMod.UUID, runtimeMod, runtimeMod, p)
	require.Equal(t, 1, res.Skipped)
}

func TestResetReleasesHooksAndClearsDispatcher(t *testing.T) {
	owner := &il.Type{FullName: "C"}
	hello := &il.Method{Owner: owner, Name: "Hello", ReturnType: "void", Body: &il.MethodBody{
		Instructions: []il.Instruction{{Op: il.OpRet}},
	}}
	runtimeMod := &il.Module{Name: "A", Types: []*il.Type{owner}}
	host := runtimehost.NewInProcessHost()
	host.LoadAssembly(runtimeMod)
	disp := dispatcher.New(nil)
	in := New(host, disp, nil)
	in.SetInvokerFactory(func(dyn *il.Method) dispatcher.Invoker {
		return func(any, []any) (any, error) { return nil, nil }
	})

	p := plan.NewPlan()
	p.DispatchKeys[hello.Key()] = struct{}{}
	p.Patchable = []*il.Method{hello}
	in.Apply("A", runtimeMod.UUID, runtimeMod, runtimeMod, p)
	require.Equal(t, 1, disp.Len())

	in.Reset()
	require.Equal(t, 0, disp.Len())
}
