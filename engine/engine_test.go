package engine

import (
	"context"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/hotpatch/classifier"
	"github.com/GoCodeAlone/hotpatch/compiler"
	"github.com/GoCodeAlone/hotpatch/dispatcher"
	"github.com/GoCodeAlone/hotpatch/entrypoint"
	"github.com/GoCodeAlone/hotpatch/events"
	"github.com/GoCodeAlone/hotpatch/fieldstore"
	"github.com/GoCodeAlone/hotpatch/history"
	"github.com/GoCodeAlone/hotpatch/inspector"
	"github.com/GoCodeAlone/hotpatch/installer"
	"github.com/GoCodeAlone/hotpatch/runtimehost"
	"github.com/GoCodeAlone/hotpatch/sourcelang"
	"github.com/GoCodeAlone/hotpatch/vm"
)

func newTestEngine(t *testing.T) (*Engine, *runtimehost.InProcessHost) {
	t.Helper()
	host := runtimehost.NewInProcessHost()
	frontend := compiler.NewSourceFrontend(sourcelang.Compile, compiler.ConfigRelease)
	driver := compiler.NewDriver(frontend, frontend, nil)
	t.Cleanup(driver.Close)

	cache, err := classifier.NewCache("")
	require.NoError(t, err)
	cls := classifier.New(cache, nil)
	insp := inspector.New(nil)
	disp := dispatcher.New(nil)
	inst := installer.New(host, disp, nil)
	fields := fieldstore.New()
	scanner := entrypoint.New(host, disp, nil)
	hist, err := history.New(t.TempDir(), nil)
	require.NoError(t, err)
	interp := &vm.Interp{Dispatcher: disp, Fields: fields}

	e := New(host, driver, cls, insp, inst, disp, fields, scanner, hist, interp, nil)
	t.Cleanup(e.Close)
	return e, host
}

func TestApplyBodyOnlyEditPatchesRuntimeMethodInPlace(t *testing.T) {
	e, host := newTestEngine(t)

	mod, err := sourcelang.Compile(`class C { void Tick(){ print("a"); } }`, "A")
	require.NoError(t, err)
	mod.UUID = "rt-uuid-1"
	host.LoadAssembly(mod)
	tick := mod.Types[0].Methods[0]

	res, err := e.Apply(ApplyRequest{
		Assembly: "A", SourcePath: "C.x", ModuleName: "A",
		SourceText: `class C { void Tick(){ print("b"); } }`,
		Revision:   1,
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Patched)

	var printed string
	e.Interp.Print = func(s string) { printed = s }
	_, err = e.Interp.Invoke(tick, &struct{}{}, nil)
	require.NoError(t, err)
	require.Equal(t, "b", printed)
}

func TestApplyNewMethodRegistersDispatcherOnly(t *testing.T) {
	e, host := newTestEngine(t)

	mod, err := sourcelang.Compile(`class C { void Tick(){ print("a"); } }`, "A")
	require.NoError(t, err)
	mod.UUID = "rt-uuid-2"
	host.LoadAssembly(mod)

	res, err := e.Apply(ApplyRequest{
		Assembly: "A", SourcePath: "C.x", ModuleName: "A",
		SourceText: `class C { void Tick(){ print("a"); } void Extra(){ print("x"); } }`,
		Revision:   1,
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Dispatched)
	require.Len(t, res.TokenPairs, 1, "only the pre-existing Tick gets a token pair; the new Extra gets none")
}

func TestApplyRejectsRemovedMethodAsIncompatible(t *testing.T) {
	e, host := newTestEngine(t)

	mod, err := sourcelang.Compile(`class C { void Tick(){ print("a"); } void Gone(){ print("g"); } }`, "A")
	require.NoError(t, err)
	mod.UUID = "rt-uuid-3"
	host.LoadAssembly(mod)

	_, err = e.Apply(ApplyRequest{
		Assembly: "A", SourcePath: "C.x", ModuleName: "A",
		SourceText: `class C { void Tick(){ print("a"); } }`,
		Revision:   1,
	})
	require.ErrorIs(t, err, ErrIncompatible)
}

func TestApplyUnknownAssemblyErrors(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Apply(ApplyRequest{
		Assembly: "Missing", SourcePath: "C.x", ModuleName: "Missing",
		SourceText: `class C { void Tick(){ print("a"); } }`,
		Revision:   1,
	})
	require.ErrorIs(t, err, ErrRuntimeModuleMissing)
}

func TestApplyFiresEventSinkOnlyWhenSomethingInstalled(t *testing.T) {
	e, host := newTestEngine(t)

	mod, err := sourcelang.Compile(`class C { void Tick(){ print("a"); } }`, "A")
	require.NoError(t, err)
	mod.UUID = "rt-uuid-4"
	host.LoadAssembly(mod)

	fireCount := 0
	e.EventSink = func(ev cloudevents.Event) {
		fireCount++
		require.Equal(t, events.TypePatchApplied, ev.Type())
	}

	_, err = e.Apply(ApplyRequest{Assembly: "A", SourcePath: "C.x", ModuleName: "A", SourceText: `class C { void Tick(){ print("b"); } }`, Revision: 1})
	require.NoError(t, err)
	require.Equal(t, 1, fireCount)
}

func TestEncodeDecodeImageRoundTrip(t *testing.T) {
	mod, err := sourcelang.Compile(`class C { int n; void Tick(){ n = n + 1; print(n); } }`, "A")
	require.NoError(t, err)
	mod.UUID = "rt-uuid-5"

	data, err := EncodeImage(mod)
	require.NoError(t, err)

	decoded, err := DecodeImage(data)
	require.NoError(t, err)
	require.Equal(t, mod.Name, decoded.Name)
	require.Len(t, decoded.Types, 1)
	require.Equal(t, mod.Types[0].FullName, decoded.Types[0].FullName)
	require.Same(t, decoded.Types[0], decoded.Types[0].Methods[0].Owner)
}

func TestReplayReappliesValidHistoryRecords(t *testing.T) {
	e, host := newTestEngine(t)

	mod, err := sourcelang.Compile(`class C { void Tick(){ print("a"); } }`, "A")
	require.NoError(t, err)
	mod.UUID = "rt-uuid-6"
	host.LoadAssembly(mod)

	res, err := e.Apply(ApplyRequest{
		Assembly: "A", SourcePath: "C.x", ModuleName: "A",
		SourceText: `class C { void Tick(){ print("b"); } }`,
		Revision:   1,
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Patched)

	ctx := context.Background()
	err = e.Replay(ctx)
	require.NoError(t, err)

	var printed string
	e.Interp.Print = func(s string) { printed = s }
	_, err = e.Interp.Invoke(mod.Types[0].Methods[0], &struct{}{}, nil)
	require.NoError(t, err)
	require.Equal(t, "b", printed)
}

func TestFastPathStillValidDemotesOnMethodSetMismatch(t *testing.T) {
	e, host := newTestEngine(t)
	mod, err := sourcelang.Compile(`class C { void Tick(){ print("a"); } }`, "A")
	require.NoError(t, err)
	mod.UUID = "rt-uuid-7"
	host.LoadAssembly(mod)

	newImage, err := sourcelang.Compile(`class C { void Tick(){ print("a"); } void Another(){ print("z"); } }`, "A")
	require.NoError(t, err)

	require.False(t, e.fastPathStillValid(newImage, mod))
}

func TestApplyTrampolinesExistingLifecycleMethodBodyEditsTwice(t *testing.T) {
	e, host := newTestEngine(t)

	mod, err := sourcelang.Compile(`class C { void OnTick(){ print("a"); } }`, "A")
	require.NoError(t, err)
	mod.UUID = "rt-uuid-9"
	host.LoadAssembly(mod)
	onTick := mod.Types[0].Methods[0]

	var printed string
	e.Interp.Print = func(s string) { printed = s }

	res, err := e.Apply(ApplyRequest{
		Assembly: "A", SourcePath: "C.x", ModuleName: "A",
		SourceText: `class C { void OnTick(){ print("b"); } }`,
		Revision:   1,
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Trampolines)

	_, err = e.Interp.Invoke(onTick, &struct{}{}, nil)
	require.NoError(t, err)
	require.Equal(t, "b", printed, "the original method handle must observe the first edit through the trampoline")

	res, err = e.Apply(ApplyRequest{
		Assembly: "A", SourcePath: "C.x", ModuleName: "A",
		SourceText: `class C { void OnTick(){ print("c"); } }`,
		Revision:   2,
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Trampolines)

	_, err = e.Interp.Invoke(onTick, &struct{}{}, nil)
	require.NoError(t, err)
	require.Equal(t, "c", printed, "the original method handle must observe the second edit too, not just the first")
}

func TestApplyIsSerializedPerAssembly(t *testing.T) {
	e, host := newTestEngine(t)
	mod, err := sourcelang.Compile(`class C { void Tick(){ print("a"); } }`, "A")
	require.NoError(t, err)
	mod.UUID = "rt-uuid-8"
	host.LoadAssembly(mod)

	done := make(chan struct{}, 2)
	go func() {
		e.Apply(ApplyRequest{Assembly: "A", SourcePath: "C.x", ModuleName: "A", SourceText: `class C { void Tick(){ print("b"); } }`, Revision: 1})
		done <- struct{}{}
	}()
	go func() {
		e.Apply(ApplyRequest{Assembly: "A", SourcePath: "C.x", ModuleName: "A", SourceText: `class C { void Tick(){ print("c"); } }`, Revision: 2})
		done <- struct{}{}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first apply")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second apply")
	}
}
