package entrypoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/hotpatch/dispatcher"
	"github.com/GoCodeAlone/hotpatch/il"
	"github.com/GoCodeAlone/hotpatch/keys"
	"github.com/GoCodeAlone/hotpatch/runtimehost"
)

func TestScanOnceAttachesProxyToLiveComponent(t *testing.T) {
	host := runtimehost.NewInProcessHost()
	disp := dispatcher.New(nil)
	s := New(host, disp, nil)

	typ := &il.Type{FullName: "C"}
	instance := &struct{}{}
	host.RegisterComponent(typ, instance)

	id := keys.MethodID(1)
	s.Register(typ, "OnTick", id)

	s.ScanOnce()

	proxy, ok := s.ProxyFor("C", instance)
	require.True(t, ok)
	require.True(t, proxy.SupportsKind("OnTick"))
}

func TestScanOnceIsIdempotentPerComponent(t *testing.T) {
	host := runtimehost.NewInProcessHost()
	disp := dispatcher.New(nil)
	s := New(host, disp, nil)

	typ := &il.Type{FullName: "C"}
	instance := &struct{}{}
	host.RegisterComponent(typ, instance)
	s.Register(typ, "OnTick", keys.MethodID(1))

	s.ScanOnce()
	first, _ := s.ProxyFor("C", instance)
	s.ScanOnce()
	second, _ := s.ProxyFor("C", instance)

	require.Same(t, first, second, "a second scan must not replace an already-attached proxy")
}

func TestLifecycleProxyInvokeRoutesThroughDispatcher(t *testing.T) {
	disp := dispatcher.New(nil)
	id := keys.MethodID(1)
	var invokedOn any
	disp.Register(id, func(instance any, argv []any) (any, error) {
		invokedOn = instance
		return "ok", nil
	})

	instance := &struct{}{}
	proxy := newLifecycleProxy(instance, map[string]keys.MethodID{"OnTick": id}, disp)

	v, err := proxy.Invoke("OnTick", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Same(t, instance, invokedOn)
}

func TestLifecycleProxyInvokeUnknownKindErrors(t *testing.T) {
	disp := dispatcher.New(nil)
	proxy := newLifecycleProxy(&struct{}{}, map[string]keys.MethodID{}, disp)

	_, err := proxy.Invoke("OnDestroy", nil)
	require.ErrorIs(t, err, ErrNoLifecycleHook)
}

func TestStartTwiceReturnsAlreadyRunning(t *testing.T) {
	host := runtimehost.NewInProcessHost()
	disp := dispatcher.New(nil)
	s := New(host, disp, nil)
	defer s.Stop()

	require.NoError(t, s.Start("@every 1h"))
	require.ErrorIs(t, s.Start("@every 1h"), ErrScannerAlreadyRunning)
}
