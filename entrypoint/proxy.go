package entrypoint

import (
	"github.com/GoCodeAlone/hotpatch/dispatcher"
	"github.com/GoCodeAlone/hotpatch/keys"
)

// LifecycleProxy wraps a live component instance, forwarding each known
// lifecycle kind to the dispatcher instead of letting the host call the
// component's original, now-stale method body directly. It forwards
// only the lifecycle kinds it was registered for, and answers
// ErrNoLifecycleHook for anything else.
type LifecycleProxy struct {
	instance any
	kinds    map[string]keys.MethodID
	disp     *dispatcher.Dispatcher
}

func newLifecycleProxy(instance any, kinds map[string]keys.MethodID, disp *dispatcher.Dispatcher) *LifecycleProxy {
	return &LifecycleProxy{instance: instance, kinds: kinds, disp: disp}
}

// Inner returns the wrapped component instance.
func (p *LifecycleProxy) Inner() any { return p.instance }

// Invoke forwards lifecycleKind (e.g. "OnTick") to the dispatcher's
// registered invoker for that kind's method id, passing args through
// unchanged. Returns ErrNoLifecycleHook if this proxy has no method id
// registered for lifecycleKind.
func (p *LifecycleProxy) Invoke(lifecycleKind string, args []any) (any, error) {
	id, ok := p.kinds[lifecycleKind]
	if !ok {
		return nil, ErrNoLifecycleHook
	}
	return p.disp.Invoke(p.instance, id, args)
}

// SupportsKind reports whether this proxy forwards lifecycleKind.
func (p *LifecycleProxy) SupportsKind(lifecycleKind string) bool {
	_, ok := p.kinds[lifecycleKind]
	return ok
}
