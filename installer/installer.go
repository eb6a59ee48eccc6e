// Package installer is the Installer & Trampolines component: it
// decides, per patchable method, whether to install a detour, a
// trampoline, or register it dispatcher-only, and owns the Hook
// Tables that keep those installations alive.
package installer

import (
	"fmt"
	"sync"

	"github.com/GoCodeAlone/hotpatch/dispatcher"
	"github.com/GoCodeAlone/hotpatch/il"
	"github.com/GoCodeAlone/hotpatch/keys"
	"github.com/GoCodeAlone/hotpatch/logging"
	"github.com/GoCodeAlone/hotpatch/nativepatch"
	"github.com/GoCodeAlone/hotpatch/plan"
	"github.com/GoCodeAlone/hotpatch/rewriter"
	"github.com/GoCodeAlone/hotpatch/runtimehost"
)

// AssemblyHooks is one assembly's Hook Tables, guarded by its own mutex
// so apply to one assembly never blocks apply to another.
type AssemblyHooks struct {
	mu               sync.Mutex
	methodHooks      map[keys.MethodKey]runtimehost.DetourHandle
	trampolineHooks  map[keys.MethodKey]runtimehost.TrampolineHandle
}

func newAssemblyHooks() *AssemblyHooks {
	return &AssemblyHooks{
		methodHooks:     map[keys.MethodKey]runtimehost.DetourHandle{},
		trampolineHooks: map[keys.MethodKey]runtimehost.TrampolineHandle{},
	}
}

// Reset releases every handle, as on host playmode exit.
func (h *AssemblyHooks) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.methodHooks {
		d.Release()
	}
	for _, t := range h.trampolineHooks {
		t.Release()
	}
	h.methodHooks = map[keys.MethodKey]runtimehost.DetourHandle{}
	h.trampolineHooks = map[keys.MethodKey]runtimehost.TrampolineHandle{}
}

// MethodOutcomeKind is which of the four installation results applied to
// one patchable method.
type MethodOutcomeKind string

const (
	OutcomeDetour         MethodOutcomeKind = "detour"
	OutcomeTrampoline     MethodOutcomeKind = "trampoline"
	OutcomeDispatcherOnly MethodOutcomeKind = "dispatcher-only"
	OutcomeSkipped        MethodOutcomeKind = "skipped"
)

// MethodPatchOutcome records what happened to one patchable method.
type MethodPatchOutcome struct {
	Key    keys.MethodKey
	Kind   MethodOutcomeKind
	Reason string
}

// ApplyResult is the literal struct
type ApplyResult struct {
	Assembly          string
	RuntimeModuleUUID string
	Patched           int
	Dispatched        int
	Trampolines       int
	Skipped           int
	Errors            []string
	TokenPairs        []plan.TokenPair
	MethodPatches     []MethodPatchOutcome
}

// Installer owns one AssemblyHooks per assembly and installs plans
// produced by the module inspector and rewritten by package rewriter.
type Installer struct {
	host   runtimehost.Host
	disp   *dispatcher.Dispatcher
	logger logging.Logger

	mu              sync.Mutex
	hooks           map[string]*AssemblyHooks
	onLifecycleType func(assembly string, t *il.Type, methodID keys.MethodID, kind string)
	invokerFactory  InvokerFactory
}

// New creates an Installer.
func New(host runtimehost.Host, disp *dispatcher.Dispatcher, logger logging.Logger) *Installer {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Installer{
		host:   host,
		disp:   disp,
		logger: logging.WithCategory(logger, logging.CategoryInstaller),
		hooks:  map[string]*AssemblyHooks{},
	}
}

// OnLifecycleTypeRegistered installs a callback invoked whenever a newly
// added lifecycle method requires entry-point registration: the
// installer also registers the type with the entry-point manager.
func (in *Installer) OnLifecycleTypeRegistered(fn func(assembly string, t *il.Type, methodID keys.MethodID, kind string)) {
	in.onLifecycleType = fn
}

func (in *Installer) hooksFor(assembly string) *AssemblyHooks {
	in.mu.Lock()
	defer in.mu.Unlock()
	h, ok := in.hooks[assembly]
	if !ok {
		h = newAssemblyHooks()
		in.hooks[assembly] = h
	}
	return h
}

// Reset releases every hook for every assembly and clears the dispatcher,
// as on host playmode exit.
func (in *Installer) Reset() {
	in.mu.Lock()
	hooks := make([]*AssemblyHooks, 0, len(in.hooks))
	for _, h := range in.hooks {
		hooks = append(hooks, h)
	}
	in.mu.Unlock()
	for _, h := range hooks {
		h.Reset()
	}
	in.disp.Reset()
}

// Apply installs p's patchable methods against runtimeModule, owned by
// assembly, and returns the aggregated outcome; apply is
// partial-success tolerant.
func (in *Installer) Apply(assembly, runtimeModuleUUID string, newImage, runtimeModule *il.Module, p *plan.Plan) *ApplyResult {
	hooks := in.hooksFor(assembly)
	hooks.mu.Lock()
	defer hooks.mu.Unlock()

	res := &ApplyResult{Assembly: assembly, RuntimeModuleUUID: runtimeModuleUUID}

	for _, skipped := range p.Skipped {
		res.Skipped++
		res.MethodPatches = append(res.MethodPatches, MethodPatchOutcome{Key: skipped.Key, Kind: OutcomeSkipped, Reason: skipped.Reason})
	}

	for _, source := range p.Patchable {
		key := source.Key()
		outcome := in.installOne(assembly, hooks, runtimeModule, p, source, key)
		res.MethodPatches = append(res.MethodPatches, outcome)
		switch outcome.Kind {
		case OutcomeDetour:
			res.Patched++
		case OutcomeTrampoline:
			res.Trampolines++
		case OutcomeDispatcherOnly:
			res.Dispatched++
		case OutcomeSkipped:
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", key, outcome.Reason))
		}

		if rh, existing := p.RuntimeMethods[key]; existing {
			res.TokenPairs = append(res.TokenPairs, plan.TokenPair{
				PatchModuleToken: string(source.Key()),
				RuntimeToken:     string(rh.Key),
				MethodKey:        key,
			})
		}
	}

	return res
}

func (in *Installer) installOne(assembly string, hooks *AssemblyHooks, runtimeModule *il.Module, p *plan.Plan, source *il.Method, key keys.MethodKey) MethodPatchOutcome {
	if kind, isLifecycle := source.LifecycleKind(); isLifecycle {
		return in.installLifecycle(assembly, hooks, runtimeModule, p, source, key, kind)
	}

	if rh, ok := p.RuntimeMethods[key]; ok {
		return in.installDetour(hooks, p, source, rh.Method, key)
	}

	return in.installDispatcherOnly(p, source, key)
}

// installDetour implements the Detour outcome: rewrite in place onto an
// existing runtime method, releasing any prior detour for the key first.
func (in *Installer) installDetour(hooks *AssemblyHooks, p *plan.Plan, source, runtimeMethod *il.Method, key keys.MethodKey) MethodPatchOutcome {
	if err := rewriter.Rewrite(source, p, runtimeMethod, rewriter.ModeInPlace); err != nil {
		in.logger.Warn("rewrite failed", "method", string(key), "error", err)
		return MethodPatchOutcome{Key: key, Kind: OutcomeSkipped, Reason: err.Error()}
	}

	if prior, ok := hooks.methodHooks[key]; ok {
		prior.Release()
	}
	handle, err := in.host.InstallDetour(runtimeMethod, runtimeMethod.Body)
	if err != nil {
		in.logger.Warn("detour install failed", "method", string(key), "error", err)
		return MethodPatchOutcome{Key: key, Kind: OutcomeSkipped, Reason: err.Error()}
	}
	hooks.methodHooks[key] = handle
	return MethodPatchOutcome{Key: key, Kind: OutcomeDetour}
}

// installLifecycle implements the Trampoline outcome for a lifecycle
// entry point, whether or not it already exists in the runtime. The
// rewritten body is always registered dispatcher-side, since lifecycle
// calls always route through the dispatcher, and the trampoline
// forwards the original entry point to it.
func (in *Installer) installLifecycle(assembly string, hooks *AssemblyHooks, runtimeModule *il.Module, p *plan.Plan, source *il.Method, key keys.MethodKey, kind string) MethodPatchOutcome {
	id := key.ID()

	dynamic := in.host.AllocateDynamicMethod(source.Owner, len(source.Params)+1)
	if err := rewriter.Rewrite(source, p, dynamic, rewriter.ModeDispatcherBody); err != nil {
		in.logger.Warn("rewrite failed", "method", string(key), "error", err)
		return MethodPatchOutcome{Key: key, Kind: OutcomeSkipped, Reason: err.Error()}
	}
	in.registerDynamicInvoker(id, dynamic)

	runtimeMethod, existsInRuntime := lookupMethod(runtimeModule, source.Owner.FullName, source.Name)

	var handle runtimehost.TrampolineHandle
	var err error
	stub := func(instance any, args []any) (any, error) {
		return in.disp.Invoke(instance, id, args)
	}
	if existsInRuntime {
		if prior, ok := hooks.trampolineHooks[key]; ok {
			prior.Release()
		}
		handle, err = in.host.InstallTrampoline(runtimeMethod, stub)
	} else {
		handle, err = nativepatch.InstallTrampolineFallback(source.Owner.FullName, source.Name, stub)
	}
	if err != nil {
		in.logger.Warn("trampoline install failed", "method", string(key), "error", err)
		return MethodPatchOutcome{Key: key, Kind: OutcomeSkipped, Reason: err.Error()}
	}
	hooks.trampolineHooks[key] = handle

	// Entry-point registration applies only to lifecycle methods newly
	// added to a type; one that already exists in the runtime already has
	// whatever registration it started with.
	if !existsInRuntime && in.onLifecycleType != nil {
		in.onLifecycleType(assembly, source.Owner, id, kind)
	}
	return MethodPatchOutcome{Key: key, Kind: OutcomeTrampoline}
}

// installDispatcherOnly implements the Dispatcher-only outcome for a
// new, non-lifecycle method: wrap the rewritten body as a dynamic method
// plus invoker, registered at method_id.
func (in *Installer) installDispatcherOnly(p *plan.Plan, source *il.Method, key keys.MethodKey) MethodPatchOutcome {
	id := key.ID()
	dynamic := in.host.AllocateDynamicMethod(source.Owner, len(source.Params)+1)
	if err := rewriter.Rewrite(source, p, dynamic, rewriter.ModeDispatcherBody); err != nil {
		in.logger.Warn("rewrite failed", "method", string(key), "error", err)
		return MethodPatchOutcome{Key: key, Kind: OutcomeSkipped, Reason: err.Error()}
	}
	in.registerDynamicInvoker(id, dynamic)
	return MethodPatchOutcome{Key: key, Kind: OutcomeDispatcherOnly}
}

// defaultInvokerFactory is used by registerDynamicInvoker until package
// engine installs its own factory via SetInvokerFactory; it builds a
// closure that errors, since the installer alone has no interpreter. The
// factory is kept as a field rather than a hard import so installer does
// not depend on package vm.
var defaultInvokerFactory = func(dyn *il.Method) dispatcher.Invoker {
	return func(instance any, argv []any) (any, error) {
		return nil, fmt.Errorf("installer: no invoker factory configured for %s", dyn.Owner.FullName+"::"+dyn.Name)
	}
}

// InvokerFactory builds the dispatcher.Invoker closure for a freshly
// rewritten dynamic method. package engine sets this to a vm.Interp-backed
// factory at construction.
type InvokerFactory func(dyn *il.Method) dispatcher.Invoker

func (in *Installer) registerDynamicInvoker(id keys.MethodID, dyn *il.Method) {
	factory := in.invokerFactory
	if factory == nil {
		factory = defaultInvokerFactory
	}
	in.disp.Register(id, factory(dyn))
}

// SetInvokerFactory wires how a rewritten dynamic method becomes an
// invoker closure, decoupling installer from the interpreter package.
func (in *Installer) SetInvokerFactory(f InvokerFactory) {
	in.invokerFactory = f
}

func lookupMethod(mod *il.Module, ownerFullName, name string) (*il.Method, bool) {
	t := mod.FindType(ownerFullName)
	if t == nil {
		return nil, false
	}
	for _, m := range t.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}
