// Package runtimehost is the "Host runtime" external collaborator:
// find_loaded_assembly, enumerate_methods_of_module,
// enumerate_fields_of_module, find_type_by_full_name,
// enumerate_live_components_of_type, install_detour, install_trampoline,
// allocate_dynamic_method.
//
// Host is an interface so a real managed-runtime embedding can satisfy
// it; InProcessHost is the concrete default this module ships so the
// engine is exercisable end to end without a real JIT. It has no
// separate native method table of its own — "detours" patch the
// *il.Module's own method bodies in place, and "native patching" is the
// documented unsafe fallback in package nativepatch, used only when no
// detour table entry exists (lifecycle methods with no loaded body).
package runtimehost

import (
	"sync"

	"github.com/GoCodeAlone/hotpatch/il"
)

// DetourHandle is returned by InstallDetour; releasing it restores the
// original body.
type DetourHandle interface {
	Release()
}

// TrampolineHandle is returned by InstallTrampoline; releasing it
// restores the method's original dispatch.
type TrampolineHandle interface {
	Release()
}

// Component is a live instance of some runtime type, the unit the
// entry-point scanner iterates and proxies.
type Component struct {
	Instance any
	Type     *il.Type
}

// Host is the interface the patch engine consumes. It never reaches
// into the host application directly; everything crosses this boundary.
type Host interface {
	FindLoadedAssembly(name string) (*il.Module, bool)
	EnumerateMethodsOfModule(mod *il.Module) []*il.Method
	EnumerateFieldsOfModule(mod *il.Module) []*il.Field
	FindTypeByFullName(mod *il.Module, fullName string) (*il.Type, bool)
	EnumerateLiveComponentsOfType(t *il.Type) []*Component

	InstallDetour(method *il.Method, newBody *il.MethodBody) (DetourHandle, error)
	InstallTrampoline(method *il.Method, stub func(instance any, args []any) (any, error)) (TrampolineHandle, error)
	AllocateDynamicMethod(owner *il.Type, paramCount int) *il.Method
}

// InProcessHost is the default Host: the "runtime module" is just another
// *il.Module, registered by assembly name, and live components are
// tracked in a flat registry the host application (or tests) populates
// via RegisterComponent.
type InProcessHost struct {
	mu        sync.RWMutex
	modules   map[string]*il.Module
	liveByTyp map[string][]*Component
}

// NewInProcessHost creates an empty host.
func NewInProcessHost() *InProcessHost {
	return &InProcessHost{
		modules:   map[string]*il.Module{},
		liveByTyp: map[string][]*Component{},
	}
}

// LoadAssembly registers mod as the loaded module for its own Name, as
// if the host's assembly loader had just linked it.
func (h *InProcessHost) LoadAssembly(mod *il.Module) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.modules[mod.Name] = mod
}

// RegisterComponent makes instance discoverable as a live component of t,
// the way the host's scene graph would after instantiating it.
func (h *InProcessHost) RegisterComponent(t *il.Type, instance any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveByTyp[t.FullName] = append(h.liveByTyp[t.FullName], &Component{Instance: instance, Type: t})
}

func (h *InProcessHost) FindLoadedAssembly(name string) (*il.Module, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.modules[name]
	return m, ok
}

func (h *InProcessHost) EnumerateMethodsOfModule(mod *il.Module) []*il.Method {
	var out []*il.Method
	for _, t := range mod.Types {
		out = append(out, t.Methods...)
	}
	return out
}

func (h *InProcessHost) EnumerateFieldsOfModule(mod *il.Module) []*il.Field {
	var out []*il.Field
	for _, t := range mod.Types {
		out = append(out, t.Fields...)
	}
	return out
}

func (h *InProcessHost) FindTypeByFullName(mod *il.Module, fullName string) (*il.Type, bool) {
	t := mod.FindType(fullName)
	return t, t != nil
}

func (h *InProcessHost) EnumerateLiveComponentsOfType(t *il.Type) []*Component {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Component(nil), h.liveByTyp[t.FullName]...)
}

// detourHandle swaps a method's Body pointer; releasing restores the
// original body.
type detourHandle struct {
	method   *il.Method
	original *il.MethodBody
}

func (h *detourHandle) Release() { h.method.Body = h.original }

// InstallDetour replaces method.Body with newBody and returns a handle
// that restores the original on Release.
func (h *InProcessHost) InstallDetour(method *il.Method, newBody *il.MethodBody) (DetourHandle, error) {
	orig := method.Body
	method.Body = newBody
	return &detourHandle{method: method, original: orig}, nil
}

type trampolineHandle struct {
	method       *il.Method
	originalBody *il.MethodBody
}

func (h *trampolineHandle) Release() {
	h.method.Body = h.originalBody
	h.method.Native = nil
}

// InstallTrampoline redirects method to stub: any caller that still
// invokes the original runtime method (the host's scheduler calling an
// existing OnTick, say) reaches the patched behavior through stub rather
// than the stale original body. In this in-process host there is no
// native branch to splice, so the method is wired through il.Method's
// Native escape hatch, which the interpreter calls directly instead of
// running Body; a real embedding would instead splice a native branch to
// a JIT-generated stub that forwards into the same dispatcher call.
func (h *InProcessHost) InstallTrampoline(method *il.Method, stub func(instance any, args []any) (any, error)) (TrampolineHandle, error) {
	orig := method.Body
	method.Native = stub
	return &trampolineHandle{method: method, originalBody: orig}, nil
}

// AllocateDynamicMethod creates a fresh, bodyless method on owner with
// paramCount untyped parameters (plus the usual receiver-offset handling
// performed by the rewriter), the way the host would allocate a dynamic
// method for dispatcher registration.
func (h *InProcessHost) AllocateDynamicMethod(owner *il.Type, paramCount int) *il.Method {
	params := make([]il.Param, paramCount)
	for i := range params {
		params[i] = il.Param{Name: "object", Type: "object"}
	}
	m := &il.Method{
		Owner:      owner,
		Name:       "<dynamic>",
		Params:     params,
		ReturnType: "object",
		Body:       &il.MethodBody{InitLocals: true},
	}
	return m
}
