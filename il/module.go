// Package il is the in-memory bytecode module representation the patch
// engine operates on: types, methods, fields and a linear, register-free
// instruction stream loosely modeled on a managed-runtime IL. A freshly
// compiled image and an already-loaded runtime module are both values of
// *Module, told apart only by which one came from a fresh compile and
// which one is already installed in the host.
package il

import "github.com/GoCodeAlone/hotpatch/keys"

// Module is a single compiled unit: either a freshly emitted image or an
// already-loaded runtime module, depending on who holds the reference.
type Module struct {
	Name string
	// UUID identifies a specific link of this module in the host process.
	// Two compiles of the same source produce modules with different
	// UUIDs; the runtime module's UUID is stable until the host re-links
	// the assembly (see package history for why this matters on replay).
	UUID  string
	Types []*Type
}

// FindType resolves a type by its normalized full name.
func (m *Module) FindType(fullName string) *Type {
	norm := keys.NormalizeTypeName(fullName)
	for _, t := range m.Types {
		if keys.NormalizeTypeName(t.FullName) == norm {
			return t
		}
	}
	return nil
}

// Type is a class/struct/interface/enum declaration.
type Type struct {
	FullName string
	// Synthetic marks compiler-generated containers (closures, iterator
	// state machines, ...). Patchable methods never live in one.
	Synthetic bool
	Methods   []*Method
	Fields    []*Field
}

// Method is a declared method, constructor or type initializer.
type Method struct {
	Owner        *Type
	Name         string
	IsStatic     bool
	IsAbstract   bool
	IsCtor       bool
	IsCctor      bool
	// ForeignLinked methods are implemented outside this module (extern /
	// P-Invoke style); they have no body to rewrite.
	ForeignLinked bool
	GenericArity  int
	Params        []Param
	ReturnType    string
	// Body is nil for abstract or foreign-linked methods.
	Body *MethodBody
	// Native, when set, is invoked directly in place of interpreting Body.
	// A runtime host's trampoline installation uses this to splice in a
	// forwarding stub without needing an instruction encoding for "call
	// this closure" — the in-process analog of a native branch to a
	// JIT-generated stub.
	Native func(instance any, args []any) (any, error)
}

// Param is a single formal parameter.
type Param struct {
	Name string
	Type string
}

// Key builds this method's canonical MethodKey.
func (m *Method) Key() keys.MethodKey {
	owner := ""
	if m.Owner != nil {
		owner = m.Owner.FullName
	}
	paramTypes := make([]string, len(m.Params))
	for i, p := range m.Params {
		paramTypes[i] = p.Type
	}
	return keys.NewMethodKey(owner, m.Name, m.GenericArity, paramTypes, m.ReturnType)
}

// Patchable reports whether this method is a candidate for rewriting:
// has a body, is not abstract, is not foreign-linked, is not generic, and
// is not declared in a synthetic container.
func (m *Method) Patchable() bool {
	if m.Body == nil || m.IsAbstract || m.ForeignLinked || m.GenericArity != 0 {
		return false
	}
	if m.Owner != nil && m.Owner.Synthetic {
		return false
	}
	return true
}

// LifecycleKinds is the fixed set of scheduler-invoked callback names the
// host's main loop dispatches on live components each tick/event. A method
// is a lifecycle entry point iff its name is in this set, it takes zero
// arguments, is an instance method, and returns void.
var LifecycleKinds = map[string]struct{}{
	"OnTick":     {},
	"OnLateTick": {},
	"OnEnable":   {},
	"OnDisable":  {},
	"OnAwake":    {},
	"OnStart":    {},
	"OnDestroy":  {},
}

// LifecycleKind reports whether m is a lifecycle entry point.
func (m *Method) LifecycleKind() (string, bool) {
	if _, ok := LifecycleKinds[m.Name]; !ok {
		return "", false
	}
	if m.IsStatic || len(m.Params) != 0 || m.ReturnType != "void" {
		return "", false
	}
	return m.Name, true
}

// Field is a declared instance or static field.
type Field struct {
	Owner    *Type
	Name     string
	Type     string
	IsStatic bool
}

// Key builds this field's canonical FieldKey.
func (f *Field) Key() keys.FieldKey {
	owner := ""
	if f.Owner != nil {
		owner = f.Owner.FullName
	}
	return keys.NewFieldKey(owner, f.Name, f.Type, f.IsStatic)
}

// MethodBody is a method's executable content.
type MethodBody struct {
	Locals            []LocalVar
	Instructions      []Instruction
	ExceptionHandlers []ExceptionHandler
	MaxStack          int
	InitLocals        bool
}

// LocalVar is a local variable slot.
type LocalVar struct {
	Type string
}

// HandlerKind distinguishes exception handler blocks.
type HandlerKind int

const (
	HandlerCatch HandlerKind = iota
	HandlerFinally
	HandlerFilter
)

// ExceptionHandler describes a protected region. Start/End fields are
// instruction indices into the owning MethodBody.Instructions slice.
type ExceptionHandler struct {
	Kind         HandlerKind
	TryStart     int
	TryEnd       int
	HandlerStart int
	HandlerEnd   int
	FilterStart  int // only meaningful when Kind == HandlerFilter
	CatchType    string
}
