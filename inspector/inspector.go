// Package inspector implements the Module Inspector: the compatibility
// check and Patch Plan builder that sits between the compiler driver and
// the IL rewriter.
package inspector

import (
	"fmt"

	"github.com/GoCodeAlone/hotpatch/il"
	"github.com/GoCodeAlone/hotpatch/keys"
	"github.com/GoCodeAlone/hotpatch/logging"
	"github.com/GoCodeAlone/hotpatch/plan"
)

// Inspector builds Patch Plans and runs the compatibility check.
type Inspector struct {
	logger logging.Logger
}

// New creates an Inspector.
func New(logger logging.Logger) *Inspector {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Inspector{logger: logging.WithCategory(logger, logging.CategoryGeneral)}
}

// Incompatible is returned when the compatibility check fails the apply.
type Incompatible struct {
	Reason string
}

func (e *Incompatible) Error() string { return e.Reason }

// CheckCompatibility implements compatibility check, run only
// on the slow path (skipped on a validated fast-path apply). For every
// non-synthetic type in newImage, it must resolve against runtimeModule; a
// new type is incompatible, and a removed method from any resolved pair is
// incompatible. A changed field set is never fatal here.
func CheckCompatibility(newImage, runtimeModule *il.Module) error {
	for _, t := range newImage.Types {
		if t.Synthetic {
			continue
		}
		rt := runtimeModule.FindType(t.FullName)
		if rt == nil {
			return &Incompatible{Reason: fmt.Sprintf("new type added: %s", t.FullName)}
		}
		runtimeMethods := methodKeySet(rt)
		newMethods := methodKeySet(t)
		diff := plan.DiffMethodSets(runtimeMethods, newMethods)
		if len(diff.Removed) > 0 {
			return &Incompatible{Reason: fmt.Sprintf("method removed from %s: %s", t.FullName, diff.Removed[0])}
		}
	}
	return nil
}

func methodKeySet(t *il.Type) map[keys.MethodKey]*il.Method {
	out := make(map[keys.MethodKey]*il.Method, len(t.Methods))
	for _, m := range t.Methods {
		out[m.Key()] = m
	}
	return out
}

func fieldKeySet(t *il.Type) map[keys.FieldKey]*il.Field {
	out := make(map[keys.FieldKey]*il.Field, len(t.Fields))
	for _, f := range t.Fields {
		out[f.Key()] = f
	}
	return out
}

// supportedOperandKinds is the set the rewriter can carry across modules
//.
var supportedOperandKinds = map[il.OperandKind]struct{}{
	il.OperandNone:         {},
	il.OperandBranchTarget: {},
	il.OperandBranchTable:  {},
	il.OperandLocal:        {},
	il.OperandParam:        {},
	il.OperandMethodRef:    {},
	il.OperandFieldRef:     {},
	il.OperandTypeRef:      {},
	il.OperandConst:        {},
}

// Plan builds the Patch Plan for newImage against runtimeModule. The
// compatibility check is the caller's responsibility (engine.Engine
// decides whether to run it, based on the classifier verdict); Plan always
// builds runtime_methods/runtime_fields, method_ids, dispatch_keys, and
// the patchable/skipped method lists.
func (ins *Inspector) Plan(newImage, runtimeModule *il.Module) *plan.Plan {
	p := plan.NewPlan()

	for _, t := range runtimeModule.Types {
		for _, m := range t.Methods {
			p.RuntimeMethods[m.Key()] = plan.RuntimeMethodHandle{Key: m.Key(), Method: m}
		}
		for _, f := range t.Fields {
			p.RuntimeFields[f.Key()] = plan.RuntimeFieldHandle{Key: f.Key(), Field: f}
		}
	}

	for _, t := range newImage.Types {
		if t.Synthetic {
			continue
		}
		for _, m := range t.Methods {
			if !m.Patchable() {
				continue
			}
			key := m.Key()
			if reason, ok := unsupportedReason(m, p); ok {
				p.Skipped = append(p.Skipped, plan.SkippedMethod{Key: key, Reason: reason})
				ins.logger.Warn("inspector: skipping method", "method", string(key), "reason", reason)
				continue
			}
			p.Patchable = append(p.Patchable, m)
			p.MethodIDs[key] = key.ID()

			if _, isLifecycle := m.LifecycleKind(); isLifecycle {
				p.DispatchKeys[key] = struct{}{}
			} else if _, existsInRuntime := p.RuntimeMethods[key]; !existsInRuntime {
				p.DispatchKeys[key] = struct{}{}
			}
		}
	}

	ins.logger.Debug("inspector: plan built",
		"patchable", len(p.Patchable), "skipped", len(p.Skipped), "dispatch_keys", len(p.DispatchKeys))
	return p
}

// unsupportedReason implements the operand support gate: reject a method
// body containing an operand kind the rewriter cannot carry, or a
// field-address load of a field missing from the runtime.
func unsupportedReason(m *il.Method, p *plan.Plan) (string, bool) {
	if m.Body == nil {
		return "", false
	}
	for _, instr := range m.Body.Instructions {
		if _, ok := supportedOperandKinds[instr.Kind]; !ok {
			return fmt.Sprintf("unsupported operand kind %v on opcode %v", instr.Kind, instr.Op), true
		}
		if instr.Op.IsFieldAddress() {
			ref, ok := instr.FieldRefOperand()
			if !ok {
				continue
			}
			key := keys.NewFieldKey(ref.OwnerFullName, ref.Name, ref.FieldType, ref.IsStatic)
			if _, ok := p.RuntimeFields[key]; !ok {
				return "field address not supported: " + string(key), true
			}
		}
	}
	return "", false
}
