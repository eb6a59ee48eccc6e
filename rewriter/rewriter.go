// Package rewriter implements the IL Rewriter: clones a
// patchable method's body into a target body, redirecting field access
// absent from the runtime through the field store and calls into the
// dispatch-key set through the dispatcher.
package rewriter

import (
	"github.com/GoCodeAlone/hotpatch/il"
	"github.com/GoCodeAlone/hotpatch/keys"
	"github.com/GoCodeAlone/hotpatch/plan"
)

// Mode distinguishes the two rewrite targets, differing only in
// parameter offset.
type Mode int

const (
	// ModeInPlace targets an existing runtime method; its parameter list
	// matches the source 1:1.
	ModeInPlace Mode = 0
	// ModeDispatcherBody targets a freshly minted dynamic method whose
	// parameters begin with an extra receiver slot when the source is an
	// instance method.
	ModeDispatcherBody Mode = 1
)

const minMaxStack = 8

// Rewrite installs a rewritten body for source into target, per the plan
// p (dispatch keys and runtime field/method lookups), in the given mode.
func Rewrite(source *il.Method, p *plan.Plan, target *il.Method, mode Mode) error {
	receiverOffset := 0
	if mode == ModeDispatcherBody && !source.IsStatic {
		receiverOffset = 1
	}

	srcBody := source.Body
	dst := &il.MethodBody{
		InitLocals: true,
		MaxStack:   max(srcBody.MaxStack, minMaxStack),
	}

	// Step 2: clone locals.
	dst.Locals = append([]il.LocalVar(nil), srcBody.Locals...)

	// indexMap[sourceIdx] = first output instruction index the source
	// instruction expanded to, used to patch branch/handler operands.
	indexMap := make(map[int]int, len(srcBody.Instructions))

	for i, instr := range srcBody.Instructions {
		indexMap[i] = len(dst.Instructions)

		switch {
		case instr.Op.IsFieldAccess() || instr.Op.IsFieldAddress():
			expanded, err := lowerFieldInstruction(instr, p)
			if err != nil {
				return err
			}
			dst.Instructions = append(dst.Instructions, expanded...)

		case instr.Op.IsCall():
			ref, ok := instr.MethodRefOperand()
			if ok && isDispatchTarget(ref, p) {
				dst.Instructions = append(dst.Instructions, lowerDispatchCall(ref)...)
			} else {
				dst.Instructions = append(dst.Instructions, retargetCall(instr, p))
			}

		default:
			dst.Instructions = append(dst.Instructions, remapOperand(instr, receiverOffset))
		}
	}

	// Step 4: patch branch/switch operands through indexMap.
	for i := range dst.Instructions {
		in := dst.Instructions[i]
		switch in.Kind {
		case il.OperandBranchTarget:
			if t, ok := in.BranchTarget(); ok {
				dst.Instructions[i].Operand = indexMap[t]
			}
		case il.OperandBranchTable:
			if tbl, ok := in.BranchTable(); ok {
				remapped := make([]int, len(tbl))
				for j, t := range tbl {
					remapped[j] = indexMap[t]
				}
				dst.Instructions[i].Operand = remapped
			}
		}
	}

	// Step 5: clone exception handlers, mapping endpoints through indexMap.
	for _, h := range srcBody.ExceptionHandlers {
		dst.ExceptionHandlers = append(dst.ExceptionHandlers, il.ExceptionHandler{
			Kind:         h.Kind,
			TryStart:     indexMap[h.TryStart],
			TryEnd:       indexMap[h.TryEnd],
			HandlerStart: indexMap[h.HandlerStart],
			HandlerEnd:   indexMap[h.HandlerEnd],
			FilterStart:  indexMap[h.FilterStart],
			CatchType:    h.CatchType,
		})
	}

	// Step 6: macro-optimization pass (short forms): collapse a load
	// immediately followed by a pop into a no-op pair removal.
	dst.Instructions = optimizeShortForms(dst.Instructions)

	target.Body = dst
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// remapOperand clones instr, applying receiverOffset to parameter
// indices and converting OpLdThis into an OpLdArg(0) when the target
// body has no native receiver slot (dispatcher-body mode on an instance
// source method).
func remapOperand(instr il.Instruction, receiverOffset int) il.Instruction {
	if instr.Op == il.OpLdThis && receiverOffset == 1 {
		return il.Instruction{Op: il.OpLdArg, Kind: il.OperandParam, Operand: 0}
	}
	if instr.Kind == il.OperandParam {
		if idx, ok := instr.Operand.(int); ok {
			return il.Instruction{Op: instr.Op, Kind: instr.Kind, Operand: idx + receiverOffset}
		}
	}
	return instr
}

// lowerFieldInstruction implements step 3's field-access rule.
// Fields present in runtime_fields are passed through untouched (the
// target module still has that slot); fields absent are redirected
// through the field store.
func lowerFieldInstruction(instr il.Instruction, p *plan.Plan) ([]il.Instruction, error) {
	ref, ok := instr.FieldRefOperand()
	if !ok {
		return []il.Instruction{instr}, nil
	}
	key := keys.NewFieldKey(ref.OwnerFullName, ref.Name, ref.FieldType, ref.IsStatic)
	if _, present := p.RuntimeFields[key]; present {
		return []il.Instruction{instr}, nil
	}

	if instr.Op.IsFieldAddress() {
		return nil, ErrFieldAddressUnsupported
	}

	keyConst := il.Instruction{Op: il.OpLdConst, Kind: il.OperandConst, Operand: string(key)}

	switch instr.Op {
	case il.OpLdFld:
		// stack: [..., receiver] -> [..., value]
		call := fieldStoreCall(il.FieldStoreGetInstance, []string{"object", "string"}, "object")
		return []il.Instruction{keyConst, call}, nil
	case il.OpStFld:
		// stack: [..., receiver, value] -> []
		call := fieldStoreCall(il.FieldStoreSetInstance, []string{"object", "object", "string"}, "void")
		return []il.Instruction{keyConst, call}, nil
	case il.OpLdSFld:
		call := fieldStoreCall(il.FieldStoreGetStatic, []string{"string"}, "object")
		return []il.Instruction{keyConst, call}, nil
	case il.OpStSFld:
		call := fieldStoreCall(il.FieldStoreSetStatic, []string{"object", "string"}, "void")
		return []il.Instruction{keyConst, call}, nil
	}
	return []il.Instruction{instr}, nil
}

func fieldStoreCall(name string, paramTypes []string, returnType string) il.Instruction {
	return il.Instruction{
		Op:   il.OpCall,
		Kind: il.OperandMethodRef,
		Operand: il.MethodRef{
			OwnerFullName: il.FieldStoreOwner,
			Name:          name,
			ParamTypes:    paramTypes,
			ReturnType:    returnType,
			IsInstance:    false,
		},
	}
}

// isDispatchTarget reports whether ref's method key is in the plan's
// dispatch-key set.
func isDispatchTarget(ref il.MethodRef, p *plan.Plan) bool {
	key := keys.NewMethodKey(ref.OwnerFullName, ref.Name, ref.GenericArity, ref.ParamTypes, ref.ReturnType)
	return p.IsDispatchKey(key)
}

// lowerDispatchCall lowers a call targeting a dispatch key into a
// dispatcher invocation. The toy instruction set has no
// array-construction opcode, so the argv array is represented by the
// trailing stack operands themselves: the interpreter (package vm) pops
// exactly len(ParamTypes) values off the stack for a call to
// $dispatcher/Invoke, the receiver first (if ref.IsInstance) followed by
// the arguments, with the method id pushed last and popped first.
func lowerDispatchCall(ref il.MethodRef) []il.Instruction {
	methodID := keys.NewMethodKey(ref.OwnerFullName, ref.Name, ref.GenericArity, ref.ParamTypes, ref.ReturnType).ID()

	paramTypes := make([]string, 0, len(ref.ParamTypes)+2)
	if ref.IsInstance {
		paramTypes = append(paramTypes, "object")
	}
	for range ref.ParamTypes {
		paramTypes = append(paramTypes, "object")
	}
	paramTypes = append(paramTypes, "uint32")

	idConst := il.Instruction{Op: il.OpLdConst, Kind: il.OperandConst, Operand: uint32(methodID)}
	call := il.Instruction{
		Op:   il.OpCall,
		Kind: il.OperandMethodRef,
		Operand: il.MethodRef{
			OwnerFullName: il.DispatcherOwner,
			Name:          il.DispatcherInvoke,
			ParamTypes:    paramTypes,
			ReturnType:    ref.ReturnType,
			IsInstance:    ref.IsInstance,
		},
	}
	return []il.Instruction{idConst, call}
}

// retargetCall clones a call instruction that does not need dispatcher
// lowering. A method reference whose key resolves to a known runtime
// method is retargeted to that runtime method; otherwise it is imported
// as-is. MethodRef is coordinate-based rather than a live pointer (see
// il.MethodRef doc), so both cases are represented by the identical
// operand; resolution happens when the body is executed.
func retargetCall(instr il.Instruction, p *plan.Plan) il.Instruction {
	return instr
}

// optimizeShortForms is the macro-optimization pass step 6.
// It folds an OpLdConst immediately followed by an OpPop (a dead store
// field-store lowering sometimes leaves behind) into a pair of no-ops,
// rather than deleting the instructions outright: exception handler and
// branch-target indices were already fixed up against this slice's
// length in step 4/5, so the pass must not change it.
func optimizeShortForms(instrs []il.Instruction) []il.Instruction {
	for i := 0; i+1 < len(instrs); i++ {
		if instrs[i].Op == il.OpLdConst && instrs[i+1].Op == il.OpPop {
			instrs[i] = il.Instruction{Op: il.OpNop}
			instrs[i+1] = il.Instruction{Op: il.OpNop}
		}
	}
	return instrs
}
