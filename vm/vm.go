// Package vm is a small stack-machine interpreter for *il.Method bodies.
// It is the execution counterpart of the toy "il"/"sourcelang" bytecode
// toolchain: something has to actually run a patched or unpatched method
// body for the patch engine's effects (a detour, a dispatcher
// registration, a field-store redirection) to be observable, the way a
// real managed runtime's JIT would.
//
// Field access is always routed through the field store, whether or not
// the rewriter needed to redirect it: this toy runtime has no real
// struct memory layout to back "ordinary" fields with, so fieldstore.Store
// doubles as the uniform backing for every field, patched or not. Calls
// to il.FieldStoreOwner / il.DispatcherOwner (the rewriter's lowering
// targets) are recognized as protocol calls; every other call is
// resolved by method key against the interpreter's module and run
// recursively.
package vm

import (
	"fmt"
	"strings"

	"github.com/GoCodeAlone/hotpatch/dispatcher"
	"github.com/GoCodeAlone/hotpatch/fieldstore"
	"github.com/GoCodeAlone/hotpatch/il"
	"github.com/GoCodeAlone/hotpatch/keys"
)

// Interp runs method bodies against a live module, dispatcher, and field store.
type Interp struct {
	Module     *il.Module
	Dispatcher *dispatcher.Dispatcher
	Fields     *fieldstore.Store
	// Print receives the output of the sourcelang "print" builtin;
	// defaults to fmt.Println if nil.
	Print func(string)
}

func (vm *Interp) print(s string) {
	if vm.Print != nil {
		vm.Print(s)
		return
	}
	fmt.Println(s)
}

// Invoke runs m with receiver `this` (nil for static methods) and args.
func (vm *Interp) Invoke(m *il.Method, this any, args []any) (any, error) {
	if m.Native != nil {
		return m.Native(this, args)
	}
	if m.Body == nil {
		return nil, ErrNoBody
	}
	locals := make([]any, len(m.Body.Locals))
	stack := make([]any, 0, 16)

	pc := 0
	for pc < len(m.Body.Instructions) {
		in := m.Body.Instructions[pc]
		next := pc + 1

		switch in.Op {
		case il.OpNop, il.OpEndFinally:
			// no-op

		case il.OpLdThis:
			stack = append(stack, this)

		case il.OpLdArg:
			idx := in.Operand.(int)
			if idx < len(args) {
				stack = append(stack, args[idx])
			} else {
				stack = append(stack, nil)
			}

		case il.OpLdLoc:
			stack = append(stack, locals[in.Operand.(int)])

		case il.OpStLoc:
			v := pop(&stack)
			locals[in.Operand.(int)] = v

		case il.OpLdConst:
			stack = append(stack, in.Operand)

		case il.OpLdFld:
			ref, _ := in.FieldRefOperand()
			recv := pop(&stack)
			key := keys.NewFieldKey(ref.OwnerFullName, ref.Name, ref.FieldType, false)
			stack = append(stack, vm.Fields.GetInstance(recv, key, zeroValue(ref.FieldType)))

		case il.OpStFld:
			ref, _ := in.FieldRefOperand()
			val := pop(&stack)
			recv := pop(&stack)
			key := keys.NewFieldKey(ref.OwnerFullName, ref.Name, ref.FieldType, false)
			vm.Fields.SetInstance(recv, key, val)

		case il.OpLdSFld:
			ref, _ := in.FieldRefOperand()
			key := keys.NewFieldKey(ref.OwnerFullName, ref.Name, ref.FieldType, true)
			stack = append(stack, vm.Fields.GetStatic(key, zeroValue(ref.FieldType)))

		case il.OpStSFld:
			ref, _ := in.FieldRefOperand()
			val := pop(&stack)
			key := keys.NewFieldKey(ref.OwnerFullName, ref.Name, ref.FieldType, true)
			vm.Fields.SetStatic(key, val)

		case il.OpLdFldA, il.OpLdSFldA:
			return nil, ErrFieldAddressUnexecutable

		case il.OpCall, il.OpCallVirt:
			ref, _ := in.MethodRefOperand()
			result, err := vm.dispatchOrCall(ref, &stack)
			if err != nil {
				return nil, err
			}
			if ref.ReturnType != "void" {
				stack = append(stack, result)
			}

		case il.OpRet:
			if len(stack) > 0 {
				return pop(&stack), nil
			}
			return nil, nil

		case il.OpPop:
			pop(&stack)

		case il.OpDup:
			v := stack[len(stack)-1]
			stack = append(stack, v)

		case il.OpBr, il.OpLeave:
			t, _ := in.BranchTarget()
			next = t

		case il.OpBrTrue:
			t, _ := in.BranchTarget()
			if truthy(pop(&stack)) {
				next = t
			}

		case il.OpBrFalse:
			t, _ := in.BranchTarget()
			if !truthy(pop(&stack)) {
				next = t
			}

		case il.OpSwitch:
			tbl, _ := in.BranchTable()
			idx, _ := pop(&stack).(int64)
			if int(idx) >= 0 && int(idx) < len(tbl) {
				next = tbl[idx]
			}

		case il.OpAdd, il.OpSub, il.OpMul, il.OpDiv, il.OpCeq, il.OpClt, il.OpCgt:
			b := pop(&stack)
			a := pop(&stack)
			stack = append(stack, binaryOp(in.Op, a, b))

		case il.OpBox, il.OpUnbox, il.OpCastClass:
			// values are already `any`; nothing to do

		case il.OpIsInst:
			stack = append(stack, true)

		case il.OpThrow:
			v := pop(&stack)
			return nil, fmt.Errorf("vm: thrown: %v", v)

		case il.OpNewObj:
			stack = append(stack, struct{}{})
		}

		pc = next
	}
	return nil, nil
}

func pop(stack *[]any) any {
	s := *stack
	if len(s) == 0 {
		return nil
	}
	v := s[len(s)-1]
	*stack = s[:len(s)-1]
	return v
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

func zeroValue(typeName string) any {
	switch typeName {
	case "int", "int32", "int64", "uint32":
		return int64(0)
	case "float", "float64":
		return float64(0)
	case "string":
		return ""
	case "bool":
		return false
	default:
		return nil
	}
}

func binaryOp(op il.Opcode, a, b any) any {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case il.OpAdd:
			return fromFloat(af + bf)
		case il.OpSub:
			return fromFloat(af - bf)
		case il.OpMul:
			return fromFloat(af * bf)
		case il.OpDiv:
			if bf == 0 {
				return int64(0)
			}
			return fromFloat(af / bf)
		case il.OpCeq:
			return af == bf
		case il.OpClt:
			return af < bf
		case il.OpCgt:
			return af > bf
		}
	}
	if op == il.OpAdd {
		return fmt.Sprintf("%v%v", a, b)
	}
	if op == il.OpCeq {
		return a == b
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

func fromFloat(f float64) any {
	if f == float64(int64(f)) {
		return int64(f)
	}
	return f
}

// dispatchOrCall handles the rewriter's two synthetic call targets and
// falls through to a recursive direct call otherwise.
func (vm *Interp) dispatchOrCall(ref il.MethodRef, stack *[]any) (any, error) {
	switch ref.OwnerFullName {
	case il.FieldStoreOwner:
		return vm.callFieldStore(ref, stack)
	case il.DispatcherOwner:
		return vm.callDispatcher(ref, stack)
	case "$builtin":
		return vm.callBuiltin(ref, stack)
	default:
		return vm.callDirect(ref, stack)
	}
}

func (vm *Interp) callFieldStore(ref il.MethodRef, stack *[]any) (any, error) {
	n := len(ref.ParamTypes)
	args := popN(stack, n)
	// A field key ends in ":<type>:<scope>"; an unset field reads as the
	// zero value of that type.
	zero := func(key string) any {
		parts := strings.Split(key, ":")
		if len(parts) < 2 {
			return nil
		}
		return zeroValue(parts[len(parts)-2])
	}
	switch ref.Name {
	case il.FieldStoreGetInstance:
		recv, key := args[0], args[1].(string)
		return vm.Fields.GetInstance(recv, keys.FieldKey(key), zero(key)), nil
	case il.FieldStoreSetInstance:
		recv, val, key := args[0], args[1], args[2].(string)
		vm.Fields.SetInstance(recv, keys.FieldKey(key), val)
		return nil, nil
	case il.FieldStoreGetStatic:
		key := args[0].(string)
		return vm.Fields.GetStatic(keys.FieldKey(key), zero(key)), nil
	case il.FieldStoreSetStatic:
		val, key := args[0], args[1].(string)
		vm.Fields.SetStatic(keys.FieldKey(key), val)
		return nil, nil
	}
	return nil, fmt.Errorf("vm: unknown field-store call %s", ref.Name)
}

func (vm *Interp) callDispatcher(ref il.MethodRef, stack *[]any) (any, error) {
	n := len(ref.ParamTypes)
	args := popN(stack, n)
	methodID, _ := args[n-1].(uint32)

	var receiver any
	var argv []any
	if ref.IsInstance {
		receiver = args[0]
		argv = args[1 : n-1]
	} else {
		argv = args[:n-1]
	}
	return vm.Dispatcher.Invoke(receiver, keys.MethodID(methodID), argv)
}

func (vm *Interp) callBuiltin(ref il.MethodRef, stack *[]any) (any, error) {
	n := len(ref.ParamTypes)
	args := popN(stack, n)
	if ref.Name == "print" {
		if len(args) > 0 {
			vm.print(fmt.Sprint(args[0]))
		}
		return nil, nil
	}
	return nil, fmt.Errorf("vm: unknown builtin %s", ref.Name)
}

// callDirect resolves ref against vm.Module by method key and interprets
// it recursively.
func (vm *Interp) callDirect(ref il.MethodRef, stack *[]any) (any, error) {
	key := keys.NewMethodKey(ref.OwnerFullName, ref.Name, ref.GenericArity, ref.ParamTypes, ref.ReturnType)
	target := findMethod(vm.Module, key)
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, key)
	}

	n := len(ref.ParamTypes)
	if ref.IsInstance {
		n++
	}
	args := popN(stack, n)

	var recv any
	var callArgs []any
	if ref.IsInstance {
		recv, callArgs = args[0], args[1:]
	} else {
		callArgs = args
	}
	return vm.Invoke(target, recv, callArgs)
}

func popN(stack *[]any, n int) []any {
	s := *stack
	if n > len(s) {
		n = len(s)
	}
	out := append([]any(nil), s[len(s)-n:]...)
	*stack = s[:len(s)-n]
	return out
}

func findMethod(mod *il.Module, key keys.MethodKey) *il.Method {
	for _, t := range mod.Types {
		for _, m := range t.Methods {
			if m.Key() == key {
				return m
			}
		}
	}
	return nil
}
