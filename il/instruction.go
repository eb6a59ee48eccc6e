package il

// Opcode is a single instruction's operation.
type Opcode int

const (
	OpNop Opcode = iota
	OpLdThis
	OpLdArg
	OpLdLoc
	OpStLoc
	OpLdFld
	OpStFld
	OpLdFldA  // field address load, only supported when the field exists in the runtime
	OpLdSFld
	OpStSFld
	OpLdSFldA
	OpLdConst
	OpCall
	OpCallVirt
	OpNewObj
	OpRet
	OpPop
	OpDup
	OpBr
	OpBrTrue
	OpBrFalse
	OpSwitch
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpCeq
	OpClt
	OpCgt
	OpBox
	OpUnbox
	OpCastClass
	OpIsInst
	OpThrow
	OpLeave
	OpEndFinally
)

// OperandKind classifies an instruction's Operand field. The rewriter's
// "operand support gate" rejects any method whose body uses an operand
// kind outside this fixed set.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandBranchTarget
	OperandBranchTable
	OperandLocal
	OperandParam
	OperandMethodRef
	OperandFieldRef
	OperandTypeRef
	OperandConst
)

// MethodRef names a method by the same coordinates used to build a
// keys.MethodKey, so the rewriter and inspector can resolve it against
// either module without needing a live *Method pointer.
type MethodRef struct {
	OwnerFullName string
	Name          string
	GenericArity  int
	ParamTypes    []string
	ReturnType    string
	IsInstance    bool
}

// FieldRef names a field the same way.
type FieldRef struct {
	OwnerFullName string
	Name          string
	FieldType     string
	IsStatic      bool
}

// Instruction is one step of a method body. Operand's concrete type is
// determined by Kind:
//
//	OperandBranchTarget -> int (instruction index)
//	OperandBranchTable  -> []int (instruction indices)
//	OperandLocal        -> int (local slot index)
//	OperandParam        -> int (parameter index, receiver-offset already applied)
//	OperandMethodRef    -> MethodRef
//	OperandFieldRef     -> FieldRef
//	OperandTypeRef      -> string (normalized type full name)
//	OperandConst        -> any (numeric or string literal)
type Instruction struct {
	Op      Opcode
	Kind    OperandKind
	Operand any
}

// BranchTarget returns the branch target operand, if any.
func (i Instruction) BranchTarget() (int, bool) {
	if i.Kind != OperandBranchTarget {
		return 0, false
	}
	t, ok := i.Operand.(int)
	return t, ok
}

// BranchTable returns the switch-table operand, if any.
func (i Instruction) BranchTable() ([]int, bool) {
	if i.Kind != OperandBranchTable {
		return nil, false
	}
	t, ok := i.Operand.([]int)
	return t, ok
}

// MethodRefOperand returns the method-reference operand, if any.
func (i Instruction) MethodRefOperand() (MethodRef, bool) {
	if i.Kind != OperandMethodRef {
		return MethodRef{}, false
	}
	r, ok := i.Operand.(MethodRef)
	return r, ok
}

// FieldRefOperand returns the field-reference operand, if any.
func (i Instruction) FieldRefOperand() (FieldRef, bool) {
	if i.Kind != OperandFieldRef {
		return FieldRef{}, false
	}
	r, ok := i.Operand.(FieldRef)
	return r, ok
}

// IsFieldAccess reports whether the opcode reads or writes a field value
// (not its address).
func (op Opcode) IsFieldAccess() bool {
	switch op {
	case OpLdFld, OpStFld, OpLdSFld, OpStSFld:
		return true
	default:
		return false
	}
}

// IsFieldAddress reports whether the opcode loads a field's address.
func (op Opcode) IsFieldAddress() bool {
	return op == OpLdFldA || op == OpLdSFldA
}

// IsStaticFieldOp reports whether the opcode targets a static field.
func (op Opcode) IsStaticFieldOp() bool {
	switch op {
	case OpLdSFld, OpStSFld, OpLdSFldA:
		return true
	default:
		return false
	}
}

// IsStore reports whether the opcode writes rather than reads.
func (op Opcode) IsStore() bool {
	switch op {
	case OpStFld, OpStSFld, OpStLoc:
		return true
	default:
		return false
	}
}

// IsCall reports whether the opcode is a method call.
func (op Opcode) IsCall() bool {
	return op == OpCall || op == OpCallVirt
}

// IsBranch reports whether the opcode carries a branch-target or
// branch-table operand that must be remapped when a body is cloned.
func (op Opcode) IsBranch() bool {
	switch op {
	case OpBr, OpBrTrue, OpBrFalse, OpSwitch, OpLeave:
		return true
	default:
		return false
	}
}

// FieldStoreOwner and DispatcherOwner name the two synthetic call targets
// the rewriter lowers missing-field access and dispatch-key calls to.
// Nothing in the runtime module declares a type with these names; they
// are recognized by the interpreter (package vm) as protocol calls rather
// than resolved against any module's type list, the same way BuiltinOwner
// is recognized by sourcelang-compiled code for print().
const (
	FieldStoreOwner = "$fieldstore"
	DispatcherOwner = "$dispatcher"
)

// Field-store accessor names used by rewriter-lowered field access.
const (
	FieldStoreGetInstance = "GetInstance"
	FieldStoreSetInstance = "SetInstance"
	FieldStoreGetStatic   = "GetStatic"
	FieldStoreSetStatic   = "SetStatic"
)

// DispatcherInvoke is the method name the rewriter lowers a dispatch-key
// call to on DispatcherOwner.
const DispatcherInvoke = "Invoke"
