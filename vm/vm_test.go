package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/hotpatch/dispatcher"
	"github.com/GoCodeAlone/hotpatch/fieldstore"
	"github.com/GoCodeAlone/hotpatch/il"
	"github.com/GoCodeAlone/hotpatch/keys"
)

func newInterp() *Interp {
	return &Interp{
		Dispatcher: dispatcher.New(nil),
		Fields:     fieldstore.New(),
	}
}

func TestInvokeReturnsConstant(t *testing.T) {
	m := &il.Method{Body: &il.MethodBody{Instructions: []il.Instruction{
		{Op: il.OpLdConst, Kind: il.OperandConst, Operand: int64(42)},
		{Op: il.OpRet},
	}}}
	v, err := newInterp().Invoke(m, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(42), v)
}

func TestInvokeArithmetic(t *testing.T) {
	m := &il.Method{Body: &il.MethodBody{Instructions: []il.Instruction{
		{Op: il.OpLdConst, Kind: il.OperandConst, Operand: int64(2)},
		{Op: il.OpLdConst, Kind: il.OperandConst, Operand: int64(3)},
		{Op: il.OpAdd},
		{Op: il.OpRet},
	}}}
	v, err := newInterp().Invoke(m, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(5), v)
}

func TestInvokeBranchTrue(t *testing.T) {
	m := &il.Method{Body: &il.MethodBody{Instructions: []il.Instruction{
		{Op: il.OpLdConst, Kind: il.OperandConst, Operand: true},
		{Op: il.OpBrTrue, Kind: il.OperandBranchTarget, Operand: 3},
		{Op: il.OpLdConst, Kind: il.OperandConst, Operand: "unreached"},
		{Op: il.OpLdConst, Kind: il.OperandConst, Operand: "reached"},
		{Op: il.OpRet},
	}}}
	v, err := newInterp().Invoke(m, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "reached", v)
}

func TestInvokeFieldStoreGetSetRoundTrip(t *testing.T) {
	interp := newInterp()
	key := keys.NewFieldKey("C", "counter", "System.Int32", false)

	setM := &il.Method{Body: &il.MethodBody{Instructions: []il.Instruction{
		{Op: il.OpLdThis},
		{Op: il.OpLdConst, Kind: il.OperandConst, Operand: int64(7)},
		{Op: il.OpStFld, Kind: il.OperandFieldRef, Operand: il.FieldRef{OwnerFullName: "C", Name: "counter", FieldType: "System.Int32"}},
		{Op: il.OpRet},
	}}}
	receiver := &struct{}{}
	_, err := interp.Invoke(setM, receiver, nil)
	require.NoError(t, err)

	require.Equal(t, int64(7), interp.Fields.GetInstance(receiver, key, int64(0)))
}

func TestDispatchOrCallRoutesToDispatcher(t *testing.T) {
	interp := newInterp()
	id := keys.MethodID(55)
	var gotArgs []any
	interp.Dispatcher.Register(id, func(instance any, argv []any) (any, error) {
		gotArgs = argv
		return "dispatched", nil
	})

	m := &il.Method{Body: &il.MethodBody{Instructions: []il.Instruction{
		{Op: il.OpLdThis},
		{Op: il.OpLdConst, Kind: il.OperandConst, Operand: int64(9)},
		{Op: il.OpLdConst, Kind: il.OperandConst, Operand: uint32(id)},
		{Op: il.OpCall, Kind: il.OperandMethodRef, Operand: il.MethodRef{
			OwnerFullName: il.DispatcherOwner, Name: il.DispatcherInvoke,
			ParamTypes: []string{"object", "object", "uint32"}, ReturnType: "object", IsInstance: true,
		}},
		{Op: il.OpRet},
	}}}

	v, err := interp.Invoke(m, &struct{}{}, nil)
	require.NoError(t, err)
	require.Equal(t, "dispatched", v)
	require.Equal(t, []any{int64(9)}, gotArgs)
}

func TestCallBuiltinPrint(t *testing.T) {
	interp := newInterp()
	var printed string
	interp.Print = func(s string) { printed = s }

	m := &il.Method{Body: &il.MethodBody{Instructions: []il.Instruction{
		{Op: il.OpLdConst, Kind: il.OperandConst, Operand: "hi"},
		{Op: il.OpCall, Kind: il.OperandMethodRef, Operand: il.MethodRef{
			OwnerFullName: "$builtin", Name: "print", ParamTypes: []string{"object"}, ReturnType: "void",
		}},
		{Op: il.OpRet},
	}}}
	_, err := interp.Invoke(m, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "hi", printed)
}

func TestInvokeFieldAddressIsUnexecutable(t *testing.T) {
	m := &il.Method{Body: &il.MethodBody{Instructions: []il.Instruction{
		{Op: il.OpLdFldA, Kind: il.OperandFieldRef, Operand: il.FieldRef{OwnerFullName: "C", Name: "counter", FieldType: "System.Int32"}},
	}}}
	_, err := newInterp().Invoke(m, nil, nil)
	require.ErrorIs(t, err, ErrFieldAddressUnexecutable)
}

func TestCallDirectResolvesByMethodKey(t *testing.T) {
	owner := &il.Type{FullName: "C"}
	callee := &il.Method{Owner: owner, Name: "Hello", ReturnType: "object", Body: &il.MethodBody{
		Instructions: []il.Instruction{
			{Op: il.OpLdConst, Kind: il.OperandConst, Operand: "h"},
			{Op: il.OpRet},
		},
	}}
	owner.Methods = []*il.Method{callee}
	mod := &il.Module{Types: []*il.Type{owner}}

	caller := &il.Method{Owner: owner, Body: &il.MethodBody{Instructions: []il.Instruction{
		{Op: il.OpCall, Kind: il.OperandMethodRef, Operand: il.MethodRef{
			OwnerFullName: "C", Name: "Hello", ReturnType: "object",
		}},
		{Op: il.OpRet},
	}}}

	interp := newInterp()
	interp.Module = mod
	v, err := interp.Invoke(caller, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "h", v)
}
