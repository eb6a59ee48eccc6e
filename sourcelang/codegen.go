package sourcelang

import (
	"fmt"

	"github.com/GoCodeAlone/hotpatch/il"
)

// BuiltinOwner is the synthetic owner type name codegen assigns to
// builtin free functions (currently just `print`), so the rewriter and
// inspector see an ordinary (foreign-linked) method reference rather
// than a special case.
const BuiltinOwner = "$builtin"

// Compile parses src and lowers it directly to an *il.Module. It is the
// default compiler.Frontend implementation.
func Compile(src, moduleName string) (*il.Module, error) {
	p, err := NewParser(src)
	if err != nil {
		return nil, err
	}
	file, err := p.ParseFile()
	if err != nil {
		return nil, err
	}
	return lower(file, moduleName)
}

func lower(file *File, moduleName string) (*il.Module, error) {
	mod := &il.Module{Name: moduleName}
	types := make(map[string]*il.Type, len(file.Classes))
	for _, c := range file.Classes {
		t := &il.Type{FullName: c.Name}
		mod.Types = append(mod.Types, t)
		types[c.Name] = t
	}
	for _, c := range file.Classes {
		t := types[c.Name]
		for _, f := range c.Fields {
			t.Fields = append(t.Fields, &il.Field{Owner: t, Name: f.Name, Type: f.Type, IsStatic: f.IsStatic})
		}
	}
	// Pre-declare method signatures (no bodies yet) so call sites within
	// any method of the same class — including ones declared textually
	// after the call — can resolve their exact parameter/return types.
	declDecl := map[*il.Method]*MethodDecl{}
	for _, c := range file.Classes {
		t := types[c.Name]
		for _, m := range c.Methods {
			method := &il.Method{Owner: t, Name: m.Name, IsStatic: m.IsStatic, ReturnType: m.ReturnType}
			for _, p := range m.Params {
				method.Params = append(method.Params, il.Param{Name: p.Name, Type: p.Type})
			}
			t.Methods = append(t.Methods, method)
			declDecl[method] = m
		}
	}
	for _, t := range mod.Types {
		for _, method := range t.Methods {
			if err := lowerMethodBody(method, declDecl[method], types); err != nil {
				return nil, fmt.Errorf("sourcelang: class %s method %s: %w", t.FullName, method.Name, err)
			}
		}
	}
	return mod, nil
}

type genCtx struct {
	owner   *il.Type
	types   map[string]*il.Type
	locals  []il.LocalVar
	localIx map[string]int
	params  map[string]int
	instrs  []il.Instruction
	isStat  bool
}

func (g *genCtx) emit(i il.Instruction) int {
	g.instrs = append(g.instrs, i)
	return len(g.instrs) - 1
}

func lowerMethodBody(method *il.Method, m *MethodDecl, types map[string]*il.Type) error {
	g := &genCtx{
		owner:   method.Owner,
		types:   types,
		localIx: map[string]int{},
		params:  map[string]int{},
		isStat:  m.IsStatic,
	}
	for i, p := range m.Params {
		g.params[p.Name] = i
	}
	for _, s := range m.Body {
		if err := g.genStmt(s); err != nil {
			return err
		}
	}
	// implicit trailing return for void methods that fall off the end.
	if len(g.instrs) == 0 || g.instrs[len(g.instrs)-1].Op != il.OpRet {
		g.emit(il.Instruction{Op: il.OpRet})
	}
	method.Body = &il.MethodBody{
		Locals:       g.locals,
		Instructions: g.instrs,
		MaxStack:     8,
		InitLocals:   true,
	}
	return nil
}

func (g *genCtx) declLocal(name, typ string) int {
	idx := len(g.locals)
	g.locals = append(g.locals, il.LocalVar{Type: typ})
	g.localIx[name] = idx
	return idx
}

func (g *genCtx) genStmt(s Stmt) error {
	switch n := s.(type) {
	case ExprStmt:
		if err := g.genExpr(n.X); err != nil {
			return err
		}
		g.emit(il.Instruction{Op: il.OpPop})
		return nil
	case VarDeclStmt:
		idx := g.declLocal(n.Name, n.Type)
		if n.Init != nil {
			if err := g.genExpr(n.Init); err != nil {
				return err
			}
			g.emit(il.Instruction{Op: il.OpStLoc, Kind: il.OperandLocal, Operand: idx})
		}
		return nil
	case AssignStmt:
		return g.genAssign(n)
	case IfStmt:
		return g.genIf(n)
	case ReturnStmt:
		if n.X != nil {
			if err := g.genExpr(n.X); err != nil {
				return err
			}
		}
		g.emit(il.Instruction{Op: il.OpRet})
		return nil
	default:
		return fmt.Errorf("sourcelang: unsupported statement %T", s)
	}
}

func (g *genCtx) genAssign(n AssignStmt) error {
	switch target := n.Target.(type) {
	case Ident:
		if idx, ok := g.localIx[target.Name]; ok {
			if err := g.genExpr(n.Value); err != nil {
				return err
			}
			g.emit(il.Instruction{Op: il.OpStLoc, Kind: il.OperandLocal, Operand: idx})
			return nil
		}
		if fld := g.resolveField(nil, target.Name); fld != nil {
			return g.genFieldStore(fld, n.Value)
		}
		return fmt.Errorf("sourcelang: assignment to unknown identifier %q", target.Name)
	case FieldAccess:
		fld := g.resolveField(target.Recv, target.Name)
		if fld == nil {
			return fmt.Errorf("sourcelang: assignment to unknown field %q", target.Name)
		}
		return g.genFieldStore(fld, n.Value)
	default:
		return fmt.Errorf("sourcelang: invalid assignment target %T", n.Target)
	}
}

func (g *genCtx) genFieldStore(fld *il.Field, value Expr) error {
	if !fld.IsStatic {
		g.emit(il.Instruction{Op: il.OpLdThis})
	}
	if err := g.genExpr(value); err != nil {
		return err
	}
	op := il.OpStFld
	if fld.IsStatic {
		op = il.OpStSFld
	}
	ref := il.FieldRef{OwnerFullName: fld.Owner.FullName, Name: fld.Name, FieldType: fld.Type, IsStatic: fld.IsStatic}
	g.emit(il.Instruction{Op: op, Kind: il.OperandFieldRef, Operand: ref})
	return nil
}

func (g *genCtx) genIf(n IfStmt) error {
	if err := g.genExpr(n.Cond); err != nil {
		return err
	}
	brFalseIx := g.emit(il.Instruction{Op: il.OpBrFalse, Kind: il.OperandBranchTarget, Operand: -1})
	for _, s := range n.Then {
		if err := g.genStmt(s); err != nil {
			return err
		}
	}
	if n.Else == nil {
		g.instrs[brFalseIx].Operand = len(g.instrs)
		return nil
	}
	brEndIx := g.emit(il.Instruction{Op: il.OpBr, Kind: il.OperandBranchTarget, Operand: -1})
	g.instrs[brFalseIx].Operand = len(g.instrs)
	for _, s := range n.Else {
		if err := g.genStmt(s); err != nil {
			return err
		}
	}
	g.instrs[brEndIx].Operand = len(g.instrs)
	return nil
}

// resolveField looks up a field by name on recv's static type (nil recv
// means "this" or, for a static method, the enclosing type).
func (g *genCtx) resolveField(recv Expr, name string) *il.Field {
	owner := g.owner
	if recv != nil {
		if _, ok := recv.(ThisExpr); !ok {
			return nil // only `this.x` / bare `x` supported; no cross-object field access in this toy language
		}
	}
	for _, f := range owner.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (g *genCtx) genExpr(e Expr) error {
	switch n := e.(type) {
	case IntLit:
		g.emit(il.Instruction{Op: il.OpLdConst, Kind: il.OperandConst, Operand: n.Value})
		return nil
	case FloatLit:
		g.emit(il.Instruction{Op: il.OpLdConst, Kind: il.OperandConst, Operand: n.Value})
		return nil
	case StringLit:
		g.emit(il.Instruction{Op: il.OpLdConst, Kind: il.OperandConst, Operand: n.Value})
		return nil
	case BoolLit:
		g.emit(il.Instruction{Op: il.OpLdConst, Kind: il.OperandConst, Operand: n.Value})
		return nil
	case ThisExpr:
		g.emit(il.Instruction{Op: il.OpLdThis})
		return nil
	case Ident:
		if idx, ok := g.localIx[n.Name]; ok {
			g.emit(il.Instruction{Op: il.OpLdLoc, Kind: il.OperandLocal, Operand: idx})
			return nil
		}
		if idx, ok := g.params[n.Name]; ok {
			g.emit(il.Instruction{Op: il.OpLdArg, Kind: il.OperandParam, Operand: idx})
			return nil
		}
		if fld := g.resolveField(nil, n.Name); fld != nil {
			return g.genFieldLoad(fld)
		}
		return fmt.Errorf("sourcelang: unknown identifier %q", n.Name)
	case FieldAccess:
		fld := g.resolveField(n.Recv, n.Name)
		if fld == nil {
			return fmt.Errorf("sourcelang: unknown field %q", n.Name)
		}
		return g.genFieldLoad(fld)
	case CallExpr:
		return g.genCall(n)
	case BinaryExpr:
		if err := g.genExpr(n.Left); err != nil {
			return err
		}
		if err := g.genExpr(n.Right); err != nil {
			return err
		}
		g.emit(il.Instruction{Op: binOp(n.Op)})
		return nil
	default:
		return fmt.Errorf("sourcelang: unsupported expression %T", e)
	}
}

func (g *genCtx) genFieldLoad(fld *il.Field) error {
	if !fld.IsStatic {
		g.emit(il.Instruction{Op: il.OpLdThis})
	}
	op := il.OpLdFld
	if fld.IsStatic {
		op = il.OpLdSFld
	}
	ref := il.FieldRef{OwnerFullName: fld.Owner.FullName, Name: fld.Name, FieldType: fld.Type, IsStatic: fld.IsStatic}
	g.emit(il.Instruction{Op: op, Kind: il.OperandFieldRef, Operand: ref})
	return nil
}

func (g *genCtx) genCall(n CallExpr) error {
	if n.Recv == nil && n.Name == "print" {
		for _, a := range n.Args {
			if err := g.genExpr(a); err != nil {
				return err
			}
		}
		ref := il.MethodRef{OwnerFullName: BuiltinOwner, Name: "print", ParamTypes: repeatString("object", len(n.Args)), ReturnType: "void"}
		g.emit(il.Instruction{Op: il.OpCall, Kind: il.OperandMethodRef, Operand: ref})
		return nil
	}

	if n.Recv != nil {
		if _, ok := n.Recv.(ThisExpr); !ok {
			return fmt.Errorf("sourcelang: calls are only supported on `this` or unqualified (got qualified receiver)")
		}
	}

	target := g.resolveMethod(n.Name, len(n.Args))
	if target == nil {
		return fmt.Errorf("sourcelang: call to unknown method %q(%d args) on %s", n.Name, len(n.Args), g.owner.FullName)
	}

	if !target.IsStatic {
		g.emit(il.Instruction{Op: il.OpLdThis})
	}
	for i, a := range n.Args {
		if err := g.genExpr(a); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	paramTypes := make([]string, len(target.Params))
	for i, p := range target.Params {
		paramTypes[i] = p.Type
	}
	ref := il.MethodRef{
		OwnerFullName: target.Owner.FullName,
		Name:          target.Name,
		ParamTypes:    paramTypes,
		ReturnType:    target.ReturnType,
		IsInstance:    !target.IsStatic,
	}
	g.emit(il.Instruction{Op: il.OpCallVirt, Kind: il.OperandMethodRef, Operand: ref})
	return nil
}

// resolveMethod finds a same-class method declaration by name and arity.
// The toy language does not support overload resolution by argument type.
func (g *genCtx) resolveMethod(name string, arity int) *il.Method {
	for _, m := range g.owner.Methods {
		if m.Name == name && len(m.Params) == arity {
			return m
		}
	}
	return nil
}

func repeatString(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func binOp(t TokenKind) il.Opcode {
	switch t {
	case TokPlus:
		return il.OpAdd
	case TokMinus:
		return il.OpSub
	case TokStar:
		return il.OpMul
	case TokSlash:
		return il.OpDiv
	case TokEq:
		return il.OpCeq
	case TokLt:
		return il.OpClt
	case TokGt:
		return il.OpCgt
	default:
		return il.OpNop
	}
}
