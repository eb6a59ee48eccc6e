package sourcelang

import "fmt"

// Parser builds a *File from a token stream. Grounded on the
// recursive-descent structure of cuelang.org/go/cue/parser: one token of
// lookahead, an `expect` helper that advances past an expected kind or
// returns a descriptive error.
type Parser struct {
	sc   *Scanner
	tok  Token
	peek *Token
	err  error
}

// NewParser creates a Parser over src.
func NewParser(src string) (*Parser, error) {
	p := &Parser{sc: NewScanner(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	if p.peek != nil {
		p.tok = *p.peek
		p.peek = nil
		return nil
	}
	t, err := p.sc.Scan()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *Parser) expect(k TokenKind) (Token, error) {
	if p.tok.Kind != k {
		return Token{}, fmt.Errorf("sourcelang: line %d: unexpected token %s", p.tok.Line, p.tok)
	}
	t := p.tok
	err := p.advance()
	return t, err
}

// ParseFile parses a complete source file into a *File.
func (p *Parser) ParseFile() (*File, error) {
	f := &File{}
	for p.tok.Kind != TokEOF {
		cls, err := p.parseClass()
		if err != nil {
			return nil, err
		}
		f.Classes = append(f.Classes, cls)
	}
	return f, nil
}

func (p *Parser) parseClass() (*ClassDecl, error) {
	if _, err := p.expect(TokClass); err != nil {
		return nil, err
	}
	name, err := p.expect(TokIdent)
	if err != nil {
		return nil, err
	}
	cls := &ClassDecl{Name: name.Text, Line: name.Line}
	if _, err := p.expect(TokLBrace); err != nil {
		return nil, err
	}
	for p.tok.Kind != TokRBrace {
		isStatic := false
		if p.tok.Kind == TokStatic {
			isStatic = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		typ, err := p.parseTypeName()
		if err != nil {
			return nil, err
		}
		nameTok, err := p.expect(TokIdent)
		if err != nil {
			return nil, err
		}
		if p.tok.Kind == TokLParen {
			// method
			m, err := p.parseMethodRest(typ, nameTok, isStatic)
			if err != nil {
				return nil, err
			}
			cls.Methods = append(cls.Methods, m)
			continue
		}
		if _, err := p.expect(TokSemi); err != nil {
			return nil, err
		}
		cls.Fields = append(cls.Fields, &FieldDecl{Type: typ, Name: nameTok.Text, IsStatic: isStatic, Line: nameTok.Line})
	}
	if _, err := p.expect(TokRBrace); err != nil {
		return nil, err
	}
	return cls, nil
}

func (p *Parser) parseTypeName() (string, error) {
	if p.tok.Kind == TokVoid {
		if err := p.advance(); err != nil {
			return "", err
		}
		return "void", nil
	}
	t, err := p.expect(TokIdent)
	if err != nil {
		return "", err
	}
	return t.Text, nil
}

func (p *Parser) parseMethodRest(retType string, name Token, isStatic bool) (*MethodDecl, error) {
	if _, err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	var params []ParamDecl
	for p.tok.Kind != TokRParen {
		pt, err := p.parseTypeName()
		if err != nil {
			return nil, err
		}
		pn, err := p.expect(TokIdent)
		if err != nil {
			return nil, err
		}
		params = append(params, ParamDecl{Type: pt, Name: pn.Text})
		if p.tok.Kind == TokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &MethodDecl{ReturnType: retType, Name: name.Text, Params: params, IsStatic: isStatic, Body: body, Line: name.Line}, nil
}

func (p *Parser) parseBlock() ([]Stmt, error) {
	if _, err := p.expect(TokLBrace); err != nil {
		return nil, err
	}
	var stmts []Stmt
	for p.tok.Kind != TokRBrace {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	if _, err := p.expect(TokRBrace); err != nil {
		return nil, err
	}
	return stmts, nil
}

// isTypeStart reports whether the current token could begin a local
// variable declaration (`Type name ...`), distinguishing it from an
// expression statement that happens to start with an identifier.
func (p *Parser) looksLikeVarDecl() bool {
	if p.tok.Kind != TokIdent && p.tok.Kind != TokVoid {
		return false
	}
	// one token of extra lookahead: Type Ident is a decl, anything else
	// (assignment, call, dot) is an expression statement.
	save := p.tok
	t, err := p.sc.Scan()
	p.peek = &t
	isDecl := err == nil && t.Kind == TokIdent
	p.tok = save
	return isDecl
}

func (p *Parser) parseStmt() (Stmt, error) {
	switch p.tok.Kind {
	case TokIf:
		return p.parseIf()
	case TokReturn:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.Kind == TokSemi {
			if err := p.advance(); err != nil {
				return nil, err
			}
			return ReturnStmt{}, nil
		}
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokSemi); err != nil {
			return nil, err
		}
		return ReturnStmt{X: x}, nil
	}

	if p.looksLikeVarDecl() {
		typ, err := p.parseTypeName()
		if err != nil {
			return nil, err
		}
		name, err := p.expect(TokIdent)
		if err != nil {
			return nil, err
		}
		var init Expr
		if p.tok.Kind == TokAssign {
			if err := p.advance(); err != nil {
				return nil, err
			}
			init, err = p.parseExpr()
			if err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(TokSemi); err != nil {
			return nil, err
		}
		return VarDeclStmt{Type: typ, Name: name.Text, Init: init}, nil
	}

	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind == TokAssign {
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokSemi); err != nil {
			return nil, err
		}
		return AssignStmt{Target: x, Value: v}, nil
	}
	if _, err := p.expect(TokSemi); err != nil {
		return nil, err
	}
	return ExprStmt{X: x}, nil
}

func (p *Parser) parseIf() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	var els []Stmt
	if p.tok.Kind == TokElse {
		if err := p.advance(); err != nil {
			return nil, err
		}
		els, err = p.parseBlock()
		if err != nil {
			return nil, err
		}
	}
	return IfStmt{Cond: cond, Then: then, Else: els}, nil
}

// Expression grammar (lowest to highest precedence):
//
//	expr      -> equality
//	equality  -> relational (('==' | '!=') relational)*
//	relational -> additive (('<' | '>' | '<=' | '>=') additive)*
//	additive  -> multiplicative (('+' | '-') multiplicative)*
//	multiplicative -> unary (('*' | '/') unary)*
//	unary     -> primary
//	primary   -> literal | 'this' | ident ('.' ident)? ('(' args ')')?

func (p *Parser) parseExpr() (Expr, error) { return p.parseEquality() }

func (p *Parser) parseEquality() (Expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == TokEq || p.tok.Kind == TokNeq {
		op := p.tok.Kind
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseRelational() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == TokLt || p.tok.Kind == TokGt || p.tok.Kind == TokLe || p.tok.Kind == TokGe {
		op := p.tok.Kind
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == TokPlus || p.tok.Kind == TokMinus {
		op := p.tok.Kind
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == TokStar || p.tok.Kind == TokSlash {
		op := p.tok.Kind
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch p.tok.Kind {
	case TokInt:
		v := p.tok.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return IntLit{Value: parseInt(v)}, nil
	case TokFloat:
		v := p.tok.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return FloatLit{Value: parseFloat(v)}, nil
	case TokString:
		v := p.tok.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return StringLit{Value: v}, nil
	case TokTrue, TokFalse:
		v := p.tok.Kind == TokTrue
		if err := p.advance(); err != nil {
			return nil, err
		}
		return BoolLit{Value: v}, nil
	case TokThis:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.parsePostfix(ThisExpr{})
	case TokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		return x, nil
	case TokIdent:
		name := p.tok.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.Kind == TokLParen {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return p.parsePostfix(CallExpr{Name: name, Args: args})
		}
		return p.parsePostfix(Ident{Name: name})
	}
	return nil, fmt.Errorf("sourcelang: line %d: unexpected token %s in expression", p.tok.Line, p.tok)
}

// parsePostfix handles chained `.name` / `.name(args)` suffixes.
func (p *Parser) parsePostfix(recv Expr) (Expr, error) {
	for p.tok.Kind == TokDot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expect(TokIdent)
		if err != nil {
			return nil, err
		}
		if p.tok.Kind == TokLParen {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			recv = CallExpr{Recv: recv, Name: name.Text, Args: args}
			continue
		}
		recv = FieldAccess{Recv: recv, Name: name.Text}
	}
	return recv, nil
}

func (p *Parser) parseArgs() ([]Expr, error) {
	if _, err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	var args []Expr
	for p.tok.Kind != TokRParen {
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, x)
		if p.tok.Kind == TokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	return args, nil
}

func parseInt(s string) int64 {
	var v int64
	for _, c := range s {
		v = v*10 + int64(c-'0')
	}
	return v
}

func parseFloat(s string) float64 {
	var intPart, fracPart int64
	var fracDigits int
	seenDot := false
	for _, c := range s {
		if c == '.' {
			seenDot = true
			continue
		}
		d := int64(c - '0')
		if seenDot {
			fracPart = fracPart*10 + d
			fracDigits++
		} else {
			intPart = intPart*10 + d
		}
	}
	f := float64(intPart)
	if fracDigits > 0 {
		div := 1.0
		for i := 0; i < fracDigits; i++ {
			div *= 10
		}
		f += float64(fracPart) / div
	}
	return f
}
