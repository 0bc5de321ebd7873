package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser consumes the flat token slice produced by the Lexer and builds an AST.
//
// Grammar:
//
//	program     = (enumDecl | globalDecl | funcDef)* EOF
//	enumDecl    = "enum" IDENTIFIER? "{" variant ("," variant)* "}" ";"
//	variant     = IDENTIFIER ("=" "-"? INTEGER)?
//	globalDecl  = type declarator ("," declarator)* ";"
//	funcDef     = type "*"* IDENTIFIER "(" params? ")" "{" localDecl* statement* "}"
//	params      = type "*"* IDENTIFIER ("," type "*"* IDENTIFIER)*
//	localDecl   = type declarator ("," declarator)* ";"
//	declarator  = "*"* IDENTIFIER
//	statement   = ifStmt | whileStmt | returnStmt | block | ";" | expression ";"
//	expression  = assignment
//	assignment  = logical_or ("=" assignment)?
//	logical_or  = logical_and ("||" logical_and)*
//	logical_and = conditional ("&&" conditional)*
//	conditional = bitwise_or ("?" expression ":" conditional)?
//	bitwise_or  = bitwise_xor ("|" bitwise_xor)*
//	bitwise_xor = bitwise_and ("^" bitwise_and)*
//	bitwise_and = equality ("&" equality)*
//	equality    = relational (("==" | "!=") relational)*
//	relational  = shift (("<" | ">" | "<=" | ">=") shift)*
//	shift       = additive (("<<" | ">>") additive)*
//	additive    = multiplicative (("+" | "-") multiplicative)*
//	multiplicative = unary (("*" | "/" | "%") unary)*
//	unary       = ("-" | "!" | "~" | "*" | "&" | "++" | "--") unary
//	            | "(" type "*"* ")" unary
//	            | "sizeof" "(" type "*"* ")"
//	            | postfix
//	postfix     = primary ("(" args ")" | "[" expression "]" | "++" | "--")*
//	primary     = INTEGER | STRING | IDENTIFIER | "(" expression ")"
//
// Locals must precede statements inside a function body; nested blocks
// hold statements only.
type Parser struct {
	tokens      []Token
	pos         int
	sourceLines []string
}

func NewParser(tokens []Token, rawSource string) *Parser {
	return &Parser{tokens: tokens, sourceLines: strings.Split(rawSource, "\n")}
}

// Parse builds the whole Program. The first error aborts the parse.
func (p *Parser) Parse() (*Program, error) {
	prog := &Program{}
	for p.peek().Type != EOF {
		item, err := p.parseItem()
		if err != nil {
			return nil, err
		}
		prog.Items = append(prog.Items, item...)
	}
	return prog, nil
}

// fmtError wraps an error message with the source line where the token appears.
func (p *Parser) fmtError(tok Token, format string, args ...any) error {
	snippet := ""
	lineIdx := tok.Line - 1
	if lineIdx >= 0 && lineIdx < len(p.sourceLines) {
		snippet = strings.TrimSpace(p.sourceLines[lineIdx])
	}
	return &ParseError{
		Line:    tok.Line,
		Col:     tok.Col,
		Msg:     fmt.Sprintf(format, args...),
		Snippet: snippet,
	}
}

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos]
}

// peekNext returns the token immediately after the current one.
func (p *Parser) peekNext() Token {
	if p.pos+1 >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos+1]
}

// advance consumes and returns the current token.
func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// expect consumes the current token if it matches tt, otherwise returns an error.
func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.advance()
	if tok.Type != tt {
		return tok, p.fmtError(tok, "expected %s, got %s (%q)", tt, tok.Type, tok.Lexeme)
	}
	return tok, nil
}

func isTypeToken(tt TokenType) bool {
	return tt == VOID || tt == INT || tt == CHAR
}

func baseKind(tt TokenType) BaseKind {
	switch tt {
	case INT:
		return Int
	case CHAR:
		return Char
	default:
		return Void
	}
}

//  Top-level items

func (p *Parser) parseItem() ([]Item, error) {
	tok := p.peek()
	if tok.Type == ENUM {
		e, err := p.parseEnumDecl()
		if err != nil {
			return nil, err
		}
		return []Item{e}, nil
	}
	if !isTypeToken(tok.Type) {
		return nil, p.fmtError(tok, "expected a declaration, got %s (%q)", tok.Type, tok.Lexeme)
	}
	base := baseKind(p.advance().Type)

	ty := Type{Base: base}
	for p.peek().Type == STAR {
		p.advance()
		ty.Ptr++
	}
	name, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}

	if p.peek().Type == LPAREN {
		fn, err := p.parseFuncDef(ty, name)
		if err != nil {
			return nil, err
		}
		return []Item{fn}, nil
	}
	return p.parseGlobalDecl(base, ty, name)
}

// parseGlobalDecl finishes a global declaration after the first
// declarator's name has been consumed. Each declarator after a comma
// carries its own stars.
func (p *Parser) parseGlobalDecl(base BaseKind, first Type, firstName Token) ([]Item, error) {
	if err := p.checkStorable(first, firstName); err != nil {
		return nil, err
	}
	items := []Item{&GlobalDecl{Name: firstName.Lexeme, Type: first, Line: firstName.Line}}
	for p.peek().Type == COMMA {
		p.advance()
		ty := Type{Base: base}
		for p.peek().Type == STAR {
			p.advance()
			ty.Ptr++
		}
		name, err := p.expect(IDENTIFIER)
		if err != nil {
			return nil, err
		}
		if err := p.checkStorable(ty, name); err != nil {
			return nil, err
		}
		items = append(items, &GlobalDecl{Name: name.Lexeme, Type: ty, Line: name.Line})
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return items, nil
}

// checkStorable rejects variables of plain void type.
func (p *Parser) checkStorable(ty Type, name Token) error {
	if ty.Base == Void && ty.Ptr == 0 {
		return p.fmtError(name, "variable %q declared void", name.Lexeme)
	}
	return nil
}

func (p *Parser) parseEnumDecl() (*EnumDecl, error) {
	kw := p.advance() // enum
	if p.peek().Type == IDENTIFIER {
		p.advance() // optional tag, carries no meaning here
	}
	if _, err := p.expect(LBRACE); err != nil {
		return nil, err
	}
	decl := &EnumDecl{Line: kw.Line}
	for {
		name, err := p.expect(IDENTIFIER)
		if err != nil {
			return nil, err
		}
		v := EnumVariant{Name: name.Lexeme, Line: name.Line}
		if p.peek().Type == ASSIGN {
			p.advance()
			neg := false
			if p.peek().Type == MINUS {
				p.advance()
				neg = true
			}
			lit, err := p.expect(INTEGER)
			if err != nil {
				return nil, err
			}
			val, err := strconv.ParseInt(lit.Lexeme, 10, 64)
			if err != nil {
				return nil, p.fmtError(lit, "integer literal %q out of range", lit.Lexeme)
			}
			if neg {
				val = -val
			}
			v.Value = val
			v.HasValue = true
		}
		decl.Variants = append(decl.Variants, v)
		if p.peek().Type != COMMA {
			break
		}
		p.advance()
		if p.peek().Type == RBRACE {
			break // trailing comma
		}
	}
	if _, err := p.expect(RBRACE); err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return decl, nil
}

func (p *Parser) parseFuncDef(ret Type, name Token) (*FuncDef, error) {
	fn := &FuncDef{Ret: ret, Name: name.Lexeme, Line: name.Line}
	p.advance() // (
	if p.peek().Type != RPAREN {
		for {
			tok := p.peek()
			if tok.Type == VOID && p.peekNext().Type == RPAREN {
				p.advance() // f(void) means no parameters
				break
			}
			if !isTypeToken(tok.Type) {
				return nil, p.fmtError(tok, "expected parameter type, got %s (%q)", tok.Type, tok.Lexeme)
			}
			ty := Type{Base: baseKind(p.advance().Type)}
			for p.peek().Type == STAR {
				p.advance()
				ty.Ptr++
			}
			pname, err := p.expect(IDENTIFIER)
			if err != nil {
				return nil, err
			}
			if err := p.checkStorable(ty, pname); err != nil {
				return nil, err
			}
			fn.Params = append(fn.Params, Param{Name: pname.Lexeme, Type: ty, Line: pname.Line})
			if p.peek().Type != COMMA {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	if _, err := p.expect(LBRACE); err != nil {
		return nil, err
	}

	// Locals come first, greedily, then statements only.
	for isTypeToken(p.peek().Type) {
		locals, err := p.parseLocalDecl()
		if err != nil {
			return nil, err
		}
		fn.Locals = append(fn.Locals, locals...)
	}
	body := &Block{}
	for p.peek().Type != RBRACE && p.peek().Type != EOF {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body.Stmts = append(body.Stmts, stmt)
	}
	if _, err := p.expect(RBRACE); err != nil {
		return nil, err
	}
	fn.Body = body
	return fn, nil
}

func (p *Parser) parseLocalDecl() ([]Local, error) {
	base := baseKind(p.advance().Type)
	var locals []Local
	for {
		ty := Type{Base: base}
		for p.peek().Type == STAR {
			p.advance()
			ty.Ptr++
		}
		name, err := p.expect(IDENTIFIER)
		if err != nil {
			return nil, err
		}
		if err := p.checkStorable(ty, name); err != nil {
			return nil, err
		}
		locals = append(locals, Local{Name: name.Lexeme, Type: ty, Line: name.Line})
		if p.peek().Type != COMMA {
			break
		}
		p.advance()
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return locals, nil
}

//  Statements

func (p *Parser) parseStatement() (Stmt, error) {
	tok := p.peek()
	switch tok.Type {
	case IF:
		return p.parseIf()
	case WHILE:
		return p.parseWhile()
	case RETURN:
		return p.parseReturn()
	case LBRACE:
		return p.parseBlock()
	case SEMICOLON:
		p.advance()
		return &Empty{}, nil
	case VOID, INT, CHAR:
		return nil, p.fmtError(tok, "declarations must precede statements")
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return &ExprStmt{Expr: expr}, nil
}

func (p *Parser) parseIf() (Stmt, error) {
	p.advance() // if
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	stmt := &If{Cond: cond, Then: then}
	if p.peek().Type == ELSE {
		p.advance()
		stmt.Else, err = p.parseStatement()
		if err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *Parser) parseWhile() (Stmt, error) {
	p.advance() // while
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &While{Cond: cond, Body: body}, nil
}

func (p *Parser) parseReturn() (Stmt, error) {
	kw := p.advance() // return
	stmt := &Return{Line: kw.Line}
	if p.peek().Type != SEMICOLON {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmt.Expr = expr
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseBlock() (Stmt, error) {
	p.advance() // {
	block := &Block{}
	for p.peek().Type != RBRACE && p.peek().Type != EOF {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		block.Stmts = append(block.Stmts, stmt)
	}
	if _, err := p.expect(RBRACE); err != nil {
		return nil, err
	}
	return block, nil
}

//  Expressions

// parseExpression is the entry point for expression parsing.
func (p *Parser) parseExpression() (Expr, error) {
	return p.parseAssignment()
}

// parseAssignment handles = (right-associative, value-producing).
func (p *Parser) parseAssignment() (Expr, error) {
	expr, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != ASSIGN {
		return expr, nil
	}
	tok := p.advance()
	if !isLValue(expr) {
		return nil, p.fmtError(tok, "invalid assignment target %s", expr)
	}
	value, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	return &Assign{Target: expr, Value: value, Line: tok.Line}, nil
}

// isLValue reports whether an expression names a storage location.
func isLValue(e Expr) bool {
	switch e := e.(type) {
	case *Var, *Index:
		return true
	case *Unary:
		return e.Op == OpDeref
	}
	return false
}

func (p *Parser) parseLogicalOr() (Expr, error) {
	expr, err := p.parseLogicalAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == OR_LOGICAL {
		p.advance()
		right, err := p.parseLogicalAnd()
		if err != nil {
			return nil, err
		}
		expr = &Binary{Op: OpLogOr, Left: expr, Right: right}
	}
	return expr, nil
}

func (p *Parser) parseLogicalAnd() (Expr, error) {
	expr, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == AND_LOGICAL {
		p.advance()
		right, err := p.parseConditional()
		if err != nil {
			return nil, err
		}
		expr = &Binary{Op: OpLogAnd, Left: expr, Right: right}
	}
	return expr, nil
}

// parseConditional handles ?: with the else arm right-associative.
func (p *Parser) parseConditional() (Expr, error) {
	cond, err := p.parseBitwiseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != QUESTION {
		return cond, nil
	}
	p.advance()
	then, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(COLON); err != nil {
		return nil, err
	}
	els, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	return &Conditional{Cond: cond, Then: then, Else: els}, nil
}

func (p *Parser) parseBitwiseOr() (Expr, error) {
	expr, err := p.parseBitwiseXor()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == PIPE {
		p.advance()
		right, err := p.parseBitwiseXor()
		if err != nil {
			return nil, err
		}
		expr = &Binary{Op: OpBitOr, Left: expr, Right: right}
	}
	return expr, nil
}

func (p *Parser) parseBitwiseXor() (Expr, error) {
	expr, err := p.parseBitwiseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == CARET {
		p.advance()
		right, err := p.parseBitwiseAnd()
		if err != nil {
			return nil, err
		}
		expr = &Binary{Op: OpBitXor, Left: expr, Right: right}
	}
	return expr, nil
}

func (p *Parser) parseBitwiseAnd() (Expr, error) {
	expr, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == AND {
		p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		expr = &Binary{Op: OpBitAnd, Left: expr, Right: right}
	}
	return expr, nil
}

func (p *Parser) parseEquality() (Expr, error) {
	expr, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == EQUALS || p.peek().Type == NOT_EQ {
		op := OpEq
		if p.advance().Type == NOT_EQ {
			op = OpNe
		}
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		expr = &Binary{Op: op, Left: expr, Right: right}
	}
	return expr, nil
}

func (p *Parser) parseRelational() (Expr, error) {
	expr, err := p.parseShift()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch p.peek().Type {
		case LESS:
			op = OpLt
		case GREATER:
			op = OpGt
		case LESS_EQ:
			op = OpLe
		case GREATER_EQ:
			op = OpGe
		default:
			return expr, nil
		}
		p.advance()
		right, err := p.parseShift()
		if err != nil {
			return nil, err
		}
		expr = &Binary{Op: op, Left: expr, Right: right}
	}
}

func (p *Parser) parseShift() (Expr, error) {
	expr, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == SHL_OP || p.peek().Type == SHR_OP {
		op := OpShl
		if p.advance().Type == SHR_OP {
			op = OpShr
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		expr = &Binary{Op: op, Left: expr, Right: right}
	}
	return expr, nil
}

func (p *Parser) parseAdditive() (Expr, error) {
	expr, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == PLUS || p.peek().Type == MINUS {
		op := OpAdd
		if p.advance().Type == MINUS {
			op = OpSub
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		expr = &Binary{Op: op, Left: expr, Right: right}
	}
	return expr, nil
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	expr, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch p.peek().Type {
		case STAR:
			op = OpMul
		case SLASH:
			op = OpDiv
		case PERCENT:
			op = OpMod
		default:
			return expr, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		expr = &Binary{Op: op, Left: expr, Right: right}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case MINUS, NOT, TILDE, STAR, AND, PLUS_PLUS, MINUS_MINUS:
		p.advance()
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		var op UnOp
		switch tok.Type {
		case MINUS:
			op = OpNeg
		case NOT:
			op = OpNot
		case TILDE:
			op = OpBitNot
		case STAR:
			op = OpDeref
		case AND:
			op = OpAddr
		case PLUS_PLUS:
			op = OpPreInc
		case MINUS_MINUS:
			op = OpPreDec
		}
		return &Unary{Op: op, Expr: expr, Line: tok.Line}, nil
	case SIZEOF:
		return p.parseSizeOf()
	case LPAREN:
		// One extra token of lookahead tells a cast from a
		// parenthesized expression.
		if isTypeToken(p.peekNext().Type) {
			return p.parseCast()
		}
	}
	return p.parsePostfix()
}

func (p *Parser) parseSizeOf() (Expr, error) {
	p.advance() // sizeof
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	ty, err := p.parseTypeName()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return &SizeOf{Type: ty}, nil
}

func (p *Parser) parseCast() (Expr, error) {
	p.advance() // (
	ty, err := p.parseTypeName()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	expr, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &Cast{Type: ty, Expr: expr}, nil
}

func (p *Parser) parseTypeName() (Type, error) {
	tok := p.advance()
	if !isTypeToken(tok.Type) {
		return Type{}, p.fmtError(tok, "expected a type, got %s (%q)", tok.Type, tok.Lexeme)
	}
	ty := Type{Base: baseKind(tok.Type)}
	for p.peek().Type == STAR {
		p.advance()
		ty.Ptr++
	}
	return ty, nil
}

func (p *Parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		switch tok.Type {
		case LPAREN:
			p.advance()
			args, err := p.parseCallArgs()
			if err != nil {
				return nil, err
			}
			expr = &Call{Callee: expr, Args: args, Line: tok.Line}
		case LBRACKET:
			p.advance()
			idx, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RBRACKET); err != nil {
				return nil, err
			}
			expr = &Index{Array: expr, Idx: idx, Line: tok.Line}
		case PLUS_PLUS:
			p.advance()
			expr = &Unary{Op: OpPostInc, Expr: expr, Line: tok.Line}
		case MINUS_MINUS:
			p.advance()
			expr = &Unary{Op: OpPostDec, Expr: expr, Line: tok.Line}
		default:
			return expr, nil
		}
	}
}

func (p *Parser) parseCallArgs() ([]Expr, error) {
	var args []Expr
	if p.peek().Type != RPAREN {
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().Type != COMMA {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.advance()
	switch tok.Type {
	case INTEGER:
		val, err := strconv.ParseInt(tok.Lexeme, 10, 64)
		if err != nil {
			return nil, p.fmtError(tok, "integer literal %q out of range", tok.Lexeme)
		}
		return &Num{Value: val}, nil
	case STRING:
		return &Str{Value: tok.Lexeme}, nil
	case IDENTIFIER:
		return &Var{Name: tok.Lexeme, Line: tok.Line}, nil
	case LPAREN:
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return nil, p.fmtError(tok, "expected an expression, got %s (%q)", tok.Type, tok.Lexeme)
}
