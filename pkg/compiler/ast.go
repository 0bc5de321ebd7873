package compiler

import (
	"fmt"
	"strings"
)

//  Types

// BaseKind is the scalar base of a Type.
type BaseKind int

const (
	Void BaseKind = iota
	Int
	Char
)

var baseNames = []string{"void", "int", "char"}

func (b BaseKind) String() string { return baseNames[b] }

// Type is a base kind plus a pointer depth. Ptr=0 is the scalar itself,
// Ptr=1 is `int*`, Ptr=2 is `int**`, and so on. Equality is structural,
// which plain == gives us for free.
type Type struct {
	Base BaseKind
	Ptr  int
}

var (
	TypeVoid = Type{Base: Void}
	TypeInt  = Type{Base: Int}
	TypeChar = Type{Base: Char}
)

// IsPtr reports whether the type is a pointer of any depth.
func (t Type) IsPtr() bool { return t.Ptr > 0 }

// Pointee is the type this pointer points at. Calling it on a
// non-pointer is a compiler bug, not a user error.
func (t Type) Pointee() Type {
	if t.Ptr == 0 {
		panic("compiler: Pointee of non-pointer " + t.String())
	}
	return Type{Base: t.Base, Ptr: t.Ptr - 1}
}

// PtrTo is the type of a pointer to t.
func (t Type) PtrTo() Type { return Type{Base: t.Base, Ptr: t.Ptr + 1} }

// Size is sizeof(t) in bytes: pointers and int are one machine word,
// char is a single byte, void is 1 so that void* arithmetic behaves
// like char* arithmetic.
func (t Type) Size() int64 {
	if t.Ptr > 0 {
		return 8
	}
	switch t.Base {
	case Int:
		return 8
	default: // Char, Void
		return 1
	}
}

func (t Type) String() string {
	return baseNames[t.Base] + strings.Repeat("*", t.Ptr)
}

//  Operators

// BinOp enumerates the binary operators the compiler lowers. Assignment
// is not here; it has its own node because the left side is an lvalue,
// not a value.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr
	OpEq
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
	OpLogAnd
	OpLogOr
)

var binOpNames = []string{
	"+", "-", "*", "/", "%",
	"&", "|", "^", "<<", ">>",
	"==", "!=", "<", ">", "<=", ">=",
	"&&", "||",
}

func (op BinOp) String() string { return binOpNames[op] }

// UnOp enumerates the prefix and postfix unary operators.
type UnOp int

const (
	OpNeg UnOp = iota
	OpNot
	OpBitNot
	OpDeref
	OpAddr
	OpPreInc
	OpPreDec
	OpPostInc
	OpPostDec
)

var unOpNames = []string{
	"-", "!", "~", "*", "&",
	"++", "--", "++(post)", "--(post)",
}

func (op UnOp) String() string { return unOpNames[op] }

//  Expression nodes

// Expr is implemented by every node that produces a value.
type Expr interface {
	exprNode()
	String() string
}

// Num is a compile-time integer constant. Character literals and
// resolved enum constants also end up here.
type Num struct {
	Value int64
}

func (*Num) exprNode()        {}
func (n *Num) String() string { return fmt.Sprintf("%d", n.Value) }

// Str is a string literal, interned into the chunk's string pool at
// compile time. Escapes are already resolved by the lexer.
type Str struct {
	Value string
}

func (*Str) exprNode()        {}
func (s *Str) String() string { return fmt.Sprintf("%q", s.Value) }

// Var is a read of a named binding. Resolution (local, parameter,
// enum constant, global, function) happens at compile time, not here.
//
//	return x;
//	       ^  Var{Name: "x"}
type Var struct {
	Name string
	Line int
}

func (*Var) exprNode()        {}
func (v *Var) String() string { return v.Name }

// Unary represents a prefix or postfix unary operation.
type Unary struct {
	Op   UnOp
	Expr Expr
	Line int
}

func (*Unary) exprNode() {}
func (u *Unary) String() string {
	if u.Op == OpPostInc || u.Op == OpPostDec {
		return fmt.Sprintf("(%s%s)", u.Expr, unOpNames[u.Op][:2])
	}
	return fmt.Sprintf("(%s%s)", u.Op, u.Expr)
}

// Binary represents Left Op Right.
type Binary struct {
	Op    BinOp
	Left  Expr
	Right Expr
}

func (*Binary) exprNode() {}
func (b *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

// Assign represents Target = Value. Assignment is an expression whose
// value is the stored value, so chains like a = b = 0 parse
// right-associatively.
type Assign struct {
	Target Expr
	Value  Expr
	Line   int
}

func (*Assign) exprNode() {}
func (a *Assign) String() string {
	return fmt.Sprintf("(%s = %s)", a.Target, a.Value)
}

// Call represents Callee(Args...). The callee is an expression, not a
// bare name, so calls through a variable holding a function index work.
type Call struct {
	Callee Expr
	Args   []Expr
	Line   int
}

func (*Call) exprNode() {}
func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Callee, strings.Join(args, ", "))
}

// Cast represents (Type)Expr. It changes the static type the compiler
// tracks for pointer scaling; it emits no instruction.
type Cast struct {
	Type Type
	Expr Expr
}

func (*Cast) exprNode() {}
func (c *Cast) String() string {
	return fmt.Sprintf("(%s)%s", c.Type, c.Expr)
}

// SizeOf represents sizeof(Type), folded to an immediate at compile time.
type SizeOf struct {
	Type Type
}

func (*SizeOf) exprNode()        {}
func (s *SizeOf) String() string { return fmt.Sprintf("sizeof(%s)", s.Type) }

// Conditional represents Cond ? Then : Else.
type Conditional struct {
	Cond Expr
	Then Expr
	Else Expr
}

func (*Conditional) exprNode() {}
func (c *Conditional) String() string {
	return fmt.Sprintf("(%s ? %s : %s)", c.Cond, c.Then, c.Else)
}

// Index represents Array[Idx], sugar for *(Array + Idx).
type Index struct {
	Array Expr
	Idx   Expr
	Line  int
}

func (*Index) exprNode() {}
func (e *Index) String() string {
	return fmt.Sprintf("%s[%s]", e.Array, e.Idx)
}

//  Statement nodes

// Stmt is implemented by every node that does not produce a value.
type Stmt interface {
	stmtNode()
	String() string
}

// Block represents { stmt... }. Local declarations live on FuncDef, not
// here; nested blocks hold statements only.
type Block struct {
	Stmts []Stmt
}

func (*Block) stmtNode()        {}
func (b *Block) String() string { return fmt.Sprintf("Block(len=%d)", len(b.Stmts)) }

// If represents if (cond) then [else els].
type If struct {
	Cond Expr
	Then Stmt
	Else Stmt // may be nil
}

func (*If) stmtNode() {}
func (i *If) String() string {
	if i.Else != nil {
		return fmt.Sprintf("If(%s then %s else %s)", i.Cond, i.Then, i.Else)
	}
	return fmt.Sprintf("If(%s then %s)", i.Cond, i.Then)
}

// While represents while (cond) body.
type While struct {
	Cond Expr
	Body Stmt
}

func (*While) stmtNode() {}
func (w *While) String() string {
	return fmt.Sprintf("While(%s do %s)", w.Cond, w.Body)
}

// Return represents return [expr];
type Return struct {
	Expr Expr // may be nil
	Line int
}

func (*Return) stmtNode() {}
func (r *Return) String() string {
	if r.Expr == nil {
		return "Return()"
	}
	return fmt.Sprintf("Return(%s)", r.Expr)
}

// ExprStmt is an expression evaluated for its side effects.
type ExprStmt struct {
	Expr Expr
}

func (*ExprStmt) stmtNode()        {}
func (e *ExprStmt) String() string { return fmt.Sprintf("ExprStmt(%s)", e.Expr) }

// Empty is a lone semicolon.
type Empty struct{}

func (*Empty) stmtNode()      {}
func (*Empty) String() string { return ";" }

//  Top-level items

// Item is implemented by every top-level declaration. Program order is
// declaration order and drives forward-reference resolution.
type Item interface {
	itemNode()
	String() string
}

// GlobalDecl declares one global. A source line `int a, b;` becomes two
// GlobalDecl items.
type GlobalDecl struct {
	Name string
	Type Type
	Line int
}

func (*GlobalDecl) itemNode() {}
func (g *GlobalDecl) String() string {
	return fmt.Sprintf("GlobalDecl(%s %s)", g.Type, g.Name)
}

// EnumVariant is one name inside an enum block. HasValue distinguishes
// an explicit `= n` from the default previous+1 numbering.
type EnumVariant struct {
	Name     string
	Value    int64
	HasValue bool
	Line     int
}

// EnumDecl declares an anonymous enum. Variant names are global-scoped
// integer constants; they never occupy storage.
type EnumDecl struct {
	Variants []EnumVariant
	Line     int
}

func (*EnumDecl) itemNode() {}
func (e *EnumDecl) String() string {
	names := make([]string, len(e.Variants))
	for i, v := range e.Variants {
		names[i] = v.Name
	}
	return fmt.Sprintf("EnumDecl(%s)", strings.Join(names, ", "))
}

// Param is one function parameter. Order fixes frame slot order.
type Param struct {
	Name string
	Type Type
	Line int
}

// Local is one local declaration at the top of a function body.
type Local struct {
	Name string
	Type Type
	Line int
}

// FuncDef defines a function. Locals are declared before any statement,
// so they live here rather than on Block.
type FuncDef struct {
	Ret    Type
	Name   string
	Params []Param
	Locals []Local
	Body   *Block
	Line   int
}

func (*FuncDef) itemNode() {}
func (f *FuncDef) String() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = fmt.Sprintf("%s %s", p.Type, p.Name)
	}
	return fmt.Sprintf("FuncDef(%s %s(%s), locals=%d)",
		f.Ret, f.Name, strings.Join(params, ", "), len(f.Locals))
}

// Program is the whole translation unit, in source order.
type Program struct {
	Items []Item
}

func (p *Program) String() string {
	var sb strings.Builder
	for _, it := range p.Items {
		sb.WriteString(it.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
