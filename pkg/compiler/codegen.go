package compiler

import (
	"fmt"

	"c4go/pkg/bytecode"
)

// CodeGen walks an AST and emits a bytecode Chunk. Compilation is two
// passes: the first registers every top-level name (so forward calls and
// mutual recursion resolve), the second compiles function bodies.
type CodeGen struct {
	chunk *bytecode.Chunk
	syms  *SymbolTable

	currentFunction string
}

func newCodeGen() *CodeGen {
	return &CodeGen{chunk: &bytecode.Chunk{}, syms: NewSymbolTable()}
}

// Generate compiles a Program into a runnable Chunk. Instructions 0 and 1
// are the bootstrap: call main, then halt with main's return value as the
// exit code.
func Generate(prog *Program) (*bytecode.Chunk, error) {
	cg := newCodeGen()

	// Pass 1: register every top-level name in declaration order.
	for _, item := range prog.Items {
		if err := cg.declareItem(item); err != nil {
			return nil, err
		}
	}
	cg.chunk.GlobalWords = cg.syms.GlobalWords()

	mainSym, ok := cg.syms.Resolve("main")
	if !ok || mainSym.Kind != SymFunc {
		return nil, &CompileError{Msg: "missing function main()"}
	}
	if mainSym.Arity != 0 {
		return nil, &CompileError{Msg: "main() must take no parameters"}
	}
	cg.chunk.EmitCall(bytecode.OpCall, int64(mainSym.FuncIdx), 0)
	cg.chunk.Emit(bytecode.OpHalt)

	// Pass 2: compile bodies.
	for _, item := range prog.Items {
		fn, ok := item.(*FuncDef)
		if !ok {
			continue
		}
		if err := cg.genFunc(fn); err != nil {
			return nil, err
		}
	}
	return cg.chunk, nil
}

func (cg *CodeGen) declareItem(item Item) error {
	switch item := item.(type) {
	case *GlobalDecl:
		return cg.syms.DefineGlobal(item.Name, item.Type, item.Line)
	case *EnumDecl:
		next := int64(0)
		for _, v := range item.Variants {
			if v.HasValue {
				next = v.Value
			}
			if err := cg.syms.DefineEnum(v.Name, next, v.Line); err != nil {
				return err
			}
			next++
		}
		return nil
	case *FuncDef:
		idx := cg.chunk.AddFunc(bytecode.FuncInfo{
			Name:  item.Name,
			Entry: -1, // patched when the body is compiled
			Arity: len(item.Params),
		})
		return cg.syms.DefineFunc(item.Name, item.Ret, int(idx), len(item.Params), item.Line)
	}
	return nil
}

// errf builds a CompileError tagged with the enclosing function.
func (cg *CodeGen) errf(line int, format string, args ...any) error {
	return &CompileError{
		Func: cg.currentFunction,
		Line: line,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// globalAddr is the data address of global word slot.
func globalAddr(slot int) int64 {
	return bytecode.DataBase + int64(slot)*bytecode.WordSize
}

//  Functions

func (cg *CodeGen) genFunc(fn *FuncDef) error {
	cg.currentFunction = fn.Name
	cg.syms.EnterFunction()
	for _, p := range fn.Params {
		if _, err := cg.syms.DefineLocal(p.Name, p.Type, p.Line); err != nil {
			return err
		}
	}
	for _, l := range fn.Locals {
		if _, err := cg.syms.DefineLocal(l.Name, l.Type, l.Line); err != nil {
			return err
		}
	}

	sym, _ := cg.syms.Resolve(fn.Name)
	cg.chunk.Funcs[sym.FuncIdx].Entry = len(cg.chunk.Code)
	cg.chunk.Funcs[sym.FuncIdx].Locals = cg.syms.LocalSlots() - len(fn.Params)

	if err := cg.genBlock(fn.Body); err != nil {
		return err
	}

	// Falling off the end returns 0.
	cg.chunk.EmitOperand(bytecode.OpConst, 0)
	cg.chunk.Emit(bytecode.OpRet)
	return nil
}

//  Statements

func (cg *CodeGen) genBlock(b *Block) error {
	for _, stmt := range b.Stmts {
		if err := cg.genStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (cg *CodeGen) genStmt(stmt Stmt) error {
	switch stmt := stmt.(type) {
	case *Block:
		return cg.genBlock(stmt)
	case *Empty:
		return nil
	case *ExprStmt:
		if err := cg.genExpr(stmt.Expr); err != nil {
			return err
		}
		cg.chunk.Emit(bytecode.OpPop)
		return nil
	case *If:
		return cg.genIf(stmt)
	case *While:
		return cg.genWhile(stmt)
	case *Return:
		if stmt.Expr == nil {
			cg.chunk.EmitOperand(bytecode.OpConst, 0)
		} else if err := cg.genExpr(stmt.Expr); err != nil {
			return err
		}
		cg.chunk.Emit(bytecode.OpRet)
		return nil
	}
	return fmt.Errorf("codegen: unhandled statement %T", stmt)
}

func (cg *CodeGen) genIf(stmt *If) error {
	if err := cg.genExpr(stmt.Cond); err != nil {
		return err
	}
	jz := cg.chunk.EmitJump(bytecode.OpJz)
	if err := cg.genStmt(stmt.Then); err != nil {
		return err
	}
	if stmt.Else == nil {
		cg.chunk.PatchJump(jz)
		return nil
	}
	jend := cg.chunk.EmitJump(bytecode.OpJmp)
	cg.chunk.PatchJump(jz)
	if err := cg.genStmt(stmt.Else); err != nil {
		return err
	}
	cg.chunk.PatchJump(jend)
	return nil
}

func (cg *CodeGen) genWhile(stmt *While) error {
	top := len(cg.chunk.Code)
	if err := cg.genExpr(stmt.Cond); err != nil {
		return err
	}
	jexit := cg.chunk.EmitJump(bytecode.OpJz)
	if err := cg.genStmt(stmt.Body); err != nil {
		return err
	}
	cg.chunk.EmitOperand(bytecode.OpJmp, int64(top))
	cg.chunk.PatchJump(jexit)
	return nil
}

//  Expressions

func (cg *CodeGen) genExpr(e Expr) error {
	switch e := e.(type) {
	case *Num:
		cg.chunk.EmitOperand(bytecode.OpConst, e.Value)
		return nil
	case *Str:
		cg.chunk.EmitOperand(bytecode.OpStr, cg.chunk.InternString(e.Value))
		return nil
	case *Var:
		return cg.genVar(e)
	case *Unary:
		return cg.genUnary(e)
	case *Binary:
		return cg.genBinary(e)
	case *Assign:
		return cg.genAssign(e)
	case *Call:
		return cg.genCall(e)
	case *Cast:
		// Casts change static type tracking only; no instruction.
		return cg.genExpr(e.Expr)
	case *SizeOf:
		cg.chunk.EmitOperand(bytecode.OpConst, e.Type.Size())
		return nil
	case *Conditional:
		return cg.genConditional(e)
	case *Index:
		width, err := cg.genIndexAddr(e)
		if err != nil {
			return err
		}
		cg.chunk.Emit(loadOp(width))
		return nil
	}
	return fmt.Errorf("codegen: unhandled expression %T", e)
}

func loadOp(width int64) bytecode.OpCode {
	if width == 1 {
		return bytecode.OpLoadByte
	}
	return bytecode.OpLoad
}

func storeOp(width int64) bytecode.OpCode {
	if width == 1 {
		return bytecode.OpStoreByte
	}
	return bytecode.OpStore
}

func (cg *CodeGen) genVar(v *Var) error {
	sym, ok := cg.syms.Resolve(v.Name)
	if !ok {
		return cg.errf(v.Line, "undefined identifier %q", v.Name)
	}
	switch sym.Kind {
	case SymLocal:
		cg.chunk.EmitOperand(bytecode.OpLoadLocal, int64(sym.Slot))
	case SymGlobal:
		cg.chunk.EmitOperand(bytecode.OpLoadGlobal, globalAddr(sym.Slot))
	case SymEnum:
		cg.chunk.EmitOperand(bytecode.OpConst, sym.Value)
	case SymFunc:
		// A bare function name is its table index, so it can be
		// stored and called through a variable later.
		cg.chunk.EmitOperand(bytecode.OpConst, int64(sym.FuncIdx))
	}
	return nil
}

func (cg *CodeGen) genUnary(u *Unary) error {
	switch u.Op {
	case OpNeg, OpNot, OpBitNot:
		if err := cg.genExpr(u.Expr); err != nil {
			return err
		}
		switch u.Op {
		case OpNeg:
			cg.chunk.Emit(bytecode.OpNeg)
		case OpNot:
			cg.chunk.Emit(bytecode.OpNot)
		case OpBitNot:
			cg.chunk.Emit(bytecode.OpBitNot)
		}
		return nil
	case OpDeref:
		t := cg.typeOf(u.Expr)
		if !t.IsPtr() {
			return cg.errf(u.Line, "cannot dereference non-pointer %s", u.Expr)
		}
		if err := cg.genExpr(u.Expr); err != nil {
			return err
		}
		cg.chunk.Emit(loadOp(t.Pointee().Size()))
		return nil
	case OpAddr:
		_, err := cg.genAddr(u.Expr, u.Line)
		return err
	case OpPreInc, OpPreDec, OpPostInc, OpPostDec:
		return cg.genIncDec(u)
	}
	return fmt.Errorf("codegen: unhandled unary operator %s", u.Op)
}

// genIncDec lowers ++ and --. All four forms store the updated value;
// the postfix forms then undo the delta on the stack copy so the old
// value is the expression result.
func (cg *CodeGen) genIncDec(u *Unary) error {
	t := cg.typeOf(u.Expr)
	delta := int64(1)
	if t.IsPtr() {
		delta = t.Pointee().Size()
	}
	add := u.Op == OpPreInc || u.Op == OpPostInc
	step := bytecode.OpSub
	undo := bytecode.OpAdd
	if add {
		step, undo = bytecode.OpAdd, bytecode.OpSub
	}

	switch target := u.Expr.(type) {
	case *Var:
		sym, ok := cg.syms.Resolve(target.Name)
		if !ok {
			return cg.errf(target.Line, "undefined identifier %q", target.Name)
		}
		var load, store bytecode.OpCode
		var operand int64
		switch sym.Kind {
		case SymLocal:
			load, store, operand = bytecode.OpLoadLocal, bytecode.OpStoreLocal, int64(sym.Slot)
		case SymGlobal:
			load, store, operand = bytecode.OpLoadGlobal, bytecode.OpStoreGlobal, globalAddr(sym.Slot)
		default:
			return cg.errf(u.Line, "%s is not assignable", sym.Kind)
		}
		cg.chunk.EmitOperand(load, operand)
		cg.chunk.EmitOperand(bytecode.OpConst, delta)
		cg.chunk.Emit(step)
		cg.chunk.EmitOperand(store, operand)
	default:
		// *p and a[i]: compute the address once, then read-modify-write
		// through it.
		width, err := cg.genAddr(u.Expr, u.Line)
		if err != nil {
			return err
		}
		cg.chunk.Emit(bytecode.OpDup)
		cg.chunk.Emit(loadOp(width))
		cg.chunk.EmitOperand(bytecode.OpConst, delta)
		cg.chunk.Emit(step)
		cg.chunk.Emit(storeOp(width))
	}

	if u.Op == OpPostInc || u.Op == OpPostDec {
		cg.chunk.EmitOperand(bytecode.OpConst, delta)
		cg.chunk.Emit(undo)
	}
	return nil
}

// genAddr emits the address of an lvalue and returns the byte width of
// the value stored there. Locals live in frame slots, not data memory,
// so they have no address.
func (cg *CodeGen) genAddr(e Expr, line int) (int64, error) {
	switch e := e.(type) {
	case *Var:
		sym, ok := cg.syms.Resolve(e.Name)
		if !ok {
			return 0, cg.errf(e.Line, "undefined identifier %q", e.Name)
		}
		switch sym.Kind {
		case SymGlobal:
			cg.chunk.EmitOperand(bytecode.OpConst, globalAddr(sym.Slot))
			return sym.Type.Size(), nil
		case SymLocal:
			return 0, cg.errf(e.Line, "cannot take the address of local %q", e.Name)
		default:
			return 0, cg.errf(e.Line, "cannot take the address of a %s", sym.Kind)
		}
	case *Unary:
		if e.Op != OpDeref {
			return 0, cg.errf(line, "expression is not addressable: %s", e)
		}
		t := cg.typeOf(e.Expr)
		if !t.IsPtr() {
			return 0, cg.errf(e.Line, "cannot dereference non-pointer %s", e.Expr)
		}
		if err := cg.genExpr(e.Expr); err != nil {
			return 0, err
		}
		return t.Pointee().Size(), nil
	case *Index:
		return cg.genIndexAddr(e)
	}
	return 0, cg.errf(line, "expression is not addressable: %s", e)
}

// genIndexAddr emits the element address for a[i] and returns the
// element width. a[i] is *(a + i) with the index scaled by the pointee
// size.
func (cg *CodeGen) genIndexAddr(e *Index) (int64, error) {
	t := cg.typeOf(e.Array)
	if !t.IsPtr() {
		return 0, cg.errf(e.Line, "cannot index non-pointer %s", e.Array)
	}
	width := t.Pointee().Size()
	if err := cg.genExpr(e.Array); err != nil {
		return 0, err
	}
	if err := cg.genExpr(e.Idx); err != nil {
		return 0, err
	}
	if width > 1 {
		cg.chunk.EmitOperand(bytecode.OpConst, width)
		cg.chunk.Emit(bytecode.OpMul)
	}
	cg.chunk.Emit(bytecode.OpAdd)
	return width, nil
}

var binOps = map[BinOp]bytecode.OpCode{
	OpMul:    bytecode.OpMul,
	OpDiv:    bytecode.OpDiv,
	OpMod:    bytecode.OpMod,
	OpBitAnd: bytecode.OpAnd,
	OpBitOr:  bytecode.OpOr,
	OpBitXor: bytecode.OpXor,
	OpShl:    bytecode.OpShl,
	OpShr:    bytecode.OpShr,
	OpEq:     bytecode.OpEq,
	OpNe:     bytecode.OpNe,
	OpLt:     bytecode.OpLt,
	OpGt:     bytecode.OpGt,
	OpLe:     bytecode.OpLe,
	OpGe:     bytecode.OpGe,
}

func (cg *CodeGen) genBinary(b *Binary) error {
	switch b.Op {
	case OpLogAnd, OpLogOr:
		return cg.genShortCircuit(b)
	case OpAdd, OpSub:
		return cg.genAddSub(b)
	}
	if err := cg.genExpr(b.Left); err != nil {
		return err
	}
	if err := cg.genExpr(b.Right); err != nil {
		return err
	}
	cg.chunk.Emit(binOps[b.Op])
	return nil
}

// genAddSub handles + and - with pointer scaling. The scaling decision
// is made here from static types; the emitted code only sees plain
// integer arithmetic.
func (cg *CodeGen) genAddSub(b *Binary) error {
	lt := cg.typeOf(b.Left)
	rt := cg.typeOf(b.Right)

	// ptr - ptr: byte difference divided down to an element count.
	if b.Op == OpSub && lt.IsPtr() && rt.IsPtr() {
		if err := cg.genExpr(b.Left); err != nil {
			return err
		}
		if err := cg.genExpr(b.Right); err != nil {
			return err
		}
		cg.chunk.Emit(bytecode.OpSub)
		if scale := lt.Pointee().Size(); scale > 1 {
			cg.chunk.EmitOperand(bytecode.OpConst, scale)
			cg.chunk.Emit(bytecode.OpDiv)
		}
		return nil
	}

	scaleLeft, scaleRight := int64(1), int64(1)
	switch {
	case lt.IsPtr():
		scaleRight = lt.Pointee().Size()
	case rt.IsPtr() && b.Op == OpAdd:
		scaleLeft = rt.Pointee().Size()
	}

	if err := cg.genExpr(b.Left); err != nil {
		return err
	}
	if scaleLeft > 1 {
		cg.chunk.EmitOperand(bytecode.OpConst, scaleLeft)
		cg.chunk.Emit(bytecode.OpMul)
	}
	if err := cg.genExpr(b.Right); err != nil {
		return err
	}
	if scaleRight > 1 {
		cg.chunk.EmitOperand(bytecode.OpConst, scaleRight)
		cg.chunk.Emit(bytecode.OpMul)
	}
	if b.Op == OpAdd {
		cg.chunk.Emit(bytecode.OpAdd)
	} else {
		cg.chunk.Emit(bytecode.OpSub)
	}
	return nil
}

// genShortCircuit lowers && and || to conditional jumps; the right
// operand is never evaluated when the left decides the result.
func (cg *CodeGen) genShortCircuit(b *Binary) error {
	jump := bytecode.OpJz
	if b.Op == OpLogOr {
		jump = bytecode.OpJnz
	}
	if err := cg.genExpr(b.Left); err != nil {
		return err
	}
	j1 := cg.chunk.EmitJump(jump)
	if err := cg.genExpr(b.Right); err != nil {
		return err
	}
	j2 := cg.chunk.EmitJump(jump)

	settled, other := int64(1), int64(0)
	if b.Op == OpLogOr {
		settled, other = 0, 1
	}
	cg.chunk.EmitOperand(bytecode.OpConst, settled)
	jend := cg.chunk.EmitJump(bytecode.OpJmp)
	cg.chunk.PatchJump(j1)
	cg.chunk.PatchJump(j2)
	cg.chunk.EmitOperand(bytecode.OpConst, other)
	cg.chunk.PatchJump(jend)
	return nil
}

func (cg *CodeGen) genConditional(c *Conditional) error {
	if err := cg.genExpr(c.Cond); err != nil {
		return err
	}
	jz := cg.chunk.EmitJump(bytecode.OpJz)
	if err := cg.genExpr(c.Then); err != nil {
		return err
	}
	jend := cg.chunk.EmitJump(bytecode.OpJmp)
	cg.chunk.PatchJump(jz)
	if err := cg.genExpr(c.Else); err != nil {
		return err
	}
	cg.chunk.PatchJump(jend)
	return nil
}

func (cg *CodeGen) genAssign(a *Assign) error {
	switch target := a.Target.(type) {
	case *Var:
		sym, ok := cg.syms.Resolve(target.Name)
		if !ok {
			return cg.errf(target.Line, "undefined identifier %q", target.Name)
		}
		switch sym.Kind {
		case SymLocal:
			if err := cg.genExpr(a.Value); err != nil {
				return err
			}
			cg.chunk.EmitOperand(bytecode.OpStoreLocal, int64(sym.Slot))
			return nil
		case SymGlobal:
			if err := cg.genExpr(a.Value); err != nil {
				return err
			}
			cg.chunk.EmitOperand(bytecode.OpStoreGlobal, globalAddr(sym.Slot))
			return nil
		default:
			return cg.errf(a.Line, "cannot assign to %s %q", sym.Kind, target.Name)
		}
	default:
		width, err := cg.genAddr(a.Target, a.Line)
		if err != nil {
			return err
		}
		if err := cg.genExpr(a.Value); err != nil {
			return err
		}
		cg.chunk.Emit(storeOp(width))
		return nil
	}
}

func (cg *CodeGen) genCall(c *Call) error {
	// A named callee may be a declared function, a shadowing variable,
	// or an unbound builtin name.
	if v, ok := c.Callee.(*Var); ok {
		sym, resolved := cg.syms.Resolve(v.Name)
		if !resolved {
			id, isSys := bytecode.SyscallID(v.Name)
			if !isSys {
				return cg.errf(v.Line, "undefined identifier %q", v.Name)
			}
			if err := cg.genArgs(c.Args); err != nil {
				return err
			}
			cg.chunk.EmitCall(bytecode.OpSyscall, id, len(c.Args))
			return nil
		}
		switch sym.Kind {
		case SymFunc:
			if len(c.Args) != sym.Arity {
				return cg.errf(c.Line, "wrong number of arguments to %s(): have %d, want %d",
					v.Name, len(c.Args), sym.Arity)
			}
			if err := cg.genArgs(c.Args); err != nil {
				return err
			}
			cg.chunk.EmitCall(bytecode.OpCall, int64(sym.FuncIdx), len(c.Args))
			return nil
		case SymEnum:
			return cg.errf(c.Line, "call of non-function %q", v.Name)
		}
		// A variable holding a function index: fall through to the
		// computed-call path.
	}

	// Computed call: the callee value sits below the arguments and the
	// VM checks the arity against the function table at run time.
	if err := cg.genExpr(c.Callee); err != nil {
		return err
	}
	if err := cg.genArgs(c.Args); err != nil {
		return err
	}
	cg.chunk.EmitCall(bytecode.OpCallInd, 0, len(c.Args))
	return nil
}

func (cg *CodeGen) genArgs(args []Expr) error {
	for _, arg := range args {
		if err := cg.genExpr(arg); err != nil {
			return err
		}
	}
	return nil
}

// typeOf computes the static type of an expression for pointer-scaling
// and load-width decisions. It is best-effort: anything unresolved is
// int, and the resolution error surfaces during emission instead.
func (cg *CodeGen) typeOf(e Expr) Type {
	switch e := e.(type) {
	case *Num, *SizeOf:
		return TypeInt
	case *Str:
		return TypeChar.PtrTo()
	case *Var:
		sym, ok := cg.syms.Resolve(e.Name)
		if !ok {
			return TypeInt
		}
		switch sym.Kind {
		case SymLocal, SymGlobal:
			return sym.Type
		default:
			return TypeInt
		}
	case *Unary:
		switch e.Op {
		case OpDeref:
			t := cg.typeOf(e.Expr)
			if t.IsPtr() {
				return t.Pointee()
			}
			return TypeInt
		case OpAddr:
			return cg.typeOf(e.Expr).PtrTo()
		case OpPreInc, OpPreDec, OpPostInc, OpPostDec:
			return cg.typeOf(e.Expr)
		default:
			return TypeInt
		}
	case *Binary:
		switch e.Op {
		case OpAdd, OpSub:
			lt := cg.typeOf(e.Left)
			rt := cg.typeOf(e.Right)
			if lt.IsPtr() && rt.IsPtr() {
				return TypeInt // pointer difference
			}
			if lt.IsPtr() {
				return lt
			}
			if e.Op == OpAdd && rt.IsPtr() {
				return rt
			}
			return TypeInt
		default:
			return TypeInt
		}
	case *Assign:
		return cg.typeOf(e.Target)
	case *Call:
		if v, ok := e.Callee.(*Var); ok {
			if sym, resolved := cg.syms.Resolve(v.Name); resolved && sym.Kind == SymFunc {
				return sym.Type
			}
		}
		return TypeInt
	case *Cast:
		return e.Type
	case *Conditional:
		return cg.typeOf(e.Then)
	case *Index:
		t := cg.typeOf(e.Array)
		if t.IsPtr() {
			return t.Pointee()
		}
		return TypeInt
	}
	return TypeInt
}
