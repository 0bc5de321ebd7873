package vm

import (
	"bytes"
	"strings"
	"testing"

	"c4go/pkg/bytecode"
)

func run(t *testing.T, c *bytecode.Chunk) (int64, error) {
	t.Helper()
	return New(c, DefaultConfig()).Run()
}

func wantTrap(t *testing.T, err error, kind TrapKind) *TrapError {
	t.Helper()
	if err == nil {
		t.Fatal("expected a trap")
	}
	trap, ok := err.(*TrapError)
	if !ok {
		t.Fatalf("error is %T (%v), want *TrapError", err, err)
	}
	if trap.Kind != kind {
		t.Fatalf("trap kind: got %s, want %s", trap.Kind, kind)
	}
	return trap
}

func TestArithmetic(t *testing.T) {
	c := &bytecode.Chunk{}
	c.EmitOperand(bytecode.OpConst, 10)
	c.EmitOperand(bytecode.OpConst, 3)
	c.Emit(bytecode.OpAdd)
	c.Emit(bytecode.OpHalt)
	code, err := run(t, c)
	if err != nil {
		t.Fatal(err)
	}
	if code != 13 {
		t.Errorf("exit: got %d, want 13", code)
	}
}

func TestComparisonAndLogic(t *testing.T) {
	tests := []struct {
		op   bytecode.OpCode
		a, b int64
		want int64
	}{
		{bytecode.OpSub, 3, 10, -7},
		{bytecode.OpMul, 6, 7, 42},
		{bytecode.OpDiv, 7, 2, 3},
		{bytecode.OpMod, 7, 2, 1},
		{bytecode.OpShl, 1, 4, 16},
		{bytecode.OpShr, -8, 1, -4}, // arithmetic shift
		{bytecode.OpEq, 2, 2, 1},
		{bytecode.OpNe, 2, 2, 0},
		{bytecode.OpLt, -1, 0, 1},
		{bytecode.OpGe, -1, 0, 0},
		{bytecode.OpXor, 6, 3, 5},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			c := &bytecode.Chunk{}
			c.EmitOperand(bytecode.OpConst, tt.a)
			c.EmitOperand(bytecode.OpConst, tt.b)
			c.Emit(tt.op)
			c.Emit(bytecode.OpHalt)
			code, err := run(t, c)
			if err != nil {
				t.Fatal(err)
			}
			if code != tt.want {
				t.Errorf("%d %s %d: got %d, want %d", tt.a, tt.op, tt.b, code, tt.want)
			}
		})
	}
}

func TestHaltWithEmptyStack(t *testing.T) {
	c := &bytecode.Chunk{}
	c.Emit(bytecode.OpHalt)
	code, err := run(t, c)
	if err != nil || code != 0 {
		t.Errorf("got %d, %v", code, err)
	}
}

func TestCallAndReturn(t *testing.T) {
	c := &bytecode.Chunk{}
	c.AddFunc(bytecode.FuncInfo{Name: "inc", Entry: 3, Arity: 1})
	c.EmitOperand(bytecode.OpConst, 41) // argument
	c.EmitCall(bytecode.OpCall, 0, 1)
	c.Emit(bytecode.OpHalt)
	// inc:
	c.EmitOperand(bytecode.OpLoadLocal, 0)
	c.EmitOperand(bytecode.OpConst, 1)
	c.Emit(bytecode.OpAdd)
	c.Emit(bytecode.OpRet)
	code, err := run(t, c)
	if err != nil {
		t.Fatal(err)
	}
	if code != 42 {
		t.Errorf("exit: got %d, want 42", code)
	}
}

func TestReturnClearsFrame(t *testing.T) {
	// A function with two locals must leave only its return value.
	c := &bytecode.Chunk{}
	c.AddFunc(bytecode.FuncInfo{Name: "f", Entry: 2, Arity: 0, Locals: 2})
	c.EmitCall(bytecode.OpCall, 0, 0)
	c.Emit(bytecode.OpHalt)
	// f:
	c.EmitOperand(bytecode.OpConst, 9)
	c.EmitOperand(bytecode.OpStoreLocal, 0)
	c.Emit(bytecode.OpPop)
	c.EmitOperand(bytecode.OpLoadLocal, 0)
	c.Emit(bytecode.OpRet)

	v := New(c, DefaultConfig())
	code, err := v.Run()
	if err != nil {
		t.Fatal(err)
	}
	if code != 9 {
		t.Errorf("exit: got %d, want 9", code)
	}
	if len(v.stack) != 1 {
		t.Errorf("stack after return: %v", v.stack)
	}
}

func TestIndirectCall(t *testing.T) {
	c := &bytecode.Chunk{}
	c.AddFunc(bytecode.FuncInfo{Name: "seven", Entry: 3, Arity: 0})
	c.EmitOperand(bytecode.OpConst, 0) // function index
	c.EmitCall(bytecode.OpCallInd, 0, 0)
	c.Emit(bytecode.OpHalt)
	// seven:
	c.EmitOperand(bytecode.OpConst, 7)
	c.Emit(bytecode.OpRet)
	code, err := run(t, c)
	if err != nil {
		t.Fatal(err)
	}
	if code != 7 {
		t.Errorf("exit: got %d, want 7", code)
	}
}

func TestIndirectCallArityMismatchTraps(t *testing.T) {
	c := &bytecode.Chunk{}
	c.AddFunc(bytecode.FuncInfo{Name: "f", Entry: 4, Arity: 0})
	c.EmitOperand(bytecode.OpConst, 0)
	c.EmitOperand(bytecode.OpConst, 99) // stray argument
	c.EmitCall(bytecode.OpCallInd, 0, 1)
	c.Emit(bytecode.OpHalt)
	c.EmitOperand(bytecode.OpConst, 0)
	c.Emit(bytecode.OpRet)
	_, err := run(t, c)
	wantTrap(t, err, TrapBadFunction)
}

func TestCallDepthTraps(t *testing.T) {
	c := &bytecode.Chunk{}
	c.AddFunc(bytecode.FuncInfo{Name: "loop", Entry: 2, Arity: 0})
	c.EmitCall(bytecode.OpCall, 0, 0)
	c.Emit(bytecode.OpHalt)
	// loop: calls itself forever
	c.EmitCall(bytecode.OpCall, 0, 0)
	c.Emit(bytecode.OpRet)

	cfg := DefaultConfig()
	cfg.MaxCallDepth = 64
	_, err := New(c, cfg).Run()
	wantTrap(t, err, TrapCallDepth)
}

func TestGlobals(t *testing.T) {
	c := &bytecode.Chunk{GlobalWords: 2}
	addr := bytecode.DataBase + bytecode.WordSize // second global
	c.EmitOperand(bytecode.OpConst, 7)
	c.EmitOperand(bytecode.OpStoreGlobal, addr)
	c.Emit(bytecode.OpPop)
	c.EmitOperand(bytecode.OpLoadGlobal, addr)
	c.Emit(bytecode.OpHalt)
	code, err := run(t, c)
	if err != nil {
		t.Fatal(err)
	}
	if code != 7 {
		t.Errorf("exit: got %d, want 7", code)
	}
}

func TestStringPoolPlacement(t *testing.T) {
	c := &bytecode.Chunk{GlobalWords: 1}
	c.InternString("hi")
	c.EmitOperand(bytecode.OpStr, 0)
	c.EmitCall(bytecode.OpSyscall, bytecode.SysPuts, 1)
	c.Emit(bytecode.OpHalt)

	var out bytes.Buffer
	v := New(c, DefaultConfig())
	v.Output = &out
	code, err := v.Run()
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != "hi" {
		t.Errorf("output: got %q", out.String())
	}
	if code != 2 { // puts returns the byte count
		t.Errorf("exit: got %d, want 2", code)
	}
}

func TestNullDereferenceTraps(t *testing.T) {
	c := &bytecode.Chunk{}
	c.EmitOperand(bytecode.OpConst, 0)
	c.Emit(bytecode.OpLoad)
	c.Emit(bytecode.OpHalt)
	_, err := run(t, c)
	trap := wantTrap(t, err, TrapBadAddress)
	if trap.PC != 1 {
		t.Errorf("trap pc: got %d, want 1", trap.PC)
	}
}

func TestDivideByZeroTraps(t *testing.T) {
	c := &bytecode.Chunk{}
	c.EmitOperand(bytecode.OpConst, 1)
	c.EmitOperand(bytecode.OpConst, 0)
	c.Emit(bytecode.OpDiv)
	c.Emit(bytecode.OpHalt)
	_, err := run(t, c)
	wantTrap(t, err, TrapDivideByZero)
}

func TestStackUnderflowTraps(t *testing.T) {
	c := &bytecode.Chunk{}
	c.Emit(bytecode.OpPop)
	_, err := run(t, c)
	wantTrap(t, err, TrapStackUnderflow)
}

func TestStackOverflowTraps(t *testing.T) {
	c := &bytecode.Chunk{}
	top := c.EmitOperand(bytecode.OpConst, 1)
	c.EmitOperand(bytecode.OpJmp, int64(top))

	cfg := DefaultConfig()
	cfg.StackSize = 128
	_, err := New(c, cfg).Run()
	wantTrap(t, err, TrapStackOverflow)
}

func TestBadJumpTraps(t *testing.T) {
	c := &bytecode.Chunk{}
	c.EmitOperand(bytecode.OpJmp, 999)
	_, err := run(t, c)
	wantTrap(t, err, TrapBadJump)
}

func TestUnknownSyscallTraps(t *testing.T) {
	c := &bytecode.Chunk{}
	c.EmitCall(bytecode.OpSyscall, 99, 0)
	c.Emit(bytecode.OpHalt)
	_, err := run(t, c)
	wantTrap(t, err, TrapBadSyscall)
}

func TestBadFunctionIndexTraps(t *testing.T) {
	c := &bytecode.Chunk{}
	c.EmitCall(bytecode.OpCall, 5, 0)
	c.Emit(bytecode.OpHalt)
	_, err := run(t, c)
	wantTrap(t, err, TrapBadFunction)
}

func TestGetc(t *testing.T) {
	c := &bytecode.Chunk{}
	c.EmitCall(bytecode.OpSyscall, bytecode.SysGetc, 0)
	c.Emit(bytecode.OpHalt)

	v := New(c, DefaultConfig())
	v.Input = strings.NewReader("A")
	code, err := v.Run()
	if err != nil {
		t.Fatal(err)
	}
	if code != 'A' {
		t.Errorf("getc: got %d, want %d", code, 'A')
	}

	v = New(c, DefaultConfig())
	v.Input = strings.NewReader("")
	code, err = v.Run()
	if err != nil {
		t.Fatal(err)
	}
	if code != -1 {
		t.Errorf("getc at EOF: got %d, want -1", code)
	}
}

func TestMallocMemsetLoad(t *testing.T) {
	c := &bytecode.Chunk{}
	c.EmitOperand(bytecode.OpConst, 16)
	c.EmitCall(bytecode.OpSyscall, bytecode.SysMalloc, 1) // [p]
	c.Emit(bytecode.OpDup)                                // [p p]
	c.EmitOperand(bytecode.OpConst, 65)
	c.EmitOperand(bytecode.OpConst, 3)
	c.EmitCall(bytecode.OpSyscall, bytecode.SysMemset, 3) // [p p]
	c.Emit(bytecode.OpLoadByte)                           // [p 65]
	c.Emit(bytecode.OpHalt)
	code, err := run(t, c)
	if err != nil {
		t.Fatal(err)
	}
	if code != 65 {
		t.Errorf("byte after memset: got %d, want 65", code)
	}
}

func TestMallocRespectsLimit(t *testing.T) {
	c := &bytecode.Chunk{}
	c.EmitOperand(bytecode.OpConst, 4096)
	c.EmitCall(bytecode.OpSyscall, bytecode.SysMalloc, 1)
	c.Emit(bytecode.OpHalt)

	cfg := DefaultConfig()
	cfg.MemoryLimit = 1024
	code, err := New(c, cfg).Run()
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Errorf("oversized malloc: got %d, want 0", code)
	}
}

func TestPrintf(t *testing.T) {
	c := &bytecode.Chunk{}
	c.InternString("n=%d hex=%x ch=%c s=%s pct=%%")
	c.InternString("ok")
	c.EmitOperand(bytecode.OpStr, 0)
	c.EmitOperand(bytecode.OpConst, 42)
	c.EmitOperand(bytecode.OpConst, 255)
	c.EmitOperand(bytecode.OpConst, 'Z')
	c.EmitOperand(bytecode.OpStr, 1)
	c.EmitCall(bytecode.OpSyscall, bytecode.SysPrintf, 5)
	c.Emit(bytecode.OpHalt)

	var out bytes.Buffer
	v := New(c, DefaultConfig())
	v.Output = &out
	if _, err := v.Run(); err != nil {
		t.Fatal(err)
	}
	want := "n=42 hex=ff ch=Z s=ok pct=%"
	if out.String() != want {
		t.Errorf("output: got %q, want %q", out.String(), want)
	}
}

func TestPrintfMissingArgumentTraps(t *testing.T) {
	c := &bytecode.Chunk{}
	c.InternString("%d %d")
	c.EmitOperand(bytecode.OpStr, 0)
	c.EmitOperand(bytecode.OpConst, 1)
	c.EmitCall(bytecode.OpSyscall, bytecode.SysPrintf, 2)
	c.Emit(bytecode.OpHalt)
	_, err := run(t, c)
	wantTrap(t, err, TrapBadSyscall)
}

func TestExitSyscall(t *testing.T) {
	c := &bytecode.Chunk{}
	c.EmitOperand(bytecode.OpConst, 3)
	c.EmitCall(bytecode.OpSyscall, bytecode.SysExit, 1)
	// unreachable
	c.EmitOperand(bytecode.OpConst, 9)
	c.Emit(bytecode.OpHalt)
	code, err := run(t, c)
	if err != nil {
		t.Fatal(err)
	}
	if code != 3 {
		t.Errorf("exit: got %d, want 3", code)
	}
}
