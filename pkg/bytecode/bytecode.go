// Package bytecode defines the in-memory instruction set shared by the
// compiler and the virtual machine: opcodes, fixed-shape instructions, and
// the Chunk that holds a whole compiled program.
package bytecode

import (
	"fmt"
	"strings"
)

// OpCode identifies a single VM operation.
type OpCode uint8

const (
	// Stack
	OpConst OpCode = iota // push Operand as an immediate value
	OpStr                 // push the data address of string-pool entry Operand
	OpDup                 // duplicate the top of the stack
	OpPop                 // discard the top of the stack

	// Loads and stores. Store opcodes leave the stored value on the stack
	// so that assignment composes as an expression.
	OpLoadGlobal  // push the word at data address Operand
	OpStoreGlobal // pop v; write v at data address Operand; push v
	OpLoadLocal   // push frame slot Operand
	OpStoreLocal  // pop v; write v to frame slot Operand; push v
	OpLoad        // pop addr; push the word at addr
	OpLoadByte    // pop addr; push the byte at addr, zero-extended
	OpStore       // pop v, addr; write word v at addr; push v
	OpStoreByte   // pop v, addr; write byte v at addr; push v

	// Arithmetic and bitwise (pop b, pop a, push a op b)
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr

	// Comparisons (push 0 or 1)
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// Unary
	OpNeg    // arithmetic negation
	OpNot    // logical negation: 0 -> 1, nonzero -> 0
	OpBitNot // bitwise complement

	// Control flow. Jump targets are absolute instruction indices.
	OpJmp // pc = Operand
	OpJz  // pop v; if v == 0, pc = Operand
	OpJnz // pop v; if v != 0, pc = Operand

	// Calls. Operand is a function-table index; Arity is the argument count.
	OpCall
	OpCallInd // pop the function-table index off the stack instead
	OpRet     // pop return value, tear down the frame, push it back

	OpSyscall // Operand is a syscall id; Arity is the argument count
	OpHalt    // stop; the top of the stack (if any) is the exit code
)

var opNames = [...]string{
	OpConst:       "CONST",
	OpStr:         "STR",
	OpDup:         "DUP",
	OpPop:         "POP",
	OpLoadGlobal:  "LOADG",
	OpStoreGlobal: "STOREG",
	OpLoadLocal:   "LOADL",
	OpStoreLocal:  "STOREL",
	OpLoad:        "LOAD",
	OpLoadByte:    "LOADB",
	OpStore:       "STORE",
	OpStoreByte:   "STOREB",
	OpAdd:         "ADD",
	OpSub:         "SUB",
	OpMul:         "MUL",
	OpDiv:         "DIV",
	OpMod:         "MOD",
	OpAnd:         "AND",
	OpOr:          "OR",
	OpXor:         "XOR",
	OpShl:         "SHL",
	OpShr:         "SHR",
	OpEq:          "EQ",
	OpNe:          "NE",
	OpLt:          "LT",
	OpLe:          "LE",
	OpGt:          "GT",
	OpGe:          "GE",
	OpNeg:         "NEG",
	OpNot:         "NOT",
	OpBitNot:      "BITNOT",
	OpJmp:         "JMP",
	OpJz:          "JZ",
	OpJnz:         "JNZ",
	OpCall:        "CALL",
	OpCallInd:     "CALLIND",
	OpRet:         "RET",
	OpSyscall:     "SYSCALL",
	OpHalt:        "HALT",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("OpCode(%d)", int(op))
}

// hasOperand reports whether op carries a meaningful Operand field.
func (op OpCode) hasOperand() bool {
	switch op {
	case OpConst, OpStr, OpLoadGlobal, OpStoreGlobal, OpLoadLocal,
		OpStoreLocal, OpJmp, OpJz, OpJnz, OpCall, OpSyscall:
		return true
	}
	return false
}

const (
	// WordSize is the width in bytes of a stack word, an int, and a
	// pointer.
	WordSize int64 = 8

	// DataBase is the first valid data address. Addresses below it trap,
	// so 0 serves as a null pointer and malloc's failure sentinel.
	DataBase int64 = 8
)

// Syscall ids. The table is closed: the VM traps on anything else.
const (
	SysExit int64 = iota
	SysPutc
	SysGetc
	SysPuts
	SysPrintf
	SysMalloc
	SysFree
	SysMemset
	SysMemcpy
	SysOpen
	SysRead
	SysClose
)

var sysNames = [...]string{
	SysExit:   "exit",
	SysPutc:   "putc",
	SysGetc:   "getc",
	SysPuts:   "puts",
	SysPrintf: "printf",
	SysMalloc: "malloc",
	SysFree:   "free",
	SysMemset: "memset",
	SysMemcpy: "memcpy",
	SysOpen:   "open",
	SysRead:   "read",
	SysClose:  "close",
}

// SyscallName returns the source-level name for a syscall id, or "".
func SyscallName(id int64) string {
	if id >= 0 && id < int64(len(sysNames)) {
		return sysNames[id]
	}
	return ""
}

// SyscallID returns the syscall id for a source-level name.
func SyscallID(name string) (int64, bool) {
	for id, n := range sysNames {
		if n == name {
			return int64(id), true
		}
	}
	return 0, false
}

// Instruction is one decoded VM operation. The shape is fixed: Operand is
// the immediate, pool index, data address, frame slot, jump target, function
// index or syscall id, depending on Op; Arity is the argument count for
// call and syscall instructions and zero elsewhere.
type Instruction struct {
	Op      OpCode
	Operand int64
	Arity   int
}

func (in Instruction) String() string {
	switch {
	case in.Op == OpCall || in.Op == OpCallInd || in.Op == OpSyscall:
		return fmt.Sprintf("%s %d, %d", in.Op, in.Operand, in.Arity)
	case in.Op.hasOperand():
		return fmt.Sprintf("%s %d", in.Op, in.Operand)
	default:
		return in.Op.String()
	}
}

// FuncInfo describes one compiled function: where it starts and how wide its
// frame is. The compiler registers every signature before compiling any
// body, so Entry may be a placeholder until the body has been emitted.
type FuncInfo struct {
	Name   string
	Entry  int // instruction index of the first body instruction
	Arity  int // parameter count
	Locals int // local variable count (excluding parameters)
}

// Chunk is a whole compiled program: the instruction sequence, the
// deduplicated string pool, the function table, and the size of the global
// segment. A Chunk is immutable once compilation finishes and may be run
// any number of times.
type Chunk struct {
	Code        []Instruction
	Strings     []string
	Funcs       []FuncInfo
	GlobalWords int // number of 8-byte global slots

	strIndex map[string]int64
}

// Emit appends an instruction with no operand and returns its index.
func (c *Chunk) Emit(op OpCode) int {
	c.Code = append(c.Code, Instruction{Op: op})
	return len(c.Code) - 1
}

// EmitOperand appends an instruction with one operand and returns its index.
func (c *Chunk) EmitOperand(op OpCode, operand int64) int {
	c.Code = append(c.Code, Instruction{Op: op, Operand: operand})
	return len(c.Code) - 1
}

// EmitCall appends a call or syscall instruction.
func (c *Chunk) EmitCall(op OpCode, operand int64, arity int) int {
	c.Code = append(c.Code, Instruction{Op: op, Operand: operand, Arity: arity})
	return len(c.Code) - 1
}

// EmitJump appends a jump with a placeholder target and returns its index
// for later patching.
func (c *Chunk) EmitJump(op OpCode) int {
	return c.EmitOperand(op, -1)
}

// PatchJump points the jump at index at to the next instruction to be
// emitted.
func (c *Chunk) PatchJump(at int) {
	c.Code[at].Operand = int64(len(c.Code))
}

// InternString adds s to the string pool if absent and returns its index.
func (c *Chunk) InternString(s string) int64 {
	if c.strIndex == nil {
		c.strIndex = make(map[string]int64)
	}
	if idx, ok := c.strIndex[s]; ok {
		return idx
	}
	idx := int64(len(c.Strings))
	c.Strings = append(c.Strings, s)
	c.strIndex[s] = idx
	return idx
}

// AddFunc registers a function signature and returns its table index.
func (c *Chunk) AddFunc(fn FuncInfo) int64 {
	c.Funcs = append(c.Funcs, fn)
	return int64(len(c.Funcs) - 1)
}

// Func looks a function up by name.
func (c *Chunk) Func(name string) (FuncInfo, bool) {
	for _, fn := range c.Funcs {
		if fn.Name == name {
			return fn, true
		}
	}
	return FuncInfo{}, false
}

// Disassemble renders the chunk as one instruction per line, annotating
// function entry points. Intended for --show-bytecode and debugging.
func (c *Chunk) Disassemble() string {
	entries := make(map[int]string, len(c.Funcs))
	for _, fn := range c.Funcs {
		entries[fn.Entry] = fn.Name
	}
	var sb strings.Builder
	for i, in := range c.Code {
		if name, ok := entries[i]; ok {
			fmt.Fprintf(&sb, "%s:\n", name)
		}
		fmt.Fprintf(&sb, "%04d  %s", i, in)
		if in.Op == OpStr && in.Operand >= 0 && in.Operand < int64(len(c.Strings)) {
			fmt.Fprintf(&sb, "  ; %q", c.Strings[in.Operand])
		}
		if in.Op == OpCall && in.Operand >= 0 && in.Operand < int64(len(c.Funcs)) {
			fmt.Fprintf(&sb, "  ; %s", c.Funcs[in.Operand].Name)
		}
		if in.Op == OpSyscall {
			fmt.Fprintf(&sb, "  ; %s", SyscallName(in.Operand))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
