package vm

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"c4go/pkg/bytecode"
)

// frame is one function invocation. Its parameters and locals occupy
// the operand stack from base upward; return tears the region down and
// leaves only the return value.
type frame struct {
	base  int // stack index of slot 0
	retPC int
}

// VM executes a compiled Chunk. A VM is single-use: create one per run.
// The Chunk itself is never mutated and may back any number of VMs.
//
// Data memory is one flat byte array: a null guard at address 0, then
// one word per global, then the NUL-terminated string constants, then
// whatever malloc hands out. Words are little-endian.
type VM struct {
	Output io.Writer // defaults to os.Stdout
	Input  io.Reader // defaults to os.Stdin

	cfg   Config
	chunk *bytecode.Chunk

	stack  []int64
	frames []frame
	pc     int

	mem        []byte
	stringAddr []int64

	files []*os.File
}

// New builds a VM with its data memory laid out and strings placed.
func New(chunk *bytecode.Chunk, cfg Config) *VM {
	v := &VM{cfg: cfg, chunk: chunk}

	size := bytecode.DataBase + int64(chunk.GlobalWords)*bytecode.WordSize
	v.stringAddr = make([]int64, len(chunk.Strings))
	for i, s := range chunk.Strings {
		v.stringAddr[i] = size
		size += int64(len(s)) + 1
	}
	v.mem = make([]byte, size)
	for i, s := range chunk.Strings {
		copy(v.mem[v.stringAddr[i]:], s)
	}
	return v
}

func (v *VM) out() io.Writer {
	if v.Output != nil {
		return v.Output
	}
	return os.Stdout
}

func (v *VM) in() io.Reader {
	if v.Input != nil {
		return v.Input
	}
	return os.Stdin
}

func (v *VM) trap(kind TrapKind, pc int, detail string) error {
	return &TrapError{Kind: kind, PC: pc, Detail: detail}
}

//  Stack and memory access

func (v *VM) push(pc int, x int64) error {
	if len(v.stack) >= v.cfg.StackSize {
		return v.trap(TrapStackOverflow, pc, "")
	}
	v.stack = append(v.stack, x)
	return nil
}

func (v *VM) pop(pc int) (int64, error) {
	if len(v.stack) == 0 {
		return 0, v.trap(TrapStackUnderflow, pc, "")
	}
	x := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return x, nil
}

func (v *VM) top(pc int) (int64, error) {
	if len(v.stack) == 0 {
		return 0, v.trap(TrapStackUnderflow, pc, "")
	}
	return v.stack[len(v.stack)-1], nil
}

// checkRange validates a data access of n bytes at addr. Addresses
// below DataBase trap, which is what makes null dereferences fatal.
// addr and n are guest-controlled, so the bound is computed without
// addr+n, which can overflow.
func (v *VM) checkRange(pc int, addr, n int64) error {
	if addr < bytecode.DataBase || n < 0 || addr > int64(len(v.mem)) || n > int64(len(v.mem))-addr {
		return v.trap(TrapBadAddress, pc, fmt.Sprintf("addr=%d len=%d", addr, n))
	}
	return nil
}

func (v *VM) readWord(pc int, addr int64) (int64, error) {
	if err := v.checkRange(pc, addr, bytecode.WordSize); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(v.mem[addr:])), nil
}

func (v *VM) writeWord(pc int, addr, val int64) error {
	if err := v.checkRange(pc, addr, bytecode.WordSize); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(v.mem[addr:], uint64(val))
	return nil
}

func (v *VM) readByte(pc int, addr int64) (int64, error) {
	if err := v.checkRange(pc, addr, 1); err != nil {
		return 0, err
	}
	return int64(v.mem[addr]), nil
}

func (v *VM) writeByte(pc int, addr, val int64) error {
	if err := v.checkRange(pc, addr, 1); err != nil {
		return err
	}
	v.mem[addr] = byte(val)
	return nil
}

// readCString reads a NUL-terminated string starting at addr.
func (v *VM) readCString(pc int, addr int64) (string, error) {
	if addr < bytecode.DataBase || addr >= int64(len(v.mem)) {
		return "", v.trap(TrapBadAddress, pc, fmt.Sprintf("addr=%d", addr))
	}
	for end := addr; end < int64(len(v.mem)); end++ {
		if v.mem[end] == 0 {
			return string(v.mem[addr:end]), nil
		}
	}
	return "", v.trap(TrapBadAddress, pc, "unterminated string")
}

//  Execution

// Run executes the chunk from instruction 0 until halt or trap and
// returns the program's exit code.
func (v *VM) Run() (int64, error) {
	defer v.closeFiles()

	for {
		if v.pc < 0 || v.pc >= len(v.chunk.Code) {
			return 0, v.trap(TrapBadJump, v.pc, "")
		}
		pc := v.pc
		in := v.chunk.Code[pc]
		if v.cfg.Trace {
			fmt.Fprintf(os.Stderr, "%6d  %s\n", pc, in)
		}
		v.pc++

		switch in.Op {
		case bytecode.OpConst:
			if err := v.push(pc, in.Operand); err != nil {
				return 0, err
			}
		case bytecode.OpStr:
			if in.Operand < 0 || in.Operand >= int64(len(v.stringAddr)) {
				return 0, v.trap(TrapBadAddress, pc, "bad string index")
			}
			if err := v.push(pc, v.stringAddr[in.Operand]); err != nil {
				return 0, err
			}
		case bytecode.OpDup:
			x, err := v.top(pc)
			if err != nil {
				return 0, err
			}
			if err := v.push(pc, x); err != nil {
				return 0, err
			}
		case bytecode.OpPop:
			if _, err := v.pop(pc); err != nil {
				return 0, err
			}

		case bytecode.OpLoadGlobal:
			x, err := v.readWord(pc, in.Operand)
			if err != nil {
				return 0, err
			}
			if err := v.push(pc, x); err != nil {
				return 0, err
			}
		case bytecode.OpStoreGlobal:
			x, err := v.top(pc)
			if err != nil {
				return 0, err
			}
			if err := v.writeWord(pc, in.Operand, x); err != nil {
				return 0, err
			}
		case bytecode.OpLoadLocal:
			x, err := v.localSlot(pc, in.Operand)
			if err != nil {
				return 0, err
			}
			if err := v.push(pc, *x); err != nil {
				return 0, err
			}
		case bytecode.OpStoreLocal:
			val, err := v.top(pc)
			if err != nil {
				return 0, err
			}
			slot, err := v.localSlot(pc, in.Operand)
			if err != nil {
				return 0, err
			}
			*slot = val
		case bytecode.OpLoad, bytecode.OpLoadByte:
			addr, err := v.pop(pc)
			if err != nil {
				return 0, err
			}
			var x int64
			if in.Op == bytecode.OpLoad {
				x, err = v.readWord(pc, addr)
			} else {
				x, err = v.readByte(pc, addr)
			}
			if err != nil {
				return 0, err
			}
			if err := v.push(pc, x); err != nil {
				return 0, err
			}
		case bytecode.OpStore, bytecode.OpStoreByte:
			val, err := v.pop(pc)
			if err != nil {
				return 0, err
			}
			addr, err := v.pop(pc)
			if err != nil {
				return 0, err
			}
			if in.Op == bytecode.OpStore {
				err = v.writeWord(pc, addr, val)
			} else {
				err = v.writeByte(pc, addr, val)
				// A byte store evaluates to what memory now holds.
				val = int64(byte(val))
			}
			if err != nil {
				return 0, err
			}
			if err := v.push(pc, val); err != nil {
				return 0, err
			}

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv,
			bytecode.OpMod, bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor,
			bytecode.OpShl, bytecode.OpShr, bytecode.OpEq, bytecode.OpNe,
			bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
			b, err := v.pop(pc)
			if err != nil {
				return 0, err
			}
			a, err := v.pop(pc)
			if err != nil {
				return 0, err
			}
			x, err := v.binop(pc, in.Op, a, b)
			if err != nil {
				return 0, err
			}
			if err := v.push(pc, x); err != nil {
				return 0, err
			}

		case bytecode.OpNeg, bytecode.OpNot, bytecode.OpBitNot:
			a, err := v.pop(pc)
			if err != nil {
				return 0, err
			}
			switch in.Op {
			case bytecode.OpNeg:
				a = -a
			case bytecode.OpNot:
				a = b2i(a == 0)
			case bytecode.OpBitNot:
				a = ^a
			}
			if err := v.push(pc, a); err != nil {
				return 0, err
			}

		case bytecode.OpJmp:
			v.pc = int(in.Operand)
		case bytecode.OpJz, bytecode.OpJnz:
			x, err := v.pop(pc)
			if err != nil {
				return 0, err
			}
			if (x == 0) == (in.Op == bytecode.OpJz) {
				v.pc = int(in.Operand)
			}

		case bytecode.OpCall:
			if err := v.call(pc, in.Operand, in.Arity, false); err != nil {
				return 0, err
			}
		case bytecode.OpCallInd:
			idx, err := v.popCallee(pc, in.Arity)
			if err != nil {
				return 0, err
			}
			if err := v.call(pc, idx, in.Arity, true); err != nil {
				return 0, err
			}
		case bytecode.OpRet:
			if err := v.ret(pc); err != nil {
				return 0, err
			}

		case bytecode.OpSyscall:
			halted, exit, err := v.syscall(pc, in.Operand, in.Arity)
			if err != nil {
				return 0, err
			}
			if halted {
				return exit, nil
			}

		case bytecode.OpHalt:
			if len(v.stack) == 0 {
				return 0, nil
			}
			return v.stack[len(v.stack)-1], nil

		default:
			return 0, v.trap(TrapBadOpcode, pc, in.Op.String())
		}
	}
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (v *VM) binop(pc int, op bytecode.OpCode, a, b int64) (int64, error) {
	switch op {
	case bytecode.OpAdd:
		return a + b, nil
	case bytecode.OpSub:
		return a - b, nil
	case bytecode.OpMul:
		return a * b, nil
	case bytecode.OpDiv:
		if b == 0 {
			return 0, v.trap(TrapDivideByZero, pc, "")
		}
		return a / b, nil
	case bytecode.OpMod:
		if b == 0 {
			return 0, v.trap(TrapDivideByZero, pc, "")
		}
		return a % b, nil
	case bytecode.OpAnd:
		return a & b, nil
	case bytecode.OpOr:
		return a | b, nil
	case bytecode.OpXor:
		return a ^ b, nil
	case bytecode.OpShl:
		return a << (uint64(b) & 63), nil
	case bytecode.OpShr:
		return a >> (uint64(b) & 63), nil
	case bytecode.OpEq:
		return b2i(a == b), nil
	case bytecode.OpNe:
		return b2i(a != b), nil
	case bytecode.OpLt:
		return b2i(a < b), nil
	case bytecode.OpLe:
		return b2i(a <= b), nil
	case bytecode.OpGt:
		return b2i(a > b), nil
	default:
		return b2i(a >= b), nil
	}
}

// localSlot resolves a frame slot to a stack cell.
func (v *VM) localSlot(pc int, slot int64) (*int64, error) {
	if len(v.frames) == 0 {
		return nil, v.trap(TrapStackUnderflow, pc, "no active frame")
	}
	f := v.frames[len(v.frames)-1]
	idx := f.base + int(slot)
	if slot < 0 || idx >= len(v.stack) {
		return nil, v.trap(TrapBadAddress, pc, fmt.Sprintf("frame slot %d", slot))
	}
	return &v.stack[idx], nil
}

// popCallee extracts the function index sitting below the arguments of
// a computed call and closes the gap.
func (v *VM) popCallee(pc int, argc int) (int64, error) {
	at := len(v.stack) - argc - 1
	if at < 0 {
		return 0, v.trap(TrapStackUnderflow, pc, "")
	}
	idx := v.stack[at]
	copy(v.stack[at:], v.stack[at+1:])
	v.stack = v.stack[:len(v.stack)-1]
	return idx, nil
}

// call pushes a frame over the argc values already on the stack and
// jumps to the function's entry. Direct calls have their arity checked
// at compile time; indirect calls are checked here.
func (v *VM) call(pc int, idx int64, argc int, checkArity bool) error {
	if idx < 0 || idx >= int64(len(v.chunk.Funcs)) {
		return v.trap(TrapBadFunction, pc, fmt.Sprintf("index %d", idx))
	}
	fn := v.chunk.Funcs[idx]
	if fn.Entry < 0 {
		return v.trap(TrapBadFunction, pc, fn.Name+" has no body")
	}
	if checkArity && fn.Arity != argc {
		return v.trap(TrapBadFunction, pc,
			fmt.Sprintf("%s takes %d args, got %d", fn.Name, fn.Arity, argc))
	}
	if len(v.frames) >= v.cfg.MaxCallDepth {
		return v.trap(TrapCallDepth, pc, fn.Name)
	}
	base := len(v.stack) - argc
	if base < 0 {
		return v.trap(TrapStackUnderflow, pc, "")
	}
	for i := 0; i < fn.Locals; i++ {
		if err := v.push(pc, 0); err != nil {
			return err
		}
	}
	v.frames = append(v.frames, frame{base: base, retPC: v.pc})
	v.pc = fn.Entry
	return nil
}

// ret pops the current frame, discarding its slots and leaving the
// return value where the arguments were.
func (v *VM) ret(pc int) error {
	val, err := v.pop(pc)
	if err != nil {
		return err
	}
	if len(v.frames) == 0 {
		return v.trap(TrapStackUnderflow, pc, "return outside a function")
	}
	f := v.frames[len(v.frames)-1]
	v.frames = v.frames[:len(v.frames)-1]
	v.stack = v.stack[:f.base]
	v.pc = f.retPC
	return v.push(pc, val)
}

func (v *VM) closeFiles() {
	for _, f := range v.files {
		if f != nil {
			f.Close()
		}
	}
	v.files = nil
}
