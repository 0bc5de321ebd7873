package vm

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"c4go/pkg/bytecode"
)

// syscall dispatches one builtin. Arguments were pushed left to right;
// the result (when the call returns at all) is pushed back. The first
// return value is true when the program asked to exit.
func (v *VM) syscall(pc int, id int64, argc int) (bool, int64, error) {
	if len(v.stack) < argc {
		return false, 0, v.trap(TrapStackUnderflow, pc, "")
	}
	args := make([]int64, argc)
	copy(args, v.stack[len(v.stack)-argc:])
	v.stack = v.stack[:len(v.stack)-argc]

	fixed := func(want int) error {
		if argc != want {
			return v.trap(TrapBadSyscall, pc,
				fmt.Sprintf("%s takes %d args, got %d", bytecode.SyscallName(id), want, argc))
		}
		return nil
	}

	var result int64
	switch id {
	case bytecode.SysExit:
		if err := fixed(1); err != nil {
			return false, 0, err
		}
		return true, args[0], nil

	case bytecode.SysPutc:
		if err := fixed(1); err != nil {
			return false, 0, err
		}
		fmt.Fprintf(v.out(), "%c", byte(args[0]))
		result = args[0]

	case bytecode.SysGetc:
		if err := fixed(0); err != nil {
			return false, 0, err
		}
		var buf [1]byte
		if _, err := io.ReadFull(v.in(), buf[:]); err != nil {
			result = -1
		} else {
			result = int64(buf[0])
		}

	case bytecode.SysPuts:
		if err := fixed(1); err != nil {
			return false, 0, err
		}
		s, err := v.readCString(pc, args[0])
		if err != nil {
			return false, 0, err
		}
		io.WriteString(v.out(), s)
		result = int64(len(s))

	case bytecode.SysPrintf:
		if argc < 1 {
			return false, 0, v.trap(TrapBadSyscall, pc, "printf needs a format string")
		}
		n, err := v.printf(pc, args[0], args[1:])
		if err != nil {
			return false, 0, err
		}
		result = n

	case bytecode.SysMalloc:
		if err := fixed(1); err != nil {
			return false, 0, err
		}
		result = v.malloc(args[0])

	case bytecode.SysFree:
		// The heap is a bump allocator; free is accepted and ignored.
		if err := fixed(1); err != nil {
			return false, 0, err
		}

	case bytecode.SysMemset:
		if err := fixed(3); err != nil {
			return false, 0, err
		}
		addr, val, n := args[0], args[1], args[2]
		if err := v.checkRange(pc, addr, n); err != nil {
			return false, 0, err
		}
		for i := int64(0); i < n; i++ {
			v.mem[addr+i] = byte(val)
		}
		result = addr

	case bytecode.SysMemcpy:
		if err := fixed(3); err != nil {
			return false, 0, err
		}
		dst, src, n := args[0], args[1], args[2]
		if err := v.checkRange(pc, dst, n); err != nil {
			return false, 0, err
		}
		if err := v.checkRange(pc, src, n); err != nil {
			return false, 0, err
		}
		copy(v.mem[dst:dst+n], v.mem[src:src+n])
		result = dst

	case bytecode.SysOpen:
		if err := fixed(2); err != nil {
			return false, 0, err
		}
		path, err := v.readCString(pc, args[0])
		if err != nil {
			return false, 0, err
		}
		result = v.open(path)

	case bytecode.SysRead:
		if err := fixed(3); err != nil {
			return false, 0, err
		}
		n, err := v.read(pc, args[0], args[1], args[2])
		if err != nil {
			return false, 0, err
		}
		result = n

	case bytecode.SysClose:
		if err := fixed(1); err != nil {
			return false, 0, err
		}
		result = v.close(args[0])

	default:
		return false, 0, v.trap(TrapBadSyscall, pc, strconv.FormatInt(id, 10))
	}

	return false, 0, v.push(pc, result)
}

// printf handles the %d, %x, %c, %s and %% verbs and returns the number
// of bytes written. Too few arguments for the format is a trap, not
// silent garbage.
func (v *VM) printf(pc int, fmtAddr int64, args []int64) (int64, error) {
	format, err := v.readCString(pc, fmtAddr)
	if err != nil {
		return 0, err
	}
	next := func() (int64, error) {
		if len(args) == 0 {
			return 0, v.trap(TrapBadSyscall, pc, "printf: not enough arguments")
		}
		a := args[0]
		args = args[1:]
		return a, nil
	}

	var out []byte
	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' || i+1 >= len(format) {
			out = append(out, ch)
			continue
		}
		i++
		switch format[i] {
		case 'd':
			a, err := next()
			if err != nil {
				return 0, err
			}
			out = append(out, strconv.FormatInt(a, 10)...)
		case 'x':
			a, err := next()
			if err != nil {
				return 0, err
			}
			out = append(out, strconv.FormatInt(a, 16)...)
		case 'c':
			a, err := next()
			if err != nil {
				return 0, err
			}
			out = append(out, byte(a))
		case 's':
			a, err := next()
			if err != nil {
				return 0, err
			}
			s, err := v.readCString(pc, a)
			if err != nil {
				return 0, err
			}
			out = append(out, s...)
		case '%':
			out = append(out, '%')
		default:
			out = append(out, '%', format[i])
		}
	}
	n, _ := v.out().Write(out)
	return int64(n), nil
}

// malloc extends data memory by n zeroed bytes and returns their
// address, or 0 when the request is unsatisfiable.
func (v *VM) malloc(n int64) int64 {
	// len(mem)+n can overflow for guest-chosen n, so compare against
	// the headroom instead.
	if n <= 0 || n > int64(v.cfg.MemoryLimit)-int64(len(v.mem)) {
		return 0
	}
	addr := int64(len(v.mem))
	v.mem = append(v.mem, make([]byte, n)...)
	return addr
}

// Guest file descriptors start above stdin/stdout/stderr.
const fdBase = 3

func (v *VM) open(path string) int64 {
	f, err := os.Open(path)
	if err != nil {
		return -1
	}
	v.files = append(v.files, f)
	return int64(len(v.files)-1) + fdBase
}

func (v *VM) file(fd int64) *os.File {
	i := fd - fdBase
	if i < 0 || i >= int64(len(v.files)) {
		return nil
	}
	return v.files[i]
}

func (v *VM) read(pc int, fd, buf, n int64) (int64, error) {
	f := v.file(fd)
	if f == nil {
		return -1, nil
	}
	if err := v.checkRange(pc, buf, n); err != nil {
		return 0, err
	}
	got, err := io.ReadFull(f, v.mem[buf:buf+n])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return -1, nil
	}
	return int64(got), nil
}

func (v *VM) close(fd int64) int64 {
	f := v.file(fd)
	if f == nil {
		return -1
	}
	f.Close()
	v.files[fd-fdBase] = nil
	return 0
}
