package vm

import "fmt"

// TrapKind classifies a fatal runtime fault. Traps abort the run
// immediately; the VM state afterwards is not usable.
type TrapKind int

const (
	TrapStackOverflow TrapKind = iota
	TrapStackUnderflow
	TrapCallDepth
	TrapBadAddress
	TrapDivideByZero
	TrapBadJump
	TrapBadFunction
	TrapBadSyscall
	TrapBadOpcode
)

var trapNames = [...]string{
	TrapStackOverflow:  "operand stack overflow",
	TrapStackUnderflow: "operand stack underflow",
	TrapCallDepth:      "call depth exceeded",
	TrapBadAddress:     "bad memory address",
	TrapDivideByZero:   "division by zero",
	TrapBadJump:        "jump target out of range",
	TrapBadFunction:    "bad function reference",
	TrapBadSyscall:     "unknown syscall",
	TrapBadOpcode:      "bad opcode",
}

func (k TrapKind) String() string {
	if int(k) < len(trapNames) {
		return trapNames[k]
	}
	return fmt.Sprintf("TrapKind(%d)", int(k))
}

// TrapError reports a fatal fault in the executing program, with the
// instruction index at which it occurred.
type TrapError struct {
	Kind   TrapKind
	PC     int
	Detail string
}

func (e *TrapError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("trap at pc=%d: %s (%s)", e.PC, e.Kind, e.Detail)
	}
	return fmt.Sprintf("trap at pc=%d: %s", e.PC, e.Kind)
}
