package compiler

import "fmt"

// SymKind classifies a resolved name.
type SymKind int

const (
	SymLocal SymKind = iota // parameter or local, frame slot
	SymGlobal
	SymEnum
	SymFunc
)

var symKindNames = []string{"local", "global", "enum constant", "function"}

func (k SymKind) String() string { return symKindNames[k] }

// Symbol is one resolved binding. Slot is the frame slot for locals and
// the data-segment word index for globals; Value is the constant for
// enum names; FuncIdx indexes the chunk's function table.
type Symbol struct {
	Kind    SymKind
	Name    string
	Type    Type
	Slot    int
	Value   int64
	FuncIdx int
	Arity   int
}

// SymbolTable tracks globals, enum constants, and functions in one flat
// global namespace, plus a per-function local scope. Locals and
// parameters shadow enum constants, which shadow globals; a global
// variable and a function cannot share a name.
type SymbolTable struct {
	globals map[string]*Symbol
	locals  map[string]*Symbol

	nextGlobal int // word index in the data segment
	nextLocal  int // frame slot, parameters first
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{globals: make(map[string]*Symbol)}
}

// GlobalWords is the number of data-segment words globals occupy.
func (s *SymbolTable) GlobalWords() int { return s.nextGlobal }

// LocalSlots is the number of frame slots the current function uses,
// parameters included.
func (s *SymbolTable) LocalSlots() int { return s.nextLocal }

func (s *SymbolTable) defineGlobalName(sym *Symbol, line int) error {
	if prev, ok := s.globals[sym.Name]; ok {
		return &CompileError{
			Line: line,
			Msg:  fmt.Sprintf("%q redeclared (previously a %s)", sym.Name, prev.Kind),
		}
	}
	s.globals[sym.Name] = sym
	return nil
}

// DefineGlobal binds a global variable to the next data-segment word.
func (s *SymbolTable) DefineGlobal(name string, ty Type, line int) error {
	sym := &Symbol{Kind: SymGlobal, Name: name, Type: ty, Slot: s.nextGlobal}
	if err := s.defineGlobalName(sym, line); err != nil {
		return err
	}
	s.nextGlobal++
	return nil
}

// DefineEnum binds an enum constant. Enum constants occupy no storage.
func (s *SymbolTable) DefineEnum(name string, value int64, line int) error {
	sym := &Symbol{Kind: SymEnum, Name: name, Type: TypeInt, Value: value}
	return s.defineGlobalName(sym, line)
}

// DefineFunc binds a function name to its function-table index.
func (s *SymbolTable) DefineFunc(name string, ret Type, idx, arity, line int) error {
	sym := &Symbol{Kind: SymFunc, Name: name, Type: ret, FuncIdx: idx, Arity: arity}
	return s.defineGlobalName(sym, line)
}

// EnterFunction resets the local scope. Parameters are defined first so
// they take slots 0..arity-1, matching the calling convention.
func (s *SymbolTable) EnterFunction() {
	s.locals = make(map[string]*Symbol)
	s.nextLocal = 0
}

// DefineLocal binds a parameter or local to the next frame slot.
func (s *SymbolTable) DefineLocal(name string, ty Type, line int) (*Symbol, error) {
	if _, ok := s.locals[name]; ok {
		return nil, &CompileError{
			Line: line,
			Msg:  fmt.Sprintf("%q redeclared in this function", name),
		}
	}
	sym := &Symbol{Kind: SymLocal, Name: name, Type: ty, Slot: s.nextLocal}
	s.locals[name] = sym
	s.nextLocal++
	return sym, nil
}

// Resolve looks a name up, innermost first. The second result is false
// when the name is unbound.
func (s *SymbolTable) Resolve(name string) (*Symbol, bool) {
	if s.locals != nil {
		if sym, ok := s.locals[name]; ok {
			return sym, true
		}
	}
	sym, ok := s.globals[name]
	return sym, ok
}
