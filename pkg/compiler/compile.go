package compiler

import "c4go/pkg/bytecode"

// Compile runs the whole front end: lex, parse, generate. Each stage
// surfaces its own error kind (ParseError from the lexer and parser,
// CompileError from code generation) and the first failure aborts.
func Compile(src string) (*bytecode.Chunk, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}
	prog, err := NewParser(tokens, src).Parse()
	if err != nil {
		return nil, err
	}
	return Generate(prog)
}
