package compiler

import "fmt"

// ParseError reports malformed source structure: an unexpected token, an
// unterminated construct, or an illegal character from the lexer. The first
// error aborts the parse; no partial Program is returned.
type ParseError struct {
	Line    int
	Col     int
	Msg     string // expected-vs-found description
	Snippet string // the offending source line, if available
}

func (e *ParseError) Error() string {
	if e.Snippet != "" {
		return fmt.Sprintf("line %d: %s\n  |> %s", e.Line, e.Msg, e.Snippet)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// CompileError reports well-formed syntax with unresolved semantics: an
// unknown identifier, an arity mismatch, a redeclaration, or a call of a
// non-callable. The first error aborts compilation; no partial Chunk is
// returned.
type CompileError struct {
	Func string // enclosing function, or "" at top level
	Line int
	Msg  string
}

func (e *CompileError) Error() string {
	where := ""
	if e.Func != "" {
		where = fmt.Sprintf(" in %s()", e.Func)
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d%s: %s", e.Line, where, e.Msg)
	}
	if where != "" {
		return fmt.Sprintf("%s: %s", e.Func, e.Msg)
	}
	return e.Msg
}
