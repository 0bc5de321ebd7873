package compiler

import (
	"strings"
	"testing"
)

func parseSource(t *testing.T, src string) *Program {
	t.Helper()
	tokens, err := Lex(src)
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	prog, err := NewParser(tokens, src).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return prog
}

// parseExprString parses a lone expression inside a wrapper function and
// renders the resulting subtree, which encodes grouping.
func parseExprString(t *testing.T, expr string) string {
	t.Helper()
	prog := parseSource(t, "int main() { return "+expr+"; }")
	fn := prog.Items[0].(*FuncDef)
	ret := fn.Body.Stmts[0].(*Return)
	return ret.Expr.String()
}

func TestParseExpressionPrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"1 * 2 + 3", "((1 * 2) + 3)"},
		{"1 + 2 - 3", "((1 + 2) - 3)"},
		{"1 < 2 == 3 < 4", "((1 < 2) == (3 < 4))"},
		{"1 | 2 ^ 3 & 4", "(1 | (2 ^ (3 & 4)))"},
		{"1 << 2 + 3", "(1 << (2 + 3))"},
		{"1 && 2 || 3", "((1 && 2) || 3)"},
		{"-x * 2", "((-x) * 2)"},
		{"!x == 0", "((!x) == 0)"},
		{"a = b = 1", "(a = (b = 1))"},
		{"x ? 1 : y ? 2 : 3", "(x ? 1 : (y ? 2 : 3))"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseExprString(t, tt.input)
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseDeterministic(t *testing.T) {
	src := "int g; int main() { g = g * 2 + 1; return g; }"
	a := parseSource(t, src).String()
	b := parseSource(t, src).String()
	if a != b {
		t.Errorf("two parses differ:\n%s\n%s", a, b)
	}
}

func TestParseCastVersusParen(t *testing.T) {
	got := parseExprString(t, "(int)x + 1")
	if got != "((int)x + 1)" {
		t.Errorf("cast: got %s", got)
	}
	got = parseExprString(t, "(x) + 1")
	if got != "(x + 1)" {
		t.Errorf("paren: got %s", got)
	}
	got = parseExprString(t, "(char *)p")
	if got != "(char*)p" {
		t.Errorf("pointer cast: got %s", got)
	}
}

func TestParseUnaryAndPostfix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"*p", "(*p)"},
		{"&g", "(&g)"},
		{"**pp", "(*(*pp))"},
		{"a[1]", "a[1]"},
		{"a[i + 1]", "a[(i + 1)]"},
		{"f(1, 2)", "f(1, 2)"},
		{"f()[0]", "f()[0]"},
		{"++i", "(++i)"},
		{"i++", "(i++)"},
		{"sizeof(int *)", "sizeof(int*)"},
	}
	for _, tt := range tests {
		got := parseExprString(t, tt.input)
		if got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestParseGlobalCommaList(t *testing.T) {
	prog := parseSource(t, "int a, *b, c; int main() { return 0; }")
	if len(prog.Items) != 4 {
		t.Fatalf("items: got %d, want 4", len(prog.Items))
	}
	b := prog.Items[1].(*GlobalDecl)
	if b.Name != "b" || b.Type != (Type{Base: Int, Ptr: 1}) {
		t.Errorf("b: got %s %s", b.Type, b.Name)
	}
}

func TestParseEnum(t *testing.T) {
	prog := parseSource(t, "enum { A, B, C = 5, D }; int main() { return 0; }")
	e := prog.Items[0].(*EnumDecl)
	if len(e.Variants) != 4 {
		t.Fatalf("variants: got %d", len(e.Variants))
	}
	if !e.Variants[2].HasValue || e.Variants[2].Value != 5 {
		t.Errorf("C: got %+v", e.Variants[2])
	}
	if e.Variants[3].HasValue {
		t.Errorf("D should not carry an explicit value")
	}
}

func TestParseEnumNegativeAndTag(t *testing.T) {
	prog := parseSource(t, "enum Flags { Neg = -2, Zero = 0 }; int main() { return 0; }")
	e := prog.Items[0].(*EnumDecl)
	if e.Variants[0].Value != -2 {
		t.Errorf("Neg: got %d", e.Variants[0].Value)
	}
}

func TestParseFunctionShape(t *testing.T) {
	prog := parseSource(t, `
int add(int a, int b) {
	int sum;
	sum = a + b;
	return sum;
}
int main() { return add(1, 2); }
`)
	fn := prog.Items[0].(*FuncDef)
	if fn.Name != "add" || len(fn.Params) != 2 || len(fn.Locals) != 1 {
		t.Fatalf("got %s", fn)
	}
	if fn.Params[1].Name != "b" || fn.Params[1].Type != TypeInt {
		t.Errorf("param b: %+v", fn.Params[1])
	}
}

func TestParseVoidParameterList(t *testing.T) {
	prog := parseSource(t, "int main(void) { return 0; }")
	fn := prog.Items[0].(*FuncDef)
	if len(fn.Params) != 0 {
		t.Errorf("params: got %d, want 0", len(fn.Params))
	}
}

func TestParseStatements(t *testing.T) {
	prog := parseSource(t, `
int main() {
	int i;
	i = 0;
	while (i < 10) {
		if (i == 5) return i; else i = i + 1;
	}
	;
	return 0;
}
`)
	fn := prog.Items[0].(*FuncDef)
	if _, ok := fn.Body.Stmts[1].(*While); !ok {
		t.Errorf("stmt 1: got %T, want *While", fn.Body.Stmts[1])
	}
	if _, ok := fn.Body.Stmts[2].(*Empty); !ok {
		t.Errorf("stmt 2: got %T, want *Empty", fn.Body.Stmts[2])
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{
			"declaration after statement",
			"int main() { x = 1; int x; return 0; }",
			"declarations must precede statements",
		},
		{
			"declaration in nested block",
			"int main() { { int x; } return 0; }",
			"declarations must precede statements",
		},
		{
			"void variable",
			"int main() { void v; return 0; }",
			"declared void",
		},
		{
			"assignment to rvalue",
			"int main() { 1 = 2; return 0; }",
			"invalid assignment target",
		},
		{
			"missing semicolon",
			"int main() { return 0 }",
			"expected SEMICOLON",
		},
		{
			"unclosed paren",
			"int main() { return (1 + 2; }",
			"expected RPAREN",
		},
		{
			"stray top level token",
			"42;",
			"expected a declaration",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := Lex(tt.input)
			if err != nil {
				t.Fatalf("Lex: %v", err)
			}
			_, err = NewParser(tokens, tt.input).Parse()
			if err == nil {
				t.Fatal("expected an error")
			}
			var perr *ParseError
			ok := false
			if perr, ok = err.(*ParseError); !ok {
				t.Fatalf("error is %T, want *ParseError", err)
			}
			if !strings.Contains(perr.Msg, tt.wantMsg) {
				t.Errorf("message %q does not contain %q", perr.Msg, tt.wantMsg)
			}
		})
	}
}

func TestParseErrorCarriesSnippet(t *testing.T) {
	src := "int main() {\n\treturn 0\n}\n"
	tokens, err := Lex(src)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewParser(tokens, src).Parse()
	perr, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("error is %T", err)
	}
	if perr.Line != 3 {
		t.Errorf("line: got %d, want 3", perr.Line)
	}
	if !strings.Contains(err.Error(), "|>") {
		t.Errorf("rendered error lacks snippet: %q", err.Error())
	}
}
