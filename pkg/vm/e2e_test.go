package vm

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"c4go/pkg/compiler"
)

// runProgram compiles a source program and runs it with captured stdout.
func runProgram(t *testing.T, src, stdin string, cfg Config) (int64, string, error) {
	t.Helper()
	chunk, err := compiler.Compile(src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	var out bytes.Buffer
	v := New(chunk, cfg)
	v.Output = &out
	v.Input = strings.NewReader(stdin)
	code, err := v.Run()
	return code, out.String(), err
}

func TestPrograms(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantExit int64
		wantOut  string
	}{
		{
			name: "factorial",
			src: `
int factorial(int n) {
	if (n < 2) return 1;
	return n * factorial(n - 1);
}
int main() { return factorial(5); }
`,
			wantExit: 120,
		},
		{
			name: "while loop sum",
			src: `
int main() {
	int i, sum;
	i = 1;
	sum = 0;
	while (i <= 10) {
		sum = sum + i;
		i++;
	}
	return sum;
}
`,
			wantExit: 55,
		},
		{
			name: "mutual recursion with forward reference",
			src: `
int isEven(int n) {
	if (n == 0) return 1;
	return isOdd(n - 1);
}
int isOdd(int n) {
	if (n == 0) return 0;
	return isEven(n - 1);
}
int main() { return isEven(10); }
`,
			wantExit: 1,
		},
		{
			name: "globals through pointers",
			src: `
int g;
int main() {
	int *p;
	p = &g;
	*p = 42;
	return g;
}
`,
			wantExit: 42,
		},
		{
			name: "pointer scaling char versus int",
			src: `
int main() {
	char *p;
	int *q;
	p = malloc(16);
	q = malloc(32);
	return ((int)(p + 1) - (int)p) * 100 + ((int)(q + 1) - (int)q);
}
`,
			wantExit: 108, // 1 byte for char, 8 for int
		},
		{
			name: "short circuit skips side effects",
			src: `
int called;
int f() {
	called = 1;
	putc(88);
	return 1;
}
int main() {
	0 && f();
	1 || f();
	return called;
}
`,
			wantExit: 0,
			wantOut:  "",
		},
		{
			name: "logical operators produce 0 or 1",
			src: `
int main() {
	return (5 && 3) * 10 + (0 || 7);
}
`,
			wantExit: 11,
		},
		{
			name: "ternary",
			src: `
int main() {
	int x;
	x = 3;
	return x > 2 ? 42 : 7;
}
`,
			wantExit: 42,
		},
		{
			name: "post and pre increment",
			src: `
int main() {
	int i, r;
	i = 5;
	r = i++;
	return r * 100 + i + --i;
}
`,
			wantExit: 511, // r=5, i becomes 6 then 5 again
		},
		{
			name: "heap array indexing",
			src: `
int main() {
	int *a;
	int i, sum;
	a = malloc(sizeof(int) * 4);
	i = 0;
	while (i < 4) {
		a[i] = i * i;
		i++;
	}
	sum = 0;
	i = 0;
	while (i < 4) {
		sum = sum + a[i];
		i++;
	}
	free(a);
	return sum;
}
`,
			wantExit: 14,
		},
		{
			name: "string walk",
			src: `
int main() {
	char *s;
	int n;
	s = "abc";
	n = 0;
	while (*s) {
		n++;
		s++;
	}
	return n;
}
`,
			wantExit: 3,
		},
		{
			name: "char arithmetic",
			src: `
int main() { return 'a' + 1 - 'A'; }
`,
			wantExit: 33,
		},
		{
			name: "printf",
			src: `
int main() {
	printf("%d-%s!\n", 42, "ok");
	return 0;
}
`,
			wantExit: 0,
			wantOut:  "42-ok!\n",
		},
		{
			name: "puts and putc",
			src: `
int main() {
	puts("hi ");
	putc('!');
	return 0;
}
`,
			wantExit: 0,
			wantOut:  "hi !",
		},
		{
			name: "exit syscall stops immediately",
			src: `
int main() {
	exit(3);
	putc(88);
	return 9;
}
`,
			wantExit: 3,
			wantOut:  "",
		},
		{
			name: "enum arithmetic",
			src: `
enum { Red, Green, Blue = 10, Alpha };
int main() { return Red + Green * 2 + Blue * 3 + Alpha; }
`,
			wantExit: 43, // 0 + 2 + 30 + 11
		},
		{
			name: "computed call through variable",
			src: `
int seven() { return 7; }
int nine() { return 9; }
int main() {
	int f;
	f = seven;
	if (0) f = nine;
	return f();
}
`,
			wantExit: 7,
		},
		{
			name: "weak typing pointer casts are bit exact",
			src: `
int main() {
	char *p;
	int raw;
	p = malloc(8);
	raw = (int)p;
	return (char *)raw == p;
}
`,
			wantExit: 1,
		},
		{
			name: "memcpy",
			src: `
int main() {
	char *a;
	char *b;
	a = "xyz";
	b = malloc(4);
	memcpy(b, a, 3);
	return b[2];
}
`,
			wantExit: 'z',
		},
		{
			name: "assignment chains",
			src: `
int a, b, c;
int main() {
	a = b = c = 5;
	return a + b + c;
}
`,
			wantExit: 15,
		},
		{
			name: "nested blocks",
			src: `
int main() {
	int x;
	x = 1;
	{
		x = x + 1;
		{ x = x * 10; }
	}
	return x;
}
`,
			wantExit: 20,
		},
		{
			name: "byte stores through char pointer",
			src: `
int main() {
	char *s;
	s = malloc(4);
	s[0] = 'o';
	s[1] = 'k';
	s[2] = 0;
	puts(s);
	return 0;
}
`,
			wantExit: 0,
			wantOut:  "ok",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, err := runProgram(t, tt.src, "", DefaultConfig())
			if err != nil {
				t.Fatal(err)
			}
			if code != tt.wantExit {
				t.Errorf("exit: got %d, want %d", code, tt.wantExit)
			}
			if out != tt.wantOut {
				t.Errorf("output: got %q, want %q", out, tt.wantOut)
			}
		})
	}
}

func TestEnumDefaulting(t *testing.T) {
	// Each variant's value observed through a separate run.
	wants := map[string]int64{"A": 0, "B": 1, "C": 5, "D": 6}
	for name, want := range wants {
		src := fmt.Sprintf("enum { A, B, C = 5, D };\nint main() { return %s; }\n", name)
		code, _, err := runProgram(t, src, "", DefaultConfig())
		if err != nil {
			t.Fatal(err)
		}
		if code != want {
			t.Errorf("%s: got %d, want %d", name, code, want)
		}
	}
}

func TestInfiniteRecursionTraps(t *testing.T) {
	src := `
int f() { return f(); }
int main() { return f(); }
`
	cfg := DefaultConfig()
	cfg.MaxCallDepth = 1024
	_, _, err := runProgram(t, src, "", cfg)
	wantTrap(t, err, TrapCallDepth)
}

func TestNullPointerProgramTraps(t *testing.T) {
	src := `
int main() {
	int *p;
	p = 0;
	return *p;
}
`
	_, _, err := runProgram(t, src, "", DefaultConfig())
	wantTrap(t, err, TrapBadAddress)
}

func TestDivideByZeroProgramTraps(t *testing.T) {
	src := `
int main() {
	int z;
	z = 0;
	return 1 / z;
}
`
	_, _, err := runProgram(t, src, "", DefaultConfig())
	wantTrap(t, err, TrapDivideByZero)
}

func TestHugeAddressDereferenceTraps(t *testing.T) {
	src := `
int main() {
	int *p;
	p = (int *)0x7fffffffffffffff;
	return *p;
}
`
	_, _, err := runProgram(t, src, "", DefaultConfig())
	wantTrap(t, err, TrapBadAddress)
}

func TestHugeMemsetLengthTraps(t *testing.T) {
	src := `
int main() {
	char *b;
	b = malloc(8);
	memset(b, 0, 0x7fffffffffffffff);
	return 0;
}
`
	_, _, err := runProgram(t, src, "", DefaultConfig())
	wantTrap(t, err, TrapBadAddress)
}

func TestHugeMallocReturnsNull(t *testing.T) {
	src := `
int main() {
	char *p;
	p = malloc(0x7fffffffffffffff);
	return p == 0;
}
`
	code, _, err := runProgram(t, src, "", DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if code != 1 {
		t.Errorf("oversized malloc: got exit %d, want 1", code)
	}
}

func TestByteStoreValueTruncates(t *testing.T) {
	src := `
int main() {
	char *s;
	s = malloc(2);
	return (s[0] = 257);
}
`
	code, _, err := runProgram(t, src, "", DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if code != 1 {
		t.Errorf("byte store value: got exit %d, want 1", code)
	}
}

func TestEchoStdin(t *testing.T) {
	src := `
int main() {
	int c, n;
	n = 0;
	c = getc();
	while (c != -1) {
		putc(c);
		n++;
		c = getc();
	}
	return n;
}
`
	code, out, err := runProgram(t, src, "hi", DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if out != "hi" || code != 2 {
		t.Errorf("got %q exit %d, want %q exit 2", out, code, "hi")
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := fmt.Sprintf(`
int main() {
	int fd, n;
	char *buf;
	buf = malloc(64);
	fd = open("%s", 0);
	if (fd < 0) return 1;
	n = read(fd, buf, 5);
	close(fd);
	if (n != 5) return 2;
	return buf[0];
}
`, path)
	code, _, err := runProgram(t, src, "", DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if code != 'h' {
		t.Errorf("got %d, want %d", code, 'h')
	}
}

func TestOpenMissingFileReturnsMinusOne(t *testing.T) {
	src := `
int main() {
	int fd;
	fd = open("/definitely/not/here", 0);
	if (fd == -1) return 0;
	return 1;
}
`
	code, _, err := runProgram(t, src, "", DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Errorf("exit: got %d, want 0", code)
	}
}

func TestSelfCheckFixture(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", "selfcheck.c"))
	if err != nil {
		t.Fatal(err)
	}
	code, out, err := runProgram(t, string(data), "", DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Errorf("selfcheck failed with exit %d, output:\n%s", code, out)
	}
}
