// c4 compiles a small C subset to bytecode and runs it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	"c4go/pkg/compiler"
	"c4go/pkg/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("c4")

func main() {
	showTokens := flag.Bool("show-tokens", false, "Dump the token stream and exit")
	showAST := flag.Bool("show-ast", false, "Dump the parsed AST and exit")
	showBytecode := flag.Bool("show-bytecode", false, "Dump the compiled bytecode and exit")
	configPath := flag.String("config", "c4.toml", "VM configuration file")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: c4 [options] file.c\n\n")
		fmt.Fprintf(os.Stderr, "Compiles the file and runs it; the process exit status is the\n")
		fmt.Fprintf(os.Stderr, "program's return value from main().\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	verbosity := 0
	if *verbose {
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read error:", err)
		os.Exit(1)
	}
	src := string(data)

	tokens, err := compiler.Lex(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lex error:", err)
		os.Exit(1)
	}
	if *showTokens {
		for _, tok := range tokens {
			fmt.Println(tok)
		}
		return
	}

	prog, err := compiler.NewParser(tokens, src).Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, "parse error:", err)
		os.Exit(1)
	}
	if *showAST {
		fmt.Print(prog)
		return
	}

	chunk, err := compiler.Generate(prog)
	if err != nil {
		fmt.Fprintln(os.Stderr, "compile error:", err)
		os.Exit(1)
	}
	log.Infof("compiled %d instructions, %d functions, %d strings",
		len(chunk.Code), len(chunk.Funcs), len(chunk.Strings))
	if *showBytecode {
		fmt.Print(chunk.Disassemble())
		return
	}

	cfg, err := vm.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	code, err := vm.New(chunk, cfg).Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "runtime error:", err)
		os.Exit(1)
	}
	os.Exit(int(code) & 0xff)
}
