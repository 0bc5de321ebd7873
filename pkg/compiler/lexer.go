package compiler

import (
	"fmt"
	"strconv"
	"unicode"
)

// keywords maps source text to its keyword TokenType.
var keywords = map[string]TokenType{
	"void":   VOID,
	"int":    INT,
	"char":   CHAR,
	"enum":   ENUM,
	"if":     IF,
	"else":   ELSE,
	"while":  WHILE,
	"return": RETURN,
	"sizeof": SIZEOF,
}

// Lexer holds all mutable state for a single scanning pass over src.
type Lexer struct {
	src  []rune
	pos  int // index of the next rune to consume
	line int // current 1-based source line
	bol  int // index of the first rune on the current line
}

func newLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), pos: 0, line: 1}
}

// peek returns the rune at the current position without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

// peek2 returns the rune one position ahead of the current position.
func (l *Lexer) peek2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

// advance consumes one rune and returns it.
func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.bol = l.pos
	}
	return r
}

// col returns the 1-based column of the current position.
func (l *Lexer) col() int {
	return l.pos - l.bol + 1
}

func (l *Lexer) errf(line, col int, format string, args ...any) error {
	return &ParseError{Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

// skipIgnored discards whitespace, // line comments, /* */ block comments,
// and #-prefixed preprocessor lines (the grammar has no preprocessor, so
// these are treated as blank lines, matching c4).
func (l *Lexer) skipIgnored() error {
	for l.pos < len(l.src) {
		r := l.peek()
		switch {
		case unicode.IsSpace(r):
			l.advance()
		case r == '/' && l.peek2() == '/':
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
		case r == '/' && l.peek2() == '*':
			startLine, startCol := l.line, l.col()
			l.advance()
			l.advance()
			closed := false
			for l.pos < len(l.src) {
				if l.peek() == '*' && l.peek2() == '/' {
					l.advance()
					l.advance()
					closed = true
					break
				}
				l.advance()
			}
			if !closed {
				return l.errf(startLine, startCol, "unterminated block comment")
			}
		case r == '#':
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
		default:
			return nil
		}
	}
	return nil
}

// scanIdent collects a full identifier or keyword token.
func (l *Lexer) scanIdent() Token {
	line, col := l.line, l.col()
	start := l.pos
	for l.pos < len(l.src) {
		r := l.peek()
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		l.advance()
	}
	lexeme := string(l.src[start:l.pos])
	tt := IDENTIFIER
	if kw, ok := keywords[lexeme]; ok {
		tt = kw
	}
	return Token{Type: tt, Lexeme: lexeme, Line: line, Col: col}
}

// scanInt collects a decimal, octal (0NNN) or hex (0xNN) integer literal.
// The radix is resolved here: the emitted token's Lexeme is always the
// decimal rendering of the value.
func (l *Lexer) scanInt() (Token, error) {
	line, col := l.line, l.col()
	start := l.pos

	base := 10
	if l.peek() == '0' && (l.peek2() == 'x' || l.peek2() == 'X') {
		base = 16
		l.advance()
		l.advance()
		start = l.pos
		for l.pos < len(l.src) && isHexDigit(l.peek()) {
			l.advance()
		}
		if l.pos == start {
			return Token{}, l.errf(line, col, "hex literal with no digits")
		}
	} else if l.peek() == '0' && l.peek2() >= '0' && l.peek2() <= '7' {
		base = 8
		l.advance()
		start = l.pos
		for l.pos < len(l.src) && l.peek() >= '0' && l.peek() <= '7' {
			l.advance()
		}
	} else {
		for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
			l.advance()
		}
	}

	val, err := strconv.ParseInt(string(l.src[start:l.pos]), base, 64)
	if err != nil {
		return Token{}, l.errf(line, col, "integer literal out of range")
	}
	return Token{Type: INTEGER, Lexeme: strconv.FormatInt(val, 10), Line: line, Col: col}, nil
}

func isHexDigit(r rune) bool {
	return unicode.IsDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// escape resolves the character following a backslash.
func (l *Lexer) escape(line, col int) (rune, error) {
	switch r := l.advance(); r {
	case 'n':
		return '\n', nil
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case '0':
		return 0, nil
	case '\\', '\'', '"':
		return r, nil
	case 0:
		return 0, l.errf(line, col, "unterminated escape sequence")
	default:
		// c4 passes unknown escapes through verbatim
		return r, nil
	}
}

// scanChar collects a character literal 'c' and folds it into an INTEGER
// token carrying the character's value, matching the c4 lexer.
func (l *Lexer) scanChar() (Token, error) {
	line, col := l.line, l.col()
	l.advance() // consume opening '

	if l.peek() == '\'' || l.peek() == 0 {
		return Token{}, l.errf(line, col, "empty character literal")
	}
	var val rune
	if l.peek() == '\\' {
		l.advance()
		r, err := l.escape(line, col)
		if err != nil {
			return Token{}, err
		}
		val = r
	} else {
		val = l.advance()
	}
	if l.peek() != '\'' {
		return Token{}, l.errf(line, col, "unterminated character literal")
	}
	l.advance() // consume closing '

	return Token{Type: INTEGER, Lexeme: strconv.FormatInt(int64(val), 10), Line: line, Col: col}, nil
}

// scanString collects a string literal "..." with escapes resolved.
func (l *Lexer) scanString() (Token, error) {
	line, col := l.line, l.col()
	l.advance() // consume opening "
	var val []rune

	for l.pos < len(l.src) {
		r := l.peek()
		if r == '"' {
			l.advance()
			return Token{Type: STRING, Lexeme: string(val), Line: line, Col: col}, nil
		}
		if r == '\n' {
			break
		}
		if r == '\\' {
			l.advance()
			esc, err := l.escape(line, col)
			if err != nil {
				return Token{}, err
			}
			val = append(val, esc)
			continue
		}
		val = append(val, l.advance())
	}
	return Token{}, l.errf(line, col, "unterminated string literal")
}

// nextToken skips ignorable input and returns the next Token.
func (l *Lexer) nextToken() (Token, error) {
	if err := l.skipIgnored(); err != nil {
		return Token{}, err
	}
	if l.pos >= len(l.src) {
		return Token{Type: EOF, Line: l.line, Col: l.col()}, nil
	}

	ch := l.peek()
	line, col := l.line, l.col()

	if unicode.IsLetter(ch) || ch == '_' {
		return l.scanIdent(), nil
	}
	if unicode.IsDigit(ch) {
		return l.scanInt()
	}
	if ch == '"' {
		return l.scanString()
	}
	if ch == '\'' {
		return l.scanChar()
	}

	l.advance() // consume the character before the switch
	two := func(tt TokenType, lexeme string) (Token, error) {
		l.advance()
		return Token{tt, lexeme, line, col}, nil
	}
	switch ch {
	case '{':
		return Token{LBRACE, "{", line, col}, nil
	case '}':
		return Token{RBRACE, "}", line, col}, nil
	case '(':
		return Token{LPAREN, "(", line, col}, nil
	case ')':
		return Token{RPAREN, ")", line, col}, nil
	case '[':
		return Token{LBRACKET, "[", line, col}, nil
	case ']':
		return Token{RBRACKET, "]", line, col}, nil
	case ';':
		return Token{SEMICOLON, ";", line, col}, nil
	case ',':
		return Token{COMMA, ",", line, col}, nil
	case '?':
		return Token{QUESTION, "?", line, col}, nil
	case ':':
		return Token{COLON, ":", line, col}, nil
	case '~':
		return Token{TILDE, "~", line, col}, nil
	case '^':
		return Token{CARET, "^", line, col}, nil
	case '%':
		return Token{PERCENT, "%", line, col}, nil
	case '*':
		return Token{STAR, "*", line, col}, nil
	case '/':
		return Token{SLASH, "/", line, col}, nil
	case '+':
		if l.peek() == '+' {
			return two(PLUS_PLUS, "++")
		}
		return Token{PLUS, "+", line, col}, nil
	case '-':
		if l.peek() == '-' {
			return two(MINUS_MINUS, "--")
		}
		return Token{MINUS, "-", line, col}, nil
	case '&':
		if l.peek() == '&' {
			return two(AND_LOGICAL, "&&")
		}
		return Token{AND, "&", line, col}, nil
	case '|':
		if l.peek() == '|' {
			return two(OR_LOGICAL, "||")
		}
		return Token{PIPE, "|", line, col}, nil
	case '!':
		if l.peek() == '=' {
			return two(NOT_EQ, "!=")
		}
		return Token{NOT, "!", line, col}, nil
	case '=':
		if l.peek() == '=' {
			return two(EQUALS, "==")
		}
		return Token{ASSIGN, "=", line, col}, nil
	case '<':
		if l.peek() == '=' {
			return two(LESS_EQ, "<=")
		}
		if l.peek() == '<' {
			return two(SHL_OP, "<<")
		}
		return Token{LESS, "<", line, col}, nil
	case '>':
		if l.peek() == '=' {
			return two(GREATER_EQ, ">=")
		}
		if l.peek() == '>' {
			return two(SHR_OP, ">>")
		}
		return Token{GREATER, ">", line, col}, nil
	default:
		return Token{}, l.errf(line, col, "unexpected character %q", ch)
	}
}

// Lex tokenises src and returns all tokens including the final EOF token.
// It returns a non-nil error on the first illegal character or unterminated
// construct.
func Lex(src string) ([]Token, error) {
	l := newLexer(src)
	var tokens []Token
	for {
		tok, err := l.nextToken()
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens, nil
		}
	}
}
