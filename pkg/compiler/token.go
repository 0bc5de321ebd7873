package compiler

import "fmt"

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input

	// Literals
	IDENTIFIER // variable / function name
	INTEGER    // integer literal; radix already resolved, Lexeme is decimal
	STRING     // string literal "..." with escapes resolved

	// Keywords
	VOID   // "void"
	INT    // "int"
	CHAR   // "char"
	ENUM   // "enum"
	IF     // "if"
	ELSE   // "else"
	WHILE  // "while"
	RETURN // "return"
	SIZEOF // "sizeof"

	// Paired delimiters
	LBRACE   // {
	RBRACE   // }
	LPAREN   // (
	RPAREN   // )
	LBRACKET // [
	RBRACKET // ]

	// Punctuation
	SEMICOLON // ;
	COMMA     // ,
	QUESTION  // ?
	COLON     // :

	// Operators
	PLUS        // +
	MINUS       // -
	STAR        // * (multiplication or dereference)
	SLASH       // /
	PERCENT     // %
	AND         // & (binary bitwise AND, or unary address-of)
	PIPE        // |
	CARET       // ^
	TILDE       // ~
	SHL_OP      // <<
	SHR_OP      // >>
	AND_LOGICAL // &&
	OR_LOGICAL  // ||
	NOT         // !
	PLUS_PLUS   // ++
	MINUS_MINUS // --

	ASSIGN     // =
	EQUALS     // ==
	NOT_EQ     // !=
	LESS       // <
	GREATER    // >
	LESS_EQ    // <=
	GREATER_EQ // >=
)

var tokenNames = [...]string{
	EOF:         "EOF",
	IDENTIFIER:  "IDENTIFIER",
	INTEGER:     "INTEGER",
	STRING:      "STRING",
	VOID:        "VOID",
	INT:         "INT",
	CHAR:        "CHAR",
	ENUM:        "ENUM",
	IF:          "IF",
	ELSE:        "ELSE",
	WHILE:       "WHILE",
	RETURN:      "RETURN",
	SIZEOF:      "SIZEOF",
	LBRACE:      "LBRACE",
	RBRACE:      "RBRACE",
	LPAREN:      "LPAREN",
	RPAREN:      "RPAREN",
	LBRACKET:    "LBRACKET",
	RBRACKET:    "RBRACKET",
	SEMICOLON:   "SEMICOLON",
	COMMA:       "COMMA",
	QUESTION:    "QUESTION",
	COLON:       "COLON",
	PLUS:        "PLUS",
	MINUS:       "MINUS",
	STAR:        "STAR",
	SLASH:       "SLASH",
	PERCENT:     "PERCENT",
	AND:         "AND",
	PIPE:        "PIPE",
	CARET:       "CARET",
	TILDE:       "TILDE",
	SHL_OP:      "SHL_OP",
	SHR_OP:      "SHR_OP",
	AND_LOGICAL: "AND_LOGICAL",
	OR_LOGICAL:  "OR_LOGICAL",
	NOT:         "NOT",
	PLUS_PLUS:   "PLUS_PLUS",
	MINUS_MINUS: "MINUS_MINUS",
	ASSIGN:      "ASSIGN",
	EQUALS:      "EQUALS",
	NOT_EQ:      "NOT_EQ",
	LESS:        "LESS",
	GREATER:     "GREATER",
	LESS_EQ:     "LESS_EQ",
	GREATER_EQ:  "GREATER_EQ",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type   TokenType
	Lexeme string // the matched source text (escapes/radix already resolved)
	Line   int    // 1-based source line
	Col    int    // 1-based source column
}

func (t Token) String() string {
	return fmt.Sprintf("%-11s %-14q  line %d", t.Type, t.Lexeme, t.Line)
}
