package formula

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/mesh-intelligence/gridstore/pkg/types"
)

// TokenType identifies the kind of a formula token.
type TokenType int

const (
	TokenNumber TokenType = iota
	TokenString
	TokenBool
	TokenCell
	TokenRange
	TokenFunction
	TokenOperator
)

// Token is one term or operator of a formula. Function tokens carry their
// arguments, each tokenized on its own.
type Token struct {
	Type TokenType
	Num  float64
	Bool bool

	// Text is the string literal, the operator, or the upper-cased
	// function name.
	Text string

	// Ref is the cell of a cell token or the first corner of a range; End
	// is the second corner.
	Ref types.CellRef
	End types.CellRef

	Args [][]Token
}

// Lexing errors. The evaluator turns them into #ERROR!.
var (
	errUnterminatedString = errors.New("unterminated string literal")
	errUnbalancedParens   = errors.New("unbalanced parentheses")
	errBadRange           = errors.New("malformed range")
	errBadNumber          = errors.New("malformed number")
)

// Tokenize splits a formula into tokens. A leading "=" is optional.
func Tokenize(formula string) ([]Token, error) {
	expr := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(formula), "="))
	l := &lexer{runes: []rune(expr)}
	return l.scan(false)
}

type lexer struct {
	runes []rune
	pos   int
}

func (l *lexer) peek() rune {
	if l.pos >= len(l.runes) {
		return 0
	}
	return l.runes[l.pos]
}

// scan reads tokens until the end of input or, inside a function argument
// list, until a top-level ',' or ')' which is left unconsumed.
func (l *lexer) scan(inArgs bool) ([]Token, error) {
	var tokens []Token
	for l.pos < len(l.runes) {
		ch := l.peek()
		switch {
		case unicode.IsSpace(ch):
			l.pos++
		case ch == ',' || ch == ')':
			if !inArgs {
				return nil, fmt.Errorf("unexpected %q at %d: %w", ch, l.pos, errUnbalancedParens)
			}
			return tokens, nil
		case strings.ContainsRune("+-*/", ch):
			tokens = append(tokens, Token{Type: TokenOperator, Text: string(ch)})
			l.pos++
		case ch == '"' || ch == '\'':
			tok, err := l.scanString(ch)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
		case isDigit(ch) || ch == '.':
			tok, err := l.scanNumber()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
		case isLetter(ch):
			tok, err := l.scanIdentifier()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
		default:
			return nil, fmt.Errorf("unexpected %q at %d", ch, l.pos)
		}
	}
	if inArgs {
		return nil, errUnbalancedParens
	}
	return tokens, nil
}

func (l *lexer) scanString(quote rune) (Token, error) {
	l.pos++
	start := l.pos
	for l.pos < len(l.runes) && l.runes[l.pos] != quote {
		l.pos++
	}
	if l.pos >= len(l.runes) {
		return Token{}, errUnterminatedString
	}
	s := string(l.runes[start:l.pos])
	l.pos++
	return Token{Type: TokenString, Text: s}, nil
}

func (l *lexer) scanNumber() (Token, error) {
	start := l.pos
	for l.pos < len(l.runes) && (isDigit(l.runes[l.pos]) || l.runes[l.pos] == '.') {
		l.pos++
	}
	f, err := strconv.ParseFloat(string(l.runes[start:l.pos]), 64)
	if err != nil {
		return Token{}, fmt.Errorf("%q: %w", string(l.runes[start:l.pos]), errBadNumber)
	}
	return Token{Type: TokenNumber, Num: f}, nil
}

func (l *lexer) word() string {
	start := l.pos
	for l.pos < len(l.runes) && (isLetter(l.runes[l.pos]) || isDigit(l.runes[l.pos])) {
		l.pos++
	}
	return strings.ToUpper(string(l.runes[start:l.pos]))
}

// scanIdentifier reads a cell reference, a range, a function call, a
// boolean literal, or a bare word.
func (l *lexer) scanIdentifier() (Token, error) {
	ident := l.word()

	switch l.peek() {
	case ':':
		l.pos++
		first, ok1 := types.ParseCellRef(ident)
		second, ok2 := types.ParseCellRef(l.word())
		if !ok1 || !ok2 {
			return Token{}, errBadRange
		}
		return Token{Type: TokenRange, Ref: first, End: second}, nil
	case '(':
		l.pos++
		args, err := l.scanArgs()
		if err != nil {
			return Token{}, err
		}
		return Token{Type: TokenFunction, Text: ident, Args: args}, nil
	}

	if ref, ok := types.ParseCellRef(ident); ok {
		return Token{Type: TokenCell, Ref: ref}, nil
	}
	switch ident {
	case "TRUE":
		return Token{Type: TokenBool, Bool: true}, nil
	case "FALSE":
		return Token{Type: TokenBool, Bool: false}, nil
	}
	return Token{Type: TokenString, Text: ident}, nil
}

// scanArgs reads comma-separated arguments up to the matching ')'.
func (l *lexer) scanArgs() ([][]Token, error) {
	var args [][]Token
	for {
		arg, err := l.scan(true)
		if err != nil {
			return nil, err
		}
		ch := l.peek()
		l.pos++
		if ch == ')' && len(args) == 0 && len(arg) == 0 {
			return nil, nil
		}
		args = append(args, arg)
		if ch == ')' {
			return args, nil
		}
	}
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}
