package edn

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes EDN input on demand
type Lexer struct {
	input  string
	pos    int
	line   int
	col    int
	peeked *Token
}

// NewLexer creates a new lexer for the given input
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, col: 1}
}

// Tokens drains the lexer and returns every token including the final EOF
func (l *Lexer) Tokens() ([]Token, error) {
	var out []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Type == TokenEOF {
			return out, nil
		}
	}
}

// Peek returns the next token without consuming it
func (l *Lexer) Peek() (Token, error) {
	if l.peeked != nil {
		return *l.peeked, nil
	}
	tok, err := l.scan()
	if err != nil {
		return Token{}, err
	}
	l.peeked = &tok
	return tok, nil
}

// Next consumes and returns the next token
func (l *Lexer) Next() (Token, error) {
	if l.peeked != nil {
		tok := *l.peeked
		l.peeked = nil
		return tok, nil
	}
	return l.scan()
}

func (l *Lexer) scan() (Token, error) {
	l.skipWhitespaceAndComments()
	line, col := l.line, l.col
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Line: line, Col: col}, nil
	}

	simple := func(tt TokenType) (Token, error) {
		l.advance()
		return Token{Type: tt, Line: line, Col: col}, nil
	}

	switch ch := l.peekRune(); ch {
	case '"':
		s, err := l.readString()
		if err != nil {
			return Token{}, err
		}
		return Token{Type: TokenString, Value: s, Line: line, Col: col}, nil
	case '(':
		return simple(TokenLeftParen)
	case ')':
		return simple(TokenRightParen)
	case '[':
		return simple(TokenLeftBracket)
	case ']':
		return simple(TokenRightBracket)
	case '{':
		return simple(TokenLeftBrace)
	case '}':
		return simple(TokenRightBrace)
	case '#':
		l.advance()
		switch l.peekRune() {
		case '{':
			l.advance()
			return Token{Type: TokenSetOpen, Line: line, Col: col}, nil
		case '_':
			l.advance()
			return Token{Type: TokenDiscard, Line: line, Col: col}, nil
		}
		tag := l.readAtom()
		if tag == "" {
			return Token{}, fmt.Errorf("dangling # at %d:%d", line, col)
		}
		return Token{Type: TokenTag, Value: tag, Line: line, Col: col}, nil
	default:
		atom := l.readAtom()
		if atom == "" {
			return Token{}, fmt.Errorf("unexpected character %q at %d:%d", ch, line, col)
		}
		return Token{Type: TokenAtom, Value: atom, Line: line, Col: col}, nil
	}
}

func (l *Lexer) peekRune() rune {
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

func (l *Lexer) advance() rune {
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

// skipWhitespaceAndComments treats commas as whitespace
func (l *Lexer) skipWhitespaceAndComments() {
	for l.pos < len(l.input) {
		ch := l.peekRune()
		switch {
		case ch == ';':
			for l.pos < len(l.input) && l.peekRune() != '\n' {
				l.advance()
			}
		case ch == ',' || unicode.IsSpace(ch):
			l.advance()
		default:
			return
		}
	}
}

func isDelimiter(r rune) bool {
	switch r {
	case '(', ')', '[', ']', '{', '}', '"', ';', ',':
		return true
	}
	return unicode.IsSpace(r)
}

func (l *Lexer) readAtom() string {
	start := l.pos
	// a character literal may itself be a delimiter, as in \( or \space
	if l.peekRune() == '\\' {
		l.advance()
		if l.pos < len(l.input) {
			l.advance()
		}
	}
	for l.pos < len(l.input) && !isDelimiter(l.peekRune()) {
		l.advance()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readString() (string, error) {
	line, col := l.line, l.col
	l.advance() // opening quote

	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.advance()
		switch ch {
		case '"':
			return sb.String(), nil
		case '\\':
			if l.pos >= len(l.input) {
				return "", fmt.Errorf("unterminated escape in string at %d:%d", line, col)
			}
			esc := l.advance()
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '"', '\\':
				sb.WriteRune(esc)
			case 'u':
				if l.pos+4 > len(l.input) {
					return "", fmt.Errorf("short unicode escape at %d:%d", l.line, l.col)
				}
				code, err := strconv.ParseUint(l.input[l.pos:l.pos+4], 16, 32)
				if err != nil {
					return "", fmt.Errorf("bad unicode escape at %d:%d: %w", l.line, l.col, err)
				}
				for i := 0; i < 4; i++ {
					l.advance()
				}
				sb.WriteRune(rune(code))
			default:
				return "", fmt.Errorf("invalid escape \\%c at %d:%d", esc, l.line, l.col)
			}
		default:
			sb.WriteRune(ch)
		}
	}
	return "", fmt.Errorf("unterminated string starting at %d:%d", line, col)
}
