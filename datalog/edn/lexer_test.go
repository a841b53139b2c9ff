package edn

import (
	"reflect"
	"testing"
)

func TestLexerTokens(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Token
	}{
		{
			name:     "empty input",
			input:    "",
			expected: []Token{{Type: TokenEOF, Line: 1, Col: 1}},
		},
		{
			name:     "whitespace and commas",
			input:    " ,\n  \t ",
			expected: []Token{{Type: TokenEOF, Line: 2, Col: 5}},
		},
		{
			name:  "atoms",
			input: "?e :artist/name",
			expected: []Token{
				{Type: TokenAtom, Value: "?e", Line: 1, Col: 1},
				{Type: TokenAtom, Value: ":artist/name", Line: 1, Col: 4},
				{Type: TokenEOF, Line: 1, Col: 16},
			},
		},
		{
			name:  "string with escapes",
			input: `"a\n\"b\""`,
			expected: []Token{
				{Type: TokenString, Value: "a\n\"b\"", Line: 1, Col: 1},
				{Type: TokenEOF, Line: 1, Col: 11},
			},
		},
		{
			name:  "delimiters",
			input: "([{}])",
			expected: []Token{
				{Type: TokenLeftParen, Line: 1, Col: 1},
				{Type: TokenLeftBracket, Line: 1, Col: 2},
				{Type: TokenLeftBrace, Line: 1, Col: 3},
				{Type: TokenRightBrace, Line: 1, Col: 4},
				{Type: TokenRightBracket, Line: 1, Col: 5},
				{Type: TokenRightParen, Line: 1, Col: 6},
				{Type: TokenEOF, Line: 1, Col: 7},
			},
		},
		{
			name:  "dispatch forms",
			input: `#{1} #_x #inst "2012"`,
			expected: []Token{
				{Type: TokenSetOpen, Line: 1, Col: 1},
				{Type: TokenAtom, Value: "1", Line: 1, Col: 3},
				{Type: TokenRightBrace, Line: 1, Col: 4},
				{Type: TokenDiscard, Line: 1, Col: 6},
				{Type: TokenAtom, Value: "x", Line: 1, Col: 8},
				{Type: TokenTag, Value: "inst", Line: 1, Col: 10},
				{Type: TokenString, Value: "2012", Line: 1, Col: 16},
				{Type: TokenEOF, Line: 1, Col: 22},
			},
		},
		{
			name:  "comment to end of line",
			input: "a ; ignored ( [\nb",
			expected: []Token{
				{Type: TokenAtom, Value: "a", Line: 1, Col: 1},
				{Type: TokenAtom, Value: "b", Line: 2, Col: 1},
				{Type: TokenEOF, Line: 2, Col: 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewLexer(tt.input).Tokens()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("token mismatch\ngot:  %v\nwant: %v", got, tt.expected)
			}
		})
	}
}

func TestLexerErrors(t *testing.T) {
	for _, input := range []string{`"open`, `"bad \q escape"`, `"\u12"`} {
		if _, err := NewLexer(input).Tokens(); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestLexerPeekDoesNotConsume(t *testing.T) {
	l := NewLexer("foo bar")
	p, _ := l.Peek()
	n, _ := l.Next()
	if p != n {
		t.Fatalf("peek %v and next %v differ", p, n)
	}
	n, _ = l.Next()
	if n.Value != "bar" {
		t.Fatalf("expected bar, got %v", n)
	}
}
