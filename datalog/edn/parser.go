package edn

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	symbolChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789.*+!-_?$%&=<>/'"

	intPattern   = regexp.MustCompile(`^[+-]?\d+N?$`)
	floatPattern = regexp.MustCompile(`^[+-]?\d+(\.\d*)?([eE][+-]?\d+)?M?$`)

	namedChars = map[string]string{
		"newline": "\n",
		"return":  "\r",
		"space":   " ",
		"tab":     "\t",
	}
)

// Parser builds Nodes from a token stream
type Parser struct {
	lexer *Lexer
}

// NewParser creates a new parser
func NewParser(lexer *Lexer) *Parser {
	return &Parser{lexer: lexer}
}

// Parse reads exactly one value from input
func Parse(input string) (*Node, error) {
	p := NewParser(NewLexer(input))
	node, err := p.Parse()
	if err != nil {
		return nil, err
	}
	if err := p.skipDiscards(); err != nil {
		return nil, err
	}
	tok, err := p.lexer.Peek()
	if err != nil {
		return nil, err
	}
	if tok.Type != TokenEOF {
		return nil, fmt.Errorf("trailing input at %d:%d", tok.Line, tok.Col)
	}
	return node, nil
}

// ParseAll reads every top level value in input
func ParseAll(input string) ([]Node, error) {
	return NewParser(NewLexer(input)).ParseAll()
}

// Parse reads a single value
func (p *Parser) Parse() (*Node, error) {
	return p.readNode()
}

// ParseAll reads all values until EOF
func (p *Parser) ParseAll() ([]Node, error) {
	var nodes []Node
	for {
		if err := p.skipDiscards(); err != nil {
			return nil, err
		}
		tok, err := p.lexer.Peek()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenEOF {
			return nodes, nil
		}
		node, err := p.readNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
}

// readNode reads one value, skipping any #_ discarded forms in front of it
func (p *Parser) readNode() (*Node, error) {
	if err := p.skipDiscards(); err != nil {
		return nil, err
	}
	tok, err := p.lexer.Next()
	if err != nil {
		return nil, err
	}

	switch tok.Type {
	case TokenEOF:
		return nil, fmt.Errorf("unexpected EOF at %d:%d", tok.Line, tok.Col)
	case TokenString:
		return &Node{Type: NodeString, Value: tok.Value, Line: tok.Line, Col: tok.Col}, nil
	case TokenAtom:
		return classifyAtom(tok)
	case TokenLeftParen:
		return p.readSeq(tok, NodeList, TokenRightParen)
	case TokenLeftBracket:
		return p.readSeq(tok, NodeVector, TokenRightBracket)
	case TokenSetOpen:
		return p.readSeq(tok, NodeSet, TokenRightBrace)
	case TokenLeftBrace:
		node, err := p.readSeq(tok, NodeMap, TokenRightBrace)
		if err != nil {
			return nil, err
		}
		if len(node.Nodes)%2 != 0 {
			return nil, fmt.Errorf("map at %d:%d has a key without a value", tok.Line, tok.Col)
		}
		return node, nil
	case TokenTag:
		inner, err := p.readNode()
		if err != nil {
			return nil, fmt.Errorf("tag #%s: %w", tok.Value, err)
		}
		return &Node{Type: NodeTagged, Tag: tok.Value, Tagged: inner, Line: tok.Line, Col: tok.Col}, nil
	default:
		return nil, fmt.Errorf("unexpected %s at %d:%d", tok.Type, tok.Line, tok.Col)
	}
}

func (p *Parser) skipDiscards() error {
	for {
		tok, err := p.lexer.Peek()
		if err != nil {
			return err
		}
		if tok.Type != TokenDiscard {
			return nil
		}
		if _, err := p.lexer.Next(); err != nil {
			return err
		}
		if _, err := p.readNode(); err != nil {
			return err
		}
	}
}

func (p *Parser) readSeq(start Token, nt NodeType, closer TokenType) (*Node, error) {
	nodes := []Node{}
	for {
		if err := p.skipDiscards(); err != nil {
			return nil, err
		}
		tok, err := p.lexer.Peek()
		if err != nil {
			return nil, err
		}
		switch tok.Type {
		case closer:
			p.lexer.Next()
			return &Node{Type: nt, Nodes: nodes, Line: start.Line, Col: start.Col}, nil
		case TokenEOF:
			return nil, fmt.Errorf("unterminated %s starting at %d:%d", start.Type, start.Line, start.Col)
		case TokenRightParen, TokenRightBracket, TokenRightBrace:
			return nil, fmt.Errorf("mismatched %s at %d:%d", tok.Type, tok.Line, tok.Col)
		}
		node, err := p.readNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
}

// classifyAtom turns a bare atom into nil, a boolean, a number, a
// character, a keyword or a symbol
func classifyAtom(tok Token) (*Node, error) {
	node := &Node{Value: tok.Value, Line: tok.Line, Col: tok.Col}
	value := tok.Value

	switch {
	case value == "nil":
		node.Type = NodeNil
		node.Value = ""
	case value == "true" || value == "false":
		node.Type = NodeBool
	case strings.HasPrefix(value, "\\"):
		body := value[1:]
		if named, ok := namedChars[body]; ok {
			body = named
		}
		if len([]rune(body)) != 1 {
			return nil, fmt.Errorf("invalid character literal %s at %d:%d", value, tok.Line, tok.Col)
		}
		node.Type = NodeChar
		node.Value = body
	case strings.HasPrefix(value, ":"):
		if err := validateKeyword(value); err != nil {
			return nil, fmt.Errorf("%v at %d:%d", err, tok.Line, tok.Col)
		}
		node.Type = NodeKeyword
	case intPattern.MatchString(value):
		node.Type = NodeInt
	case floatPattern.MatchString(value):
		node.Type = NodeFloat
	default:
		if err := validateSymbol(value); err != nil {
			return nil, fmt.Errorf("%v at %d:%d", err, tok.Line, tok.Col)
		}
		node.Type = NodeSymbol
	}
	return node, nil
}

func validateSymbol(s string) error {
	if s == "" {
		return fmt.Errorf("empty symbol")
	}
	if unicode.IsDigit(rune(s[0])) {
		return fmt.Errorf("symbol cannot start with digit: %s", s)
	}
	for _, ch := range strings.ToUpper(s) {
		if ch > unicode.MaxASCII && unicode.IsLetter(ch) {
			continue
		}
		if !strings.ContainsRune(symbolChars, ch) {
			return fmt.Errorf("invalid character '%c' in symbol: %s", ch, s)
		}
	}
	return nil
}

func validateKeyword(s string) error {
	if len(s) == 1 {
		return fmt.Errorf("empty keyword")
	}
	return validateSymbol(s[1:])
}
