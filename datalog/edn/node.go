package edn

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeType represents the type of EDN node
type NodeType int

const (
	NodeNil NodeType = iota
	NodeBool
	NodeInt
	NodeFloat
	NodeString
	NodeChar
	NodeSymbol
	NodeKeyword
	NodeList
	NodeVector
	NodeMap
	NodeSet
	NodeTagged
)

// Node represents an EDN value. Scalars keep their source text in Value;
// a map stores alternating keys and values in Nodes.
type Node struct {
	Type   NodeType
	Line   int
	Col    int
	Value  string
	Nodes  []Node
	Tag    string
	Tagged *Node
}

// String renders the node back to EDN text
func (n Node) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n Node) write(sb *strings.Builder) {
	switch n.Type {
	case NodeNil:
		sb.WriteString("nil")
	case NodeString:
		sb.WriteString(strconv.Quote(n.Value))
	case NodeChar:
		sb.WriteByte('\\')
		sb.WriteString(n.Value)
	case NodeList:
		writeSeq(sb, "(", ")", n.Nodes)
	case NodeVector:
		writeSeq(sb, "[", "]", n.Nodes)
	case NodeMap:
		writeSeq(sb, "{", "}", n.Nodes)
	case NodeSet:
		writeSeq(sb, "#{", "}", n.Nodes)
	case NodeTagged:
		sb.WriteByte('#')
		sb.WriteString(n.Tag)
		sb.WriteByte(' ')
		if n.Tagged != nil {
			n.Tagged.write(sb)
		}
	default:
		sb.WriteString(n.Value)
	}
}

func writeSeq(sb *strings.Builder, open, close string, nodes []Node) {
	sb.WriteString(open)
	for i, child := range nodes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		child.write(sb)
	}
	sb.WriteString(close)
}

// Pos returns the source position for error messages
func (n Node) Pos() string {
	return fmt.Sprintf("%d:%d", n.Line, n.Col)
}

// AsString returns the string value of a string node
func (n Node) AsString() (string, error) {
	if n.Type != NodeString {
		return "", fmt.Errorf("expected string at %s, got %s", n.Pos(), n)
	}
	return n.Value, nil
}

// AsInt returns the int value of an int node
func (n Node) AsInt() (int64, error) {
	if n.Type != NodeInt {
		return 0, fmt.Errorf("expected integer at %s, got %s", n.Pos(), n)
	}
	return strconv.ParseInt(strings.TrimSuffix(n.Value, "N"), 10, 64)
}

// AsSymbol returns the symbol text
func (n Node) AsSymbol() (string, error) {
	if n.Type != NodeSymbol {
		return "", fmt.Errorf("expected symbol at %s, got %s", n.Pos(), n)
	}
	return n.Value, nil
}

// AsKeyword returns the keyword text including the colon
func (n Node) AsKeyword() (string, error) {
	if n.Type != NodeKeyword {
		return "", fmt.Errorf("expected keyword at %s, got %s", n.Pos(), n)
	}
	return n.Value, nil
}

// IsSymbol reports whether the node is the given symbol
func (n Node) IsSymbol(name string) bool {
	return n.Type == NodeSymbol && n.Value == name
}

// IsVariable reports whether the node is a ?-prefixed symbol
func (n Node) IsVariable() bool {
	return n.Type == NodeSymbol && len(n.Value) > 1 && n.Value[0] == '?'
}

// IsNil returns true if the node is nil
func (n Node) IsNil() bool {
	return n.Type == NodeNil
}

// IsSequential reports whether the node is a list or a vector
func (n Node) IsSequential() bool {
	return n.Type == NodeList || n.Type == NodeVector
}

// IsCollection returns true if the node is a collection type
func (n Node) IsCollection() bool {
	return n.IsSequential() || n.Type == NodeMap || n.Type == NodeSet
}
