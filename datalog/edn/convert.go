package edn

import (
	"fmt"
	"math/big"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wbrown/janus-factdb/datalog"
)

// Symbol is a bare EDN symbol such as ?x, $, % or count
type Symbol string

// List is an EDN list. Vectors convert to []interface{}.
type List []interface{}

// Set is an EDN set in reading order
type Set []interface{}

// Tagged is a tagged literal whose tag has no built in reader
type Tagged struct {
	Tag   string
	Value interface{}
}

// IsVariable reports whether the symbol starts with ?
func (s Symbol) IsVariable() bool {
	return len(s) > 1 && s[0] == '?'
}

func (s Symbol) String() string { return string(s) }

// ReadValue parses one EDN value and converts it to Go data
func ReadValue(input string) (interface{}, error) {
	node, err := Parse(input)
	if err != nil {
		return nil, err
	}
	return ToValue(*node)
}

// ReadValues parses every top level value in input
func ReadValues(input string) ([]interface{}, error) {
	nodes, err := ParseAll(input)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(nodes))
	for _, n := range nodes {
		v, err := ToValue(n)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ToValue converts a node to Go data. Keywords become datalog.Keyword,
// vectors []interface{}, and maps with only keyword keys become
// map[datalog.Keyword]interface{}.
func ToValue(n Node) (interface{}, error) {
	switch n.Type {
	case NodeNil:
		return nil, nil
	case NodeBool:
		return n.Value == "true", nil
	case NodeString, NodeChar:
		return n.Value, nil
	case NodeKeyword:
		return datalog.NewKeyword(n.Value), nil
	case NodeSymbol:
		return Symbol(n.Value), nil
	case NodeInt:
		return parseInt(n)
	case NodeFloat:
		return parseFloat(n)
	case NodeVector:
		return convertSeq(n.Nodes)
	case NodeList:
		items, err := convertSeq(n.Nodes)
		return List(items), err
	case NodeSet:
		items, err := convertSeq(n.Nodes)
		return Set(items), err
	case NodeMap:
		return convertMap(n)
	case NodeTagged:
		return convertTagged(n)
	}
	return nil, fmt.Errorf("cannot convert node at %s", n.Pos())
}

func parseInt(n Node) (interface{}, error) {
	if strings.HasSuffix(n.Value, "N") {
		bi, ok := new(big.Int).SetString(strings.TrimSuffix(n.Value, "N"), 10)
		if !ok {
			return nil, fmt.Errorf("invalid bigint %s at %s", n.Value, n.Pos())
		}
		return bi, nil
	}
	i, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		// too large for a long
		bi, ok := new(big.Int).SetString(n.Value, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %s at %s", n.Value, n.Pos())
		}
		return bi, nil
	}
	return i, nil
}

func parseFloat(n Node) (interface{}, error) {
	if strings.HasSuffix(n.Value, "M") {
		bf, _, err := big.ParseFloat(strings.TrimSuffix(n.Value, "M"), 10, 128, big.ToNearestEven)
		if err != nil {
			return nil, fmt.Errorf("invalid bigdec %s at %s: %w", n.Value, n.Pos(), err)
		}
		return bf, nil
	}
	f, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid float %s at %s: %w", n.Value, n.Pos(), err)
	}
	return f, nil
}

func convertSeq(nodes []Node) ([]interface{}, error) {
	out := make([]interface{}, len(nodes))
	for i, child := range nodes {
		v, err := ToValue(child)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func convertMap(n Node) (interface{}, error) {
	allKeywords := true
	for i := 0; i < len(n.Nodes); i += 2 {
		if n.Nodes[i].Type != NodeKeyword {
			allKeywords = false
			break
		}
	}

	if allKeywords {
		out := make(map[datalog.Keyword]interface{}, len(n.Nodes)/2)
		for i := 0; i < len(n.Nodes); i += 2 {
			v, err := ToValue(n.Nodes[i+1])
			if err != nil {
				return nil, err
			}
			out[datalog.NewKeyword(n.Nodes[i].Value)] = v
		}
		return out, nil
	}

	out := make(map[interface{}]interface{}, len(n.Nodes)/2)
	for i := 0; i < len(n.Nodes); i += 2 {
		k, err := ToValue(n.Nodes[i])
		if err != nil {
			return nil, err
		}
		if k != nil && !reflect.TypeOf(k).Comparable() {
			return nil, fmt.Errorf("map key %s at %s cannot be used as a key", n.Nodes[i], n.Nodes[i].Pos())
		}
		v, err := ToValue(n.Nodes[i+1])
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func convertTagged(n Node) (interface{}, error) {
	if n.Tagged == nil {
		return nil, fmt.Errorf("empty tag #%s at %s", n.Tag, n.Pos())
	}
	switch n.Tag {
	case "inst":
		s, err := n.Tagged.AsString()
		if err != nil {
			return nil, err
		}
		return ParseInstant(s)
	case "uuid":
		s, err := n.Tagged.AsString()
		if err != nil {
			return nil, err
		}
		return uuid.Parse(s)
	case "uri":
		s, err := n.Tagged.AsString()
		if err != nil {
			return nil, err
		}
		return url.Parse(s)
	}
	v, err := ToValue(*n.Tagged)
	if err != nil {
		return nil, err
	}
	return Tagged{Tag: n.Tag, Value: v}, nil
}

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseInstant accepts RFC3339 timestamps and their truncated forms.
// Times without a zone are UTC.
func ParseInstant(s string) (time.Time, error) {
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid instant %q", s)
}

// FromValue converts Go data back into a node. It is the inverse of
// ToValue and also accepts plain Go slices and string keyed maps.
func FromValue(v interface{}) (Node, error) {
	switch val := v.(type) {
	case nil:
		return Node{Type: NodeNil}, nil
	case Node:
		return val, nil
	case *Node:
		return *val, nil
	case bool:
		return Node{Type: NodeBool, Value: strconv.FormatBool(val)}, nil
	case string:
		return Node{Type: NodeString, Value: val}, nil
	case Symbol:
		return Node{Type: NodeSymbol, Value: string(val)}, nil
	case datalog.Keyword:
		return Node{Type: NodeKeyword, Value: val.String()}, nil
	case *datalog.Keyword:
		return Node{Type: NodeKeyword, Value: val.String()}, nil
	case int:
		return Node{Type: NodeInt, Value: strconv.Itoa(val)}, nil
	case int32:
		return Node{Type: NodeInt, Value: strconv.FormatInt(int64(val), 10)}, nil
	case int64:
		return Node{Type: NodeInt, Value: strconv.FormatInt(val, 10)}, nil
	case datalog.EntityID:
		return Node{Type: NodeInt, Value: strconv.FormatInt(int64(val), 10)}, nil
	case float32:
		return Node{Type: NodeFloat, Value: floatText(float64(val), 32)}, nil
	case float64:
		return Node{Type: NodeFloat, Value: floatText(val, 64)}, nil
	case *big.Int:
		return Node{Type: NodeInt, Value: val.String() + "N"}, nil
	case *big.Float:
		return Node{Type: NodeFloat, Value: val.Text('g', -1) + "M"}, nil
	case time.Time:
		return tagged("inst", val.UTC().Format(time.RFC3339Nano)), nil
	case uuid.UUID:
		return tagged("uuid", val.String()), nil
	case *url.URL:
		return tagged("uri", val.String()), nil
	case Tagged:
		inner, err := FromValue(val.Value)
		if err != nil {
			return Node{}, err
		}
		return Node{Type: NodeTagged, Tag: val.Tag, Tagged: &inner}, nil
	case List:
		return fromSeq(NodeList, []interface{}(val))
	case Set:
		return fromSeq(NodeSet, []interface{}(val))
	case []interface{}:
		return fromSeq(NodeVector, val)
	case map[datalog.Keyword]interface{}:
		keys := make([]datalog.Keyword, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
		out := Node{Type: NodeMap, Nodes: make([]Node, 0, 2*len(keys))}
		for _, k := range keys {
			child, err := FromValue(val[k])
			if err != nil {
				return Node{}, err
			}
			out.Nodes = append(out.Nodes, Node{Type: NodeKeyword, Value: k.String()}, child)
		}
		return out, nil
	}
	return fromReflect(v)
}

func tagged(tag, text string) Node {
	return Node{Type: NodeTagged, Tag: tag, Tagged: &Node{Type: NodeString, Value: text}}
}

func floatText(f float64, bits int) string {
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}

func fromSeq(nt NodeType, items []interface{}) (Node, error) {
	out := Node{Type: nt, Nodes: make([]Node, len(items))}
	for i, item := range items {
		child, err := FromValue(item)
		if err != nil {
			return Node{}, err
		}
		out.Nodes[i] = child
	}
	return out, nil
}

// fromReflect handles typed slices such as []string and maps keyed by
// strings, which are read as keywords
func fromReflect(v interface{}) (Node, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			break
		}
		items := make([]interface{}, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return fromSeq(NodeVector, items)
	case reflect.Map:
		keys := rv.MapKeys()
		out := Node{Type: NodeMap}
		pairs := make([][2]Node, 0, len(keys))
		for _, k := range keys {
			var kn Node
			var err error
			if s, ok := k.Interface().(string); ok {
				kn, err = FromValue(datalog.NewKeyword(s))
			} else {
				kn, err = FromValue(k.Interface())
			}
			if err != nil {
				return Node{}, err
			}
			vn, err := FromValue(rv.MapIndex(k).Interface())
			if err != nil {
				return Node{}, err
			}
			pairs = append(pairs, [2]Node{kn, vn})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i][0].String() < pairs[j][0].String() })
		for _, p := range pairs {
			out.Nodes = append(out.Nodes, p[0], p[1])
		}
		return out, nil
	}
	return Node{}, fmt.Errorf("cannot represent %T as EDN", v)
}
