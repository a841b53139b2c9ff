// Package pull reads tree-shaped views of entities by selection pattern.
//
// A pattern is a vector of attribute names, :db/id, the wildcard *, map
// specs {attr subpattern} and attribute options written either as
// (limit attr n) and (default attr value) or as [attr :limit n :default v].
package pull

import (
	"fmt"
	"strings"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/edn"
)

// DefaultLimit caps the values returned for a cardinality-many attribute
// when the pattern does not set a limit
const DefaultLimit = 1000

// Pattern is a parsed selection pattern
type Pattern struct {
	wildcard bool
	withID   bool
	specs    []attrSpec
}

type attrSpec struct {
	attr       datalog.Keyword
	limit      int // 0 = DefaultLimit, -1 = none
	def        interface{}
	hasDefault bool
	sub        *Pattern
}

// Wildcard reports whether the pattern selects every attribute
func (p *Pattern) Wildcard() bool { return p.wildcard }

// Attributes returns the attributes selected explicitly
func (p *Pattern) Attributes() []datalog.Keyword {
	out := make([]datalog.Keyword, 0, len(p.specs)+1)
	if p.withID {
		out = append(out, db.KwID)
	}
	for _, s := range p.specs {
		out = append(out, s.attr)
	}
	return out
}

func (p *Pattern) String() string {
	var parts []string
	if p.wildcard {
		parts = append(parts, "*")
	}
	if p.withID {
		parts = append(parts, db.KwID.String())
	}
	for _, s := range p.specs {
		parts = append(parts, s.String())
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (s attrSpec) String() string {
	str := s.attr.String()
	if s.limit != 0 || s.hasDefault {
		opts := []string{str}
		switch {
		case s.limit < 0:
			opts = append(opts, ":limit nil")
		case s.limit > 0:
			opts = append(opts, fmt.Sprintf(":limit %d", s.limit))
		}
		if s.hasDefault {
			opts = append(opts, ":default "+datalog.FormatValue(s.def))
		}
		str = "[" + strings.Join(opts, " ") + "]"
	}
	if s.sub != nil {
		str = "{" + str + " " + s.sub.String() + "}"
	}
	return str
}

// ParsePattern parses a pattern given as EDN text, an EDN node, Go data
// (a slice of elements) or an already parsed *Pattern
func ParsePattern(pattern interface{}) (*Pattern, error) {
	switch v := pattern.(type) {
	case *Pattern:
		if v == nil {
			return nil, fmt.Errorf("pull pattern is nil")
		}
		return v, nil
	case string:
		data, err := edn.ReadValue(v)
		if err != nil {
			return nil, fmt.Errorf("pull pattern: %w", err)
		}
		return parseVector(data)
	case edn.Node:
		data, err := edn.ToValue(v)
		if err != nil {
			return nil, fmt.Errorf("pull pattern: %w", err)
		}
		return parseVector(data)
	case *edn.Node:
		if v == nil {
			return nil, fmt.Errorf("pull pattern is nil")
		}
		return ParsePattern(*v)
	}
	return parseVector(pattern)
}

func parseVector(data interface{}) (*Pattern, error) {
	var elems []interface{}
	switch v := data.(type) {
	case []interface{}:
		elems = v
	case []string:
		for _, s := range v {
			elems = append(elems, s)
		}
	case []datalog.Keyword:
		for _, k := range v {
			elems = append(elems, k)
		}
	default:
		return nil, fmt.Errorf("pull pattern must be a vector, got %s", datalog.FormatValue(data))
	}

	p := &Pattern{}
	for _, elem := range elems {
		if err := p.addElement(elem); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pattern) addElement(elem interface{}) error {
	if isWildcard(elem) {
		p.wildcard = true
		return nil
	}
	switch v := elem.(type) {
	case map[datalog.Keyword]interface{}:
		for k, sub := range v {
			if err := p.addMapEntry(k, sub); err != nil {
				return err
			}
		}
		return nil
	case map[interface{}]interface{}:
		for k, sub := range v {
			if err := p.addMapEntry(k, sub); err != nil {
				return err
			}
		}
		return nil
	}

	s, err := parseAttrSpec(elem)
	if err != nil {
		return err
	}
	if s.attr == db.KwID && s.sub == nil && !s.hasDefault {
		p.withID = true
		return nil
	}
	p.specs = append(p.specs, s)
	return nil
}

func (p *Pattern) addMapEntry(key, value interface{}) error {
	s, err := parseAttrSpec(key)
	if err != nil {
		return err
	}
	sub, err := parseVector(value)
	if err != nil {
		return fmt.Errorf("subpattern of %s: %w", s.attr, err)
	}
	s.sub = sub
	p.specs = append(p.specs, s)
	return nil
}

func isWildcard(elem interface{}) bool {
	switch v := elem.(type) {
	case edn.Symbol:
		return v == "*"
	case string:
		return v == "*"
	}
	return false
}

func asKeyword(v interface{}) (datalog.Keyword, bool) {
	switch k := v.(type) {
	case datalog.Keyword:
		return k, true
	case *datalog.Keyword:
		if k != nil {
			return *k, true
		}
	case string:
		if strings.HasPrefix(k, ":") && len(k) > 1 {
			return datalog.NewKeyword(k), true
		}
	}
	return datalog.Keyword{}, false
}

// parseAttrSpec reads an attribute with its options: a bare keyword,
// (limit attr n), (default attr v) or [attr :limit n :default v]
func parseAttrSpec(elem interface{}) (attrSpec, error) {
	if kw, ok := asKeyword(elem); ok {
		return attrSpec{attr: kw}, nil
	}
	switch v := elem.(type) {
	case edn.List:
		if len(v) != 3 {
			return attrSpec{}, fmt.Errorf("attribute expression %s needs 2 arguments", datalog.FormatValue(v))
		}
		op, ok := v[0].(edn.Symbol)
		if !ok {
			return attrSpec{}, fmt.Errorf("attribute expression %s must start with limit or default", datalog.FormatValue(v))
		}
		s, err := parseAttrSpec(v[1])
		if err != nil {
			return attrSpec{}, err
		}
		return s, s.option(string(op), v[2])

	case []interface{}:
		if len(v) == 0 || len(v)%2 != 1 {
			return attrSpec{}, fmt.Errorf("attribute with options %s must be [attr option value ...]", datalog.FormatValue(v))
		}
		kw, ok := asKeyword(v[0])
		if !ok {
			return attrSpec{}, fmt.Errorf("%s is not an attribute", datalog.FormatValue(v[0]))
		}
		s := attrSpec{attr: kw}
		for i := 1; i < len(v); i += 2 {
			opt, ok := asKeyword(v[i])
			if !ok {
				return attrSpec{}, fmt.Errorf("%s is not an attribute option", datalog.FormatValue(v[i]))
			}
			if err := s.option(opt.Name(), v[i+1]); err != nil {
				return attrSpec{}, err
			}
		}
		return s, nil
	}
	return attrSpec{}, fmt.Errorf("%s is not a pull pattern element", datalog.FormatValue(elem))
}

func (s *attrSpec) option(name string, value interface{}) error {
	switch name {
	case "limit":
		if value == nil {
			s.limit = -1
			return nil
		}
		n, ok := value.(int64)
		if i, isInt := value.(int); isInt {
			n, ok = int64(i), true
		}
		if !ok || n <= 0 {
			return fmt.Errorf("limit of %s must be a positive integer or nil, got %s", s.attr, datalog.FormatValue(value))
		}
		s.limit = int(n)
	case "default":
		if value == nil {
			return fmt.Errorf("default of %s cannot be nil", s.attr)
		}
		s.def, s.hasDefault = value, true
	default:
		return fmt.Errorf("unknown attribute option %s on %s", name, s.attr)
	}
	return nil
}
