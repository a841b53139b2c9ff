// Package parser turns queries and rule sets into the typed query AST.
// Text is read as EDN and converted to Go data first, so a query given
// as data ([]interface{} or a keyword map) takes the same path.
package parser

import (
	"fmt"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/edn"
	"github.com/wbrown/janus-factdb/datalog/query"
)

var (
	kwFind  = datalog.NewKeyword(":find")
	kwWith  = datalog.NewKeyword(":with")
	kwIn    = datalog.NewKeyword(":in")
	kwWhere = datalog.NewKeyword(":where")
)

// ParseQuery parses a Datalog query from EDN text in vector or map form
func ParseQuery(input string) (*query.Query, error) {
	v, err := edn.ReadValue(input)
	if err != nil {
		return nil, &datalog.QueryError{Msg: "EDN parse error", Err: err}
	}
	return ParseData(v)
}

// ParseData parses a query given as data: a vector
// [:find ... :in ... :where ...] or a map {:find [...] :where [...]}
func ParseData(v interface{}) (*query.Query, error) {
	sections, err := querySections(v)
	if err != nil {
		return nil, &datalog.QueryError{Msg: "invalid query", Err: err}
	}
	q, err := parseSections(sections)
	if err != nil {
		return nil, &datalog.QueryError{Msg: "invalid query", Err: err}
	}
	return q, nil
}

// querySections splits a query into its keyword sections
func querySections(v interface{}) (map[datalog.Keyword][]interface{}, error) {
	out := make(map[datalog.Keyword][]interface{})
	switch form := v.(type) {
	case []interface{}:
		var current datalog.Keyword
		for i, item := range form {
			if kw, ok := item.(datalog.Keyword); ok {
				if _, seen := out[kw]; seen {
					return nil, fmt.Errorf("duplicate %s section", kw)
				}
				current = kw
				out[kw] = []interface{}{}
				continue
			}
			if current.IsZero() {
				return nil, fmt.Errorf("expected keyword at position %d, got %s", i, describe(item))
			}
			out[current] = append(out[current], item)
		}
	case map[datalog.Keyword]interface{}:
		for kw, section := range form {
			items, ok := section.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%s must be a vector, got %s", kw, describe(section))
			}
			out[kw] = items
		}
	case string:
		parsed, err := edn.ReadValue(form)
		if err != nil {
			return nil, err
		}
		return querySections(parsed)
	default:
		return nil, fmt.Errorf("query must be a vector or a map, got %s", describe(v))
	}
	return out, nil
}

func parseSections(sections map[datalog.Keyword][]interface{}) (*query.Query, error) {
	q := &query.Query{}
	for kw := range sections {
		switch kw {
		case kwFind, kwWith, kwIn, kwWhere:
		default:
			return nil, fmt.Errorf("unknown query clause: %s", kw)
		}
	}

	find, ok := sections[kwFind]
	if !ok || len(find) == 0 {
		return nil, fmt.Errorf("query must have at least one find element")
	}
	spec, err := parseFindSpec(find)
	if err != nil {
		return nil, fmt.Errorf("error parsing :find: %w", err)
	}
	q.Find = spec

	for _, item := range sections[kwWith] {
		sym, ok := asSymbol(item)
		if !ok || !sym.IsVariable() {
			return nil, fmt.Errorf(":with must list variables, got %s", describe(item))
		}
		q.With = append(q.With, sym)
	}

	if in, ok := sections[kwIn]; ok {
		q.In = make([]query.InputSpec, 0, len(in))
		for _, item := range in {
			spec, err := parseInputSpec(item)
			if err != nil {
				return nil, fmt.Errorf("error parsing input spec: %w", err)
			}
			q.In = append(q.In, spec)
		}
	}

	clauses, err := ParseClauses(sections[kwWhere])
	if err != nil {
		return nil, err
	}
	q.Where = clauses
	return q, nil
}

// parseFindSpec recognises the four find shapes
func parseFindSpec(items []interface{}) (query.FindSpec, error) {
	if len(items) == 1 {
		if vec, ok := items[0].([]interface{}); ok {
			if len(vec) == 2 && isSymbol(vec[1], "...") {
				elem, err := parseFindElement(vec[0])
				if err != nil {
					return query.FindSpec{}, err
				}
				return query.FindSpec{Kind: query.FindColl, Elements: []query.FindElement{elem}}, nil
			}
			elems, err := parseFindElements(vec)
			if err != nil {
				return query.FindSpec{}, err
			}
			if len(elems) == 0 {
				return query.FindSpec{}, fmt.Errorf("tuple find spec cannot be empty")
			}
			return query.FindSpec{Kind: query.FindTuple, Elements: elems}, nil
		}
	}
	if len(items) == 2 && isSymbol(items[1], ".") {
		elem, err := parseFindElement(items[0])
		if err != nil {
			return query.FindSpec{}, err
		}
		return query.FindSpec{Kind: query.FindScalar, Elements: []query.FindElement{elem}}, nil
	}
	elems, err := parseFindElements(items)
	if err != nil {
		return query.FindSpec{}, err
	}
	return query.FindSpec{Kind: query.FindRel, Elements: elems}, nil
}

func parseFindElements(items []interface{}) ([]query.FindElement, error) {
	out := make([]query.FindElement, 0, len(items))
	for _, item := range items {
		elem, err := parseFindElement(item)
		if err != nil {
			return nil, err
		}
		out = append(out, elem)
	}
	return out, nil
}

// parseFindElement parses a variable, an aggregate or a pull expression
func parseFindElement(item interface{}) (query.FindElement, error) {
	if sym, ok := asSymbol(item); ok {
		if !sym.IsVariable() {
			return nil, fmt.Errorf("find clause must contain variables, got %s", sym)
		}
		return query.FindVariable{Symbol: sym}, nil
	}

	list, ok := item.(edn.List)
	if !ok || len(list) < 2 {
		return nil, fmt.Errorf("find element must be a variable or a list, got %s", describe(item))
	}
	fn, ok := asSymbol(list[0])
	if !ok {
		return nil, fmt.Errorf("find function name must be a symbol, got %s", describe(list[0]))
	}
	if fn == "pull" {
		return parsePull(list[1:])
	}

	agg := query.FindAggregate{Function: string(fn)}
	for _, p := range list[1 : len(list)-1] {
		agg.Params = append(agg.Params, p)
	}
	arg, ok := asSymbol(list[len(list)-1])
	if !ok {
		return nil, fmt.Errorf("aggregate argument must be a variable, got %s", describe(list[len(list)-1]))
	}
	agg.Arg = arg
	if err := query.ValidateAggregate(agg); err != nil {
		return nil, err
	}
	return agg, nil
}

// parsePull parses the arguments of (pull $? ?e pattern)
func parsePull(args []interface{}) (query.FindElement, error) {
	pull := query.FindPull{}
	if len(args) == 3 {
		src, ok := asSymbol(args[0])
		if !ok || !src.IsSource() {
			return nil, fmt.Errorf("pull source must be a $ symbol, got %s", describe(args[0]))
		}
		pull.Source = src
		args = args[1:]
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("pull expects an entity variable and a pattern")
	}
	e, ok := asSymbol(args[0])
	if !ok || !e.IsVariable() {
		return nil, fmt.Errorf("pull entity must be a variable, got %s", describe(args[0]))
	}
	pull.Entity = e
	if sym, ok := asSymbol(args[1]); ok {
		if !sym.IsVariable() {
			return nil, fmt.Errorf("pull pattern must be a vector or a variable, got %s", sym)
		}
		pull.PatternVar = sym
	} else if vec, ok := args[1].([]interface{}); ok {
		pull.Pattern = vec
	} else {
		return nil, fmt.Errorf("pull pattern must be a vector or a variable, got %s", describe(args[1]))
	}
	return pull, nil
}

// parseInputSpec parses one :in element
func parseInputSpec(item interface{}) (query.InputSpec, error) {
	if sym, ok := asSymbol(item); ok {
		switch {
		case sym.IsSource():
			return query.SourceInput{Name: sym}, nil
		case sym.IsRules():
			return query.RulesInput{}, nil
		case sym.IsVariable(), sym.IsBlank():
			return query.ScalarInput{Symbol: sym}, nil
		}
		return nil, fmt.Errorf("invalid input %s", sym)
	}

	vec, ok := item.([]interface{})
	if !ok || len(vec) == 0 {
		return nil, fmt.Errorf("input must be a symbol or a binding vector, got %s", describe(item))
	}
	if len(vec) == 2 && isSymbol(vec[1], "...") {
		// [[?a ?b] ...] is a collection of tuples, the same as [[?a ?b]]
		if inner, ok := vec[0].([]interface{}); ok {
			syms, err := bindingSymbols(inner)
			if err != nil {
				return nil, err
			}
			return query.RelationInput{Symbols: syms}, nil
		}
		sym, ok := asSymbol(vec[0])
		if !ok || !(sym.IsVariable() || sym.IsBlank()) {
			return nil, fmt.Errorf("collection input must bind a variable, got %s", describe(vec[0]))
		}
		return query.CollectionInput{Symbol: sym}, nil
	}
	if inner, ok := vec[0].([]interface{}); ok && len(vec) == 1 {
		syms, err := bindingSymbols(inner)
		if err != nil {
			return nil, err
		}
		return query.RelationInput{Symbols: syms}, nil
	}
	syms, err := bindingSymbols(vec)
	if err != nil {
		return nil, err
	}
	return query.TupleInput{Symbols: syms}, nil
}

// ParseBinding parses a function binding form
func ParseBinding(item interface{}) (query.Binding, error) {
	if sym, ok := asSymbol(item); ok {
		if !sym.IsVariable() && !sym.IsBlank() {
			return nil, fmt.Errorf("binding must be a variable, got %s", sym)
		}
		return query.BindScalar{Var: sym}, nil
	}
	vec, ok := item.([]interface{})
	if !ok || len(vec) == 0 {
		return nil, fmt.Errorf("binding must be a variable or a vector, got %s", describe(item))
	}
	if len(vec) == 2 && isSymbol(vec[1], "...") {
		// [[?a ?b] ...] is a collection of tuples, the same as [[?a ?b]]
		if inner, ok := vec[0].([]interface{}); ok {
			syms, err := bindingSymbols(inner)
			if err != nil {
				return nil, err
			}
			return query.BindRel{Symbols: syms}, nil
		}
		sym, ok := asSymbol(vec[0])
		if !ok || !(sym.IsVariable() || sym.IsBlank()) {
			return nil, fmt.Errorf("collection binding must bind a variable, got %s", describe(vec[0]))
		}
		return query.BindColl{Var: sym}, nil
	}
	if inner, ok := vec[0].([]interface{}); ok && len(vec) == 1 {
		syms, err := bindingSymbols(inner)
		if err != nil {
			return nil, err
		}
		return query.BindRel{Symbols: syms}, nil
	}
	syms, err := bindingSymbols(vec)
	if err != nil {
		return nil, err
	}
	return query.BindTuple{Symbols: syms}, nil
}

func bindingSymbols(items []interface{}) ([]query.Symbol, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("binding vector cannot be empty")
	}
	out := make([]query.Symbol, len(items))
	for i, item := range items {
		sym, ok := asSymbol(item)
		if !ok || !(sym.IsVariable() || sym.IsBlank()) {
			return nil, fmt.Errorf("binding position %d must be a variable or _, got %s", i, describe(item))
		}
		out[i] = sym
	}
	return out, nil
}

// asSymbol accepts both edn.Symbol and query.Symbol
func asSymbol(v interface{}) (query.Symbol, bool) {
	switch s := v.(type) {
	case edn.Symbol:
		return query.Symbol(s), true
	case query.Symbol:
		return s, true
	}
	return "", false
}

func isSymbol(v interface{}, name string) bool {
	s, ok := asSymbol(v)
	return ok && string(s) == name
}

func describe(v interface{}) string {
	if n, err := edn.FromValue(v); err == nil {
		return n.String()
	}
	return fmt.Sprintf("%v", v)
}
