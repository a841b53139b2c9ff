package parser

import (
	"fmt"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/edn"
	"github.com/wbrown/janus-factdb/datalog/query"
)

// ParseClauses parses a conjunction of where clauses
func ParseClauses(items []interface{}) ([]query.Clause, error) {
	out := make([]query.Clause, 0, len(items))
	for _, item := range items {
		c, err := ParseClause(item)
		if err != nil {
			return nil, &datalog.QueryError{Clause: describe(item), Msg: "invalid clause", Err: err}
		}
		out = append(out, c)
	}
	return out, nil
}

// ParseClause parses one where clause
func ParseClause(item interface{}) (query.Clause, error) {
	switch form := item.(type) {
	case []interface{}:
		if len(form) > 0 {
			if call, ok := form[0].(edn.List); ok {
				return parseFunctionClause(call, form[1:])
			}
		}
		return parseDataPattern(form)
	case edn.List:
		return parseListClause(form)
	}
	return nil, fmt.Errorf("clause must be a vector or a list, got %s", describe(item))
}

// parseDataPattern parses [src? e a v tx added]
func parseDataPattern(items []interface{}) (query.Clause, error) {
	p := &query.DataPattern{}
	if len(items) > 0 {
		if sym, ok := asSymbol(items[0]); ok && sym.IsSource() {
			p.Source = sym
			items = items[1:]
		}
	}
	if len(items) == 0 || len(items) > 5 {
		return nil, fmt.Errorf("data pattern must have 1 to 5 elements, got %d", len(items))
	}
	p.Elements = make([]query.Term, len(items))
	for i, item := range items {
		t, err := parseTerm(item)
		if err != nil {
			return nil, fmt.Errorf("error parsing pattern element %d: %w", i, err)
		}
		if _, ok := t.(query.SrcVar); ok {
			return nil, fmt.Errorf("source %s can only lead a pattern", t)
		}
		p.Elements[i] = t
	}
	return p, nil
}

// parseFunctionClause parses [(f args...)] and [(f args...) binding]
func parseFunctionClause(call edn.List, rest []interface{}) (query.Clause, error) {
	if len(call) == 0 {
		return nil, fmt.Errorf("function call cannot be empty")
	}
	fn, ok := asSymbol(call[0])
	if !ok {
		return nil, fmt.Errorf("function name must be a symbol, got %s", describe(call[0]))
	}
	args := make([]query.Term, 0, len(call)-1)
	for i, item := range call[1:] {
		t, err := parseTerm(item)
		if err != nil {
			return nil, fmt.Errorf("error parsing argument %d of %s: %w", i, fn, err)
		}
		args = append(args, t)
	}

	switch len(rest) {
	case 0:
		return &query.Predicate{Fn: string(fn), Args: args}, nil
	case 1:
		b, err := ParseBinding(rest[0])
		if err != nil {
			return nil, err
		}
		return &query.Function{Fn: string(fn), Args: args, Binding: b}, nil
	}
	return nil, fmt.Errorf("function clause takes at most one binding, got %d", len(rest))
}

// parseListClause parses not, not-join, or, or-join and rule calls, each
// optionally led by a source symbol
func parseListClause(list edn.List) (query.Clause, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("empty list clause")
	}
	var src query.Symbol
	head, ok := asSymbol(list[0])
	if ok && head.IsSource() {
		src = head
		list = list[1:]
		if len(list) == 0 {
			return nil, fmt.Errorf("source %s without a clause", src)
		}
		head, ok = asSymbol(list[0])
	}
	if !ok {
		return nil, fmt.Errorf("clause must start with a symbol, got %s", describe(list[0]))
	}
	args := list[1:]

	switch head {
	case "not":
		body, err := ParseClauses(args)
		if err != nil {
			return nil, err
		}
		if len(body) == 0 {
			return nil, fmt.Errorf("not requires at least one clause")
		}
		return &query.Not{Source: src, Clauses: body}, nil

	case "not-join":
		if len(args) < 2 {
			return nil, fmt.Errorf("not-join requires a variable vector and a clause")
		}
		join, required, err := joinVars(args[0])
		if err != nil {
			return nil, err
		}
		if len(required) > 0 {
			return nil, fmt.Errorf("not-join variables are always required; drop the inner vector")
		}
		body, err := ParseClauses(args[1:])
		if err != nil {
			return nil, err
		}
		return &query.Not{Source: src, Join: join, Clauses: body}, nil

	case "or", "or-join":
		or := &query.Or{Source: src}
		if head == "or-join" {
			if len(args) < 2 {
				return nil, fmt.Errorf("or-join requires a variable vector and a clause")
			}
			join, required, err := joinVars(args[0])
			if err != nil {
				return nil, err
			}
			or.Join, or.Required = join, required
			args = args[1:]
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("%s requires at least one clause", head)
		}
		for _, item := range args {
			branch, err := parseBranch(item)
			if err != nil {
				return nil, err
			}
			or.Branches = append(or.Branches, branch)
		}
		return or, nil

	case "and":
		return nil, fmt.Errorf("and is only allowed inside or")
	}

	call := &query.RuleCall{Source: src, Name: string(head)}
	for i, item := range args {
		t, err := parseTerm(item)
		if err != nil {
			return nil, fmt.Errorf("error parsing argument %d of rule %s: %w", i, head, err)
		}
		if _, ok := t.(query.SrcVar); ok {
			return nil, fmt.Errorf("rule %s cannot take source %s as an argument", head, t)
		}
		call.Args = append(call.Args, t)
	}
	return call, nil
}

// parseBranch parses one or branch: (and clause...) or a single clause
func parseBranch(item interface{}) ([]query.Clause, error) {
	if list, ok := item.(edn.List); ok && len(list) > 0 && isSymbol(list[0], "and") {
		body, err := ParseClauses(list[1:])
		if err != nil {
			return nil, err
		}
		if len(body) == 0 {
			return nil, fmt.Errorf("and requires at least one clause")
		}
		return body, nil
	}
	c, err := ParseClause(item)
	if err != nil {
		return nil, err
	}
	return []query.Clause{c}, nil
}

// joinVars parses [?a ?b] or [[?a] ?b]; variables in the inner vector are
// also returned as required
func joinVars(item interface{}) (join, required []query.Symbol, err error) {
	vec, ok := item.([]interface{})
	if !ok {
		return nil, nil, fmt.Errorf("join variables must be a vector, got %s", describe(item))
	}
	for _, v := range vec {
		if inner, ok := v.([]interface{}); ok {
			for _, iv := range inner {
				sym, ok := asSymbol(iv)
				if !ok || !sym.IsVariable() {
					return nil, nil, fmt.Errorf("join vector must hold variables, got %s", describe(iv))
				}
				join = append(join, sym)
				required = append(required, sym)
			}
			continue
		}
		sym, ok := asSymbol(v)
		if !ok || !sym.IsVariable() {
			return nil, nil, fmt.Errorf("join vector must hold variables, got %s", describe(v))
		}
		join = append(join, sym)
	}
	if len(join) == 0 {
		return nil, nil, fmt.Errorf("join vector cannot be empty")
	}
	return join, required, nil
}

// parseTerm parses a clause argument
func parseTerm(item interface{}) (query.Term, error) {
	if sym, ok := asSymbol(item); ok {
		switch {
		case sym.IsBlank():
			return query.Blank{}, nil
		case sym.IsVariable():
			return query.Variable{Name: sym}, nil
		case sym.IsSource():
			return query.SrcVar{Name: sym}, nil
		}
		return nil, fmt.Errorf("unexpected symbol %s", sym)
	}
	switch item.(type) {
	case edn.List, edn.Set:
		return nil, fmt.Errorf("nested expressions are not supported: %s", describe(item))
	}
	return query.Constant{Value: datalog.Normalize(item)}, nil
}
