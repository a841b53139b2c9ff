package parser

import (
	"fmt"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/edn"
	"github.com/wbrown/janus-factdb/datalog/query"
)

// ParseRules parses a rule set from EDN text:
//
//	[[(name ?a [?b]) clause...] ...]
func ParseRules(input string) (query.Rules, error) {
	v, err := edn.ReadValue(input)
	if err != nil {
		return nil, &datalog.QueryError{Msg: "EDN parse error in rules", Err: err}
	}
	return ParseRulesData(v)
}

// ParseRulesData parses a rule set given as data. It also accepts an
// already parsed query.Rules.
func ParseRulesData(v interface{}) (query.Rules, error) {
	switch form := v.(type) {
	case query.Rules:
		return form, nil
	case string:
		return ParseRules(form)
	case []interface{}:
		rules := query.Rules{}
		for _, item := range form {
			r, err := parseRule(item)
			if err != nil {
				return nil, &datalog.QueryError{Clause: describe(item), Msg: "invalid rule", Err: err}
			}
			if err := rules.Add(r); err != nil {
				return nil, &datalog.QueryError{Msg: "invalid rule", Err: err}
			}
		}
		return rules, nil
	case nil:
		return query.Rules{}, nil
	}
	return nil, datalog.Queryf("rules must be a vector of rule definitions, got %s", describe(v))
}

func parseRule(item interface{}) (query.Rule, error) {
	vec, ok := item.([]interface{})
	if !ok || len(vec) < 2 {
		return query.Rule{}, fmt.Errorf("rule must be a vector of a head and at least one clause")
	}
	head, ok := vec[0].(edn.List)
	if !ok || len(head) == 0 {
		return query.Rule{}, fmt.Errorf("rule head must be a list, got %s", describe(vec[0]))
	}
	name, ok := asSymbol(head[0])
	if !ok || name.IsVariable() || name.IsSource() {
		return query.Rule{}, fmt.Errorf("rule name must be a plain symbol, got %s", describe(head[0]))
	}

	r := query.Rule{Name: string(name)}
	for _, h := range head[1:] {
		if inner, ok := h.([]interface{}); ok {
			for _, iv := range inner {
				sym, ok := asSymbol(iv)
				if !ok || !sym.IsVariable() {
					return query.Rule{}, fmt.Errorf("rule %s: bound argument must be a variable, got %s", name, describe(iv))
				}
				r.Params = append(r.Params, sym)
				r.Required = append(r.Required, sym)
			}
			continue
		}
		sym, ok := asSymbol(h)
		if !ok || !sym.IsVariable() {
			return query.Rule{}, fmt.Errorf("rule %s: argument must be a variable, got %s", name, describe(h))
		}
		r.Params = append(r.Params, sym)
	}

	body, err := ParseClauses(vec[1:])
	if err != nil {
		return query.Rule{}, err
	}
	r.Body = body
	return r, nil
}
