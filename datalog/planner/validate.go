package planner

import (
	"fmt"
	"sort"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/query"
)

// validate rejects queries that cannot run, before any clause is evaluated
func (p *Planner) validate(q *query.Query, in []query.InputSpec, rules query.Rules) error {
	sources := map[query.Symbol]bool{}
	scalars := map[query.Symbol]bool{}
	bindable := newSymbolSet()
	hasRules := false
	for _, spec := range in {
		switch s := spec.(type) {
		case query.SourceInput:
			if sources[s.Name] {
				return datalog.Queryf("source %s is bound twice in :in", s.Name)
			}
			sources[s.Name] = true
		case query.RulesInput:
			hasRules = true
		case query.ScalarInput:
			scalars[s.Symbol] = true
		}
		for _, sym := range spec.Binds() {
			if bindable.has(sym) {
				return datalog.Queryf("variable %s is bound twice in :in", sym)
			}
			bindable.add(sym)
		}
	}
	for _, c := range q.Where {
		for _, sym := range provides(c) {
			bindable.add(sym)
		}
	}

	if len(q.Find.Elements) == 0 {
		return datalog.Queryf("query must have at least one find element")
	}
	if (q.Find.Kind == query.FindColl || q.Find.Kind == query.FindScalar) && len(q.Find.Elements) != 1 {
		return datalog.Queryf("find spec %s takes exactly one element", q.Find)
	}
	for _, elem := range q.Find.Elements {
		if !bindable.has(elem.Var()) {
			return &datalog.QueryError{Clause: elem.String(), Msg: fmt.Sprintf("find variable %s is not bound by the query", elem.Var())}
		}
		switch e := elem.(type) {
		case query.FindAggregate:
			if err := query.ValidateAggregate(e); err != nil {
				return err
			}
		case query.FindPull:
			if e.PatternVar != "" && !scalars[e.PatternVar] {
				return &datalog.QueryError{Clause: e.String(), Msg: fmt.Sprintf("pull pattern %s must be a scalar input", e.PatternVar)}
			}
			if e.Source != "" && !sources[e.Source] {
				return &datalog.QueryError{Clause: e.String(), Msg: fmt.Sprintf("unknown source %s", e.Source)}
			}
		}
	}
	for _, w := range q.With {
		if !bindable.has(w) {
			return datalog.Queryf(":with variable %s is not bound by the query", w)
		}
	}

	if !hasRules {
		rules = nil
	}

	v := &validator{fns: p.options.Functions, sources: sources, rules: rules, checked: map[string]bool{}}
	if err := v.clauses(q.Where, false); err != nil {
		return err
	}
	return nil
}

type validator struct {
	fns     *query.FunctionRegistry
	sources map[query.Symbol]bool
	rules   query.Rules
	checked map[string]bool
}

func (v *validator) source(c query.Clause, src query.Symbol, inRule bool) error {
	if src == "" || inRule && src == query.DefaultSource {
		return nil
	}
	if !v.sources[src] {
		return &datalog.QueryError{Clause: c.String(), Msg: fmt.Sprintf("unknown source %s", src)}
	}
	return nil
}

func (v *validator) clauses(clauses []query.Clause, inRule bool) error {
	for _, c := range clauses {
		if err := v.clause(c, inRule); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) clause(c query.Clause, inRule bool) error {
	switch cl := c.(type) {
	case *query.DataPattern:
		return v.source(c, cl.Source, inRule)

	case *query.Predicate:
		return v.call(c, cl.Fn, cl.Args, inRule)

	case *query.Function:
		return v.call(c, cl.Fn, cl.Args, inRule)

	case *query.Not:
		if err := v.source(c, cl.Source, inRule); err != nil {
			return err
		}
		if cl.Join != nil {
			inner := query.ClauseVars(cl.Clauses)
			for _, j := range cl.Join {
				if !containsSymbol(inner, j) {
					return &datalog.QueryError{Clause: c.String(), Msg: fmt.Sprintf("join variable %s is not used in the body", j)}
				}
			}
		}
		return v.clauses(cl.Clauses, inRule)

	case *query.Or:
		if err := v.source(c, cl.Source, inRule); err != nil {
			return err
		}
		if err := orBranchVars(cl); err != nil {
			return err
		}
		for _, branch := range cl.Branches {
			if err := v.clauses(branch, inRule); err != nil {
				return err
			}
		}
		return nil

	case *query.RuleCall:
		if err := v.source(c, cl.Source, inRule); err != nil {
			return err
		}
		bodies, ok := v.rules[cl.Name]
		if !ok {
			return &datalog.QueryError{Clause: c.String(), Msg: fmt.Sprintf("unknown rule '%s'", cl.Name)}
		}
		if len(bodies[0].Params) != len(cl.Args) {
			return &datalog.QueryError{Clause: c.String(),
				Msg: fmt.Sprintf("rule '%s' takes %d arguments, got %d", cl.Name, len(bodies[0].Params), len(cl.Args))}
		}
		if v.checked[cl.Name] {
			return nil
		}
		v.checked[cl.Name] = true
		for _, r := range bodies {
			if err := v.clauses(r.Body, true); err != nil {
				return err
			}
		}
		return nil
	}
	return &datalog.QueryError{Clause: c.String(), Msg: "unsupported clause"}
}

func (v *validator) call(c query.Clause, fn string, args []query.Term, inRule bool) error {
	if err := v.fns.Validate(fn, len(args)); err != nil {
		if qe, ok := err.(*datalog.QueryError); ok {
			return &datalog.QueryError{Clause: c.String(), Msg: qe.Msg}
		}
		return err
	}
	meta, _ := v.fns.GetMetadata(fn)
	if meta.Source {
		src, ok := args[0].(query.SrcVar)
		if !ok {
			return &datalog.QueryError{Clause: c.String(), Msg: fmt.Sprintf("function '%s' takes a source as its first argument", fn)}
		}
		if !(inRule && src.Name == query.DefaultSource) && !v.sources[src.Name] {
			return &datalog.QueryError{Clause: c.String(), Msg: fmt.Sprintf("unknown source %s", src.Name)}
		}
	}
	return nil
}

// orBranchVars checks that the branches of an or agree on the variables
// they bind
func orBranchVars(or *query.Or) error {
	if or.Join != nil {
		for _, branch := range or.Branches {
			vars := query.ClauseVars(branch)
			for _, j := range or.Join {
				if !containsSymbol(or.Required, j) && !containsSymbol(vars, j) {
					return &datalog.QueryError{Clause: or.String(),
						Msg: fmt.Sprintf("branch %s does not bind join variable %s", formatBranch(branch), j)}
				}
			}
		}
		return nil
	}
	var want []query.Symbol
	for i, branch := range or.Branches {
		vars := sortedSymbols(query.ClauseVars(branch))
		if i == 0 {
			want = vars
			continue
		}
		if fmt.Sprint(vars) != fmt.Sprint(want) {
			return &datalog.QueryError{Clause: or.String(),
				Msg: fmt.Sprintf("all branches of or must use the same variables: %v vs %v", want, vars)}
		}
	}
	return nil
}

func formatBranch(branch []query.Clause) string {
	if len(branch) == 1 {
		return branch[0].String()
	}
	return fmt.Sprintf("(and %v)", branch)
}

func sortedSymbols(syms []query.Symbol) []query.Symbol {
	out := make([]query.Symbol, len(syms))
	copy(out, syms)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
