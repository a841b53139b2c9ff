// Package planner validates parsed queries and orders their clauses.
//
// Ordering is greedy: filters (predicates, functions, not) run as soon as
// their inputs are bound, or and rule calls keep their source position
// relative to the data patterns around them, and among data patterns the
// one with the most bound positions runs next.
package planner

import (
	"fmt"
	"strings"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/query"
)

// PlannerOptions configures a Planner
type PlannerOptions struct {
	// Functions validates function names and arities. Defaults to
	// query.DefaultRegistry.
	Functions *query.FunctionRegistry
}

// Planner creates query plans
type Planner struct {
	options PlannerOptions
}

// NewPlanner creates a new query planner
func NewPlanner(options PlannerOptions) *Planner {
	if options.Functions == nil {
		options.Functions = query.DefaultRegistry
	}
	return &Planner{options: options}
}

// Options returns the planner options
func (p *Planner) Options() PlannerOptions {
	return p.options
}

// Step is one clause of a plan with the variables bound around it
type Step struct {
	Clause   query.Clause
	Bound    []query.Symbol // bound before the clause runs
	Provides []query.Symbol // newly bound by the clause
}

// QueryPlan is a validated query with its where clauses in execution order
type QueryPlan struct {
	Query *query.Query
	In    []query.InputSpec
	Steps []Step
}

// Clauses returns the ordered clauses
func (qp *QueryPlan) Clauses() []query.Clause {
	out := make([]query.Clause, len(qp.Steps))
	for i, s := range qp.Steps {
		out[i] = s.Clause
	}
	return out
}

// String renders the plan one step per line
func (qp *QueryPlan) String() string {
	var sb strings.Builder
	for i, s := range qp.Steps {
		fmt.Fprintf(&sb, "%d. %s", i+1, s.Clause)
		if len(s.Provides) > 0 {
			fmt.Fprintf(&sb, " -> %v", s.Provides)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// DefaultInputs returns the :in of q, or the implicit [$] (or [$ %] when
// two inputs are given) for queries without one
func DefaultInputs(q *query.Query, inputCount int) []query.InputSpec {
	if q.In != nil {
		return q.In
	}
	if inputCount == 2 {
		return []query.InputSpec{query.SourceInput{Name: query.DefaultSource}, query.RulesInput{}}
	}
	return []query.InputSpec{query.SourceInput{Name: query.DefaultSource}}
}

// Plan validates q against its inputs and rules and orders its clauses
func (p *Planner) Plan(q *query.Query, in []query.InputSpec, rules query.Rules) (*QueryPlan, error) {
	if err := p.validate(q, in, rules); err != nil {
		return nil, err
	}

	bound := make(map[query.Symbol]bool)
	for _, spec := range in {
		for _, s := range spec.Binds() {
			bound[s] = true
		}
	}
	steps, err := p.Order(q.Where, bound, rules)
	if err != nil {
		return nil, err
	}
	return &QueryPlan{Query: q, In: in, Steps: steps}, nil
}

// Order schedules a conjunction given the variables already bound. It is
// used for the top level and for not, or and rule bodies.
func (p *Planner) Order(clauses []query.Clause, initial map[query.Symbol]bool, rules query.Rules) ([]Step, error) {
	bound := newSymbolSet()
	for s, ok := range initial {
		if ok {
			bound.add(s)
		}
	}

	// Variables some clause of this conjunction can bind; a plain not
	// joins on the ones it shares with them.
	bindable := bound.clone()
	for _, c := range clauses {
		for _, s := range provides(c) {
			bindable.add(s)
		}
	}

	remaining := make([]query.Clause, len(clauses))
	copy(remaining, clauses)
	steps := make([]Step, 0, len(clauses))

	take := func(i int) {
		c := remaining[i]
		remaining = append(remaining[:i], remaining[i+1:]...)
		step := Step{Clause: c, Bound: bound.list()}
		for _, s := range provides(c) {
			if !bound.has(s) {
				step.Provides = append(step.Provides, s)
				bound.add(s)
			}
		}
		steps = append(steps, step)
	}

	for len(remaining) > 0 {
		if i := nextFilter(remaining, bound, bindable); i >= 0 {
			take(i)
			continue
		}
		if i, err := nextStructural(remaining, bound, rules); err != nil {
			return nil, err
		} else if i >= 0 {
			take(i)
			continue
		}
		if i := bestPattern(remaining, bound); i >= 0 {
			take(i)
			continue
		}
		return nil, stuck(remaining, bound, bindable, rules)
	}
	return steps, nil
}

// nextFilter finds the first predicate, function or not whose inputs are bound
func nextFilter(remaining []query.Clause, bound, bindable symbolSet) int {
	for i, c := range remaining {
		switch c.(type) {
		case *query.Predicate, *query.Function, *query.Not:
			if bound.hasAll(requires(c, bindable)) {
				return i
			}
		}
	}
	return -1
}

// nextStructural returns the first or/rule call that is not preceded by a
// pending data pattern and whose required variables are bound
func nextStructural(remaining []query.Clause, bound symbolSet, rules query.Rules) (int, error) {
	for i, c := range remaining {
		switch c.(type) {
		case *query.DataPattern:
			return -1, nil
		case *query.Or, *query.RuleCall:
			req, err := structuralRequires(c, rules)
			if err != nil {
				return -1, err
			}
			if bound.hasAll(req) {
				return i, nil
			}
		}
	}
	return -1, nil
}

// bestPattern picks the data pattern with the most bound positions,
// preferring patterns connected to what is already bound
func bestPattern(remaining []query.Clause, bound symbolSet) int {
	best, bestScore := -1, -1
	for i, c := range remaining {
		dp, ok := c.(*query.DataPattern)
		if !ok {
			continue
		}
		score := 0
		connected := false
		for _, el := range dp.Elements {
			switch t := el.(type) {
			case query.Constant:
				score += 2
			case query.Variable:
				if bound.has(t.Name) {
					score += 2
					connected = true
				}
			}
		}
		if connected {
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// stuck explains why no remaining clause can run
func stuck(remaining []query.Clause, bound, bindable symbolSet, rules query.Rules) error {
	c := remaining[0]
	var req []query.Symbol
	switch c.(type) {
	case *query.Or, *query.RuleCall:
		req, _ = structuralRequires(c, rules)
	default:
		req = requires(c, bindable)
	}
	for _, s := range req {
		if !bound.has(s) {
			return &datalog.QueryError{Clause: c.String(), Msg: fmt.Sprintf("unbound variable %s", s)}
		}
	}
	return &datalog.QueryError{Clause: c.String(), Msg: "clause cannot be scheduled"}
}

// requires lists the variables a filter needs bound before it runs
func requires(c query.Clause, bindable symbolSet) []query.Symbol {
	switch cl := c.(type) {
	case *query.Predicate:
		return query.TermVars(cl.Args)
	case *query.Function:
		return query.TermVars(cl.Args)
	case *query.Not:
		if cl.Join != nil {
			return cl.Join
		}
		var out []query.Symbol
		for _, s := range cl.Vars() {
			if bindable.has(s) {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// structuralRequires lists the variables an or or rule call needs bound
func structuralRequires(c query.Clause, rules query.Rules) ([]query.Symbol, error) {
	switch cl := c.(type) {
	case *query.Or:
		return cl.Required, nil
	case *query.RuleCall:
		bodies, ok := rules[cl.Name]
		if !ok {
			return nil, &datalog.QueryError{Clause: cl.String(), Msg: fmt.Sprintf("unknown rule '%s'", cl.Name)}
		}
		var out []query.Symbol
		for _, r := range bodies {
			for pos, param := range r.Params {
				if !containsSymbol(r.Required, param) || pos >= len(cl.Args) {
					continue
				}
				if v, ok := cl.Args[pos].(query.Variable); ok {
					out = append(out, v.Name)
				}
			}
		}
		return out, nil
	}
	return nil, nil
}

// provides lists the variables a clause can bind
func provides(c query.Clause) []query.Symbol {
	switch cl := c.(type) {
	case *query.DataPattern:
		return cl.Vars()
	case *query.Function:
		return cl.Binding.Vars()
	case *query.Or:
		return cl.Vars()
	case *query.RuleCall:
		return cl.Vars()
	}
	return nil
}

func containsSymbol(syms []query.Symbol, s query.Symbol) bool {
	for _, have := range syms {
		if have == s {
			return true
		}
	}
	return false
}

// symbolSet is a set of variables that remembers insertion order
type symbolSet struct {
	m     map[query.Symbol]bool
	order []query.Symbol
}

func newSymbolSet() symbolSet {
	return symbolSet{m: make(map[query.Symbol]bool)}
}

func (s *symbolSet) add(sym query.Symbol) {
	if !s.m[sym] {
		s.m[sym] = true
		s.order = append(s.order, sym)
	}
}

func (s symbolSet) has(sym query.Symbol) bool { return s.m[sym] }

func (s symbolSet) hasAll(syms []query.Symbol) bool {
	for _, sym := range syms {
		if !s.m[sym] {
			return false
		}
	}
	return true
}

func (s symbolSet) clone() symbolSet {
	out := newSymbolSet()
	for _, sym := range s.order {
		out.add(sym)
	}
	return out
}

func (s symbolSet) list() []query.Symbol {
	out := make([]query.Symbol, len(s.order))
	copy(out, s.order)
	return out
}
