package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/index"
	"github.com/wbrown/janus-factdb/datalog/planner"
	"github.com/wbrown/janus-factdb/datalog/query"
)

// execution is the state of one query run
type execution struct {
	ex        *Executor
	ctx       context.Context
	actx      Context
	functions map[string]Func
	planner   *planner.Planner

	sources map[query.Symbol]interface{}
	scalars map[query.Symbol]interface{}
	rules   query.Rules
	tables  *tabling
	rng     *rand.Rand
}

// scope carries the source that unqualified clauses read from: $ at the
// top level, the call's source inside a rule body
type scope struct {
	src query.Symbol
}

var topScope = scope{src: query.DefaultSource}

func (s scope) resolve(sym query.Symbol) query.Symbol {
	if sym == "" || sym == query.DefaultSource {
		return s.src
	}
	return sym
}

func (s scope) with(sym query.Symbol) scope {
	if sym == "" {
		return s
	}
	return scope{src: s.resolve(sym)}
}

// evalConjunction orders and evaluates clauses starting from rel
func (x *execution) evalConjunction(rel *Relation, clauses []query.Clause, sc scope) (*Relation, error) {
	bound := make(map[query.Symbol]bool, len(rel.Columns))
	for _, c := range rel.Columns {
		bound[c] = true
	}
	steps, err := x.planner.Order(clauses, bound, x.rules)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		if rel, err = x.evalClause(rel, step.Clause, sc); err != nil {
			return nil, err
		}
	}
	return rel, nil
}

func (x *execution) evalClause(rel *Relation, c query.Clause, sc scope) (*Relation, error) {
	if err := datalog.CheckContext(x.ctx, c.String()); err != nil {
		return nil, err
	}
	return x.actx.EvaluateClause(c, rel, func() (*Relation, error) {
		if rel.IsEmpty() {
			return extend(rel, binds(c)), nil
		}
		switch cl := c.(type) {
		case *query.DataPattern:
			return x.evalPattern(rel, cl, sc)
		case *query.Predicate:
			return x.evalCall(rel, c, cl.Fn, cl.Args, nil, sc)
		case *query.Function:
			return x.evalCall(rel, c, cl.Fn, cl.Args, cl.Binding, sc)
		case *query.Not:
			return x.evalNot(rel, cl, sc)
		case *query.Or:
			return x.evalOr(rel, cl, sc)
		case *query.RuleCall:
			return x.evalRuleCall(rel, cl, sc)
		}
		return nil, &datalog.QueryError{Clause: c.String(), Msg: "unsupported clause"}
	})
}

// binds lists the variables a clause adds to the relation
func binds(c query.Clause) []query.Symbol {
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

// extend returns an empty relation over rel's columns plus cols
func extend(rel *Relation, cols []query.Symbol) *Relation {
	out := &Relation{Columns: append([]query.Symbol{}, rel.Columns...)}
	for _, c := range cols {
		if out.ColumnIndex(c) < 0 {
			out.Columns = append(out.Columns, c)
		}
	}
	return out
}

func (x *execution) source(c query.Clause, name query.Symbol) (interface{}, error) {
	src, ok := x.sources[name]
	if !ok {
		return nil, &datalog.QueryError{Clause: c.String(), Msg: fmt.Sprintf("unknown source %s", name)}
	}
	return src, nil
}

// evalPattern matches a data pattern once per distinct combination of its
// already bound variables and joins the matches back into rel
func (x *execution) evalPattern(rel *Relation, p *query.DataPattern, sc scope) (*Relation, error) {
	src, err := x.source(p, sc.resolve(p.Source))
	if err != nil {
		return nil, err
	}
	clause := p.String()
	vars := p.Vars()
	pos := make(map[query.Symbol]int, len(vars))
	for i, v := range vars {
		pos[v] = i
	}
	boundVars := present(rel, vars)
	combos := Project(rel, boundVars)
	out := newRelationBuilder(vars)

	var (
		kind    = index.EAVT
		scanned int
	)
	for _, combo := range combos.Tuples {
		binding := make(map[query.Symbol]interface{}, len(boundVars))
		for i, v := range boundVars {
			binding[v] = combo[i]
		}
		var slots [5]slot
		for i, el := range p.Elements {
			switch t := el.(type) {
			case query.Constant:
				slots[i] = slot{val: t.Value, bound: true}
			case query.Variable:
				if v, ok := binding[t.Name]; ok {
					slots[i] = slot{val: v, bound: true}
				}
			}
		}

		emit := func(vals [5]interface{}) error {
			row := make(query.Tuple, len(vars))
			set := make([]bool, len(vars))
			for v, val := range binding {
				row[pos[v]], set[pos[v]] = val, true
			}
			for i, el := range p.Elements {
				t, ok := el.(query.Variable)
				if !ok {
					continue
				}
				j := pos[t.Name]
				if _, isBound := binding[t.Name]; isBound {
					continue
				}
				if set[j] {
					if !datalog.ValuesEqual(row[j], vals[i]) {
						return nil
					}
					continue
				}
				row[j], set[j] = vals[i], true
			}
			out.add(row)
			return nil
		}

		switch s := src.(type) {
		case *db.Database:
			k, n, err := scanDatabase(x.ctx, s, clause, slots, emit)
			if err != nil {
				return nil, err
			}
			kind, scanned = k, scanned+n
		case *collectionSource:
			if err := s.match(x.ctx, clause, len(p.Elements), slots, emit); err != nil {
				return nil, err
			}
		default:
			return nil, &datalog.QueryError{Clause: clause, Msg: fmt.Sprintf("source %s cannot be matched by data patterns", sc.resolve(p.Source))}
		}
	}
	if _, ok := src.(*db.Database); ok {
		x.actx.IndexScan(kind, scanned)
	}
	return Join(rel, out.relation()), nil
}

// evalCall evaluates a predicate (binding nil) or a function clause once
// per tuple of rel
func (x *execution) evalCall(rel *Relation, c query.Clause, name string, args []query.Term, binding query.Binding, sc scope) (*Relation, error) {
	fn, ok := x.functions[name]
	if !ok {
		return nil, &datalog.QueryError{Clause: c.String(), Msg: fmt.Sprintf("unknown function '%s'", name)}
	}

	// resolve constant and source arguments once
	fixed := make([]interface{}, len(args))
	cols := make([]int, len(args))
	for i, a := range args {
		cols[i] = -1
		switch t := a.(type) {
		case query.Constant:
			fixed[i] = t.Value
		case query.SrcVar:
			src, err := x.source(c, sc.resolve(t.Name))
			if err != nil {
				return nil, err
			}
			fixed[i] = src
		case query.Variable:
			if cols[i] = rel.ColumnIndex(t.Name); cols[i] < 0 {
				return nil, &datalog.QueryError{Clause: c.String(), Msg: fmt.Sprintf("unbound variable %s", t.Name)}
			}
		}
	}

	var newVars []query.Symbol
	var outIdx []int // per binding var: column in rel or -1
	if binding != nil {
		for _, v := range binding.Vars() {
			outIdx = append(outIdx, rel.ColumnIndex(v))
			if rel.ColumnIndex(v) < 0 {
				newVars = append(newVars, v)
			}
		}
	}
	out := newRelationBuilder(append(append([]query.Symbol{}, rel.Columns...), newVars...))

	argv := make([]interface{}, len(args))
	for n, t := range rel.Tuples {
		if n%checkEvery == checkEvery-1 {
			if err := datalog.CheckContext(x.ctx, c.String()); err != nil {
				return nil, err
			}
		}
		for i := range args {
			if cols[i] >= 0 {
				argv[i] = t[cols[i]]
			} else {
				argv[i] = fixed[i]
			}
		}
		result, err := fn(x.ctx, argv)
		if err != nil {
			return nil, callError(c, name, err)
		}
		if binding == nil {
			if truthy(result) {
				out.add(t)
			}
			continue
		}
		rows, err := bindResult(binding, result)
		if err != nil {
			return nil, &datalog.QueryError{Clause: c.String(), Msg: "cannot bind result", Err: err}
		}
	next:
		for _, vals := range rows {
			row := append(query.Tuple{}, t...)
			for i, val := range vals {
				if outIdx[i] >= 0 {
					if !datalog.ValuesEqual(t[outIdx[i]], val) {
						continue next
					}
					continue
				}
				row = append(row, val)
			}
			out.add(row)
		}
	}
	return out.relation(), nil
}

func callError(c query.Clause, name string, err error) error {
	var te *datalog.TimeoutError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &datalog.TimeoutError{Clause: c.String(), Err: err}
	}
	return &datalog.QueryError{Clause: c.String(), Msg: fmt.Sprintf("function '%s' failed", name), Err: err}
}

// bindResult destructures a function result into rows over the binding's
// variables. A nil result binds nothing.
func bindResult(b query.Binding, result interface{}) ([][]interface{}, error) {
	if result == nil {
		return nil, nil
	}
	result = datalog.Normalize(result)
	switch bb := b.(type) {
	case query.BindScalar:
		if bb.Var.IsBlank() {
			return [][]interface{}{{}}, nil
		}
		return [][]interface{}{{result}}, nil
	case query.BindTuple:
		items, ok := asSlice(result)
		if !ok {
			return nil, fmt.Errorf("%s is not a tuple", datalog.FormatValue(result))
		}
		row, err := destructure(bb.Symbols, items)
		if err != nil {
			return nil, err
		}
		return [][]interface{}{row}, nil
	case query.BindColl:
		items, ok := asSlice(result)
		if !ok {
			return nil, fmt.Errorf("%s is not a collection", datalog.FormatValue(result))
		}
		rows := make([][]interface{}, 0, len(items))
		for _, item := range items {
			if bb.Var.IsBlank() {
				rows = append(rows, []interface{}{})
				continue
			}
			rows = append(rows, []interface{}{datalog.Normalize(item)})
		}
		return rows, nil
	case query.BindRel:
		items, ok := asSlice(result)
		if !ok {
			return nil, fmt.Errorf("%s is not a relation", datalog.FormatValue(result))
		}
		rows := make([][]interface{}, 0, len(items))
		for _, item := range items {
			tuple, ok := asSlice(item)
			if !ok {
				return nil, fmt.Errorf("%s is not a tuple", datalog.FormatValue(item))
			}
			row, err := destructure(bb.Symbols, tuple)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		return rows, nil
	}
	return nil, fmt.Errorf("unsupported binding %s", b)
}

// destructure picks the values of the non-blank symbols
func destructure(syms []query.Symbol, items []interface{}) ([]interface{}, error) {
	if len(items) < len(syms) {
		return nil, fmt.Errorf("tuple of %d values cannot bind %d variables", len(items), len(syms))
	}
	var row []interface{}
	for i, s := range syms {
		if s.IsVariable() {
			row = append(row, datalog.Normalize(items[i]))
		}
	}
	return row, nil
}

// evalNot removes the tuples of rel for which the body has a solution.
// Variables local to the body never reach rel.
func (x *execution) evalNot(rel *Relation, n *query.Not, sc scope) (*Relation, error) {
	join := n.Join
	if join == nil {
		join = n.Vars()
	}
	join = present(rel, join)
	input := Project(rel, join)
	inner, err := x.evalConjunction(input, n.Clauses, sc.with(n.Source))
	if err != nil {
		return nil, err
	}
	return AntiJoin(rel, join, Project(inner, join)), nil
}

// evalOr evaluates every branch against the same input and joins the union
// of their answers into rel
func (x *execution) evalOr(rel *Relation, o *query.Or, sc scope) (*Relation, error) {
	joinVars := o.Join
	if joinVars == nil {
		joinVars = o.Vars()
	}
	input := Project(rel, present(rel, joinVars))
	inner := sc.with(o.Source)

	branch := func(bx *execution, clauses []query.Clause) (*Relation, error) {
		res, err := bx.evalConjunction(input, clauses, inner)
		if err != nil {
			return nil, err
		}
		for _, v := range joinVars {
			if res.ColumnIndex(v) < 0 {
				return nil, &datalog.QueryError{Clause: o.String(), Msg: fmt.Sprintf("branch does not bind %s", v)}
			}
		}
		return Project(res, joinVars), nil
	}

	parallel := x.ex.opts.Parallel && len(o.Branches) > 1 && !callsRules(o)
	union, err := x.actx.OrBranches(o, parallel, func() (*Relation, error) {
		results := make([]*Relation, len(o.Branches))
		if parallel {
			inputs := make([]interface{}, len(o.Branches))
			for i, b := range o.Branches {
				inputs[i] = b
			}
			out, err := x.ex.pool.ExecuteParallel(x.ctx, inputs, func(ctx context.Context, in interface{}) (interface{}, error) {
				bx := *x
				bx.ctx = ctx
				return branch(&bx, in.([]query.Clause))
			})
			if err != nil {
				return nil, unwrapBranchError(err)
			}
			for i, r := range out {
				results[i] = r.(*Relation)
			}
		} else {
			for i, b := range o.Branches {
				r, err := branch(x, b)
				if err != nil {
					return nil, err
				}
				results[i] = r
			}
		}
		return Union(joinVars, results...), nil
	})
	if err != nil {
		return nil, err
	}
	return Join(rel, union), nil
}

// unwrapBranchError surfaces the typed error of a failed parallel branch
func unwrapBranchError(err error) error {
	var te *datalog.TimeoutError
	if errors.As(err, &te) {
		return te
	}
	var qe *datalog.QueryError
	if errors.As(err, &qe) {
		return qe
	}
	return err
}

// callsRules reports whether any clause under c is a rule call; rule
// tables are not shared across goroutines
func callsRules(c query.Clause) bool {
	switch cl := c.(type) {
	case *query.RuleCall:
		return true
	case *query.Not:
		return anyCallsRules(cl.Clauses)
	case *query.Or:
		for _, b := range cl.Branches {
			if anyCallsRules(b) {
				return true
			}
		}
	}
	return false
}

func anyCallsRules(clauses []query.Clause) bool {
	for _, c := range clauses {
		if callsRules(c) {
			return true
		}
	}
	return false
}
