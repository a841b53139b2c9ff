package executor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/query"
)

// A rule call is answered from a table keyed by the rule, its source and
// the values of its bound arguments. Tables are filled by naive iteration:
// the outermost call in progress (the leader) re-evaluates its bodies
// until an iteration adds no answer to any table, and only then are the
// tables it touched marked complete. A recursive call to a table under
// evaluation reads the answers found so far.
type ruleTable struct {
	answers    *relationBuilder
	evaluating bool
	complete   bool
}

type tabling struct {
	tables map[string]*ruleTable
	depth  int
	grew   int // answers added to any table
}

func newTabling() *tabling {
	return &tabling{tables: make(map[string]*ruleTable)}
}

// evalRuleCall joins the answers of a rule call into rel
func (x *execution) evalRuleCall(rel *Relation, rc *query.RuleCall, sc scope) (*Relation, error) {
	bodies, ok := x.rules[rc.Name]
	if !ok {
		return nil, &datalog.QueryError{Clause: rc.String(), Msg: fmt.Sprintf("unknown rule '%s'", rc.Name)}
	}
	src := sc.resolve(rc.Source)

	// Arguments evaluated as inputs: constants, and variables in a required
	// position. Other bound variables are joined afterwards.
	required := make(map[int]bool)
	for _, r := range bodies {
		for pos, param := range r.Params {
			for _, req := range r.Required {
				if req == param {
					required[pos] = true
				}
			}
		}
	}
	var inPos []int
	var inCols []int // column in rel, -1 for constants
	for pos, arg := range rc.Args {
		switch t := arg.(type) {
		case query.Constant:
			inPos, inCols = append(inPos, pos), append(inCols, -1)
		case query.Variable:
			if col := rel.ColumnIndex(t.Name); col >= 0 && required[pos] {
				inPos, inCols = append(inPos, pos), append(inCols, col)
			}
		}
	}

	callVars := rc.Vars()
	varPos := make(map[query.Symbol]int, len(callVars))
	for i, v := range callVars {
		varPos[v] = i
	}
	out := newRelationBuilder(callVars)
	solved := make(map[string]bool)

	for _, t := range rel.Tuples {
		vals := make([]interface{}, len(inPos))
		for i, pos := range inPos {
			if inCols[i] < 0 {
				vals[i] = rc.Args[pos].(query.Constant).Value
			} else {
				vals[i] = t[inCols[i]]
			}
		}
		key := tupleKey(vals)
		if solved[key] {
			continue
		}
		solved[key] = true

		answers, err := x.solve(rc, src, inPos, vals)
		if err != nil {
			return nil, err
		}
	next:
		for _, ans := range answers.Tuples {
			row := make(query.Tuple, len(callVars))
			set := make([]bool, len(callVars))
			for pos, arg := range rc.Args {
				switch a := arg.(type) {
				case query.Constant:
					if !datalog.ValuesEqual(ans[pos], a.Value) {
						continue next
					}
				case query.Variable:
					j := varPos[a.Name]
					val := ans[pos]
					for i, p := range inPos {
						if p == pos {
							val = vals[i]
						}
					}
					if set[j] {
						if !datalog.ValuesEqual(row[j], val) {
							continue next
						}
						continue
					}
					row[j], set[j] = val, true
				}
			}
			out.add(row)
		}
	}
	return Join(rel, out.relation()), nil
}

// solve returns the answers of a rule for one set of input values,
// positional over the rule's parameters
func (x *execution) solve(rc *query.RuleCall, src query.Symbol, inPos []int, vals []interface{}) (*Relation, error) {
	var kb strings.Builder
	kb.WriteString(rc.Name)
	kb.WriteByte('|')
	kb.WriteString(string(src))
	for _, p := range inPos {
		kb.WriteByte('|')
		kb.WriteString(strconv.Itoa(p))
	}
	kb.WriteByte('|')
	kb.WriteString(tupleKey(vals))
	key := kb.String()

	tab := x.tables
	t := tab.tables[key]
	if t != nil && (t.complete || t.evaluating) {
		return t.answers.relation(), nil
	}
	if t == nil {
		t = &ruleTable{answers: newRelationBuilder(nil)}
		tab.tables[key] = t
	}

	t.evaluating = true
	leader := tab.depth == 0
	tab.depth++
	start := time.Now()
	iterations := 0
	for {
		iterations++
		if iterations > x.ex.opts.MaxRuleIterations {
			tab.depth--
			t.evaluating = false
			return nil, &datalog.QueryError{Clause: rc.String(),
				Msg: fmt.Sprintf("rule '%s' did not reach a fixpoint within %d iterations", rc.Name, x.ex.opts.MaxRuleIterations)}
		}
		before := tab.grew
		for _, r := range x.rules[rc.Name] {
			if err := x.evalBody(t, r, src, inPos, vals); err != nil {
				tab.depth--
				t.evaluating = false
				return nil, err
			}
		}
		if tab.grew == before {
			break
		}
	}
	tab.depth--
	t.evaluating = false
	if leader {
		for _, other := range tab.tables {
			other.complete = true
		}
	}
	x.actx.RuleFixpoint(rc.Name, start, iterations, len(t.answers.rel.Tuples))
	return t.answers.relation(), nil
}

// evalBody runs one rule body with its input parameters bound and adds
// the head tuples it derives to the table
func (x *execution) evalBody(t *ruleTable, r query.Rule, src query.Symbol, inPos []int, vals []interface{}) error {
	input := &Relation{}
	row := query.Tuple{}
	for i, pos := range inPos {
		param := r.Params[pos]
		if j := input.ColumnIndex(param); j >= 0 {
			// the same parameter twice: both inputs must agree
			if !datalog.ValuesEqual(row[j], vals[i]) {
				return nil
			}
			continue
		}
		input.Columns = append(input.Columns, param)
		row = append(row, vals[i])
	}
	input.Tuples = []query.Tuple{row}

	res, err := x.evalConjunction(input, r.Body, scope{src: src})
	if err != nil {
		return err
	}
	cols := make([]int, len(r.Params))
	for i, p := range r.Params {
		if cols[i] = res.ColumnIndex(p); cols[i] < 0 {
			return &datalog.QueryError{Clause: r.String(), Msg: fmt.Sprintf("rule head variable %s is not bound by the body", p)}
		}
	}
	for _, tuple := range res.Tuples {
		if t.answers.add(pick(tuple, cols)) {
			x.tables.grew++
		}
	}
	return nil
}
