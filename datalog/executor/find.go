package executor

import (
	"fmt"
	"sort"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/pull"
	"github.com/wbrown/janus-factdb/datalog/query"
)

// project turns the final relation into result rows: aggregation by
// group, pull expressions, then a stable order
func (x *execution) project(rel *Relation, q *query.Query) (*Result, error) {
	res := &Result{Find: q.Find}
	for _, elem := range q.Find.Elements {
		res.Columns = append(res.Columns, elem.String())
	}

	var tuples []query.Tuple
	if q.Find.HasAggregates() {
		var err error
		if tuples, err = x.aggregate(rel, q); err != nil {
			return nil, err
		}
	} else {
		vars := make([]query.Symbol, len(q.Find.Elements))
		for i, elem := range q.Find.Elements {
			vars[i] = elem.Var()
		}
		tuples = Project(rel, vars).Tuples
	}
	sortTuples(tuples)

	pulls := make(map[int]*pull.Pattern)
	for i, elem := range q.Find.Elements {
		fp, ok := elem.(query.FindPull)
		if !ok {
			continue
		}
		pattern := fp.Pattern
		if fp.PatternVar != "" {
			pattern = x.scalars[fp.PatternVar]
		}
		p, err := pull.ParsePattern(pattern)
		if err != nil {
			return nil, &datalog.QueryError{Clause: fp.String(), Msg: "invalid pull pattern", Err: err}
		}
		pulls[i] = p
	}

	res.Rows = make([][]interface{}, 0, len(tuples))
	for _, t := range tuples {
		row := []interface{}(t)
		for i, p := range pulls {
			fp := q.Find.Elements[i].(query.FindPull)
			d, err := x.pullSource(fp)
			if err != nil {
				return nil, err
			}
			entity, err := p.Pull(d, row[i])
			if err != nil {
				return nil, &datalog.QueryError{Clause: fp.String(), Msg: "pull failed", Err: err}
			}
			row[i] = entity
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

func (x *execution) pullSource(fp query.FindPull) (*db.Database, error) {
	name := topScope.resolve(fp.Source)
	src, ok := x.sources[name]
	if !ok {
		return nil, &datalog.QueryError{Clause: fp.String(), Msg: fmt.Sprintf("unknown source %s", name)}
	}
	d, ok := src.(*db.Database)
	if !ok {
		return nil, &datalog.QueryError{Clause: fp.String(), Msg: fmt.Sprintf("source %s is not a database", name)}
	}
	return d, nil
}

// aggregate groups the relation by the non-aggregate find variables. The
// relation is first reduced to distinct values of the find and :with
// variables, so each group aggregates over a bag in which :with keeps
// duplicates apart.
func (x *execution) aggregate(rel *Relation, q *query.Query) ([]query.Tuple, error) {
	var keyVars, groupVars []query.Symbol
	addUnique := func(list []query.Symbol, s query.Symbol) []query.Symbol {
		for _, have := range list {
			if have == s {
				return list
			}
		}
		return append(list, s)
	}
	for _, elem := range q.Find.Elements {
		keyVars = addUnique(keyVars, elem.Var())
		if !elem.IsAggregate() {
			groupVars = addUnique(groupVars, elem.Var())
		}
	}
	for _, w := range q.With {
		keyVars = addUnique(keyVars, w)
	}
	var aggVars []query.Symbol
	for _, elem := range q.Find.Elements {
		if elem.IsAggregate() {
			aggVars = addUnique(aggVars, elem.Var())
		}
	}
	bag := Project(rel, keyVars)
	ai := columnIndexes(bag, aggVars)

	type group struct {
		key    []interface{}
		values map[query.Symbol][]interface{}
	}
	var groups []*group
	var out []query.Tuple
	err := x.actx.Aggregate(bag.Size(), func() (int, error) {
		gi := columnIndexes(bag, groupVars)
		byKey := make(map[string]*group)
		for _, t := range bag.Tuples {
			key := pick(t, gi)
			k := tupleKey(key)
			g, ok := byKey[k]
			if !ok {
				g = &group{key: key, values: make(map[query.Symbol][]interface{})}
				byKey[k] = g
				groups = append(groups, g)
			}
			for i, v := range aggVars {
				g.values[v] = append(g.values[v], t[ai[i]])
			}
		}

		for _, g := range groups {
			row := make(query.Tuple, len(q.Find.Elements))
			for i, elem := range q.Find.Elements {
				a, ok := elem.(query.FindAggregate)
				if !ok {
					for j, v := range groupVars {
						if v == elem.Var() {
							row[i] = g.key[j]
						}
					}
					continue
				}
				v, err := query.Aggregate(a, g.values[a.Arg], x.rng)
				if err != nil {
					return 0, err
				}
				row[i] = v
			}
			out = append(out, row)
		}
		return len(groups), nil
	})
	return out, err
}

// sortTuples orders rows column by column so results are deterministic
func sortTuples(tuples []query.Tuple) {
	sort.SliceStable(tuples, func(i, j int) bool {
		a, b := tuples[i], tuples[j]
		for k := range a {
			if c := datalog.CompareValues(a[k], b[k]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}
