package executor

import (
	"math"
	"strconv"
	"strings"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/query"
)

// Relation is a set of tuples over named columns. Tuples are unique: every
// constructor in this file deduplicates.
type Relation = query.Relation

// unitRelation has no columns and one empty tuple; joining with it is the
// identity.
func unitRelation() *Relation {
	return &Relation{Tuples: []query.Tuple{{}}}
}

// valueKey renders a value so that values equal under ValuesEqual share a
// key: longs, refs and integral doubles compare numerically.
func valueKey(v interface{}) string {
	if n, ok := query.ToNumber(v); ok {
		switch x := n.(type) {
		case int64:
			return "n" + strconv.FormatInt(x, 10)
		case float64:
			if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
				return "n" + strconv.FormatInt(int64(x), 10)
			}
			return "n" + strconv.FormatFloat(x, 'g', -1, 64)
		}
	}
	switch x := v.(type) {
	case []interface{}:
		parts := make([]string, len(x))
		for i, el := range x {
			parts[i] = valueKey(el)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case query.Tuple:
		return valueKey([]interface{}(x))
	}
	t, _ := datalog.TypeOf(v)
	return strconv.Itoa(int(t)) + ":" + datalog.FormatValue(v)
}

func tupleKey(values []interface{}) string {
	if len(values) == 1 {
		return valueKey(values[0])
	}
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(0x1f)
		}
		sb.WriteString(valueKey(v))
	}
	return sb.String()
}

// relationBuilder accumulates distinct tuples
type relationBuilder struct {
	rel  *Relation
	seen map[string]struct{}
}

func newRelationBuilder(columns []query.Symbol) *relationBuilder {
	return &relationBuilder{
		rel:  &Relation{Columns: columns},
		seen: make(map[string]struct{}),
	}
}

// add inserts a tuple, reporting whether it was new
func (b *relationBuilder) add(t query.Tuple) bool {
	k := tupleKey(t)
	if _, ok := b.seen[k]; ok {
		return false
	}
	b.seen[k] = struct{}{}
	b.rel.Tuples = append(b.rel.Tuples, t)
	return true
}

func (b *relationBuilder) relation() *Relation { return b.rel }

// columnIndexes maps each of cols to its position in rel, -1 when absent
func columnIndexes(rel *Relation, cols []query.Symbol) []int {
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = rel.ColumnIndex(c)
	}
	return idx
}

func pick(t query.Tuple, idx []int) []interface{} {
	out := make([]interface{}, len(idx))
	for i, j := range idx {
		out[i] = t[j]
	}
	return out
}

// Project keeps cols (all of which must be columns of rel), removing
// duplicate tuples
func Project(rel *Relation, cols []query.Symbol) *Relation {
	idx := columnIndexes(rel, cols)
	b := newRelationBuilder(cols)
	for _, t := range rel.Tuples {
		b.add(pick(t, idx))
	}
	return b.relation()
}

// Join is the natural join of two relations. Without common columns it is
// the cartesian product.
func Join(left, right *Relation) *Relation {
	common := left.CommonColumns(*right)
	columns := append([]query.Symbol{}, left.Columns...)
	var rightOnly []int
	for i, c := range right.Columns {
		if left.ColumnIndex(c) < 0 {
			columns = append(columns, c)
			rightOnly = append(rightOnly, i)
		}
	}
	out := &Relation{Columns: columns}
	if left.IsEmpty() || right.IsEmpty() {
		return out
	}

	li := columnIndexes(left, common)
	ri := columnIndexes(right, common)
	table := make(map[string][]query.Tuple, len(right.Tuples))
	for _, t := range right.Tuples {
		k := tupleKey(pick(t, ri))
		table[k] = append(table[k], t)
	}
	for _, lt := range left.Tuples {
		for _, rt := range table[tupleKey(pick(lt, li))] {
			row := make(query.Tuple, 0, len(columns))
			row = append(row, lt...)
			for _, j := range rightOnly {
				row = append(row, rt[j])
			}
			out.Tuples = append(out.Tuples, row)
		}
	}
	return out
}

// AntiJoin keeps the tuples of rel whose values for cols are not in
// excluded (a relation over exactly cols)
func AntiJoin(rel *Relation, cols []query.Symbol, excluded *Relation) *Relation {
	out := &Relation{Columns: rel.Columns}
	if len(cols) == 0 {
		if excluded.IsEmpty() {
			out.Tuples = rel.Tuples
		}
		return out
	}
	drop := make(map[string]struct{}, len(excluded.Tuples))
	ei := columnIndexes(excluded, cols)
	for _, t := range excluded.Tuples {
		drop[tupleKey(pick(t, ei))] = struct{}{}
	}
	idx := columnIndexes(rel, cols)
	for _, t := range rel.Tuples {
		if _, ok := drop[tupleKey(pick(t, idx))]; !ok {
			out.Tuples = append(out.Tuples, t)
		}
	}
	return out
}

// Union merges relations over the same column set, in the column order of
// cols
func Union(cols []query.Symbol, rels ...*Relation) *Relation {
	b := newRelationBuilder(cols)
	for _, r := range rels {
		idx := columnIndexes(r, cols)
		for _, t := range r.Tuples {
			b.add(pick(t, idx))
		}
	}
	return b.relation()
}

// present returns the members of cols that are columns of rel
func present(rel *Relation, cols []query.Symbol) []query.Symbol {
	var out []query.Symbol
	for _, c := range cols {
		if rel.ColumnIndex(c) >= 0 {
			out = append(out, c)
		}
	}
	return out
}
