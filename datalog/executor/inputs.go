package executor

import (
	"fmt"
	"strings"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/parser"
	"github.com/wbrown/janus-factdb/datalog/query"
)

// bindInputs binds the positional inputs to the :in specs. Sources and
// rules are recorded on the execution; everything else becomes the
// starting relation (the product of all variable bindings).
func (x *execution) bindInputs(in []query.InputSpec, inputs []interface{}) (*Relation, error) {
	if len(in) != len(inputs) {
		specs := make([]string, len(in))
		for i, s := range in {
			specs[i] = s.String()
		}
		return nil, datalog.Queryf("query takes %d inputs [%s], got %d", len(in), strings.Join(specs, " "), len(inputs))
	}

	rel := unitRelation()
	for i, spec := range in {
		v := inputs[i]
		var bound *Relation
		switch s := spec.(type) {
		case query.SourceInput:
			src, err := asSource(v)
			if err != nil {
				return nil, &datalog.QueryError{Clause: s.String(), Msg: "invalid source input", Err: err}
			}
			x.sources[s.Name] = src
			continue

		case query.RulesInput:
			rules, err := parser.ParseRulesData(v)
			if err != nil {
				return nil, err
			}
			x.rules = rules
			continue

		case query.ScalarInput:
			if s.Symbol.IsBlank() {
				continue
			}
			val := datalog.Normalize(v)
			x.scalars[s.Symbol] = val
			bound = &Relation{Columns: []query.Symbol{s.Symbol}, Tuples: []query.Tuple{{val}}}

		case query.CollectionInput:
			items, ok := asSlice(v)
			if !ok {
				return nil, datalog.Queryf("input %s needs a collection, got %T", s, v)
			}
			if s.Symbol.IsBlank() {
				continue
			}
			b := newRelationBuilder([]query.Symbol{s.Symbol})
			for _, item := range items {
				b.add(query.Tuple{datalog.Normalize(item)})
			}
			bound = b.relation()

		case query.TupleInput:
			items, ok := asSlice(v)
			if !ok {
				return nil, datalog.Queryf("input %s needs a tuple, got %T", s, v)
			}
			row, err := inputTuple(s.Symbols, items)
			if err != nil {
				return nil, &datalog.QueryError{Clause: s.String(), Msg: "invalid tuple input", Err: err}
			}
			bound = &Relation{Columns: s.Binds(), Tuples: []query.Tuple{row}}

		case query.RelationInput:
			items, ok := asSlice(v)
			if !ok {
				return nil, datalog.Queryf("input %s needs a relation, got %T", s, v)
			}
			b := newRelationBuilder(s.Binds())
			for _, item := range items {
				tuple, ok := asSlice(item)
				if !ok {
					return nil, datalog.Queryf("input %s: %s is not a tuple", s, datalog.FormatValue(item))
				}
				row, err := inputTuple(s.Symbols, tuple)
				if err != nil {
					return nil, &datalog.QueryError{Clause: s.String(), Msg: "invalid relation input", Err: err}
				}
				b.add(row)
			}
			bound = b.relation()

		default:
			return nil, datalog.Queryf("unsupported input %s", spec)
		}
		rel = Join(rel, bound)
	}
	return rel, nil
}

func inputTuple(syms []query.Symbol, items []interface{}) (query.Tuple, error) {
	if len(items) != len(syms) {
		return nil, fmt.Errorf("expected %d values, got %d", len(syms), len(items))
	}
	var row query.Tuple
	for i, s := range syms {
		if !s.IsBlank() {
			row = append(row, datalog.Normalize(items[i]))
		}
	}
	return row, nil
}
