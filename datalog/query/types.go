package query

import (
	"strings"

	"github.com/wbrown/janus-factdb/datalog"
)

// Tuple represents a row of values in a relation
type Tuple []interface{}

// Symbol is a query symbol: a variable (?x), a source ($, $log), the
// rules input (%), the blank (_) or a plain name such as a function.
type Symbol string

// IsVariable returns true if this is a variable symbol (starts with ?)
func (s Symbol) IsVariable() bool {
	return len(s) > 1 && s[0] == '?'
}

// IsSource reports whether the symbol names a data source ($ or $name)
func (s Symbol) IsSource() bool {
	return len(s) > 0 && s[0] == '$'
}

// IsRules reports whether the symbol is the rules input %
func (s Symbol) IsRules() bool { return s == "%" }

// IsBlank reports whether the symbol is _
func (s Symbol) IsBlank() bool { return s == "_" }

// String returns the string representation
func (s Symbol) String() string {
	return string(s)
}

// DefaultSource is the implicit source of clauses that name none
const DefaultSource Symbol = "$"

// Term is one argument position of a clause: a variable, a blank, a
// constant or a source symbol.
type Term interface {
	String() string
	term()
}

// Variable represents a query variable (e.g., ?x)
type Variable struct {
	Name Symbol
}

// Blank represents a blank/wildcard (_)
type Blank struct{}

// Constant represents a concrete value in a pattern
type Constant struct {
	Value interface{}
}

// SrcVar names a data source passed to a function, as in (get-else $ ...)
type SrcVar struct {
	Name Symbol
}

func (Variable) term() {}
func (Blank) term()    {}
func (Constant) term() {}
func (SrcVar) term()   {}

func (v Variable) String() string { return v.Name.String() }
func (Blank) String() string      { return "_" }
func (c Constant) String() string { return datalog.FormatValue(c.Value) }
func (s SrcVar) String() string   { return s.Name.String() }

// TermVars returns the distinct variables among terms, in order
func TermVars(terms []Term) []Symbol {
	var out []Symbol
	for _, t := range terms {
		if v, ok := t.(Variable); ok {
			out = appendUnique(out, v.Name)
		}
	}
	return out
}

func appendUnique(syms []Symbol, s Symbol) []Symbol {
	for _, have := range syms {
		if have == s {
			return syms
		}
	}
	return append(syms, s)
}

func joinSymbols(syms []Symbol) string {
	parts := make([]string, len(syms))
	for i, s := range syms {
		parts[i] = s.String()
	}
	return strings.Join(parts, " ")
}

func joinTerms(terms []Term) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}

// Query represents a parsed Datalog query
type Query struct {
	Find  FindSpec
	With  []Symbol    // extra grouping variables kept before aggregation
	In    []InputSpec // defaults to [$] when the query has no :in
	Where []Clause
}

// FindKind selects how results are packaged
type FindKind uint8

const (
	FindRel    FindKind = iota // ?a ?b    -> set of tuples
	FindColl                   // [?a ...] -> flat collection
	FindTuple                  // [?a ?b]  -> one tuple
	FindScalar                 // ?a .     -> one value
)

// FindSpec is the :find clause
type FindSpec struct {
	Kind     FindKind
	Elements []FindElement
}

func (f FindSpec) String() string {
	parts := make([]string, len(f.Elements))
	for i, e := range f.Elements {
		parts[i] = e.String()
	}
	body := strings.Join(parts, " ")
	switch f.Kind {
	case FindColl:
		return "[" + body + " ...]"
	case FindTuple:
		return "[" + body + "]"
	case FindScalar:
		return body + " ."
	}
	return body
}

// HasAggregates reports whether any find element aggregates
func (f FindSpec) HasAggregates() bool {
	for _, e := range f.Elements {
		if e.IsAggregate() {
			return true
		}
	}
	return false
}

// FindElement represents an element in the find clause
type FindElement interface {
	String() string
	IsAggregate() bool
	// Var is the variable whose binding the element reads
	Var() Symbol
}

// FindVariable is a simple variable in the find clause
type FindVariable struct {
	Symbol Symbol
}

func (f FindVariable) String() string    { return f.Symbol.String() }
func (f FindVariable) IsAggregate() bool { return false }
func (f FindVariable) Var() Symbol       { return f.Symbol }

// FindAggregate represents an aggregate such as (count ?x) or (max 3 ?x)
type FindAggregate struct {
	Function string
	Params   []interface{} // leading constant arguments, e.g. N in (max N ?x)
	Arg      Symbol
}

func (f FindAggregate) String() string {
	var sb strings.Builder
	sb.WriteString("(" + f.Function)
	for _, p := range f.Params {
		sb.WriteString(" " + datalog.FormatValue(p))
	}
	sb.WriteString(" " + f.Arg.String() + ")")
	return sb.String()
}

func (f FindAggregate) IsAggregate() bool { return true }
func (f FindAggregate) Var() Symbol       { return f.Arg }

// FindPull pulls a selection pattern for each entity bound to Entity.
// The pattern is either literal data or the name of a scalar input.
type FindPull struct {
	Source     Symbol
	Entity     Symbol
	Pattern    interface{}
	PatternVar Symbol
}

func (f FindPull) String() string {
	pattern := f.PatternVar.String()
	if f.PatternVar == "" {
		pattern = formatData(f.Pattern)
	}
	if f.Source != "" && f.Source != DefaultSource {
		return "(pull " + f.Source.String() + " " + f.Entity.String() + " " + pattern + ")"
	}
	return "(pull " + f.Entity.String() + " " + pattern + ")"
}

func (f FindPull) IsAggregate() bool { return false }
func (f FindPull) Var() Symbol       { return f.Entity }

// InputSpec represents an input specification in the :in clause
type InputSpec interface {
	isInputSpec()
	String() string
	// Binds lists the variables the input binds
	Binds() []Symbol
}

// SourceInput names a data source: a database or a collection of tuples
type SourceInput struct {
	Name Symbol
}

// RulesInput is the % input carrying a rule set
type RulesInput struct{}

// ScalarInput represents a single value input (?x)
type ScalarInput struct {
	Symbol Symbol
}

// CollectionInput represents a collection input [?x ...]
type CollectionInput struct {
	Symbol Symbol
}

// TupleInput represents a tuple input [?x ?y]
type TupleInput struct {
	Symbols []Symbol
}

// RelationInput represents a relation input [[?x ?y]]
type RelationInput struct {
	Symbols []Symbol
}

func (SourceInput) isInputSpec()     {}
func (RulesInput) isInputSpec()      {}
func (ScalarInput) isInputSpec()     {}
func (CollectionInput) isInputSpec() {}
func (TupleInput) isInputSpec()      {}
func (RelationInput) isInputSpec()   {}

func (s SourceInput) String() string     { return s.Name.String() }
func (RulesInput) String() string        { return "%" }
func (s ScalarInput) String() string     { return s.Symbol.String() }
func (c CollectionInput) String() string { return "[" + c.Symbol.String() + " ...]" }
func (t TupleInput) String() string      { return "[" + joinSymbols(t.Symbols) + "]" }
func (r RelationInput) String() string   { return "[[" + joinSymbols(r.Symbols) + "]]" }

func (SourceInput) Binds() []Symbol       { return nil }
func (RulesInput) Binds() []Symbol        { return nil }
func (s ScalarInput) Binds() []Symbol     { return []Symbol{s.Symbol} }
func (c CollectionInput) Binds() []Symbol { return variablesOnly([]Symbol{c.Symbol}) }
func (t TupleInput) Binds() []Symbol      { return variablesOnly(t.Symbols) }
func (r RelationInput) Binds() []Symbol   { return variablesOnly(r.Symbols) }

func variablesOnly(syms []Symbol) []Symbol {
	var out []Symbol
	for _, s := range syms {
		if s.IsVariable() {
			out = append(out, s)
		}
	}
	return out
}

// Sources returns the source names of the query's inputs
func (q *Query) Sources() []Symbol {
	var out []Symbol
	for _, in := range q.In {
		if s, ok := in.(SourceInput); ok {
			out = append(out, s.Name)
		}
	}
	return out
}

// HasRulesInput reports whether % appears among the inputs
func (q *Query) HasRulesInput() bool {
	for _, in := range q.In {
		if _, ok := in.(RulesInput); ok {
			return true
		}
	}
	return false
}

// String renders the query in vector form
func (q Query) String() string {
	var sb strings.Builder
	sb.WriteString("[:find " + q.Find.String())
	if len(q.With) > 0 {
		sb.WriteString(" :with " + joinSymbols(q.With))
	}
	if len(q.In) > 0 {
		sb.WriteString(" :in")
		for _, in := range q.In {
			sb.WriteString(" " + in.String())
		}
	}
	sb.WriteString(" :where")
	for _, c := range q.Where {
		sb.WriteString(" " + c.String())
	}
	sb.WriteString("]")
	return sb.String()
}

// Relation represents an intermediate relation during query execution
type Relation struct {
	Columns []Symbol
	Tuples  []Tuple
}

// IsEmpty returns true if the relation has no tuples
func (r Relation) IsEmpty() bool {
	return len(r.Tuples) == 0
}

// Size returns the number of tuples
func (r Relation) Size() int {
	return len(r.Tuples)
}

// ColumnIndex returns the index of a column, or -1 if not found
func (r Relation) ColumnIndex(col Symbol) int {
	for i, c := range r.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// CommonColumns returns the columns that appear in both relations
func (r Relation) CommonColumns(other Relation) []Symbol {
	var common []Symbol
	for _, col := range r.Columns {
		if other.ColumnIndex(col) >= 0 {
			common = append(common, col)
		}
	}
	return common
}
