package query

import (
	"fmt"
	"strings"

	"github.com/wbrown/janus-factdb/datalog/edn"
)

// Clause represents anything that can appear in a query's WHERE clause
type Clause interface {
	String() string
	// Vars lists every variable the clause mentions, in order
	Vars() []Symbol
	clause() // Private marker method
}

func (*DataPattern) clause() {}
func (*Predicate) clause()   {}
func (*Function) clause()    {}
func (*Not) clause()         {}
func (*Or) clause()          {}
func (*RuleCall) clause()    {}

// DataPattern matches datoms: [src? e a v tx added]. Missing trailing
// positions behave as blanks.
type DataPattern struct {
	Source   Symbol
	Elements []Term
}

func (p *DataPattern) at(i int) Term {
	if i < len(p.Elements) {
		return p.Elements[i]
	}
	return Blank{}
}

// E returns the entity element
func (p *DataPattern) E() Term { return p.at(0) }

// A returns the attribute element
func (p *DataPattern) A() Term { return p.at(1) }

// V returns the value element
func (p *DataPattern) V() Term { return p.at(2) }

// Tx returns the transaction element
func (p *DataPattern) Tx() Term { return p.at(3) }

// Added returns the added flag element
func (p *DataPattern) Added() Term { return p.at(4) }

// Vars returns the variables bound by this pattern. In relational terms
// these become the columns of the resulting relation.
func (p *DataPattern) Vars() []Symbol { return TermVars(p.Elements) }

func (p *DataPattern) String() string {
	if p.Source != "" && p.Source != DefaultSource {
		return "[" + p.Source.String() + " " + joinTerms(p.Elements) + "]"
	}
	return "[" + joinTerms(p.Elements) + "]"
}

// Predicate filters tuples: [(f args...)]
type Predicate struct {
	Fn   string
	Args []Term
}

func (p *Predicate) Vars() []Symbol { return TermVars(p.Args) }

func (p *Predicate) String() string {
	return "[(" + strings.TrimSpace(p.Fn+" "+joinTerms(p.Args)) + ")]"
}

// Function calls f and binds its result: [(f args...) binding]
type Function struct {
	Fn      string
	Args    []Term
	Binding Binding
}

func (f *Function) Vars() []Symbol {
	out := TermVars(f.Args)
	for _, v := range f.Binding.Vars() {
		out = appendUnique(out, v)
	}
	return out
}

func (f *Function) String() string {
	return "[(" + strings.TrimSpace(f.Fn+" "+joinTerms(f.Args)) + ") " + f.Binding.String() + "]"
}

// Binding describes how a function result is destructured
type Binding interface {
	String() string
	Vars() []Symbol
	isBinding()
}

// BindScalar binds the whole result: ?x
type BindScalar struct {
	Var Symbol
}

// BindTuple destructures one sequential result: [?a ?b]
type BindTuple struct {
	Symbols []Symbol
}

// BindColl binds each element of a collection result: [?x ...]
type BindColl struct {
	Var Symbol
}

// BindRel binds each tuple of a relation result: [[?a ?b]]
type BindRel struct {
	Symbols []Symbol
}

func (BindScalar) isBinding() {}
func (BindTuple) isBinding()  {}
func (BindColl) isBinding()   {}
func (BindRel) isBinding()    {}

func (b BindScalar) String() string { return b.Var.String() }
func (b BindTuple) String() string  { return "[" + joinSymbols(b.Symbols) + "]" }
func (b BindColl) String() string   { return "[" + b.Var.String() + " ...]" }
func (b BindRel) String() string    { return "[[" + joinSymbols(b.Symbols) + "]]" }

func (b BindScalar) Vars() []Symbol { return variablesOnly([]Symbol{b.Var}) }
func (b BindTuple) Vars() []Symbol  { return variablesOnly(b.Symbols) }
func (b BindColl) Vars() []Symbol   { return variablesOnly([]Symbol{b.Var}) }
func (b BindRel) Vars() []Symbol    { return variablesOnly(b.Symbols) }

// Not removes the tuples for which the enclosed conjunction matches.
// Join is nil for a plain not, which joins on every shared variable.
type Not struct {
	Source  Symbol
	Join    []Symbol
	Clauses []Clause
}

func (n *Not) Vars() []Symbol {
	if n.Join != nil {
		return n.Join
	}
	return clauseVars(n.Clauses)
}

func (n *Not) String() string {
	head := "(not"
	if n.Join != nil {
		head = "(not-join [" + joinSymbols(n.Join) + "]"
	}
	if n.Source != "" && n.Source != DefaultSource {
		head = n.Source.String() + " " + head
	}
	return head + " " + joinClauses(n.Clauses) + ")"
}

// Or unions the results of its branches. Each branch is a conjunction;
// a plain clause branch holds a single clause. Required lists the
// or-join variables that must be bound before the clause runs.
type Or struct {
	Source   Symbol
	Join     []Symbol
	Required []Symbol
	Branches [][]Clause
}

func (o *Or) Vars() []Symbol {
	if o.Join != nil {
		return o.Join
	}
	if len(o.Branches) == 0 {
		return nil
	}
	return clauseVars(o.Branches[0])
}

func (o *Or) String() string {
	head := "(or"
	if o.Join != nil {
		var parts []string
		if len(o.Required) > 0 {
			parts = append(parts, "["+joinSymbols(o.Required)+"]")
		}
		for _, v := range o.Join {
			if !containsSymbol(o.Required, v) {
				parts = append(parts, v.String())
			}
		}
		head = "(or-join [" + strings.Join(parts, " ") + "]"
	}
	if o.Source != "" && o.Source != DefaultSource {
		head = o.Source.String() + " " + head
	}
	var sb strings.Builder
	sb.WriteString(head)
	for _, branch := range o.Branches {
		if len(branch) == 1 {
			sb.WriteString(" " + branch[0].String())
		} else {
			sb.WriteString(" (and " + joinClauses(branch) + ")")
		}
	}
	sb.WriteString(")")
	return sb.String()
}

// RuleCall invokes a named rule: (name args...)
type RuleCall struct {
	Source Symbol
	Name   string
	Args   []Term
}

func (r *RuleCall) Vars() []Symbol { return TermVars(r.Args) }

func (r *RuleCall) String() string {
	head := "(" + r.Name
	if r.Source != "" && r.Source != DefaultSource {
		head = "(" + r.Source.String() + " " + r.Name
	}
	if len(r.Args) == 0 {
		return head + ")"
	}
	return head + " " + joinTerms(r.Args) + ")"
}

// Rule is one body of a named rule. Params is the flattened positional
// head; Required holds the head variables written inside a bound-argument
// vector, which must be bound when the rule is called.
type Rule struct {
	Name     string
	Params   []Symbol
	Required []Symbol
	Body     []Clause
}

func (r Rule) String() string {
	var head []string
	var run []Symbol
	for _, p := range r.Params {
		if containsSymbol(r.Required, p) {
			run = append(run, p)
			continue
		}
		if len(run) > 0 {
			head = append(head, "["+joinSymbols(run)+"]")
			run = nil
		}
		head = append(head, p.String())
	}
	if len(run) > 0 {
		head = append(head, "["+joinSymbols(run)+"]")
	}
	return fmt.Sprintf("[(%s %s) %s]", r.Name, strings.Join(head, " "), joinClauses(r.Body))
}

// Rules groups rule bodies by name. Several bodies under one name are
// alternatives.
type Rules map[string][]Rule

// Add appends a rule body, checking that its arity matches earlier bodies
func (rs Rules) Add(r Rule) error {
	if prev, ok := rs[r.Name]; ok && len(prev[0].Params) != len(r.Params) {
		return fmt.Errorf("rule %s defined with %d and %d arguments", r.Name, len(prev[0].Params), len(r.Params))
	}
	rs[r.Name] = append(rs[r.Name], r)
	return nil
}

func clauseVars(clauses []Clause) []Symbol {
	var out []Symbol
	for _, c := range clauses {
		for _, v := range c.Vars() {
			out = appendUnique(out, v)
		}
	}
	return out
}

// ClauseVars lists the variables mentioned by a conjunction
func ClauseVars(clauses []Clause) []Symbol { return clauseVars(clauses) }

func joinClauses(clauses []Clause) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

func containsSymbol(syms []Symbol, s Symbol) bool {
	for _, have := range syms {
		if have == s {
			return true
		}
	}
	return false
}

func formatData(v interface{}) string {
	n, err := edn.FromValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return n.String()
}
