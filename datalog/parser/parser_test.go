package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/edn"
	"github.com/wbrown/janus-factdb/datalog/query"
)

func TestParseSimpleQuery(t *testing.T) {
	q, err := ParseQuery(`[:find ?e ?name
	                       :where [?e :person/name ?name]]`)
	require.NoError(t, err)

	assert.Equal(t, query.FindRel, q.Find.Kind)
	require.Len(t, q.Find.Elements, 2)
	assert.Equal(t, query.FindVariable{Symbol: "?e"}, q.Find.Elements[0])
	assert.Nil(t, q.In)

	require.Len(t, q.Where, 1)
	pattern, ok := q.Where[0].(*query.DataPattern)
	require.True(t, ok)
	assert.Equal(t, query.Variable{Name: "?e"}, pattern.E())
	assert.Equal(t, query.Constant{Value: datalog.NewKeyword(":person/name")}, pattern.A())
	assert.Equal(t, query.Blank{}, pattern.Tx())
}

func TestFindShapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  query.FindKind
		text  string
	}{
		{"relation", `[:find ?a ?b :where [?a :x ?b]]`, query.FindRel, "?a ?b"},
		{"collection", `[:find [?a ...] :where [?a :x _]]`, query.FindColl, "[?a ...]"},
		{"tuple", `[:find [?a ?b] :where [?a :x ?b]]`, query.FindTuple, "[?a ?b]"},
		{"scalar", `[:find ?a . :where [?a :x _]]`, query.FindScalar, "?a ."},
		{"aggregate", `[:find ?a (max 2 ?b) :where [?a :x ?b]]`, query.FindRel, "?a (max 2 ?b)"},
		{"pull", `[:find (pull ?e [:x {:y [:z]}]) :where [?e :x _]]`, query.FindRel, "(pull ?e [:x {:y [:z]}])"},
		{"pull pattern input", `[:find (pull ?e ?p) . :in $ ?p :where [?e :x _]]`, query.FindScalar, "(pull ?e ?p) ."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuery(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, q.Find.Kind)
			assert.Equal(t, tt.text, q.Find.String())
		})
	}
}

func TestInputSpecs(t *testing.T) {
	q, err := ParseQuery(`[:find ?e
	                       :in $ $log % ?name [?tag ...] [?a _] [[?x ?y]]
	                       :where [?e :person/name ?name]]`)
	require.NoError(t, err)

	want := []query.InputSpec{
		query.SourceInput{Name: "$"},
		query.SourceInput{Name: "$log"},
		query.RulesInput{},
		query.ScalarInput{Symbol: "?name"},
		query.CollectionInput{Symbol: "?tag"},
		query.TupleInput{Symbols: []query.Symbol{"?a", "_"}},
		query.RelationInput{Symbols: []query.Symbol{"?x", "?y"}},
	}
	assert.Equal(t, want, q.In)
	assert.Equal(t, []query.Symbol{"?a"}, q.In[5].Binds())
	assert.Equal(t, []query.Symbol{"$", "$log"}, q.Sources())
	assert.True(t, q.HasRulesInput())
}

func TestCollectionOfTuplesBinding(t *testing.T) {
	q, err := ParseQuery(`[:find ?n
	                       :in $ [[?n ?a] ...]
	                       :where [?e :person/name ?n]
	                              [(ground [[1 2]]) [[?x _] ...]]]`)
	require.NoError(t, err)
	assert.Equal(t, query.RelationInput{Symbols: []query.Symbol{"?n", "?a"}}, q.In[1])
	assert.Equal(t, query.BindRel{Symbols: []query.Symbol{"?x", "_"}}, q.Where[1].(*query.Function).Binding)

	_, err = ParseQuery(`[:find ?n :in $ [[] ...] :where [?e :person/name ?n]]`)
	assert.Error(t, err)
	_, err = ParseQuery(`[:find ?n :in $ [:n ...] :where [?e :person/name ?n]]`)
	assert.Error(t, err)
}

func TestWhereClauses(t *testing.T) {
	q, err := ParseQuery(`[:find ?e
	    :with ?x
	    :where
	    [$hist ?e :a ?v ?tx false]
	    [(> ?v 10)]
	    [(get-else $ ?e :b "none") ?b]
	    [(fulltext $ :doc "fox") [[?e ?text ?tx ?score]]]
	    [(tuple ?a ?b) ?tup]
	    [(untuple ?tup) [?c ?d]]
	    [(vector 1 2) [?n ...]]
	    (not [?e :banned true])
	    (not-join [?e] [?e :friend ?f] [?f :banned true])
	    (or [?e :x 1] (and [?e :y 2] [?e :z 3]))
	    (or-join [[?e] ?w] [?e :w ?w] [?e :q ?w])
	    (friend ?e ?other)
	    ($other friend ?e _)]`)
	require.NoError(t, err)
	require.Len(t, q.Where, 13)

	p := q.Where[0].(*query.DataPattern)
	assert.Equal(t, query.Symbol("$hist"), p.Source)
	assert.Equal(t, query.Constant{Value: false}, p.Added())

	assert.IsType(t, &query.Predicate{}, q.Where[1])
	fn := q.Where[2].(*query.Function)
	assert.Equal(t, query.SrcVar{Name: "$"}, fn.Args[0])
	assert.Equal(t, query.BindScalar{Var: "?b"}, fn.Binding)
	assert.Equal(t, query.BindRel{Symbols: []query.Symbol{"?e", "?text", "?tx", "?score"}}, q.Where[3].(*query.Function).Binding)
	assert.Equal(t, query.BindTuple{Symbols: []query.Symbol{"?c", "?d"}}, q.Where[5].(*query.Function).Binding)
	assert.Equal(t, query.BindColl{Var: "?n"}, q.Where[6].(*query.Function).Binding)

	assert.Nil(t, q.Where[7].(*query.Not).Join)
	assert.Equal(t, []query.Symbol{"?e"}, q.Where[8].(*query.Not).Join)

	or := q.Where[9].(*query.Or)
	require.Len(t, or.Branches, 2)
	assert.Len(t, or.Branches[1], 2)

	orJoin := q.Where[10].(*query.Or)
	assert.Equal(t, []query.Symbol{"?e", "?w"}, orJoin.Join)
	assert.Equal(t, []query.Symbol{"?e"}, orJoin.Required)

	assert.Equal(t, "friend", q.Where[11].(*query.RuleCall).Name)
	assert.Equal(t, query.Symbol("$other"), q.Where[12].(*query.RuleCall).Source)
	assert.Equal(t, []query.Symbol{"?x"}, q.With)
}

func TestMapFormAndData(t *testing.T) {
	vector, err := ParseQuery(`[:find ?n :in $ ?age :where [?e :person/age ?age] [?e :person/name ?n]]`)
	require.NoError(t, err)

	mapped, err := ParseQuery(`{:find [?n] :in [$ ?age] :where [[?e :person/age ?age] [?e :person/name ?n]]}`)
	require.NoError(t, err)
	assert.Equal(t, vector.String(), mapped.String())

	data := []interface{}{
		datalog.NewKeyword(":find"), edn.Symbol("?n"),
		datalog.NewKeyword(":in"), edn.Symbol("$"), edn.Symbol("?age"),
		datalog.NewKeyword(":where"),
		[]interface{}{edn.Symbol("?e"), datalog.NewKeyword(":person/age"), edn.Symbol("?age")},
		[]interface{}{edn.Symbol("?e"), datalog.NewKeyword(":person/name"), edn.Symbol("?n")},
	}
	fromData, err := ParseData(data)
	require.NoError(t, err)
	assert.Equal(t, vector.String(), fromData.String())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no find", `[:where [?e :a ?v]]`},
		{"unknown section", `[:find ?e :order [?e] :where [?e :a]]`},
		{"constant in find", `[:find :a :where [?e :a]]`},
		{"pattern too long", `[:find ?e :where [?e :a ?v ?tx true extra]]`},
		{"unknown aggregate", `[:find (bogus ?v) :where [?e :a ?v]]`},
		{"and outside or", `[:find ?e :where (and [?e :a])]`},
		{"bad binding", `[:find ?e :where [(inc 1) "x"]]`},
		{"empty not", `[:find ?e :where [?e :a] (not)]`},
		{"bad edn", `[:find ?e :where [?e :a`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuery(tt.input)
			require.Error(t, err)
			var qe *datalog.QueryError
			assert.ErrorAs(t, err, &qe)
		})
	}
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules(`[[(ancestor ?a ?d) [?a :parent ?d]]
	                           [(ancestor ?a ?d) [?a :parent ?x] (ancestor ?x ?d)]
	                           [(attr-in-ns [?ns] ?a) [?e :db/ident ?a] [(namespace ?a) ?n] [(= ?n ?ns)]]]`)
	require.NoError(t, err)
	require.Len(t, rules["ancestor"], 2)
	assert.Equal(t, []query.Symbol{"?a", "?d"}, rules["ancestor"][0].Params)
	assert.IsType(t, &query.RuleCall{}, rules["ancestor"][1].Body[1])

	ns := rules["attr-in-ns"][0]
	assert.Equal(t, []query.Symbol{"?ns", "?a"}, ns.Params)
	assert.Equal(t, []query.Symbol{"?ns"}, ns.Required)
	assert.Contains(t, ns.String(), "(attr-in-ns [?ns] ?a)")

	_, err = ParseRules(`[[(r ?a) [?a :x]] [(r ?a ?b) [?a :x ?b]]]`)
	assert.Error(t, err)
}
