package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/parser"
	"github.com/wbrown/janus-factdb/datalog/query"
)

func plan(t *testing.T, text string, rules query.Rules) (*QueryPlan, error) {
	t.Helper()
	q, err := parser.ParseQuery(text)
	require.NoError(t, err)
	n := 1
	if rules != nil {
		n = 2
	}
	return NewPlanner(PlannerOptions{}).Plan(q, DefaultInputs(q, n), rules)
}

func clauseStrings(qp *QueryPlan) []string {
	var out []string
	for _, c := range qp.Clauses() {
		out = append(out, c.String())
	}
	return out
}

func TestOrdering(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "predicate runs once its input is bound",
			query: `[:find ?n :where [?e :person/age ?a] [?e :person/name ?n] [(> ?a 30)]]`,
			want:  []string{`[?e :person/age ?a]`, `[(> ?a 30)]`, `[?e :person/name ?n]`},
		},
		{
			name:  "ground pattern first",
			query: `[:find ?n :where [?e :person/name ?n] [?e :person/email "a@example.com"]]`,
			want:  []string{`[?e :person/email "a@example.com"]`, `[?e :person/name ?n]`},
		},
		{
			name:  "connected pattern preferred",
			query: `[:find ?n :where [?e :person/name ?n] [?x :other/attr ?y] [?e :person/age ?a]]`,
			want:  []string{`[?e :person/name ?n]`, `[?e :person/age ?a]`, `[?x :other/attr ?y]`},
		},
		{
			name:  "not waits for its variables",
			query: `[:find ?e :where (not [?e :person/banned true]) [?e :person/name _]]`,
			want:  []string{`[?e :person/name _]`, `(not [?e :person/banned true])`},
		},
		{
			name:  "function chains",
			query: `[:find ?z :where [(+ ?y 1) ?z] [(ground 1) ?x] [(* ?x 2) ?y]]`,
			want:  []string{`[(ground 1) ?x]`, `[(* ?x 2) ?y]`, `[(+ ?y 1) ?z]`},
		},
		{
			name:  "or keeps its position",
			query: `[:find ?e :where [?e :a ?v] (or [?e :b 1] [?e :c 1]) [?x :d ?e]]`,
			want:  []string{`[?e :a ?v]`, `(or [?e :b 1] [?e :c 1])`, `[?x :d ?e]`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qp, err := plan(t, tt.query, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, clauseStrings(qp))
		})
	}
}

func TestStepsTrackBindings(t *testing.T) {
	qp, err := plan(t, `[:find ?n :in $ ?name :where [?e :person/name ?name] [?e :person/age ?n]]`, nil)
	require.NoError(t, err)
	require.Len(t, qp.Steps, 2)
	assert.Equal(t, []query.Symbol{"?name"}, qp.Steps[0].Bound)
	assert.Equal(t, []query.Symbol{"?e"}, qp.Steps[0].Provides)
	assert.Equal(t, []query.Symbol{"?n"}, qp.Steps[1].Provides)
	assert.Contains(t, qp.String(), "1. [?e :person/name ?name]")
}

func TestValidationErrors(t *testing.T) {
	rules, err := parser.ParseRules(`[[(older [?a] ?b) [?a :age ?x] [?b :age ?y] [(> ?y ?x)]]]`)
	require.NoError(t, err)

	tests := []struct {
		name  string
		query string
		rules query.Rules
	}{
		{"unbound find variable", `[:find ?x :where [?e :a ?v]]`, nil},
		{"unbound predicate input", `[:find ?e :where [?e :a ?v] [(> ?z 1)]]`, nil},
		{"unknown function", `[:find ?e :where [?e :a ?v] [(frobnicate ?v)]]`, nil},
		{"arity mismatch", `[:find ?e :where [?e :a ?v] [(inc ?v ?v) ?w]]`, nil},
		{"or branches disagree", `[:find ?e :where (or [?e :a 1] [?x :b 2])]`, nil},
		{"or-join branch misses variable", `[:find ?e :where (or-join [?e] [?x :a 1] [?e :b 2])]`, nil},
		{"unknown source", `[:find ?e :where [$other ?e :a 1]]`, nil},
		{"get-else needs source", `[:find ?e :where [?e :a ?v] [(get-else ?e :b 1 2) ?w]]`, nil},
		{"unknown rule", `[:find ?e :in $ % :where (nope ?e)]`, rules},
		{"rule arity", `[:find ?e :in $ % :where [?e :age _] (older ?e)]`, rules},
		{"rule required argument unbound", `[:find ?a ?b :in $ % :where (older ?a ?b)]`, rules},
		{"pull pattern must be input", `[:find (pull ?e ?p) :where [?e :a _]]`, nil},
		{"with unbound", `[:find (count ?e) :with ?z :where [?e :a _]]`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plan(t, tt.query, tt.rules)
			require.Error(t, err)
			var qe *datalog.QueryError
			assert.ErrorAs(t, err, &qe)
		})
	}
}

func TestRuleCallAfterRequiredBound(t *testing.T) {
	rules, err := parser.ParseRules(`[[(older [?a] ?b) [?a :age ?x] [?b :age ?y] [(> ?y ?x)]]]`)
	require.NoError(t, err)

	qp, err := plan(t, `[:find ?b :in $ % ?name :where (older ?a ?b) [?a :name ?name]]`, rules)
	require.NoError(t, err)
	assert.Equal(t, []string{`[?a :name ?name]`, `(older ?a ?b)`}, clauseStrings(qp))
}

func TestDefaultInputs(t *testing.T) {
	q := &query.Query{}
	assert.Equal(t, []query.InputSpec{query.SourceInput{Name: "$"}}, DefaultInputs(q, 1))
	assert.Equal(t, []query.InputSpec{query.SourceInput{Name: "$"}, query.RulesInput{}}, DefaultInputs(q, 2))
	q.In = []query.InputSpec{query.ScalarInput{Symbol: "?x"}}
	assert.Equal(t, q.In, DefaultInputs(q, 3))
}

func TestQueryCache(t *testing.T) {
	cache := NewQueryCache(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	q1, err := parser.ParseQuery(`[:find ?e :where [?e :a]]`)
	require.NoError(t, err)

	k1, ok := Key(`[:find ?e :where [?e :a]]`)
	require.True(t, ok)
	_, hit := cache.Get(k1)
	assert.False(t, hit)

	cache.Set(k1, q1)
	got, hit := cache.Get(k1)
	assert.True(t, hit)
	assert.Same(t, q1, got)

	// expiry
	now = now.Add(2 * time.Minute)
	_, hit = cache.Get(k1)
	assert.False(t, hit)

	// eviction keeps the size bounded
	cache.Set("a", q1)
	now = now.Add(time.Second)
	cache.Set("b", q1)
	now = now.Add(time.Second)
	cache.Set("c", q1)
	hits, misses, size := cache.Stats()
	assert.Equal(t, 2, size)
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
	_, hit = cache.Get("a")
	assert.False(t, hit, "oldest entry should have been evicted")

	kData, ok := Key([]interface{}{datalog.NewKeyword(":find")})
	require.True(t, ok)
	assert.NotEqual(t, k1, kData)

	cache.Clear()
	_, _, size = cache.Stats()
	assert.Zero(t, size)
}
