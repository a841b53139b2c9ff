package edn

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-factdb/datalog"
)

func TestReadValueScalars(t *testing.T) {
	tests := []struct {
		input string
		want  interface{}
	}{
		{"nil", nil},
		{"false", false},
		{"42", int64(42)},
		{"1.5", 1.5},
		{`"hi"`, "hi"},
		{`\x`, "x"},
		{":country/GB", datalog.NewKeyword(":country/GB")},
		{"?e", Symbol("?e")},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ReadValue(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadValueNumbers(t *testing.T) {
	v, err := ReadValue("123456789012345678901234567890")
	require.NoError(t, err)
	bi, ok := v.(*big.Int)
	require.True(t, ok, "oversized integer should read as bigint, got %T", v)
	assert.Equal(t, "123456789012345678901234567890", bi.String())

	v, err = ReadValue("7N")
	require.NoError(t, err)
	assert.Equal(t, 0, v.(*big.Int).Cmp(big.NewInt(7)))

	v, err = ReadValue("2.25M")
	require.NoError(t, err)
	f, _ := v.(*big.Float).Float64()
	assert.Equal(t, 2.25, f)
}

func TestReadValueTags(t *testing.T) {
	v, err := ReadValue(`#inst "2012-09-01T12:00:00Z"`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2012, 9, 1, 12, 0, 0, 0, time.UTC), v)

	v, err = ReadValue(`#inst "2013-02-01"`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2013, 2, 1, 0, 0, 0, 0, time.UTC), v)

	v, err = ReadValue(`#uuid "678d88b2-87b0-403b-b63d-5da7465aecc3"`)
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("678d88b2-87b0-403b-b63d-5da7465aecc3"), v)

	v, err = ReadValue(`#db/id [:db.part/user -1]`)
	require.NoError(t, err)
	assert.Equal(t, Tagged{Tag: "db/id", Value: []interface{}{datalog.NewKeyword(":db.part/user"), int64(-1)}}, v)

	_, err = ReadValue(`#inst "yesterday"`)
	assert.Error(t, err)
}

func TestReadValueCollections(t *testing.T) {
	v, err := ReadValue(`{:db/id "jdoe" :person/aliases #{"J" "JD"} :person/tags [:a (b)]}`)
	require.NoError(t, err)
	m, ok := v.(map[datalog.Keyword]interface{})
	require.True(t, ok, "keyword map expected, got %T", v)
	assert.Equal(t, "jdoe", m[datalog.NewKeyword(":db/id")])
	assert.Equal(t, Set{"J", "JD"}, m[datalog.NewKeyword(":person/aliases")])
	assert.Equal(t, []interface{}{datalog.NewKeyword(":a"), List{Symbol("b")}}, m[datalog.NewKeyword(":person/tags")])

	v, err = ReadValue(`{1 "one" "two" 2}`)
	require.NoError(t, err)
	assert.Equal(t, map[interface{}]interface{}{int64(1): "one", "two": int64(2)}, v)

	_, err = ReadValue(`{[1] 2}`)
	assert.Error(t, err, "vector keys are not comparable")
}

func TestFromValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"query as data", []interface{}{
			datalog.NewKeyword(":find"), Symbol("?e"),
			datalog.NewKeyword(":where"), []interface{}{Symbol("?e"), datalog.NewKeyword(":age"), 42},
		}, `[:find ?e :where [?e :age 42]]`},
		{"list", List{Symbol("count"), Symbol("?x")}, `(count ?x)`},
		{"float keeps decimal", 2.0, `2.0`},
		{"string slice", []string{"a", "b"}, `["a" "b"]`},
		{"string keyed map", map[string]interface{}{"b": 1, ":a": true}, `{:a true :b 1}`},
		{"keyword map", map[datalog.Keyword]interface{}{datalog.NewKeyword(":z"): nil, datalog.NewKeyword(":m"): "x"}, `{:m "x" :z nil}`},
		{"instant", time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC), `#inst "2012-01-01T00:00:00Z"`},
		{"entity id", datalog.EntityID(17), `17`},
		{"bigint", big.NewInt(5), `5N`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := FromValue(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, node.String())
		})
	}

	_, err := FromValue(make(chan int))
	assert.Error(t, err)
}

func TestValueRoundTrip(t *testing.T) {
	input := `[:find ?e (pull ?e [:a/b]) :in $ [?x ...] :where [?e :a/b ?x] (not [?e :a/c _])]`
	v, err := ReadValue(input)
	require.NoError(t, err)
	node, err := FromValue(v)
	require.NoError(t, err)
	assert.Equal(t, input, node.String())
}
