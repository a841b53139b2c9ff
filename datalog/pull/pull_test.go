package pull

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/config"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/transactor"
	"go.uber.org/zap/zaptest"
)

const schemaEDN = `
[{:db/ident :person/name :db/valueType :db.type/string :db/cardinality :db.cardinality/one :db/unique :db.unique/identity}
 {:db/ident :person/age :db/valueType :db.type/long :db/cardinality :db.cardinality/one}
 {:db/ident :person/nick :db/valueType :db.type/string :db/cardinality :db.cardinality/one}
 {:db/ident :person/friend :db/valueType :db.type/ref :db/cardinality :db.cardinality/many}
 {:db/ident :person/address :db/valueType :db.type/ref :db/cardinality :db.cardinality/one :db/isComponent true}
 {:db/ident :address/street :db/valueType :db.type/string :db/cardinality :db.cardinality/one}]`

type people struct {
	d                            *db.Database
	alice, bob, carol, aliceAddr datalog.EntityID
}

func setup(t *testing.T) people {
	t.Helper()
	ctx := context.Background()
	conn, err := transactor.Open(ctx, config.DefaultConfig(), transactor.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.TransactEDN(ctx, schemaEDN)
	require.NoError(t, err)
	rep, err := conn.TransactEDN(ctx, `
[{:db/id "alice" :person/name "Alice" :person/age 30
  :person/address {:address/street "1 Main St"}
  :person/friend ["bob" "carol"]}
 {:db/id "bob" :person/name "Bob" :person/friend ["alice"]}
 {:db/id "carol" :person/name "Carol"}]`)
	require.NoError(t, err)

	p := people{d: conn.DB()}
	p.alice, _ = rep.TempID("alice")
	p.bob, _ = rep.TempID("bob")
	p.carol, _ = rep.TempID("carol")
	addr, err := p.d.ResolveAttr(datalog.NewKeyword(":person/address"))
	require.NoError(t, err)
	p.aliceAddr = p.d.Values(p.alice, addr.ID)[0].(datalog.EntityID)
	return p
}

func kw(s string) datalog.Keyword { return datalog.NewKeyword(s) }

func TestParsePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern interface{}
		want    string
		wantErr bool
	}{
		{"attributes", `[:person/name :person/age]`, "[:person/name :person/age]", false},
		{"wildcard and id", `[* :db/id]`, "[* :db/id]", false},
		{"limit expression", `[(limit :person/friend 2)]`, "[[:person/friend :limit 2]]", false},
		{"no limit", `[(limit :person/friend nil)]`, "[[:person/friend :limit nil]]", false},
		{"default vector form", `[[:person/nick :default "none"]]`, `[[:person/nick :default "none"]]`, false},
		{"map spec", `[{:person/friend [:person/name]}]`, "[{:person/friend [:person/name]}]", false},
		{"go data", []interface{}{":person/name", "*"}, "[* :person/name]", false},
		{"keyword slice", []datalog.Keyword{kw(":person/name")}, "[:person/name]", false},
		{"not a vector", `:person/name`, "", true},
		{"bad limit", `[(limit :person/friend -1)]`, "", true},
		{"unknown option", `[[:person/friend :as :friends]]`, "", true},
		{"nil default", `[(default :person/nick nil)]`, "", true},
		{"bad element", `[42]`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePattern(tt.pattern)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestPullAttributes(t *testing.T) {
	p := setup(t)

	got, err := Pull(p.d, `[:person/name :person/age :person/nick]`, p.alice)
	require.NoError(t, err)
	want := map[datalog.Keyword]interface{}{
		kw(":person/name"): "Alice",
		kw(":person/age"):  int64(30),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pull mismatch (-want +got):\n%s", diff)
	}
}

func TestPullByLookupRef(t *testing.T) {
	p := setup(t)

	got, err := Pull(p.d, `[:db/id :person/age]`, []interface{}{kw(":person/name"), "Alice"})
	require.NoError(t, err)
	want := map[datalog.Keyword]interface{}{
		db.KwID:           p.alice,
		kw(":person/age"): int64(30),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pull mismatch (-want +got):\n%s", diff)
	}

	_, err = Pull(p.d, `[:person/age]`, []interface{}{kw(":person/name"), "Nobody"})
	assert.Error(t, err)
}

func TestPullWildcardExpandsComponents(t *testing.T) {
	p := setup(t)

	got, err := Pull(p.d, `[*]`, p.alice)
	require.NoError(t, err)

	friends := got[kw(":person/friend")]
	delete(got, kw(":person/friend"))
	want := map[datalog.Keyword]interface{}{
		db.KwID:           p.alice,
		kw(":person/name"): "Alice",
		kw(":person/age"):  int64(30),
		kw(":person/address"): map[datalog.Keyword]interface{}{
			db.KwID:              p.aliceAddr,
			kw(":address/street"): "1 Main St",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pull mismatch (-want +got):\n%s", diff)
	}
	assert.ElementsMatch(t, []interface{}{
		map[datalog.Keyword]interface{}{db.KwID: p.bob},
		map[datalog.Keyword]interface{}{db.KwID: p.carol},
	}, friends)
}

func TestPullExplicitRefWithoutSubpattern(t *testing.T) {
	p := setup(t)

	got, err := Pull(p.d, `[:person/address]`, p.alice)
	require.NoError(t, err)
	want := map[datalog.Keyword]interface{}{
		kw(":person/address"): map[datalog.Keyword]interface{}{db.KwID: p.aliceAddr},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pull mismatch (-want +got):\n%s", diff)
	}
}

func TestPullSubpatternAndReverse(t *testing.T) {
	p := setup(t)

	got, err := Pull(p.d, `[:person/name {:person/_friend [:person/name]}]`, p.carol)
	require.NoError(t, err)
	want := map[datalog.Keyword]interface{}{
		kw(":person/name"): "Carol",
		kw(":person/_friend"): []interface{}{
			map[datalog.Keyword]interface{}{kw(":person/name"): "Alice"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pull mismatch (-want +got):\n%s", diff)
	}

	// nesting bounds recursion through the friend cycle
	got, err = Pull(p.d, `[:person/name {:person/friend [:person/name {:person/friend [:person/name]}]}]`, p.bob)
	require.NoError(t, err)
	assert.Equal(t, "Bob", got[kw(":person/name")])
	friends := got[kw(":person/friend")].([]interface{})
	require.Len(t, friends, 1)
	alice := friends[0].(map[datalog.Keyword]interface{})
	assert.Equal(t, "Alice", alice[kw(":person/name")])
	assert.ElementsMatch(t, []interface{}{
		map[datalog.Keyword]interface{}{kw(":person/name"): "Bob"},
		map[datalog.Keyword]interface{}{kw(":person/name"): "Carol"},
	}, alice[kw(":person/friend")])

	// the component's owner is a single value
	got, err = Pull(p.d, `[{:person/_address [:person/name]}]`, p.aliceAddr)
	require.NoError(t, err)
	assert.Equal(t, map[datalog.Keyword]interface{}{kw(":person/name"): "Alice"}, got[kw(":person/_address")])
}

func TestPullDefault(t *testing.T) {
	p := setup(t)

	for _, pattern := range []string{
		`[(default :person/nick "none")]`,
		`[[:person/nick :default "none"]]`,
	} {
		got, err := Pull(p.d, pattern, p.carol)
		require.NoError(t, err, pattern)
		assert.Equal(t, "none", got[kw(":person/nick")], pattern)
	}
}

func TestPullLimit(t *testing.T) {
	ctx := context.Background()
	conn, err := transactor.Open(ctx, config.DefaultConfig(), transactor.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.TransactEDN(ctx, schemaEDN)
	require.NoError(t, err)

	var sb strings.Builder
	sb.WriteString(`[{:db/id "hub" :person/name "Hub" :person/friend [`)
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&sb, `"f%d" `, i)
	}
	sb.WriteString(`]}`)
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&sb, ` {:db/id "f%d" :person/name "Friend %d"}`, i, i)
	}
	sb.WriteString(`]`)
	rep, err := conn.TransactEDN(ctx, sb.String())
	require.NoError(t, err)
	hub, _ := rep.TempID("hub")
	d := conn.DB()

	tests := []struct {
		pattern string
		want    int
	}{
		{`[(limit :person/friend 10)]`, 10},
		{`[[:person/friend :limit 3]]`, 3},
		{`[(limit :person/friend nil)]`, 25},
		{`[:person/friend]`, 25},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, err := Pull(d, tt.pattern, hub)
			require.NoError(t, err)
			assert.Len(t, got[kw(":person/friend")], tt.want)
		})
	}
}

func TestPullMany(t *testing.T) {
	p := setup(t)

	_, err := PullMany(p.d, `[:person/name]`, []interface{}{p.alice, kw(":no/such")})
	assert.Error(t, err, "unknown ident")

	got, err := PullMany(p.d, `[:person/name]`, []interface{}{p.alice, p.carol})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Alice", got[0][kw(":person/name")])
	assert.Equal(t, "Carol", got[1][kw(":person/name")])
}

func TestPullUnknownAttribute(t *testing.T) {
	p := setup(t)

	_, err := Pull(p.d, `[:person/shoe-size]`, p.alice)
	assert.Error(t, err)
}
