package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-factdb/datalog/config"
	"github.com/wbrown/janus-factdb/datalog/transactor"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

var durableNames = []string{"Alice", "Bob", "Charlie", "Dave", "Eve", "Frank", "Grace", "Henry", "Iris", "Jack"}

func openDurable(t *testing.T, backend, path string) *transactor.Connection {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = backend
	cfg.Storage.Path = path
	conn, err := transactor.Open(context.Background(), cfg, transactor.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return conn
}

// seedDurable writes 500 entries (10 names x 10 years x 5 months) and
// five bars, then closes the connection so queries run on a replay
func seedDurable(t *testing.T, backend, path string) {
	t.Helper()
	ctx := context.Background()
	conn := openDurable(t, backend, path)
	defer conn.Close()

	_, err := conn.TransactEDN(ctx, `
[{:db/ident :entry/name :db/valueType :db.type/string :db/cardinality :db.cardinality/one}
 {:db/ident :entry/year :db/valueType :db.type/long :db/cardinality :db.cardinality/one}
 {:db/ident :entry/month :db/valueType :db.type/long :db/cardinality :db.cardinality/one}
 {:db/ident :entry/age :db/valueType :db.type/long :db/cardinality :db.cardinality/one}
 {:db/ident :price/high :db/valueType :db.type/double :db/cardinality :db.cardinality/one}
 {:db/ident :price/low :db/valueType :db.type/double :db/cardinality :db.cardinality/one}]`)
	require.NoError(t, err)

	var sb strings.Builder
	sb.WriteString("[")
	n := 0
	for _, name := range durableNames {
		for year := 2020; year <= 2029; year++ {
			for month := 1; month <= 5; month++ {
				fmt.Fprintf(&sb, "{:entry/name %q :entry/year %d :entry/month %d :entry/age %d}\n", name, year, month, 25+n%15)
				n++
			}
		}
	}
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&sb, "{:price/high %d.0 :price/low %d.0}\n", 100+i*10, 90+i*10)
	}
	sb.WriteString("]")
	_, err = conn.TransactEDN(ctx, sb.String())
	require.NoError(t, err)
}

func TestDurableBackends(t *testing.T) {
	for _, backend := range []string{"badger", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "facts")
			seedDurable(t, backend, path)

			conn := openDurable(t, backend, path)
			defer conn.Close()
			d := conn.DB()
			ctx := context.Background()

			// joining two patterns on one entity keeps every entity
			ex := NewExecutor(Options{})
			bars, err := ex.Q(ctx, `[:find ?bar :where [?bar :price/high ?h] [?bar :price/low ?l]]`, d)
			require.NoError(t, err)
			assert.Len(t, bars, 5)

			var keys []interface{}
			for _, name := range durableNames {
				for year := 2020; year <= 2029; year++ {
					for month := 1; month <= 5; month++ {
						keys = append(keys, []interface{}{name, int64(year), int64(month)})
					}
				}
			}
			q := `[:find ?n ?y ?m (max ?age)
			       :in $ [[?n ?y ?m] ...]
			       :where [?e :entry/name ?n]
			              [?e :entry/year ?y]
			              [?e :entry/month ?m]
			              [?e :entry/age ?age]]`

			seq, err := NewExecutor(Options{Parallel: false}).Q(ctx, q, d, keys)
			require.NoError(t, err)
			assert.Len(t, seq, 500)

			// the same query from many goroutines against one database value
			par := NewExecutor(Options{Parallel: true, Workers: 8})
			g, gctx := errgroup.WithContext(ctx)
			for i := 0; i < 8; i++ {
				g.Go(func() error {
					got, err := par.Q(gctx, q, d, keys)
					if err != nil {
						return err
					}
					if len(got.([][]interface{})) != 500 {
						return fmt.Errorf("got %d rows", len(got.([][]interface{})))
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
		})
	}
}

func TestStringPredicateWithParameter(t *testing.T) {
	f := setup(t)
	ex := NewExecutor(Options{})

	got := run(t, ex, `[:find [?name ...]
	                    :in $ ?prefix
	                    :where [?p :person/name ?name]
	                           [(starts-with? ?name ?prefix)]]`, f.db(), "A")
	assert.Equal(t, []interface{}{"Alice"}, got)
}
