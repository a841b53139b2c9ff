package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wbrown/janus-factdb/datalog/transactor"
)

const demoSchema = `
[{:db/ident :person/name :db/valueType :db.type/string :db/cardinality :db.cardinality/one :db/unique :db.unique/identity}
 {:db/ident :person/age :db/valueType :db.type/long :db/cardinality :db.cardinality/one}
 {:db/ident :person/city :db/valueType :db.type/string :db/cardinality :db.cardinality/one :db/index true}
 {:db/ident :person/friend :db/valueType :db.type/ref :db/cardinality :db.cardinality/many}]`

const demoData = `
[{:db/id "alice" :person/name "Alice" :person/age 30 :person/city "New York" :person/friend ["bob" "charlie"]}
 {:db/id "bob" :person/name "Bob" :person/age 25 :person/city "Boston" :person/friend ["charlie"]}
 {:db/id "charlie" :person/name "Charlie" :person/age 35 :person/city "New York"}]`

var demoQueries = []string{
	// Find all people
	`[:find ?name ?age
  :where [?p :person/name ?name]
         [?p :person/age ?age]]`,

	// Find people in New York
	`[:find ?name
  :where [?p :person/name ?name]
         [?p :person/city "New York"]]`,

	// Find Alice's friends
	`[:find ?friend-name
  :where [?alice :person/name "Alice"]
         [?alice :person/friend ?friend]
         [?friend :person/name ?friend-name]]`,

	// Find people over 25
	`[:find ?name ?age
  :where [?p :person/name ?name]
         [?p :person/age ?age]
         [(> ?age 25)]]`,

	// Calculate age in 5 years
	`[:find ?name ?age ?future-age
  :where [?p :person/name ?name]
         [?p :person/age ?age]
         [(+ ?age 5) ?future-age]]`,

	// Average age per city
	`[:find ?city (avg ?age) (count ?p)
  :where [?p :person/city ?city]
         [?p :person/age ?age]]`,

	// Everyone reachable from Alice
	`[:find ?name
  :in $ %
  :where [?a :person/name "Alice"]
         (reach ?a ?b)
         [?b :person/name ?name]]`,
}

const demoRules = `[[(reach ?a ?b) [?a :person/friend ?b]]
 [(reach ?a ?b) [?a :person/friend ?c] (reach ?c ?b)]]`

func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Load sample people and run example queries",
		Long: `Transacts a small schema and three people into an empty database, then
runs example queries, a pull and an as-of query. A database that already
holds data is left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()
			return a.demo(ctx, cmd.OutOrStdout(), conn)
		},
	}
}

func (a *app) demo(ctx context.Context, w io.Writer, conn *transactor.Connection) error {
	if _, ok := conn.DB().Attribute(":person/name"); ok {
		fmt.Fprintln(w, "Database contains data. Use repl for interactive mode or query to run a query.")
		return nil
	}

	fmt.Fprintln(w, "=== Janus Datalog Demo ===")
	fmt.Fprintln(w, "\nAdding test data...")
	if _, err := conn.TransactEDN(ctx, demoSchema); err != nil {
		return err
	}
	rep, err := conn.TransactEDN(ctx, demoData)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Committed transaction t=%d\n", rep.T())
	before := rep.T()

	fmt.Fprintln(w, "\n=== Running Queries ===")
	exec := a.executor()
	for _, q := range demoQueries {
		fmt.Fprintf(w, "\nQuery: %s\n\n", q)
		inputs := []interface{}{conn.DB()}
		if strings.Contains(q, ":in $ %") {
			inputs = append(inputs, demoRules)
		}
		res, err := exec.Query(ctx, q, inputs...)
		if err != nil {
			fmt.Fprintf(w, "Execution error: %v\n", err)
			continue
		}
		fmt.Fprintln(w, res.Table())
	}

	fmt.Fprintln(w, "\n=== Pull ===")
	if err := replPull(w, conn, `[:person/name {:person/friend [:person/name]}] [:person/name "Alice"]`); err != nil {
		return err
	}

	fmt.Fprintln(w, "\n=== Time travel ===")
	if _, err := conn.TransactEDN(ctx, `[[:db/add [:person/name "Bob"] :person/age 26]]`); err != nil {
		return err
	}
	ageQuery := `[:find ?age . :where [?p :person/name "Bob"] [?p :person/age ?age]]`
	now, err := exec.Q(ctx, ageQuery, conn.DB())
	if err != nil {
		return err
	}
	then, err := exec.Q(ctx, ageQuery, conn.DB().AsOf(before))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Bob's age now: %v, as of t=%d: %v\n", now, before, then)
	return nil
}
