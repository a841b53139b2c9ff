package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/edn"
	"github.com/wbrown/janus-factdb/datalog/transactor"
)

type queryOptions struct {
	explain  bool
	asEDN    bool
	asOf     int64
	history  bool
	withLog  bool
	noTiming bool
}

func newQueryCmd(a *app) *cobra.Command {
	var opts queryOptions
	cmd := &cobra.Command{
		Use:   "query <query|@file> [input...]",
		Short: "Run a query and print the result",
		Long: `Runs a query against the current database. The database is the first
input; further arguments are EDN values bound to the remaining :in
entries in order.

Example:
  datalog query '[:find ?n :in $ ?min :where [?p :person/age ?a] [(> ?a ?min)] [?p :person/name ?n]]' 30`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()
			return a.runQuery(ctx, cmd.OutOrStdout(), conn, args[0], args[1:], opts)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.explain, "explain", false, "print the clause order instead of running the query")
	flags.BoolVar(&opts.asEDN, "edn", false, "print the shaped result as EDN instead of a table")
	flags.Int64Var(&opts.asOf, "as-of", 0, "query the database as of transaction t")
	flags.BoolVar(&opts.history, "history", false, "query every assertion and retraction")
	flags.BoolVar(&opts.withLog, "with-log", false, "pass the transaction log as the second input")
	flags.BoolVar(&opts.noTiming, "no-timing", false, "leave the elapsed time off the row count")
	return cmd
}

func (a *app) runQuery(ctx context.Context, w io.Writer, conn *transactor.Connection, arg string, rest []string, opts queryOptions) error {
	text, err := argOrFile(arg)
	if err != nil {
		return err
	}

	d := conn.DB()
	if opts.asOf > 0 {
		d = d.AsOf(opts.asOf)
	}
	if opts.history {
		d = d.History()
	}
	inputs := []interface{}{d}
	if opts.withLog {
		inputs = append(inputs, conn.Log())
	}
	for _, s := range rest {
		v, err := edn.ReadValue(s)
		if err != nil {
			return fmt.Errorf("input %q: %w", s, err)
		}
		inputs = append(inputs, v)
	}

	exec := a.executor()
	if opts.explain {
		plan, err := exec.Explain(text, inputs...)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, plan.String())
		return nil
	}

	start := time.Now()
	res, err := exec.Query(ctx, text, inputs...)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if opts.asEDN {
		fmt.Fprintln(w, ednString(res.Value()))
		return nil
	}
	table := res.Table()
	if !opts.noTiming {
		table = withTiming(table, elapsed)
	}
	fmt.Fprint(w, table)
	return nil
}

// withTiming appends the elapsed time to the row count line of a table
func withTiming(table string, elapsed time.Duration) string {
	lines := strings.Split(table, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "_") && strings.HasSuffix(lines[i], "rows_") {
			rowLine := strings.TrimSuffix(lines[i], "_")
			lines[i] = rowLine + fmt.Sprintf(" (%.3fms)_", float64(elapsed.Microseconds())/1000.0)
			break
		}
	}
	return strings.Join(lines, "\n")
}

func ednString(v interface{}) string {
	if n, err := edn.FromValue(v); err == nil {
		return n.String()
	}
	return datalog.FormatValue(v)
}

