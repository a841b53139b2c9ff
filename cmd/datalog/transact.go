package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/executor"
	"github.com/wbrown/janus-factdb/datalog/transactor"
)

func newTransactCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "transact <file|-|'[forms]'>...",
		Short: "Transact EDN forms from files, stdin or the command line",
		Long: `Transacts each argument in order. An argument is a file path, - for
stdin, or EDN text when it starts with [.

With --dry-run the forms are applied speculatively to the current
database and nothing is written.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			w := cmd.OutOrStdout()
			for _, arg := range args {
				text, err := readForms(cmd.InOrStdin(), arg)
				if err != nil {
					return err
				}
				forms, err := transactor.ReadForms(text)
				if err != nil {
					return err
				}
				var rep transactor.Report
				if dryRun {
					rep, err = conn.With(conn.DB(), forms)
				} else {
					rep, err = conn.Transact(ctx, forms)
				}
				if err != nil {
					return err
				}
				printReport(w, rep, dryRun)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "apply speculatively without writing")
	return cmd
}

func readForms(stdin io.Reader, arg string) (string, error) {
	switch {
	case arg == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	case len(arg) > 0 && arg[0] == '[':
		return arg, nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", arg, err)
	}
	return string(data), nil
}

func printReport(w io.Writer, rep transactor.Report, dryRun bool) {
	verb := "Committed"
	if dryRun {
		verb = "Dry run of"
	}
	fmt.Fprintf(w, "%s transaction t=%d (%d datoms)\n", verb, rep.T(), len(rep.TxData))

	if len(rep.TempIDs) > 0 {
		names := make([]string, 0, len(rep.TempIDs))
		for name := range rep.TempIDs {
			names = append(names, name)
		}
		sort.Strings(names)
		rows := make([][]interface{}, len(names))
		for i, name := range names {
			rows[i] = []interface{}{name, rep.TempIDs[name]}
		}
		fmt.Fprintln(w, executor.NewTableFormatter().FormatRows([]string{"tempid", "id"}, rows))
	}
	fmt.Fprint(w, datomTable(rep.DBAfter, rep.TxData))
}

// datomTable renders datoms with attribute idents in place of ids
func datomTable(d *db.Database, datoms []datalog.Datom) string {
	rows := make([][]interface{}, len(datoms))
	for i, dt := range datoms {
		var attr interface{} = dt.A
		if kw, ok := d.Ident(dt.A); ok {
			attr = kw
		}
		rows[i] = []interface{}{dt.E, attr, dt.V, dt.Tx, dt.Added}
	}
	return executor.NewTableFormatter().FormatRows([]string{"e", "a", "v", "tx", "added"}, rows)
}
