package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogCmd(a *app) *cobra.Command {
	var from, to int64
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print committed transactions",
		Long: `Prints the transactions with from <= t < to, oldest first. --to 0 reads
to the latest transaction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			txs, err := conn.Log().TxRange(ctx, from, to)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			d := conn.DB()
			for _, tx := range txs {
				fmt.Fprintf(w, "\n## t=%d tx=%d %s\n\n", tx.T, tx.Tx, tx.Instant.UTC().Format("2006-01-02 15:04:05"))
				fmt.Fprint(w, datomTable(d, tx.Datoms))
			}
			fmt.Fprintf(w, "\n_%d transactions_\n", len(txs))
			return nil
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "first t to print")
	cmd.Flags().Int64Var(&to, "to", 0, "stop before this t (0 for the latest)")
	return cmd
}
