package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/wbrown/janus-factdb/datalog/pull"
	"github.com/wbrown/janus-factdb/datalog/transactor"
)

const replHelp = `Commands:
  .help                  - Show help
  .exit                  - Exit
  .tx [forms]            - Transact forms (may span lines)
  .pull pattern ref      - Pull an entity
  .explain [:find ...]   - Show the clause order of a query
  .log                   - Show committed transactions
  [:find ...]            - Run a query (may span lines)
`

func newReplCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "repl",
		Aliases: []string{"interactive", "i"},
		Short:   "Interactive query and transaction shell",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()
			return a.repl(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), conn)
		},
	}
}

func (a *app) repl(ctx context.Context, in io.Reader, w io.Writer, conn *transactor.Connection) error {
	errColor := color.New(color.FgRed)
	fmt.Fprintln(w, "=== Janus Datalog Interactive Mode ===")
	fmt.Fprint(w, replHelp)
	fmt.Fprintln(w)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for {
		fmt.Fprint(w, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		// collect a multi-line form
		for depth(line) > 0 {
			fmt.Fprint(w, "  ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			line += "\n" + scanner.Text()
		}

		var err error
		switch {
		case line == "":
		case line == ".exit":
			return nil
		case line == ".help":
			fmt.Fprint(w, replHelp)
		case line == ".log":
			err = a.replLog(ctx, w, conn)
		case strings.HasPrefix(line, ".tx"):
			var forms []interface{}
			forms, err = transactor.ReadForms(strings.TrimSpace(strings.TrimPrefix(line, ".tx")))
			if err == nil {
				var rep transactor.Report
				if rep, err = conn.Transact(ctx, forms); err == nil {
					printReport(w, rep, false)
				}
			}
		case strings.HasPrefix(line, ".pull"):
			err = replPull(w, conn, strings.TrimSpace(strings.TrimPrefix(line, ".pull")))
		case strings.HasPrefix(line, ".explain"):
			err = a.runQuery(ctx, w, conn, strings.TrimSpace(strings.TrimPrefix(line, ".explain")), nil, queryOptions{explain: true})
		case strings.HasPrefix(line, "[") || strings.HasPrefix(line, "{"):
			err = a.runQuery(ctx, w, conn, line, nil, queryOptions{})
			fmt.Fprintln(w)
		default:
			fmt.Fprintln(w, "Unknown command. Use .help for help.")
		}
		if err != nil {
			errColor.Fprintf(w, "Error: %v\n", err)
		}
	}
}

func (a *app) replLog(ctx context.Context, w io.Writer, conn *transactor.Connection) error {
	txs, err := conn.Log().TxRange(ctx, 0, 0)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		fmt.Fprintf(w, "t=%d tx=%d datoms=%d\n", tx.T, tx.Tx, len(tx.Datoms))
	}
	return nil
}

// replPull splits "pattern ref" where both are EDN forms
func replPull(w io.Writer, conn *transactor.Connection, args string) error {
	end := formEnd(args)
	if end <= 0 || end >= len(args) {
		return fmt.Errorf("usage: .pull pattern ref")
	}
	ref, err := parseRef(strings.TrimSpace(args[end:]))
	if err != nil {
		return err
	}
	m, err := pull.Pull(conn.DB(), args[:end], ref)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, ednString(m))
	return nil
}

// depth returns how many brackets are left open in s, ignoring strings
func depth(s string) int {
	n, _ := scanBrackets(s)
	return n
}

// formEnd returns the index just past the first complete bracketed form
// in s, or -1
func formEnd(s string) int {
	_, end := scanBrackets(s)
	return end
}

func scanBrackets(s string) (open, firstEnd int) {
	firstEnd = -1
	inString, escaped := false, false
	for i, r := range s {
		switch {
		case escaped:
			escaped = false
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case r == '[' || r == '(' || r == '{':
			open++
		case r == ']' || r == ')' || r == '}':
			open--
			if open == 0 && firstEnd < 0 {
				firstEnd = i + 1
			}
		}
	}
	return open, firstEnd
}
