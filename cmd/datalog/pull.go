package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wbrown/janus-factdb/datalog/edn"
	"github.com/wbrown/janus-factdb/datalog/pull"
)

func newPullCmd(a *app) *cobra.Command {
	var asOf int64
	cmd := &cobra.Command{
		Use:   "pull <pattern|@file> <ref>...",
		Short: "Pull entities through a pattern",
		Long: `Prints the entity named by each ref as EDN. A ref is an entity id, an
ident keyword or a lookup ref.

Example:
  datalog pull '[:person/name {:person/friend [:person/name]}]' '[:person/name "Alice"]'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, err := argOrFile(args[0])
			if err != nil {
				return err
			}
			p, err := pull.ParsePattern(pattern)
			if err != nil {
				return err
			}
			refs := make([]interface{}, 0, len(args)-1)
			for _, arg := range args[1:] {
				ref, err := parseRef(arg)
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}

			conn, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			d := conn.DB()
			if asOf > 0 {
				d = d.AsOf(asOf)
			}

			w := cmd.OutOrStdout()
			for _, ref := range refs {
				m, err := p.Pull(d, ref)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, ednString(m))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&asOf, "as-of", 0, "pull from the database as of transaction t")
	return cmd
}

// parseRef reads an entity reference: a plain id, or EDN for idents and
// lookup refs
func parseRef(s string) (interface{}, error) {
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, nil
	}
	v, err := edn.ReadValue(s)
	if err != nil {
		return nil, fmt.Errorf("invalid entity reference %q: %w", s, err)
	}
	return v, nil
}
